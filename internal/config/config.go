package config

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

const (
	// ErrCodeNotFound 表示显式指定的配置文件不存在。
	ErrCodeNotFound = "config_not_found"
	// ErrCodeInvalid 表示配置文件/环境变量/参数无法解析，或字段不合法。
	ErrCodeInvalid = "config_invalid"
)

// CLIArgs 是 CLI 暴露的覆盖项；数值类字段保留“是否显式指定”的信息，
// 这样 --io-workers=0 之类的非法值也能被校验出来，而不是被当成“未指定”。
type CLIArgs struct {
	WorkDir    string
	ConfigPath string

	Strategy string

	IOWorkers    int
	IOWorkersSet bool

	CPUWorkers    int
	CPUWorkersSet bool

	Seed    int64
	SeedSet bool

	URLs []string

	LogLevel  string
	LogFormat string
}

// FileConfig 对应 corpusrun.toml 的解析结构。
type FileConfig struct {
	WorkDir        string   `toml:"workdir"`
	URLs           []string `toml:"urls"`
	Strategy       string   `toml:"strategy"`
	IOWorkers      *int     `toml:"io_workers"`
	CPUWorkers     *int     `toml:"cpu_workers"`
	Seed           *int64   `toml:"seed"`
	PersistMode    string   `toml:"persist_mode"`
	DistancePolicy string   `toml:"distance_policy"`
	ProxyURL       string   `toml:"proxy_url"`
	FetchTimeout   string   `toml:"fetch_timeout"`
	TextsDir       string   `toml:"texts_dir"`
	AggregateName  string   `toml:"aggregate_name"`
	LogLevel       string   `toml:"log_level"`
	LogFormat      string   `toml:"log_format"`
}

// EffectiveConfig 是合并并规范化后的最终配置（实现层直接消费，不再做二次默认/优先级判断）。
type EffectiveConfig struct {
	WorkDir string   `validate:"required"`
	URLs    []string `validate:"min=1,dive,required,url"`

	Strategy   string `validate:"oneof=sequential concurrent"`
	IOWorkers  int    `validate:"min=1,max=256"`
	CPUWorkers int    `validate:"min=1,max=256"`
	// Seed 为 0 表示按当前时间取随机种子。
	Seed int64

	PersistMode    string        `validate:"oneof=replace keep"`
	DistancePolicy string        `validate:"oneof=last-pair sum max"`
	ProxyURL       string        `validate:"omitempty,url"`
	FetchTimeout   time.Duration `validate:"gte=0"`

	TextsDir      string `validate:"required"`
	AggregateName string `validate:"required"`

	LogLevel  string `validate:"oneof=debug info warn error"`
	LogFormat string `validate:"oneof=console json"`

	// Source 是实际读取的配置文件路径（未读取时为空）。
	Source string
}

// Error 是配置阶段的结构化错误（带 error_code）。
type Error struct {
	Code string
	Path string
	Err  error
}

func (e *Error) Error() string {
	switch e.Code {
	case ErrCodeNotFound:
		return fmt.Sprintf("%s：未找到配置文件 %q", e.Code, e.Path)
	case ErrCodeInvalid:
		if e.Path == "" {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		if e.Err != nil {
			return fmt.Sprintf("%s：配置 %q 无效：%v", e.Code, e.Path, e.Err)
		}
		return fmt.Sprintf("%s：配置 %q 无效", e.Code, e.Path)
	default:
		if e.Err != nil {
			return fmt.Sprintf("%s：%v", e.Code, e.Err)
		}
		return e.Code
	}
}

func (e *Error) Unwrap() error { return e.Err }

// Code 从 error 中提取 error_code；若不是 *Error 则返回空串。
func Code(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// LookupEnv 与 os.LookupEnv 签名一致；测试可注入假环境。
type LookupEnv func(key string) (string, bool)

// LoadDotEnv 读取 dir/.env（可选）到进程环境；已存在的环境变量不会被覆盖。
func LoadDotEnv(dir string) error {
	p := filepath.Join(dir, ".env")
	if _, err := os.Stat(p); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if err := godotenv.Load(p); err != nil {
		return &Error{Code: ErrCodeInvalid, Path: p, Err: err}
	}
	return nil
}

// LoadEffective 发现并读取配置文件，然后与环境变量、CLI 参数合并为最终配置。
//
// 覆盖优先级（固定）：CLI > 环境变量（CORPUSRUN_*）> 配置文件 > 内置默认值。
//
// 配置文件发现规则：
// 1) CLI 指定 --config：必须存在
// 2) 否则尝试 <workdir>/corpusrun.toml（可选）
func LoadEffective(cwd string, cli CLIArgs, env LookupEnv) (EffectiveConfig, error) {
	if env == nil {
		env = os.LookupEnv
	}
	cwdAbs, err := filepath.Abs(cwd)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cwd, Err: err}
	}

	// workdir 先用 CLI/env 决定，配置文件可能位于其中。
	workDir := ""
	if strings.TrimSpace(cli.WorkDir) != "" {
		workDir = absCleanFrom(cwdAbs, cli.WorkDir)
	} else if v, ok := env(EnvPrefix + "WORKDIR"); ok && strings.TrimSpace(v) != "" {
		workDir = absCleanFrom(cwdAbs, v)
	}

	var (
		cfgPath string
		fc      FileConfig
	)
	if strings.TrimSpace(cli.ConfigPath) != "" {
		cfgPath = absCleanFrom(cwdAbs, cli.ConfigPath)
		var exists bool
		fc, exists, err = readFileConfig(cfgPath)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
		}
		if !exists {
			return EffectiveConfig{}, &Error{Code: ErrCodeNotFound, Path: cfgPath, Err: os.ErrNotExist}
		}
		if workDir == "" && strings.TrimSpace(fc.WorkDir) != "" {
			// 配置文件中的相对 workdir 以配置文件所在目录为基准。
			workDir = absCleanFrom(filepath.Dir(cfgPath), fc.WorkDir)
		}
	}
	if workDir == "" {
		workDir = cwdAbs
	}
	if cfgPath == "" {
		p := filepath.Join(workDir, FileName)
		var exists bool
		fc, exists, err = readFileConfig(p)
		if err != nil {
			return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: p, Err: err}
		}
		if exists {
			cfgPath = p
		}
	}

	eff, err := merge(workDir, cli, fc, env)
	if err != nil {
		return EffectiveConfig{}, &Error{Code: ErrCodeInvalid, Path: cfgPath, Err: err}
	}
	eff.Source = cfgPath
	return eff, nil
}

func merge(workDir string, cli CLIArgs, fc FileConfig, env LookupEnv) (EffectiveConfig, error) {
	eff := EffectiveConfig{
		WorkDir:        workDir,
		URLs:           DefaultURLs(),
		Strategy:       DefaultStrategy,
		IOWorkers:      DefaultIOWorkers,
		CPUWorkers:     DefaultCPUWorkers,
		PersistMode:    DefaultPersistMode,
		DistancePolicy: DefaultDistancePolicy,
		FetchTimeout:   DefaultFetchTimeout,
		TextsDir:       DefaultTextsDir,
		AggregateName:  DefaultAggregateName,
		LogLevel:       DefaultLogLevel,
		LogFormat:      DefaultLogFormat,
	}

	// 配置文件层。
	if urls := cleanList(fc.URLs); len(urls) > 0 {
		eff.URLs = urls
	}
	setString(&eff.Strategy, fc.Strategy)
	if fc.IOWorkers != nil {
		eff.IOWorkers = *fc.IOWorkers
	}
	if fc.CPUWorkers != nil {
		eff.CPUWorkers = *fc.CPUWorkers
	}
	if fc.Seed != nil {
		eff.Seed = *fc.Seed
	}
	setString(&eff.PersistMode, fc.PersistMode)
	setString(&eff.DistancePolicy, fc.DistancePolicy)
	setString(&eff.ProxyURL, fc.ProxyURL)
	if s := strings.TrimSpace(fc.FetchTimeout); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			return EffectiveConfig{}, fmt.Errorf("fetch_timeout 无效：%w", err)
		}
		eff.FetchTimeout = d
	}
	setString(&eff.TextsDir, fc.TextsDir)
	setString(&eff.AggregateName, fc.AggregateName)
	setString(&eff.LogLevel, fc.LogLevel)
	setString(&eff.LogFormat, fc.LogFormat)

	// 环境变量层。
	if err := applyEnv(&eff, env); err != nil {
		return EffectiveConfig{}, err
	}

	// CLI 层。
	if urls := cleanList(cli.URLs); len(urls) > 0 {
		eff.URLs = urls
	}
	setString(&eff.Strategy, cli.Strategy)
	if cli.IOWorkersSet {
		eff.IOWorkers = cli.IOWorkers
	}
	if cli.CPUWorkersSet {
		eff.CPUWorkers = cli.CPUWorkers
	}
	if cli.SeedSet {
		eff.Seed = cli.Seed
	}
	setString(&eff.LogLevel, cli.LogLevel)
	setString(&eff.LogFormat, cli.LogFormat)

	eff.Strategy = strings.ToLower(eff.Strategy)
	eff.PersistMode = strings.ToLower(eff.PersistMode)
	eff.DistancePolicy = strings.ToLower(eff.DistancePolicy)
	eff.LogLevel = strings.ToLower(eff.LogLevel)
	eff.LogFormat = strings.ToLower(eff.LogFormat)

	if err := Validate(eff); err != nil {
		return EffectiveConfig{}, err
	}
	return eff, nil
}

func applyEnv(eff *EffectiveConfig, env LookupEnv) error {
	get := func(name string) (string, bool) {
		v, ok := env(EnvPrefix + name)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get("URLS"); ok {
		if urls := cleanList(strings.Split(v, ",")); len(urls) > 0 {
			eff.URLs = urls
		}
	}
	if v, ok := get("STRATEGY"); ok {
		eff.Strategy = v
	}
	if v, ok := get("IO_WORKERS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sIO_WORKERS 无效：%w", EnvPrefix, err)
		}
		eff.IOWorkers = n
	}
	if v, ok := get("CPU_WORKERS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%sCPU_WORKERS 无效：%w", EnvPrefix, err)
		}
		eff.CPUWorkers = n
	}
	if v, ok := get("SEED"); ok {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%sSEED 无效：%w", EnvPrefix, err)
		}
		eff.Seed = n
	}
	if v, ok := get("PERSIST_MODE"); ok {
		eff.PersistMode = v
	}
	if v, ok := get("DISTANCE_POLICY"); ok {
		eff.DistancePolicy = v
	}
	if v, ok := get("PROXY_URL"); ok {
		eff.ProxyURL = v
	}
	if v, ok := get("FETCH_TIMEOUT"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sFETCH_TIMEOUT 无效：%w", EnvPrefix, err)
		}
		eff.FetchTimeout = d
	}
	if v, ok := get("LOG_LEVEL"); ok {
		eff.LogLevel = v
	}
	if v, ok := get("LOG_FORMAT"); ok {
		eff.LogFormat = v
	}
	return nil
}

var validate = validator.New()

// Validate 按 struct tag 校验最终配置，并把第一条失败转成可读的错误。
func Validate(eff EffectiveConfig) error {
	err := validate.Struct(eff)
	if err == nil {
		return nil
	}
	var ves validator.ValidationErrors
	if errors.As(err, &ves) && len(ves) > 0 {
		fe := ves[0]
		return fmt.Errorf("字段 %s 不合法（规则 %s=%s，实际 %v）", fe.Namespace(), fe.Tag(), fe.Param(), fe.Value())
	}
	return err
}

func setString(dst *string, v string) {
	if v = strings.TrimSpace(v); v != "" {
		*dst = v
	}
}

func cleanList(xs []string) []string {
	out := make([]string, 0, len(xs))
	for _, x := range xs {
		if x = strings.TrimSpace(x); x != "" {
			out = append(out, x)
		}
	}
	return out
}

// absCleanFrom 以 base 为基准，把 p 变为 clean + absolute。
func absCleanFrom(base, p string) string {
	p = filepath.Clean(strings.TrimSpace(p))
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Clean(filepath.Join(base, p))
}

// readFileConfig 读取并解析 TOML 配置文件。
// 返回值 exists 表示该文件是否存在（不存在不算错误）。
func readFileConfig(path string) (fc FileConfig, exists bool, err error) {
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return FileConfig{}, false, nil
		}
		return FileConfig{}, false, err
	}
	dec := toml.NewDecoder(bytes.NewReader(b))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&fc); err != nil {
		return FileConfig{}, true, err
	}
	return fc, true, nil
}
