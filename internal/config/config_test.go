package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noEnv(string) (string, bool) { return "", false }

func mapEnv(m map[string]string) LookupEnv {
	return func(k string) (string, bool) {
		v, ok := m[k]
		return v, ok
	}
}

func TestLoadEffective_Defaults(t *testing.T) {
	cwd := t.TempDir()

	eff, err := LoadEffective(cwd, CLIArgs{}, noEnv)
	require.NoError(t, err)

	assert.Equal(t, cwd, eff.WorkDir)
	assert.Equal(t, DefaultURLs(), eff.URLs)
	assert.Equal(t, "concurrent", eff.Strategy)
	assert.Equal(t, 20, eff.IOWorkers)
	assert.Equal(t, 4, eff.CPUWorkers)
	assert.Equal(t, "replace", eff.PersistMode)
	assert.Equal(t, "last-pair", eff.DistancePolicy)
	assert.Equal(t, time.Duration(0), eff.FetchTimeout)
	assert.Equal(t, "texts", eff.TextsDir)
	assert.Equal(t, "all.txt", eff.AggregateName)
	assert.Empty(t, eff.Source)
}

func TestLoadEffective_FileInWorkDir(t *testing.T) {
	cwd := t.TempDir()
	writeConfig(t, filepath.Join(cwd, FileName), `
urls = ["https://example.test/a.txt"]
strategy = "sequential"
io_workers = 8
cpu_workers = 2
seed = 42
persist_mode = "keep"
distance_policy = "sum"
fetch_timeout = "30s"
`)

	eff, err := LoadEffective(cwd, CLIArgs{}, noEnv)
	require.NoError(t, err)
	assert.Equal(t, []string{"https://example.test/a.txt"}, eff.URLs)
	assert.Equal(t, "sequential", eff.Strategy)
	assert.Equal(t, 8, eff.IOWorkers)
	assert.Equal(t, 2, eff.CPUWorkers)
	assert.Equal(t, int64(42), eff.Seed)
	assert.Equal(t, "keep", eff.PersistMode)
	assert.Equal(t, "sum", eff.DistancePolicy)
	assert.Equal(t, 30*time.Second, eff.FetchTimeout)
	assert.Equal(t, filepath.Join(cwd, FileName), eff.Source)
}

func TestLoadEffective_Precedence_CLI_Env_File(t *testing.T) {
	cwd := t.TempDir()
	writeConfig(t, filepath.Join(cwd, FileName), `
io_workers = 8
cpu_workers = 2
strategy = "sequential"
`)
	env := mapEnv(map[string]string{
		"CORPUSRUN_IO_WORKERS":  "10",
		"CORPUSRUN_CPU_WORKERS": "3",
	})

	eff, err := LoadEffective(cwd, CLIArgs{IOWorkers: 5, IOWorkersSet: true, Strategy: "Concurrent"}, env)
	require.NoError(t, err)
	assert.Equal(t, 5, eff.IOWorkers, "CLI 应覆盖 env")
	assert.Equal(t, 3, eff.CPUWorkers, "env 应覆盖文件")
	assert.Equal(t, "concurrent", eff.Strategy, "CLI 应覆盖文件且规范为小写")
}

func TestLoadEffective_EnvURLsAndWorkDir(t *testing.T) {
	cwd := t.TempDir()
	env := mapEnv(map[string]string{
		"CORPUSRUN_WORKDIR": "sub",
		"CORPUSRUN_URLS":    "https://a.test/a.txt, https://b.test/b.txt,",
	})

	eff, err := LoadEffective(cwd, CLIArgs{}, env)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cwd, "sub"), eff.WorkDir)
	assert.Equal(t, []string{"https://a.test/a.txt", "https://b.test/b.txt"}, eff.URLs)
}

func TestLoadEffective_ExplicitConfigMissing(t *testing.T) {
	cwd := t.TempDir()
	_, err := LoadEffective(cwd, CLIArgs{ConfigPath: "nope.toml"}, noEnv)
	require.Error(t, err)
	assert.Equal(t, ErrCodeNotFound, Code(err))
	assert.ErrorIs(t, err, os.ErrNotExist)
}

func TestLoadEffective_ExplicitConfigWorkDirRelativeToFile(t *testing.T) {
	cwd := t.TempDir()
	cfgDir := filepath.Join(cwd, "conf")
	require.NoError(t, os.MkdirAll(cfgDir, 0o755))
	writeConfig(t, filepath.Join(cfgDir, "x.toml"), `workdir = "../data"`)

	eff, err := LoadEffective(cwd, CLIArgs{ConfigPath: "conf/x.toml"}, noEnv)
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(cwd, "data"), eff.WorkDir)
}

func TestLoadEffective_Invalid(t *testing.T) {
	cases := []struct {
		name string
		file string
		cli  CLIArgs
		env  map[string]string
	}{
		{name: "zero io workers", cli: CLIArgs{IOWorkers: 0, IOWorkersSet: true}},
		{name: "too many cpu workers", cli: CLIArgs{CPUWorkers: 1000, CPUWorkersSet: true}},
		{name: "unknown strategy", cli: CLIArgs{Strategy: "parallel"}},
		{name: "bad url", cli: CLIArgs{URLs: []string{"not a url"}}},
		{name: "bad log format", cli: CLIArgs{LogFormat: "xml"}},
		{name: "bad env int", env: map[string]string{"CORPUSRUN_IO_WORKERS": "many"}},
		{name: "bad env timeout", env: map[string]string{"CORPUSRUN_FETCH_TIMEOUT": "soon"}},
		{name: "bad persist mode", file: `persist_mode = "append"`},
		{name: "bad policy", file: `distance_policy = "avg"`},
		{name: "negative timeout", file: `fetch_timeout = "-1s"`},
		{name: "unknown field", file: `workers = 3`},
		{name: "broken toml", file: `io_workers = `},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			cwd := t.TempDir()
			if c.file != "" {
				writeConfig(t, filepath.Join(cwd, FileName), c.file)
			}
			_, err := LoadEffective(cwd, c.cli, mapEnv(c.env))
			require.Error(t, err)
			assert.Equal(t, ErrCodeInvalid, Code(err))
		})
	}
}

func TestLoadDotEnv(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, LoadDotEnv(dir), "缺少 .env 不应报错")

	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("CORPUSRUN_TEST_DOTENV=from-file\n"), 0o644))
	t.Setenv("CORPUSRUN_TEST_DOTENV", "")
	os.Unsetenv("CORPUSRUN_TEST_DOTENV")

	require.NoError(t, LoadDotEnv(dir))
	assert.Equal(t, "from-file", os.Getenv("CORPUSRUN_TEST_DOTENV"))
}

func writeConfig(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}
