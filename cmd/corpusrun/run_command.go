package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/corpusrun/internal/app/run"
	"github.com/John-Robertt/corpusrun/internal/config"
	"github.com/John-Robertt/corpusrun/internal/fetch"
	"github.com/John-Robertt/corpusrun/internal/infra/httpx"
	"github.com/John-Robertt/corpusrun/internal/logging"
	"github.com/John-Robertt/corpusrun/internal/workspace"
)

type runFlags struct {
	strategy   string
	ioWorkers  int
	cpuWorkers int
	seed       int64
	logLevel   string
	logFormat  string
	report     bool
}

func newRunCommand(g *globalFlags, stdout, stderr io.Writer) *cobra.Command {
	var f runFlags

	cmd := &cobra.Command{
		Use:   "run",
		Short: "执行一次完整流水线，成功后输出 done!（不带子命令时的默认行为）",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, g, &f, stdout, stderr)
		},
	}
	bindRunFlags(cmd, &f)
	return cmd
}

func bindRunFlags(cmd *cobra.Command, f *runFlags) {
	flags := cmd.Flags()
	flags.StringVar(&f.strategy, "strategy", "", "I/O 策略：sequential|concurrent（默认 concurrent）")
	flags.IntVar(&f.ioWorkers, "io-workers", config.DefaultIOWorkers, "I/O 阶段并发数")
	flags.IntVar(&f.cpuWorkers, "cpu-workers", config.DefaultCPUWorkers, "CPU 阶段并发数")
	flags.Int64Var(&f.seed, "seed", 0, "打乱用的随机种子（0 表示按时间）")
	flags.StringVar(&f.logLevel, "log-level", "", "日志级别：debug|info|warn|error")
	flags.StringVar(&f.logFormat, "log-format", "", "日志格式：console|json")
	flags.BoolVar(&f.report, "report", false, "在 done! 之前把 RunReport JSON 输出到 stdout")
}

// runPipeline 合并配置、构造依赖并执行一次流水线；run 子命令与根命令共用。
func runPipeline(cmd *cobra.Command, g *globalFlags, f *runFlags, stdout, stderr io.Writer) error {
	cli := cliArgs(g)
	cli.Strategy = f.strategy
	cli.IOWorkers, cli.IOWorkersSet = f.ioWorkers, cmd.Flags().Changed("io-workers")
	cli.CPUWorkers, cli.CPUWorkersSet = f.cpuWorkers, cmd.Flags().Changed("cpu-workers")
	cli.Seed, cli.SeedSet = f.seed, cmd.Flags().Changed("seed")
	cli.LogLevel = f.logLevel
	cli.LogFormat = f.logFormat

	eff, err := loadConfig(cli)
	if err != nil {
		return failed(err)
	}

	logger, err := logging.New(logging.Options{Level: eff.LogLevel, Format: eff.LogFormat, Writer: stderr})
	if err != nil {
		return failed(err)
	}
	if eff.Source != "" {
		logger.Debug("读取配置文件", "path", eff.Source)
	}

	client, err := httpx.NewClient(eff.ProxyURL, eff.FetchTimeout, eff.IOWorkers)
	if err != nil {
		return failed(fmt.Errorf("proxy_url 无效：%w", err))
	}
	ws, err := workspace.Open(eff.WorkDir, eff.TextsDir, eff.AggregateName)
	if err != nil {
		return failed(err)
	}

	timer := newStageTimer(logger)
	p := &run.Pipeline{
		Config:    eff,
		Fetcher:   fetch.HTTPFetcher{Client: client, Dir: ws.TextsDir},
		Workspace: ws,
		Logger:    logger,
		Observer:  timer,
	}

	rr, runErr := p.Execute(cmd.Context())
	if f.report {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(rr); err != nil {
			return failed(err)
		}
	}
	if isTerminal(stderr) {
		fmt.Fprintln(stderr, timer.Table())
	}
	if runErr != nil {
		return failed(runErr)
	}

	fmt.Fprintln(stdout, "done!")
	return nil
}

func cliArgs(g *globalFlags) config.CLIArgs {
	return config.CLIArgs{
		WorkDir:    g.workDir,
		ConfigPath: g.configPath,
		URLs:       g.urls,
	}
}

// loadConfig 读取 cwd/.env（可选），再合并出最终配置。
func loadConfig(cli config.CLIArgs) (config.EffectiveConfig, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return config.EffectiveConfig{}, fmt.Errorf("读取当前目录失败：%w", err)
	}
	if err := config.LoadDotEnv(cwd); err != nil {
		return config.EffectiveConfig{}, err
	}
	return config.LoadEffective(cwd, cli, nil)
}
