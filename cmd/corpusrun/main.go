package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
)

func main() {
	os.Exit(execute(os.Args[1:], os.Stdout, os.Stderr))
}

// exitError 携带退出码；RunE 返回其他错误时视为用法错误（2）。
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func failed(err error) error { return &exitError{code: 1, err: err} }

// execute 运行 CLI 并返回进程退出码；stdout 只承载 "done!" 与 --report。
func execute(args []string, stdout, stderr io.Writer) int {
	root := newRootCommand(stdout, stderr)
	root.SetArgs(args)
	root.SetOut(stdout)
	root.SetErr(stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	err := root.ExecuteContext(ctx)
	if err == nil {
		return 0
	}
	var ee *exitError
	if errors.As(err, &ee) {
		fmt.Fprintf(stderr, "失败：%v\n", ee.err)
		return ee.code
	}
	fmt.Fprintf(stderr, "参数错误：%v\n\n", err)
	fmt.Fprint(stderr, root.UsageString())
	return 2
}

func newRootCommand(stdout, stderr io.Writer) *cobra.Command {
	var (
		g  globalFlags
		rf runFlags
	)

	root := &cobra.Command{
		Use:           "corpusrun",
		Short:         "下载文本、合并语料、分词并计算打乱后的 token 距离",
		SilenceUsage:  true,
		SilenceErrors: true,
		// 不带子命令时等同于 run。
		RunE: func(cmd *cobra.Command, args []string) error {
			return runPipeline(cmd, &g, &rf, stdout, stderr)
		},
	}
	bindRunFlags(root, &rf)
	root.PersistentFlags().StringVar(&g.workDir, "workdir", "", "工作目录（默认当前目录）")
	root.PersistentFlags().StringVarP(&g.configPath, "config", "c", "", "配置文件路径（默认 <workdir>/corpusrun.toml，可选）")
	root.PersistentFlags().StringArrayVar(&g.urls, "url", nil, "来源 URL，可重复；指定后覆盖配置中的 urls")

	root.AddCommand(newRunCommand(&g, stdout, stderr))
	root.AddCommand(newURLsCommand(&g, stdout))
	return root
}

type globalFlags struct {
	workDir    string
	configPath string
	urls       []string
}
