package main

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/John-Robertt/corpusrun/internal/app/planner"
)

func newURLsCommand(g *globalFlags, stdout io.Writer) *cobra.Command {
	return &cobra.Command{
		Use:   "urls",
		Short: "列出生效的来源 URL 及其落盘文件名",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			eff, err := loadConfig(cliArgs(g))
			if err != nil {
				return failed(err)
			}
			sources, err := planner.PlanSources(eff.URLs, eff.AggregateName)
			if err != nil {
				return failed(err)
			}
			for _, s := range sources {
				fmt.Fprintf(stdout, "%s\t%s\n", s.Name, s.URL)
			}
			return nil
		},
	}
}
