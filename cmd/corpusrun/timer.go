package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/mattn/go-isatty"

	"github.com/John-Robertt/corpusrun/internal/app/run"
)

var _ run.Observer = (*stageTimer)(nil)

// stageTimer 记录每个阶段的耗时：结束时打一行 "<stage> took <dur>" 日志，
// 并在终端上汇总为一张表。
type stageTimer struct {
	log *slog.Logger

	mu   sync.Mutex
	rows []stageRow
}

type stageRow struct {
	name   string
	dur    time.Duration
	fields map[string]any
}

func newStageTimer(log *slog.Logger) *stageTimer {
	return &stageTimer{log: log}
}

func (t *stageTimer) OnStageStart(name string) {
	t.log.Debug(name + " started")
}

func (t *stageTimer) OnStageDone(name string, fields map[string]any, dur time.Duration) {
	t.mu.Lock()
	t.rows = append(t.rows, stageRow{name: name, dur: dur, fields: fields})
	t.mu.Unlock()

	args := make([]any, 0, 2*len(fields))
	for _, k := range sortedKeys(fields) {
		args = append(args, k, fields[k])
	}
	t.log.Info(fmt.Sprintf("%s took %s", name, formatDuration(dur)), args...)
}

// Table 渲染已完成阶段的耗时表（没有阶段时返回空串）。
func (t *stageTimer) Table() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.rows) == 0 {
		return ""
	}

	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	tw.AppendHeader(table.Row{"stage", "took", "details"})

	var total time.Duration
	for _, r := range t.rows {
		total += r.dur
		tw.AppendRow(table.Row{r.name, formatDuration(r.dur), formatFields(r.fields)})
	}
	tw.AppendFooter(table.Row{"total", formatDuration(total), ""})
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 2, Align: text.AlignRight, AlignFooter: text.AlignRight, AlignHeader: text.AlignLeft},
	})
	return tw.Render()
}

func formatDuration(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d >= time.Second:
		return fmt.Sprintf("%.2fs", d.Seconds())
	case d >= time.Millisecond:
		return fmt.Sprintf("%.1fms", float64(d)/float64(time.Millisecond))
	default:
		return d.String()
	}
}

func formatFields(fields map[string]any) string {
	parts := make([]string, 0, len(fields))
	for _, k := range sortedKeys(fields) {
		v := fields[k]
		if f, ok := v.(float64); ok {
			parts = append(parts, fmt.Sprintf("%s=%.4f", k, f))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s=%v", k, v))
	}
	return strings.Join(parts, " ")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	fd := f.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}
