// Package workspace 持有一次 run 的工作目录状态：texts/ 目录、合并文件路径与跨进程锁。
//
// 每个 Pipeline 拥有自己的 Workspace；不同工作目录上的 run 互不影响，
// 同一工作目录上的并发 run 由文件锁排斥。
package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gofrs/flock"

	"github.com/John-Robertt/corpusrun/internal/infra/fsx"
)

const lockName = ".corpusrun.lock"

// ErrLocked 表示同一工作目录上已有另一个 run 持有锁。
var ErrLocked = errors.New("workspace: 另一个 run 正在使用该工作目录")

type Workspace struct {
	Root          string
	TextsDir      string
	AggregateName string

	lock *flock.Flock
}

// Open 校验并创建工作目录与 texts 子目录。
// textsDir 必须是 root 下的相对路径；aggregateName 必须是单纯的文件名。
func Open(root, textsDir, aggregateName string) (*Workspace, error) {
	root = filepath.Clean(strings.TrimSpace(root))
	if root == "" || root == "." {
		wd, err := os.Getwd()
		if err != nil {
			return nil, err
		}
		root = wd
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, err
	}

	textsDir = strings.TrimSpace(textsDir)
	if textsDir == "" || filepath.IsAbs(textsDir) {
		return nil, fmt.Errorf("texts 目录必须是相对路径：%q", textsDir)
	}
	texts := filepath.Join(abs, textsDir)
	// texts 必须严格位于 root 之下：Cleanup 会整个删除它。
	if texts == abs || !fsx.IsUnder(texts, abs) {
		return nil, fmt.Errorf("texts 目录必须位于工作目录之下：%q", textsDir)
	}

	aggregateName = strings.TrimSpace(aggregateName)
	if aggregateName == "" || aggregateName != filepath.Base(aggregateName) || aggregateName == "." || aggregateName == ".." {
		return nil, fmt.Errorf("非法合并文件名：%q", aggregateName)
	}

	if err := os.MkdirAll(texts, 0o755); err != nil {
		return nil, err
	}

	return &Workspace{
		Root:          abs,
		TextsDir:      texts,
		AggregateName: aggregateName,
		lock:          flock.New(filepath.Join(abs, lockName)),
	}, nil
}

// Lock 以非阻塞方式获取工作目录锁；已被占用时返回 ErrLocked。
func (w *Workspace) Lock() error {
	ok, err := w.lock.TryLock()
	if err != nil {
		return fmt.Errorf("获取工作目录锁失败：%w", err)
	}
	if !ok {
		return ErrLocked
	}
	return nil
}

// Unlock 释放工作目录锁（未持有时为 no-op）。
func (w *Workspace) Unlock() error {
	return w.lock.Unlock()
}

// SourcePath 返回某个来源文件在 texts/ 下的路径。
func (w *Workspace) SourcePath(name string) string {
	return filepath.Join(w.TextsDir, name)
}

// AggregatePath 返回合并语料文件的路径。
func (w *Workspace) AggregatePath() string {
	return filepath.Join(w.TextsDir, w.AggregateName)
}

// Entries 返回 texts/ 下的条目名（排序后）。
func (w *Workspace) Entries() ([]string, error) {
	entries, err := os.ReadDir(w.TextsDir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Cleanup 删除并重建 texts/，返回删除前的条目数。
// 只会作用于 texts/，绝不会删除工作目录本身。
func (w *Workspace) Cleanup() (int, error) {
	texts := filepath.Clean(w.TextsDir)
	if texts == filepath.Clean(w.Root) || !fsx.IsUnder(texts, filepath.Clean(w.Root)) {
		return 0, fmt.Errorf("拒绝清理工作目录之外的路径：%q", texts)
	}
	n := 0
	if names, err := w.Entries(); err == nil {
		n = len(names)
	}
	if err := fsx.ResetDir(texts); err != nil {
		return 0, fmt.Errorf("清理 %s 失败：%w", texts, err)
	}
	return n, nil
}
