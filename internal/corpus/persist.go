// Package corpus 负责语料文件的落盘、合并与分词。
package corpus

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	"github.com/John-Robertt/corpusrun/internal/domain"
	"github.com/John-Robertt/corpusrun/internal/infra/fsx"
)

const (
	// PersistReplace 覆盖或创建目标文件（默认）。
	PersistReplace = "replace"
	// PersistKeep 以独占方式创建：目标已存在时记录告警并丢弃本次内容。
	PersistKeep = "keep"
)

// Persister 把 Document 写到它的目标路径。
type Persister struct {
	Mode   string
	Logger *slog.Logger
}

// ParseMode 校验持久化模式；空串视为 replace。
func ParseMode(s string) (string, error) {
	switch m := strings.ToLower(strings.TrimSpace(s)); m {
	case "":
		return PersistReplace, nil
	case PersistReplace, PersistKeep:
		return m, nil
	default:
		return "", fmt.Errorf("未知 persist mode：%q（可选 replace|keep）", s)
	}
}

// Save 写入 doc.Text；返回值 saved=false 表示 keep 模式下目标已存在、内容被丢弃。
// 除“已存在”之外的任何错误都原样返回。
func (p Persister) Save(doc domain.Document) (saved bool, err error) {
	if strings.TrimSpace(doc.Path) == "" {
		return false, fmt.Errorf("document 缺少目标路径：url=%s", doc.Source.URL)
	}
	dir, name := filepath.Split(doc.Path)
	if dir == "" {
		dir = "."
	}

	if p.Mode != PersistKeep {
		if err := fsx.WriteFileAtomicReplace(dir, name, []byte(doc.Text)); err != nil {
			return false, fmt.Errorf("写入 %s 失败：%w", doc.Path, err)
		}
		return true, nil
	}

	err = fsx.WriteFileAtomicNoOverwrite(dir, name, []byte(doc.Text))
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, os.ErrExist):
		p.logger().Warn("文件已存在，跳过写入", "path", doc.Path, "url", doc.Source.URL)
		return false, nil
	default:
		return false, fmt.Errorf("写入 %s 失败：%w", doc.Path, err)
	}
}

func (p Persister) logger() *slog.Logger {
	if p.Logger != nil {
		return p.Logger
	}
	return slog.Default()
}
