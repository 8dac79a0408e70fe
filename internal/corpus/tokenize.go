package corpus

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"os"

	"github.com/John-Robertt/corpusrun/internal/domain"
	"github.com/John-Robertt/corpusrun/internal/pool"
	"github.com/John-Robertt/corpusrun/internal/text"
)

// maxLineBytes 是单行允许的最大长度。
const maxLineBytes = 1 << 30

// ReadLines 读取 path 的所有行，行尾换行符保留。
// "\n"、"\r\n" 与单独的 "\r" 都算行结束；最后一行没有换行符时也算一行；空文件返回 0 行。
func ReadLines(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	sc.Split(scanLines)
	for sc.Scan() {
		lines = append(lines, sc.Text())
	}
	if err := sc.Err(); err != nil {
		return nil, err
	}
	return lines, nil
}

// scanLines 是保留行尾的 bufio.SplitFunc。
func scanLines(data []byte, atEOF bool) (advance int, token []byte, err error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			return i + 1, data[:i+1], nil
		}
		switch {
		case i+1 < len(data) && data[i+1] == '\n':
			return i + 2, data[:i+2], nil
		case i+1 < len(data) || atEOF:
			return i + 1, data[:i+1], nil
		default:
			// '\r' 在缓冲区末尾：需要更多数据才能判断是否为 "\r\n"。
			return 0, nil, nil
		}
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

// Tokenize 读取语料文件，并在 workers 个 goroutine 上逐行规范化。
// 输出与输入行一一对应、顺序一致。
func Tokenize(ctx context.Context, path string, workers int) ([]domain.TokenLine, error) {
	lines, err := ReadLines(path)
	if err != nil {
		return nil, fmt.Errorf("读取语料 %s 失败：%w", path, err)
	}
	return pool.Map(ctx, workers, lines, func(_ context.Context, _ int, l string) (domain.TokenLine, error) {
		return text.Line(l), nil
	})
}
