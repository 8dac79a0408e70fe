package fetch

import (
	"fmt"
	"strings"
)

// HTTPStatusError 表示服务器返回了非 2xx 的 HTTP 状态码。
type HTTPStatusError struct {
	URL        string
	StatusCode int
	Location   string
}

func (e *HTTPStatusError) Error() string {
	if e == nil {
		return "HTTP status error"
	}
	loc := strings.TrimSpace(e.Location)
	if loc == "" {
		return fmt.Sprintf("HTTP %d", e.StatusCode)
	}
	return fmt.Sprintf("HTTP %d location=%s", e.StatusCode, loc)
}

// Error 是下载阶段的可追溯错误。
type Error struct {
	URL   string
	Stage string // "url" / "request" / "status" / "decode"
	Err   error
}

func (e *Error) Error() string {
	return fmt.Sprintf("fetch url=%s stage=%s: %v", e.URL, e.Stage, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }
