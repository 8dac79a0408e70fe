// Package fetch 下载文本来源并解码为 UTF-8 正文。
package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html/charset"

	"github.com/John-Robertt/corpusrun/internal/domain"
)

// Fetcher 把一个来源变成带目标路径的 Document。
//
// 约束：不做缓存、不做重试；任何失败直接返回，由调用方决定整批失败。
type Fetcher interface {
	Fetch(ctx context.Context, src domain.Source) (domain.Document, error)
}

// HTTPFetcher 通过 HTTP GET 下载来源，并把结果放到 Dir/<src.Name>。
type HTTPFetcher struct {
	Client *http.Client
	Dir    string
}

var _ Fetcher = HTTPFetcher{}

// TargetName 返回 URL 路径的最后一段（忽略 query/fragment）。
func TargetName(rawURL string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("URL 缺少 scheme 或 host：%q", rawURL)
	}
	p := u.Path
	if p == "" || strings.HasSuffix(p, "/") {
		return "", fmt.Errorf("URL 路径没有文件名：%q", rawURL)
	}
	name := path.Base(p)
	if name == "." || name == ".." || name == "/" {
		return "", fmt.Errorf("URL 路径没有文件名：%q", rawURL)
	}
	return name, nil
}

func (f HTTPFetcher) Fetch(ctx context.Context, src domain.Source) (domain.Document, error) {
	c := f.Client
	if c == nil {
		c = http.DefaultClient
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, src.URL, nil)
	if err != nil {
		return domain.Document{}, &Error{URL: src.URL, Stage: "url", Err: err}
	}
	resp, err := c.Do(req)
	if err != nil {
		return domain.Document{}, &Error{URL: src.URL, Stage: "request", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return domain.Document{}, &Error{URL: src.URL, Stage: "status", Err: &HTTPStatusError{
			URL:        src.URL,
			StatusCode: resp.StatusCode,
			Location:   resp.Header.Get("Location"),
		}}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.Document{}, &Error{URL: src.URL, Stage: "request", Err: err}
	}

	text, err := Decode(body, resp.Header.Get("Content-Type"))
	if err != nil {
		return domain.Document{}, &Error{URL: src.URL, Stage: "decode", Err: err}
	}

	return domain.Document{
		Source: src,
		Path:   filepath.Join(f.Dir, src.Name),
		Text:   text,
	}, nil
}

// Decode 把 body 转为 UTF-8 文本。HTML 内容只保留可见文本（去掉 script/style）。
//
// 编码的确定顺序：BOM 或 Content-Type 中声明的 charset；否则按 UTF-8 处理。
// 只有 HTML 在正文不是合法 UTF-8 时才参考 <meta charset>（找不到时回退 windows-1252）。
// 按 UTF-8 处理的正文必须是合法 UTF-8，否则返回错误。
func Decode(body []byte, contentType string) (string, error) {
	if len(body) == 0 {
		return "", nil
	}

	// DetermineEncoding 只看前 1024 字节：certain 只在 BOM 或声明了 charset 时为 true，
	// 其余情况下它会把纯 ASCII 的开头猜成 windows-1252，所以不能直接采用。
	enc, name, certain := charset.DetermineEncoding(body, contentType)
	var decoded []byte
	switch {
	case certain && name != "utf-8":
		b, err := enc.NewDecoder().Bytes(body)
		if err != nil {
			return "", fmt.Errorf("按 %s 解码失败：%w", name, err)
		}
		decoded = b
	case utf8.Valid(body):
		decoded = body
	case !certain && isHTML(contentType):
		b, err := enc.NewDecoder().Bytes(body)
		if err != nil {
			return "", fmt.Errorf("按 %s 解码失败：%w", name, err)
		}
		decoded = b
	default:
		return "", errInvalidUTF8
	}
	// UTF-8 BOM 不属于正文。
	decoded = bytes.TrimPrefix(decoded, []byte("\xef\xbb\xbf"))

	if !isHTML(contentType) {
		return string(decoded), nil
	}
	return htmlText(decoded)
}

var errInvalidUTF8 = errors.New("正文不是合法的 UTF-8")

func isHTML(contentType string) bool {
	mt, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return false
	}
	return mt == "text/html" || mt == "application/xhtml+xml"
}

func htmlText(b []byte) (string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(b))
	if err != nil {
		return "", fmt.Errorf("解析 HTML 失败：%w", err)
	}
	doc.Find("script, style, noscript").Remove()

	lines := strings.Split(doc.Find("body").Text(), "\n")
	out := make([]string, 0, len(lines))
	for _, l := range lines {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	if len(out) == 0 {
		return "", nil
	}
	return strings.Join(out, "\n") + "\n", nil
}
