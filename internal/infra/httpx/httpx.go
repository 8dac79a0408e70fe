package httpx

import (
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultUserAgent 在请求未显式设置 User-Agent 时使用。
const DefaultUserAgent = "corpusrun/1.0 (+https://github.com/John-Robertt/corpusrun)"

// Transport 把“默认 UA + keep-alive 策略”固化为统一策略。
//
// 不做重试：下载失败直接上抛，由上层决定整批失败。
type Transport struct {
	Base *http.Transport

	UserAgent string

	// DisableKeepAlives 决定是否对 Request 设置 Close=true（额外保险）。
	// 真正禁用 keep-alive 依赖 Base.DisableKeepAlives。
	DisableKeepAlives bool
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	if req == nil {
		return nil, errors.New("nil request")
	}
	if t.Base == nil {
		return nil, errors.New("nil base transport")
	}

	// Clone 会复制 Header 等，避免在 RoundTripper 内部“污染”调用方的 request。
	r := req.Clone(req.Context())
	if r.Header.Get("User-Agent") == "" {
		ua := t.UserAgent
		if ua == "" {
			ua = DefaultUserAgent
		}
		r.Header.Set("User-Agent", ua)
	}
	if t.DisableKeepAlives {
		r.Close = true
	}
	return t.Base.RoundTrip(r)
}

// NewClient 构造下载用的 HTTP client。
//
// 规则：
// - proxyURL 非空：走代理，且禁用 keep-alive（每请求新连接）
// - timeout <= 0：不设总超时（默认行为，与“无超时”约定一致）
// - 连接池按 maxConnsPerHost 放大，避免 I/O 池的并发被默认的 2 条空闲连接卡住
func NewClient(proxyURL string, timeout time.Duration, maxConnsPerHost int) (*http.Client, error) {
	base := &http.Transport{
		Proxy:               nil,
		TLSHandshakeTimeout: 10 * time.Second,
		ForceAttemptHTTP2:   true,
	}
	if maxConnsPerHost > 0 {
		base.MaxIdleConnsPerHost = maxConnsPerHost
	}

	disableKeepAlives := false
	proxyURL = strings.TrimSpace(proxyURL)
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, err
		}
		if u.Scheme == "" || u.Host == "" {
			return nil, errors.New("proxy url 缺少 scheme 或 host：" + proxyURL)
		}
		base.Proxy = http.ProxyURL(u)
		base.DisableKeepAlives = true
		disableKeepAlives = true
	}

	tr := &Transport{
		Base:              base,
		UserAgent:         DefaultUserAgent,
		DisableKeepAlives: disableKeepAlives,
	}
	c := &http.Client{Transport: tr}
	if timeout > 0 {
		c.Timeout = timeout
	}
	return c, nil
}
