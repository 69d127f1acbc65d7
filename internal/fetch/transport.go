package fetch

import (
	"crypto/tls"
	"encoding/base64"
	"net"
	"net/http"
	"net/http/cookiejar"
	"net/textproto"
	"sync"
	"time"

	"golang.org/x/net/publicsuffix"
)

// Doer 是发起 HTTP 请求的最小接口，*http.Client 满足它，测试可注入桩实现。
type Doer interface {
	Do(req *http.Request) (*http.Response, error)
}

// Shared HTTP transport tunings，复用长连接并集中配置超时。
var defaultTransport = &http.Transport{
	Proxy:                 http.ProxyFromEnvironment,
	MaxIdleConns:          100,
	MaxIdleConnsPerHost:   16,
	IdleConnTimeout:       90 * time.Second,
	TLSHandshakeTimeout:   10 * time.Second,
	ExpectContinueTimeout: 1 * time.Second,
	ForceAttemptHTTP2:     true,
	DialContext: (&net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}).DialContext,
}

// clientSet 按 (跳过证书校验, 启用 cookie) 两个选项位缓存 http.Client。
// 超时由每次请求的 context 控制，Client 本身不设 Timeout。
type clientSet struct {
	custom Doer

	mu      sync.Mutex
	jar     http.CookieJar
	clients map[Options]*http.Client
}

func newClientSet(custom Doer) *clientSet {
	return &clientSet{custom: custom, clients: make(map[Options]*http.Client)}
}

// clientFor 返回匹配 opts 的客户端；注入了自定义 Doer 时总是使用它。
func (s *clientSet) clientFor(opts Options) Doer {
	if s.custom != nil {
		return s.custom
	}
	key := opts & (OptionAllowInvalidTLS | OptionHandleCookies)

	s.mu.Lock()
	defer s.mu.Unlock()
	if client, ok := s.clients[key]; ok {
		return client
	}

	transport := defaultTransport.Clone()
	if key.Has(OptionAllowInvalidTLS) {
		transport.TLSClientConfig = &tls.Config{InsecureSkipVerify: true} //nolint:gosec // opt-in per request
	}
	client := &http.Client{Transport: transport}
	if key.Has(OptionHandleCookies) {
		if s.jar == nil {
			jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
			if err == nil {
				s.jar = jar
			}
		}
		client.Jar = s.jar
	}
	s.clients[key] = client
	return client
}

func (s *clientSet) closeIdle() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, client := range s.clients {
		client.CloseIdleConnections()
	}
}

// hopByHopHeaders 定义 RFC 7230 中逐跳的头部，不允许由配置或 HeaderFilter 注入。
var hopByHopHeaders = map[string]struct{}{
	"Connection":          {},
	"Keep-Alive":          {},
	"Proxy-Authenticate":  {},
	"Proxy-Authorization": {},
	"Te":                  {},
	"Trailer":             {},
	"Transfer-Encoding":   {},
	"Upgrade":             {},
	"Proxy-Connection":    {}, // 非标准字段，但部分代理仍使用
}

// CopyHeaders 将 src 中允许透传的头复制到 dst，自动忽略 hop-by-hop 字段。
func CopyHeaders(dst, src http.Header) {
	for key, values := range src {
		if IsHopByHopHeader(key) {
			continue
		}
		for _, value := range values {
			dst.Add(key, value)
		}
	}
}

// IsHopByHopHeader reports whether the header must not be forwarded.
func IsHopByHopHeader(key string) bool {
	_, ok := hopByHopHeaders[textproto.CanonicalMIMEHeaderKey(key)]
	return ok
}

func buildCredentialHeader(username, password string) string {
	if username == "" || password == "" {
		return ""
	}
	token := username + ":" + password
	return "Basic " + base64.StdEncoding.EncodeToString([]byte(token))
}
