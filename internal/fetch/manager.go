package fetch

import (
	"errors"
	"io"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"github.com/pixelhub/pixelhub/internal/cache"
	"github.com/pixelhub/pixelhub/internal/imaging"
	"github.com/pixelhub/pixelhub/internal/metrics"
)

const (
	// DefaultTimeout 是网络阶段的默认超时。
	DefaultTimeout = 15 * time.Second
	// DefaultAccept 是默认的 Accept 头。
	DefaultAccept = "image/webp,image/*;q=0.8"
)

// ManagerOptions 是 Manager 创建的每个 Operation 共享的配置。
type ManagerOptions struct {
	// MaxConcurrent 限制同时执行的 Operation 数，0 表示不排队、立即开始。
	MaxConcurrent int
	Timeout       time.Duration
	Username      string
	Password      string
	// Headers 为 nil 时使用 Accept: DefaultAccept。
	Headers http.Header
	// HeaderFilter 按 URL 改写请求头，返回值替换默认头。
	HeaderFilter func(u *url.URL, headers http.Header) http.Header
	// CacheKeyFilter 覆盖默认的 URL 规范化缓存键。
	CacheKeyFilter func(u *url.URL) string
	Transform      TransformFunc
	Decoder        imaging.Decoder
	Client         Doer

	Logger  *logrus.Logger
	Metrics *metrics.Fetch
}

// Manager 创建并调度 Operation。它不合并同一 URL 的并发请求：每次 Request 都是独立的传输。
type Manager struct {
	cache    *cache.Cache
	opts     ManagerOptions
	timeout  time.Duration
	decoder  imaging.Decoder
	clients  *clientSet
	denylist *Denylist
	sem      *semaphore.Weighted
	logger   *logrus.Logger
	metrics  *metrics.Fetch

	headersMu sync.RWMutex
	headers   http.Header

	mu     sync.Mutex
	active map[*Operation]struct{}
	closed bool
	wg     sync.WaitGroup
}

// NewManager 创建 Manager。c 为 nil 时跳过缓存读写。
func NewManager(c *cache.Cache, opts ManagerOptions) *Manager {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	decoder := opts.Decoder
	if decoder == nil {
		decoder = imaging.StdDecoder{}
	}
	logger := opts.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetOutput(io.Discard)
	}
	headers := opts.Headers.Clone()
	if headers == nil {
		headers = http.Header{}
		headers.Set("Accept", DefaultAccept)
	}

	m := &Manager{
		cache:    c,
		opts:     opts,
		timeout:  timeout,
		decoder:  decoder,
		clients:  newClientSet(opts.Client),
		denylist: newDenylist(),
		logger:   logger,
		metrics:  opts.Metrics,
		headers:  headers,
		active:   make(map[*Operation]struct{}),
	}
	if opts.MaxConcurrent > 0 {
		m.sem = semaphore.NewWeighted(int64(opts.MaxConcurrent))
	}
	return m
}

// Cache returns the cache the manager reads and writes; may be nil.
func (m *Manager) Cache() *cache.Cache {
	return m.cache
}

// Denylist returns the failed-URL denylist.
func (m *Manager) Denylist() *Denylist {
	return m.denylist
}

// Timeout returns the network stage timeout.
func (m *Manager) Timeout() time.Duration {
	return m.timeout
}

// Request 创建并调度一个 Operation。
//   - URL 为空或无法解析：同步交付 ErrInvalidURL；
//   - URL 在黑名单中：同步交付 ErrDenylisted；
//   - 内存层命中且未要求 Refresh：同步交付 ProvenanceMemoryFast；
//
// 其余情况 Operation 进入队列，回调在工作 goroutine 上执行。
func (m *Manager) Request(rawURL string, options Options, progress ProgressFunc, transform TransformFunc, completion CompletionFunc) *Operation {
	u, err := parseURL(rawURL)
	if err != nil {
		op := newOperation(m, nil, "", options, progress, transform, completion)
		op.finish(nil, ProvenanceNone, StageFinished, err)
		return op
	}

	op := newOperation(m, u, m.CacheKey(u), options, progress, transform, completion)

	m.mu.Lock()
	closed := m.closed
	m.mu.Unlock()
	if closed {
		op.finish(nil, ProvenanceNone, StageFinished, ErrManagerClosed)
		return op
	}

	if m.denylist.Contains(u.String()) {
		op.finish(nil, ProvenanceNone, StageFinished, ErrDenylisted)
		return op
	}

	if m.cache != nil && !options.Has(OptionRefresh) && !options.Has(OptionUseURLCache) {
		if img, ok := m.memoryImage(op.key, options); ok {
			op.finish(img, ProvenanceMemoryFast, StageFinished, nil)
			return op
		}
	}

	if !m.schedule(op) {
		op.finish(nil, ProvenanceNone, StageFinished, ErrManagerClosed)
	}
	return op
}

// schedule 在 m.mu 内完成关闭检查、登记与 wg.Add，Close 之后不会再有 Operation 被调度。
func (m *Manager) schedule(op *Operation) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.active[op] = struct{}{}
	m.wg.Add(1)
	m.mu.Unlock()

	go func() {
		defer m.wg.Done()
		if m.sem != nil {
			if err := m.sem.Acquire(op.ctx, 1); err != nil {
				return
			}
			defer m.sem.Release(1)
		}
		op.Start()
	}()
	return true
}

func (m *Manager) untrack(op *Operation) {
	m.mu.Lock()
	delete(m.active, op)
	m.mu.Unlock()
}

// Active 返回尚未到达终态的已调度 Operation 数。
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// CancelAll 取消所有进行中与排队中的 Operation。
func (m *Manager) CancelAll() {
	m.mu.Lock()
	ops := make([]*Operation, 0, len(m.active))
	for op := range m.active {
		ops = append(ops, op)
	}
	m.mu.Unlock()

	for _, op := range ops {
		op.Cancel()
	}
}

// ClearDenylist empties the denylist and returns the number of removed URLs.
func (m *Manager) ClearDenylist() int {
	return m.denylist.Clear()
}

// SetHeader 修改默认请求头，value 为空时删除。
func (m *Manager) SetHeader(key, value string) {
	m.headersMu.Lock()
	defer m.headersMu.Unlock()
	if value == "" {
		m.headers.Del(key)
		return
	}
	m.headers.Set(key, value)
}

// HeadersFor 返回请求 u 时使用的头：默认头经 HeaderFilter 改写后去掉 hop-by-hop 字段。
func (m *Manager) HeadersFor(u *url.URL) http.Header {
	m.headersMu.RLock()
	headers := m.headers.Clone()
	m.headersMu.RUnlock()

	if m.opts.HeaderFilter != nil && u != nil {
		headers = m.opts.HeaderFilter(u, headers)
	}
	result := http.Header{}
	CopyHeaders(result, headers)
	return result
}

// CacheKey 返回 u 的缓存键，默认是规范化后的 URL 字符串。
func (m *Manager) CacheKey(u *url.URL) string {
	if u == nil {
		return ""
	}
	if m.opts.CacheKeyFilter != nil {
		return m.opts.CacheKeyFilter(u)
	}
	return NormalizeURL(u)
}

// Close 拒绝新请求，取消进行中的 Operation 并等待它们退出。
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	m.CancelAll()
	m.wg.Wait()
	m.clients.closeIdle()
}

// NormalizeURL 小写 scheme 与 host，去掉默认端口与片段。
func NormalizeURL(u *url.URL) string {
	clone := *u
	clone.Scheme = strings.ToLower(clone.Scheme)
	host := strings.ToLower(clone.Hostname())
	port := clone.Port()
	if (clone.Scheme == "http" && port == "80") || (clone.Scheme == "https" && port == "443") {
		port = ""
	}
	if strings.Contains(host, ":") {
		host = "[" + host + "]"
	}
	if port != "" {
		host += ":" + port
	}
	clone.Host = host
	clone.Fragment = ""
	clone.RawFragment = ""
	if clone.Path == "" {
		clone.Path = "/"
	}
	return clone.String()
}

func parseURL(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, ErrInvalidURL
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, errors.Join(ErrInvalidURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, ErrInvalidURL
	}
	return u, nil
}

// memoryImage 只查询内存层，供 Request 的同步快速路径使用。
func (m *Manager) memoryImage(key string, options Options) (*imaging.Image, bool) {
	value, ok := m.cache.Memory().Get(key)
	if !ok {
		return nil, false
	}
	return m.asImage(key, value, options)
}

// lookup 是 Operation 的缓存检查阶段：先内存，再磁盘；磁盘命中解码后回填内存层。
func (m *Manager) lookup(key string, options Options) (*imaging.Image, Provenance, bool) {
	if img, ok := m.memoryImage(key, options); ok {
		return img, ProvenanceMemory, true
	}
	if options.Has(OptionIgnoreDiskCache) {
		return nil, ProvenanceNone, false
	}

	data, err := m.cache.Disk().Get(key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			m.logger.WithError(err).WithFields(logrus.Fields{"action": "fetch_cache", "cache_key": key}).Warn("disk_read_failed")
		}
		return nil, ProvenanceNone, false
	}
	img, err := m.decode(data, options)
	if err != nil {
		m.logger.WithError(err).WithFields(logrus.Fields{"action": "fetch_cache", "cache_key": key}).Warn("disk_decode_failed")
		return nil, ProvenanceNone, false
	}
	m.cache.SetMemory(key, img, img.Cost())
	return img, ProvenanceDisk, true
}

func (m *Manager) asImage(key string, value any, options Options) (*imaging.Image, bool) {
	switch v := value.(type) {
	case *imaging.Image:
		return v, v != nil
	case []byte:
		img, err := m.decode(v, options)
		if err != nil {
			m.logger.WithError(err).WithFields(logrus.Fields{"action": "fetch_cache", "cache_key": key}).Warn("memory_decode_failed")
			return nil, false
		}
		return img, true
	default:
		return nil, false
	}
}

// decode 按选项解码；OptionIgnoreDecoding 下无法识别的格式按原始字节返回。
func (m *Manager) decode(data []byte, options Options) (*imaging.Image, error) {
	opts := imaging.DecodeOptions{
		SkipDecoding: options.Has(OptionIgnoreDecoding),
		SingleFrame:  options.Has(OptionIgnoreAnimated),
	}
	img, err := m.decoder.Decode(data, opts)
	if err != nil && opts.SkipDecoding {
		return &imaging.Image{Data: data, Frames: 1}, nil
	}
	return img, err
}

// store 写入缓存；OptionIgnoreDiskCache 时只写内存层。写入失败只记录日志。
func (m *Manager) store(key string, img *imaging.Image, options Options) {
	if m.cache == nil || key == "" {
		return
	}
	if options.Has(OptionIgnoreDiskCache) {
		m.cache.SetMemory(key, img, img.Cost())
		return
	}
	if err := m.cache.SetEncoded(key, img, img.Data, img.Cost()); err != nil {
		m.logger.WithError(err).WithFields(logrus.Fields{"action": "fetch_store", "cache_key": key}).Warn("cache_store_failed")
	}
}
