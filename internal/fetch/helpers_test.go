package fetch

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"
	"net/http"
	"net/url"
	"sync"
	"testing"
	"time"

	"github.com/pixelhub/pixelhub/internal/cache"
	"github.com/pixelhub/pixelhub/internal/imaging"
)

// pngPayload 生成一个填充到 size 字节的 png；解码器会忽略 IEND 之后的字节。
func pngPayload(t *testing.T, size int) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 255, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("encode png: %v", err)
	}
	if buf.Len() > size {
		t.Fatalf("png larger than %d bytes", size)
	}
	return append(buf.Bytes(), make([]byte, size-buf.Len())...)
}

// chunkReader 每次 Read 返回一个预设块。
type chunkReader struct {
	chunks [][]byte
}

func (r *chunkReader) Read(p []byte) (int, error) {
	if len(r.chunks) == 0 {
		return 0, io.EOF
	}
	n := copy(p, r.chunks[0])
	r.chunks = r.chunks[1:]
	return n, nil
}

// blockingReader 先返回 first，然后阻塞到请求 context 结束。
type blockingReader struct {
	first []byte
	req   *http.Request
	sent  bool
}

func (r *blockingReader) Read(p []byte) (int, error) {
	if !r.sent {
		r.sent = true
		return copy(p, r.first), nil
	}
	<-r.req.Context().Done()
	return 0, r.req.Context().Err()
}

type stubDoer struct {
	mu       sync.Mutex
	calls    int
	requests []*http.Request
	handler  func(req *http.Request) (*http.Response, error)
}

func (s *stubDoer) Do(req *http.Request) (*http.Response, error) {
	s.mu.Lock()
	s.calls++
	s.requests = append(s.requests, req)
	s.mu.Unlock()
	return s.handler(req)
}

func (s *stubDoer) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func (s *stubDoer) LastRequest() *http.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return nil
	}
	return s.requests[len(s.requests)-1]
}

func chunkedResponse(total int64, chunks ...[]byte) *http.Response {
	return &http.Response{
		StatusCode:    http.StatusOK,
		Header:        http.Header{"Content-Type": []string{"image/png"}},
		ContentLength: total,
		Body:          io.NopCloser(&chunkReader{chunks: chunks}),
	}
}

func statusResponse(code int) *http.Response {
	return &http.Response{
		StatusCode: code,
		Header:     http.Header{},
		Body:       io.NopCloser(bytes.NewReader(nil)),
	}
}

func newTestCache(t *testing.T) *cache.Cache {
	t.Helper()
	c, err := cache.Open(cache.Options{
		Path:               t.TempDir(),
		Codec:              imaging.NewCodec(nil, imaging.DecodeOptions{}),
		MemoryTrimInterval: -1,
		DiskTrimInterval:   -1,
	})
	if err != nil {
		t.Fatalf("open cache: %v", err)
	}
	t.Cleanup(func() { c.Close() })
	return c
}

func newTestManager(t *testing.T, c *cache.Cache, doer Doer, opts ManagerOptions) *Manager {
	t.Helper()
	if doer != nil {
		opts.Client = doer
	}
	m := NewManager(c, opts)
	t.Cleanup(m.Close)
	return m
}

type completionCall struct {
	img   *imaging.Image
	from  Provenance
	stage Stage
	err   error
}

// recorder 收集回调，terminal 在终态回调时收到一次。
type recorder struct {
	mu        sync.Mutex
	progress  [][2]int64
	calls     []completionCall
	terminals int
	terminal  chan completionCall
}

func newRecorder() *recorder {
	return &recorder{terminal: make(chan completionCall, 4)}
}

func (r *recorder) onProgress() ProgressFunc {
	return func(received, expected int64, _ *url.URL) {
		r.mu.Lock()
		r.progress = append(r.progress, [2]int64{received, expected})
		r.mu.Unlock()
	}
}

func (r *recorder) onComplete() CompletionFunc {
	return func(img *imaging.Image, _ *url.URL, from Provenance, stage Stage, err error) {
		call := completionCall{img: img, from: from, stage: stage, err: err}
		r.mu.Lock()
		r.calls = append(r.calls, call)
		if stage != StageProgress {
			r.terminals++
		}
		r.mu.Unlock()
		if stage != StageProgress {
			r.terminal <- call
		}
	}
}

func (r *recorder) wait(t *testing.T) completionCall {
	t.Helper()
	select {
	case call := <-r.terminal:
		return call
	case <-time.After(3 * time.Second):
		t.Fatalf("terminal completion not delivered")
		return completionCall{}
	}
}

func (r *recorder) Terminals() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.terminals
}

func (r *recorder) Progresses() [][2]int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([][2]int64(nil), r.progress...)
}

func (r *recorder) Calls() []completionCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]completionCall(nil), r.calls...)
}
