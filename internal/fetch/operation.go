package fetch

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/pixelhub/pixelhub/internal/imaging"
)

const (
	readChunkSize = 32 * 1024
	// progressiveInterval 限制渐进式部分结果的交付频率。
	progressiveInterval = 200 * time.Millisecond
	maxPreallocate      = 64 << 20
)

// Operation 是一次抓取的句柄。状态只会沿 Ready → Executing → Finished/Cancelled 前进，
// 终态回调恰好一次，此后不再有任何进度或完成回调。
type Operation struct {
	manager    *Manager
	url        *url.URL
	key        string
	options    Options
	progress   ProgressFunc
	transform  TransformFunc
	completion CompletionFunc

	// ctx 覆盖排队与网络阶段，Cancel 时取消。
	ctx    context.Context
	cancel context.CancelFunc

	mu              sync.Mutex
	state           State
	cancelRequested bool
	committed       bool
	received        int64
	expected        int64
	result          *imaging.Image
	from            Provenance
	err             error
	started         time.Time
	// partials 限制渐进式结果的交付频率：首块总是交付。
	partials rate.Sometimes

	done chan struct{}
}

func newOperation(m *Manager, u *url.URL, key string, options Options, progress ProgressFunc, transform TransformFunc, completion CompletionFunc) *Operation {
	ctx, cancel := context.WithCancel(context.Background())
	return &Operation{
		manager:    m,
		url:        u,
		key:        key,
		options:    options,
		progress:   progress,
		transform:  transform,
		completion: completion,
		ctx:        ctx,
		cancel:     cancel,
		expected:   -1,
		started:    time.Now(),
		partials:   rate.Sometimes{First: 1, Interval: progressiveInterval},
		done:       make(chan struct{}),
	}
}

// URL returns the request URL; nil when the request URL was invalid.
func (op *Operation) URL() *url.URL {
	return op.url
}

// CacheKey returns the key the result is cached under.
func (op *Operation) CacheKey() string {
	return op.key
}

func (op *Operation) Options() Options {
	return op.options
}

func (op *Operation) State() State {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.state
}

// Progress 返回已接收字节数与预期总字节数（未知时为 -1）。
func (op *Operation) Progress() (received, expected int64) {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.received, op.expected
}

// Result 在终态之后返回结果与错误。
func (op *Operation) Result() (*imaging.Image, Provenance, error) {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.result, op.from, op.err
}

// Done 在终态回调返回后关闭。
func (op *Operation) Done() <-chan struct{} {
	return op.done
}

// Wait 阻塞直到终态或 ctx 结束。
func (op *Operation) Wait(ctx context.Context) error {
	select {
	case <-op.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Start 在调用方 goroutine 上执行整个流程；非 Ready 状态下调用是空操作。
func (op *Operation) Start() {
	op.mu.Lock()
	if op.state != StateReady {
		op.mu.Unlock()
		return
	}
	op.state = StateExecuting
	op.started = time.Now()
	op.mu.Unlock()

	op.run()
}

// Cancel 请求取消。Ready 状态下立即交付取消回调；Executing 状态下设置标志并中断网络读取，
// 取消回调由执行 goroutine 在下一个检查点交付。已进入缓存写入或终态时无效果。
func (op *Operation) Cancel() {
	op.mu.Lock()
	switch {
	case op.state == StateReady:
		// 终态在同一临界区内写入，随后的 Start 会看到非 Ready 状态直接返回。
		op.cancelRequested = true
		op.settleLocked(nil, ProvenanceNone, StageCancelled, ErrCancelled)
		elapsed := time.Since(op.started)
		op.mu.Unlock()
		op.deliver(nil, ProvenanceNone, StageCancelled, ErrCancelled, elapsed)
		return
	case op.state != StateExecuting || op.committed || op.cancelRequested:
		op.mu.Unlock()
		return
	}
	op.cancelRequested = true
	op.mu.Unlock()
	op.cancel()
}

func (op *Operation) isCancelled() bool {
	op.mu.Lock()
	defer op.mu.Unlock()
	return op.cancelRequested
}

func (op *Operation) run() {
	m := op.manager

	if m.denylist.Contains(op.url.String()) {
		op.finish(nil, ProvenanceNone, StageFinished, ErrDenylisted)
		return
	}

	if op.shouldQueryCache() {
		if img, from, ok := m.lookup(op.key, op.options); ok {
			op.finish(img, from, StageFinished, nil)
			return
		}
	}
	if op.isCancelled() {
		op.finishCancelled()
		return
	}

	data, err := op.download()
	if err != nil {
		if op.isCancelled() {
			op.finishCancelled()
			return
		}
		op.fail(err)
		return
	}
	if op.isCancelled() {
		op.finishCancelled()
		return
	}

	img, err := op.process(data)
	if err != nil {
		op.fail(err)
		return
	}

	op.mu.Lock()
	if op.cancelRequested {
		op.mu.Unlock()
		op.finishCancelled()
		return
	}
	op.committed = true
	op.mu.Unlock()

	if !op.options.Has(OptionUseURLCache) {
		m.store(op.key, img, op.options)
	}
	op.finish(img, ProvenanceRemote, StageFinished, nil)
}

func (op *Operation) shouldQueryCache() bool {
	return op.manager.cache != nil &&
		!op.options.Has(OptionRefresh) &&
		!op.options.Has(OptionUseURLCache)
}

// download 执行网络阶段：超时只作用于这一阶段。
func (op *Operation) download() ([]byte, error) {
	m := op.manager
	ctx, cancel := context.WithTimeout(op.ctx, m.timeout)
	defer cancel()

	target := op.url.String()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, &NetworkError{URL: target, Err: err}
	}
	CopyHeaders(req.Header, m.HeadersFor(op.url))
	if auth := buildCredentialHeader(m.opts.Username, m.opts.Password); auth != "" && req.Header.Get("Authorization") == "" {
		req.Header.Set("Authorization", auth)
	}

	if op.options.Has(OptionShowNetworkActivity) {
		m.metrics.ActivityStarted()
		defer m.metrics.ActivityStopped()
	}

	resp, err := m.clients.clientFor(op.options).Do(req)
	if err != nil {
		return nil, &NetworkError{URL: target, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, io.LimitReader(resp.Body, readChunkSize))
		return nil, &NetworkError{URL: target, StatusCode: resp.StatusCode, Err: fmt.Errorf("status %d", resp.StatusCode)}
	}

	expected := resp.ContentLength
	if expected < 0 {
		expected = -1
	}
	op.setProgress(0, expected)

	var buf bytes.Buffer
	if expected > 0 {
		buf.Grow(int(min(expected, maxPreallocate)))
	}
	chunk := make([]byte, readChunkSize)
	var received int64
	for {
		if op.isCancelled() {
			return nil, ErrCancelled
		}
		n, readErr := resp.Body.Read(chunk)
		if n > 0 {
			buf.Write(chunk[:n])
			received += int64(n)
			op.setProgress(received, expected)
			if op.progress != nil {
				op.progress(received, expected, op.url)
			}
			if op.options.Has(OptionProgressive) && readErr == nil {
				op.partials.Do(func() { op.deliverPartial(buf.Bytes()) })
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			if op.isCancelled() {
				return nil, ErrCancelled
			}
			return nil, &NetworkError{URL: target, Err: readErr}
		}
	}
	m.metrics.Bytes(received)

	if buf.Len() == 0 {
		return nil, &NetworkError{URL: target, StatusCode: 0, Err: errEmptyBody}
	}
	return buf.Bytes(), nil
}

// deliverPartial 以 StageProgress 交付当前已接收的数据，不解码。
func (op *Operation) deliverPartial(data []byte) {
	if op.completion == nil || op.isCancelled() {
		return
	}
	partial := &imaging.Image{Data: append([]byte(nil), data...), Partial: true}
	op.completion(partial, op.url, ProvenanceRemote, StageProgress, nil)
}

// process 执行解码与转换，panic 与 nil 结果都转换为 TransformError。
func (op *Operation) process(data []byte) (img *imaging.Image, err error) {
	target := op.url.String()
	img, err = op.manager.decode(data, op.options)
	if err != nil {
		return nil, &TransformError{URL: target, Stage: "decode", Err: err}
	}
	if img == nil {
		return nil, &TransformError{URL: target, Stage: "decode", Err: ErrNilImage}
	}

	fn := op.transform
	if fn == nil {
		fn = op.manager.opts.Transform
	}
	if fn == nil {
		return img, nil
	}

	defer func() {
		if r := recover(); r != nil {
			img = nil
			err = &TransformError{URL: target, Stage: "transform", Err: fmt.Errorf("panic: %v", r)}
		}
	}()
	out, err := fn(img, op.url)
	if err != nil {
		return nil, &TransformError{URL: target, Stage: "transform", Err: err}
	}
	if out == nil {
		return nil, &TransformError{URL: target, Stage: "transform", Err: ErrNilImage}
	}
	return out, nil
}

func (op *Operation) setProgress(received, expected int64) {
	op.mu.Lock()
	op.received = received
	op.expected = expected
	op.mu.Unlock()
}

func (op *Operation) fail(err error) {
	if op.options.Has(OptionIgnoreFailedURL) && !errors.Is(err, ErrDenylisted) && op.url != nil {
		op.manager.denylist.Add(op.url.String())
	}
	op.finish(nil, ProvenanceNone, StageFinished, err)
}

func (op *Operation) finishCancelled() {
	op.finish(nil, ProvenanceNone, StageCancelled, ErrCancelled)
}

// finish 迁移到终态并交付唯一一次终态回调。
func (op *Operation) finish(img *imaging.Image, from Provenance, stage Stage, err error) {
	op.mu.Lock()
	if !op.settleLocked(img, from, stage, err) {
		op.mu.Unlock()
		return
	}
	elapsed := time.Since(op.started)
	op.mu.Unlock()
	op.deliver(img, from, stage, err, elapsed)
}

// settleLocked 在持有 op.mu 时写入终态；已处于终态时返回 false。
func (op *Operation) settleLocked(img *imaging.Image, from Provenance, stage Stage, err error) bool {
	if op.state == StateFinished || op.state == StateCancelled {
		return false
	}
	if stage == StageCancelled {
		op.state = StateCancelled
	} else {
		op.state = StateFinished
	}
	op.result = img
	op.from = from
	op.err = err
	return true
}

func (op *Operation) deliver(img *imaging.Image, from Provenance, stage Stage, err error, elapsed time.Duration) {
	op.cancel()
	if m := op.manager; m != nil {
		m.untrack(op)
		m.metrics.Finished(from.String(), resultLabel(stage, err), elapsed)
		m.logFinished(op, from, stage, err, elapsed)
	}
	if op.completion != nil {
		op.completion(img, op.url, from, stage, err)
	}
	close(op.done)
}

func resultLabel(stage Stage, err error) string {
	switch {
	case stage == StageCancelled:
		return "cancelled"
	case err != nil:
		return "error"
	default:
		return "ok"
	}
}

func (m *Manager) logFinished(op *Operation, from Provenance, stage Stage, err error, elapsed time.Duration) {
	fields := logrus.Fields{
		"action":     "fetch",
		"cache_key":  op.key,
		"provenance": from.String(),
		"stage":      stage.String(),
		"options":    op.options.String(),
		"elapsed_ms": elapsed.Milliseconds(),
	}
	if op.url != nil {
		fields["url"] = op.url.String()
	}
	switch {
	case stage == StageCancelled:
		m.logger.WithFields(fields).Debug("fetch_cancelled")
	case err != nil:
		m.logger.WithFields(fields).WithError(err).Warn("fetch_failed")
	default:
		m.logger.WithFields(fields).Debug("fetch_complete")
	}
}
