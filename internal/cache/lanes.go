package cache

import (
	"hash/fnv"
	"sync"
)

// DefaultLanes 是异步 API 使用的 FIFO 工作通道数量。
const DefaultLanes = 4

// lanes 把异步操作按 key 的 FNV 哈希分配到固定的 goroutine 上，
// 同一 key 的操作因此按提交顺序执行。
//
// 队列不设上限，submit 不会阻塞，回调里可以再次调用异步 API。
// close 会等待所有通道排空，不能在通道回调内调用。
type lanes struct {
	queues []*lane

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

type lane struct {
	mu      sync.Mutex
	pending []func()
	closed  bool
	wake    chan struct{}
}

func newLanes(n int) *lanes {
	if n <= 0 {
		n = DefaultLanes
	}
	l := &lanes{queues: make([]*lane, n)}
	for i := range l.queues {
		q := &lane{wake: make(chan struct{}, 1)}
		l.queues[i] = q
		l.wg.Add(1)
		go func() {
			defer l.wg.Done()
			q.run()
		}()
	}
	return l
}

func (q *lane) push(fn func()) {
	q.mu.Lock()
	q.pending = append(q.pending, fn)
	q.mu.Unlock()
	q.signal()
}

func (q *lane) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *lane) run() {
	for {
		q.mu.Lock()
		batch := q.pending
		q.pending = nil
		closed := q.closed
		q.mu.Unlock()

		if len(batch) == 0 {
			if closed {
				return
			}
			<-q.wake
			continue
		}
		for _, fn := range batch {
			fn()
		}
	}
}

// submit 把 fn 排到 key 对应的通道；关闭后返回 false，fn 不会执行。
func (l *lanes) submit(key string, fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}
	l.queues[l.index(key)].push(fn)
	return true
}

// barrier 在所有通道已排队的任务之后执行 fn（在最后一个到达的通道上），
// 期间各通道不会处理 barrier 之后提交的任务。
func (l *lanes) barrier(fn func()) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return false
	}

	var arrived sync.WaitGroup
	arrived.Add(len(l.queues))
	release := make(chan struct{})
	for i, q := range l.queues {
		last := i == len(l.queues)-1
		q.push(func() {
			arrived.Done()
			if last {
				arrived.Wait()
				fn()
				close(release)
				return
			}
			<-release
		})
	}
	return true
}

func (l *lanes) index(key string) int {
	h := fnv.New32a()
	h.Write([]byte(key))
	return int(h.Sum32() % uint32(len(l.queues)))
}

// close 停止接收新任务，并等待已排队任务执行完毕。
func (l *lanes) close() {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return
	}
	l.closed = true
	for _, q := range l.queues {
		q.mu.Lock()
		q.closed = true
		q.mu.Unlock()
		q.signal()
	}
	l.mu.Unlock()
	l.wg.Wait()
}
