package session

import "sync"

type task struct {
	fn     func()
	result chan error
}

// Queue 把所有操作串行到唯一的工作协程上执行。
// 阻塞在 Sync 上的调用方按先进先出的顺序被服务。
// 在 fn 内部再次调用同一个 Queue 的 Sync 会死锁。
type Queue struct {
	ch        chan *task
	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewQueue 创建并启动队列
func NewQueue() *Queue {
	q := &Queue{
		ch:   make(chan *task),
		done: make(chan struct{}),
	}
	q.wg.Add(1)
	go q.run()
	return q
}

func (q *Queue) run() {
	defer q.wg.Done()
	for {
		select {
		case <-q.done:
			return
		case t := <-q.ch:
			// Close 之后接到的任务一律拒绝
			select {
			case <-q.done:
				t.result <- ErrClosed
				return
			default:
			}
			t.fn()
			t.result <- nil
		}
	}
}

// Sync 提交 fn 并等待其执行完毕；队列已关闭时返回 ErrClosed 且不执行 fn
func (q *Queue) Sync(fn func()) error {
	t := &task{fn: fn, result: make(chan error, 1)}

	select {
	case <-q.done:
		return ErrClosed
	default:
	}
	select {
	case q.ch <- t:
	case <-q.done:
		return ErrClosed
	}
	return <-t.result
}

// Close 停止工作协程。正在执行的操作会先完成，
// 其余排队中的 Sync 都返回 ErrClosed，不再执行。
func (q *Queue) Close() {
	q.closeOnce.Do(func() {
		close(q.done)
	})
	q.wg.Wait()
}
