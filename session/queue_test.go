package session

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQueueRunsOneAtATime(t *testing.T) {
	q := NewQueue()
	defer q.Close()

	var running, maxRunning int32
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := q.Sync(func() {
				n := atomic.AddInt32(&running, 1)
				for {
					m := atomic.LoadInt32(&maxRunning)
					if n <= m || atomic.CompareAndSwapInt32(&maxRunning, m, n) {
						break
					}
				}
				time.Sleep(100 * time.Microsecond)
				atomic.AddInt32(&running, -1)
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), atomic.LoadInt32(&maxRunning))
}

func TestQueueServesWaitersInOrder(t *testing.T) {
	q := NewQueue()
	defer q.Close()

	gate := make(chan struct{})
	started := make(chan struct{})
	go func() {
		_ = q.Sync(func() {
			close(started)
			<-gate
		})
	}()
	<-started

	var (
		mu    sync.Mutex
		order []int
		wg    sync.WaitGroup
	)
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_ = q.Sync(func() {
				mu.Lock()
				order = append(order, i)
				mu.Unlock()
			})
		}(i)
		// 让每个调用方依次排队
		time.Sleep(20 * time.Millisecond)
	}
	close(gate)
	wg.Wait()

	assert.Equal(t, []int{0, 1, 2, 3, 4}, order)
}

func TestQueueSyncWaitsForCompletion(t *testing.T) {
	q := NewQueue()
	defer q.Close()

	done := false
	require.NoError(t, q.Sync(func() {
		time.Sleep(10 * time.Millisecond)
		done = true
	}))
	assert.True(t, done)
}

func TestQueueClose(t *testing.T) {
	q := NewQueue()
	q.Close()
	q.Close()

	called := false
	err := q.Sync(func() { called = true })
	assert.ErrorIs(t, err, ErrClosed)
	assert.False(t, called)
}

func TestQueueCloseRejectsWaiters(t *testing.T) {
	for i := 0; i < 20; i++ {
		q := NewQueue()

		gate := make(chan struct{})
		started := make(chan struct{})
		go func() {
			_ = q.Sync(func() {
				close(started)
				<-gate
			})
		}()
		<-started

		var ran atomic.Bool
		waiter := make(chan error, 1)
		go func() {
			waiter <- q.Sync(func() { ran.Store(true) })
		}()
		// 等待者已阻塞在队列上
		time.Sleep(10 * time.Millisecond)

		closed := make(chan struct{})
		go func() {
			q.Close()
			close(closed)
		}()
		time.Sleep(10 * time.Millisecond)
		close(gate)
		<-closed

		assert.ErrorIs(t, <-waiter, ErrClosed)
		assert.False(t, ran.Load())
	}
}
