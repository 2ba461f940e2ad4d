package session

import (
	"sync"
	"time"
)

// Transition 记录一次已执行的仲裁操作
type Transition struct {
	Op      string
	From    Role
	To      Role
	Outcome Outcome
	At      time.Time
}

// Changed 角色是否发生变化
func (t Transition) Changed() bool { return t.From != t.To }

// Observer 在仲裁工作协程上同步接收每次操作的结果。
// 实现必须快速返回，且不能回调 Arbiter。
type Observer interface {
	Observe(t Transition)
}

// ObserverFunc 适配普通函数
type ObserverFunc func(t Transition)

func (f ObserverFunc) Observe(t Transition) { f(t) }

const subBufferSize = 16

// Bus 把 Transition 非阻塞地分发给订阅者，慢订阅者会丢事件
type Bus struct {
	mu   sync.Mutex
	subs map[string]chan Transition
}

// NewBus 创建事件总线
func NewBus() *Bus {
	return &Bus{
		subs: make(map[string]chan Transition),
	}
}

// Subscribe 以 id 注册订阅，重复 id 会替换旧订阅
func (b *Bus) Subscribe(id string) <-chan Transition {
	b.mu.Lock()
	defer b.mu.Unlock()
	if old, ok := b.subs[id]; ok {
		close(old)
	}
	ch := make(chan Transition, subBufferSize)
	b.subs[id] = ch
	return ch
}

// Unsubscribe 移除订阅并关闭其通道
func (b *Bus) Unsubscribe(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if ch, ok := b.subs[id]; ok {
		delete(b.subs, id)
		close(ch)
	}
}

// Observe 实现 Observer
func (b *Bus) Observe(t Transition) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, ch := range b.subs {
		select {
		case ch <- t:
		default:
		}
	}
}

// SubscriberCount 当前订阅数
func (b *Bus) SubscriberCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
