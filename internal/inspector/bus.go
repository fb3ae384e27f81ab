// bus.go — 变更信号总线: 合并式通知, 慢订阅者丢信号不丢连接。
package inspector

import "sync"

type changeBus struct {
	mu          sync.RWMutex
	subscribers map[string]chan struct{}
}

func newChangeBus() *changeBus {
	return &changeBus{subscribers: map[string]chan struct{}{}}
}

// publish 向所有订阅者投递一个变更信号。channel 已有待取信号时跳过 —
// 订阅者醒来后总是读最新视图, 信号无需计数。
func (b *changeBus) publish() {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- struct{}{}:
		default:
		}
	}
}

func (b *changeBus) subscribe(id string) chan struct{} {
	b.mu.Lock()
	defer b.mu.Unlock()
	ch := make(chan struct{}, 1)
	b.subscribers[id] = ch
	return ch
}

// unsubscribe 不关闭 channel — handler 经 ctx.Done() 退出, 由 GC 回收。
func (b *changeBus) unsubscribe(id string) {
	b.mu.Lock()
	delete(b.subscribers, id)
	b.mu.Unlock()
}
