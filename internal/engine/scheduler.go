// scheduler.go — 合并刷新调度器抽象。
package engine

import (
	"sync"
	"time"
)

// Handle 一次已排期回调的取消凭据。
type Handle any

// Scheduler 通用 "合并调度" 接口: 一个 burst 只排一次回调。
// 生产用定时器实现; 测试用手动实现确定性触发。
type Scheduler interface {
	Schedule(fn func()) Handle
	Cancel(h Handle)
}

// TimerScheduler 固定短延迟的定时器调度器。
type TimerScheduler struct {
	Delay time.Duration
}

// NewTimerScheduler 创建定时器调度器, delay <= 0 时取 16ms (约一帧)。
func NewTimerScheduler(delay time.Duration) *TimerScheduler {
	if delay <= 0 {
		delay = 16 * time.Millisecond
	}
	return &TimerScheduler{Delay: delay}
}

func (s *TimerScheduler) Schedule(fn func()) Handle {
	return time.AfterFunc(s.Delay, fn)
}

func (s *TimerScheduler) Cancel(h Handle) {
	if t, ok := h.(*time.Timer); ok {
		t.Stop()
	}
}

// ManualScheduler 手动触发的调度器, 用于确定性测试与同步嵌入。
type ManualScheduler struct {
	mu      sync.Mutex
	nextID  int
	pending map[int]func()
}

func NewManualScheduler() *ManualScheduler {
	return &ManualScheduler{pending: map[int]func(){}}
}

func (s *ManualScheduler) Schedule(fn func()) Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	s.pending[s.nextID] = fn
	return s.nextID
}

func (s *ManualScheduler) Cancel(h Handle) {
	id, ok := h.(int)
	if !ok {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.pending, id)
}

// Fire 触发全部未取消的回调 (按排期顺序), 并清空队列。
func (s *ManualScheduler) Fire() {
	s.mu.Lock()
	fns := make([]func(), 0, len(s.pending))
	for i := 1; i <= s.nextID; i++ {
		if fn, ok := s.pending[i]; ok {
			fns = append(fns, fn)
			delete(s.pending, i)
		}
	}
	s.mu.Unlock()
	for _, fn := range fns {
		fn()
	}
}

// PendingCount 当前排期中的回调数。
func (s *ManualScheduler) PendingCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.pending)
}
