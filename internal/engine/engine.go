// Package engine 实现转写调和引擎 (transcript reconciliation engine)。
//
// 它把一条可能重复、可能乱序的异步事件流与周期性权威快照, 合并成
// 单一、稳定、有序、去重的 run 视图。全部可变状态集中在 Engine 内,
// 由互斥锁串行化; 事件、快照、用户动作、排期 flush 四类入口都经同一
// 个漏斗写入, 其它组件只读。
//
// 所有异步续体 (快照拉取返回、动作响应返回) 在改共享状态之前必须
// 重新确认 "这还是我认识的那个 run/epoch" — 活跃 run 可能在等待期间
// 被切换。
package engine

import (
	"context"
	"sort"
	"sync"

	"github.com/multi-agent/runview/internal/protocol"
	"github.com/multi-agent/runview/internal/view"
	apperrors "github.com/multi-agent/runview/pkg/errors"
	"github.com/multi-agent/runview/pkg/logger"
)

// Engine 单个工作区的调和引擎。
type Engine struct {
	workspaceID string
	fetcher     Fetcher
	actions     Actions
	sched       Scheduler

	mu sync.RWMutex // 保护下面所有字段

	// epoch 每次 run 切换/重置递增。异步续体据此识别自己是否已过期。
	epoch uint64

	state     *runState
	traceSeen map[string]struct{}
	rows      []view.Row
	slots     map[slotKey]string
	ignored   map[string]struct{}
	batch     batchState

	sendInFlight bool
	actionError  string
	notFound     bool

	onChange func()
}

// New 创建引擎。sched 为 nil 时使用默认 16ms 定时器调度。
func New(workspaceID string, fetcher Fetcher, actions Actions, sched Scheduler) *Engine {
	if sched == nil {
		sched = NewTimerScheduler(0)
	}
	return &Engine{
		workspaceID: workspaceID,
		fetcher:     fetcher,
		actions:     actions,
		sched:       sched,
		traceSeen:   map[string]struct{}{},
		slots:       map[slotKey]string{},
		ignored:     map[string]struct{}{},
	}
}

// SetOnChange 注册状态变更回调 (展示层刷新信号)。回调在锁外执行。
func (e *Engine) SetOnChange(fn func()) {
	e.mu.Lock()
	e.onChange = fn
	e.mu.Unlock()
}

func (e *Engine) notifyChanged() {
	e.mu.RLock()
	fn := e.onChange
	e.mu.RUnlock()
	if fn != nil {
		fn()
	}
}

func (e *Engine) activeRunIDLocked() string {
	if e.state == nil {
		return ""
	}
	return e.state.run.ID
}

// ========================================
// 事件漏斗
// ========================================

// HandleEnvelope 实时流事件入口。调用方 (stream.Consumer) 已在投递前
// 推进 offset cursor, 这里的处理结果不影响续传位置。
func (e *Engine) HandleEnvelope(env protocol.Envelope) {
	ev := env.Event

	e.mu.Lock()
	runID, ok := ResolveTarget(e.activeRunIDLocked(), e.ignored, ev.RunID)
	if !ok {
		e.mu.Unlock()
		return
	}

	changed := false
	switch ev.Kind {
	case protocol.StreamRunStatus:
		if ev.Snapshot != nil {
			e.mergeSnapshotLocked(ev.Snapshot, false)
			changed = true
		}
	case protocol.StreamTraceDelta:
		if ev.Trace != nil {
			e.enqueueTraceLocked(runID, *ev.Trace)
		}
	case protocol.StreamChunk:
		changed = e.applyChunkLocked(runID, ev.Turn, ev.Role, ev.Delta)
	case protocol.StreamEnd:
		changed = e.endSlotLocked(runID, ev.Turn, ev.Role)
	}
	e.mu.Unlock()

	if changed {
		e.notifyChanged()
	}
}

// ========================================
// 快照拉取
// ========================================

// LoadCurrent 拉取工作区当前 run 并接管。
func (e *Engine) LoadCurrent(ctx context.Context) error {
	e.mu.RLock()
	epoch := e.epoch
	e.mu.RUnlock()
	return e.fetchAndMerge(ctx, epoch, "")
}

// LoadRun 切换到指定 run (时间回溯查看历史 run)。
func (e *Engine) LoadRun(ctx context.Context, runID string) error {
	epoch := e.beginRunSwitchLocked()
	return e.fetchAndMerge(ctx, epoch, runID)
}

// Refresh 显式刷新当前 run 的权威快照。
func (e *Engine) Refresh(ctx context.Context) error {
	e.mu.RLock()
	epoch := e.epoch
	e.mu.RUnlock()
	return e.fetchAndMerge(ctx, epoch, "")
}

// beginRunSwitchLocked 开始一次 run 切换:
// 取消在途 flush 并丢弃旧队列、清空全部槽位、重置忽略标记与动作状态,
// 旧 run 状态立即作废 (不等新快照落地)。
func (e *Engine) beginRunSwitchLocked() uint64 {
	e.mu.Lock()
	e.epoch++
	epoch := e.epoch
	e.cancelBatchLocked()
	e.clearAllSlotsLocked()
	e.ignored = map[string]struct{}{}
	e.state = nil
	e.traceSeen = map[string]struct{}{}
	e.rows = nil
	e.sendInFlight = false
	e.actionError = ""
	e.notFound = false
	e.mu.Unlock()
	e.notifyChanged()
	return epoch
}

// fetchAndMerge 拉取快照并在 epoch 未变的前提下合并。
func (e *Engine) fetchAndMerge(ctx context.Context, epoch uint64, runID string) error {
	snap, err := e.fetcher.FetchRun(ctx, e.workspaceID, runID)

	e.mu.Lock()
	if e.epoch != epoch {
		e.mu.Unlock()
		return nil // run 已切换, 结果作废
	}
	if err != nil {
		if apperrors.Is(err, apperrors.ErrNotFound) {
			e.notFound = true
		} else {
			e.actionError = err.Error()
		}
		e.mu.Unlock()
		e.notifyChanged()
		return err
	}
	e.mergeSnapshotLocked(snap, false)
	e.mu.Unlock()
	e.notifyChanged()
	return nil
}

// ========================================
// 用户动作
// ========================================

// Send 发送一条用户消息。响应携带的快照走标准合并。
func (e *Engine) Send(ctx context.Context, text string) error {
	e.mu.Lock()
	epoch := e.epoch
	e.sendInFlight = true
	e.actionError = ""
	e.mu.Unlock()
	e.notifyChanged()

	snap, err := e.actions.SendMessage(ctx, e.workspaceID, text)

	e.mu.Lock()
	e.sendInFlight = false
	if e.epoch != epoch {
		e.mu.Unlock()
		e.notifyChanged()
		return nil
	}
	if err != nil {
		e.actionError = err.Error()
		e.mu.Unlock()
		e.notifyChanged()
		return err
	}
	e.mergeSnapshotLocked(snap, false)
	e.mu.Unlock()
	e.notifyChanged()
	return nil
}

// Stop 请求停止当前 run。停止本身就是与在途流事件的竞赛:
//
//	a. 立即把 run id 标记忽略 — 已在途的 status/stream 事件
//	   在 stop 请求之后到达时被丢弃, 不得复活 "running" 状态;
//	b. 乐观地把本地 run 置为 canceled, 列表原样保留;
//	c. 发出停止请求; 响应匹配该 run 时合并, 但状态强制 canceled,
//	   且本地更长的数组保留 (响应可能基于更早的快照);
//	d. 响应报告 "没有 run 在跑" 或指向别的 run → 乐观取消是错的,
//	   解除忽略并重新拉取权威快照。
func (e *Engine) Stop(ctx context.Context) error {
	e.mu.Lock()
	if e.state == nil {
		e.mu.Unlock()
		return nil
	}
	runID := e.state.run.ID
	epoch := e.epoch
	e.ignored[runID] = struct{}{}
	e.state.run.Status = protocol.StatusCanceled
	e.clearRunSlotsLocked(runID)
	e.mu.Unlock()
	e.notifyChanged()

	result, err := e.actions.StopRun(ctx, e.workspaceID, runID)

	e.mu.Lock()
	if e.epoch != epoch || e.state == nil || e.state.run.ID != runID {
		e.mu.Unlock()
		return nil
	}
	if err != nil {
		e.actionError = err.Error()
		e.mu.Unlock()
		e.notifyChanged()
		return err
	}

	if !result.Stopped || (result.RunID != "" && result.RunID != runID) {
		logger.Info("engine: stop response mismatched, refetching",
			logger.FieldRunID, runID, "responseRunId", result.RunID)
		delete(e.ignored, runID)
		e.mu.Unlock()
		e.notifyChanged()
		return e.fetchAndMerge(ctx, epoch, "")
	}

	if result.Run != nil {
		e.mergeSnapshotLocked(result.Run, true)
	}
	e.mu.Unlock()
	e.notifyChanged()
	return nil
}

// Reset 重置工作区, 开启新 run。
func (e *Engine) Reset(ctx context.Context) error {
	epoch := e.beginRunSwitchLocked()

	snap, err := e.actions.NewRun(ctx, e.workspaceID)

	e.mu.Lock()
	if e.epoch != epoch {
		e.mu.Unlock()
		return nil
	}
	if err != nil {
		e.actionError = err.Error()
		e.mu.Unlock()
		e.notifyChanged()
		return err
	}
	e.mergeSnapshotLocked(snap, false)
	e.mu.Unlock()
	e.notifyChanged()
	return nil
}

// ========================================
// 只读视图
// ========================================

// View 返回展示层消费的只读状态快照。
func (e *Engine) View() View {
	e.mu.RLock()
	defer e.mu.RUnlock()

	v := View{
		Rows:         e.rows,
		SendInFlight: e.sendInFlight,
		RunNotFound:  e.notFound,
		ActionError:  e.actionError,
	}

	status := protocol.StatusIdle
	if e.state != nil {
		run := e.state.run
		v.Run = &run
		status = run.Status
		for k, text := range e.slots {
			if k.runID != run.ID || text == "" {
				continue
			}
			v.Streams = append(v.Streams, StreamText{
				RunID: k.runID, Turn: k.turn, Role: k.role, Text: text,
			})
		}
		sortStreams(v.Streams)
	}

	v.Activity = view.ClassifyActivity(status, e.sendInFlight, e.streamingLocked(), len(e.rows) > 0)
	return v
}

// ActiveRunID 当前活跃 run id, 无则返回空串。
func (e *Engine) ActiveRunID() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.activeRunIDLocked()
}

func sortStreams(streams []StreamText) {
	sort.Slice(streams, func(i, j int) bool {
		if streams[i].Turn != streams[j].Turn {
			return streams[i].Turn < streams[j].Turn
		}
		return streams[i].Role < streams[j].Role
	})
}
