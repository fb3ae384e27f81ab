// batcher.go — trace 合并调度: 一个 burst 只触发一次派生态重建。
package engine

import (
	"fmt"
	"hash/fnv"

	"github.com/multi-agent/runview/internal/protocol"
	"github.com/multi-agent/runview/pkg/logger"
)

// enqueueTraceLocked 入队一条 trace。burst 的第一条事件排期一次 flush,
// 后续事件只追加, 不重复排期。
func (e *Engine) enqueueTraceLocked(runID string, ev protocol.TraceEvent) {
	if ev.RunID == "" {
		ev.RunID = runID
	}
	b := &e.batch
	if b.handle == nil {
		b.runID = runID
		b.epoch = e.epoch
		b.pending = b.pending[:0]
		b.handle = e.sched.Schedule(e.flushBatch)
	}
	b.pending = append(b.pending, ev)
}

// flushBatch 排期回调: 原子清空队列, 按到达顺序一次性应用, 重建一次派生态。
// 队列绑定的 run/epoch 与当前不符时整批丢弃 — 事件属于不再被查看的 run。
func (e *Engine) flushBatch() {
	e.mu.Lock()
	b := &e.batch
	drained := b.pending
	b.pending = nil
	b.handle = nil

	if b.epoch != e.epoch || e.state == nil || e.state.run.ID != b.runID {
		e.mu.Unlock()
		if len(drained) > 0 {
			logger.Debug("engine: dropped stale trace batch",
				logger.FieldRunID, b.runID, logger.FieldCount, len(drained))
		}
		return
	}
	changed := e.appendTracesLocked(drained)
	e.mu.Unlock()
	if changed {
		e.notifyChanged()
	}
}

// cancelBatchLocked 取消未触发的 flush 并丢弃队列。
func (e *Engine) cancelBatchLocked() {
	if e.batch.handle != nil {
		e.sched.Cancel(e.batch.handle)
		e.batch.handle = nil
	}
	e.batch.pending = nil
}

// appendTracesLocked 把事件追加进 trace 日志并重建显示行。
// 按内容身份去重 — 重连重放的重复信封在这里落成 no-op。
func (e *Engine) appendTracesLocked(events []protocol.TraceEvent) bool {
	changed := false
	for _, ev := range events {
		id := traceIdentity(ev)
		if _, dup := e.traceSeen[id]; dup {
			continue
		}
		e.traceSeen[id] = struct{}{}
		e.state.traces = append(e.state.traces, ev)
		changed = true
	}
	if changed {
		e.rebuildRowsLocked()
	}
	return changed
}

// traceIdentity trace 事件的内容身份键。
func traceIdentity(ev protocol.TraceEvent) string {
	h := fnv.New64a()
	h.Write([]byte(ev.Text))
	h.Write(ev.Args)
	h.Write(ev.Result)
	return fmt.Sprintf("%s|%s|%s|%d|%d|%d|%x",
		ev.Kind, ev.CallID, ev.Role, ev.Turn, ev.InsertIndex, ev.Timestamp.UnixNano(), h.Sum64())
}

// rebuildTraceSeenLocked 快照合并整体替换 trace 列表后重建身份集合。
func (e *Engine) rebuildTraceSeenLocked() {
	e.traceSeen = map[string]struct{}{}
	if e.state == nil {
		return
	}
	for _, ev := range e.state.traces {
		e.traceSeen[traceIdentity(ev)] = struct{}{}
	}
}
