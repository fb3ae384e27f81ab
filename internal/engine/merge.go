// merge.go — 快照合并: 正确性核心。
//
// 快照可能来自直接拉取 (首载/刷新/切 run), 也可能来自实时流上的
// run_status 事件 — 两条路径都走同一个合并函数。
package engine

import (
	"github.com/multi-agent/runview/internal/protocol"
	"github.com/multi-agent/runview/internal/view"
	"github.com/multi-agent/runview/pkg/logger"
)

// mergeSnapshotLocked 按序应用合并规则:
//
//  1. run id 不同 → 整体替换, 不合并。
//  2. 双方都在活跃推进且来方某列表更短 → 判定该列表过期
//     (快照竞态: 权威源落后于流), 保留本地更长的那份。
//     这是单调长度启发式, 不做内容 diff — 活跃 run 的数组只增不减,
//     变短即过期。
//  3. 其余情况来方字段直接覆盖 (run 不再活跃或权威源已追平)。
//  4. 合并后从原始列表整体重建显示行, 从不增量修补派生态。
//  5. 合并后 run 不再 running → 清掉该 run 的流式累积槽
//     (已结束的 run 不可能还在流式输出)。
//
// forceCanceled 供 stop 响应合并使用: 状态强制覆写为 canceled,
// 且本地更长的数组同样保留 (响应可能基于比用户所见更早的快照)。
func (e *Engine) mergeSnapshotLocked(snap *protocol.RunSnapshot, forceCanceled bool) {
	if e.state == nil || e.state.run.ID != snap.Run.ID {
		e.replaceRunLocked(snap)
	} else {
		held := e.state
		keepLonger := forceCanceled ||
			(held.run.Status.Active() && snap.Run.Status.Active())

		messages := snap.Messages
		traces := snap.Traces
		inserts := snap.ToolInserts
		if keepLonger {
			if len(messages) < len(held.messages) {
				logger.Debug("engine: stale snapshot messages, keeping held list",
					logger.FieldRunID, snap.Run.ID,
					logger.FieldCount, len(held.messages))
				messages = held.messages
			}
			if len(traces) < len(held.traces) {
				traces = held.traces
			}
			if len(inserts) < len(held.toolInserts) {
				inserts = held.toolInserts
			}
		}
		e.state = &runState{
			run:         snap.Run,
			messages:    messages,
			traces:      traces,
			toolInserts: inserts,
		}
	}

	if forceCanceled {
		e.state.run.Status = protocol.StatusCanceled
	}
	e.notFound = false

	e.rebuildTraceSeenLocked()
	e.rebuildRowsLocked()

	if e.state.run.Status.Active() {
		e.supersedeSlotsLocked()
	} else {
		e.clearRunSlotsLocked(e.state.run.ID)
	}
}

// replaceRunLocked 整体替换: 不同 run 的快照落地即视为一次 run 更替,
// 旧 run 的队列、槽位、忽略标记全部随之作废。
func (e *Engine) replaceRunLocked(snap *protocol.RunSnapshot) {
	e.cancelBatchLocked()
	if e.state != nil {
		e.clearRunSlotsLocked(e.state.run.ID)
		delete(e.ignored, e.state.run.ID)
	}
	e.state = &runState{
		run:         snap.Run,
		messages:    snap.Messages,
		traces:      snap.Traces,
		toolInserts: snap.ToolInserts,
	}
}

// rebuildRowsLocked 从合并后的原始列表重建行序列 (纯函数派生)。
func (e *Engine) rebuildRowsLocked() {
	if e.state == nil {
		e.rows = nil
		return
	}
	e.rows = view.DeriveRows(e.state.messages, e.state.traces, e.state.toolInserts)
}
