// slots.go — 流式累积槽位: (run, turn, role) → 追加中的文本缓冲。
//
// 状态机 absent → accumulating → absent。销毁路径有三条:
// 显式 end 事件、被规范消息取代 (supersession)、run 被重置/切换。
package engine

import "strings"

// applyChunkLocked chunk 事件: 槽位不存在则以该片段创建, 存在则追加。
func (e *Engine) applyChunkLocked(runID string, turn int, role, delta string) bool {
	if runID == "" || role == "" {
		return false
	}
	k := slotKey{runID: runID, turn: turn, role: role}
	e.slots[k] += delta
	return true
}

// endSlotLocked 显式 end 事件无条件清槽。
func (e *Engine) endSlotLocked(runID string, turn int, role string) bool {
	k := slotKey{runID: runID, turn: turn, role: role}
	if _, ok := e.slots[k]; !ok {
		return false
	}
	delete(e.slots, k)
	return true
}

// supersedeSlotsLocked 快照合并后的取代检查: 同角色规范消息的文本
// 已包含槽位累积文本时提前清槽, 避免权威消息落地后还挂着
// "仍在流式输出" 的气泡。
func (e *Engine) supersedeSlotsLocked() {
	if e.state == nil {
		return
	}
	for k, text := range e.slots {
		if k.runID != e.state.run.ID || text == "" {
			continue
		}
		for _, m := range e.state.messages {
			if m.Role == k.role && strings.Contains(m.Text, text) {
				delete(e.slots, k)
				break
			}
		}
	}
}

// clearRunSlotsLocked 清掉指定 run 的全部槽位。
func (e *Engine) clearRunSlotsLocked(runID string) {
	for k := range e.slots {
		if k.runID == runID {
			delete(e.slots, k)
		}
	}
}

func (e *Engine) clearAllSlotsLocked() {
	e.slots = map[slotKey]string{}
}

// streamingLocked 活跃 run 是否有非空流式文本在累积。
func (e *Engine) streamingLocked() bool {
	if e.state == nil {
		return false
	}
	for k, text := range e.slots {
		if k.runID == e.state.run.ID && text != "" {
			return true
		}
	}
	return false
}
