// rows.go — 显示行派生: 原始 message/trace/toolInsert → 有序 Display Row。
//
// 这里的一切都是纯函数: 输出只依赖入参, 不读任何共享状态。
// 合并引擎每次状态变更后整体重建行序列, 从不增量修补派生态。
package view

import (
	"fmt"
	"strings"

	"github.com/multi-agent/runview/internal/protocol"
)

// RowKind 显示行类型。
type RowKind string

const (
	RowMessage  RowKind = "message"
	RowActivity RowKind = "activity"
)

// ItemKind 活动桶内条目类型。
type ItemKind string

const (
	ItemReasoning ItemKind = "reasoning"
	ItemTool      ItemKind = "tool"
)

// Row 外部可消费的显示单元: 单条消息, 或一个活动桶。
//
// Key 在重复派生之间保持稳定 (由位置 + 关联 id 构成, 不依赖数组下标),
// 展示层按 Key 记忆折叠/展开状态。
type Row struct {
	Key  string  `json:"key"`
	Kind RowKind `json:"kind"`

	// Kind == RowMessage
	Role string `json:"role,omitempty"`
	Text string `json:"text,omitempty"`

	// Kind == RowActivity
	Bucket *ActivityBucket `json:"bucket,omitempty"`
}

// ActivityBucket 两条消息之间连续的非消息条目折叠成的活动块。
type ActivityBucket struct {
	Items []ActivityItem `json:"items"`

	ReasoningCount int `json:"reasoningCount"`
	ToolCount      int `json:"toolCount"`

	// LatestReasoning 桶内最后一条非空白 reasoning 文本。
	LatestReasoning string `json:"latestReasoning,omitempty"`
	// LastToolLabel 桶内最近一个有名字的工具调用。
	LastToolLabel string `json:"lastToolLabel,omitempty"`
	// CurrentToolLabel "现在正在干什么"。最后一次工具调用之后
	// 出现 reasoning 则清空; 之后再有工具调用才重新填充。
	CurrentToolLabel string `json:"currentToolLabel,omitempty"`
}

// ActivityItem 桶内一个条目, 保留原始事件供展开详情。
type ActivityItem struct {
	Key  string   `json:"key"`
	Kind ItemKind `json:"kind"`

	// Kind == ItemReasoning
	Turn   int                  `json:"turn,omitempty"`
	Text   string               `json:"text,omitempty"`
	Source *protocol.TraceEvent `json:"source,omitempty"`

	// Kind == ItemTool
	Tool *ToolCallSummary `json:"tool,omitempty"`
}

// walkEntry 派生中间态: 归到某个消息边界的非消息条目。
type walkEntry struct {
	boundary int
	item     ActivityItem
}

// DeriveRows 单趟遍历, 把合并后的原始状态折叠为显示行序列。
//
// 非消息条目按它的插入索引归到消息边界 b (语义: 发生在第 b 条消息
// 之前), 并保持 trace 到达顺序; 工具条目按 callId 去重, 无法解析出
// 工具名的条目从桶成员和计数里一并静默丢弃。
func DeriveRows(messages []protocol.Message, traces []protocol.TraceEvent, inserts []protocol.ToolInsert) []Row {
	summaries := DeriveSummaries(traces)

	anchor := map[string]int{}
	for _, ins := range inserts {
		anchor[ins.CallID] = ins.InsertIndex
	}

	entries := collectEntries(messages, traces, summaries, anchor)

	rows := make([]Row, 0, len(messages)+4)
	for boundary := 0; boundary <= len(messages); boundary++ {
		var items []ActivityItem
		for _, e := range entries {
			if e.boundary == boundary {
				items = append(items, e.item)
			}
		}
		if len(items) > 0 {
			rows = append(rows, bucketRow(boundary, items))
		}
		if boundary < len(messages) {
			msg := messages[boundary]
			rows = append(rows, Row{
				Key:  fmt.Sprintf("msg-%d-%s", boundary, msg.Role),
				Kind: RowMessage,
				Role: msg.Role,
				Text: msg.Text,
			})
		}
	}
	return rows
}

func collectEntries(messages []protocol.Message, traces []protocol.TraceEvent, summaries map[string]*ToolCallSummary, anchor map[string]int) []walkEntry {
	var entries []walkEntry
	seenTool := map[string]struct{}{}
	reasoningSeq := map[int]int{}

	for i := range traces {
		ev := &traces[i]
		switch {
		case ev.Kind.IsMessage():
			// 消息类 trace 以规范消息列表为准, 不在这里成行

		case ev.Kind == protocol.TraceModelStreamDelta:
			boundary := clampBoundary(ev.InsertIndex, len(messages))
			seq := reasoningSeq[boundary]
			reasoningSeq[boundary] = seq + 1
			entries = append(entries, walkEntry{
				boundary: boundary,
				item: ActivityItem{
					Key:    fmt.Sprintf("r-%d-%d-%d", boundary, ev.Turn, seq),
					Kind:   ItemReasoning,
					Turn:   ev.Turn,
					Text:   ev.Text,
					Source: ev,
				},
			})

		case ev.Kind == protocol.TraceToolCall || ev.Kind == protocol.TraceActionStart:
			if ev.CallID == "" {
				continue
			}
			if _, dup := seenTool[ev.CallID]; dup {
				continue
			}
			seenTool[ev.CallID] = struct{}{}
			s := summaries[ev.CallID]
			if !s.Resolved() {
				continue
			}
			idx := ev.InsertIndex
			if at, ok := anchor[ev.CallID]; ok {
				idx = at
			}
			entries = append(entries, walkEntry{
				boundary: clampBoundary(idx, len(messages)),
				item: ActivityItem{
					Key:  "t-" + ev.CallID,
					Kind: ItemTool,
					Tool: s,
				},
			})
		}
	}
	return entries
}

// clampBoundary 把插入索引收敛到 [0, messageCount]; -1 表示当前尾部。
func clampBoundary(idx, messageCount int) int {
	if idx < 0 || idx > messageCount {
		return messageCount
	}
	return idx
}

func bucketRow(boundary int, items []ActivityItem) Row {
	bucket := &ActivityBucket{Items: items}
	for _, it := range items {
		switch it.Kind {
		case ItemReasoning:
			bucket.ReasoningCount++
			if strings.TrimSpace(it.Text) != "" {
				bucket.LatestReasoning = it.Text
			}
			bucket.CurrentToolLabel = ""
		case ItemTool:
			bucket.ToolCount++
			bucket.LastToolLabel = it.Tool.Name
			bucket.CurrentToolLabel = it.Tool.Name
		}
	}
	return Row{
		Key:    fmt.Sprintf("act-%d-%s", boundary, items[0].Key),
		Kind:   RowActivity,
		Bucket: bucket,
	}
}

// ========================================
// Reasoning 按轮次聚合
// ========================================

// ReasoningEntry 某个 assistant 轮次的 reasoning 片段集合。
type ReasoningEntry struct {
	Turn      int                    `json:"turn"`
	Fragments []*protocol.TraceEvent `json:"fragments"`
}

// Text 拼接该轮次的全部片段文本。
func (r *ReasoningEntry) Text() string {
	var b strings.Builder
	for _, f := range r.Fragments {
		b.WriteString(f.Text)
	}
	return b.String()
}

// GroupReasoningByTurn 把 reasoning trace 按轮次聚合, 供详情面板展示。
func GroupReasoningByTurn(traces []protocol.TraceEvent) map[int]*ReasoningEntry {
	byTurn := map[int]*ReasoningEntry{}
	for i := range traces {
		ev := &traces[i]
		if ev.Kind != protocol.TraceModelStreamDelta {
			continue
		}
		entry, ok := byTurn[ev.Turn]
		if !ok {
			entry = &ReasoningEntry{Turn: ev.Turn}
			byTurn[ev.Turn] = entry
		}
		entry.Fragments = append(entry.Fragments, ev)
	}
	return byTurn
}
