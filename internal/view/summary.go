// summary.go — 工具调用汇总: 按 action-call id 聚合 trace 事件。
package view

import (
	"encoding/json"
	"strings"

	"github.com/multi-agent/runview/internal/protocol"
	"github.com/multi-agent/runview/pkg/util"
)

// RecoveryToolName 错误恢复工具名 — 它的结果会作为 "已处理错误"
// 注解回填到父调用的汇总上。
const RecoveryToolName = "recover_error"

// ToolStatus 工具调用状态机: pending → running → completed | error。
// 只向前推进, 从不回退。
type ToolStatus string

const (
	ToolPending   ToolStatus = "pending"
	ToolRunning   ToolStatus = "running"
	ToolCompleted ToolStatus = "completed"
	ToolError     ToolStatus = "error"
)

func (s ToolStatus) rank() int {
	switch s {
	case ToolPending:
		return 0
	case ToolRunning:
		return 1
	case ToolCompleted, ToolError:
		return 2
	default:
		return -1
	}
}

// ToolCallSummary 按 action-call id 派生的工具调用汇总。
type ToolCallSummary struct {
	CallID       string          `json:"callId"`
	ParentCallID string          `json:"parentCallId,omitempty"`
	Name         string          `json:"name"`
	Status       ToolStatus      `json:"status"`
	Args         json.RawMessage `json:"args,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	Error        string          `json:"error,omitempty"`
	HandledError string          `json:"handledError,omitempty"`
	Depth        int             `json:"depth"`
}

// advance 推进状态机。逆向或同级转移是 no-op (重放的旧事件不得回拨状态)。
func (s *ToolCallSummary) advance(next ToolStatus) {
	if next.rank() > s.Status.rank() {
		s.Status = next
	}
}

// Resolved reports whether the summary carries a usable tool name.
func (s *ToolCallSummary) Resolved() bool {
	return s != nil && strings.TrimSpace(s.Name) != ""
}

// DeriveSummaries 从原始 trace 日志聚合工具调用汇总。
//
// 纯函数: 同一份 trace 输入永远产出相同结果。关联失败的事件
// (无 callId) 被静默忽略。
func DeriveSummaries(traces []protocol.TraceEvent) map[string]*ToolCallSummary {
	summaries := map[string]*ToolCallSummary{}

	ensure := func(ev protocol.TraceEvent) *ToolCallSummary {
		s, ok := summaries[ev.CallID]
		if !ok {
			s = &ToolCallSummary{CallID: ev.CallID, Status: ToolPending}
			summaries[ev.CallID] = s
		}
		if s.ParentCallID == "" {
			s.ParentCallID = ev.ParentCallID
		}
		if s.Name == "" {
			s.Name = strings.TrimSpace(ev.Tool)
		}
		return s
	}

	for _, ev := range traces {
		if !ev.Kind.IsTool() || ev.CallID == "" {
			continue
		}
		s := ensure(ev)
		switch ev.Kind {
		case protocol.TraceActionStart:
			s.advance(ToolPending)
		case protocol.TraceToolCall:
			if len(ev.Args) > 0 {
				s.Args = ev.Args
			}
			s.advance(ToolRunning)
		case protocol.TraceToolResult:
			if len(ev.Result) > 0 {
				s.Result = ev.Result
			}
			s.advance(ToolCompleted)
		case protocol.TraceToolError:
			if s.Error == "" {
				s.Error = util.CompactOneLine(ev.Text, 200)
			}
			s.advance(ToolError)
		}
	}

	for id := range summaries {
		summaries[id].Depth = nestingDepth(summaries, id)
	}
	annotateHandledErrors(summaries)
	return summaries
}

// nestingDepth 沿 parent 链计算嵌套深度。断链或成环按已走深度截断。
func nestingDepth(summaries map[string]*ToolCallSummary, callID string) int {
	depth := 0
	seen := map[string]struct{}{}
	current := summaries[callID]
	for current != nil && current.ParentCallID != "" {
		if _, ok := seen[current.CallID]; ok {
			break
		}
		seen[current.CallID] = struct{}{}
		parent, ok := summaries[current.ParentCallID]
		if !ok {
			break
		}
		depth++
		current = parent
	}
	return depth
}

// annotateHandledErrors 把恢复工具的结果作为 "已处理错误" 注解
// 回填到其父调用。
func annotateHandledErrors(summaries map[string]*ToolCallSummary) {
	for _, s := range summaries {
		if s.Name != RecoveryToolName || s.Status != ToolCompleted || s.ParentCallID == "" {
			continue
		}
		parent, ok := summaries[s.ParentCallID]
		if !ok {
			continue
		}
		parent.HandledError = recoveryMessage(s.Result)
	}
}

func recoveryMessage(result json.RawMessage) string {
	if len(result) == 0 {
		return "handled"
	}
	var body struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(result, &body) == nil && strings.TrimSpace(body.Message) != "" {
		return util.CompactOneLine(body.Message, 200)
	}
	var plain string
	if json.Unmarshal(result, &plain) == nil && strings.TrimSpace(plain) != "" {
		return util.CompactOneLine(plain, 200)
	}
	return "handled"
}
