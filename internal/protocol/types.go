// Package protocol 定义 agent 后端的数据模型与事件信封。
//
// 所有事件在传输边界一次性解码为带 Kind 标签的强类型结构,
// 下游组件对 Kind 穷举分支, 不再做 ad-hoc 字段探测。
package protocol

import (
	"encoding/json"
	"strings"
	"time"
)

// ========================================
// Run
// ========================================

// RunStatus run 生命周期状态。
type RunStatus string

const (
	StatusIdle      RunStatus = "idle"
	StatusRunning   RunStatus = "running"
	StatusCompleted RunStatus = "completed"
	StatusError     RunStatus = "error"
	StatusCanceled  RunStatus = "canceled"
)

// Active reports whether the run is still actively progressing.
// 活跃 run 的 message/trace/toolInsert 列表只增不减 — 快照合并的
// 单调长度守卫依赖这一事实。
func (s RunStatus) Active() bool {
	return s == StatusRunning
}

// ParseRunStatus 归一化后端状态字符串, 未知值按 idle 处理。
func ParseRunStatus(raw string) RunStatus {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "running", "active", "in_progress":
		return StatusRunning
	case "completed", "done", "success":
		return StatusCompleted
	case "error", "failed":
		return StatusError
	case "canceled", "cancelled", "stopped":
		return StatusCanceled
	default:
		return StatusIdle
	}
}

// Run 一次 agent 执行。
type Run struct {
	ID          string    `json:"id"`
	WorkspaceID string    `json:"workspaceId,omitempty"`
	Status      RunStatus `json:"status"`
	Error       string    `json:"error,omitempty"`
	CreatedAt   time.Time `json:"createdAt,omitempty"`
	UpdatedAt   time.Time `json:"updatedAt,omitempty"`
}

// Message 规范消息 (canonical message)。
type Message struct {
	Role string `json:"role"` // "user" | "assistant"
	Text string `json:"text"`
}

// ToolInsert 工具插入标记: 记录某次工具调用锚定在哪个消息边界。
type ToolInsert struct {
	CallID       string `json:"callId"`
	ParentCallID string `json:"parentCallId,omitempty"`
	Tool         string `json:"tool"`
	InsertIndex  int    `json:"insertIndex"`
}

// RunSnapshot run 的权威快照 (请求/响应获取, 或 run_status 事件携带)。
type RunSnapshot struct {
	Run         Run          `json:"run"`
	Messages    []Message    `json:"messages"`
	Traces      []TraceEvent `json:"traces"`
	ToolInserts []ToolInsert `json:"toolInserts"`
}

// ========================================
// Trace 事件
// ========================================

// TraceKind 低层 trace 事件类型。
type TraceKind string

const (
	TraceUserMessage      TraceKind = "user_message"
	TraceModelResult      TraceKind = "model_result"
	TraceModelStreamDelta TraceKind = "model_stream_delta"
	TraceToolCall         TraceKind = "tool_call"
	TraceToolResult       TraceKind = "tool_result"
	TraceToolError        TraceKind = "tool_error"
	TraceActionStart      TraceKind = "action_start"
)

// IsMessage reports whether the kind renders as a standalone message row.
func (k TraceKind) IsMessage() bool {
	return k == TraceUserMessage || k == TraceModelResult
}

// IsTool reports whether the kind belongs to a tool invocation.
func (k TraceKind) IsTool() bool {
	return k == TraceToolCall || k == TraceToolResult || k == TraceToolError || k == TraceActionStart
}

// TraceEvent 只追加、不可变的原始 trace 记录。
//
// InsertIndex 表示事件发生在第几个消息边界 (-1 = 当前尾部)。
// CallID/ParentCallID 把事件关联到工具调用树。
type TraceEvent struct {
	Kind         TraceKind       `json:"kind"`
	RunID        string          `json:"runId,omitempty"`
	CallID       string          `json:"callId,omitempty"`
	ParentCallID string          `json:"parentCallId,omitempty"`
	Tool         string          `json:"tool,omitempty"`
	Role         string          `json:"role,omitempty"`
	Turn         int             `json:"turn,omitempty"`
	Text         string          `json:"text,omitempty"`
	Args         json.RawMessage `json:"args,omitempty"`
	Result       json.RawMessage `json:"result,omitempty"`
	InsertIndex  int             `json:"insertIndex"`
	Timestamp    time.Time       `json:"timestamp,omitempty"`
}

// ========================================
// 动作结果
// ========================================

// StopResult 停止请求的响应。
type StopResult struct {
	Stopped bool         `json:"stopped"` // false = 后端认为没有 run 在跑
	RunID   string       `json:"runId,omitempty"`
	Run     *RunSnapshot `json:"run,omitempty"`
}

// ErrorBody 动作失败时后端返回的错误载荷。
type ErrorBody struct {
	Error string `json:"error"`
}
