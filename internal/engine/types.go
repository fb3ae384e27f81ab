// types.go — 引擎内部状态与对外只读视图类型。
package engine

import (
	"context"

	"github.com/multi-agent/runview/internal/protocol"
	"github.com/multi-agent/runview/internal/view"
)

// Fetcher 权威快照拉取 (外部协作者, 由 agentd.Client 实现)。
// runID 为空表示拉取工作区当前 run。
type Fetcher interface {
	FetchRun(ctx context.Context, workspaceID, runID string) (*protocol.RunSnapshot, error)
}

// Actions run 动作操作 (外部协作者, 由 agentd.Client 实现)。
type Actions interface {
	SendMessage(ctx context.Context, workspaceID, text string) (*protocol.RunSnapshot, error)
	StopRun(ctx context.Context, workspaceID, runID string) (*protocol.StopResult, error)
	NewRun(ctx context.Context, workspaceID string) (*protocol.RunSnapshot, error)
}

// runState 当前持有 run 的原始状态。只有合并引擎与 flush/累积器更新它,
// 其它组件一律只读或向漏斗投递事件。
type runState struct {
	run         protocol.Run
	messages    []protocol.Message
	traces      []protocol.TraceEvent
	toolInserts []protocol.ToolInsert
}

// slotKey 流式累积槽位标识。
type slotKey struct {
	runID string
	turn  int
	role  string
}

// batchState trace 合并队列。队列隐式绑定入队时的 run 与 epoch,
// flush 时二者任一不再匹配即整批丢弃。
type batchState struct {
	runID   string
	epoch   uint64
	pending []protocol.TraceEvent
	handle  Handle
}

// StreamText 对外暴露的一个在途流式文本。
type StreamText struct {
	RunID string `json:"runId"`
	Turn  int    `json:"turn"`
	Role  string `json:"role"`
	Text  string `json:"text"`
}

// View 暴露给展示层的只读状态快照。
type View struct {
	Run          *protocol.Run `json:"run,omitempty"`
	Rows         []view.Row    `json:"rows"`
	Streams      []StreamText  `json:"streams,omitempty"`
	Activity     view.Activity `json:"activity"`
	SendInFlight bool          `json:"sendInFlight"`
	RunNotFound  bool          `json:"runNotFound,omitempty"`
	ActionError  string        `json:"actionError,omitempty"`
}
