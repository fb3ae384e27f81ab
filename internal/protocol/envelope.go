// envelope.go — 实时流信封与一次性解码。
package protocol

import (
	"encoding/json"

	apperrors "github.com/multi-agent/runview/pkg/errors"
)

// StreamKind 实时流事件类型。
type StreamKind string

const (
	StreamRunStatus  StreamKind = "run_status"
	StreamTraceDelta StreamKind = "trace_delta"
	StreamChunk      StreamKind = "stream_chunk"
	StreamEnd        StreamKind = "stream_end"
)

// StreamEvent 解码后的流事件 (tagged union: Kind 决定哪个字段有效)。
type StreamEvent struct {
	Kind StreamKind

	// RunID 事件归属的 run。可为空 — 路由层回落到当前活跃 run。
	RunID string

	// Snapshot — Kind == StreamRunStatus
	Snapshot *RunSnapshot

	// Trace — Kind == StreamTraceDelta
	Trace *TraceEvent

	// Role/Turn/Delta — Kind == StreamChunk / StreamEnd (Delta 仅 chunk)
	Role  string
	Turn  int
	Delta string
}

// Envelope 一条流投递单元: 单调递增 offset + 类型化载荷。
type Envelope struct {
	Offset uint64
	Event  StreamEvent
}

// 线格式: {"offset": N, "type": "...", "data": {...}}。
type wireEnvelope struct {
	Offset uint64          `json:"offset"`
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data,omitempty"`
}

type wireChunk struct {
	RunID string `json:"runId,omitempty"`
	Role  string `json:"role"`
	Turn  int    `json:"turn"`
	Delta string `json:"delta,omitempty"`
}

// DecodeEnvelope 解码一条线上信封。
//
// 解码失败只影响这一条 — 调用方丢弃该信封并继续消费,
// 不得中断订阅 (见 stream.Consumer)。
func DecodeEnvelope(raw []byte) (Envelope, error) {
	var wire wireEnvelope
	if err := json.Unmarshal(raw, &wire); err != nil {
		return Envelope{}, apperrors.Wrap(err, "protocol.DecodeEnvelope", "malformed envelope")
	}
	event, err := decodeStreamEvent(wire.Type, wire.Data)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{Offset: wire.Offset, Event: event}, nil
}

func decodeStreamEvent(typ string, data json.RawMessage) (StreamEvent, error) {
	switch StreamKind(typ) {
	case StreamRunStatus:
		var snap RunSnapshot
		if err := json.Unmarshal(data, &snap); err != nil {
			return StreamEvent{}, apperrors.Wrap(err, "protocol.DecodeEnvelope", "run_status payload")
		}
		snap.Run.Status = ParseRunStatus(string(snap.Run.Status))
		return StreamEvent{Kind: StreamRunStatus, RunID: snap.Run.ID, Snapshot: &snap}, nil

	case StreamTraceDelta:
		var trace TraceEvent
		if err := json.Unmarshal(data, &trace); err != nil {
			return StreamEvent{}, apperrors.Wrap(err, "protocol.DecodeEnvelope", "trace_delta payload")
		}
		return StreamEvent{Kind: StreamTraceDelta, RunID: trace.RunID, Trace: &trace}, nil

	case StreamChunk:
		var chunk wireChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return StreamEvent{}, apperrors.Wrap(err, "protocol.DecodeEnvelope", "stream_chunk payload")
		}
		return StreamEvent{Kind: StreamChunk, RunID: chunk.RunID, Role: chunk.Role, Turn: chunk.Turn, Delta: chunk.Delta}, nil

	case StreamEnd:
		var chunk wireChunk
		if err := json.Unmarshal(data, &chunk); err != nil {
			return StreamEvent{}, apperrors.Wrap(err, "protocol.DecodeEnvelope", "stream_end payload")
		}
		return StreamEvent{Kind: StreamEnd, RunID: chunk.RunID, Role: chunk.Role, Turn: chunk.Turn}, nil

	default:
		return StreamEvent{}, apperrors.Newf("protocol.DecodeEnvelope", "unknown event type %q", typ)
	}
}
