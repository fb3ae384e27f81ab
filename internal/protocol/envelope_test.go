package protocol

import "testing"

func TestDecodeRunStatusEnvelope(t *testing.T) {
	raw := []byte(`{
		"offset": 7,
		"type": "run_status",
		"data": {
			"run": {"id": "run-1", "status": "in_progress"},
			"messages": [{"role": "user", "text": "hi"}]
		}
	}`)

	env, err := DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if env.Offset != 7 {
		t.Fatalf("offset = %d, want 7", env.Offset)
	}
	if env.Event.Kind != StreamRunStatus {
		t.Fatalf("kind = %s, want run_status", env.Event.Kind)
	}
	if env.Event.RunID != "run-1" {
		t.Fatalf("runId = %q, want run-1", env.Event.RunID)
	}
	// 后端状态别名在解码边界归一化
	if env.Event.Snapshot.Run.Status != StatusRunning {
		t.Fatalf("status = %s, want running", env.Event.Snapshot.Run.Status)
	}
}

func TestDecodeTraceDeltaEnvelope(t *testing.T) {
	raw := []byte(`{
		"offset": 8,
		"type": "trace_delta",
		"data": {"kind": "tool_call", "runId": "run-1", "callId": "c1", "tool": "bash", "insertIndex": -1}
	}`)

	env, err := DecodeEnvelope(raw)
	if err != nil {
		t.Fatalf("DecodeEnvelope: %v", err)
	}
	if env.Event.Kind != StreamTraceDelta || env.Event.Trace == nil {
		t.Fatalf("unexpected event: %+v", env.Event)
	}
	if env.Event.Trace.CallID != "c1" || env.Event.Trace.InsertIndex != -1 {
		t.Fatalf("trace = %+v", env.Event.Trace)
	}
}

func TestDecodeChunkAndEndEnvelopes(t *testing.T) {
	chunk, err := DecodeEnvelope([]byte(`{"offset":9,"type":"stream_chunk","data":{"runId":"run-1","role":"assistant","turn":2,"delta":"Hel"}}`))
	if err != nil {
		t.Fatalf("chunk: %v", err)
	}
	if chunk.Event.Role != "assistant" || chunk.Event.Turn != 2 || chunk.Event.Delta != "Hel" {
		t.Fatalf("chunk event = %+v", chunk.Event)
	}

	end, err := DecodeEnvelope([]byte(`{"offset":10,"type":"stream_end","data":{"runId":"run-1","role":"assistant","turn":2}}`))
	if err != nil {
		t.Fatalf("end: %v", err)
	}
	if end.Event.Kind != StreamEnd || end.Event.Turn != 2 {
		t.Fatalf("end event = %+v", end.Event)
	}
}

func TestDecodeRejectsMalformedAndUnknown(t *testing.T) {
	if _, err := DecodeEnvelope([]byte(`{not json`)); err == nil {
		t.Fatalf("malformed envelope must error")
	}
	if _, err := DecodeEnvelope([]byte(`{"offset":1,"type":"mystery","data":{}}`)); err == nil {
		t.Fatalf("unknown event type must error")
	}
	if _, err := DecodeEnvelope([]byte(`{"offset":1,"type":"trace_delta","data":"not-an-object"}`)); err == nil {
		t.Fatalf("bad payload must error")
	}
}

func TestParseRunStatusNormalizesAliases(t *testing.T) {
	cases := map[string]RunStatus{
		"running":   StatusRunning,
		"ACTIVE":    StatusRunning,
		"done":      StatusCompleted,
		"failed":    StatusError,
		"cancelled": StatusCanceled,
		"stopped":   StatusCanceled,
		"whatever":  StatusIdle,
		"":          StatusIdle,
	}
	for raw, want := range cases {
		if got := ParseRunStatus(raw); got != want {
			t.Fatalf("ParseRunStatus(%q) = %s, want %s", raw, got, want)
		}
	}
}
