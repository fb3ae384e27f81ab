package view

import (
	"encoding/json"
	"reflect"
	"testing"

	"github.com/multi-agent/runview/internal/protocol"
)

func reasoning(turn int, text string) protocol.TraceEvent {
	return protocol.TraceEvent{
		Kind:        protocol.TraceModelStreamDelta,
		Turn:        turn,
		Text:        text,
		InsertIndex: -1,
	}
}

func toolCall(callID, tool string) protocol.TraceEvent {
	return protocol.TraceEvent{
		Kind:        protocol.TraceToolCall,
		CallID:      callID,
		Tool:        tool,
		InsertIndex: -1,
	}
}

func toolResult(callID string, result string) protocol.TraceEvent {
	return protocol.TraceEvent{
		Kind:        protocol.TraceToolResult,
		CallID:      callID,
		Result:      json.RawMessage(result),
		InsertIndex: -1,
	}
}

func singleBucket(t *testing.T, rows []Row) *ActivityBucket {
	t.Helper()
	var bucket *ActivityBucket
	for _, row := range rows {
		if row.Kind != RowActivity {
			continue
		}
		if bucket != nil {
			t.Fatalf("expected one activity bucket, got more")
		}
		bucket = row.Bucket
	}
	if bucket == nil {
		t.Fatalf("expected an activity bucket, got none in %d rows", len(rows))
	}
	return bucket
}

func TestDeriveRowsIsPure(t *testing.T) {
	messages := []protocol.Message{
		{Role: "user", Text: "hi"},
		{Role: "assistant", Text: "hello"},
	}
	traces := []protocol.TraceEvent{
		reasoning(0, "thinking about it"),
		toolCall("c1", "search"),
		toolResult("c1", `{"ok":true}`),
	}

	first := DeriveRows(messages, traces, nil)
	second := DeriveRows(messages, traces, nil)
	if !reflect.DeepEqual(first, second) {
		t.Fatalf("re-derivation differs:\nfirst:  %#v\nsecond: %#v", first, second)
	}
}

func TestBucketCountsAndLabels(t *testing.T) {
	traces := []protocol.TraceEvent{
		reasoning(0, "a"),
		reasoning(0, "b"),
		toolCall("c1", "bash"),
	}
	rows := DeriveRows(nil, traces, nil)
	if len(rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(rows))
	}
	bucket := singleBucket(t, rows)

	if bucket.ReasoningCount != 2 {
		t.Fatalf("reasoningCount = %d, want 2", bucket.ReasoningCount)
	}
	if bucket.ToolCount != 1 {
		t.Fatalf("toolCount = %d, want 1", bucket.ToolCount)
	}
	if bucket.LatestReasoning != "b" {
		t.Fatalf("latestReasoning = %q, want %q", bucket.LatestReasoning, "b")
	}
	if bucket.CurrentToolLabel != "bash" {
		t.Fatalf("currentToolLabel = %q, want %q", bucket.CurrentToolLabel, "bash")
	}
}

func TestBlankReasoningDoesNotOverwriteLatest(t *testing.T) {
	traces := []protocol.TraceEvent{
		reasoning(0, "useful thought"),
		reasoning(0, "   "),
	}
	bucket := singleBucket(t, DeriveRows(nil, traces, nil))
	if bucket.LatestReasoning != "useful thought" {
		t.Fatalf("latestReasoning = %q, want %q", bucket.LatestReasoning, "useful thought")
	}
}

func TestStaleToolLabelClearing(t *testing.T) {
	// reasoning 在最后一次工具调用之后 → current 清空
	traces := []protocol.TraceEvent{
		toolCall("c1", "bash"),
		reasoning(0, "done with that"),
	}
	bucket := singleBucket(t, DeriveRows(nil, traces, nil))
	if bucket.CurrentToolLabel != "" {
		t.Fatalf("currentToolLabel = %q, want empty", bucket.CurrentToolLabel)
	}
	if bucket.LastToolLabel != "bash" {
		t.Fatalf("lastToolLabel = %q, want %q", bucket.LastToolLabel, "bash")
	}

	// reasoning 之后又有新工具调用 → current 重新填充
	traces = append(traces, toolCall("c2", "grep"))
	bucket = singleBucket(t, DeriveRows(nil, traces, nil))
	if bucket.CurrentToolLabel != "grep" {
		t.Fatalf("currentToolLabel = %q, want %q", bucket.CurrentToolLabel, "grep")
	}
	if bucket.LastToolLabel != "grep" {
		t.Fatalf("lastToolLabel = %q, want %q", bucket.LastToolLabel, "grep")
	}
}

func TestUnresolvedToolDroppedFromMembershipAndCounts(t *testing.T) {
	traces := []protocol.TraceEvent{
		toolCall("c1", ""), // 关联失败: 无工具名
		reasoning(0, "still here"),
	}
	bucket := singleBucket(t, DeriveRows(nil, traces, nil))
	if bucket.ToolCount != 0 {
		t.Fatalf("toolCount = %d, want 0 (unresolved tool must not count)", bucket.ToolCount)
	}
	for _, item := range bucket.Items {
		if item.Kind == ItemTool {
			t.Fatalf("unresolved tool leaked into bucket items")
		}
	}
}

func TestDuplicateToolCallCountedOnce(t *testing.T) {
	traces := []protocol.TraceEvent{
		toolCall("c1", "bash"),
		toolCall("c1", "bash"), // 重连重放
	}
	bucket := singleBucket(t, DeriveRows(nil, traces, nil))
	if bucket.ToolCount != 1 {
		t.Fatalf("toolCount = %d, want 1", bucket.ToolCount)
	}
}

func TestMessagesCloseBuckets(t *testing.T) {
	messages := []protocol.Message{
		{Role: "user", Text: "do it"},
		{Role: "assistant", Text: "done"},
	}
	traces := []protocol.TraceEvent{
		{Kind: protocol.TraceToolCall, CallID: "c1", Tool: "bash", InsertIndex: 1},
		reasoning(1, "wrapping up"), // tail
	}
	rows := DeriveRows(messages, traces, nil)

	// 期望: msg0, bucket(c1), msg1, bucket(reasoning)
	if len(rows) != 4 {
		t.Fatalf("expected 4 rows, got %d: %#v", len(rows), rows)
	}
	wantKinds := []RowKind{RowMessage, RowActivity, RowMessage, RowActivity}
	for i, k := range wantKinds {
		if rows[i].Kind != k {
			t.Fatalf("row %d kind = %s, want %s", i, rows[i].Kind, k)
		}
	}
}

func TestToolInsertAnchorsPlacement(t *testing.T) {
	messages := []protocol.Message{
		{Role: "user", Text: "q"},
		{Role: "assistant", Text: "a"},
	}
	traces := []protocol.TraceEvent{
		toolCall("c1", "bash"), // InsertIndex -1, 但插入标记锚到边界 1
	}
	inserts := []protocol.ToolInsert{{CallID: "c1", Tool: "bash", InsertIndex: 1}}

	rows := DeriveRows(messages, traces, inserts)
	if len(rows) != 3 {
		t.Fatalf("expected 3 rows, got %d", len(rows))
	}
	if rows[1].Kind != RowActivity {
		t.Fatalf("expected activity bucket between messages, got %s", rows[1].Kind)
	}
}

func TestRowKeysStableAcrossGrowth(t *testing.T) {
	messages := []protocol.Message{{Role: "user", Text: "q"}}
	traces := []protocol.TraceEvent{toolCall("c1", "bash")}

	before := DeriveRows(messages, traces, nil)
	traces = append(traces, toolResult("c1", `{}`), reasoning(0, "next"))
	after := DeriveRows(messages, traces, nil)

	keys := func(rows []Row) map[string]struct{} {
		out := map[string]struct{}{}
		for _, r := range rows {
			out[r.Key] = struct{}{}
		}
		return out
	}
	afterKeys := keys(after)
	for k := range keys(before) {
		if _, ok := afterKeys[k]; !ok {
			t.Fatalf("key %q vanished after incremental growth", k)
		}
	}
}

func TestSummaryStatusOnlyMovesForward(t *testing.T) {
	traces := []protocol.TraceEvent{
		toolCall("c1", "bash"),
		toolResult("c1", `{"ok":true}`),
		{Kind: protocol.TraceActionStart, CallID: "c1", Tool: "bash", InsertIndex: -1}, // 迟到的重放
	}
	summaries := DeriveSummaries(traces)
	if got := summaries["c1"].Status; got != ToolCompleted {
		t.Fatalf("status = %s, want completed (must not regress)", got)
	}
}

func TestSummaryDepthFromParentChain(t *testing.T) {
	traces := []protocol.TraceEvent{
		toolCall("root", "plan"),
		{Kind: protocol.TraceToolCall, CallID: "mid", ParentCallID: "root", Tool: "bash", InsertIndex: -1},
		{Kind: protocol.TraceToolCall, CallID: "leaf", ParentCallID: "mid", Tool: "grep", InsertIndex: -1},
	}
	summaries := DeriveSummaries(traces)
	for id, want := range map[string]int{"root": 0, "mid": 1, "leaf": 2} {
		if got := summaries[id].Depth; got != want {
			t.Fatalf("depth(%s) = %d, want %d", id, got, want)
		}
	}
}

func TestRecoveryToolAnnotatesParent(t *testing.T) {
	traces := []protocol.TraceEvent{
		toolCall("c1", "bash"),
		{Kind: protocol.TraceToolError, CallID: "c1", Text: "exit 1", InsertIndex: -1},
		{Kind: protocol.TraceToolCall, CallID: "r1", ParentCallID: "c1", Tool: RecoveryToolName, InsertIndex: -1},
		{Kind: protocol.TraceToolResult, CallID: "r1", Result: json.RawMessage(`{"message":"retried with sudo"}`), InsertIndex: -1},
	}
	summaries := DeriveSummaries(traces)
	if got := summaries["c1"].HandledError; got != "retried with sudo" {
		t.Fatalf("handledError = %q, want %q", got, "retried with sudo")
	}
}

func TestGroupReasoningByTurn(t *testing.T) {
	traces := []protocol.TraceEvent{
		reasoning(0, "first "),
		reasoning(0, "half"),
		reasoning(1, "other turn"),
		toolCall("c1", "bash"),
	}
	byTurn := GroupReasoningByTurn(traces)
	if len(byTurn) != 2 {
		t.Fatalf("expected 2 turns, got %d", len(byTurn))
	}
	if got := byTurn[0].Text(); got != "first half" {
		t.Fatalf("turn 0 text = %q, want %q", got, "first half")
	}
	if len(byTurn[1].Fragments) != 1 || byTurn[1].Fragments[0].Text != "other turn" {
		t.Fatalf("turn 1 fragments wrong: %#v", byTurn[1].Fragments)
	}
}
