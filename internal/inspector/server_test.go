package inspector

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/multi-agent/runview/internal/engine"
	"github.com/multi-agent/runview/internal/protocol"
)

func testEngine() *engine.Engine {
	eng := engine.New("ws-test", nil, nil, engine.NewManualScheduler())
	eng.HandleEnvelope(protocol.Envelope{
		Offset: 1,
		Event: protocol.StreamEvent{
			Kind:  protocol.StreamRunStatus,
			RunID: "run-1",
			Snapshot: &protocol.RunSnapshot{
				Run:      protocol.Run{ID: "run-1", Status: protocol.StatusRunning},
				Messages: []protocol.Message{{Role: "user", Text: "hi"}},
			},
		},
	})
	return eng
}

func TestStateEndpoint(t *testing.T) {
	srv := NewServer(testEngine())
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/state", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Success bool        `json:"success"`
		Data    engine.View `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !body.Success || body.Data.Run == nil || body.Data.Run.ID != "run-1" {
		t.Fatalf("body = %+v", body)
	}
}

func TestRowsEndpoint(t *testing.T) {
	srv := NewServer(testEngine())
	rec := httptest.NewRecorder()
	srv.router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/rows", nil))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body struct {
		Data []json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(body.Data) != 1 {
		t.Fatalf("rows = %d, want 1", len(body.Data))
	}
}

func TestChangeBusDropsWhenSaturated(t *testing.T) {
	bus := newChangeBus()
	ch := bus.subscribe("sub-1")

	bus.publish()
	bus.publish() // 信号已挂起, 第二次是 no-op 而非阻塞

	select {
	case <-ch:
	default:
		t.Fatalf("expected a pending signal")
	}
	select {
	case <-ch:
		t.Fatalf("signals must coalesce, got a second one")
	default:
	}

	bus.unsubscribe("sub-1")
	bus.publish() // 退订后不得 panic
}
