package engine

import (
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"secure-dialer/internal/models"

	"github.com/gorilla/websocket"
)

func dialFeed(t *testing.T, h *apiHarness, token string) *websocket.Conn {
	t.Helper()
	srv := httptest.NewServer(h.api.Handler())
	t.Cleanup(srv.Close)
	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/calls?token=" + token
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	return conn
}

func readUntil(t *testing.T, conn *websocket.Conn, typ string) map[string]any {
	t.Helper()
	for {
		var msg map[string]any
		if err := conn.ReadJSON(&msg); err != nil {
			t.Fatalf("waiting for %s: %v", typ, err)
		}
		if msg["type"] == typ {
			return msg
		}
	}
}

func TestCallFeedSnapshotAndEvents(t *testing.T) {
	h := newAPIHarness(t)
	h.tracker.Upsert(models.CallStatus{ID: "call-1", ContactName: "Ann Lee", Phone: "+15551234567", Status: models.PhaseRinging, Timestamp: time.Now()})

	conn := dialFeed(t, h, h.user)
	defer conn.Close()

	snap := readUntil(t, conn, "calls.snapshot")
	calls, _ := snap["calls"].([]any)
	if len(calls) != 1 {
		t.Fatalf("snapshot should hold one call, got %v", snap)
	}
	if phone := calls[0].(map[string]any)["phone"]; phone != "********4567" {
		t.Fatalf("snapshot phone should be masked, got %v", phone)
	}

	h.tracker.Clear("call-1")
	ev := readUntil(t, conn, "call.cleared")
	if st := ev["status"].(map[string]any); st["id"] != "call-1" {
		t.Fatalf("unexpected event %v", ev)
	}
}

func TestCallFeedCommentDrafts(t *testing.T) {
	h := newAPIHarness(t)
	ann := h.contact(t, "Ann")
	bob := h.contact(t, "Bob")

	conn := dialFeed(t, h, h.user)
	readUntil(t, conn, "calls.snapshot")

	conn.WriteJSON(wsInbound{Type: "comment.edit", ContactID: ann.ID, Text: "call back after 5"})
	conn.WriteJSON(wsInbound{Type: "comment.save", ContactID: ann.ID})
	if msg := readUntil(t, conn, "comment.saved"); msg["contactId"] != ann.ID {
		t.Fatalf("unexpected reply %v", msg)
	}
	if got := h.contact(t, "Ann"); got.Comments != "call back after 5" {
		t.Fatalf("comment not saved, got %q", got.Comments)
	}

	conn.WriteJSON(wsInbound{Type: "comment.edit", ContactID: "missing", Text: "x"})
	if msg := readUntil(t, conn, "error"); msg["contactId"] != "missing" {
		t.Fatalf("unexpected error reply %v", msg)
	}

	// Unsaved drafts are submitted when the browser goes away.
	conn.WriteJSON(wsInbound{Type: "comment.edit", ContactID: bob.ID, Text: "vegetarian"})
	conn.WriteJSON(wsInbound{Type: "comment.blur", ContactID: ann.ID})
	readUntil(t, conn, "comment.saved")
	conn.Close()

	deadline := time.Now().Add(5 * time.Second)
	for h.contact(t, "Bob").Comments != "vegetarian" {
		if time.Now().After(deadline) {
			t.Fatalf("draft was not flushed on disconnect")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestCallFeedRequiresToken(t *testing.T) {
	h := newAPIHarness(t)
	srv := httptest.NewServer(h.api.Handler())
	defer srv.Close()
	_, resp, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(srv.URL, "http")+"/ws/calls", nil)
	if err == nil {
		t.Fatalf("dial without token should fail")
	}
	if resp == nil || resp.StatusCode != 401 {
		t.Fatalf("expected 401, got %+v", resp)
	}
}
