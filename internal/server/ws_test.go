package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sjawhar/ghost-scribe/internal/session"
	"github.com/sjawhar/ghost-scribe/internal/voice"
)

func TestWSBroadcastEventShape(t *testing.T) {
	hub := NewHub()
	ch := hub.Subscribe()
	defer hub.Unsubscribe(ch)

	hub.BroadcastSessionEnded(
		session.Session{ID: "standup", NotifyTarget: "#team", StartedAt: time.Now().Add(-time.Minute)},
		session.Outcome{SessionID: "standup", SummaryStatus: session.SummaryUnavailable},
		errors.New("boom"),
	)

	select {
	case msg := <-ch:
		var payload map[string]any
		if err := json.Unmarshal(msg, &payload); err != nil {
			t.Fatalf("unmarshal failed: %v", err)
		}
		if payload["type"] != EventSessionEnded {
			t.Fatalf("expected event type session_ended, got %#v", payload["type"])
		}
		if payload["notify_target"] != "#team" || payload["error"] != "boom" {
			t.Fatalf("unexpected payload: %s", string(msg))
		}
		if d, _ := payload["duration"].(float64); d < 59 {
			t.Fatalf("expected duration near 60s, got %v", payload["duration"])
		}
	case <-time.After(1 * time.Second):
		t.Fatal("timeout waiting for websocket broadcast")
	}
}

func wsURL(srv *httptest.Server, path string) string {
	return "ws" + strings.TrimPrefix(srv.URL, "http") + path
}

func TestWSDeliversToSubscriber(t *testing.T) {
	hub := NewHub()
	srv := httptest.NewServer(Handler(Deps{Hub: hub, Commands: &commandsStub{}}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	_, first, err := conn.ReadMessage()
	if err != nil || !strings.Contains(string(first), EventConnection) {
		t.Fatalf("expected connection event, got %s %v", first, err)
	}

	// The subscription is registered after the greeting; keep broadcasting
	// until it lands.
	got := make(chan []byte, 1)
	go func() {
		_, msg, err := conn.ReadMessage()
		if err == nil {
			got <- msg
		}
	}()
	deadline := time.After(2 * time.Second)
	for {
		hub.BroadcastSessionStarted(session.Session{ID: "standup"})
		select {
		case msg := <-got:
			if !strings.Contains(string(msg), EventSessionStarted) {
				t.Fatalf("unexpected message %s", msg)
			}
			return
		case <-deadline:
			t.Fatal("timeout waiting for broadcast over websocket")
		case <-time.After(20 * time.Millisecond):
		}
	}
}

func TestVoiceIngestFeedsRoom(t *testing.T) {
	room := voice.NewRoom("test")
	events := make(chan voice.Event, 4)
	room.OnChange(func(ev voice.Event) { events <- ev })

	srv := httptest.NewServer(Handler(Deps{Hub: NewHub(), Commands: &commandsStub{}, Voice: room}))
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv, "/ws/voice/42?label=Ann"), nil)
	if err != nil {
		t.Fatalf("dial failed: %v", err)
	}

	select {
	case ev := <-events:
		if ev.Kind != voice.SpeakerJoined || ev.Speaker.ID != "42" || ev.Speaker.Label != "Ann" {
			t.Fatalf("unexpected event %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("speaker never joined")
	}

	stream, err := room.Subscribe("42")
	if err != nil {
		t.Fatalf("Subscribe failed: %v", err)
	}
	defer stream.Close()

	pcm := []byte{1, 2, 3, 4}
	if err := conn.WriteMessage(websocket.BinaryMessage, pcm); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	buf := make([]byte, len(pcm))
	if _, err := io.ReadFull(stream, buf); err != nil {
		t.Fatalf("read from room failed: %v", err)
	}
	if string(buf) != string(pcm) {
		t.Fatalf("expected %v, got %v", pcm, buf)
	}

	_ = conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	_ = conn.Close()

	select {
	case ev := <-events:
		if ev.Kind != voice.SpeakerLeft {
			t.Fatalf("expected leave, got %+v", ev)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("speaker never left")
	}
}
