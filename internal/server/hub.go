package server

import (
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/sjawhar/ghost-scribe/internal/session"
	"github.com/sjawhar/ghost-scribe/internal/voice"
)

// Hub fans session notifications out to websocket subscribers. A slow
// subscriber misses messages instead of blocking the session.
type Hub struct {
	mu      sync.RWMutex
	clients map[chan []byte]struct{}
	now     func() time.Time
}

func NewHub() *Hub {
	return &Hub{clients: make(map[chan []byte]struct{}), now: time.Now}
}

func (h *Hub) Subscribe() chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.clients[ch] = struct{}{}
	h.mu.Unlock()
	return ch
}

func (h *Hub) Unsubscribe(ch chan []byte) {
	h.mu.Lock()
	delete(h.clients, ch)
	h.mu.Unlock()
	close(ch)
}

func (h *Hub) Broadcast(msg []byte) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for ch := range h.clients {
		select {
		case ch <- msg:
		default:
		}
	}
}

func (h *Hub) BroadcastSessionStarted(s session.Session) {
	h.broadcastEvent(newSessionEvent(EventSessionStarted, s, h.now()))
}

func (h *Hub) BroadcastSpeakerJoined(s session.Session, sp voice.Speaker) {
	h.broadcastEvent(SpeakerEvent{
		SessionEvent: newSessionEvent(EventSpeakerJoined, s, h.now()),
		Speaker:      sp,
	})
}

func (h *Hub) BroadcastSpeakerLeft(s session.Session, sp voice.Speaker) {
	h.broadcastEvent(SpeakerEvent{
		SessionEvent: newSessionEvent(EventSpeakerLeft, s, h.now()),
		Speaker:      sp,
	})
}

func (h *Hub) BroadcastCaptureExcluded(s session.Session, ex session.Exclusion) {
	h.broadcastEvent(CaptureExcludedEvent{
		SessionEvent: newSessionEvent(EventCaptureExcluded, s, h.now()),
		Exclusion:    ex,
	})
}

func (h *Hub) BroadcastSessionEnding(s session.Session) {
	h.broadcastEvent(newSessionEvent(EventSessionEnding, s, h.now()))
}

func (h *Hub) BroadcastTranscriptReady(s session.Session, path string, segments int) {
	h.broadcastEvent(TranscriptReadyEvent{
		SessionEvent: newSessionEvent(EventTranscriptReady, s, h.now()),
		Path:         path,
		Segments:     segments,
	})
}

func (h *Hub) BroadcastSummaryReady(s session.Session, path string, status session.SummaryStatus) {
	h.broadcastEvent(SummaryReadyEvent{
		SessionEvent: newSessionEvent(EventSummaryReady, s, h.now()),
		Path:         path,
		Status:       status,
	})
}

func (h *Hub) BroadcastSummaryUnavailable(s session.Session, reason string) {
	h.broadcastEvent(SummaryUnavailableEvent{
		SessionEvent: newSessionEvent(EventSummaryUnavailable, s, h.now()),
		Reason:       reason,
	})
}

func (h *Hub) BroadcastSessionEnded(s session.Session, outcome session.Outcome, err error) {
	now := h.now()
	ev := SessionEndedEvent{
		SessionEvent: newSessionEvent(EventSessionEnded, s, now),
		Outcome:      outcome,
	}
	if !s.StartedAt.IsZero() {
		ev.Duration = now.Sub(s.StartedAt).Seconds()
	}
	if err != nil {
		ev.Error = err.Error()
	}
	h.broadcastEvent(ev)
}

func (h *Hub) broadcastEvent(event any) {
	payload, err := json.Marshal(event)
	if err != nil {
		slog.Error("event marshal error", "error", err)
		return
	}
	h.Broadcast(payload)
}
