package server

import (
	"time"

	"github.com/sjawhar/ghost-scribe/internal/session"
	"github.com/sjawhar/ghost-scribe/internal/voice"
)

const EventVersion = 1

const (
	EventConnection         = "connection"
	EventSessionStarted     = "session_started"
	EventSpeakerJoined      = "speaker_joined"
	EventSpeakerLeft        = "speaker_left"
	EventCaptureExcluded    = "capture_excluded"
	EventSessionEnding      = "session_ending"
	EventTranscriptReady    = "transcript_ready"
	EventSummaryReady       = "summary_ready"
	EventSummaryUnavailable = "summary_unavailable"
	EventSessionEnded       = "session_ended"
)

type Event struct {
	Type      string `json:"type"`
	Version   int    `json:"version"`
	Timestamp string `json:"timestamp"`
}

// SessionEvent is the common part of every session notification. Clients
// route it by NotifyTarget.
type SessionEvent struct {
	Event
	SessionID    string `json:"session_id"`
	NotifyTarget string `json:"notify_target,omitempty"`
}

type SpeakerEvent struct {
	SessionEvent
	Speaker voice.Speaker `json:"speaker"`
}

type CaptureExcludedEvent struct {
	SessionEvent
	Exclusion session.Exclusion `json:"exclusion"`
}

type TranscriptReadyEvent struct {
	SessionEvent
	Path     string `json:"path"`
	Segments int    `json:"segments"`
}

type SummaryReadyEvent struct {
	SessionEvent
	Path   string                `json:"path"`
	Status session.SummaryStatus `json:"status"`
}

type SummaryUnavailableEvent struct {
	SessionEvent
	Reason string `json:"reason"`
}

type SessionEndedEvent struct {
	SessionEvent
	Duration float64         `json:"duration"`
	Outcome  session.Outcome `json:"outcome"`
	Error    string          `json:"error,omitempty"`
}

type ConnectionEvent struct {
	Event
	Connected bool `json:"connected"`
}

func newEvent(eventType string, now time.Time) Event {
	if now.IsZero() {
		now = time.Now().UTC()
	}
	return Event{
		Type:      eventType,
		Version:   EventVersion,
		Timestamp: now.UTC().Format(time.RFC3339Nano),
	}
}

func newSessionEvent(eventType string, s session.Session, now time.Time) SessionEvent {
	return SessionEvent{
		Event:        newEvent(eventType, now),
		SessionID:    s.ID,
		NotifyTarget: s.NotifyTarget,
	}
}
