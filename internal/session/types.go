package session

import (
	"context"
	"time"

	"github.com/sjawhar/ghost-scribe/internal/capture"
	"github.com/sjawhar/ghost-scribe/internal/voice"
)

type State int

const (
	StateIdle State = iota
	StateActive
	StateEnding
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateEnding:
		return "ending"
	default:
		return "idle"
	}
}

type Session struct {
	ID             string    `json:"id"`
	NotifyTarget   string    `json:"notify_target,omitempty"`
	StartedAt      time.Time `json:"started_at"`
	RecordingsDir  string    `json:"recordings_dir"`
	TranscriptsDir string    `json:"transcripts_dir"`
}

type SummaryStatus string

const (
	SummaryCompleted   SummaryStatus = "completed"
	SummaryPartial     SummaryStatus = "partial"
	SummaryUnavailable SummaryStatus = "unavailable"
	SummaryNothing     SummaryStatus = "nothing_to_summarize"
	SummaryDisabled    SummaryStatus = "disabled"
)

// Exclusion names a speaker left out of the transcript and why.
type Exclusion struct {
	SpeakerID    string `json:"speaker_id"`
	SpeakerLabel string `json:"speaker_label"`
	Stage        string `json:"stage"`
	Reason       string `json:"reason"`
}

// Outcome is the result of ending (or reprocessing) a session.
type Outcome struct {
	SessionID      string        `json:"session_id"`
	RunID          string        `json:"run_id"`
	TranscriptPath string        `json:"transcript_path,omitempty"`
	SummaryPath    string        `json:"summary_path,omitempty"`
	Summary        string        `json:"summary,omitempty"`
	SummaryStatus  SummaryStatus `json:"summary_status"`
	Segments       int           `json:"segments"`
	Attendees      []string      `json:"attendees"`
	Excluded       []Exclusion   `json:"excluded,omitempty"`
}

// Layout creates and checks the per-session directories.
type Layout interface {
	SessionExists(name string) (bool, error)
	CreateSessionDirs(name string) (recordings, transcripts string, err error)
}

// Store keeps the session catalog.
type Store interface {
	CreateSession(s Session) error
	SetSessionState(id string, state State) error
}

// Pipeline turns stopped captures into artifacts.
type Pipeline interface {
	Run(ctx context.Context, s Session, captures []capture.Result) (Outcome, error)
}

type EventBroadcaster interface {
	BroadcastSessionStarted(s Session)
	BroadcastSpeakerJoined(s Session, speaker voice.Speaker)
	BroadcastSpeakerLeft(s Session, speaker voice.Speaker)
	BroadcastCaptureExcluded(s Session, ex Exclusion)
	BroadcastSessionEnding(s Session)
	BroadcastSessionEnded(s Session, outcome Outcome, err error)
}
