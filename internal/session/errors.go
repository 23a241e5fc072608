package session

import "errors"

// Operation errors. Callers match them with errors.Is; each is returned
// without any state change unless noted.
var (
	ErrInvalidInput    = errors.New("invalid input")
	ErrNameCollision   = errors.New("session name already exists")
	ErrNoConnection    = errors.New("no active voice connection")
	ErrNoActiveSession = errors.New("no active session")
	ErrAlreadyActive   = errors.New("a session is already active")
	ErrBusy            = errors.New("a session transition is in progress, retry shortly")
	ErrNotFound        = errors.New("session not found")
	ErrIO              = errors.New("storage failure")
)

// Per-speaker failure kinds reported in Outcome.Excluded. They never fail an
// operation on their own.
var (
	ErrCaptureFailed       = errors.New("capture failed")
	ErrTranscriptionFailed = errors.New("transcription failed")
	ErrSummarizationFailed = errors.New("summarization failed")
)
