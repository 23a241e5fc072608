// Package scribe is the command surface shared by the HTTP API, the MCP
// tools and the CLI.
package scribe

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"

	"github.com/sjawhar/ghost-scribe/internal/session"
	"github.com/sjawhar/ghost-scribe/internal/storage"
	"github.com/sjawhar/ghost-scribe/internal/voice"
)

// PurgeToken must be passed to PurgeAllSessions.
const PurgeToken = "y"

// Sessions is the live session registry. It is nil for offline use (CLI
// maintenance commands), where only stored sessions are visible.
type Sessions interface {
	BeginSession(ctx context.Context, name string, speakers []voice.Speaker, notifyTarget string) (session.Session, error)
	EndSession(ctx context.Context) (session.Outcome, error)
	State() session.State
	Current() (session.Session, bool)
}

type Processor interface {
	ProcessSession(ctx context.Context, name string) (session.Outcome, error)
}

type Artifacts interface {
	LatestTranscript(name string) (path, text string, err error)
	LatestSummary(name string) (path, text string, err error)
	ListSessions() ([]string, error)
	DeleteSession(name string) error
	PurgeAll() (int, error)
}

type Catalog interface {
	ListSessions() ([]storage.SessionRecord, error)
	DeleteSession(id string) error
	DeleteAll() error
}

// Artifact is the newest transcript or summary of a session.
type Artifact struct {
	Session string `json:"session"`
	Path    string `json:"path"`
	Text    string `json:"text"`
}

// SessionInfo describes one known session.
type SessionInfo struct {
	storage.SessionRecord
	// OnDisk is false for cataloged sessions whose directories are gone.
	OnDisk bool `json:"on_disk"`
	// Cataloged is false for directories the catalog does not know about.
	Cataloged bool `json:"cataloged"`
}

type Status struct {
	State   string           `json:"state"`
	Session *session.Session `json:"session,omitempty"`
}

// Commands is the operation set exposed to remote callers. *Service
// implements it.
type Commands interface {
	BeginSession(ctx context.Context, name string, speakers []voice.Speaker, notifyTarget string) (session.Session, error)
	EndSession(ctx context.Context) (session.Outcome, error)
	Status() Status
	GetLatestTranscript(name string) (Artifact, error)
	GetLatestSummary(name string) (Artifact, error)
	ListSessions() ([]SessionInfo, error)
	DeleteSession(name string) error
	PurgeAllSessions(token string) (int, error)
	ProcessSession(ctx context.Context, name string) (session.Outcome, error)
}

var _ Commands = (*Service)(nil)

type Service struct {
	sessions  Sessions
	processor Processor
	artifacts Artifacts
	catalog   Catalog
	nameMax   int
}

// New builds the command surface. sessions, processor and catalog may be
// nil.
func New(sessions Sessions, processor Processor, artifacts Artifacts, catalog Catalog, nameMax int) *Service {
	return &Service{
		sessions:  sessions,
		processor: processor,
		artifacts: artifacts,
		catalog:   catalog,
		nameMax:   nameMax,
	}
}

func (s *Service) BeginSession(ctx context.Context, name string, speakers []voice.Speaker, notifyTarget string) (session.Session, error) {
	if s.sessions == nil {
		return session.Session{}, session.ErrNoConnection
	}
	return s.sessions.BeginSession(ctx, name, speakers, notifyTarget)
}

func (s *Service) EndSession(ctx context.Context) (session.Outcome, error) {
	if s.sessions == nil {
		return session.Outcome{}, session.ErrNoActiveSession
	}
	return s.sessions.EndSession(ctx)
}

func (s *Service) Status() Status {
	if s.sessions == nil {
		return Status{State: session.StateIdle.String()}
	}
	st := Status{State: s.sessions.State().String()}
	if cur, ok := s.sessions.Current(); ok {
		st.Session = &cur
	}
	return st
}

func (s *Service) GetLatestTranscript(name string) (Artifact, error) {
	name, err := s.name(name)
	if err != nil {
		return Artifact{}, err
	}
	path, text, err := s.artifacts.LatestTranscript(name)
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{Session: name, Path: path, Text: text}, nil
}

func (s *Service) GetLatestSummary(name string) (Artifact, error) {
	name, err := s.name(name)
	if err != nil {
		return Artifact{}, err
	}
	path, text, err := s.artifacts.LatestSummary(name)
	if err != nil {
		return Artifact{}, err
	}
	return Artifact{Session: name, Path: path, Text: text}, nil
}

// ListSessions merges the catalog with the session directories on disk,
// newest first.
func (s *Service) ListSessions() ([]SessionInfo, error) {
	names, err := s.artifacts.ListSessions()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", session.ErrIO, err)
	}
	onDisk := make(map[string]bool, len(names))
	for _, n := range names {
		onDisk[n] = true
	}

	var out []SessionInfo
	seen := make(map[string]bool)
	if s.catalog != nil {
		recs, err := s.catalog.ListSessions()
		if err != nil {
			slog.Warn("session catalog unavailable, listing directories only", "error", err)
		}
		for _, r := range recs {
			seen[r.ID] = true
			out = append(out, SessionInfo{SessionRecord: r, OnDisk: onDisk[r.ID], Cataloged: true})
		}
	}
	for _, n := range names {
		if !seen[n] {
			out = append(out, SessionInfo{SessionRecord: storage.SessionRecord{ID: n, State: storage.StateEnded}, OnDisk: true})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].StartedAt.Equal(out[j].StartedAt) {
			return out[i].StartedAt.After(out[j].StartedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

// DeleteSession removes a session's directories and catalog entry. The
// active session cannot be deleted.
func (s *Service) DeleteSession(name string) error {
	name, err := s.name(name)
	if err != nil {
		return err
	}
	if s.isActive(name) {
		return fmt.Errorf("%w: session %s is in progress", session.ErrBusy, name)
	}

	fsErr := s.artifacts.DeleteSession(name)
	if fsErr != nil && !errors.Is(fsErr, session.ErrNotFound) {
		return fmt.Errorf("%w: %w", session.ErrIO, fsErr)
	}
	cataloged := false
	if s.catalog != nil {
		cataloged = s.cataloged(name)
		if err := s.catalog.DeleteSession(name); err != nil {
			return fmt.Errorf("%w: %w", session.ErrIO, err)
		}
	}
	if fsErr != nil && !cataloged {
		return fsErr
	}
	slog.Info("session deleted", "session", name)
	return nil
}

// PurgeAllSessions removes every session. token must equal PurgeToken and
// no session may be running.
func (s *Service) PurgeAllSessions(token string) (int, error) {
	if token != PurgeToken {
		return 0, fmt.Errorf("%w: purge requires confirmation token %q", session.ErrInvalidInput, PurgeToken)
	}
	if s.sessions != nil && s.sessions.State() != session.StateIdle {
		return 0, fmt.Errorf("%w: end the running session before purging", session.ErrAlreadyActive)
	}

	n, err := s.artifacts.PurgeAll()
	if err != nil {
		return n, fmt.Errorf("%w: %w", session.ErrIO, err)
	}
	if s.catalog != nil {
		if err := s.catalog.DeleteAll(); err != nil {
			return n, fmt.Errorf("%w: %w", session.ErrIO, err)
		}
	}
	slog.Warn("all sessions purged", "count", n)
	return n, nil
}

// ProcessSession regenerates the transcript and summary of an ended session.
func (s *Service) ProcessSession(ctx context.Context, name string) (session.Outcome, error) {
	name, err := s.name(name)
	if err != nil {
		return session.Outcome{}, err
	}
	if s.processor == nil {
		return session.Outcome{}, fmt.Errorf("%w: processing is not configured", session.ErrInvalidInput)
	}
	if s.isActive(name) {
		return session.Outcome{}, fmt.Errorf("%w: session %s is in progress", session.ErrBusy, name)
	}
	return s.processor.ProcessSession(ctx, name)
}

func (s *Service) name(raw string) (string, error) {
	return session.ValidateName(raw, s.nameMax)
}

func (s *Service) isActive(name string) bool {
	if s.sessions == nil {
		return false
	}
	cur, ok := s.sessions.Current()
	return ok && cur.ID == name
}

func (s *Service) cataloged(name string) bool {
	recs, err := s.catalog.ListSessions()
	if err != nil {
		return false
	}
	for _, r := range recs {
		if r.ID == name {
			return true
		}
	}
	return false
}
