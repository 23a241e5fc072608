package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/sjawhar/ghost-scribe/internal/audio"
	"github.com/sjawhar/ghost-scribe/internal/capture"
	"github.com/sjawhar/ghost-scribe/internal/voice"
)

const (
	DefaultInactivityTimeout = 60 * time.Minute
	DefaultStopTimeout       = 5 * time.Second
)

type Config struct {
	NameMaxLength     int
	InactivityTimeout time.Duration
	StopTimeout       time.Duration
	Capture           capture.Config
}

// Registry owns the voice connection and the single active session. State
// transitions are serialized; steady-state capture is not.
type Registry struct {
	cfg      Config
	layout   Layout
	store    Store
	pipeline Pipeline
	hub      EventBroadcaster
	sinks    audio.SinkFactory
	watchdog *Watchdog
	now      func() time.Time

	mu       sync.Mutex
	conn     voice.Connection
	state    State
	session  *Session
	channels *capture.Set
}

func NewRegistry(cfg Config, layout Layout, store Store, pipeline Pipeline, hub EventBroadcaster, sinks audio.SinkFactory) *Registry {
	if cfg.NameMaxLength <= 0 {
		cfg.NameMaxLength = DefaultNameMaxLength
	}
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = DefaultInactivityTimeout
	}
	if cfg.StopTimeout <= 0 {
		cfg.StopTimeout = DefaultStopTimeout
	}
	return &Registry{
		cfg:      cfg,
		layout:   layout,
		store:    store,
		pipeline: pipeline,
		hub:      hub,
		sinks:    sinks,
		watchdog: NewWatchdog(),
		now:      time.Now,
	}
}

// SetConnection installs the voice connection sessions capture from.
func (r *Registry) SetConnection(conn voice.Connection) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conn = conn
}

// ClearConnection ends any active session and drops the connection.
func (r *Registry) ClearConnection(ctx context.Context) error {
	if _, err := r.EndSession(ctx); err != nil && !errors.Is(err, ErrNoActiveSession) {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.conn = nil
	return nil
}

func (r *Registry) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.state
}

// Current returns the active or ending session.
func (r *Registry) Current() (Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.session == nil {
		return Session{}, false
	}
	return *r.session, true
}

// BeginSession creates the session directories, opens a capture channel for
// every non-bot speaker and arms the inactivity watchdog. A nil speaker list
// means everyone currently on the connection.
func (r *Registry) BeginSession(ctx context.Context, name string, speakers []voice.Speaker, notifyTarget string) (Session, error) {
	id, err := ValidateName(name, r.cfg.NameMaxLength)
	if err != nil {
		return Session{}, err
	}

	r.mu.Lock()
	if r.conn == nil {
		r.mu.Unlock()
		return Session{}, ErrNoConnection
	}
	switch r.state {
	case StateActive:
		r.mu.Unlock()
		return Session{}, ErrAlreadyActive
	case StateEnding:
		r.mu.Unlock()
		return Session{}, ErrBusy
	}
	if err := ctx.Err(); err != nil {
		r.mu.Unlock()
		return Session{}, err
	}

	exists, err := r.layout.SessionExists(id)
	if err != nil {
		r.mu.Unlock()
		return Session{}, fmt.Errorf("%w: check session %q: %v", ErrIO, id, err)
	}
	if exists {
		r.mu.Unlock()
		return Session{}, fmt.Errorf("%w: %s", ErrNameCollision, id)
	}
	recDir, trDir, err := r.layout.CreateSessionDirs(id)
	if err != nil {
		r.mu.Unlock()
		if errors.Is(err, os.ErrExist) {
			return Session{}, fmt.Errorf("%w: %s", ErrNameCollision, id)
		}
		return Session{}, fmt.Errorf("%w: create session %q: %v", ErrIO, id, err)
	}

	sess := Session{
		ID:             id,
		NotifyTarget:   notifyTarget,
		StartedAt:      r.now().UTC(),
		RecordingsDir:  recDir,
		TranscriptsDir: trDir,
	}
	if r.store != nil {
		if err := r.store.CreateSession(sess); err != nil {
			slog.Warn("session catalog insert failed", "session", id, "error", err)
		}
	}

	r.session = &sess
	r.state = StateActive
	r.channels = capture.NewSet(recDir, r.cfg.Capture, r.sinks, r.cfg.StopTimeout, capture.Hooks{
		OnActivity: r.watchdog.Reset,
		OnExcluded: func(res capture.Result) { r.captureExcluded(sess, res) },
	})

	if speakers == nil {
		speakers = r.conn.Speakers()
	}
	for _, sp := range speakers {
		if sp.Bot {
			continue
		}
		if err := r.startCaptureLocked(sp); err != nil && !errors.Is(err, capture.ErrCapturing) {
			r.reportLocked(sess, Exclusion{SpeakerID: sp.ID, SpeakerLabel: sp.Label, Stage: "capture", Reason: err.Error()})
		}
	}

	r.watchdog.Arm(r.cfg.InactivityTimeout, r.onInactive)
	r.mu.Unlock()

	slog.Info("session started", "session", id, "speakers", len(speakers))
	if r.hub != nil {
		r.hub.BroadcastSessionStarted(sess)
	}
	return sess, nil
}

func (r *Registry) startCaptureLocked(sp voice.Speaker) error {
	label := sp.Label
	if label == "" {
		label = sp.ID
	}
	src, err := r.conn.Subscribe(sp.ID)
	if err != nil {
		slog.Warn("subscribe to speaker failed", "speaker", label, "error", err)
		err = fmt.Errorf("%w: subscribe: %v", ErrCaptureFailed, err)
		r.channels.RecordFailure(sp.ID, label, err.Error())
		return err
	}
	if _, err := r.channels.Start(sp.ID, label, src); err != nil {
		_ = src.Close()
		if errors.Is(err, capture.ErrCapturing) {
			return err
		}
		slog.Warn("start capture failed", "speaker", label, "error", err)
		err = fmt.Errorf("%w: %w", ErrCaptureFailed, err)
		r.channels.RecordFailure(sp.ID, label, err.Error())
		return err
	}
	return nil
}

func (r *Registry) reportLocked(s Session, ex Exclusion) {
	if r.hub == nil {
		return
	}
	go r.hub.BroadcastCaptureExcluded(s, ex)
}

func (r *Registry) captureExcluded(s Session, res capture.Result) {
	slog.Warn("speaker channel failed, continuing without it", "session", s.ID, "speaker", res.SpeakerLabel, "reason", res.Reason)
	if r.hub != nil {
		r.hub.BroadcastCaptureExcluded(s, Exclusion{
			SpeakerID:    res.SpeakerID,
			SpeakerLabel: res.SpeakerLabel,
			Stage:        "capture",
			Reason:       res.Reason,
		})
	}
}

// SpeakerJoined opens a channel for a speaker arriving mid-session.
func (r *Registry) SpeakerJoined(sp voice.Speaker) error {
	if sp.Bot {
		return nil
	}

	r.mu.Lock()
	if r.state != StateActive {
		r.mu.Unlock()
		return ErrNoActiveSession
	}
	sess := *r.session
	err := r.startCaptureLocked(sp)
	r.mu.Unlock()

	if err != nil {
		if errors.Is(err, capture.ErrCapturing) {
			return nil
		}
		if r.hub != nil {
			r.hub.BroadcastCaptureExcluded(sess, Exclusion{SpeakerID: sp.ID, SpeakerLabel: sp.Label, Stage: "capture", Reason: err.Error()})
		}
		return err
	}
	if r.hub != nil {
		r.hub.BroadcastSpeakerJoined(sess, sp)
	}
	return nil
}

// SpeakerLeft stops the speaker's channel; its recording still takes part in
// aggregation.
func (r *Registry) SpeakerLeft(sp voice.Speaker) {
	r.mu.Lock()
	if r.state != StateActive {
		r.mu.Unlock()
		return
	}
	sess := *r.session
	set := r.channels
	r.mu.Unlock()

	if _, ok := set.StopSpeaker(sp.ID); ok && r.hub != nil {
		r.hub.BroadcastSpeakerLeft(sess, sp)
	}
}

// HandleVoiceEvent adapts room membership changes.
func (r *Registry) HandleVoiceEvent(ev voice.Event) {
	switch ev.Kind {
	case voice.SpeakerJoined:
		if err := r.SpeakerJoined(ev.Speaker); err != nil && !errors.Is(err, ErrNoActiveSession) {
			slog.Warn("could not capture joining speaker", "speaker", ev.Speaker.Label, "error", err)
		}
	case voice.SpeakerLeft:
		r.SpeakerLeft(ev.Speaker)
	}
}

// EndSession stops every channel, runs the pipeline and returns to Idle no
// matter how the pipeline fares. A concurrent call gets ErrBusy.
func (r *Registry) EndSession(ctx context.Context) (Outcome, error) {
	r.mu.Lock()
	switch r.state {
	case StateIdle:
		r.mu.Unlock()
		return Outcome{}, ErrNoActiveSession
	case StateEnding:
		r.mu.Unlock()
		return Outcome{}, ErrBusy
	}
	r.state = StateEnding
	sess := *r.session
	set := r.channels
	r.mu.Unlock()

	defer func() {
		r.mu.Lock()
		r.state = StateIdle
		r.session = nil
		r.channels = nil
		r.mu.Unlock()
		if r.store != nil {
			if err := r.store.SetSessionState(sess.ID, StateIdle); err != nil {
				slog.Warn("session catalog update failed", "session", sess.ID, "error", err)
			}
		}
	}()

	r.watchdog.Disarm()
	slog.Info("session ending", "session", sess.ID)
	if r.store != nil {
		if err := r.store.SetSessionState(sess.ID, StateEnding); err != nil {
			slog.Warn("session catalog update failed", "session", sess.ID, "error", err)
		}
	}
	if r.hub != nil {
		r.hub.BroadcastSessionEnding(sess)
	}

	results := set.StopAll()
	outcome, err := r.pipeline.Run(ctx, sess, results)
	if outcome.SessionID == "" {
		outcome.SessionID = sess.ID
	}
	if err != nil {
		slog.Error("session pipeline failed", "session", sess.ID, "error", err)
	} else {
		slog.Info("session ended", "session", sess.ID, "segments", outcome.Segments, "summary", outcome.SummaryStatus, "excluded", len(outcome.Excluded))
	}
	if r.hub != nil {
		r.hub.BroadcastSessionEnded(sess, outcome, err)
	}
	return outcome, err
}

func (r *Registry) onInactive() {
	slog.Info("no audio activity, ending session", "timeout", r.cfg.InactivityTimeout)
	if _, err := r.EndSession(context.Background()); err != nil &&
		!errors.Is(err, ErrNoActiveSession) && !errors.Is(err, ErrBusy) {
		slog.Error("inactivity end failed", "error", err)
	}
}
