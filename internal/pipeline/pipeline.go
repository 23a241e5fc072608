// Package pipeline turns a session's finished recordings into a merged
// transcript and a summary, and persists both.
package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/sjawhar/ghost-scribe/internal/capture"
	"github.com/sjawhar/ghost-scribe/internal/session"
	"github.com/sjawhar/ghost-scribe/internal/storage"
	"github.com/sjawhar/ghost-scribe/internal/summary"
	"github.com/sjawhar/ghost-scribe/internal/transcribe"
	"github.com/sjawhar/ghost-scribe/internal/transcript"
)

const (
	DefaultMaxInFlight = 2
	defaultSyncTimeout = 2 * time.Minute
)

// Exclusion stages.
const (
	StageCapture       = "capture"
	StageTranscription = "transcription"
	StageCorrelation   = "correlation"
)

type Summarizer interface {
	Summarize(ctx context.Context, text string) (summary.Result, error)
}

// Catalog is the subset of the sqlite store the pipeline records into.
type Catalog interface {
	CreateSession(s session.Session) error
	SetSessionState(id string, state session.State) error
	GetSession(id string) (storage.SessionRecord, error)
	RecordCaptures(sessionID string, results []capture.Result) error
	BeginRun(runID, sessionID string, startedAt time.Time) error
	FinishRun(runID string, segments, excluded int, runErr error) error
	ReplaceSegments(sessionID, runID string, segs []transcribe.CorrelatedSegment) error
	UpdateSummary(sessionID, summary string, status session.SummaryStatus) error
	UpdateArtifacts(sessionID, transcriptPath, summaryPath string) error
	ClaimSummaryRequest(sessionID, promptHash string) (bool, error)
	ReleaseSummaryRequest(sessionID, promptHash string) error
}

type Artifacts interface {
	Dirs(name string) (recordings, transcripts string)
	RecordingFiles(name string) ([]string, error)
	WriteTranscript(name, text string, at time.Time) (string, error)
	WriteSummary(name, text string, at time.Time) (string, error)
}

type Syncer interface {
	Sync(ctx context.Context, sessionID string, paths ...string) error
}

type Notifier interface {
	BroadcastTranscriptReady(s session.Session, path string, segments int)
	BroadcastSummaryReady(s session.Session, path string, status session.SummaryStatus)
	BroadcastSummaryUnavailable(s session.Session, reason string)
}

type Config struct {
	MaxInFlight int
	CoalesceGap time.Duration
	// Location renders transcript timestamps.
	Location *time.Location
	// SummaryKey identifies the summarizer setup (model and prompts) for
	// request idempotency.
	SummaryKey string
}

type Pipeline struct {
	cfg         Config
	transcriber transcribe.Adapter
	summarizer  Summarizer
	artifacts   Artifacts
	catalog     Catalog
	notifier    Notifier
	syncer      Syncer
	now         func() time.Time
}

// New wires a pipeline. summarizer, catalog, notifier and syncer may be nil.
func New(cfg Config, transcriber transcribe.Adapter, summarizer Summarizer, artifacts Artifacts, catalog Catalog, notifier Notifier, syncer Syncer) *Pipeline {
	if cfg.MaxInFlight <= 0 {
		cfg.MaxInFlight = DefaultMaxInFlight
	}
	if cfg.CoalesceGap <= 0 {
		cfg.CoalesceGap = transcript.DefaultCoalesceGap
	}
	if cfg.Location == nil {
		cfg.Location = time.Local
	}
	return &Pipeline{
		cfg:         cfg,
		transcriber: transcriber,
		summarizer:  summarizer,
		artifacts:   artifacts,
		catalog:     catalog,
		notifier:    notifier,
		syncer:      syncer,
		now:         time.Now,
	}
}

// Run transcribes every capture, merges the results and summarizes them.
// Per-speaker failures are reported in Outcome.Excluded. Only storage
// failures and cancellation fail the run.
func (p *Pipeline) Run(ctx context.Context, sess session.Session, captures []capture.Result) (outcome session.Outcome, err error) {
	outcome = session.Outcome{
		SessionID:     sess.ID,
		RunID:         uuid.NewString(),
		SummaryStatus: session.SummaryNothing,
	}
	started := p.now()
	log := slog.With("session", sess.ID, "run", outcome.RunID)

	if p.catalog != nil {
		if err := p.catalog.RecordCaptures(sess.ID, captures); err != nil {
			log.Warn("catalog capture insert failed", "error", err)
		}
		if err := p.catalog.BeginRun(outcome.RunID, sess.ID, started); err != nil {
			log.Warn("catalog run insert failed", "error", err)
		}
		defer func() {
			if ferr := p.catalog.FinishRun(outcome.RunID, outcome.Segments, len(outcome.Excluded), err); ferr != nil {
				log.Warn("catalog run update failed", "error", ferr)
			}
		}()
	}

	bySpeaker, excluded, err := p.transcribeAll(ctx, log, captures)
	outcome.Excluded = excluded
	if err != nil {
		return outcome, err
	}

	tr := transcript.Merge(bySpeaker, p.cfg.CoalesceGap)
	outcome.Segments = len(tr.Segments)
	outcome.Attendees = tr.Attendees()

	path, err := p.artifacts.WriteTranscript(sess.ID, tr.Format(p.cfg.Location), p.now())
	if err != nil {
		return outcome, fmt.Errorf("%w: write transcript: %w", session.ErrIO, err)
	}
	outcome.TranscriptPath = path
	log.Info("transcript written", "path", path, "segments", outcome.Segments, "excluded", len(excluded))
	if p.catalog != nil {
		if err := p.catalog.ReplaceSegments(sess.ID, outcome.RunID, tr.Segments); err != nil {
			log.Warn("catalog segment insert failed", "error", err)
		}
	}
	if p.notifier != nil {
		p.notifier.BroadcastTranscriptReady(sess, path, outcome.Segments)
	}

	if err := p.summarize(ctx, log, sess, tr, &outcome); err != nil {
		return outcome, err
	}

	if p.catalog != nil {
		if err := p.catalog.UpdateArtifacts(sess.ID, outcome.TranscriptPath, outcome.SummaryPath); err != nil {
			log.Warn("catalog artifact update failed", "error", err)
		}
	}
	p.sync(ctx, log, sess.ID, outcome.TranscriptPath, outcome.SummaryPath)

	log.Info("pipeline finished", "segments", outcome.Segments, "summary", outcome.SummaryStatus, "elapsed", p.now().Sub(started))
	return outcome, nil
}

type speakerResult struct {
	capture  capture.Result
	segments []transcribe.CorrelatedSegment
	skipped  bool
	excluded *session.Exclusion
}

// transcribeAll runs at most MaxInFlight transcriptions at a time and keeps
// every failure local to its speaker.
func (p *Pipeline) transcribeAll(ctx context.Context, log *slog.Logger, captures []capture.Result) (map[string][]transcribe.CorrelatedSegment, []session.Exclusion, error) {
	results := make([]speakerResult, len(captures))

	var g errgroup.Group
	g.SetLimit(p.cfg.MaxInFlight)
	for i, c := range captures {
		results[i].capture = c
		switch {
		case c.Excluded:
			results[i].excluded = exclusion(c, StageCapture, c.Reason)
			continue
		case c.BytesWritten <= 0:
			log.Debug("skipping silent capture", "speaker", c.SpeakerLabel, "path", c.OutputPath)
			results[i].skipped = true
			continue
		}
		g.Go(func() error {
			results[i].segments, results[i].excluded = p.transcribeOne(ctx, log, c)
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}

	bySpeaker := make(map[string][]transcribe.CorrelatedSegment)
	var excluded []session.Exclusion
	for _, r := range results {
		if r.excluded != nil {
			excluded = append(excluded, *r.excluded)
			continue
		}
		if r.skipped {
			continue
		}
		key := r.capture.SpeakerID
		if key == "" {
			key = r.capture.SpeakerLabel
		}
		bySpeaker[key] = append(bySpeaker[key], r.segments...)
	}
	return bySpeaker, excluded, nil
}

func (p *Pipeline) transcribeOne(ctx context.Context, log *slog.Logger, c capture.Result) ([]transcribe.CorrelatedSegment, *session.Exclusion) {
	segs, err := p.transcriber.Transcribe(ctx, c.OutputPath, c.SpeakerLabel)
	if err != nil {
		if ctx.Err() == nil {
			log.Warn("transcription failed, excluding speaker", "speaker", c.SpeakerLabel, "path", c.OutputPath, "error", err)
		}
		return nil, exclusion(c, StageTranscription, fmt.Errorf("%w: %w", session.ErrTranscriptionFailed, err).Error())
	}
	if c.Index == nil {
		return nil, exclusion(c, StageCorrelation, "no timestamp index")
	}
	correlated, err := transcribe.Correlate(c.Index, c.Format.BytesPerSecond(), segs)
	if err != nil {
		log.Warn("correlation failed, excluding speaker", "speaker", c.SpeakerLabel, "error", err)
		return nil, exclusion(c, StageCorrelation, err.Error())
	}
	log.Debug("speaker transcribed", "speaker", c.SpeakerLabel, "segments", len(correlated))
	return correlated, nil
}

func exclusion(c capture.Result, stage, reason string) *session.Exclusion {
	return &session.Exclusion{
		SpeakerID:    c.SpeakerID,
		SpeakerLabel: c.SpeakerLabel,
		Stage:        stage,
		Reason:       reason,
	}
}

// summarize fills the summary fields of outcome. Only a failed summary write
// is returned as an error.
func (p *Pipeline) summarize(ctx context.Context, log *slog.Logger, sess session.Session, tr transcript.Transcript, outcome *session.Outcome) error {
	if tr.Empty() {
		outcome.SummaryStatus = session.SummaryNothing
		p.recordSummary(log, sess.ID, "", outcome.SummaryStatus)
		return nil
	}
	if p.summarizer == nil {
		outcome.SummaryStatus = session.SummaryDisabled
		p.recordSummary(log, sess.ID, "", outcome.SummaryStatus)
		return nil
	}

	input := tr.Text()
	hash := promptHash(p.cfg.SummaryKey, input)

	if p.catalog != nil {
		claimed, err := p.catalog.ClaimSummaryRequest(sess.ID, hash)
		if err != nil {
			log.Warn("summary claim failed, summarizing anyway", "error", err)
		} else if !claimed {
			if prev, ok := p.previousSummary(sess.ID); ok {
				log.Info("identical summary request already made, reusing result")
				outcome.Summary = prev.Summary
				outcome.SummaryStatus = session.SummaryStatus(prev.SummaryStatus)
				outcome.SummaryPath = prev.SummaryPath
				return nil
			}
		}
	}

	res, err := p.summarizer.Summarize(ctx, input)
	if err != nil {
		status, reason := session.SummaryUnavailable, err.Error()
		if errors.Is(err, summary.ErrNothingToSummarize) {
			status = session.SummaryNothing
		} else {
			log.Error("summarization failed, keeping transcript", "error", fmt.Errorf("%w: %w", session.ErrSummarizationFailed, err))
		}
		outcome.SummaryStatus = status
		if p.catalog != nil {
			if rerr := p.catalog.ReleaseSummaryRequest(sess.ID, hash); rerr != nil {
				log.Warn("summary claim release failed", "error", rerr)
			}
		}
		p.recordSummary(log, sess.ID, "", status)
		if status == session.SummaryUnavailable && p.notifier != nil {
			p.notifier.BroadcastSummaryUnavailable(sess, reason)
		}
		return nil
	}

	outcome.Summary = "Attendees: " + strings.Join(tr.Attendees(), ", ") + "\n\n" + res.Text
	outcome.SummaryStatus = session.SummaryCompleted
	if res.Partial() {
		outcome.SummaryStatus = session.SummaryPartial
		log.Warn("summary is partial", "chunks", res.Chunks, "failed_chunks", res.FailedChunks, "reduce_failed", res.Failed)
	}

	path, err := p.artifacts.WriteSummary(sess.ID, outcome.Summary, p.now())
	if err != nil {
		return fmt.Errorf("%w: write summary: %w", session.ErrIO, err)
	}
	outcome.SummaryPath = path
	p.recordSummary(log, sess.ID, outcome.Summary, outcome.SummaryStatus)
	if p.notifier != nil {
		p.notifier.BroadcastSummaryReady(sess, path, outcome.SummaryStatus)
	}
	return nil
}

func (p *Pipeline) previousSummary(id string) (storage.SessionRecord, bool) {
	rec, err := p.catalog.GetSession(id)
	if err != nil || rec.Summary == "" {
		return storage.SessionRecord{}, false
	}
	return rec, true
}

func (p *Pipeline) recordSummary(log *slog.Logger, id, text string, status session.SummaryStatus) {
	if p.catalog == nil {
		return
	}
	if err := p.catalog.UpdateSummary(id, text, status); err != nil {
		log.Warn("catalog summary update failed", "error", err)
	}
}

func (p *Pipeline) sync(ctx context.Context, log *slog.Logger, id string, paths ...string) {
	if p.syncer == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultSyncTimeout)
	defer cancel()
	if err := p.syncer.Sync(ctx, id, paths...); err != nil {
		log.Warn("artifact sync failed", "error", err)
	}
}

func promptHash(key, input string) string {
	sum := sha256.Sum256([]byte(key + "\x00" + input))
	return hex.EncodeToString(sum[:])
}
