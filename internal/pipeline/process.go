package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/sjawhar/ghost-scribe/internal/audio"
	"github.com/sjawhar/ghost-scribe/internal/capture"
	"github.com/sjawhar/ghost-scribe/internal/session"
	"github.com/sjawhar/ghost-scribe/internal/timeline"
)

// ProcessSession reruns the pipeline over the recordings of an ended
// session, rebuilding each timestamp index from its sidecar.
func (p *Pipeline) ProcessSession(ctx context.Context, name string) (session.Outcome, error) {
	files, err := p.artifacts.RecordingFiles(name)
	if err != nil {
		return session.Outcome{}, err
	}

	recDir, trDir := p.artifacts.Dirs(name)
	sess := session.Session{ID: name, RecordingsDir: recDir, TranscriptsDir: trDir}

	captures := make([]capture.Result, 0, len(files))
	for _, f := range files {
		c, ok := LoadCapture(f)
		if !ok {
			continue
		}
		if sess.StartedAt.IsZero() || c.StartedAt.Before(sess.StartedAt) {
			sess.StartedAt = c.StartedAt
		}
		captures = append(captures, c)
	}

	if p.catalog != nil {
		rec, err := p.catalog.GetSession(name)
		switch {
		case err == nil:
			sess.NotifyTarget = rec.NotifyTarget
			sess.StartedAt = rec.StartedAt
		case errors.Is(err, session.ErrNotFound):
			if cerr := p.catalog.CreateSession(sess); cerr == nil {
				_ = p.catalog.SetSessionState(name, session.StateIdle)
			} else {
				slog.Warn("catalog insert for reprocessed session failed", "session", name, "error", cerr)
			}
		default:
			slog.Warn("catalog lookup failed", "session", name, "error", err)
		}
	}

	slog.Info("reprocessing session", "session", name, "recordings", len(captures))
	return p.Run(ctx, sess, captures)
}

// LoadCapture rebuilds a capture result from a recording on disk. Files that
// are not recordings are reported with ok=false. A recording without a
// usable sidecar comes back excluded, since its bytes cannot be placed in
// time.
func LoadCapture(path string) (capture.Result, bool) {
	label, speakerID, startedAt, ok := capture.ParseFileName(path)
	if !ok {
		return capture.Result{}, false
	}
	res := capture.Result{
		SpeakerID:    speakerID,
		SpeakerLabel: label,
		OutputPath:   path,
		IndexPath:    timeline.SidecarPath(path),
		StartedAt:    startedAt,
	}

	format, size, err := readRecording(path)
	if err != nil {
		res.Excluded, res.Reason = true, err.Error()
		return res, true
	}
	res.Format = format
	res.BytesWritten = size

	idx, final, err := timeline.LoadJournal(res.IndexPath)
	if err != nil {
		res.Excluded, res.Reason = true, err.Error()
		return res, true
	}
	if idx.Len() == 0 {
		res.Excluded, res.Reason = true, "timestamp index is empty"
		return res, true
	}
	if !final {
		slog.Warn("timestamp sidecar has no final batch, recording may be truncated", "path", path)
	}
	res.Index = idx
	if last, ok := idx.Last(); ok {
		res.StoppedAt = last.Time
	}
	return res, true
}

func readRecording(path string) (audio.Format, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return audio.Format{}, 0, fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	format, offset, err := audio.ReadWAVHeader(f)
	if err != nil {
		return audio.Format{}, 0, err
	}
	info, err := f.Stat()
	if err != nil {
		return audio.Format{}, 0, err
	}
	return format, info.Size() - offset, nil
}
