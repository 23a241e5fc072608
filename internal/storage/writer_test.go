package storage

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/sjawhar/ghost-scribe/internal/session"
)

func newTestWriter(t *testing.T) (*Writer, string) {
	t.Helper()
	root := t.TempDir()
	return NewWriter(filepath.Join(root, "recordings"), filepath.Join(root, "transcripts")), root
}

func TestWriterCreateSessionDirs(t *testing.T) {
	w, root := newTestWriter(t)

	rec, tr, err := w.CreateSessionDirs("alpha")
	if err != nil {
		t.Fatalf("CreateSessionDirs failed: %v", err)
	}
	if rec != filepath.Join(root, "recordings", "alpha") || tr != filepath.Join(root, "transcripts", "alpha") {
		t.Fatalf("unexpected dirs %s %s", rec, tr)
	}
	exists, err := w.SessionExists("alpha")
	if err != nil || !exists {
		t.Fatalf("expected alpha to exist, got %v %v", exists, err)
	}

	if _, _, err := w.CreateSessionDirs("alpha"); !errors.Is(err, fs.ErrExist) {
		t.Fatalf("expected fs.ErrExist on second create, got %v", err)
	}
}

func TestWriterCollisionInEitherRoot(t *testing.T) {
	w, root := newTestWriter(t)
	if err := os.MkdirAll(filepath.Join(root, "transcripts", "beta"), 0o755); err != nil {
		t.Fatalf("mkdir failed: %v", err)
	}

	exists, err := w.SessionExists("beta")
	if err != nil || !exists {
		t.Fatalf("expected beta to exist via transcripts root, got %v %v", exists, err)
	}
	if _, _, err := w.CreateSessionDirs("beta"); !errors.Is(err, fs.ErrExist) {
		t.Fatalf("expected fs.ErrExist, got %v", err)
	}
	if _, err := os.Stat(filepath.Join(root, "recordings", "beta")); !errors.Is(err, fs.ErrNotExist) {
		t.Fatalf("expected recordings dir to be rolled back, got %v", err)
	}
}

func TestWriterRejectsPathNames(t *testing.T) {
	w, _ := newTestWriter(t)
	for _, name := range []string{"", "..", "a/b", `a\b`} {
		if _, _, err := w.CreateSessionDirs(name); !errors.Is(err, session.ErrInvalidInput) {
			t.Fatalf("expected ErrInvalidInput for %q, got %v", name, err)
		}
	}
}

func TestWriterLatestArtifactByModTime(t *testing.T) {
	w, _ := newTestWriter(t)
	if _, _, err := w.CreateSessionDirs("gamma"); err != nil {
		t.Fatalf("CreateSessionDirs failed: %v", err)
	}

	if _, _, err := w.LatestTranscript("gamma"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound before any transcript, got %v", err)
	}

	t0 := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	// The later file name is written first and then aged, so only
	// modification time can pick the second write.
	older, err := w.WriteTranscript("gamma", "second run", t0.Add(time.Hour))
	if err != nil {
		t.Fatalf("WriteTranscript failed: %v", err)
	}
	if err := os.Chtimes(older, t0, t0); err != nil {
		t.Fatalf("Chtimes failed: %v", err)
	}
	newer, err := w.WriteTranscript("gamma", "first run", t0)
	if err != nil {
		t.Fatalf("WriteTranscript failed: %v", err)
	}

	path, text, err := w.LatestTranscript("gamma")
	if err != nil {
		t.Fatalf("LatestTranscript failed: %v", err)
	}
	if path != newer || text != "first run" {
		t.Fatalf("expected newest by mtime %s, got %s %q", newer, path, text)
	}
	if !strings.HasPrefix(filepath.Base(path), "full_") {
		t.Fatalf("unexpected transcript name %s", path)
	}

	if _, err := w.WriteSummary("gamma", "- done", t0); err != nil {
		t.Fatalf("WriteSummary failed: %v", err)
	}
	_, summary, err := w.LatestSummary("gamma")
	if err != nil || summary != "- done" {
		t.Fatalf("unexpected summary %q %v", summary, err)
	}

	if _, _, err := w.LatestSummary("missing"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing session, got %v", err)
	}
}

func TestWriterDeleteAndPurge(t *testing.T) {
	w, _ := newTestWriter(t)
	for _, n := range []string{"a", "b"} {
		if _, _, err := w.CreateSessionDirs(n); err != nil {
			t.Fatalf("CreateSessionDirs(%s) failed: %v", n, err)
		}
	}

	if err := w.DeleteSession("a"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	if err := w.DeleteSession("a"); !errors.Is(err, session.ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second delete, got %v", err)
	}

	names, err := w.ListSessions()
	if err != nil {
		t.Fatalf("ListSessions failed: %v", err)
	}
	if len(names) != 1 || names[0] != "b" {
		t.Fatalf("expected [b], got %v", names)
	}

	n, err := w.PurgeAll()
	if err != nil {
		t.Fatalf("PurgeAll failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 purged session, got %d", n)
	}
	if names, _ := w.ListSessions(); len(names) != 0 {
		t.Fatalf("expected no sessions after purge, got %v", names)
	}
}

func TestWriterRecordingFiles(t *testing.T) {
	w, _ := newTestWriter(t)
	rec, _, err := w.CreateSessionDirs("delta")
	if err != nil {
		t.Fatalf("CreateSessionDirs failed: %v", err)
	}
	for _, name := range []string{"audio_Bob_2_x.wav", "audio_Ann_1_x.wav", "audio_Ann_1_x_timestamps.jsonl"} {
		if err := os.WriteFile(filepath.Join(rec, name), nil, 0o644); err != nil {
			t.Fatalf("write failed: %v", err)
		}
	}

	files, err := w.RecordingFiles("delta")
	if err != nil {
		t.Fatalf("RecordingFiles failed: %v", err)
	}
	if len(files) != 2 || filepath.Base(files[0]) != "audio_Ann_1_x.wav" {
		t.Fatalf("unexpected recordings %v", files)
	}
}
