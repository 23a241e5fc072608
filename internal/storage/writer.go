package storage

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sjawhar/ghost-scribe/internal/session"
)

const (
	transcriptPrefix = "full_"
	summaryPrefix    = "summary_"
	artifactStamp    = "20060102T150405.000Z"
)

// Writer owns the on-disk layout: one directory per session under the
// recordings root and one under the transcripts root.
type Writer struct {
	recordingsDir  string
	transcriptsDir string
	mu             sync.Mutex
}

func NewWriter(recordingsDir, transcriptsDir string) *Writer {
	return &Writer{recordingsDir: recordingsDir, transcriptsDir: transcriptsDir}
}

// Dirs returns the session's recordings and transcripts directories.
func (w *Writer) Dirs(name string) (recordings, transcripts string) {
	return filepath.Join(w.recordingsDir, name), filepath.Join(w.transcriptsDir, name)
}

func (w *Writer) SessionExists(name string) (bool, error) {
	if err := checkName(name); err != nil {
		return false, err
	}
	rec, tr := w.Dirs(name)
	for _, dir := range []string{rec, tr} {
		_, err := os.Stat(dir)
		if err == nil {
			return true, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return false, fmt.Errorf("stat %s: %w", dir, err)
		}
	}
	return false, nil
}

// CreateSessionDirs creates both session directories. It fails with an
// fs.ErrExist error if either already exists and leaves nothing behind on
// failure.
func (w *Writer) CreateSessionDirs(name string) (string, string, error) {
	if err := checkName(name); err != nil {
		return "", "", err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, root := range []string{w.recordingsDir, w.transcriptsDir} {
		if err := os.MkdirAll(root, 0o755); err != nil {
			return "", "", fmt.Errorf("mkdir %s: %w", root, err)
		}
	}
	rec, tr := w.Dirs(name)
	if err := os.Mkdir(rec, 0o755); err != nil {
		return "", "", fmt.Errorf("mkdir %s: %w", rec, err)
	}
	if err := os.Mkdir(tr, 0o755); err != nil {
		_ = os.Remove(rec)
		return "", "", fmt.Errorf("mkdir %s: %w", tr, err)
	}
	return rec, tr, nil
}

func (w *Writer) WriteTranscript(name, text string, at time.Time) (string, error) {
	return w.writeArtifact(name, transcriptPrefix, text, at)
}

func (w *Writer) WriteSummary(name, text string, at time.Time) (string, error) {
	return w.writeArtifact(name, summaryPrefix, text, at)
}

func (w *Writer) writeArtifact(name, prefix, text string, at time.Time) (string, error) {
	if err := checkName(name); err != nil {
		return "", err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	_, dir := w.Dirs(name)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("mkdir %s: %w", dir, err)
	}

	path := filepath.Join(dir, prefix+at.UTC().Format(artifactStamp)+".txt")
	tmp, err := os.CreateTemp(dir, "."+prefix+"*.tmp")
	if err != nil {
		return "", fmt.Errorf("create temp in %s: %w", dir, err)
	}
	if _, err := tmp.WriteString(text); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("write %s: %w", path, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		_ = os.Remove(tmp.Name())
		return "", fmt.Errorf("rename %s: %w", path, err)
	}
	return path, nil
}

// LatestTranscript returns the newest transcript of a session by
// modification time.
func (w *Writer) LatestTranscript(name string) (string, string, error) {
	return w.latest(name, transcriptPrefix)
}

func (w *Writer) LatestSummary(name string) (string, string, error) {
	return w.latest(name, summaryPrefix)
}

func (w *Writer) latest(name, prefix string) (string, string, error) {
	if err := checkName(name); err != nil {
		return "", "", err
	}
	_, dir := w.Dirs(name)
	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return "", "", fmt.Errorf("%w: session %s", session.ErrNotFound, name)
	}
	if err != nil {
		return "", "", fmt.Errorf("read %s: %w", dir, err)
	}

	var (
		best    string
		bestMod time.Time
	)
	for _, e := range entries {
		if e.IsDir() || !strings.HasPrefix(e.Name(), prefix) || !strings.HasSuffix(e.Name(), ".txt") {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		mod := info.ModTime()
		if best == "" || mod.After(bestMod) || (mod.Equal(bestMod) && e.Name() > filepath.Base(best)) {
			best, bestMod = filepath.Join(dir, e.Name()), mod
		}
	}
	if best == "" {
		return "", "", fmt.Errorf("%w: no %s artifact for session %s", session.ErrNotFound, strings.TrimSuffix(prefix, "_"), name)
	}

	data, err := os.ReadFile(best)
	if err != nil {
		return "", "", fmt.Errorf("read %s: %w", best, err)
	}
	return best, string(data), nil
}

// RecordingFiles lists a session's WAV recordings in name order.
func (w *Writer) RecordingFiles(name string) ([]string, error) {
	if err := checkName(name); err != nil {
		return nil, err
	}
	rec, _ := w.Dirs(name)
	if _, err := os.Stat(rec); errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: session %s", session.ErrNotFound, name)
	}
	files, err := filepath.Glob(filepath.Join(rec, "audio_*.wav"))
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// ListSessions returns the names of every session directory in either root.
func (w *Writer) ListSessions() ([]string, error) {
	seen := make(map[string]struct{})
	for _, root := range []string{w.recordingsDir, w.transcriptsDir} {
		entries, err := os.ReadDir(root)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", root, err)
		}
		for _, e := range entries {
			if e.IsDir() && !strings.HasPrefix(e.Name(), ".") {
				seen[e.Name()] = struct{}{}
			}
		}
	}
	names := make([]string, 0, len(seen))
	for n := range seen {
		names = append(names, n)
	}
	sort.Strings(names)
	return names, nil
}

func (w *Writer) DeleteSession(name string) error {
	exists, err := w.SessionExists(name)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("%w: session %s", session.ErrNotFound, name)
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	rec, tr := w.Dirs(name)
	for _, dir := range []string{rec, tr} {
		if err := os.RemoveAll(dir); err != nil {
			return fmt.Errorf("remove %s: %w", dir, err)
		}
	}
	return nil
}

// PurgeAll removes every session directory from both roots and reports how
// many distinct sessions were removed.
func (w *Writer) PurgeAll() (int, error) {
	names, err := w.ListSessions()
	if err != nil {
		return 0, err
	}
	w.mu.Lock()
	defer w.mu.Unlock()

	for _, n := range names {
		rec, tr := w.Dirs(n)
		for _, dir := range []string{rec, tr} {
			if err := os.RemoveAll(dir); err != nil {
				return 0, fmt.Errorf("remove %s: %w", dir, err)
			}
		}
	}
	return len(names), nil
}

func checkName(name string) error {
	if name == "" || name == "." || name == ".." || name != filepath.Base(name) || strings.ContainsAny(name, `/\`) {
		return fmt.Errorf("%w: bad session name %q", session.ErrInvalidInput, name)
	}
	return nil
}
