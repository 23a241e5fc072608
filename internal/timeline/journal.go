package timeline

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	DefaultFlushInterval  = 5 * time.Minute
	DefaultFlushBatchSize = 1000
	sidecarSuffix         = "_timestamps.jsonl"
)

var ErrJournalClosed = errors.New("timestamp journal closed")

// Batch is one JSONL line of the sidecar file.
type Batch struct {
	Samples   []Sample  `json:"samples"`
	StartedAt time.Time `json:"started_at"`
	Final     bool      `json:"final"`
}

// SidecarPath returns the journal path that sits next to an audio file.
func SidecarPath(audioPath string) string {
	return strings.TrimSuffix(audioPath, filepath.Ext(audioPath)) + sidecarSuffix
}

// Journal batches samples and appends them to a sidecar file, either when the
// batch is full or when the flush interval elapses after the first unflushed
// sample. A crash loses at most one batch.
type Journal struct {
	path      string
	startedAt time.Time
	maxSize   int
	interval  time.Duration

	mu      sync.Mutex
	file    *os.File
	pending []Sample
	timer   *time.Timer
	closed  bool
	lastErr error
}

func OpenJournal(path string, startedAt time.Time, maxSize int, interval time.Duration) (*Journal, error) {
	if maxSize <= 0 {
		maxSize = DefaultFlushBatchSize
	}
	if interval <= 0 {
		interval = DefaultFlushInterval
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open timestamp journal: %w", err)
	}

	return &Journal{
		path:      path,
		startedAt: startedAt,
		maxSize:   maxSize,
		interval:  interval,
		file:      f,
		pending:   make([]Sample, 0, maxSize),
	}, nil
}

func (j *Journal) Path() string { return j.path }

// Add queues a sample for the next flush.
func (j *Journal) Add(s Sample) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.closed {
		return ErrJournalClosed
	}

	j.pending = append(j.pending, s)
	if len(j.pending) >= j.maxSize {
		return j.flushLocked(false)
	}

	if j.timer == nil {
		j.timer = time.AfterFunc(j.interval, j.timerFlush)
	}
	return nil
}

func (j *Journal) timerFlush() {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return
	}
	if err := j.flushLocked(false); err != nil {
		slog.Warn("timestamp journal flush failed", "path", j.path, "error", err)
	}
}

// Flush writes pending samples now.
func (j *Journal) Flush() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return ErrJournalClosed
	}
	return j.flushLocked(false)
}

// Close writes the final batch, marked final even when empty, and closes the
// file. Calling Close again is a no-op.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.closed {
		return j.lastErr
	}

	err := j.flushLocked(true)
	j.closed = true
	if cerr := j.file.Close(); err == nil && cerr != nil {
		err = fmt.Errorf("close timestamp journal: %w", cerr)
	}
	j.lastErr = err
	return err
}

func (j *Journal) flushLocked(final bool) error {
	if j.timer != nil {
		j.timer.Stop()
		j.timer = nil
	}
	if len(j.pending) == 0 && !final {
		return nil
	}

	line, err := json.Marshal(Batch{Samples: j.pending, StartedAt: j.startedAt, Final: final})
	if err != nil {
		return fmt.Errorf("encode timestamp batch: %w", err)
	}
	line = append(line, '\n')
	if _, err := j.file.Write(line); err != nil {
		return fmt.Errorf("write timestamp batch: %w", err)
	}

	j.pending = make([]Sample, 0, j.maxSize)
	return nil
}

// LoadJournal rebuilds an index from a sidecar file. It reports whether the
// final batch was found, which tells a clean stop apart from a crash.
func LoadJournal(path string) (*Index, bool, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, false, fmt.Errorf("open timestamp journal: %w", err)
	}
	defer f.Close()

	idx := NewIndex()
	final := false

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := strings.TrimSpace(scanner.Text())
		if raw == "" {
			continue
		}
		var batch Batch
		if err := json.Unmarshal([]byte(raw), &batch); err != nil {
			// A torn last line is what a crash mid-write leaves behind.
			slog.Warn("skipping unreadable timestamp batch", "path", path, "line", line, "error", err)
			continue
		}
		for _, s := range batch.Samples {
			if err := idx.RecordSample(s.Position, s.Time); err != nil {
				return nil, false, fmt.Errorf("timestamp journal line %d: %w", line, err)
			}
		}
		if batch.Final {
			final = true
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, false, fmt.Errorf("read timestamp journal: %w", err)
	}
	return idx, final, nil
}
