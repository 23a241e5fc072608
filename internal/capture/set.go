package capture

import (
	"fmt"
	"io"
	"log/slog"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sjawhar/ghost-scribe/internal/audio"
)

const stampLayout = "20060102T150405.000Z"

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9-]+`)

// FileName encodes speaker label, speaker id and capture start time.
func FileName(label, speakerID string, at time.Time) string {
	return fmt.Sprintf("audio_%s_%s_%s.wav", fileToken(label), fileToken(speakerID), at.UTC().Format(stampLayout))
}

// ParseFileName reverses FileName.
func ParseFileName(name string) (label, speakerID string, at time.Time, ok bool) {
	base := filepath.Base(name)
	if !strings.HasPrefix(base, "audio_") || !strings.HasSuffix(base, ".wav") {
		return "", "", time.Time{}, false
	}
	parts := strings.Split(strings.TrimSuffix(strings.TrimPrefix(base, "audio_"), ".wav"), "_")
	if len(parts) != 3 {
		return "", "", time.Time{}, false
	}
	at, err := time.Parse(stampLayout, parts[2])
	if err != nil {
		return "", "", time.Time{}, false
	}
	return parts[0], parts[1], at, true
}

func fileToken(s string) string {
	s = strings.Trim(unsafeFileChars.ReplaceAllString(s, "-"), "-")
	if s == "" {
		return "unknown"
	}
	return s
}

// Hooks lets the owner observe channel activity and failures.
type Hooks struct {
	OnActivity func()
	OnExcluded func(Result)
}

// Set holds every channel of one session. Channels are keyed by speaker id;
// a speaker who leaves and rejoins gets a fresh channel and file.
type Set struct {
	dir   string
	cfg   Config
	sinks audio.SinkFactory
	hooks Hooks
	now   func() time.Time

	stopTimeout time.Duration

	mu       sync.Mutex
	closed   bool
	active   map[string]*Channel
	finished []Result
}

func NewSet(dir string, cfg Config, sinks audio.SinkFactory, stopTimeout time.Duration, hooks Hooks) *Set {
	return &Set{
		dir:         dir,
		cfg:         cfg,
		sinks:       sinks,
		hooks:       hooks,
		now:         time.Now,
		stopTimeout: stopTimeout,
		active:      make(map[string]*Channel),
	}
}

// Start opens a channel for one speaker.
func (s *Set) Start(speakerID, label string, source io.ReadCloser) (*Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrSetClosed
	}
	if _, ok := s.active[speakerID]; ok {
		return nil, fmt.Errorf("%w: %s", ErrCapturing, speakerID)
	}

	path := filepath.Join(s.dir, FileName(label, speakerID, s.now()))
	ch, err := Start(s.cfg, Params{
		SpeakerID:  speakerID,
		Label:      label,
		OutputPath: path,
		Source:     source,
		Sinks:      s.sinks,
		OnActivity: s.hooks.OnActivity,
		OnExit:     s.handleExit,
		Now:        s.now,
	})
	if err != nil {
		return nil, err
	}
	s.active[speakerID] = ch
	return ch, nil
}

// RecordFailure keeps a speaker whose channel never started, so it is still
// reported as excluded when the session ends. OutputPath is the file the
// channel would have written.
func (s *Set) RecordFailure(speakerID, label, reason string) Result {
	s.mu.Lock()
	defer s.mu.Unlock()

	at := s.now()
	res := Result{
		SpeakerID:    speakerID,
		SpeakerLabel: label,
		OutputPath:   filepath.Join(s.dir, FileName(label, speakerID, at)),
		Format:       s.cfg.Format,
		StartedAt:    at,
		StoppedAt:    at,
		Excluded:     true,
		Reason:       reason,
	}
	if !s.closed {
		s.finished = append(s.finished, res)
	}
	return res
}

func (s *Set) handleExit(ch *Channel) {
	res := ch.Stop(s.stopTimeout)

	s.mu.Lock()
	if cur, ok := s.active[ch.SpeakerID()]; ok && cur == ch {
		delete(s.active, ch.SpeakerID())
		s.finished = append(s.finished, res)
	}
	s.mu.Unlock()

	if s.hooks.OnExcluded != nil {
		s.hooks.OnExcluded(res)
	}
}

// StopSpeaker stops one speaker's channel, keeping its result for
// aggregation.
func (s *Set) StopSpeaker(speakerID string) (Result, bool) {
	s.mu.Lock()
	ch, ok := s.active[speakerID]
	if ok {
		delete(s.active, speakerID)
	}
	s.mu.Unlock()
	if !ok {
		return Result{}, false
	}

	res := ch.Stop(s.stopTimeout)

	s.mu.Lock()
	s.finished = append(s.finished, res)
	s.mu.Unlock()

	if res.Excluded && s.hooks.OnExcluded != nil {
		s.hooks.OnExcluded(res)
	}
	return res, true
}

// StopAll closes the set and stops every active channel in parallel. It
// returns all results of the session, including channels stopped earlier,
// ordered by start time then speaker id.
func (s *Set) StopAll() []Result {
	s.mu.Lock()
	s.closed = true
	channels := make([]*Channel, 0, len(s.active))
	for _, ch := range s.active {
		channels = append(channels, ch)
	}
	s.active = make(map[string]*Channel)
	s.mu.Unlock()

	results := make([]Result, len(channels))
	var wg sync.WaitGroup
	for i, ch := range channels {
		wg.Add(1)
		go func(i int, ch *Channel) {
			defer wg.Done()
			results[i] = ch.Stop(s.stopTimeout)
		}(i, ch)
	}
	wg.Wait()

	s.mu.Lock()
	all := append(append([]Result(nil), s.finished...), results...)
	s.mu.Unlock()

	sort.SliceStable(all, func(i, j int) bool {
		if !all[i].StartedAt.Equal(all[j].StartedAt) {
			return all[i].StartedAt.Before(all[j].StartedAt)
		}
		return all[i].SpeakerID < all[j].SpeakerID
	})

	for _, res := range results {
		if res.Excluded {
			slog.Warn("speaker excluded from aggregation", "speaker", res.SpeakerLabel, "reason", res.Reason)
		}
	}
	return all
}

// Active lists speaker ids with a recording channel.
func (s *Set) Active() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.active))
	for id := range s.active {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
