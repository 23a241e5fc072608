// Package voice models the live voice connection: who is present and a
// per-speaker PCM stream for each of them.
package voice

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"sync"
)

var (
	ErrUnknownSpeaker = errors.New("speaker is not in the room")
	ErrDuplicate      = errors.New("speaker already joined")
)

type Speaker struct {
	ID    string `json:"id"`
	Label string `json:"label"`
	Bot   bool   `json:"bot,omitempty"`
}

// Connection is what the session registry needs from a voice connection.
type Connection interface {
	ID() string
	Speakers() []Speaker
	// Subscribe returns the speaker's decoded PCM stream. Closing it ends the
	// subscription; audio sent while nobody is subscribed is discarded.
	Subscribe(speakerID string) (io.ReadCloser, error)
}

type EventKind int

const (
	SpeakerJoined EventKind = iota
	SpeakerLeft
)

type Event struct {
	Kind    EventKind
	Speaker Speaker
}

type member struct {
	speaker Speaker
	sub     *io.PipeWriter
}

// Room is an in-process Connection fed by local or remote audio producers.
type Room struct {
	id string

	mu        sync.Mutex
	members   map[string]*member
	listeners []func(Event)
}

func NewRoom(id string) *Room {
	return &Room{id: id, members: make(map[string]*member)}
}

func (r *Room) ID() string { return r.id }

// OnChange registers a listener for joins and leaves. Listeners run outside
// the room lock.
func (r *Room) OnChange(fn func(Event)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// Join adds a speaker and returns the producer side of its stream. Closing
// the returned writer makes the speaker leave.
func (r *Room) Join(s Speaker) (io.WriteCloser, error) {
	if s.ID == "" {
		return nil, fmt.Errorf("%w: empty speaker id", ErrUnknownSpeaker)
	}
	if s.Label == "" {
		s.Label = s.ID
	}

	r.mu.Lock()
	if _, ok := r.members[s.ID]; ok {
		r.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrDuplicate, s.ID)
	}
	r.members[s.ID] = &member{speaker: s}
	listeners := append([]func(Event){}, r.listeners...)
	r.mu.Unlock()

	slog.Info("speaker joined", "room", r.id, "speaker", s.Label, "speaker_id", s.ID, "bot", s.Bot)
	for _, fn := range listeners {
		fn(Event{Kind: SpeakerJoined, Speaker: s})
	}
	return &feed{room: r, id: s.ID}, nil
}

// Leave removes a speaker and ends any open subscription with EOF.
func (r *Room) Leave(id string) {
	r.mu.Lock()
	m, ok := r.members[id]
	if ok {
		delete(r.members, id)
	}
	listeners := append([]func(Event){}, r.listeners...)
	r.mu.Unlock()
	if !ok {
		return
	}

	if m.sub != nil {
		_ = m.sub.Close()
	}
	slog.Info("speaker left", "room", r.id, "speaker", m.speaker.Label, "speaker_id", id)
	for _, fn := range listeners {
		fn(Event{Kind: SpeakerLeft, Speaker: m.speaker})
	}
}

func (r *Room) Speakers() []Speaker {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Speaker, 0, len(r.members))
	for _, m := range r.members {
		out = append(out, m.speaker)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Subscribe replaces any previous subscription for the speaker.
func (r *Room) Subscribe(speakerID string) (io.ReadCloser, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	m, ok := r.members[speakerID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSpeaker, speakerID)
	}
	if m.sub != nil {
		_ = m.sub.Close()
	}
	pr, pw := io.Pipe()
	m.sub = pw
	return pr, nil
}

func (r *Room) subscriber(id string) (*io.PipeWriter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.members[id]
	if !ok {
		return nil, false
	}
	return m.sub, true
}

func (r *Room) unsubscribe(id string, pw *io.PipeWriter) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if m, ok := r.members[id]; ok && m.sub == pw {
		m.sub = nil
	}
}

type feed struct {
	room *Room
	id   string
	once sync.Once
}

// Write forwards audio to the current subscriber, if any. Audio is dropped
// rather than buffered when nobody listens.
func (f *feed) Write(p []byte) (int, error) {
	pw, ok := f.room.subscriber(f.id)
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrUnknownSpeaker, f.id)
	}
	if pw == nil {
		return len(p), nil
	}
	if _, err := pw.Write(p); err != nil {
		f.room.unsubscribe(f.id, pw)
	}
	return len(p), nil
}

func (f *feed) Close() error {
	f.once.Do(func() { f.room.Leave(f.id) })
	return nil
}
