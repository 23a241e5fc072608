package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	api "github.com/deepgram/deepgram-go-sdk/v3/pkg/api/listen/v1/websocket/interfaces"
	interfaces "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/interfaces"
	client "github.com/deepgram/deepgram-go-sdk/v3/pkg/client/listen"

	"github.com/sjawhar/ghost-scribe/internal/audio"
)

const (
	// Words further apart than this start a new segment.
	deepgramSegmentGap = 1.5
	// Replay runs faster than real time but still paced.
	deepgramReplaySpeed = 4
	deepgramChunk       = 100 * time.Millisecond
	deepgramIdleTimeout = 10 * time.Second
)

var initDeepgram sync.Once

// Deepgram replays a finished recording through the live transcription
// websocket and collects the final results as segments.
type Deepgram struct {
	apiKey   string
	model    string
	language string
}

func NewDeepgram(apiKey, model, language string) *Deepgram {
	if model == "" {
		model = "nova-2"
	}
	if language == "" {
		language = "en-US"
	}
	return &Deepgram{apiKey: apiKey, model: model, language: language}
}

func (d *Deepgram) Transcribe(ctx context.Context, audioPath, speakerLabel string) ([]Segment, error) {
	f, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	format, offset, err := audio.ReadWAVHeader(f)
	if err != nil {
		return nil, err
	}
	if !format.Valid() {
		return nil, fmt.Errorf("recording %s has no usable format", audioPath)
	}
	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	total := float64(info.Size()-offset) / float64(format.BytesPerSecond())
	if total <= 0 {
		return nil, nil
	}

	initDeepgram.Do(func() {
		client.Init(client.InitLib{LogLevel: client.LogLevelDefault})
	})

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	cb := newReplayCallback(speakerLabel, total)
	cOptions := &interfaces.ClientOptions{EnableKeepAlive: true}
	tOptions := &interfaces.LiveTranscriptionOptions{
		Model:       d.model,
		Language:    d.language,
		Punctuate:   true,
		SmartFormat: true,
		Encoding:    "linear16",
		SampleRate:  format.SampleRate,
		Channels:    format.Channels,
	}

	dg, err := client.NewWSUsingCallback(ctx, d.apiKey, cOptions, tOptions, cb)
	if err != nil {
		return nil, fmt.Errorf("deepgram client: %w", err)
	}
	if ok := dg.Connect(); !ok {
		return nil, errors.New("deepgram connect failed")
	}
	defer dg.Stop()

	if err := replay(ctx, f, dg, format); err != nil {
		return nil, err
	}
	if err := cb.wait(ctx, deepgramIdleTimeout); err != nil {
		return nil, err
	}
	return cb.segments(), nil
}

// replay writes PCM at deepgramReplaySpeed times real time.
func replay(ctx context.Context, r io.Reader, w io.Writer, format audio.Format) error {
	size := int(float64(format.BytesPerSecond()) * deepgramChunk.Seconds())
	size -= size % format.FrameSize()
	buf := make([]byte, size)

	ticker := time.NewTicker(deepgramChunk / deepgramReplaySpeed)
	defer ticker.Stop()
	for {
		n, err := io.ReadFull(r, buf)
		if n > 0 {
			if _, werr := w.Write(buf[:n]); werr != nil {
				return fmt.Errorf("deepgram write: %w", werr)
			}
		}
		if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("read recording: %w", err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// replayCallback implements the live message callback for one recording.
type replayCallback struct {
	label string
	total float64

	mu       sync.Mutex
	pending  utterance
	segs     []Segment
	progress float64
	failure  error
	activity chan struct{}
	done     chan struct{}
	doneOnce sync.Once
}

func newReplayCallback(label string, total float64) *replayCallback {
	return &replayCallback{
		label:    label,
		total:    total,
		activity: make(chan struct{}, 1),
		done:     make(chan struct{}),
	}
}

func (c *replayCallback) Message(mr *api.MessageResponse) error {
	c.mu.Lock()
	if p := mr.Start + mr.Duration; p > c.progress {
		c.progress = p
	}
	progress := c.progress
	c.mu.Unlock()
	c.poke()

	if mr.IsFinal && len(mr.Channel.Alternatives) > 0 {
		alt := mr.Channel.Alternatives[0]
		if strings.TrimSpace(alt.Transcript) != "" {
			words := make([]Word, 0, len(alt.Words))
			for _, w := range alt.Words {
				text := w.PunctuatedWord
				if text == "" {
					text = w.Word
				}
				words = append(words, Word{PunctuatedWord: text, Start: w.Start, End: w.End})
			}
			c.mu.Lock()
			c.pending.add(words)
			c.mu.Unlock()
		}
		if mr.SpeechFinal {
			c.flush()
		}
	}

	if progress >= c.total-0.05 && mr.IsFinal {
		c.finish(nil)
	}
	return nil
}

func (c *replayCallback) flush() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if words := c.pending.take(); len(words) > 0 {
		c.segs = append(c.segs, GroupWords(c.label, words, deepgramSegmentGap)...)
	}
}

func (c *replayCallback) poke() {
	select {
	case c.activity <- struct{}{}:
	default:
	}
}

func (c *replayCallback) finish(err error) {
	c.doneOnce.Do(func() {
		c.mu.Lock()
		c.failure = err
		c.mu.Unlock()
		close(c.done)
	})
}

// wait blocks until every second of audio has a final result, the server
// closes, or no message arrives for idle.
func (c *replayCallback) wait(ctx context.Context, idle time.Duration) error {
	timer := time.NewTimer(idle)
	defer timer.Stop()
	for {
		select {
		case <-c.done:
			c.flush()
			c.mu.Lock()
			defer c.mu.Unlock()
			return c.failure
		case <-ctx.Done():
			return ctx.Err()
		case <-c.activity:
			timer.Reset(idle)
		case <-timer.C:
			slog.Warn("deepgram went quiet before the end of the recording", "speaker", c.label)
			c.flush()
			return nil
		}
	}
}

func (c *replayCallback) segments() []Segment {
	c.mu.Lock()
	defer c.mu.Unlock()
	return cleanSegments(c.label, append([]Segment(nil), c.segs...))
}

func (c *replayCallback) Open(*api.OpenResponse) error {
	slog.Debug("connected to Deepgram", "speaker", c.label)
	return nil
}

func (c *replayCallback) Metadata(*api.MetadataResponse) error { return nil }

func (c *replayCallback) SpeechStarted(*api.SpeechStartedResponse) error { return nil }

func (c *replayCallback) UtteranceEnd(*api.UtteranceEndResponse) error {
	c.flush()
	c.poke()
	return nil
}

func (c *replayCallback) Close(*api.CloseResponse) error {
	c.finish(nil)
	return nil
}

func (c *replayCallback) Error(er *api.ErrorResponse) error {
	slog.Error("deepgram error", "speaker", c.label, "code", er.ErrCode, "description", er.Description)
	c.finish(fmt.Errorf("deepgram error %s: %s", er.ErrCode, er.Description))
	return nil
}

func (c *replayCallback) UnhandledEvent([]byte) error { return nil }
