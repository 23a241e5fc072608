// Package transcribe turns one speaker's recording into timed text segments
// and re-bases them onto wall-clock time.
package transcribe

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sjawhar/ghost-scribe/internal/timeline"
)

var ErrUnknownProvider = errors.New("unknown transcription provider")

// Adapter transcribes a single audio file. Segment times are seconds from the
// start of that file.
type Adapter interface {
	Transcribe(ctx context.Context, audioPath, speakerLabel string) ([]Segment, error)
}

type AdapterFunc func(ctx context.Context, audioPath, speakerLabel string) ([]Segment, error)

func (f AdapterFunc) Transcribe(ctx context.Context, audioPath, speakerLabel string) ([]Segment, error) {
	return f(ctx, audioPath, speakerLabel)
}

type Options struct {
	Provider string
	Model    string
	Language string
	APIKey   string
	BaseURL  string
}

// New builds the adapter for the configured provider.
func New(opts Options) (Adapter, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Provider)) {
	case "", "openai":
		return NewOpenAI(opts.APIKey, opts.Model, opts.Language, opts.BaseURL), nil
	case "deepgram":
		return NewDeepgram(opts.APIKey, opts.Model, opts.Language), nil
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownProvider, opts.Provider)
	}
}

// Correlate maps file-relative segments onto wall-clock time through the
// recording's timestamp index.
func Correlate(index *timeline.Index, bytesPerSecond int, segs []Segment) ([]CorrelatedSegment, error) {
	out := make([]CorrelatedSegment, 0, len(segs))
	for _, s := range segs {
		start, err := index.ResolveOffset(s.Start, bytesPerSecond)
		if err != nil {
			return nil, fmt.Errorf("resolve start of %q: %w", s.SpeakerLabel, err)
		}
		end, err := index.ResolveOffset(s.End, bytesPerSecond)
		if err != nil {
			return nil, fmt.Errorf("resolve end of %q: %w", s.SpeakerLabel, err)
		}
		if end.Before(start) {
			end = start
		}
		out = append(out, CorrelatedSegment{
			SpeakerLabel: s.SpeakerLabel,
			Start:        start,
			End:          end,
			Text:         s.Text,
		})
	}
	return out, nil
}
