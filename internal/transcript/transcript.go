// Package transcript merges per-speaker correlated segments into one
// chronological, speaker-attributed transcript.
package transcript

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sjawhar/ghost-scribe/internal/transcribe"
)

const DefaultCoalesceGap = 500 * time.Millisecond

type Transcript struct {
	Segments []transcribe.CorrelatedSegment
}

func (t Transcript) Empty() bool { return len(t.Segments) == 0 }

// Merge flattens every speaker's segments, orders them by start, end, then
// label, and joins a speaker's consecutive segments separated by less than
// gap. Segments of different speakers are never joined.
func Merge(bySpeaker map[string][]transcribe.CorrelatedSegment, gap time.Duration) Transcript {
	var all []transcribe.CorrelatedSegment
	for label, segs := range bySpeaker {
		for _, s := range segs {
			if strings.TrimSpace(s.Text) == "" {
				continue
			}
			if s.SpeakerLabel == "" {
				s.SpeakerLabel = label
			}
			all = append(all, s)
		}
	}
	if len(all) == 0 {
		return Transcript{}
	}

	sortSegments(all)

	out := make([]transcribe.CorrelatedSegment, 0, len(all))
	for _, s := range all {
		if n := len(out); n > 0 {
			prev := &out[n-1]
			if prev.SpeakerLabel == s.SpeakerLabel && s.Start.Sub(prev.End) < gap {
				prev.Text = strings.TrimSpace(prev.Text) + " " + strings.TrimSpace(s.Text)
				if s.End.After(prev.End) {
					prev.End = s.End
				}
				continue
			}
		}
		s.Text = strings.TrimSpace(s.Text)
		out = append(out, s)
	}
	return Transcript{Segments: out}
}

func sortSegments(segs []transcribe.CorrelatedSegment) {
	sort.SliceStable(segs, func(i, j int) bool {
		a, b := segs[i], segs[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if !a.End.Equal(b.End) {
			return a.End.Before(b.End)
		}
		if a.SpeakerLabel != b.SpeakerLabel {
			return a.SpeakerLabel < b.SpeakerLabel
		}
		return a.Text < b.Text
	})
}

// Format renders one "[start - end] speaker: text" line per segment. Times
// are shown in loc.
func (t Transcript) Format(loc *time.Location) string {
	if loc == nil {
		loc = time.UTC
	}
	var b strings.Builder
	for _, s := range t.Segments {
		fmt.Fprintf(&b, "[%s - %s] %s: %s\n",
			s.Start.In(loc).Format("15:04:05"),
			s.End.In(loc).Format("15:04:05"),
			s.SpeakerLabel,
			s.Text,
		)
	}
	return b.String()
}

// Text is the transcript as summarizer input: speaker-prefixed lines
// without timestamps.
func (t Transcript) Text() string {
	var b strings.Builder
	for _, s := range t.Segments {
		b.WriteString(s.SpeakerLabel)
		b.WriteString(": ")
		b.WriteString(s.Text)
		b.WriteString("\n")
	}
	return b.String()
}

// Attendees lists speaker labels in order of first appearance.
func (t Transcript) Attendees() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, s := range t.Segments {
		if _, ok := seen[s.SpeakerLabel]; ok {
			continue
		}
		seen[s.SpeakerLabel] = struct{}{}
		out = append(out, s.SpeakerLabel)
	}
	return out
}
