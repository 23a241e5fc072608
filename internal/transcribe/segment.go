package transcribe

import (
	"strings"
	"time"
)

type Word struct {
	PunctuatedWord string
	Start          float64
	End            float64
}

// Segment is one stretch of speech, timed in seconds from the start of the
// speaker's audio file.
type Segment struct {
	SpeakerLabel string  `json:"speaker_label"`
	Start        float64 `json:"start"`
	End          float64 `json:"end"`
	Text         string  `json:"text"`
}

// CorrelatedSegment is a Segment re-based onto wall-clock time.
type CorrelatedSegment struct {
	SpeakerLabel string    `json:"speaker_label"`
	Start        time.Time `json:"start"`
	End          time.Time `json:"end"`
	Text         string    `json:"text"`
}

// GroupWords joins consecutive words into segments, starting a new one when
// the silence between two words exceeds maxGap seconds.
func GroupWords(label string, words []Word, maxGap float64) []Segment {
	if len(words) == 0 {
		return nil
	}

	var segments []Segment
	var current Segment
	started := false

	for _, w := range words {
		text := strings.TrimSpace(w.PunctuatedWord)
		if text == "" {
			continue
		}

		if !started {
			current = Segment{SpeakerLabel: label, Text: text, Start: w.Start, End: w.End}
			started = true
			continue
		}

		if w.Start-current.End <= maxGap {
			current.Text += " " + text
			current.End = w.End
		} else {
			segments = append(segments, current)
			current = Segment{SpeakerLabel: label, Text: text, Start: w.Start, End: w.End}
		}
	}

	if started {
		segments = append(segments, current)
	}
	return segments
}

func cleanSegments(label string, segs []Segment) []Segment {
	out := segs[:0]
	for _, s := range segs {
		s.Text = strings.TrimSpace(s.Text)
		if s.Text == "" {
			continue
		}
		s.SpeakerLabel = label
		if s.End < s.Start {
			s.End = s.Start
		}
		out = append(out, s)
	}
	return out
}
