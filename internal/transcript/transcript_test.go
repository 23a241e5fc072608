package transcript

import (
	"strings"
	"testing"
	"time"

	"github.com/sjawhar/ghost-scribe/internal/transcribe"
)

var t0 = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func seg(label string, start, end float64, text string) transcribe.CorrelatedSegment {
	return transcribe.CorrelatedSegment{
		SpeakerLabel: label,
		Start:        t0.Add(time.Duration(start * float64(time.Second))),
		End:          t0.Add(time.Duration(end * float64(time.Second))),
		Text:         text,
	}
}

func TestMergeOrdersByStartEndLabel(t *testing.T) {
	got := Merge(map[string][]transcribe.CorrelatedSegment{
		"Y": {seg("Y", 3, 4, "y")},
		"X": {seg("X", 5, 6, "x2"), seg("X", 3, 3.4, "x1")},
	}, 0)

	want := []string{"X:x1", "Y:y", "X:x2"}
	if len(got.Segments) != len(want) {
		t.Fatalf("expected %d segments, got %+v", len(want), got.Segments)
	}
	for i, s := range got.Segments {
		if s.SpeakerLabel+":"+s.Text != want[i] {
			t.Fatalf("position %d: got %s:%s, want %s", i, s.SpeakerLabel, s.Text, want[i])
		}
	}
}

func TestMergeIsDeterministicAcrossInputOrder(t *testing.T) {
	a := Merge(map[string][]transcribe.CorrelatedSegment{
		"A": {seg("A", 1, 2, "one"), seg("A", 1, 2, "two")},
		"B": {seg("B", 1, 2, "three")},
	}, 0)
	b := Merge(map[string][]transcribe.CorrelatedSegment{
		"B": {seg("B", 1, 2, "three")},
		"A": {seg("A", 1, 2, "two"), seg("A", 1, 2, "one")},
	}, 0)
	if a.Format(nil) != b.Format(nil) {
		t.Fatalf("merge depends on input order:\n%s\nvs\n%s", a.Format(nil), b.Format(nil))
	}
}

func TestMergeCoalescesSameSpeakerOnly(t *testing.T) {
	got := Merge(map[string][]transcribe.CorrelatedSegment{
		"A": {
			seg("A", 0, 1, "first"),
			seg("A", 1.3, 2, "second"),
			seg("A", 2.7, 3, "third"),
		},
	}, DefaultCoalesceGap)

	if len(got.Segments) != 2 {
		t.Fatalf("expected 300ms gap merged and 700ms gap kept, got %+v", got.Segments)
	}
	if got.Segments[0].Text != "first second" || !got.Segments[0].End.Equal(t0.Add(2*time.Second)) {
		t.Fatalf("unexpected merged segment %+v", got.Segments[0])
	}

	mixed := Merge(map[string][]transcribe.CorrelatedSegment{
		"A": {seg("A", 0, 1, "a")},
		"B": {seg("B", 1.1, 2, "b")},
	}, DefaultCoalesceGap)
	if len(mixed.Segments) != 2 {
		t.Fatalf("segments of different speakers must not merge, got %+v", mixed.Segments)
	}
}

func TestMergeEmpty(t *testing.T) {
	got := Merge(nil, DefaultCoalesceGap)
	if !got.Empty() || got.Format(nil) != "" || len(got.Attendees()) != 0 {
		t.Fatalf("expected empty transcript, got %+v", got)
	}
}

func TestFormatAndAttendees(t *testing.T) {
	tr := Merge(map[string][]transcribe.CorrelatedSegment{
		"Bob": {seg("Bob", 65, 70, "hi")},
		"Ann": {seg("Ann", 0, 5, "hello"), seg("Ann", 80, 82, "bye")},
	}, DefaultCoalesceGap)

	lines := strings.Split(strings.TrimSpace(tr.Format(time.UTC)), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines, got %q", lines)
	}
	if lines[1] != "[09:01:05 - 09:01:10] Bob: hi" {
		t.Fatalf("unexpected line %q", lines[1])
	}
	if got := tr.Attendees(); len(got) != 2 || got[0] != "Ann" || got[1] != "Bob" {
		t.Fatalf("unexpected attendees %v", got)
	}
	if !strings.HasPrefix(tr.Text(), "Ann: hello\n") {
		t.Fatalf("unexpected text %q", tr.Text())
	}
}
