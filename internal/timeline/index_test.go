package timeline

import (
	"errors"
	"testing"
	"time"
)

func TestResolveTimeInterpolatesAndClamps(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	idx := NewIndex()
	if err := idx.RecordSample(100, t0); err != nil {
		t.Fatalf("RecordSample failed: %v", err)
	}
	if err := idx.RecordSample(300, t0.Add(2000*time.Millisecond)); err != nil {
		t.Fatalf("RecordSample failed: %v", err)
	}

	cases := []struct {
		position int64
		want     time.Time
	}{
		{200, t0.Add(1000 * time.Millisecond)},
		{50, t0},
		{100, t0},
		{300, t0.Add(2000 * time.Millisecond)},
		{400, t0.Add(2000 * time.Millisecond)},
		{150, t0.Add(500 * time.Millisecond)},
	}
	for _, tc := range cases {
		got, err := idx.ResolveTime(tc.position)
		if err != nil {
			t.Fatalf("ResolveTime(%d) failed: %v", tc.position, err)
		}
		if !got.Equal(tc.want) {
			t.Fatalf("ResolveTime(%d) = %s, want %s", tc.position, got, tc.want)
		}
	}
}

func TestResolveTimeOnEmptyIndex(t *testing.T) {
	_, err := NewIndex().ResolveTime(0)
	if !errors.Is(err, ErrEmpty) {
		t.Fatalf("expected ErrEmpty, got %v", err)
	}
}

func TestRecordSampleRejectsBackwardsPosition(t *testing.T) {
	idx := NewIndex()
	now := time.Now()
	if err := idx.RecordSample(500, now); err != nil {
		t.Fatalf("RecordSample failed: %v", err)
	}
	if err := idx.RecordSample(500, now.Add(time.Second)); err != nil {
		t.Fatalf("equal position should be accepted: %v", err)
	}
	if err := idx.RecordSample(499, now.Add(2*time.Second)); !errors.Is(err, ErrNonMonotonic) {
		t.Fatalf("expected ErrNonMonotonic, got %v", err)
	}
	if idx.Len() != 2 {
		t.Fatalf("expected 2 samples, got %d", idx.Len())
	}
}

func TestResolveOffsetUsesByteRate(t *testing.T) {
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	// 32000 bytes per second; a 5 second silence gap between the two samples.
	idx, err := FromSamples([]Sample{
		{Position: 0, Time: t0},
		{Position: 32000, Time: t0.Add(time.Second)},
		{Position: 32000, Time: t0.Add(6 * time.Second)},
		{Position: 64000, Time: t0.Add(7 * time.Second)},
	})
	if err != nil {
		t.Fatalf("FromSamples failed: %v", err)
	}

	got, err := idx.ResolveOffset(1.5, 32000)
	if err != nil {
		t.Fatalf("ResolveOffset failed: %v", err)
	}
	if want := t0.Add(6500 * time.Millisecond); !got.Equal(want) {
		t.Fatalf("ResolveOffset(1.5) = %s, want %s", got, want)
	}

	if _, err := idx.ResolveOffset(1, 0); !errors.Is(err, ErrInvalidFormat) {
		t.Fatalf("expected ErrInvalidFormat, got %v", err)
	}
}
