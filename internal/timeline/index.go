// Package timeline maps byte positions in a captured audio stream back to the
// wall-clock time at which those bytes were received.
package timeline

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"
)

var (
	ErrEmpty         = errors.New("timestamp index has no samples")
	ErrNonMonotonic  = errors.New("sample position moved backwards")
	ErrInvalidFormat = errors.New("bytes per second must be positive")
)

// Sample pairs a cumulative byte position with the wall-clock time that byte
// was received.
type Sample struct {
	Position int64     `json:"position"`
	Time     time.Time `json:"time"`
}

// Index is an append-only list of samples ordered by position.
type Index struct {
	mu      sync.RWMutex
	samples []Sample
}

func NewIndex() *Index {
	return &Index{}
}

// FromSamples builds an index from samples already in position order.
func FromSamples(samples []Sample) (*Index, error) {
	idx := NewIndex()
	for _, s := range samples {
		if err := idx.RecordSample(s.Position, s.Time); err != nil {
			return nil, err
		}
	}
	return idx, nil
}

// RecordSample appends a sample. Positions must never decrease.
func (x *Index) RecordSample(position int64, at time.Time) error {
	x.mu.Lock()
	defer x.mu.Unlock()

	if n := len(x.samples); n > 0 && position < x.samples[n-1].Position {
		return fmt.Errorf("%w: %d after %d", ErrNonMonotonic, position, x.samples[n-1].Position)
	}
	x.samples = append(x.samples, Sample{Position: position, Time: at})
	return nil
}

func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.samples)
}

// Samples returns a copy of the recorded samples.
func (x *Index) Samples() []Sample {
	x.mu.RLock()
	defer x.mu.RUnlock()
	out := make([]Sample, len(x.samples))
	copy(out, x.samples)
	return out
}

func (x *Index) Last() (Sample, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	if len(x.samples) == 0 {
		return Sample{}, false
	}
	return x.samples[len(x.samples)-1], true
}

// ResolveTime interpolates linearly between the two samples bracketing
// position. Positions outside the recorded range clamp to the first or last
// sample.
func (x *Index) ResolveTime(position int64) (time.Time, error) {
	x.mu.RLock()
	defer x.mu.RUnlock()

	n := len(x.samples)
	if n == 0 {
		return time.Time{}, ErrEmpty
	}

	// hi is the first sample strictly after position.
	hi := sort.Search(n, func(i int) bool { return x.samples[i].Position > position })
	if hi == 0 {
		return x.samples[0].Time, nil
	}
	if hi == n {
		return x.samples[n-1].Time, nil
	}

	lo := x.samples[hi-1]
	up := x.samples[hi]
	if position == lo.Position {
		return lo.Time, nil
	}

	frac := float64(position-lo.Position) / float64(up.Position-lo.Position)
	span := up.Time.Sub(lo.Time)
	return lo.Time.Add(time.Duration(frac * float64(span))), nil
}

// ResolveOffset converts seconds from the start of the audio file into
// wall-clock time.
func (x *Index) ResolveOffset(seconds float64, bytesPerSecond int) (time.Time, error) {
	if bytesPerSecond <= 0 {
		return time.Time{}, ErrInvalidFormat
	}
	if seconds < 0 {
		seconds = 0
	}
	return x.ResolveTime(int64(seconds * float64(bytesPerSecond)))
}
