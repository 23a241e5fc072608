package audio

import (
	"fmt"
	"strings"
)

const pcmBitDepth = 16

// Quality presets for captured speaker audio.
const (
	QualityHigh   = "high"
	QualityMedium = "medium"
	QualityLow    = "low"
)

// Format describes signed 16-bit little-endian PCM.
type Format struct {
	SampleRate int
	Channels   int
}

// QualityFormat maps a quality preset to its capture format.
func QualityFormat(quality string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(quality)) {
	case QualityHigh:
		return Format{SampleRate: 48000, Channels: 2}, nil
	case QualityMedium, "":
		return Format{SampleRate: 24000, Channels: 1}, nil
	case QualityLow:
		return Format{SampleRate: 16000, Channels: 1}, nil
	default:
		return Format{}, fmt.Errorf("unknown audio quality %q", quality)
	}
}

// FrameSize is the number of bytes per sample frame across all channels.
func (f Format) FrameSize() int {
	return f.Channels * pcmBitDepth / 8
}

func (f Format) BytesPerSecond() int {
	return f.SampleRate * f.FrameSize()
}

func (f Format) Valid() bool {
	return f.SampleRate > 0 && f.Channels > 0
}

func (f Format) String() string {
	return fmt.Sprintf("s16le/%dHz/%dch", f.SampleRate, f.Channels)
}
