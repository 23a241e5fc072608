package audio

import (
	"bytes"
	"context"
	"encoding/binary"
	"io"

	"github.com/gordonklaus/portaudio"
)

// Mic reads the default input device through PortAudio. Callers own
// portaudio.Initialize and portaudio.Terminate.
type Mic struct {
	format Format
	stream *portaudio.Stream
	buf    []int16
}

// NewMic opens a capture stream in the given format with framesPerBuffer
// frames per read.
func NewMic(format Format, framesPerBuffer int) (*Mic, error) {
	buf := make([]int16, framesPerBuffer*format.Channels)
	stream, err := portaudio.OpenDefaultStream(format.Channels, 0, float64(format.SampleRate), framesPerBuffer, buf)
	if err != nil {
		return nil, err
	}
	return &Mic{format: format, stream: stream, buf: buf}, nil
}

func (m *Mic) Format() Format { return m.format }

func (m *Mic) Start() error { return m.stream.Start() }

func (m *Mic) Stop() error {
	if err := m.stream.Stop(); err != nil {
		return err
	}
	return m.stream.Close()
}

// Stream writes PCM16-LE frames to w until ctx is done or a read or write
// fails.
func (m *Mic) Stream(ctx context.Context, w io.Writer) error {
	var out bytes.Buffer
	out.Grow(len(m.buf) * 2)
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if err := m.stream.Read(); err != nil {
			return err
		}
		out.Reset()
		if err := binary.Write(&out, binary.LittleEndian, m.buf); err != nil {
			return err
		}
		if _, err := w.Write(out.Bytes()); err != nil {
			return err
		}
	}
}
