package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"sync"
)

const wavHeaderSize = 44

// WAVSink streams PCM straight into a WAV container. The header is written with
// a zero size up front and patched on Close.
type WAVSink struct {
	format Format

	mu      sync.Mutex
	file    *os.File
	written int64
	closed  bool
	done    chan struct{}
	err     error
}

func NewWAVSink(path string, format Format) (*WAVSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open wav output: %w", err)
	}

	header, err := wavHeader(0, format.SampleRate, format.Channels, pcmBitDepth)
	if err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("build wav header: %w", err)
	}
	if _, err := f.Write(header); err != nil {
		_ = f.Close()
		return nil, fmt.Errorf("write wav header: %w", err)
	}

	return &WAVSink{format: format, file: f, done: make(chan struct{})}, nil
}

func (s *WAVSink) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return 0, ErrSinkClosed
	}
	n, err := s.file.Write(p)
	s.written += int64(n)
	if err != nil {
		return n, fmt.Errorf("write wav payload: %w", err)
	}
	return n, nil
}

func (s *WAVSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return s.err
	}
	s.closed = true
	defer close(s.done)

	header, err := wavHeader(int(s.written), s.format.SampleRate, s.format.Channels, pcmBitDepth)
	if err == nil {
		_, err = s.file.WriteAt(header, 0)
	}
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		s.err = fmt.Errorf("finalize wav output: %w", err)
	}
	return s.err
}

// Kill is Close; there is no child process to terminate.
func (s *WAVSink) Kill() error { return s.Close() }

func (s *WAVSink) Done() <-chan struct{} { return s.done }

func (s *WAVSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// PCMOffset returns where PCM data starts in a WAV file, so readers can skip
// the header.
func PCMOffset(r io.ReadSeeker) (int64, error) {
	_, offset, err := ReadWAVHeader(r)
	return offset, err
}

// ReadWAVHeader walks the RIFF chunks up to the data chunk and reports the
// PCM format and where the samples start. r is left positioned at the data.
func ReadWAVHeader(r io.ReadSeeker) (Format, int64, error) {
	var riff [12]byte
	if _, err := io.ReadFull(r, riff[:]); err != nil {
		return Format{}, 0, fmt.Errorf("read riff header: %w", err)
	}
	if string(riff[0:4]) != "RIFF" || string(riff[8:12]) != "WAVE" {
		return Format{}, 0, fmt.Errorf("not a wav file")
	}

	var format Format
	offset := int64(12)
	for {
		var chunk [8]byte
		if _, err := io.ReadFull(r, chunk[:]); err != nil {
			return Format{}, 0, fmt.Errorf("read chunk header: %w", err)
		}
		offset += 8
		size := int64(binary.LittleEndian.Uint32(chunk[4:8]))
		switch string(chunk[0:4]) {
		case "data":
			return format, offset, nil
		case "fmt ":
			body := make([]byte, size)
			if _, err := io.ReadFull(r, body); err != nil {
				return Format{}, 0, fmt.Errorf("read fmt chunk: %w", err)
			}
			if len(body) >= 16 {
				format.Channels = int(binary.LittleEndian.Uint16(body[2:4]))
				format.SampleRate = int(binary.LittleEndian.Uint32(body[4:8]))
			}
		default:
			if _, err := r.Seek(size, io.SeekCurrent); err != nil {
				return Format{}, 0, fmt.Errorf("skip %q chunk: %w", chunk[0:4], err)
			}
		}
		offset += size
	}
}

func wavHeader(dataSize, sampleRate, channels, bitDepth int) ([]byte, error) {
	byteRate := sampleRate * channels * bitDepth / 8
	blockAlign := channels * bitDepth / 8
	chunkSize := 36 + dataSize

	buf := bytes.NewBuffer(make([]byte, 0, wavHeaderSize))
	fields := []any{
		[]byte("RIFF"), uint32(chunkSize), []byte("WAVE"),
		[]byte("fmt "), uint32(16), uint16(1), uint16(channels),
		uint32(sampleRate), uint32(byteRate), uint16(blockAlign), uint16(bitDepth),
		[]byte("data"), uint32(dataSize),
	}
	for _, field := range fields {
		if err := binary.Write(buf, binary.LittleEndian, field); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}
