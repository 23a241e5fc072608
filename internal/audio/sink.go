package audio

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
)

var ErrSinkClosed = errors.New("audio sink closed")

// Sink is the durable end of a capture channel. Done is closed once the sink
// stops accepting data, whether through Close, Kill or an unexpected exit.
type Sink interface {
	io.Writer
	Close() error
	Kill() error
	Done() <-chan struct{}
	Err() error
}

// SinkFactory opens a sink writing the given format to path.
type SinkFactory func(path string, format Format) (Sink, error)

// NewSinkFactory prefers an ffmpeg transcoder and falls back to writing the
// WAV container directly when ffmpeg is not installed.
func NewSinkFactory(ffmpegPath string) SinkFactory {
	if ffmpegPath == "" {
		ffmpegPath = "ffmpeg"
	}
	resolved, err := exec.LookPath(ffmpegPath)
	if err != nil {
		slog.Warn("ffmpeg not found, writing wav directly", "ffmpeg", ffmpegPath, "error", err)
		return func(path string, format Format) (Sink, error) {
			return NewWAVSink(path, format)
		}
	}
	return func(path string, format Format) (Sink, error) {
		return StartFFmpeg(resolved, path, format)
	}
}

// FFmpegSink pipes raw PCM into an ffmpeg child process that writes a
// resampled pcm_s16le WAV file. The byte rate of the output matches the input
// so positions recorded against the input stay valid for the file.
type FFmpegSink struct {
	cmd   *exec.Cmd
	stdin io.WriteCloser

	mu      sync.Mutex
	closing bool
	done    chan struct{}
	err     error
}

func StartFFmpeg(ffmpegPath, outputPath string, format Format) (*FFmpegSink, error) {
	cmd := exec.Command(
		ffmpegPath,
		"-hide_banner",
		"-loglevel", "error",
		"-n",
		"-f", "s16le",
		"-ar", strconv.Itoa(format.SampleRate),
		"-ac", strconv.Itoa(format.Channels),
		"-i", "pipe:0",
		"-af", "aresample=async=1",
		"-c:a", "pcm_s16le",
		outputPath,
	)

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("ffmpeg stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start ffmpeg: %w", err)
	}

	s := &FFmpegSink{cmd: cmd, stdin: stdin, done: make(chan struct{})}
	go s.wait()
	return s, nil
}

func (s *FFmpegSink) wait() {
	err := s.cmd.Wait()

	s.mu.Lock()
	if err != nil {
		s.err = fmt.Errorf("ffmpeg exited: %w", err)
	} else if !s.closing {
		s.err = errors.New("ffmpeg exited before input was closed")
	}
	s.mu.Unlock()

	close(s.done)
}

func (s *FFmpegSink) Write(p []byte) (int, error) {
	select {
	case <-s.done:
		return 0, ErrSinkClosed
	default:
	}
	n, err := s.stdin.Write(p)
	if err != nil {
		return n, fmt.Errorf("write ffmpeg stdin: %w", err)
	}
	return n, nil
}

// Close ends the input and waits for ffmpeg to finish the file.
func (s *FFmpegSink) Close() error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	_ = s.stdin.Close()
	<-s.done
	return s.Err()
}

func (s *FFmpegSink) Kill() error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	if s.cmd.Process != nil {
		_ = s.cmd.Process.Kill()
	}
	<-s.done
	return s.Err()
}

func (s *FFmpegSink) Done() <-chan struct{} { return s.done }

func (s *FFmpegSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}
