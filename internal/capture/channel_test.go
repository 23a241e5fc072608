package capture

import (
	"bytes"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/sjawhar/ghost-scribe/internal/audio"
	"github.com/sjawhar/ghost-scribe/internal/timeline"
)

var testFormat = audio.Format{SampleRate: 16000, Channels: 1}

func wavSinks(path string, f audio.Format) (audio.Sink, error) {
	return audio.NewWAVSink(path, f)
}

// memSink collects writes in memory. Writes block while gate is non-nil and
// open; Close blocks until Kill when hang is set.
type memSink struct {
	mu     sync.Mutex
	buf    bytes.Buffer
	gate   chan struct{}
	hang   bool
	done   chan struct{}
	killed chan struct{}
	once   sync.Once
	err    error
}

func newMemSink() *memSink {
	return &memSink{done: make(chan struct{}), killed: make(chan struct{})}
}

func (s *memSink) Write(p []byte) (int, error) {
	if s.gate != nil {
		select {
		case <-s.gate:
		case <-s.done:
			return 0, audio.ErrSinkClosed
		}
	}
	select {
	case <-s.done:
		return 0, audio.ErrSinkClosed
	default:
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Write(p)
}

func (s *memSink) Close() error {
	if s.hang {
		<-s.killed
	}
	s.finish(nil)
	return s.Err()
}

func (s *memSink) Kill() error {
	s.once.Do(func() { close(s.killed) })
	s.finish(errors.New("killed"))
	return nil
}

// crash simulates the transcoder exiting on its own.
func (s *memSink) crash(err error) { s.finish(err) }

func (s *memSink) finish(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	select {
	case <-s.done:
		return
	default:
	}
	s.err = err
	close(s.done)
}

func (s *memSink) Done() <-chan struct{} { return s.done }

func (s *memSink) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func (s *memSink) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.buf.Len()
}

func factoryFor(sink *memSink) audio.SinkFactory {
	return func(string, audio.Format) (audio.Sink, error) { return sink, nil }
}

func TestChannelWritesAudioAndTimestampIndex(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, FileName("Bob", "42", time.Now()))
	src, w := io.Pipe()

	activity := make(chan struct{}, 1)
	ch, err := Start(Config{Format: testFormat, FlushInterval: time.Hour}, Params{
		SpeakerID:  "42",
		Label:      "Bob",
		OutputPath: out,
		Source:     src,
		Sinks:      wavSinks,
		OnActivity: func() {
			select {
			case activity <- struct{}{}:
			default:
			}
		},
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	if ch.Status() != StatusRecording {
		t.Fatalf("expected recording status, got %s", ch.Status())
	}

	payload := bytes.Repeat([]byte{1, 2}, 16000) // one second of audio
	if _, err := w.Write(payload); err != nil {
		t.Fatalf("pipe write failed: %v", err)
	}

	select {
	case <-activity:
	case <-time.After(time.Second):
		t.Fatal("expected activity callback")
	}

	res := ch.Stop(time.Second)
	if res.Excluded {
		t.Fatalf("unexpected exclusion: %s", res.Reason)
	}
	if ch.Status() != StatusStopped {
		t.Fatalf("expected stopped status, got %s", ch.Status())
	}
	if res.BytesWritten != int64(len(payload)) {
		t.Fatalf("BytesWritten = %d, want %d", res.BytesWritten, len(payload))
	}

	samples := res.Index.Samples()
	if len(samples) < 2 {
		t.Fatalf("expected at least start and end samples, got %d", len(samples))
	}
	if samples[0].Position != 0 || samples[len(samples)-1].Position != int64(len(payload)) {
		t.Fatalf("unexpected sample positions %+v", samples)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read wav: %v", err)
	}
	if len(data) != 44+len(payload) {
		t.Fatalf("wav size = %d, want %d", len(data), 44+len(payload))
	}

	idx, final, err := timeline.LoadJournal(res.IndexPath)
	if err != nil {
		t.Fatalf("LoadJournal failed: %v", err)
	}
	if !final || idx.Len() != len(samples) {
		t.Fatalf("journal final=%v samples=%d, want final with %d", final, idx.Len(), len(samples))
	}

	again := ch.Stop(time.Second)
	if again.OutputPath != res.OutputPath || again.BytesWritten != res.BytesWritten || again.Index != res.Index {
		t.Fatal("expected repeated Stop to return the first result")
	}
}

func TestChannelExcludesItselfWhenTranscoderExits(t *testing.T) {
	dir := t.TempDir()
	sink := newMemSink()
	src, w := io.Pipe()
	defer w.Close()

	exited := make(chan *Channel, 1)
	ch, err := Start(Config{Format: testFormat}, Params{
		SpeakerID:  "7",
		Label:      "Ann",
		OutputPath: filepath.Join(dir, "audio_Ann_7_x.wav"),
		Source:     src,
		Sinks:      factoryFor(sink),
		OnExit:     func(c *Channel) { exited <- c },
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	sink.crash(errors.New("ffmpeg exited: exit status 1"))

	select {
	case got := <-exited:
		if got != ch {
			t.Fatal("exit hook received wrong channel")
		}
	case <-time.After(time.Second):
		t.Fatal("expected exit hook")
	}

	res := ch.Stop(time.Second)
	if !res.Excluded || !strings.Contains(res.Reason, "exit status 1") {
		t.Fatalf("expected exclusion with transcoder reason, got %+v", res)
	}
}

func TestChannelDropsOldestWhenWriterFallsBehind(t *testing.T) {
	dir := t.TempDir()
	sink := newMemSink()
	sink.gate = make(chan struct{})
	src, w := io.Pipe()

	ch, err := Start(Config{Format: testFormat, BufferBytes: 16, ReadSize: 8}, Params{
		SpeakerID:  "1",
		Label:      "Cy",
		OutputPath: filepath.Join(dir, "audio_Cy_1_x.wav"),
		Source:     src,
		Sinks:      factoryFor(sink),
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	total := 0
	for i := 0; i < 10; i++ {
		n, err := w.Write(bytes.Repeat([]byte{byte(i)}, 8))
		if err != nil {
			t.Fatalf("pipe write failed: %v", err)
		}
		total += n
	}
	_ = w.Close()
	close(sink.gate)

	res := ch.Stop(time.Second)
	if res.Excluded {
		t.Fatalf("backpressure must not exclude the channel: %s", res.Reason)
	}
	if res.BytesDropped == 0 {
		t.Fatal("expected dropped bytes under backpressure")
	}
	if res.BytesWritten+res.BytesDropped != int64(total) {
		t.Fatalf("written %d + dropped %d != %d", res.BytesWritten, res.BytesDropped, total)
	}
	if int64(sink.Len()) != res.BytesWritten {
		t.Fatalf("sink holds %d bytes, result says %d", sink.Len(), res.BytesWritten)
	}
}

func TestChannelKilledWhenStopTimesOut(t *testing.T) {
	dir := t.TempDir()
	sink := newMemSink()
	sink.hang = true
	src, _ := io.Pipe()

	ch, err := Start(Config{Format: testFormat}, Params{
		SpeakerID:  "9",
		Label:      "Dee",
		OutputPath: filepath.Join(dir, "audio_Dee_9_x.wav"),
		Source:     src,
		Sinks:      factoryFor(sink),
	})
	if err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	began := time.Now()
	res := ch.Stop(50 * time.Millisecond)
	if elapsed := time.Since(began); elapsed > time.Second {
		t.Fatalf("Stop took too long: %s", elapsed)
	}
	if !res.Excluded {
		t.Fatal("expected timed out channel to be excluded")
	}
	select {
	case <-sink.killed:
	default:
		t.Fatal("expected sink to be killed")
	}
}

func TestStartRejectsMissingSource(t *testing.T) {
	_, err := Start(Config{Format: testFormat}, Params{Sinks: wavSinks})
	if !errors.Is(err, ErrNoSource) {
		t.Fatalf("expected ErrNoSource, got %v", err)
	}
}

func TestFileNameRoundTrip(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 30, 15, 250_000_000, time.UTC)
	name := FileName("Mary_Ann O'Neil", "1234", at)
	label, id, got, ok := ParseFileName(filepath.Join("/rec", name))
	if !ok {
		t.Fatalf("ParseFileName(%q) failed", name)
	}
	if label != "Mary-Ann-O-Neil" || id != "1234" || !got.Equal(at) {
		t.Fatalf("unexpected parse result %q %q %s", label, id, got)
	}
	if _, _, _, ok := ParseFileName("full_2026.txt"); ok {
		t.Fatal("expected non-audio name to be rejected")
	}
}
