// Package capture records one speaker's live audio to a durable file while
// sampling byte positions against wall-clock time.
package capture

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sjawhar/ghost-scribe/internal/audio"
	"github.com/sjawhar/ghost-scribe/internal/timeline"
)

const (
	DefaultSampleInterval = time.Second
	DefaultDriftTolerance = 100 * time.Millisecond
	DefaultBufferBytes    = 4 << 20
	DefaultWriteTimeout   = 250 * time.Millisecond
	DefaultReadSize       = 3840

	activityThrottle = time.Second
)

var (
	ErrNoSource  = errors.New("audio source is not readable")
	ErrSetClosed = errors.New("capture set is closed")
	ErrCapturing = errors.New("speaker is already being captured")
)

type Status int32

const (
	StatusRecording Status = iota
	StatusStopping
	StatusStopped
)

func (s Status) String() string {
	switch s {
	case StatusRecording:
		return "recording"
	case StatusStopping:
		return "stopping"
	default:
		return "stopped"
	}
}

type Config struct {
	Format         audio.Format
	SampleInterval time.Duration
	DriftTolerance time.Duration
	FlushInterval  time.Duration
	FlushBatchSize int
	BufferBytes    int
	WriteTimeout   time.Duration
	ReadSize       int
}

func (c Config) withDefaults() Config {
	if c.SampleInterval <= 0 {
		c.SampleInterval = DefaultSampleInterval
	}
	if c.DriftTolerance <= 0 {
		c.DriftTolerance = DefaultDriftTolerance
	}
	if c.BufferBytes <= 0 {
		c.BufferBytes = DefaultBufferBytes
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = DefaultWriteTimeout
	}
	if c.ReadSize <= 0 {
		c.ReadSize = DefaultReadSize
	}
	return c
}

// Result is what a stopped channel hands to aggregation.
type Result struct {
	SpeakerID    string
	SpeakerLabel string
	OutputPath   string
	IndexPath    string
	Index        *timeline.Index
	Format       audio.Format
	StartedAt    time.Time
	StoppedAt    time.Time
	BytesWritten int64
	BytesDropped int64
	Excluded     bool
	Reason       string
}

type chunk struct {
	data []byte
	at   time.Time // receipt time of the first byte
}

// Channel owns one speaker's output file and timestamp index until Stop
// returns.
type Channel struct {
	cfg        Config
	speakerID  string
	label      string
	outputPath string
	startedAt  time.Time

	source  io.ReadCloser
	sink    audio.Sink
	index   *timeline.Index
	journal *timeline.Journal

	onActivity func()
	onExit     func(*Channel)
	now        func() time.Time

	status       atomic.Int32
	lastActivity atomic.Int64

	mu         sync.Mutex
	cond       *sync.Cond
	queue      []chunk
	queued     int
	dropped    int64
	dropping   bool
	readerDone bool
	aborted    bool
	exitErr    error

	stopping   chan struct{}
	writerDone chan struct{}
	written    atomic.Int64

	stopOnce sync.Once
	result   Result
}

// Params identifies the speaker and the wiring for one channel.
type Params struct {
	SpeakerID  string
	Label      string
	OutputPath string
	Source     io.ReadCloser
	Sinks      audio.SinkFactory
	OnActivity func()
	OnExit     func(*Channel)
	Now        func() time.Time
}

// Start opens the sink and timestamp journal and begins copying source into
// them.
func Start(cfg Config, p Params) (*Channel, error) {
	if p.Source == nil {
		return nil, ErrNoSource
	}
	cfg = cfg.withDefaults()
	if !cfg.Format.Valid() {
		return nil, fmt.Errorf("invalid capture format %s", cfg.Format)
	}
	now := p.Now
	if now == nil {
		now = time.Now
	}

	startedAt := now()
	sink, err := p.Sinks(p.OutputPath, cfg.Format)
	if err != nil {
		return nil, fmt.Errorf("open audio sink: %w", err)
	}
	journal, err := timeline.OpenJournal(timeline.SidecarPath(p.OutputPath), startedAt, cfg.FlushBatchSize, cfg.FlushInterval)
	if err != nil {
		_ = sink.Kill()
		return nil, err
	}

	c := &Channel{
		cfg:        cfg,
		speakerID:  p.SpeakerID,
		label:      p.Label,
		outputPath: p.OutputPath,
		startedAt:  startedAt,
		source:     p.Source,
		sink:       sink,
		index:      timeline.NewIndex(),
		journal:    journal,
		onActivity: p.OnActivity,
		onExit:     p.OnExit,
		now:        now,
		stopping:   make(chan struct{}),
		writerDone: make(chan struct{}),
	}
	c.cond = sync.NewCond(&c.mu)
	c.status.Store(int32(StatusRecording))

	go c.read()
	go c.write()
	go c.watchSink()

	slog.Info("capture started", "speaker", c.label, "speaker_id", c.speakerID, "path", c.outputPath, "format", cfg.Format.String())
	return c, nil
}

func (c *Channel) SpeakerID() string  { return c.speakerID }
func (c *Channel) Label() string      { return c.label }
func (c *Channel) OutputPath() string { return c.outputPath }
func (c *Channel) Status() Status     { return Status(c.status.Load()) }

// read is the receive path. It never touches disk; it only queues.
func (c *Channel) read() {
	buf := make([]byte, c.cfg.ReadSize)
	for {
		n, err := c.source.Read(buf)
		if n > 0 {
			received := c.now()
			data := make([]byte, n)
			copy(data, buf[:n])
			c.enqueue(chunk{data: data, at: received.Add(-c.duration(n))})
			c.touch(received)
		}
		if err != nil {
			if !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrClosedPipe) && c.Status() == StatusRecording {
				slog.Warn("capture source read failed", "speaker", c.label, "error", err)
			}
			break
		}
	}

	c.mu.Lock()
	c.readerDone = true
	c.cond.Broadcast()
	c.mu.Unlock()
}

func (c *Channel) enqueue(ch chunk) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.queue = append(c.queue, ch)
	c.queued += len(ch.data)
	for c.queued > c.cfg.BufferBytes && len(c.queue) > 1 {
		head := c.queue[0]
		c.queue = c.queue[1:]
		c.queued -= len(head.data)
		c.dropped += int64(len(head.data))
		if !c.dropping {
			c.dropping = true
			slog.Warn("capture writer behind, dropping oldest audio",
				"speaker", c.label, "buffered_bytes", c.queued, "cap", c.cfg.BufferBytes)
		}
	}
	c.cond.Signal()
}

func (c *Channel) touch(at time.Time) {
	if c.onActivity == nil {
		return
	}
	last := c.lastActivity.Load()
	if at.UnixNano()-last < int64(activityThrottle) {
		return
	}
	c.lastActivity.Store(at.UnixNano())
	c.onActivity()
}

func (c *Channel) duration(n int) time.Duration {
	return time.Duration(float64(n) / float64(c.cfg.Format.BytesPerSecond()) * float64(time.Second))
}

// next blocks until a chunk is queued, or reports false once the reader is
// done and the queue drained, or the channel was aborted.
func (c *Channel) next() (chunk, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for len(c.queue) == 0 && !c.readerDone && !c.aborted {
		c.cond.Wait()
	}
	if c.aborted || len(c.queue) == 0 {
		return chunk{}, false
	}

	ch := c.queue[0]
	c.queue[0] = chunk{}
	c.queue = c.queue[1:]
	c.queued -= len(ch.data)
	if len(c.queue) == 0 {
		c.dropping = false
	}
	return ch, true
}

func (c *Channel) write() {
	defer close(c.writerDone)

	var (
		lastSample timeline.Sample
		haveSample bool
		lastEnd    time.Time
		written    int64
	)

	for {
		ch, ok := c.next()
		if !ok {
			break
		}

		if c.shouldSample(lastSample, haveSample, written, ch.at) {
			lastSample = timeline.Sample{Position: written, Time: ch.at}
			haveSample = true
			c.record(lastSample)
		}

		began := time.Now()
		n, err := c.sink.Write(ch.data)
		written += int64(n)
		c.written.Store(written)
		lastEnd = ch.at.Add(c.duration(len(ch.data)))
		if elapsed := time.Since(began); elapsed > c.cfg.WriteTimeout {
			slog.Warn("capture write stalled", "speaker", c.label, "elapsed", elapsed)
		}
		if err != nil {
			c.abort(fmt.Errorf("write audio: %w", err))
			break
		}
	}

	if haveSample && written > lastSample.Position {
		c.record(timeline.Sample{Position: written, Time: lastEnd})
	}
	if err := c.journal.Close(); err != nil {
		slog.Warn("timestamp journal close failed", "speaker", c.label, "error", err)
	}

	c.mu.Lock()
	aborted := c.aborted
	c.mu.Unlock()
	if aborted {
		_ = c.sink.Kill()
		return
	}
	if err := c.sink.Close(); err != nil {
		c.abort(err)
	}
}

// shouldSample records on the first chunk, once per sample interval, and
// whenever receipt time drifts from what the byte rate predicts.
func (c *Channel) shouldSample(last timeline.Sample, have bool, written int64, at time.Time) bool {
	if !have {
		return true
	}
	if at.Sub(last.Time) >= c.cfg.SampleInterval {
		return true
	}
	expected := last.Time.Add(c.duration(int(written - last.Position)))
	drift := at.Sub(expected)
	if drift < 0 {
		drift = -drift
	}
	return drift > c.cfg.DriftTolerance
}

func (c *Channel) record(s timeline.Sample) {
	if err := c.index.RecordSample(s.Position, s.Time); err != nil {
		slog.Warn("timestamp sample rejected", "speaker", c.label, "error", err)
		return
	}
	if err := c.journal.Add(s); err != nil {
		slog.Warn("timestamp journal append failed", "speaker", c.label, "error", err)
	}
}

func (c *Channel) abort(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.aborted {
		c.aborted = true
		c.exitErr = err
	}
	c.cond.Broadcast()
}

// watchSink turns an unexpected transcoder exit into a stopped, excluded
// channel.
func (c *Channel) watchSink() {
	select {
	case <-c.stopping:
		return
	case <-c.sink.Done():
	}

	select {
	case <-c.stopping:
		return
	default:
	}

	err := c.sink.Err()
	if err == nil {
		err = errors.New("transcoder exited")
	}
	slog.Error("transcoder exited unexpectedly, excluding speaker", "speaker", c.label, "speaker_id", c.speakerID, "error", err)
	c.abort(err)
	_ = c.source.Close()

	if c.onExit != nil {
		c.onExit(c)
	}
}

// Stop ends capture, flushes the index and closes the file. It is safe to
// call more than once; later calls return the first result.
func (c *Channel) Stop(timeout time.Duration) Result {
	c.stopOnce.Do(func() {
		c.result = c.stop(timeout)
	})
	return c.result
}

func (c *Channel) stop(timeout time.Duration) Result {
	c.status.CompareAndSwap(int32(StatusRecording), int32(StatusStopping))
	close(c.stopping)
	_ = c.source.Close()

	timedOut := false
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-c.writerDone:
	case <-timer.C:
		timedOut = true
		slog.Warn("capture channel did not stop in time, killing transcoder", "speaker", c.label, "timeout", timeout)
		c.abort(errors.New("stop timed out"))
		_ = c.sink.Kill()
		select {
		case <-c.writerDone:
		case <-time.After(timeout):
			slog.Error("capture writer still blocked after kill", "speaker", c.label)
		}
	}
	c.status.Store(int32(StatusStopped))

	c.mu.Lock()
	defer c.mu.Unlock()

	res := Result{
		SpeakerID:    c.speakerID,
		SpeakerLabel: c.label,
		OutputPath:   c.outputPath,
		IndexPath:    c.journal.Path(),
		Index:        c.index,
		Format:       c.cfg.Format,
		StartedAt:    c.startedAt,
		StoppedAt:    c.now(),
		BytesWritten: c.written.Load(),
		BytesDropped: c.dropped,
	}
	if c.aborted {
		res.Excluded = true
		res.Reason = c.exitErr.Error()
	} else if timedOut {
		res.Excluded = true
		res.Reason = "stop timed out"
	}
	if c.dropped > 0 {
		slog.Warn("capture dropped audio under backpressure", "speaker", c.label, "dropped_bytes", c.dropped)
	}
	slog.Info("capture stopped", "speaker", c.label, "bytes", res.BytesWritten, "excluded", res.Excluded)
	return res
}
