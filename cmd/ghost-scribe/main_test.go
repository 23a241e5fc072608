package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
	"time"

	"github.com/sjawhar/ghost-scribe/internal/config"
	"github.com/sjawhar/ghost-scribe/internal/scribe"
	"github.com/sjawhar/ghost-scribe/internal/storage"
)

type scriptedStreamer struct {
	errs  []error
	calls int
}

func (s *scriptedStreamer) Stream(_ context.Context, _ io.Writer) error {
	s.calls++
	if len(s.errs) == 0 {
		return nil
	}
	err := s.errs[0]
	s.errs = s.errs[1:]
	return err
}

func TestStreamMicRetriesOverflow(t *testing.T) {
	s := &scriptedStreamer{errs: []error{errors.New("Input overflowed"), errors.New("input overflowed"), nil}}
	var waits []time.Duration

	streamMicWithRetry(context.Background(), s, io.Discard, func(d time.Duration) { waits = append(waits, d) })

	if s.calls != 3 {
		t.Fatalf("expected 3 stream attempts, got %d", s.calls)
	}
	if len(waits) != 2 {
		t.Fatalf("expected 2 waits, got %d", len(waits))
	}
}

func TestStreamMicStopsOnOtherErrors(t *testing.T) {
	s := &scriptedStreamer{errs: []error{errors.New("device unplugged"), nil}}

	streamMicWithRetry(context.Background(), s, io.Discard, func(time.Duration) {
		t.Fatal("should not wait")
	})

	if s.calls != 1 {
		t.Fatalf("expected a single attempt, got %d", s.calls)
	}
}

func TestStreamMicHonorsCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	s := &scriptedStreamer{}

	streamMicWithRetry(ctx, s, io.Discard, func(time.Duration) {})

	if s.calls != 0 {
		t.Fatalf("expected no attempts after cancellation, got %d", s.calls)
	}
}

func TestPromptConfirmKeepsTokenExact(t *testing.T) {
	var prompt bytes.Buffer
	got, err := promptConfirm(strings.NewReader("y\n"), &prompt)
	if err != nil {
		t.Fatalf("promptConfirm failed: %v", err)
	}
	if got != scribe.PurgeToken {
		t.Fatalf("expected %q, got %q", scribe.PurgeToken, got)
	}
	if !strings.Contains(prompt.String(), `"y"`) {
		t.Fatalf("expected prompt to name the token, got %q", prompt.String())
	}

	got, _ = promptConfirm(strings.NewReader(" Y \r\n"), io.Discard)
	if got != " Y " {
		t.Fatalf("expected surrounding input to be preserved, got %q", got)
	}
}

func TestPrintSessions(t *testing.T) {
	var out bytes.Buffer
	started := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	err := printSessions(&out, []scribe.SessionInfo{
		{SessionRecord: storage.SessionRecord{ID: "standup", StartedAt: started, State: storage.StateEnded, SummaryStatus: "completed"}, OnDisk: true, Cataloged: true},
		{SessionRecord: storage.SessionRecord{ID: "orphan", State: storage.StateEnded}, OnDisk: true},
	}, time.UTC)
	if err != nil {
		t.Fatalf("printSessions failed: %v", err)
	}

	lines := strings.Split(strings.TrimSpace(out.String()), "\n")
	if len(lines) != 3 {
		t.Fatalf("expected header plus two rows, got %q", out.String())
	}
	if !strings.Contains(lines[1], "standup") || !strings.Contains(lines[1], "2026-03-01 09:30") || !strings.Contains(lines[1], "completed") {
		t.Fatalf("unexpected row %q", lines[1])
	}
	if !strings.Contains(lines[2], "orphan") || !strings.Contains(lines[2], "-") {
		t.Fatalf("unexpected row %q", lines[2])
	}
}

func TestSummaryKeyTracksSettings(t *testing.T) {
	var cfg config.Config
	cfg.Summarization.Model = "openai/gpt-4o-mini"
	base := summaryKey(cfg)
	if summaryKey(cfg) != base {
		t.Fatal("expected a stable key")
	}
	cfg.Summarization.MapPrompt = "Bullet points only."
	if summaryKey(cfg) == base {
		t.Fatal("expected a prompt change to change the key")
	}
}

func TestRootCommandWiring(t *testing.T) {
	root := newRootCmd()
	if root.Commands() == nil {
		t.Fatal("expected subcommands")
	}
	names := map[string]bool{}
	for _, c := range root.Commands() {
		names[c.Name()] = true
	}
	for _, want := range []string{"serve", "mcp", "sessions", "transcript", "summary", "process"} {
		if !names[want] {
			t.Fatalf("missing subcommand %q in %v", want, names)
		}
	}
}
