// Package summary condenses transcripts that exceed one request's budget:
// sentence-aligned chunks are summarized in parallel (map) and the partials
// are folded together until one summary remains (reduce).
package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/sjawhar/ghost-scribe/internal/llm"
	"github.com/sjawhar/ghost-scribe/internal/resilience"
)

const (
	DefaultMaxUnitsPerChunk  = 1500
	DefaultRequestsPerSecond = 1.0
	DefaultMaxConcurrent     = 2
	DefaultMaxReduceRounds   = 5

	DefaultMapPrompt    = "You are a concise meeting summarizer. Provide 3-5 bullet points, prefixing each with the speaker's name."
	DefaultReducePrompt = "You are a senior project manager writing the final meeting summary. Consolidate these bullets into a clear, cohesive narrative, grouping by topic and retaining speaker context."
)

var (
	ErrNothingToSummarize = errors.New("nothing to summarize")
	ErrNoPartials         = errors.New("every chunk failed to summarize")
	errEmptyCompletion    = errors.New("empty completion")
)

type Config struct {
	// Model selects the token encoding when Unit is UnitTokens.
	Model             string
	Unit              Unit
	MaxUnitsPerChunk  int
	RequestsPerSecond float64
	MaxConcurrent     int
	MaxReduceRounds   int
	Retry             resilience.RetryConfig
	MapPrompt         string
	ReducePrompt      string
}

func (c Config) withDefaults() Config {
	if c.MaxUnitsPerChunk <= 0 {
		c.MaxUnitsPerChunk = DefaultMaxUnitsPerChunk
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = DefaultMaxConcurrent
	}
	if c.MaxReduceRounds <= 0 {
		c.MaxReduceRounds = DefaultMaxReduceRounds
	}
	if c.MapPrompt == "" {
		c.MapPrompt = DefaultMapPrompt
	}
	if c.ReducePrompt == "" {
		c.ReducePrompt = DefaultReducePrompt
	}
	if c.Retry.IsRetryable == nil {
		c.Retry.IsRetryable = llm.IsRetryable
	}
	return c
}

// Result is a summary plus how much of the input it covers. Failed means a
// reduce round failed and Text is the best partial available.
type Result struct {
	Text         string
	Failed       bool
	Chunks       int
	FailedChunks int
	Rounds       int
}

// Partial reports whether some input or a reduce round was lost.
func (r Result) Partial() bool { return r.Failed || r.FailedChunks > 0 }

type Summarizer struct {
	client  llm.Client
	cfg     Config
	chunker Chunker
	limiter *rate.Limiter
}

func New(client llm.Client, cfg Config) *Summarizer {
	cfg = cfg.withDefaults()
	limit := rate.Inf
	if cfg.RequestsPerSecond > 0 {
		limit = rate.Limit(cfg.RequestsPerSecond)
	}
	chunker := Chunker{MaxUnits: cfg.MaxUnitsPerChunk, Unit: cfg.Unit}
	if cfg.Unit == UnitTokens {
		chunker.Tokens = NewTokenizer(cfg.Model)
	}
	return &Summarizer{
		client:  client,
		cfg:     cfg,
		chunker: chunker,
		limiter: rate.NewLimiter(limit, 1),
	}
}

// Summarize depends only on text and the configured prompts.
func (s *Summarizer) Summarize(ctx context.Context, text string) (Result, error) {
	chunks := s.chunker.Chunk(text)
	if len(chunks) == 0 {
		return Result{}, ErrNothingToSummarize
	}

	started := time.Now()
	partials, failed, err := s.fanOut(ctx, chunks, s.cfg.MapPrompt)
	if err != nil {
		return Result{}, err
	}
	res := Result{Chunks: len(chunks), FailedChunks: failed}
	slog.Info("summary map stage done", "chunks", len(chunks), "failed", failed, "elapsed", time.Since(started))
	if len(partials) == 0 {
		return res, fmt.Errorf("%w: %d chunks", ErrNoPartials, len(chunks))
	}

	current := partials
	for round := 1; round <= s.cfg.MaxReduceRounds; round++ {
		res.Rounds = round
		inputs := s.chunker.Chunk(strings.Join(current, "\n\n"))
		outs, lost, err := s.fanOut(ctx, inputs, s.cfg.ReducePrompt)
		if err != nil {
			return res, err
		}
		if lost > 0 || len(outs) == 0 {
			slog.Warn("summary reduce round failed, keeping best partial", "round", round, "inputs", len(inputs), "failed", lost)
			res.Text = strings.Join(current, "\n\n")
			res.Failed = true
			return res, nil
		}
		current = outs
		if len(current) == 1 {
			res.Text = current[0]
			return res, nil
		}
	}

	slog.Warn("summary did not converge", "rounds", s.cfg.MaxReduceRounds, "remaining", len(current))
	res.Text = strings.Join(current, "\n\n")
	res.Failed = true
	return res, nil
}

// fanOut completes every input under the rate limit and concurrency cap. An
// input that exhausts its retries is dropped and counted; outputs keep input
// order. Only cancellation of ctx aborts the stage.
func (s *Summarizer) fanOut(ctx context.Context, inputs []string, prompt string) ([]string, int, error) {
	outs := make([]string, len(inputs))
	var (
		mu     sync.Mutex
		failed int
	)

	var g errgroup.Group
	g.SetLimit(s.cfg.MaxConcurrent)
	for i, input := range inputs {
		g.Go(func() error {
			out, err := s.complete(ctx, prompt, input)
			if err != nil {
				if ctx.Err() == nil {
					slog.Warn("summary chunk failed", "chunk", i, "error", err)
				}
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			outs[i] = out
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}

	kept := make([]string, 0, len(outs))
	for _, o := range outs {
		if o != "" {
			kept = append(kept, o)
		}
	}
	return kept, failed, nil
}

func (s *Summarizer) complete(ctx context.Context, prompt, input string) (string, error) {
	messages := []llm.Message{
		llm.System(prompt),
		llm.User(input),
	}
	var out string
	err := resilience.Retry(ctx, s.cfg.Retry, func() error {
		if err := s.limiter.Wait(ctx); err != nil {
			return resilience.Permanent(err)
		}
		text, err := s.client.Complete(ctx, messages)
		if err != nil {
			return err
		}
		text = strings.TrimSpace(text)
		if text == "" {
			return errEmptyCompletion
		}
		out = text
		return nil
	})
	return out, err
}
