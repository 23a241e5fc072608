package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gordonklaus/portaudio"

	"github.com/sjawhar/ghost-scribe/internal/audio"
	"github.com/sjawhar/ghost-scribe/internal/capture"
	"github.com/sjawhar/ghost-scribe/internal/config"
	"github.com/sjawhar/ghost-scribe/internal/gdrive"
	"github.com/sjawhar/ghost-scribe/internal/llm"
	"github.com/sjawhar/ghost-scribe/internal/pipeline"
	"github.com/sjawhar/ghost-scribe/internal/resilience"
	"github.com/sjawhar/ghost-scribe/internal/scribe"
	"github.com/sjawhar/ghost-scribe/internal/server"
	"github.com/sjawhar/ghost-scribe/internal/session"
	"github.com/sjawhar/ghost-scribe/internal/storage"
	"github.com/sjawhar/ghost-scribe/internal/summary"
	"github.com/sjawhar/ghost-scribe/internal/transcribe"
	"github.com/sjawhar/ghost-scribe/internal/voice"
)

const (
	shutdownTimeout = 2 * time.Minute
	micBufferMillis = 20
	localSpeakerID  = "local"
)

// app is everything both the offline commands and the live service need.
type app struct {
	cfg      config.Config
	store    *storage.SQLiteStore
	writer   *storage.Writer
	hub      *server.Hub
	pipeline *pipeline.Pipeline
}

func openApp(ctx context.Context, cfg config.Config) (*app, error) {
	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("storage init failed: %w", err)
	}

	transcriber, err := transcribe.New(transcribe.Options{
		Provider: cfg.Transcription.Provider,
		Model:    cfg.Transcription.Model,
		Language: cfg.Transcription.Language,
		APIKey:   cfg.TranscriptionAPIKey(),
	})
	if err != nil {
		_ = store.Close()
		return nil, err
	}

	hub := server.NewHub()
	writer := storage.NewWriter(cfg.RecordingsDir, cfg.TranscriptsDir)

	pipe := pipeline.New(pipeline.Config{
		MaxInFlight: cfg.Transcription.MaxInFlight,
		CoalesceGap: cfg.ParsedCoalesceGap(),
		Location:    cfg.Location(),
		SummaryKey:  summaryKey(cfg),
	}, transcriber, newSummarizer(cfg), writer, store, hub, newSyncer(ctx, cfg))

	return &app{cfg: cfg, store: store, writer: writer, hub: hub, pipeline: pipe}, nil
}

func (a *app) Close() {
	if err := a.store.Close(); err != nil {
		slog.Warn("close session catalog", "error", err)
	}
}

// offlineService has no registry: nothing can be started or ended.
func (a *app) offlineService() *scribe.Service {
	return scribe.New(nil, a.pipeline, a.writer, a.store, a.cfg.Session.NameMaxLength)
}

// newSummarizer returns nil when no model is usable so the pipeline reports
// summaries as disabled.
func newSummarizer(cfg config.Config) pipeline.Summarizer {
	client, err := llm.NewFromModel(cfg.Summarization.Model, cfg.LLMKeys(),
		llm.WithMaxTokens(int64(cfg.Summarization.MaxOutputTokens)),
		llm.WithTimeout(cfg.ParsedRequestTimeout()))
	if err != nil {
		slog.Warn("summaries disabled", "model", cfg.Summarization.Model, "error", err)
		return nil
	}
	return summary.New(client, summary.Config{
		Model:             cfg.Summarization.Model,
		Unit:              cfg.SummaryUnit(),
		MaxUnitsPerChunk:  cfg.Summarization.MaxUnitsPerChunk,
		RequestsPerSecond: cfg.Summarization.RequestsPerSecond,
		MaxConcurrent:     cfg.Summarization.MaxConcurrent,
		MaxReduceRounds:   cfg.Summarization.MaxReduceRounds,
		Retry: resilience.RetryConfig{
			MaxRetries:   cfg.Summarization.MaxRetries,
			BaseDelay:    cfg.ParsedBaseDelay(),
			MaxDelay:     cfg.ParsedMaxDelay(),
			JitterFactor: resilience.DefaultJitterFactor,
		},
		MapPrompt:    cfg.Summarization.MapPrompt,
		ReducePrompt: cfg.Summarization.ReducePrompt,
	})
}

// summaryKey changes whenever a setting that shapes the summary changes, so
// a rerun with new settings is not mistaken for a duplicate request.
func summaryKey(cfg config.Config) string {
	return fmt.Sprintf("%s|%s|%d|%d|%d|%s|%s",
		cfg.Summarization.Model, cfg.SummaryUnit(), cfg.Summarization.MaxUnitsPerChunk,
		cfg.Summarization.MaxReduceRounds, cfg.Summarization.MaxOutputTokens,
		cfg.Summarization.MapPrompt, cfg.Summarization.ReducePrompt)
}

func newSyncer(ctx context.Context, cfg config.Config) pipeline.Syncer {
	if cfg.GDrive.FolderID == "" {
		return nil
	}
	syncer, err := gdrive.NewSyncer(ctx, cfg.GDrive.CredentialsFile, cfg.GDrive.FolderID)
	if err != nil {
		slog.Warn("gdrive sync disabled", "error", err)
		return nil
	}
	return syncer
}

// live is the running service: one voice room, the session registry on top
// of it and the HTTP handler exposing both.
type live struct {
	registry *session.Registry
	room     *voice.Room
	service  *scribe.Service
	handler  http.Handler
	stopMic  func()
}

func (a *app) startLive(ctx context.Context) (*live, error) {
	cfg := a.cfg
	room := voice.NewRoom(localSpeakerID)

	registry := session.NewRegistry(session.Config{
		NameMaxLength:     cfg.Session.NameMaxLength,
		InactivityTimeout: cfg.ParsedInactivityTimeout(),
		StopTimeout:       cfg.ParsedStopTimeout(),
		Capture: capture.Config{
			Format:         cfg.AudioFormat(),
			SampleInterval: cfg.ParsedSampleInterval(),
			DriftTolerance: cfg.ParsedDriftTolerance(),
			FlushInterval:  cfg.ParsedFlushInterval(),
			FlushBatchSize: cfg.Capture.FlushBatchSize,
			BufferBytes:    cfg.Capture.BufferBytes,
			WriteTimeout:   cfg.ParsedWriteTimeout(),
		},
	}, a.writer, a.store, a.pipeline, a.hub, audio.NewSinkFactory(cfg.Audio.FFmpegPath))

	room.OnChange(registry.HandleVoiceEvent)
	registry.SetConnection(room)

	svc := scribe.New(registry, a.pipeline, a.writer, a.store, cfg.Session.NameMaxLength)
	lv := &live{
		registry: registry,
		room:     room,
		service:  svc,
		handler: server.Handler(server.Deps{
			Hub:      a.hub,
			Commands: svc,
			Store:    a.store,
			Voice:    room,
		}),
		stopMic: func() {},
	}

	if cfg.Audio.LocalMic {
		stop, err := startLocalMic(ctx, room, cfg.AudioFormat(), cfg.Audio.LocalMicLabel)
		if err != nil {
			slog.Warn("microphone unavailable, accepting remote speakers only", "error", err)
		} else {
			lv.stopMic = stop
		}
	}
	return lv, nil
}

// Close ends any running session, which runs its pipeline to completion
// within shutdownTimeout.
func (lv *live) Close() {
	lv.stopMic()
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := lv.registry.ClearConnection(ctx); err != nil {
		slog.Warn("end session on shutdown failed", "error", err)
	}
}

func startLocalMic(ctx context.Context, room *voice.Room, format audio.Format, label string) (func(), error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	mic, err := audio.NewMic(format, format.SampleRate*micBufferMillis/1000)
	if err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("open microphone: %w", err)
	}
	if err := mic.Start(); err != nil {
		_ = portaudio.Terminate()
		return nil, fmt.Errorf("start microphone at %s: %w", format, err)
	}
	feed, err := room.Join(voice.Speaker{ID: localSpeakerID, Label: label})
	if err != nil {
		_ = mic.Stop()
		_ = portaudio.Terminate()
		return nil, err
	}
	slog.Info("microphone started", "format", format.String(), "speaker", label)

	micCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		streamMicWithRetry(micCtx, mic, feed, time.Sleep)
	}()

	return func() {
		cancel()
		<-done
		_ = feed.Close()
		_ = mic.Stop()
		_ = portaudio.Terminate()
	}, nil
}
