// Package server exposes the command surface over HTTP, fans out session
// notifications on /ws and ingests remote speakers on /ws/voice.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/sjawhar/ghost-scribe/internal/scribe"
	"github.com/sjawhar/ghost-scribe/internal/voice"
)

const shutdownTimeout = 10 * time.Second

type Deps struct {
	Hub      *Hub
	Commands scribe.Commands
	// Store and Voice are optional.
	Store SessionStore
	Voice interface {
		VoiceIngest
		Speakers() []voice.Speaker
	}
}

func Handler(d Deps) http.Handler {
	mux := http.NewServeMux()

	registerWSRoute(mux, d.Hub)
	var speakers func() []voice.Speaker
	if d.Voice != nil {
		registerVoiceRoute(mux, d.Voice)
		speakers = d.Voice.Speakers
	}
	registerAPIRoutes(mux, d.Commands, d.Store, speakers)

	return mux
}

// Serve runs the HTTP server until ctx is cancelled, then shuts down
// gracefully.
func Serve(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http api listening", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	return nil
}
