package main

import (
	"context"
	"io"
	"log/slog"
	"strings"
	"time"
)

type micStreamer interface {
	Stream(ctx context.Context, w io.Writer) error
}

// streamMicWithRetry restarts the stream after input overflows and gives up
// on any other error.
func streamMicWithRetry(ctx context.Context, streamer micStreamer, writer io.Writer, wait func(time.Duration)) {
	for {
		if ctx.Err() != nil {
			return
		}

		err := streamer.Stream(ctx, writer)
		if err == nil || ctx.Err() != nil {
			return
		}

		if strings.Contains(strings.ToLower(err.Error()), "overflow") {
			slog.Warn("mic input overflow, restarting stream")
			wait(250 * time.Millisecond)
			continue
		}

		slog.Error("mic stream error", "error", err)
		return
	}
}
