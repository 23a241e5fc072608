package server

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sjawhar/ghost-scribe/internal/voice"
)

const voiceReadLimit = 1 << 20

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// VoiceIngest admits remote speakers into the voice connection.
type VoiceIngest interface {
	Join(s voice.Speaker) (io.WriteCloser, error)
}

func registerWSRoute(mux *http.ServeMux, hub *Hub) {
	mux.HandleFunc("GET /ws", func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("ws upgrade error", "error", err)
			return
		}
		defer func() { _ = conn.Close() }()

		connectionEvent := ConnectionEvent{
			Event:     newEvent(EventConnection, time.Now().UTC()),
			Connected: true,
		}
		payload, err := json.Marshal(connectionEvent)
		if err == nil {
			_ = conn.WriteMessage(websocket.TextMessage, payload)
		}

		ch := hub.Subscribe()
		defer hub.Unsubscribe(ch)

		// Drain the client side so a close frame ends the loop below.
		closed := make(chan struct{})
		go func() {
			defer close(closed)
			for {
				if _, _, err := conn.NextReader(); err != nil {
					return
				}
			}
		}()

		for {
			select {
			case msg, ok := <-ch:
				if !ok {
					return
				}
				if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
					return
				}
			case <-closed:
				return
			}
		}
	})
}

// registerVoiceRoute accepts one speaker's PCM as binary websocket messages
// in the capture format. The speaker is in the room for as long as the
// socket is open.
func registerVoiceRoute(mux *http.ServeMux, ingest VoiceIngest) {
	mux.HandleFunc("GET /ws/voice/{speaker}", func(w http.ResponseWriter, r *http.Request) {
		sp := voice.Speaker{
			ID:    r.PathValue("speaker"),
			Label: r.URL.Query().Get("label"),
			Bot:   r.URL.Query().Get("bot") == "true",
		}

		feed, err := ingest.Join(sp)
		if err != nil {
			status := http.StatusBadRequest
			if errors.Is(err, voice.ErrDuplicate) {
				status = http.StatusConflict
			}
			writeJSONError(w, status, err.Error())
			return
		}
		defer func() { _ = feed.Close() }()

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			slog.Warn("voice ws upgrade error", "speaker", sp.ID, "error", err)
			return
		}
		defer func() { _ = conn.Close() }()
		conn.SetReadLimit(voiceReadLimit)

		for {
			kind, data, err := conn.ReadMessage()
			if err != nil {
				if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
					slog.Warn("voice stream ended", "speaker", sp.ID, "error", err)
				}
				return
			}
			if kind != websocket.BinaryMessage {
				continue
			}
			if _, err := feed.Write(data); err != nil {
				slog.Warn("voice feed write failed", "speaker", sp.ID, "error", err)
				return
			}
		}
	})
}
