package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/sjawhar/ghost-scribe/internal/scribe"
	"github.com/sjawhar/ghost-scribe/internal/session"
	"github.com/sjawhar/ghost-scribe/internal/storage"
	"github.com/sjawhar/ghost-scribe/internal/transcribe"
	"github.com/sjawhar/ghost-scribe/internal/voice"
)

// SessionStore is the read side of the catalog used by the detail endpoint.
type SessionStore interface {
	GetSession(id string) (storage.SessionRecord, error)
	GetSegments(sessionID string) ([]transcribe.CorrelatedSegment, error)
}

type beginRequest struct {
	Name         string          `json:"name"`
	Speakers     []voice.Speaker `json:"speakers,omitempty"`
	NotifyTarget string          `json:"notify_target,omitempty"`
}

type purgeRequest struct {
	Token string `json:"token"`
}

func registerAPIRoutes(mux *http.ServeMux, cmds scribe.Commands, store SessionStore, speakers func() []voice.Speaker) {
	mux.HandleFunc("GET /api/status", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, cmds.Status())
	})

	mux.HandleFunc("GET /api/speakers", func(w http.ResponseWriter, r *http.Request) {
		list := []voice.Speaker{}
		if speakers != nil {
			list = append(list, speakers()...)
		}
		writeJSON(w, http.StatusOK, list)
	})

	mux.HandleFunc("GET /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		sessions, err := cmds.ListSessions()
		if err != nil {
			writeError(w, err)
			return
		}
		if sessions == nil {
			sessions = []scribe.SessionInfo{}
		}
		writeJSON(w, http.StatusOK, sessions)
	})

	mux.HandleFunc("POST /api/sessions", func(w http.ResponseWriter, r *http.Request) {
		var req beginRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		sess, err := cmds.BeginSession(r.Context(), req.Name, req.Speakers, req.NotifyTarget)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusCreated, sess)
	})

	// Ending runs the whole pipeline; a client that hangs up must not
	// abort it.
	mux.HandleFunc("POST /api/sessions/end", func(w http.ResponseWriter, r *http.Request) {
		outcome, err := cmds.EndSession(context.WithoutCancel(r.Context()))
		if err != nil {
			writeErrorWith(w, err, outcome)
			return
		}
		writeJSON(w, http.StatusOK, outcome)
	})

	mux.HandleFunc("GET /api/sessions/{name}", func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("name")
		if store == nil {
			writeJSONError(w, http.StatusNotFound, "session catalog is not available")
			return
		}
		rec, err := store.GetSession(name)
		if err != nil {
			writeError(w, err)
			return
		}
		segments, err := store.GetSegments(name)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"session":  rec,
			"segments": segments,
		})
	})

	mux.HandleFunc("GET /api/sessions/{name}/transcript", func(w http.ResponseWriter, r *http.Request) {
		art, err := cmds.GetLatestTranscript(r.PathValue("name"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, art)
	})

	mux.HandleFunc("GET /api/sessions/{name}/summary", func(w http.ResponseWriter, r *http.Request) {
		art, err := cmds.GetLatestSummary(r.PathValue("name"))
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, art)
	})

	mux.HandleFunc("POST /api/sessions/{name}/process", func(w http.ResponseWriter, r *http.Request) {
		outcome, err := cmds.ProcessSession(context.WithoutCancel(r.Context()), r.PathValue("name"))
		if err != nil {
			writeErrorWith(w, err, outcome)
			return
		}
		writeJSON(w, http.StatusOK, outcome)
	})

	mux.HandleFunc("DELETE /api/sessions/{name}", func(w http.ResponseWriter, r *http.Request) {
		if err := cmds.DeleteSession(r.PathValue("name")); err != nil {
			writeError(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	})

	mux.HandleFunc("POST /api/purge", func(w http.ResponseWriter, r *http.Request) {
		var req purgeRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		n, err := cmds.PurgeAllSessions(req.Token)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]int{"purged": n})
	})
}

// StatusCode maps operation errors to HTTP status codes.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, session.ErrInvalidInput):
		return http.StatusBadRequest
	case errors.Is(err, session.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, session.ErrNameCollision),
		errors.Is(err, session.ErrAlreadyActive),
		errors.Is(err, session.ErrNoActiveSession):
		return http.StatusConflict
	case errors.Is(err, session.ErrBusy):
		return http.StatusLocked
	case errors.Is(err, session.ErrNoConnection):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeJSONError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func writeError(w http.ResponseWriter, err error) {
	writeJSONError(w, StatusCode(err), err.Error())
}

// writeErrorWith reports err along with whatever partial outcome exists.
func writeErrorWith(w http.ResponseWriter, err error, outcome session.Outcome) {
	if outcome.SessionID == "" {
		writeError(w, err)
		return
	}
	writeJSON(w, StatusCode(err), map[string]any{"error": err.Error(), "outcome": outcome})
}
