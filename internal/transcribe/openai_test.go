package transcribe

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sjawhar/ghost-scribe/internal/audio"
)

func writeWAV(t *testing.T, dir string, format audio.Format, seconds int) string {
	t.Helper()
	path := filepath.Join(dir, "audio_Ann_1_20260101T000000.000Z.wav")
	sink, err := audio.NewWAVSink(path, format)
	if err != nil {
		t.Fatalf("NewWAVSink failed: %v", err)
	}
	if _, err := sink.Write(make([]byte, format.BytesPerSecond()*seconds)); err != nil {
		t.Fatalf("write pcm: %v", err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("close wav: %v", err)
	}
	return path
}

func whisperServer(t *testing.T, calls *int, mu *sync.Mutex) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/audio/transcriptions" {
			t.Errorf("unexpected path %q", r.URL.Path)
		}
		if err := r.ParseMultipartForm(64 << 20); err != nil {
			t.Errorf("parse form: %v", err)
		}
		if got := r.FormValue("model"); got != "whisper-1" {
			t.Errorf("expected whisper-1, got %q", got)
		}
		if got := r.FormValue("response_format"); got != "verbose_json" {
			t.Errorf("expected verbose_json, got %q", got)
		}
		mu.Lock()
		*calls++
		mu.Unlock()

		_ = json.NewEncoder(w).Encode(map[string]any{
			"task":     "transcribe",
			"language": "english",
			"duration": 2.0,
			"segments": []map[string]any{
				{"id": 0, "start": 0.0, "end": 0.8, "text": " Hello there."},
				{"id": 1, "start": 1.0, "end": 1.9, "text": "  "},
			},
			"text": "Hello there.",
		})
	}))
}

func TestOpenAITranscribe(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	server := whisperServer(t, &calls, &mu)
	defer server.Close()

	path := writeWAV(t, t.TempDir(), audio.Format{SampleRate: 16000, Channels: 1}, 1)
	adapter := NewOpenAI("test-key", "", "en", server.URL+"/v1")

	segs, err := adapter.Transcribe(context.Background(), path, "Ann")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if len(segs) != 1 {
		t.Fatalf("expected blank segment dropped, got %+v", segs)
	}
	if segs[0].SpeakerLabel != "Ann" || segs[0].Text != "Hello there." || segs[0].End != 0.8 {
		t.Fatalf("unexpected segment %+v", segs[0])
	}
}

func TestOpenAITranscribeSplitsLargeRecordings(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	server := whisperServer(t, &calls, &mu)
	defer server.Close()

	format := audio.Format{SampleRate: 16000, Channels: 1}
	path := writeWAV(t, t.TempDir(), format, 3)
	adapter := NewOpenAI("test-key", "whisper-1", "", server.URL+"/v1")
	adapter.maxUpload = int64(format.BytesPerSecond()) + 64

	segs, err := adapter.Transcribe(context.Background(), path, "Ann")
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if calls != 3 {
		t.Fatalf("expected 3 uploads, got %d", calls)
	}
	if len(segs) != 3 {
		t.Fatalf("expected one segment per part, got %d", len(segs))
	}
	for i, s := range segs {
		if s.Start != float64(i) {
			t.Fatalf("part %d start = %v, want %d", i, s.Start, i)
		}
	}
}

func TestNewAdapterRejectsUnknownProvider(t *testing.T) {
	if _, err := New(Options{Provider: "carrier-pigeon"}); err == nil {
		t.Fatal("expected error for unknown provider")
	}
	a, err := New(Options{Provider: "deepgram", APIKey: "k"})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, ok := a.(*Deepgram); !ok {
		t.Fatalf("expected *Deepgram, got %T", a)
	}
}
