package transcribe

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	openai "github.com/sashabaranov/go-openai"

	"github.com/sjawhar/ghost-scribe/internal/audio"
)

// The transcription endpoint rejects uploads above 25 MB.
const defaultMaxUpload = 24 << 20

// OpenAI transcribes with the Whisper endpoint, asking for verbose_json so
// segments come back with timings.
type OpenAI struct {
	client    *openai.Client
	model     string
	language  string
	maxUpload int64
}

func NewOpenAI(apiKey, model, language, baseURL string) *OpenAI {
	config := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		config.BaseURL = baseURL
	}
	if model == "" {
		model = openai.Whisper1
	}
	return &OpenAI{
		client:    openai.NewClientWithConfig(config),
		model:     model,
		language:  language,
		maxUpload: defaultMaxUpload,
	}
}

func (o *OpenAI) Transcribe(ctx context.Context, audioPath, speakerLabel string) ([]Segment, error) {
	info, err := os.Stat(audioPath)
	if err != nil {
		return nil, fmt.Errorf("stat recording: %w", err)
	}
	if info.Size() <= o.maxUpload {
		return o.transcribeFile(ctx, audioPath, speakerLabel, 0)
	}
	return o.transcribeParts(ctx, audioPath, speakerLabel)
}

func (o *OpenAI) transcribeFile(ctx context.Context, path, label string, offset float64) ([]Segment, error) {
	resp, err := o.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    o.model,
		FilePath: path,
		Language: o.language,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, fmt.Errorf("openai transcription: %w", err)
	}

	segs := make([]Segment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		segs = append(segs, Segment{
			Start: s.Start + offset,
			End:   s.End + offset,
			Text:  s.Text,
		})
	}
	return cleanSegments(label, segs), nil
}

// transcribeParts splits an oversized WAV into frame-aligned pieces that fit
// the upload limit and shifts each piece's segments by its start offset.
func (o *OpenAI) transcribeParts(ctx context.Context, path, label string) ([]Segment, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open recording: %w", err)
	}
	defer f.Close()

	format, _, err := audio.ReadWAVHeader(f)
	if err != nil {
		return nil, err
	}
	if !format.Valid() {
		return nil, fmt.Errorf("recording %s has no usable format", filepath.Base(path))
	}

	frame := int64(format.FrameSize())
	pieceBytes := (o.maxUpload - 64) / frame * frame
	if pieceBytes <= 0 {
		return nil, fmt.Errorf("upload limit %d too small", o.maxUpload)
	}

	tmp, err := os.MkdirTemp("", "ghost-scribe-parts-")
	if err != nil {
		return nil, fmt.Errorf("create temp dir: %w", err)
	}
	defer os.RemoveAll(tmp)

	var all []Segment
	for part := 0; ; part++ {
		partPath := filepath.Join(tmp, fmt.Sprintf("part_%03d.wav", part))
		sink, err := audio.NewWAVSink(partPath, format)
		if err != nil {
			return nil, err
		}
		n, copyErr := io.CopyN(sink, f, pieceBytes)
		if err := sink.Close(); err != nil {
			return nil, err
		}
		if copyErr != nil && !errors.Is(copyErr, io.EOF) {
			return nil, fmt.Errorf("split recording: %w", copyErr)
		}
		if n == 0 {
			break
		}

		offset := float64(int64(part)*pieceBytes) / float64(format.BytesPerSecond())
		slog.Debug("transcribing recording part", "speaker", label, "part", part, "offset_s", offset)
		segs, err := o.transcribeFile(ctx, partPath, label, offset)
		if err != nil {
			return nil, fmt.Errorf("part %d: %w", part, err)
		}
		all = append(all, segs...)
		if n < pieceBytes {
			break
		}
	}
	return all, nil
}
