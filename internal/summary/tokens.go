package summary

import (
	"log/slog"
	"strings"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

func init() {
	// Encodings ship embedded in the binary; counting never downloads them.
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// DefaultEncoding is used for models tiktoken has no mapping for.
const DefaultEncoding = tiktoken.MODEL_CL100K_BASE

// Tokenizer counts tokens with the BPE encoding of the summarization model.
// A nil Tokenizer, or one whose encoding failed to load, estimates four
// characters per token.
type Tokenizer struct {
	encoding string
	enc      *tiktoken.Tiktoken
}

// NewTokenizer picks the encoding for a "provider/model" or bare model name.
func NewTokenizer(model string) *Tokenizer {
	name := strings.TrimSpace(model)
	if _, bare, ok := strings.Cut(name, "/"); ok {
		name = bare
	}

	enc, err := tiktoken.EncodingForModel(name)
	encoding := "model:" + name
	if err != nil {
		enc, err = tiktoken.GetEncoding(DefaultEncoding)
		encoding = DefaultEncoding
	}
	if err != nil {
		slog.Warn("token encoding unavailable, estimating tokens from length", "model", model, "error", err)
		return &Tokenizer{}
	}
	return &Tokenizer{encoding: encoding, enc: enc}
}

// Encoding names what Count uses, or "" for the length estimate.
func (t *Tokenizer) Encoding() string {
	if t == nil || t.enc == nil {
		return ""
	}
	return t.encoding
}

func (t *Tokenizer) Count(text string) int {
	text = strings.TrimSpace(text)
	if t == nil || t.enc == nil {
		return (len(text) + 3) / 4
	}
	return len(t.enc.EncodeOrdinary(text))
}
