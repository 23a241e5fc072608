package summary

import "testing"

func TestTokenizerCountsModelTokens(t *testing.T) {
	cases := []struct {
		model    string
		encoding string
		text     string
		want     int
	}{
		{"openai/gpt-4", "model:gpt-4", "hello world", 2},
		{"openai/gpt-4", "model:gpt-4", "hello world hello world hello world", 6},
		{"gpt-4o", "model:gpt-4o", "hello world", 2},
		{"anthropic/claude-sonnet-4-5", DefaultEncoding, "hello world", 2},
	}
	for _, tc := range cases {
		tok := NewTokenizer(tc.model)
		if got := tok.Encoding(); got != tc.encoding {
			t.Fatalf("%s: expected encoding %q, got %q", tc.model, tc.encoding, got)
		}
		if got := tok.Count(tc.text); got != tc.want {
			t.Fatalf("%s: Count(%q) = %d, want %d", tc.model, tc.text, got, tc.want)
		}
	}
}

func TestTokenizerNilEstimatesFromLength(t *testing.T) {
	var tok *Tokenizer
	if got := tok.Count("  hello world  "); got != 3 {
		t.Fatalf("expected 11 chars to estimate 3 tokens, got %d", got)
	}
	if tok.Encoding() != "" {
		t.Fatalf("expected no encoding, got %q", tok.Encoding())
	}
}

func TestChunkByModelTokens(t *testing.T) {
	// Each sentence is 4 real tokens but 5 by the length estimate.
	text := "hello world hello. hello world hello."
	byModel := Chunker{MaxUnits: 8, Unit: UnitTokens, Tokens: NewTokenizer("openai/gpt-4")}
	if got := byModel.Chunk(text); len(got) != 1 {
		t.Fatalf("expected both sentences in one chunk, got %q", got)
	}
	estimated := Chunker{MaxUnits: 8, Unit: UnitTokens}
	if got := estimated.Chunk(text); len(got) != 2 {
		t.Fatalf("expected the estimate to split, got %q", got)
	}
}
