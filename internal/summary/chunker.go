package summary

import (
	"fmt"
	"regexp"
	"strings"
)

type Unit int

const (
	UnitWords Unit = iota
	UnitTokens
)

func ParseUnit(s string) (Unit, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "words":
		return UnitWords, nil
	case "tokens":
		return UnitTokens, nil
	default:
		return UnitWords, fmt.Errorf("unknown chunk unit %q", s)
	}
}

func (u Unit) String() string {
	if u == UnitTokens {
		return "tokens"
	}
	return "words"
}

// Count measures text in u. Tokens come from tok, which may be nil.
func (u Unit) Count(text string, tok *Tokenizer) int {
	if u == UnitTokens {
		return tok.Count(text)
	}
	return len(strings.Fields(text))
}

var sentencePattern = regexp.MustCompile(`[^.!?\n]+[.!?]+`)

// Sentences splits text after each run of . ! or ?, and at line breaks.
// Trailing text without a terminator is kept as its own sentence.
func Sentences(text string) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		rest := line
		for _, loc := range sentencePattern.FindAllStringIndex(line, -1) {
			if s := strings.TrimSpace(line[loc[0]:loc[1]]); s != "" {
				out = append(out, s)
			}
			rest = line[loc[1]:]
		}
		if s := strings.TrimSpace(rest); s != "" {
			out = append(out, s)
		}
	}
	return out
}

// Chunker greedily packs whole sentences into chunks of at most MaxUnits.
// A sentence larger than MaxUnits becomes a chunk of its own. Tokens counts
// the tokens unit.
type Chunker struct {
	MaxUnits int
	Unit     Unit
	Tokens   *Tokenizer
}

func (c Chunker) Chunk(text string) []string {
	var (
		chunks  []string
		current []string
		units   int
	)
	for _, sentence := range Sentences(text) {
		n := c.Unit.Count(sentence, c.Tokens)
		if len(current) > 0 && units+n > c.MaxUnits {
			chunks = append(chunks, strings.Join(current, " "))
			current, units = nil, 0
		}
		current = append(current, sentence)
		units += n
	}
	if len(current) > 0 {
		chunks = append(chunks, strings.Join(current, " "))
	}
	return chunks
}

// Chunk splits text into word-bounded chunks.
func Chunk(text string, maxUnits int) []string {
	return Chunker{MaxUnits: maxUnits, Unit: UnitWords}.Chunk(text)
}
