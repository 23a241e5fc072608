package transcribe

// utterance collects finalized words until the speaker pauses. A stretch
// can be finalized twice after a reconnect, so words that end at or before
// the last accepted word are dropped.
type utterance struct {
	words   []Word
	lastEnd float64
	started bool
}

// add keeps the words that move the utterance forward and reports how many
// it kept.
func (u *utterance) add(words []Word) int {
	kept := 0
	for _, w := range words {
		if u.started && w.End <= u.lastEnd {
			continue
		}
		u.words = append(u.words, w)
		u.lastEnd = w.End
		u.started = true
		kept++
	}
	return kept
}

// take hands over the collected words. The high-water mark survives so a
// late duplicate of an earlier utterance is still dropped.
func (u *utterance) take() []Word {
	out := u.words
	u.words = nil
	return out
}
