package transcribe

import "testing"

func TestUtteranceCollectsUntilTaken(t *testing.T) {
	var u utterance
	if n := u.add([]Word{{PunctuatedWord: "Ship", Start: 0.1, End: 0.4}, {PunctuatedWord: "it", Start: 0.4, End: 0.6}}); n != 2 {
		t.Fatalf("expected 2 words kept, got %d", n)
	}
	u.add([]Word{{PunctuatedWord: "Friday.", Start: 0.7, End: 1.2}})

	got := u.take()
	if len(got) != 3 || got[2].PunctuatedWord != "Friday." {
		t.Fatalf("unexpected words %+v", got)
	}
	if u.take() != nil {
		t.Fatal("expected nothing left after take")
	}
}

func TestUtteranceDropsRefinalizedWords(t *testing.T) {
	var u utterance
	u.add([]Word{{PunctuatedWord: "Hello", Start: 0, End: 0.5}, {PunctuatedWord: "team.", Start: 0.5, End: 1.0}})
	u.take()

	n := u.add([]Word{
		{PunctuatedWord: "team.", Start: 0.5, End: 1.0},
		{PunctuatedWord: "Budget", Start: 1.4, End: 1.8},
	})
	if n != 1 {
		t.Fatalf("expected only the new word kept, got %d", n)
	}
	got := u.take()
	if len(got) != 1 || got[0].PunctuatedWord != "Budget" {
		t.Fatalf("unexpected words %+v", got)
	}
}

func TestUtteranceKeepsWordAtZero(t *testing.T) {
	var u utterance
	if n := u.add([]Word{{PunctuatedWord: "Oh", Start: 0, End: 0}}); n != 1 {
		t.Fatalf("expected the first word kept even at zero, got %d", n)
	}
}
