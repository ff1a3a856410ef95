package ai

import (
	"strings"
	"testing"
)

func pushAll(f *TokenFilter, chunks []string) string {
	var out strings.Builder
	for _, c := range chunks {
		text, stopped := f.Push(c)
		out.WriteString(text)
		if stopped {
			return out.String()
		}
	}
	out.WriteString(f.Flush())
	return out.String()
}

func TestTokenFilterTruncatesAtStopSequence(t *testing.T) {
	splits := [][]string{
		{"hello Human: ignore this"},
		{"hello ", "Human: ignore this"},
		{"hello ", "Hum", "an: ignore", " this"},
		{"hel", "lo H", "u", "m", "a", "n", ":", " ignore this"},
	}
	for _, chunks := range splits {
		f := NewTokenFilter([]string{"Human:"}, SpecialTokens)
		if got := pushAll(f, chunks); got != "hello " {
			t.Fatalf("chunks %q: want=%q got=%q", chunks, "hello ", got)
		}
		if !f.Stopped() {
			t.Fatalf("chunks %q: filter should report stopped", chunks)
		}
	}
}

func TestTokenFilterRemovesSplitSpecialTokens(t *testing.T) {
	f := NewTokenFilter([]string{"Human:"}, SpecialTokens)
	got := pushAll(f, []string{"Paris is the capital.<|im", "_end|>", "</", "s>"})
	if got != "Paris is the capital." {
		t.Fatalf("want cleaned text, got %q", got)
	}
}

func TestTokenFilterReleasesFalsePrefix(t *testing.T) {
	f := NewTokenFilter([]string{"Human:"}, SpecialTokens)
	got := pushAll(f, []string{"a <", "b> Hu", "go"})
	if got != "a <b> Hugo" {
		t.Fatalf("want held text released, got %q", got)
	}
}

func TestCleanText(t *testing.T) {
	if got := CleanText("answer</s> Human: next", []string{"Human:"}); got != "answer " {
		t.Fatalf("want %q, got %q", "answer ", got)
	}
}
