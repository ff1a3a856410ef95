package app

import (
	"strings"
	"testing"
)

func TestIsGreeting(t *testing.T) {
	for _, s := range []string{"hi", "Hello!", "  hey  ", "good morning", "سلام", "hi thanks"} {
		if !IsGreeting(s) {
			t.Errorf("%q should be a greeting", s)
		}
	}
	for _, s := range []string{"hi, what is the capital of France?", "history of greetings", ""} {
		if IsGreeting(s) {
			t.Errorf("%q should not be a greeting", s)
		}
	}
}

func TestStripControl(t *testing.T) {
	in := "a\x00b\tc\nd\u200ce\x07"
	if got := StripControl(in); got != "ab\tc\nd\u200ce" {
		t.Fatalf("StripControl = %q", got)
	}
}

func TestDetectLanguage(t *testing.T) {
	cases := []struct {
		text string
		want string
	}{
		{"What is the capital of France?", LangEnglish},
		{"پایتخت فرانسه کجاست؟", LangPersian},
		{"", ""},
		{"12345 !!!", ""},
		{strings.Repeat("hello world ", 300), LangEnglish},
	}
	for _, c := range cases {
		if got := DetectLanguage(c.text); got != c.want {
			t.Errorf("DetectLanguage(%.20q) = %q, want %q", c.text, got, c.want)
		}
	}
}
