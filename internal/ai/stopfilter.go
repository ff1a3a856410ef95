package ai

import "strings"

// SpecialTokens are end-of-turn markers some servers leak into content.
var SpecialTokens = []string{"</s>", "<|im_end|>", "<|eot_id|>", "<|endoftext|>"}

// TokenFilter removes special tokens and cuts output at the first stop
// sequence. Text that could be the start of a marker is held back until
// the next chunk decides it, so markers split across chunks are caught.
type TokenFilter struct {
	stops    []string
	removals []string
	pending  string
	stopped  bool
}

func NewTokenFilter(stops, removals []string) *TokenFilter {
	f := &TokenFilter{}
	for _, s := range stops {
		if s != "" {
			f.stops = append(f.stops, s)
		}
	}
	for _, r := range removals {
		if r != "" {
			f.removals = append(f.removals, r)
		}
	}
	return f
}

// Push returns the text that is safe to emit and whether a stop sequence
// has ended the output.
func (f *TokenFilter) Push(chunk string) (string, bool) {
	if f.stopped {
		return "", true
	}
	buf := f.pending + chunk
	for _, r := range f.removals {
		buf = strings.ReplaceAll(buf, r, "")
	}

	cut := -1
	for _, s := range f.stops {
		if idx := strings.Index(buf, s); idx >= 0 && (cut < 0 || idx < cut) {
			cut = idx
		}
	}
	if cut >= 0 {
		f.stopped = true
		f.pending = ""
		return buf[:cut], true
	}

	hold := f.heldSuffix(buf)
	f.pending = buf[len(buf)-hold:]
	return buf[:len(buf)-hold], false
}

// Flush releases held-back text at end of stream.
func (f *TokenFilter) Flush() string {
	out := f.pending
	f.pending = ""
	if f.stopped {
		return ""
	}
	return out
}

func (f *TokenFilter) Stopped() bool {
	return f.stopped
}

func (f *TokenFilter) heldSuffix(buf string) int {
	longest := 0
	for _, group := range [][]string{f.stops, f.removals} {
		for _, marker := range group {
			maxLen := len(marker) - 1
			if maxLen > len(buf) {
				maxLen = len(buf)
			}
			for n := maxLen; n > longest; n-- {
				if strings.HasPrefix(marker, buf[len(buf)-n:]) {
					longest = n
					break
				}
			}
		}
	}
	return longest
}

// CleanText applies the filter to a complete string.
func CleanText(text string, stops []string) string {
	f := NewTokenFilter(stops, SpecialTokens)
	out, _ := f.Push(text)
	return out + f.Flush()
}
