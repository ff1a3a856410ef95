package app

import (
	"errors"
	"testing"
)

func TestParseInbound(t *testing.T) {
	in, err := parseInbound([]byte(`{"mode":" RAG ","encrypted_message":"x","similarity_cutoff":0.5}`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if in.requestedChatMode() != ChatRAG || in.SimilarityCutoff == nil || *in.SimilarityCutoff != 0.5 {
		t.Fatalf("inbound = %+v", in)
	}

	in, err = parseInbound([]byte(`{"chat_mode":"Excel","mode":"chat","encrypted_message":"x"}`))
	if err != nil || in.requestedChatMode() != ChatExcel {
		t.Fatalf("chat_mode should win: %+v %v", in, err)
	}

	in, _ = parseInbound([]byte(`{"encrypted_message":"x"}`))
	if in.requestedChatMode() != "" {
		t.Fatalf("no mode should defer to the binding, got %q", in.requestedChatMode())
	}

	for _, raw := range []string{`nope`, `{"mode":"translation"}`, `{"mode":"chat"}`} {
		if _, err := parseInbound([]byte(raw)); !errors.Is(err, ErrPayloadInvalid) {
			t.Errorf("%s: want ErrPayloadInvalid, got %v", raw, err)
		}
	}
}
