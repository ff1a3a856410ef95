package app

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Inbound modes.
const (
	ModeTranslation = "translation"
	ModeContext     = "context"
)

// Chat modes.
const (
	ChatStandard = "standard"
	ChatRAG      = "rag"
	ChatDatabase = "database"
	ChatExcel    = "excel"
)

// Outbound modes.
const (
	OutNew         = "new"
	OutContinue    = "continue"
	OutLast        = "last"
	OutTranslation = "translation"
	OutContext     = "context"
	OutError       = "error"
)

// Inbound is one client frame.
type Inbound struct {
	Mode             string   `json:"mode"`
	ChatMode         string   `json:"chat_mode"`
	EncryptedMessage string   `json:"encrypted_message"`
	EncryptedAESKey  string   `json:"encrypted_aes_key"`
	SimilarityCutoff *float64 `json:"similarity_cutoff"`
	Rerank           bool     `json:"rerank"`
	Temperature      *float64 `json:"temperature"`
	MessageID        uint     `json:"message_id"`
}

// Outbound is one server frame. Only the fields of its mode are set.
type Outbound struct {
	Mode                 string            `json:"mode"`
	Message              string            `json:"message,omitempty"`
	Username             string            `json:"username,omitempty"`
	MessageID            uint              `json:"message_id,omitempty"`
	EncryptedTranslation string            `json:"encrypted_translation,omitempty"`
	EncryptedContexts    map[string]string `json:"encrypted_contexts,omitempty"`
	Error                string            `json:"error,omitempty"`
}

func errorFrame(format string, args ...interface{}) Outbound {
	return Outbound{Mode: OutError, Error: fmt.Sprintf(format, args...)}
}

func parseInbound(raw []byte) (Inbound, error) {
	var in Inbound
	if err := json.Unmarshal(raw, &in); err != nil {
		return Inbound{}, fmt.Errorf("%w: %v", ErrPayloadInvalid, err)
	}
	in.Mode = strings.ToLower(strings.TrimSpace(in.Mode))
	in.ChatMode = strings.ToLower(strings.TrimSpace(in.ChatMode))
	switch in.Mode {
	case ModeTranslation, ModeContext:
		if in.MessageID == 0 {
			return Inbound{}, fmt.Errorf("%w: message_id is required", ErrPayloadInvalid)
		}
	default:
		if in.EncryptedMessage == "" {
			return Inbound{}, fmt.Errorf("%w: encrypted_message is required", ErrPayloadInvalid)
		}
	}
	return in, nil
}

// requestedChatMode reads chat_mode, then a chat-valued mode. Empty means
// infer from the binding.
func (in Inbound) requestedChatMode() string {
	for _, m := range []string{in.ChatMode, in.Mode} {
		switch m {
		case ChatStandard, ChatRAG, ChatDatabase, ChatExcel:
			return m
		}
	}
	return ""
}
