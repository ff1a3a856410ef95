package app

import (
	"strings"

	"ragchat/internal/ai"
	"ragchat/internal/config"
)

// Grounding is the context attached to one turn.
type Grounding struct {
	Structured bool
	Text       string
}

// ContextAssembler orders the prompt of a turn. Structured results sit in a
// system message right before the question and override older history.
type ContextAssembler struct {
	pipeline config.PipelineConfig
}

func NewContextAssembler(pipeline config.PipelineConfig) *ContextAssembler {
	return &ContextAssembler{pipeline: pipeline}
}

func (a *ContextAssembler) Build(history []ai.ChatMessage, g Grounding, question string) []ai.ChatMessage {
	p := a.pipeline.Prompts
	if g.Structured {
		recent := lastExchanges(history, a.pipeline.QueryHistoryExchanges)
		msgs := make([]ai.ChatMessage, 0, len(recent)+3)
		msgs = append(msgs, ai.ChatMessage{Role: ai.RoleSystem, Content: p.StructuredSystem})
		msgs = append(msgs, recent...)
		msgs = append(msgs, ai.ChatMessage{Role: ai.RoleSystem, Content: p.StructuredPrefix + g.Text})
		return append(msgs, ai.ChatMessage{Role: ai.RoleUser, Content: question})
	}

	recent := lastExchanges(history, a.pipeline.RAGHistoryExchanges)
	msgs := make([]ai.ChatMessage, 0, len(recent)+3)
	msgs = append(msgs, ai.ChatMessage{Role: ai.RoleSystem, Content: p.System})
	if strings.TrimSpace(g.Text) != "" {
		msgs = append(msgs, ai.ChatMessage{Role: ai.RoleSystem, Content: p.GroundingPrefix + g.Text})
	}
	msgs = append(msgs, recent...)
	return append(msgs, ai.ChatMessage{Role: ai.RoleUser, Content: question})
}

// Options resolves the sampling parameters of a turn. A zero maxTokens
// keeps the configured budget.
func (a *ContextAssembler) Options(temperature *float64, maxTokens int) ai.GenerationOptions {
	gen := a.pipeline.Generation
	t := gen.Temperature
	if temperature != nil {
		t = *temperature
	}
	if t < gen.MinTemperature {
		t = gen.MinTemperature
	}
	if t > gen.MaxTemperature {
		t = gen.MaxTemperature
	}
	if maxTokens <= 0 {
		maxTokens = gen.MaxTokens
	}
	return ai.GenerationOptions{
		Temperature:     t,
		MaxTokens:       maxTokens,
		TopP:            gen.TopP,
		PresencePenalty: gen.PresencePenalty,
		Stop:            append([]string(nil), gen.Stop...),
	}
}

// lastExchanges keeps the trailing n user/assistant pairs.
func lastExchanges(history []ai.ChatMessage, n int) []ai.ChatMessage {
	if n <= 0 {
		return nil
	}
	if limit := 2 * n; len(history) > limit {
		return history[len(history)-limit:]
	}
	return history
}
