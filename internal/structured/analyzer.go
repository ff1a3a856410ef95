package structured

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"ragchat/internal/ai"
)

var ErrEmptyAnalysis = errors.New("schema analysis is empty")

const analysisPrompt = `You are a data analyst. Describe the data source below so that another model can write correct queries against it.
For every table, collection or sheet explain what it stores, the meaning of each column, the key columns and how tables relate.
List the exact categorical values where they are given. Mention units and formats of numeric and date columns.`

// Analyzer produces the schema_analysis text stored on a collection.
type Analyzer struct {
	model   ai.ChatModel
	timeout time.Duration
}

func NewAnalyzer(model ai.ChatModel, timeout time.Duration) *Analyzer {
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	return &Analyzer{model: model, timeout: timeout}
}

func (a *Analyzer) Analyze(ctx context.Context, src Source, extraKnowledge string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()
	ctx, span := tracer.Start(ctx, "structured.Analyze")
	defer span.End()

	schema, err := src.Describe(ctx)
	if err != nil {
		return "", fmt.Errorf("describe source failed: %w", err)
	}
	raw, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode schema failed: %w", err)
	}

	var user strings.Builder
	user.WriteString("Source kind: ")
	user.WriteString(src.Kind())
	user.WriteString("\n\nIntrospected schema:\n")
	user.Write(raw)
	if s := strings.TrimSpace(extraKnowledge); s != "" {
		user.WriteString("\n\nAdditional knowledge from the owner:\n")
		user.WriteString(s)
	}

	reply, err := a.model.Complete(ctx, []ai.ChatMessage{
		{Role: ai.RoleSystem, Content: analysisPrompt},
		{Role: ai.RoleUser, Content: user.String()},
	}, ai.GenerationOptions{Temperature: 0.3, MaxTokens: 2048, TopP: 1})
	if err != nil {
		return "", fmt.Errorf("schema analysis call failed: %w", err)
	}
	reply = strings.TrimSpace(reply)
	if reply == "" {
		return "", ErrEmptyAnalysis
	}
	return reply, nil
}
