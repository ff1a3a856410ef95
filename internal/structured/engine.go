package structured

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"ragchat/internal/ai"
	"ragchat/internal/platform/logger"
)

var tracer = otel.Tracer("ragchat/structured")

const emptyResultHint = "The query ran but returned no rows (or a zero/empty value). Check the filter values and column names."

// Engine turns a question into a query, runs it and formats the result,
// retrying with the previous error injected into the prompt.
type Engine struct {
	model       ai.ChatModel
	maxRetries  int
	timeout     time.Duration
	displayRows int
	log         *logger.Logger
}

type EngineOptions struct {
	MaxRetries  int
	Timeout     time.Duration
	DisplayRows int
}

func NewEngine(model ai.ChatModel, opts EngineOptions, log *logger.Logger) *Engine {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = 3
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 60 * time.Second
	}
	if log == nil {
		log = logger.Nop()
	}
	return &Engine{model: model, maxRetries: opts.MaxRetries, timeout: opts.Timeout, displayRows: opts.DisplayRows, log: log}
}

type Request struct {
	Question string
	Schema   string
	History  []ai.ChatMessage
}

// Outcome is always usable as grounding: on exhaustion Context carries the
// failure text instead of a result.
type Outcome struct {
	Context   string
	Query     string
	Attempts  int
	OK        bool
	LastError string
}

var generationOptions = ai.GenerationOptions{Temperature: 0.2, MaxTokens: 512, TopP: 1}

func (e *Engine) Answer(ctx context.Context, src Source, req Request) Outcome {
	ctx, span := tracer.Start(ctx, "structured.Answer")
	defer span.End()
	span.SetAttributes(attribute.String("source.kind", src.Kind()))

	log := e.log.With("source_kind", src.Kind())
	var out Outcome
	var prevErr, inspection string
	inspected := false

	for attempt := 1; attempt <= e.maxRetries; attempt++ {
		out.Attempts = attempt
		query, err := e.generate(ctx, src, req, prevErr, inspection)
		if err != nil {
			prevErr = err.Error()
			log.Warn("query generation failed", "attempt", attempt, "err", err)
			continue
		}
		out.Query = query

		res, err := e.execute(ctx, src, query)
		if err != nil {
			prevErr = fmt.Sprintf("Query:\n%s\nError: %v", query, err)
			log.Warn("query execution failed", "attempt", attempt, "err", err)
			continue
		}

		if res.Empty() && attempt < e.maxRetries {
			if insp, ok := src.(Inspector); ok && !inspected && attempt == 1 {
				inspected = true
				inspection = e.inspect(ctx, insp, query)
			}
			prevErr = fmt.Sprintf("Query:\n%s\nError: %s", query, emptyResultHint)
			log.Info("query returned no results", "attempt", attempt)
			continue
		}

		out.OK = true
		out.LastError = ""
		out.Context = Format(res, src.Kind(), e.displayRows)
		span.SetAttributes(attribute.Int("attempts", attempt))
		return out
	}

	out.LastError = prevErr
	out.Context = fmt.Sprintf("QUERY FAILED after %d attempts: %s", out.Attempts, prevErr)
	span.SetAttributes(attribute.Int("attempts", out.Attempts), attribute.Bool("failed", true))
	log.Error("structured query exhausted retries", "attempts", out.Attempts, "err", prevErr)
	return out
}

func (e *Engine) generate(ctx context.Context, src Source, req Request, prevErr, inspection string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	reply, err := e.model.Complete(ctx, queryPrompt(src, req, prevErr, inspection), generationOptions)
	if err != nil {
		return "", fmt.Errorf("query generation failed: %w", err)
	}
	query := StripCodeFence(reply)
	if query == "" {
		return "", ErrEmptyQuery
	}
	return query, nil
}

func (e *Engine) execute(ctx context.Context, src Source, query string) (Result, error) {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	res, err := src.Execute(ctx, query)
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return Result{}, fmt.Errorf("query timed out after %s", e.timeout)
	}
	return res, err
}

func (e *Engine) inspect(ctx context.Context, insp Inspector, query string) string {
	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()
	values, err := insp.Inspect(ctx, query)
	if err != nil {
		e.log.Warn("data inspection failed", "err", err)
		return ""
	}
	return values
}
