package ai

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"
)

type scriptedModel struct {
	chunks    []string
	failAfter error
	sent      int
}

func (m *scriptedModel) Complete(ctx context.Context, messages []ChatMessage, opts GenerationOptions) (string, error) {
	return strings.Join(m.chunks, ""), nil
}

func (m *scriptedModel) StreamComplete(ctx context.Context, messages []ChatMessage, opts GenerationOptions, onChunk func(string) error) error {
	for _, c := range m.chunks {
		if err := onChunk(c); err != nil {
			return err
		}
		m.sent++
	}
	return m.failAfter
}

func collect(ch <-chan Chunk) (string, error) {
	var out strings.Builder
	var err error
	for c := range ch {
		if c.Err != nil {
			err = c.Err
			continue
		}
		out.WriteString(c.Text)
	}
	return out.String(), err
}

func TestStreamerStopsUpstreamAtStopSequence(t *testing.T) {
	m := &scriptedModel{chunks: []string{"hello ", "Human:", " ignore", " this"}}
	s := NewStreamer(m, 2)
	got, err := collect(s.Stream(context.Background(), nil, GenerationOptions{Stop: []string{"Human:"}}))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != "hello " {
		t.Fatalf("want %q, got %q", "hello ", got)
	}
	if m.sent != 1 {
		t.Fatalf("upstream should stop after the stop chunk, consumed %d chunks", m.sent)
	}
}

func TestStreamerKeepsPartialTextOnUpstreamFailure(t *testing.T) {
	boom := errors.New("connection reset")
	m := &scriptedModel{chunks: []string{"partial ", "answer"}, failAfter: boom}
	s := NewStreamer(m, 1)
	got, err := collect(s.Stream(context.Background(), nil, GenerationOptions{}))
	if !errors.Is(err, boom) {
		t.Fatalf("want upstream error, got %v", err)
	}
	if got != "partial answer" {
		t.Fatalf("want partial text, got %q", got)
	}
}

type blockingModel struct{}

func (blockingModel) Complete(ctx context.Context, _ []ChatMessage, _ GenerationOptions) (string, error) {
	<-ctx.Done()
	return "", ctx.Err()
}

func (blockingModel) StreamComplete(ctx context.Context, _ []ChatMessage, _ GenerationOptions, onChunk func(string) error) error {
	if err := onChunk("first"); err != nil {
		return err
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestStreamerFailsClosedOnTimeout(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	s := NewStreamer(blockingModel{}, 4)

	done := make(chan struct{})
	var got string
	go func() {
		got, _ = collect(s.Stream(ctx, nil, GenerationOptions{}))
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("stream did not end after the deadline")
	}
	if got != "first" {
		t.Fatalf("want partial text %q, got %q", "first", got)
	}
}
