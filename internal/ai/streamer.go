package ai

import (
	"context"
	"errors"
)

var errStopSequence = errors.New("stop sequence reached")

// Chunk is one piece of filtered model output. A chunk with Err set is the
// last one sent on the channel.
type Chunk struct {
	Text string
	Err  error
}

// Streamer runs a blocking model stream on a worker goroutine and hands the
// filtered text to the caller through a bounded channel.
type Streamer struct {
	model  ChatModel
	buffer int
}

func NewStreamer(model ChatModel, buffer int) *Streamer {
	if buffer <= 0 {
		buffer = 32
	}
	return &Streamer{model: model, buffer: buffer}
}

// Stream starts generation. The channel is closed when the model finishes,
// a stop sequence is seen, ctx ends, or the upstream call fails.
func (s *Streamer) Stream(ctx context.Context, messages []ChatMessage, opts GenerationOptions) <-chan Chunk {
	out := make(chan Chunk, s.buffer)
	filter := NewTokenFilter(opts.Stop, SpecialTokens)

	go func() {
		defer close(out)

		send := func(c Chunk) bool {
			select {
			case out <- c:
				return true
			case <-ctx.Done():
				return false
			}
		}

		err := s.model.StreamComplete(ctx, messages, opts, func(raw string) error {
			text, stopped := filter.Push(raw)
			if text != "" && !send(Chunk{Text: text}) {
				return ctx.Err()
			}
			if stopped {
				return errStopSequence
			}
			return nil
		})
		if tail := filter.Flush(); tail != "" {
			if !send(Chunk{Text: tail}) {
				return
			}
		}
		if err != nil && !errors.Is(err, errStopSequence) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				err = ctxErr
			}
			// with ctx done the reader may be gone, so only a free slot is used
			select {
			case out <- Chunk{Err: err}:
			default:
				send(Chunk{Err: err})
			}
		}
	}()

	return out
}
