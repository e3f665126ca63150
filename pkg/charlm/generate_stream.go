package charlm

import (
	"context"
	"fmt"
	"log/slog"
)

// GenerateStream runs the same decode loop as Generate but emits characters
// on a read-only channel as they are produced. The stream is lazy, finite,
// and non-restartable: it ends at the character budget, at the end sentinel
// (when early termination is enabled), or when the context is cancelled, and
// the channel is closed afterwards. Seed characters are not re-emitted.
func (g *Generator) GenerateStream(ctx context.Context, seed string, opts ...GenerateOption) (<-chan rune, error) {
	options := newGenerateOptions(opts)

	if g.model == nil {
		return nil, ErrNoModel
	}

	codes, err := g.vocab.EncodeString(seed)
	if err != nil {
		return nil, fmt.Errorf("seed text: %w", err)
	}

	out := make(chan rune)

	go func() {
		defer close(out)

		generated := 0
		for generated < options.maxChars {
			select {
			case <-ctx.Done():
				g.logger.DebugContext(ctx, "generation stream cancelled by context")
				return
			default:
			}

			next, err := g.step(ctx, codes, options)
			if err != nil {
				g.logger.ErrorContext(ctx, "generation step failed",
					slog.Int("generated_chars", generated),
					slog.Any("error", err),
				)
				return
			}

			r, err := g.vocab.Decode(next)
			if err != nil {
				g.logger.ErrorContext(ctx, "failed to decode generated code",
					slog.Int("code", next),
					slog.Any("error", err),
				)
				return
			}

			select {
			case <-ctx.Done():
				return
			case out <- r:
			}

			codes = append(codes, next)
			generated++

			if next == EndID && options.canEndEarly {
				return
			}
		}
	}()

	return out, nil
}
