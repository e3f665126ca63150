package charlm

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math"
	"math/rand/v2"
	"sort"
	"strings"
)

// ErrNoModel is returned when generation is attempted without a model.
var ErrNoModel = errors.New("no model supplied")

// generateOptions Is used by the generate functions to configure default options.
type generateOptions struct {
	maxChars    int
	canEndEarly bool
	temperature float64
	topK        int
}

// GenerateOption is a function that configures generation parameters. It's
// used as a variadic argument in Generate and GenerateStream.
type GenerateOption func(*generateOptions)

// WithMaxChars sets the maximum number of characters to append. Generation
// may stop earlier if the end sentinel is produced and WithEarlyTermination
// is enabled.
func WithMaxChars(n int) GenerateOption {
	return func(o *generateOptions) { o.maxChars = n }
}

// WithEarlyTermination specifies whether generation can stop before reaching
// maxChars once the end sentinel is produced.
func WithEarlyTermination(canEnd bool) GenerateOption {
	return func(o *generateOptions) { o.canEndEarly = canEnd }
}

// WithTemperature switches the decision rule from greedy argmax to
// temperature sampling. A value of 1.0 samples from the model's distribution
// unchanged; values below 1.0 sharpen it, values above flatten it. A value
// of 0 or less keeps the greedy default.
//
// Greedy decoding is the baseline rule and is known to degenerate into short
// repeating cycles on character models; temperature is the explicit opt-out,
// not a silent fix.
func WithTemperature(t float64) GenerateOption {
	return func(o *generateOptions) { o.temperature = t }
}

// WithTopK restricts selection to the k most probable codes at each step.
// A value of 0 disables top-k filtering.
func WithTopK(k int) GenerateOption {
	return func(o *generateOptions) { o.topK = k }
}

// Generator runs the autoregressive decode loop: encode the trailing window
// of the buffer, ask the model for a distribution, select a code, decode and
// append it, repeat. A Generator is cheap, holds no mutable state between
// calls, and is safe for concurrent use; each call is inherently sequential
// internally since every step feeds on the previous one.
type Generator struct {
	model  Model
	vocab  *Vocabulary
	window int
	logger *slog.Logger
}

// NewGenerator returns a Generator over the given model and vocabulary with
// the given context window width. The vocabulary must be the exact one the
// model was trained with; a mismatch surfaces as ErrUnknownCode during
// generation, not as degraded output.
func NewGenerator(model Model, vocab *Vocabulary, window int) *Generator {
	return &Generator{
		model:  model,
		vocab:  vocab,
		window: window,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
}

// SetLogger sets the logger for the Generator. By default, all logs are
// discarded.
func (g *Generator) SetLogger(logger *slog.Logger) {
	if logger != nil {
		g.logger = logger
	}
}

// Generate produces text starting from seed. The seed is used as raw
// trailing context: it is not wrapped with sentinels, and every seed
// character must be in the vocabulary. The returned string is the seed plus
// everything appended, including the end sentinel rune when one terminated
// the run.
func (g *Generator) Generate(ctx context.Context, seed string, opts ...GenerateOption) (string, error) {
	options := newGenerateOptions(opts)

	if g.model == nil {
		return "", ErrNoModel
	}

	codes, err := g.vocab.EncodeString(seed)
	if err != nil {
		return "", fmt.Errorf("seed text: %w", err)
	}

	var builder strings.Builder
	builder.WriteString(seed)

	generated := 0
	terminatedEarly := false

	for generated < options.maxChars {
		next, err := g.step(ctx, codes, options)
		if err != nil {
			return "", err
		}

		r, err := g.vocab.Decode(next)
		if err != nil {
			return "", err
		}
		builder.WriteRune(r)
		codes = append(codes, next)
		generated++

		if next == EndID && options.canEndEarly {
			terminatedEarly = true
			g.logger.DebugContext(ctx, "generation terminated by end sentinel",
				slog.Int("generated_chars", generated),
			)
			break
		}
	}

	if !terminatedEarly {
		g.logger.DebugContext(ctx, "generation terminated by reaching maxChars",
			slog.Int("max_chars", options.maxChars),
			slog.Int("generated_chars", generated),
		)
	}

	return builder.String(), nil
}

// step runs one encode-predict-select cycle over the current buffer.
func (g *Generator) step(ctx context.Context, codes []int, options *generateOptions) (int, error) {
	window := FixedWindow(codes, g.window)

	probs, err := g.model.Predict(ctx, window)
	if err != nil {
		return 0, fmt.Errorf("model prediction failed: %w", err)
	}
	if len(probs) != g.vocab.Size() {
		return 0, fmt.Errorf("model returned %d probabilities for vocabulary of %d: %w",
			len(probs), g.vocab.Size(), ErrUnknownCode)
	}

	return chooseNextCode(probs, options), nil
}

// newGenerateOptions applies option functions over the defaults: a 256
// character budget, early termination on the end sentinel, and greedy
// decoding.
func newGenerateOptions(opts []GenerateOption) *generateOptions {
	options := &generateOptions{
		maxChars:    256,
		canEndEarly: true,
		temperature: 0,
		topK:        0,
	}
	for _, opt := range opts {
		opt(options)
	}
	return options
}

// chooseNextCode abstracts the code selection logic from the generation
// loop. With temperature <= 0 it is a pure argmax; ties break toward the
// lowest code so greedy decoding stays deterministic.
func chooseNextCode(probs []float64, options *generateOptions) int {
	type choice struct {
		code int
		p    float64
	}

	choices := make([]choice, 0, len(probs))
	for code, p := range probs {
		if p > 0 {
			choices = append(choices, choice{code: code, p: p})
		}
	}
	if len(choices) == 0 {
		// Degenerate all-zero vector; fall back to the end sentinel rather
		// than inventing probability mass.
		return EndID
	}

	// topK filtering
	if options.topK > 0 && options.topK < len(choices) {
		sort.SliceStable(choices, func(i, j int) bool {
			return choices[i].p > choices[j].p
		})
		choices = choices[:options.topK]
	}

	if options.temperature <= 0 { // Greedy argmax
		best := choices[0]
		for _, c := range choices[1:] {
			if c.p > best.p {
				best = c
			}
		}
		return best.code
	}

	// Temperature sampling over rescaled log-probabilities.
	weights := make([]float64, len(choices))
	maxLog := math.Inf(-1)
	for i, c := range choices {
		lp := math.Log(c.p) / options.temperature
		weights[i] = lp
		if lp > maxLog {
			maxLog = lp
		}
	}
	var total float64
	for i, lp := range weights {
		w := math.Exp(lp - maxLog)
		weights[i] = w
		total += w
	}
	randChoice := rand.Float64() * total
	for i, c := range choices {
		randChoice -= weights[i]
		if randChoice < 0 {
			return c.code
		}
	}
	return choices[len(choices)-1].code
}
