package charlm

import (
	"context"
	"errors"
	"strings"
	"testing"
)

// funcModel adapts a plain function to the Model boundary for stubbing.
type funcModel func(window []int) ([]float64, error)

func (f funcModel) Predict(_ context.Context, window []int) ([]float64, error) {
	return f(window)
}

// endModel always puts all probability on the end sentinel.
func endModel(size int) Model {
	return funcModel(func([]int) ([]float64, error) {
		probs := make([]float64, size)
		probs[EndID] = 1
		return probs, nil
	})
}

// cycleModel deterministically cycles through a fixed sequence of codes,
// one per call.
type cycleModel struct {
	size int
	seq  []int
	step int
}

func (m *cycleModel) Predict(_ context.Context, _ []int) ([]float64, error) {
	probs := make([]float64, m.size)
	probs[m.seq[m.step%len(m.seq)]] = 1
	m.step++
	return probs, nil
}

func TestGenerateImmediateEnd(t *testing.T) {
	// A model that always predicts the end sentinel terminates after exactly
	// one appended character, and that character is the end sentinel.
	v := BuildVocabulary([]string{"hi"})
	g := NewGenerator(endModel(v.Size()), v, 3)

	out, err := g.Generate(context.Background(), "", WithMaxChars(50))
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if out != string(EndRune) {
		t.Errorf("Generate() = %q, want a single end sentinel", out)
	}
}

func TestGenerateGreedyCycleRepeats(t *testing.T) {
	// Greedy decoding reproduces a cycling stub's exact cycle up to the
	// character budget. The repetition is a property of the decision rule,
	// not an implementation bug.
	v := BuildVocabulary([]string{"ab"})
	a, _ := v.Encode('a')
	b, _ := v.Encode('b')
	g := NewGenerator(&cycleModel{size: v.Size(), seq: []int{a, b}}, v, 3)

	out, err := g.Generate(context.Background(), "", WithMaxChars(6))
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if out != "ababab" {
		t.Errorf("Generate() = %q, want %q", out, "ababab")
	}
}

func TestGenerateSeedIsContext(t *testing.T) {
	// The seed is kept verbatim and fed back as trailing context: the first
	// window the model sees is the fixed-width encoding of the seed, later
	// windows grow with the model's own outputs.
	v := BuildVocabulary([]string{"abc"})
	a, _ := v.Encode('a')

	var windows [][]int
	recorder := funcModel(func(window []int) ([]float64, error) {
		saved := make([]int, len(window))
		copy(saved, window)
		windows = append(windows, saved)
		probs := make([]float64, v.Size())
		probs[a] = 1
		return probs, nil
	})

	g := NewGenerator(recorder, v, 4)
	out, err := g.Generate(context.Background(), "bc", WithMaxChars(2))
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if out != "bcaa" {
		t.Errorf("Generate() = %q, want %q", out, "bcaa")
	}

	wantFirst := FixedWindow(mustEncode(t, v, "bc"), 4)
	if len(windows) != 2 {
		t.Fatalf("model saw %d windows, want 2", len(windows))
	}
	for i, w := range wantFirst {
		if windows[0][i] != w {
			t.Fatalf("first window = %v, want %v", windows[0], wantFirst)
		}
	}
	wantSecond := FixedWindow(mustEncode(t, v, "bca"), 4)
	for i, w := range wantSecond {
		if windows[1][i] != w {
			t.Fatalf("second window = %v, want %v", windows[1], wantSecond)
		}
	}
}

func TestGenerateNoModel(t *testing.T) {
	v := BuildVocabulary([]string{"hi"})
	g := NewGenerator(nil, v, 3)

	if _, err := g.Generate(context.Background(), "hi"); !errors.Is(err, ErrNoModel) {
		t.Errorf("Generate() error = %v, want ErrNoModel", err)
	}
}

func TestGenerateUnknownSeedChar(t *testing.T) {
	v := BuildVocabulary([]string{"hi"})
	g := NewGenerator(endModel(v.Size()), v, 3)

	_, err := g.Generate(context.Background(), "hz")
	if !errors.Is(err, ErrUnknownChar) {
		t.Errorf("Generate() error = %v, want ErrUnknownChar", err)
	}
	if err != nil && !strings.Contains(err.Error(), "'z'") {
		t.Errorf("error %q does not surface the offending character", err)
	}
}

func TestGenerateVectorSizeMismatch(t *testing.T) {
	v := BuildVocabulary([]string{"hi"})
	short := funcModel(func([]int) ([]float64, error) {
		return make([]float64, v.Size()-1), nil
	})
	g := NewGenerator(short, v, 3)

	if _, err := g.Generate(context.Background(), ""); !errors.Is(err, ErrUnknownCode) {
		t.Errorf("Generate() error = %v, want ErrUnknownCode", err)
	}
}

func TestGenerateEarlyTerminationDisabled(t *testing.T) {
	v := BuildVocabulary([]string{"hi"})
	g := NewGenerator(endModel(v.Size()), v, 3)

	out, err := g.Generate(context.Background(), "", WithMaxChars(3), WithEarlyTermination(false))
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if out != strings.Repeat(string(EndRune), 3) {
		t.Errorf("Generate() = %q, want three end sentinels", out)
	}
}

func TestGenerateTopKOne(t *testing.T) {
	// Top-k with k=1 pins sampling to the most probable code, making
	// temperature sampling deterministic for this distribution.
	v := BuildVocabulary([]string{"ab"})
	a, _ := v.Encode('a')
	b, _ := v.Encode('b')
	skewed := funcModel(func([]int) ([]float64, error) {
		probs := make([]float64, v.Size())
		probs[a] = 0.9
		probs[b] = 0.1
		return probs, nil
	})
	g := NewGenerator(skewed, v, 3)

	out, err := g.Generate(context.Background(), "",
		WithMaxChars(4), WithTemperature(1.0), WithTopK(1))
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if out != "aaaa" {
		t.Errorf("Generate() = %q, want %q", out, "aaaa")
	}
}

func BenchmarkGenerate(b *testing.B) {
	v := BuildVocabulary([]string{"abcdefghijklmnopqrstuvwxyz "})
	a, _ := v.Encode('a')
	z, _ := v.Encode('z')
	g := NewGenerator(&cycleModel{size: v.Size(), seq: []int{a, z}}, v, 10)
	ctx := context.Background()

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		s, err := g.Generate(ctx, "a", WithMaxChars(100), WithEarlyTermination(false))
		b.SetBytes(int64(len(s)))
		if err != nil {
			b.Fatalf("Generate() failed: %v", err)
		}
	}
}

func TestGenerateTemperatureSmoke(t *testing.T) {
	// Temperature sampling stays within the vocabulary and the budget.
	v := BuildVocabulary([]string{"ab"})
	a, _ := v.Encode('a')
	b, _ := v.Encode('b')
	even := funcModel(func([]int) ([]float64, error) {
		probs := make([]float64, v.Size())
		probs[a] = 0.5
		probs[b] = 0.5
		return probs, nil
	})
	g := NewGenerator(even, v, 3)

	out, err := g.Generate(context.Background(), "", WithMaxChars(20), WithTemperature(0.8))
	if err != nil {
		t.Fatalf("Generate failed: %v", err)
	}
	if len(out) != 20 {
		t.Fatalf("generated %d chars, want 20", len(out))
	}
	for _, r := range out {
		if r != 'a' && r != 'b' {
			t.Errorf("generated unexpected character %q", r)
		}
	}
}
