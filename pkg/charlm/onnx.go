//go:build onnx

package charlm

import (
	"context"
	"fmt"
	"math"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

// ortEnv manages global ONNX Runtime initialization (process-wide singleton).
var ortEnv struct {
	once sync.Once
	err  error
}

// initORT initializes the ONNX Runtime environment. Safe to call multiple
// times; only the first call has any effect.
func initORT(libPath string) error {
	ortEnv.once.Do(func() {
		ort.SetSharedLibraryPath(libPath)
		ortEnv.err = ort.InitializeEnvironment()
	})
	return ortEnv.err
}

// ONNXModel serves the Model boundary from a recurrent network trained
// elsewhere and exported to ONNX. The graph contract is one int64 input of
// shape [batch, window] and one float32 output of shape [batch, vocab]
// holding unnormalized logits; Predict applies the softmax here so the
// exported graph does not have to.
type ONNXModel struct {
	mu        sync.Mutex
	session   *ort.DynamicAdvancedSession
	inputName string
	outName   string
	vocabSize int64
}

// NewONNXModel loads the ONNX graph at modelPath, using the ONNX Runtime
// shared library at libPath, and validates its tensor shapes against the
// vocabulary size.
func NewONNXModel(modelPath, libPath string, vocab *Vocabulary) (*ONNXModel, error) {
	if err := initORT(libPath); err != nil {
		return nil, fmt.Errorf("onnx: failed to initialize runtime: %w", err)
	}

	inputs, outputs, err := ort.GetInputOutputInfo(modelPath)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to read model info: %w", err)
	}
	if len(inputs) != 1 {
		return nil, fmt.Errorf("onnx: expected a single input tensor, got %d", len(inputs))
	}
	if len(outputs) != 1 {
		return nil, fmt.Errorf("onnx: expected a single output tensor, got %d", len(outputs))
	}

	outDims := outputs[0].Dimensions
	if len(outDims) != 2 {
		return nil, fmt.Errorf("onnx: expected 2D output tensor, got %v", outDims)
	}
	if outDims[1] > 0 && outDims[1] != int64(vocab.Size()) {
		return nil, fmt.Errorf("onnx: output dimension %d does not match vocabulary size %d: %w",
			outDims[1], vocab.Size(), ErrVocabMismatch)
	}

	opts, err := ort.NewSessionOptions()
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create session options: %w", err)
	}
	defer opts.Destroy()
	opts.SetIntraOpNumThreads(1)
	opts.SetInterOpNumThreads(1)

	session, err := ort.NewDynamicAdvancedSession(
		modelPath,
		[]string{inputs[0].Name},
		[]string{outputs[0].Name},
		opts,
	)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create session: %w", err)
	}

	return &ONNXModel{
		session:   session,
		inputName: inputs[0].Name,
		outName:   outputs[0].Name,
		vocabSize: int64(vocab.Size()),
	}, nil
}

// Predict runs one inference over a single window and returns the
// softmax-normalized distribution over the vocabulary.
func (m *ONNXModel) Predict(_ context.Context, window []int) ([]float64, error) {
	input := make([]int64, len(window))
	for i, code := range window {
		input[i] = int64(code)
	}

	shape := ort.NewShape(1, int64(len(window)))
	tIn, err := ort.NewTensor(shape, input)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create input tensor: %w", err)
	}
	defer tIn.Destroy()

	outShape := ort.NewShape(1, m.vocabSize)
	tOut, err := ort.NewEmptyTensor[float32](outShape)
	if err != nil {
		return nil, fmt.Errorf("onnx: failed to create output tensor: %w", err)
	}
	defer tOut.Destroy()

	// ONNX Runtime sessions are not safe for concurrent Run calls.
	m.mu.Lock()
	err = m.session.Run([]ort.Value{tIn}, []ort.Value{tOut})
	m.mu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("onnx: inference failed: %w", err)
	}

	logits := tOut.GetData()
	return softmax(logits), nil
}

// Close releases the ONNX session resources.
func (m *ONNXModel) Close() error {
	return m.session.Destroy()
}

// softmax converts raw logits into a probability distribution, shifted by
// the maximum for numerical stability.
func softmax(logits []float32) []float64 {
	maxLogit := float32(math.Inf(-1))
	for _, l := range logits {
		if l > maxLogit {
			maxLogit = l
		}
	}

	probs := make([]float64, len(logits))
	var total float64
	for i, l := range logits {
		p := math.Exp(float64(l - maxLogit))
		probs[i] = p
		total += p
	}
	for i := range probs {
		probs[i] /= total
	}
	return probs
}
