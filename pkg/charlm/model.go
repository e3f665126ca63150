package charlm

import (
	"context"
	"math/rand/v2"
)

// Model is the boundary to the sequence model proper. Given a fixed-length
// window of codes it returns a probability distribution over the full
// vocabulary: one entry per code, all entries >= 0, summing to 1 within
// floating-point tolerance. How that distribution is produced (recurrent
// network, transition counts, anything else) is the implementation's
// business. Implementations must be safe for concurrent callers, as
// independent generations may share one model.
type Model interface {
	Predict(ctx context.Context, window []int) ([]float64, error)
}

// Batch is a shuffled mini-batch of training pairs packed for an external
// trainer. Windows is a flat row-major slice of Rows*SeqLen codes; each row
// is right-padded with the padding sentinel up to SeqLen, the longest true
// window length within this batch. Lengths carries each row's true length so
// the trainer can mask the rectangularity padding out of its loss. Labels,
// Lengths, and the rows of Windows are index-aligned.
//
// This right-padding to the batch maximum is a packing detail only; it is
// not the fixed-width window padding done by FixedWindow.
type Batch struct {
	Windows []int
	Labels  []int
	Lengths []int
	Rows    int
	SeqLen  int
}

// MakeBatches shuffles pairs with rng and packs them into batches of at most
// batchSize rows. It is a pure function of its arguments: the input slice is
// not modified, no state carries over from one batch to the next, and the
// same rng seed over the same pairs yields identical batches.
func MakeBatches(pairs []Pair, batchSize int, rng *rand.Rand) []Batch {
	if len(pairs) == 0 || batchSize <= 0 {
		return nil
	}

	shuffled := make([]Pair, len(pairs))
	copy(shuffled, pairs)
	if rng != nil {
		rng.Shuffle(len(shuffled), func(i, j int) {
			shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
		})
	}

	batches := make([]Batch, 0, (len(shuffled)+batchSize-1)/batchSize)
	for start := 0; start < len(shuffled); start += batchSize {
		end := min(start+batchSize, len(shuffled))
		batches = append(batches, packBatch(shuffled[start:end]))
	}
	return batches
}

// packBatch packs one batch worth of pairs into the flat layout, padded to
// the longest window among this batch's own members.
func packBatch(pairs []Pair) Batch {
	seqLen := 0
	for _, p := range pairs {
		if len(p.Window) > seqLen {
			seqLen = len(p.Window)
		}
	}

	b := Batch{
		Windows: make([]int, len(pairs)*seqLen),
		Labels:  make([]int, len(pairs)),
		Lengths: make([]int, len(pairs)),
		Rows:    len(pairs),
		SeqLen:  seqLen,
	}
	for i, p := range pairs {
		row := b.Windows[i*seqLen : (i+1)*seqLen]
		copy(row, p.Window)
		for j := len(p.Window); j < seqLen; j++ {
			row[j] = PadID
		}
		b.Labels[i] = p.Label
		b.Lengths[i] = len(p.Window)
	}
	return b
}
