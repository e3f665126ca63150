package charlm

// Pair is one training example: a fixed-width window of codes and the code
// immediately following it in the same marked sequence.
type Pair struct {
	Window []int
	Label  int
}

// MakeWindows converts one marked example into (window, label) pairs using
// the prefix-pad strategy: the marked sequence's single leading start
// sentinel is widened to w start sentinels, then a width-w window slides
// across the result one position at a time. Every label is a real character
// or the end sentinel, never a start sentinel, so an example of cleaned
// length L contributes exactly L+1 pairs and the first windows are heavily
// start-padded, a distinguishable "no context yet" signal. Concatenating the
// labels in order reconstructs the marked sequence minus its leading start
// sentinel, which is implicit in the padding. Windows never
// cross example boundaries because marking and windowing are per-example
// operations.
func MakeWindows(marked []int, w int) []Pair {
	if w <= 0 || len(marked) == 0 {
		return nil
	}

	padded := make([]int, 0, w-1+len(marked))
	for i := 0; i < w-1; i++ {
		padded = append(padded, StartID)
	}
	padded = append(padded, marked...)

	pairs := make([]Pair, 0, len(padded)-w)
	for i := 0; i+w < len(padded); i++ {
		window := make([]int, w)
		copy(window, padded[i:i+w])
		pairs = append(pairs, Pair{Window: window, Label: padded[i+w]})
	}
	return pairs
}

// FixedWindow produces a window of exactly length w from an arbitrary-length
// code sequence: the last w codes when longer, left-padded with the padding
// sentinel when shorter. This is the strategy the generator applies to its
// trailing buffer at every step.
func FixedWindow(codes []int, w int) []int {
	if w <= 0 {
		return nil
	}
	window := make([]int, w)
	if len(codes) >= w {
		copy(window, codes[len(codes)-w:])
		return window
	}
	pad := w - len(codes)
	for i := 0; i < pad; i++ {
		window[i] = PadID
	}
	copy(window[pad:], codes)
	return window
}
