package charlm

import (
	"errors"
	"fmt"
	"slices"
	"strings"
)

const (
	// PadID is the reserved code for the padding sentinel.
	PadID = 0
	// StartID is the reserved code for the start-of-example sentinel.
	StartID = 1
	// EndID is the reserved code for the end-of-example sentinel.
	EndID = 2
	// numReserved is the number of sentinel codes placed before corpus characters.
	numReserved = 3
)

const (
	// PadText is the display text for the padding sentinel.
	PadText = "<PAD>"
	// StartText is the display text for the start sentinel.
	StartText = "<S>"
	// EndText is the display text for the end sentinel.
	EndText = "</S>"
)

// Sentinel runes used when a sentinel code must round-trip through a string.
// They are guaranteed disjoint from cleaned corpus text because Clean strips
// every occurrence of them from raw input.
const (
	PadRune   = '\x00'
	StartRune = '~'
	EndRune   = '^'
)

var (
	// ErrUnknownChar is returned when a character has no code in the vocabulary.
	ErrUnknownChar = errors.New("character not in vocabulary")
	// ErrUnknownCode is returned when a code is outside the vocabulary range,
	// or when a model produces output inconsistent with the vocabulary.
	ErrUnknownCode = errors.New("code not in vocabulary")
	// ErrVocabMismatch is returned when a persisted vocabulary does not match
	// the expected shape (missing sentinels, gaps in the code range, or a
	// conflict with an already-built vocabulary).
	ErrVocabMismatch = errors.New("vocabulary mismatch")
)

// Vocabulary is an immutable bijection between characters and dense integer
// codes. Codes form the contiguous range [0, Size()): the three sentinel codes
// occupy 0..2 and every distinct corpus character gets exactly one code >= 3.
// A Vocabulary is safe for concurrent readers.
type Vocabulary struct {
	idToChar []rune       // position is the code; 0..2 hold the sentinel runes
	charToID map[rune]int // corpus characters only, codes >= 3
}

// BuildVocabulary constructs a Vocabulary from cleaned (not marked) example
// texts. Distinct characters are assigned ascending codes starting at 3 in
// ascending rune order, which makes construction reproducible for a given
// corpus regardless of example order.
func BuildVocabulary(examples []string) *Vocabulary {
	seen := make(map[rune]struct{})
	for _, ex := range examples {
		for _, r := range ex {
			seen[r] = struct{}{}
		}
	}

	chars := make([]rune, 0, len(seen))
	for r := range seen {
		chars = append(chars, r)
	}
	slices.Sort(chars)

	v := &Vocabulary{
		idToChar: make([]rune, numReserved, numReserved+len(chars)),
		charToID: make(map[rune]int, len(chars)),
	}
	v.idToChar[PadID] = PadRune
	v.idToChar[StartID] = StartRune
	v.idToChar[EndID] = EndRune

	for _, r := range chars {
		v.charToID[r] = len(v.idToChar)
		v.idToChar = append(v.idToChar, r)
	}
	return v
}

// Size returns the total number of codes: 3 sentinels plus the number of
// distinct corpus characters.
func (v *Vocabulary) Size() int {
	return len(v.idToChar)
}

// Encode returns the code for a corpus character. Sentinel runes are not
// encodable; they only enter sequences through Mark and FixedWindow.
func (v *Vocabulary) Encode(r rune) (int, error) {
	id, ok := v.charToID[r]
	if !ok {
		return 0, fmt.Errorf("encode %q: %w", r, ErrUnknownChar)
	}
	return id, nil
}

// Decode returns the character for a code. Sentinel codes decode to their
// reserved runes.
func (v *Vocabulary) Decode(code int) (rune, error) {
	if code < 0 || code >= len(v.idToChar) {
		return 0, fmt.Errorf("decode %d (vocabulary size %d): %w", code, len(v.idToChar), ErrUnknownCode)
	}
	return v.idToChar[code], nil
}

// EncodeString encodes every character of s. It fails on the first character
// missing from the vocabulary, surfacing which one.
func (v *Vocabulary) EncodeString(s string) ([]int, error) {
	codes := make([]int, 0, len(s))
	for _, r := range s {
		id, err := v.Encode(r)
		if err != nil {
			return nil, err
		}
		codes = append(codes, id)
	}
	return codes, nil
}

// DecodeString decodes a code sequence back into a string. Sentinel codes
// render as their reserved runes, except PadID which renders as nothing.
func (v *Vocabulary) DecodeString(codes []int) (string, error) {
	var b strings.Builder
	b.Grow(len(codes))
	for _, code := range codes {
		if code == PadID {
			continue
		}
		r, err := v.Decode(code)
		if err != nil {
			return "", err
		}
		b.WriteRune(r)
	}
	return b.String(), nil
}

// Chars returns the corpus characters in code order (codes 3..Size()-1).
// The returned slice is a copy.
func (v *Vocabulary) Chars() []rune {
	return slices.Clone(v.idToChar[numReserved:])
}

// sentinelText maps a sentinel code to its display text, or "" for
// non-sentinel codes.
func sentinelText(code int) string {
	switch code {
	case PadID:
		return PadText
	case StartID:
		return StartText
	case EndID:
		return EndText
	}
	return ""
}
