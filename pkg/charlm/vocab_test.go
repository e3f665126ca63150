package charlm

import (
	"errors"
	"testing"
)

func TestBuildVocabulary(t *testing.T) {
	v := BuildVocabulary([]string{"hi", "ha"})

	// 3 sentinels + {'a', 'h', 'i'}
	if got := v.Size(); got != 6 {
		t.Fatalf("Size() = %d, want 6", got)
	}

	// Corpus characters get ascending codes from 3 in rune order.
	wantCodes := map[rune]int{'a': 3, 'h': 4, 'i': 5}
	for r, want := range wantCodes {
		got, err := v.Encode(r)
		if err != nil {
			t.Fatalf("Encode(%q) failed: %v", r, err)
		}
		if got != want {
			t.Errorf("Encode(%q) = %d, want %d", r, got, want)
		}
	}
}

func TestVocabularyRoundTrip(t *testing.T) {
	corpus := []string{"why did the chicken cross the road?", "to get to the other side!"}
	v := BuildVocabulary(corpus)

	for _, r := range v.Chars() {
		code, err := v.Encode(r)
		if err != nil {
			t.Fatalf("Encode(%q) failed: %v", r, err)
		}
		back, err := v.Decode(code)
		if err != nil {
			t.Fatalf("Decode(%d) failed: %v", code, err)
		}
		if back != r {
			t.Errorf("decode(encode(%q)) = %q", r, back)
		}
	}
}

func TestVocabularyContiguous(t *testing.T) {
	v := BuildVocabulary([]string{"abcxyz", "  punctuation, too."})

	// Every code in [0, Size()) must decode; everything outside must not.
	for code := 0; code < v.Size(); code++ {
		if _, err := v.Decode(code); err != nil {
			t.Errorf("Decode(%d) failed inside the code range: %v", code, err)
		}
	}
	for _, code := range []int{-1, v.Size(), v.Size() + 10} {
		if _, err := v.Decode(code); !errors.Is(err, ErrUnknownCode) {
			t.Errorf("Decode(%d) error = %v, want ErrUnknownCode", code, err)
		}
	}
}

func TestVocabularyUnknownChar(t *testing.T) {
	v := BuildVocabulary([]string{"abc"})

	if _, err := v.Encode('z'); !errors.Is(err, ErrUnknownChar) {
		t.Errorf("Encode('z') error = %v, want ErrUnknownChar", err)
	}
	if _, err := v.EncodeString("abz"); !errors.Is(err, ErrUnknownChar) {
		t.Errorf("EncodeString(\"abz\") error = %v, want ErrUnknownChar", err)
	}

	// Sentinel runes are not encodable as corpus characters.
	for _, r := range []rune{PadRune, StartRune, EndRune} {
		if _, err := v.Encode(r); !errors.Is(err, ErrUnknownChar) {
			t.Errorf("Encode(%q) error = %v, want ErrUnknownChar", r, err)
		}
	}
}

func TestVocabularyDeterministic(t *testing.T) {
	// Construction order must not depend on example order.
	a := BuildVocabulary([]string{"one fish", "two fish"})
	b := BuildVocabulary([]string{"two fish", "one fish"})

	if a.Size() != b.Size() {
		t.Fatalf("sizes differ: %d vs %d", a.Size(), b.Size())
	}
	for code := 0; code < a.Size(); code++ {
		ra, _ := a.Decode(code)
		rb, _ := b.Decode(code)
		if ra != rb {
			t.Errorf("code %d maps to %q and %q depending on example order", code, ra, rb)
		}
	}
}

func TestDecodeString(t *testing.T) {
	v := BuildVocabulary([]string{"hi"})
	codes := mustEncode(t, v, "hi")

	marked := Mark(codes)
	got, err := v.DecodeString(marked)
	if err != nil {
		t.Fatalf("DecodeString failed: %v", err)
	}
	if want := string(StartRune) + "hi" + string(EndRune); got != want {
		t.Errorf("DecodeString(marked) = %q, want %q", got, want)
	}

	// Padding renders as nothing.
	padded := FixedWindow(codes, 5)
	got, err = v.DecodeString(padded)
	if err != nil {
		t.Fatalf("DecodeString failed: %v", err)
	}
	if got != "hi" {
		t.Errorf("DecodeString(padded) = %q, want %q", got, "hi")
	}
}
