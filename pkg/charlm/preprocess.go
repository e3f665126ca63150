package charlm

import (
	"bufio"
	"errors"
	"io"
	"log/slog"
	"strings"
	"unicode/utf8"
)

// disallowed characters stripped from raw corpus text: backspace, NUL, and
// the two sentinel runes. Stripping the sentinel runes from input is what
// guarantees they can never collide with real corpus content.
const disallowedChars = "\b\x00~^"

// Clean removes every disallowed character from raw example text. It is
// applied to each example independently before vocabulary construction.
func Clean(raw string) string {
	if !strings.ContainsAny(raw, disallowedChars) {
		return raw
	}
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if strings.ContainsRune(disallowedChars, r) {
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// Mark wraps a cleaned, encoded example with the start and end sentinels.
// It must be applied per example, never to a concatenation of examples.
func Mark(codes []int) []int {
	marked := make([]int, 0, len(codes)+2)
	marked = append(marked, StartID)
	marked = append(marked, codes...)
	return append(marked, EndID)
}

// maxExampleLen is the per-row size ceiling for corpus input. Rows beyond it
// are skipped, not read into a training example.
const maxExampleLen = 1 << 20

// ReadCorpus reads a corpus of one example per line from r, cleaning each
// line. Lines that are not valid text, and lines longer than maxExampleLen,
// are skipped and logged with their row index rather than aborting the whole
// pass; blank lines are kept, as an empty joke is a legal (if unfunny)
// example.
func ReadCorpus(r io.Reader, logger *slog.Logger) ([]string, error) {
	var examples []string
	reader := bufio.NewReader(r)

	row := 0
	for {
		line, err := reader.ReadString('\n')
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, err
		}
		if line != "" {
			row++
			line = strings.TrimSuffix(line, "\n")
			line = strings.TrimSuffix(line, "\r")
			switch {
			case len(line) > maxExampleLen:
				logger.Warn("skipping oversized corpus row",
					slog.Int("row", row),
					slog.Int("bytes", len(line)),
				)
			case !utf8.ValidString(line):
				logger.Warn("skipping malformed corpus row",
					slog.Int("row", row),
				)
			default:
				examples = append(examples, Clean(line))
			}
		}
		if errors.Is(err, io.EOF) {
			return examples, nil
		}
	}
}
