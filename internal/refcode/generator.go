package refcode

import (
	"crypto/rand"
	"fmt"
	"io"
	"strings"
)

// CodeLength is the number of characters in a reference code.
const CodeLength = 6

// Generator draws uniformly random codes from an alphabet.
type Generator struct {
	alphabet string
	random   io.Reader
}

func NewGenerator(alphabet string, random io.Reader) *Generator {
	if random == nil {
		random = rand.Reader
	}
	return &Generator{alphabet: strings.ToUpper(alphabet), random: random}
}

// Next returns a fresh candidate. Bytes that would bias the distribution are
// rejected and redrawn.
func (g *Generator) Next() (string, error) {
	n := len(g.alphabet)
	limit := 256 - 256%n

	out := make([]byte, 0, CodeLength)
	buf := make([]byte, 1)
	for len(out) < CodeLength {
		if _, err := io.ReadFull(g.random, buf); err != nil {
			return "", fmt.Errorf("read random: %w", err)
		}
		if int(buf[0]) >= limit {
			continue
		}
		out = append(out, g.alphabet[int(buf[0])%n])
	}
	return string(out), nil
}

// WellFormed reports whether code (after case folding and trimming) has the
// right length and uses only alphabet characters.
func (g *Generator) WellFormed(code string) bool {
	code = strings.ToUpper(strings.TrimSpace(code))
	if len(code) != CodeLength {
		return false
	}
	for i := 0; i < len(code); i++ {
		if strings.IndexByte(g.alphabet, code[i]) < 0 {
			return false
		}
	}
	return true
}
