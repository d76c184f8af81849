// ABOUTME: Shared-mode text transform applied to relayed messages
// ABOUTME: Deterministic under a fixed seed; randomness only varies styling

package transform

import (
	"math/rand"
	"strings"
	"sync"
	"unicode"
)

// tails are appended to transformed messages for stylistic variation.
var tails = []string{" uwu", " owo", " >w<", " ^w^", ""}

// stutterChance is the per-message probability of stuttering the first word.
const stutterChance = 0.25

// Transformer rewrites message text in the shared mode's style. The mapping
// from input to output is deterministic for a given seed; production seeds
// from crypto/rand, tests inject a fixed source.
type Transformer struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a Transformer using the given random source.
func New(rng *rand.Rand) *Transformer {
	return &Transformer{rng: rng}
}

// Apply transforms the text. Empty input is returned unchanged.
func (t *Transformer) Apply(text string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}

	var b strings.Builder
	b.Grow(len(text) + 8)

	prev := rune(0)
	for _, r := range text {
		switch r {
		case 'r', 'l':
			b.WriteRune('w')
		case 'R', 'L':
			b.WriteRune('W')
		case 'a', 'e', 'i', 'o', 'u':
			// "na" -> "nya" and friends
			if prev == 'n' {
				b.WriteRune('y')
			}
			b.WriteRune(r)
		default:
			b.WriteRune(r)
		}
		prev = r
	}

	out := b.String()

	t.mu.Lock()
	defer t.mu.Unlock()

	if t.rng.Float64() < stutterChance {
		out = stutter(out)
	}
	out += tails[t.rng.Intn(len(tails))]

	return out
}

// stutter repeats the first letter of the message ("hello" -> "h-hello").
func stutter(s string) string {
	for i, r := range s {
		if unicode.IsLetter(r) {
			return s[:i] + string(r) + "-" + s[i:]
		}
	}
	return s
}
