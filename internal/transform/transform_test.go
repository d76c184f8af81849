// ABOUTME: Tests for the shared-mode text transform
// ABOUTME: Verifies substitutions and seed-determinism

package transform

import (
	"math/rand"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func newSeeded(seed int64) *Transformer {
	return New(rand.New(rand.NewSource(seed)))
}

func TestApply_Substitutions(t *testing.T) {
	tr := newSeeded(1)

	out := tr.Apply("hello world")
	assert.Contains(t, out, "hewwo wowwd")
	assert.NotContains(t, out, "hello")
}

func TestApply_NBeforeVowel(t *testing.T) {
	out := newSeeded(1).Apply("nice")
	assert.True(t, strings.HasPrefix(out, "nyice"), "got %q", out)
}

func TestApply_PreservesCase(t *testing.T) {
	out := newSeeded(1).Apply("RL")
	assert.True(t, strings.HasPrefix(out, "WW"), "got %q", out)
}

func TestApply_EmptyInput(t *testing.T) {
	tr := newSeeded(1)
	assert.Equal(t, "", tr.Apply(""))
	assert.Equal(t, "   ", tr.Apply("   "))
}

func TestApply_DeterministicUnderSeed(t *testing.T) {
	inputs := []string{"hello", "the rain in spain", "STOP being normal", "lol"}

	a := newSeeded(99)
	b := newSeeded(99)
	for _, in := range inputs {
		assert.Equal(t, a.Apply(in), b.Apply(in), "input %q", in)
	}
}

func TestStutter(t *testing.T) {
	assert.Equal(t, "h-hello", stutter("hello"))
	assert.Equal(t, "\"w-wow\"", stutter("\"wow\""))
	assert.Equal(t, "123", stutter("123"))
}
