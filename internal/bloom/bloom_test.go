package bloom

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNoFalseNegatives(t *testing.T) {
	m, k := SizeFor(100, 0.01)
	f := New(m, k)
	tokens := []string{"hello", "world", "goodbye", "foo", "bar"}
	for _, tok := range tokens {
		f.Add(tok)
	}
	for _, tok := range tokens {
		assert.True(t, f.MayContain(tok))
	}
}

func TestLikelyAbsent(t *testing.T) {
	f := New(1024, 4)
	f.Add("hello")
	f.Add("world")
	assert.False(t, f.MayContain("completely-unrelated-token-xyz"))
}

func TestMayContainAll(t *testing.T) {
	f := New(1024, 4)
	f.Add("a")
	f.Add("b")
	assert.True(t, f.MayContainAll([]string{"a", "b"}))
	assert.False(t, f.MayContainAll([]string{"a", "zzz-missing"}))
}

func TestCountPossiblyPresent(t *testing.T) {
	f := New(1024, 4)
	f.Add("a")
	f.Add("b")
	n := f.CountPossiblyPresent([]string{"a", "b", "zzz-missing-1", "zzz-missing-2"})
	assert.Equal(t, 2, n)
}
