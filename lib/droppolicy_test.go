package lib

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDropPolicyExtremes(t *testing.T) {
	never := NewSeededDropPolicy(0, 1)
	always := NewSeededDropPolicy(100, 1)
	for i := 0; i < 1000; i++ {
		assert.False(t, never.Drop())
		assert.True(t, always.Drop())
	}

	var nilPolicy *DropPolicy
	assert.False(t, nilPolicy.Drop())
}

func TestDropPolicyClamps(t *testing.T) {
	assert.Equal(t, 0, NewSeededDropPolicy(-20, 1).Probability)
	assert.Equal(t, 100, NewSeededDropPolicy(250, 1).Probability)
}

func TestDropPolicyRate(t *testing.T) {
	p := NewSeededDropPolicy(30, 42)
	const draws = 20000
	dropped := 0
	for i := 0; i < draws; i++ {
		if p.Drop() {
			dropped++
		}
	}
	assert.InDelta(t, 0.30, float64(dropped)/draws, 0.02)
}

func TestDropPolicyRepeatable(t *testing.T) {
	a := NewSeededDropPolicy(50, 99)
	b := NewSeededDropPolicy(50, 99).Func()
	for i := 0; i < 200; i++ {
		assert.Equal(t, a.Drop(), b(nil), "draw %d", i)
	}
}
