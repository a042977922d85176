package steg

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// walk drives s to exhaustion, reloading the countdown from skips in turn.
func walk(s Scheduler, skips []byte) []Position {
	var (
		out []Position
		st  State
	)
	for i := 0; ; i++ {
		pos, next, ok := s.Next(st)
		if !ok {
			return out
		}
		out = append(out, pos)
		var skip byte
		if len(skips) > 0 {
			skip = skips[i%len(skips)]
		}
		st = next.WithSkip(skip)
	}
}

func TestScheduler_SmallGrid(t *testing.T) {
	s := Scheduler{Width: 4, Height: 3, Threshold: 0}

	all := walk(s, nil)
	assert.Equal(t, []Position{
		{1, 1}, {1, 2}, {1, 3},
		{2, 1}, {2, 2}, {2, 3},
	}, all)

	strided := walk(s, []byte{1})
	assert.Equal(t, []Position{{1, 1}, {1, 3}, {2, 2}}, strided)
}

func TestScheduler_InitialSkip(t *testing.T) {
	s := Scheduler{Width: 4, Height: 3, Threshold: 0}

	pos, _, ok := s.Next(State{Skip: 3})
	require.True(t, ok)
	assert.Equal(t, Position{2, 1}, pos)

	_, _, ok = s.Next(State{Skip: 6})
	assert.False(t, ok)
}

func TestScheduler_MatchesPredicate(t *testing.T) {
	for _, s := range []Scheduler{
		{Width: 100, Height: 100, Threshold: 1600},
		{Width: 64, Height: 200, Threshold: 4096},
		{Width: 33, Height: 17, Threshold: 7},
		{Width: 10, Height: 10, Threshold: 5000},
	} {
		var want []Position
		for row := 0; row < s.Height; row++ {
			for col := 0; col < s.Width; col++ {
				if s.Eligible(row, col) {
					want = append(want, Position{row, col})
				}
			}
		}
		got := walk(s, nil)
		assert.Equal(t, want, got, "%+v", s)
		assert.Equal(t, len(want), s.EligibleCount(), "%+v", s)
	}
}

func TestScheduler_HyperbolicFrontier(t *testing.T) {
	s := Scheduler{Width: 100, Height: 100, Threshold: 1600}

	pos, _, ok := s.Next(State{})
	require.True(t, ok)
	// Row 16 never exceeds 1600 inside 100 columns; row 17 does from col 95.
	assert.Equal(t, Position{17, 95}, pos)
	assert.False(t, s.Eligible(41, 39))
	assert.True(t, s.Eligible(41, 40))
}

func TestScheduler_Deterministic(t *testing.T) {
	s := Scheduler{Width: 120, Height: 90, Threshold: 900}
	skips := []byte{3, 0, 2, 1, 1, 3, 0}

	first := walk(s, skips)
	second := walk(s, skips)
	require.NotEmpty(t, first)
	assert.Equal(t, first, second)
	assert.NotEqual(t, first, walk(s, []byte{0}))
}

func TestScheduler_WithSkipMasks(t *testing.T) {
	assert.Equal(t, 3, State{}.WithSkip(0xFF).Skip)
	assert.Equal(t, 0, State{Skip: 2}.WithSkip(0x04).Skip)
}

func TestScheduler_Exhausted(t *testing.T) {
	s := Scheduler{Width: 50, Height: 50, Threshold: DefaultInsertionThreshold}
	_, st, ok := s.Next(State{})
	assert.False(t, ok)

	_, _, ok = s.Next(st)
	assert.False(t, ok)
	assert.Zero(t, s.EligibleCount())
}
