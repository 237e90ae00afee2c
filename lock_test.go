package crow

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestContenderIDsAreNestedMasks(t *testing.T) {
	lock := NewLock()

	expected := []uint64{
		0b00000001,
		0b00000011,
		0b00000111,
		0b00001111,
		0b00011111,
		0b00111111,
		0b01111111,
		0b11111111,
	}

	for i, c := range lock.Contenders() {
		assert.Equal(t, expected[i], c.ID(), "contender %d", i)
	}
}

func TestLockNextExhausts(t *testing.T) {
	lock := NewLock()

	for i := 0; i < maxContenders; i++ {
		c, ok := lock.Next()
		require.True(t, ok)
		require.NotNil(t, c)
	}
	_, ok := lock.Next()
	assert.False(t, ok)
}

func TestSingleContenderWinsUncontested(t *testing.T) {
	lock := NewLock()
	lock.SettleDelay = time.Microsecond
	c, _ := lock.Next()

	require.NoError(t, c.Contest())
}

func TestSecondContestFailsUntilReset(t *testing.T) {
	lock := NewLock()
	lock.SettleDelay = time.Microsecond
	c0, _ := lock.Next()
	c1, _ := lock.Next()

	require.NoError(t, c0.Contest())
	assert.ErrorIs(t, c1.Contest(), ErrContested)

	c0.Reset()
	require.NoError(t, c1.Contest())
}

func TestEightContendersMutualExclusion(t *testing.T) {
	lock := NewLock()
	lock.SettleDelay = time.Microsecond
	lock.History = NewContestLog()

	contenders := lock.Contenders()
	winners := make(chan uint64, len(contenders))
	done := make(chan struct{})

	for _, c := range contenders {
		go func(c *Contender) {
			defer func() { done <- struct{}{} }()
			for {
				if err := c.Contest(); err == nil {
					winners <- c.ID()
					c.Reset()
					return
				}
			}
		}(c)
	}

	for range contenders {
		<-done
	}
	close(winners)

	seen := make(map[uint64]bool)
	for id := range winners {
		assert.False(t, seen[id], "contender %#b won more than once", id)
		seen[id] = true
	}
	assert.Len(t, seen, len(contenders))

	for _, c := range contenders {
		outcome, ok := lock.History.Load(c.ID())
		require.True(t, ok)
		assert.Equal(t, "won", outcome)
	}
}

func TestOnContestHookObservesOutcomes(t *testing.T) {
	lock := NewLock()
	lock.SettleDelay = time.Microsecond

	var outcomes []string
	lock.OnContest = func(id uint64, outcome string) {
		outcomes = append(outcomes, outcome)
	}

	c0, _ := lock.Next()
	c1, _ := lock.Next()

	require.NoError(t, c0.Contest())
	assert.ErrorIs(t, c1.Contest(), ErrContested)

	require.Len(t, outcomes, 2)
	assert.Equal(t, "won", outcomes[0])
	assert.Equal(t, "contested", outcomes[1])
}
