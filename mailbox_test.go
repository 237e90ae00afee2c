package crow

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBoundedMailboxPostAndDrain(t *testing.T) {
	mb := NewBoundedMailbox(2)

	require.NoError(t, mb.Post("one"))
	require.NoError(t, mb.Post("two"))
	assert.ErrorIs(t, mb.Post("three"), ErrMailboxFull)

	assert.Equal(t, 2, mb.Len())
	assert.ElementsMatch(t, []string{"one", "two"}, mb.Drain())
	assert.Equal(t, 0, mb.Len())
}

func TestBoundedMailboxConcurrentPost(t *testing.T) {
	const n = 64
	mb := NewBoundedMailbox(n)

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			require.NoError(t, mb.Post(fmt.Sprintf("msg-%d", i)))
		}(i)
	}
	wg.Wait()

	assert.Len(t, mb.Drain(), n)
}
