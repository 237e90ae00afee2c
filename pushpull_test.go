package crow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSocketPairAlternation(t *testing.T) {
	main_, sub := NewSocketPair()

	// Sub may not send first.
	err := sub.TrySend(1)
	var sendErr *SendErr
	require.ErrorAs(t, err, &sendErr)
	assert.True(t, sendErr.MustRecv)

	require.NoError(t, main_.TrySend(100))

	// Main may not send again until Sub has received and replied.
	err = main_.TrySend(101)
	require.ErrorAs(t, err, &sendErr)
	assert.True(t, sendErr.MustRecv)

	got, err := sub.TryRecv()
	require.NoError(t, err)
	assert.Equal(t, uint64(100), got)

	require.NoError(t, sub.TrySend(200))

	got, err = main_.TryRecv()
	require.NoError(t, err)
	assert.Equal(t, uint64(200), got)
}

func TestGenericSocketPairStringPayload(t *testing.T) {
	main_, sub, err := NewGenericSocketPair[string]()
	require.NoError(t, err)

	require.NoError(t, main_.TrySend("Hello, World!"))

	got, err := sub.TryRecv()
	require.NoError(t, err)
	assert.Equal(t, "Hello, World!", got)

	require.NoError(t, sub.TrySend("goodbye"))

	got, err = main_.TryRecv()
	require.NoError(t, err)
	assert.Equal(t, "goodbye", got)
}

type flatPayload struct {
	A int64
	B [3]byte
}

func TestGenericSocketPairFlatStruct(t *testing.T) {
	main_, sub, err := NewGenericSocketPair[flatPayload]()
	require.NoError(t, err)

	want := flatPayload{A: -7, B: [3]byte{1, 2, 3}}
	require.NoError(t, main_.TrySend(want))

	got, err := sub.TryRecv()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestGenericSocketPairSlicePayload(t *testing.T) {
	// A slice contains a pointer and is not imageable, but it is a
	// concrete type, so construction must succeed via the boxed path.
	main_, sub, err := NewGenericSocketPair[[]int]()
	require.NoError(t, err)

	want := []int{1, 2, 3}
	require.NoError(t, main_.TrySend(want))

	got, err := sub.TryRecv()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestGenericSocketPairRejectsInterfaceType(t *testing.T) {
	_, _, err := NewGenericSocketPair[any]()

	var layoutErr *ErrLayout
	require.ErrorAs(t, err, &layoutErr)
}

func TestGenericSocketPairConcurrentRoundTrip(t *testing.T) {
	main_, sub, err := NewGenericSocketPair[string]()
	require.NoError(t, err)

	const n = 200
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < n; i++ {
			for main_.TrySend("ping") != nil {
			}
			for {
				if _, err := main_.TryRecv(); err == nil {
					break
				}
			}
		}
	}()

	for i := 0; i < n; i++ {
		var got string
		for {
			got, err = sub.TryRecv()
			if err == nil {
				break
			}
		}
		assert.Equal(t, "ping", got)
		for sub.TrySend("pong") != nil {
		}
	}
	<-done
}
