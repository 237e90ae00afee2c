package crow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestChannelSendBeforeRecvBlocks(t *testing.T) {
	sender, receiver := NewChannel()

	require.NoError(t, sender.TrySend(1))

	err := sender.TrySend(2)
	assert.ErrorIs(t, err, ErrBlocked)

	got, err := receiver.TryRecv()
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got)
}

func TestChannelRecvBeforeSendBlocks(t *testing.T) {
	_, receiver := NewChannel()

	_, err := receiver.TryRecv()
	assert.ErrorIs(t, err, ErrBlocked)
}

func TestChannelRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		sender, receiver := NewChannel()
		v := rapid.Uint64().Draw(t, "v")

		for sender.TrySend(v) != nil {
		}
		got, err := receiver.TryRecv()
		require.NoError(t, err)
		assert.Equal(t, v, got)
	})
}

func TestLeveledChannelSequentialMessages(t *testing.T) {
	sender, receiver := NewLeveledChannel()

	require.NoError(t, sender.TrySend(10))
	got, err := receiver.TryRecv()
	require.NoError(t, err)
	assert.Equal(t, uint64(10), got)

	// the second send must not spuriously desync even though the
	// sender's level is still true when the acknowledgement becomes
	// visible.
	require.NoError(t, sender.TrySend(20))
	got, err = receiver.TryRecv()
	require.NoError(t, err)
	assert.Equal(t, uint64(20), got)
}

func TestLeveledChannelBlocksUntilAcked(t *testing.T) {
	sender, receiver := NewLeveledChannel()

	require.NoError(t, sender.TrySend(1))
	err := sender.TrySend(2)
	assert.ErrorIs(t, err, ErrBlocked)

	_, err = receiver.TryRecv()
	require.NoError(t, err)

	require.NoError(t, sender.TrySend(2))
}

func TestLeveledChannelConcurrentProducerConsumer(t *testing.T) {
	sender, receiver := NewLeveledChannel()
	const n = 1000

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := uint64(0); i < n; i++ {
			for sender.TrySend(i) != nil {
			}
		}
	}()

	for i := uint64(0); i < n; i++ {
		var got uint64
		var err error
		for {
			got, err = receiver.TryRecv()
			if err == nil {
				break
			}
		}
		assert.Equal(t, i, got)
	}
	<-done
}
