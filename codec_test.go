package crow

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestEncodeDecodeByte(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := rapid.Byte().Draw(t, "b")

		e := Encode(b)
		got, err := Decode(e)

		require.NoError(t, err)
		assert.Equal(t, b, got)
	})
}

func TestEncodeNeverProducesIdleSentinels(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		b := rapid.Byte().Draw(t, "b")

		e := Encode(b)
		assert.NotEqual(t, uint16(0), e, "encoded byte must never equal the empty sentinel")
		assert.NotEqual(t, uint16(0xFFFF), e, "encoded byte must never equal the full sentinel")
	})
}

func TestDecodeRejectsIdleSentinels(t *testing.T) {
	_, err := Decode(0)
	assert.ErrorIs(t, err, ErrInvalidSymbol)

	_, err = Decode(0xFFFF)
	assert.ErrorIs(t, err, ErrInvalidSymbol)
}

func TestEncodeInt64RoundTrip(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		v := rapid.Int64().Draw(t, "v")

		got, err := DecodeInt64(EncodeInt64(v))

		require.NoError(t, err)
		assert.Equal(t, v, got)
	})
}

func TestEncodeInt64HighBitsSurvive(t *testing.T) {
	// Regression case from the S6 scenario: a value with non-zero bytes
	// above its low 32 bits must not be truncated on the round trip.
	const v = int64(0x123456789ABCDEF0)
	got, err := DecodeInt64(EncodeInt64(v))
	require.NoError(t, err)
	assert.Equal(t, v, got)
}

func TestNarrowChannelSendRecv(t *testing.T) {
	sender, receiver := NewNarrowChannel()

	err := sender.TrySend(Encode('A'))
	require.NoError(t, err)

	// a second send before the first is acknowledged must block
	err = sender.TrySend(Encode('B'))
	assert.ErrorIs(t, err, ErrBlocked)

	got, err := receiver.TryRecv()
	require.NoError(t, err)
	assert.Equal(t, byte('A'), got)

	// the sender can't send again until it observes the acknowledgement
	err = sender.TrySend(Encode('B'))
	assert.ErrorIs(t, err, ErrBlocked)

	err = sender.TryUnblock()
	require.NoError(t, err)

	err = sender.TrySend(Encode('B'))
	require.NoError(t, err)

	got, err = receiver.TryRecv()
	require.NoError(t, err)
	assert.Equal(t, byte('B'), got)
}
