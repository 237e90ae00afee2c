package crow

import (
	"encoding/binary"
	"errors"
)

// ErrInvalidSymbol is returned by Decode when a 2-bit window of the
// codeword is neither "01" nor "10" — either because the register is
// still in one of its two idle sentinel states (0 or 0xFFFF) or because
// the write that produced it was only partially observed.
var ErrInvalidSymbol = errors.New("crow: invalid dual-rail symbol")

// Encode maps a byte to its dual-rail codeword: each bit becomes a 2-bit
// symbol, "10" for a clear bit and "01" for a set bit. Neither "00" nor
// "11" is ever produced, which is what lets a register carrying one of
// these codewords double as its own occupancy flag (see Decode).
func Encode(b byte) uint16 {
	var e uint16
	for i := 0; i < 8; i++ {
		if (b>>i)&1 == 1 {
			e |= 0b01 << (2 * i)
		} else {
			e |= 0b10 << (2 * i)
		}
	}
	return e
}

// Decode recovers the byte encoded by Encode, failing with
// ErrInvalidSymbol if any of the 8 symbol positions holds "00" or "11".
// This includes the two idle sentinels e == 0 and e == 0xFFFF, which are
// not valid codewords at all — a caller that decodes an idle register
// (rather than checking for it first) gets the same error as a caller
// that decodes a torn write.
func Decode(e uint16) (byte, error) {
	var b byte
	for i := 0; i < 8; i++ {
		switch (e >> (2 * i)) & 0b11 {
		case 0b10:
			// bit already zero
		case 0b01:
			b |= 1 << i
		default:
			return 0, ErrInvalidSymbol
		}
	}
	return b, nil
}

// EncodeInt64 images a signed 64-bit integer through Encode one byte at a
// time, most significant byte first, so out[0] holds the most
// significant byte's codeword and out[7] the least significant. It is a
// round-trip identity over all int64 values when no codeword is
// corrupted.
func EncodeInt64(v int64) [8]uint16 {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(v))

	var out [8]uint16
	for i := range out {
		out[i] = Encode(buf[i])
	}
	return out
}

// DecodeInt64 reverses EncodeInt64, failing with ErrInvalidSymbol if any
// of the eight codewords is not a valid dual-rail byte.
func DecodeInt64(w [8]uint16) (int64, error) {
	var buf [8]byte
	for i, e := range w {
		b, err := Decode(e)
		if err != nil {
			return 0, err
		}
		buf[i] = b
	}
	return int64(binary.BigEndian.Uint64(buf[:])), nil
}

// NarrowSender is the single-word form of the parity channel: a 16-bit
// register carrying a dual-rail-encoded byte instead of a machine word.
// Because the only storage available is the payload word itself, the
// sender — unlike the wide-form simplex Sender — must track a local
// blocked/level pair and observe the receiver's acknowledgement (via
// TryUnblock) before it may send again, and the receiver's acknowledgement is a second idle
// sentinel rather than a republished value.
type NarrowSender struct {
	reg     *uint16
	blocked bool
	level   bool
}

// NarrowReceiver is the receiving end of a NewNarrowChannel pair.
type NarrowReceiver struct {
	reg   *uint16
	level bool
}

// NewNarrowChannel allocates a fresh 16-bit rendezvous register and
// returns its two endpoints. Like the wide-form channel (see
// NewChannel), the register is leaked by design: both endpoints hold
// equal-status pointers to it and neither uniquely owns it.
func NewNarrowChannel() (*NarrowSender, *NarrowReceiver) {
	reg := new(uint16)
	return &NarrowSender{reg: reg}, &NarrowReceiver{reg: reg}
}

// TrySend publishes an already dual-rail-encoded word. It refuses while a
// previous send has not yet been acknowledged (see TryUnblock) and
// panics if it ever observes the register in the "wrong" sentinel for
// its own level — that would mean the receiver advanced without this
// sender's knowledge, which cannot happen under the single-producer
// protocol this channel assumes.
func (s *NarrowSender) TrySend(encoded uint16) error {
	if s.blocked {
		return ErrBlocked
	}

	perceived := *s.reg

	idle := uint16(0)
	if s.level {
		idle = 0xFFFF
	}

	ack := ^idle
	if perceived == ack {
		panic("crow: NarrowSender out of sync with NarrowReceiver")
	}

	if perceived != idle {
		return ErrBlocked
	}

	*s.reg = encoded
	s.blocked = true
	return nil
}

// TryUnblock checks whether the receiver has acknowledged the
// outstanding send and, if so, flips this sender's phase so TrySend can
// be called again.
func (s *NarrowSender) TryUnblock() error {
	if !s.blocked {
		return ErrBlocked
	}

	ack := uint16(0xFFFF)
	if s.level {
		ack = 0
	}
	perceived := *s.reg
	if perceived != ack {
		return ErrBlocked
	}

	s.level = !s.level
	s.blocked = false
	return nil
}

// TryRecv decodes and consumes the next codeword, republishing the
// appropriate idle sentinel as an acknowledgement. Mirroring TrySend's
// own-desync panic, it also panics if the register holds the sentinel
// belonging to the *other* phase: under the single-consumer protocol this
// channel assumes, that can only mean this receiver's own level fell out
// of step with the sender, not an ordinary torn or not-yet-ready write
// (those still surface as ErrInvalidSymbol, same as any other decode
// failure).
func (r *NarrowReceiver) TryRecv() (byte, error) {
	perceived := *r.reg

	wrongIdle := uint16(0xFFFF)
	if r.level {
		wrongIdle = 0
	}
	if perceived == wrongIdle {
		panic("crow: NarrowReceiver out of sync with NarrowSender")
	}

	decoded, err := Decode(perceived)
	if err != nil {
		return 0, err
	}

	ack := uint16(0xFFFF)
	if r.level {
		ack = 0
	}
	*r.reg = ack
	r.level = !r.level
	return decoded, nil
}
