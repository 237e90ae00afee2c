package crow

import (
	"errors"
	"sync/atomic"
)

// ErrBlocked is returned by every try_* operation in this package when
// the current parity of the rendezvous register forbids the requested
// direction. It is transient: the caller is expected to retry.
var ErrBlocked = errors.New("crow: blocked")

// register is the wide-form rendezvous register: a pair of machine words
// whose XOR ("parity") is the occupancy predicate. Both words are
// accessed through atomic.Uint64 not because the pair updates atomically
// as a whole — it does not, and tearing between the two words is
// expected and handled by the parity check — but because a single word
// must never itself be torn, and atomic.Uint64 is this package's idiom
// (see roundabout.go's header/log words) for a word the compiler and
// runtime must never partially observe or reorder.
type register struct {
	r0 atomic.Uint64
	r1 atomic.Uint64
}

func (r *register) load() (uint64, uint64) {
	return r.r0.Load(), r.r1.Load()
}

func (r *register) store(v0, v1 uint64) {
	r.r0.Store(v0)
	r.r1.Store(v1)
}

// Sender is the producing end of a simplex parity channel.
type Sender struct {
	reg *register
}

// Receiver is the consuming end of a simplex parity channel.
type Receiver struct {
	reg *register
}

// NewChannel allocates a fresh rendezvous register and returns its two
// endpoints. The register is heap-allocated here and leaked by design:
// both endpoints hold equal-status references to it and neither uniquely
// owns it, so there is no single point at which it is safe to reclaim. A
// caller that wants the register reclaimed must prove neither endpoint
// will be used again and do so itself.
func NewChannel() (*Sender, *Receiver) {
	reg := &register{}
	return &Sender{reg: reg}, &Receiver{reg: reg}
}

// TrySend publishes t as (t, ^t), which has odd parity, making it
// available to the receiver. It fails with ErrBlocked if the register's
// parity is not currently 0 (empty) — either because a previous message
// has not yet been taken, or because a write is transiently in flight
// and torn (the two cases are indistinguishable by design and are
// retried identically).
func (s *Sender) TrySend(t uint64) error {
	r0, r1 := s.reg.load()
	if r0^r1 != 0 {
		return ErrBlocked
	}
	s.reg.store(t, ^t)
	return nil
}

// TryRecv takes the published value, republishing (v, v) — even parity —
// as an acknowledgement. It fails with ErrBlocked if the register's
// parity is not currently all-ones (full).
func (r *Receiver) TryRecv() (uint64, error) {
	r0, r1 := r.reg.load()
	if r0^r1 != ^uint64(0) {
		return 0, ErrBlocked
	}
	r.reg.store(r0, r0)
	return r0, nil
}

// LeveledSender is the phase-bit-hardened simplex variant: in addition
// to the register's own parity, each
// endpoint tracks a local level bit. The one settled state treated as
// fatal rather than retried is a sender at level=false observing a full
// register, which means the two endpoints have lost step — a bug, not a
// race. The receiver has no fatal state (see LeveledReceiver.TryRecv).
type LeveledSender struct {
	reg   *register
	level bool
}

// LeveledReceiver is the receiving end of a NewLeveledChannel pair.
type LeveledReceiver struct {
	reg   *register
	level bool
}

// NewLeveledChannel allocates a fresh rendezvous register and returns
// its two phase-augmented endpoints, both starting at level false
// (register empty).
func NewLeveledChannel() (*LeveledSender, *LeveledReceiver) {
	reg := &register{}
	return &LeveledSender{reg: reg}, &LeveledReceiver{reg: reg}
}

// TrySend gates on parity exactly like Sender.TrySend, but cross-checks
// the settled state it observes against its own level:
//
//   - level=false means "no outstanding unacknowledged write"; seeing the
//     register settled at empty is the ordinary case and proceeds.
//     Seeing it settled at full instead is impossible under the
//     single-producer protocol this channel assumes — no one but this
//     sender ever publishes a full register — so it is logged and
//     panics rather than silently retried.
//   - level=true means "I have an outstanding write, not yet observed as
//     acknowledged." Seeing the register still full is the ordinary
//     wait. Seeing it settled back at empty means the receiver's
//     acknowledgement has become visible; that is not a fault, so the
//     level is dropped and the call falls through to attempt the send
//     immediately rather than handing the caller a spurious Blocked.
func (s *LeveledSender) TrySend(t uint64) error {
	r0, r1 := s.reg.load()
	parity := r0 ^ r1

	if s.level {
		if parity == 0 {
			s.level = false // acknowledgement observed; fall through to send
		} else if parity == ^uint64(0) {
			return ErrBlocked // still waiting, nothing wrong
		} else {
			return ErrBlocked // torn write, retry
		}
	}

	if parity == ^uint64(0) {
		fatalDesync("LeveledSender", "observed full register with no outstanding write")
	}
	if parity != 0 {
		return ErrBlocked // torn write, retry
	}

	s.reg.store(t, ^t)
	s.level = true
	return nil
}

// TryRecv gates on parity exactly like Receiver.TryRecv. Unlike the
// sender, a receiver's settled states never diverge from what ordinary
// waiting looks like — level=false sees either "nothing to take yet"
// (empty) or "something arrived" (full), both legitimate — so there is
// no settled state for the receiver to treat as impossible; level is
// tracked for symmetry with the sender and to document the protocol's
// phase, not because it distinguishes a fault here.
func (r *LeveledReceiver) TryRecv() (uint64, error) {
	r0, r1 := r.reg.load()
	parity := r0 ^ r1

	if r.level {
		if parity == 0 {
			return 0, ErrBlocked // own ack still the last thing published
		}
		if parity != ^uint64(0) {
			return 0, ErrBlocked // torn write, retry
		}
		r.level = false // fresh message arrived; fall through to consume
	} else if parity != ^uint64(0) {
		return 0, ErrBlocked // nothing ready yet, or a torn write
	}

	r.reg.store(r0, r0)
	r.level = true
	return r0, nil
}
