package crow

import (
	"errors"
	"sync/atomic"
	"time"
)

// ErrContested is returned by Contender.Contest when the lock is already
// held, or when this contender's pull-down was not cleanly observed
// (another contender's concurrent pull-down overlapped the settle
// window). Both cases are retried identically by a well-behaved caller;
// neither indicates a fault.
var ErrContested = errors.New("crow: lock contested")

const maxContenders = 8

// lockRegister is the dual-rail arbitration register: a pair of words
// that starts at (all-ones, all-ones) meaning "unlocked", and is pulled
// down asymmetrically by whichever contender wins. Unlike the simplex
// and push-pull registers, this one carries no payload at all — only
// the occupancy bits of up to 8 nested contender identities.
type lockRegister struct {
	r0 atomic.Uint64
	r1 atomic.Uint64
}

func (r *lockRegister) load() (uint64, uint64) {
	return r.r0.Load(), r.r1.Load()
}

func (r *lockRegister) store(v0, v1 uint64) {
	r.r0.Store(v0)
	r.r1.Store(v1)
}

// Lock is a dual-rail arbitration lock: a single
// shared register contested by up to 8 Contender handles whose identity
// masks nest (contender i's mask is a strict subset of contender i+1's),
// so a lower-numbered contender winning the register also excludes every
// higher-numbered one from winning at the same time, and vice versa.
//
// Unlike sync.Mutex, a Lock does not block: Contest either wins
// immediately, contests and fails (ErrContested, retry), or never
// returns an uncontested nil without actually holding the register.
type Lock struct {
	reg *lockRegister

	// SettleDelay is how long Contest waits between publishing its
	// pull-down and re-reading the register to check whether it held.
	// Too short and a genuinely uncontested write might not yet be
	// visible to the contender's own re-read; too long and every contest
	// pays needless latency. 200ns is a reasonable default on most
	// platforms, but the right value is inherently platform-dependent, so
	// this is exposed as a field rather than baked in as a constant.
	SettleDelay time.Duration

	// OnContest, if set, is called after every Contest attempt with the
	// contender's id and the outcome ("won", "contested"). It exists
	// purely for observability — see ContestLog below for a ready-made
	// sink — and is never on Contest's critical path in a way that
	// would change its non-blocking contract: a nil OnContest costs one
	// nil check.
	OnContest func(id uint64, outcome string)

	// History, if set, receives every Contest outcome via ContestLog's
	// concurrent-safe record path. Unlike OnContest it is meant for
	// querying after the fact (History.Load(id)) rather than reacting
	// in the moment.
	History *ContestLog

	contenders []*Contender
	next       int
}

// NewLock allocates a fresh arbitration register at the unlocked state
// (all-ones, all-ones) and its 8 Contender handles, id 0 through 7, with
// nested identity masks id_i = 2^(i+1) - 1 (0b1, 0b11, 0b111, ...,
// 0b11111111).
func NewLock() *Lock {
	reg := &lockRegister{}
	reg.store(^uint64(0), ^uint64(0))

	l := &Lock{
		reg:         reg,
		SettleDelay: 200 * time.Nanosecond,
	}
	l.contenders = make([]*Contender, maxContenders)
	for i := 0; i < maxContenders; i++ {
		l.contenders[i] = &Contender{
			lock: l,
			id:   (uint64(1) << uint(i+1)) - 1,
		}
	}
	return l
}

// Contenders returns all 8 of the lock's Contender handles. A caller is
// expected to hand each one to a distinct goroutine; nothing stops two
// goroutines sharing one handle, but doing so forfeits the
// mutual-exclusion guarantee between them.
func (l *Lock) Contenders() []*Contender {
	out := make([]*Contender, len(l.contenders))
	copy(out, l.contenders)
	return out
}

// Next pulls the next not-yet-issued Contender handle, one at a time,
// instead of handing back the whole set at once. It reports false once
// all 8 handles have been issued.
func (l *Lock) Next() (*Contender, bool) {
	if l.next >= len(l.contenders) {
		return nil, false
	}
	c := l.contenders[l.next]
	l.next++
	return c, true
}

// Contender is one of a Lock's up to 8 contestants. Its id is a nested
// bitmask: every contender with a lower index has an id that is a
// proper subset of this one's, which is what lets a single pull-down
// test both "did I win" and "did everyone below me lose" at once.
type Contender struct {
	lock *Lock
	id   uint64
}

// ID returns the contender's identity mask.
func (c *Contender) ID() uint64 {
	return c.id
}

// Contest attempts to win the lock for this contender, as a three-step
// non-blocking protocol:
//
//  1. Read the register. If it is not (all-ones, all-ones), the lock is
//     already held by someone — fail with ErrContested.
//  2. Pull down r0 in this contender's insensitive bits (AND with id)
//     and r1 in its sensitive bits (AND with the complement of id), and
//     publish both words. This is the asymmetric "pull-down": it clears
//     every bit NOT in this contender's range from r0 while clearing
//     every bit inside its range from r1.
//  3. Wait SettleDelay for the write to become visible everywhere (a
//     contender on another core racing the same register needs time to
//     observe and react to this one's pull-down), then re-read the
//     register and test:
//     - this contender's own sensitive bits are untouched: id & (r0^r1) == id
//     - no bit outside this contender's range survived in r0: r0 & ^id == 0
//     - no bit inside this contender's range survived in r1: r1 & id == 0
//     All three together mean this contender won outright, with every
//     nested and overlapping contender's pull-down consistent with that
//     win. Any single failure means another contender's concurrent
//     pull-down overlapped this one, and Contest fails with
//     ErrContested — the caller is expected to retry, exactly as with
//     every other try_* operation in this package.
func (c *Contender) Contest() error {
	r0, r1 := c.lock.reg.load()

	if r0 != ^uint64(0) || r1 != ^uint64(0) {
		c.report("contested")
		return ErrContested
	}

	c.lock.reg.store(r0&c.id, r1&^c.id)

	time.Sleep(c.lock.SettleDelay)

	r0, r1 = c.lock.reg.load()

	ok := c.id&(r0^r1) == c.id
	ok = ok && r0&^c.id == 0
	ok = ok && r1&c.id == 0

	if !ok {
		c.report("contested")
		return ErrContested
	}

	c.report("won")
	return nil
}

// Reset releases the lock back to the unlocked state (all-ones,
// all-ones), regardless of which contender currently holds it. A caller
// is responsible for calling Reset only once it knows the lock is
// actually held by the contender calling it — Reset itself performs no
// ownership check.
func (c *Contender) Reset() {
	c.lock.reg.store(^uint64(0), ^uint64(0))
}

func (c *Contender) report(outcome string) {
	if c.lock.OnContest != nil {
		c.lock.OnContest(c.id, outcome)
	}
	if c.lock.History != nil {
		c.lock.History.record(c.id, outcome)
	}
}

// contestEntry is one contender's last-known outcome, boxed behind
// atomic.Value so ContestLog.Load never has to take ContestLog's own
// exclusive lane just to read a value that is already settled.
type contestEntry struct {
	inner atomic.Value
}

func (e *contestEntry) store(outcome string) {
	e.inner.Store(outcome)
}

func (e *contestEntry) load() (string, bool) {
	v := e.inner.Load()
	if v == nil {
		return "", false
	}
	return v.(string), true
}

// ContestLog is a small concurrent map from contender id to that
// contender's most recent Contest outcome ("won" or "contested"). Every
// Store-shaped access (a new contender id appearing for the first time)
// goes through the backing Roundabout's single exclusive-all region, so
// the structural map write is never concurrent with another map write or
// a concurrent read — a per-id lane is not enough here, since distinct
// ids land in distinct lanes and would let two goroutines touch the map
// at the same time. Once an entry exists, updates to it go through its
// own atomic.Value, so Load only needs the Roundabout's shared-read
// region, never the exclusive one.
// Wire a *ContestLog into Lock.History to have every Contest call record
// itself here instead of (or alongside) an OnContest callback.
type ContestLog struct {
	rb    Roundabout
	inner map[uint64]*contestEntry
}

// NewContestLog allocates an empty log ready for concurrent use.
func NewContestLog() *ContestLog {
	return &ContestLog{inner: make(map[uint64]*contestEntry, maxContenders)}
}

// record stores the latest outcome for id, taking the Roundabout's
// exclusive-all region for the whole call so the "does id already have
// an entry" check and the possible map insert it guards never race with
// another record or Load.
func (l *ContestLog) record(id uint64, outcome string) {
	l.rb.ExWriteAll(func(uint16, uint16) error {
		e, ok := l.inner[id]
		if !ok {
			e = new(contestEntry)
			l.inner[id] = e
		}
		e.store(outcome)
		return nil
	})
}

// Load returns the given contender's most recently recorded outcome, or
// ok=false if that contender has never contested through this log.
func (l *ContestLog) Load(id uint64) (outcome string, ok bool) {
	l.rb.ReadAll(func(uint16, uint16) error {
		e, present := l.inner[id]
		if !present {
			return nil
		}
		outcome, ok = e.load()
		return nil
	})
	return
}
