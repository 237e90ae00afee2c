package crow

import (
	"errors"
	"fmt"
	"reflect"
	"sync/atomic"
	"unsafe"
)

// SendErr is the error type returned by a push-pull endpoint's TrySend
// when the endpoint is out of phase. Unlike the simplex channel's plain
// ErrBlocked, a word-payload (Main/Sub) send failure carries the value
// the caller tried to send back out in Value, so a caller that retries
// doesn't need to hold or reconstruct it separately. The generic
// endpoints (MainT/SubT) return a SendErr whose Value is always zero:
// their T payload is not carried back in the error.
type SendErr struct {
	// MustRecv is true when this endpoint must call TryRecv before it
	// may send again. Kept as a field rather than a second error value
	// for symmetry with the struct's Value payload, but is currently the
	// only condition SendErr reports: under the strict Main/Sub
	// alternation this package implements, an endpoint that is allowed
	// to send always succeeds in writing, so there is no observed "send
	// landed but was never acknowledged" condition distinct from
	// MustRecv to report.
	MustRecv bool
	Value    uint64
}

func (e *SendErr) Error() string {
	if e.MustRecv {
		return fmt.Sprintf("crow: must recv before sending %#x", e.Value)
	}
	return fmt.Sprintf("crow: send of %#x was not acknowledged", e.Value)
}

// ErrMustSend is returned by TryRecv when this endpoint must call
// TrySend before it may receive again.
var ErrMustSend = errors.New("crow: must send before receiving")

// Main is one endpoint of a word-payload push-pull socket pair; the
// other is Sub. The two alternate strictly: Main sends, Sub receives,
// Sub sends, Main receives, and so on.
type Main struct {
	reg         *register
	hasReceived bool
}

// Sub is the other endpoint of a NewSocketPair.
type Sub struct {
	reg         *register
	hasReceived bool
}

// NewSocketPair allocates a fresh rendezvous register and returns the
// Main and Sub endpoints sharing it. Main starts with hasReceived=true
// (it may send first); Sub starts with hasReceived=false (it must wait
// to receive Main's first message before it may send).
func NewSocketPair() (*Main, *Sub) {
	reg := &register{}
	return &Main{reg: reg, hasReceived: true}, &Sub{reg: reg, hasReceived: false}
}

// TrySend publishes t with odd parity (t, ^t), the Main→Sub direction.
func (m *Main) TrySend(t uint64) error {
	if !m.hasReceived {
		return &SendErr{MustRecv: true, Value: t}
	}
	m.reg.store(t, ^t)
	m.hasReceived = false
	return nil
}

// TryRecv takes a Sub→Main message, which is published with even parity
// (t, t).
func (m *Main) TryRecv() (uint64, error) {
	if m.hasReceived {
		return 0, ErrMustSend
	}
	r0, r1 := m.reg.load()
	if r0^r1 != 0 {
		return 0, ErrBlocked
	}
	m.hasReceived = true
	return r0, nil
}

// TrySend publishes t with even parity (t, t), the Sub→Main direction.
func (s *Sub) TrySend(t uint64) error {
	if !s.hasReceived {
		return &SendErr{MustRecv: true, Value: t}
	}
	s.reg.store(t, t)
	s.hasReceived = false
	return nil
}

// TryRecv takes a Main→Sub message, which is published with odd parity
// (t, ^t).
func (s *Sub) TryRecv() (uint64, error) {
	if s.hasReceived {
		return 0, ErrMustSend
	}
	r0, r1 := s.reg.load()
	if r0^r1 != ^uint64(0) {
		return 0, ErrBlocked
	}
	s.hasReceived = true
	return r0, nil
}

// ErrLayout is returned by NewGenericSocketPair when T has no fixed
// layout to size a register from — concretely, when T is an interface
// type (including `any`), since two different values of an
// interface-typed T can carry entirely different concrete sizes at
// runtime. Go generics have no built-in constraint expressing "has a
// fixed, known size", so this is checked by reflection at construction
// time instead.
type ErrLayout struct {
	Type reflect.Type
}

func (e *ErrLayout) Error() string {
	return fmt.Sprintf("crow: %s has no fixed layout", e.Type)
}

const wordBytes = int(unsafe.Sizeof(uint64(0)))

// wordsFor returns the number of words needed to hold size bytes:
// ceil(size / sizeof(word)).
func wordsFor(size int) int {
	return (size + wordBytes - 1) / wordBytes
}

// imageable reports whether t can be imaged bitwise into a fixed number
// of words: no pointers, interfaces, slices, maps, channels, funcs, or
// strings anywhere in its representation, recursively through structs
// and arrays. This is a conservative, but not exhaustive, version of
// "plain old data" — it is exactly what letting the generic socket
// memcpy a T into a [k]uint64 requires.
func imageable(t reflect.Type) bool {
	switch t.Kind() {
	case reflect.Bool,
		reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr,
		reflect.Float32, reflect.Float64,
		reflect.Complex64, reflect.Complex128:
		return true
	case reflect.Array:
		return imageable(t.Elem())
	case reflect.Struct:
		for i := 0; i < t.NumField(); i++ {
			if !imageable(t.Field(i).Type) {
				return false
			}
		}
		return true
	default:
		// Ptr, Interface, Slice, Map, Chan, Func, String, UnsafePointer
		return false
	}
}

// wordsFromValue images v into a newly allocated slice of k words.
func wordsFromValue[T any](v T) []uint64 {
	size := int(unsafe.Sizeof(v))
	k := wordsFor(size)
	if k == 0 {
		k = 1
	}
	words := make([]uint64, k)
	if size == 0 {
		return words
	}
	src := unsafe.Slice((*byte)(unsafe.Pointer(&v)), size)
	for i, b := range src {
		words[i/wordBytes] |= uint64(b) << (8 * (i % wordBytes))
	}
	return words
}

// valueFromWords reconstructs a T from its word image.
func valueFromWords[T any](words []uint64) T {
	var v T
	size := int(unsafe.Sizeof(v))
	if size == 0 {
		return v
	}
	dst := unsafe.Slice((*byte)(unsafe.Pointer(&v)), size)
	for i := range dst {
		dst[i] = byte(words[i/wordBytes] >> (8 * (i % wordBytes)))
	}
	return v
}

// genericRegister is the generic-payload form of the rendezvous register:
// two contiguous arrays of k words each, channel holding the payload
// image and parity holding its complement (Main→Sub writes) or a copy
// (Sub→Main writes).
//
// Payloads whose representation contains no pointer (imageable(T) —
// plain integers, floats, arrays and structs of such) take this literal
// path: T is imaged directly into the k words. Payloads that do contain
// a pointer (string, slice, map, or anything built from them) cannot
// safely have that pointer's bits copied into a plain atomic.Uint64 —
// the garbage collector would no longer see it as a live reference, and
// the backing array it points at could be collected out from under the
// channel. For those, the register instead keeps the value itself in a
// GC-visible atomic.Pointer[T] slot (boxed) and uses a single fixed
// word pair purely as the occupancy/parity token; the word's numeric
// value carries no payload bits in that case. This is the one place
// this package diverges from a literal k-word image for every T, and it
// exists only because Go's garbage collector, unlike the original
// source's manual allocator, needs pointers to stay visible as pointers.
type genericRegister[T any] struct {
	flat    bool
	channel []atomic.Uint64
	parity  []atomic.Uint64
	boxed   atomic.Pointer[T]
}

const boxedToken uint64 = 1

func newGenericRegister[T any](flat bool, k int) *genericRegister[T] {
	if !flat {
		k = 1
	}
	return &genericRegister[T]{
		flat:    flat,
		channel: make([]atomic.Uint64, k),
		parity:  make([]atomic.Uint64, k),
	}
}

func (g *genericRegister[T]) storeOdd(v T) {
	if g.flat {
		for i, w := range wordsFromValue(v) {
			g.channel[i].Store(w)
			g.parity[i].Store(^w)
		}
		return
	}
	boxed := v
	g.boxed.Store(&boxed)
	g.channel[0].Store(boxedToken)
	g.parity[0].Store(^boxedToken)
}

func (g *genericRegister[T]) storeEven(v T) {
	if g.flat {
		for i, w := range wordsFromValue(v) {
			g.channel[i].Store(w)
			g.parity[i].Store(w)
		}
		return
	}
	boxed := v
	g.boxed.Store(&boxed)
	g.channel[0].Store(boxedToken)
	g.parity[0].Store(boxedToken)
}

// settledOdd reports whether every word position currently shows odd
// parity, and if so returns the payload. The check spans all k words so
// the in-flight-write window is detectable across the whole payload, not
// just its first word.
func (g *genericRegister[T]) settledOdd() (T, bool) {
	var zero T
	words := make([]uint64, len(g.channel))
	for i := range g.channel {
		c := g.channel[i].Load()
		p := g.parity[i].Load()
		if c^p != ^uint64(0) {
			return zero, false
		}
		words[i] = c
	}
	if g.flat {
		return valueFromWords[T](words), true
	}
	return *g.boxed.Load(), true
}

func (g *genericRegister[T]) settledEven() (T, bool) {
	var zero T
	words := make([]uint64, len(g.channel))
	for i := range g.channel {
		c := g.channel[i].Load()
		p := g.parity[i].Load()
		if c^p != 0 {
			return zero, false
		}
		words[i] = c
	}
	if g.flat {
		return valueFromWords[T](words), true
	}
	return *g.boxed.Load(), true
}

// MainT is the generic-payload counterpart of Main.
type MainT[T any] struct {
	reg         *genericRegister[T]
	hasReceived bool
}

// SubT is the generic-payload counterpart of Sub.
type SubT[T any] struct {
	reg         *genericRegister[T]
	hasReceived bool
}

// NewGenericSocketPair allocates a fresh generic-payload rendezvous
// register sized for T and returns its Main/Sub endpoints. It fails with
// ErrLayout only when T itself has no fixed layout to size the register
// from — concretely, when T is an interface type (including `any`),
// since two different values of an interface-typed T can have entirely
// different concrete sizes at runtime. Every concrete type, including
// ones containing pointers (string, slices, maps), is accepted — see
// genericRegister's doc comment for how those are handled safely.
func NewGenericSocketPair[T any]() (*MainT[T], *SubT[T], error) {
	var zero T
	rt := reflect.TypeOf(&zero).Elem()
	if rt.Kind() == reflect.Interface {
		return nil, nil, &ErrLayout{Type: rt}
	}

	flat := imageable(rt)
	k := 1
	if flat {
		k = wordsFor(int(rt.Size()))
		if k == 0 {
			k = 1
		}
	}
	reg := newGenericRegister[T](flat, k)
	return &MainT[T]{reg: reg, hasReceived: true}, &SubT[T]{reg: reg, hasReceived: false}, nil
}

// TrySend moves t into the register with odd parity: once this call
// returns nil, the caller's t has been imaged into the register and this
// endpoint relinquishes any further claim on it until a later TryRecv
// returns a (possibly different) value.
func (m *MainT[T]) TrySend(t T) error {
	if !m.hasReceived {
		return &SendErr{MustRecv: true}
	}
	m.reg.storeOdd(t)
	m.hasReceived = false
	return nil
}

// TryRecv takes a Sub→Main message (even parity across all k words).
func (m *MainT[T]) TryRecv() (T, error) {
	if m.hasReceived {
		var zero T
		return zero, ErrMustSend
	}
	v, ok := m.reg.settledEven()
	if !ok {
		var zero T
		return zero, ErrBlocked
	}
	m.hasReceived = true
	return v, nil
}

// TrySend moves t into the register with even parity.
func (s *SubT[T]) TrySend(t T) error {
	if !s.hasReceived {
		return &SendErr{MustRecv: true}
	}
	s.reg.storeEven(t)
	s.hasReceived = false
	return nil
}

// TryRecv takes a Main→Sub message (odd parity across all k words).
func (s *SubT[T]) TryRecv() (T, error) {
	if s.hasReceived {
		var zero T
		return zero, ErrMustSend
	}
	v, ok := s.reg.settledOdd()
	if !ok {
		var zero T
		return zero, ErrBlocked
	}
	s.hasReceived = true
	return v, nil
}
