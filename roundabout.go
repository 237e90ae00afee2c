package crow

import (
	"math/bits"
	"sync/atomic"
)

const width = 32

/*
A roundabout is an in-memory write-ahead log used for mutual exclusion:

- Threads publish their planned operation to the log.
- Threads scan the log for active predecessors and spin on conflicts.
- Once complete, threads remove their own entry from the log.

Internally it is a ring buffer:

- A header of (epoch, bitmap32).
  - The epoch is the next free log cell.
  - The bitmap tracks which cells are currently allocated.
- Cells of (epoch, kind):
  - The epoch says whether a cell comes before or after a given reader.
  - The kind says whether the cell is a shared read or an exclusive write;
    both kinds here contend against every other cell in the log, not just
    ones in some matching lane.

This package only needs the two whole-log kinds a roundabout can express:
ExWriteAll (wait for every predecessor; used to guard a structural write)
and ReadAll (wait only for exclusive-write predecessors; used for a
concurrent-safe read). A fuller roundabout can also offer per-lane
exclusion, shared writes, and fence/phase barriers, but nothing in this
package needs them, so they are left out rather than carried unused.
*/

const (
	zeroCell    uint16 = iota // uninitialized memory, all 0
	pendingCell               // epoch set, kind not yet written

	readAllKind    // blocks on exclusive-write predecessors, ignores reads
	exWriteAllKind // blocks on every predecessor, of any kind
)

type header struct {
	epoch  uint16
	bitmap uint32
}

func (h header) pack() uint64 {
	return (uint64(h.epoch) << 32) | uint64(h.bitmap)
}

func unpackHeader(h uint64) header {
	return header{
		epoch:  uint16(h >> 32),
		bitmap: uint32(h),
	}
}

type cell struct {
	epoch uint16
	kind  uint16
}

func (c cell) pack() uint64 {
	return (uint64(c.epoch) << 32) | uint64(c.kind)
}

func unpackCell(h uint64) cell {
	return cell{
		epoch: uint16(h >> 32),
		kind:  uint16(h),
	}
}

// a cell this goroutine currently holds in the roundabout
type rbCell struct {
	n      int
	epoch  uint16
	kind   uint16
	bitmap uint32
}

// Roundabout is the package's one mutual-exclusion primitive: a ring
// buffer of log entries plus a header tracking the next free entry and
// which entries are in use.
type Roundabout struct {
	header atomic.Uint64     // <epoch:32> <bitmap:32>
	log    [32]atomic.Uint64 // <epoch:32> <kind:32>
}

// push a new item onto the log with the given kind.
func (rb *Roundabout) push(kind uint16) (rbCell, bool) {
	old := rb.header.Load()
	h := unpackHeader(old)

	n := int(h.epoch) % width
	var b uint32 = 1 << n

	if h.bitmap&b != 0 {
		return rbCell{}, false
	}

	newHeader := header{epoch: h.epoch + 1, bitmap: h.bitmap | b}.pack()
	if !rb.header.CompareAndSwap(old, newHeader) {
		return rbCell{}, false
	}

	item := cell{epoch: h.epoch, kind: kind}.pack()
	rb.log[n].Store(item)
	return rbCell{n: n, epoch: h.epoch, kind: kind, bitmap: h.bitmap}, true
}

// wait for every predecessor the pushed bitmap snapshot says is still
// active and that this cell's kind conflicts with.
func (rb *Roundabout) wait(r rbCell) {
	// the bitmap snapshot is from before our own cell was allocated, so
	// we never scan past it; nothing ahead of us is in it yet.
	if r.bitmap == 0 {
		return
	}

	epoch := r.epoch - uint16(width)
	bitmap := bits.RotateLeft32(r.bitmap, -r.n)

	for i := 0; i < width-1; i++ {
		epoch++
		bitmap = bitmap >> 1
		if bitmap&1 == 0 { // free space
			continue
		}

		n := int(epoch) % width
		for {
			item := unpackCell(rb.log[n].Load())
			if item.kind == zeroCell {
				continue // spin, uninitialized memory
			}
			if item.epoch != epoch {
				break // predecessor already moved past us
			}
			if item.kind == pendingCell {
				continue // allocated but not yet published, spin
			}
			if r.kind == exWriteAllKind {
				continue // exclusive writer waits on every predecessor
			}
			// r.kind == readAllKind: only exclusive writers conflict
			if item.kind == exWriteAllKind {
				continue
			}
			break
		}
	}
}

// mark our work as complete, updating the log entry before the header.
func (rb *Roundabout) pop(r rbCell) {
	next := cell{epoch: r.epoch + width, kind: pendingCell}.pack()
	rb.log[r.n].Store(next)

	var b uint64 = 1 << r.n
	rb.header.And(^b) // go 1.23 needed
}

// ExWriteAll runs fn once every other callback, of any kind, has ended.
// Use this to guard a structural mutation (e.g. a map insert) that must
// never run concurrently with any other access.
func (rb *Roundabout) ExWriteAll(fn func(uint16, uint16) error) error {
	for {
		r, ok := rb.push(exWriteAllKind)
		if !ok {
			continue
		}
		rb.wait(r)
		defer rb.pop(r)
		return fn(r.epoch, 0)
	}
}

// ReadAll runs fn once every exclusive-write callback has ended; it does
// not wait on, or block, other ReadAll callbacks.
func (rb *Roundabout) ReadAll(fn func(uint16, uint16) error) error {
	for {
		r, ok := rb.push(readAllKind)
		if !ok {
			continue
		}
		rb.wait(r)
		defer rb.pop(r)
		return fn(r.epoch, 0)
	}
}
