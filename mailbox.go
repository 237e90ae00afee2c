package crow

import "errors"

// ErrMailboxFull is returned by BoundedMailbox.Post once the mailbox
// already holds its capacity's worth of unread messages.
var ErrMailboxFull = errors.New("crow: mailbox full")

// BoundedMailbox is a small, fixed-capacity result queue for the demo
// driver: many goroutines (in the demo, the lock's contender goroutines)
// each post one outcome, and the driver collects them once all are in. It shares
// Roundabout with ContestLog as the package's one mutual-exclusion
// primitive rather than rolling a second one, taking the ring's single
// exclusive-all region (ExWriteAll) around each append so concurrent
// posts never interleave a partial append.
//
// This is demo-driver plumbing, not part of the rendezvous protocol
// itself: nothing in codec.go, simplex.go, pushpull.go, or lock.go
// depends on it.
type BoundedMailbox struct {
	rb       Roundabout
	cap      int
	messages []string
}

// NewBoundedMailbox allocates a mailbox that holds at most capacity
// messages; Post beyond that returns ErrMailboxFull rather than growing
// without bound.
func NewBoundedMailbox(capacity int) *BoundedMailbox {
	return &BoundedMailbox{
		cap:      capacity,
		messages: make([]string, 0, capacity),
	}
}

// Post appends msg, failing with ErrMailboxFull once the mailbox is at
// capacity. Safe for concurrent use by any number of goroutines.
func (b *BoundedMailbox) Post(msg string) error {
	var err error
	b.rb.ExWriteAll(func(uint16, uint16) error {
		if len(b.messages) >= b.cap {
			err = ErrMailboxFull
			return nil
		}
		b.messages = append(b.messages, msg)
		return nil
	})
	return err
}

// Drain returns every posted message and empties the mailbox.
func (b *BoundedMailbox) Drain() []string {
	var out []string
	b.rb.ExWriteAll(func(uint16, uint16) error {
		out = b.messages
		b.messages = make([]string, 0, b.cap)
		return nil
	})
	return out
}

// Len reports the current number of queued messages.
func (b *BoundedMailbox) Len() int {
	var n int
	b.rb.ReadAll(func(uint16, uint16) error {
		n = len(b.messages)
		return nil
	})
	return n
}
