/*
DESCRIPTION
  sequence.go provides Sequence, the ordered ring of frame buffers that the
  device driver cycles through during acquisition. The sequence owns the
  current write position and the last filled position, and applies driver
  completions in strict FIFO order.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package capture

import (
	"fmt"
	"sync"
	"time"

	"github.com/ausocean/cam/driver"
	"github.com/ausocean/utils/logging"
)

// Sequence is an ordered ring of buffers drawn from one Pool. Buffers must be
// Free when added and are returned to Free when the sequence is cleared.
// While an acquisition controller is running, the ring cannot be grown or
// cleared.
type Sequence struct {
	pool *Pool
	log  logging.Logger

	mu      sync.Mutex
	ring    []*frameBuffer
	write   int // Index of the current write position.
	lastIdx int // Index of the last filled slot, -1 if no frame has completed.
	running func() bool
}

// NewSequence returns an empty sequence over buffers of the given pool.
func NewSequence(p *Pool, l logging.Logger) *Sequence {
	return &Sequence{pool: p, log: l, lastIdx: -1}
}

// attach gives the sequence a view of the acquisition controller's running
// state so that Add and Clear can be gated while capture is in flight.
func (s *Sequence) attach(running func() bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = running
}

// isRunning reports whether an attached controller is currently running.
func (s *Sequence) isRunning() bool {
	return s.running != nil && s.running()
}

// Add appends a Free buffer to the ring tail, transitioning it to
// InSequence. Growing the ring mid-capture is unsupported and returns
// ErrInvalidState.
func (s *Sequence) Add(id BufferID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning() {
		return fmt.Errorf("%w: cannot add to sequence while capturing", ErrInvalidState)
	}

	b, err := s.pool.buffer(id)
	if err != nil {
		return err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Free {
		return fmt.Errorf("%w: buffer %d is %v", ErrNotFree, id, b.state)
	}
	b.state = InSequence
	b.member = true
	s.ring = append(s.ring, b)
	s.log.Debug(pkg+"buffer added to sequence", "id", int(id), "position", len(s.ring)-1)
	return nil
}

// Clear empties the ring, returning InSequence and Filled buffers to Free.
// A Locked buffer loses its ring membership but stays Locked until its lease
// is released, at which point it becomes Free. Clear is idempotent on an
// empty sequence, and fails with ErrSequenceBusy while capture is running.
func (s *Sequence) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.isRunning() {
		return fmt.Errorf("%w: cannot clear while capturing", ErrSequenceBusy)
	}

	for _, b := range s.ring {
		b.mu.Lock()
		b.member = false
		if b.state == InSequence || b.state == Filled {
			b.state = Free
		}
		b.mu.Unlock()
	}
	s.ring = nil
	s.write = 0
	s.lastIdx = -1
	return nil
}

// Len returns the number of buffers in the ring.
func (s *Sequence) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.ring)
}

// CurrentAndLast returns the id of the buffer at the current write position
// and the id of the last filled buffer. The two are equal when no frame has
// completed yet; this signals not-ready rather than an error.
func (s *Sequence) CurrentAndLast() (current, last BufferID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ring) == 0 {
		return 0, 0
	}
	current = s.ring[s.write].id
	if s.lastIdx == -1 {
		return current, current
	}
	return current, s.ring[s.lastIdx].id
}

// active returns the id of the controller's current write target, or 0 if
// the ring is empty.
func (s *Sequence) active() BufferID {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ring) == 0 {
		return 0
	}
	return s.ring[s.write].id
}

// slots returns the ring as a driver sequence slot list, in ring order.
func (s *Sequence) slots() []driver.Slot {
	s.mu.Lock()
	defer s.mu.Unlock()
	sl := make([]driver.Slot, len(s.ring))
	for i, b := range s.ring {
		sl[i] = driver.Slot{ID: int(b.id), Block: b.block}
	}
	return sl
}

// fillSlot runs write on the given ring slot's memory if the driver may
// write it, holding the buffer guard across both the decision and the write
// so a consumer lock cannot land in between. This is the structural gate
// that keeps hardware out of leased memory.
func (s *Sequence) fillSlot(slot int, write func()) bool {
	s.mu.Lock()
	if slot < 0 || slot >= len(s.ring) {
		s.mu.Unlock()
		return false
	}
	b := s.ring[slot]
	s.mu.Unlock()

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != InSequence && b.state != Filled {
		return false
	}
	write()
	return true
}

// fill applies a driver completion to the slot at the current write position,
// transitioning it to Filled, advancing the write position and moving the
// last filled pointer forward. If the write position has wrapped into a slot
// still locked by a consumer, fill reports ErrBufferStarvation and neither
// pointer moves. A Filled but unclaimed slot is refilled in place.
//
// The returned byte count is the frame size, for fill-rate accounting.
func (s *Sequence) fill(slot int, ts time.Time) (BufferID, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.ring) == 0 {
		return 0, 0, fmt.Errorf("%w: completion on empty sequence", ErrInvalidState)
	}

	idx := s.write
	if slot != idx {
		// The ring's own write position is authoritative; a disagreeing slot
		// index means the driver dropped or reordered a report.
		s.log.Warning(pkg+"completion slot disagrees with write position", "slot", slot, "write", idx)
	}

	b := s.ring[idx]
	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Locked:
		return 0, 0, fmt.Errorf("%w: write position wrapped into locked buffer %d", ErrBufferStarvation, b.id)
	case InSequence, Filled:
		b.state = Filled
		b.stamp = ts
	default:
		return 0, 0, fmt.Errorf("%w: buffer %d in ring but %v", ErrInvalidState, b.id, b.state)
	}

	s.lastIdx = idx
	s.write = (idx + 1) % len(s.ring)
	return b.id, b.geo.Size(), nil
}
