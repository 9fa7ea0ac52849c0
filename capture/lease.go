/*
DESCRIPTION
  lease.go provides the frame claim protocol: locking a completed buffer for
  exclusive read access, and releasing the lease so the buffer can re-enter
  the capture sequence.

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
)

// Lease is an exclusive read grant on a Locked frame buffer. While a lease is
// outstanding the driver cannot write the buffer's memory. A lease must be
// released for the buffer to be filled again.
type Lease struct {
	buf *frameBuffer

	mu       sync.Mutex
	released bool
}

// Lock claims the buffer with the given id for exclusive read access,
// transitioning it from Filled to Locked. A buffer that already has a lease
// outstanding gives ErrAlreadyLocked; one that has no completed frame gives
// ErrNotFilled.
func (p *Pool) Lock(id BufferID) (*Lease, error) {
	b, err := p.buffer(id)
	if err != nil {
		return nil, err
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	switch b.state {
	case Locked:
		return nil, fmt.Errorf("%w: buffer %d", ErrAlreadyLocked, id)
	case Filled:
		b.state = Locked
	default:
		return nil, fmt.Errorf("%w: buffer %d is %v", ErrNotFilled, id, b.state)
	}

	p.log.Debug(pkg+"buffer locked", "id", int(id))
	return &Lease{buf: b}, nil
}

// ID returns the id of the leased buffer.
func (l *Lease) ID() BufferID { return l.buf.id }

// Geometry returns the geometry of the leased frame.
func (l *Lease) Geometry() driver.Geometry { return l.buf.geo }

// Timestamp returns the completion time of the leased frame.
func (l *Lease) Timestamp() time.Time { return l.buf.stamp }

// Bytes returns the leased frame's memory, bounded to one frame. The slice
// must not be used after Release.
func (l *Lease) Bytes() []byte {
	return l.buf.block.Data[:l.buf.geo.Size()]
}

// Release returns the buffer to the capture machinery. A buffer still in the
// ring goes straight back to InSequence so it can be refilled in place; one
// that has been cleared from the ring becomes Free. Releasing a lease twice
// gives ErrInvalidState.
func (l *Lease) Release() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.released {
		return fmt.Errorf("%w: lease already released", ErrInvalidState)
	}
	l.released = true

	b := l.buf
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state != Locked {
		return fmt.Errorf("%w: buffer %d is %v, not locked", ErrInvalidState, b.id, b.state)
	}
	if b.member {
		b.state = InSequence
	} else {
		b.state = Free
	}
	return nil
}
