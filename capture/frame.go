/*
DESCRIPTION
  frame.go provides the frame buffer entity: one fixed-geometry block of raw
  image memory plus its bookkeeping state tag.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>
  Trek Hopton <trek@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package capture

import (
	"sync"
	"time"

	"github.com/ausocean/cam/driver"
)

// BufferID identifies a frame buffer within its pool. IDs start at 1 and are
// never reused for the lifetime of the pool.
type BufferID int

// State is the bookkeeping state tag of a frame buffer.
type State uint8

// Frame buffer states. A buffer's memory may only be written by the driver
// while InSequence or Filled, and may only be read by a consumer while
// Locked. These two conditions are mutually exclusive by construction.
const (
	Free State = iota
	InSequence
	Filled
	Locked
)

// String returns a readable representation of a State.
func (s State) String() string {
	switch s {
	case Free:
		return "Free"
	case InSequence:
		return "InSequence"
	case Filled:
		return "Filled"
	case Locked:
		return "Locked"
	default:
		return "Unknown"
	}
}

// frameBuffer is one block of raw image memory owned by a Pool. The mutex
// guards the state tag and ring membership; it is the gate that stops a
// hardware completion and a consumer lock both claiming the same transition.
type frameBuffer struct {
	id       BufferID
	geo      driver.Geometry
	block    driver.Block
	external bool // Memory supplied by the caller, not the driver.

	mu     sync.Mutex
	state  State
	member bool      // Whether the buffer is currently in a capture sequence ring.
	stamp  time.Time // Completion time of the most recent fill.
}

// curState returns the buffer's state under its guard.
func (b *frameBuffer) curState() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}
