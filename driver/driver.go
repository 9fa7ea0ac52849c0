/*
DESCRIPTION
  driver.go provides Driver, an interface that describes a camera device
  driver from which raw image memory can be allocated and into which a
  capture sequence of frame buffers can be registered and run.

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

// Package driver describes the interface between the capture subsystem and a
// camera device driver. A driver allocates raw image memory, accepts a
// sequence of frame buffers to cycle through, and reports frame completions.
package driver

import (
	"errors"
	"fmt"
	"time"
)

// Pitch alignment in bytes. Drivers pad each image row out to this boundary,
// so a row's byte stride may exceed width times bytes-per-pixel.
const pitchAlign = 4

// ErrTimeout is returned by Driver.PollCompletion when no frame completes
// within the given timeout. It is a polling result, not a fault.
var ErrTimeout = errors.New("driver: poll completion timed out")

// Geometry describes the dimensions of one frame of raw image memory.
type Geometry struct {
	Width    int // Image width in pixels.
	Height   int // Image height in pixels.
	BitDepth int // Bits per pixel.
	Pitch    int // Byte stride of one row, >= Width*BytesPerPixel().
}

// BytesPerPixel returns the number of whole bytes used per pixel.
func (g Geometry) BytesPerPixel() int { return (g.BitDepth + 7) / 8 }

// Size returns the total byte size of one frame, i.e. Pitch*Height.
func (g Geometry) Size() int { return g.Pitch * g.Height }

// Pitch returns the aligned byte stride of one image row for the given width
// and bit depth.
func Pitch(width, bitDepth int) int {
	row := width * ((bitDepth + 7) / 8)
	if rem := row % pitchAlign; rem != 0 {
		row += pitchAlign - rem
	}
	return row
}

// Block is a raw block of image memory handed out by a driver.
type Block struct {
	Data  []byte // The memory itself, of length Pitch*height.
	Pitch int    // Byte stride of one row within Data.
}

// Completion reports that the driver has finished filling one sequence slot.
type Completion struct {
	Slot      int       // Index of the filled slot in sequence order.
	Timestamp time.Time // When the frame completed.
}

// Slot pairs a frame buffer's id with the memory the driver should fill.
type Slot struct {
	ID    int
	Block Block
}

// Sequence describes a capture sequence for Driver.Start: the ordered ring of
// slots the driver will cycle through, their shared geometry, and whether
// capture runs continuously or stops after a single frame.
type Sequence struct {
	Slots      []Slot
	Geometry   Geometry
	Continuous bool

	// Fill brackets a slot write. The driver passes the write it wants to
	// perform; Fill runs it only while the slot's memory may be written and
	// reports whether the write ran. The decision and the write are atomic
	// with respect to consumer claims, so memory leased to a consumer is
	// never written. May be nil, in which case drivers write unconditionally.
	Fill func(slot int, write func()) bool
}

// Driver is the interface a camera device driver must satisfy for use by the
// capture subsystem. All methods are synchronous; PollCompletion blocks for
// at most the given timeout.
type Driver interface {
	// Allocate requests a block of image memory for the given geometry.
	Allocate(width, height, bitDepth int) (Block, error)

	// Release returns driver-allocated memory. Memory not allocated by this
	// driver must not be passed to Release.
	Release(b Block) error

	// Start begins filling the slots of the given sequence in order.
	Start(seq Sequence) error

	// Stop halts capture. Stop on a stopped driver is a no-op.
	Stop() error

	// PollCompletion blocks until the next unreported frame completion or the
	// timeout elapses, in which case ErrTimeout is returned. A zero timeout
	// polls without blocking.
	PollCompletion(timeout time.Duration) (Completion, error)

	// LastError reports the code and text of the most recent driver fault.
	LastError() (int, string)
}

// Error is a driver fault carrying the underlying vendor error code and text.
type Error struct {
	Code int
	Text string
}

func (e *Error) Error() string {
	return fmt.Sprintf("driver error %d: %s", e.Code, e.Text)
}
