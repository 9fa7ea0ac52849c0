/*
DESCRIPTION
  pool.go provides Pool, the allocator and owner of a capture session's frame
  buffers. A pool fixes frame geometry at creation, allocates raw image memory
  through the device driver (or registers caller-supplied memory), and tracks
  per-buffer state for the lifetime of the session.

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
	"fmt"
	"sort"
	"sync"

	"github.com/ausocean/cam/driver"
	"github.com/ausocean/utils/logging"
)

// Bit depths a pool will accept.
var supportedBitDepths = []int{8, 16, 24, 32}

// Pool owns the frame buffers of one capture session. All buffers in a pool
// share identical geometry, fixed when the pool is created.
type Pool struct {
	drv driver.Driver
	log logging.Logger
	geo driver.Geometry

	mu     sync.Mutex
	bufs   map[BufferID]*frameBuffer
	nextID BufferID
}

// NewPool returns a pool whose buffers will all have the given geometry.
// Non-positive dimensions or an unsupported bit depth give ErrGeometryInvalid.
func NewPool(d driver.Driver, width, height, bitDepth int, l logging.Logger) (*Pool, error) {
	err := validGeometry(width, height, bitDepth)
	if err != nil {
		return nil, err
	}
	return &Pool{
		drv: d,
		log: l,
		geo: driver.Geometry{
			Width:    width,
			Height:   height,
			BitDepth: bitDepth,
			Pitch:    driver.Pitch(width, bitDepth),
		},
		bufs:   make(map[BufferID]*frameBuffer),
		nextID: 1,
	}, nil
}

// Geometry returns the fixed geometry shared by all of the pool's buffers.
func (p *Pool) Geometry() driver.Geometry { return p.geo }

// Allocate requests driver memory for a new frame buffer of the given
// geometry, which must match the pool's. The new buffer starts Free.
func (p *Pool) Allocate(width, height, bitDepth int) (BufferID, error) {
	err := p.checkGeometry(width, height, bitDepth)
	if err != nil {
		return 0, err
	}

	b, err := p.drv.Allocate(width, height, bitDepth)
	if err != nil {
		return 0, fmt.Errorf("%w: %w", ErrAllocationFailed, err)
	}
	if b.Pitch != p.geo.Pitch {
		p.drv.Release(b)
		return 0, fmt.Errorf("%w: driver pitch %d, pool pitch %d", ErrGeometryMismatch, b.Pitch, p.geo.Pitch)
	}

	id := p.add(b, false)
	p.log.Debug(pkg+"allocated buffer", "id", int(id), "size", p.geo.Size())
	return id, nil
}

// BindExternal registers caller-supplied memory as a frame buffer. The pool
// tracks the buffer's state but does not own the memory's lifetime; Free will
// not release it. The memory must be at least one frame in size.
func (p *Pool) BindExternal(width, height, bitDepth int, mem []byte) (BufferID, error) {
	err := p.checkGeometry(width, height, bitDepth)
	if err != nil {
		return 0, err
	}
	if len(mem) < p.geo.Size() {
		return 0, fmt.Errorf("%w: memory of %d bytes cannot hold a %d byte frame", ErrGeometryInvalid, len(mem), p.geo.Size())
	}

	id := p.add(driver.Block{Data: mem, Pitch: p.geo.Pitch}, true)
	p.log.Debug(pkg+"bound external buffer", "id", int(id))
	return id, nil
}

// add registers a block under the next id and returns the id.
func (p *Pool) add(b driver.Block, external bool) BufferID {
	p.mu.Lock()
	defer p.mu.Unlock()
	id := p.nextID
	p.nextID++
	p.bufs[id] = &frameBuffer{id: id, geo: p.geo, block: b, external: external}
	return id
}

// Free releases a buffer. A buffer that is in a capture sequence or locked by
// a consumer is busy and cannot be freed. Driver-allocated memory is returned
// to the driver; externally bound memory is left to its owner.
func (p *Pool) Free(id BufferID) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.bufs[id]
	if !ok {
		return fmt.Errorf("%w: id %d", ErrUnknownBuffer, id)
	}

	b.mu.Lock()
	busy := b.member || b.state == Locked
	b.mu.Unlock()
	if busy {
		return fmt.Errorf("%w: buffer %d is %v", ErrBufferBusy, id, b.curState())
	}

	if !b.external {
		err := p.drv.Release(b.block)
		if err != nil {
			return deviceError(p.drv, err)
		}
	}
	delete(p.bufs, id)
	p.log.Debug(pkg+"freed buffer", "id", int(id))
	return nil
}

// Pitch returns the geometry of a buffer: width and height in pixels, bits
// per pixel, and the byte pitch of one row.
func (p *Pool) Pitch(id BufferID) (x, y, bits, pitch int, err error) {
	b, err := p.buffer(id)
	if err != nil {
		return 0, 0, 0, 0, err
	}
	return b.geo.Width, b.geo.Height, b.geo.BitDepth, b.geo.Pitch, nil
}

// State returns the current state tag of a buffer.
func (p *Pool) State(id BufferID) (State, error) {
	b, err := p.buffer(id)
	if err != nil {
		return Free, err
	}
	return b.curState(), nil
}

// Copy byte-copies image data from the src buffer to the dst buffer. A lines
// value of 0 copies the full frame, otherwise the first lines rows are
// copied. Copy moves data only; neither buffer changes state.
func (p *Pool) Copy(src, dst BufferID, lines int) error {
	sb, err := p.buffer(src)
	if err != nil {
		return err
	}
	db, err := p.buffer(dst)
	if err != nil {
		return err
	}
	if sb.geo.Pitch != db.geo.Pitch {
		return fmt.Errorf("%w: src pitch %d, dst pitch %d", ErrGeometryMismatch, sb.geo.Pitch, db.geo.Pitch)
	}
	if lines < 0 || lines > sb.geo.Height {
		return fmt.Errorf("%w: cannot copy %d of %d lines", ErrGeometryInvalid, lines, sb.geo.Height)
	}
	if lines == 0 {
		lines = sb.geo.Height
	}

	n := lines * sb.geo.Pitch
	copy(db.block.Data[:n], sb.block.Data[:n])
	return nil
}

// IDs returns the ids of all buffers in the pool in ascending order.
func (p *Pool) IDs() []BufferID {
	p.mu.Lock()
	defer p.mu.Unlock()
	ids := make([]BufferID, 0, len(p.bufs))
	for id := range p.bufs {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Close frees every buffer in the pool. It fails with ErrBufferBusy if any
// buffer is still in a sequence or locked.
func (p *Pool) Close() error {
	for _, id := range p.IDs() {
		err := p.Free(id)
		if err != nil {
			return fmt.Errorf("could not free buffer %d: %w", id, err)
		}
	}
	return nil
}

// buffer looks up a frame buffer by id.
func (p *Pool) buffer(id BufferID) (*frameBuffer, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	b, ok := p.bufs[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrUnknownBuffer, id)
	}
	return b, nil
}

// checkGeometry validates a requested geometry and checks it against the
// pool's fixed geometry.
func (p *Pool) checkGeometry(width, height, bitDepth int) error {
	err := validGeometry(width, height, bitDepth)
	if err != nil {
		return err
	}
	if width != p.geo.Width || height != p.geo.Height || bitDepth != p.geo.BitDepth {
		return fmt.Errorf("%w: got %dx%dx%d, pool is %dx%dx%d", ErrGeometryMismatch,
			width, height, bitDepth, p.geo.Width, p.geo.Height, p.geo.BitDepth)
	}
	return nil
}

// validGeometry checks dimensions are positive and bit depth is supported.
func validGeometry(width, height, bitDepth int) error {
	if width <= 0 || height <= 0 {
		return fmt.Errorf("%w: dimensions %dx%d", ErrGeometryInvalid, width, height)
	}
	for _, d := range supportedBitDepths {
		if bitDepth == d {
			return nil
		}
	}
	return fmt.Errorf("%w: bit depth %d", ErrGeometryInvalid, bitDepth)
}
