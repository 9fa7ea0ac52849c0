/*
DESCRIPTION
  simdriver.go provides a simulated implementation of the driver.Driver
  interface. The simulated driver paces frame completions at a configurable
  interval and writes a deterministic test pattern into each filled slot, so
  capture behaviour can be exercised without camera hardware.

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

// Package simdriver provides a simulated camera device driver for testing
// and development rigs.
package simdriver

import (
	"sync"
	"time"

	"github.com/ausocean/cam/driver"
	"github.com/ausocean/utils/logging"
	"github.com/pkg/errors"
)

// Used to indicate package in logging.
const pkg = "simdriver: "

// Default pacing of simulated frame completions, i.e. 25 fps.
const defaultFrameInterval = 40 * time.Millisecond

// Vendor-style error codes reported through LastError.
const (
	codeOutOfMemory    = 2
	codeCaptureRunning = 3
	codeNoActiveMemory = 4
)

var errOutOfMemory = errors.New("out of memory")

// Simulated is a camera device driver stand-in. Completions are generated on
// a fixed cadence from the moment Start is called; in single-shot mode only
// one completion is generated per Start. Each fill writes the frame counter
// as a byte pattern across the slot's rows, leaving pitch padding untouched.
type Simulated struct {
	log      logging.Logger
	interval time.Duration
	memLimit int

	mu        sync.Mutex
	seq       driver.Sequence
	running   bool
	started   time.Time
	delivered int // Completions delivered since Start.
	frame     int // Lifetime frame counter, used for the fill pattern.
	allocated int // Outstanding allocated bytes.
	blocks    int // Outstanding allocation count.
	failStart *driver.Error
	failStop  *driver.Error
	lastCode  int
	lastText  string
}

// Option configures a Simulated driver at construction.
type Option func(*Simulated)

// WithFrameInterval sets the period between simulated frame completions.
func WithFrameInterval(d time.Duration) Option {
	return func(s *Simulated) { s.interval = d }
}

// WithMemoryLimit caps total allocated bytes, after which Allocate fails the
// way exhausted camera memory would.
func WithMemoryLimit(bytes int) Option {
	return func(s *Simulated) { s.memLimit = bytes }
}

// FailStart makes Start fail with the given vendor code and text, e.g. to
// simulate a disconnected camera.
func FailStart(code int, text string) Option {
	return func(s *Simulated) { s.failStart = &driver.Error{Code: code, Text: text} }
}

// FailStop makes Stop fail with the given vendor code and text.
func FailStop(code int, text string) Option {
	return func(s *Simulated) { s.failStop = &driver.Error{Code: code, Text: text} }
}

// New returns a new Simulated driver.
func New(l logging.Logger, opts ...Option) *Simulated {
	s := &Simulated{log: l, interval: defaultFrameInterval}
	for _, o := range opts {
		o(s)
	}
	return s
}

// Allocate hands out a zeroed block of image memory with an aligned pitch.
func (s *Simulated) Allocate(width, height, bitDepth int) (driver.Block, error) {
	pitch := driver.Pitch(width, bitDepth)
	size := pitch * height

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.memLimit > 0 && s.allocated+size > s.memLimit {
		s.lastCode, s.lastText = codeOutOfMemory, "image memory exhausted"
		return driver.Block{}, errors.Wrapf(errOutOfMemory, "cannot allocate %d bytes", size)
	}
	s.allocated += size
	s.blocks++
	s.log.Debug(pkg+"allocated block", "bytes", size, "outstanding", s.blocks)
	return driver.Block{Data: make([]byte, size), Pitch: pitch}, nil
}

// Release returns an allocated block.
func (s *Simulated) Release(b driver.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.allocated -= len(b.Data)
	s.blocks--
	return nil
}

// Outstanding returns the number of allocated blocks not yet released.
func (s *Simulated) Outstanding() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.blocks
}

// Start begins generating completions for the slots of the given sequence.
func (s *Simulated) Start(seq driver.Sequence) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failStart != nil {
		s.lastCode, s.lastText = s.failStart.Code, s.failStart.Text
		return s.failStart
	}
	if s.running {
		s.lastCode, s.lastText = codeCaptureRunning, "capture already running"
		return &driver.Error{Code: s.lastCode, Text: s.lastText}
	}
	if len(seq.Slots) == 0 {
		s.lastCode, s.lastText = codeNoActiveMemory, "no image memory in sequence"
		return &driver.Error{Code: s.lastCode, Text: s.lastText}
	}
	s.seq = seq
	s.running = true
	s.started = time.Now()
	s.delivered = 0
	s.log.Debug(pkg+"capture started", "slots", len(seq.Slots), "continuous", seq.Continuous)
	return nil
}

// Stop halts completion generation. Stopping a stopped driver is a no-op.
func (s *Simulated) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failStop != nil {
		s.lastCode, s.lastText = s.failStop.Code, s.failStop.Text
		return s.failStop
	}
	s.running = false
	return nil
}

// PollCompletion blocks until the next completion is due or the timeout
// elapses. Slot memory is written through the sequence descriptor's fill
// gate; a slot the gate refuses is not written, but its completion is still
// reported so the capture layer can account for the dropped frame.
func (s *Simulated) PollCompletion(timeout time.Duration) (driver.Completion, error) {
	deadline := time.Now().Add(timeout)
	for {
		s.mu.Lock()
		exhausted := !s.running || (!s.seq.Continuous && s.delivered >= 1)
		due := s.started.Add(time.Duration(s.delivered+1) * s.interval)
		s.mu.Unlock()

		now := time.Now()
		if exhausted || due.After(deadline) {
			if rem := deadline.Sub(now); rem > 0 {
				time.Sleep(rem)
			}
			return driver.Completion{}, driver.ErrTimeout
		}
		if due.After(now) {
			time.Sleep(due.Sub(now))
			continue // Re-check the running state after the sleep.
		}

		s.mu.Lock()
		if !s.running {
			s.mu.Unlock()
			continue
		}
		idx := s.delivered % len(s.seq.Slots)
		if s.seq.Fill == nil {
			s.fill(idx)
		} else {
			s.seq.Fill(idx, func() { s.fill(idx) })
		}
		s.delivered++
		s.frame++
		s.mu.Unlock()
		return driver.Completion{Slot: idx, Timestamp: due}, nil
	}
}

// fill writes the current frame pattern into the slot's rows, leaving any
// pitch padding bytes untouched. Called with the driver guard held.
func (s *Simulated) fill(idx int) {
	slot := s.seq.Slots[idx]
	g := s.seq.Geometry
	row := g.Width * g.BytesPerPixel()
	v := byte(s.frame + 1)
	for y := 0; y < g.Height; y++ {
		off := y * slot.Block.Pitch
		for x := 0; x < row; x++ {
			slot.Block.Data[off+x] = v
		}
	}
}

// LastError reports the code and text of the most recent driver fault.
func (s *Simulated) LastError() (int, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastCode, s.lastText
}
