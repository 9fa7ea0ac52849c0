/*
DESCRIPTION
  controller.go provides Controller, the acquisition state machine that
  drives the device driver between idle, armed, running and stopping states,
  pumps frame completions into the capture sequence, and lets callers block
  for frames without busy-polling.

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
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ausocean/cam/driver"
	"github.com/ausocean/utils/logging"
)

// Acquisition controller modes.
type Mode uint8

const (
	Idle Mode = iota
	Armed
	Running
	Stopping
)

// String returns a readable representation of a Mode.
func (m Mode) String() string {
	switch m {
	case Idle:
		return "Idle"
	case Armed:
		return "Armed"
	case Running:
		return "Running"
	case Stopping:
		return "Stopping"
	default:
		return "Unknown"
	}
}

// Status values reported by PollStatus.
type Status uint8

const (
	NotStarted Status = iota
	InProgress
	Finished
)

// Period between driver completion polls by the pump routine. Each poll
// blocks in the driver for at most this long so that stop requests are
// noticed promptly.
const completionPollPeriod = 10 * time.Millisecond

// Default blocking-wait timeout, used when no WithTimeout option is given.
const defaultTimeout = 5 * time.Second

// Controller drives acquisition over one capture sequence. A controller is
// created Idle; Arm readies a non-empty sequence, Start begins capture, and
// Stop drains back to Idle, clearing the sequence.
type Controller struct {
	drv        driver.Driver
	seq        *Sequence
	log        logging.Logger
	timeout    time.Duration
	continuous bool
	report     func(sent int)

	mu       sync.Mutex
	mode     Mode
	stop     chan struct{}
	drained  chan struct{}
	frameSig chan struct{}
	starved  bool
	polled   uint64
	started  bool // Whether a capture has ever been requested.

	filled uint64 // Total completed frames; read atomically.

	// capturing mirrors mode == Running. It is read by the sequence's
	// running gate without taking the controller guard, avoiding lock
	// order inversion between the controller and sequence mutexes.
	capturing atomic.Bool
}

// ControllerOption configures a Controller at construction.
type ControllerOption func(*Controller)

// WithTimeout sets the timeout used by blocking Start and WaitFrame calls.
func WithTimeout(d time.Duration) ControllerOption {
	return func(c *Controller) { c.timeout = d }
}

// WithSingleShot puts the controller in single-shot mode: capture stops after
// one frame and the controller returns to Armed, so no Stop is required
// between frames.
func WithSingleShot() ControllerOption {
	return func(c *Controller) { c.continuous = false }
}

// WithReport sets a callback receiving the byte size of each completed frame,
// e.g. a bitrate calculator's Report method.
func WithReport(f func(sent int)) ControllerOption {
	return func(c *Controller) { c.report = f }
}

// NewController returns an Idle controller over the given sequence.
func NewController(d driver.Driver, s *Sequence, l logging.Logger, opts ...ControllerOption) *Controller {
	c := &Controller{
		drv:        d,
		seq:        s,
		log:        l,
		timeout:    defaultTimeout,
		continuous: true,
		frameSig:   make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	s.attach(c.capturing.Load)
	return c
}

// Mode returns the controller's current mode.
func (c *Controller) Mode() Mode {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mode
}

// Arm readies the controller for capture. The sequence must be non-empty.
func (c *Controller) Arm() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.mode != Idle {
		return fmt.Errorf("%w: cannot arm from %v", ErrInvalidState, c.mode)
	}
	if c.seq.Len() == 0 {
		return fmt.Errorf("%w: cannot arm an empty sequence", ErrInvalidState)
	}
	c.mode = Armed
	c.log.Info(pkg + "controller armed")
	return nil
}

// Start begins acquisition. Valid only from Armed. If wait is true, Start
// blocks until the first frame completes, returning ErrCaptureTimeout if none
// lands within the controller's timeout; capture keeps running in that case
// and the caller may keep polling. Driver rejection is reported as an
// ErrDevice error carrying the vendor code and text.
func (c *Controller) Start(wait bool) error {
	c.mu.Lock()
	if c.mode != Armed {
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot start from %v", ErrInvalidState, c.mode)
	}

	desc := driver.Sequence{
		Slots:      c.seq.slots(),
		Geometry:   c.seq.pool.Geometry(),
		Continuous: c.continuous,
		Fill:       c.seq.fillSlot,
	}
	err := c.drv.Start(desc)
	if err != nil {
		c.mu.Unlock()
		return deviceError(c.drv, err)
	}

	stop := make(chan struct{})
	drained := make(chan struct{})
	c.stop = stop
	c.drained = drained
	c.starved = false
	c.mode = Running
	c.started = true
	c.capturing.Store(true)
	c.mu.Unlock()

	c.log.Info(pkg+"acquisition started", "continuous", c.continuous)
	go c.run(stop, drained)

	if !wait {
		return nil
	}
	_, err = c.WaitFrame(c.timeout)
	return err
}

// Stop halts acquisition. Valid from Running or Stopping. The sequence is
// cleared and the controller lands in Idle once the completion pump has
// drained; with wait false this finishes in the background after the driver
// acknowledges the stop.
func (c *Controller) Stop(wait bool) error {
	c.mu.Lock()
	if c.mode != Running && c.mode != Stopping {
		c.mu.Unlock()
		return fmt.Errorf("%w: cannot stop from %v", ErrInvalidState, c.mode)
	}
	c.mode = Stopping
	stop, drained := c.stop, c.drained
	c.stop = nil
	c.mu.Unlock()

	err := c.drv.Stop()
	if err != nil {
		return deviceError(c.drv, err)
	}
	if stop != nil {
		close(stop)
	}

	finish := func() {
		<-drained
		c.capturing.Store(false)
		err := c.seq.Clear()
		if err != nil {
			c.log.Error(pkg+"could not clear sequence on stop", "error", err.Error())
		}
		c.mu.Lock()
		c.mode = Idle
		c.mu.Unlock()
		c.log.Info(pkg + "acquisition stopped")
	}

	if wait {
		finish()
		return nil
	}
	go finish()
	return nil
}

// run is the completion pump. It is started by Start and polls the driver
// for frame completions, applying each to the sequence, until the stop
// channel closes or, in single-shot mode, until one frame has landed. The
// channels are passed in rather than read from the controller because Stop
// nils the stop field to guard against double close.
func (c *Controller) run(stop, drained chan struct{}) {
	defer close(drained)
	for {
		select {
		case <-stop:
			return
		default:
		}

		comp, err := c.drv.PollCompletion(completionPollPeriod)
		switch {
		case errors.Is(err, driver.ErrTimeout):
			continue
		case err != nil:
			c.log.Error(pkg+"completion poll failed", "error", err.Error())
			continue
		}

		id, n, err := c.seq.fill(comp.Slot, comp.Timestamp)
		switch {
		case errors.Is(err, ErrBufferStarvation):
			c.setStarved(true)
			c.log.Warning(pkg+"buffer starvation, frame dropped", "slot", comp.Slot)
			c.notify()
			continue
		case err != nil:
			c.log.Error(pkg+"could not apply completion", "error", err.Error())
			continue
		}

		c.setStarved(false)
		atomic.AddUint64(&c.filled, 1)
		if c.report != nil {
			c.report(n)
		}
		c.log.Debug(pkg+"frame filled", "id", int(id), "slot", comp.Slot)
		c.notify()

		if !c.continuous {
			// Single-shot: the driver stops after one frame and the
			// controller re-arms so the next Start needs no Stop first.
			err := c.drv.Stop()
			if err != nil {
				c.log.Error(pkg+"could not stop driver after single shot", "error", err.Error())
			}
			c.mu.Lock()
			c.mode = Armed
			c.capturing.Store(false)
			c.mu.Unlock()
			return
		}
	}
}

// WaitFrame suspends the caller until a frame completes, the given timeout
// elapses (ErrCaptureTimeout), or the write position is found wrapped into a
// locked buffer (ErrBufferStarvation). On success it returns the id of the
// newly filled buffer. The timeout is recoverable; callers may retry.
func (c *Controller) WaitFrame(timeout time.Duration) (BufferID, error) {
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	mark := atomic.LoadUint64(&c.filled)

	for {
		c.mu.Lock()
		starved := c.starved
		sig := c.frameSig
		c.mu.Unlock()

		if starved {
			return 0, fmt.Errorf("%w: all ring buffers leased", ErrBufferStarvation)
		}
		if atomic.LoadUint64(&c.filled) > mark {
			_, last := c.seq.CurrentAndLast()
			return last, nil
		}

		select {
		case <-sig:
		case <-timer.C:
			return 0, ErrCaptureTimeout
		}
	}
}

// PollStatus reports, without blocking, whether the most recently requested
// capture has produced a new completed frame since the last poll.
func (c *Controller) PollStatus() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.started {
		return NotStarted
	}
	f := atomic.LoadUint64(&c.filled)
	if f > c.polled {
		c.polled = f
		return Finished
	}
	if c.mode == Running || c.mode == Stopping {
		return InProgress
	}
	return NotStarted
}

// Active returns the id of the buffer currently designated as the write
// target, independent of its lock state. This is the latest, possibly still
// filling buffer rather than the latest completed one.
func (c *Controller) Active() BufferID { return c.seq.active() }

// Frames returns the total number of frames completed since construction.
func (c *Controller) Frames() uint64 { return atomic.LoadUint64(&c.filled) }

// Starved reports whether the last fill attempt found the write position
// wrapped into a locked buffer. Releasing a lease recovers.
func (c *Controller) Starved() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.starved
}

// setStarved records starvation state under the controller guard.
func (c *Controller) setStarved(v bool) {
	c.mu.Lock()
	c.starved = v
	c.mu.Unlock()
}

// notify wakes all WaitFrame callers by cycling the broadcast channel.
func (c *Controller) notify() {
	c.mu.Lock()
	sig := c.frameSig
	c.frameSig = make(chan struct{})
	c.mu.Unlock()
	close(sig)
}
