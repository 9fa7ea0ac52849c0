/*
DESCRIPTION
  capture.go provides Session, the device-session object owning one buffer
  pool, one capture sequence and one acquisition controller; providing
  methods to start, stop, reconfigure and claim frames from a camera device.

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

// Package capture provides an API for acquiring frames from a camera device
// driver through an explicitly managed ring of frame buffers. A consumer
// configures geometry, starts acquisition, and claims completed frames under
// an exclusive lease while the driver keeps filling the rest of the ring.
package capture

import (
	"fmt"
	"sync"
	"time"

	"github.com/ausocean/cam/capture/config"
	"github.com/ausocean/cam/driver"
	"github.com/ausocean/utils/bitrate"
	"github.com/google/uuid"
)

// Used to indicate package in logging.
const pkg = "capture: "

// Session owns the capture state for one open camera device: a buffer pool,
// a capture sequence and an acquisition controller. Configuration calls on a
// session must be serialised by the caller; frame claims and completions may
// race freely.
type Session struct {
	cfg config.Config
	drv driver.Driver
	id  string

	// bitrate tracks the fill rate of completed frames.
	bitrate bitrate.Calculator

	mu   sync.Mutex
	pool *Pool
	seq  *Sequence
	ctrl *Controller
}

// New returns a Session over the given driver with the desired configuration,
// or an error if the configuration is invalid. No device memory is allocated
// until Start.
func New(c config.Config, d driver.Driver) (*Session, error) {
	s := &Session{drv: d, id: uuid.NewString()}
	err := s.setConfig(c)
	if err != nil {
		return nil, fmt.Errorf("could not set config: %w", err)
	}
	s.cfg.Logger.Info(pkg+"session created", "id", s.id)
	return s, nil
}

// setConfig validates the given config and replaces the session's current
// config with it.
func (s *Session) setConfig(c config.Config) error {
	err := c.Validate()
	if err != nil {
		return err
	}
	s.cfg = c
	s.cfg.Logger.SetLevel(s.cfg.LogLevel)
	return nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// Config returns a copy of the session's current config.
func (s *Session) Config() config.Config { return s.cfg }

// Start begins acquisition, building the buffer pool and capture sequence
// first if required. If wait is true, Start blocks until the first frame
// completes or the configured capture timeout elapses.
func (s *Session) Start(wait bool) error {
	s.mu.Lock()
	if s.ctrl == nil {
		err := s.setup()
		if err != nil {
			s.mu.Unlock()
			return fmt.Errorf("could not set up session: %w", err)
		}
	}

	// After a stop the sequence is empty and the controller idle; re-enqueue
	// the pool's buffers and re-arm.
	if s.ctrl.Mode() == Idle {
		for _, id := range s.pool.IDs() {
			err := s.seq.Add(id)
			if err != nil {
				s.mu.Unlock()
				return fmt.Errorf("could not rebuild sequence: %w", err)
			}
		}
		err := s.ctrl.Arm()
		if err != nil {
			s.mu.Unlock()
			return err
		}
	}
	ctrl := s.ctrl
	s.mu.Unlock()

	return ctrl.Start(wait)
}

// setup allocates the configured number of frame buffers, registers them
// into a fresh capture sequence, and arms a new controller.
func (s *Session) setup() error {
	s.cfg.Logger.Debug(pkg+"setting up session", "geometry",
		fmt.Sprintf("%dx%dx%d", s.cfg.Width, s.cfg.Height, s.cfg.BitDepth), "buffers", s.cfg.Buffers)

	pool, err := NewPool(s.drv, int(s.cfg.Width), int(s.cfg.Height), int(s.cfg.BitDepth), s.cfg.Logger)
	if err != nil {
		return err
	}
	seq := NewSequence(pool, s.cfg.Logger)

	for i := uint(0); i < s.cfg.Buffers; i++ {
		id, err := pool.Allocate(int(s.cfg.Width), int(s.cfg.Height), int(s.cfg.BitDepth))
		if err != nil {
			pool.Close()
			return err
		}
		err = seq.Add(id)
		if err != nil {
			pool.Close()
			return err
		}
	}

	opts := []ControllerOption{
		WithTimeout(s.cfg.CaptureTimeout),
		WithReport(s.bitrate.Report),
	}
	if s.cfg.SingleShot {
		opts = append(opts, WithSingleShot())
	}
	ctrl := NewController(s.drv, seq, s.cfg.Logger, opts...)
	err = ctrl.Arm()
	if err != nil {
		pool.Close()
		return err
	}

	s.pool, s.seq, s.ctrl = pool, seq, ctrl
	return nil
}

// Stop halts acquisition, clearing the sequence and leaving the controller
// idle. The pool's buffers stay allocated for the next Start.
func (s *Session) Stop(wait bool) error {
	s.mu.Lock()
	ctrl := s.ctrl
	s.mu.Unlock()
	if ctrl == nil {
		return fmt.Errorf("%w: session not started", ErrInvalidState)
	}
	return ctrl.Stop(wait)
}

// Running reports whether acquisition is currently in flight.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.ctrl != nil && s.ctrl.Mode() == Running
}

// Update takes a map of config variable names to values and edits the
// session's configuration accordingly, stopping acquisition and releasing
// the session's buffers first if necessary. The next Start rebuilds the pool
// under the new configuration.
func (s *Session) Update(vars map[string]string) error {
	if s.Running() {
		s.cfg.Logger.Debug(pkg + "session running; stopping for re-config")
		err := s.Stop(true)
		if err != nil {
			return fmt.Errorf("could not stop session for re-config: %w", err)
		}
	}

	err := s.teardown()
	if err != nil {
		return fmt.Errorf("could not tear down session for re-config: %w", err)
	}

	s.cfg.Logger.Debug(pkg+"updating config", "vars", fmt.Sprint(vars))
	s.cfg.Update(vars)
	err = s.setConfig(s.cfg)
	if err != nil {
		return err
	}
	s.cfg.Logger.Info(pkg + "session reconfigured")
	return nil
}

// teardown clears the sequence and frees the pool, leaving the session
// unconfigured. Outstanding leases make teardown fail with ErrBufferBusy.
func (s *Session) teardown() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ctrl == nil {
		return nil
	}
	err := s.seq.Clear()
	if err != nil {
		return err
	}
	err = s.pool.Close()
	if err != nil {
		return err
	}
	s.pool, s.seq, s.ctrl = nil, nil, nil
	return nil
}

// Close stops any running acquisition and frees all of the session's
// buffers. A session cannot be used after Close.
func (s *Session) Close() error {
	if s.Running() {
		err := s.Stop(true)
		if err != nil {
			return fmt.Errorf("could not stop session: %w", err)
		}
	}
	err := s.teardown()
	if err != nil {
		return fmt.Errorf("could not tear down session: %w", err)
	}
	s.cfg.Logger.Info(pkg+"session closed", "id", s.id)
	return nil
}

// Pool returns the session's buffer pool, or nil before the first Start.
func (s *Session) Pool() *Pool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pool
}

// Lock claims the buffer with the given id for exclusive read access.
func (s *Session) Lock(id BufferID) (*Lease, error) {
	s.mu.Lock()
	pool := s.pool
	s.mu.Unlock()
	if pool == nil {
		return nil, fmt.Errorf("%w: session not started", ErrInvalidState)
	}
	return pool.Lock(id)
}

// CurrentAndLast returns the current write position's buffer id and the last
// filled buffer id. Equal ids signal that no frame has completed yet.
func (s *Session) CurrentAndLast() (current, last BufferID) {
	s.mu.Lock()
	seq := s.seq
	s.mu.Unlock()
	if seq == nil {
		return 0, 0
	}
	return seq.CurrentAndLast()
}

// Active returns the id of the buffer currently designated as the write
// target, independent of lock state.
func (s *Session) Active() BufferID {
	s.mu.Lock()
	ctrl := s.ctrl
	s.mu.Unlock()
	if ctrl == nil {
		return 0
	}
	return ctrl.Active()
}

// PollStatus reports the acquisition status without blocking.
func (s *Session) PollStatus() Status {
	s.mu.Lock()
	ctrl := s.ctrl
	s.mu.Unlock()
	if ctrl == nil {
		return NotStarted
	}
	return ctrl.PollStatus()
}

// WaitFrame blocks until the next frame completes or the timeout elapses.
func (s *Session) WaitFrame(timeout time.Duration) (BufferID, error) {
	s.mu.Lock()
	ctrl := s.ctrl
	s.mu.Unlock()
	if ctrl == nil {
		return 0, fmt.Errorf("%w: session not started", ErrInvalidState)
	}
	return ctrl.WaitFrame(timeout)
}

// Bitrate returns the result of the most recent fill-rate check in bits per
// second.
func (s *Session) Bitrate() int {
	return s.bitrate.Bitrate()
}
