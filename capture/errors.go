/*
DESCRIPTION
  errors.go provides the sentinel errors returned by the capture package, and
  a helper for wrapping driver faults with their vendor code and text.

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
	"errors"
	"fmt"

	"github.com/ausocean/cam/driver"
)

// Sentinel errors returned by capture operations. Callers should match these
// with errors.Is; errors wrapping ErrDevice also carry a *driver.Error with
// the vendor code and text, retrievable with errors.As.
var (
	ErrGeometryInvalid  = errors.New("capture: invalid geometry")
	ErrGeometryMismatch = errors.New("capture: geometry mismatch")
	ErrUnknownBuffer    = errors.New("capture: unknown buffer")
	ErrNotFree          = errors.New("capture: buffer not free")
	ErrNotFilled        = errors.New("capture: buffer not filled")
	ErrAlreadyLocked    = errors.New("capture: buffer already locked")
	ErrBufferBusy       = errors.New("capture: buffer busy")
	ErrBufferStarvation = errors.New("capture: buffer starvation")
	ErrSequenceBusy     = errors.New("capture: sequence busy")
	ErrInvalidState     = errors.New("capture: invalid state")
	ErrCaptureTimeout   = errors.New("capture: capture timed out")
	ErrAllocationFailed = errors.New("capture: allocation failed")
	ErrDevice           = errors.New("capture: device error")
)

// deviceError wraps a driver fault in ErrDevice, attaching the vendor error
// code and text from d.LastError if err does not already carry them.
func deviceError(d driver.Driver, err error) error {
	var derr *driver.Error
	if !errors.As(err, &derr) {
		code, text := d.LastError()
		derr = &driver.Error{Code: code, Text: text}
	}
	return fmt.Errorf("%w: %w", ErrDevice, derr)
}
