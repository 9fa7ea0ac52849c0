/*
DESCRIPTION
  config.go provides the configuration settings for a capture session.

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

// Package config contains the configuration settings for a capture session.
package config

import (
	"time"

	"github.com/ausocean/utils/logging"
)

// Config provides parameters relevant to a capture session. A new config
// must be passed to the session constructor. Default values for these fields
// are defined as consts in variables.go.
type Config struct {
	// Width and Height define the frame dimensions in pixels. All of a
	// session's buffers share these; changing them requires re-allocation.
	Width  uint
	Height uint

	// BitDepth is the frame bit depth in bits per pixel. 8, 16, 24 and 32
	// are supported.
	BitDepth uint

	// Buffers is the number of frame buffers allocated into the capture
	// sequence ring.
	Buffers uint

	// FrameRate defines the capture frame rate in frames per second, if
	// configurable by the device.
	FrameRate uint

	// CaptureTimeout bounds blocking start, stop and wait-for-frame calls.
	CaptureTimeout time.Duration

	// SingleShot selects single-shot capture: one frame per start, with no
	// stop required between frames. The default is free-run capture, which
	// fills the ring continuously until stopped.
	SingleShot bool

	// Logger holds an implementation of the logging.Logger interface.
	// This must be set for a session to work correctly.
	Logger logging.Logger

	// LogLevel is the session logging verbosity level. Valid values are
	// defined by enums from the logging package: logging.Debug,
	// logging.Info, logging.Warning, logging.Error, logging.Fatal.
	LogLevel int8

	// Suppress holds logger suppression state.
	Suppress bool
}

// Validate checks for any errors in the config fields and defaults settings
// if particular parameters have not been defined.
func (c *Config) Validate() error {
	for _, v := range Variables {
		if v.Validate != nil {
			v.Validate(c)
		}
	}
	return nil
}

// Update takes a map of configuration variable names and their corresponding
// values, parses the string values into the correct types, and sets the
// config struct fields as appropriate.
func (c *Config) Update(vars map[string]string) {
	for _, value := range Variables {
		if v, ok := vars[value.Name]; ok && value.Update != nil {
			value.Update(c, v)
		}
	}
}

func (c *Config) LogInvalidField(name string, def interface{}) {
	c.Logger.Info(name+" bad or unset, defaulting", name, def)
}
