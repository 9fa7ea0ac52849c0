/*
DESCRIPTION
  variables.go contains a list of structs that provide a variable Name, type
  in a string format, a function for updating the variable in the Config
  struct from a string, and a validation function to check the validity of
  the corresponding field value in the Config.

AUTHORS
  Saxon A. Nelson-Milton <saxon@ausocean.org>

LICENSE
  Copyright (C) 2024 the Australian Ocean Lab (AusOcean). All Rights Reserved.

  The Software and all intellectual property rights associated
  therewith, including but not limited to copyrights, trademarks,
  patents, and trade secrets, are and will remain the exclusive
  property of the Australian Ocean Lab (AusOcean).
*/

package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/ausocean/utils/logging"
)

// Config map keys.
const (
	KeyWidth          = "Width"
	KeyHeight         = "Height"
	KeyBitDepth       = "BitDepth"
	KeyBuffers        = "Buffers"
	KeyFrameRate      = "FrameRate"
	KeyCaptureTimeout = "CaptureTimeout"
	KeySingleShot     = "SingleShot"
	KeyLogging        = "logging"
	KeySuppress       = "Suppress"
)

// Config map parameter types.
const (
	typeUint = "uint"
	typeBool = "bool"
)

// Default variable values.
const (
	defaultWidth          = 640
	defaultHeight         = 480
	defaultBitDepth       = 8
	defaultBuffers        = 3
	defaultFrameRate      = 25
	defaultCaptureTimeout = 5 * time.Second
	defaultVerbosity      = logging.Error
)

// Variables describes the variables that can be used for capture session
// control. These structs provide the name and type of each variable, a
// function for updating the variable in a Config, and a function for
// validating its value.
var Variables = []struct {
	Name     string
	Type     string
	Update   func(*Config, string)
	Validate func(*Config)
}{
	{
		Name:   KeyWidth,
		Type:   typeUint,
		Update: func(c *Config, v string) { c.Width = parseUint(KeyWidth, v, c) },
		Validate: func(c *Config) {
			if c.Width == 0 {
				c.LogInvalidField(KeyWidth, defaultWidth)
				c.Width = defaultWidth
			}
		},
	},
	{
		Name:   KeyHeight,
		Type:   typeUint,
		Update: func(c *Config, v string) { c.Height = parseUint(KeyHeight, v, c) },
		Validate: func(c *Config) {
			if c.Height == 0 {
				c.LogInvalidField(KeyHeight, defaultHeight)
				c.Height = defaultHeight
			}
		},
	},
	{
		Name:   KeyBitDepth,
		Type:   typeUint,
		Update: func(c *Config, v string) { c.BitDepth = parseUint(KeyBitDepth, v, c) },
		Validate: func(c *Config) {
			switch c.BitDepth {
			case 8, 16, 24, 32:
			default:
				c.LogInvalidField(KeyBitDepth, defaultBitDepth)
				c.BitDepth = defaultBitDepth
			}
		},
	},
	{
		Name:   KeyBuffers,
		Type:   typeUint,
		Update: func(c *Config, v string) { c.Buffers = parseUint(KeyBuffers, v, c) },
		Validate: func(c *Config) {
			if c.Buffers == 0 {
				c.LogInvalidField(KeyBuffers, defaultBuffers)
				c.Buffers = defaultBuffers
			}
		},
	},
	{
		Name:   KeyFrameRate,
		Type:   typeUint,
		Update: func(c *Config, v string) { c.FrameRate = parseUint(KeyFrameRate, v, c) },
		Validate: func(c *Config) {
			if c.FrameRate == 0 {
				c.LogInvalidField(KeyFrameRate, defaultFrameRate)
				c.FrameRate = defaultFrameRate
			}
		},
	},
	{
		// CaptureTimeout is given in milliseconds.
		Name: KeyCaptureTimeout,
		Type: typeUint,
		Update: func(c *Config, v string) {
			c.CaptureTimeout = time.Duration(parseUint(KeyCaptureTimeout, v, c)) * time.Millisecond
		},
		Validate: func(c *Config) {
			if c.CaptureTimeout <= 0 {
				c.LogInvalidField(KeyCaptureTimeout, defaultCaptureTimeout)
				c.CaptureTimeout = defaultCaptureTimeout
			}
		},
	},
	{
		Name:   KeySingleShot,
		Type:   typeBool,
		Update: func(c *Config, v string) { c.SingleShot = parseBool(KeySingleShot, v, c) },
	},
	{
		Name: KeyLogging,
		Type: "enum:Debug,Info,Warning,Error,Fatal",
		Update: func(c *Config, v string) {
			switch v {
			case "Debug":
				c.LogLevel = logging.Debug
			case "Info":
				c.LogLevel = logging.Info
			case "Warning":
				c.LogLevel = logging.Warning
			case "Error":
				c.LogLevel = logging.Error
			case "Fatal":
				c.LogLevel = logging.Fatal
			default:
				c.Logger.Warning("invalid Logging param", "value", v)
			}
		},
		Validate: func(c *Config) {
			switch c.LogLevel {
			case logging.Debug, logging.Info, logging.Warning, logging.Error, logging.Fatal:
			default:
				c.LogInvalidField("LogLevel", defaultVerbosity)
				c.LogLevel = defaultVerbosity
			}
		},
	},
	{
		Name:   KeySuppress,
		Type:   typeBool,
		Update: func(c *Config, v string) { c.Suppress = parseBool(KeySuppress, v, c) },
	},
}

func parseUint(n, v string, c *Config) uint {
	_v, err := strconv.ParseUint(v, 10, 64)
	if err != nil {
		c.Logger.Warning(fmt.Sprintf("expected unsigned int for param %s", n), "value", v)
	}
	return uint(_v)
}

func parseBool(n, v string, c *Config) (b bool) {
	switch strings.ToLower(v) {
	case "true":
		b = true
	case "false":
		b = false
	default:
		c.Logger.Warning(fmt.Sprintf("expect bool for param %s", n), "value", v)
	}
	return
}
