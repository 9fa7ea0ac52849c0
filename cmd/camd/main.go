/*
DESCRIPTION
  camd runs a capture session over a camera device driver, hot-reloading its
  configuration from a JSON variables file and logging frame statistics.

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

// Package camd is a capture daemon for the capture package.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/ausocean/cam/capture"
	"github.com/ausocean/cam/capture/config"
	"github.com/ausocean/cam/driver/simdriver"
	"github.com/ausocean/utils/logging"
	"github.com/fsnotify/fsnotify"
)

// Current software version.
const version = "v0.1.0"

// Logging configuration.
const (
	logPath      = "/var/log/camd/camd.log"
	logMaxSize   = 500 // MB
	logMaxBackup = 10
	logMaxAge    = 28 // days
	logVerbosity = logging.Info
	logSuppress  = true
)

// Misc constants.
const (
	pkg            = "camd: "
	statsPeriod    = 30 * time.Second
	reloadDebounce = 500 * time.Millisecond
)

func main() {
	showVersion := flag.Bool("version", false, "show version")
	varsPath := flag.String("vars", "", "path to JSON capture variables file, watched for changes")
	flag.Parse()
	if *showVersion {
		fmt.Println(version)
		os.Exit(0)
	}

	// Create lumberjack logger to handle logging to file.
	fileLog := &lumberjack.Logger{
		Filename:   logPath,
		MaxSize:    logMaxSize,
		MaxBackups: logMaxBackup,
		MaxAge:     logMaxAge,
	}
	log := logging.New(logVerbosity, io.MultiWriter(fileLog, os.Stderr), logSuppress)

	log.Info("starting camd", "version", version)

	drv := simdriver.New(log)
	s, err := capture.New(config.Config{Logger: log}, drv)
	if err != nil {
		log.Fatal(pkg+"could not create capture session", "error", err.Error())
	}

	if *varsPath != "" {
		vars, err := loadVars(*varsPath)
		if err != nil {
			log.Fatal(pkg+"could not load capture variables", "error", err.Error())
		}
		err = s.Update(vars)
		if err != nil {
			log.Fatal(pkg+"could not apply capture variables", "error", err.Error())
		}
	}

	err = s.Start(true)
	if err != nil {
		log.Fatal(pkg+"could not start capture", "error", err.Error())
	}
	log.Info("capture started", "id", s.ID())

	run(s, *varsPath, log)

	err = s.Close()
	if err != nil {
		log.Error(pkg+"could not close session", "error", err.Error())
	}
	log.Info("camd stopped")
}

// run watches the variables file and logs capture statistics until the
// process is interrupted.
func run(s *capture.Session, varsPath string, l logging.Logger) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)

	var reload <-chan fsnotify.Event
	if varsPath != "" {
		w, err := fsnotify.NewWatcher()
		if err != nil {
			l.Fatal(pkg+"could not create file watcher", "error", err.Error())
		}
		defer w.Close()
		err = w.Add(varsPath)
		if err != nil {
			l.Fatal(pkg+"could not watch variables file", "error", err.Error())
		}
		reload = w.Events
		go func() {
			for err := range w.Errors {
				l.Warning(pkg+"file watcher error", "error", err.Error())
			}
		}()
	}

	stats := time.NewTicker(statsPeriod)
	defer stats.Stop()

	for {
		select {
		case <-sig:
			l.Info("interrupt received, stopping")
			return

		case ev := <-reload:
			if ev.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			// Editors often fire several events per save.
			time.Sleep(reloadDebounce)
			l.Info("variables file changed, reconfiguring", "file", ev.Name)

			vars, err := loadVars(varsPath)
			if err != nil {
				l.Error(pkg+"could not reload capture variables", "error", err.Error())
				continue
			}
			err = s.Update(vars)
			if err != nil {
				l.Error(pkg+"could not apply capture variables", "error", err.Error())
				continue
			}
			err = s.Start(true)
			if err != nil {
				l.Error(pkg+"could not restart capture", "error", err.Error())
			}

		case <-stats.C:
			current, last := s.CurrentAndLast()
			l.Info("capture stats", "bitrate", s.Bitrate(), "current", int(current), "last", int(last))
		}
	}
}

// loadVars reads capture variables from a JSON file of name to string value.
func loadVars(path string) (map[string]string, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("could not read variables file: %w", err)
	}
	var vars map[string]string
	err = json.Unmarshal(b, &vars)
	if err != nil {
		return nil, fmt.Errorf("could not parse variables file: %w", err)
	}
	return vars, nil
}
