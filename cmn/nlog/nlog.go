// Package nlog is a small leveled logger shared by every LTA worker binary.
/*
 * Copyright (c) 2024, The IceCube Collaboration.
 */
package nlog

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/teris-io/shortid"
)

type Level int32

const (
	LevelError Level = iota
	LevelWarning
	LevelInfo
	LevelDebug
)

func ParseLevel(s string) Level {
	switch s {
	case "ERROR":
		return LevelError
	case "WARNING":
		return LevelWarning
	case "DEBUG":
		return LevelDebug
	default:
		return LevelInfo
	}
}

var (
	mu     sync.Mutex
	out    io.Writer = os.Stderr
	level            = LevelInfo
	prefix           = "lta"
)

// SetLevel adjusts the package-wide verbosity gate, normally called once
// at start-up from LOG_LEVEL.
func SetLevel(l Level) {
	mu.Lock()
	level = l
	mu.Unlock()
}

// SetPrefix names this replica in every subsequent log line, e.g.
// "picker-3fae...".
func SetPrefix(p string) {
	mu.Lock()
	prefix = p
	mu.Unlock()
}

// SetOutput redirects logging, used by tests.
func SetOutput(w io.Writer) {
	mu.Lock()
	out = w
	mu.Unlock()
}

// V reports whether debug-level logging is enabled, letting hot loops
// (per-file manifest writes, per-page fetches) skip formatting work.
func V(_ int) bool {
	mu.Lock()
	defer mu.Unlock()
	return level >= LevelDebug
}

func write(l Level, tag, s string) {
	mu.Lock()
	defer mu.Unlock()
	if l > level {
		return
	}
	fmt.Fprintf(out, "[%s] %s %s %s\n", prefix, time.Now().UTC().Format(time.RFC3339Nano), tag, s)
}

func Infoln(v ...any)                 { write(LevelInfo, "I", fmt.Sprintln(v...)) }
func Infof(f string, v ...any)        { write(LevelInfo, "I", fmt.Sprintf(f, v...)) }
func Warningln(v ...any)              { write(LevelWarning, "W", fmt.Sprintln(v...)) }
func Warningf(f string, v ...any)     { write(LevelWarning, "W", fmt.Sprintf(f, v...)) }
func Errorln(v ...any)                { write(LevelError, "E", fmt.Sprintln(v...)) }
func Errorf(f string, v ...any)       { write(LevelError, "E", fmt.Sprintf(f, v...)) }
func Debugln(v ...any)                { write(LevelDebug, "D", fmt.Sprintln(v...)) }
func Debugf(f string, v ...any)       { write(LevelDebug, "D", fmt.Sprintf(f, v...)) }

// CorrelationID returns a short id to tag the log lines of a single
// claim-process-update work cycle so they can be grepped together.
func CorrelationID() string {
	id, err := shortid.Generate()
	if err != nil {
		return "----"
	}
	return id
}
