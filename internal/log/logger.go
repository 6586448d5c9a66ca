// SPDX-License-Identifier: MIT

// Package log is the process-wide leveled logger. Lines look like
//
//	2026/10/18 09:12:03.123456 [WARN]  Analysis: ring overflow, 512 samples dropped
//
// Components prefix their messages with their own name. The level is held
// atomically so any goroutine may check it, but nothing on the audio
// callback logs.
package log

import (
	"fmt"
	"io"
	stdlog "log"
	"os"
	"strings"
	"sync/atomic"
	"time"
)

// LogLevel defines the severity of a log message.
type LogLevel uint32

const (
	LevelDebug LogLevel = iota
	LevelInfo
	LevelWarn
	LevelError
	LevelFatal
)

// Tags are padded so messages line up after the shorter names.
var levelTags = [...]string{
	LevelDebug: "[DEBUG]",
	LevelInfo:  "[INFO] ",
	LevelWarn:  "[WARN] ",
	LevelError: "[ERROR]",
	LevelFatal: "[FATAL]",
}

func (l LogLevel) String() string {
	if int(l) < len(levelTags) {
		return strings.Trim(levelTags[l], "[] ")
	}
	return "UNKNOWN"
}

// ParseLevel converts a case-insensitive name to a LogLevel. Unknown names
// give LevelInfo and false.
func ParseLevel(name string) (LogLevel, bool) {
	switch strings.ToUpper(strings.TrimSpace(name)) {
	case "DEBUG":
		return LevelDebug, true
	case "INFO":
		return LevelInfo, true
	case "WARN", "WARNING":
		return LevelWarn, true
	case "ERROR":
		return LevelError, true
	case "FATAL":
		return LevelFatal, true
	}
	return LevelInfo, false
}

var (
	currentLevel atomic.Uint32
	logger       = stdlog.New(os.Stderr, "", stdlog.Ldate|stdlog.Ltime|stdlog.Lmicroseconds)
)

func init() {
	SetLevel(LevelInfo)
}

func SetLevel(level LogLevel) { currentLevel.Store(uint32(level)) }
func GetLevel() LogLevel      { return LogLevel(currentLevel.Load()) }

// SetOutput redirects all log output, e.g. to io.Discard while the terminal
// monitor owns the screen.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

// Enabled reports whether a message at level would be written. Use it to
// skip building expensive arguments.
func Enabled(level LogLevel) bool {
	return level >= GetLevel()
}

func output(level LogLevel, format string, v []any) {
	if !Enabled(level) {
		return
	}
	logger.Print(levelTags[level] + " " + fmt.Sprintf(format, v...))
}

func Debugf(format string, v ...any) { output(LevelDebug, format, v) }
func Infof(format string, v ...any)  { output(LevelInfo, format, v) }
func Warnf(format string, v ...any)  { output(LevelWarn, format, v) }
func Errorf(format string, v ...any) { output(LevelError, format, v) }

// Fatalf logs regardless of level and exits with status 1.
func Fatalf(format string, v ...any) {
	logger.Fatal(levelTags[LevelFatal] + " " + fmt.Sprintf(format, v...))
}

// Limiter suppresses repeats of a message within an interval. The analysis
// goroutine uses one per condition (overflow, clipping) so a sustained fault
// produces one line every few seconds rather than one per hop.
type Limiter struct {
	interval time.Duration
	last     atomic.Int64
}

func NewLimiter(interval time.Duration) *Limiter {
	return &Limiter{interval: interval}
}

// Allow reports whether a message may be written now.
func (l *Limiter) Allow() bool {
	now := time.Now().UnixNano()
	last := l.last.Load()
	if last != 0 && now-last < int64(l.interval) {
		return false
	}
	return l.last.CompareAndSwap(last, now)
}
