// Copyright (C) 2017 Librato, Inc. All rights reserved.

// Package log implements a leveled logging system. It checks the current log
// level and decides whether to print the logging texts or ignore them.
//
// Diagnostics go to stderr. Progress output meant for the operator is not
// written through this package.
package log

import (
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"go.uber.org/atomic"
)

// LogLevel is a type that defines the log level.
type LogLevel uint8

// log levels
const (
	DEBUG LogLevel = iota
	INFO
	WARNING
	ERROR
)

// EnvLogLevel is the environment variable holding the log level.
const EnvLogLevel = "DT_LOG_LEVEL"

// LevelStr represents the log levels in strings
var LevelStr = []string{
	DEBUG:   "DEBUG",
	INFO:    "INFO",
	WARNING: "WARN",
	ERROR:   "ERROR",
}

// DefaultLevel defines the default log level
const DefaultLevel = WARNING

var (
	globalLevel = atomic.NewUint32(uint32(DefaultLevel))
	logger      = log.New(os.Stderr, "", log.LstdFlags|log.Lmicroseconds)
)

func init() {
	SetLevelFromStr(os.Getenv(EnvLogLevel))
}

// SetOutput sets the output destination for the internal logger.
func SetOutput(w io.Writer) {
	logger.SetOutput(w)
}

// SetLevelFromStr parses the input string to a LogLevel and change the level of
// the global logger accordingly.
func SetLevelFromStr(s string) {
	level := DefaultLevel

	if l, valid := ToLogLevel(s); valid {
		level = l
	}

	SetLevel(level)
}

// ToLogLevel converts a string to a log level, or returns false for any error
func ToLogLevel(level string) (LogLevel, bool) {
	// Integers are accepted as well as names.
	if i, err := strconv.Atoi(strings.TrimSpace(level)); err == nil {
		if i >= 0 && i < len(LevelStr) {
			return LogLevel(i), true
		}
		return DefaultLevel, false
	}

	l, err := StrToLevel(strings.ToUpper(strings.TrimSpace(level)))
	if err != nil {
		return DefaultLevel, false
	}
	return l, true
}

// SetLevel sets the level of the global logger.
func SetLevel(level LogLevel) {
	globalLevel.Store(uint32(level))
}

// Level returns the current level of the global logger.
func Level() LogLevel {
	return LogLevel(globalLevel.Load())
}

// StrToLevel converts a log level in string format (e.g., "DEBUG") to the
// corresponding log level in LogLevel type. It returns the default level and
// an error for invalid log level strings.
func StrToLevel(e string) (LogLevel, error) {
	for idx, s := range LevelStr {
		if s == e {
			return LogLevel(idx), nil
		}
	}
	return DefaultLevel, errors.Errorf("invalid log level: %q", e)
}

func shouldLog(lv LogLevel) bool {
	return lv >= Level()
}

// logIt prints logs based on the debug level.
func logIt(level LogLevel, msg string, args []interface{}) {
	if !shouldLog(level) {
		return
	}

	// layer 1: logIt(), layer 2: its wrappers, e.g., Info()
	const numberOfLayersToSkip = 2

	var b strings.Builder
	if level == DEBUG {
		// the caller is only resolved for debug logs as it's expensive
		if _, file, line, ok := runtime.Caller(numberOfLayersToSkip); ok {
			fmt.Fprintf(&b, "%-5s [otlp] %s:%d ", LevelStr[level], filepath.Base(file), line)
		} else {
			fmt.Fprintf(&b, "%-5s [otlp] na:na ", LevelStr[level])
		}
	} else {
		fmt.Fprintf(&b, "%-5s [otlp] ", LevelStr[level])
	}

	if msg == "" {
		b.WriteString(fmt.Sprint(args...))
	} else {
		fmt.Fprintf(&b, msg, args...)
	}

	logger.Print(b.String())
}

// Logf formats the log message with specified args
// and print it in the specified level
func Logf(level LogLevel, msg string, args ...interface{}) {
	logIt(level, msg, args)
}

// Log prints the log message in the specified level
func Log(level LogLevel, args ...interface{}) {
	logIt(level, "", args)
}

// Debugf formats the log message with specified args
// and print it in the specified level
func Debugf(msg string, args ...interface{}) {
	logIt(DEBUG, msg, args)
}

// Debug prints the log message in the specified level
func Debug(args ...interface{}) {
	logIt(DEBUG, "", args)
}

// Infof formats the log message with specified args
// and print it in the specified level
func Infof(msg string, args ...interface{}) {
	logIt(INFO, msg, args)
}

// Info prints the log message in the specified level
func Info(args ...interface{}) {
	logIt(INFO, "", args)
}

// Warningf formats the log message with specified args
// and print it in the specified level
func Warningf(msg string, args ...interface{}) {
	logIt(WARNING, msg, args)
}

// Warning prints the log message in the specified level
func Warning(args ...interface{}) {
	logIt(WARNING, "", args)
}

// Errorf formats the log message with specified args
// and print it in the specified level
func Errorf(msg string, args ...interface{}) {
	logIt(ERROR, msg, args)
}

// Error prints the log message in the specified level
func Error(args ...interface{}) {
	logIt(ERROR, "", args)
}
