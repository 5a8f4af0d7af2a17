// Package log2 is a thin leveled wrapper around stdlib log.
// Nil *Log is valid and silent, so library code never checks for a logger.
// NewTest routes output through t.Logf which is safe with parallel tests.
package log2

import (
	"fmt"
	"io"
	"log"
	"os"
	"sync/atomic"
	"testing"
)

type Level int32

const (
	LError Level = iota
	LInfo
	LDebug
)

const (
	LStdFlags  int = log.Ltime | log.Lshortfile
	LTestFlags int = log.Lshortfile | log.Lmicroseconds
)

type Log struct {
	l      *log.Logger
	level  int32
	fatalf func(format string, args ...interface{})
}

func NewWriter(w io.Writer, level Level) *Log {
	if w == io.Discard {
		return nil
	}
	return &Log{
		l:     log.New(w, "", LStdFlags),
		level: int32(level),
	}
}

func NewStderr(level Level) *Log { return NewWriter(os.Stderr, level) }

type funcWriter func(format string, args ...interface{})

func (f funcWriter) Write(b []byte) (int, error) {
	f(string(b))
	return len(b), nil
}

func NewTest(t testing.TB, level Level) *Log {
	l := NewWriter(funcWriter(t.Logf), level)
	l.l.SetFlags(LTestFlags)
	l.fatalf = t.Fatalf
	return l
}

func (l *Log) SetLevel(level Level) {
	if l == nil {
		return
	}
	atomic.StoreInt32(&l.level, int32(level))
}

func (l *Log) SetFlags(f int) {
	if l == nil {
		return
	}
	l.l.SetFlags(f)
}

func (l *Log) Enabled(level Level) bool {
	if l == nil {
		return false
	}
	return atomic.LoadInt32(&l.level) >= int32(level)
}

func (l *Log) Logf(level Level, format string, args ...interface{}) {
	if l.Enabled(level) {
		_ = l.l.Output(3, fmt.Sprintf(format, args...))
	}
}

func (l *Log) Error(args ...interface{}) { l.Logf(LError, "error: "+fmt.Sprint(args...)) }
func (l *Log) Errorf(format string, args ...interface{}) {
	l.Logf(LError, "error: "+format, args...)
}
func (l *Log) Infof(format string, args ...interface{})  { l.Logf(LInfo, format, args...) }
func (l *Log) Debugf(format string, args ...interface{}) { l.Logf(LDebug, "debug: "+format, args...) }

func (l *Log) Fatalf(format string, args ...interface{}) {
	if l != nil && l.fatalf != nil {
		l.fatalf(format, args...)
		return
	}
	l.Logf(LError, "fatal: "+format, args...)
	os.Exit(1)
}

func (l *Log) Fatal(args ...interface{}) { l.Fatalf(fmt.Sprint(args...)) }
