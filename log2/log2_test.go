package log2

import (
	"bytes"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLevel(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name   string
		level  Level
		expect string
	}{
		{"error", LError, "error: e1\n"},
		{"info", LInfo, "error: e1\ni1\n"},
		{"debug", LDebug, "error: e1\ni1\ndebug: d1\n"},
	}
	for _, c := range cases {
		c := c
		t.Run(c.name, func(t *testing.T) {
			t.Parallel()
			b := bytes.NewBuffer(nil)
			l := NewWriter(b, c.level)
			l.SetFlags(0)
			l.Errorf("e%d", 1)
			l.Infof("i%d", 1)
			l.Debugf("d%d", 1)
			assert.Equal(t, c.expect, b.String())
		})
	}
}

func TestNilSilent(t *testing.T) {
	t.Parallel()

	var l *Log
	assert.False(t, l.Enabled(LError))
	// must not panic
	l.Errorf("e")
	l.Infof("i")
	l.Debugf("d")
	l.SetLevel(LDebug)
	l.SetFlags(0)
}

func TestSetLevel(t *testing.T) {
	t.Parallel()

	b := bytes.NewBuffer(nil)
	l := NewWriter(b, LError)
	l.SetFlags(0)
	l.Infof("dropped")
	l.SetLevel(LInfo)
	l.Infof("kept")
	assert.Equal(t, "kept\n", b.String())
}

func TestFatalfWithoutHook(t *testing.T) {
	t.Parallel()

	// without a fatalf hook this would os.Exit, so only the hooked
	// variant is exercised
	called := false
	l := NewWriter(bytes.NewBuffer(nil), LDebug)
	l.fatalf = func(format string, args ...interface{}) {
		called = true
		assert.True(t, strings.Contains(fmt.Sprintf(format, args...), "boom"))
	}
	l.Fatalf("boom %d", 42)
	assert.True(t, called)
}
