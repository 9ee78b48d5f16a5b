package agent

import (
	"fmt"
	"strings"
	"testing"

	"github.com/shoenig/test/must"
)

func TestLogBuffer_PartialLines(t *testing.T) {
	b := newLogBuffer()

	b.Write([]byte("first half"))
	b.Write([]byte(" and second half\n[ERROR] boom\n"))

	windows := b.ErrorWindows(10, 1)
	must.Len(t, 1, windows)
	must.Eq(t, "first half and second half\n[ERROR] boom", windows[0])
}

func TestLogBuffer_ErrorWindows(t *testing.T) {
	b := newLogBuffer()
	for i := 0; i < 5; i++ {
		fmt.Fprintf(b, "[INFO] context %d\n[ERROR] failure %d\n", i, i)
	}

	windows := b.ErrorWindows(3, 1)
	must.Len(t, 3, windows)

	// newest errors win, returned oldest first
	must.StrContains(t, windows[0], "failure 2")
	must.StrContains(t, windows[2], "failure 4")
	must.StrContains(t, windows[2], "context 4")
}

func TestLogBuffer_CapBounded(t *testing.T) {
	b := newLogBuffer()
	for i := 0; i < logBufferCap+100; i++ {
		fmt.Fprintf(b, "line %d\n", i)
	}
	must.Len(t, logBufferCap, b.lines)
	must.True(t, strings.HasPrefix(b.lines[0], "line 100"))
}
