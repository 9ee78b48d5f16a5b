package agent

import (
	"bytes"
	"strings"
	"sync"
)

// logBufferCap bounds how many recent log lines are retained for the
// error log endpoint.
const logBufferCap = 2048

// logBuffer is an io.Writer that keeps the most recent agent log lines
// in memory. It sits behind the hclog output (alongside stderr) and
// feeds GET /api/error_logs.
type logBuffer struct {
	mu      sync.Mutex
	lines   []string
	partial bytes.Buffer
}

func newLogBuffer() *logBuffer {
	return &logBuffer{}
}

// Write never returns an error; log capture must not break logging.
func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.partial.Write(p)
	for {
		data := b.partial.Bytes()
		idx := bytes.IndexByte(data, '\n')
		if idx < 0 {
			break
		}
		b.appendLine(string(data[:idx]))
		b.partial.Next(idx + 1)
	}
	return len(p), nil
}

func (b *logBuffer) appendLine(line string) {
	b.lines = append(b.lines, line)
	if len(b.lines) > logBufferCap {
		b.lines = b.lines[len(b.lines)-logBufferCap:]
	}
}

// ErrorWindows scans backward for error-level lines and returns up to
// max windows, each the error line with up to context preceding lines.
// Windows are returned in chronological order.
func (b *logBuffer) ErrorWindows(max, context int) []string {
	b.mu.Lock()
	defer b.mu.Unlock()

	windows := []string{}
	for i := len(b.lines) - 1; i >= 0 && len(windows) < max; i-- {
		if !strings.Contains(b.lines[i], "[ERROR]") {
			continue
		}
		start := i - context
		if start < 0 {
			start = 0
		}
		windows = append(windows, strings.Join(b.lines[start:i+1], "\n"))
	}

	// reverse into oldest-first order
	for i, j := 0, len(windows)-1; i < j; i, j = i+1, j-1 {
		windows[i], windows[j] = windows[j], windows[i]
	}
	return windows
}
