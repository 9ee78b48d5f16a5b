package agent

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	hclog "github.com/hashicorp/go-hclog"
)

const (
	interactionLogName = "agent_interactions.log"

	// interactionLogMaxSize triggers rotation of the active file.
	interactionLogMaxSize = 5 * 1024 * 1024

	// interactionLogMaxBackups bounds the .1 .. .N rotated files.
	interactionLogMaxBackups = 10

	interactionRequestSep  = "----------\n"
	interactionResponseSep = "==========\n\n"
)

// InteractionLog captures one record per proxied REQUEST and RESPONSE
// in a rotating text file. When the active file reaches 5 MiB it is
// renamed to .1 and prior backups shift .N -> .N+1, dropping the
// oldest once ten backups exist.
type InteractionLog struct {
	mu     sync.Mutex
	dir    string
	logger hclog.Logger

	// now is a seam for timestamp tests.
	now func() time.Time
}

func NewInteractionLog(dir string, logger hclog.Logger) (*InteractionLog, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log dir: %w", err)
	}
	return &InteractionLog{
		dir:    dir,
		logger: logger.Named("interactions"),
		now:    time.Now,
	}, nil
}

// Request records the raw body of an inbound request.
func (l *InteractionLog) Request(content []byte) {
	l.write("REQUEST", string(content), interactionRequestSep)
}

// Response records an upstream response, buffered or accumulated from
// a stream.
func (l *InteractionLog) Response(content string) {
	l.write("RESPONSE", content, interactionResponseSep)
}

func (l *InteractionLog) write(kind, content, sep string) {
	l.mu.Lock()
	defer l.mu.Unlock()

	path := filepath.Join(l.dir, interactionLogName)
	if info, err := os.Stat(path); err == nil && info.Size() >= interactionLogMaxSize {
		l.rotate(path)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		l.logger.Error("failed to open interaction log", "error", err)
		return
	}
	defer f.Close()

	ts := l.now().Format("2006-01-02 15:04:05")
	fmt.Fprintf(f, "[%s] %s\n%s\n%s", ts, kind, content, sep)
}

// rotate shifts backups up by one slot and moves the active file into
// slot 1. Must be called with the lock held.
func (l *InteractionLog) rotate(path string) {
	oldest := fmt.Sprintf("%s.%d", path, interactionLogMaxBackups)
	if _, err := os.Stat(oldest); err == nil {
		if err := os.Remove(oldest); err != nil {
			l.logger.Error("failed to drop oldest interaction log", "file", oldest, "error", err)
		}
	}
	for i := interactionLogMaxBackups - 1; i >= 1; i-- {
		old := fmt.Sprintf("%s.%d", path, i)
		if _, err := os.Stat(old); err != nil {
			continue
		}
		if err := os.Rename(old, fmt.Sprintf("%s.%d", path, i+1)); err != nil {
			l.logger.Error("failed to shift interaction log", "file", old, "error", err)
		}
	}
	if err := os.Rename(path, path+".1"); err != nil {
		l.logger.Error("failed to rotate interaction log", "error", err)
	}
}
