package session

import (
	"fmt"
	"os"
	"sync"
	"time"
)

// debugFile appends protocol trace lines to a file when a path is
// configured. Writes are best-effort: open or write failures disable the
// file silently, and lines from concurrent sessions may interleave.
type debugFile struct {
	mu   sync.Mutex
	path string
	f    *os.File
	dead bool
}

func newDebugFile(path string) *debugFile {
	return &debugFile{path: path}
}

func (d *debugFile) printf(format string, args ...any) {
	if d == nil || d.path == "" {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dead {
		return
	}
	if d.f == nil {
		f, err := os.OpenFile(d.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			d.dead = true
			return
		}
		d.f = f
	}
	line := fmt.Sprintf(format, args...)
	ts := time.Now().UTC().Format(time.RFC3339Nano)
	if _, err := fmt.Fprintf(d.f, "%s %s\n", ts, line); err != nil {
		d.f.Close()
		d.f = nil
		d.dead = true
	}
}

func (d *debugFile) close() {
	if d == nil {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.f != nil {
		d.f.Close()
		d.f = nil
	}
}
