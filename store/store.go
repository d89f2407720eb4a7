// Package store persists the session-key → workflow-ID mapping across host
// restarts. The mapping lives in a JSON file under the user data directory.
// Every failure mode — missing file, corrupt JSON, unwritable directory,
// contended lock — downgrades to an empty or unpersisted mapping; a broken
// disk never blocks a session.
package store

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
	"github.com/gofrs/flock"

	"github.com/duoflow/bridge/telemetry"
)

// lockTimeout bounds the wait for the write lock.
const lockTimeout = time.Second

type (
	// Store is a file-backed session-key → workflow-ID mapping. Reads
	// tolerate concurrent writers; writers serialize on a lock file.
	Store struct {
		path string
		log  telemetry.Logger
	}

	// Option configures a Store.
	Option func(*Store)
)

// WithLogger overrides the logger.
func WithLogger(l telemetry.Logger) Option {
	return func(s *Store) {
		s.log = l
	}
}

// DefaultPath resolves the mapping file under the XDG data directory.
func DefaultPath() string {
	path, err := xdg.DataFile("duoflow/workflows.json")
	if err != nil {
		return filepath.Join(os.TempDir(), "duoflow", "workflows.json")
	}
	return path
}

// New constructs a Store at path. An empty path resolves to DefaultPath.
func New(path string, opts ...Option) *Store {
	if path == "" {
		path = DefaultPath()
	}
	s := &Store{
		path: path,
		log:  telemetry.NewLogger(),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

// Path returns the mapping file location.
func (s *Store) Path() string { return s.path }

// Lookup returns the workflow ID recorded for the session key.
func (s *Store) Lookup(ctx context.Context, key string) (string, bool) {
	id, ok := s.load(ctx)[key]
	return id, ok && id != ""
}

// Record associates the session key with a workflow ID. Best-effort: write
// failures are logged and swallowed.
func (s *Store) Record(ctx context.Context, key, workflowID string) {
	s.update(ctx, func(m map[string]string) {
		m[key] = workflowID
	})
}

// Forget drops the session key. Best-effort.
func (s *Store) Forget(ctx context.Context, key string) {
	s.update(ctx, func(m map[string]string) {
		delete(m, key)
	})
}

// load reads the mapping, treating every failure as an empty map.
func (s *Store) load(ctx context.Context) map[string]string {
	data, err := os.ReadFile(s.path)
	if err != nil {
		return map[string]string{}
	}
	var m map[string]string
	if err := json.Unmarshal(data, &m); err != nil || m == nil {
		s.log.Warn(ctx, "workflow store unreadable, starting empty", "path", s.path)
		return map[string]string{}
	}
	return m
}

// update applies fn under the write lock and persists the result through a
// temp-file rename.
func (s *Store) update(ctx context.Context, fn func(map[string]string)) {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		s.log.Warn(ctx, "workflow store directory unavailable, skipping write", "path", s.path, "error", err.Error())
		return
	}

	fileLock := flock.New(s.path + ".lock")
	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()
	locked, err := fileLock.TryLockContext(lockCtx, 100*time.Millisecond)
	if err != nil || !locked {
		s.log.Warn(ctx, "workflow store lock unavailable, skipping write", "path", s.path)
		return
	}
	defer func() { _ = fileLock.Unlock() }()

	m := s.load(ctx)
	fn(m)

	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o600); err != nil {
		s.log.Warn(ctx, "workflow store write failed", "path", s.path, "error", err.Error())
		return
	}
	if err := os.Rename(tmp, s.path); err != nil {
		s.log.Warn(ctx, "workflow store rename failed", "path", s.path, "error", err.Error())
	}
}
