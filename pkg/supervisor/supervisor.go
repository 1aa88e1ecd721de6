// Package supervisor implements the Lifecycle Supervisor: starts the
// indexer at host startup, holds the one outstanding cancellation token
// for the current run, and persists a best-effort status summary next to
// the vector store.
package supervisor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/gofrs/flock"
	"github.com/google/uuid"

	"github.com/toolrouter/toolrouter/pkg/config"
	"github.com/toolrouter/toolrouter/pkg/indexer"
	"github.com/toolrouter/toolrouter/pkg/logger"
)

const (
	statusFileName = "status.json"
	lockTimeout    = 1 * time.Second
	lockRetry      = 100 * time.Millisecond
)

// RunStatus is the on-disk shape of a run's status summary.
type RunStatus struct {
	RunID     string                 `json:"run_id"`
	Timestamp time.Time              `json:"timestamp"`
	Servers   []indexer.ServerResult `json:"servers"`
}

// Supervisor owns the indexer's lifecycle: exactly one outstanding
// cancellation token at a time, and the status file written after each run.
type Supervisor struct {
	cfg  *config.Config
	deps indexer.Deps

	mu         sync.Mutex
	cancel     context.CancelFunc
	running    bool
	lastStatus *RunStatus
}

// New builds a Supervisor over cfg and deps. deps is forwarded verbatim to
// the indexer on every run.
func New(cfg *config.Config, deps indexer.Deps) *Supervisor {
	return &Supervisor{cfg: cfg, deps: deps}
}

// Start launches a full indexing run in the background, signalling any
// previously outstanding run first.
func (s *Supervisor) Start(ctx context.Context) {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.mu.Unlock()

	go s.runFull(runCtx)
}

// Stop signals the current run, if any, and clears the token.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.running = false
}

// Restart signals the prior token, then starts a fresh run.
func (s *Supervisor) Restart(ctx context.Context) {
	s.Stop()
	s.Start(ctx)
}

// Status returns the last known run status and whether a run is currently
// in flight. If no run has completed in this process yet, it falls back to
// whatever status file is on disk.
func (s *Supervisor) Status() (*RunStatus, bool) {
	s.mu.Lock()
	status := s.lastStatus
	running := s.running
	s.mu.Unlock()

	if status != nil {
		return status, running
	}

	disk, err := s.readStatus()
	if err != nil {
		logger.Debugf("supervisor: no status file yet: %v", err)
		return nil, running
	}
	return disk, running
}

// RunPartial re-indexes a single server and merges its result into the
// existing status file rather than replacing the whole file.
func (s *Supervisor) RunPartial(ctx context.Context, serverName string) (indexer.ServerResult, error) {
	server, ok := s.findServer(serverName)
	if !ok {
		return indexer.ServerResult{}, fmt.Errorf("unknown server %q", serverName)
	}

	result := indexer.RunServer(ctx, s.cfg.Indexer, server, s.deps)

	status := RunStatus{
		RunID:     uuid.New().String(),
		Timestamp: time.Now(),
		Servers:   []indexer.ServerResult{result},
	}
	if err := s.mergeAndWriteStatus(status); err != nil {
		logger.Warnf("supervisor: failed to write status file after partial re-index of %s: %v", serverName, err)
	}

	s.mu.Lock()
	if s.lastStatus != nil {
		s.lastStatus.Servers = mergeServerResults(s.lastStatus.Servers, result)
		s.lastStatus.Timestamp = status.Timestamp
	}
	s.mu.Unlock()

	return result, nil
}

func (s *Supervisor) runFull(ctx context.Context) {
	status := s.RunOnce(ctx)

	s.mu.Lock()
	s.running = false
	s.lastStatus = &status
	s.mu.Unlock()
}

// RunOnce runs a full indexing pass synchronously and writes the resulting
// status file, without touching the supervisor's outstanding cancellation
// token. Used by the reindex CLI sub-command, which wants to block until
// the run completes.
func (s *Supervisor) RunOnce(ctx context.Context) RunStatus {
	result := indexer.Run(ctx, s.cfg, s.deps)
	status := RunStatus{
		RunID:     uuid.New().String(),
		Timestamp: time.Now(),
		Servers:   result.Servers,
	}
	if err := s.writeStatus(status); err != nil {
		logger.Warnf("supervisor: failed to write status file: %v", err)
	}
	return status
}

func (s *Supervisor) findServer(name string) (config.ServerConfig, bool) {
	for _, server := range s.cfg.Servers {
		if server.Name == name {
			return server, true
		}
	}
	return config.ServerConfig{}, false
}

func (s *Supervisor) statusFilePath() string {
	return filepath.Join(filepath.Dir(s.cfg.VectorDB.Path), statusFileName)
}

func (s *Supervisor) lockFilePath() string {
	return s.statusFilePath() + ".lock"
}

// writeStatus replaces the status file wholesale, guarded by a file lock so
// a concurrent partial-reindex merge cannot race it.
func (s *Supervisor) writeStatus(status RunStatus) error {
	return s.withFileLock(context.Background(), func() error {
		return s.writeStatusFile(status)
	})
}

// mergeAndWriteStatus merges status's single server entry into whatever
// status file is already on disk, guarded by the same file lock.
func (s *Supervisor) mergeAndWriteStatus(status RunStatus) error {
	return s.withFileLock(context.Background(), func() error {
		existing, err := s.readStatusFileLocked()
		if err != nil {
			return s.writeStatusFile(status)
		}

		merged := RunStatus{
			RunID:     status.RunID,
			Timestamp: status.Timestamp,
			Servers:   existing.Servers,
		}
		for _, server := range status.Servers {
			merged.Servers = mergeServerResults(merged.Servers, server)
		}
		return s.writeStatusFile(merged)
	})
}

func mergeServerResults(existing []indexer.ServerResult, update indexer.ServerResult) []indexer.ServerResult {
	for i, r := range existing {
		if r.Name == update.Name {
			existing[i] = update
			return existing
		}
	}
	return append(existing, update)
}

func (s *Supervisor) withFileLock(ctx context.Context, fn func() error) error {
	if err := os.MkdirAll(filepath.Dir(s.statusFilePath()), 0750); err != nil {
		return fmt.Errorf("failed to create status directory: %w", err)
	}

	fileLock := flock.New(s.lockFilePath())
	defer func() {
		if err := fileLock.Unlock(); err != nil {
			logger.Warnf("supervisor: failed to unlock status file: %v", err)
		}
	}()

	lockCtx, cancel := context.WithTimeout(ctx, lockTimeout)
	defer cancel()

	locked, err := fileLock.TryLockContext(lockCtx, lockRetry)
	if err != nil {
		return fmt.Errorf("failed to acquire status file lock: %w", err)
	}
	if !locked {
		return fmt.Errorf("could not acquire status file lock: timeout after %v", lockTimeout)
	}

	return fn()
}

func (s *Supervisor) writeStatusFile(status RunStatus) error {
	data, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal status file: %w", err)
	}
	if err := os.WriteFile(s.statusFilePath(), data, 0600); err != nil {
		return fmt.Errorf("failed to write status file: %w", err)
	}
	return nil
}

// readStatusFileLocked reads the status file without acquiring a lock; the
// caller must already hold one.
func (s *Supervisor) readStatusFileLocked() (*RunStatus, error) {
	data, err := os.ReadFile(s.statusFilePath())
	if err != nil {
		return nil, err
	}
	var status RunStatus
	if err := json.Unmarshal(data, &status); err != nil {
		return nil, fmt.Errorf("failed to unmarshal status file: %w", err)
	}
	return &status, nil
}

func (s *Supervisor) readStatus() (*RunStatus, error) {
	var status *RunStatus
	err := s.withFileLock(context.Background(), func() error {
		read, err := s.readStatusFileLocked()
		if err != nil {
			return err
		}
		status = read
		return nil
	})
	if err != nil {
		return nil, err
	}
	return status, nil
}
