// Package store persists group organisation and resumable session specs as
// a YAML snapshot. Writes are debounced off the notification bus; critical
// state changes are flushed immediately.
package store

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/hupe1980/agentsquad/core"
	"github.com/hupe1980/agentsquad/group"
	"github.com/hupe1980/agentsquad/internal/debounce"
	"github.com/hupe1980/agentsquad/logging"
	"github.com/hupe1980/agentsquad/notify"
)

const (
	snapshotVersion = 1
	fileMode        = 0o600
	dirMode         = 0o700
	tempFilePattern = ".agentsquad-*.yaml.tmp"
)

// ErrUnsupportedVersion is returned by Load for snapshots written by a
// newer format.
var ErrUnsupportedVersion = errors.New("unsupported snapshot version")

// Snapshot is the on-disk document.
type Snapshot struct {
	Version  int                `yaml:"version"`
	SavedAt  time.Time          `yaml:"saved_at"`
	Groups   []group.State      `yaml:"groups"`
	Sessions []core.SessionSpec `yaml:"sessions"`
}

// GroupSource yields persistable group state.
type GroupSource interface {
	Snapshot() []group.State
}

// SessionSource yields resumable session specs.
type SessionSource interface {
	Specs() []core.SessionSpec
}

// Options configures a Store.
type Options struct {
	Logger logging.Logger
	// Delay is the debounce window for non-critical changes.
	Delay time.Duration
	Now   func() time.Time
}

// DefaultConfig holds the default store options.
var DefaultConfig = Options{
	Logger: logging.NoOpLogger{},
	Delay:  500 * time.Millisecond,
	Now:    time.Now,
}

// Store writes snapshots of a group registry and session manager to path.
type Store struct {
	path     string
	groups   GroupSource
	sessions SessionSource
	logger   logging.Logger
	now      func() time.Time
	debounce *debounce.Debouncer

	mu      sync.Mutex // serializes writes
	saves   int
	lastErr error
}

// New creates a Store. Either source may be nil.
func New(path string, groups GroupSource, sessions SessionSource, optFns ...func(o *Options)) *Store {
	opts := DefaultConfig
	for _, fn := range optFns {
		fn(&opts)
	}
	if opts.Logger == nil {
		opts.Logger = logging.NoOpLogger{}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}

	return &Store{
		path:     filepath.Clean(path),
		groups:   groups,
		sessions: sessions,
		logger:   opts.Logger,
		now:      opts.Now,
		debounce: debounce.New(opts.Delay),
	}
}

// Path returns the snapshot file path.
func (s *Store) Path() string { return s.path }

// Attach subscribes the store to state changes on bus.
func (s *Store) Attach(bus *notify.Bus) func() {
	return bus.Subscribe(s, notify.KindStateChanged)
}

// Notify implements notify.Listener.
func (s *Store) Notify(n notify.Notification) {
	sc, ok := n.(notify.StateChanged)
	if !ok {
		return
	}
	if sc.Critical {
		s.debounce.Schedule(func() { s.save("critical " + string(sc.Scope) + " change") })
		s.debounce.Flush()
		return
	}
	s.debounce.Schedule(func() { s.save("debounced") })
}

// Flush writes a pending debounced snapshot now. It reports whether one
// was pending.
func (s *Store) Flush() bool { return s.debounce.Flush() }

// Close flushes any pending snapshot and stops debouncing.
func (s *Store) Close() error {
	s.debounce.Flush()
	s.debounce.Stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastErr
}

// Saves returns how many snapshots were written successfully.
func (s *Store) Saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saves
}

// Save writes a snapshot immediately.
func (s *Store) Save() error {
	snap := Snapshot{Version: snapshotVersion, SavedAt: s.now().UTC()}
	if s.groups != nil {
		snap.Groups = s.groups.Snapshot()
	}
	if s.sessions != nil {
		snap.Sessions = s.sessions.Specs()
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if err := write(s.path, snap); err != nil {
		s.lastErr = err
		return err
	}
	s.saves++
	s.lastErr = nil
	return nil
}

func (s *Store) save(reason string) {
	if err := s.Save(); err != nil {
		s.logger.Error("snapshot write failed", "path", s.path, "reason", reason, "error", err)
		return
	}
	s.logger.Debug("snapshot written", "path", s.path, "reason", reason)
}

// Load reads the snapshot at path. A missing file yields an empty snapshot.
func Load(path string) (Snapshot, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Snapshot{Version: snapshotVersion}, nil
		}
		return Snapshot{}, fmt.Errorf("read snapshot: %w", err)
	}

	var snap Snapshot
	if err := yaml.Unmarshal(data, &snap); err != nil {
		return Snapshot{}, fmt.Errorf("decode snapshot: %w", err)
	}
	if snap.Version > snapshotVersion {
		return Snapshot{}, fmt.Errorf("%w: %d", ErrUnsupportedVersion, snap.Version)
	}
	return snap, nil
}

// ResumeSpecs returns the snapshot's sessions marked for resumption.
func (s Snapshot) ResumeSpecs() []core.SessionSpec {
	specs := make([]core.SessionSpec, 0, len(s.Sessions))
	for _, spec := range s.Sessions {
		spec.Resume = spec.ResumeID != ""
		specs = append(specs, spec)
	}
	return specs
}

func write(path string, snap Snapshot) error {
	if err := os.MkdirAll(filepath.Dir(path), dirMode); err != nil {
		return fmt.Errorf("create snapshot directory: %w", err)
	}

	data, err := yaml.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(path), tempFilePattern)
	if err != nil {
		return fmt.Errorf("create temp snapshot: %w", err)
	}
	tmpName := tmp.Name()
	cleanup := true
	defer func() {
		if cleanup {
			_ = os.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("write temp snapshot: %w", err)
	}
	if err := tmp.Chmod(fileMode); err != nil {
		_ = tmp.Close()
		return fmt.Errorf("chmod temp snapshot: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp snapshot: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("replace snapshot: %w", err)
	}
	cleanup = false
	return nil
}
