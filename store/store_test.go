package store

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/hupe1980/agentsquad/core"
	"github.com/hupe1980/agentsquad/group"
	"github.com/hupe1980/agentsquad/notify"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type specs []core.SessionSpec

func (s specs) Specs() []core.SessionSpec { return s }

func fixedNow() time.Time { return time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC) }

func newStore(t *testing.T, groups GroupSource, sessions SessionSource) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "state", "agentsquad.yaml")
	return New(path, groups, sessions, func(o *Options) {
		o.Delay = time.Hour
		o.Now = fixedNow
	})
}

func TestStore_SaveAndLoad(t *testing.T) {
	reg := group.NewRegistry()
	g, err := reg.Create("squad", group.ModeOrchestratorReflect, true)
	require.NoError(t, err)
	require.NoError(t, reg.AddMember(g.ID, group.Member{Session: "lead", Role: group.RoleOrchestrator}))
	require.NoError(t, reg.AddMember(g.ID, group.Member{Session: "alice", PreferredModel: "gpt-4o-mini"}))
	_, err = reg.StartReflection(g.ID, "ship the release")
	require.NoError(t, err)

	s := newStore(t, reg, specs{
		{Name: "lead", Model: "claude-sonnet", ResumeID: "h-1"},
		{Name: "alice", Model: "gpt-4o-mini", ResumeID: "h-2"},
	})
	require.NoError(t, s.Save())
	assert.Equal(t, 1, s.Saves())

	info, err := os.Stat(s.Path())
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o600), info.Mode().Perm())

	snap, err := Load(s.Path())
	require.NoError(t, err)
	assert.Equal(t, 1, snap.Version)
	assert.True(t, snap.SavedAt.Equal(fixedNow()))
	require.Len(t, snap.Groups, 1)
	assert.Equal(t, g.ID, snap.Groups[0].ID)
	assert.Len(t, snap.Groups[0].Members, 2)
	require.NotNil(t, snap.Groups[0].Reflection)
	assert.Equal(t, "ship the release", snap.Groups[0].Reflection.Goal)
	require.Len(t, snap.Sessions, 2)

	restored := group.NewRegistry()
	require.NoError(t, restored.Restore(snap.Groups))
	orch, ok := restored.Orchestrator(g.ID)
	require.True(t, ok)
	assert.Equal(t, "lead", orch.Session)
}

func TestStore_LoadMissingFile(t *testing.T) {
	snap, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Empty(t, snap.Groups)
	assert.Empty(t, snap.Sessions)
}

func TestStore_LoadRejectsNewerVersion(t *testing.T) {
	path := filepath.Join(t.TempDir(), "future.yaml")
	require.NoError(t, os.WriteFile(path, []byte("version: 7\n"), 0o600))

	_, err := Load(path)
	assert.ErrorIs(t, err, ErrUnsupportedVersion)
}

func TestStore_LoadRejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.yaml")
	require.NoError(t, os.WriteFile(path, []byte("groups: [unterminated"), 0o600))

	_, err := Load(path)
	assert.ErrorContains(t, err, "decode snapshot")
}

func TestStore_DebouncesStateChanges(t *testing.T) {
	bus := notify.NewBus()
	reg := group.NewRegistry(func(o *group.Options) { o.Bus = bus })
	s := newStore(t, reg, nil)
	defer s.Attach(bus)()

	g, err := reg.Create("pair", group.ModeBroadcast, false)
	require.NoError(t, err)
	require.NoError(t, reg.AddMember(g.ID, group.Member{Session: "a"}))
	require.NoError(t, reg.AddMember(g.ID, group.Member{Session: "b"}))

	assert.Equal(t, 0, s.Saves(), "non-critical changes wait for the debounce window")
	assert.True(t, s.Flush())
	assert.Equal(t, 1, s.Saves(), "a burst collapses into one write")
	assert.False(t, s.Flush())
}

func TestStore_CriticalChangeFlushesImmediately(t *testing.T) {
	bus := notify.NewBus()
	reg := group.NewRegistry(func(o *group.Options) { o.Bus = bus })
	s := newStore(t, reg, nil)
	defer s.Attach(bus)()

	_, err := reg.Create("squad", group.ModeOrchestrator, true)
	require.NoError(t, err)

	assert.Equal(t, 1, s.Saves())
	snap, err := Load(s.Path())
	require.NoError(t, err)
	require.Len(t, snap.Groups, 1)
	assert.True(t, snap.Groups[0].MultiAgent)
}

func TestStore_IgnoresOtherNotifications(t *testing.T) {
	s := newStore(t, nil, nil)
	s.Notify(notify.PhaseChanged{GroupID: "g", Phase: core.PhasePlanning})
	assert.False(t, s.Flush())
}

func TestStore_CloseFlushesPending(t *testing.T) {
	s := newStore(t, nil, specs{{Name: "solo", Model: "m"}})
	s.Notify(notify.StateChanged{Scope: notify.ScopeSession, ID: "solo"})

	require.NoError(t, s.Close())
	assert.Equal(t, 1, s.Saves())

	s.Notify(notify.StateChanged{Scope: notify.ScopeSession, ID: "solo"})
	assert.False(t, s.Flush(), "closed stores ignore changes")
}

func TestStore_WriteFailureIsReported(t *testing.T) {
	dir := t.TempDir()
	blocker := filepath.Join(dir, "file")
	require.NoError(t, os.WriteFile(blocker, nil, 0o600))

	s := New(filepath.Join(blocker, "snapshot.yaml"), nil, nil)
	assert.Error(t, s.Save())
	assert.Equal(t, 0, s.Saves())
}

func TestSnapshot_ResumeSpecs(t *testing.T) {
	snap := Snapshot{Sessions: []core.SessionSpec{
		{Name: "a", ResumeID: "h-1"},
		{Name: "b"},
	}}

	got := snap.ResumeSpecs()
	assert.True(t, got[0].Resume)
	assert.False(t, got[1].Resume)
}
