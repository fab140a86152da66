package group

import (
	"testing"

	"github.com/hupe1980/agentsquad/core"
	"github.com/hupe1980/agentsquad/internal/testutil"
	"github.com/hupe1980/agentsquad/notify"
	"github.com/hupe1980/agentsquad/reflection"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSquad(t *testing.T, r *Registry) Group {
	t.Helper()
	g, err := r.Create("squad", ModeOrchestrator, true)
	require.NoError(t, err)
	require.NoError(t, r.AddMember(g.ID, Member{Session: "lead", Role: RoleOrchestrator}))
	require.NoError(t, r.AddMember(g.ID, Member{Session: "backend", Specialization: "Go services"}))
	require.NoError(t, r.AddMember(g.ID, Member{Session: "frontend", PreferredModel: "gpt-4o-mini"}))
	return g
}

func TestRegistry_CreateAndMembers(t *testing.T) {
	r := NewRegistry()
	g := newSquad(t, r)

	members, err := r.Members(g.ID)
	require.NoError(t, err)
	require.Len(t, members, 3)
	assert.Equal(t, "lead", members[0].Session)
	assert.Equal(t, RoleWorker, members[1].Role, "role defaults to worker")
	assert.Equal(t, g.ID, members[2].GroupID)

	orch, ok := r.Orchestrator(g.ID)
	require.True(t, ok)
	assert.Equal(t, "lead", orch.Session)

	workers := r.Workers(g.ID)
	assert.Len(t, workers, 2)

	got, ok := r.GroupOf("backend")
	require.True(t, ok)
	assert.Equal(t, g.ID, got.ID)
}

func TestRegistry_UnknownGroup(t *testing.T) {
	r := NewRegistry()

	_, err := r.Get("nope")
	assert.ErrorIs(t, err, core.ErrUnknownGroup)
	assert.ErrorIs(t, r.AddMember("nope", Member{Session: "s"}), core.ErrUnknownGroup)
	assert.ErrorIs(t, r.Delete("nope"), core.ErrUnknownGroup)

	_, err = r.Create("bad", Mode("round_robin"), false)
	assert.Error(t, err)
}

func TestRegistry_PromoteDemotesPreviousOrchestrator(t *testing.T) {
	r := NewRegistry()
	g := newSquad(t, r)

	require.NoError(t, r.SetRole("backend", RoleOrchestrator))

	orch, ok := r.Orchestrator(g.ID)
	require.True(t, ok)
	assert.Equal(t, "backend", orch.Session)

	lead, _ := r.Member("lead")
	assert.Equal(t, RoleWorker, lead.Role)

	count := 0
	members, _ := r.Members(g.ID)
	for _, m := range members {
		if m.Role == RoleOrchestrator {
			count++
		}
	}
	assert.Equal(t, 1, count)
}

func TestRegistry_AddOrchestratorDemotes(t *testing.T) {
	r := NewRegistry()
	g := newSquad(t, r)

	require.NoError(t, r.AddMember(g.ID, Member{Session: "new-lead", Role: RoleOrchestrator}))

	orch, _ := r.Orchestrator(g.ID)
	assert.Equal(t, "new-lead", orch.Session)
}

func TestRegistry_MemberMovesBetweenGroups(t *testing.T) {
	r := NewRegistry()
	a := newSquad(t, r)
	b, err := r.Create("other", ModeBroadcast, false)
	require.NoError(t, err)

	require.NoError(t, r.AddMember(b.ID, Member{Session: "backend"}))

	ga, _ := r.Get(a.ID)
	gb, _ := r.Get(b.ID)
	assert.Equal(t, []string{"lead", "frontend"}, ga.Members)
	assert.Equal(t, []string{"backend"}, gb.Members)

	require.NoError(t, r.RemoveMember("backend"))
	_, ok := r.GroupOf("backend")
	assert.False(t, ok)
	assert.ErrorIs(t, r.RemoveMember("backend"), ErrNotMember)
}

func TestRegistry_Setters(t *testing.T) {
	r := NewRegistry()
	g := newSquad(t, r)

	require.NoError(t, r.SetPreferredModel("backend", "claude-sonnet"))
	require.NoError(t, r.SetSystemPrompt("backend", "You are the backend engineer."))
	require.NoError(t, r.SetSpecialization("backend", "databases"))
	require.NoError(t, r.SetMode(g.ID, ModeSequential))
	require.NoError(t, r.SetContext(g.ID, "monorepo at ./app", "db work goes to backend"))

	m, _ := r.Member("backend")
	assert.Equal(t, "claude-sonnet", m.PreferredModel)
	assert.Equal(t, "You are the backend engineer.", m.SystemPrompt)
	assert.Equal(t, "databases", m.Specialization)

	got, _ := r.Get(g.ID)
	assert.Equal(t, ModeSequential, got.Mode)
	assert.Equal(t, "monorepo at ./app", got.SharedContext)
	assert.Equal(t, "db work goes to backend", got.RoutingContext)

	assert.Error(t, r.SetMode(g.ID, Mode("x")))
	assert.ErrorIs(t, r.SetPreferredModel("ghost", "m"), ErrNotMember)
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	r := NewRegistry()
	g := newSquad(t, r)

	got, _ := r.Get(g.ID)
	got.Members[0] = "mutated"

	again, _ := r.Get(g.ID)
	assert.Equal(t, "lead", again.Members[0])
}

func TestRegistry_PublishesCriticalForMultiAgent(t *testing.T) {
	bus := notify.NewBus()
	var changes []notify.StateChanged
	bus.SubscribeFunc(func(n notify.Notification) {
		changes = append(changes, n.(notify.StateChanged))
	}, notify.KindStateChanged)

	r := NewRegistry(func(o *Options) { o.Bus = bus })
	_, err := r.Create("solo", ModeBroadcast, false)
	require.NoError(t, err)
	_, err = r.Create("team", ModeOrchestrator, true)
	require.NoError(t, err)

	require.Len(t, changes, 2)
	assert.False(t, changes[0].Critical)
	assert.True(t, changes[1].Critical)
	assert.Equal(t, notify.ScopeGroup, changes[1].Scope)
}

func TestRegistry_CreateWithMembersPublishesCompleteGroup(t *testing.T) {
	bus := notify.NewBus()
	r := NewRegistry(func(o *Options) { o.Bus = bus })

	var (
		changes []notify.StateChanged
		seen    [][]Member
	)
	bus.SubscribeFunc(func(n notify.Notification) {
		c := n.(notify.StateChanged)
		changes = append(changes, c)
		members, err := r.Members(c.ID)
		require.NoError(t, err)
		seen = append(seen, members)
	}, notify.KindStateChanged)

	g, err := r.CreateWithMembers("team", ModeOrchestrator, "monorepo", "api work goes to backend", []Member{
		{Session: "lead", Role: RoleOrchestrator},
		{Session: "backend"},
	})
	require.NoError(t, err)
	assert.True(t, g.MultiAgent)
	assert.Equal(t, []string{"lead", "backend"}, g.Members)
	assert.Equal(t, "monorepo", g.SharedContext)
	assert.Equal(t, "api work goes to backend", g.RoutingContext)

	require.Len(t, changes, 1)
	assert.True(t, changes[0].Critical)
	require.Len(t, seen[0], 2)
	assert.Equal(t, RoleWorker, seen[0][1].Role)

	orch, ok := r.Orchestrator(g.ID)
	require.True(t, ok)
	assert.Equal(t, "lead", orch.Session)
}

func TestRegistry_CreateWithMembersRejectsInvalidMember(t *testing.T) {
	r := NewRegistry()

	_, err := r.CreateWithMembers("team", ModeBroadcast, "", "", []Member{{Session: "a"}, {}})
	assert.ErrorContains(t, err, "member session is required")
	assert.Empty(t, r.List())

	_, ok := r.Member("a")
	assert.False(t, ok)
}

func TestRegistry_StartReflection(t *testing.T) {
	r := NewRegistry()
	g := newSquad(t, r)

	cycle, err := r.StartReflection(g.ID, "make the tests pass", func(o *reflection.Options) {
		o.Config.MaxIterations = 3
		o.EvaluatorModel = "gpt-4o"
	})
	require.NoError(t, err)
	assert.Same(t, cycle, r.Reflection(g.ID))

	got, _ := r.Get(g.ID)
	assert.Equal(t, ModeOrchestratorReflect, got.Mode)
	assert.Equal(t, 3, cycle.Snapshot().MaxIterations)

	_, err = r.StartReflection("missing", "goal")
	assert.ErrorIs(t, err, core.ErrUnknownGroup)
}

func TestRegistry_SnapshotRestore(t *testing.T) {
	clock := testutil.NewClock()
	r := NewRegistry(func(o *Options) { o.Now = clock.Now })
	g := newSquad(t, r)
	require.NoError(t, r.SetContext(g.ID, "shared", "routing"))
	_, err := r.StartReflection(g.ID, "goal")
	require.NoError(t, err)

	snap := r.Snapshot()
	require.Len(t, snap, 1)
	require.NotNil(t, snap[0].Reflection)

	restored := NewRegistry()
	require.NoError(t, restored.Restore(snap))

	got, err := restored.Get(g.ID)
	require.NoError(t, err)
	assert.Equal(t, "squad", got.Name)
	assert.Equal(t, ModeOrchestratorReflect, got.Mode)
	assert.Equal(t, "shared", got.SharedContext)
	assert.Equal(t, []string{"lead", "backend", "frontend"}, got.Members)
	require.NotNil(t, got.Reflection)
	assert.Equal(t, "goal", got.Reflection.Goal())

	orch, ok := restored.Orchestrator(g.ID)
	require.True(t, ok)
	assert.Equal(t, "lead", orch.Session)

	assert.Error(t, restored.Restore([]State{{Name: "no-id", Mode: ModeBroadcast}}))
}

func TestRegistry_Delete(t *testing.T) {
	r := NewRegistry()
	g := newSquad(t, r)

	require.NoError(t, r.Delete(g.ID))
	assert.Empty(t, r.List())
	_, ok := r.Member("lead")
	assert.False(t, ok)
}
