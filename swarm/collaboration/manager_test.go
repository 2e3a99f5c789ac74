package collaboration

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/store"
	"github.com/BaSui01/swarmflow/swarm/directory"
	"github.com/BaSui01/swarmflow/types"
)

const testOwner = "owner-1"

func newTestManager(t *testing.T, agentIDs ...string) (*Manager, store.Store) {
	t.Helper()
	st := store.NewMemory()
	for _, id := range agentIDs {
		require.NoError(t, st.Agents().Create(context.Background(), &types.Agent{
			ID: id, OwnerID: testOwner, Status: types.AgentIdle, Reputation: 100,
		}))
	}
	dir := directory.New(directory.Config{Store: st, Logger: zap.NewNop()})
	m := NewManager(Config{Store: st, Directory: dir, Logger: zap.NewNop()})
	return m, st
}

func TestCreate_Validation(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, "a-1", "a-2")

	_, err := m.Create(ctx, testOwner, []string{"a-1", "a-2"}, "t", "freestyle", 2)
	assert.Equal(t, types.ErrInvalidArgument, types.CodeOf(err))

	_, err = m.Create(ctx, testOwner, []string{"a-1", "a-2"}, "t", types.ModeSequential, 0)
	assert.Equal(t, types.ErrInvalidArgument, types.CodeOf(err))

	// Two entries but not distinct.
	_, err = m.Create(ctx, testOwner, []string{"a-1", "a-1"}, "t", types.ModeSequential, 2)
	assert.Equal(t, types.ErrInvalidArgument, types.CodeOf(err))

	_, err = m.Create(ctx, testOwner, []string{"a-1", "a-ghost"}, "t", types.ModeSequential, 2)
	assert.Equal(t, types.ErrNotFound, types.CodeOf(err))
}

func TestCreate_InitialState(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, "a-1", "a-2")

	c, err := m.Create(ctx, testOwner, []string{"a-1", "a-2"}, "draft a reply", types.ModeRoundRobin, 3)
	require.NoError(t, err)

	assert.Equal(t, types.CollaborationActive, c.Status)
	assert.Equal(t, 0, c.CurrentRound)
	assert.Equal(t, 0, c.TurnIndex)
	assert.Empty(t, c.Contributions)

	next, err := m.GetNextAgent(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, "a-1", next)
}

func TestAddContribution_TurnAndRoundAdvance(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, "a-1", "a-2", "a-3")

	c, err := m.Create(ctx, testOwner, []string{"a-1", "a-2", "a-3"}, "t", types.ModeSequential, 5)
	require.NoError(t, err)

	c, err = m.AddContribution(ctx, c.ID, "a-1", "first")
	require.NoError(t, err)
	assert.Equal(t, 1, c.TurnIndex)
	assert.Equal(t, 0, c.CurrentRound)

	c, err = m.AddContribution(ctx, c.ID, "a-2", "second")
	require.NoError(t, err)
	assert.Equal(t, 2, c.TurnIndex)
	assert.Equal(t, 0, c.CurrentRound)

	// The wrap back to index 0 increments the round.
	c, err = m.AddContribution(ctx, c.ID, "a-3", "third")
	require.NoError(t, err)
	assert.Equal(t, 0, c.TurnIndex)
	assert.Equal(t, 1, c.CurrentRound)
}

func TestAddContribution_AutoCompletesAtMaxRounds(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, "a-1", "a-2", "a-3")

	c, err := m.Create(ctx, testOwner, []string{"a-1", "a-2", "a-3"}, "t", types.ModeRoundRobin, 2)
	require.NoError(t, err)

	agents := []string{"a-1", "a-2", "a-3"}
	for i := 0; i < 5; i++ {
		c, err = m.AddContribution(ctx, c.ID, agents[i%3], fmt.Sprintf("c%d", i+1))
		require.NoError(t, err)
		assert.Equal(t, types.CollaborationActive, c.Status, "still active after contribution %d", i+1)
	}

	// Exactly the 6th contribution (2 full wraps of 3 agents)
	// completes the session.
	c, err = m.AddContribution(ctx, c.ID, "a-3", "c6")
	require.NoError(t, err)
	assert.Equal(t, types.CollaborationCompleted, c.Status)
	assert.Equal(t, types.ReasonMaxRounds, c.Reason)
	assert.Equal(t, 2, c.CurrentRound)
	require.NotNil(t, c.CompletedAt)

	// Aggregate result is the contributions joined in order.
	assert.Equal(t, strings.Join([]string{"c1", "c2", "c3", "c4", "c5", "c6"}, resultSeparator), c.Result)

	// A 7th contribution is a state conflict.
	_, err = m.AddContribution(ctx, c.ID, "a-1", "late")
	assert.Equal(t, types.ErrStateConflict, types.CodeOf(err))

	// No next agent once rounds are exhausted.
	next, err := m.GetNextAgent(ctx, c.ID)
	require.NoError(t, err)
	assert.Empty(t, next)
}

func TestAddContribution_OutOfTurnAllowed(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, "a-1", "a-2")

	c, err := m.Create(ctx, testOwner, []string{"a-1", "a-2"}, "t", types.ModeParallel, 2)
	require.NoError(t, err)

	// Parallel mode callers fan out; the manager tracks but does not
	// enforce turn order.
	c, err = m.AddContribution(ctx, c.ID, "a-2", "out of turn")
	require.NoError(t, err)
	assert.Equal(t, 1, c.TurnIndex)

	// Non-members are rejected.
	_, err = m.AddContribution(ctx, c.ID, "a-ghost", "x")
	assert.Equal(t, types.ErrInvalidArgument, types.CodeOf(err))
}

func TestCompleteAndCancel(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, "a-1", "a-2")

	c1, err := m.Create(ctx, testOwner, []string{"a-1", "a-2"}, "t", types.ModeSequential, 5)
	require.NoError(t, err)
	_, err = m.AddContribution(ctx, c1.ID, "a-1", "only one")
	require.NoError(t, err)

	done, err := m.Complete(ctx, c1.ID, "good enough")
	require.NoError(t, err)
	assert.Equal(t, types.CollaborationCompleted, done.Status)
	assert.Equal(t, "good enough", done.Reason)
	assert.Equal(t, "only one", done.Result)

	c2, err := m.Create(ctx, testOwner, []string{"a-1", "a-2"}, "t", types.ModeSequential, 5)
	require.NoError(t, err)
	cancelled, err := m.Cancel(ctx, c2.ID)
	require.NoError(t, err)
	assert.Equal(t, types.CollaborationCancelled, cancelled.Status)
	assert.Empty(t, cancelled.Result)

	// Completed exactly once.
	_, err = m.Complete(ctx, c1.ID, "again")
	assert.Equal(t, types.ErrStateConflict, types.CodeOf(err))
	_, err = m.Cancel(ctx, c2.ID)
	assert.Equal(t, types.ErrStateConflict, types.CodeOf(err))
}

func TestGetContext_ContributionsInOrder(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, "a-1", "a-2")

	c, err := m.Create(ctx, testOwner, []string{"a-1", "a-2"}, "t", types.ModeSequential, 3)
	require.NoError(t, err)

	for i, agent := range []string{"a-1", "a-2", "a-1"} {
		_, err = m.AddContribution(ctx, c.ID, agent, fmt.Sprintf("c%d", i+1))
		require.NoError(t, err)
	}

	got, err := m.GetContext(ctx, c.ID)
	require.NoError(t, err)
	require.Len(t, got.Contributions, 3)
	assert.Equal(t, "c1", got.Contributions[0].Content)
	assert.Equal(t, "c3", got.Contributions[2].Content)
	assert.Equal(t, 1, got.Contributions[0].Round)
	assert.Equal(t, 2, got.Contributions[2].Round)

	list, err := m.List(ctx, testOwner)
	require.NoError(t, err)
	assert.Len(t, list, 1)
}
