package consensus

import (
	"context"
	"fmt"
	"testing"
	"time"

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

func electors(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("a-%d", i+1)
	}
	return ids
}

func TestRequiredVotes(t *testing.T) {
	cases := []struct {
		n         int
		threshold float64
		want      int
	}{
		{5, 0.5, 3},
		{4, 0.75, 3},
		{4, 0.5, 2},
		{3, 1.0, 3},
		{2, 0.51, 2},
		{10, 0.66, 7},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, RequiredVotes(tc.n, tc.threshold),
			"n=%d threshold=%v", tc.n, tc.threshold)
	}
}

func TestCreate_Validation(t *testing.T) {
	ctx := context.Background()
	m, _ := newTestManager(t, "a-1", "a-2")

	_, err := m.Create(ctx, testOwner, "q", []string{"only"}, []string{"a-1", "a-2"}, 0.5, time.Minute)
	assert.Equal(t, types.ErrInvalidArgument, types.CodeOf(err))

	_, err = m.Create(ctx, testOwner, "q", []string{"x", "x"}, []string{"a-1", "a-2"}, 0.5, time.Minute)
	assert.Equal(t, types.ErrInvalidArgument, types.CodeOf(err))

	_, err = m.Create(ctx, testOwner, "q", []string{"x", "y"}, []string{"a-1", "a-2"}, 1.5, time.Minute)
	assert.Equal(t, types.ErrInvalidArgument, types.CodeOf(err))

	_, err = m.Create(ctx, testOwner, "q", []string{"x", "y"}, []string{"a-1", "a-1"}, 0.5, time.Minute)
	assert.Equal(t, types.ErrInvalidArgument, types.CodeOf(err))

	_, err = m.Create(ctx, testOwner, "q", []string{"x", "y"}, []string{"a-1", "a-2"}, 0.5, 0)
	assert.Equal(t, types.ErrInvalidArgument, types.CodeOf(err))

	_, err = m.Create(ctx, testOwner, "q", []string{"x", "y"}, []string{"a-1", "a-ghost"}, 0.5, time.Minute)
	assert.Equal(t, types.ErrNotFound, types.CodeOf(err))
}

func TestSubmitVote_ThresholdResolution(t *testing.T) {
	ctx := context.Background()
	ids := electors(5)
	m, _ := newTestManager(t, ids...)

	c, err := m.Create(ctx, testOwner, "pick one", []string{"alpha", "beta"}, ids, 0.5, time.Minute)
	require.NoError(t, err)
	require.Equal(t, 3, c.RequiredVotes)

	out, err := m.SubmitVote(ctx, c.ID, "a-1", "alpha", "")
	require.NoError(t, err)
	assert.False(t, out.Resolved)
	assert.Equal(t, "alpha", out.Leader)
	assert.Equal(t, 2, out.VotesNeeded)

	out, err = m.SubmitVote(ctx, c.ID, "a-2", "alpha", "")
	require.NoError(t, err)
	assert.False(t, out.Resolved)

	// Third vote for the same option reaches ceil(5*0.5)=3.
	out, err = m.SubmitVote(ctx, c.ID, "a-3", "alpha", "strongest draft")
	require.NoError(t, err)
	assert.True(t, out.Resolved)

	got, err := m.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ConsensusCompleted, got.Status)
	assert.Equal(t, types.ReasonConsensusReached, got.Reason)
	assert.Equal(t, "alpha", got.Winner)
	assert.Len(t, got.Votes, 3)
	require.NotNil(t, got.CompletedAt)

	// No votes accepted after resolution.
	_, err = m.SubmitVote(ctx, c.ID, "a-4", "beta", "")
	assert.Equal(t, types.ErrStateConflict, types.CodeOf(err))
}

func TestSubmitVote_AllVotesInPlurality(t *testing.T) {
	ctx := context.Background()
	ids := electors(4)
	m, _ := newTestManager(t, ids...)

	// required = ceil(4*0.75) = 3; a 2/1/1 split never reaches it.
	c, err := m.Create(ctx, testOwner, "pick one", []string{"alpha", "beta", "gamma"}, ids, 0.75, time.Minute)
	require.NoError(t, err)
	require.Equal(t, 3, c.RequiredVotes)

	for _, v := range []struct{ agent, choice string }{
		{"a-1", "beta"},
		{"a-2", "alpha"},
		{"a-3", "gamma"},
	} {
		out, err := m.SubmitVote(ctx, c.ID, v.agent, v.choice, "")
		require.NoError(t, err)
		assert.False(t, out.Resolved)
	}

	out, err := m.SubmitVote(ctx, c.ID, "a-4", "beta", "")
	require.NoError(t, err)
	assert.True(t, out.Resolved)

	got, err := m.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ConsensusCompleted, got.Status)
	assert.Equal(t, types.ReasonAllVotesIn, got.Reason)
	assert.Equal(t, "beta", got.Winner)
	assert.Len(t, got.Votes, 4)
}

func TestSubmitVote_TieBreakFirstSeen(t *testing.T) {
	ctx := context.Background()
	ids := electors(2)
	m, _ := newTestManager(t, ids...)

	c, err := m.Create(ctx, testOwner, "pick one", []string{"alpha", "beta"}, ids, 1.0, time.Minute)
	require.NoError(t, err)

	// beta is voted first even though alpha is listed first.
	_, err = m.SubmitVote(ctx, c.ID, "a-1", "beta", "")
	require.NoError(t, err)
	out, err := m.SubmitVote(ctx, c.ID, "a-2", "alpha", "")
	require.NoError(t, err)

	// 1-1 tie: the option that received a vote first wins.
	require.True(t, out.Resolved)
	got, err := m.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ReasonAllVotesIn, got.Reason)
	assert.Equal(t, "beta", got.Winner)
}

func TestSubmitVote_TieBreakIgnoresOptionOrder(t *testing.T) {
	ctx := context.Background()
	ids := electors(4)
	m, _ := newTestManager(t, ids...)

	c, err := m.Create(ctx, testOwner, "pick one", []string{"alpha", "beta", "gamma"}, ids, 1.0, time.Minute)
	require.NoError(t, err)

	// 2-2 tie between gamma and alpha; gamma's first vote came first.
	for i, choice := range []string{"gamma", "alpha", "alpha", "gamma"} {
		_, err = m.SubmitVote(ctx, c.ID, ids[i], choice, "")
		require.NoError(t, err)
	}

	got, err := m.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ReasonAllVotesIn, got.Reason)
	assert.Equal(t, "gamma", got.Winner)
}

func TestSubmitVote_Rejections(t *testing.T) {
	ctx := context.Background()
	ids := electors(3)
	m, _ := newTestManager(t, ids...)

	c, err := m.Create(ctx, testOwner, "pick one", []string{"alpha", "beta"}, ids, 1.0, time.Minute)
	require.NoError(t, err)

	_, err = m.SubmitVote(ctx, c.ID, "outsider", "alpha", "")
	assert.Equal(t, types.ErrInvalidArgument, types.CodeOf(err))

	_, err = m.SubmitVote(ctx, c.ID, "a-1", "omega", "")
	assert.Equal(t, types.ErrInvalidArgument, types.CodeOf(err))

	_, err = m.SubmitVote(ctx, c.ID, "a-1", "alpha", "")
	require.NoError(t, err)
	_, err = m.SubmitVote(ctx, c.ID, "a-1", "beta", "")
	assert.Equal(t, types.ErrAlreadyVoted, types.CodeOf(err))

	// The rejected duplicate did not change the tally.
	got, err := m.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Len(t, got.Votes, 1)
	assert.Equal(t, "alpha", got.Votes[0].Choice)

	_, err = m.SubmitVote(ctx, "no-such-id", "a-2", "alpha", "")
	assert.Equal(t, types.ErrNotFound, types.CodeOf(err))
}

func TestSubmitVote_EagerExpiry(t *testing.T) {
	ctx := context.Background()
	ids := electors(3)
	m, st := newTestManager(t, ids...)

	c, err := m.Create(ctx, testOwner, "pick one", []string{"alpha", "beta"}, ids, 1.0, time.Minute)
	require.NoError(t, err)

	_, err = m.SubmitVote(ctx, c.ID, "a-1", "beta", "")
	require.NoError(t, err)

	// Push the deadline into the past behind the manager's back.
	row, err := st.Consensus().Get(ctx, c.ID)
	require.NoError(t, err)
	row.ExpiresAt = time.Now().Add(-time.Second)
	require.NoError(t, st.Consensus().Update(ctx, row))

	// The late vote triggers expiry handling first, then fails.
	_, err = m.SubmitVote(ctx, c.ID, "a-2", "alpha", "")
	assert.Equal(t, types.ErrExpired, types.CodeOf(err))

	got, err := m.Get(ctx, c.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ConsensusExpired, got.Status)
	assert.Equal(t, types.ReasonExpired, got.Reason)
	// The partial tally survives the expiry.
	assert.Len(t, got.Votes, 1)
	assert.Equal(t, "beta", got.Winner)
	require.NotNil(t, got.CompletedAt)
}

func TestExpirePending_Sweep(t *testing.T) {
	ctx := context.Background()
	ids := electors(3)
	m, st := newTestManager(t, ids...)

	stale, err := m.Create(ctx, testOwner, "stale", []string{"x", "y"}, ids, 0.5, time.Minute)
	require.NoError(t, err)
	fresh, err := m.Create(ctx, testOwner, "fresh", []string{"x", "y"}, ids, 0.5, time.Hour)
	require.NoError(t, err)

	row, err := st.Consensus().Get(ctx, stale.ID)
	require.NoError(t, err)
	row.ExpiresAt = time.Now().Add(-time.Minute)
	require.NoError(t, st.Consensus().Update(ctx, row))

	n, err := m.ExpirePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := m.Get(ctx, stale.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ConsensusExpired, got.Status)

	got, err = m.Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, types.ConsensusPending, got.Status)

	// Sweeping again is a no-op.
	n, err = m.ExpirePending(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestExpire_NotYetDue(t *testing.T) {
	ctx := context.Background()
	ids := electors(2)
	m, _ := newTestManager(t, ids...)

	c, err := m.Create(ctx, testOwner, "q", []string{"x", "y"}, ids, 0.5, time.Hour)
	require.NoError(t, err)

	err = m.Expire(ctx, c.ID)
	assert.Equal(t, types.ErrStateConflict, types.CodeOf(err))
}

func TestList(t *testing.T) {
	ctx := context.Background()
	ids := electors(2)
	m, _ := newTestManager(t, ids...)

	_, err := m.Create(ctx, testOwner, "q1", []string{"x", "y"}, ids, 0.5, time.Minute)
	require.NoError(t, err)
	_, err = m.Create(ctx, testOwner, "q2", []string{"x", "y"}, ids, 0.5, time.Minute)
	require.NoError(t, err)

	list, err := m.List(ctx, testOwner)
	require.NoError(t, err)
	assert.Len(t, list, 2)

	list, err = m.List(ctx, "someone-else")
	require.NoError(t, err)
	assert.Empty(t, list)
}
