package handoff

import (
	"context"
	"sync"
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

type recordingAssigner struct {
	mu      sync.Mutex
	assigns []string
}

func (r *recordingAssigner) Assign(_ context.Context, conversationID, agentID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.assigns = append(r.assigns, conversationID+"->"+agentID)
	return nil
}

func (r *recordingAssigner) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.assigns)
}

func newTestManager(t *testing.T) (*Manager, store.Store, *recordingAssigner) {
	t.Helper()
	st := store.NewMemory()
	dir := directory.New(directory.Config{Store: st, Logger: zap.NewNop()})
	assigner := &recordingAssigner{}

	m := NewManager(Config{
		Store:     st,
		Directory: dir,
		Assigner:  assigner,
		Logger:    zap.NewNop(),
	})
	return m, st, assigner
}

func seedAgent(t *testing.T, st store.Store, id string, status types.AgentStatus) {
	t.Helper()
	require.NoError(t, st.Agents().Create(context.Background(), &types.Agent{
		ID:      id,
		OwnerID: testOwner,
		Status:  status,
		Reputation: 100,
	}))
}

func TestCreate_Validation(t *testing.T) {
	ctx := context.Background()
	m, _, _ := newTestManager(t)

	_, err := m.Create(ctx, CreateRequest{FromAgentID: "a-1"})
	assert.Equal(t, types.ErrInvalidArgument, types.CodeOf(err))

	_, err = m.Create(ctx, CreateRequest{ConversationID: "c-1"})
	assert.Equal(t, types.ErrInvalidArgument, types.CodeOf(err))

	_, err = m.Create(ctx, CreateRequest{ConversationID: "c-1", FromAgentID: "a-1", AutoAccept: true})
	assert.Equal(t, types.ErrInvalidArgument, types.CodeOf(err))
}

func TestCreate_TargetMustBeIdle(t *testing.T) {
	ctx := context.Background()
	m, st, _ := newTestManager(t)
	seedAgent(t, st, "a-from", types.AgentBusy)
	seedAgent(t, st, "a-busy", types.AgentBusy)

	_, err := m.Create(ctx, CreateRequest{
		OwnerID:        testOwner,
		ConversationID: "c-1",
		FromAgentID:    "a-from",
		ToAgentID:      "a-busy",
	})
	assert.Equal(t, types.ErrAgentUnavailable, types.CodeOf(err))

	_, err = m.Create(ctx, CreateRequest{
		OwnerID:        testOwner,
		ConversationID: "c-1",
		FromAgentID:    "a-from",
		ToAgentID:      "a-missing",
	})
	assert.Equal(t, types.ErrNotFound, types.CodeOf(err))
}

func TestCreate_AutoAcceptAtomic(t *testing.T) {
	ctx := context.Background()
	m, st, assigner := newTestManager(t)
	seedAgent(t, st, "a-from", types.AgentBusy)
	seedAgent(t, st, "a-to", types.AgentBusy) // auto-accept skips the idle check

	h, err := m.Create(ctx, CreateRequest{
		OwnerID:        testOwner,
		ConversationID: "c-1",
		FromAgentID:    "a-from",
		ToAgentID:      "a-to",
		AutoAccept:     true,
	})
	require.NoError(t, err)

	// Observably completed immediately, with both agent transitions
	// applied, in a single read.
	assert.Equal(t, types.HandoffCompleted, h.Status)
	require.NotNil(t, h.ResolvedAt)

	stored, err := st.Handoffs().Get(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, types.HandoffCompleted, stored.Status)

	from, _ := st.Agents().Get(ctx, "a-from")
	to, _ := st.Agents().Get(ctx, "a-to")
	assert.Equal(t, types.AgentIdle, from.Status)
	assert.Equal(t, types.AgentBusy, to.Status)
	assert.Equal(t, 1, assigner.count())
}

func TestCreate_UnknownFromAgentLeavesNothingBehind(t *testing.T) {
	ctx := context.Background()
	m, st, assigner := newTestManager(t)
	seedAgent(t, st, "a-to", types.AgentIdle)

	_, err := m.Create(ctx, CreateRequest{
		OwnerID:        testOwner,
		ConversationID: "c-1",
		FromAgentID:    "a-ghost",
		ToAgentID:      "a-to",
		AutoAccept:     true,
	})
	assert.Equal(t, types.ErrNotFound, types.CodeOf(err))

	// No handoff row, no reassignment, target untouched.
	all, err := m.List(ctx, testOwner, "")
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Equal(t, 0, assigner.count())
	to, _ := st.Agents().Get(ctx, "a-to")
	assert.Equal(t, types.AgentIdle, to.Status)

	_, err = m.Create(ctx, CreateRequest{
		OwnerID:        testOwner,
		ConversationID: "c-1",
		FromAgentID:    "a-ghost",
	})
	assert.Equal(t, types.ErrNotFound, types.CodeOf(err))
	all, err = m.List(ctx, testOwner, "")
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestAccept_StaleFromAgentKeepsHandoffPending(t *testing.T) {
	ctx := context.Background()
	m, st, assigner := newTestManager(t)
	seedAgent(t, st, "a-to", types.AgentIdle)

	// The from agent was removed after the handoff row was written.
	row := &types.Handoff{
		ID:             "h-stale",
		OwnerID:        testOwner,
		ConversationID: "c-1",
		FromAgentID:    "a-gone",
		ToAgentID:      "a-to",
		Status:         types.HandoffPending,
		CreatedAt:      time.Now(),
	}
	require.NoError(t, st.Handoffs().Create(ctx, row))

	_, hctx, err := m.Accept(ctx, "h-stale")
	assert.Equal(t, types.ErrNotFound, types.CodeOf(err))
	assert.Nil(t, hctx)

	// The row stays pending and nothing was reassigned.
	got, err := st.Handoffs().Get(ctx, "h-stale")
	require.NoError(t, err)
	assert.Equal(t, types.HandoffPending, got.Status)
	assert.Equal(t, 0, assigner.count())
	to, _ := st.Agents().Get(ctx, "a-to")
	assert.Equal(t, types.AgentIdle, to.Status)
}

func TestCreate_AutoAcceptIgnoresContext(t *testing.T) {
	ctx := context.Background()
	m, st, _ := newTestManager(t)
	seedAgent(t, st, "a-from", types.AgentBusy)
	seedAgent(t, st, "a-to", types.AgentIdle)

	// Context is delivered on accept; an auto-accepted handoff has no
	// accept step, so nothing may be cached for it.
	h, err := m.Create(ctx, CreateRequest{
		OwnerID:        testOwner,
		ConversationID: "c-1",
		FromAgentID:    "a-from",
		ToAgentID:      "a-to",
		Context:        map[string]any{"k": "v"},
		AutoAccept:     true,
	})
	require.NoError(t, err)

	m.mu.Lock()
	_, cached := m.contexts[h.ID]
	m.mu.Unlock()
	assert.False(t, cached)
}

func TestAccept(t *testing.T) {
	ctx := context.Background()
	m, st, assigner := newTestManager(t)
	seedAgent(t, st, "a-from", types.AgentBusy)
	seedAgent(t, st, "a-to", types.AgentIdle)

	h, err := m.Create(ctx, CreateRequest{
		OwnerID:        testOwner,
		ConversationID: "c-1",
		FromAgentID:    "a-from",
		ToAgentID:      "a-to",
		Context:        map[string]any{"summary": "customer asked about refunds"},
	})
	require.NoError(t, err)
	assert.Equal(t, types.HandoffPending, h.Status)

	accepted, handoffCtx, err := m.Accept(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, types.HandoffCompleted, accepted.Status)
	assert.Equal(t, "customer asked about refunds", handoffCtx["summary"])

	from, _ := st.Agents().Get(ctx, "a-from")
	to, _ := st.Agents().Get(ctx, "a-to")
	assert.Equal(t, types.AgentIdle, from.Status)
	assert.Equal(t, types.AgentBusy, to.Status)
	assert.Equal(t, 1, assigner.count())
}

func TestAccept_Idempotence(t *testing.T) {
	ctx := context.Background()
	m, st, assigner := newTestManager(t)
	seedAgent(t, st, "a-from", types.AgentBusy)
	seedAgent(t, st, "a-to", types.AgentIdle)

	h, err := m.Create(ctx, CreateRequest{
		OwnerID:        testOwner,
		ConversationID: "c-1",
		FromAgentID:    "a-from",
		ToAgentID:      "a-to",
		Context:        map[string]any{"k": "v"},
	})
	require.NoError(t, err)

	_, firstCtx, err := m.Accept(ctx, h.ID)
	require.NoError(t, err)
	assert.NotNil(t, firstCtx)

	// Second accept fails with a state conflict; the conversation is
	// reassigned exactly once and the context is gone.
	_, secondCtx, err := m.Accept(ctx, h.ID)
	assert.Equal(t, types.ErrStateConflict, types.CodeOf(err))
	assert.Nil(t, secondCtx)
	assert.Equal(t, 1, assigner.count())
}

func TestRejectAndCancel_DoNotTouchAgents(t *testing.T) {
	ctx := context.Background()
	m, st, assigner := newTestManager(t)
	seedAgent(t, st, "a-from", types.AgentBusy)
	seedAgent(t, st, "a-to", types.AgentIdle)

	h1, err := m.Create(ctx, CreateRequest{
		OwnerID: testOwner, ConversationID: "c-1", FromAgentID: "a-from", ToAgentID: "a-to",
	})
	require.NoError(t, err)
	h2, err := m.Create(ctx, CreateRequest{
		OwnerID: testOwner, ConversationID: "c-2", FromAgentID: "a-from", ToAgentID: "a-to",
	})
	require.NoError(t, err)

	rejected, err := m.Reject(ctx, h1.ID, "wrong queue")
	require.NoError(t, err)
	assert.Equal(t, types.HandoffRejected, rejected.Status)
	assert.Equal(t, "wrong queue", rejected.RejectReason)

	cancelled, err := m.Cancel(ctx, h2.ID)
	require.NoError(t, err)
	assert.Equal(t, types.HandoffCancelled, cancelled.Status)

	from, _ := st.Agents().Get(ctx, "a-from")
	to, _ := st.Agents().Get(ctx, "a-to")
	assert.Equal(t, types.AgentBusy, from.Status)
	assert.Equal(t, types.AgentIdle, to.Status)
	assert.Equal(t, 0, assigner.count())

	// Terminal handoffs refuse further transitions.
	_, err = m.Cancel(ctx, h1.ID)
	assert.Equal(t, types.ErrStateConflict, types.CodeOf(err))
	_, err = m.Reject(ctx, h2.ID, "x")
	assert.Equal(t, types.ErrStateConflict, types.CodeOf(err))
}

func TestExpirePending(t *testing.T) {
	ctx := context.Background()
	m, st, _ := newTestManager(t)
	seedAgent(t, st, "a-from", types.AgentBusy)
	seedAgent(t, st, "a-to", types.AgentIdle)

	old, err := m.Create(ctx, CreateRequest{
		OwnerID: testOwner, ConversationID: "c-old", FromAgentID: "a-from", ToAgentID: "a-to",
		Context: map[string]any{"k": "v"},
	})
	require.NoError(t, err)
	fresh, err := m.Create(ctx, CreateRequest{
		OwnerID: testOwner, ConversationID: "c-new", FromAgentID: "a-from", ToAgentID: "a-to",
	})
	require.NoError(t, err)

	// Age the first handoff past the window.
	aged, err := st.Handoffs().Get(ctx, old.ID)
	require.NoError(t, err)
	aged.CreatedAt = time.Now().Add(-DefaultExpiry - time.Minute)
	require.NoError(t, st.Handoffs().Update(ctx, aged))

	n, err := m.ExpirePending(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	expired, err := st.Handoffs().Get(ctx, old.ID)
	require.NoError(t, err)
	assert.Equal(t, types.HandoffExpired, expired.Status)

	stillPending, err := st.Handoffs().Get(ctx, fresh.ID)
	require.NoError(t, err)
	assert.Equal(t, types.HandoffPending, stillPending.Status)

	// Expired handoffs cannot be accepted, and their context is gone.
	_, hctx, err := m.Accept(ctx, old.ID)
	assert.Equal(t, types.ErrStateConflict, types.CodeOf(err))
	assert.Nil(t, hctx)
}

func TestListAndPendingForAgent(t *testing.T) {
	ctx := context.Background()
	m, st, _ := newTestManager(t)
	seedAgent(t, st, "a-from", types.AgentBusy)
	seedAgent(t, st, "a-to", types.AgentIdle)

	h, err := m.Create(ctx, CreateRequest{
		OwnerID: testOwner, ConversationID: "c-1", FromAgentID: "a-from", ToAgentID: "a-to",
	})
	require.NoError(t, err)

	all, err := m.List(ctx, testOwner, "")
	require.NoError(t, err)
	assert.Len(t, all, 1)

	pending, err := m.PendingForAgent(ctx, "a-to")
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, h.ID, pending[0].ID)

	got, err := m.Get(ctx, h.ID)
	require.NoError(t, err)
	assert.Equal(t, h.ID, got.ID)
}
