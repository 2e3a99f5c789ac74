package email

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/store"
	"github.com/BaSui01/swarmflow/swarm/directory"
	"github.com/BaSui01/swarmflow/swarm/handoff"
	"github.com/BaSui01/swarmflow/types"
)

const testOwner = "owner-1"

func newCoordinator(t *testing.T, agents ...*types.Agent) (*Coordinator, *directory.Directory, *handoff.Manager) {
	t.Helper()
	st := store.NewMemory()
	for _, a := range agents {
		if a.OwnerID == "" {
			a.OwnerID = testOwner
		}
		if a.Status == "" {
			a.Status = types.AgentIdle
		}
		if a.Reputation == 0 {
			a.Reputation = 100
		}
		require.NoError(t, st.Agents().Create(context.Background(), a))
	}
	dir := directory.New(directory.Config{Store: st, Logger: zap.NewNop()})
	hm := handoff.NewManager(handoff.Config{Store: st, Directory: dir, Logger: zap.NewNop()})
	c := NewCoordinator(Config{Directory: dir, Handoffs: hm, Logger: zap.NewNop()})
	return c, dir, hm
}

func TestSkillsFromSubject(t *testing.T) {
	cases := []struct {
		subject string
		want    []string
	}{
		{"Invoice #4521 overdue", []string{"billing"}},
		{"Refund for my last payment", []string{"refunds", "billing"}},
		{"BUG: app crash on login", []string{"technical", "support"}},
		{"hello there", nil},
		{"invoice invoice invoice", []string{"billing"}},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, SkillsFromSubject(tc.subject), tc.subject)
	}
}

func TestRoute_PicksBestSkilledIdleAgent(t *testing.T) {
	ctx := context.Background()
	c, dir, _ := newCoordinator(t,
		&types.Agent{ID: "a-triage", Role: "triage"},
		&types.Agent{ID: "a-star", Reputation: 200},
		&types.Agent{ID: "a-billing", Description: "skilled in billing", Reputation: 60},
	)

	result, err := c.Route(ctx, testOwner, "a-triage", Message{
		ConversationID: "conv-1",
		From:           "customer@example.com",
		Subject:        "Invoice #4521 overdue",
	})
	require.NoError(t, err)

	// The billing-skilled agent wins over the higher-reputation
	// generalist.
	assert.Equal(t, []string{"billing"}, result.Skills)
	assert.Equal(t, "a-billing", result.AgentID)
	assert.False(t, result.Queued)
	require.NotNil(t, result.Handoff)
	assert.Equal(t, types.HandoffCompleted, result.Handoff.Status)

	agent, err := dir.GetAgent(ctx, "a-billing")
	require.NoError(t, err)
	assert.Equal(t, types.AgentBusy, agent.Status)
}

func TestRoute_FallsBackToPreference(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newCoordinator(t,
		&types.Agent{ID: "a-triage", Role: "triage"},
		&types.Agent{ID: "a-general", Reputation: 120},
	)

	// Nobody holds the billing skill; the best idle agent still gets it.
	result, err := c.Route(ctx, testOwner, "a-triage", Message{
		ConversationID: "conv-1",
		Subject:        "payment failed",
	})
	require.NoError(t, err)
	assert.Equal(t, "a-general", result.AgentID)
	assert.False(t, result.Queued)
}

func TestRoute_TriageAgentNeverRoutesToItself(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newCoordinator(t,
		&types.Agent{ID: "a-triage", Description: "skilled in billing", Reputation: 200},
		&types.Agent{ID: "a-billing", Description: "skilled in billing", Reputation: 50},
	)

	result, err := c.Route(ctx, testOwner, "a-triage", Message{
		ConversationID: "conv-1",
		Subject:        "invoice question",
	})
	require.NoError(t, err)
	assert.Equal(t, "a-billing", result.AgentID)
}

func TestRoute_QueuesWhenNobodyAvailable(t *testing.T) {
	ctx := context.Background()
	c, _, hm := newCoordinator(t,
		&types.Agent{ID: "a-triage", Role: "triage"},
		&types.Agent{ID: "a-busy", Status: types.AgentBusy},
	)

	result, err := c.Route(ctx, testOwner, "a-triage", Message{
		ConversationID: "conv-1",
		Subject:        "refund please",
	})
	require.NoError(t, err)

	assert.True(t, result.Queued)
	assert.Empty(t, result.AgentID)
	require.NotNil(t, result.Handoff)
	assert.Equal(t, types.HandoffPending, result.Handoff.Status)

	// The queued handoff waits for an agent to be assigned before it
	// can be accepted.
	_, _, err = hm.Accept(ctx, result.Handoff.ID)
	require.Error(t, err)
}

func TestRoute_Validation(t *testing.T) {
	ctx := context.Background()
	c, _, _ := newCoordinator(t, &types.Agent{ID: "a-triage"})

	_, err := c.Route(ctx, testOwner, "a-triage", Message{Subject: "invoice"})
	assert.Equal(t, types.ErrInvalidArgument, types.CodeOf(err))
}
