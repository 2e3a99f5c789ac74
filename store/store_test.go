package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/BaSui01/swarmflow/types"
)

// each backend runs the same scenarios
func backends(t *testing.T) map[string]Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, AutoMigrate(db))
	return map[string]Store{
		"memory": NewMemory(),
		"gorm":   NewGorm(db),
	}
}

func seedAgent(t *testing.T, s Store, id, owner string, reputation int, createdAt time.Time) {
	t.Helper()
	require.NoError(t, s.Agents().Create(context.Background(), &types.Agent{
		ID:         id,
		OwnerID:    owner,
		Name:       "agent " + id,
		Status:     types.AgentIdle,
		Reputation: reputation,
		CreatedAt:  createdAt,
		LastSeenAt: createdAt,
	}))
}

func TestAgentStore(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Now().Add(-time.Hour).Truncate(time.Second)
			seedAgent(t, s, "a1", "owner-1", 50, base)
			seedAgent(t, s, "a2", "owner-1", 90, base.Add(time.Minute))
			seedAgent(t, s, "a3", "owner-1", 90, base.Add(2*time.Minute))
			seedAgent(t, s, "other", "owner-2", 10, base)

			agents, err := s.Agents().ListByOwner(ctx, "owner-1")
			require.NoError(t, err)
			require.Len(t, agents, 3)
			// reputation desc, created_at desc
			assert.Equal(t, "a3", agents[0].ID)
			assert.Equal(t, "a2", agents[1].ID)
			assert.Equal(t, "a1", agents[2].ID)

			require.NoError(t, s.Agents().UpdateStatus(ctx, "a1", types.AgentBusy))
			a, err := s.Agents().Get(ctx, "a1")
			require.NoError(t, err)
			assert.Equal(t, types.AgentBusy, a.Status)

			require.NoError(t, s.Agents().UpdateReputation(ctx, "a1", 120))
			a, err = s.Agents().Get(ctx, "a1")
			require.NoError(t, err)
			assert.Equal(t, 120, a.Reputation)

			now := time.Now().Truncate(time.Second)
			require.NoError(t, s.Agents().Touch(ctx, "a1", now))

			_, err = s.Agents().Get(ctx, "missing")
			assert.True(t, types.IsCode(err, types.ErrNotFound))
			assert.True(t, types.IsCode(s.Agents().UpdateStatus(ctx, "missing", types.AgentIdle), types.ErrNotFound))
		})
	}
}

func TestTaskStore(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			base := time.Now().Add(-time.Hour).Truncate(time.Second)
			mk := func(id string, prio types.TaskPriority, status types.TaskStatus, at time.Time) {
				require.NoError(t, s.Tasks().Create(ctx, &types.SwarmTask{
					ID: id, OwnerID: "owner-1", Title: id, Priority: prio,
					Status: status, CreatedAt: at, UpdatedAt: at,
				}))
			}
			mk("t-low", types.PriorityLow, types.TaskPending, base)
			mk("t-urgent", types.PriorityUrgent, types.TaskPending, base.Add(time.Minute))
			mk("t-high", types.PriorityHigh, types.TaskInProgress, base.Add(2*time.Minute))
			mk("t-done", types.PriorityUrgent, types.TaskCompleted, base.Add(3*time.Minute))

			tasks, err := s.Tasks().ListByOwner(ctx, "owner-1", "")
			require.NoError(t, err)
			require.Len(t, tasks, 4)
			assert.Equal(t, "t-done", tasks[0].ID) // urgent, newest
			assert.Equal(t, "t-urgent", tasks[1].ID)
			assert.Equal(t, "t-high", tasks[2].ID)
			assert.Equal(t, "t-low", tasks[3].ID)

			pending, err := s.Tasks().ListByOwner(ctx, "owner-1", types.TaskPending)
			require.NoError(t, err)
			assert.Len(t, pending, 2)

			active, err := s.Tasks().CountActiveByOwner(ctx, "owner-1")
			require.NoError(t, err)
			assert.Equal(t, 3, active)

			task, err := s.Tasks().Get(ctx, "t-urgent")
			require.NoError(t, err)
			task.Status = types.TaskInProgress
			task.AssignedAgentID = "a1"
			require.NoError(t, s.Tasks().Update(ctx, task))

			got, err := s.Tasks().Get(ctx, "t-urgent")
			require.NoError(t, err)
			assert.Equal(t, types.TaskInProgress, got.Status)
			assert.Equal(t, "a1", got.AssignedAgentID)

			// clearing the assignee persists too
			got.AssignedAgentID = ""
			got.Status = types.TaskPending
			require.NoError(t, s.Tasks().Update(ctx, got))
			got, err = s.Tasks().Get(ctx, "t-urgent")
			require.NoError(t, err)
			assert.Empty(t, got.AssignedAgentID)
		})
	}
}

func TestHandoffStore(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().Truncate(time.Second)
			mk := func(id string, status types.HandoffStatus, to string, at time.Time) {
				require.NoError(t, s.Handoffs().Create(ctx, &types.Handoff{
					ID: id, OwnerID: "owner-1", ConversationID: "conv-" + id,
					FromAgentID: "a1", ToAgentID: to, Status: status, CreatedAt: at,
				}))
			}
			mk("h-old", types.HandoffPending, "a2", now.Add(-2*time.Hour))
			mk("h-new", types.HandoffPending, "a2", now.Add(-time.Minute))
			mk("h-done", types.HandoffCompleted, "a3", now.Add(-10*time.Minute))

			stale, err := s.Handoffs().ListPendingOlderThan(ctx, now.Add(-30*time.Minute))
			require.NoError(t, err)
			require.Len(t, stale, 1)
			assert.Equal(t, "h-old", stale[0].ID)

			forA2, err := s.Handoffs().ListPendingForAgent(ctx, "a2")
			require.NoError(t, err)
			require.Len(t, forA2, 2)
			assert.Equal(t, "h-old", forA2[0].ID) // oldest first

			recent, err := s.Handoffs().CountRecentByOwner(ctx, "owner-1", now.Add(-24*time.Hour))
			require.NoError(t, err)
			assert.Equal(t, 3, recent)

			h, err := s.Handoffs().Get(ctx, "h-old")
			require.NoError(t, err)
			h.Status = types.HandoffExpired
			resolved := now
			h.ResolvedAt = &resolved
			require.NoError(t, s.Handoffs().Update(ctx, h))

			got, err := s.Handoffs().Get(ctx, "h-old")
			require.NoError(t, err)
			assert.Equal(t, types.HandoffExpired, got.Status)
			require.NotNil(t, got.ResolvedAt)
		})
	}
}

func TestCollaborationStore(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			c := &types.Collaboration{
				ID: "c1", OwnerID: "owner-1", Task: "summarize",
				AgentQueue: []string{"a1", "a2", "a3"},
				Mode:       types.ModeRoundRobin, MaxRounds: 2,
				Status: types.CollaborationActive, CreatedAt: time.Now().Truncate(time.Second),
			}
			require.NoError(t, s.Collaborations().Create(ctx, c))

			for i := 0; i < 4; i++ {
				require.NoError(t, s.Collaborations().AppendContribution(ctx, "c1", types.Contribution{
					AgentID: fmt.Sprintf("a%d", i%3+1), Content: fmt.Sprintf("turn %d", i),
					Round: i / 3, Timestamp: time.Now(),
				}))
			}

			got, err := s.Collaborations().Get(ctx, "c1")
			require.NoError(t, err)
			assert.Equal(t, []string{"a1", "a2", "a3"}, got.AgentQueue)
			require.Len(t, got.Contributions, 4)
			// append order survives the round trip
			for i, contrib := range got.Contributions {
				assert.Equal(t, fmt.Sprintf("turn %d", i), contrib.Content)
			}

			got.Status = types.CollaborationCompleted
			got.Reason = types.ReasonMaxRounds
			require.NoError(t, s.Collaborations().Update(ctx, got))
			final, err := s.Collaborations().Get(ctx, "c1")
			require.NoError(t, err)
			assert.Equal(t, types.CollaborationCompleted, final.Status)
			assert.Len(t, final.Contributions, 4)
		})
	}
}

func TestConsensusStore(t *testing.T) {
	for name, s := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			now := time.Now().Truncate(time.Second)
			c := &types.ConsensusRequest{
				ID: "cr1", OwnerID: "owner-1", Question: "best answer?",
				Options:  []string{"alpha", "beta"},
				AgentIDs: []string{"a1", "a2", "a3"},
				Threshold: 0.5, RequiredVotes: 2,
				Status: types.ConsensusPending,
				ExpiresAt: now.Add(-time.Minute), CreatedAt: now.Add(-time.Hour),
			}
			require.NoError(t, s.Consensus().Create(ctx, c))

			expired, err := s.Consensus().ListPendingExpired(ctx, now)
			require.NoError(t, err)
			require.Len(t, expired, 1)
			assert.Equal(t, "cr1", expired[0].ID)

			// completion persists the full vote record
			c.Status = types.ConsensusCompleted
			c.Reason = types.ReasonConsensusReached
			c.Winner = "alpha"
			done := now
			c.CompletedAt = &done
			c.Votes = []types.Vote{
				{AgentID: "a1", Choice: "alpha", Timestamp: now},
				{AgentID: "a2", Choice: "alpha", Reasoning: "clearer", Timestamp: now},
			}
			require.NoError(t, s.Consensus().Update(ctx, c))

			got, err := s.Consensus().Get(ctx, "cr1")
			require.NoError(t, err)
			assert.Equal(t, types.ConsensusCompleted, got.Status)
			assert.Equal(t, "alpha", got.Winner)
			assert.Equal(t, []string{"alpha", "beta"}, got.Options)
			require.Len(t, got.Votes, 2)
			assert.Equal(t, "a1", got.Votes[0].AgentID)

			none, err := s.Consensus().ListPendingExpired(ctx, now)
			require.NoError(t, err)
			assert.Empty(t, none)
		})
	}
}
