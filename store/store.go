// Package store provides the narrow durable-row interface over the
// relational store, plus gorm and in-memory implementations.
//
// The durable store is the single source of truth for terminal state: every
// terminal transition is persisted through this interface before any
// in-memory coordination state is discarded. Services never see the query
// layer, only these narrow per-entity contracts.
package store

import (
	"context"
	"time"

	"github.com/BaSui01/swarmflow/types"
)

// Store aggregates the per-entity row stores.
type Store interface {
	Agents() AgentStore
	Tasks() TaskStore
	Handoffs() HandoffStore
	Collaborations() CollaborationStore
	Consensus() ConsensusStore

	// Ping checks connectivity to the underlying store.
	Ping(ctx context.Context) error
	// Close releases underlying resources.
	Close() error
}

// AgentStore accesses agent rows. Agents are created and deleted by the
// agent-management subsystem; the coordination core only reads them and
// mutates status, reputation and liveness.
type AgentStore interface {
	Create(ctx context.Context, agent *types.Agent) error
	Get(ctx context.Context, id string) (*types.Agent, error)
	// ListByOwner returns agents ordered by reputation desc, then
	// created_at desc.
	ListByOwner(ctx context.Context, ownerID string) ([]*types.Agent, error)
	UpdateStatus(ctx context.Context, id string, status types.AgentStatus) error
	UpdateReputation(ctx context.Context, id string, score int) error
	// Touch refreshes the agent's liveness timestamp.
	Touch(ctx context.Context, id string, at time.Time) error
}

// TaskStore accesses swarm task rows.
type TaskStore interface {
	Create(ctx context.Context, task *types.SwarmTask) error
	Get(ctx context.Context, id string) (*types.SwarmTask, error)
	// ListByOwner returns tasks ordered by priority rank desc, then
	// created_at desc. An empty status matches all.
	ListByOwner(ctx context.Context, ownerID string, status types.TaskStatus) ([]*types.SwarmTask, error)
	Update(ctx context.Context, task *types.SwarmTask) error
	// CountActiveByOwner counts pending and in-progress tasks.
	CountActiveByOwner(ctx context.Context, ownerID string) (int, error)
}

// HandoffStore accesses handoff rows. The in-memory context blob is not
// part of the durable record.
type HandoffStore interface {
	Create(ctx context.Context, h *types.Handoff) error
	Get(ctx context.Context, id string) (*types.Handoff, error)
	Update(ctx context.Context, h *types.Handoff) error
	ListByOwner(ctx context.Context, ownerID string, status types.HandoffStatus) ([]*types.Handoff, error)
	ListPendingForAgent(ctx context.Context, agentID string) ([]*types.Handoff, error)
	// ListPendingOlderThan returns pending handoffs created before cutoff,
	// for the expiry sweep.
	ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]*types.Handoff, error)
	CountRecentByOwner(ctx context.Context, ownerID string, since time.Time) (int, error)
}

// CollaborationStore accesses collaboration rows and their append-only
// contribution list.
type CollaborationStore interface {
	Create(ctx context.Context, c *types.Collaboration) error
	// Get returns the collaboration with contributions in append order.
	Get(ctx context.Context, id string) (*types.Collaboration, error)
	Update(ctx context.Context, c *types.Collaboration) error
	AppendContribution(ctx context.Context, id string, contrib types.Contribution) error
	ListByOwner(ctx context.Context, ownerID string) ([]*types.Collaboration, error)
}

// ConsensusStore accesses consensus rows. The per-agent vote record is
// volatile while pending and persisted in full on completion.
type ConsensusStore interface {
	Create(ctx context.Context, c *types.ConsensusRequest) error
	Get(ctx context.Context, id string) (*types.ConsensusRequest, error)
	Update(ctx context.Context, c *types.ConsensusRequest) error
	ListByOwner(ctx context.Context, ownerID string) ([]*types.ConsensusRequest, error)
	// ListPendingExpired returns pending requests whose deadline passed
	// before now, for the expiry sweep.
	ListPendingExpired(ctx context.Context, now time.Time) ([]*types.ConsensusRequest, error)
}
