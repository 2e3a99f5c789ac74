// Package collaboration runs bounded multi-round turn-taking sessions in
// which a fixed set of agents iteratively contribute to one task.
package collaboration

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/internal/metrics"
	"github.com/BaSui01/swarmflow/store"
	"github.com/BaSui01/swarmflow/swarm/directory"
	"github.com/BaSui01/swarmflow/swarm/event"
	"github.com/BaSui01/swarmflow/types"
)

// resultSeparator joins contributions into the aggregate result.
const resultSeparator = "\n---\n"

// Manager owns collaboration sessions. All read-then-write turn
// evaluation happens under a single mutex so that no two contributions
// against the same session are evaluated from a stale snapshot.
type Manager struct {
	collabs   store.CollaborationStore
	directory *directory.Directory
	events    event.Publisher
	metrics   *metrics.Collector
	logger    *zap.Logger

	// mu linearizes contribution handling per manager. Sessions are
	// short and contributions cheap, so a single lock is enough.
	mu sync.Mutex
}

// Config wires the manager's collaborators.
type Config struct {
	Store     store.Store
	Directory *directory.Directory
	Events    event.Publisher
	Metrics   *metrics.Collector
	Logger    *zap.Logger
}

// NewManager creates a collaboration manager.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	events := cfg.Events
	if events == nil {
		events = event.Nop{}
	}
	return &Manager{
		collabs:   cfg.Store.Collaborations(),
		directory: cfg.Directory,
		events:    events,
		metrics:   cfg.Metrics,
		logger:    logger.With(zap.String("component", "collaboration_manager")),
	}
}

// Create starts a session. At least two distinct, existing agents are
// required. The turn pointer starts at index 0 with an empty
// contribution list.
func (m *Manager) Create(ctx context.Context, ownerID string, agentIDs []string, task string, mode types.CollaborationMode, maxRounds int) (*types.Collaboration, error) {
	if !types.ValidCollaborationMode(mode) {
		return nil, types.Errorf(types.ErrInvalidArgument, "invalid collaboration mode %q", mode)
	}
	if maxRounds < 1 {
		return nil, types.NewError(types.ErrInvalidArgument, "max rounds must be at least 1")
	}

	distinct := make(map[string]bool, len(agentIDs))
	for _, id := range agentIDs {
		distinct[id] = true
	}
	if len(distinct) < 2 {
		return nil, types.NewError(types.ErrInvalidArgument, "at least 2 distinct agents are required")
	}
	for _, id := range agentIDs {
		if _, err := m.directory.GetAgent(ctx, id); err != nil {
			return nil, err
		}
	}

	c := &types.Collaboration{
		ID:         uuid.NewString(),
		OwnerID:    ownerID,
		Task:       task,
		AgentQueue: append([]string(nil), agentIDs...),
		Mode:       mode,
		MaxRounds:  maxRounds,
		Status:     types.CollaborationActive,
		CreatedAt:  time.Now(),
	}
	if err := m.collabs.Create(ctx, c); err != nil {
		return nil, err
	}

	m.events.Publish(types.NewEvent(types.EventCollaborationStarted, ownerID, c.ID, map[string]any{
		"agents":     c.AgentQueue,
		"mode":       string(mode),
		"max_rounds": maxRounds,
	}))
	m.logger.Info("collaboration started",
		zap.String("collaboration_id", c.ID),
		zap.Int("agents", len(c.AgentQueue)),
		zap.Int("max_rounds", maxRounds),
	)
	return c, nil
}

// AddContribution appends a contribution and advances the turn pointer.
// When the pointer wraps back to the head of the queue the round counter
// increments; reaching maxRounds completes the session automatically
// with reason max_rounds_reached and the contributions joined in order
// as the aggregate result.
func (m *Manager) AddContribution(ctx context.Context, id, agentID, content string) (*types.Collaboration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.collabs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != types.CollaborationActive {
		return nil, types.Errorf(types.ErrStateConflict, "collaboration %s is %s, not active", id, c.Status)
	}

	// Turn order is tracked, not enforced: in parallel mode callers fan
	// out and contributions arrive out of turn. Membership is fixed.
	member := false
	for _, id := range c.AgentQueue {
		if id == agentID {
			member = true
			break
		}
	}
	if !member {
		return nil, types.Errorf(types.ErrInvalidArgument, "agent %s is not part of the collaboration", agentID)
	}

	contrib := types.Contribution{
		AgentID:   agentID,
		Content:   content,
		Round:     c.CurrentRound + 1,
		Timestamp: time.Now(),
	}
	if err := m.collabs.AppendContribution(ctx, id, contrib); err != nil {
		return nil, err
	}
	c.Contributions = append(c.Contributions, contrib)

	c.TurnIndex = (c.TurnIndex + 1) % len(c.AgentQueue)
	if c.TurnIndex == 0 {
		c.CurrentRound++
	}

	if c.CurrentRound >= c.MaxRounds {
		m.finish(c, types.CollaborationCompleted, types.ReasonMaxRounds)
	}

	if err := m.collabs.Update(ctx, c); err != nil {
		return nil, err
	}

	m.metrics.Contribution()
	if c.Status == types.CollaborationCompleted {
		m.events.Publish(types.NewEvent(types.EventCollaborationCompleted, c.OwnerID, c.ID, map[string]any{
			"reason": c.Reason,
			"rounds": c.CurrentRound,
		}))
		m.logger.Info("collaboration completed",
			zap.String("collaboration_id", c.ID),
			zap.String("reason", c.Reason),
		)
	}
	return c, nil
}

// GetNextAgent returns the agent whose turn it is, or an empty string
// once the session is no longer active.
func (m *Manager) GetNextAgent(ctx context.Context, id string) (string, error) {
	c, err := m.collabs.Get(ctx, id)
	if err != nil {
		return "", err
	}
	if c.Status != types.CollaborationActive {
		return "", nil
	}
	return c.AgentQueue[c.TurnIndex], nil
}

// GetContext returns the session with its contributions in append order.
func (m *Manager) GetContext(ctx context.Context, id string) (*types.Collaboration, error) {
	return m.collabs.Get(ctx, id)
}

// List returns the owner's collaborations.
func (m *Manager) List(ctx context.Context, ownerID string) ([]*types.Collaboration, error) {
	return m.collabs.ListByOwner(ctx, ownerID)
}

// Complete terminates an active session explicitly, outside the
// automatic round-exhaustion path.
func (m *Manager) Complete(ctx context.Context, id, reason string) (*types.Collaboration, error) {
	return m.terminate(ctx, id, types.CollaborationCompleted, reason)
}

// Cancel terminates an active session without a result.
func (m *Manager) Cancel(ctx context.Context, id string) (*types.Collaboration, error) {
	return m.terminate(ctx, id, types.CollaborationCancelled, "cancelled")
}

func (m *Manager) terminate(ctx context.Context, id string, status types.CollaborationStatus, reason string) (*types.Collaboration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.collabs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != types.CollaborationActive {
		return nil, types.Errorf(types.ErrStateConflict, "collaboration %s is %s, not active", id, c.Status)
	}

	m.finish(c, status, reason)
	if err := m.collabs.Update(ctx, c); err != nil {
		return nil, err
	}

	m.events.Publish(types.NewEvent(types.EventCollaborationCompleted, c.OwnerID, c.ID, map[string]any{
		"reason": reason,
	}))
	m.logger.Info("collaboration terminated",
		zap.String("collaboration_id", id),
		zap.String("status", string(status)),
		zap.String("reason", reason),
	)
	return c, nil
}

// finish marks the session terminal and aggregates the result. The
// caller persists.
func (m *Manager) finish(c *types.Collaboration, status types.CollaborationStatus, reason string) {
	now := time.Now()
	c.Status = status
	c.Reason = reason
	c.CompletedAt = &now

	if status == types.CollaborationCompleted && len(c.Contributions) > 0 {
		parts := make([]string, 0, len(c.Contributions))
		for _, contrib := range c.Contributions {
			parts = append(parts, contrib.Content)
		}
		c.Result = strings.Join(parts, resultSeparator)
	}
}
