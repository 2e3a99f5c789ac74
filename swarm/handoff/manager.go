// Package handoff implements conversation handoff between agents with an
// accept/reject/cancel/expire lifecycle.
package handoff

import (
	"context"
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

// DefaultExpiry is the age after which a pending handoff expires.
const DefaultExpiry = 30 * time.Minute

// ConversationAssigner reassigns conversation ownership when a handoff
// completes. Conversations live outside the coordination core.
type ConversationAssigner interface {
	Assign(ctx context.Context, conversationID, agentID string) error
}

// NopAssigner ignores reassignment, for deployments where conversation
// ownership is tracked elsewhere.
type NopAssigner struct{}

func (NopAssigner) Assign(context.Context, string, string) error { return nil }

// CreateRequest describes a new handoff.
type CreateRequest struct {
	OwnerID        string
	ConversationID string
	FromAgentID    string
	// ToAgentID may be empty for an undirected handoff that any agent
	// may accept.
	ToAgentID  string
	Reason     string
	Context    map[string]any
	AutoAccept bool
}

// Manager owns the handoff lifecycle. The optional context blob lives in
// an in-process map only while the handoff is pending; it is lost on
// restart, while the durable handoff row survives.
type Manager struct {
	handoffs  store.HandoffStore
	directory *directory.Directory
	assigner  ConversationAssigner
	events    event.Publisher
	metrics   *metrics.Collector
	expiry    time.Duration
	logger    *zap.Logger

	mu       sync.Mutex
	contexts map[string]map[string]any
}

// Config wires the manager's collaborators.
type Config struct {
	Store     store.Store
	Directory *directory.Directory
	Assigner  ConversationAssigner
	Events    event.Publisher
	Metrics   *metrics.Collector
	Expiry    time.Duration
	Logger    *zap.Logger
}

// NewManager creates a handoff manager.
func NewManager(cfg Config) *Manager {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	events := cfg.Events
	if events == nil {
		events = event.Nop{}
	}
	assigner := cfg.Assigner
	if assigner == nil {
		assigner = NopAssigner{}
	}
	expiry := cfg.Expiry
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	return &Manager{
		handoffs:  cfg.Store.Handoffs(),
		directory: cfg.Directory,
		assigner:  assigner,
		events:    events,
		metrics:   cfg.Metrics,
		expiry:    expiry,
		logger:    logger.With(zap.String("component", "handoff_manager")),
		contexts:  make(map[string]map[string]any),
	}
}

// Create opens a handoff. With autoAccept the completed transition and
// its side effects are applied before the handoff is ever observable as
// pending. A directed non-auto handoff fails unless the target is idle.
func (m *Manager) Create(ctx context.Context, req CreateRequest) (*types.Handoff, error) {
	if req.ConversationID == "" {
		return nil, types.NewError(types.ErrInvalidArgument, "conversation id is required")
	}
	if req.FromAgentID == "" {
		return nil, types.NewError(types.ErrInvalidArgument, "from agent id is required")
	}
	if req.AutoAccept && req.ToAgentID == "" {
		return nil, types.NewError(types.ErrInvalidArgument, "auto-accept requires a target agent")
	}

	// Both agents must exist before any row is written; a bad id must
	// leave no durable or volatile trace.
	if _, err := m.directory.GetAgent(ctx, req.FromAgentID); err != nil {
		return nil, err
	}
	if req.ToAgentID != "" {
		target, err := m.directory.GetAgent(ctx, req.ToAgentID)
		if err != nil {
			return nil, err
		}
		if !req.AutoAccept && target.Status != types.AgentIdle {
			return nil, types.Errorf(types.ErrAgentUnavailable, "agent %s is %s, not idle", target.ID, target.Status)
		}
	}

	h := &types.Handoff{
		ID:             uuid.NewString(),
		OwnerID:        req.OwnerID,
		ConversationID: req.ConversationID,
		FromAgentID:    req.FromAgentID,
		ToAgentID:      req.ToAgentID,
		Reason:         req.Reason,
		Status:         types.HandoffPending,
		AutoAccept:     req.AutoAccept,
		CreatedAt:      time.Now(),
	}

	if req.AutoAccept {
		// The completed row is the first durable observation: no
		// intermediate pending state exists for auto-accepted handoffs.
		now := time.Now()
		h.Status = types.HandoffCompleted
		h.ResolvedAt = &now
		if err := m.handoffs.Create(ctx, h); err != nil {
			return nil, err
		}
		if err := m.applyTransfer(ctx, h); err != nil {
			return nil, err
		}
		m.metrics.HandoffOutcome("completed")
		m.events.Publish(types.NewEvent(types.EventHandoffAccepted, h.OwnerID, h.ID, map[string]any{
			"conversation_id": h.ConversationID,
			"to_agent_id":     h.ToAgentID,
			"auto_accept":     true,
		}))
		m.logger.Info("handoff auto-accepted",
			zap.String("handoff_id", h.ID),
			zap.String("from", h.FromAgentID),
			zap.String("to", h.ToAgentID),
		)
		return h, nil
	}

	if err := m.handoffs.Create(ctx, h); err != nil {
		return nil, err
	}
	if len(req.Context) > 0 {
		m.mu.Lock()
		m.contexts[h.ID] = req.Context
		m.mu.Unlock()
	}

	m.events.Publish(types.NewEvent(types.EventHandoffCreated, h.OwnerID, h.ID, map[string]any{
		"conversation_id": h.ConversationID,
		"from_agent_id":   h.FromAgentID,
		"to_agent_id":     h.ToAgentID,
	}))
	m.logger.Info("handoff created",
		zap.String("handoff_id", h.ID),
		zap.String("from", h.FromAgentID),
		zap.String("to", h.ToAgentID),
	)
	return h, nil
}

// Accept completes a pending handoff: the conversation is reassigned,
// the source agent goes idle and the target busy. The cached context, if
// any, is returned exactly once and then discarded. Accepting a handoff
// that is not pending is a state-conflict error and changes nothing.
func (m *Manager) Accept(ctx context.Context, id string) (*types.Handoff, map[string]any, error) {
	h, err := m.handoffs.Get(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if h.Status != types.HandoffPending {
		return nil, nil, types.Errorf(types.ErrStateConflict, "handoff %s is %s, not pending", id, h.Status)
	}
	if h.ToAgentID == "" {
		return nil, nil, types.Errorf(types.ErrStateConflict, "handoff %s has no target agent", id)
	}

	// Validate both agents before the terminal row is persisted, so a
	// stale agent id leaves the handoff pending and its context cached.
	if _, err := m.directory.GetAgent(ctx, h.FromAgentID); err != nil {
		return nil, nil, err
	}
	if _, err := m.directory.GetAgent(ctx, h.ToAgentID); err != nil {
		return nil, nil, err
	}

	now := time.Now()
	h.Status = types.HandoffCompleted
	h.ResolvedAt = &now
	if err := m.handoffs.Update(ctx, h); err != nil {
		return nil, nil, err
	}

	m.mu.Lock()
	handoffCtx := m.contexts[id]
	delete(m.contexts, id)
	m.mu.Unlock()

	if err := m.applyTransfer(ctx, h); err != nil {
		return nil, nil, err
	}

	m.metrics.HandoffOutcome("completed")
	m.events.Publish(types.NewEvent(types.EventHandoffAccepted, h.OwnerID, h.ID, map[string]any{
		"conversation_id": h.ConversationID,
		"to_agent_id":     h.ToAgentID,
	}))
	m.logger.Info("handoff accepted", zap.String("handoff_id", h.ID))
	return h, handoffCtx, nil
}

// Reject terminates a pending handoff without touching agent status or
// conversation ownership.
func (m *Manager) Reject(ctx context.Context, id, reason string) (*types.Handoff, error) {
	h, err := m.resolve(ctx, id, types.HandoffRejected, func(h *types.Handoff) {
		h.RejectReason = reason
	})
	if err != nil {
		return nil, err
	}
	m.metrics.HandoffOutcome("rejected")
	m.events.Publish(types.NewEvent(types.EventHandoffRejected, h.OwnerID, h.ID, map[string]any{
		"reason": reason,
	}))
	return h, nil
}

// Cancel terminates a pending handoff at the initiator's request.
func (m *Manager) Cancel(ctx context.Context, id string) (*types.Handoff, error) {
	h, err := m.resolve(ctx, id, types.HandoffCancelled, nil)
	if err != nil {
		return nil, err
	}
	m.metrics.HandoffOutcome("cancelled")
	m.events.Publish(types.NewEvent(types.EventHandoffCancelled, h.OwnerID, h.ID, nil))
	return h, nil
}

// Get returns a handoff by id.
func (m *Manager) Get(ctx context.Context, id string) (*types.Handoff, error) {
	return m.handoffs.Get(ctx, id)
}

// List returns the owner's handoffs, optionally filtered by status.
func (m *Manager) List(ctx context.Context, ownerID string, status types.HandoffStatus) ([]*types.Handoff, error) {
	return m.handoffs.ListByOwner(ctx, ownerID, status)
}

// PendingForAgent returns pending handoffs directed at the agent, oldest
// first.
func (m *Manager) PendingForAgent(ctx context.Context, agentID string) ([]*types.Handoff, error) {
	return m.handoffs.ListPendingForAgent(ctx, agentID)
}

// ExpirePending expires every pending handoff older than the configured
// window and returns how many were expired. Called by the orchestrator
// sweep; a handoff past its window but not yet swept still reads as
// pending.
func (m *Manager) ExpirePending(ctx context.Context) (int, error) {
	cutoff := time.Now().Add(-m.expiry)
	stale, err := m.handoffs.ListPendingOlderThan(ctx, cutoff)
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, h := range stale {
		now := time.Now()
		h.Status = types.HandoffExpired
		h.ResolvedAt = &now
		if err := m.handoffs.Update(ctx, h); err != nil {
			m.logger.Warn("failed to expire handoff",
				zap.String("handoff_id", h.ID),
				zap.Error(err),
			)
			continue
		}
		m.mu.Lock()
		delete(m.contexts, h.ID)
		m.mu.Unlock()

		expired++
		m.metrics.HandoffOutcome("expired")
		m.events.Publish(types.NewEvent(types.EventHandoffExpired, h.OwnerID, h.ID, nil))
	}

	if expired > 0 {
		m.logger.Info("expired pending handoffs", zap.Int("count", expired))
	}
	return expired, nil
}

// applyTransfer performs the completion side effects: conversation
// reassignment, source idle, target busy.
func (m *Manager) applyTransfer(ctx context.Context, h *types.Handoff) error {
	if err := m.assigner.Assign(ctx, h.ConversationID, h.ToAgentID); err != nil {
		return err
	}
	if err := m.directory.UpdateStatus(ctx, h.FromAgentID, types.AgentIdle); err != nil {
		return err
	}
	return m.directory.UpdateStatus(ctx, h.ToAgentID, types.AgentBusy)
}

// resolve applies a terminal transition to a pending handoff, persisting
// before the cached context is discarded.
func (m *Manager) resolve(ctx context.Context, id string, status types.HandoffStatus, mutate func(*types.Handoff)) (*types.Handoff, error) {
	h, err := m.handoffs.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if h.Status != types.HandoffPending {
		return nil, types.Errorf(types.ErrStateConflict, "handoff %s is %s, not pending", id, h.Status)
	}

	now := time.Now()
	h.Status = status
	h.ResolvedAt = &now
	if mutate != nil {
		mutate(h)
	}
	if err := m.handoffs.Update(ctx, h); err != nil {
		return nil, err
	}

	m.mu.Lock()
	delete(m.contexts, id)
	m.mu.Unlock()

	m.logger.Info("handoff resolved",
		zap.String("handoff_id", id),
		zap.String("status", string(status)),
	)
	return h, nil
}
