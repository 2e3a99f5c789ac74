// Package directory implements the agent directory: discovery queries,
// best-match selection, status and reputation updates, and liveness.
package directory

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/internal/cache"
	"github.com/BaSui01/swarmflow/internal/metrics"
	"github.com/BaSui01/swarmflow/store"
	"github.com/BaSui01/swarmflow/swarm/event"
	"github.com/BaSui01/swarmflow/types"
)

// recentHandoffWindow bounds the "recent handoffs" count in the swarm
// status summary.
const recentHandoffWindow = 24 * time.Hour

// preferredSkillBonus is added to the match score per preferred skill.
const preferredSkillBonus = 10

// MatchCriteria selects the best agent for a piece of work.
type MatchCriteria struct {
	// RequiredSkills disqualify any agent missing one of them.
	RequiredSkills []string
	// PreferredSkills add a score bonus per match.
	PreferredSkills []string
	// ExcludeIDs removes specific agents from consideration.
	ExcludeIDs []string
}

// StatusSummary is the aggregate view returned by SwarmStatus.
type StatusSummary struct {
	OwnerID        string                    `json:"owner_id"`
	Agents         map[types.AgentStatus]int `json:"agents"`
	TotalAgents    int                       `json:"total_agents"`
	ActiveTasks    int                       `json:"active_tasks"`
	RecentHandoffs int                       `json:"recent_handoffs"`
	GeneratedAt    time.Time                 `json:"generated_at"`
}

// Directory answers agent discovery queries and owns agent status and
// reputation mutation.
type Directory struct {
	agents      store.AgentStore
	tasks       store.TaskStore
	handoffs    store.HandoffStore
	cache       *cache.Cache
	metrics     *metrics.Collector
	events      event.Publisher
	snapshotTTL time.Duration
	logger      *zap.Logger
}

// Config wires the directory's collaborators.
type Config struct {
	Store       store.Store
	Cache       *cache.Cache
	Metrics     *metrics.Collector
	Events      event.Publisher
	SnapshotTTL time.Duration
	Logger      *zap.Logger
}

// New creates a Directory. Cache and Metrics may be nil; Events defaults
// to a no-op publisher.
func New(cfg Config) *Directory {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	events := cfg.Events
	if events == nil {
		events = event.Nop{}
	}
	snapshotTTL := cfg.SnapshotTTL
	if snapshotTTL <= 0 {
		snapshotTTL = time.Minute
	}
	return &Directory{
		agents:      cfg.Store.Agents(),
		tasks:       cfg.Store.Tasks(),
		handoffs:    cfg.Store.Handoffs(),
		cache:       cfg.Cache,
		metrics:     cfg.Metrics,
		events:      events,
		snapshotTTL: snapshotTTL,
		logger:      logger.With(zap.String("component", "agent_directory")),
	}
}

// GetAgent returns one agent with its inferred skills populated.
func (d *Directory) GetAgent(ctx context.Context, id string) (*types.Agent, error) {
	agent, err := d.agents.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	agent.Skills = InferSkills(agent)
	return agent, nil
}

// ListAgents returns the owner's agents ordered by reputation desc then
// created_at desc, with skills populated. An empty statusFilter matches
// all statuses; skillFilter is a case-insensitive substring match
// against the inferred skill set.
func (d *Directory) ListAgents(ctx context.Context, ownerID string, statusFilter types.AgentStatus, skillFilter string) ([]*types.Agent, error) {
	if statusFilter != "" && !types.ValidAgentStatus(statusFilter) {
		return nil, types.Errorf(types.ErrInvalidArgument, "invalid agent status %q", statusFilter)
	}

	agents, err := d.agents.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	out := make([]*types.Agent, 0, len(agents))
	for _, agent := range agents {
		if statusFilter != "" && agent.Status != statusFilter {
			continue
		}
		agent.Skills = InferSkills(agent)
		if skillFilter != "" && !hasSkill(agent.Skills, skillFilter) {
			continue
		}
		out = append(out, agent)
	}
	return out, nil
}

// FindBestAgent scores the owner's idle agents against the criteria and
// returns the best match. An agent missing a required skill is
// disqualified regardless of reputation; otherwise the score is its
// reputation plus a bonus per preferred skill. Ties keep the first
// candidate in listing order. Returns an AGENT_UNAVAILABLE error when no
// candidate qualifies.
func (d *Directory) FindBestAgent(ctx context.Context, ownerID string, criteria MatchCriteria) (*types.Agent, error) {
	agents, err := d.agents.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	excluded := make(map[string]bool, len(criteria.ExcludeIDs))
	for _, id := range criteria.ExcludeIDs {
		excluded[id] = true
	}

	var best *types.Agent
	bestScore := -1

	for _, agent := range agents {
		if agent.Status != types.AgentIdle || excluded[agent.ID] {
			continue
		}
		agent.Skills = InferSkills(agent)

		score := agent.Reputation
		disqualified := false
		for _, req := range criteria.RequiredSkills {
			if !hasSkill(agent.Skills, req) {
				disqualified = true
				break
			}
		}
		if disqualified {
			continue
		}
		for _, pref := range criteria.PreferredSkills {
			if hasSkill(agent.Skills, pref) {
				score += preferredSkillBonus
			}
		}

		// Strict > keeps the first max in listing order on ties.
		if score > bestScore {
			best = agent
			bestScore = score
		}
	}

	if best == nil {
		return nil, types.Errorf(types.ErrAgentUnavailable, "no idle agent matches the criteria")
	}
	return best, nil
}

// UpdateStatus validates and applies a status transition, invalidates
// the owner's cached status snapshot, and emits agent:status_changed.
func (d *Directory) UpdateStatus(ctx context.Context, agentID string, status types.AgentStatus) error {
	if !types.ValidAgentStatus(status) {
		return types.Errorf(types.ErrInvalidArgument, "invalid agent status %q", status)
	}

	agent, err := d.agents.Get(ctx, agentID)
	if err != nil {
		return err
	}
	if agent.Status == status {
		return nil
	}

	if err := d.agents.UpdateStatus(ctx, agentID, status); err != nil {
		return err
	}

	d.invalidateSnapshot(ctx, agent.OwnerID)
	d.events.Publish(types.NewEvent(types.EventAgentStatusChanged, agent.OwnerID, agentID, map[string]any{
		"from": string(agent.Status),
		"to":   string(status),
	}))

	d.logger.Debug("agent status changed",
		zap.String("agent_id", agentID),
		zap.String("from", string(agent.Status)),
		zap.String("to", string(status)),
	)
	return nil
}

// UpdateReputation applies delta to the agent's reputation, clamped into
// [0, 200]. Out-of-range results are clamped silently, never rejected.
func (d *Directory) UpdateReputation(ctx context.Context, agentID string, delta int) error {
	agent, err := d.agents.Get(ctx, agentID)
	if err != nil {
		return err
	}

	clamped := types.ClampReputation(agent.Reputation + delta)
	if clamped == agent.Reputation {
		return nil
	}
	if err := d.agents.UpdateReputation(ctx, agentID, clamped); err != nil {
		return err
	}

	d.invalidateSnapshot(ctx, agent.OwnerID)
	d.logger.Debug("agent reputation updated",
		zap.String("agent_id", agentID),
		zap.Int("delta", delta),
		zap.Int("score", clamped),
	)
	return nil
}

// Heartbeat refreshes the agent's liveness timestamp and brings an
// offline agent back to idle.
func (d *Directory) Heartbeat(ctx context.Context, agentID string) error {
	agent, err := d.agents.Get(ctx, agentID)
	if err != nil {
		return err
	}

	if agent.Status == types.AgentOffline {
		if err := d.UpdateStatus(ctx, agentID, types.AgentIdle); err != nil {
			return err
		}
	}
	return d.agents.Touch(ctx, agentID, time.Now())
}

// SwarmStatus returns counts by agent status plus active task and recent
// handoff counts for the owner. The result is cached for the snapshot
// TTL and invalidated by status changes.
func (d *Directory) SwarmStatus(ctx context.Context, ownerID string) (*StatusSummary, error) {
	key := snapshotKey(ownerID)

	var cached StatusSummary
	if err := d.cache.GetJSON(ctx, key, &cached); err == nil {
		return &cached, nil
	}

	agents, err := d.agents.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	activeTasks, err := d.tasks.CountActiveByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	recentHandoffs, err := d.handoffs.CountRecentByOwner(ctx, ownerID, time.Now().Add(-recentHandoffWindow))
	if err != nil {
		return nil, err
	}

	summary := &StatusSummary{
		OwnerID:        ownerID,
		Agents:         make(map[types.AgentStatus]int, 4),
		TotalAgents:    len(agents),
		ActiveTasks:    activeTasks,
		RecentHandoffs: recentHandoffs,
		GeneratedAt:    time.Now(),
	}
	for _, agent := range agents {
		summary.Agents[agent.Status]++
	}
	for _, status := range []types.AgentStatus{types.AgentIdle, types.AgentBusy, types.AgentOffline, types.AgentError} {
		d.metrics.SetAgentStatusCount(string(status), summary.Agents[status])
	}

	if err := d.cache.SetJSON(ctx, key, summary, d.snapshotTTL); err != nil {
		d.logger.Debug("failed to cache status snapshot", zap.Error(err))
	}
	return summary, nil
}

func (d *Directory) invalidateSnapshot(ctx context.Context, ownerID string) {
	if err := d.cache.Invalidate(ctx, snapshotKey(ownerID)); err != nil {
		d.logger.Debug("failed to invalidate status snapshot", zap.Error(err))
	}
}

func snapshotKey(ownerID string) string {
	return "swarm:status:" + ownerID
}
