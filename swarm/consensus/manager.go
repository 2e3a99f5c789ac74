// Package consensus runs time-boxed votes among a fixed electorate over
// an ordered set of options, resolving a winner by threshold or
// plurality.
package consensus

import (
	"context"
	"math"
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

// VoteOutcome reports the state of the request after a vote.
type VoteOutcome struct {
	Request *types.ConsensusRequest
	// Resolved is true when this vote closed the request.
	Resolved bool
	// Leader is the current or final leading option.
	Leader      string
	LeaderVotes int
	// VotesNeeded is how many more votes the leader needs to reach the
	// threshold; zero once resolved.
	VotesNeeded int
}

// Manager owns consensus requests. The per-request vote tally is held in
// an in-process map while pending and persisted in full on completion;
// a restart loses in-flight votes but never a recorded outcome.
type Manager struct {
	consensus store.ConsensusStore
	directory *directory.Directory
	events    event.Publisher
	metrics   *metrics.Collector
	logger    *zap.Logger

	// mu linearizes vote evaluation: tallying reads-then-writes shared
	// counters, so no two votes may be evaluated from a stale snapshot.
	mu      sync.Mutex
	tallies map[string][]types.Vote
}

// Config wires the manager's collaborators.
type Config struct {
	Store     store.Store
	Directory *directory.Directory
	Events    event.Publisher
	Metrics   *metrics.Collector
	Logger    *zap.Logger
}

// NewManager creates a consensus manager.
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
		consensus: cfg.Store.Consensus(),
		directory: cfg.Directory,
		events:    events,
		metrics:   cfg.Metrics,
		logger:    logger.With(zap.String("component", "consensus_manager")),
		tallies:   make(map[string][]types.Vote),
	}
}

// RequiredVotes computes ceil(n * threshold).
func RequiredVotes(n int, threshold float64) int {
	return int(math.Ceil(float64(n) * threshold))
}

// Create opens a vote. The electorate must hold at least two distinct,
// existing agents; threshold must lie in (0, 1].
func (m *Manager) Create(ctx context.Context, ownerID, question string, options, agentIDs []string, threshold float64, expiresIn time.Duration) (*types.ConsensusRequest, error) {
	if len(options) < 2 {
		return nil, types.NewError(types.ErrInvalidArgument, "at least 2 options are required")
	}
	seen := make(map[string]bool, len(options))
	for _, opt := range options {
		if opt == "" || seen[opt] {
			return nil, types.NewError(types.ErrInvalidArgument, "options must be non-empty and distinct")
		}
		seen[opt] = true
	}
	if threshold <= 0 || threshold > 1 {
		return nil, types.Errorf(types.ErrInvalidArgument, "threshold %v outside (0, 1]", threshold)
	}
	if expiresIn <= 0 {
		return nil, types.NewError(types.ErrInvalidArgument, "expiry duration must be positive")
	}

	distinct := make(map[string]bool, len(agentIDs))
	for _, id := range agentIDs {
		distinct[id] = true
	}
	if len(distinct) < 2 {
		return nil, types.NewError(types.ErrInvalidArgument, "at least 2 distinct electors are required")
	}
	for _, id := range agentIDs {
		if _, err := m.directory.GetAgent(ctx, id); err != nil {
			return nil, err
		}
	}

	c := &types.ConsensusRequest{
		ID:            uuid.NewString(),
		OwnerID:       ownerID,
		Question:      question,
		Options:       append([]string(nil), options...),
		AgentIDs:      append([]string(nil), agentIDs...),
		Threshold:     threshold,
		RequiredVotes: RequiredVotes(len(agentIDs), threshold),
		Status:        types.ConsensusPending,
		ExpiresAt:     time.Now().Add(expiresIn),
		CreatedAt:     time.Now(),
	}
	if err := m.consensus.Create(ctx, c); err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.tallies[c.ID] = nil
	m.mu.Unlock()

	m.events.Publish(types.NewEvent(types.EventConsensusCreated, ownerID, c.ID, map[string]any{
		"question":       question,
		"options":        c.Options,
		"required_votes": c.RequiredVotes,
	}))
	m.logger.Info("consensus created",
		zap.String("consensus_id", c.ID),
		zap.Int("electors", len(c.AgentIDs)),
		zap.Int("required_votes", c.RequiredVotes),
	)
	return c, nil
}

// SubmitVote records one agent's choice and evaluates resolution.
// Expiry is applied eagerly before the vote is considered: voting on a
// request past its deadline finalizes it as expired and fails with an
// EXPIRED error. Each agent votes at most once.
func (m *Manager) SubmitVote(ctx context.Context, id, agentID, choice, reasoning string) (*VoteOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.consensus.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status != types.ConsensusPending {
		return nil, types.Errorf(types.ErrStateConflict, "consensus %s is %s, not pending", id, c.Status)
	}

	if time.Now().After(c.ExpiresAt) {
		if err := m.finalizeLocked(ctx, c, types.ConsensusExpired, types.ReasonExpired); err != nil {
			return nil, err
		}
		return nil, types.Errorf(types.ErrExpired, "consensus %s expired before the vote", id)
	}

	elector := false
	for _, eid := range c.AgentIDs {
		if eid == agentID {
			elector = true
			break
		}
	}
	if !elector {
		return nil, types.Errorf(types.ErrInvalidArgument, "agent %s is not part of the electorate", agentID)
	}
	validChoice := false
	for _, opt := range c.Options {
		if opt == choice {
			validChoice = true
			break
		}
	}
	if !validChoice {
		return nil, types.Errorf(types.ErrInvalidArgument, "choice %q is not one of the options", choice)
	}

	votes := m.tallies[id]
	for _, v := range votes {
		if v.AgentID == agentID {
			m.metrics.VoteSubmitted("duplicate")
			return nil, types.Errorf(types.ErrAlreadyVoted, "agent %s already voted", agentID)
		}
	}

	votes = append(votes, types.Vote{
		AgentID:   agentID,
		Choice:    choice,
		Reasoning: reasoning,
		Timestamp: time.Now(),
	})
	m.tallies[id] = votes
	m.metrics.VoteSubmitted("accepted")

	leader, leaderVotes := tally(votes)
	outcome := &VoteOutcome{
		Request:     c,
		Leader:      leader,
		LeaderVotes: leaderVotes,
	}

	switch {
	case leaderVotes >= c.RequiredVotes:
		c.Winner = leader
		if err := m.finalizeLocked(ctx, c, types.ConsensusCompleted, types.ReasonConsensusReached); err != nil {
			return nil, err
		}
		outcome.Resolved = true
	case len(votes) == len(c.AgentIDs):
		// Every elector voted but nothing met the threshold: plurality
		// decision, explicitly flagged by the reason.
		c.Winner = leader
		if err := m.finalizeLocked(ctx, c, types.ConsensusCompleted, types.ReasonAllVotesIn); err != nil {
			return nil, err
		}
		outcome.Resolved = true
	default:
		c.Votes = append([]types.Vote(nil), votes...)
		outcome.VotesNeeded = c.RequiredVotes - leaderVotes
	}

	return outcome, nil
}

// Get returns the request; while pending, the volatile vote tally is
// attached to the returned copy.
func (m *Manager) Get(ctx context.Context, id string) (*types.ConsensusRequest, error) {
	c, err := m.consensus.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.Status == types.ConsensusPending {
		m.mu.Lock()
		c.Votes = append([]types.Vote(nil), m.tallies[id]...)
		m.mu.Unlock()
	}
	return c, nil
}

// List returns the owner's consensus requests.
func (m *Manager) List(ctx context.Context, ownerID string) ([]*types.ConsensusRequest, error) {
	return m.consensus.ListByOwner(ctx, ownerID)
}

// Expire finalizes a pending request whose deadline passed, persisting
// the partial tally with reason expired.
func (m *Manager) Expire(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c, err := m.consensus.Get(ctx, id)
	if err != nil {
		return err
	}
	if c.Status != types.ConsensusPending {
		return types.Errorf(types.ErrStateConflict, "consensus %s is %s, not pending", id, c.Status)
	}
	if time.Now().Before(c.ExpiresAt) {
		return types.Errorf(types.ErrStateConflict, "consensus %s has not reached its deadline", id)
	}
	return m.finalizeLocked(ctx, c, types.ConsensusExpired, types.ReasonExpired)
}

// ExpirePending finalizes every pending request past its deadline and
// returns how many were expired. Called by the orchestrator sweep.
func (m *Manager) ExpirePending(ctx context.Context) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	stale, err := m.consensus.ListPendingExpired(ctx, time.Now())
	if err != nil {
		return 0, err
	}

	expired := 0
	for _, c := range stale {
		if err := m.finalizeLocked(ctx, c, types.ConsensusExpired, types.ReasonExpired); err != nil {
			m.logger.Warn("failed to expire consensus",
				zap.String("consensus_id", c.ID),
				zap.Error(err),
			)
			continue
		}
		expired++
	}

	if expired > 0 {
		m.logger.Info("expired pending consensus requests", zap.Int("count", expired))
	}
	return expired, nil
}

// finalizeLocked persists the terminal state, including the full vote
// record, before releasing the in-memory tally. Callers hold m.mu.
func (m *Manager) finalizeLocked(ctx context.Context, c *types.ConsensusRequest, status types.ConsensusStatus, reason string) error {
	now := time.Now()
	c.Status = status
	c.Reason = reason
	c.CompletedAt = &now
	c.Votes = append([]types.Vote(nil), m.tallies[c.ID]...)

	if status == types.ConsensusExpired && c.Winner == "" && len(c.Votes) > 0 {
		// Record the partial leader for observability; the reason makes
		// clear no threshold was met.
		c.Winner, _ = tally(c.Votes)
	}

	if err := m.consensus.Update(ctx, c); err != nil {
		return err
	}
	delete(m.tallies, c.ID)

	m.metrics.ConsensusResolved(reason)
	m.events.Publish(types.NewEvent(types.EventConsensusResolved, c.OwnerID, c.ID, map[string]any{
		"reason": reason,
		"winner": c.Winner,
		"votes":  len(c.Votes),
	}))
	m.logger.Info("consensus resolved",
		zap.String("consensus_id", c.ID),
		zap.String("reason", reason),
		zap.String("winner", c.Winner),
	)
	return nil
}

// tally counts votes per option and returns the leader. Ties break
// toward the option whose first vote arrived earliest, so the outcome
// depends only on the recorded vote order.
func tally(votes []types.Vote) (leader string, leaderVotes int) {
	counts := make(map[string]int, len(votes))
	for _, v := range votes {
		counts[v.Choice]++
	}
	for _, n := range counts {
		if n > leaderVotes {
			leaderVotes = n
		}
	}
	for _, v := range votes {
		if counts[v.Choice] == leaderVotes {
			return v.Choice, leaderVotes
		}
	}
	return "", 0
}
