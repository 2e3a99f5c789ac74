package store

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/BaSui01/swarmflow/types"
)

// Memory is a complete in-memory Store implementation. It is used by tests
// and by embedded deployments; data does not survive a restart.
type Memory struct {
	mu             sync.RWMutex
	agents         map[string]*types.Agent
	tasks          map[string]*types.SwarmTask
	handoffs       map[string]*types.Handoff
	collaborations map[string]*types.Collaboration
	consensus      map[string]*types.ConsensusRequest
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		agents:         make(map[string]*types.Agent),
		tasks:          make(map[string]*types.SwarmTask),
		handoffs:       make(map[string]*types.Handoff),
		collaborations: make(map[string]*types.Collaboration),
		consensus:      make(map[string]*types.ConsensusRequest),
	}
}

func (m *Memory) Agents() AgentStore                 { return (*memoryAgents)(m) }
func (m *Memory) Tasks() TaskStore                   { return (*memoryTasks)(m) }
func (m *Memory) Handoffs() HandoffStore             { return (*memoryHandoffs)(m) }
func (m *Memory) Collaborations() CollaborationStore { return (*memoryCollaborations)(m) }
func (m *Memory) Consensus() ConsensusStore          { return (*memoryConsensus)(m) }

func (m *Memory) Ping(ctx context.Context) error { return nil }
func (m *Memory) Close() error                   { return nil }

// ---------------------------------------------------------------------------
// agents

type memoryAgents Memory

func (s *memoryAgents) Create(_ context.Context, agent *types.Agent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.agents[agent.ID]; ok {
		return types.Errorf(types.ErrStateConflict, "agent %s already exists", agent.ID)
	}
	cp := *agent
	s.agents[agent.ID] = &cp
	return nil
}

func (s *memoryAgents) Get(_ context.Context, id string) (*types.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[id]
	if !ok {
		return nil, types.Errorf(types.ErrNotFound, "agent %s not found", id)
	}
	cp := *a
	return &cp, nil
}

func (s *memoryAgents) ListByOwner(_ context.Context, ownerID string) ([]*types.Agent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Agent
	for _, a := range s.agents {
		if a.OwnerID == ownerID {
			cp := *a
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Reputation != out[j].Reputation {
			return out[i].Reputation > out[j].Reputation
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *memoryAgents) UpdateStatus(_ context.Context, id string, status types.AgentStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return types.Errorf(types.ErrNotFound, "agent %s not found", id)
	}
	a.Status = status
	return nil
}

func (s *memoryAgents) UpdateReputation(_ context.Context, id string, score int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return types.Errorf(types.ErrNotFound, "agent %s not found", id)
	}
	a.Reputation = score
	return nil
}

func (s *memoryAgents) Touch(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[id]
	if !ok {
		return types.Errorf(types.ErrNotFound, "agent %s not found", id)
	}
	a.LastSeenAt = at
	return nil
}

// ---------------------------------------------------------------------------
// tasks

type memoryTasks Memory

func (s *memoryTasks) Create(_ context.Context, task *types.SwarmTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; ok {
		return types.Errorf(types.ErrStateConflict, "task %s already exists", task.ID)
	}
	cp := *task
	s.tasks[task.ID] = &cp
	return nil
}

func (s *memoryTasks) Get(_ context.Context, id string) (*types.SwarmTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tasks[id]
	if !ok {
		return nil, types.Errorf(types.ErrNotFound, "task %s not found", id)
	}
	cp := *t
	return &cp, nil
}

func (s *memoryTasks) ListByOwner(_ context.Context, ownerID string, status types.TaskStatus) ([]*types.SwarmTask, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.SwarmTask
	for _, t := range s.tasks {
		if t.OwnerID != ownerID {
			continue
		}
		if status != "" && t.Status != status {
			continue
		}
		cp := *t
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Priority.Rank() != out[j].Priority.Rank() {
			return out[i].Priority.Rank() > out[j].Priority.Rank()
		}
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *memoryTasks) Update(_ context.Context, task *types.SwarmTask) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[task.ID]; !ok {
		return types.Errorf(types.ErrNotFound, "task %s not found", task.ID)
	}
	cp := *task
	s.tasks[task.ID] = &cp
	return nil
}

func (s *memoryTasks) CountActiveByOwner(_ context.Context, ownerID string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, t := range s.tasks {
		if t.OwnerID == ownerID && !t.Status.Terminal() {
			n++
		}
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// handoffs

type memoryHandoffs Memory

func (s *memoryHandoffs) Create(_ context.Context, h *types.Handoff) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handoffs[h.ID]; ok {
		return types.Errorf(types.ErrStateConflict, "handoff %s already exists", h.ID)
	}
	cp := *h
	s.handoffs[h.ID] = &cp
	return nil
}

func (s *memoryHandoffs) Get(_ context.Context, id string) (*types.Handoff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.handoffs[id]
	if !ok {
		return nil, types.Errorf(types.ErrNotFound, "handoff %s not found", id)
	}
	cp := *h
	return &cp, nil
}

func (s *memoryHandoffs) Update(_ context.Context, h *types.Handoff) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handoffs[h.ID]; !ok {
		return types.Errorf(types.ErrNotFound, "handoff %s not found", h.ID)
	}
	cp := *h
	s.handoffs[h.ID] = &cp
	return nil
}

func (s *memoryHandoffs) ListByOwner(_ context.Context, ownerID string, status types.HandoffStatus) ([]*types.Handoff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Handoff
	for _, h := range s.handoffs {
		if h.OwnerID != ownerID {
			continue
		}
		if status != "" && h.Status != status {
			continue
		}
		cp := *h
		out = append(out, &cp)
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *memoryHandoffs) ListPendingForAgent(_ context.Context, agentID string) ([]*types.Handoff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Handoff
	for _, h := range s.handoffs {
		if h.Status == types.HandoffPending && h.ToAgentID == agentID {
			cp := *h
			out = append(out, &cp)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func (s *memoryHandoffs) ListPendingOlderThan(_ context.Context, cutoff time.Time) ([]*types.Handoff, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Handoff
	for _, h := range s.handoffs {
		if h.Status == types.HandoffPending && h.CreatedAt.Before(cutoff) {
			cp := *h
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (s *memoryHandoffs) CountRecentByOwner(_ context.Context, ownerID string, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, h := range s.handoffs {
		if h.OwnerID == ownerID && h.CreatedAt.After(since) {
			n++
		}
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// collaborations

type memoryCollaborations Memory

func copyCollaboration(c *types.Collaboration) *types.Collaboration {
	cp := *c
	cp.AgentQueue = append([]string(nil), c.AgentQueue...)
	cp.Contributions = append([]types.Contribution(nil), c.Contributions...)
	return &cp
}

func (s *memoryCollaborations) Create(_ context.Context, c *types.Collaboration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.collaborations[c.ID]; ok {
		return types.Errorf(types.ErrStateConflict, "collaboration %s already exists", c.ID)
	}
	s.collaborations[c.ID] = copyCollaboration(c)
	return nil
}

func (s *memoryCollaborations) Get(_ context.Context, id string) (*types.Collaboration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.collaborations[id]
	if !ok {
		return nil, types.Errorf(types.ErrNotFound, "collaboration %s not found", id)
	}
	return copyCollaboration(c), nil
}

func (s *memoryCollaborations) Update(_ context.Context, c *types.Collaboration) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.collaborations[c.ID]
	if !ok {
		return types.Errorf(types.ErrNotFound, "collaboration %s not found", c.ID)
	}
	cp := copyCollaboration(c)
	// contributions are append-only; keep whichever list is longer
	if len(stored.Contributions) > len(cp.Contributions) {
		cp.Contributions = stored.Contributions
	}
	s.collaborations[c.ID] = cp
	return nil
}

func (s *memoryCollaborations) AppendContribution(_ context.Context, id string, contrib types.Contribution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.collaborations[id]
	if !ok {
		return types.Errorf(types.ErrNotFound, "collaboration %s not found", id)
	}
	c.Contributions = append(c.Contributions, contrib)
	return nil
}

func (s *memoryCollaborations) ListByOwner(_ context.Context, ownerID string) ([]*types.Collaboration, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.Collaboration
	for _, c := range s.collaborations {
		if c.OwnerID == ownerID {
			out = append(out, copyCollaboration(c))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

// ---------------------------------------------------------------------------
// consensus

type memoryConsensus Memory

func copyConsensus(c *types.ConsensusRequest) *types.ConsensusRequest {
	cp := *c
	cp.Options = append([]string(nil), c.Options...)
	cp.AgentIDs = append([]string(nil), c.AgentIDs...)
	cp.Votes = append([]types.Vote(nil), c.Votes...)
	return &cp
}

func (s *memoryConsensus) Create(_ context.Context, c *types.ConsensusRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.consensus[c.ID]; ok {
		return types.Errorf(types.ErrStateConflict, "consensus %s already exists", c.ID)
	}
	s.consensus[c.ID] = copyConsensus(c)
	return nil
}

func (s *memoryConsensus) Get(_ context.Context, id string) (*types.ConsensusRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	c, ok := s.consensus[id]
	if !ok {
		return nil, types.Errorf(types.ErrNotFound, "consensus %s not found", id)
	}
	return copyConsensus(c), nil
}

func (s *memoryConsensus) Update(_ context.Context, c *types.ConsensusRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.consensus[c.ID]; !ok {
		return types.Errorf(types.ErrNotFound, "consensus %s not found", c.ID)
	}
	s.consensus[c.ID] = copyConsensus(c)
	return nil
}

func (s *memoryConsensus) ListByOwner(_ context.Context, ownerID string) ([]*types.ConsensusRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.ConsensusRequest
	for _, c := range s.consensus {
		if c.OwnerID == ownerID {
			out = append(out, copyConsensus(c))
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	return out, nil
}

func (s *memoryConsensus) ListPendingExpired(_ context.Context, now time.Time) ([]*types.ConsensusRequest, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*types.ConsensusRequest
	for _, c := range s.consensus {
		if c.Status == types.ConsensusPending && now.After(c.ExpiresAt) {
			out = append(out, copyConsensus(c))
		}
	}
	return out, nil
}
