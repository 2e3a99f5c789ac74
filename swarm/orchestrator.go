// Package swarm implements the orchestrator: task lifecycle, broadcast
// fan-out, distributed generation, façades over the coordination
// managers, and the background expiry sweep.
package swarm

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/BaSui01/swarmflow/config"
	"github.com/BaSui01/swarmflow/internal/metrics"
	"github.com/BaSui01/swarmflow/store"
	"github.com/BaSui01/swarmflow/swarm/collaboration"
	"github.com/BaSui01/swarmflow/swarm/consensus"
	"github.com/BaSui01/swarmflow/swarm/directory"
	"github.com/BaSui01/swarmflow/swarm/event"
	"github.com/BaSui01/swarmflow/swarm/handoff"
	"github.com/BaSui01/swarmflow/types"
)

// Reputation deltas applied on task resolution.
const (
	reputationReward  = 5
	reputationPenalty = 3
)

// DefaultSweepInterval is the period of the background expiry sweep.
const DefaultSweepInterval = 60 * time.Second

// Notifier delivers broadcast messages to agents. Delivery is an
// external concern, the orchestrator only records outcomes.
type Notifier interface {
	Notify(ctx context.Context, agentID, message string) error
}

// NopNotifier accepts every delivery without doing anything.
type NopNotifier struct{}

func (NopNotifier) Notify(context.Context, string, string) error { return nil }

// Generator produces an agent's response to a prompt. It is the only
// asynchronous external capability the orchestrator depends on.
type Generator interface {
	Generate(ctx context.Context, agentID, prompt string) (string, error)
}

// Orchestrator drives tasks through their lifecycle and owns the
// process-wide expiry sweep.
type Orchestrator struct {
	tasks     store.TaskStore
	directory *directory.Directory
	handoffs  *handoff.Manager
	collabs   *collaboration.Manager
	consensus *consensus.Manager
	generator Generator
	notifier  Notifier
	events    event.Publisher
	metrics   *metrics.Collector
	logger    *zap.Logger

	limiter       *rate.Limiter
	distLimit     int
	sweepInterval time.Duration

	mu      sync.Mutex
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// OrchestratorConfig wires the orchestrator's collaborators.
type OrchestratorConfig struct {
	Store          store.Store
	Directory      *directory.Directory
	Handoffs       *handoff.Manager
	Collaborations *collaboration.Manager
	Consensus      *consensus.Manager
	Generator      Generator
	Notifier       Notifier
	Events         event.Publisher
	Metrics        *metrics.Collector
	Swarm          config.SwarmConfig
	Logger         *zap.Logger
}

// NewOrchestrator creates an orchestrator.
func NewOrchestrator(cfg OrchestratorConfig) *Orchestrator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	events := cfg.Events
	if events == nil {
		events = event.Nop{}
	}
	notifier := cfg.Notifier
	if notifier == nil {
		notifier = NopNotifier{}
	}
	distLimit := cfg.Swarm.DistributionLimit
	if distLimit <= 0 {
		distLimit = 3
	}
	sweepInterval := cfg.Swarm.SweepInterval
	if sweepInterval <= 0 {
		sweepInterval = DefaultSweepInterval
	}
	broadcastRate := cfg.Swarm.BroadcastRate
	if broadcastRate <= 0 {
		broadcastRate = 100
	}
	broadcastBurst := cfg.Swarm.BroadcastBurst
	if broadcastBurst <= 0 {
		broadcastBurst = 25
	}
	return &Orchestrator{
		tasks:         cfg.Store.Tasks(),
		directory:     cfg.Directory,
		handoffs:      cfg.Handoffs,
		collabs:       cfg.Collaborations,
		consensus:     cfg.Consensus,
		generator:     cfg.Generator,
		notifier:      notifier,
		events:        events,
		metrics:       cfg.Metrics,
		logger:        logger.With(zap.String("component", "orchestrator")),
		limiter:       rate.NewLimiter(rate.Limit(broadcastRate), broadcastBurst),
		distLimit:     distLimit,
		sweepInterval: sweepInterval,
	}
}

// CreateTaskRequest describes a new swarm task.
type CreateTaskRequest struct {
	OwnerID     string
	Title       string
	Description string
	Priority    types.TaskPriority
	// AutoAssign asks the directory for the best idle agent matching
	// RequiredSkills. When no agent qualifies the task stays pending.
	AutoAssign     bool
	RequiredSkills []string
}

// CreateTask creates a task, optionally auto-assigned. An assigned task
// moves directly to in_progress and the agent to busy.
func (o *Orchestrator) CreateTask(ctx context.Context, req CreateTaskRequest) (*types.SwarmTask, error) {
	if req.Title == "" {
		return nil, types.NewError(types.ErrInvalidArgument, "task title is required")
	}
	priority := req.Priority
	if priority == "" {
		priority = types.PriorityNormal
	}
	if !types.ValidTaskPriority(priority) {
		return nil, types.Errorf(types.ErrInvalidArgument, "invalid task priority: %s", priority)
	}

	task := &types.SwarmTask{
		ID:          uuid.NewString(),
		OwnerID:     req.OwnerID,
		Title:       req.Title,
		Description: req.Description,
		Priority:    priority,
		Status:      types.TaskPending,
		CreatedAt:   time.Now(),
		UpdatedAt:   time.Now(),
	}

	if req.AutoAssign {
		agent, err := o.directory.FindBestAgent(ctx, req.OwnerID, directory.MatchCriteria{
			RequiredSkills: req.RequiredSkills,
		})
		switch {
		case err == nil:
			task.AssignedAgentID = agent.ID
			task.Status = types.TaskInProgress
		case types.CodeOf(err) == types.ErrAgentUnavailable:
			// No qualifying agent right now. Leave it pending.
		default:
			return nil, err
		}
	}

	if err := o.tasks.Create(ctx, task); err != nil {
		return nil, err
	}
	if task.AssignedAgentID != "" {
		if err := o.directory.UpdateStatus(ctx, task.AssignedAgentID, types.AgentBusy); err != nil {
			return nil, err
		}
	}

	o.metrics.TaskTransition(string(task.Status))
	o.events.Publish(types.NewEvent(types.EventTaskCreated, task.OwnerID, task.ID, map[string]any{
		"title":    task.Title,
		"priority": string(task.Priority),
	}))
	if task.AssignedAgentID != "" {
		o.events.Publish(types.NewEvent(types.EventTaskAssigned, task.OwnerID, task.ID, map[string]any{
			"agent_id": task.AssignedAgentID,
		}))
	}
	o.logger.Info("task created",
		zap.String("task_id", task.ID),
		zap.String("status", string(task.Status)),
		zap.String("agent_id", task.AssignedAgentID),
	)
	return task, nil
}

// AssignTask assigns a pending task to an idle agent.
func (o *Orchestrator) AssignTask(ctx context.Context, taskID, agentID string) (*types.SwarmTask, error) {
	task, err := o.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != types.TaskPending {
		return nil, types.Errorf(types.ErrStateConflict, "task %s is %s, not pending", taskID, task.Status)
	}
	agent, err := o.directory.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if agent.Status != types.AgentIdle {
		return nil, types.Errorf(types.ErrAgentUnavailable, "agent %s is %s, not idle", agentID, agent.Status)
	}

	task.AssignedAgentID = agentID
	task.Status = types.TaskInProgress
	task.UpdatedAt = time.Now()
	if err := o.tasks.Update(ctx, task); err != nil {
		return nil, err
	}
	if err := o.directory.UpdateStatus(ctx, agentID, types.AgentBusy); err != nil {
		return nil, err
	}

	o.metrics.TaskTransition(string(types.TaskInProgress))
	o.events.Publish(types.NewEvent(types.EventTaskAssigned, task.OwnerID, task.ID, map[string]any{
		"agent_id": agentID,
	}))
	return task, nil
}

// CompleteTask marks an in-progress task completed, stores the result,
// rewards the assignee and releases it back to idle.
func (o *Orchestrator) CompleteTask(ctx context.Context, taskID, result string) (*types.SwarmTask, error) {
	return o.resolveTask(ctx, taskID, types.TaskCompleted, result, reputationReward)
}

// FailTask marks an in-progress task failed, records the reason,
// penalizes the assignee and releases it back to idle.
func (o *Orchestrator) FailTask(ctx context.Context, taskID, reason string) (*types.SwarmTask, error) {
	return o.resolveTask(ctx, taskID, types.TaskFailed, reason, -reputationPenalty)
}

func (o *Orchestrator) resolveTask(ctx context.Context, taskID string, status types.TaskStatus, result string, delta int) (*types.SwarmTask, error) {
	task, err := o.tasks.Get(ctx, taskID)
	if err != nil {
		return nil, err
	}
	if task.Status != types.TaskInProgress {
		return nil, types.Errorf(types.ErrStateConflict, "task %s is %s, not in progress", taskID, task.Status)
	}

	now := time.Now()
	task.Status = status
	task.Result = result
	task.UpdatedAt = now
	task.CompletedAt = &now
	if err := o.tasks.Update(ctx, task); err != nil {
		return nil, err
	}

	if task.AssignedAgentID != "" {
		if err := o.directory.UpdateReputation(ctx, task.AssignedAgentID, delta); err != nil {
			return nil, err
		}
		if err := o.directory.UpdateStatus(ctx, task.AssignedAgentID, types.AgentIdle); err != nil {
			return nil, err
		}
	}

	o.metrics.TaskTransition(string(status))
	eventType := types.EventTaskCompleted
	if status == types.TaskFailed {
		eventType = types.EventTaskFailed
	}
	o.events.Publish(types.NewEvent(eventType, task.OwnerID, task.ID, map[string]any{
		"agent_id": task.AssignedAgentID,
	}))
	o.logger.Info("task resolved",
		zap.String("task_id", task.ID),
		zap.String("status", string(status)),
		zap.String("agent_id", task.AssignedAgentID),
	)
	return task, nil
}

// GetTask returns a task by id.
func (o *Orchestrator) GetTask(ctx context.Context, id string) (*types.SwarmTask, error) {
	return o.tasks.Get(ctx, id)
}

// ListTasks returns the owner's tasks, optionally filtered by status.
func (o *Orchestrator) ListTasks(ctx context.Context, ownerID string, status types.TaskStatus) ([]*types.SwarmTask, error) {
	return o.tasks.ListByOwner(ctx, ownerID, status)
}

// BroadcastResult tallies per-agent delivery outcomes.
type BroadcastResult struct {
	Delivered map[string]bool
	Succeeded int
	Failed    int
}

// Broadcast fans a message out to the target agents, or to all of the
// owner's agents when no targets are given. Fan-out is rate limited; a
// failed delivery never aborts the rest.
func (o *Orchestrator) Broadcast(ctx context.Context, ownerID, message string, targetIDs []string) (*BroadcastResult, error) {
	if message == "" {
		return nil, types.NewError(types.ErrInvalidArgument, "broadcast message is required")
	}
	if len(targetIDs) == 0 {
		agents, err := o.directory.ListAgents(ctx, ownerID, "", "")
		if err != nil {
			return nil, err
		}
		for _, a := range agents {
			targetIDs = append(targetIDs, a.ID)
		}
	}

	result := &BroadcastResult{Delivered: make(map[string]bool, len(targetIDs))}
	for _, agentID := range targetIDs {
		if err := o.limiter.Wait(ctx); err != nil {
			return result, err
		}
		err := o.notifier.Notify(ctx, agentID, message)
		ok := err == nil
		result.Delivered[agentID] = ok
		if ok {
			result.Succeeded++
		} else {
			result.Failed++
			o.logger.Warn("broadcast delivery failed",
				zap.String("agent_id", agentID),
				zap.Error(err),
			)
		}
		o.metrics.BroadcastDelivery(ok)
	}
	return result, nil
}

// RequestHandoff opens a handoff through the handoff manager.
func (o *Orchestrator) RequestHandoff(ctx context.Context, req handoff.CreateRequest) (*types.Handoff, error) {
	return o.handoffs.Create(ctx, req)
}

// StartCollaboration opens a collaboration session.
func (o *Orchestrator) StartCollaboration(ctx context.Context, ownerID string, agentIDs []string, task string, mode types.CollaborationMode, maxRounds int) (*types.Collaboration, error) {
	return o.collabs.Create(ctx, ownerID, agentIDs, task, mode, maxRounds)
}

// RequestConsensus opens a consensus vote.
func (o *Orchestrator) RequestConsensus(ctx context.Context, ownerID, question string, options, agentIDs []string, threshold float64, expiresIn time.Duration) (*types.ConsensusRequest, error) {
	return o.consensus.Create(ctx, ownerID, question, options, agentIDs, threshold, expiresIn)
}

// AgentResult is one agent's outcome in a distributed execution.
type AgentResult struct {
	AgentID  string
	Output   string
	Err      string
	Duration time.Duration
}

// DistributionResult carries all raw per-agent results plus the id of
// the consensus opened over the successful ones, if any.
type DistributionResult struct {
	Results []AgentResult
	// ConsensusID is empty when fewer than two distinct successful
	// results came back.
	ConsensusID string
}

// ExecuteWithDistribution runs the prompt concurrently against the
// candidate agents, bounded by the distribution limit. When at least two
// distinct results succeed it opens a consensus asking which result is
// best, with the original agents as the electorate, and returns without
// blocking on its resolution.
func (o *Orchestrator) ExecuteWithDistribution(ctx context.Context, ownerID, prompt string, agentIDs []string) (*DistributionResult, error) {
	if o.generator == nil {
		return nil, types.NewError(types.ErrInternal, "no generator configured")
	}
	if prompt == "" {
		return nil, types.NewError(types.ErrInvalidArgument, "prompt is required")
	}
	if len(agentIDs) == 0 {
		return nil, types.NewError(types.ErrInvalidArgument, "at least one agent is required")
	}

	results := make([]AgentResult, len(agentIDs))
	g := &errgroup.Group{}
	g.SetLimit(o.distLimit)
	for i, agentID := range agentIDs {
		i, agentID := i, agentID
		g.Go(func() error {
			start := time.Now()
			output, err := o.generator.Generate(ctx, agentID, prompt)
			elapsed := time.Since(start)
			o.metrics.ObserveGenerate(elapsed, err == nil)
			results[i] = AgentResult{AgentID: agentID, Output: output, Duration: elapsed}
			if err != nil {
				results[i].Err = err.Error()
				o.logger.Warn("generation failed",
					zap.String("agent_id", agentID),
					zap.Error(err),
				)
			}
			return nil
		})
	}
	// Workers record their own failures and never return an error.
	_ = g.Wait()

	dist := &DistributionResult{Results: results}

	// Options must be distinct; identical outputs collapse into one.
	var options []string
	seen := make(map[string]bool)
	for _, r := range results {
		if r.Err != "" || r.Output == "" || seen[r.Output] {
			continue
		}
		seen[r.Output] = true
		options = append(options, r.Output)
	}
	if len(options) >= 2 {
		c, err := o.consensus.Create(ctx, ownerID, "which result is best", options, agentIDs, 0.5, o.sweepInterval*10)
		if err != nil {
			o.logger.Warn("failed to open consensus over distribution results", zap.Error(err))
		} else {
			dist.ConsensusID = c.ID
		}
	}

	o.logger.Info("distribution finished",
		zap.Int("agents", len(agentIDs)),
		zap.Int("distinct_results", len(options)),
		zap.String("consensus_id", dist.ConsensusID),
	)
	return dist, nil
}

// Start launches the background expiry sweep. It is a no-op when
// already running.
func (o *Orchestrator) Start() {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.started {
		return
	}
	o.started = true
	o.stopCh = make(chan struct{})
	o.doneCh = make(chan struct{})
	go o.sweepLoop(o.stopCh, o.doneCh)
	o.logger.Info("expiry sweep started", zap.Duration("interval", o.sweepInterval))
}

// Stop halts the sweep loop and waits for it to exit.
func (o *Orchestrator) Stop() {
	o.mu.Lock()
	if !o.started {
		o.mu.Unlock()
		return
	}
	o.started = false
	close(o.stopCh)
	done := o.doneCh
	o.mu.Unlock()
	<-done
	o.logger.Info("expiry sweep stopped")
}

func (o *Orchestrator) sweepLoop(stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(o.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			o.Sweep(context.Background())
		}
	}
}

// Sweep runs one expiry pass over pending handoffs and consensus
// requests. Exposed for deployments that schedule sweeps externally.
func (o *Orchestrator) Sweep(ctx context.Context) {
	start := time.Now()

	expiredHandoffs, err := o.handoffs.ExpirePending(ctx)
	if err != nil {
		o.logger.Error("handoff expiry sweep failed", zap.Error(err))
	}
	expiredConsensus, err := o.consensus.ExpirePending(ctx)
	if err != nil {
		o.logger.Error("consensus expiry sweep failed", zap.Error(err))
	}

	o.metrics.ObserveSweep(time.Since(start))
	if expiredHandoffs > 0 || expiredConsensus > 0 {
		o.logger.Info("expiry sweep",
			zap.Int("expired_handoffs", expiredHandoffs),
			zap.Int("expired_consensus", expiredConsensus),
			zap.Duration("elapsed", time.Since(start)),
		)
	}
}
