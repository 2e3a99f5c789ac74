package types

import "time"

// AgentStatus represents the availability of an agent.
type AgentStatus string

const (
	AgentIdle    AgentStatus = "idle"
	AgentBusy    AgentStatus = "busy"
	AgentOffline AgentStatus = "offline"
	AgentError   AgentStatus = "error"
)

// ValidAgentStatus reports whether s is one of the four agent states.
func ValidAgentStatus(s AgentStatus) bool {
	switch s {
	case AgentIdle, AgentBusy, AgentOffline, AgentError:
		return true
	}
	return false
}

// Reputation bounds. UpdateReputation clamps into this range.
const (
	ReputationMin = 0
	ReputationMax = 200
)

// ClampReputation clamps score into [ReputationMin, ReputationMax].
func ClampReputation(score int) int {
	if score < ReputationMin {
		return ReputationMin
	}
	if score > ReputationMax {
		return ReputationMax
	}
	return score
}

// Agent is an autonomous worker unit with a status, reputation and an
// inferred skill set. Skills are a derived view recomputed on read, never
// stored.
type Agent struct {
	ID          string      `json:"id"`
	OwnerID     string      `json:"owner_id"`
	Name        string      `json:"name"`
	Role        string      `json:"role"`
	Description string      `json:"description"`
	Status      AgentStatus `json:"status"`
	Reputation  int         `json:"reputation"`
	Skills      []string    `json:"skills,omitempty"`
	LastSeenAt  time.Time   `json:"last_seen_at"`
	CreatedAt   time.Time   `json:"created_at"`
}

// TaskStatus represents the lifecycle state of a swarm task.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// Terminal reports whether the task status is terminal.
func (s TaskStatus) Terminal() bool {
	return s == TaskCompleted || s == TaskFailed
}

// TaskPriority orders tasks for queue ranking.
type TaskPriority string

const (
	PriorityLow    TaskPriority = "low"
	PriorityNormal TaskPriority = "normal"
	PriorityHigh   TaskPriority = "high"
	PriorityUrgent TaskPriority = "urgent"
)

// Rank returns the total-order rank of the priority, higher is more urgent.
// Unknown priorities rank below low.
func (p TaskPriority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityNormal:
		return 2
	case PriorityLow:
		return 1
	}
	return 0
}

// ValidTaskPriority reports whether p is a known priority.
func ValidTaskPriority(p TaskPriority) bool {
	return p.Rank() > 0
}

// SwarmTask is a unit of work owned by at most one agent at a time.
type SwarmTask struct {
	ID              string       `json:"id"`
	OwnerID         string       `json:"owner_id"`
	Title           string       `json:"title"`
	Description     string       `json:"description"`
	Priority        TaskPriority `json:"priority"`
	AssignedAgentID string       `json:"assigned_agent_id,omitempty"`
	Status          TaskStatus   `json:"status"`
	Result          string       `json:"result,omitempty"`
	CreatedAt       time.Time    `json:"created_at"`
	UpdatedAt       time.Time    `json:"updated_at"`
	CompletedAt     *time.Time   `json:"completed_at,omitempty"`
}

// HandoffStatus represents the lifecycle state of a handoff.
type HandoffStatus string

const (
	HandoffPending   HandoffStatus = "pending"
	HandoffCompleted HandoffStatus = "completed"
	HandoffRejected  HandoffStatus = "rejected"
	HandoffCancelled HandoffStatus = "cancelled"
	HandoffExpired   HandoffStatus = "expired"
)

// Terminal reports whether the handoff status is terminal. A handoff never
// regresses from a terminal state.
func (s HandoffStatus) Terminal() bool {
	return s != HandoffPending
}

// Handoff is a request to transfer ownership of a conversation from one
// agent to another. The optional context blob is held in memory only while
// the handoff is pending and is not part of the durable record.
type Handoff struct {
	ID             string        `json:"id"`
	OwnerID        string        `json:"owner_id"`
	ConversationID string        `json:"conversation_id"`
	FromAgentID    string        `json:"from_agent_id"`
	ToAgentID      string        `json:"to_agent_id,omitempty"`
	Reason         string        `json:"reason"`
	Status         HandoffStatus `json:"status"`
	AutoAccept     bool          `json:"auto_accept"`
	RejectReason   string        `json:"reject_reason,omitempty"`
	CreatedAt      time.Time     `json:"created_at"`
	ResolvedAt     *time.Time    `json:"resolved_at,omitempty"`
}

// CollaborationMode is advisory metadata consumed by the caller; the manager
// only tracks turn order and round counting.
type CollaborationMode string

const (
	ModeSequential CollaborationMode = "sequential"
	ModeParallel   CollaborationMode = "parallel"
	ModeRoundRobin CollaborationMode = "round_robin"
)

// ValidCollaborationMode reports whether m is a known mode.
func ValidCollaborationMode(m CollaborationMode) bool {
	switch m {
	case ModeSequential, ModeParallel, ModeRoundRobin:
		return true
	}
	return false
}

// CollaborationStatus represents the lifecycle state of a collaboration.
type CollaborationStatus string

const (
	CollaborationActive    CollaborationStatus = "active"
	CollaborationCompleted CollaborationStatus = "completed"
	CollaborationCancelled CollaborationStatus = "cancelled"
)

// Contribution is a single turn in a collaboration.
type Contribution struct {
	AgentID   string    `json:"agent_id"`
	Content   string    `json:"content"`
	Round     int       `json:"round"`
	Timestamp time.Time `json:"timestamp"`
}

// Collaboration is a bounded multi-round turn-taking session among a fixed
// set of agents. Membership of AgentQueue never changes after creation and
// CurrentRound only increases.
type Collaboration struct {
	ID            string              `json:"id"`
	OwnerID       string              `json:"owner_id"`
	Task          string              `json:"task"`
	AgentQueue    []string            `json:"agent_queue"`
	Mode          CollaborationMode   `json:"mode"`
	CurrentRound  int                 `json:"current_round"`
	MaxRounds     int                 `json:"max_rounds"`
	TurnIndex     int                 `json:"turn_index"`
	Status        CollaborationStatus `json:"status"`
	Contributions []Contribution      `json:"contributions"`
	Result        string              `json:"result,omitempty"`
	Reason        string              `json:"reason,omitempty"`
	CreatedAt     time.Time           `json:"created_at"`
	CompletedAt   *time.Time          `json:"completed_at,omitempty"`
}

// ConsensusStatus represents the lifecycle state of a consensus request.
type ConsensusStatus string

const (
	ConsensusPending   ConsensusStatus = "pending"
	ConsensusCompleted ConsensusStatus = "completed"
	ConsensusExpired   ConsensusStatus = "expired"
)

// Consensus resolution reasons.
const (
	ReasonConsensusReached = "consensus_reached"
	ReasonAllVotesIn       = "all_votes_in"
	ReasonExpired          = "expired"
	ReasonMaxRounds        = "max_rounds_reached"
)

// Vote records one agent's choice in a consensus request. Each agent votes
// at most once.
type Vote struct {
	AgentID   string    `json:"agent_id"`
	Choice    string    `json:"choice"`
	Reasoning string    `json:"reasoning,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// ConsensusRequest is a time-boxed vote among a fixed electorate over a
// discrete ordered set of options. Votes are volatile while pending and
// persisted in full on completion.
type ConsensusRequest struct {
	ID            string          `json:"id"`
	OwnerID       string          `json:"owner_id"`
	Question      string          `json:"question"`
	Options       []string        `json:"options"`
	AgentIDs      []string        `json:"agent_ids"`
	Threshold     float64         `json:"threshold"`
	RequiredVotes int             `json:"required_votes"`
	Status        ConsensusStatus `json:"status"`
	Winner        string          `json:"winner,omitempty"`
	Reason        string          `json:"reason,omitempty"`
	Votes         []Vote          `json:"votes,omitempty"`
	ExpiresAt     time.Time       `json:"expires_at"`
	CreatedAt     time.Time       `json:"created_at"`
	CompletedAt   *time.Time      `json:"completed_at,omitempty"`
}
