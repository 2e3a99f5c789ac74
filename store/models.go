package store

import (
	"encoding/json"
	"time"

	"github.com/BaSui01/swarmflow/types"
)

// gorm row models. Ordered/opaque collections (agent queues, option lists,
// electorates) are stored as JSON text so the schema stays portable across
// postgres, mysql and sqlite.

type agentRow struct {
	ID          string `gorm:"primaryKey;size:64"`
	OwnerID     string `gorm:"index;size:64"`
	Name        string `gorm:"size:255"`
	Role        string `gorm:"size:255"`
	Description string `gorm:"type:text"`
	Status      string `gorm:"size:16;index"`
	Reputation  int
	LastSeenAt  time.Time
	CreatedAt   time.Time
}

func (agentRow) TableName() string { return "swarm_agents" }

type taskRow struct {
	ID              string `gorm:"primaryKey;size:64"`
	OwnerID         string `gorm:"index;size:64"`
	Title           string `gorm:"size:255"`
	Description     string `gorm:"type:text"`
	Priority        string `gorm:"size:16"`
	AssignedAgentID string `gorm:"index;size:64"`
	Status          string `gorm:"size:16;index"`
	Result          string `gorm:"type:text"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
	CompletedAt     *time.Time
}

func (taskRow) TableName() string { return "swarm_tasks" }

type handoffRow struct {
	ID             string `gorm:"primaryKey;size:64"`
	OwnerID        string `gorm:"index;size:64"`
	ConversationID string `gorm:"index;size:64"`
	FromAgentID    string `gorm:"size:64"`
	ToAgentID      string `gorm:"index;size:64"`
	Reason         string `gorm:"type:text"`
	Status         string `gorm:"size:16;index"`
	AutoAccept     bool
	RejectReason   string `gorm:"type:text"`
	CreatedAt      time.Time
	ResolvedAt     *time.Time
}

func (handoffRow) TableName() string { return "swarm_handoffs" }

type collaborationRow struct {
	ID           string `gorm:"primaryKey;size:64"`
	OwnerID      string `gorm:"index;size:64"`
	Task         string `gorm:"type:text"`
	AgentQueue   string `gorm:"type:text"`
	Mode         string `gorm:"size:16"`
	CurrentRound int
	MaxRounds    int
	TurnIndex    int
	Status       string `gorm:"size:16;index"`
	Result       string `gorm:"type:text"`
	Reason       string `gorm:"size:64"`
	CreatedAt    time.Time
	CompletedAt  *time.Time
}

func (collaborationRow) TableName() string { return "swarm_collaborations" }

type contributionRow struct {
	Seq             uint   `gorm:"primaryKey;autoIncrement"`
	CollaborationID string `gorm:"index;size:64"`
	AgentID         string `gorm:"size:64"`
	Content         string `gorm:"type:text"`
	Round           int
	Timestamp       time.Time
}

func (contributionRow) TableName() string { return "swarm_contributions" }

type consensusRow struct {
	ID            string `gorm:"primaryKey;size:64"`
	OwnerID       string `gorm:"index;size:64"`
	Question      string `gorm:"type:text"`
	Options       string `gorm:"type:text"`
	AgentIDs      string `gorm:"type:text"`
	Threshold     float64
	RequiredVotes int
	Status        string `gorm:"size:16;index"`
	Winner        string `gorm:"type:text"`
	Reason        string `gorm:"size:64"`
	ExpiresAt     time.Time
	CreatedAt     time.Time
	CompletedAt   *time.Time
}

func (consensusRow) TableName() string { return "swarm_consensus_requests" }

type voteRow struct {
	Seq         uint   `gorm:"primaryKey;autoIncrement"`
	ConsensusID string `gorm:"index;size:64"`
	AgentID     string `gorm:"size:64"`
	Choice      string `gorm:"type:text"`
	Reasoning   string `gorm:"type:text"`
	Timestamp   time.Time
}

func (voteRow) TableName() string { return "swarm_votes" }

// ---------------------------------------------------------------------------
// conversions

func marshalStrings(ss []string) string {
	data, _ := json.Marshal(ss)
	return string(data)
}

func unmarshalStrings(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(s), &out)
	return out
}

func agentToRow(a *types.Agent) *agentRow {
	return &agentRow{
		ID:          a.ID,
		OwnerID:     a.OwnerID,
		Name:        a.Name,
		Role:        a.Role,
		Description: a.Description,
		Status:      string(a.Status),
		Reputation:  a.Reputation,
		LastSeenAt:  a.LastSeenAt,
		CreatedAt:   a.CreatedAt,
	}
}

func rowToAgent(r *agentRow) *types.Agent {
	return &types.Agent{
		ID:          r.ID,
		OwnerID:     r.OwnerID,
		Name:        r.Name,
		Role:        r.Role,
		Description: r.Description,
		Status:      types.AgentStatus(r.Status),
		Reputation:  r.Reputation,
		LastSeenAt:  r.LastSeenAt,
		CreatedAt:   r.CreatedAt,
	}
}

func taskToRow(t *types.SwarmTask) *taskRow {
	return &taskRow{
		ID:              t.ID,
		OwnerID:         t.OwnerID,
		Title:           t.Title,
		Description:     t.Description,
		Priority:        string(t.Priority),
		AssignedAgentID: t.AssignedAgentID,
		Status:          string(t.Status),
		Result:          t.Result,
		CreatedAt:       t.CreatedAt,
		UpdatedAt:       t.UpdatedAt,
		CompletedAt:     t.CompletedAt,
	}
}

func rowToTask(r *taskRow) *types.SwarmTask {
	return &types.SwarmTask{
		ID:              r.ID,
		OwnerID:         r.OwnerID,
		Title:           r.Title,
		Description:     r.Description,
		Priority:        types.TaskPriority(r.Priority),
		AssignedAgentID: r.AssignedAgentID,
		Status:          types.TaskStatus(r.Status),
		Result:          r.Result,
		CreatedAt:       r.CreatedAt,
		UpdatedAt:       r.UpdatedAt,
		CompletedAt:     r.CompletedAt,
	}
}

func handoffToRow(h *types.Handoff) *handoffRow {
	return &handoffRow{
		ID:             h.ID,
		OwnerID:        h.OwnerID,
		ConversationID: h.ConversationID,
		FromAgentID:    h.FromAgentID,
		ToAgentID:      h.ToAgentID,
		Reason:         h.Reason,
		Status:         string(h.Status),
		AutoAccept:     h.AutoAccept,
		RejectReason:   h.RejectReason,
		CreatedAt:      h.CreatedAt,
		ResolvedAt:     h.ResolvedAt,
	}
}

func rowToHandoff(r *handoffRow) *types.Handoff {
	return &types.Handoff{
		ID:             r.ID,
		OwnerID:        r.OwnerID,
		ConversationID: r.ConversationID,
		FromAgentID:    r.FromAgentID,
		ToAgentID:      r.ToAgentID,
		Reason:         r.Reason,
		Status:         types.HandoffStatus(r.Status),
		AutoAccept:     r.AutoAccept,
		RejectReason:   r.RejectReason,
		CreatedAt:      r.CreatedAt,
		ResolvedAt:     r.ResolvedAt,
	}
}

func collaborationToRow(c *types.Collaboration) *collaborationRow {
	return &collaborationRow{
		ID:           c.ID,
		OwnerID:      c.OwnerID,
		Task:         c.Task,
		AgentQueue:   marshalStrings(c.AgentQueue),
		Mode:         string(c.Mode),
		CurrentRound: c.CurrentRound,
		MaxRounds:    c.MaxRounds,
		TurnIndex:    c.TurnIndex,
		Status:       string(c.Status),
		Result:       c.Result,
		Reason:       c.Reason,
		CreatedAt:    c.CreatedAt,
		CompletedAt:  c.CompletedAt,
	}
}

func rowToCollaboration(r *collaborationRow) *types.Collaboration {
	return &types.Collaboration{
		ID:           r.ID,
		OwnerID:      r.OwnerID,
		Task:         r.Task,
		AgentQueue:   unmarshalStrings(r.AgentQueue),
		Mode:         types.CollaborationMode(r.Mode),
		CurrentRound: r.CurrentRound,
		MaxRounds:    r.MaxRounds,
		TurnIndex:    r.TurnIndex,
		Status:       types.CollaborationStatus(r.Status),
		Result:       r.Result,
		Reason:       r.Reason,
		CreatedAt:    r.CreatedAt,
		CompletedAt:  r.CompletedAt,
	}
}

func consensusToRow(c *types.ConsensusRequest) *consensusRow {
	return &consensusRow{
		ID:            c.ID,
		OwnerID:       c.OwnerID,
		Question:      c.Question,
		Options:       marshalStrings(c.Options),
		AgentIDs:      marshalStrings(c.AgentIDs),
		Threshold:     c.Threshold,
		RequiredVotes: c.RequiredVotes,
		Status:        string(c.Status),
		Winner:        c.Winner,
		Reason:        c.Reason,
		ExpiresAt:     c.ExpiresAt,
		CreatedAt:     c.CreatedAt,
		CompletedAt:   c.CompletedAt,
	}
}

func rowToConsensus(r *consensusRow) *types.ConsensusRequest {
	return &types.ConsensusRequest{
		ID:            r.ID,
		OwnerID:       r.OwnerID,
		Question:      r.Question,
		Options:       unmarshalStrings(r.Options),
		AgentIDs:      unmarshalStrings(r.AgentIDs),
		Threshold:     r.Threshold,
		RequiredVotes: r.RequiredVotes,
		Status:        types.ConsensusStatus(r.Status),
		Winner:        r.Winner,
		Reason:        r.Reason,
		ExpiresAt:     r.ExpiresAt,
		CreatedAt:     r.CreatedAt,
		CompletedAt:   r.CompletedAt,
	}
}
