package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"

	"github.com/BaSui01/swarmflow/types"
)

// Gorm is the relational Store implementation.
type Gorm struct {
	db *gorm.DB
}

// NewGorm wraps an open gorm connection.
func NewGorm(db *gorm.DB) *Gorm {
	return &Gorm{db: db}
}

// AutoMigrate creates or updates the swarm tables.
func AutoMigrate(db *gorm.DB) error {
	err := db.AutoMigrate(
		&agentRow{},
		&taskRow{},
		&handoffRow{},
		&collaborationRow{},
		&contributionRow{},
		&consensusRow{},
		&voteRow{},
	)
	if err != nil {
		return fmt.Errorf("failed to auto migrate: %w", err)
	}
	return nil
}

func (g *Gorm) Agents() AgentStore                 { return &gormAgents{db: g.db} }
func (g *Gorm) Tasks() TaskStore                   { return &gormTasks{db: g.db} }
func (g *Gorm) Handoffs() HandoffStore             { return &gormHandoffs{db: g.db} }
func (g *Gorm) Collaborations() CollaborationStore { return &gormCollaborations{db: g.db} }
func (g *Gorm) Consensus() ConsensusStore          { return &gormConsensus{db: g.db} }

func (g *Gorm) Ping(ctx context.Context) error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

func (g *Gorm) Close() error {
	sqlDB, err := g.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

func notFound(err error, entity, id string) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return types.Errorf(types.ErrNotFound, "%s %s not found", entity, id)
	}
	return types.NewError(types.ErrInternal, entity+" query failed").WithCause(err)
}

// ---------------------------------------------------------------------------
// agents

type gormAgents struct{ db *gorm.DB }

func (s *gormAgents) Create(ctx context.Context, agent *types.Agent) error {
	if err := s.db.WithContext(ctx).Create(agentToRow(agent)).Error; err != nil {
		return types.NewError(types.ErrInternal, "failed to create agent").WithCause(err)
	}
	return nil
}

func (s *gormAgents) Get(ctx context.Context, id string) (*types.Agent, error) {
	var row agentRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "agent", id)
	}
	return rowToAgent(&row), nil
}

func (s *gormAgents) ListByOwner(ctx context.Context, ownerID string) ([]*types.Agent, error) {
	var rows []agentRow
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("reputation DESC, created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "failed to list agents").WithCause(err)
	}
	out := make([]*types.Agent, len(rows))
	for i := range rows {
		out[i] = rowToAgent(&rows[i])
	}
	return out, nil
}

func (s *gormAgents) updateColumn(ctx context.Context, id, column string, value any) error {
	res := s.db.WithContext(ctx).Model(&agentRow{}).Where("id = ?", id).Update(column, value)
	if res.Error != nil {
		return types.NewError(types.ErrInternal, "failed to update agent").WithCause(res.Error)
	}
	if res.RowsAffected == 0 {
		return types.Errorf(types.ErrNotFound, "agent %s not found", id)
	}
	return nil
}

func (s *gormAgents) UpdateStatus(ctx context.Context, id string, status types.AgentStatus) error {
	return s.updateColumn(ctx, id, "status", string(status))
}

func (s *gormAgents) UpdateReputation(ctx context.Context, id string, score int) error {
	return s.updateColumn(ctx, id, "reputation", score)
}

func (s *gormAgents) Touch(ctx context.Context, id string, at time.Time) error {
	return s.updateColumn(ctx, id, "last_seen_at", at)
}

// ---------------------------------------------------------------------------
// tasks

type gormTasks struct{ db *gorm.DB }

func (s *gormTasks) Create(ctx context.Context, task *types.SwarmTask) error {
	if err := s.db.WithContext(ctx).Create(taskToRow(task)).Error; err != nil {
		return types.NewError(types.ErrInternal, "failed to create task").WithCause(err)
	}
	return nil
}

func (s *gormTasks) Get(ctx context.Context, id string) (*types.SwarmTask, error) {
	var row taskRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "task", id)
	}
	return rowToTask(&row), nil
}

func (s *gormTasks) ListByOwner(ctx context.Context, ownerID string, status types.TaskStatus) ([]*types.SwarmTask, error) {
	q := s.db.WithContext(ctx).Where("owner_id = ?", ownerID)
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	var rows []taskRow
	// priority is ranked in SQL so the queue order matches TaskPriority.Rank
	err := q.Order(`CASE priority
		WHEN 'urgent' THEN 4
		WHEN 'high' THEN 3
		WHEN 'normal' THEN 2
		WHEN 'low' THEN 1
		ELSE 0 END DESC, created_at DESC`).
		Find(&rows).Error
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "failed to list tasks").WithCause(err)
	}
	out := make([]*types.SwarmTask, len(rows))
	for i := range rows {
		out[i] = rowToTask(&rows[i])
	}
	return out, nil
}

func (s *gormTasks) Update(ctx context.Context, task *types.SwarmTask) error {
	res := s.db.WithContext(ctx).Model(&taskRow{}).Where("id = ?", task.ID).Select("*").Updates(taskToRow(task))
	if res.Error != nil {
		return types.NewError(types.ErrInternal, "failed to update task").WithCause(res.Error)
	}
	if res.RowsAffected == 0 {
		return types.Errorf(types.ErrNotFound, "task %s not found", task.ID)
	}
	return nil
}

func (s *gormTasks) CountActiveByOwner(ctx context.Context, ownerID string) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&taskRow{}).
		Where("owner_id = ? AND status IN ?", ownerID, []string{string(types.TaskPending), string(types.TaskInProgress)}).
		Count(&n).Error
	if err != nil {
		return 0, types.NewError(types.ErrInternal, "failed to count tasks").WithCause(err)
	}
	return int(n), nil
}

// ---------------------------------------------------------------------------
// handoffs

type gormHandoffs struct{ db *gorm.DB }

func (s *gormHandoffs) Create(ctx context.Context, h *types.Handoff) error {
	if err := s.db.WithContext(ctx).Create(handoffToRow(h)).Error; err != nil {
		return types.NewError(types.ErrInternal, "failed to create handoff").WithCause(err)
	}
	return nil
}

func (s *gormHandoffs) Get(ctx context.Context, id string) (*types.Handoff, error) {
	var row handoffRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "handoff", id)
	}
	return rowToHandoff(&row), nil
}

func (s *gormHandoffs) Update(ctx context.Context, h *types.Handoff) error {
	res := s.db.WithContext(ctx).Model(&handoffRow{}).Where("id = ?", h.ID).Select("*").Updates(handoffToRow(h))
	if res.Error != nil {
		return types.NewError(types.ErrInternal, "failed to update handoff").WithCause(res.Error)
	}
	if res.RowsAffected == 0 {
		return types.Errorf(types.ErrNotFound, "handoff %s not found", h.ID)
	}
	return nil
}

func (s *gormHandoffs) ListByOwner(ctx context.Context, ownerID string, status types.HandoffStatus) ([]*types.Handoff, error) {
	q := s.db.WithContext(ctx).Where("owner_id = ?", ownerID)
	if status != "" {
		q = q.Where("status = ?", string(status))
	}
	var rows []handoffRow
	if err := q.Order("created_at DESC").Find(&rows).Error; err != nil {
		return nil, types.NewError(types.ErrInternal, "failed to list handoffs").WithCause(err)
	}
	out := make([]*types.Handoff, len(rows))
	for i := range rows {
		out[i] = rowToHandoff(&rows[i])
	}
	return out, nil
}

func (s *gormHandoffs) ListPendingForAgent(ctx context.Context, agentID string) ([]*types.Handoff, error) {
	var rows []handoffRow
	err := s.db.WithContext(ctx).
		Where("to_agent_id = ? AND status = ?", agentID, string(types.HandoffPending)).
		Order("created_at ASC").
		Find(&rows).Error
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "failed to list pending handoffs").WithCause(err)
	}
	out := make([]*types.Handoff, len(rows))
	for i := range rows {
		out[i] = rowToHandoff(&rows[i])
	}
	return out, nil
}

func (s *gormHandoffs) ListPendingOlderThan(ctx context.Context, cutoff time.Time) ([]*types.Handoff, error) {
	var rows []handoffRow
	err := s.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", string(types.HandoffPending), cutoff).
		Find(&rows).Error
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "failed to list stale handoffs").WithCause(err)
	}
	out := make([]*types.Handoff, len(rows))
	for i := range rows {
		out[i] = rowToHandoff(&rows[i])
	}
	return out, nil
}

func (s *gormHandoffs) CountRecentByOwner(ctx context.Context, ownerID string, since time.Time) (int, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&handoffRow{}).
		Where("owner_id = ? AND created_at > ?", ownerID, since).
		Count(&n).Error
	if err != nil {
		return 0, types.NewError(types.ErrInternal, "failed to count handoffs").WithCause(err)
	}
	return int(n), nil
}

// ---------------------------------------------------------------------------
// collaborations

type gormCollaborations struct{ db *gorm.DB }

func (s *gormCollaborations) Create(ctx context.Context, c *types.Collaboration) error {
	if err := s.db.WithContext(ctx).Create(collaborationToRow(c)).Error; err != nil {
		return types.NewError(types.ErrInternal, "failed to create collaboration").WithCause(err)
	}
	return nil
}

func (s *gormCollaborations) Get(ctx context.Context, id string) (*types.Collaboration, error) {
	var row collaborationRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "collaboration", id)
	}
	c := rowToCollaboration(&row)

	var contribs []contributionRow
	err := s.db.WithContext(ctx).
		Where("collaboration_id = ?", id).
		Order("seq ASC").
		Find(&contribs).Error
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "failed to load contributions").WithCause(err)
	}
	for _, cr := range contribs {
		c.Contributions = append(c.Contributions, types.Contribution{
			AgentID:   cr.AgentID,
			Content:   cr.Content,
			Round:     cr.Round,
			Timestamp: cr.Timestamp,
		})
	}
	return c, nil
}

func (s *gormCollaborations) Update(ctx context.Context, c *types.Collaboration) error {
	res := s.db.WithContext(ctx).Model(&collaborationRow{}).Where("id = ?", c.ID).Select("*").Updates(collaborationToRow(c))
	if res.Error != nil {
		return types.NewError(types.ErrInternal, "failed to update collaboration").WithCause(res.Error)
	}
	if res.RowsAffected == 0 {
		return types.Errorf(types.ErrNotFound, "collaboration %s not found", c.ID)
	}
	return nil
}

func (s *gormCollaborations) AppendContribution(ctx context.Context, id string, contrib types.Contribution) error {
	row := &contributionRow{
		CollaborationID: id,
		AgentID:         contrib.AgentID,
		Content:         contrib.Content,
		Round:           contrib.Round,
		Timestamp:       contrib.Timestamp,
	}
	if err := s.db.WithContext(ctx).Create(row).Error; err != nil {
		return types.NewError(types.ErrInternal, "failed to append contribution").WithCause(err)
	}
	return nil
}

func (s *gormCollaborations) ListByOwner(ctx context.Context, ownerID string) ([]*types.Collaboration, error) {
	var rows []collaborationRow
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "failed to list collaborations").WithCause(err)
	}
	out := make([]*types.Collaboration, len(rows))
	for i := range rows {
		out[i] = rowToCollaboration(&rows[i])
	}
	return out, nil
}

// ---------------------------------------------------------------------------
// consensus

type gormConsensus struct{ db *gorm.DB }

func (s *gormConsensus) Create(ctx context.Context, c *types.ConsensusRequest) error {
	if err := s.db.WithContext(ctx).Create(consensusToRow(c)).Error; err != nil {
		return types.NewError(types.ErrInternal, "failed to create consensus request").WithCause(err)
	}
	return nil
}

func (s *gormConsensus) Get(ctx context.Context, id string) (*types.ConsensusRequest, error) {
	var row consensusRow
	if err := s.db.WithContext(ctx).First(&row, "id = ?", id).Error; err != nil {
		return nil, notFound(err, "consensus", id)
	}
	c := rowToConsensus(&row)

	var votes []voteRow
	err := s.db.WithContext(ctx).
		Where("consensus_id = ?", id).
		Order("seq ASC").
		Find(&votes).Error
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "failed to load votes").WithCause(err)
	}
	for _, vr := range votes {
		c.Votes = append(c.Votes, types.Vote{
			AgentID:   vr.AgentID,
			Choice:    vr.Choice,
			Reasoning: vr.Reasoning,
			Timestamp: vr.Timestamp,
		})
	}
	return c, nil
}

// Update persists the row and, on completion, the full vote record in one
// transaction.
func (s *gormConsensus) Update(ctx context.Context, c *types.ConsensusRequest) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		res := tx.Model(&consensusRow{}).Where("id = ?", c.ID).Select("*").Updates(consensusToRow(c))
		if res.Error != nil {
			return types.NewError(types.ErrInternal, "failed to update consensus request").WithCause(res.Error)
		}
		if res.RowsAffected == 0 {
			return types.Errorf(types.ErrNotFound, "consensus %s not found", c.ID)
		}
		if len(c.Votes) == 0 {
			return nil
		}
		// replace, not append: Update is called once per completion
		if err := tx.Where("consensus_id = ?", c.ID).Delete(&voteRow{}).Error; err != nil {
			return types.NewError(types.ErrInternal, "failed to clear votes").WithCause(err)
		}
		for _, v := range c.Votes {
			row := &voteRow{
				ConsensusID: c.ID,
				AgentID:     v.AgentID,
				Choice:      v.Choice,
				Reasoning:   v.Reasoning,
				Timestamp:   v.Timestamp,
			}
			if err := tx.Create(row).Error; err != nil {
				return types.NewError(types.ErrInternal, "failed to persist vote").WithCause(err)
			}
		}
		return nil
	})
}

func (s *gormConsensus) ListByOwner(ctx context.Context, ownerID string) ([]*types.ConsensusRequest, error) {
	var rows []consensusRow
	err := s.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("created_at DESC").
		Find(&rows).Error
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "failed to list consensus requests").WithCause(err)
	}
	out := make([]*types.ConsensusRequest, len(rows))
	for i := range rows {
		out[i] = rowToConsensus(&rows[i])
	}
	return out, nil
}

func (s *gormConsensus) ListPendingExpired(ctx context.Context, now time.Time) ([]*types.ConsensusRequest, error) {
	var rows []consensusRow
	err := s.db.WithContext(ctx).
		Where("status = ? AND expires_at < ?", string(types.ConsensusPending), now).
		Find(&rows).Error
	if err != nil {
		return nil, types.NewError(types.ErrInternal, "failed to list expired consensus requests").WithCause(err)
	}
	out := make([]*types.ConsensusRequest, len(rows))
	for i := range rows {
		out[i] = rowToConsensus(&rows[i])
	}
	return out, nil
}
