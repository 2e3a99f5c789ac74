// Package email routes inbound email conversations to swarm agents. It
// is a thin channel adapter: it consumes the directory and the handoff
// manager and owns no coordination state of its own.
package email

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/BaSui01/swarmflow/swarm/directory"
	"github.com/BaSui01/swarmflow/swarm/handoff"
	"github.com/BaSui01/swarmflow/types"
)

// subjectKeywords maps words seen in email subjects to the skill an
// agent needs to handle them. Best-effort, same spirit as the
// directory's skill inference.
var subjectKeywords = map[string]string{
	"invoice":    "billing",
	"payment":    "billing",
	"charge":     "billing",
	"billing":    "billing",
	"refund":     "refunds",
	"chargeback": "refunds",
	"bug":        "technical",
	"error":      "technical",
	"crash":      "technical",
	"broken":     "technical",
	"password":   "support",
	"login":      "support",
	"account":    "support",
	"help":       "support",
	"pricing":    "sales",
	"quote":      "sales",
	"purchase":   "sales",
	"upgrade":    "sales",
	"welcome":    "onboarding",
	"setup":      "onboarding",
	"translate":  "translation",
	"schedule":   "scheduling",
	"meeting":    "scheduling",
}

// SkillsFromSubject extracts the skills an email subject calls for, in
// first-appearance order, deduplicated.
func SkillsFromSubject(subject string) []string {
	var skills []string
	seen := make(map[string]bool)
	for _, word := range strings.FieldsFunc(strings.ToLower(subject), func(r rune) bool {
		return !('a' <= r && r <= 'z')
	}) {
		skill, ok := subjectKeywords[word]
		if !ok || seen[skill] {
			continue
		}
		seen[skill] = true
		skills = append(skills, skill)
	}
	return skills
}

// Message is an inbound email work item.
type Message struct {
	ConversationID string
	From           string
	Subject        string
	Body           string
}

// RouteResult describes where a message went.
type RouteResult struct {
	// Skills inferred from the subject.
	Skills []string
	// AgentID is the assigned agent, empty when the handoff was queued.
	AgentID string
	Handoff *types.Handoff
	// Queued is true when no agent was available and a pending handoff
	// awaits pickup.
	Queued bool
}

// Coordinator routes inbound email to the best available agent.
type Coordinator struct {
	directory *directory.Directory
	handoffs  *handoff.Manager
	logger    *zap.Logger
}

// Config wires the coordinator.
type Config struct {
	Directory *directory.Directory
	Handoffs  *handoff.Manager
	Logger    *zap.Logger
}

// NewCoordinator creates an email coordinator.
func NewCoordinator(cfg Config) *Coordinator {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		directory: cfg.Directory,
		handoffs:  cfg.Handoffs,
		logger:    logger.With(zap.String("component", "email_coordinator")),
	}
}

// Route hands the conversation from the triage agent to the best idle
// agent for the subject: first an agent holding every inferred skill,
// then any idle agent with the skills preferred, and when nobody is
// available it queues an undirected pending handoff for later pickup.
func (c *Coordinator) Route(ctx context.Context, ownerID, triageAgentID string, msg Message) (*RouteResult, error) {
	if msg.ConversationID == "" {
		return nil, types.NewError(types.ErrInvalidArgument, "conversation id is required")
	}

	skills := SkillsFromSubject(msg.Subject)
	result := &RouteResult{Skills: skills}

	best, err := c.directory.FindBestAgent(ctx, ownerID, directory.MatchCriteria{
		RequiredSkills: skills,
		ExcludeIDs:     []string{triageAgentID},
	})
	if types.IsCode(err, types.ErrAgentUnavailable) && len(skills) > 0 {
		// Nobody holds every skill. Take the best idle agent and let
		// the skills act as a preference instead.
		best, err = c.directory.FindBestAgent(ctx, ownerID, directory.MatchCriteria{
			PreferredSkills: skills,
			ExcludeIDs:      []string{triageAgentID},
		})
	}

	switch {
	case err == nil:
		// No context blob here: it is only delivered on accept, and an
		// auto-accepted handoff never has an accept step. The routed
		// agent receives the message itself from the caller.
		h, err := c.handoffs.Create(ctx, handoff.CreateRequest{
			OwnerID:        ownerID,
			ConversationID: msg.ConversationID,
			FromAgentID:    triageAgentID,
			ToAgentID:      best.ID,
			Reason:         "email routing: " + msg.Subject,
			AutoAccept:     true,
		})
		if err != nil {
			return nil, err
		}
		result.AgentID = best.ID
		result.Handoff = h
		c.logger.Info("email routed",
			zap.String("conversation_id", msg.ConversationID),
			zap.String("agent_id", best.ID),
			zap.Strings("skills", skills),
		)
		return result, nil

	case types.IsCode(err, types.ErrAgentUnavailable):
		h, err := c.handoffs.Create(ctx, handoff.CreateRequest{
			OwnerID:        ownerID,
			ConversationID: msg.ConversationID,
			FromAgentID:    triageAgentID,
			Reason:         "email routing: no agent available",
			Context: map[string]any{
				"channel": "email",
				"from":    msg.From,
				"subject": msg.Subject,
			},
		})
		if err != nil {
			return nil, err
		}
		result.Handoff = h
		result.Queued = true
		c.logger.Info("email queued",
			zap.String("conversation_id", msg.ConversationID),
			zap.Strings("skills", skills),
		)
		return result, nil

	default:
		return nil, err
	}
}
