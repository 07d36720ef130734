package manager

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/agentcompany/agentcompany/pkg/heartbeat"
	"github.com/agentcompany/agentcompany/pkg/rpc"
	"github.com/agentcompany/agentcompany/pkg/security"
	"github.com/agentcompany/agentcompany/pkg/types"
	"github.com/agentcompany/agentcompany/pkg/workspace"
)

type memoryProposeParams struct {
	AgentID    string `json:"agent_id" validate:"required"`
	Kind       string `json:"kind" validate:"required,oneof=learning mistake correction"`
	Content    string `json:"content" validate:"required"`
	ProposedBy string `json:"proposed_by"`
}

type memoryApproveParams struct {
	AgentID string `json:"agent_id" validate:"required"`
	DeltaID string `json:"delta_id" validate:"required"`
	Approve bool   `json:"approve"`
}

type memoryListParams struct {
	AgentID string `json:"agent_id" validate:"required"`
}

type agentRefParams struct {
	AgentID string `json:"agent_id" validate:"required"`
}

type recordMistakeParams struct {
	AgentID string `json:"agent_id" validate:"required"`
	Content string `json:"content" validate:"required"`
}

type commentAddParams struct {
	Subject  string `json:"subject" validate:"required"` // e.g. "artifact:art_x", "task:task_y"
	AuthorID string `json:"author_id" validate:"required"`
	Body     string `json:"body" validate:"required"`
}

type commentListParams struct {
	Subject string `json:"subject" validate:"required"`
}

type conversationListParams struct {
	Scope     string `json:"scope" validate:"required,oneof=workspace project"`
	ProjectID string `json:"project_id"`
}

type channelCreateParams struct {
	Scope     string   `json:"scope" validate:"required,oneof=workspace project"`
	ProjectID string   `json:"project_id"`
	Name      string   `json:"name" validate:"required"`
	MemberIDs []string `json:"member_ids"`
}

type dmCreateParams struct {
	MemberIDs []string `json:"member_ids" validate:"required,min=2"`
}

type messagesListParams struct {
	Scope          string `json:"scope" validate:"required,oneof=workspace project"`
	ProjectID      string `json:"project_id"`
	ConversationID string `json:"conversation_id" validate:"required"`
}

type messageSendParams struct {
	Scope          string `json:"scope" validate:"required,oneof=workspace project"`
	ProjectID      string `json:"project_id"`
	ConversationID string `json:"conversation_id" validate:"required"`
	AuthorID       string `json:"author_id" validate:"required"`
	Body           string `json:"body" validate:"required"`
}

type membersSyncParams struct {
	Scope          string   `json:"scope" validate:"required,oneof=workspace project"`
	ProjectID      string   `json:"project_id"`
	ConversationID string   `json:"conversation_id" validate:"required"`
	MemberIDs      []string `json:"member_ids" validate:"required"`
}

func (c *Controller) registerSocialMethods() {
	rpc.Handle(c.router, "memory.propose_delta", func(ctx context.Context, p memoryProposeParams) (interface{}, error) {
		if _, err := c.ws.LoadAgent(p.AgentID); err != nil {
			return nil, rpc.UserErrorf("agent_not_found", "agent %s: %v", p.AgentID, err)
		}
		// Secret-looking spans never reach disk; only match counts do.
		content, matches := security.RedactSecrets(p.Content)
		delta := &types.MemoryDelta{
			DeltaID:    workspace.NewID("delta"),
			AgentID:    p.AgentID,
			Kind:       p.Kind,
			Content:    content,
			Status:     types.MemoryDeltaProposed,
			ProposedBy: p.ProposedBy,
			CreatedAt:  time.Now().UTC(),
		}
		if err := c.ws.SaveMemoryDelta(delta); err != nil {
			return nil, err
		}
		return map[string]interface{}{"delta": delta, "secret_matches": matches}, nil
	})

	rpc.Handle(c.router, "memory.approve_delta", func(ctx context.Context, p memoryApproveParams) (interface{}, error) {
		delta, err := c.ws.LoadMemoryDelta(p.AgentID, p.DeltaID)
		if err != nil {
			return nil, rpc.UserErrorf("delta_not_found", "delta %s/%s: %v", p.AgentID, p.DeltaID, err)
		}
		if delta.Status != types.MemoryDeltaProposed {
			return nil, rpc.UserErrorf("delta_decided", "delta %s already %s", p.DeltaID, delta.Status)
		}
		now := time.Now().UTC()
		delta.DecidedAt = &now
		delta.Status = types.MemoryDeltaApproved
		if !p.Approve {
			delta.Status = types.MemoryDeltaRejected
		}
		if err := c.ws.SaveMemoryDelta(delta); err != nil {
			return nil, err
		}
		return delta, nil
	})

	rpc.Handle(c.router, "memory.list_deltas", func(ctx context.Context, p memoryListParams) (interface{}, error) {
		return c.ws.ListMemoryDeltas(p.AgentID)
	})

	rpc.Handle(c.router, "agent.profile.snapshot", func(ctx context.Context, p agentRefParams) (interface{}, error) {
		return c.agentProfile(p.AgentID)
	})

	rpc.Handle(c.router, "agent.record_mistake", func(ctx context.Context, p recordMistakeParams) (interface{}, error) {
		content, matches := security.RedactSecrets(p.Content)
		delta := &types.MemoryDelta{
			DeltaID:   workspace.NewID("delta"),
			AgentID:   p.AgentID,
			Kind:      "mistake",
			Content:   content,
			Status:    types.MemoryDeltaProposed,
			CreatedAt: time.Now().UTC(),
		}
		if err := c.ws.SaveMemoryDelta(delta); err != nil {
			return nil, err
		}
		return map[string]interface{}{"delta": delta, "secret_matches": matches}, nil
	})

	rpc.Handle(c.router, "agent.self_improve_cycle", func(ctx context.Context, p agentRefParams) (interface{}, error) {
		return c.selfImproveCycle(p.AgentID)
	})

	rpc.Handle(c.router, "agent.refresh_context", func(ctx context.Context, p agentRefParams) (interface{}, error) {
		// Clearing the suppression window makes the next triage tick
		// re-evaluate this worker from scratch.
		state, err := heartbeat.LoadState(c.ws)
		if err != nil {
			return nil, err
		}
		w := state.Worker(p.AgentID)
		w.SuppressedUntil = nil
		w.LastContextHash = ""
		if err := heartbeat.SaveState(c.ws, state); err != nil {
			return nil, err
		}
		return map[string]bool{"refreshed": true}, nil
	})

	rpc.Handle(c.router, "comment.add", func(ctx context.Context, p commentAddParams) (interface{}, error) {
		convID := commentConversationID(p.Subject)
		if err := c.ensureConversation(convID, "channel", p.Subject); err != nil {
			return nil, err
		}
		msg := &types.Message{
			MessageID: workspace.NewID("msg"),
			AuthorID:  p.AuthorID,
			Body:      p.Body,
			SentAt:    time.Now().UTC(),
		}
		if err := c.ws.AppendMessage("workspace", "", convID, msg); err != nil {
			return nil, err
		}
		return msg, nil
	})

	rpc.Handle(c.router, "comment.list", func(ctx context.Context, p commentListParams) (interface{}, error) {
		msgs, err := c.ws.ListMessages("workspace", "", commentConversationID(p.Subject))
		if err != nil {
			return nil, err
		}
		return msgs, nil
	})

	rpc.Handle(c.router, "conversation.list", func(ctx context.Context, p conversationListParams) (interface{}, error) {
		return c.ws.ListConversations(p.Scope, p.ProjectID)
	})

	rpc.Handle(c.router, "conversation.create_channel", func(ctx context.Context, p channelCreateParams) (interface{}, error) {
		conv := &types.Conversation{
			ConversationID: workspace.NewID("conv"),
			Scope:          types.ConversationScope(p.Scope),
			ProjectID:      p.ProjectID,
			Kind:           "channel",
			Name:           p.Name,
			MemberIDs:      p.MemberIDs,
			CreatedAt:      time.Now().UTC(),
		}
		if err := c.ws.SaveConversation(conv); err != nil {
			return nil, err
		}
		return conv, nil
	})

	rpc.Handle(c.router, "conversation.create_dm", func(ctx context.Context, p dmCreateParams) (interface{}, error) {
		members := append([]string(nil), p.MemberIDs...)
		sort.Strings(members)
		conv := &types.Conversation{
			ConversationID: workspace.NewID("dm"),
			Scope:          types.ScopeWorkspace,
			Kind:           "dm",
			MemberIDs:      members,
			CreatedAt:      time.Now().UTC(),
		}
		if err := c.ws.SaveConversation(conv); err != nil {
			return nil, err
		}
		return conv, nil
	})

	rpc.Handle(c.router, "conversation.messages.list", func(ctx context.Context, p messagesListParams) (interface{}, error) {
		return c.ws.ListMessages(p.Scope, p.ProjectID, p.ConversationID)
	})

	rpc.Handle(c.router, "conversation.message.send", func(ctx context.Context, p messageSendParams) (interface{}, error) {
		if _, err := c.ws.LoadConversation(p.Scope, p.ProjectID, p.ConversationID); err != nil {
			return nil, rpc.UserErrorf("conversation_not_found", "conversation %s: %v", p.ConversationID, err)
		}
		msg := &types.Message{
			MessageID: workspace.NewID("msg"),
			AuthorID:  p.AuthorID,
			Body:      p.Body,
			SentAt:    time.Now().UTC(),
		}
		if err := c.ws.AppendMessage(p.Scope, p.ProjectID, p.ConversationID, msg); err != nil {
			return nil, err
		}
		return msg, nil
	})

	rpc.Handle(c.router, "conversation.members.sync", func(ctx context.Context, p membersSyncParams) (interface{}, error) {
		conv, err := c.ws.LoadConversation(p.Scope, p.ProjectID, p.ConversationID)
		if err != nil {
			return nil, rpc.UserErrorf("conversation_not_found", "conversation %s: %v", p.ConversationID, err)
		}
		members := append([]string(nil), p.MemberIDs...)
		sort.Strings(members)
		conv.MemberIDs = members
		if err := c.ws.SaveConversation(conv); err != nil {
			return nil, err
		}
		return conv, nil
	})
}

// commentConversationID derives the deterministic conversation backing a
// subject's comment thread.
func commentConversationID(subject string) string {
	return "comments-" + workspace.SanitizeID(subject)
}

func (c *Controller) ensureConversation(convID, kind, name string) error {
	if _, err := c.ws.LoadConversation("workspace", "", convID); err == nil {
		return nil
	}
	conv := &types.Conversation{
		ConversationID: convID,
		Scope:          types.ScopeWorkspace,
		Kind:           kind,
		Name:           name,
		CreatedAt:      time.Now().UTC(),
	}
	return c.ws.SaveConversation(conv)
}

// agentProfile summarizes an agent: record, recent runs, usage and
// pending memory deltas.
func (c *Controller) agentProfile(agentID string) (interface{}, error) {
	agent, err := c.ws.LoadAgent(agentID)
	if err != nil {
		return nil, rpc.UserErrorf("agent_not_found", "agent %s: %v", agentID, err)
	}
	deltas, err := c.ws.ListMemoryDeltas(agentID)
	if err != nil {
		return nil, err
	}

	var runCount int
	var totalTokens int64
	projects, err := c.ws.ListProjects()
	if err != nil {
		return nil, err
	}
	for _, p := range projects {
		ids, err := c.ws.ListRuns(p.ID)
		if err != nil {
			continue
		}
		for _, id := range ids {
			run, err := c.ws.LoadRun(p.ID, id)
			if err != nil || run.AgentID != agentID {
				continue
			}
			runCount++
			if run.Usage != nil {
				totalTokens += run.Usage.TotalTokens
			}
		}
	}
	return map[string]interface{}{
		"agent":         agent,
		"runs":          runCount,
		"total_tokens":  totalTokens,
		"memory_deltas": deltas,
	}, nil
}

// selfImproveCycle turns the agent's undecided mistakes into proposed
// learning deltas, one per mistake, and returns the proposals.
func (c *Controller) selfImproveCycle(agentID string) (interface{}, error) {
	if _, err := c.ws.LoadAgent(agentID); err != nil {
		return nil, rpc.UserErrorf("agent_not_found", "agent %s: %v", agentID, err)
	}
	deltas, err := c.ws.ListMemoryDeltas(agentID)
	if err != nil {
		return nil, err
	}

	var proposed []*types.MemoryDelta
	for _, d := range deltas {
		if d.Kind != "mistake" || d.Status != types.MemoryDeltaProposed {
			continue
		}
		content, _ := security.RedactSecrets(fmt.Sprintf("Avoid repeating: %s", d.Content))
		learning := &types.MemoryDelta{
			DeltaID:    workspace.NewID("delta"),
			AgentID:    agentID,
			Kind:       "learning",
			Content:    content,
			Status:     types.MemoryDeltaProposed,
			ProposedBy: agentID,
			CreatedAt:  time.Now().UTC(),
		}
		if err := c.ws.SaveMemoryDelta(learning); err != nil {
			return nil, err
		}
		proposed = append(proposed, learning)
	}
	return map[string]interface{}{"proposed": proposed}, nil
}
