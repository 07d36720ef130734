package snapshot

import (
	"time"

	"github.com/agentcompany/agentcompany/pkg/index"
)

// InboxSnapshot is the review-inbox view: what awaits a decision and
// what was recently decided.
type InboxSnapshot struct {
	GeneratedAt      time.Time              `json:"generated_at"`
	PendingArtifacts []index.ArtifactRow    `json:"pending_artifacts"`
	RecentDecisions  []index.ReviewRow      `json:"recent_decisions"`
	HelpRequests     []index.HelpRequestRow `json:"help_requests"`
	DecisionCounts   map[string]int         `json:"decision_counts"`
}

// ComposeInbox builds the review inbox. targetManager scopes the help
// requests; empty means all.
func ComposeInbox(store *index.Store, targetManager string, limit int) (*InboxSnapshot, error) {
	pending, err := store.UnreviewedArtifacts(limit)
	if err != nil {
		return nil, err
	}
	decisions, err := store.ListReviews(limit)
	if err != nil {
		return nil, err
	}
	helpRequests, err := store.ListHelpRequests(targetManager, limit)
	if err != nil {
		return nil, err
	}
	counts, err := store.ReviewDecisionCounts()
	if err != nil {
		return nil, err
	}
	return &InboxSnapshot{
		GeneratedAt:      time.Now().UTC(),
		PendingArtifacts: pending,
		RecentDecisions:  decisions,
		HelpRequests:     helpRequests,
		DecisionCounts:   counts,
	}, nil
}
