package snapshot

import (
	"time"

	"github.com/agentcompany/agentcompany/pkg/index"
	"github.com/agentcompany/agentcompany/pkg/workspace"
)

// BootstrapRequest selects what the desktop shell needs in one round
// trip.
type BootstrapRequest struct {
	Scope          string `json:"scope"` // "workspace" or "project"
	ProjectID      string `json:"project_id,omitempty"`
	View           string `json:"view,omitempty"`
	ConversationID string `json:"conversation_id,omitempty"`
}

// BootstrapSnapshot is the union the desktop shell renders on load.
type BootstrapSnapshot struct {
	GeneratedAt time.Time          `json:"generated_at"`
	Scope       string             `json:"scope"`
	ProjectID   string             `json:"project_id,omitempty"`
	PM          *PMSnapshot        `json:"pm,omitempty"`
	Monitor     *MonitorSnapshot   `json:"monitor,omitempty"`
	Inbox       *InboxSnapshot     `json:"inbox,omitempty"`
	Resources   *ResourcesSnapshot `json:"resources,omitempty"`
}

const bootstrapListLimit = 50

// ComposeBootstrap assembles the union snapshot. The monitor section is
// only present when a project is in scope.
func ComposeBootstrap(ws *workspace.Workspace, store *index.Store, req BootstrapRequest) (*BootstrapSnapshot, error) {
	snap := &BootstrapSnapshot{
		GeneratedAt: time.Now().UTC(),
		Scope:       req.Scope,
		ProjectID:   req.ProjectID,
	}

	pm, err := ComposePM(ws, req.ProjectID)
	if err != nil {
		return nil, err
	}
	snap.PM = pm

	if req.ProjectID != "" {
		monitor, err := ComposeMonitor(store, req.ProjectID, bootstrapListLimit)
		if err != nil {
			return nil, err
		}
		snap.Monitor = monitor
	}

	inbox, err := ComposeInbox(store, "", bootstrapListLimit)
	if err != nil {
		return nil, err
	}
	snap.Inbox = inbox

	resources, err := ComposeResources(ws)
	if err != nil {
		return nil, err
	}
	snap.Resources = resources
	return snap, nil
}
