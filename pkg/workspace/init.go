package workspace

import (
	"fmt"
	"os"
	"time"

	"github.com/agentcompany/agentcompany/pkg/types"
)

// Init seeds a new workspace at the workspace root: company record, org
// and inbox directories, and a default machine config. Init refuses to
// overwrite an existing company file.
func (w *Workspace) Init(name string) error {
	if _, err := os.Stat(w.CompanyFile()); err == nil {
		return fmt.Errorf("workspace already initialized at %s", w.Root)
	}

	dirs := []string{
		w.TeamsDir(),
		w.AgentsDir(),
		w.ProjectsDir(),
		w.ReviewsDir(),
		w.HelpRequestsDir(),
		w.HeartbeatDir(),
		w.WorktreesDir(),
		w.ConversationsDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}

	company := &types.Company{
		ID:        NewID("co"),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	if err := w.SaveCompany(company); err != nil {
		return fmt.Errorf("failed to write company record: %w", err)
	}

	machine := &types.MachineConfig{
		ProviderBins: map[string]string{},
		RateCards: []types.RateCard{
			{Provider: "codex", InputPerMTok: 2.50, CachedInputPerMTok: 0.25, OutputPerMTok: 10.00},
			{Provider: "claude", InputPerMTok: 3.00, CachedInputPerMTok: 0.30, OutputPerMTok: 15.00},
		},
	}
	if err := w.SaveMachineConfig(machine); err != nil {
		return fmt.Errorf("failed to write machine config: %w", err)
	}

	return nil
}

// EnsureLayout creates any directories missing from an existing
// workspace. Used when a workspace written by an older layout is
// opened; records are never touched.
func (w *Workspace) EnsureLayout() error {
	dirs := []string{
		w.TeamsDir(),
		w.AgentsDir(),
		w.ProjectsDir(),
		w.ReviewsDir(),
		w.HelpRequestsDir(),
		w.HeartbeatDir(),
		w.WorktreesDir(),
		w.ConversationsDir(),
	}
	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	return nil
}

// Validate checks that the workspace has the directories and records the
// core depends on.
func (w *Workspace) Validate() error {
	if _, err := os.Stat(w.CompanyFile()); err != nil {
		return fmt.Errorf("not a workspace: missing %s", w.CompanyFile())
	}
	if _, err := w.LoadCompany(); err != nil {
		return fmt.Errorf("company record unreadable: %w", err)
	}
	return nil
}

// CreateProject materializes a project directory with its subdirectories.
func (w *Workspace) CreateProject(name string) (*types.Project, error) {
	p := &types.Project{
		ID:        NewID("proj"),
		Name:      name,
		CreatedAt: time.Now().UTC(),
	}
	for _, dir := range []string{
		w.TasksDir(p.ID),
		w.ArtifactsDir(p.ID),
		w.RunsDir(p.ID),
		w.JobsDir(p.ID),
		w.ContextPacksDir(p.ID),
	} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create %s: %w", dir, err)
		}
	}
	if err := w.SaveProject(p); err != nil {
		return nil, err
	}
	return p, nil
}
