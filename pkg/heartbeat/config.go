package heartbeat

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"github.com/agentcompany/agentcompany/pkg/types"
	"github.com/agentcompany/agentcompany/pkg/workspace"
)

// LoadConfig reads .local/heartbeat/config.yaml, falling back to the
// defaults when the file does not exist yet.
func LoadConfig(ws *workspace.Workspace) (types.HeartbeatConfig, error) {
	cfg := types.DefaultHeartbeatConfig()
	data, err := os.ReadFile(ws.HeartbeatConfigFile())
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return cfg, fmt.Errorf("failed to read heartbeat config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("malformed heartbeat config: %w", err)
	}
	return cfg, nil
}

// SaveConfig persists the heartbeat configuration.
func SaveConfig(ws *workspace.Workspace, cfg types.HeartbeatConfig) error {
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal heartbeat config: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(ws.HeartbeatConfigFile()), 0755); err != nil {
		return err
	}
	return os.WriteFile(ws.HeartbeatConfigFile(), data, 0644)
}

// LoadState reads the scheduler's persisted state; a missing file
// yields an empty state.
func LoadState(ws *workspace.Workspace) (*types.HeartbeatState, error) {
	var st types.HeartbeatState
	data, err := os.ReadFile(ws.HeartbeatStateFile())
	if err != nil {
		if os.IsNotExist(err) {
			return &st, nil
		}
		return nil, fmt.Errorf("failed to read heartbeat state: %w", err)
	}
	if err := yaml.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("malformed heartbeat state: %w", err)
	}
	return &st, nil
}

// SaveState persists the scheduler state.
func SaveState(ws *workspace.Workspace, st *types.HeartbeatState) error {
	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("failed to marshal heartbeat state: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(ws.HeartbeatStateFile()), 0755); err != nil {
		return err
	}
	return os.WriteFile(ws.HeartbeatStateFile(), data, 0644)
}
