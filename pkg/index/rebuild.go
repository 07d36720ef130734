package index

import (
	"fmt"

	"github.com/agentcompany/agentcompany/pkg/workspace"
)

// Rebuild drops every row and re-indexes the workspace from scratch in a
// single transaction. Readers see either the old index or the new one,
// never a half-built state.
func (s *Store) Rebuild(ws *workspace.Workspace) (Stats, error) {
	var stats Stats
	err := WithWorkspaceLock(ws.Root, func() error {
		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("failed to begin rebuild transaction: %w", err)
		}
		defer tx.Rollback()

		if err := dropAll(tx); err != nil {
			return err
		}
		// Converging from an empty index is a plain full insert.
		stats, err = syncTx(tx, ws)
		if err != nil {
			return err
		}
		return tx.Commit()
	})
	return stats, err
}
