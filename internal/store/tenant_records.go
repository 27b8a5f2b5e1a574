package store

import (
	"context"

	"github.com/compoundkb/compoundmcp/internal/tenant"
)

// UpsertWorktree records the worktree under its path hash, refreshing
// last_seen. Called on every activation.
func (s *PgStore) UpsertWorktree(ctx context.Context, pathHash, repoRoot, projectName string) error {
	err := withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, `
INSERT INTO compounding.worktrees (path_hash, repo_root, project_name, last_seen)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (path_hash) DO UPDATE SET
	repo_root = EXCLUDED.repo_root,
	project_name = EXCLUDED.project_name,
	last_seen = NOW()`, pathHash, repoRoot, projectName)
		return err
	})
	if err != nil {
		return wrapDB("failed to upsert worktree record", err)
	}
	return nil
}

// UpsertProjectRecord records the (project, branch) pair, refreshing
// last_seen.
func (s *PgStore) UpsertProjectRecord(ctx context.Context, projectName, branchName string) error {
	err := withRetry(ctx, func() error {
		_, err := s.pool.Exec(ctx, `
INSERT INTO compounding.projects (project_name, branch_name, last_seen)
VALUES ($1, $2, NOW())
ON CONFLICT (project_name, branch_name) DO UPDATE SET last_seen = NOW()`,
			projectName, branchName)
		return err
	})
	if err != nil {
		return wrapDB("failed to upsert project record", err)
	}
	return nil
}

// TouchTenantRecords refreshes last_seen on both tenant records. Called
// at deactivation.
func (s *PgStore) TouchTenantRecords(ctx context.Context, key tenant.Key) error {
	err := withRetry(ctx, func() error {
		if _, err := s.pool.Exec(ctx,
			`UPDATE compounding.worktrees SET last_seen = NOW() WHERE path_hash = $1`,
			key.PathHash); err != nil {
			return err
		}
		_, err := s.pool.Exec(ctx, `
UPDATE compounding.projects SET last_seen = NOW()
WHERE project_name = $1 AND branch_name = $2`,
			key.ProjectName, key.BranchName)
		return err
	})
	if err != nil {
		return wrapDB("failed to touch tenant records", err)
	}
	return nil
}
