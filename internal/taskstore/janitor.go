package taskstore

import (
	"context"

	"github.com/lhbill/assppweb/internal/apperr"
	"github.com/lhbill/assppweb/internal/janitor"
	"github.com/lhbill/assppweb/internal/model"
)

// ListAllTasks satisfies janitor.TaskLister: one scan of every task
// record into the working set the sweep's three phases share (spec.md
// §4.G phase 2). Bypasses the actor, like the other read-only RPCs —
// the janitor tolerates a snapshot that is briefly stale by a
// concurrent create.
func (s *Store) ListAllTasks(ctx context.Context) ([]janitor.TaskRecord, error) {
	query := `SELECT task_id, account_hash, bundle_id, status, created_at, r2_key FROM tasks`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamError, "list all tasks", err)
	}
	defer rows.Close()

	var out []janitor.TaskRecord
	for rows.Next() {
		var (
			rec    janitor.TaskRecord
			status string
			r2Key  *string
		)
		if err := rows.Scan(&rec.TaskID, &rec.AccountHash, &rec.BundleID, &status, &rec.CreatedAt, &r2Key); err != nil {
			return nil, apperr.Wrap(apperr.KindUpstreamError, "scan task row for janitor", err)
		}
		rec.Status = model.TaskStatus(status)
		if r2Key != nil {
			rec.ArtifactKey = *r2Key
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamError, "iterate task rows for janitor", err)
	}
	return out, nil
}

// Purge removes one task record outright — used only by the janitor,
// which has already cancelled the worker and deleted the blob keys
// before calling this (spec.md §4.G "Purge"). Unlike DeleteTask, this
// skips the tenant check: the janitor already has the authoritative
// account hash and bundle ID from ListAllTasks.
func (s *Store) Purge(ctx context.Context, taskID, accountHash, bundleID string) error {
	_, err := s.submit(ctx, func(ctx context.Context) (interface{}, error) {
		_, err := s.pool.Exec(ctx, `DELETE FROM tasks WHERE task_id = $1`, taskID)
		return nil, err
	})
	if err != nil {
		return apperr.Wrap(apperr.KindUpstreamError, "purge task", err)
	}
	return nil
}
