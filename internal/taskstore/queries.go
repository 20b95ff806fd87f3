package taskstore

import (
	"context"
	"encoding/json"
	"strconv"

	"github.com/lhbill/assppweb/internal/apperr"
	"github.com/lhbill/assppweb/internal/model"
)

// GetTask returns the sanitized task, or nil if it does not exist or
// belongs to a different tenant — spec.md §4.F never distinguishes the
// two cases to the caller. Read-only RPCs query the pool directly; they
// need not serialize behind the actor to observe a consistent snapshot
// of any one task (spec.md §4.F).
func (s *Store) GetTask(ctx context.Context, taskID, accountHash string) (*model.SanitizedTask, error) {
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE task_id = $1 AND account_hash = $2`
	task, err := scanTaskRow(s.pool.QueryRow(ctx, query, taskID, accountHash))
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamError, "get task", err)
	}
	sanitized := task.Sanitize()
	return &sanitized, nil
}

// ListTasks returns the union of tasks visible to any of the given
// account hashes, newest first within each account.
func (s *Store) ListTasks(ctx context.Context, accountHashes []string) ([]model.SanitizedTask, error) {
	if len(accountHashes) == 0 {
		return nil, nil
	}
	query := `SELECT ` + taskColumns + ` FROM tasks WHERE account_hash = ANY($1) ORDER BY created_at DESC`
	rows, err := s.pool.Query(ctx, query, accountHashes)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamError, "list tasks", err)
	}
	defer rows.Close()

	var out []model.SanitizedTask
	for rows.Next() {
		task, err := scanTaskRow(rows)
		if err != nil {
			return nil, apperr.Wrap(apperr.KindUpstreamError, "scan task row", err)
		}
		out = append(out, task.Sanitize())
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamError, "iterate task rows", err)
	}
	return out, nil
}

// PublicTask is the no-tenant-check view returned by getTaskPublic;
// installation URLs are unguessable UUIDs, so exposing the descriptor
// and completion flag carries no cross-tenant leak (spec.md §4.F).
type PublicTask struct {
	Software model.Software
	HasFile  bool
}

// GetTaskPublic returns {software, hasFile} for any task ID, with no
// tenant check.
func (s *Store) GetTaskPublic(ctx context.Context, taskID string) (*PublicTask, error) {
	query := `SELECT software, status, file_size FROM tasks WHERE task_id = $1`
	var (
		softwareJS []byte
		status     string
		fileSize   int64
	)
	err := s.pool.QueryRow(ctx, query, taskID).Scan(&softwareJS, &status, &fileSize)
	if isNoRows(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamError, "get public task", err)
	}
	var software model.Software
	if err := json.Unmarshal(softwareJS, &software); err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamError, "decode software column", err)
	}
	return &PublicTask{
		Software: software,
		HasFile:  model.TaskStatus(status) == model.StatusCompleted && fileSize > 0,
	}, nil
}

// GetR2KeyPublic returns the artifact key for a completed task, with no
// tenant check (the UUID itself is the secret, per spec.md §4.F).
func (s *Store) GetR2KeyPublic(ctx context.Context, taskID string) (string, bool, error) {
	query := `SELECT r2_key FROM tasks WHERE task_id = $1 AND status = 'completed'`
	var key *string
	err := s.pool.QueryRow(ctx, query, taskID).Scan(&key)
	if isNoRows(err) || key == nil {
		return "", false, nil
	}
	if err != nil {
		return "", false, apperr.Wrap(apperr.KindUpstreamError, "get r2 key", err)
	}
	return *key, true, nil
}

// GetConfig returns the persisted cleanup tunables, or zero values if
// never set (callers fall back to environment defaults in that case).
func (s *Store) GetConfig(ctx context.Context) (model.CleanupConfig, error) {
	days, err := s.getIntSetting(ctx, "autoCleanupDays")
	if err != nil {
		return model.CleanupConfig{}, err
	}
	maxMB, err := s.getIntSetting(ctx, "autoCleanupMaxMB")
	if err != nil {
		return model.CleanupConfig{}, err
	}
	return model.CleanupConfig{AutoCleanupDays: days, AutoCleanupMaxMB: maxMB}, nil
}

func (s *Store) getIntSetting(ctx context.Context, key string) (int, error) {
	var value string
	err := s.pool.QueryRow(ctx, `SELECT value FROM app_settings WHERE key = $1`, key).Scan(&value)
	if isNoRows(err) {
		return 0, nil
	}
	if err != nil {
		return 0, apperr.Wrap(apperr.KindUpstreamError, "get setting "+key, err)
	}
	n, convErr := strconv.Atoi(value)
	if convErr != nil {
		return 0, apperr.Internal(convErr, "parse setting %q", key)
	}
	return n, nil
}

// GetPasswordHash returns the stored PBKDF2 hash string, or "" if unset.
func (s *Store) GetPasswordHash(ctx context.Context) (string, error) {
	query := `SELECT value FROM app_settings WHERE key = 'password_hash'`
	var hash string
	err := s.pool.QueryRow(ctx, query).Scan(&hash)
	if isNoRows(err) {
		return "", nil
	}
	if err != nil {
		return "", apperr.Wrap(apperr.KindUpstreamError, "get password hash", err)
	}
	return hash, nil
}

// UpdateProgress persists a download-in-progress snapshot. It is not
// one of the mutating RPCs spec.md §4.F lists as needing serialization
// (create/pause/resume/delete/setConfig/setPasswordHash); each task's
// progress is only ever written by its own worker goroutine, so
// concurrent progress writes across different tasks never race on the
// same row and can bypass the actor (spec.md §5 "Shared resources").
func (s *Store) UpdateProgress(ctx context.Context, taskID string, progress int, speed string) error {
	query := `UPDATE tasks SET progress = $2, speed = $3 WHERE task_id = $1`
	_, err := s.pool.Exec(ctx, query, taskID, progress, speed)
	if err != nil {
		return apperr.Wrap(apperr.KindUpstreamError, "update progress", err)
	}
	return nil
}

// MarkDownloading transitions a task from pending (or paused, on
// resume) to downloading, once its worker has actually started
// streaming the artifact — the transition spec.md's pending→downloading→
// injecting→completed happy path requires before any progress write.
func (s *Store) MarkDownloading(ctx context.Context, taskID string) error {
	query := `UPDATE tasks SET status = 'downloading' WHERE task_id = $1`
	_, err := s.pool.Exec(ctx, query, taskID)
	if err != nil {
		return apperr.Wrap(apperr.KindUpstreamError, "mark downloading", err)
	}
	return nil
}

// MarkInjecting transitions a task from downloading to injecting, once
// the download engine has finished streaming the artifact.
func (s *Store) MarkInjecting(ctx context.Context, taskID string) error {
	query := `UPDATE tasks SET status = 'injecting', progress = 100, speed = '' WHERE task_id = $1`
	_, err := s.pool.Exec(ctx, query, taskID)
	if err != nil {
		return apperr.Wrap(apperr.KindUpstreamError, "mark injecting", err)
	}
	return nil
}

// CompleteTask records the final artifact key and size and clears the
// secret fields, fulfilling the "r2_key present only if completed"
// invariant in the same statement that sets status.
func (s *Store) CompleteTask(ctx context.Context, taskID, r2Key string, fileSize int64) error {
	query := `UPDATE tasks
		SET status = 'completed', r2_key = $2, file_size = $3,
		    download_url = '', sinfs = '[]', itunes_metadata = ''
		WHERE task_id = $1`
	_, err := s.pool.Exec(ctx, query, taskID, r2Key, fileSize)
	if err != nil {
		return apperr.Wrap(apperr.KindUpstreamError, "complete task", err)
	}
	return nil
}

// FailTask records a terminal error message and frees the dedup slot
// (the partial unique index excludes status = 'failed').
func (s *Store) FailTask(ctx context.Context, taskID, message string) error {
	query := `UPDATE tasks SET status = 'failed', error = $2, speed = '' WHERE task_id = $1`
	_, err := s.pool.Exec(ctx, query, taskID, message)
	if err != nil {
		return apperr.Wrap(apperr.KindUpstreamError, "fail task", err)
	}
	return nil
}
