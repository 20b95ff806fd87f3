package taskstore

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"

	"github.com/lhbill/assppweb/internal/apperr"
	"github.com/lhbill/assppweb/internal/model"
)

// CreateTaskParams is the inbound payload for CreateTask, matching the
// POST /downloads body in spec.md §6.
type CreateTaskParams struct {
	AccountHash    string
	Software       model.Software
	DownloadURL    string
	SINFs          []model.SINF
	ITunesMetadata string
}

// CreateTask validates, dedups, writes the task record, and kicks off
// the download in the background — spec.md §4.F. Runs on the actor so
// the dedup check-then-insert is never racing another mutating RPC.
func (s *Store) CreateTask(ctx context.Context, params CreateTaskParams) (*model.SanitizedTask, error) {
	if !model.ValidAccountHash(params.AccountHash) {
		return nil, apperr.BadRequest("invalid accountHash")
	}
	if !model.ValidDownloadURL(params.DownloadURL) {
		return nil, apperr.BadRequest("invalid downloadUrl")
	}
	if params.Software.BundleID == "" || params.Software.Version == "" {
		return nil, apperr.BadRequest("software.bundleId and software.version are required")
	}

	val, err := s.submit(ctx, func(ctx context.Context) (interface{}, error) {
		return s.createTaskLocked(ctx, params)
	})
	if err != nil {
		return nil, err
	}
	task := val.(*model.Task)
	s.launchWorker(task)
	sanitized := task.Sanitize()
	return &sanitized, nil
}

func (s *Store) createTaskLocked(ctx context.Context, params CreateTaskParams) (*model.Task, error) {
	softwareJS, err := json.Marshal(params.Software)
	if err != nil {
		return nil, apperr.Internal(err, "marshal software")
	}
	sinfsJS, err := json.Marshal(params.SINFs)
	if err != nil {
		return nil, apperr.Internal(err, "marshal sinfs")
	}

	task := &model.Task{
		TaskID:         uuid.NewString(),
		AccountHash:    params.AccountHash,
		Software:       params.Software,
		DownloadURL:    params.DownloadURL,
		SINFs:          params.SINFs,
		ITunesMetadata: params.ITunesMetadata,
		Status:         model.StatusPending,
		CreatedAt:      time.Now().UTC(),
	}

	query := `
		INSERT INTO tasks (
			task_id, account_hash, bundle_id, version, software, download_url,
			sinfs, itunes_metadata, status, progress, speed, error, created_at, file_size
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, 0, '', '', $10, 0
		)
		ON CONFLICT (account_hash, bundle_id, version) WHERE status <> 'failed' DO NOTHING`

	tag, err := s.pool.Exec(ctx, query,
		task.TaskID, task.AccountHash, task.Software.BundleID, task.Software.Version,
		softwareJS, task.DownloadURL, sinfsJS, task.ITunesMetadata, task.Status, task.CreatedAt,
	)
	if err != nil {
		return nil, apperr.Wrap(apperr.KindUpstreamError, "insert task", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, apperr.Conflict("a non-failed task already exists for this bundle and version")
	}
	return task, nil
}

// PauseTask transitions downloading → paused and signals cancellation.
// Only succeeds from status "downloading", per spec.md §4.F.
func (s *Store) PauseTask(ctx context.Context, taskID, accountHash string) (bool, error) {
	val, err := s.submit(ctx, func(ctx context.Context) (interface{}, error) {
		query := `UPDATE tasks SET status = 'paused', speed = ''
			WHERE task_id = $1 AND account_hash = $2 AND status = 'downloading'`
		tag, err := s.pool.Exec(ctx, query, taskID, accountHash)
		if err != nil {
			return false, apperr.Wrap(apperr.KindUpstreamError, "pause task", err)
		}
		return tag.RowsAffected() > 0, nil
	})
	if err != nil {
		return false, err
	}
	ok := val.(bool)
	if ok {
		s.jobs.Cancel(taskID)
	}
	return ok, nil
}

// ResumeTask transitions paused → downloading and restarts the
// download from scratch, per spec.md §4.F.
func (s *Store) ResumeTask(ctx context.Context, taskID, accountHash string) (bool, error) {
	val, err := s.submit(ctx, func(ctx context.Context) (interface{}, error) {
		query := `UPDATE tasks SET status = 'downloading', progress = 0, speed = '', error = ''
			WHERE task_id = $1 AND account_hash = $2 AND status = 'paused'
			RETURNING ` + taskColumns
		task, err := scanTaskRow(s.pool.QueryRow(ctx, query, taskID, accountHash))
		if isNoRows(err) {
			return (*model.Task)(nil), nil
		}
		if err != nil {
			return (*model.Task)(nil), apperr.Wrap(apperr.KindUpstreamError, "resume task", err)
		}
		return task, nil
	})
	if err != nil {
		return false, err
	}
	task, _ := val.(*model.Task)
	if task == nil {
		return false, nil
	}
	s.launchWorker(task)
	return true, nil
}

// DeleteTask cancels any in-flight download, deletes the stored
// artifact (both the live key and its .new temp sibling), and removes
// the task record — spec.md §4.F.
func (s *Store) DeleteTask(ctx context.Context, taskID, accountHash string) (bool, error) {
	val, err := s.submit(ctx, func(ctx context.Context) (interface{}, error) {
		query := `DELETE FROM tasks WHERE task_id = $1 AND account_hash = $2 RETURNING bundle_id`
		var bundleID string
		err := s.pool.QueryRow(ctx, query, taskID, accountHash).Scan(&bundleID)
		if isNoRows(err) {
			return "", nil
		}
		if err != nil {
			return "", apperr.Wrap(apperr.KindUpstreamError, "delete task", err)
		}
		return bundleID, nil
	})
	if err != nil {
		return false, err
	}
	bundleID := val.(string)
	if bundleID == "" {
		return false, nil
	}

	s.jobs.Cancel(taskID)

	if s.artifacts != nil {
		keys := []string{
			model.ArtifactKey(accountHash, bundleID, taskID),
			model.TempArtifactKey(accountHash, bundleID, taskID),
		}
		if delErr := s.artifacts.Delete(ctx, keys); delErr != nil {
			s.log.Warnf("delete artifact for task %s: %v", taskID, delErr)
		}
	}
	return true, nil
}

// SetConfig persists the cleanup tunables.
func (s *Store) SetConfig(ctx context.Context, cfg model.CleanupConfig) error {
	_, err := s.submit(ctx, func(ctx context.Context) (interface{}, error) {
		if err := s.setIntSetting(ctx, "autoCleanupDays", cfg.AutoCleanupDays); err != nil {
			return nil, err
		}
		if err := s.setIntSetting(ctx, "autoCleanupMaxMB", cfg.AutoCleanupMaxMB); err != nil {
			return nil, err
		}
		return nil, nil
	})
	return err
}

func (s *Store) setIntSetting(ctx context.Context, key string, value int) error {
	query := `INSERT INTO app_settings (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`
	_, err := s.pool.Exec(ctx, query, key, value)
	if err != nil {
		return apperr.Wrap(apperr.KindUpstreamError, "set setting "+key, err)
	}
	return nil
}

// SetPasswordHash overwrites the stored password hash unconditionally —
// used by change-password.
func (s *Store) SetPasswordHash(ctx context.Context, hash string) error {
	_, err := s.submit(ctx, func(ctx context.Context) (interface{}, error) {
		query := `INSERT INTO app_settings (key, value) VALUES ('password_hash', $1)
			ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`
		_, err := s.pool.Exec(ctx, query, hash)
		return nil, err
	})
	return err
}

// SetPasswordHashIfNotExists is the compare-and-set used during initial
// setup: it only takes effect if no hash has ever been stored.
func (s *Store) SetPasswordHashIfNotExists(ctx context.Context, hash string) (bool, error) {
	val, err := s.submit(ctx, func(ctx context.Context) (interface{}, error) {
		query := `INSERT INTO app_settings (key, value) VALUES ('password_hash', $1)
			ON CONFLICT (key) DO NOTHING`
		tag, err := s.pool.Exec(ctx, query, hash)
		if err != nil {
			return false, apperr.Wrap(apperr.KindUpstreamError, "set password hash if not exists", err)
		}
		return tag.RowsAffected() > 0, nil
	})
	if err != nil {
		return false, err
	}
	return val.(bool), nil
}
