package taskstore

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/lhbill/assppweb/internal/model"
)

// taskRowScanner is satisfied by both pgx.Row and pgx.Rows, letting
// scanTaskRow serve single-row and multi-row queries alike.
type taskRowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTaskRow(row taskRowScanner) (*model.Task, error) {
	var (
		t          model.Task
		softwareJS []byte
		sinfsJS    []byte
		status     string
		createdAt  time.Time
	)
	err := row.Scan(
		&t.TaskID,
		&t.AccountHash,
		&softwareJS,
		&t.DownloadURL,
		&sinfsJS,
		&t.ITunesMetadata,
		&status,
		&t.Progress,
		&t.Speed,
		&t.Error,
		&createdAt,
		&t.FileSize,
	)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(softwareJS, &t.Software); err != nil {
		return nil, fmt.Errorf("taskstore: decode software column: %w", err)
	}
	if err := json.Unmarshal(sinfsJS, &t.SINFs); err != nil {
		return nil, fmt.Errorf("taskstore: decode sinfs column: %w", err)
	}
	t.Status = model.TaskStatus(status)
	t.CreatedAt = createdAt
	return &t, nil
}

const taskColumns = `task_id, account_hash, software, download_url, sinfs, itunes_metadata,
	status, progress, speed, error, created_at, file_size`

func isNoRows(err error) bool {
	return err == pgx.ErrNoRows
}
