// Package model holds the data types shared across the assppweb server:
// the inbound software descriptor, SINF records, download tasks, and the
// sanitized records returned to API callers.
package model

import (
	"time"
)

// Software is the inbound descriptor for an application to be signed and
// relayed. Only BundleID and Version are used for deduplication; Name and
// BundleID are used for artifact file naming. Every other field is
// carried opaquely.
type Software struct {
	TrackID    int64   `json:"trackId"`
	BundleID   string  `json:"bundleId"`
	Name       string  `json:"name"`
	Version    string  `json:"version"`
	IconURL    string  `json:"iconUrl,omitempty"`
	Genre      string  `json:"genre,omitempty"`
	Rating     string  `json:"rating,omitempty"`
	SizeBytes  int64   `json:"sizeBytes,omitempty"`
}

// SINF is one DRM signature record supplied by the client for injection.
type SINF struct {
	ID   int    `json:"id"`
	Data string `json:"data"` // base64-encoded signature bytes
}

// TaskStatus is the lifecycle state of a Task.
type TaskStatus string

const (
	StatusPending    TaskStatus = "pending"
	StatusDownloading TaskStatus = "downloading"
	StatusPaused     TaskStatus = "paused"
	StatusInjecting  TaskStatus = "injecting"
	StatusCompleted  TaskStatus = "completed"
	StatusFailed     TaskStatus = "failed"
)

// Valid reports whether s is one of the defined lifecycle states.
func (s TaskStatus) Valid() bool {
	switch s {
	case StatusPending, StatusDownloading, StatusPaused, StatusInjecting, StatusCompleted, StatusFailed:
		return true
	default:
		return false
	}
}

// Task is a download/injection job. Identity is TaskID. Secrets
// (DownloadURL, SINFs, ITunesMetadata) are cleared in the stored record
// when the task transitions to completed (the task store's completion
// update blanks those columns; ClearSecrets does the same on an
// in-memory Task), and are never present on a sanitized record (see
// Sanitize).
type Task struct {
	TaskID         string     `json:"taskId"`
	AccountHash    string     `json:"accountHash"`
	Software       Software   `json:"software"`
	DownloadURL    string     `json:"downloadUrl,omitempty"`
	SINFs          []SINF     `json:"sinfs,omitempty"`
	ITunesMetadata string     `json:"iTunesMetadata,omitempty"` // base64 XML plist
	Status         TaskStatus `json:"status"`
	Progress       int        `json:"progress"`
	Speed          string     `json:"speed,omitempty"`
	Error          string     `json:"error,omitempty"`
	CreatedAt      time.Time  `json:"createdAt"`
	FileSize       int64      `json:"fileSize,omitempty"`
}

// ClearSecrets zeroes the fields that must not survive past completion.
func (t *Task) ClearSecrets() {
	t.DownloadURL = ""
	t.SINFs = nil
	t.ITunesMetadata = ""
}

// SanitizedTask is the outbound view of a Task: secret fields are
// replaced by a boolean presence flag and an optional size, so the
// engine can never leak downloadURL, sinfs, or iTunesMetadata.
type SanitizedTask struct {
	TaskID    string     `json:"taskId"`
	Software  Software   `json:"software"`
	Status    TaskStatus `json:"status"`
	Progress  int        `json:"progress"`
	Speed     string     `json:"speed,omitempty"`
	Error     string     `json:"error,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	HasFile   bool       `json:"hasFile"`
	FileSize  int64      `json:"fileSize,omitempty"`
}

// Sanitize produces the outbound view of t. It never copies
// DownloadURL, SINFs, or ITunesMetadata.
func (t *Task) Sanitize() SanitizedTask {
	return SanitizedTask{
		TaskID:    t.TaskID,
		Software:  t.Software,
		Status:    t.Status,
		Progress:  t.Progress,
		Speed:     t.Speed,
		Error:     t.Error,
		CreatedAt: t.CreatedAt,
		HasFile:   t.Status == StatusCompleted && t.FileSize > 0,
		FileSize:  t.FileSize,
	}
}

// ArtifactKey returns the deterministic blob store path for a
// completed task's artifact.
func ArtifactKey(accountHash, bundleID, taskID string) string {
	return "packages/" + accountHash + "/" + bundleID + "/" + taskID + ".ipa"
}

// TempArtifactKey returns the sibling key used while injection is in
// progress; it must not exist outside that window.
func TempArtifactKey(accountHash, bundleID, taskID string) string {
	return ArtifactKey(accountHash, bundleID, taskID) + ".new"
}

// CleanupConfig holds the two tunables the task store persists,
// overriding environment defaults.
type CleanupConfig struct {
	AutoCleanupDays   int `json:"autoCleanupDays"`
	AutoCleanupMaxMB  int `json:"autoCleanupMaxMB"`
}
