// Package janitor implements the cleanup sweep of spec.md §4.G: age,
// quota, and orphan phases sharing a single blob-store listing. The
// package exposes New and Run(ctx, days, maxMB); it does no scheduling
// of its own — cron wiring is out of scope per spec.md §1 and §6
// (Non-goals), matching SPEC_FULL.md's "no pack library does
// scheduling" note.
package janitor

import (
	"context"
	"sort"
	"time"

	"github.com/lhbill/assppweb/internal/apperr"
	"github.com/lhbill/assppweb/internal/blobstore"
	"github.com/lhbill/assppweb/internal/humansize"
	"github.com/lhbill/assppweb/internal/jobs"
	"github.com/lhbill/assppweb/internal/logging"
	"github.com/lhbill/assppweb/internal/model"
)

const listPageSize = 1000

// TaskLister is the slice of internal/taskstore the janitor depends on:
// an enumeration of every task record's id, account, bundle, artifact
// key, creation time, and status, plus the means to purge one.
type TaskLister interface {
	ListAllTasks(ctx context.Context) ([]TaskRecord, error)
	Purge(ctx context.Context, taskID, accountHash, bundleID string) error
}

// TaskRecord is the minimal view of a task the janitor needs; it avoids
// depending on internal/taskstore's full Store type so the janitor can
// be tested against a fake.
type TaskRecord struct {
	TaskID      string
	AccountHash string
	BundleID    string
	Status      model.TaskStatus
	CreatedAt   time.Time
	ArtifactKey string // "" unless Status == completed
}

// Janitor runs the three-phase sweep against a blob store and a task
// lister, cancelling any in-flight worker via the shared jobs.Registry
// before purging — the same path pause/delete already use, so the
// janitor never races a live download on the same key (spec.md §5
// "Shared resources").
type Janitor struct {
	store blobstore.Store
	tasks TaskLister
	jobs  *jobs.Registry
	log   *logging.FieldLogger
}

// New builds a Janitor.
func New(store blobstore.Store, tasks TaskLister, jobsRegistry *jobs.Registry) *Janitor {
	return &Janitor{
		store: store,
		tasks: tasks,
		jobs:  jobsRegistry,
		log:   logging.Global().WithField("component", "janitor"),
	}
}

// Run executes the sweep once. days == 0 skips the age phase; maxMB ==
// 0 skips the quota phase. The orphan phase always runs.
func (j *Janitor) Run(ctx context.Context, days, maxMB int) error {
	blobSizes, totalSize, err := j.listAllBlobs(ctx)
	if err != nil {
		return err
	}

	tasks, err := j.tasks.ListAllTasks(ctx)
	if err != nil {
		return apperr.Wrap(apperr.KindUpstreamError, "list tasks for janitor sweep", err)
	}

	purged := make(map[string]bool)

	if days > 0 {
		cutoff := time.Now().Add(-time.Duration(days) * 24 * time.Hour)
		for _, t := range tasks {
			if purged[t.TaskID] || t.CreatedAt.After(cutoff) {
				continue
			}
			if err := j.purge(ctx, t); err != nil {
				j.log.Warnf("age purge of task %s failed: %v", t.TaskID, err)
				continue
			}
			purged[t.TaskID] = true
			totalSize -= blobSizes[t.ArtifactKey]
		}
	}

	if maxMB > 0 {
		capBytes := int64(maxMB) * 1024 * 1024
		if totalSize > capBytes {
			surviving := make([]TaskRecord, 0, len(tasks))
			for _, t := range tasks {
				if !purged[t.TaskID] {
					surviving = append(surviving, t)
				}
			}
			sort.Slice(surviving, func(i, k int) bool {
				return surviving[i].CreatedAt.Before(surviving[k].CreatedAt)
			})
			for _, t := range surviving {
				if totalSize <= capBytes {
					break
				}
				if err := j.purge(ctx, t); err != nil {
					j.log.Warnf("quota purge of task %s failed: %v", t.TaskID, err)
					continue
				}
				purged[t.TaskID] = true
				totalSize -= blobSizes[t.ArtifactKey]
			}
		}
	}

	referenced := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		if !purged[t.TaskID] && t.ArtifactKey != "" {
			referenced[t.ArtifactKey] = true
		}
	}
	var orphans []string
	for key := range blobSizes {
		if !referenced[key] {
			orphans = append(orphans, key)
		}
	}
	if len(orphans) > 0 {
		if err := j.store.Delete(ctx, orphans); err != nil {
			j.log.Warnf("orphan delete failed for %d keys: %v", len(orphans), err)
		}
	}

	j.log.Infof("sweep complete: %d purged, %d orphans removed, %s retained", len(purged), len(orphans), humansize.Format(totalSize))

	return nil
}

// purge cancels any in-flight worker, deletes the artifact's live and
// temp keys (set-valued so duplicates collapse), then erases the task
// record — spec.md §4.G.
func (j *Janitor) purge(ctx context.Context, t TaskRecord) error {
	j.jobs.Cancel(t.TaskID)

	keySet := map[string]struct{}{
		model.ArtifactKey(t.AccountHash, t.BundleID, t.TaskID):     {},
		model.TempArtifactKey(t.AccountHash, t.BundleID, t.TaskID): {},
	}
	keys := make([]string, 0, len(keySet))
	for k := range keySet {
		keys = append(keys, k)
	}
	if err := j.store.Delete(ctx, keys); err != nil {
		return apperr.Wrap(apperr.KindUpstreamError, "delete artifact for task "+t.TaskID, err)
	}

	return j.tasks.Purge(ctx, t.TaskID, t.AccountHash, t.BundleID)
}

// listAllBlobs pages through the packages/ prefix once, building a
// key→size map and the running total (spec.md §4.G phase 1).
func (j *Janitor) listAllBlobs(ctx context.Context) (map[string]int64, int64, error) {
	sizes := make(map[string]int64)
	var total int64
	cursor := ""
	for {
		page, err := j.store.List(ctx, "packages/", cursor, listPageSize)
		if err != nil {
			return nil, 0, apperr.Wrap(apperr.KindUpstreamError, "list blobs for janitor sweep", err)
		}
		for _, info := range page.Keys {
			sizes[info.Key] = info.Size
			total += info.Size
		}
		if page.NextCursor == "" {
			break
		}
		cursor = page.NextCursor
	}
	return sizes, total, nil
}
