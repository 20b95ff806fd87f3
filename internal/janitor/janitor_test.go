package janitor

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lhbill/assppweb/internal/blobstore"
	"github.com/lhbill/assppweb/internal/jobs"
	"github.com/lhbill/assppweb/internal/model"
)

// fakeTaskLister is an in-memory TaskLister so these tests never touch
// internal/taskstore or a real Postgres instance.
type fakeTaskLister struct {
	tasks []TaskRecord
}

func (f *fakeTaskLister) ListAllTasks(ctx context.Context) ([]TaskRecord, error) {
	out := make([]TaskRecord, len(f.tasks))
	copy(out, f.tasks)
	return out, nil
}

func (f *fakeTaskLister) Purge(ctx context.Context, taskID, accountHash, bundleID string) error {
	for i, t := range f.tasks {
		if t.TaskID == taskID {
			f.tasks = append(f.tasks[:i], f.tasks[i+1:]...)
			return nil
		}
	}
	return nil
}

func putBlob(t *testing.T, store *blobstore.MemStore, key string, size int) {
	t.Helper()
	err := store.Put(context.Background(), key, bytes.NewReader(make([]byte, size)), int64(size))
	require.NoError(t, err)
}

// blobExists reports whether key is still present, via Head rather than
// a dedicated existence check — MemStore has none, matching the real
// Store interface.
func blobExists(store *blobstore.MemStore, key string) bool {
	_, err := store.Head(context.Background(), key)
	return err == nil
}

func TestRunAgePhasePurgesOldTasksOnly(t *testing.T) {
	store := blobstore.NewMemStore()
	old := TaskRecord{
		TaskID: "old", AccountHash: "acct", BundleID: "com.example.old",
		Status: model.StatusCompleted, CreatedAt: time.Now().Add(-30 * 24 * time.Hour),
		ArtifactKey: model.ArtifactKey("acct", "com.example.old", "old"),
	}
	recent := TaskRecord{
		TaskID: "recent", AccountHash: "acct", BundleID: "com.example.recent",
		Status: model.StatusCompleted, CreatedAt: time.Now().Add(-1 * time.Hour),
		ArtifactKey: model.ArtifactKey("acct", "com.example.recent", "recent"),
	}
	putBlob(t, store, old.ArtifactKey, 100)
	putBlob(t, store, recent.ArtifactKey, 100)

	lister := &fakeTaskLister{tasks: []TaskRecord{old, recent}}
	reg := jobs.NewRegistry()
	j := New(store, lister, reg)

	require.NoError(t, j.Run(context.Background(), 7, 0))

	require.Len(t, lister.tasks, 1)
	require.Equal(t, "recent", lister.tasks[0].TaskID)

	require.False(t, blobExists(store, old.ArtifactKey), "aged-out artifact must be deleted")
	require.True(t, blobExists(store, recent.ArtifactKey))
}

func TestRunSkipsAgePhaseWhenDaysZero(t *testing.T) {
	store := blobstore.NewMemStore()
	old := TaskRecord{
		TaskID: "old", AccountHash: "acct", BundleID: "com.example.old",
		Status: model.StatusCompleted, CreatedAt: time.Now().Add(-365 * 24 * time.Hour),
		ArtifactKey: model.ArtifactKey("acct", "com.example.old", "old"),
	}
	putBlob(t, store, old.ArtifactKey, 100)

	lister := &fakeTaskLister{tasks: []TaskRecord{old}}
	j := New(store, lister, jobs.NewRegistry())

	require.NoError(t, j.Run(context.Background(), 0, 0))
	require.Len(t, lister.tasks, 1, "days == 0 must skip the age phase")
}

func TestRunQuotaPhasePurgesOldestFirstUntilUnderCap(t *testing.T) {
	store := blobstore.NewMemStore()
	now := time.Now()
	tasks := []TaskRecord{
		{TaskID: "a", AccountHash: "acct", BundleID: "com.example.a", Status: model.StatusCompleted,
			CreatedAt: now.Add(-3 * time.Hour), ArtifactKey: model.ArtifactKey("acct", "com.example.a", "a")},
		{TaskID: "b", AccountHash: "acct", BundleID: "com.example.b", Status: model.StatusCompleted,
			CreatedAt: now.Add(-2 * time.Hour), ArtifactKey: model.ArtifactKey("acct", "com.example.b", "b")},
		{TaskID: "c", AccountHash: "acct", BundleID: "com.example.c", Status: model.StatusCompleted,
			CreatedAt: now.Add(-1 * time.Hour), ArtifactKey: model.ArtifactKey("acct", "com.example.c", "c")},
	}
	mb := 1024 * 1024
	for _, tr := range tasks {
		putBlob(t, store, tr.ArtifactKey, mb)
	}

	lister := &fakeTaskLister{tasks: append([]TaskRecord{}, tasks...)}
	j := New(store, lister, jobs.NewRegistry())

	// Cap at 2 MiB: total is 3 MiB, so the oldest ("a") must go first.
	require.NoError(t, j.Run(context.Background(), 0, 2))

	remaining := make(map[string]bool)
	for _, tr := range lister.tasks {
		remaining[tr.TaskID] = true
	}
	require.False(t, remaining["a"], "oldest task must be purged first")
	require.True(t, remaining["b"])
	require.True(t, remaining["c"])
}

func TestRunOrphanPhaseDeletesUnreferencedBlobsRegardlessOfLimits(t *testing.T) {
	store := blobstore.NewMemStore()
	live := TaskRecord{
		TaskID: "live", AccountHash: "acct", BundleID: "com.example.live",
		Status: model.StatusCompleted, CreatedAt: time.Now(),
		ArtifactKey: model.ArtifactKey("acct", "com.example.live", "live"),
	}
	putBlob(t, store, live.ArtifactKey, 10)
	orphanKey := "packages/acct/com.example.gone/gone.ipa"
	putBlob(t, store, orphanKey, 10)

	lister := &fakeTaskLister{tasks: []TaskRecord{live}}
	j := New(store, lister, jobs.NewRegistry())

	require.NoError(t, j.Run(context.Background(), 0, 0))

	require.False(t, blobExists(store, orphanKey), "blob with no referencing task must be deleted as an orphan")
	require.True(t, blobExists(store, live.ArtifactKey))

	require.Len(t, lister.tasks, 1)
}

func TestRunCancelsInFlightWorkerOnPurge(t *testing.T) {
	store := blobstore.NewMemStore()
	task := TaskRecord{
		TaskID: "doomed", AccountHash: "acct", BundleID: "com.example.doomed",
		Status: model.StatusCompleted, CreatedAt: time.Now().Add(-30 * 24 * time.Hour),
		ArtifactKey: model.ArtifactKey("acct", "com.example.doomed", "doomed"),
	}
	putBlob(t, store, task.ArtifactKey, 10)

	lister := &fakeTaskLister{tasks: []TaskRecord{task}}
	reg := jobs.NewRegistry()

	cancelled := false
	release := reg.Register(task.TaskID, func() { cancelled = true })
	defer release()

	j := New(store, lister, reg)
	require.NoError(t, j.Run(context.Background(), 7, 0))
	require.True(t, cancelled, "purge must cancel any registered in-flight worker")
}
