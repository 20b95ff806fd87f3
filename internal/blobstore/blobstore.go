// Package blobstore defines the ranged blob store interface the download
// and injection pipeline is built against, modeled on the teacher's
// pkg/storage.Backend: a small capability surface any object store can
// implement.
package blobstore

import (
	"context"
	"io"
	"time"
)

// Info is the head/stat result for a key.
type Info struct {
	Key  string
	Size int64
	ETag string
}

// ListPage is one page of a prefix listing.
type ListPage struct {
	Keys       []Info
	NextCursor string // empty when there are no further pages
}

// Store is the capability surface the pipeline depends on: random-access
// range reads, head, single-shot put, multipart upload with explicit
// part ordering, prefix listing, and batch delete.
//
// The pipeline performs concurrent reads against one key while writing a
// distinct key (spec.md §4.B); implementations that serialize reads
// against a key being written must ensure callers use distinct keys
// during injection, as this pipeline does.
type Store interface {
	// GetRange reads [offset, offset+length) of key. length <= 0 means
	// read to the end of the object.
	GetRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error)

	// Head returns size and etag for key, or a NotFound apperr.
	Head(ctx context.Context, key string) (*Info, error)

	// Put uploads the full contents of r as key in one request.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Delete removes keys. Missing keys are not an error.
	Delete(ctx context.Context, keys []string) error

	// List returns up to one page of keys under prefix, starting after
	// cursor (empty cursor starts from the beginning).
	List(ctx context.Context, prefix, cursor string, limit int) (*ListPage, error)

	// Multipart begins a multipart upload and returns an UploadHandle
	// with an explicit per-part-number interface.
	Multipart(ctx context.Context, key string) (UploadHandle, error)
}

// UploadHandle drives one multipart upload. Part numbers are 1-based and
// must be supplied by the caller in order; the pipeline's double-buffered
// upload queue (spec.md §9) keeps at most one part upload in flight.
type UploadHandle interface {
	// UploadPart uploads partNumber (>=1) with the given bytes, and
	// returns the backend-assigned ETag for that part.
	UploadPart(ctx context.Context, partNumber int, data []byte) (etag string, err error)

	// Complete finalizes the upload given the ordered (partNumber, etag)
	// pairs collected from UploadPart calls.
	Complete(ctx context.Context, parts []CompletedPart) error

	// Abort cancels the upload, releasing any server-side state.
	Abort(ctx context.Context) error

	// Key returns the destination key this handle is writing to.
	Key() string
}

// CompletedPart identifies one finished part of a multipart upload.
type CompletedPart struct {
	PartNumber int
	ETag       string
}

// RetryConfig holds a fixed retry schedule (three retries at 1s, 2s,
// 4s by default). Neither S3Store nor MemStore reads it; the download
// engine keeps its own copy of the schedule in download.RetrySchedule.
type RetryConfig struct {
	Schedule []time.Duration
}

// DefaultRetrySchedule returns the fixed 1s/2s/4s schedule. No code in
// this repository calls it.
func DefaultRetrySchedule() []time.Duration {
	return []time.Duration{1 * time.Second, 2 * time.Second, 4 * time.Second}
}
