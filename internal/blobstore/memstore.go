package blobstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/lhbill/assppweb/internal/apperr"
)

// MemStore is an in-memory Store for tests, grounded on the teacher's
// pkg/storage/testing.MockBackend: a mutex-guarded map standing in for
// the real backend, with no network calls.
type MemStore struct {
	mu      sync.RWMutex
	objects map[string][]byte
	uploads map[string]*memUpload
}

// NewMemStore builds an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		objects: make(map[string][]byte),
		uploads: make(map[string]*memUpload),
	}
}

func (m *MemStore) GetRange(ctx context.Context, key string, offset, length int64) (io.ReadCloser, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	data, ok := m.objects[key]
	if !ok {
		return nil, apperr.NotFound("key %q not found", key)
	}
	if offset < 0 || offset > int64(len(data)) {
		return nil, apperr.BadRequest("range offset %d out of bounds for %q", offset, key)
	}
	end := int64(len(data))
	if length > 0 && offset+length < end {
		end = offset + length
	}
	return io.NopCloser(bytes.NewReader(data[offset:end])), nil
}

func (m *MemStore) Head(ctx context.Context, key string) (*Info, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, apperr.NotFound("key %q not found", key)
	}
	return &Info{Key: key, Size: int64(len(data)), ETag: fmt.Sprintf("%x", len(data))}, nil
}

func (m *MemStore) Put(ctx context.Context, key string, r io.Reader, size int64) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return apperr.Internal(err, "read put body for %q", key)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = data
	return nil
}

func (m *MemStore) Delete(ctx context.Context, keys []string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.objects, k)
	}
	return nil
}

func (m *MemStore) List(ctx context.Context, prefix, cursor string, limit int) (*ListPage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var keys []string
	for k := range m.objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	start := 0
	if cursor != "" {
		start = len(keys)
		for i, k := range keys {
			if k > cursor {
				start = i
				break
			}
		}
	}

	page := &ListPage{}
	end := start + limit
	if limit <= 0 || end > len(keys) {
		end = len(keys)
	}
	for _, k := range keys[start:end] {
		page.Keys = append(page.Keys, Info{Key: k, Size: int64(len(m.objects[k]))})
	}
	if end < len(keys) {
		page.NextCursor = keys[end-1]
	}
	return page, nil
}

func (m *MemStore) Multipart(ctx context.Context, key string) (UploadHandle, error) {
	u := &memUpload{store: m, key: key, parts: make(map[int][]byte)}
	return u, nil
}

type memUpload struct {
	store *MemStore
	key   string
	mu    sync.Mutex
	parts map[int][]byte
}

func (u *memUpload) Key() string { return u.key }

func (u *memUpload) UploadPart(ctx context.Context, partNumber int, data []byte) (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	cp := append([]byte(nil), data...)
	u.parts[partNumber] = cp
	return strconv.Itoa(partNumber), nil
}

func (u *memUpload) Complete(ctx context.Context, parts []CompletedPart) error {
	u.mu.Lock()
	defer u.mu.Unlock()

	sorted := append([]CompletedPart(nil), parts...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].PartNumber < sorted[j].PartNumber })

	var buf bytes.Buffer
	for _, p := range sorted {
		data, ok := u.parts[p.PartNumber]
		if !ok {
			return apperr.BadRequest("completed part %d never uploaded", p.PartNumber)
		}
		buf.Write(data)
	}

	u.store.mu.Lock()
	u.store.objects[u.key] = buf.Bytes()
	u.store.mu.Unlock()
	return nil
}

func (u *memUpload) Abort(ctx context.Context) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.parts = nil
	return nil
}
