package download

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lhbill/assppweb/internal/blobstore"
)

func TestValidateURL(t *testing.T) {
	cases := []struct {
		url string
		ok  bool
	}{
		{"https://p12-buy.itunes.apple.com/x", true},
		{"http://buy.itunes.apple.com/x", false},
		{"https://buy.evil.com/x", false},
		{"https://17.253.3.203/x", false},
	}
	for _, c := range cases {
		err := ValidateURL(c.url)
		if c.ok {
			require.NoError(t, err, c.url)
		} else {
			require.Error(t, err, c.url)
		}
	}
}

func TestEngineRunSmallFile(t *testing.T) {
	payload := bytes.Repeat([]byte("x"), 1024)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer server.Close()

	store := blobstore.NewMemStore()
	engine := NewEngine(store, server.Client())

	var progressCalls int
	err := engine.Run(context.Background(), server.URL, "packages/acct/bundle/task.ipa", func(p Progress) {
		progressCalls++
	})
	require.NoError(t, err)

	rc, err := store.GetRange(context.Background(), "packages/acct/bundle/task.ipa", 0, 0)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, payload, data)
}

func TestEngineRunMultiPartFile(t *testing.T) {
	// Larger than one part so both the async pending-slot and
	// trailing-partial paths in stream() execute.
	payload := bytes.Repeat([]byte("A"), partSize+10)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write(payload)
	}))
	defer server.Close()

	store := blobstore.NewMemStore()
	engine := NewEngine(store, server.Client())

	err := engine.Run(context.Background(), server.URL, "packages/acct/bundle/task.ipa", nil)
	require.NoError(t, err)

	rc, err := store.GetRange(context.Background(), "packages/acct/bundle/task.ipa", 0, 0)
	require.NoError(t, err)
	defer rc.Close()
	data, err := io.ReadAll(rc)
	require.NoError(t, err)
	require.Equal(t, len(payload), len(data))
	require.True(t, bytes.Equal(payload, data))
}

func TestEngineRunNonRetryableStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	store := blobstore.NewMemStore()
	engine := NewEngine(store, server.Client())

	err := engine.Run(context.Background(), server.URL, "k", nil)
	require.Error(t, err)
}

func TestEngineRunRetriesOn5xxThenSucceeds(t *testing.T) {
	attempts := 0
	payload := []byte("ok")
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 2 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Write(payload)
	}))
	defer server.Close()

	orig := RetrySchedule
	RetrySchedule = []time.Duration{10 * time.Millisecond, 10 * time.Millisecond, 10 * time.Millisecond}
	defer func() { RetrySchedule = orig }()

	store := blobstore.NewMemStore()
	engine := NewEngine(store, server.Client())

	err := engine.Run(context.Background(), server.URL, "k", nil)
	require.NoError(t, err)
	require.GreaterOrEqual(t, attempts, 2)
}

func TestEngineRunCancellationPropagates(t *testing.T) {
	blockCh := make(chan struct{})
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-blockCh
	}))
	defer server.Close()
	defer close(blockCh)

	store := blobstore.NewMemStore()
	engine := NewEngine(store, server.Client())

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	err := engine.Run(ctx, server.URL, "k", nil)
	require.Error(t, err)
}

func TestEngineRunCdnStall(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("a"))
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		time.Sleep(200 * time.Millisecond)
	}))
	defer server.Close()

	origStall := stallTimeout
	stallTimeout = 50 * time.Millisecond
	defer func() { stallTimeout = origStall }()

	store := blobstore.NewMemStore()
	engine := NewEngine(store, server.Client())

	err := engine.Run(context.Background(), server.URL, "k", nil)
	require.Error(t, err)
}
