package inject

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/base64"
	"io"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/lhbill/assppweb/internal/blobstore"
	"github.com/lhbill/assppweb/internal/model"
	"github.com/lhbill/assppweb/internal/ziptail"
)

func buildFixtureIPA(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)

	write := func(name, content string) {
		f, err := w.CreateHeader(&zip.FileHeader{Name: name, Method: zip.Store})
		require.NoError(t, err)
		_, err = f.Write([]byte(content))
		require.NoError(t, err)
	}

	write("Payload/App.app/Info.plist", sampleInfoPlistXML)
	write("Payload/App.app/SC_Info/Manifest.plist", sampleManifestXML)
	write("Payload/App.app/App", "binary-executable-bytes")

	require.NoError(t, w.Close())
	return buf.Bytes()
}

func TestFindBundleNameSkipsWatch(t *testing.T) {
	entries := []ziptail.CDEntry{
		{Name: "Payload/WatchApp.app/Watch/Info.plist"},
		{Name: "Payload/MainApp.app/Info.plist"},
	}
	name, err := FindBundleName(entries)
	require.NoError(t, err)
	require.Equal(t, "MainApp", name)
}

func TestFindBundleNameMissing(t *testing.T) {
	_, err := FindBundleName([]ziptail.CDEntry{{Name: "SomeOther/File.txt"}})
	require.Error(t, err)
}

func TestApplyInjectsSinfAndSwapsArtifact(t *testing.T) {
	ctx := context.Background()
	data := buildFixtureIPA(t)

	store := blobstore.NewMemStore()
	key := model.ArtifactKey("acct1234", "com.example.app", "task-1")
	require.NoError(t, store.Put(ctx, key, bytes.NewReader(data), int64(len(data))))

	task := &model.Task{
		TaskID:      "task-1",
		AccountHash: "acct1234",
		Software:    model.Software{BundleID: "com.example.app"},
		SINFs:       []model.SINF{{ID: 0, Data: base64.StdEncoding.EncodeToString([]byte("sinf-signature-bytes"))}},
		Status:      model.StatusInjecting,
		CreatedAt:   time.Now(),
	}

	require.NoError(t, Apply(ctx, store, key, task))

	info, err := store.Head(ctx, key)
	require.NoError(t, err)

	rc, err := store.GetRange(ctx, key, 0, info.Size)
	require.NoError(t, err)
	defer rc.Close()

	rewritten := make([]byte, info.Size)
	_, err = io.ReadFull(rc, rewritten)
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(rewritten), info.Size)
	require.NoError(t, err)

	var found bool
	for _, f := range zr.File {
		if f.Name == "Payload/App.app/SC_Info/App.sinf" {
			found = true
			rc2, err := f.Open()
			require.NoError(t, err)
			defer rc2.Close()
			out := make([]byte, len("sinf-signature-bytes"))
			_, err = io.ReadFull(rc2, out)
			require.NoError(t, err)
			require.Equal(t, "sinf-signature-bytes", string(out))
		}
	}
	require.True(t, found, "expected injected sinf entry in rewritten archive")

	// The temp key must not survive a successful swap.
	_, err = store.Head(ctx, model.TempArtifactKey("acct1234", "com.example.app", "task-1"))
	require.Error(t, err)
}
