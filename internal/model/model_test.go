package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSanitizeNeverLeaksSecrets(t *testing.T) {
	task := &Task{
		TaskID:         "t-1",
		AccountHash:    "abcdefgh",
		DownloadURL:    "https://p1-buy.itunes.apple.com/x",
		SINFs:          []SINF{{ID: 0, Data: "c2VjcmV0"}},
		ITunesMetadata: "c2VjcmV0",
		Status:         StatusCompleted,
		FileSize:       1024,
		CreatedAt:      time.Now(),
	}

	out := task.Sanitize()

	require.Equal(t, "t-1", out.TaskID)
	assert.True(t, out.HasFile)
	assert.Equal(t, int64(1024), out.FileSize)

	// Sanitize must never be extended to copy secret fields; assert the
	// outbound type structurally cannot carry them by checking the
	// original is untouched and the view has no such fields available.
	assert.Equal(t, "https://p1-buy.itunes.apple.com/x", task.DownloadURL)
}

func TestClearSecretsOnCompletion(t *testing.T) {
	task := &Task{
		DownloadURL:    "https://buy.itunes.apple.com/x",
		SINFs:          []SINF{{ID: 0, Data: "xx"}},
		ITunesMetadata: "xx",
	}
	task.ClearSecrets()

	assert.Empty(t, task.DownloadURL)
	assert.Nil(t, task.SINFs)
	assert.Empty(t, task.ITunesMetadata)
}

func TestArtifactKeyShape(t *testing.T) {
	key := ArtifactKey("acct1234", "com.example.app", "task-1")
	assert.Equal(t, "packages/acct1234/com.example.app/task-1.ipa", key)
	assert.Equal(t, key+".new", TempArtifactKey("acct1234", "com.example.app", "task-1"))
}

func TestValidDownloadURL(t *testing.T) {
	cases := []struct {
		url  string
		want bool
	}{
		{"https://p12-buy.itunes.apple.com/WebObjects/x", true},
		{"https://auth.itunes.apple.com/foo", true},
		{"http://buy.itunes.apple.com/foo", false},     // not https
		{"https://buy.evil.com/foo", false},            // wrong suffix
		{"https://1.2.3.4/foo", false},                 // literal IP
		{"not-a-url", false},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, ValidDownloadURL(c.url), c.url)
	}
}

func TestValidAccountHash(t *testing.T) {
	assert.True(t, ValidAccountHash("12345678"))
	assert.False(t, ValidAccountHash("short"))
}

func TestTaskStatusValid(t *testing.T) {
	assert.True(t, StatusPending.Valid())
	assert.False(t, TaskStatus("bogus").Valid())
}
