package jobs

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCancelInvokesAndRemoves(t *testing.T) {
	r := NewRegistry()
	called := false
	r.Register("task-1", func() { called = true })

	require.True(t, r.Cancel("task-1"))
	require.True(t, called)
	require.False(t, r.Cancel("task-1"))
}

func TestRegisterReplacesCancelsPrevious(t *testing.T) {
	r := NewRegistry()
	var firstCalled bool
	r.Register("task-1", func() { firstCalled = true })
	r.Register("task-1", func() {})

	require.True(t, firstCalled, "registering a new worker must cancel the stale one")
}

func TestReleaseDoesNotClobberNewerRegistration(t *testing.T) {
	r := NewRegistry()
	release1 := r.Register("task-1", func() {})
	r.Register("task-1", func() {})

	release1()

	var secondCalled bool
	r.entries["task-1"] = entry{gen: r.entries["task-1"].gen, cancel: func() { secondCalled = true }}
	require.True(t, r.Cancel("task-1"))
	require.True(t, secondCalled, "release from a superseded registration must not remove the current one")
}
