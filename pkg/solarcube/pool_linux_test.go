//go:build linux

package solarcube

import (
	"os"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// limitSpareDescriptors lowers RLIMIT_NOFILE so that exactly spare more
// descriptors can be opened, and restores the limit on cleanup.
func limitSpareDescriptors(t *testing.T, spare int) {
	t.Helper()
	var old syscall.Rlimit
	require.NoError(t, syscall.Getrlimit(syscall.RLIMIT_NOFILE, &old))

	// the lowest free descriptor numbers are handed out first
	free := make([]*os.File, spare)
	for i := range free {
		f, err := os.Open(os.DevNull)
		require.NoError(t, err)
		free[i] = f
	}
	highest := free[spare-1].Fd()
	for _, f := range free {
		require.NoError(t, f.Close())
	}

	lowered := old
	lowered.Cur = uint64(highest) + 1
	require.NoError(t, syscall.Setrlimit(syscall.RLIMIT_NOFILE, &lowered))
	t.Cleanup(func() {
		require.NoError(t, syscall.Setrlimit(syscall.RLIMIT_NOFILE, &old))
	})
}

func TestFilePoolStaysWithinDescriptorBudget(t *testing.T) {
	paths := touchFiles(t, 3)
	pool, err := NewFilePool(2)
	require.NoError(t, err)
	defer pool.CloseAll()

	// open and close once so the runtime poller holds its descriptors already
	f, err := os.Open(paths[0])
	require.NoError(t, err)
	require.NoError(t, f.Close())

	limitSpareDescriptors(t, 2)
	for _, p := range paths {
		_, err := pool.Acquire(p)
		require.NoError(t, err)
	}
	assert.Equal(t, paths[1:], pool.OpenPaths())

	// a warm pool still makes room before opening
	require.NoError(t, pool.KeepWarm(paths[1], true))
	require.NoError(t, pool.KeepWarm(paths[2], true))
	_, err = pool.Acquire(paths[0])
	require.NoError(t, err)
	assert.Equal(t, []string{paths[2], paths[0]}, pool.OpenPaths())
}
