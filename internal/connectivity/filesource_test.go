package connectivity_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/TheMichaelB/fieldsync/internal/connectivity"
)

func receive(t *testing.T, ch <-chan bool) bool {
	t.Helper()
	select {
	case v, ok := <-ch:
		require.True(t, ok, "transitions channel closed")
		return v
	case <-time.After(2 * time.Second):
		t.Fatal("no transition received")
		return false
	}
}

func TestFileSource(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "link")
	require.NoError(t, os.WriteFile(path, []byte("offline\n"), 0644))

	src, err := connectivity.NewFileSource(path, testLogger())
	require.NoError(t, err)
	defer src.Close()

	assert.False(t, receive(t, src.Transitions()))

	require.NoError(t, os.WriteFile(path, []byte("online wifi\n"), 0644))
	assert.True(t, receive(t, src.Transitions()))
	assert.Equal(t, "wifi", src.LinkType())

	// Replace by rename, as network dispatchers usually do.
	tmp := filepath.Join(dir, "link.tmp")
	require.NoError(t, os.WriteFile(tmp, []byte("offline\n"), 0644))
	require.NoError(t, os.Rename(tmp, path))
	assert.False(t, receive(t, src.Transitions()))
	assert.Empty(t, src.LinkType())
}

func TestFileSourceDrivesMonitor(t *testing.T) {
	path := filepath.Join(t.TempDir(), "link")

	src, err := connectivity.NewFileSource(path, testLogger())
	require.NoError(t, err)
	defer src.Close()

	m := connectivity.NewMonitor(connectivity.Options{Hinter: src}, testLogger())

	require.NoError(t, os.WriteFile(path, []byte("online 3g"), 0644))
	m.SetOnline(receive(t, src.Transitions()))

	assert.True(t, m.IsOnline())
	assert.Equal(t, connectivity.QualitySlow, m.Status().Quality)
}

func TestFileSourceClose(t *testing.T) {
	src, err := connectivity.NewFileSource(filepath.Join(t.TempDir(), "link"), testLogger())
	require.NoError(t, err)

	require.NoError(t, src.Close())
	require.NoError(t, src.Close())

	_, ok := <-src.Transitions()
	assert.False(t, ok)
}
