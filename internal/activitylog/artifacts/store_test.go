package artifacts

import (
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/worklenz/activitylog/internal/activitylog"
)

const jobID = "0b8f6c3e-5a7d-4d7e-9a43-1f2e3d4c5b6a"

func TestSaveAndOpen(t *testing.T) {
	store := NewStore(t.TempDir())
	store.now = func() time.Time { return time.Date(2025, 3, 4, 9, 30, 0, 0, time.UTC) }

	_, err := store.Stat(jobID)
	assert.ErrorIs(t, err, ErrNotFound)

	meta, err := store.Save(jobID, activitylog.Artifact{
		Name: "Activity-Log-Apollo-2025-03-04.pdf", ContentType: "application/pdf",
		Data: []byte("%PDF"), Pages: 2, Records: 20, Skipped: 1,
	})
	require.NoError(t, err)
	assert.Equal(t, jobID+".pdf", meta.File)
	assert.Equal(t, 4, meta.Size)

	got, f, err := store.Open(jobID)
	require.NoError(t, err)
	defer f.Close()
	data, err := io.ReadAll(f)
	require.NoError(t, err)
	assert.Equal(t, "%PDF", string(data))
	assert.Equal(t, meta, got)

	entries, err := os.ReadDir(store.Dir())
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestRejectsUnsafeIDs(t *testing.T) {
	store := NewStore(t.TempDir())
	_, err := store.Save("../escape", activitylog.Artifact{Name: "x.pdf"})
	assert.Error(t, err)
	_, err = store.Stat("../../etc/passwd")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSweepRemovesExpired(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)
	now := time.Date(2025, 3, 4, 9, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return now }

	old := "11111111-1111-4111-8111-111111111111"
	_, err := store.Save(old, activitylog.Artifact{Name: "a.csv", Data: []byte("x")})
	require.NoError(t, err)

	now = now.Add(30 * time.Hour)
	_, err = store.Save(jobID, activitylog.Artifact{Name: "b.csv", Data: []byte("y")})
	require.NoError(t, err)

	removed, err := store.Sweep(24 * time.Hour)
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	_, err = store.Stat(old)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = os.Stat(filepath.Join(dir, old+".csv"))
	assert.True(t, os.IsNotExist(err))
	_, err = store.Stat(jobID)
	assert.NoError(t, err)
}

func TestSweepMissingDir(t *testing.T) {
	removed, err := NewStore(filepath.Join(t.TempDir(), "absent")).Sweep(time.Hour)
	require.NoError(t, err)
	assert.Zero(t, removed)
}
