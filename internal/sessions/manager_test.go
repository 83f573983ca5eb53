package sessions

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManager_Save_PersistsSessionIDAndSystemSent(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	key := "agent:a1:telegram:dm:123"
	s, isNew := m.GetOrCreateWithNew(key)
	require.True(t, isNew)
	require.NotEmpty(t, s.SessionID)

	m.MarkSystemSent(key)
	require.NoError(t, m.Save(key))

	on, err := readSessionFile(sessionPathFor(dir, key))
	require.NoError(t, err)
	require.Equal(t, s.SessionID, on.SessionID)
	require.True(t, on.SystemSent)
}

func TestManager_Save_MergeKeepsHigherOnDiskCompactionCount(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	key := "agent:a1:telegram:dm:123"
	m.GetOrCreate(key)
	require.NoError(t, m.Save(key))

	// Simulate a concurrent writer (e.g. another process) advancing compaction count
	// on disk past what this in-memory Manager knows about.
	path := sessionPathFor(dir, key)
	onDisk, err := readSessionFile(path)
	require.NoError(t, err)
	onDisk.CompactionCount = 7
	onDisk.MemoryFlushCompactionCount = 3
	data, err := json.Marshal(onDisk)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0600))

	// This Manager's in-memory copy still thinks compaction count is 0; saving again
	// must not regress the value a concurrent writer already advanced.
	require.NoError(t, m.Save(key))

	merged, err := readSessionFile(path)
	require.NoError(t, err)
	require.Equal(t, 7, merged.CompactionCount)
	require.Equal(t, 3, merged.MemoryFlushCompactionCount)
}

func TestManager_Save_MergeNeverRegressesSystemSent(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	key := "agent:a1:telegram:dm:123"
	m.GetOrCreate(key)
	require.NoError(t, m.Save(key)) // systemSent=false on disk

	path := sessionPathFor(dir, key)
	onDisk, err := readSessionFile(path)
	require.NoError(t, err)
	onDisk.SystemSent = true
	data, err := json.Marshal(onDisk)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0600))

	// In-memory copy never saw MarkSystemSent; saving again must not flip the
	// on-disk true back to false.
	require.NoError(t, m.Save(key))

	merged, err := readSessionFile(path)
	require.NoError(t, err)
	require.True(t, merged.SystemSent)
}

func TestManager_Save_MergeKeepsLatestUpdatedTimestamp(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	key := "agent:a1:telegram:dm:123"
	m.GetOrCreate(key)
	require.NoError(t, m.Save(key))

	path := sessionPathFor(dir, key)
	onDisk, err := readSessionFile(path)
	require.NoError(t, err)
	future := onDisk.Updated.Add(time.Hour)
	onDisk.Updated = future
	data, err := json.Marshal(onDisk)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0600))

	require.NoError(t, m.Save(key))

	merged, err := readSessionFile(path)
	require.NoError(t, err)
	require.True(t, merged.Updated.Equal(future))
}

func TestManager_Save_IdempotentOnRepeatedCalls(t *testing.T) {
	dir := t.TempDir()
	m := NewManager(dir)

	key := "agent:a1:telegram:dm:123"
	m.GetOrCreate(key)
	require.NoError(t, m.Save(key))
	require.NoError(t, m.Save(key))
	require.NoError(t, m.Save(key))

	path := sessionPathFor(dir, key)
	final, err := readSessionFile(path)
	require.NoError(t, err)
	require.Equal(t, key, final.Key)
}

func TestManager_LoadAll_BackfillsMissingSessionIDFromLegacyFile(t *testing.T) {
	dir := t.TempDir()
	key := "agent:a1:telegram:dm:123"
	path := sessionPathFor(dir, key)
	require.NoError(t, os.MkdirAll(dir, 0755))

	// A pre-existing on-disk file from before SessionID was tracked.
	legacy := []byte(`{"key":"` + key + `","messages":[]}`)
	require.NoError(t, os.WriteFile(path, legacy, 0600))

	m := NewManager(dir)
	s, isNew := m.GetOrCreateWithNew(key)
	require.False(t, isNew) // loaded from disk at startup, not freshly created
	require.NotEmpty(t, s.SessionID)
}

func TestManager_LoadAll_QuarantinesCorruptFile(t *testing.T) {
	dir := t.TempDir()
	key := "agent:a1:telegram:dm:999"
	path := sessionPathFor(dir, key)
	require.NoError(t, os.MkdirAll(dir, 0755))
	require.NoError(t, os.WriteFile(path, []byte("{not valid json"), 0600))

	m := NewManager(dir)

	// The corrupt file must not appear as a loaded session...
	require.Empty(t, m.List(""))

	// ...and must have been renamed aside rather than silently dropped.
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	var quarantined bool
	for _, e := range entries {
		if filepath.Ext(e.Name()) != ".json" && e.Name() != filepath.Base(path) {
			quarantined = true
		}
	}
	require.True(t, quarantined)
}

func sessionPathFor(dir, key string) string {
	return filepath.Join(dir, sanitizeFilename(key)+".json")
}
