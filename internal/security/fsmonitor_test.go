package security

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFSMonitor_AuditModeAllowsAndRecords(t *testing.T) {
	dir := t.TempDir()
	sensitive := filepath.Join(dir, ".ssh")
	require.NoError(t, os.MkdirAll(sensitive, 0700))
	keyPath := filepath.Join(sensitive, "id_rsa")
	require.NoError(t, os.WriteFile(keyPath, []byte("fake-key"), 0600))

	var records []AuditRecord
	m := NewFSMonitor(FSModeAudit, []string{sensitive}, func(_ context.Context, rec AuditRecord) {
		records = append(records, rec)
	})

	err := m.Guard(context.Background(), "read", keyPath)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "sensitive_file_access", records[0].Type)
	require.False(t, records[0].Blocked)
}

func TestFSMonitor_EnforceModeBlocks(t *testing.T) {
	dir := t.TempDir()
	sensitive := filepath.Join(dir, ".aws")
	require.NoError(t, os.MkdirAll(sensitive, 0700))
	credsPath := filepath.Join(sensitive, "credentials")
	require.NoError(t, os.WriteFile(credsPath, []byte("fake"), 0600))

	var records []AuditRecord
	m := NewFSMonitor(FSModeEnforce, []string{sensitive}, func(_ context.Context, rec AuditRecord) {
		records = append(records, rec)
	})

	err := m.Guard(context.Background(), "read", credsPath)
	require.Error(t, err)
	require.Len(t, records, 1)
	require.True(t, records[0].Blocked)
}

func TestFSMonitor_IgnoresPathsOutsideSensitiveSet(t *testing.T) {
	dir := t.TempDir()
	sensitive := filepath.Join(dir, ".ssh")
	benign := filepath.Join(dir, "notes.txt")
	require.NoError(t, os.WriteFile(benign, []byte("hello"), 0644))

	var called bool
	m := NewFSMonitor(FSModeEnforce, []string{sensitive}, func(context.Context, AuditRecord) {
		called = true
	})

	err := m.Guard(context.Background(), "read", benign)
	require.NoError(t, err)
	require.False(t, called)
}

func TestFSMonitor_ResolvesSymlinksIntoSensitivePath(t *testing.T) {
	dir := t.TempDir()
	sensitive := filepath.Join(dir, ".ssh")
	require.NoError(t, os.MkdirAll(sensitive, 0700))
	keyPath := filepath.Join(sensitive, "id_rsa")
	require.NoError(t, os.WriteFile(keyPath, []byte("fake-key"), 0600))

	link := filepath.Join(dir, "link_to_key")
	require.NoError(t, os.Symlink(keyPath, link))

	var records []AuditRecord
	m := NewFSMonitor(FSModeEnforce, []string{sensitive}, func(_ context.Context, rec AuditRecord) {
		records = append(records, rec)
	})

	err := m.Guard(context.Background(), "read", link)
	require.Error(t, err)
	require.Len(t, records, 1)
}

func TestFSMonitor_NilAuditDefaultsToNoop(t *testing.T) {
	dir := t.TempDir()
	sensitive := filepath.Join(dir, ".ssh")
	require.NoError(t, os.MkdirAll(sensitive, 0700))

	m := NewFSMonitor(FSModeAudit, []string{sensitive}, nil)
	require.NoError(t, m.Guard(context.Background(), "read", filepath.Join(sensitive, "id_rsa")))
}

func TestDefaultSensitivePaths_IncludesStateDirAndHomeCredDirs(t *testing.T) {
	paths := DefaultSensitivePaths("/home/someone", "/home/someone/.agentgw")

	require.Contains(t, paths, filepath.Join("/home/someone", ".ssh"))
	require.Contains(t, paths, "/etc/passwd")
	require.Contains(t, paths, "/home/someone/.agentgw")
}
