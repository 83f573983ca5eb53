package security

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

// FSMode controls how the FS monitor reacts when a guarded operation touches a
// sensitive path.
type FSMode string

const (
	FSModeAudit   FSMode = "audit"   // log and allow
	FSModeEnforce FSMode = "enforce" // log and reject
)

// AuditFunc receives a sensitive_file_access audit record.
type AuditFunc func(ctx context.Context, record AuditRecord)

// AuditRecord is an append-only audit-log entry.
type AuditRecord struct {
	Type    string
	Path    string
	Op      string
	Blocked bool
}

// DefaultSensitivePaths returns the default sensitive-path set: user credential
// directories and the tool's own state dir, expanded against the user's home dir and
// the given state dir, with a conservative set of enumerated defaults.
func DefaultSensitivePaths(home, stateDir string) []string {
	paths := []string{
		filepath.Join(home, ".ssh"),
		filepath.Join(home, ".aws"),
		filepath.Join(home, ".config", "gcloud"),
		filepath.Join(home, ".kube"),
		filepath.Join(home, ".docker"),
		filepath.Join(home, ".gnupg"),
		filepath.Join(home, ".npmrc"),
		filepath.Join(home, ".netrc"),
		filepath.Join(home, ".bash_history"),
		filepath.Join(home, ".zsh_history"),
		"/etc/passwd",
		"/etc/shadow",
	}
	if stateDir != "" {
		paths = append(paths, stateDir)
	}
	return paths
}

// FSMonitor audits (and optionally blocks) file operations under a configured set of
// sensitive paths. No ecosystem library in the retrieved example pack wraps
// syscall-level file-operation interception (an OS-specific concern); this uses
// stdlib os/path resolution only — see DESIGN.md's C3 entry for that justification.
type FSMonitor struct {
	mode      FSMode
	sensitive []string
	audit     AuditFunc
	mu        sync.RWMutex
}

// NewFSMonitor builds a monitor over the given sensitive path prefixes.
func NewFSMonitor(mode FSMode, sensitivePaths []string, audit AuditFunc) *FSMonitor {
	if audit == nil {
		audit = func(ctx context.Context, rec AuditRecord) {
			slog.Debug("sensitive file access", "path", rec.Path, "op", rec.Op, "blocked", rec.Blocked)
		}
	}
	return &FSMonitor{mode: mode, sensitive: sensitivePaths, audit: audit}
}

// Guard resolves path's real path (following symlinks) and,
// if it falls at-or-under a sensitive prefix, audits the access and — in enforce mode —
// returns an error instead of letting the caller proceed.
func (m *FSMonitor) Guard(ctx context.Context, op, path string) error {
	real := path
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		real = resolved
	} else if !os.IsNotExist(err) {
		// Can't resolve (permission, etc.) — fall back to the cleaned input path so the
		// prefix check still runs against something.
		real = filepath.Clean(path)
	} else {
		real = filepath.Clean(path)
	}

	m.mu.RLock()
	under := m.isSensitive(real)
	mode := m.mode
	m.mu.RUnlock()

	if !under {
		return nil
	}

	blocked := mode == FSModeEnforce
	m.audit(ctx, AuditRecord{Type: "sensitive_file_access", Path: real, Op: op, Blocked: blocked})

	if blocked {
		return fmt.Errorf("access to sensitive path %q denied by policy", real)
	}
	return nil
}

func (m *FSMonitor) isSensitive(real string) bool {
	for _, p := range m.sensitive {
		if real == p || strings.HasPrefix(real, p+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
