package security

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"strings"
)

// secretPatterns match common credential shapes that must never be persisted to a
// config file on disk.
var secretPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\bsk-[A-Za-z0-9]{20,}\b`),              // OpenAI-style API keys
	regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),                 // AWS access key id
	regexp.MustCompile(`\bghp_[A-Za-z0-9]{36}\b`),              // GitHub personal access token
	regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9-]{10,}\b`),     // Slack token
	regexp.MustCompile(`-----BEGIN (RSA |EC |OPENSSH )?PRIVATE KEY-----`),
	regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}\b`), // JWT
}

// SecretFound is returned when SecretGuard detects a credential-shaped string.
type SecretFound struct {
	Pattern string
}

func (e *SecretFound) Error() string {
	return fmt.Sprintf("refusing to persist: content matches secret pattern %q", e.Pattern)
}

// SecretGuard scans config blobs before they are persisted and refuses to write ones
// that look like they contain live credentials, surfacing a secret_detected audit event.
type SecretGuard struct {
	audit AuditFunc
}

// NewSecretGuard builds a guard; a nil audit func is a no-op logger.
func NewSecretGuard(audit AuditFunc) *SecretGuard {
	if audit == nil {
		audit = func(context.Context, AuditRecord) {}
	}
	return &SecretGuard{audit: audit}
}

// Scan returns a *SecretFound error if blob matches any known secret shape.
func (g *SecretGuard) Scan(ctx context.Context, blob []byte) error {
	s := string(blob)
	for _, p := range secretPatterns {
		if p.MatchString(s) {
			g.audit(ctx, AuditRecord{Type: "secret_detected", Path: "", Op: "write"})
			return &SecretFound{Pattern: p.String()}
		}
	}
	return nil
}

// WriteGuarded scans blob and, if clean, atomically writes it to path with 0600
// permissions — the mode every file this guard writes must carry.
func (g *SecretGuard) WriteGuarded(ctx context.Context, path string, blob []byte) error {
	if err := g.Scan(ctx, blob); err != nil {
		return err
	}
	return g.WriteAtomic0600(path, blob)
}

// WriteAtomic0600 performs the temp-file-then-rename write at 0600 permissions that
// WriteGuarded uses, without scanning blob first. Callers that must persist a blob
// expected to legitimately contain credentials (e.g. the gateway's own config file)
// run Scan themselves over a RedactCredentialFields view before calling this, so a
// known credential field never trips the guard on its own intended storage.
func (g *SecretGuard) WriteAtomic0600(path string, blob []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, blob, 0o600); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Chmod(tmp, 0o600); err != nil {
		return fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// credentialFieldNames are JSON object keys that legitimately hold live credentials in
// the gateway's own config file — RedactCredentialFields blanks out string values under
// these keys before a blob is scanned, so Scan only flags secret-shaped values that
// leaked into a field that was never meant to hold one (a system prompt, a label, a
// webhook URL) rather than the config's designated credential storage.
var credentialFieldNames = map[string]bool{
	"api_key":            true,
	"token":              true,
	"bot_token":          true,
	"app_token":          true,
	"verification_token": true,
	"access_token":       true,
	"refresh_token":       true,
	"wallet_key":          true,
	"password":            true,
	"secret":              true,
	"client_secret":       true,
}

// RedactCredentialFields parses blob as JSON and replaces string values under known
// credential field names with a placeholder, returning the re-marshaled result. If blob
// isn't valid JSON it is returned unchanged, so Scan still runs over the raw content.
func RedactCredentialFields(blob []byte) []byte {
	var tree any
	if err := json.Unmarshal(blob, &tree); err != nil {
		return blob
	}
	redactTree(tree)
	out, err := json.Marshal(tree)
	if err != nil {
		return blob
	}
	return out
}

func redactTree(node any) {
	switch v := node.(type) {
	case map[string]any:
		for k, val := range v {
			if s, ok := val.(string); ok && s != "" && credentialFieldNames[strings.ToLower(k)] {
				v[k] = "REDACTED"
				continue
			}
			redactTree(val)
		}
	case []any:
		for _, item := range v {
			redactTree(item)
		}
	}
}
