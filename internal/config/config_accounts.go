package config

import (
	"fmt"
	"sort"
	"strings"
)

// DefaultAccountID is the implicit account key used when a transport's config is given
// as a single object rather than under "accounts".
const DefaultAccountID = "default"

// MultiAccount wraps a transport's per-account config map plus a bare single-account
// fallback, the way a real deployment config grows from "one bot token" to "one bot
// token per tenant" without breaking the existing single-account shape. Accounts is
// checked first; if empty, Default (when non-nil) is synthesized into a one-entry map
// keyed DefaultAccountID.
type MultiAccount[T any] struct {
	Accounts map[string]*T `json:"accounts,omitempty"`
	Default  *T             `json:"-"` // populated by the transport's own JSON fields, not a sub-object
}

// ListAccountIDs returns account ids in the map, or [DefaultAccountID] if only a bare
// single-account config was supplied.
func ListAccountIDs[T any](m MultiAccount[T]) []string {
	if len(m.Accounts) > 0 {
		ids := make([]string, 0, len(m.Accounts))
		for id := range m.Accounts {
			ids = append(ids, id)
		}
		return ids
	}
	if m.Default != nil {
		return []string{DefaultAccountID}
	}
	return nil
}

// ResolveDefault returns the account designated as default: an account literally named
// DefaultAccountID, the sole account if there is exactly one, or the bare Default config.
func ResolveDefault[T any](m MultiAccount[T]) (*T, bool) {
	if acc, ok := m.Accounts[DefaultAccountID]; ok {
		return acc, true
	}
	if len(m.Accounts) == 1 {
		for _, acc := range m.Accounts {
			return acc, true
		}
	}
	if m.Default != nil {
		return m.Default, true
	}
	return nil, false
}

// NormalizeAccountID maps an empty/omitted account id to DefaultAccountID so callers
// never need a special case for "caller didn't specify an account".
func NormalizeAccountID(accountID string) string {
	if accountID == "" {
		return DefaultAccountID
	}
	return accountID
}

// ResolveAccount looks up accountID ("" treated as DefaultAccountID), falling back to the
// bare Default config when the map has no "default" entry and the map itself is empty.
func ResolveAccount[T any](m MultiAccount[T], accountID string) (*T, error) {
	id := NormalizeAccountID(accountID)

	if len(m.Accounts) > 0 {
		if acc, ok := m.Accounts[id]; ok {
			return acc, nil
		}
		if id == DefaultAccountID {
			if acc, ok := ResolveDefault(m); ok {
				return acc, nil
			}
		}
		return nil, fmt.Errorf("no account %q configured", accountID)
	}

	if m.Default != nil {
		if id != DefaultAccountID {
			return nil, fmt.Errorf("no account %q configured (single-account mode only has %q)", accountID, DefaultAccountID)
		}
		return m.Default, nil
	}

	return nil, fmt.Errorf("no accounts configured")
}

// ValidateMultiAccount rejects configs that mix a non-empty Accounts map with a non-nil
// Default — a transport config must pick one shape or the other, not both, so account
// resolution stays unambiguous.
func ValidateMultiAccount[T any](m MultiAccount[T]) error {
	if len(m.Accounts) > 0 && m.Default != nil {
		return fmt.Errorf("config specifies both \"accounts\" and a bare single-account config; use one or the other")
	}
	for id, acc := range m.Accounts {
		if acc == nil {
			return fmt.Errorf("account %q has a null config", id)
		}
	}
	return nil
}

// ValidateOptions configures the optional cross-account checks
// ValidateMultiAccountDetailed runs on top of ValidateMultiAccount's baseline shape
// check. Each accessor returns "" when an account doesn't carry that attribute — a
// transport that has no durable per-account storage (most of them) or no network
// environment concept just leaves the corresponding field nil and the check is skipped.
type ValidateOptions[T any] struct {
	Credential func(*T) string // bot token, API key, wallet key — whatever the account authenticates with
	DBPath     func(*T) string // durable per-account storage path (e.g. an XMTP MLS database file)
	NetworkEnv func(*T) string // network environment tag (e.g. "mainnet", "testnet")
}

// ValidateMultiAccountDetailed runs ValidateMultiAccount's baseline checks, then —
// for whichever accessors opts sets — flags accounts that share a credential or a
// durable path (both hard errors: two accounts racing on the same token or the same
// on-disk database file is always a misconfiguration, never intentional) and warns
// (doesn't reject) when accounts mix network environments, since that's sometimes
// deliberate (a staging account alongside a production one) but worth a second look.
func ValidateMultiAccountDetailed[T any](m MultiAccount[T], opts ValidateOptions[T]) (errs []error, warnings []string) {
	if err := ValidateMultiAccount(m); err != nil {
		return []error{err}, nil
	}

	seenCred := map[string]string{}
	seenPath := map[string]string{}
	envOwners := map[string]string{}

	for _, id := range ListAccountIDs(m) {
		acc, err := ResolveAccount(m, id)
		if err != nil || acc == nil {
			continue
		}
		if opts.Credential != nil {
			if cred := opts.Credential(acc); cred != "" {
				if other, dup := seenCred[cred]; dup {
					errs = append(errs, fmt.Errorf("accounts %q and %q use the same credential; each account must have its own", other, id))
				} else {
					seenCred[cred] = id
				}
			}
		}
		if opts.DBPath != nil {
			if path := opts.DBPath(acc); path != "" {
				if other, dup := seenPath[path]; dup {
					errs = append(errs, fmt.Errorf("accounts %q and %q share durable path %q; each account needs its own", other, id, path))
				} else {
					seenPath[path] = id
				}
			}
		}
		if opts.NetworkEnv != nil {
			if env := opts.NetworkEnv(acc); env != "" {
				envOwners[env] = id
			}
		}
	}

	if len(envOwners) > 1 {
		envs := make([]string, 0, len(envOwners))
		for env := range envOwners {
			envs = append(envs, env)
		}
		sort.Strings(envs)
		warnings = append(warnings, fmt.Sprintf("accounts mix network environments (%s) — confirm this is intentional", strings.Join(envs, ", ")))
	}

	return errs, warnings
}

// IsEnabledFunc reports whether an account config is enabled; transports supply this
// since "enabled" lives on the concrete *TelegramConfig/*DiscordConfig type, not T itself.
type IsEnabledFunc[T any] func(*T) bool

// EnabledAccountIDs returns the subset of ListAccountIDs whose resolved config is enabled.
func EnabledAccountIDs[T any](m MultiAccount[T], isEnabled IsEnabledFunc[T]) []string {
	var enabled []string
	for _, id := range ListAccountIDs(m) {
		acc, err := ResolveAccount(m, id)
		if err != nil || acc == nil {
			continue
		}
		if isEnabled(acc) {
			enabled = append(enabled, id)
		}
	}
	return enabled
}
