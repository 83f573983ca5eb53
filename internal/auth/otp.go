// Package auth implements OTP / re-verification policy: TOTP validation, per-user
// verification state, grace periods, and strict mode. The per-user debounce here
// mirrors the pairing-code debounce in internal/channels/whatsapp/whatsapp.go
// (pairingDebounce sync.Map), generalized from a one-time first-contact gate to a
// recurring re-verification gate. Pairing (first contact) and OTP (recurring
// re-verification) are distinct gates, wired into the inbound pipeline in that order.
package auth

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
)

// ErrVerificationExpired is returned when a user's last verification is older than the
// configured interval and (if applicable) the grace period has also elapsed.
var ErrVerificationExpired = errors.New("verification expired")

// ErrStrictModeViolation is returned when strict mode is on and the user has never been
// verified.
var ErrStrictModeViolation = errors.New("strict mode: user has never verified")

// VerificationError carries the user-visible grace-period detail.
type VerificationError struct {
	Err              error
	GracePeriodActive bool
	Message          string
}

func (e *VerificationError) Error() string { return e.Message }
func (e *VerificationError) Unwrap() error { return e.Err }

// Record is the per-user verification state.
type Record struct {
	LastVerifiedAt time.Time
	FirstSeenAt    time.Time
}

// PolicyConfig configures the OTP policy.
type PolicyConfig struct {
	Secret            string        // TOTP seed, base32-encoded
	Interval          time.Duration // re-verification window
	GracePeriod       time.Duration
	Strict            bool
	PerChannelEnabled map[string]bool // nil/absent channel defaults to enabled
}

// Policy enforces re-verification. Safe for concurrent use.
type Policy struct {
	cfg     PolicyConfig
	mu      sync.Mutex
	records map[string]*Record
}

// NewPolicy builds a Policy from cfg.
func NewPolicy(cfg PolicyConfig) *Policy {
	return &Policy{cfg: cfg, records: make(map[string]*Record)}
}

// Enabled reports whether OTP enforcement applies to the given channel.
func (p *Policy) Enabled(channel string) bool {
	if p.cfg.PerChannelEnabled == nil {
		return true
	}
	enabled, ok := p.cfg.PerChannelEnabled[channel]
	if !ok {
		return true
	}
	return enabled
}

// EnforceVerification checks userId's verification state against now. It returns nil if
// the user is currently verified, or a *VerificationError wrapping ErrVerificationExpired
// / ErrStrictModeViolation otherwise.
func (p *Policy) EnforceVerification(userID string, now time.Time) error {
	p.mu.Lock()
	rec, ok := p.records[userID]
	if !ok {
		rec = &Record{FirstSeenAt: now}
		p.records[userID] = rec
	}
	p.mu.Unlock()

	if rec.LastVerifiedAt.IsZero() {
		if p.cfg.Strict {
			return &VerificationError{
				Err:     ErrStrictModeViolation,
				Message: "Verification required. Reply with your OTP code to continue.",
			}
		}
		return nil
	}

	elapsed := now.Sub(rec.LastVerifiedAt)
	if elapsed <= p.cfg.Interval {
		return nil
	}

	graceRemaining := p.cfg.GracePeriod - (elapsed - p.cfg.Interval)
	if graceRemaining > 0 {
		return &VerificationError{
			Err:               ErrVerificationExpired,
			GracePeriodActive: true,
			Message: fmt.Sprintf(
				"Verification expired %s ago. You have %s left in your grace period — reply with your OTP code.",
				elapsed-p.cfg.Interval, graceRemaining,
			),
		}
	}

	return &VerificationError{
		Err:     ErrVerificationExpired,
		Message: "Verification expired. Reply with your OTP code to continue.",
	}
}

// MarkVerified records userId as verified at now (atomic: caller should hold this as the
// single write path for a validated OTP submission).
func (p *Policy) MarkVerified(userID string, now time.Time) {
	p.mu.Lock()
	defer p.mu.Unlock()
	rec, ok := p.records[userID]
	if !ok {
		rec = &Record{FirstSeenAt: now}
		p.records[userID] = rec
	}
	rec.LastVerifiedAt = now
}

// ValidateCode validates code against the configured TOTP secret using RFC 6238 with a
// ±1 step window (30s steps, the totp library default skew of 1).
func (p *Policy) ValidateCode(code string, now time.Time) bool {
	ok, err := totp.ValidateCustom(code, p.cfg.Secret, now, totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    6,
		Algorithm: otp.AlgorithmSHA1,
	})
	if err != nil {
		return false
	}
	return ok
}

// HandleInboundCode validates an inbound message that is expected to be an OTP code and,
// on success, marks the user verified. Returns true if the message was consumed as a
// valid OTP submission.
func (p *Policy) HandleInboundCode(userID, messageText string, now time.Time) bool {
	if !p.ValidateCode(messageText, now) {
		return false
	}
	p.MarkVerified(userID, now)
	return true
}
