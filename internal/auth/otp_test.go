package auth

import (
	"testing"
	"time"

	"github.com/pquerna/otp/totp"
	"github.com/stretchr/testify/require"
)

func TestEnforceVerification_GraceWindow(t *testing.T) {
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "agentgw", AccountName: "test"})
	require.NoError(t, err)

	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	p := NewPolicy(PolicyConfig{
		Secret:      key.Secret(),
		Interval:    24 * time.Hour,
		GracePeriod: 30 * time.Minute,
	})
	p.MarkVerified("user-1", now)

	// Within interval: no error.
	require.NoError(t, p.EnforceVerification("user-1", now.Add(23*time.Hour)))

	// 25h later: expired but grace period (30m beyond 24h) still active.
	err = p.EnforceVerification("user-1", now.Add(25*time.Hour))
	require.Error(t, err)
	var verr *VerificationError
	require.ErrorAs(t, err, &verr)
	require.True(t, verr.GracePeriodActive)

	// Well past grace: expired, no grace.
	err = p.EnforceVerification("user-1", now.Add(48*time.Hour))
	require.Error(t, err)
	require.ErrorAs(t, err, &verr)
	require.False(t, verr.GracePeriodActive)
}

func TestEnforceVerification_StrictModeNeverVerified(t *testing.T) {
	p := NewPolicy(PolicyConfig{Interval: time.Hour, Strict: true})
	err := p.EnforceVerification("new-user", time.Now())
	require.ErrorIs(t, err, ErrStrictModeViolation)
}

func TestEnforceVerification_NonStrictNeverVerifiedAllowed(t *testing.T) {
	p := NewPolicy(PolicyConfig{Interval: time.Hour})
	require.NoError(t, p.EnforceVerification("new-user", time.Now()))
}

func TestValidateCode(t *testing.T) {
	key, err := totp.Generate(totp.GenerateOpts{Issuer: "agentgw", AccountName: "test"})
	require.NoError(t, err)

	p := NewPolicy(PolicyConfig{Secret: key.Secret()})
	now := time.Now()
	code, err := totp.GenerateCode(key.Secret(), now)
	require.NoError(t, err)

	require.True(t, p.ValidateCode(code, now))
	require.False(t, p.ValidateCode("000000", now))
}
