package config

import (
	"sort"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTelegramConfig_SingleAccountMode(t *testing.T) {
	cfg := TelegramConfig{Enabled: true, Token: "abc123"}

	ids := cfg.TelegramAccountIDs()
	require.Equal(t, []string{DefaultAccountID}, ids)

	resolved, err := cfg.ResolveTelegramAccount("")
	require.NoError(t, err)
	require.Equal(t, "abc123", resolved.Token)

	_, err = cfg.ResolveTelegramAccount("nope")
	require.Error(t, err)
}

func TestTelegramConfig_MultiAccountMode(t *testing.T) {
	cfg := TelegramConfig{
		Accounts: map[string]*TelegramConfig{
			"support": {Enabled: true, Token: "support-token"},
			"sales":   {Enabled: false, Token: "sales-token"},
		},
	}

	ids := cfg.TelegramAccountIDs()
	sort.Strings(ids)
	require.Equal(t, []string{"sales", "support"}, ids)

	enabled := cfg.EnabledTelegramAccountIDs()
	require.Equal(t, []string{"support"}, enabled)

	resolved, err := cfg.ResolveTelegramAccount("support")
	require.NoError(t, err)
	require.Equal(t, "support-token", resolved.Token)

	_, err = cfg.ResolveTelegramAccount("missing")
	require.Error(t, err)
}

func TestTelegramConfig_RejectsAmbiguousShape(t *testing.T) {
	cfg := TelegramConfig{
		Token:    "top-level-token",
		Accounts: map[string]*TelegramConfig{"a": {Token: "a-token"}},
	}

	_, err := cfg.ResolveTelegramAccount("")
	require.Error(t, err)
}

func TestNormalizeAccountID(t *testing.T) {
	require.Equal(t, DefaultAccountID, NormalizeAccountID(""))
	require.Equal(t, "custom", NormalizeAccountID("custom"))
}
