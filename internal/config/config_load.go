package config

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/nextlevelbuilder/agentgw/internal/security"
	"github.com/titanous/json5"
)

// saveAudit receives secret_detected events raised while saving config. Defaults to a
// no-op; cmd wiring can redirect it at the same audit sink the rest of the gateway uses.
var saveAudit security.AuditFunc = func(context.Context, security.AuditRecord) {}

// SetSaveAudit overrides the audit sink Save reports secret_detected events to.
func SetSaveAudit(fn security.AuditFunc) {
	if fn != nil {
		saveAudit = fn
	}
}

var saveSecretGuard = security.NewSecretGuard(func(ctx context.Context, rec security.AuditRecord) {
	saveAudit(ctx, rec)
})

// Default returns a Config with sensible defaults.
func Default() *Config {
	return &Config{
		Agents: AgentsConfig{
			Defaults: AgentDefaults{
				Workspace:           "~/.agentgw/workspace",
				RestrictToWorkspace: true,
				Provider:            "anthropic",
				Model:               "claude-sonnet-4-5-20250929",
				MaxTokens:           8192,
				Temperature:         0.7,
				MaxToolIterations:   20,
				ContextWindow:       200000,
				Subagents: &SubagentsConfig{
					MaxConcurrent: 20,
					MaxSpawnDepth: 1,
				},
			},
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				StreamMode:    "none",
				ReactionLevel: "full",
			},
		},
		Gateway: GatewayConfig{
			Host:            "0.0.0.0",
			Port:            18790,
			MaxMessageChars: 32000,
			RateLimitRPM:    20,
		},
		Tools: ToolsConfig{
			Web: WebToolsConfig{
				DuckDuckGo: DuckDuckGoConfig{Enabled: true, MaxResults: 5},
			},
			Browser: BrowserToolConfig{
				Enabled:  true,
				Headless: true,
			},
			ExecApproval: ExecApprovalCfg{
				Security: "full",
				Ask:      "off",
			},
		},
		Sessions: SessionsConfig{
			Storage: "~/.agentgw/sessions",
		},
	}
}

// Load reads config from a JSON file, then overlays env vars.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			cfg.applyContextPruningDefaults()
			return cfg, nil
		}
		return nil, fmt.Errorf("read config: %w", err)
	}

	if err := json5.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	cfg.applyContextPruningDefaults()

	errs, warnings := cfg.Channels.ValidateAccounts()
	if len(errs) > 0 {
		return nil, fmt.Errorf("invalid multi-account config: %w", errors.Join(errs...))
	}
	for _, w := range warnings {
		slog.Warn("config: multi-account warning", "warning", w)
	}

	return cfg, nil
}

// applyEnvOverrides overlays env vars onto the config.
// Env vars take precedence over file values.
func (c *Config) applyEnvOverrides() {
	envStr := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}
	envStr("AGENTGW_ANTHROPIC_API_KEY", &c.Providers.Anthropic.APIKey)
	envStr("AGENTGW_ANTHROPIC_BASE_URL", &c.Providers.Anthropic.APIBase)
	envStr("AGENTGW_OPENAI_API_KEY", &c.Providers.OpenAI.APIKey)
	envStr("AGENTGW_OPENROUTER_API_KEY", &c.Providers.OpenRouter.APIKey)
	envStr("AGENTGW_GROQ_API_KEY", &c.Providers.Groq.APIKey)
	envStr("AGENTGW_DEEPSEEK_API_KEY", &c.Providers.DeepSeek.APIKey)
	envStr("AGENTGW_GEMINI_API_KEY", &c.Providers.Gemini.APIKey)
	envStr("AGENTGW_MISTRAL_API_KEY", &c.Providers.Mistral.APIKey)
	envStr("AGENTGW_XAI_API_KEY", &c.Providers.XAI.APIKey)
	envStr("AGENTGW_MINIMAX_API_KEY", &c.Providers.MiniMax.APIKey)
	envStr("AGENTGW_COHERE_API_KEY", &c.Providers.Cohere.APIKey)
	envStr("AGENTGW_PERPLEXITY_API_KEY", &c.Providers.Perplexity.APIKey)
	envStr("AGENTGW_GATEWAY_TOKEN", &c.Gateway.Token)
	envStr("AGENTGW_TELEGRAM_TOKEN", &c.Channels.Telegram.Token)
	envStr("AGENTGW_DISCORD_TOKEN", &c.Channels.Discord.Token)
	envStr("AGENTGW_ZALO_TOKEN", &c.Channels.Zalo.Token)
	envStr("AGENTGW_FEISHU_APP_ID", &c.Channels.Feishu.AppID)
	envStr("AGENTGW_FEISHU_APP_SECRET", &c.Channels.Feishu.AppSecret)
	envStr("AGENTGW_FEISHU_ENCRYPT_KEY", &c.Channels.Feishu.EncryptKey)
	envStr("AGENTGW_FEISHU_VERIFICATION_TOKEN", &c.Channels.Feishu.VerificationToken)

	// TTS secrets
	envStr("AGENTGW_TTS_OPENAI_API_KEY", &c.Tts.OpenAI.APIKey)
	envStr("AGENTGW_TTS_ELEVENLABS_API_KEY", &c.Tts.ElevenLabs.APIKey)
	envStr("AGENTGW_TTS_MINIMAX_API_KEY", &c.Tts.MiniMax.APIKey)
	envStr("AGENTGW_TTS_MINIMAX_GROUP_ID", &c.Tts.MiniMax.GroupID)

	// Auto-enable channels if credentials are provided via env
	if c.Channels.Telegram.Token != "" {
		c.Channels.Telegram.Enabled = true
	}
	if c.Channels.Discord.Token != "" {
		c.Channels.Discord.Enabled = true
	}
	if c.Channels.Zalo.Token != "" {
		c.Channels.Zalo.Enabled = true
	}
	if c.Channels.Feishu.AppID != "" && c.Channels.Feishu.AppSecret != "" {
		c.Channels.Feishu.Enabled = true
	}

	// Allow overriding default provider/model
	envStr("AGENTGW_PROVIDER", &c.Agents.Defaults.Provider)
	envStr("AGENTGW_MODEL", &c.Agents.Defaults.Model)

	// Workspace & sessions
	envStr("AGENTGW_WORKSPACE", &c.Agents.Defaults.Workspace)
	envStr("AGENTGW_SESSIONS_STORAGE", &c.Sessions.Storage)

	// Gateway host/port
	envStr("AGENTGW_HOST", &c.Gateway.Host)
	if v := os.Getenv("AGENTGW_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil && port > 0 {
			c.Gateway.Port = port
		}
	}

	// Database
	envStr("AGENTGW_POSTGRES_DSN", &c.Database.PostgresDSN)
	envStr("AGENTGW_MODE", &c.Database.Mode)

	// Telemetry
	envStr("AGENTGW_TELEMETRY_ENDPOINT", &c.Telemetry.Endpoint)
	envStr("AGENTGW_TELEMETRY_PROTOCOL", &c.Telemetry.Protocol)
	envStr("AGENTGW_TELEMETRY_SERVICE_NAME", &c.Telemetry.ServiceName)
	if v := os.Getenv("AGENTGW_TELEMETRY_ENABLED"); v != "" {
		c.Telemetry.Enabled = v == "true" || v == "1"
	}
	if v := os.Getenv("AGENTGW_TELEMETRY_INSECURE"); v != "" {
		c.Telemetry.Insecure = v == "true" || v == "1"
	}

	// Owner IDs from env (comma-separated)
	if v := os.Getenv("AGENTGW_OWNER_IDS"); v != "" {
		c.Gateway.OwnerIDs = strings.Split(v, ",")
	}

	// Tailscale (tsnet)
	envStr("AGENTGW_TSNET_HOSTNAME", &c.Tailscale.Hostname)
	envStr("AGENTGW_TSNET_AUTH_KEY", &c.Tailscale.AuthKey)
	envStr("AGENTGW_TSNET_DIR", &c.Tailscale.StateDir)

	// Sandbox (for Docker-compose sandbox overlay)
	ensureSandbox := func() {
		if c.Agents.Defaults.Sandbox == nil {
			c.Agents.Defaults.Sandbox = &SandboxConfig{}
		}
	}
	if v := os.Getenv("AGENTGW_SANDBOX_MODE"); v != "" {
		ensureSandbox()
		c.Agents.Defaults.Sandbox.Mode = v
	}
	if v := os.Getenv("AGENTGW_SANDBOX_IMAGE"); v != "" {
		ensureSandbox()
		c.Agents.Defaults.Sandbox.Image = v
	}
	if v := os.Getenv("AGENTGW_SANDBOX_WORKSPACE_ACCESS"); v != "" {
		ensureSandbox()
		c.Agents.Defaults.Sandbox.WorkspaceAccess = v
	}
	if v := os.Getenv("AGENTGW_SANDBOX_SCOPE"); v != "" {
		ensureSandbox()
		c.Agents.Defaults.Sandbox.Scope = v
	}
	if v := os.Getenv("AGENTGW_SANDBOX_MEMORY_MB"); v != "" {
		ensureSandbox()
		if mb, err := strconv.Atoi(v); err == nil && mb > 0 {
			c.Agents.Defaults.Sandbox.MemoryMB = mb
		}
	}
	if v := os.Getenv("AGENTGW_SANDBOX_CPUS"); v != "" {
		ensureSandbox()
		if cpus, err := strconv.ParseFloat(v, 64); err == nil && cpus > 0 {
			c.Agents.Defaults.Sandbox.CPUs = cpus
		}
	}
	if v := os.Getenv("AGENTGW_SANDBOX_TIMEOUT_SEC"); v != "" {
		ensureSandbox()
		if sec, err := strconv.Atoi(v); err == nil && sec > 0 {
			c.Agents.Defaults.Sandbox.TimeoutSec = sec
		}
	}
	if v := os.Getenv("AGENTGW_SANDBOX_NETWORK"); v != "" {
		ensureSandbox()
		c.Agents.Defaults.Sandbox.NetworkEnabled = v == "true" || v == "1"
	}
}

// applyContextPruningDefaults auto-enables context pruning when the Anthropic
// provider is configured, matching TS applyContextPruningDefaults() in
// src/config/defaults.ts.
//
// Go port does not have OAuth vs API-key distinction â€” we always treat it as
// API-key mode (heartbeat 30m).
func (c *Config) applyContextPruningDefaults() {
	// Only apply when Anthropic is configured.
	if c.Providers.Anthropic.APIKey == "" {
		return
	}

	defaults := &c.Agents.Defaults

	// Auto-enable context pruning if mode not explicitly set.
	if defaults.ContextPruning == nil {
		defaults.ContextPruning = &ContextPruningConfig{
			Mode: "cache-ttl",
		}
	} else if defaults.ContextPruning.Mode == "" {
		defaults.ContextPruning.Mode = "cache-ttl"
	}
}

// Save writes the config to a JSON file. Before writing, it scans a redacted view of
// the config (designated credential fields like api_key/token blanked out — those are
// this file's own intended storage, not a leak) for secret-shaped values that ended up
// somewhere they shouldn't have, refusing the write and raising a secret_detected audit
// event if one is found.
func Save(path string, cfg *Config) error {
	cfg.mu.RLock()
	data, err := json.MarshalIndent(cfg, "", "  ")
	cfg.mu.RUnlock()
	if err != nil {
		return err
	}

	redacted := security.RedactCredentialFields(data)
	if err := saveSecretGuard.Scan(context.Background(), redacted); err != nil {
		return fmt.Errorf("refusing to save config: secret-shaped value found outside a designated credential field: %w", err)
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return saveSecretGuard.WriteAtomic0600(path, data)
}

// Hash returns a SHA-256 hash of the config for optimistic concurrency.
func (c *Config) Hash() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	data, _ := json.Marshal(c)
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}

// WorkspacePath returns the expanded workspace path.
func (c *Config) WorkspacePath() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return ExpandHome(c.Agents.Defaults.Workspace)
}

// ResolveAgent returns the effective config for a given agent ID,
// merging defaults with per-agent overrides.
func (c *Config) ResolveAgent(agentID string) AgentDefaults {
	c.mu.RLock()
	defer c.mu.RUnlock()

	d := c.Agents.Defaults
	if spec, ok := c.Agents.List[agentID]; ok {
		if spec.Provider != "" {
			d.Provider = spec.Provider
		}
		if spec.Model != "" {
			d.Model = spec.Model
		}
		if spec.MaxTokens > 0 {
			d.MaxTokens = spec.MaxTokens
		}
		if spec.Temperature > 0 {
			d.Temperature = spec.Temperature
		}
		if spec.MaxToolIterations > 0 {
			d.MaxToolIterations = spec.MaxToolIterations
		}
		if spec.ContextWindow > 0 {
			d.ContextWindow = spec.ContextWindow
		}
		if spec.Workspace != "" {
			d.Workspace = spec.Workspace
		}
		if spec.Sandbox != nil {
			d.Sandbox = spec.Sandbox
		}
		if spec.AgentType != "" {
			d.AgentType = spec.AgentType
		}
	}

	return d
}

// ResolveDefaultAgentID returns the ID of the agent marked as default,
// or "default" if none is explicitly marked.
func (c *Config) ResolveDefaultAgentID() string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	for id, spec := range c.Agents.List {
		if spec.Default {
			return id
		}
	}
	return DefaultAgentID
}

// ResolveDisplayName returns the display name for an agent.
// Falls back to "agentgw" if not configured.
func (c *Config) ResolveDisplayName(agentID string) string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if spec, ok := c.Agents.List[agentID]; ok && spec.DisplayName != "" {
		return spec.DisplayName
	}
	return "agentgw"
}

// ApplyEnvOverrides re-applies environment variable overrides onto the config.
// Call this after modifying config to restore runtime secrets from env vars.
func (c *Config) ApplyEnvOverrides() {
	c.applyEnvOverrides()
	c.applyContextPruningDefaults()
}

// ExpandHome replaces leading ~ with the user home directory.
func ExpandHome(path string) string {
	if path == "" || path[0] != '~' {
		return path
	}
	home, _ := os.UserHomeDir()
	if len(path) > 1 && path[1] == '/' {
		return home + path[1:]
	}
	return home
}
