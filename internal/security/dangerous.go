// Package security implements the guards every tool call and external input must pass
// through: dangerous-command detection, rate limiting, sensitive-path auditing, and
// secret-leak prevention before persisting config.
package security

import "regexp"

// Rule is a single dangerous-command pattern with a human-readable explanation and an
// optional safer replacement to suggest back to the model.
type Rule struct {
	Name        string
	Pattern     *regexp.Regexp
	Explanation string
	Suggestion  string
}

// Match is the result of a Rule firing against a command string.
type Match struct {
	Pattern     string
	Explanation string
	Suggestion  string
}

// DefaultRules is the built-in corpus of dangerous shell-command detectors.
// Covers recursive deletes of root/home, network-pipe-to-shell, chmod/chown of the
// whole tree, fork bombs, writes to /etc/passwd|shadow, rm of .git, unquoted rm
// expansion, firewall disable, and history clearing, plus a broader defense-in-depth
// hardening corpus (OWASP Agentic AI Top 10, MITRE ATT&CK derived patterns).
var DefaultRules = []Rule{
	{
		Name:        "rm-root-or-home",
		Pattern:     regexp.MustCompile(`\brm\s+-[rf]{1,2}\b.*(\s/\s*$|\s/\s|\s~(/|$)|\$HOME\b)`),
		Explanation: "recursive/forced delete targeting root or the home directory",
		Suggestion:  "scope the rm to a specific subdirectory instead of / or ~",
	},
	{
		Name:        "rm-recursive-generic",
		Pattern:     regexp.MustCompile(`\brm\s+-[rf]{1,2}\b|\brm\s+.*--recursive|\brm\s+.*--force`),
		Explanation: "recursive or forced file deletion",
	},
	{
		Name:        "rm-git",
		Pattern:     regexp.MustCompile(`\brm\s+-[rf]{1,2}\b.*\.git\b`),
		Explanation: "deletes the current working tree's .git directory",
	},
	{
		Name:        "rm-unquoted-var-expansion",
		Pattern:     regexp.MustCompile(`\brm\s+-[rf]{1,2}\s+\$[A-Za-z_][A-Za-z0-9_]*\s*($|[^"'])`),
		Explanation: "unquoted variable expansion in rm arguments — an empty/unset variable can widen the delete to unintended paths",
		Suggestion:  `quote the variable: rm -rf "$VAR"`,
	},
	{
		Name:        "curl-pipe-shell",
		Pattern:     regexp.MustCompile(`\b(curl|wget)\b.*\|\s*(sudo\s+)?(ba)?sh\b`),
		Explanation: "pipes a network download directly into a shell interpreter",
	},
	{
		Name:        "chmod-chown-root-tree",
		Pattern:     regexp.MustCompile(`\bchmod\s+(-R\s+)?[0-7]{3,4}\s+/\s*$|\bchown\b.*-R.*\s+/\s*$`),
		Explanation: "chmod/chown of the entire filesystem tree",
	},
	{
		Name:        "fork-bomb",
		Pattern:     regexp.MustCompile(`:\(\)\s*\{.*\};\s*:`),
		Explanation: "classic shell fork bomb",
	},
	{
		Name:        "etc-passwd-shadow-write",
		Pattern:     regexp.MustCompile(`>\s*/etc/(passwd|shadow)\b|\btee\b.*\s/etc/(passwd|shadow)\b`),
		Explanation: "writes directly into /etc/passwd or /etc/shadow",
	},
	{
		Name:        "firewall-disable",
		Pattern:     regexp.MustCompile(`\biptables\s+-F\b|\bufw\s+disable\b|\bsystemctl\s+(stop|disable)\s+(firewalld|ufw)\b`),
		Explanation: "disables the host firewall",
	},
	{
		Name:        "history-clear",
		Pattern:     regexp.MustCompile(`\bhistory\s+-c\b|>\s*~?/\.bash_history\b|\bunset\s+HISTFILE\b`),
		Explanation: "clears or disables shell history",
	},
	{
		Name:        "reverse-shell",
		Pattern:     regexp.MustCompile(`\b(nc|ncat|netcat)\b.*-[el]\b|\bsocat\b|/dev/tcp/`),
		Explanation: "opens a reverse or bind shell",
	},
	{
		Name:        "ld-preload-injection",
		Pattern:     regexp.MustCompile(`\bLD_PRELOAD\s*=|\bDYLD_INSERT_LIBRARIES\s*=`),
		Explanation: "library-preload based code injection",
	},
	{
		Name:        "docker-socket-escape",
		Pattern:     regexp.MustCompile(`/var/run/docker\.sock|docker\.(sock|socket)`),
		Explanation: "accesses the Docker control socket, a common container-escape vector",
	},
	{
		Name:        "sudo-su",
		Pattern:     regexp.MustCompile(`\bsudo\b|\bsu\s+-`),
		Explanation: "privilege escalation",
	},
	{
		Name:        "crypto-miner",
		Pattern:     regexp.MustCompile(`\b(xmrig|cpuminer|minerd|cgminer|ethminer)\b|stratum\+tcp://`),
		Explanation: "cryptocurrency mining software or pool protocol",
	},
	{
		Name:        "env-dump",
		Pattern:     regexp.MustCompile(`^\s*env\s*$|^\s*env\s*\||\bprintenv\b`),
		Explanation: "dumps the full process environment, which may include secrets",
	},
}

// Detector holds a compiled rule set and checks commands against it.
type Detector struct {
	rules []Rule
}

// NewDetector builds a detector from the given rules, falling back to DefaultRules
// when none are supplied.
func NewDetector(rules []Rule) *Detector {
	if len(rules) == 0 {
		rules = DefaultRules
	}
	return &Detector{rules: rules}
}

// Detect returns the first matching rule for the given command, or nil if the
// command does not match any rule.
func (d *Detector) Detect(command string) *Match {
	for _, r := range d.rules {
		if r.Pattern.MatchString(command) {
			return &Match{
				Pattern:     r.Name,
				Explanation: r.Explanation,
				Suggestion:  r.Suggestion,
			}
		}
	}
	return nil
}
