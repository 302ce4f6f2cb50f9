package security

import (
	"regexp"
	"strings"
)

// denyPattern pairs a compiled pattern with the reason returned to the model.
type denyPattern struct {
	re     *regexp.Regexp
	reason string
}

// defaultDenyPatterns block destructive or exfiltrating shell commands before
// they reach the executor. Matching is case-insensitive against the whole
// command line.
var defaultDenyPatterns = []denyPattern{
	{regexp.MustCompile(`(?i)\brm\s+(-[a-z]*[rf][a-z]*\s+)+/(\s|$)`), "recursive delete of filesystem root"},
	{regexp.MustCompile(`(?i)\brm\s+-[a-z]*[rf][a-z]*\s+(/home|/etc|/var|/usr|/root|~)(\s|/|$)`), "recursive delete of a system directory"},
	{regexp.MustCompile(`(?i)\bmkfs(\.[a-z0-9]+)?\b`), "filesystem format"},
	{regexp.MustCompile(`(?i)\bdd\s+[^|;]*of=/dev/`), "raw write to a block device"},
	{regexp.MustCompile(`(?i)>\s*/dev/sd[a-z]`), "raw write to a block device"},
	{regexp.MustCompile(`:\(\)\s*\{\s*:\|:`), "fork bomb"},
	{regexp.MustCompile(`(?i)\bshutdown\b|\breboot\b|\bhalt\b|\bpoweroff\b`), "host power control"},
	{regexp.MustCompile(`(?i)\bchmod\s+(-[a-z]+\s+)*777\s+/(\s|$)`), "world-writable filesystem root"},
	{regexp.MustCompile(`(?i)\bcurl\b[^|;]*\|\s*(ba)?sh\b`), "piping a download into a shell"},
	{regexp.MustCompile(`(?i)\bwget\b[^|;]*\|\s*(ba)?sh\b`), "piping a download into a shell"},
	{regexp.MustCompile(`(?i)/etc/(passwd|shadow|sudoers)\b`), "reads or writes system credential files"},
	{regexp.MustCompile(`(?i)\bssh\b.*\b(id_rsa|id_ed25519)\b`), "private key access over ssh"},
	{regexp.MustCompile(`(?i)\b(cat|cp|scp|base64)\b[^|;&]*\.(ssh|aws|gnupg)/`), "credential directory access"},
	{regexp.MustCompile(`(?i)\b(cat|cp|scp|base64|less|more|head|tail|grep)\b[^|;&]*\b(id_rsa|id_ed25519)\b`), "private key file access"},
	{regexp.MustCompile(`(?i)\b(cat|cp|scp|base64|less|more|head|tail|grep)\b[^|;&]*(\s|/)\.env(\s|\.|$)`), "environment secrets file access"},
	{regexp.MustCompile(`(?i)\b(cat|cp|scp|base64|less|more|head|tail|grep)\b[^|;&]*\.pem\b`), "certificate key file access"},
	{regexp.MustCompile(`(?i)\bkill\s+(-9\s+)?1(\s|$)`), "kills pid 1"},
	{regexp.MustCompile(`(?i)\bDROP\s+(TABLE|DATABASE)\b`), "destructive SQL"},
	{regexp.MustCompile(`(?i)\bnc\b[^|;]*\s-[a-z]*e[a-z]*\s`), "netcat with command execution"},
}

// CheckCommand returns whether the command may run and, when blocked, a short
// reason suitable for a tool result.
func CheckCommand(command string) (allowed bool, reason string) {
	cmd := strings.TrimSpace(command)
	if cmd == "" {
		return false, "empty command"
	}
	for _, p := range defaultDenyPatterns {
		if p.re.MatchString(cmd) {
			return false, p.reason
		}
	}
	return true, ""
}
