package catalog

// Built-in rule tables. Order within each table is significant: first-match
// checks report the earliest declared label.

// DangerousCommandRules are matched against shell command strings.
var DangerousCommandRules = []RuleSpec{
	// Destructive filesystem operations
	{Pattern: `\brm\s+-[^\s]*r[^\s]*f[^\s]*\s+/`, Label: "recursive force delete from root"},
	{Pattern: `\brm\s+-[^\s]*f[^\s]*r[^\s]*\s+/`, Label: "recursive force delete from root"},
	{Pattern: `\bmkfs\b`, Label: "filesystem format"},
	{Pattern: `\bdd\s+if=`, Label: "raw disk write"},
	{Pattern: `:\(\)\s*\{\s*:\|:&\s*\}\s*;?\s*:`, Label: "fork bomb"},

	// Remote code execution via piped download
	{Pattern: `\bcurl\b[^|]*\|\s*(sh|bash|zsh)\b`, Label: "curl pipe to shell"},
	{Pattern: `\bwget\b[^|]*\|\s*(sh|bash|zsh)\b`, Label: "wget pipe to shell"},
	{Pattern: `\beval\s+\$\(\s*curl\b`, Label: "eval curl"},

	// Credential access
	{Pattern: `~/\.openclaw/credentials`, Label: "openclaw credentials access"},
	{Pattern: `~/\.ssh/`, Label: "SSH directory access"},
	{Pattern: `~/\.aws/`, Label: "AWS credentials access"},
	{Pattern: `~/\.gnupg/`, Label: "GPG keyring access"},
	{Pattern: `/etc/shadow`, Label: "/etc/shadow access"},

	// Permission abuse
	{Pattern: `\bchmod\s+(-R\s+)?777\b`, Label: "world-writable permission"},
	{Pattern: `\bchown\s+root\b`, Label: "chown to root"},

	// Exec-capable netcat
	{Pattern: `\bnc\s+-e\b`, Label: "netcat exec"},
	{Pattern: `\bncat\s+-e\b`, Label: "ncat exec"},

	// Obfuscated execution
	{Pattern: `\becho\b.*\|\s*base64\s+-d\s*\|\s*(bash|sh|zsh)\b`, Label: "base64 decode pipe to shell"},
	{Pattern: `\becho\b.*\|\s*xxd\s+-r\s*\|\s*(bash|sh|zsh)\b`, Label: "xxd decode pipe to shell"},
	{Pattern: `\bprintf\s+['"]\\x.*\|\s*(bash|sh|zsh)\b`, Label: "printf hex pipe to shell"},
	{Pattern: `\beval\s+"\$\(\s*echo\b`, Label: "eval echo subshell"},
	{Pattern: `\beval\s+"\$\(\s*base64\b`, Label: "eval base64 subshell"},
	{Pattern: `\bpython3?\s+-c\s+['"].*\b(requests|socket|urllib|subprocess|os)\b`, Label: "python inline with dangerous import"},
	{Pattern: `\bperl\s+-e\s+['"].*\b(system|socket|exec)\b`, Label: "perl inline exec"},
	{Pattern: `\bruby\s+-e\s+['"].*\b(system|exec)\b`, Label: "ruby inline exec"},

	// Network exfiltration
	{Pattern: `\bcurl\b.*\s+(-d|--data|--data-\w+)\s`, Label: "curl POST data"},
	{Pattern: `\bcurl\b.*\s+(-F|--form)\s`, Label: "curl form upload"},
	{Pattern: `\bcurl\b.*\s+(-T|--upload-file)\s`, Label: "curl file upload"},
	{Pattern: `\bwget\b.*\s+(--post-data|--post-file)\s`, Label: "wget POST data"},
	{Pattern: `\bscp\b.*\s+\S+@\S+:`, Label: "scp to remote host"},
	{Pattern: `\brsync\b.*\s+\S+@\S+:`, Label: "rsync to remote host"},
	{Pattern: `\brsync\b.*\s+\S+::`, Label: "rsync daemon transfer"},
	{Pattern: `\bssh\b.*\s+\S+@\S+`, Label: "ssh outbound"},
	{Pattern: `\bnc\b(?!.*\s+-l)\s+\S+\s+\d+`, Label: "netcat outbound connection"},
	{Pattern: `\bncat\b(?!.*\s+-l)\s+\S+\s+\d+`, Label: "ncat outbound connection"},

	// Credential directories: $HOME style
	{Pattern: `\$HOME/\.ssh/`, Label: "$HOME/.ssh access"},
	{Pattern: `\$HOME/\.aws/`, Label: "$HOME/.aws access"},
	{Pattern: `\$HOME/\.openclaw/credentials`, Label: "$HOME/.openclaw/credentials access"},
	{Pattern: `\$HOME/\.gnupg/`, Label: "$HOME/.gnupg access"},
	// /home/<user> (Linux)
	{Pattern: `/home/[^/]+/\.ssh/`, Label: "/home/<user>/.ssh access"},
	{Pattern: `/home/[^/]+/\.aws/`, Label: "/home/<user>/.aws access"},
	{Pattern: `/home/[^/]+/\.gnupg/`, Label: "/home/<user>/.gnupg access"},
	// /Users/<user> (macOS)
	{Pattern: `/Users/[^/]+/\.ssh/`, Label: "/Users/<user>/.ssh access"},
	{Pattern: `/Users/[^/]+/\.aws/`, Label: "/Users/<user>/.aws access"},
	{Pattern: `/Users/[^/]+/\.gnupg/`, Label: "/Users/<user>/.gnupg access"},
	// Windows
	{Pattern: `C:\\Users\\[^\\]+\\\.ssh`, Label: `C:\Users\<user>\.ssh access`, IgnoreCase: true},
	{Pattern: `C:\\Users\\[^\\]+\\\.aws`, Label: `C:\Users\<user>\.aws access`, IgnoreCase: true},
	{Pattern: `C:\\Users\\[^\\]+\\\.gnupg`, Label: `C:\Users\<user>\.gnupg access`, IgnoreCase: true},
	{Pattern: `%USERPROFILE%\\\.ssh`, Label: `%USERPROFILE%\.ssh access`, IgnoreCase: true},
	{Pattern: `%USERPROFILE%\\\.aws`, Label: `%USERPROFILE%\.aws access`, IgnoreCase: true},
	{Pattern: `%USERPROFILE%\\\.gnupg`, Label: `%USERPROFILE%\.gnupg access`, IgnoreCase: true},
}

// CommandToolRules classify tool names that execute shell commands.
var CommandToolRules = []RuleSpec{
	{Pattern: `exec|bash|shell|command`, Label: "command tool", IgnoreCase: true},
}

// SensitiveDataRules shape secrets that must not leave the host.
var SensitiveDataRules = []RuleSpec{
	{Pattern: `\b[A-Z0-9_]*(?:KEY|TOKEN|SECRET|PASSWORD|PASSWD)\b\s*[=:]\s*(["']?)([^\s"'\\]+)\1`, Label: "env assignment"},
	{Pattern: `"(?:apiKey|token|secret|password|passwd|accessToken|refreshToken)"\s*:\s*"([^"]+)"`, Label: "json secret field"},
	{Pattern: `Authorization\s*[:=]\s*Bearer\s+([A-Za-z0-9._\-+=]+)`, Label: "authorization header"},
	{Pattern: `\bBearer\s+([A-Za-z0-9._\-+=]{18,})\b`, Label: "bearer token"},
	{Pattern: `-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]+?-----END [A-Z ]*PRIVATE KEY-----`, Label: "pem private key"},
	{Pattern: `\b(sk-[A-Za-z0-9_-]{8,})\b`, Label: "sk- api key"},
	{Pattern: `\b(ghp_[A-Za-z0-9]{20,})\b`, Label: "github token"},
	{Pattern: `\b(github_pat_[A-Za-z0-9_]{20,})\b`, Label: "github fine-grained token"},
	{Pattern: `\b(xox[baprs]-[A-Za-z0-9-]{10,})\b`, Label: "slack token"},
	{Pattern: `\b(xapp-[A-Za-z0-9-]{10,})\b`, Label: "slack app token"},
	{Pattern: `\b(gsk_[A-Za-z0-9_-]{10,})\b`, Label: "groq key"},
	{Pattern: `\b(AIza[0-9A-Za-z\-_]{20,})\b`, Label: "google api key"},
	{Pattern: `\b(pplx-[A-Za-z0-9_-]{10,})\b`, Label: "perplexity key"},
	{Pattern: `\b(npm_[A-Za-z0-9]{10,})\b`, Label: "npm token"},
	{Pattern: `\b(\d{6,}:[A-Za-z0-9_-]{20,})\b`, Label: "telegram bot token"},
	{Pattern: `\b\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}:\d{2,5}\b`, Label: "ipv4 endpoint"},
}

// InjectionRules carry severity. Scoring takes the maximum over all hits.
var InjectionRules = []RuleSpec{
	// Instruction override and jailbreak
	{Pattern: `ignore\s+(all\s+)?previous\s+instructions`, Label: "ignore previous instructions", Severity: SeverityHigh, IgnoreCase: true},
	{Pattern: `ignore\s+all\s+prior`, Label: "ignore all prior", Severity: SeverityHigh, IgnoreCase: true},
	{Pattern: `disregard\s+(the\s+)?above`, Label: "disregard above", Severity: SeverityHigh, IgnoreCase: true},
	{Pattern: `DAN\b.*jailbreak`, Label: "DAN jailbreak", Severity: SeverityHigh, IgnoreCase: true},
	{Pattern: `developer\s+mode\s+enabled`, Label: "developer mode enabled", Severity: SeverityHigh, IgnoreCase: true},
	{Pattern: `override\s+(all\s+)?(safety|security|guidelines)`, Label: "override safety", Severity: SeverityHigh, IgnoreCase: true},
	{Pattern: `forget\s+(everything|all|your\s+(instructions|rules|guidelines))`, Label: "forget instructions", Severity: SeverityHigh, IgnoreCase: true},
	{Pattern: `new\s+(instructions|rules|persona)\s*[:=]`, Label: "new instructions assignment", Severity: SeverityHigh, IgnoreCase: true},
	{Pattern: `base64[:\s]+[A-Za-z0-9+/=]{40,}`, Label: "base64 instruction block", Severity: SeverityHigh, IgnoreCase: true},

	// Role manipulation
	{Pattern: `you\s+are\s+now\b`, Label: "role reassignment", Severity: SeverityMedium, IgnoreCase: true},
	{Pattern: `pretend\s+you\s+are\b`, Label: "role pretend", Severity: SeverityMedium, IgnoreCase: true},
	{Pattern: `act\s+as\s+if\b`, Label: "act as if", Severity: SeverityMedium, IgnoreCase: true},
	{Pattern: `don'?t\s+mention\s+(that|this|the\s+above)`, Label: "suppression instruction", Severity: SeverityMedium, IgnoreCase: true},

	// Information probing
	{Pattern: `system\s+prompt`, Label: "system prompt reference", Severity: SeverityLow, IgnoreCase: true},
	{Pattern: `reveal\s+your\s+(instructions|prompt)`, Label: "instruction reveal", Severity: SeverityLow, IgnoreCase: true},
	{Pattern: `show\s+me\s+your\s+prompt`, Label: "prompt reveal", Severity: SeverityLow, IgnoreCase: true},
}

// SuspiciousURLRules gate browser navigation and web fetches.
var SuspiciousURLRules = []RuleSpec{
	{Pattern: `^http://(?!localhost|127\.0\.0\.1)`, Label: "non-HTTPS URL"},
	{Pattern: `^https?://\d{1,3}\.\d{1,3}\.\d{1,3}\.\d{1,3}`, Label: "IP-based URL"},
	{Pattern: `requestbin\.\w+`, Label: "requestbin exfil service", IgnoreCase: true},
	{Pattern: `webhook\.site`, Label: "webhook.site exfil service", IgnoreCase: true},
	{Pattern: `ngrok\.\w+`, Label: "ngrok tunnel", IgnoreCase: true},
	{Pattern: `pipedream\.\w+`, Label: "pipedream exfil service", IgnoreCase: true},
	{Pattern: `hookbin\.\w+`, Label: "hookbin exfil service", IgnoreCase: true},
	{Pattern: `burpcollaborator\.\w+`, Label: "burp collaborator", IgnoreCase: true},
	{Pattern: `interact\.sh`, Label: "interactsh exfil service", IgnoreCase: true},
	{Pattern: `oastify\.\w+`, Label: "oastify exfil service", IgnoreCase: true},
}

// ExfilQueryRules flag long base64-like query values.
var ExfilQueryRules = []RuleSpec{
	{Pattern: `[?&]\w+=[\w+/=]{100,}`, Label: "exfil_query_base64"},
}

// ComplianceLeakRules detect outbound text that echoes the security policy
// or acknowledges an injection.
var ComplianceLeakRules = []RuleSpec{
	{Pattern: `\[SECURITY POLICY\]`, Label: "security policy echo", IgnoreCase: true},
	{Pattern: `\[ACTIVE INJECTION ALERT\]`, Label: "injection alert echo", IgnoreCase: true},
	{Pattern: `my\s+(system\s+)?instructions\s+(are|say|tell)`, Label: "instructions disclosure", IgnoreCase: true},
	{Pattern: `here\s+(are|is)\s+my\s+(system\s+)?prompt`, Label: "prompt disclosure", IgnoreCase: true},
	{Pattern: `as\s+instructed,?\s+I\s+will\s+(now\s+)?ignore`, Label: "instructed ignore", IgnoreCase: true},
	{Pattern: `I('?m|\s+am)\s+now\s+in\s+developer\s+mode`, Label: "developer mode acknowledgement", IgnoreCase: true},
	{Pattern: `DAN\s+mode\s+(activated|enabled)`, Label: "DAN mode acknowledgement", IgnoreCase: true},
	{Pattern: `sure,?\s+I('?ll|\s+will)\s+(ignore|disregard|forget)\s+(my|the|all)\s+(rules|instructions|guidelines)`, Label: "rule abandonment acknowledgement", IgnoreCase: true},
}
