package secrets

import "regexp"

type rule struct {
	id          string
	description string
	pattern     *regexp.Regexp
}

// builtinRules cover the credentials most often copied around by hand. They
// run even when the gitleaks rule set is disabled.
var builtinRules = []rule{
	{"private-key", "PEM private key block", regexp.MustCompile(`(?s)-----BEGIN (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?: BLOCK)?-----.*?-----END (?:RSA |DSA |EC |OPENSSH |PGP )?PRIVATE KEY(?: BLOCK)?-----`)},
	{"anthropic-api-key", "Anthropic API key", regexp.MustCompile(`sk-ant-[A-Za-z0-9_\-]{20,}`)},
	{"openai-api-key", "OpenAI API key", regexp.MustCompile(`sk-(?:proj-)?[A-Za-z0-9_\-]{20,}`)},
	{"aws-access-key-id", "AWS access key id", regexp.MustCompile(`\b(?:A3T[A-Z0-9]|AKIA|AGPA|AIDA|AROA|AIPA|ANPA|ANVA|ASIA)[A-Z0-9]{16}\b`)},
	{"github-token", "GitHub token", regexp.MustCompile(`\b(?:ghp|gho|ghu|ghs|ghr)_[A-Za-z0-9]{36}\b|\bgithub_pat_[A-Za-z0-9_]{22,}`)},
	{"gitlab-token", "GitLab personal access token", regexp.MustCompile(`\bglpat-[A-Za-z0-9\-]{20,}`)},
	{"slack-token", "Slack token", regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9\-]{10,}`)},
	{"stripe-key", "Stripe key", regexp.MustCompile(`\b(?:sk|rk)_(?:live|test)_[A-Za-z0-9]{24,}`)},
	{"google-api-key", "Google API key", regexp.MustCompile(`\bAIza[A-Za-z0-9_\-]{35}`)},
	{"jwt", "JSON web token", regexp.MustCompile(`\beyJ[A-Za-z0-9_-]{8,}\.eyJ[A-Za-z0-9_-]{8,}\.[A-Za-z0-9_-]{8,}`)},
	{"bearer-token", "Bearer token", regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9_\-\.=]{20,}`)},
	{"database-url", "Connection string with credentials", regexp.MustCompile(`(?i)\b(?:postgres(?:ql)?|mysql|mongodb(?:\+srv)?|redis|amqp)://[^:\s/]+:[^@\s]+@\S+`)},
	{"generic-api-key", "Assigned API key", regexp.MustCompile(`(?i)\b(?:api[_-]?key|apikey|access[_-]?token|auth[_-]?token)\s*[:=]\s*["']?[A-Za-z0-9_\-\.]{12,}["']?`)},
	{"generic-password", "Assigned password", regexp.MustCompile(`(?i)\b(?:password|passwd|pwd|secret)\s*[:=]\s*["']?[^\s"']{6,}["']?`)},
	{"payment-card", "Payment card number", regexp.MustCompile(`\b\d{4}[ -]?\d{4}[ -]?\d{4}[ -]?\d{4}\b`)},
}
