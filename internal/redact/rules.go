package redact

import "regexp"

// Rule matches one class of credential material. Rules apply in order;
// replacements are chosen so no rule can match another rule's output.
type Rule struct {
	Name        string
	Pattern     *regexp.Regexp
	Replacement string
}

// builtinRules is the fixed detection table. It is compiled once at package
// init and never mutated.
var builtinRules = []Rule{
	{
		Name:        "aws_access_key",
		Pattern:     regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
		Replacement: "[AWS_KEY_REDACTED]",
	},
	{
		Name:        "bearer_token",
		Pattern:     regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9\-._~+/]{16,}=*`),
		Replacement: "[BEARER_TOKEN_REDACTED]",
	},
	{
		Name:        "github_token",
		Pattern:     regexp.MustCompile(`\bghp_[A-Za-z0-9]{36}\b`),
		Replacement: "[GITHUB_TOKEN_REDACTED]",
	},
	{
		Name:        "api_secret_key",
		Pattern:     regexp.MustCompile(`\bsk-[A-Za-z0-9\-_]{20,}\b`),
		Replacement: "[API_KEY_REDACTED]",
	},
	{
		Name:        "password_assignment",
		Pattern:     regexp.MustCompile(`(?i)\b(password|passwd|pwd)\s*[=:]\s*[^\s\[]\S*`),
		Replacement: "$1=[PASSWORD_REDACTED]",
	},
	{
		Name:        "api_key_assignment",
		Pattern:     regexp.MustCompile(`(?i)\b(api[_-]?key|apikey|access[_-]?token|auth[_-]?token)\s*[=:]\s*[^\s\[]\S*`),
		Replacement: "$1=[API_KEY_REDACTED]",
	},
	{
		Name:        "secret_assignment",
		Pattern:     regexp.MustCompile(`(?i)\b(secret|client[_-]?secret)\s*[=:]\s*[^\s\[]\S*`),
		Replacement: "$1=[SECRET_REDACTED]",
	},
	{
		Name:        "private_key_block",
		Pattern:     regexp.MustCompile(`-----BEGIN [A-Z ]*PRIVATE KEY-----[\s\S]*?-----END [A-Z ]*PRIVATE KEY-----`),
		Replacement: "[PRIVATE_KEY_REDACTED]",
	},
}

// Rules returns a copy of the builtin table so callers cannot reorder or
// mutate the live one.
func Rules() []Rule {
	out := make([]Rule, len(builtinRules))
	copy(out, builtinRules)
	return out
}
