package command

import "regexp"

// safeCommands are allowed in every mode. Read-only inspection tools with no
// side effects worth guarding.
var safeCommands = map[string]struct{}{
	"ls": {}, "cat": {}, "grep": {}, "find": {}, "head": {}, "tail": {},
	"wc": {}, "echo": {}, "pwd": {}, "whoami": {}, "date": {}, "env": {},
	"which": {}, "type": {}, "file": {}, "ps": {}, "df": {}, "du": {},
	"tree": {}, "stat": {}, "diff": {},
}

// restrictedCommands maps a program to its permitted first arguments in
// restricted mode. An empty list permits any arguments.
var restrictedCommands = map[string][]string{
	"git":    {"status", "log", "diff", "show", "branch", "add", "commit", "push", "pull", "checkout"},
	"npm":    {"install", "run", "test", "build"},
	"pip":    {"install", "list", "show"},
	"python": {"test"},
	"node":   {},
	"pytest": {},
	"cargo":  {"build", "test", "run"},
	"go":     {"build", "test", "run", "vet", "fmt"},
	"make":   {},
}

// blockedPatterns are denied in every mode, full included. Matched against
// the raw command string before any parsing.
var blockedPatterns = []*regexp.Regexp{
	regexp.MustCompile(`\brm\s+-rf\s+/`),
	regexp.MustCompile(`\b(?:sudo|su)\b`),
	regexp.MustCompile(`(?:>|>>)\s*/dev/sd`),
	regexp.MustCompile(`\bcurl.*\|\s*(?:bash|sh)`),
	regexp.MustCompile(`\bwget.*-O-.*\|`),
	regexp.MustCompile(`:\(\)\{.*\};:`),
	regexp.MustCompile(`\beval\b`),
	regexp.MustCompile(`\bexec\b.*<`),
	regexp.MustCompile(`\bmkfs\b`),
	regexp.MustCompile(`\bdd\b.*\bof=/dev/`),
	regexp.MustCompile(`\bchmod\s+(?:-R\s+)?777\s+/`),
}
