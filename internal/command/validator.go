// Package command decides whether a command line may run under a given
// execution mode. The builtin tables are immutable; configuration can only
// append blocked patterns, never relax anything.
package command

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/google/shlex"

	kkErrors "github.com/harunnryd/kakehashi/internal/errors"
	"github.com/harunnryd/kakehashi/internal/store"
)

// Verdict is the validator's decision. Reason is set on both outcomes so the
// audit trail explains allows as well as blocks.
type Verdict struct {
	Allowed bool
	Reason  string
	Program string
}

type Validator struct {
	extraBlocked []*regexp.Regexp
}

// New compiles operator-supplied extra blocked patterns. A pattern that does
// not compile is a configuration error, surfaced at startup rather than
// skipped.
func New(extraBlocked []string) (*Validator, error) {
	v := &Validator{}
	for _, raw := range extraBlocked {
		re, err := regexp.Compile(raw)
		if err != nil {
			return nil, fmt.Errorf("compile blocked pattern %q: %w", raw, err)
		}
		v.extraBlocked = append(v.extraBlocked, re)
	}
	return v, nil
}

// Validate checks one command line against the mode's rules. Any error wraps
// ErrValidationBlocked; unparseable input fails closed.
func (v *Validator) Validate(commandLine string, mode store.ExecMode) (*Verdict, error) {
	for _, re := range blockedPatterns {
		if re.MatchString(commandLine) {
			return v.block(fmt.Sprintf("matches blocked pattern %s", re.String()))
		}
	}
	for _, re := range v.extraBlocked {
		if re.MatchString(commandLine) {
			return v.block(fmt.Sprintf("matches operator blocked pattern %s", re.String()))
		}
	}

	// Safe and restricted run through the shell, so chaining or redirection
	// anywhere in the line would smuggle a second command past the leading
	// token check. Scanned on the raw line, before quoting is resolved:
	// an operator inside quotes is denied too, fail closed.
	if mode == store.ModeSafe || mode == store.ModeRestricted {
		if op := findShellOperator(commandLine); op != "" {
			return v.block(fmt.Sprintf("shell operator %q is not allowed in %s mode", op, mode))
		}
	}

	parts, err := shlex.Split(commandLine)
	if err != nil {
		return v.block(fmt.Sprintf("unparseable command: %v", err))
	}
	if len(parts) == 0 {
		return v.block("empty command")
	}
	program := parts[0]

	switch mode {
	case store.ModeSafe:
		if _, ok := safeCommands[program]; ok {
			return v.allow(program, "safe command")
		}
		return v.block(fmt.Sprintf("%q is not in the safe list", program))

	case store.ModeRestricted:
		if _, ok := safeCommands[program]; ok {
			return v.allow(program, "safe command")
		}
		subs, ok := restrictedCommands[program]
		if !ok {
			return v.block(fmt.Sprintf("%q is not in the safe or restricted lists", program))
		}
		if len(subs) == 0 {
			return v.allow(program, "restricted command, any arguments")
		}
		if len(parts) > 1 {
			for _, sub := range subs {
				if parts[1] == sub {
					return v.allow(program, fmt.Sprintf("restricted subcommand %s %s", program, sub))
				}
			}
		}
		return v.block(fmt.Sprintf("%q subcommand not allowed, permitted: %s", program, strings.Join(subs, ", ")))

	case store.ModeFull:
		// Blocked patterns already held above; everything else passes.
		return v.allow(program, "full mode")

	default:
		return v.block(fmt.Sprintf("unknown execution mode %q", mode))
	}
}

// shellOperators are the chaining, redirection and substitution tokens that
// turn one command line into more than one command.
var shellOperators = []string{";", "&", "|", ">", "<", "`", "$("}

func findShellOperator(commandLine string) string {
	for _, op := range shellOperators {
		if strings.Contains(commandLine, op) {
			return op
		}
	}
	return ""
}

func (v *Validator) allow(program, reason string) (*Verdict, error) {
	return &Verdict{Allowed: true, Reason: reason, Program: program}, nil
}

func (v *Validator) block(reason string) (*Verdict, error) {
	return &Verdict{Allowed: false, Reason: reason},
		fmt.Errorf("%s: %w", reason, kkErrors.ErrValidationBlocked)
}
