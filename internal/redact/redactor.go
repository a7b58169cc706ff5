// Package redact strips credential material from message bodies before they
// are persisted or relayed. Redaction is idempotent: running the rules over
// already-redacted text changes nothing.
package redact

// Finding records one applied rule for the audit trail. The matched text
// itself is never recorded.
type Finding struct {
	Rule  string
	Count int
}

type Redactor struct {
	rules []Rule
}

func New() *Redactor {
	return &Redactor{rules: builtinRules}
}

// Apply replaces all credential matches in text and reports which rules
// fired.
func (r *Redactor) Apply(text string) (string, []Finding) {
	var findings []Finding
	for _, rule := range r.rules {
		matches := rule.Pattern.FindAllStringIndex(text, -1)
		if len(matches) == 0 {
			continue
		}
		text = rule.Pattern.ReplaceAllString(text, rule.Replacement)
		findings = append(findings, Finding{Rule: rule.Name, Count: len(matches)})
	}
	return text, findings
}
