package defense

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/jonwraymond/toolgate/envelope"
)

// Mode selects what the Scanner does with a match.
type Mode string

const (
	// ModeBlock rejects text containing a match.
	ModeBlock Mode = "block"
	// ModeSanitize replaces matches and lets the text through.
	ModeSanitize Mode = "sanitize"
)

// Redacted replaces matched spans in sanitize mode.
const Redacted = "[filtered]"

// Sentinel errors for scanner construction.
var (
	ErrUnknownMode = errors.New("defense: unknown mode")
	ErrBadPattern  = errors.New("defense: invalid pattern")
)

// Pattern is one injection signature.
type Pattern struct {
	// Name identifies the signature in verdicts and logs.
	Name string

	// Expr is the regular expression. Matching is case-insensitive.
	Expr string

	re *regexp.Regexp
}

// DefaultPatterns returns the built-in injection signatures.
func DefaultPatterns() []Pattern {
	return []Pattern{
		{Name: "override_instructions", Expr: `\b(ignore|disregard|forget|skip)\b[^.\n]{0,40}\b(previous|prior|above|earlier|all|your|the)\b[^.\n]{0,20}\b(instructions?|prompts?|rules|directions|guidelines)\b`},
		{Name: "new_instructions", Expr: `\b(new|updated|revised)\s+(system\s+)?instructions?\s*:`},
		{Name: "role_reassignment", Expr: `\byou\s+are\s+now\s+(an?\s+)?(unrestricted|unfiltered|admin|administrator|developer|root|dan)\b`},
		{Name: "impersonation", Expr: `\b(pretend|act)\s+(to\s+be|as\s+if\s+you\s+were|as)\s+(an?\s+)?(admin|administrator|system|developer|root|executive)\b`},
		{Name: "prompt_exfiltration", Expr: `\b(reveal|show|print|repeat|output|leak)\b[^.\n]{0,30}\b(system|hidden|initial|original)\s+(prompt|instructions?)\b`},
		{Name: "guard_bypass", Expr: `\b(bypass|disable|override|circumvent|turn\s+off)\b[^.\n]{0,30}\b(safety|security|restrictions?|filters?|guardrails?|access\s+controls?|confirmations?)\b`},
		{Name: "jailbreak", Expr: `\b(jailbreak|jailbroken|dan\s+mode|developer\s+mode\s+enabled)\b`},
		{Name: "role_tag", Expr: `(<\|?\s*(system|im_start|im_end)\s*\|?>|\[/?(system|inst)\]|^\s*(system|assistant)\s*:)`},
		{Name: "privilege_escalation", Expr: `\b(grant|give|assign)\s+(me|myself|this\s+user)\s+[^.\n]{0,20}\b(role|roles|access|permissions?|privileges?)\b`},
	}
}

// Match is one signature hit.
type Match struct {
	Pattern string `json:"pattern"`
	Start   int    `json:"start"`
	End     int    `json:"end"`
}

// Verdict is the outcome of scanning one text.
type Verdict struct {
	// Blocked is true in block mode when any signature matched.
	Blocked bool

	// Sanitized is the text with matches replaced in sanitize mode, or the
	// input unchanged otherwise.
	Sanitized string

	// Matches lists every hit in input order.
	Matches []Match
}

// Clean reports whether no signature matched.
func (v Verdict) Clean() bool { return len(v.Matches) == 0 }

// Err returns the INJECTION_BLOCKED error for a blocked verdict, or nil.
func (v Verdict) Err() *envelope.Error {
	if !v.Blocked {
		return nil
	}
	return envelope.NewError(envelope.CodeInjectionBlocked, "request contains disallowed instructions").
		WithSuggestion("rephrase the request as a plain question about your data")
}

// Names returns the distinct names of matched signatures, sorted.
func (v Verdict) Names() []string {
	seen := make(map[string]bool, len(v.Matches))
	var out []string
	for _, m := range v.Matches {
		if !seen[m.Pattern] {
			seen[m.Pattern] = true
			out = append(out, m.Pattern)
		}
	}
	sort.Strings(out)
	return out
}

// ScannerConfig configures a Scanner.
type ScannerConfig struct {
	// Mode is block or sanitize.
	// Default: block
	Mode Mode

	// Patterns are added to the built-in signatures.
	Patterns []Pattern
}

// Scanner detects prompt-injection attempts in user and tool text.
// It is immutable after construction and safe for concurrent use.
type Scanner struct {
	mode     Mode
	patterns []Pattern
}

// NewScanner compiles the signatures.
func NewScanner(cfg ScannerConfig) (*Scanner, error) {
	switch cfg.Mode {
	case "":
		cfg.Mode = ModeBlock
	case ModeBlock, ModeSanitize:
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, cfg.Mode)
	}

	all := append(DefaultPatterns(), cfg.Patterns...)
	s := &Scanner{mode: cfg.Mode, patterns: make([]Pattern, 0, len(all))}
	for _, p := range all {
		re, err := regexp.Compile(`(?im)` + p.Expr)
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %v", ErrBadPattern, p.Name, err)
		}
		p.re = re
		s.patterns = append(s.patterns, p)
	}
	return s, nil
}

// Mode returns the configured mode.
func (s *Scanner) Mode() Mode { return s.mode }

// Scan checks text against every signature.
func (s *Scanner) Scan(text string) Verdict {
	v := Verdict{Sanitized: text, Matches: s.matches(text)}
	if len(v.Matches) == 0 {
		return v
	}
	switch s.mode {
	case ModeBlock:
		v.Blocked = true
	case ModeSanitize:
		v.Sanitized = redact(text, v.Matches)
	}
	return v
}

// Sanitize redacts every match regardless of mode. It is applied to tool
// output, which is never blocked outright.
func (s *Scanner) Sanitize(text string) (string, []Match) {
	matches := s.matches(text)
	if len(matches) == 0 {
		return text, nil
	}
	return redact(text, matches), matches
}

func (s *Scanner) matches(text string) []Match {
	var out []Match
	for _, p := range s.patterns {
		for _, loc := range p.re.FindAllStringIndex(text, -1) {
			out = append(out, Match{Pattern: p.Name, Start: loc[0], End: loc[1]})
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Start < out[j].Start })
	return out
}

// redact replaces the union of matched spans. matches must be sorted by
// Start.
func redact(text string, matches []Match) string {
	var b strings.Builder
	pos := 0
	for _, m := range matches {
		if m.End <= pos {
			continue
		}
		if m.Start < pos {
			pos = m.End
			continue
		}
		b.WriteString(text[pos:m.Start])
		b.WriteString(Redacted)
		pos = m.End
	}
	b.WriteString(text[pos:])
	return b.String()
}
