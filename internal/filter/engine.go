// Package filter implements the expose matching engine.
package filter

import (
	"fmt"
	"regexp"
	"strings"

	"flatnotify/internal/model"
)

// Kind selects how a rule matches.
type Kind string

// Rule kinds.
const (
	Include   Kind = "include"
	Exclude   Kind = "exclude"
	IncludeRe Kind = "include_re"
	ExcludeRe Kind = "exclude_re"
)

// Scope selects the expose text a rule looks at.
type Scope string

// Rule scopes.
const (
	ScopeAll     Scope = "all"
	ScopeTitle   Scope = "title"
	ScopeContent Scope = "content"
)

// Rule is one include or exclude condition.
type Rule struct {
	Kind  Kind
	Scope Scope
	Value string
}

// ParseRule parses "kind:scope:value" or "kind:value". The scope defaults to all.
func ParseRule(s string) (Rule, error) {
	parts := strings.SplitN(strings.TrimSpace(s), ":", 3)
	if len(parts) < 2 {
		return Rule{}, fmt.Errorf("invalid rule %q: want kind:value or kind:scope:value", s)
	}

	r := Rule{Kind: Kind(strings.ToLower(parts[0])), Scope: ScopeAll, Value: parts[1]}
	if len(parts) == 3 {
		switch sc := Scope(strings.ToLower(parts[1])); sc {
		case ScopeAll, ScopeTitle, ScopeContent:
			r.Scope = sc
			r.Value = parts[2]
		default:
			// a colon inside the value, not a scope
			r.Value = parts[1] + ":" + parts[2]
		}
	}

	switch r.Kind {
	case Include, Exclude, IncludeRe, ExcludeRe:
	default:
		return Rule{}, fmt.Errorf("invalid rule %q: unknown kind %q", s, r.Kind)
	}
	if strings.TrimSpace(r.Value) == "" {
		return Rule{}, fmt.Errorf("invalid rule %q: empty value", s)
	}
	return r, nil
}

// ParseRules parses every non-blank entry.
func ParseRules(specs []string) ([]Rule, error) {
	var rules []Rule
	for _, s := range specs {
		if strings.TrimSpace(s) == "" {
			continue
		}
		r, err := ParseRule(s)
		if err != nil {
			return nil, err
		}
		rules = append(rules, r)
	}
	return rules, nil
}

type compiled struct {
	Rule
	re *regexp.Regexp
}

// Filter decides which exposes are worth a notification.
type Filter struct {
	rules []compiled
}

// New compiles rules. Invalid regular expressions are an error.
func New(rules []Rule) (*Filter, error) {
	f := &Filter{}
	for _, r := range rules {
		c := compiled{Rule: r}
		if r.Kind == IncludeRe || r.Kind == ExcludeRe {
			re, err := regexp.Compile("(?i)" + r.Value)
			if err != nil {
				return nil, fmt.Errorf("invalid regex %q: %w", r.Value, err)
			}
			c.re = re
		}
		f.rules = append(f.rules, c)
	}
	return f, nil
}

// Match checks whether an expose passes the rules.
// Without rules every expose passes.
// Include rules use OR logic (at least one must match).
// Exclude rules use AND logic (none must match).
func (f *Filter) Match(e model.Expose) bool {
	if f == nil || len(f.rules) == 0 {
		return true
	}

	hasIncludes := false
	anyIncludeMatched := false

	for _, r := range f.rules {
		switch r.Kind {
		case Include, IncludeRe:
			hasIncludes = true
			if r.matches(e) {
				anyIncludeMatched = true
			}
		case Exclude, ExcludeRe:
			if r.matches(e) {
				return false
			}
		}
	}

	if hasIncludes && !anyIncludeMatched {
		return false
	}
	return true
}

func (r compiled) matches(e model.Expose) bool {
	text := textForScope(e, r.Scope)
	if r.re != nil {
		return r.re.MatchString(text)
	}
	return strings.Contains(text, strings.ToLower(r.Value))
}

func textForScope(e model.Expose, scope Scope) string {
	switch scope {
	case ScopeTitle:
		return strings.ToLower(e.Title)
	case ScopeContent:
		return strings.ToLower(e.Description)
	default:
		return strings.ToLower(e.Title + " " + e.Address + " " + e.Description)
	}
}
