// Package filter evaluates message text against deny and flag patterns.
//
// An Engine holds an immutable compiled rule set behind an atomic pointer.
// Reload builds a complete new set and swaps it in, so concurrent Check calls
// see either the old set or the new one, never a mix.
package filter

import (
	"fmt"
	"log/slog"
	"regexp"
	"slices"
	"strings"
	"sync/atomic"

	"github.com/sipico/comms-gateway/internal/metrics"
	"github.com/sipico/comms-gateway/internal/storage"
)

// Verdict is the outcome of a check.
type Verdict int

const (
	Passed Verdict = iota
	Denied
	Flagged
)

func (v Verdict) String() string {
	switch v {
	case Passed:
		return "passed"
	case Denied:
		return "denied"
	case Flagged:
		return "flagged"
	default:
		return "unknown"
	}
}

// Result names the filter that matched, if any.
type Result struct {
	Verdict     Verdict
	Name        string
	Description string
}

type rule struct {
	action      storage.FilterAction
	name        string
	description string
	re          *regexp.Regexp // nil for literals
	literal     string         // lowercased
}

func (r *rule) match(text, lower string) bool {
	if r.re != nil {
		return r.re.MatchString(text)
	}
	return strings.Contains(lower, r.literal)
}

// Engine is safe for concurrent use.
type Engine struct {
	rules  atomic.Pointer[[]*rule]
	logger *slog.Logger
}

// NewEngine creates an engine with no filters; every check passes until
// Reload is called.
// If logger is nil, slog.Default() will be used.
func NewEngine(logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	e := &Engine{logger: logger}
	e.rules.Store(&[]*rule{})
	return e
}

// Reload compiles the enabled filters and atomically replaces the active
// set. Regexes are compiled case-insensitively and literals are lowercased.
// Deny filters are ordered before flag filters; order is otherwise kept.
// Invalid filters are skipped with a warning. Returns the number of active filters.
func (e *Engine) Reload(filters []*storage.ContentFilter) int {
	compiled := make([]*rule, 0, len(filters))
	for _, f := range filters {
		if !f.Enabled {
			continue
		}
		r, err := compile(f)
		if err != nil {
			e.logger.Warn("skipping invalid content filter", "filter_id", f.ID, "error", err)
			continue
		}
		compiled = append(compiled, r)
	}

	slices.SortStableFunc(compiled, func(a, b *rule) int {
		return actionRank(a.action) - actionRank(b.action)
	})

	e.rules.Store(&compiled)
	metrics.SetContentFiltersActive(len(compiled))
	e.logger.Info("content filters loaded", "active", len(compiled), "skipped", countEnabled(filters)-len(compiled))
	return len(compiled)
}

// Len returns the number of active filters.
func (e *Engine) Len() int {
	return len(*e.rules.Load())
}

// Check evaluates text against the active filters; the first match wins.
func (e *Engine) Check(text string) Result {
	rules := *e.rules.Load()
	lower := strings.ToLower(text)
	for _, r := range rules {
		if !r.match(text, lower) {
			continue
		}
		verdict := Flagged
		if r.action == storage.ActionDeny {
			verdict = Denied
		}
		return Result{Verdict: verdict, Name: r.name, Description: r.description}
	}
	return Result{Verdict: Passed}
}

// CheckEmail checks the subject, then the body, stopping at the first
// result that is not Passed.
func (e *Engine) CheckEmail(subject *string, body string) Result {
	if subject != nil {
		if res := e.Check(*subject); res.Verdict != Passed {
			return res
		}
	}
	return e.Check(body)
}

// Validate reports whether f would compile into an active rule.
func Validate(f *storage.ContentFilter) error {
	_, err := compile(f)
	return err
}

func compile(f *storage.ContentFilter) (*rule, error) {
	if !f.Action.Valid() {
		return nil, fmt.Errorf("unknown action %q", f.Action)
	}

	r := &rule{
		action:      f.Action,
		name:        f.Description,
		description: f.Description,
	}
	if r.name == "" {
		r.name = fmt.Sprintf("filter %d", f.ID)
	}
	if r.description == "" {
		r.description = fmt.Sprintf("Filter %d", f.ID)
	}

	switch f.PatternType {
	case storage.PatternRegex:
		re, err := regexp.Compile("(?i)" + f.Pattern)
		if err != nil {
			return nil, fmt.Errorf("invalid regex %q: %w", f.Pattern, err)
		}
		r.re = re
	case storage.PatternLiteral:
		if f.Pattern == "" {
			return nil, fmt.Errorf("empty literal pattern")
		}
		r.literal = strings.ToLower(f.Pattern)
	default:
		return nil, fmt.Errorf("unknown pattern type %q", f.PatternType)
	}
	return r, nil
}

func actionRank(a storage.FilterAction) int {
	if a == storage.ActionDeny {
		return 0
	}
	return 1
}

func countEnabled(filters []*storage.ContentFilter) int {
	n := 0
	for _, f := range filters {
		if f.Enabled {
			n++
		}
	}
	return n
}
