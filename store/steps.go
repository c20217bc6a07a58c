package store

import (
	"fmt"
	"strings"
	"time"
)

// Steps composes optional filter clauses into a WHERE fragment, tracking
// whether a WHERE has been emitted (to choose WHERE vs AND) and the
// positional placeholder ordinal of the active engine. A zero filter
// contributes nothing.
type Steps struct {
	engine  Engine
	clauses []string
	values  []any
}

// NewSteps returns a Steps builder for the given engine.
func NewSteps(engine Engine) *Steps {
	return &Steps{engine: engine}
}

func (s *Steps) placeholder() string {
	if s.engine == Networked {
		return fmt.Sprintf("$%d", len(s.values))
	}
	return "?"
}

// Equals appends `column = value` when value is non-nil and non-empty.
// A literal 0 or false still filters, matching sqlite's falsy completed flag.
func (s *Steps) Equals(column string, value any) *Steps {
	switch v := value.(type) {
	case nil:
		return s
	case string:
		if v == "" {
			return s
		}
	}
	s.values = append(s.values, value)
	s.clauses = append(s.clauses, fmt.Sprintf("%s = %s", column, s.placeholder()))
	return s
}

// Like appends a substring match on column when value is non-empty.
func (s *Steps) Like(column, value string) *Steps {
	if value == "" {
		return s
	}
	s.values = append(s.values, "%"+value+"%")
	s.clauses = append(s.clauses, fmt.Sprintf("%s LIKE %s", column, s.placeholder()))
	return s
}

// Timeline clamps column to a coarse recency window: today is the last
// 24 hours, week the last 7 days, month the last 31 days. Unknown values
// are ignored.
func (s *Steps) Timeline(column, timeline string) *Steps {
	var since time.Time
	switch strings.ToLower(timeline) {
	case "today":
		since = time.Now().Add(-24 * time.Hour)
	case "week":
		since = time.Now().AddDate(0, 0, -7)
	case "month":
		since = time.Now().AddDate(0, 0, -31)
	default:
		return s
	}
	s.values = append(s.values, since.UTC().Format(time.RFC3339Nano))
	s.clauses = append(s.clauses, fmt.Sprintf("%s > %s", column, s.placeholder()))
	return s
}

// Clause renders the accumulated filters, beginning with WHERE, or ""
// when no filter applied.
func (s *Steps) Clause() string {
	if len(s.clauses) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(s.clauses, " AND ")
}

// Values returns the parameter values in clause order.
func (s *Steps) Values() []any { return s.values }

// Placeholders renders a comma-separated placeholder list for count
// parameters starting at ordinal from (1-based), in the engine's form.
func (s *Store) Placeholders(from, count int) string {
	var parts = make([]string, count)
	for i := range parts {
		parts[i] = s.Placeholder(from + i)
	}
	return strings.Join(parts, ", ")
}
