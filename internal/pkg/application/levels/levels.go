package levels

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/samber/lo"
)

var ErrInvalidLevel = errors.New("invalid level")

// Policy holds the allowed levels and the level whose entry triggers a push.
// It is built once at startup and never mutated.
type Policy struct {
	allowed map[string]struct{}
	sorted  []string
	top     string
}

func NewPolicy(allowed []string, top string) Policy {
	m := map[string]struct{}{}
	for _, l := range allowed {
		l = Normalize(l)
		if l != "" {
			m[l] = struct{}{}
		}
	}

	sorted := lo.Keys(m)
	sort.Strings(sorted)

	return Policy{
		allowed: m,
		sorted:  sorted,
		top:     Normalize(top),
	}
}

// Parse splits a comma separated list such as "low,middle,high".
func Parse(csv string) []string {
	parts := lo.Map(strings.Split(csv, ","), func(s string, _ int) string {
		return Normalize(s)
	})
	return lo.Uniq(lo.Compact(parts))
}

func Normalize(raw string) string {
	return strings.ToLower(strings.TrimSpace(raw))
}

func (p Policy) Validate(level string) error {
	if level == "" {
		return fmt.Errorf("%w: level must be one of %v", ErrInvalidLevel, p.sorted)
	}
	if _, ok := p.allowed[level]; !ok {
		return fmt.Errorf("%w: level must be one of %v", ErrInvalidLevel, p.sorted)
	}
	return nil
}

func (p Policy) Allowed() []string {
	return append([]string{}, p.sorted...)
}

func (p Policy) Top() string {
	return p.top
}

// TopIsAllowed reports false for a configuration where notifications can never fire.
func (p Policy) TopIsAllowed() bool {
	_, ok := p.allowed[p.top]
	return ok
}
