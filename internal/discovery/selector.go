package discovery

import (
	"fmt"
	"path"
	"strings"
)

// Selector matches explores by "model/explore" pattern. Either segment may
// use glob syntax; a bare "model" selects every explore of the model.
type Selector struct {
	Model   string
	Explore string
	Exclude bool
}

// ParseSelector parses "model/explore", "model" or "-model/explore".
func ParseSelector(raw string) (Selector, error) {
	s := strings.TrimSpace(raw)
	var sel Selector
	if strings.HasPrefix(s, "-") {
		sel.Exclude = true
		s = strings.TrimSpace(s[1:])
	}
	if s == "" {
		return Selector{}, fmt.Errorf("empty explore selector %q", raw)
	}

	parts := strings.Split(s, "/")
	switch len(parts) {
	case 1:
		sel.Model, sel.Explore = parts[0], "*"
	case 2:
		sel.Model, sel.Explore = parts[0], parts[1]
	default:
		return Selector{}, fmt.Errorf("invalid explore selector %q: expected model/explore", raw)
	}
	if sel.Model == "" || sel.Explore == "" {
		return Selector{}, fmt.Errorf("invalid explore selector %q: empty segment", raw)
	}
	for _, pattern := range []string{sel.Model, sel.Explore} {
		if _, err := path.Match(pattern, ""); err != nil {
			return Selector{}, fmt.Errorf("invalid explore selector %q: %w", raw, err)
		}
	}
	return sel, nil
}

// Matches reports whether the selector's patterns match model and explore,
// regardless of Exclude.
func (s Selector) Matches(model, explore string) bool {
	return segmentMatch(s.Model, model) && segmentMatch(s.Explore, explore)
}

func (s Selector) String() string {
	prefix := ""
	if s.Exclude {
		prefix = "-"
	}
	return prefix + s.Model + "/" + s.Explore
}

func segmentMatch(pattern, value string) bool {
	if pattern == "*" {
		return true
	}
	ok, _ := path.Match(pattern, value)
	return ok
}

// Selection is a parsed set of include and exclude selectors.
type Selection struct {
	includes []Selector
	excludes []Selector
}

// ParseSelection parses selectors. Each entry may hold several selectors
// separated by commas or whitespace.
func ParseSelection(raw []string) (*Selection, error) {
	sel := &Selection{}
	for _, entry := range raw {
		for _, field := range strings.FieldsFunc(entry, func(r rune) bool { return r == ',' || r == ' ' }) {
			s, err := ParseSelector(field)
			if err != nil {
				return nil, err
			}
			if s.Exclude {
				sel.excludes = append(sel.excludes, s)
			} else {
				sel.includes = append(sel.includes, s)
			}
		}
	}
	return sel, nil
}

// Excluded reports whether an exclude selector matches.
func (s *Selection) Excluded(model, explore string) bool {
	for _, ex := range s.excludes {
		if ex.Matches(model, explore) {
			return true
		}
	}
	return false
}

// Selected applies excludes first; with no includes every explore not
// excluded is selected.
func (s *Selection) Selected(model, explore string) bool {
	if s.Excluded(model, explore) {
		return false
	}
	if len(s.includes) == 0 {
		return true
	}
	for _, in := range s.includes {
		if in.Matches(model, explore) {
			return true
		}
	}
	return false
}
