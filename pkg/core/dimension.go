package core

import "strings"

// Tags and SQL comments that exclude a dimension from validation.
var ignoreMarkers = []string{"spectacles: ignore", "looker-validator: ignore"}

// Dimension is a single field of an explore as reported by the platform.
type Dimension struct {
	Name      string
	Model     string
	Explore   string
	Type      string
	Tags      []string
	SQL       string
	Hidden    bool
	SourceURL string

	// Queried is set once a query including this dimension reached a terminal state.
	Queried bool
	Errors  []SQLError
}

// Ignored reports whether the dimension is opted out of validation, either
// through a tag or through a marker comment in its SQL.
func (d *Dimension) Ignored() bool {
	for _, tag := range d.Tags {
		t := strings.ToLower(strings.TrimSpace(tag))
		for _, marker := range ignoreMarkers {
			if t == marker {
				return true
			}
		}
	}
	sql := strings.ToLower(d.SQL)
	for _, marker := range ignoreMarkers {
		if strings.Contains(sql, "-- "+marker) {
			return true
		}
	}
	return false
}

// Errored reports whether an error was attributed to the dimension.
func (d *Dimension) Errored() bool {
	return len(d.Errors) > 0
}

// AddError attributes a failure to this dimension.
func (d *Dimension) AddError(message, sql string) {
	d.Errors = append(d.Errors, SQLError{
		Model:     d.Model,
		Explore:   d.Explore,
		Dimension: d.Name,
		Message:   message,
		SQL:       sql,
		SourceURL: d.SourceURL,
	})
}
