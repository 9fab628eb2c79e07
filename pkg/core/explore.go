package core

// SkipReason explains why an explore was not tested.
type SkipReason string

// Skip reason constants.
const (
	SkipNoDimensions SkipReason = "no_dimensions"
	SkipUnmodified   SkipReason = "unmodified"
	SkipExcluded     SkipReason = "excluded"
	SkipAborted      SkipReason = "aborted"
)

// Success records one completed query of an explore.
type Success struct {
	Model      string   `json:"model"`
	Explore    string   `json:"explore"`
	Dimensions []string `json:"dimensions"`
	Runtime    float64  `json:"runtime"`
}

// Explore is a queryable join of views within a model. It owns its dimensions
// and accumulates the outcome of every query run against it.
type Explore struct {
	Name       string
	Model      string
	Dimensions []*Dimension

	Errors    []SQLError
	Successes []Success
	Skipped   SkipReason

	queried bool
}

// NewExplore creates an explore with the given dimensions.
func NewExplore(model, name string, dims ...*Dimension) *Explore {
	return &Explore{Name: name, Model: model, Dimensions: dims}
}

// ID returns the display identity "model.explore".
func (e *Explore) ID() string {
	return e.Model + "." + e.Name
}

// MarkQueried flags the explore itself as queried.
func (e *Explore) MarkQueried() {
	e.queried = true
}

// Queried is true once the explore or any of its dimensions was queried.
func (e *Explore) Queried() bool {
	if e.queried {
		return true
	}
	for _, d := range e.Dimensions {
		if d.Queried {
			return true
		}
	}
	return false
}

// FullyQueried is true when every dimension reached a terminal state.
func (e *Explore) FullyQueried() bool {
	if len(e.Dimensions) == 0 {
		return e.queried
	}
	for _, d := range e.Dimensions {
		if !d.Queried {
			return false
		}
	}
	return true
}

// Errored reports explore-level errors or errors on any dimension.
func (e *Explore) Errored() bool {
	if len(e.Errors) > 0 {
		return true
	}
	for _, d := range e.Dimensions {
		if d.Errored() {
			return true
		}
	}
	return false
}

// AddError attaches an explore-level error.
func (e *Explore) AddError(message, sql, sourceURL string) {
	e.Errors = append(e.Errors, SQLError{
		Model:     e.Model,
		Explore:   e.Name,
		Message:   message,
		SQL:       sql,
		SourceURL: sourceURL,
	})
}

// AllErrors returns explore-level errors followed by dimension errors in
// dimension order.
func (e *Explore) AllErrors() []SQLError {
	all := make([]SQLError, 0, len(e.Errors))
	all = append(all, e.Errors...)
	for _, d := range e.Dimensions {
		all = append(all, d.Errors...)
	}
	return all
}

// Dimension looks up a dimension by name.
func (e *Explore) Dimension(name string) (*Dimension, bool) {
	for _, d := range e.Dimensions {
		if d.Name == name {
			return d, true
		}
	}
	return nil, false
}

// DimensionSQL maps dimension name to SQL text.
func (e *Explore) DimensionSQL() map[string]string {
	m := make(map[string]string, len(e.Dimensions))
	for _, d := range e.Dimensions {
		m[d.Name] = d.SQL
	}
	return m
}
