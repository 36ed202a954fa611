// Package sweep models a benchmark sweep as the ordered cartesian product
// of named parameter axes.
package sweep

import (
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
)

// Axis is one independently varied parameter. Field names the client
// config key the axis rewrites before each run.
type Axis struct {
	Name   string
	Field  string
	Values []string
}

// Assignment is the value chosen for one axis at one run point.
type Assignment struct {
	Axis  string
	Field string
	Value string
}

// Point is one run of the sweep: a value for every axis, in axis order.
type Point struct {
	Index       int
	Assignments []Assignment
}

// Value returns the value assigned to the named axis.
func (p Point) Value(axis string) (string, bool) {
	for _, a := range p.Assignments {
		if a.Axis == axis {
			return a.Value, true
		}
	}

	return "", false
}

// ForField returns the value of the axis that targets field, if any.
func (p Point) ForField(field string) (string, bool) {
	for _, a := range p.Assignments {
		if a.Field == field {
			return a.Value, true
		}
	}

	return "", false
}

func (p Point) String() string {
	parts := make([]string, len(p.Assignments))
	for i, a := range p.Assignments {
		parts[i] = a.Axis + "=" + a.Value
	}

	return strings.Join(parts, " ")
}

// Plan is an ordered list of axes. The first axis varies slowest.
type Plan struct {
	Axes []Axis
}

// Validate checks that the plan can produce at least one point.
func (p Plan) Validate() error {
	if len(p.Axes) == 0 {
		return errors.New("sweep plan has no axes")
	}

	seen := make(map[string]bool, len(p.Axes))

	for _, ax := range p.Axes {
		if ax.Name == "" {
			return errors.New("sweep axis has no name")
		}
		if seen[ax.Name] {
			return fmt.Errorf("duplicate sweep axis %q", ax.Name)
		}
		if ax.Field == "" {
			return fmt.Errorf("sweep axis %q targets no field", ax.Name)
		}
		if len(ax.Values) == 0 {
			return fmt.Errorf("sweep axis %q has no values", ax.Name)
		}

		seen[ax.Name] = true
	}

	return nil
}

// Len returns the number of points, the product of axis cardinalities.
func (p Plan) Len() int {
	if len(p.Axes) == 0 {
		return 0
	}

	total := 1
	for _, ax := range p.Axes {
		total *= len(ax.Values)
	}

	return total
}

// Points returns the points lazily in declaration order. Each call starts
// a fresh iteration.
func (p Plan) Points() iter.Seq[Point] {
	return func(yield func(Point) bool) {
		total := p.Len()
		for i := 0; i < total; i++ {
			if !yield(p.point(i)) {
				return
			}
		}
	}
}

// point decodes index i like an odometer: the last axis turns fastest.
func (p Plan) point(i int) Point {
	assignments := make([]Assignment, len(p.Axes))
	repeat := 1

	for dim := len(p.Axes) - 1; dim >= 0; dim-- {
		ax := p.Axes[dim]
		cycle := len(ax.Values)
		assignments[dim] = Assignment{
			Axis:  ax.Name,
			Field: ax.Field,
			Value: ax.Values[(i/repeat)%cycle],
		}
		repeat *= cycle
	}

	return Point{Index: i, Assignments: assignments}
}

// Axis returns the named axis.
func (p Plan) Axis(name string) (Axis, bool) {
	for _, ax := range p.Axes {
		if ax.Name == name {
			return ax, true
		}
	}

	return Axis{}, false
}

// WithValues returns a copy of the plan with the named axis' values
// replaced. The receiver is not modified.
func (p Plan) WithValues(axis string, values []string) (Plan, error) {
	if len(values) == 0 {
		return p, fmt.Errorf("sweep axis %q: empty value list", axis)
	}

	axes := make([]Axis, len(p.Axes))
	found := false

	for i, ax := range p.Axes {
		axes[i] = Axis{Name: ax.Name, Field: ax.Field, Values: ax.Values}
		if ax.Name == axis {
			axes[i].Values = append([]string(nil), values...)
			found = true
		}
	}

	if !found {
		return p, fmt.Errorf("unknown sweep axis %q", axis)
	}

	return Plan{Axes: axes}, nil
}

// Range returns the integers start, start+step, ... up to and including
// end, formatted as decimal literals.
func Range(start, end, step int) []string {
	if step <= 0 || end < start {
		return nil
	}

	values := make([]string, 0, (end-start)/step+1)
	for v := start; v <= end; v += step {
		values = append(values, strconv.Itoa(v))
	}

	return values
}
