package opt

import (
	"math"

	"routetrace/internal/fitness"
	"routetrace/internal/shape"
)

// Lineage records the parameters and fitness a candidate was derived from.
// Known is false for seeded candidates.
type Lineage struct {
	CenterX float64 `json:"centerX"`
	CenterY float64 `json:"centerY"`
	Scale   float64 `json:"scale"`
	Fitness float64 `json:"fitness"`
	Known   bool    `json:"known"`
}

// Spec is a placement waiting to be evaluated.
type Spec struct {
	Transform shape.Transform
	Lineage   Lineage
}

// Candidate is one evaluated placement. It is immutable; fitness is computed
// once in NewCandidate.
type Candidate struct {
	transform shape.Transform
	lineage   Lineage
	fitness   float64
	valid     bool
	err       error
}

// NewCandidate places the template, scores it and records the outcome. Any
// evaluation error makes the candidate invalid.
func NewCandidate(ev *fitness.Evaluator, tpl *shape.Template, s Spec) Candidate {
	c := Candidate{transform: s.Transform, lineage: s.Lineage}
	f, err := ev.Evaluate(tpl.Place(s.Transform, nil), s.Transform.Scale)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) {
		c.fitness = fitness.Invalid
		c.err = err
		return c
	}
	c.fitness = f
	c.valid = true
	return c
}

func (c Candidate) Fitness() float64           { return c.fitness }
func (c Candidate) Valid() bool                { return c.valid }
func (c Candidate) Transform() shape.Transform { return c.transform }
func (c Candidate) Lineage() Lineage           { return c.lineage }

// Err is why the candidate is invalid, if known.
func (c Candidate) Err() error { return c.err }

// Invalidated returns a copy marked unusable with the given reason.
func (c Candidate) Invalidated(reason error) Candidate {
	c.fitness = fitness.Invalid
	c.valid = false
	c.err = reason
	return c
}

// better orders candidates ascending by fitness with every invalid one last.
func better(a, b Candidate) bool {
	if a.valid != b.valid {
		return a.valid
	}
	return a.fitness < b.fitness
}
