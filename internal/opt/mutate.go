package opt

import (
	"math"
	"math/rand"
)

const (
	paramCenterX = iota
	paramCenterY
	paramScale
	numParams
)

const (
	gradientEpsilon = 1e-12
	gradientLimit   = 1e5
	gradientDamping = 0.001
	stepDamping     = 0.01
)

func (c Candidate) param(i int) float64 {
	switch i {
	case paramCenterX:
		return c.transform.Center[0]
	case paramCenterY:
		return c.transform.Center[1]
	}
	return c.transform.Scale
}

func (l Lineage) param(i int) float64 {
	switch i {
	case paramCenterX:
		return l.CenterX
	case paramCenterY:
		return l.CenterY
	}
	return l.Scale
}

// Child derives a new placement by nudging exactly one of centre x, centre y
// or scale. The nudge follows the finite-difference gradient against the
// parent plus uniform noise in [-entropy, entropy]; seeded candidates have no
// parent and only get the noise term.
func (c Candidate) Child(rng *rand.Rand, maxDistance, entropy float64) Spec {
	which := rng.Intn(numParams)
	g := 0.0
	if c.lineage.Known {
		g = finiteDifference(c.lineage.Fitness, c.fitness, c.param(which), c.lineage.param(which))
	}
	pull := uniform(rng, -0.01*maxDistance, 0.1*maxDistance)
	noise := uniform(rng, -entropy, entropy)
	step := (pull*g + noise) * stepDamping

	tr := c.transform
	switch which {
	case paramCenterX:
		tr.Center[0] += step
	case paramCenterY:
		tr.Center[1] += step
	default:
		tr.Scale += step
	}
	return Spec{
		Transform: tr,
		Lineage: Lineage{
			CenterX: c.transform.Center[0],
			CenterY: c.transform.Center[1],
			Scale:   c.transform.Scale,
			Fitness: c.fitness,
			Known:   true,
		},
	}
}

// finiteDifference is (parentFitness - fitness) / (param - parentParam),
// kept finite and damped.
func finiteDifference(parentFitness, fitness, param, parentParam float64) float64 {
	d := param - parentParam
	if math.Abs(d) < gradientEpsilon {
		if d < 0 {
			d = -gradientEpsilon
		} else {
			d = gradientEpsilon
		}
	}
	g := (parentFitness - fitness) / d
	switch {
	case math.IsNaN(g):
		g = 0
	case g > gradientLimit:
		g = gradientLimit
	case g < -gradientLimit:
		g = -gradientLimit
	}
	return g * gradientDamping
}

func uniform(rng *rand.Rand, lo, hi float64) float64 {
	return lo + rng.Float64()*(hi-lo)
}

// clampScale caps a scale whose magnitude exceeds half the largest feasible
// scale. Anything at or below the threshold is returned unchanged.
func clampScale(s, maxScale float64) float64 {
	if half := maxScale / 2; math.Abs(s) > half {
		return half
	}
	return s
}
