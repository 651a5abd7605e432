// Package optim provides the gradient transformer and
// learning rate schedule used for training.
package optim

import (
	"math"

	"github.com/unixpickle/anydiff"
	"github.com/unixpickle/anyvec"
)

const (
	adamDefaultDecayRate1 = 0.9
	adamDefaultDecayRate2 = 0.999
	adamDefaultDamping    = 1e-8
)

// AdamW is Adam with decoupled weight decay, as described
// in https://arxiv.org/abs/1711.05101.
//
// Transform returns the Adam step plus WeightDecay times
// the current value of each variable.
// When the caller scales the result by the negative
// learning rate and adds it to the variables, the decay
// is applied independently of the gradient moments.
type AdamW struct {
	// These are decay rates for the first and second
	// moments of the gradient.
	// If these are 0, the defaults from the Adam paper are
	// used.
	DecayRate1, DecayRate2 float64

	// Damping is used to prevent divisions by zero.
	// If it is 0, a default is used.
	Damping float64

	WeightDecay float64

	firstMoment  anydiff.Grad
	secondMoment anydiff.Grad
	iteration    float64
}

// Transform computes the update direction for a gradient.
// It overwrites and returns g.
func (a *AdamW) Transform(g anydiff.Grad) anydiff.Grad {
	a.updateMoments(g)

	a.iteration++
	scale := math.Sqrt(1-math.Pow(a.decayRate(2), a.iteration)) /
		(1 - math.Pow(a.decayRate(1), a.iteration))
	damping := a.damping()
	for variable, vec := range g {
		c := vec.Creator()
		vec.Set(a.firstMoment[variable])
		vec.Scale(c.MakeNumeric(scale))

		divisor := a.secondMoment[variable].Copy()
		anyvec.Pow(divisor, c.MakeNumeric(0.5))
		divisor.AddScalar(c.MakeNumeric(damping))
		vec.Div(divisor)

		if a.WeightDecay != 0 {
			decay := variable.Vector.Copy()
			decay.Scale(c.MakeNumeric(a.WeightDecay))
			vec.Add(decay)
		}
	}
	return g
}

// Steps returns the number of times Transform has been
// called.
func (a *AdamW) Steps() int {
	return int(a.iteration)
}

func (a *AdamW) updateMoments(g anydiff.Grad) {
	if a.firstMoment == nil {
		a.firstMoment = anydiff.Grad{}
		a.secondMoment = anydiff.Grad{}
		for variable, vec := range g {
			c := vec.Creator()
			a.firstMoment[variable] = c.MakeVector(vec.Len())
			a.secondMoment[variable] = c.MakeVector(vec.Len())
		}
	}
	rate1, rate2 := a.decayRate(1), a.decayRate(2)
	for variable, vec := range g {
		c := vec.Creator()

		first := a.firstMoment[variable]
		first.Scale(c.MakeNumeric(rate1))
		v := vec.Copy()
		v.Scale(c.MakeNumeric(1 - rate1))
		first.Add(v)

		second := a.secondMoment[variable]
		second.Scale(c.MakeNumeric(rate2))
		v = vec.Copy()
		anyvec.Pow(v, c.MakeNumeric(2))
		v.Scale(c.MakeNumeric(1 - rate2))
		second.Add(v)
	}
}

func (a *AdamW) decayRate(moment int) float64 {
	switch moment {
	case 1:
		return valueOrDefault(a.DecayRate1, adamDefaultDecayRate1)
	case 2:
		return valueOrDefault(a.DecayRate2, adamDefaultDecayRate2)
	default:
		panic("invalid moment")
	}
}

func (a *AdamW) damping() float64 {
	return valueOrDefault(a.Damping, adamDefaultDamping)
}

func valueOrDefault(value, def float64) float64 {
	if value == 0 {
		return def
	}
	return value
}
