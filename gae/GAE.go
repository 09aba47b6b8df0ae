// Package gae implements generalized advantage estimation over
// fixed-length rollouts
package gae

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Estimator computes GAE(λ) value targets and advantages following
// https://arxiv.org/abs/1506.02438 over rollouts of T timesteps and B
// parallel environments. Rollouts carry separate truncation and
// termination masks: a timestep may be truncated by a time limit
// without being a true terminal state, in which case bootstrapping
// from the value function is still appropriate but no return may leak
// across the truncation boundary.
type Estimator struct {
	discount float64 // Discount factor ℽ
	lambda   float64 // λ for GAE(λ) calculation
}

// New creates and returns a new GAE(λ) estimator.
func New(discount, lambda float64) (*Estimator, error) {
	if discount < 0.0 || discount > 1.0 {
		return nil, fmt.Errorf("new: discount must be in [0, 1] "+
			"\n\thave(%v)", discount)
	}
	if lambda < 0.0 || lambda > 1.0 {
		return nil, fmt.Errorf("new: lambda must be in [0, 1] "+
			"\n\thave(%v)", lambda)
	}

	return &Estimator{discount: discount, lambda: lambda}, nil
}

// Estimate computes value targets and advantages for a rollout. All
// matrix arguments are (T x B): truncation and termination are 0/1
// masks, reward holds the per-step rewards, and values holds the
// value-function baseline at steps 0..T-1. The bootstrap argument is
// the baseline evaluated at step T, one entry per environment, and
// seeds the reverse-time recurrence.
//
// The returned value targets and advantages are plain numbers to be
// treated as fixed regression targets; nothing is differentiated
// through them.
func (e *Estimator) Estimate(truncation, termination, reward,
	values *mat.Dense, bootstrap []float64) (valueTargets,
	advantages *mat.Dense, err error) {
	steps, batch, err := checkShapes(truncation, termination, reward, values,
		bootstrap)
	if err != nil {
		return nil, nil, fmt.Errorf("estimate: %v", err)
	}

	// delta[t] = (r[t] + ℽ(1-term[t])·v[t+1] - v[t]) · (1-trunc[t]),
	// with the bootstrap standing in for v[T].
	deltas := mat.NewDense(steps, batch, nil)
	for t := 0; t < steps; t++ {
		for b := 0; b < batch; b++ {
			nextValue := bootstrap[b]
			if t+1 < steps {
				nextValue = values.At(t+1, b)
			}
			notTerminal := 1.0 - termination.At(t, b)
			delta := reward.At(t, b) + e.discount*notTerminal*nextValue -
				values.At(t, b)
			deltas.Set(t, b, delta*(1.0-truncation.At(t, b)))
		}
	}

	// Reverse-time recurrence. Both the termination and truncation
	// masks multiplicatively zero the accumulator so that neither a
	// terminal state nor a time-limit cutoff lets future value leak
	// backwards through the chain.
	valueTargets = mat.NewDense(steps, batch, nil)
	acc := make([]float64, batch)
	for t := steps - 1; t >= 0; t-- {
		for b := 0; b < batch; b++ {
			notTerminal := 1.0 - termination.At(t, b)
			notTruncated := 1.0 - truncation.At(t, b)
			acc[b] = deltas.At(t, b) +
				e.discount*notTerminal*notTruncated*e.lambda*acc[b]
			valueTargets.Set(t, b, acc[b]+values.At(t, b))
		}
	}

	// advantage[t] = (r[t] + ℽ(1-term[t])·target[t+1] - v[t]) ·
	// (1-trunc[t]), again bootstrapping past the final step.
	advantages = mat.NewDense(steps, batch, nil)
	for t := 0; t < steps; t++ {
		for b := 0; b < batch; b++ {
			nextTarget := bootstrap[b]
			if t+1 < steps {
				nextTarget = valueTargets.At(t+1, b)
			}
			notTerminal := 1.0 - termination.At(t, b)
			advantage := reward.At(t, b) +
				e.discount*notTerminal*nextTarget - values.At(t, b)
			advantages.Set(t, b, advantage*(1.0-truncation.At(t, b)))
		}
	}

	return valueTargets, advantages, nil
}

// checkShapes validates that every rollout matrix is (T x B) for the
// same T and B and that the bootstrap has one entry per environment.
func checkShapes(truncation, termination, reward, values *mat.Dense,
	bootstrap []float64) (steps, batch int, err error) {
	steps, batch = truncation.Dims()

	named := []struct {
		name string
		m    *mat.Dense
	}{
		{"termination", termination},
		{"reward", reward},
		{"values", values},
	}
	for _, arg := range named {
		if r, c := arg.m.Dims(); r != steps || c != batch {
			return 0, 0, fmt.Errorf("%v misaligned \n\twant(%v x %v) "+
				"\n\thave(%v x %v)", arg.name, steps, batch, r, c)
		}
	}

	if len(bootstrap) != batch {
		return 0, 0, fmt.Errorf("bootstrap misaligned \n\twant(%v) "+
			"\n\thave(%v)", batch, len(bootstrap))
	}

	return steps, batch, nil
}
