// Package trajectory implements fixed-length rollout batches of
// agent-environment interaction
package trajectory

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"
)

// Trajectory packages together T timesteps of interaction across B
// parallel environments. Observations carry one extra step: the
// observation at step T exists only so that the value function can
// bootstrap from it.
//
// Done and Truncation are 0/1 masks. A step can be truncated by a
// time limit without being a true termination, and the two cases are
// bootstrapped differently, so both masks are stored.
//
// Actions are recorded pre-squash: the tanh transform that bounds
// actions is applied only at the environment boundary, never to the
// stored values.
type Trajectory struct {
	Observation *tensor.Dense // (T+1) × B × D
	Reward      *mat.Dense    // T × B
	Done        *mat.Dense    // T × B
	Truncation  *mat.Dense    // T × B
	Action      *tensor.Dense // T × B × A
	Logits      *tensor.Dense // T × B × 2A
}

// New returns a Trajectory over the argument data, validating that
// every tensor agrees on the time, batch, observation, and action
// dimensions.
func New(observation *tensor.Dense, reward, done, truncation *mat.Dense,
	action, logits *tensor.Dense) (*Trajectory, error) {
	t := &Trajectory{
		Observation: observation,
		Reward:      reward,
		Done:        done,
		Truncation:  truncation,
		Action:      action,
		Logits:      logits,
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}
	return t, nil
}

// Steps returns T, the number of timesteps in the trajectory.
func (t *Trajectory) Steps() int {
	return t.Observation.Shape()[0] - 1
}

// BatchSize returns B, the number of parallel environments.
func (t *Trajectory) BatchSize() int {
	return t.Observation.Shape()[1]
}

// ObsDims returns D, the number of observation features.
func (t *Trajectory) ObsDims() int {
	return t.Observation.Shape()[2]
}

// ActionDims returns A, the number of action dimensions.
func (t *Trajectory) ActionDims() int {
	return t.Action.Shape()[2]
}

// Validate checks that every field of the trajectory is aligned in
// its time, batch, and feature dimensions. It should be called before
// any computation uses the trajectory; silent broadcasting of
// misaligned data is never acceptable.
func (t *Trajectory) Validate() error {
	obsShape := t.Observation.Shape()
	if len(obsShape) != 3 {
		return fmt.Errorf("observation must have shape (T+1, B, D) "+
			"\n\thave shape(%v)", obsShape)
	}
	if obsShape[0] < 2 {
		return fmt.Errorf("observation needs at least one step plus the "+
			"bootstrap step \n\thave(%v)", obsShape[0])
	}

	steps := obsShape[0] - 1
	batch := obsShape[1]

	for _, arg := range []struct {
		name string
		m    *mat.Dense
	}{
		{"reward", t.Reward},
		{"done", t.Done},
		{"truncation", t.Truncation},
	} {
		if r, c := arg.m.Dims(); r != steps || c != batch {
			return fmt.Errorf("%v misaligned \n\twant(%v x %v) "+
				"\n\thave(%v x %v)", arg.name, steps, batch, r, c)
		}
	}

	actShape := t.Action.Shape()
	if len(actShape) != 3 || actShape[0] != steps || actShape[1] != batch {
		return fmt.Errorf("action misaligned \n\twant shape(%v, %v, A) "+
			"\n\thave shape(%v)", steps, batch, actShape)
	}

	logitShape := t.Logits.Shape()
	if len(logitShape) != 3 || logitShape[0] != steps ||
		logitShape[1] != batch {
		return fmt.Errorf("logits misaligned \n\twant shape(%v, %v, 2A) "+
			"\n\thave shape(%v)", steps, batch, logitShape)
	}
	if logitShape[2] != 2*actShape[2] {
		return fmt.Errorf("logits must split evenly into location and "+
			"scale \n\twant(%v) \n\thave(%v)", 2*actShape[2], logitShape[2])
	}

	return nil
}

// ObservationMatrix flattens the first steps observation steps into a
// (steps*B x D) matrix whose rows walk time-major through the batch.
func (t *Trajectory) ObservationMatrix(steps int) (*mat.Dense, error) {
	if steps < 0 || steps > t.Steps()+1 {
		return nil, fmt.Errorf("observationmatrix: invalid step count "+
			"\n\twant(0..%v) \n\thave(%v)", t.Steps()+1, steps)
	}
	return flatten(t.Observation, steps, t.BatchSize(), t.ObsDims())
}

// ActionMatrix flattens the stored actions into a (T*B x A) matrix.
func (t *Trajectory) ActionMatrix() (*mat.Dense, error) {
	return flatten(t.Action, t.Steps(), t.BatchSize(), t.ActionDims())
}

// LogitsMatrix flattens the stored behavior logits into a
// (T*B x 2A) matrix.
func (t *Trajectory) LogitsMatrix() (*mat.Dense, error) {
	return flatten(t.Logits, t.Steps(), t.BatchSize(), 2*t.ActionDims())
}

// flatten reshapes the leading steps*batch rows of a (time, batch,
// features) tensor into a dense (steps*batch x features) matrix.
func flatten(src *tensor.Dense, steps, batch, features int) (*mat.Dense,
	error) {
	data, ok := src.Data().([]float64)
	if !ok {
		return nil, fmt.Errorf("flatten: tensor must be float64")
	}

	n := steps * batch * features
	if n > len(data) {
		return nil, fmt.Errorf("flatten: tensor too small \n\twant(%v) "+
			"\n\thave(%v)", n, len(data))
	}

	backing := append([]float64(nil), data[:n]...)
	return mat.NewDense(steps*batch, features, backing), nil
}
