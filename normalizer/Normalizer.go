// Package normalizer implements streaming observation normalization
package normalizer

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/goppo/utils/floatutils"
	"github.com/samuelfneumann/goppo/utils/matutils"
)

// Bounds on the running variance estimate and on normalized
// observations. Observations are whitened with a variance clipped to
// [MinVariance, MaxVariance] and the result is clipped to
// [-ObsBound, ObsBound].
const (
	MinVariance float64 = 1e-6
	MaxVariance float64 = 1e6
	ObsBound    float64 = 5.0
)

// Normalizer maintains a streaming mean and variance of observations
// over an unbounded stream of batches and whitens observations with
// them. The variance is kept as a running sum of squared deviations,
// so the estimate stays unbiased as batches accumulate.
//
// A Normalizer has a single writer: the agent that owns it calls
// Update once per training iteration and no other goroutine touches
// the state. No locking is performed.
type Normalizer struct {
	features  int
	stepCount float64

	runningMean []float64

	// runningVarAcc accumulates squared deviations from the running
	// mean; runningVarAcc / (stepCount + 1) is the variance estimate.
	runningVarAcc []float64
}

// New returns a new Normalizer for observations with the given number
// of features. All state starts at zero; Normalize may be called
// before any Update.
func New(features int) (*Normalizer, error) {
	if features <= 0 {
		return nil, fmt.Errorf("new: features must be positive \n\twant(> 0) "+
			"\n\thave(%v)", features)
	}

	return &Normalizer{
		features:      features,
		runningMean:   make([]float64, features),
		runningVarAcc: make([]float64, features),
	}, nil
}

// Features returns the number of observation features the Normalizer
// was constructed for.
func (n *Normalizer) Features() int {
	return n.features
}

// StepCount returns the cumulative number of observation vectors seen
// by Update.
func (n *Normalizer) StepCount() float64 {
	return n.stepCount
}

// Mean returns a copy of the running observation mean.
func (n *Normalizer) Mean() []float64 {
	return append([]float64(nil), n.runningMean...)
}

// Variance returns a copy of the current variance estimate, clipped
// into [MinVariance, MaxVariance].
func (n *Normalizer) Variance() []float64 {
	variance := make([]float64, n.features)
	for i := range variance {
		variance[i] = floatutils.Clip(n.runningVarAcc[i]/(n.stepCount+1.0),
			MinVariance, MaxVariance)
	}
	return variance
}

// Clone returns a deep copy of the Normalizer that shares no state
// with the receiver.
func (n *Normalizer) Clone() *Normalizer {
	return &Normalizer{
		features:      n.features,
		stepCount:     n.stepCount,
		runningMean:   append([]float64(nil), n.runningMean...),
		runningVarAcc: append([]float64(nil), n.runningVarAcc...),
	}
}

// Update accumulates a batch of observations into the running mean
// and variance. The observation tensor may have any number of leading
// axes, but its final axis must hold the observation features. For a
// (T, B, D) rollout the step count therefore advances by T*B.
//
// The mean is updated first, and the variance accumulator adds the
// product of deviations from the old mean on one side and the new
// mean on the other. Using the same mean on both sides would bias the
// accumulator.
func (n *Normalizer) Update(obs *tensor.Dense) error {
	data, rows, err := n.rows(obs)
	if err != nil {
		return fmt.Errorf("update: %v", err)
	}

	n.stepCount += float64(rows)

	oldMean := append([]float64(nil), n.runningMean...)
	for r := 0; r < rows; r++ {
		row := data[r*n.features : (r+1)*n.features]
		for i, x := range row {
			n.runningMean[i] += (x - oldMean[i]) / n.stepCount
		}
	}

	for r := 0; r < rows; r++ {
		row := data[r*n.features : (r+1)*n.features]
		for i, x := range row {
			n.runningVarAcc[i] += (x - n.runningMean[i]) * (x - oldMean[i])
		}
	}

	return nil
}

// Normalize whitens a batch of observations with the running mean and
// variance, clipping the result to [-ObsBound, ObsBound]. The returned
// tensor has the same shape as the input, which is left unmodified.
// The variance divides by stepCount+1 so that a cold-start Normalizer
// never divides by zero.
func (n *Normalizer) Normalize(obs *tensor.Dense) (*tensor.Dense, error) {
	data, rows, err := n.rows(obs)
	if err != nil {
		return nil, fmt.Errorf("normalize: %v", err)
	}

	invStd := n.invStd()
	normalized := make([]float64, len(data))
	for r := 0; r < rows; r++ {
		for i := 0; i < n.features; i++ {
			j := r*n.features + i
			z := (data[j] - n.runningMean[i]) * invStd[i]
			normalized[j] = floatutils.Clip(z, -ObsBound, ObsBound)
		}
	}

	shape := append([]int(nil), obs.Shape()...)
	return tensor.New(tensor.WithShape(shape...),
		tensor.WithBacking(normalized)), nil
}

// NormalizeVec whitens a single observation vector. This is the
// inference-path counterpart of Normalize.
func (n *Normalizer) NormalizeVec(obs mat.Vector) (*mat.VecDense, error) {
	if obs.Len() != n.features {
		return nil, fmt.Errorf("normalizevec: invalid observation length "+
			"\n\twant(%v) \n\thave(%v)", n.features, obs.Len())
	}

	invStd := n.invStd()
	normalized := mat.NewVecDense(n.features, nil)
	for i := 0; i < n.features; i++ {
		normalized.SetVec(i, (obs.AtVec(i)-n.runningMean[i])*invStd[i])
	}
	matutils.VecClip(normalized, -ObsBound, ObsBound)

	return normalized, nil
}

// invStd returns the reciprocal standard deviation per feature, with
// the variance clipped into [MinVariance, MaxVariance] first.
func (n *Normalizer) invStd() []float64 {
	invStd := make([]float64, n.features)
	for i := range invStd {
		variance := floatutils.Clip(n.runningVarAcc[i]/(n.stepCount+1.0),
			MinVariance, MaxVariance)
		invStd[i] = 1.0 / math.Sqrt(variance)
	}
	return invStd
}

// rows validates that the final axis of obs holds exactly the
// Normalizer's feature count and returns the flat backing data along
// with the number of observation vectors it holds.
func (n *Normalizer) rows(obs *tensor.Dense) ([]float64, int, error) {
	shape := obs.Shape()
	if len(shape) == 0 || shape[len(shape)-1] != n.features {
		return nil, 0, fmt.Errorf("invalid observation shape: final axis "+
			"\n\twant(%v) \n\thave(%v)", n.features, shape)
	}

	data, ok := obs.Data().([]float64)
	if !ok {
		return nil, 0, fmt.Errorf("observations must be float64")
	}

	return data, len(data) / n.features, nil
}
