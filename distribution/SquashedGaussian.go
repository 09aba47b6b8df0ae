// Package distribution implements the bounded-support policy
// distribution used for continuous action selection
package distribution

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"

	"github.com/samuelfneumann/goppo/utils/floatutils"
)

// For stability, the standard deviation of the Gaussian distribution
// should be offset from 0.
const ScaleOffset float64 = 1e-3

var halfLog2Pi = 0.5 * math.Log(2.0*math.Pi)

// SquashedGaussian is a Normal distribution transformed by tanh so
// that its support is bounded to (-1, 1). The distribution is
// parameterized by raw network outputs: the final network axis is
// split in half into a location and a raw scale, and the scale is
// mapped through softplus with a small positive offset.
//
// Samples are kept in the pre-tanh space. The tanh transform is
// applied only at the environment boundary with Squash, so the values
// recorded in trajectories are pre-squash and can be fed back to
// LogProb directly.
type SquashedGaussian struct {
	actionDims int
	stdNormal  distuv.Normal
}

// New returns a SquashedGaussian over actions with actionDims
// dimensions, using seed for all of its internal sampling.
func New(actionDims int, seed uint64) (*SquashedGaussian, error) {
	if actionDims <= 0 {
		return nil, fmt.Errorf("new: action dimensions must be positive "+
			"\n\twant(> 0) \n\thave(%v)", actionDims)
	}

	return &SquashedGaussian{
		actionDims: actionDims,
		stdNormal: distuv.Normal{
			Mu:    0.0,
			Sigma: 1.0,
			Src:   rand.NewSource(seed),
		},
	}, nil
}

// ActionDims returns the number of action dimensions.
func (s *SquashedGaussian) ActionDims() int {
	return s.actionDims
}

// Create splits a batch of raw policy outputs into the location and
// scale of the distribution. The logits matrix must have exactly
// twice as many columns as there are action dimensions: the first
// half becomes the location and the second half the raw scale, which
// is mapped through softplus and offset away from zero so that
// log-probabilities stay finite.
func (s *SquashedGaussian) Create(logits *mat.Dense) (loc, scale *mat.Dense,
	err error) {
	rows, cols := logits.Dims()
	if cols != 2*s.actionDims {
		return nil, nil, fmt.Errorf("create: invalid logits width "+
			"\n\twant(%v) \n\thave(%v)", 2*s.actionDims, cols)
	}

	loc = mat.NewDense(rows, s.actionDims, nil)
	scale = mat.NewDense(rows, s.actionDims, nil)
	for r := 0; r < rows; r++ {
		for c := 0; c < s.actionDims; c++ {
			loc.Set(r, c, logits.At(r, c))
			raw := logits.At(r, c+s.actionDims)
			scale.Set(r, c, floatutils.Softplus(raw)+ScaleOffset)
		}
	}

	return loc, scale, nil
}

// SamplePreSquash draws a batch of Normal(loc, scale) samples without
// applying the tanh transform. These pre-squash values are what gets
// stored as actions in trajectories.
func (s *SquashedGaussian) SamplePreSquash(loc, scale *mat.Dense) (*mat.Dense,
	error) {
	if err := s.checkParams(loc, scale); err != nil {
		return nil, fmt.Errorf("samplepresquash: %v", err)
	}

	rows, _ := loc.Dims()
	sample := mat.NewDense(rows, s.actionDims, nil)
	for r := 0; r < rows; r++ {
		for c := 0; c < s.actionDims; c++ {
			eps := s.stdNormal.Rand()
			sample.Set(r, c, loc.At(r, c)+scale.At(r, c)*eps)
		}
	}

	return sample, nil
}

// Squash applies the tanh transform that bounds actions to (-1, 1).
// It is the only place the transform happens; everything upstream
// works with pre-squash values.
func Squash(preSquash mat.Vector) *mat.VecDense {
	squashed := mat.NewVecDense(preSquash.Len(), nil)
	for i := 0; i < preSquash.Len(); i++ {
		squashed.SetVec(i, math.Tanh(preSquash.AtVec(i)))
	}
	return squashed
}

// LogProb returns the log probability of each row of pre-squash
// values under the tanh-transformed distribution: the Gaussian log
// density minus the log-determinant of the tanh Jacobian, summed over
// the action axis.
func (s *SquashedGaussian) LogProb(loc, scale, preSquash *mat.Dense) (
	*mat.VecDense, error) {
	if err := s.checkParams(loc, scale); err != nil {
		return nil, fmt.Errorf("logprob: %v", err)
	}
	if r, c := preSquash.Dims(); r != rows(loc) || c != s.actionDims {
		return nil, fmt.Errorf("logprob: invalid value shape "+
			"\n\twant(%v x %v) \n\thave(%v x %v)", rows(loc), s.actionDims,
			r, c)
	}

	n := rows(loc)
	logProb := mat.NewVecDense(n, nil)
	for r := 0; r < n; r++ {
		total := 0.0
		for c := 0; c < s.actionDims; c++ {
			x := preSquash.At(r, c)
			z := (x - loc.At(r, c)) / scale.At(r, c)
			logUnnormalized := -0.5 * z * z
			logNormalized := halfLog2Pi + math.Log(scale.At(r, c))
			total += logUnnormalized - logNormalized - logDetJacobian(x)
		}
		logProb.SetVec(r, total)
	}

	return logProb, nil
}

// Entropy returns a single-sample Monte-Carlo estimate of the
// differential entropy of each row's distribution: the closed-form
// Normal entropy plus the tanh Jacobian correction evaluated at a
// fresh internal draw, summed over the action axis. Because of the
// internal draw, repeated calls with the same parameters return
// different estimates.
func (s *SquashedGaussian) Entropy(loc, scale *mat.Dense) (*mat.VecDense,
	error) {
	if err := s.checkParams(loc, scale); err != nil {
		return nil, fmt.Errorf("entropy: %v", err)
	}

	n := rows(loc)
	entropy := mat.NewVecDense(n, nil)
	for r := 0; r < n; r++ {
		total := 0.0
		for c := 0; c < s.actionDims; c++ {
			normalEntropy := 0.5 + halfLog2Pi + math.Log(scale.At(r, c))
			draw := loc.At(r, c) + scale.At(r, c)*s.stdNormal.Rand()
			total += normalEntropy + logDetJacobian(draw)
		}
		entropy.SetVec(r, total)
	}

	return entropy, nil
}

// logDetJacobian computes log|d tanh(x)/dx| = log(1 - tanh(x)^2) as
// 2*(ln 2 - x - softplus(-2x)), which avoids catastrophic
// cancellation as |tanh(x)| approaches 1.
func logDetJacobian(x float64) float64 {
	return 2.0 * (math.Ln2 - x - floatutils.Softplus(-2.0*x))
}

// checkParams validates that loc and scale agree with each other and
// with the distribution's action dimensions.
func (s *SquashedGaussian) checkParams(loc, scale *mat.Dense) error {
	locRows, locCols := loc.Dims()
	scaleRows, scaleCols := scale.Dims()
	if locCols != s.actionDims {
		return fmt.Errorf("invalid location width \n\twant(%v) \n\thave(%v)",
			s.actionDims, locCols)
	}
	if locRows != scaleRows || locCols != scaleCols {
		return fmt.Errorf("location and scale misaligned "+
			"\n\twant(%v x %v) \n\thave(%v x %v)", locRows, locCols,
			scaleRows, scaleCols)
	}
	return nil
}

func rows(m *mat.Dense) int {
	r, _ := m.Dims()
	return r
}
