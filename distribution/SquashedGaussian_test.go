package distribution

import (
	"math"
	"testing"

	"gonum.org/v1/gonum/mat"

	"github.com/samuelfneumann/goppo/utils/floatutils"
)

const tolerance float64 = 1e-10

// TestCreateScale checks the raw-scale mapping: softplus plus the
// stability offset, so the scale is strictly positive no matter how
// negative the raw output gets.
func TestCreateScale(t *testing.T) {
	dist, err := New(2, 11)
	if err != nil {
		t.Fatal(err)
	}

	logits := mat.NewDense(1, 4, []float64{0.5, -0.5, 0.0, -50.0})
	loc, scale, err := dist.Create(logits)
	if err != nil {
		t.Fatal(err)
	}

	if loc.At(0, 0) != 0.5 || loc.At(0, 1) != -0.5 {
		t.Errorf("location should copy the first logit half \n\twant(%v, %v) "+
			"\n\thave(%v, %v)", 0.5, -0.5, loc.At(0, 0), loc.At(0, 1))
	}

	wantScale := math.Log1p(1.0) + ScaleOffset // softplus(0) = ln 2
	if math.Abs(scale.At(0, 0)-wantScale) > tolerance {
		t.Errorf("wrong scale for zero raw output \n\twant(%v) \n\thave(%v)",
			wantScale, scale.At(0, 0))
	}
	if scale.At(0, 1) < ScaleOffset {
		t.Errorf("scale fell below the offset floor \n\twant(>= %v) "+
			"\n\thave(%v)", ScaleOffset, scale.At(0, 1))
	}
}

// TestCreateWidthError ensures logits that do not split evenly into
// location and scale halves are rejected.
func TestCreateWidthError(t *testing.T) {
	dist, err := New(2, 11)
	if err != nil {
		t.Fatal(err)
	}
	if _, _, err := dist.Create(mat.NewDense(1, 3, nil)); err == nil {
		t.Error("expected an error creating from logits of odd width")
	}
	if _, err := New(0, 11); err == nil {
		t.Error("expected an error constructing with no action dimensions")
	}
}

// TestLogProb checks hand-computed log probabilities: the Gaussian log
// density corrected by the log-determinant of the tanh Jacobian.
func TestLogProb(t *testing.T) {
	dist, err := New(1, 11)
	if err != nil {
		t.Fatal(err)
	}

	loc := mat.NewDense(2, 1, []float64{0.0, 0.0})
	scale := mat.NewDense(2, 1, []float64{1.0, 1.0})
	preSquash := mat.NewDense(2, 1, []float64{0.0, 1.0})

	logProb, err := dist.LogProb(loc, scale, preSquash)
	if err != nil {
		t.Fatal(err)
	}

	// At x = 0 the Jacobian correction vanishes, leaving the standard
	// Normal log density at its mode.
	want := -0.5 * math.Log(2.0*math.Pi)
	if math.Abs(logProb.AtVec(0)-want) > tolerance {
		t.Errorf("wrong log probability at the mode \n\twant(%v) "+
			"\n\thave(%v)", want, logProb.AtVec(0))
	}

	tanh := math.Tanh(1.0)
	want = -0.5 - 0.5*math.Log(2.0*math.Pi) - math.Log(1.0-tanh*tanh)
	if math.Abs(logProb.AtVec(1)-want) > 1e-8 {
		t.Errorf("wrong log probability at x = 1 \n\twant(%v) \n\thave(%v)",
			want, logProb.AtVec(1))
	}
}

// TestLogProbNormalization numerically integrates the implied density
// of the squashed variable and checks it integrates to one. The change
// of variables back to pre-squash space multiplies the density by the
// tanh Jacobian.
func TestLogProbNormalization(t *testing.T) {
	dist, err := New(1, 11)
	if err != nil {
		t.Fatal(err)
	}

	const lo, hi = -8.0, 8.0
	const n = 20000
	dx := (hi - lo) / float64(n)

	integral := 0.0
	for i := 0; i < n; i++ {
		x := lo + (float64(i)+0.5)*dx

		logProb, err := dist.LogProb(
			mat.NewDense(1, 1, []float64{0.3}),
			mat.NewDense(1, 1, []float64{0.8}),
			mat.NewDense(1, 1, []float64{x}),
		)
		if err != nil {
			t.Fatal(err)
		}

		tanh := math.Tanh(x)
		integral += math.Exp(logProb.AtVec(0)) * (1.0 - tanh*tanh) * dx
	}

	if math.Abs(integral-1.0) > 1e-4 {
		t.Errorf("density does not integrate to one \n\twant(≈%v) "+
			"\n\thave(%v)", 1.0, integral)
	}
}

// TestSamplePreSquashMoments draws many samples and checks their
// empirical moments against the distribution parameters.
func TestSamplePreSquashMoments(t *testing.T) {
	dist, err := New(1, 11)
	if err != nil {
		t.Fatal(err)
	}

	const draws = 20000
	loc := mat.NewDense(1, 1, []float64{1.5})
	scale := mat.NewDense(1, 1, []float64{0.5})

	sum, sumSq := 0.0, 0.0
	for i := 0; i < draws; i++ {
		sample, err := dist.SamplePreSquash(loc, scale)
		if err != nil {
			t.Fatal(err)
		}
		x := sample.At(0, 0)
		sum += x
		sumSq += x * x
	}

	mean := sum / draws
	std := math.Sqrt(sumSq/draws - mean*mean)
	if math.Abs(mean-1.5) > 0.02 {
		t.Errorf("sample mean off \n\twant(≈%v) \n\thave(%v)", 1.5, mean)
	}
	if math.Abs(std-0.5) > 0.02 {
		t.Errorf("sample deviation off \n\twant(≈%v) \n\thave(%v)", 0.5, std)
	}
}

// TestSquashBounds ensures squashed actions stay strictly inside
// (-1, 1) even for extreme pre-squash values.
func TestSquashBounds(t *testing.T) {
	preSquash := mat.NewVecDense(4, []float64{-100.0, -0.5, 0.5, 100.0})
	squashed := Squash(preSquash)
	for i := 0; i < squashed.Len(); i++ {
		if y := squashed.AtVec(i); y < -1.0 || y > 1.0 {
			t.Errorf("squashed action out of bounds \n\thave(%v)", y)
		}
	}
	if squashed.AtVec(1) != math.Tanh(-0.5) {
		t.Errorf("squash is not tanh \n\twant(%v) \n\thave(%v)",
			math.Tanh(-0.5), squashed.AtVec(1))
	}
}

// TestEntropyIncreasesWithScale checks that the Monte-Carlo entropy
// estimate, averaged over many draws, grows with the distribution
// scale. Single calls are stochastic, so only the averages are
// comparable.
func TestEntropyIncreasesWithScale(t *testing.T) {
	dist, err := New(1, 11)
	if err != nil {
		t.Fatal(err)
	}

	const draws = 5000
	loc := mat.NewDense(1, 1, []float64{0.0})

	average := func(scaleVal float64) float64 {
		scale := mat.NewDense(1, 1, []float64{scaleVal})
		total := 0.0
		for i := 0; i < draws; i++ {
			entropy, err := dist.Entropy(loc, scale)
			if err != nil {
				t.Fatal(err)
			}
			total += entropy.AtVec(0)
		}
		return total / draws
	}

	narrow := average(0.1)
	wide := average(0.5)
	if narrow >= wide {
		t.Errorf("entropy should grow with scale \n\thave(narrow %v, wide %v)",
			narrow, wide)
	}
}

// TestEntropyIsStochastic ensures that repeated entropy calls with
// identical parameters draw fresh samples.
func TestEntropyIsStochastic(t *testing.T) {
	dist, err := New(1, 11)
	if err != nil {
		t.Fatal(err)
	}

	loc := mat.NewDense(1, 1, []float64{0.0})
	scale := mat.NewDense(1, 1, []float64{1.0})

	first, err := dist.Entropy(loc, scale)
	if err != nil {
		t.Fatal(err)
	}
	second, err := dist.Entropy(loc, scale)
	if err != nil {
		t.Fatal(err)
	}

	if first.AtVec(0) == second.AtVec(0) {
		t.Error("repeated entropy calls returned identical estimates")
	}
}

// TestSoftplusStability guards the stable softplus evaluation the
// distribution depends on for extreme inputs.
func TestSoftplusStability(t *testing.T) {
	if y := floatutils.Softplus(1000.0); y != 1000.0 {
		t.Errorf("softplus should be linear for large inputs \n\twant(%v) "+
			"\n\thave(%v)", 1000.0, y)
	}
	if y := floatutils.Softplus(-1000.0); y != 0.0 {
		t.Errorf("softplus should vanish for very negative inputs "+
			"\n\twant(%v) \n\thave(%v)", 0.0, y)
	}
	if math.Abs(floatutils.Softplus(0.0)-math.Ln2) > tolerance {
		t.Errorf("softplus at zero \n\twant(%v) \n\thave(%v)", math.Ln2,
			floatutils.Softplus(0.0))
	}
}
