package normalizer

import (
	"math"
	"testing"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
	"gorgonia.org/tensor"
)

const tolerance float64 = 1e-10

// TestUpdateStepCount ensures that the step count advances by exactly
// the number of observation vectors in each batch, independent of the
// number of leading tensor axes.
func TestUpdateStepCount(t *testing.T) {
	n, err := New(4)
	if err != nil {
		t.Fatal(err)
	}

	obs := tensor.New(
		tensor.WithShape(3, 2, 4),
		tensor.WithBacking(make([]float64, 3*2*4)),
	)
	if err := n.Update(obs); err != nil {
		t.Fatal(err)
	}
	if n.StepCount() != 6.0 {
		t.Errorf("wrong step count after 3D update \n\twant(%v) \n\thave(%v)",
			6.0, n.StepCount())
	}

	flat := tensor.New(
		tensor.WithShape(5, 4),
		tensor.WithBacking(make([]float64, 5*4)),
	)
	if err := n.Update(flat); err != nil {
		t.Fatal(err)
	}
	if n.StepCount() != 11.0 {
		t.Errorf("wrong step count after 2D update \n\twant(%v) \n\thave(%v)",
			11.0, n.StepCount())
	}
}

// TestUpdateConvergence checks that the running statistics converge to
// the moments of the generating distribution.
func TestUpdateConvergence(t *testing.T) {
	const features int = 3
	const batches int = 200
	const rows int = 50

	n, err := New(features)
	if err != nil {
		t.Fatal(err)
	}

	gauss := distuv.Normal{Mu: 2.0, Sigma: 3.0, Src: rand.NewSource(13)}
	for b := 0; b < batches; b++ {
		data := make([]float64, rows*features)
		for i := range data {
			data[i] = gauss.Rand()
		}
		obs := tensor.New(tensor.WithShape(rows, features),
			tensor.WithBacking(data))
		if err := n.Update(obs); err != nil {
			t.Fatal(err)
		}
	}

	for i, mean := range n.Mean() {
		if math.Abs(mean-2.0) > 0.1 {
			t.Errorf("mean of feature %v did not converge \n\twant(≈%v) "+
				"\n\thave(%v)", i, 2.0, mean)
		}
	}
	for i, variance := range n.Variance() {
		if math.Abs(variance-9.0) > 0.5 {
			t.Errorf("variance of feature %v did not converge \n\twant(≈%v) "+
				"\n\thave(%v)", i, 9.0, variance)
		}
	}
}

// TestNormalizeColdStart ensures that a Normalizer that has never seen
// data still produces finite, bounded output. With no data the
// variance estimate is at its floor, so any appreciable input saturates
// at the observation bound.
func TestNormalizeColdStart(t *testing.T) {
	n, err := New(2)
	if err != nil {
		t.Fatal(err)
	}

	obs := tensor.New(
		tensor.WithShape(1, 2),
		tensor.WithBacking([]float64{0.0, 1.0}),
	)
	normalized, err := n.Normalize(obs)
	if err != nil {
		t.Fatal(err)
	}

	data := normalized.Data().([]float64)
	if data[0] != 0.0 {
		t.Errorf("zero input should normalize to zero \n\thave(%v)", data[0])
	}
	if data[1] != ObsBound {
		t.Errorf("large input should saturate at the bound \n\twant(%v) "+
			"\n\thave(%v)", ObsBound, data[1])
	}
}

// TestNormalizeRoundTrip checks that whitening inverts cleanly when no
// clipping binds: normalized * std + mean recovers the input.
func TestNormalizeRoundTrip(t *testing.T) {
	const features int = 2

	n, err := New(features)
	if err != nil {
		t.Fatal(err)
	}

	gauss := distuv.Normal{Mu: -1.0, Sigma: 0.5, Src: rand.NewSource(42)}
	data := make([]float64, 100*features)
	for i := range data {
		data[i] = gauss.Rand()
	}
	obs := tensor.New(tensor.WithShape(100, features),
		tensor.WithBacking(data))
	if err := n.Update(obs); err != nil {
		t.Fatal(err)
	}

	normalized, err := n.Normalize(obs)
	if err != nil {
		t.Fatal(err)
	}

	mean := n.Mean()
	variance := n.Variance()
	normData := normalized.Data().([]float64)
	for j, z := range normData {
		if math.Abs(z) >= ObsBound {
			continue
		}
		i := j % features
		recovered := z*math.Sqrt(variance[i]) + mean[i]
		if math.Abs(recovered-data[j]) > 1e-8 {
			t.Errorf("round trip failed at index %v \n\twant(%v) \n\thave(%v)",
				j, data[j], recovered)
		}
	}
}

// TestNormalizeVecMatchesNormalize checks that the inference path and
// the batch path whiten identically.
func TestNormalizeVecMatchesNormalize(t *testing.T) {
	const features int = 3

	n, err := New(features)
	if err != nil {
		t.Fatal(err)
	}

	gauss := distuv.Normal{Mu: 0.0, Sigma: 2.0, Src: rand.NewSource(7)}
	data := make([]float64, 40*features)
	for i := range data {
		data[i] = gauss.Rand()
	}
	obs := tensor.New(tensor.WithShape(40, features),
		tensor.WithBacking(data))
	if err := n.Update(obs); err != nil {
		t.Fatal(err)
	}

	row := []float64{0.3, -1.2, 2.5}
	batch, err := n.Normalize(tensor.New(tensor.WithShape(1, features),
		tensor.WithBacking(append([]float64(nil), row...))))
	if err != nil {
		t.Fatal(err)
	}
	vec, err := n.NormalizeVec(mat.NewVecDense(features, row))
	if err != nil {
		t.Fatal(err)
	}

	batchData := batch.Data().([]float64)
	for i := 0; i < features; i++ {
		if math.Abs(batchData[i]-vec.AtVec(i)) > tolerance {
			t.Errorf("paths disagree at feature %v \n\twant(%v) \n\thave(%v)",
				i, batchData[i], vec.AtVec(i))
		}
	}
}

// TestCloneIndependence ensures that a clone shares no state with its
// source.
func TestCloneIndependence(t *testing.T) {
	n, err := New(2)
	if err != nil {
		t.Fatal(err)
	}
	obs := tensor.New(
		tensor.WithShape(2, 2),
		tensor.WithBacking([]float64{1.0, 2.0, 3.0, 4.0}),
	)
	if err := n.Update(obs); err != nil {
		t.Fatal(err)
	}

	clone := n.Clone()
	if err := n.Update(obs); err != nil {
		t.Fatal(err)
	}

	if clone.StepCount() != 2.0 {
		t.Errorf("clone step count changed with source \n\twant(%v) "+
			"\n\thave(%v)", 2.0, clone.StepCount())
	}
	if n.StepCount() != 4.0 {
		t.Errorf("source step count did not advance \n\twant(%v) "+
			"\n\thave(%v)", 4.0, n.StepCount())
	}
}

// TestShapeErrors ensures misaligned observations are rejected.
func TestShapeErrors(t *testing.T) {
	n, err := New(3)
	if err != nil {
		t.Fatal(err)
	}

	bad := tensor.New(
		tensor.WithShape(2, 4),
		tensor.WithBacking(make([]float64, 8)),
	)
	if err := n.Update(bad); err == nil {
		t.Error("expected an error updating with a wrong final axis")
	}
	if _, err := n.Normalize(bad); err == nil {
		t.Error("expected an error normalizing with a wrong final axis")
	}
	if _, err := n.NormalizeVec(mat.NewVecDense(2, nil)); err == nil {
		t.Error("expected an error normalizing a short vector")
	}
	if _, err := New(0); err == nil {
		t.Error("expected an error constructing with no features")
	}
}
