package network

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	"gorgonia.org/tensor"
)

// LayerFactory is a construction strategy over layer variants. A
// FeedForward net built with a DeterministicFactory holds
// point-estimate weights; one built with a BayesianFactory holds
// posterior distributions over weights. Everything downstream of
// construction is written once against the Layer interface.
type LayerFactory interface {
	// Make returns a new layer with the given widths and activation.
	Make(in, out int, act *Activation) (Layer, error)
}

// DeterministicFactory constructs DenseLayers with Glorot Gaussian
// weight initialization and zero biases.
type DeterministicFactory struct {
	stdNormal distuv.Normal
}

// NewDeterministicFactory returns a DeterministicFactory seeded with
// seed. Layers made by the same factory share its random source.
func NewDeterministicFactory(seed uint64) *DeterministicFactory {
	return &DeterministicFactory{
		stdNormal: distuv.Normal{
			Mu:    0.0,
			Sigma: 1.0,
			Src:   rand.NewSource(seed),
		},
	}
}

// Make returns a new DenseLayer.
func (d *DeterministicFactory) Make(in, out int,
	act *Activation) (Layer, error) {
	if in <= 0 || out <= 0 {
		return nil, fmt.Errorf("make: widths must be positive "+
			"\n\thave(%v, %v)", in, out)
	}

	glorot := glorotStdDev(in, out)
	weights := make([]float64, in*out)
	for i := range weights {
		weights[i] = d.stdNormal.Rand() * glorot
	}

	return NewDenseLayer(
		tensor.New(tensor.WithShape(in, out), tensor.WithBacking(weights)),
		tensor.New(tensor.WithShape(1, out),
			tensor.WithBacking(make([]float64, out))),
		act,
	)
}

// BayesianFactory constructs BayesianLayers whose posterior scale
// parameters are tied across CellTypes cell types.
type BayesianFactory struct {
	CellTypes int
	src       rand.Source
}

// NewBayesianFactory returns a BayesianFactory seeded with seed.
// Layers made by the same factory share its random source.
func NewBayesianFactory(cellTypes int, seed uint64) *BayesianFactory {
	return &BayesianFactory{
		CellTypes: cellTypes,
		src:       rand.NewSource(seed),
	}
}

// Make returns a new BayesianLayer.
func (b *BayesianFactory) Make(in, out int, act *Activation) (Layer, error) {
	return NewBayesianLayer(in, out, b.CellTypes, act, b.src)
}
