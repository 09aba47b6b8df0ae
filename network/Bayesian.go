package network

import (
	"fmt"
	"math"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/stat/distuv"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/goppo/utils/floatutils"
)

// Initial raw posterior scale. softplus(-5) ≈ 0.0067, so freshly
// constructed layers start close to their posterior means.
const initialRho float64 = -5.0

// BayesianLayer is a fully connected layer whose weights carry a
// factorized Gaussian posterior N(μ, σ²) regularized toward a unit
// Gaussian prior. Every forward pass draws a fresh weight sample from
// the posterior.
//
// Posterior means are kept per weight. The raw scale parameters ρ,
// with σ = softplus(ρ), are tied across cell types: input neuron i
// has type i mod K and output neuron j has type j mod K for K cell
// types, and all weights connecting the same (input type, output
// type) pair share one ρ. Biases share one ρ per output type.
type BayesianLayer struct {
	in, out   int
	cellTypes int

	weightMu  []float64 // in × out, row-major
	weightRho []float64 // cellTypes × cellTypes, row-major
	biasMu    []float64 // out
	biasRho   []float64 // cellTypes

	act       *Activation
	stdNormal distuv.Normal
}

// NewBayesianLayer returns a BayesianLayer with in input and out
// output neurons grouped into cellTypes cell types. Posterior means
// are initialized from a zero-mean Gaussian scaled by the layer
// widths and all raw scales start at a small constant.
func NewBayesianLayer(in, out, cellTypes int, act *Activation,
	src rand.Source) (*BayesianLayer, error) {
	if in <= 0 || out <= 0 {
		return nil, fmt.Errorf("newbayesianlayer: widths must be positive "+
			"\n\thave(%v, %v)", in, out)
	}
	if cellTypes <= 0 {
		return nil, fmt.Errorf("newbayesianlayer: cell types must be "+
			"positive \n\thave(%v)", cellTypes)
	}

	layer := &BayesianLayer{
		in:        in,
		out:       out,
		cellTypes: cellTypes,
		weightMu:  make([]float64, in*out),
		weightRho: make([]float64, cellTypes*cellTypes),
		biasMu:    make([]float64, out),
		biasRho:   make([]float64, cellTypes),
		act:       act,
		stdNormal: distuv.Normal{Mu: 0.0, Sigma: 1.0, Src: src},
	}

	glorot := glorotStdDev(in, out)
	for i := range layer.weightMu {
		layer.weightMu[i] = layer.stdNormal.Rand() * glorot
	}
	for i := range layer.weightRho {
		layer.weightRho[i] = initialRho
	}
	for i := range layer.biasRho {
		layer.biasRho[i] = initialRho
	}

	return layer, nil
}

// In returns the layer's input width.
func (b *BayesianLayer) In() int {
	return b.in
}

// Out returns the layer's output width.
func (b *BayesianLayer) Out() int {
	return b.out
}

// Activation returns the layer's activation.
func (b *BayesianLayer) Activation() *Activation {
	return b.act
}

// Materialize draws a fresh posterior sample of the layer's weights
// and biases.
func (b *BayesianLayer) Materialize() (weights, bias *tensor.Dense) {
	return b.draw()
}

// KL returns the closed-form KL divergence between the layer's
// factorized Gaussian posterior and the unit Gaussian prior, summed
// over every weight and bias.
func (b *BayesianLayer) KL() float64 {
	total := 0.0
	for i := 0; i < b.in; i++ {
		for j := 0; j < b.out; j++ {
			total += klToUnitPrior(b.weightMu[i*b.out+j], b.weightSigma(i, j))
		}
	}
	for j := 0; j < b.out; j++ {
		total += klToUnitPrior(b.biasMu[j], b.biasSigma(j))
	}
	return total
}

// Posterior returns the layer's extraction capability.
func (b *BayesianLayer) Posterior() *Posterior {
	return &Posterior{
		mean: func() (*tensor.Dense, *tensor.Dense) {
			weights := append([]float64(nil), b.weightMu...)
			bias := append([]float64(nil), b.biasMu...)
			return tensor.New(tensor.WithShape(b.in, b.out),
					tensor.WithBacking(weights)),
				tensor.New(tensor.WithShape(1, b.out),
					tensor.WithBacking(bias))
		},
		sample: func() (*tensor.Dense, *tensor.Dense) {
			return b.draw()
		},
	}
}

// draw samples weights and biases from the posterior.
func (b *BayesianLayer) draw() (weights, bias *tensor.Dense) {
	w := make([]float64, b.in*b.out)
	for i := 0; i < b.in; i++ {
		for j := 0; j < b.out; j++ {
			idx := i*b.out + j
			w[idx] = b.weightMu[idx] + b.weightSigma(i, j)*b.stdNormal.Rand()
		}
	}

	bs := make([]float64, b.out)
	for j := 0; j < b.out; j++ {
		bs[j] = b.biasMu[j] + b.biasSigma(j)*b.stdNormal.Rand()
	}

	return tensor.New(tensor.WithShape(b.in, b.out), tensor.WithBacking(w)),
		tensor.New(tensor.WithShape(1, b.out), tensor.WithBacking(bs))
}

// weightSigma returns the posterior standard deviation of weight
// (i, j) through the cell-type tying of ρ.
func (b *BayesianLayer) weightSigma(i, j int) float64 {
	rho := b.weightRho[(i%b.cellTypes)*b.cellTypes+(j%b.cellTypes)]
	return floatutils.Softplus(rho)
}

// biasSigma returns the posterior standard deviation of bias j.
func (b *BayesianLayer) biasSigma(j int) float64 {
	return floatutils.Softplus(b.biasRho[j%b.cellTypes])
}

// klToUnitPrior is the closed-form KL divergence between N(μ, σ²) and
// the unit Gaussian prior N(0, 1):
//
//	KL = -ln σ + (σ² + μ²)/2 - 1/2
func klToUnitPrior(mu, sigma float64) float64 {
	return -math.Log(sigma) + 0.5*(sigma*sigma+mu*mu) - 0.5
}

// glorotStdDev returns the standard deviation of the Glorot Gaussian
// initializer for a layer with the given widths.
func glorotStdDev(in, out int) float64 {
	return math.Sqrt(2.0 / float64(in+out))
}
