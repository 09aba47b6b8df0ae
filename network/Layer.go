package network

import (
	"fmt"

	"gorgonia.org/tensor"
)

// Layer is a single fully connected layer of a feed forward network.
// Layers own their parameter values; the FeedForward net that holds
// them owns the computational graph those values are bound into.
//
// Layers come in two variants: DenseLayer holds point-estimate
// weights, while BayesianLayer holds a posterior distribution over
// weights. Each variant declares its own behavior through this
// interface rather than being discovered through runtime type
// inspection: stochastic layers advertise their extraction capability
// with a non-nil Posterior.
type Layer interface {
	// In and Out return the layer's input and output widths.
	In() int
	Out() int

	// Activation returns the activation applied to the layer output.
	Activation() *Activation

	// Materialize returns the weight and bias values to bind into the
	// graph for the next forward pass. Deterministic layers return
	// their stored parameters; stochastic layers draw a fresh
	// posterior sample on every call.
	Materialize() (weights, bias *tensor.Dense)

	// KL returns the KL divergence between the layer's weight
	// posterior and its prior. Deterministic layers return 0.
	KL() float64

	// Posterior returns the layer's posterior extraction capability,
	// or nil if the layer is deterministic.
	Posterior() *Posterior
}

// Posterior exposes the extraction capabilities of a stochastic
// layer: the posterior mean and fresh posterior draws of its weights
// and biases. Both return copies that share no storage with the
// layer.
type Posterior struct {
	mean   func() (weights, bias *tensor.Dense)
	sample func() (weights, bias *tensor.Dense)
}

// Mean returns the posterior mean weights and biases. Repeated calls
// on an unchanged layer return identical values.
func (p *Posterior) Mean() (weights, bias *tensor.Dense) {
	return p.mean()
}

// Sample returns one posterior draw of the weights and biases. Each
// call returns a new draw.
func (p *Posterior) Sample() (weights, bias *tensor.Dense) {
	return p.sample()
}

// DenseLayer is a fully connected layer with point-estimate weights.
type DenseLayer struct {
	weights *tensor.Dense // in × out
	bias    *tensor.Dense // 1 × out
	act     *Activation
}

// NewDenseLayer returns a DenseLayer over the given weight and bias
// values. The weights must be an (in x out) matrix and the bias a
// (1 x out) matrix; the layer widths are derived from these shapes.
func NewDenseLayer(weights, bias *tensor.Dense,
	act *Activation) (*DenseLayer, error) {
	wShape := weights.Shape()
	bShape := bias.Shape()
	if len(wShape) != 2 {
		return nil, fmt.Errorf("newdenselayer: weights must be a matrix "+
			"\n\thave shape(%v)", wShape)
	}
	if len(bShape) != 2 || bShape[0] != 1 || bShape[1] != wShape[1] {
		return nil, fmt.Errorf("newdenselayer: bias misaligned "+
			"\n\twant shape(1, %v) \n\thave shape(%v)", wShape[1], bShape)
	}

	return &DenseLayer{weights: weights, bias: bias, act: act}, nil
}

// In returns the layer's input width.
func (d *DenseLayer) In() int {
	return d.weights.Shape()[0]
}

// Out returns the layer's output width.
func (d *DenseLayer) Out() int {
	return d.weights.Shape()[1]
}

// Activation returns the layer's activation.
func (d *DenseLayer) Activation() *Activation {
	return d.act
}

// Materialize returns the layer's stored weights and biases.
func (d *DenseLayer) Materialize() (weights, bias *tensor.Dense) {
	return d.weights, d.bias
}

// KL always returns 0; a DenseLayer holds no posterior.
func (d *DenseLayer) KL() float64 {
	return 0.0
}

// Posterior always returns nil; a DenseLayer holds no posterior.
func (d *DenseLayer) Posterior() *Posterior {
	return nil
}
