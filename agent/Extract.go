package agent

import (
	"fmt"

	"gorgonia.org/tensor"

	"github.com/samuelfneumann/goppo/distribution"
	"github.com/samuelfneumann/goppo/gae"
	"github.com/samuelfneumann/goppo/network"
)

// MeanAgent extracts a deterministic agent from a Bayesian one by
// taking the posterior mean of every stochastic layer's weights and
// biases. The extraction is bit-stable: calling it twice on an
// unchanged agent yields identical weights. The returned agent uses
// the argument clipping range and entropy cost, inherits everything
// else from the receiver, and shares no state with it; in particular
// the normalization statistics are deep-copied.
//
// MeanAgent fails if the receiver has no stochastic layers.
func (a *Agent) MeanAgent(clippingVal, entropyCost float64) (*Agent, error) {
	extracted, err := a.extract(clippingVal, entropyCost, false)
	if err != nil {
		return nil, fmt.Errorf("meanagent: %v", err)
	}
	return extracted, nil
}

// SampleAgent extracts a deterministic agent from a Bayesian one by
// drawing one posterior sample of every stochastic layer's weights
// and biases. Each call draws fresh samples, so repeated calls yield
// different deterministic agents. Everything else behaves as in
// MeanAgent.
func (a *Agent) SampleAgent(clippingVal, entropyCost float64) (*Agent,
	error) {
	extracted, err := a.extract(clippingVal, entropyCost, true)
	if err != nil {
		return nil, fmt.Errorf("sampleagent: %v", err)
	}
	return extracted, nil
}

// extract rebuilds the receiver's networks as deterministic nets with
// weights pulled from the stochastic layers' posteriors.
func (a *Agent) extract(clippingVal, entropyCost float64,
	sample bool) (*Agent, error) {
	if clippingVal <= 0.0 {
		return nil, fmt.Errorf("clipping value must be positive "+
			"\n\thave(%v)", clippingVal)
	}

	policyLayers, err := extractLayers(a.policy, sample)
	if err != nil {
		return nil, fmt.Errorf("policy network: %v", err)
	}
	valueLayers, err := extractLayers(a.value, sample)
	if err != nil {
		return nil, fmt.Errorf("value network: %v", err)
	}

	policy, err := network.FromLayers(policyLayers)
	if err != nil {
		return nil, err
	}
	value, err := network.FromLayers(valueLayers)
	if err != nil {
		return nil, err
	}

	dist, err := distribution.New(a.dist.ActionDims(), a.seed+1)
	if err != nil {
		return nil, err
	}

	estimator, err := gae.New(a.discounting, Lambda)
	if err != nil {
		return nil, err
	}

	return &Agent{
		policy:         policy,
		value:          value,
		dist:           dist,
		norm:           a.norm.Clone(),
		gae:            estimator,
		epsilon:        clippingVal,
		entropyCost:    entropyCost,
		discounting:    a.discounting,
		rewardScaling:  a.rewardScaling,
		complexityCost: 0.0,
		device:         a.device,
		seed:           a.seed + 1,
	}, nil
}

// extractLayers walks a net's layers and turns each stochastic layer
// into a DenseLayer holding either the posterior mean or one
// posterior draw. The new layer widths come from the extracted weight
// shapes alone; deterministic layers are passed over. At least one
// stochastic layer must exist.
func extractLayers(net *network.FeedForward, sample bool) ([]network.Layer,
	error) {
	layers := make([]network.Layer, 0, len(net.Layers()))
	for i, layer := range net.Layers() {
		posterior := layer.Posterior()
		if posterior == nil {
			continue
		}

		var weights, bias *tensor.Dense
		if sample {
			weights, bias = posterior.Sample()
		} else {
			weights, bias = posterior.Mean()
		}

		dense, err := network.NewDenseLayer(weights, bias,
			layer.Activation())
		if err != nil {
			return nil, fmt.Errorf("could not rebuild layer %v: %v", i, err)
		}
		layers = append(layers, dense)
	}

	if len(layers) == 0 {
		return nil, fmt.Errorf("no stochastic layers to extract")
	}

	return layers, nil
}
