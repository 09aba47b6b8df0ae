// Package agent implements the learning core of a PPO agent with
// generalized advantage estimation, streaming observation
// normalization, and an optional Bayesian-weight variant
package agent

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/goppo/distribution"
	"github.com/samuelfneumann/goppo/gae"
	"github.com/samuelfneumann/goppo/network"
	"github.com/samuelfneumann/goppo/normalizer"
)

// Agent is the learning core shared by the deterministic and Bayesian
// PPO variants. The two variants differ only in the layer factory
// their networks were built with, in the clipping range, and in
// whether the complexity (KL) loss term is active; every other piece
// of machinery is written once here.
//
// An Agent is owned by a single training loop that calls
// UpdateNormalization and Loss strictly sequentially. Nothing in the
// agent is safe for concurrent use.
type Agent struct {
	policy *network.FeedForward
	value  *network.FeedForward
	dist   *distribution.SquashedGaussian
	norm   *normalizer.Normalizer
	gae    *gae.Estimator

	epsilon        float64
	entropyCost    float64
	discounting    float64
	rewardScaling  float64
	complexityCost float64
	device         string
	seed           uint64
}

// New creates and returns a new deterministic PPO agent from the
// argument configuration. Its clipping range is the configured
// ClippingVal and its complexity loss is always exactly zero.
func New(config Config) (*Agent, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("new: %v", err)
	}

	factory := network.NewDeterministicFactory(config.Seed)
	return newAgent(config, factory, config.ClippingVal, 0.0)
}

// NewBayesian creates and returns a new PPO agent whose networks hold
// Gaussian posteriors over their weights. Its clipping range is fixed
// at BayesianEpsilon and its complexity loss weighs the networks'
// total KL divergence from their weight priors by ComplexityCost.
func NewBayesian(config BayesianConfig) (*Agent, error) {
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("newbayesian: %v", err)
	}

	factory := network.NewBayesianFactory(config.NumCellTypes, config.Seed)
	return newAgent(config.Config, factory, BayesianEpsilon,
		config.ComplexityCost)
}

// newAgent builds the agent machinery shared by both variants.
func newAgent(config Config, factory network.LayerFactory, epsilon,
	complexityCost float64) (*Agent, error) {
	policy, err := network.NewFeedForward(config.PolicyLayers, factory)
	if err != nil {
		return nil, fmt.Errorf("newagent: could not create policy "+
			"network: %v", err)
	}

	value, err := network.NewFeedForward(config.ValueLayers, factory)
	if err != nil {
		return nil, fmt.Errorf("newagent: could not create value "+
			"network: %v", err)
	}

	dist, err := distribution.New(config.actionDims(), config.Seed)
	if err != nil {
		return nil, fmt.Errorf("newagent: %v", err)
	}

	norm, err := normalizer.New(config.features())
	if err != nil {
		return nil, fmt.Errorf("newagent: %v", err)
	}

	estimator, err := gae.New(config.Discounting, Lambda)
	if err != nil {
		return nil, fmt.Errorf("newagent: %v", err)
	}

	return &Agent{
		policy:         policy,
		value:          value,
		dist:           dist,
		norm:           norm,
		gae:            estimator,
		epsilon:        epsilon,
		entropyCost:    config.EntropyCost,
		discounting:    config.Discounting,
		rewardScaling:  config.RewardScaling,
		complexityCost: complexityCost,
		device:         config.Device,
		seed:           config.Seed,
	}, nil
}

// Normalizer returns the agent's observation normalizer, e.g. so an
// external collaborator can checkpoint its state.
func (a *Agent) Normalizer() *normalizer.Normalizer {
	return a.norm
}

// PolicyWidths returns the ordered layer widths of the policy
// network.
func (a *Agent) PolicyWidths() []int {
	return a.policy.Widths()
}

// ValueWidths returns the ordered layer widths of the value network.
func (a *Agent) ValueWidths() []int {
	return a.value.Widths()
}

// Epsilon returns the agent's PPO clipping range.
func (a *Agent) Epsilon() float64 {
	return a.epsilon
}

// UpdateNormalization accumulates a batch of raw observations into
// the running normalization statistics. The training loop should call
// this once per iteration, before Loss.
func (a *Agent) UpdateNormalization(obs *tensor.Dense) error {
	if err := a.norm.Update(obs); err != nil {
		return fmt.Errorf("updatenormalization: %v", err)
	}
	return nil
}

// SelectAction runs the inference path on a single raw observation:
// normalize, run the policy network, and draw one action from the
// resulting distribution. It returns the raw policy logits and the
// pre-squash action; both are what belongs in a stored trajectory.
// Callers must apply distribution.Squash before handing the action to
// an environment.
func (a *Agent) SelectAction(obs mat.Vector) (logits,
	action *mat.VecDense, err error) {
	normalized, err := a.norm.NormalizeVec(obs)
	if err != nil {
		return nil, nil, fmt.Errorf("selectaction: %v", err)
	}

	input := mat.NewDense(1, normalized.Len(), normalized.RawVector().Data)
	logitsMat, err := a.policy.Forward(input)
	if err != nil {
		return nil, nil, fmt.Errorf("selectaction: %v", err)
	}

	loc, scale, err := a.dist.Create(logitsMat)
	if err != nil {
		return nil, nil, fmt.Errorf("selectaction: %v", err)
	}

	sample, err := a.dist.SamplePreSquash(loc, scale)
	if err != nil {
		return nil, nil, fmt.Errorf("selectaction: %v", err)
	}

	logits = mat.NewVecDense(a.policy.Outputs(),
		append([]float64(nil), logitsMat.RawRowView(0)...))
	action = mat.NewVecDense(a.dist.ActionDims(),
		append([]float64(nil), sample.RawRowView(0)...))
	return logits, action, nil
}
