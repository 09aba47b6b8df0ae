package agent

import (
	"fmt"
)

// Lambda is the GAE(λ) coefficient used by every agent.
const Lambda float64 = 0.95

// BayesianEpsilon is the clipping range of Bayesian agents. Unlike
// deterministic agents, whose clipping range comes from their
// configuration, Bayesian agents always clip at 0.3.
const BayesianEpsilon float64 = 0.3

// Config describes a deterministic PPO agent. PolicyLayers and
// ValueLayers list the ordered widths of each network, input width
// first: the final policy width must be twice the number of action
// dimensions (location and raw scale per dimension) and the final
// value width must be 1.
//
// Device records the compute device the external training loop
// intends to place the agent on; the core itself is device-agnostic.
type Config struct {
	ClippingVal   float64 `json:"clipping_val"`
	PolicyLayers  []int   `json:"policy_layers"`
	ValueLayers   []int   `json:"value_layers"`
	EntropyCost   float64 `json:"entropy_cost"`
	Discounting   float64 `json:"discounting"`
	RewardScaling float64 `json:"reward_scaling"`
	Device        string  `json:"device"`
	Seed          uint64  `json:"seed"`
}

// Validate returns an error describing the first problem found with
// the configuration, or nil if the configuration is usable.
func (c Config) Validate() error {
	if err := c.validateShared(); err != nil {
		return err
	}
	if c.ClippingVal <= 0.0 {
		return fmt.Errorf("clipping value must be positive \n\thave(%v)",
			c.ClippingVal)
	}
	return nil
}

// validateShared checks the parts of the configuration shared by both
// agent variants. The clipping value is excluded: Bayesian agents
// ignore it.
func (c Config) validateShared() error {
	if len(c.PolicyLayers) < 2 {
		return fmt.Errorf("policy layers need at least an input and an "+
			"output width \n\thave(%v)", c.PolicyLayers)
	}
	if len(c.ValueLayers) < 2 {
		return fmt.Errorf("value layers need at least an input and an "+
			"output width \n\thave(%v)", c.ValueLayers)
	}
	for _, w := range append(append([]int(nil), c.PolicyLayers...),
		c.ValueLayers...) {
		if w <= 0 {
			return fmt.Errorf("layer widths must be positive \n\thave(%v)", w)
		}
	}
	if c.PolicyLayers[0] != c.ValueLayers[0] {
		return fmt.Errorf("policy and value networks must share an input "+
			"width \n\thave(%v, %v)", c.PolicyLayers[0], c.ValueLayers[0])
	}

	policyOut := c.PolicyLayers[len(c.PolicyLayers)-1]
	if policyOut%2 != 0 {
		return fmt.Errorf("final policy width must split evenly into "+
			"location and scale \n\thave(%v)", policyOut)
	}

	if valueOut := c.ValueLayers[len(c.ValueLayers)-1]; valueOut != 1 {
		return fmt.Errorf("final value width must be 1 \n\thave(%v)",
			valueOut)
	}

	if c.Discounting < 0.0 || c.Discounting > 1.0 {
		return fmt.Errorf("discounting must be in [0, 1] \n\thave(%v)",
			c.Discounting)
	}

	return nil
}

// features returns the observation feature count the configuration
// implies.
func (c Config) features() int {
	return c.PolicyLayers[0]
}

// actionDims returns the action dimension count the configuration
// implies.
func (c Config) actionDims() int {
	return c.PolicyLayers[len(c.PolicyLayers)-1] / 2
}

// BayesianConfig describes a Bayesian PPO agent. On top of the
// deterministic configuration it carries the weight of the KL
// regularizer and the number of cell types the posterior scale
// parameters are grouped by. The embedded ClippingVal is ignored;
// Bayesian agents clip at BayesianEpsilon.
type BayesianConfig struct {
	Config
	ComplexityCost float64 `json:"complexity_cost"`
	NumCellTypes   int     `json:"number_of_cell_types"`
}

// Validate returns an error describing the first problem found with
// the configuration, or nil if the configuration is usable.
func (c BayesianConfig) Validate() error {
	if err := c.Config.validateShared(); err != nil {
		return err
	}
	if c.NumCellTypes <= 0 {
		return fmt.Errorf("number of cell types must be positive "+
			"\n\thave(%v)", c.NumCellTypes)
	}
	if c.ComplexityCost < 0.0 {
		return fmt.Errorf("complexity cost cannot be negative \n\thave(%v)",
			c.ComplexityCost)
	}
	return nil
}
