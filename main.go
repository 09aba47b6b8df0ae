package main

import (
	"fmt"

	"golang.org/x/exp/rand"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat/distuv"
	"gorgonia.org/tensor"

	"github.com/samuelfneumann/goppo/agent"
	"github.com/samuelfneumann/goppo/distribution"
	"github.com/samuelfneumann/goppo/trajectory"
	"github.com/samuelfneumann/goppo/utils/matutils"
)

// Rollout dimensions for the demo
const (
	steps    = 8
	batch    = 4
	features = 6
	actions  = 2
)

func main() {
	var seed uint64 = 192382

	config := agent.Config{
		ClippingVal:   0.2,
		PolicyLayers:  []int{features, 32, 32, 2 * actions},
		ValueLayers:   []int{features, 32, 32, 1},
		EntropyCost:   1e-2,
		Discounting:   0.99,
		RewardScaling: 0.1,
		Device:        "cpu",
		Seed:          seed,
	}

	ppo, err := agent.New(config)
	if err != nil {
		panic(err)
	}

	traj, err := rollout(ppo, seed)
	if err != nil {
		panic(err)
	}

	// The training loop updates normalization statistics once per
	// iteration, before computing losses.
	if err := ppo.UpdateNormalization(traj.Observation); err != nil {
		panic(err)
	}

	losses, err := ppo.Loss(traj)
	if err != nil {
		panic(err)
	}
	fmt.Println("=== Deterministic agent ===")
	printLosses(losses)

	bayesConfig := agent.BayesianConfig{
		Config:         config,
		ComplexityCost: 1e-4,
		NumCellTypes:   4,
	}
	bayes, err := agent.NewBayesian(bayesConfig)
	if err != nil {
		panic(err)
	}
	if err := bayes.UpdateNormalization(traj.Observation); err != nil {
		panic(err)
	}

	bayesLosses, err := bayes.Loss(traj)
	if err != nil {
		panic(err)
	}
	fmt.Println("=== Bayesian agent ===")
	printLosses(bayesLosses)

	// Distill the Bayesian agent into a deterministic one holding the
	// posterior mean weights.
	mean, err := bayes.MeanAgent(config.ClippingVal, config.EntropyCost)
	if err != nil {
		panic(err)
	}
	meanLosses, err := mean.Loss(traj)
	if err != nil {
		panic(err)
	}
	fmt.Println("=== Extracted mean agent ===")
	printLosses(meanLosses)

	obs := mat.NewVecDense(features, nil)
	_, action, err := mean.SelectAction(obs)
	if err != nil {
		panic(err)
	}
	fmt.Println("sampled action:",
		matutils.Format(distribution.Squash(action).T()))
}

// rollout fabricates a synthetic trajectory. Observations and rewards
// come from a fixed-seed Gaussian; actions and behavior logits come
// from the agent's own inference path so that the stored data is
// coherent. The final step terminates half the environments and
// truncates the other half.
func rollout(ppo *agent.Agent, seed uint64) (*trajectory.Trajectory, error) {
	src := rand.NewSource(seed)
	gauss := distuv.Normal{Mu: 0.0, Sigma: 1.0, Src: src}

	obsData := make([]float64, (steps+1)*batch*features)
	for i := range obsData {
		obsData[i] = gauss.Rand()
	}
	observation := tensor.New(
		tensor.WithShape(steps+1, batch, features),
		tensor.WithBacking(obsData),
	)

	reward := mat.NewDense(steps, batch, nil)
	done := mat.NewDense(steps, batch, nil)
	truncation := mat.NewDense(steps, batch, nil)
	actionData := make([]float64, steps*batch*actions)
	logitData := make([]float64, steps*batch*2*actions)

	for t := 0; t < steps; t++ {
		for b := 0; b < batch; b++ {
			start := (t*batch + b) * features
			obs := mat.NewVecDense(features, obsData[start:start+features])

			logits, action, err := ppo.SelectAction(obs)
			if err != nil {
				return nil, err
			}
			copy(actionData[(t*batch+b)*actions:], action.RawVector().Data)
			copy(logitData[(t*batch+b)*2*actions:], logits.RawVector().Data)

			reward.Set(t, b, gauss.Rand())
		}
	}
	for b := 0; b < batch; b++ {
		done.Set(steps-1, b, 1.0)
		if b%2 == 0 {
			truncation.Set(steps-1, b, 1.0)
		}
	}

	return trajectory.New(
		observation,
		reward,
		done,
		truncation,
		tensor.New(tensor.WithShape(steps, batch, actions),
			tensor.WithBacking(actionData)),
		tensor.New(tensor.WithShape(steps, batch, 2*actions),
			tensor.WithBacking(logitData)),
	)
}

func printLosses(losses *agent.LossBundle) {
	fmt.Printf("total: %v\n", losses.Total)
	fmt.Printf("\tpolicy: %v\n", losses.Policy)
	fmt.Printf("\tvalue: %v\n", losses.Value)
	fmt.Printf("\tentropy: %v\n", losses.Entropy)
	fmt.Printf("\tcomplexity: %v\n", losses.Complexity)
}
