package agent

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"

	"github.com/samuelfneumann/goppo/trajectory"
	"github.com/samuelfneumann/goppo/utils/floatutils"
)

// LossBundle holds the four PPO loss terms and their unweighted sum.
// An external optimizer consumes these to perform a gradient step.
//
// Complexity is exactly zero for deterministic agents. For Bayesian
// agents it weighs the KL divergence between every weight posterior
// and its prior, which is what keeps the posterior close to the prior
// during training.
type LossBundle struct {
	Total      float64
	Policy     float64
	Value      float64
	Entropy    float64
	Complexity float64
}

// Loss assembles the PPO losses for one trajectory:
//
//  1. Normalize observations; run the policy on all but the bootstrap
//     step and the value function on every step.
//  2. Scale rewards and derive true terminations from the done and
//     truncation masks: a step that is done only because of a time
//     limit is not a true termination and may still bootstrap.
//  3. Score the stored pre-squash actions under both the stored
//     behavior logits and the current policy's logits.
//  4. Estimate advantages and value targets with GAE(λ); these are
//     fixed targets, nothing differentiates through them.
//  5. Combine importance ratios and advantages in the clipped
//     surrogate, add the value regression, entropy, and complexity
//     terms.
func (a *Agent) Loss(traj *trajectory.Trajectory) (*LossBundle, error) {
	if err := traj.Validate(); err != nil {
		return nil, fmt.Errorf("loss: %v", err)
	}
	if traj.ObsDims() != a.norm.Features() {
		return nil, fmt.Errorf("loss: invalid observation features "+
			"\n\twant(%v) \n\thave(%v)", a.norm.Features(), traj.ObsDims())
	}
	if traj.ActionDims() != a.dist.ActionDims() {
		return nil, fmt.Errorf("loss: invalid action dimensions "+
			"\n\twant(%v) \n\thave(%v)", a.dist.ActionDims(),
			traj.ActionDims())
	}

	steps := traj.Steps()
	batch := traj.BatchSize()
	features := traj.ObsDims()

	normalized, err := a.norm.Normalize(traj.Observation)
	if err != nil {
		return nil, fmt.Errorf("loss: %v", err)
	}
	allObs := mat.NewDense((steps+1)*batch, features,
		normalized.Data().([]float64))
	policyObs := allObs.Slice(0, steps*batch, 0, features).(*mat.Dense)

	policyLogits, err := a.policy.Forward(policyObs)
	if err != nil {
		return nil, fmt.Errorf("loss: could not run policy network: %v", err)
	}

	baselineAll, err := a.value.Forward(allObs)
	if err != nil {
		return nil, fmt.Errorf("loss: could not run value network: %v", err)
	}

	// The baseline at the extra observation step seeds the GAE
	// recurrence; the rest aligns with the rollout steps.
	baseline := mat.NewDense(steps, batch, nil)
	for t := 0; t < steps; t++ {
		for b := 0; b < batch; b++ {
			baseline.Set(t, b, baselineAll.At(t*batch+b, 0))
		}
	}
	bootstrap := make([]float64, batch)
	for b := 0; b < batch; b++ {
		bootstrap[b] = baselineAll.At(steps*batch+b, 0)
	}

	scaledReward := mat.NewDense(steps, batch, nil)
	scaledReward.Scale(a.rewardScaling, traj.Reward)

	termination := mat.NewDense(steps, batch, nil)
	for t := 0; t < steps; t++ {
		for b := 0; b < batch; b++ {
			termination.Set(t, b,
				traj.Done.At(t, b)*(1.0-traj.Truncation.At(t, b)))
		}
	}

	actions, err := traj.ActionMatrix()
	if err != nil {
		return nil, fmt.Errorf("loss: %v", err)
	}
	behaviorLogits, err := traj.LogitsMatrix()
	if err != nil {
		return nil, fmt.Errorf("loss: %v", err)
	}

	behaviorLoc, behaviorScale, err := a.dist.Create(behaviorLogits)
	if err != nil {
		return nil, fmt.Errorf("loss: could not create behavior "+
			"distribution: %v", err)
	}
	behaviorLogProb, err := a.dist.LogProb(behaviorLoc, behaviorScale,
		actions)
	if err != nil {
		return nil, fmt.Errorf("loss: %v", err)
	}

	targetLoc, targetScale, err := a.dist.Create(policyLogits)
	if err != nil {
		return nil, fmt.Errorf("loss: could not create target "+
			"distribution: %v", err)
	}
	targetLogProb, err := a.dist.LogProb(targetLoc, targetScale, actions)
	if err != nil {
		return nil, fmt.Errorf("loss: %v", err)
	}

	valueTargets, advantages, err := a.gae.Estimate(traj.Truncation,
		termination, scaledReward, baseline, bootstrap)
	if err != nil {
		return nil, fmt.Errorf("loss: %v", err)
	}

	policyLoss := clippedSurrogate(targetLogProb, behaviorLogProb,
		advantages, a.epsilon)

	// Value function loss, mean squared error scaled by 0.5 * 0.5
	valueLoss := 0.0
	for t := 0; t < steps; t++ {
		for b := 0; b < batch; b++ {
			vErr := valueTargets.At(t, b) - baseline.At(t, b)
			valueLoss += vErr * vErr
		}
	}
	valueLoss = valueLoss / float64(steps*batch) * 0.25

	entropy, err := a.dist.Entropy(targetLoc, targetScale)
	if err != nil {
		return nil, fmt.Errorf("loss: %v", err)
	}
	entropyLoss := -a.entropyCost * stat.Mean(entropy.RawVector().Data, nil)

	complexityLoss := a.complexityCost * (a.policy.KL() + a.value.KL())

	return &LossBundle{
		Total:      policyLoss + valueLoss + entropyLoss + complexityLoss,
		Policy:     policyLoss,
		Value:      valueLoss,
		Entropy:    entropyLoss,
		Complexity: complexityLoss,
	}, nil
}

// clippedSurrogate computes the clipped PPO surrogate policy loss
// from target and behavior log probabilities and fixed advantages:
// the negated mean of min(ρ·A, clip(ρ, 1-ε, 1+ε)·A) with importance
// ratio ρ = exp(target - behavior).
func clippedSurrogate(targetLogProb, behaviorLogProb *mat.VecDense,
	advantages *mat.Dense, epsilon float64) float64 {
	adv := advantages.RawMatrix().Data

	total := 0.0
	for i := 0; i < targetLogProb.Len(); i++ {
		rho := math.Exp(targetLogProb.AtVec(i) - behaviorLogProb.AtVec(i))
		clipped := floatutils.Clip(rho, 1.0-epsilon, 1.0+epsilon)
		total += floatutils.Min(rho*adv[i], clipped*adv[i])
	}

	return -total / float64(targetLogProb.Len())
}
