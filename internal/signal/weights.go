package signal

import "sync"

// Weight bounds shared by every learned-weight store. Reinforcement never
// pushes a weight outside [WeightFloor, WeightCeil].
const (
	WeightFloor = 0.1
	WeightCeil  = 2.0
)

// ReinforceSteps holds the asymmetric, capped step sizes for one store.
// Wins move a weight up by profit*GainRate capped at GainCap; losses move it
// down by |profit|*LossRate capped at LossCap.
type ReinforceSteps struct {
	GainRate float64
	GainCap  float64
	LossRate float64
	LossCap  float64
}

// Weights is a thread-safe learned-weight store keyed by provider name or
// symbol. Unseen keys read as 1.0. Mutation happens only through Reinforce.
type Weights struct {
	mu    sync.RWMutex
	m     map[string]float64
	steps ReinforceSteps
}

// NewWeights creates an empty store with the given step sizes.
func NewWeights(steps ReinforceSteps) *Weights {
	return &Weights{m: make(map[string]float64), steps: steps}
}

// Get returns the current weight for key, 1.0 when the key is unseen.
func (w *Weights) Get(key string) float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if v, ok := w.m[key]; ok {
		return v
	}
	return 1.0
}

// Reinforce nudges the weight for key by the realized profit: up on wins,
// down on losses, with capped steps, clamped to [WeightFloor, WeightCeil].
func (w *Weights) Reinforce(key string, profit float64) float64 {
	w.mu.Lock()
	defer w.mu.Unlock()

	cur, ok := w.m[key]
	if !ok {
		cur = 1.0
	}

	var step float64
	if profit > 0 {
		step = profit * w.steps.GainRate
		if step > w.steps.GainCap {
			step = w.steps.GainCap
		}
	} else if profit < 0 {
		step = -(-profit) * w.steps.LossRate
		if step < -w.steps.LossCap {
			step = -w.steps.LossCap
		}
	}

	cur += step
	if cur < WeightFloor {
		cur = WeightFloor
	}
	if cur > WeightCeil {
		cur = WeightCeil
	}
	w.m[key] = cur
	return cur
}

// Mean returns the average weight across the given keys, 1.0 for an empty
// key list.
func (w *Weights) Mean(keys []string) float64 {
	if len(keys) == 0 {
		return 1.0
	}
	w.mu.RLock()
	defer w.mu.RUnlock()
	sum := 0.0
	for _, k := range keys {
		if v, ok := w.m[k]; ok {
			sum += v
		} else {
			sum += 1.0
		}
	}
	return sum / float64(len(keys))
}
