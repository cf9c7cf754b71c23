package rl

import (
	"math"
	"math/rand"
)

// Schedule gives the exploration rate for an episode
type Schedule interface {
	Epsilon(episode int) float64
}

// ConstantSchedule explores at a fixed rate
type ConstantSchedule struct {
	Rate float64
}

func (c ConstantSchedule) Epsilon(int) float64 { return c.Rate }

// DecaySchedule is max(Min, Decay^episode)
type DecaySchedule struct {
	Decay float64
	Min   float64
}

func (d DecaySchedule) Epsilon(episode int) float64 {
	return GetEpsilon(episode, d.Min, d.Decay)
}

// GetEpsilon is the decayed exploration rate, floored at minEpsilon
func GetEpsilon(episode int, minEpsilon, decay float64) float64 {
	return math.Max(minEpsilon, math.Pow(decay, float64(episode)))
}

// EpsilonGreedy picks a uniformly random action with probability epsilon
// and the greedy one otherwise
type EpsilonGreedy struct {
	rng *rand.Rand
}

// NewEpsilonGreedy uses rng for every exploration decision
func NewEpsilonGreedy(rng *rand.Rand) *EpsilonGreedy {
	return &EpsilonGreedy{rng: rng}
}

// Choose selects an index into row
func (p *EpsilonGreedy) Choose(row []float64, epsilon float64) int {
	if epsilon > 0 && p.rng.Float64() < epsilon {
		return p.rng.Intn(len(row))
	}
	return Greedy(row)
}

// Select chooses an action for s from the table
func (p *EpsilonGreedy) Select(s State, t Table, epsilon float64) (int, error) {
	row, err := t.Row(s)
	if err != nil {
		return 0, err
	}
	return p.Choose(row, epsilon), nil
}

// Update applies one Q-learning step and returns the new Q[s][a]:
//
//	Q[s][a] ← Q[s][a] + alpha * (r + gamma * max_a' Q[s'][a'] − Q[s][a])
func Update(t Table, s State, action int, reward float64, next State, alpha, gamma float64) (float64, error) {
	row, err := t.Row(s)
	if err != nil {
		return 0, err
	}
	if err := checkAction(t.Shape(), action); err != nil {
		return 0, err
	}
	maxNext, err := MaxValue(t, next)
	if err != nil {
		return 0, err
	}
	q := row[action]
	q += alpha * (reward + gamma*maxNext - q)
	return q, t.Set(s, action, q)
}
