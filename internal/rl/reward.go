package rl

// RewardModel scores a transition from the state it led to
type RewardModel struct {
	CollisionPenalty float64
	BaseReward       float64
	ForwardBonus     float64
	// ForwardIndex is the action that earns ForwardBonus; -1 for none
	ForwardIndex int
	NumBins      int
}

// Collision reports whether any sensor is in the most severe bin
func (m RewardModel) Collision(s State) bool {
	for _, b := range s {
		if b == m.NumBins-1 {
			return true
		}
	}
	return false
}

// Dropout reports whether every sensor reads nothing, which on a platform
// means the robot has left the floor
func Dropout(s State) bool {
	for _, b := range s {
		if b != 0 {
			return false
		}
	}
	return len(s) > 0
}

// Reward returns the reward for taking action (at index actionIdx) and
// landing in next, and whether that was a collision
func (m RewardModel) Reward(next State, actionIdx int, action Action) (float64, bool) {
	if m.Collision(next) {
		return m.CollisionPenalty, true
	}
	r := m.BaseReward
	if actionIdx == m.ForwardIndex {
		r += m.ForwardBonus
	}
	return r - action.MovementCost, false
}
