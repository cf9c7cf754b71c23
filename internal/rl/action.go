package rl

import (
	"fmt"

	"robot-qlearning/pkg/config"
)

// Action is a named motor command
type Action struct {
	Name         string
	LeftSpeed    int
	RightSpeed   int
	DurationMs   int
	MovementCost float64
}

// ActionSet is the ordered, immutable list of actions. An action's
// position is its identifier in every Q-table row
type ActionSet struct {
	actions []Action
	index   map[string]int
}

// NewActionSet builds the set from configuration
func NewActionSet(cfgs []config.ActionConfig) (*ActionSet, error) {
	if len(cfgs) == 0 {
		return nil, &config.ConfigurationError{Field: "rl.actions", Reason: "action set must not be empty"}
	}
	as := &ActionSet{
		actions: make([]Action, len(cfgs)),
		index:   make(map[string]int, len(cfgs)),
	}
	for i, c := range cfgs {
		if _, dup := as.index[c.Name]; dup {
			return nil, &config.ConfigurationError{Field: "rl.actions", Reason: fmt.Sprintf("duplicate action name %q", c.Name)}
		}
		as.actions[i] = Action{
			Name:         c.Name,
			LeftSpeed:    c.LeftSpeed,
			RightSpeed:   c.RightSpeed,
			DurationMs:   c.DurationMs,
			MovementCost: c.MovementCost,
		}
		as.index[c.Name] = i
	}
	return as, nil
}

// Len returns the number of actions
func (as *ActionSet) Len() int { return len(as.actions) }

// At returns the action at index i
func (as *ActionSet) At(i int) (Action, error) {
	if i < 0 || i >= len(as.actions) {
		return Action{}, fmt.Errorf("action index %d outside [0, %d)", i, len(as.actions))
	}
	return as.actions[i], nil
}

// Index looks an action up by name
func (as *ActionSet) Index(name string) (int, bool) {
	i, ok := as.index[name]
	return i, ok
}

// Names lists action names in index order
func (as *ActionSet) Names() []string {
	names := make([]string, len(as.actions))
	for i, a := range as.actions {
		names[i] = a.Name
	}
	return names
}
