package rl

import (
	"context"
	"errors"
	"time"

	"robot-qlearning/internal/robot"
)

// StepResult is what one environment step observed
type StepResult struct {
	Next      State
	Reward    float64
	Done      bool
	Collision bool
	Dropout   bool
	Readings  []float64
}

// Environment executes actions against a robot and scores the outcome
type Environment struct {
	robot    robot.Robot
	params   *Params
	blocking bool
	settle   time.Duration
}

// NewEnvironment binds a robot to a run. Blocking selects MoveBlocking
// over Move; settle is slept after every command before reading sensors
func NewEnvironment(r robot.Robot, params *Params, blocking bool, settle time.Duration) *Environment {
	return &Environment{robot: r, params: params, blocking: blocking, settle: settle}
}

// Observe reads and discretizes the sensors without acting
func (e *Environment) Observe(ctx context.Context) (State, []float64, error) {
	raw, err := e.robot.ReadIRs(ctx)
	if err != nil {
		return nil, nil, asCollaboratorError("read_irs", err)
	}
	sel, err := e.params.Discretizer.Select(raw)
	if err != nil {
		return nil, nil, err
	}
	return e.params.Discretizer.Discretize(sel), sel, nil
}

// Step runs one action. It never decides episode length; Done only
// reflects a collision or total sensor dropout
func (e *Environment) Step(ctx context.Context, actionIdx int) (StepResult, error) {
	action, err := e.params.Actions.At(actionIdx)
	if err != nil {
		return StepResult{}, err
	}

	if e.blocking {
		err = e.robot.MoveBlocking(ctx, action.LeftSpeed, action.RightSpeed, action.DurationMs)
	} else {
		err = e.robot.Move(ctx, action.LeftSpeed, action.RightSpeed, action.DurationMs)
	}
	if err != nil {
		return StepResult{}, asCollaboratorError("move", err)
	}
	if err := e.robot.Sleep(ctx, e.settle); err != nil {
		return StepResult{}, asCollaboratorError("sleep", err)
	}

	next, readings, err := e.Observe(ctx)
	if err != nil {
		return StepResult{}, err
	}

	reward, collision := e.params.Reward.Reward(next, actionIdx, action)
	dropout := e.params.DropoutTerminates && Dropout(next)
	return StepResult{
		Next:      next,
		Reward:    reward,
		Done:      collision || dropout,
		Collision: collision,
		Dropout:   dropout,
		Readings:  readings,
	}, nil
}

// asCollaboratorError makes sure failures from a robot are contained as
// collaborator errors even if the implementation returned a plain error
func asCollaboratorError(op string, err error) error {
	var ce *robot.CollaboratorError
	if errors.As(err, &ce) {
		return err
	}
	return &robot.CollaboratorError{Op: op, Err: err}
}
