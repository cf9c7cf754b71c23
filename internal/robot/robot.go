// Package robot defines the capability set the learner needs from a robot
// and ships the collaborators that provide it
package robot

import (
	"context"
	"fmt"
	"time"
)

// Robobo base IR sensor order as reported by ReadIRs
const (
	IRBackL = iota
	IRBackR
	IRFrontL
	IRFrontR
	IRFrontC
	IRFrontRR
	IRBackC
	IRFrontLL

	NumIRSensors
)

// Robot is the capability set every collaborator supports
type Robot interface {
	// ReadIRs returns raw IR readings. +Inf means nothing was detected
	ReadIRs(ctx context.Context) ([]float64, error)
	// Move starts a motor command and returns without waiting for it
	Move(ctx context.Context, leftSpeed, rightSpeed, durationMs int) error
	// MoveBlocking returns once the motor command has completed
	MoveBlocking(ctx context.Context, leftSpeed, rightSpeed, durationMs int) error
	Sleep(ctx context.Context, d time.Duration) error
}

// Simulator is implemented by collaborators with explicit simulation control
type Simulator interface {
	PlaySimulation(ctx context.Context) error
	StopSimulation(ctx context.Context) error
}

// CollaboratorError wraps any failure while talking to the robot
type CollaboratorError struct {
	Op  string
	Err error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("robot %s: %v", e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

func collabErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &CollaboratorError{Op: op, Err: err}
}

// sleepCtx waits for d or until ctx is done
func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
