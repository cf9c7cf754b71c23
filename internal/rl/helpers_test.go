package rl

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"robot-qlearning/pkg/config"
)

const (
	safeReading   = 5.0  // bin 1
	severeReading = 20.0 // bin 4
)

func testRLConfig() config.RLConfig {
	return config.RLConfig{
		NumBins:       5,
		SensorIndices: []int{0, 1, 2},
		Thresholds:    []float64{4, 7, 10, 15},
		Actions: []config.ActionConfig{
			{Name: "forward", LeftSpeed: 50, RightSpeed: 50, DurationMs: 1000},
			{Name: "left", LeftSpeed: 50, RightSpeed: -10, DurationMs: 500},
			{Name: "right", LeftSpeed: -10, RightSpeed: 50, DurationMs: 500},
		},
		TableEncoding:       EncodingSparse,
		TableInit:           "zero",
		LearningRate:        0.1,
		DiscountFactor:      0.9,
		ExplorationSchedule: "constant",
		ExplorationRate:     0,
		NumEpisodes:         1,
		MaxSteps:            3,
		CheckpointInterval:  10,
		Seed:                42,
		Reward: config.RewardConfig{
			CollisionPenalty: -50,
			BaseReward:       1,
			ForwardBonus:     10,
			ForwardAction:    "forward",
		},
	}
}

func testParams(t *testing.T, mut func(*config.RLConfig)) *Params {
	t.Helper()
	cfg := testRLConfig()
	if mut != nil {
		mut(&cfg)
	}
	params, err := NewParams(cfg)
	if err != nil {
		t.Fatalf("NewParams: %v", err)
	}
	return params
}

func testTable(t *testing.T, params *Params) Table {
	t.Helper()
	table, err := params.NewTable(rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("NewTable: %v", err)
	}
	return table
}

func uniform(v float64) []float64 { return []float64{v, v, v} }

// scriptedRobot replays IR readings, one vector per ReadIRs call, and
// repeats the last one once the script runs out
type scriptedRobot struct {
	script  [][]float64
	reads   int
	moves   int
	blocked int
	sleeps  []time.Duration

	failMoveAt int // 1-based move number that fails; 0 never
}

func (r *scriptedRobot) ReadIRs(ctx context.Context) ([]float64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	i := r.reads
	if i >= len(r.script) {
		i = len(r.script) - 1
	}
	r.reads++
	return append([]float64(nil), r.script[i]...), nil
}

func (r *scriptedRobot) Move(ctx context.Context, l, rt, d int) error {
	r.moves++
	if r.moves == r.failMoveAt {
		return errors.New("wheel controller unreachable")
	}
	return nil
}

func (r *scriptedRobot) MoveBlocking(ctx context.Context, l, rt, d int) error {
	r.blocked++
	return r.Move(ctx, l, rt, d)
}

func (r *scriptedRobot) Sleep(ctx context.Context, d time.Duration) error {
	r.sleeps = append(r.sleeps, d)
	return nil
}

// scriptedSim adds simulation control and resets the script on play
type scriptedSim struct {
	scriptedRobot
	plays, stops int
	failPlay     bool
}

func (s *scriptedSim) PlaySimulation(ctx context.Context) error {
	s.plays++
	if s.failPlay {
		return errors.New("simulator not running")
	}
	s.reads = 0
	return nil
}

func (s *scriptedSim) StopSimulation(ctx context.Context) error {
	s.stops++
	return nil
}

type countingPersister struct {
	saves int
	err   error
	last  Table
}

func (p *countingPersister) Save(ctx context.Context, t Table) error {
	if p.err != nil {
		return p.err
	}
	p.saves++
	p.last = t
	return nil
}

func snapshot(t Table) map[string][]float64 {
	out := make(map[string][]float64)
	t.Range(func(s State, row []float64) bool {
		out[s.Key()] = row
		return true
	})
	return out
}
