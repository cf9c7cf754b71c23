package rl

import (
	"math/rand"
	"time"

	"robot-qlearning/pkg/config"
)

// Params is the immutable description of a run, built once from
// configuration and shared by every component
type Params struct {
	Discretizer *Discretizer
	Encoder     *Encoder
	Actions     *ActionSet
	Reward      RewardModel
	Schedule    Schedule

	Alpha float64
	Gamma float64

	NumEpisodes        int
	MaxSteps           int
	CheckpointInterval int
	DropoutTerminates  bool

	TableEncoding string
	TableInit     string
	Seed          int64
}

// NewParams validates the learning configuration and builds a Params.
// Invalid parameters are reported as *config.ConfigurationError
func NewParams(cfg config.RLConfig) (*Params, error) {
	if err := config.ValidateRL(&cfg); err != nil {
		return nil, err
	}

	actions, err := NewActionSet(cfg.Actions)
	if err != nil {
		return nil, err
	}
	disc := NewDiscretizer(cfg.Thresholds, cfg.SensorIndices, cfg.NoDetectionAbove, cfg.RoundReadings)
	enc, err := NewEncoder(cfg.NumBins, cfg.SensorCount())
	if err != nil {
		return nil, &config.ConfigurationError{Field: "rl.num_bins", Reason: err.Error()}
	}

	forward := -1
	if cfg.Reward.ForwardAction != "" {
		forward, _ = actions.Index(cfg.Reward.ForwardAction)
	}

	var schedule Schedule = ConstantSchedule{Rate: cfg.ExplorationRate}
	if cfg.ExplorationSchedule == "decay" {
		schedule = DecaySchedule{Decay: cfg.ExplorationDecay, Min: cfg.MinExploration}
	}

	return &Params{
		Discretizer: disc,
		Encoder:     enc,
		Actions:     actions,
		Reward: RewardModel{
			CollisionPenalty: cfg.Reward.CollisionPenalty,
			BaseReward:       cfg.Reward.BaseReward,
			ForwardBonus:     cfg.Reward.ForwardBonus,
			ForwardIndex:     forward,
			NumBins:          cfg.NumBins,
		},
		Schedule:           schedule,
		Alpha:              cfg.LearningRate,
		Gamma:              cfg.DiscountFactor,
		NumEpisodes:        cfg.NumEpisodes,
		MaxSteps:           cfg.MaxSteps,
		CheckpointInterval: cfg.CheckpointInterval,
		DropoutTerminates:  cfg.DropoutTerminates,
		TableEncoding:      cfg.TableEncoding,
		TableInit:          cfg.TableInit,
		Seed:               cfg.Seed,
	}, nil
}

// Shape is the table shape this run expects
func (s *Params) Shape() Shape {
	return Shape{
		NumBins:    s.Discretizer.NumBins(),
		NumSensors: s.Discretizer.NumSensors(),
		NumActions: s.Actions.Len(),
	}
}

// NewRand returns the run's random source. Seed 0 seeds from the clock
func (s *Params) NewRand() *rand.Rand {
	seed := s.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

// Fill returns the configured fill policy for new rows
func (s *Params) Fill(rng *rand.Rand) Fill {
	if s.TableInit == "random" {
		return RandomFill(rng)
	}
	return ZeroFill
}

// NewTable builds a fresh, fully populated table for this run
func (s *Params) NewTable(rng *rand.Rand) (Table, error) {
	return NewTable(s.TableEncoding, s.Shape(), s.Fill(rng))
}
