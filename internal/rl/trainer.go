package rl

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"robot-qlearning/internal/robot"
	"robot-qlearning/pkg/config"
	"robot-qlearning/pkg/logger"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gonum.org/v1/gonum/stat"
)

// TerminationReason says why an episode ended
type TerminationReason string

const (
	ReasonCollision         TerminationReason = "collision"
	ReasonDropout           TerminationReason = "dropout"
	ReasonMaxSteps          TerminationReason = "max_steps"
	ReasonCollaboratorError TerminationReason = "collaborator_error"
	ReasonCancelled         TerminationReason = "cancelled"
)

// EpisodeResult summarizes one finished episode
type EpisodeResult struct {
	Episode     int               `json:"episode"`
	Steps       int               `json:"steps"`
	TotalReward float64           `json:"total_reward"`
	Collisions  int               `json:"collisions"`
	Reason      TerminationReason `json:"reason"`
	Epsilon     float64           `json:"epsilon"`
	Duration    time.Duration     `json:"duration"`
	Err         error             `json:"-"`
}

// Summary aggregates a run
type Summary struct {
	RunID              string          `json:"run_id"`
	Episodes           int             `json:"episodes"`
	MeanReward         float64         `json:"mean_reward"`
	StdReward          float64         `json:"std_reward"`
	MeanSteps          float64         `json:"mean_steps"`
	Collisions         int             `json:"collisions"`
	CollaboratorErrors int             `json:"collaborator_errors"`
	Checkpoints        int             `json:"checkpoints"`
	Results            []EpisodeResult `json:"results"`
}

// Persister saves the table somewhere durable
type Persister interface {
	Save(ctx context.Context, t Table) error
}

// Recorder observes training progress
type Recorder interface {
	EpisodeStarted(episode int, epsilon float64)
	StepCompleted(reward float64)
	EpisodeFinished(result EpisodeResult)
	CheckpointSaved()
	TableRows(rows int)
}

// NopRecorder discards everything
type NopRecorder struct{}

func (NopRecorder) EpisodeStarted(int, float64)   {}
func (NopRecorder) StepCompleted(float64)         {}
func (NopRecorder) EpisodeFinished(EpisodeResult) {}
func (NopRecorder) CheckpointSaved()              {}
func (NopRecorder) TableRows(int)                 {}

// TrainerOption configures a Trainer
type TrainerOption func(*Trainer)

// WithPersister sets where checkpoints and the final table are saved
func WithPersister(p Persister) TrainerOption {
	return func(t *Trainer) { t.persister = p }
}

// WithRecorder attaches a progress recorder, e.g. Prometheus metrics
func WithRecorder(r Recorder) TrainerOption {
	return func(t *Trainer) { t.recorder = r }
}

// WithRand replaces the exploration random source
func WithRand(rng *rand.Rand) TrainerOption {
	return func(t *Trainer) { t.policy = NewEpsilonGreedy(rng) }
}

// WithRunID overrides the generated run identifier
func WithRunID(id string) TrainerOption {
	return func(t *Trainer) { t.runID = id }
}

// WithLogger sets the base log entry; run_id is added to it
func WithLogger(entry *logrus.Entry) TrainerOption {
	return func(t *Trainer) { t.log = entry }
}

// Trainer runs the episode loop:
//
//	EPISODE_START -> STEP -> {STEP | EPISODE_END}
//
// It is driven by a single goroutine and mutates the table without locks
type Trainer struct {
	params    *Params
	env       *Environment
	table     Table
	policy    *EpsilonGreedy
	sim       robot.Simulator
	persister Persister
	recorder  Recorder
	log       *logrus.Entry
	runID     string

	checkpoints int
}

// NewTrainer wires a run together. Simulation control is used when the
// environment's robot supports it. A table whose shape differs from the
// run's is rejected with a *config.ConfigurationError
func NewTrainer(params *Params, env *Environment, table Table, opts ...TrainerOption) (*Trainer, error) {
	if table.Shape() != params.Shape() {
		return nil, &config.ConfigurationError{
			Field:  "rl",
			Reason: fmt.Sprintf("table shape %s does not match configured shape %s", table.Shape(), params.Shape()),
		}
	}

	t := &Trainer{
		params:   params,
		env:      env,
		table:    table,
		recorder: NopRecorder{},
		runID:    uuid.NewString(),
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.policy == nil {
		t.policy = NewEpsilonGreedy(params.NewRand())
	}
	if t.log == nil {
		t.log = logrus.NewEntry(logger.GetLogger())
	}
	t.log = t.log.WithField("run_id", t.runID)

	if sim, ok := env.robot.(robot.Simulator); ok {
		t.sim = sim
	}
	return t, nil
}

// RunID identifies this run in logs and persisted revisions
func (t *Trainer) RunID() string { return t.runID }

// Table returns the table being trained
func (t *Trainer) Table() Table { return t.table }

// Run trains for the configured number of episodes. Collaborator errors
// end only the episode they occur in; persistence errors abort the run.
// Cancellation is honored between episodes: the table is saved once and
// the context error is returned wrapped
func (t *Trainer) Run(ctx context.Context) (Summary, error) {
	n := t.params.NumEpisodes
	results := make([]EpisodeResult, 0, n)
	t.recorder.TableRows(t.table.Len())

	t.log.WithFields(logrus.Fields{
		"episodes":  n,
		"max_steps": t.params.MaxSteps,
		"actions":   t.params.Actions.Names(),
		"shape":     t.table.Shape().String(),
		"simulator": t.sim != nil,
	}).Info("Training started")

	for ep := 0; ep < n; ep++ {
		if err := ctx.Err(); err != nil {
			return t.cancelled(ctx, results, ep, err)
		}

		res, err := t.runEpisode(ctx, ep, true)
		if err != nil {
			return t.summarize(results), err
		}
		results = append(results, res)

		if err := ctx.Err(); err != nil {
			return t.cancelled(ctx, results, ep+1, err)
		}

		switch {
		case ep == n-1:
			if err := t.persist(ctx, "final"); err != nil {
				return t.summarize(results), err
			}
		case t.params.CheckpointInterval > 0 && ep%t.params.CheckpointInterval == 0:
			if err := t.persist(ctx, "checkpoint"); err != nil {
				return t.summarize(results), err
			}
		}
	}

	summary := t.summarize(results)
	t.log.WithFields(logrus.Fields{
		"mean_reward":         summary.MeanReward,
		"collisions":          summary.Collisions,
		"collaborator_errors": summary.CollaboratorErrors,
		"checkpoints":         summary.Checkpoints,
	}).Info("Training finished")
	return summary, nil
}

func (t *Trainer) cancelled(ctx context.Context, results []EpisodeResult, next int, cause error) (Summary, error) {
	t.log.WithField("next_episode", next).Warn("Training cancelled, saving Q-table")
	if err := t.persist(ctx, "cancelled"); err != nil {
		return t.summarize(results), errors.Join(fmt.Errorf("training cancelled before episode %d: %w", next, cause), err)
	}
	return t.summarize(results), fmt.Errorf("training cancelled before episode %d: %w", next, cause)
}

// RunEpisode runs and learns from a single episode without persisting
func (t *Trainer) RunEpisode(ctx context.Context, episode int) (EpisodeResult, error) {
	return t.runEpisode(ctx, episode, true)
}

// Evaluate runs greedy episodes (epsilon 0) without updating the table
func (t *Trainer) Evaluate(ctx context.Context, episodes int) ([]EpisodeResult, error) {
	results := make([]EpisodeResult, 0, episodes)
	for ep := 0; ep < episodes; ep++ {
		if err := ctx.Err(); err != nil {
			return results, fmt.Errorf("evaluation cancelled before episode %d: %w", ep, err)
		}
		res, err := t.runEpisode(ctx, ep, false)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func (t *Trainer) runEpisode(ctx context.Context, episode int, learn bool) (EpisodeResult, error) {
	start := time.Now()
	epsilon := 0.0
	if learn {
		epsilon = t.params.Schedule.Epsilon(episode)
	}
	res := EpisodeResult{Episode: episode, Epsilon: epsilon}
	log := t.log.WithField("episode", episode)
	t.recorder.EpisodeStarted(episode, epsilon)

	err := t.episodeBody(ctx, &res, log, learn)
	t.stopSimulation(ctx, log)
	res.Duration = time.Since(start)

	var collab *robot.CollaboratorError
	switch {
	case err == nil:
	case errors.As(err, &collab):
		res.Err = err
		res.Reason = ReasonCollaboratorError
		if ctx.Err() != nil {
			res.Reason = ReasonCancelled
		}
		log.WithError(err).Warn("Episode ended by robot failure")
	default:
		return res, fmt.Errorf("episode %d: %w", episode, err)
	}

	t.recorder.EpisodeFinished(res)
	t.recorder.TableRows(t.table.Len())
	log.WithFields(logrus.Fields{
		"steps":        res.Steps,
		"total_reward": res.TotalReward,
		"epsilon":      res.Epsilon,
		"reason":       res.Reason,
	}).Info("Episode finished")
	return res, nil
}

func (t *Trainer) episodeBody(ctx context.Context, res *EpisodeResult, log *logrus.Entry, learn bool) error {
	if t.sim != nil {
		if err := t.sim.PlaySimulation(ctx); err != nil {
			return asCollaboratorError("play_simulation", err)
		}
	}

	state, _, err := t.env.Observe(ctx)
	if err != nil {
		return err
	}

	for res.Steps < t.params.MaxSteps {
		action, err := t.policy.Select(state, t.table, res.Epsilon)
		if err != nil {
			return err
		}

		step, err := t.env.Step(ctx, action)
		if err != nil {
			return err
		}

		if learn {
			if _, err := Update(t.table, state, action, step.Reward, step.Next, t.params.Alpha, t.params.Gamma); err != nil {
				return err
			}
		}

		res.Steps++
		res.TotalReward += step.Reward
		if step.Collision {
			res.Collisions++
		}
		t.recorder.StepCompleted(step.Reward)
		log.WithFields(logrus.Fields{
			"step":   res.Steps,
			"state":  state.Key(),
			"action": action,
			"next":   step.Next.Key(),
			"reward": step.Reward,
		}).Debug("Step")

		state = step.Next
		if step.Done {
			res.Reason = ReasonCollision
			if !step.Collision {
				res.Reason = ReasonDropout
			}
			return nil
		}
	}
	res.Reason = ReasonMaxSteps
	return nil
}

func (t *Trainer) stopSimulation(ctx context.Context, log *logrus.Entry) {
	if t.sim == nil {
		return
	}
	if err := t.sim.StopSimulation(context.WithoutCancel(ctx)); err != nil {
		log.WithError(err).Warn("Failed to stop simulation")
	}
}

func (t *Trainer) persist(ctx context.Context, why string) error {
	if t.persister == nil {
		return nil
	}
	if err := t.persister.Save(context.WithoutCancel(ctx), t.table); err != nil {
		return fmt.Errorf("save q-table (%s): %w", why, err)
	}
	t.checkpoints++
	t.recorder.CheckpointSaved()
	t.log.WithFields(logrus.Fields{"reason": why, "rows": t.table.Len()}).Info("Q-table saved")
	return nil
}

func (t *Trainer) summarize(results []EpisodeResult) Summary {
	s := Summary{
		RunID:       t.runID,
		Episodes:    len(results),
		Checkpoints: t.checkpoints,
		Results:     results,
	}
	if len(results) == 0 {
		return s
	}
	rewards := make([]float64, len(results))
	steps := make([]float64, len(results))
	for i, r := range results {
		rewards[i] = r.TotalReward
		steps[i] = float64(r.Steps)
		s.Collisions += r.Collisions
		if r.Reason == ReasonCollaboratorError {
			s.CollaboratorErrors++
		}
	}
	s.MeanReward = stat.Mean(rewards, nil)
	s.MeanSteps = stat.Mean(steps, nil)
	if len(rewards) > 1 {
		s.StdReward = stat.StdDev(rewards, nil)
	}
	return s
}
