package config

import (
	"errors"
	"fmt"
	"math"
)

// ConfigurationError reports an invalid parameter or parameter combination
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s: %s", e.Field, e.Reason)
}

func invalid(field, format string, args ...interface{}) error {
	return &ConfigurationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks the whole configuration. All problems are reported at
// once; each one is a *ConfigurationError
func Validate(c *Config) error {
	var errs []error

	switch c.Logging.Format {
	case "json", "text":
	default:
		errs = append(errs, invalid("logging.format", "must be 'json' or 'text', got %q", c.Logging.Format))
	}

	if c.Metrics.Enabled && (c.Metrics.Port <= 0 || c.Metrics.Port > 65535) {
		errs = append(errs, invalid("metrics.port", "must be between 1 and 65535, got %d", c.Metrics.Port))
	}

	switch c.Persistence.Backend {
	case "file", "sqlite":
	default:
		errs = append(errs, invalid("persistence.backend", "must be 'file' or 'sqlite', got %q", c.Persistence.Backend))
	}
	if c.Persistence.TablePath == "" {
		errs = append(errs, invalid("persistence.table_path", "must not be empty"))
	}
	if c.Persistence.BackupCount < 0 {
		errs = append(errs, invalid("persistence.backup_count", "must not be negative, got %d", c.Persistence.BackupCount))
	}

	errs = append(errs, validateRobot(&c.Robot))

	errs = append(errs, ValidateRL(&c.RL))

	return errors.Join(errs...)
}

func validateRobot(r *RobotConfig) error {
	var errs []error

	switch r.Mode {
	case "simulation":
		s := r.Simulator
		if s.ArenaWidth <= 0 || s.ArenaHeight <= 0 {
			errs = append(errs, invalid("robot.simulator.arena_width/arena_height", "must be positive"))
		}
		if s.WheelBase <= 0 {
			errs = append(errs, invalid("robot.simulator.wheel_base", "must be positive, got %v", s.WheelBase))
		}
		if s.SensorRange <= 0 {
			errs = append(errs, invalid("robot.simulator.sensor_range", "must be positive, got %v", s.SensorRange))
		}
		if s.TimeStep <= 0 {
			errs = append(errs, invalid("robot.simulator.time_step", "must be positive, got %v", s.TimeStep))
		}
	case "hardware", "bridge_simulation":
		if r.Bridge.Address == "" {
			errs = append(errs, invalid("robot.bridge.address", "must not be empty in %s mode", r.Mode))
		}
	default:
		errs = append(errs, invalid("robot.mode", "must be 'simulation', 'hardware' or 'bridge_simulation', got %q", r.Mode))
	}

	if r.SettleDelay < 0 {
		errs = append(errs, invalid("robot.settle_delay", "must not be negative, got %v", r.SettleDelay))
	}
	if srv := r.Bridge.Server; srv.HandlerTimeout < 0 || srv.KeepaliveTime < 0 || srv.KeepaliveTimeout < 0 {
		errs = append(errs, invalid("robot.bridge.server", "timeouts must not be negative"))
	}
	if r.Bridge.Server.MaxConcurrentStreams < 0 {
		errs = append(errs, invalid("robot.bridge.server.max_concurrent_streams", "must not be negative, got %d", r.Bridge.Server.MaxConcurrentStreams))
	}

	return errors.Join(errs...)
}

// ValidateRL checks the learning parameters and the shape they imply
func ValidateRL(c *RLConfig) error {
	var errs []error

	if c.NumBins < 2 {
		errs = append(errs, invalid("rl.num_bins", "must be at least 2, got %d", c.NumBins))
	}
	if len(c.SensorIndices) == 0 {
		errs = append(errs, invalid("rl.sensor_indices", "must not be empty"))
	}
	for i, idx := range c.SensorIndices {
		if idx < 0 {
			errs = append(errs, invalid("rl.sensor_indices", "index %d is negative (%d)", i, idx))
		}
	}
	if c.NumSensors != 0 && c.NumSensors != len(c.SensorIndices) {
		errs = append(errs, invalid("rl.num_sensors", "is %d but %d sensor indices are configured", c.NumSensors, len(c.SensorIndices)))
	}
	if c.NumBins >= 2 && len(c.Thresholds) != c.NumBins-1 {
		errs = append(errs, invalid("rl.thresholds", "need num_bins-1 = %d thresholds, got %d", c.NumBins-1, len(c.Thresholds)))
	}
	for i, t := range c.Thresholds {
		if math.IsNaN(t) || math.IsInf(t, 0) {
			errs = append(errs, invalid("rl.thresholds", "threshold %d must be finite, got %v", i, t))
		}
	}
	for i := 1; i < len(c.Thresholds); i++ {
		if !(c.Thresholds[i] > c.Thresholds[i-1]) {
			errs = append(errs, invalid("rl.thresholds", "must be strictly ascending"))
			break
		}
	}
	if c.NoDetectionAbove < 0 {
		errs = append(errs, invalid("rl.no_detection_above", "must not be negative"))
	}

	if len(c.Actions) == 0 {
		errs = append(errs, invalid("rl.actions", "action set must not be empty"))
	}
	seen := make(map[string]bool, len(c.Actions))
	for i, a := range c.Actions {
		if a.Name == "" {
			errs = append(errs, invalid("rl.actions", "action %d has no name", i))
			continue
		}
		if seen[a.Name] {
			errs = append(errs, invalid("rl.actions", "duplicate action name %q", a.Name))
		}
		seen[a.Name] = true
		if a.DurationMs <= 0 {
			errs = append(errs, invalid("rl.actions", "action %q must have a positive duration_ms", a.Name))
		}
		if math.IsNaN(a.MovementCost) || math.IsInf(a.MovementCost, 0) {
			errs = append(errs, invalid("rl.actions", "action %q must have a finite movement_cost", a.Name))
		}
	}
	if c.Reward.ForwardAction != "" && len(c.Actions) > 0 && !seen[c.Reward.ForwardAction] {
		errs = append(errs, invalid("rl.reward.forward_action", "%q is not in the action set", c.Reward.ForwardAction))
	}

	switch c.TableEncoding {
	case "sparse", "dense":
	default:
		errs = append(errs, invalid("rl.table_encoding", "must be 'sparse' or 'dense', got %q", c.TableEncoding))
	}
	switch c.TableInit {
	case "zero", "random":
	default:
		errs = append(errs, invalid("rl.table_init", "must be 'zero' or 'random', got %q", c.TableInit))
	}

	if c.LearningRate <= 0 || c.LearningRate > 1 {
		errs = append(errs, invalid("rl.learning_rate", "must be in (0, 1], got %v", c.LearningRate))
	}
	if c.DiscountFactor <= 0 || c.DiscountFactor > 1 {
		errs = append(errs, invalid("rl.discount_factor", "must be in (0, 1], got %v", c.DiscountFactor))
	}

	switch c.ExplorationSchedule {
	case "constant":
		if c.ExplorationRate < 0 || c.ExplorationRate > 1 {
			errs = append(errs, invalid("rl.exploration_rate", "must be in [0, 1], got %v", c.ExplorationRate))
		}
	case "decay":
		if c.ExplorationDecay <= 0 || c.ExplorationDecay > 1 {
			errs = append(errs, invalid("rl.exploration_decay", "must be in (0, 1], got %v", c.ExplorationDecay))
		}
		if c.MinExploration < 0 || c.MinExploration > 1 {
			errs = append(errs, invalid("rl.min_exploration", "must be in [0, 1], got %v", c.MinExploration))
		}
	default:
		errs = append(errs, invalid("rl.exploration_schedule", "must be 'constant' or 'decay', got %q", c.ExplorationSchedule))
	}

	if c.NumEpisodes <= 0 {
		errs = append(errs, invalid("rl.num_episodes", "must be positive, got %d", c.NumEpisodes))
	}
	if c.MaxSteps <= 0 {
		errs = append(errs, invalid("rl.max_steps", "must be positive, got %d", c.MaxSteps))
	}
	if c.CheckpointInterval < 0 {
		errs = append(errs, invalid("rl.checkpoint_interval", "must not be negative, got %d", c.CheckpointInterval))
	}

	for name, v := range map[string]float64{
		"rl.reward.collision_penalty": c.Reward.CollisionPenalty,
		"rl.reward.base_reward":       c.Reward.BaseReward,
		"rl.reward.forward_bonus":     c.Reward.ForwardBonus,
	} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			errs = append(errs, invalid(name, "must be finite"))
		}
	}

	return errors.Join(errs...)
}
