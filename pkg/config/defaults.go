package config

import (
	"time"

	"github.com/spf13/viper"
)

// setDefaults configures default values for all configuration parameters
func setDefaults(v *viper.Viper) {
	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "text")
	v.SetDefault("logging.output", "stdout")

	// Metrics defaults
	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.port", 9090)
	v.SetDefault("metrics.path", "/metrics")

	// Persistence defaults
	v.SetDefault("persistence.backend", "file")
	v.SetDefault("persistence.models_path", "./models")
	v.SetDefault("persistence.table_path", "q_table.json")
	v.SetDefault("persistence.sqlite_file", "qtables.db")
	v.SetDefault("persistence.backup_count", 3)

	// Robot defaults
	v.SetDefault("robot.mode", "simulation")
	v.SetDefault("robot.blocking_moves", true)
	v.SetDefault("robot.settle_delay", 100*time.Millisecond)
	v.SetDefault("robot.bridge.address", "localhost:45100")
	v.SetDefault("robot.bridge.call_timeout", 5*time.Second)
	v.SetDefault("robot.bridge.health_check", true)
	v.SetDefault("robot.bridge.server.listen", "")
	v.SetDefault("robot.bridge.server.handler_timeout", 30*time.Second)
	v.SetDefault("robot.bridge.server.max_concurrent_streams", 16)
	v.SetDefault("robot.bridge.server.keepalive_time", 30*time.Second)
	v.SetDefault("robot.bridge.server.keepalive_timeout", 10*time.Second)
	v.SetDefault("robot.bridge.server.reflection", true)
	v.SetDefault("robot.bridge.server.shutdown_timeout", 5*time.Second)

	// Simulator defaults: 2m x 2m walled arena, Robobo-sized base
	v.SetDefault("robot.simulator.arena_width", 2.0)
	v.SetDefault("robot.simulator.arena_height", 2.0)
	v.SetDefault("robot.simulator.walled", true)
	v.SetDefault("robot.simulator.obstacles", []map[string]interface{}{
		{"x": 0.9, "y": 0.9, "width": 0.2, "height": 0.2},
		{"x": 1.4, "y": 0.3, "width": 0.1, "height": 0.5},
		{"x": 0.3, "y": 1.4, "width": 0.5, "height": 0.1},
	})
	v.SetDefault("robot.simulator.start_x", 0.3)
	v.SetDefault("robot.simulator.start_y", 0.3)
	v.SetDefault("robot.simulator.start_heading", 0.785398)
	v.SetDefault("robot.simulator.start_jitter", 0.05)
	v.SetDefault("robot.simulator.wheel_base", 0.1)
	v.SetDefault("robot.simulator.speed_scale", 0.002)
	v.SetDefault("robot.simulator.sensor_range", 0.2)
	v.SetDefault("robot.simulator.ir_gain", 1.0)
	v.SetDefault("robot.simulator.floor_reading", 5.0)
	v.SetDefault("robot.simulator.time_step", 10*time.Millisecond)
	v.SetDefault("robot.simulator.seed", 0)

	// Discretization defaults: FrontLL, FrontC, FrontRR
	v.SetDefault("rl.num_bins", 5)
	v.SetDefault("rl.num_sensors", 0)
	v.SetDefault("rl.sensor_indices", []int{7, 4, 5})
	v.SetDefault("rl.thresholds", []float64{4, 7, 10, 15})
	v.SetDefault("rl.no_detection_above", 0.0)
	v.SetDefault("rl.round_readings", true)

	// Action set defaults
	v.SetDefault("rl.actions", []map[string]interface{}{
		{"name": "forward", "left_speed": 50, "right_speed": 50, "duration_ms": 1000, "movement_cost": 0.0},
		{"name": "left", "left_speed": 50, "right_speed": -10, "duration_ms": 500, "movement_cost": 0.0},
		{"name": "right", "left_speed": -10, "right_speed": 50, "duration_ms": 500, "movement_cost": 0.0},
	})

	// Q-table defaults
	v.SetDefault("rl.table_encoding", "sparse")
	v.SetDefault("rl.table_init", "zero")

	// Learning defaults
	v.SetDefault("rl.learning_rate", 0.1)
	v.SetDefault("rl.discount_factor", 0.9)
	v.SetDefault("rl.exploration_schedule", "constant")
	v.SetDefault("rl.exploration_rate", 0.1)
	v.SetDefault("rl.exploration_decay", 0.99)
	v.SetDefault("rl.min_exploration", 0.01)

	// Episode defaults
	v.SetDefault("rl.num_episodes", 200)
	v.SetDefault("rl.max_steps", 40)
	v.SetDefault("rl.checkpoint_interval", 10)
	v.SetDefault("rl.dropout_terminates", true)
	v.SetDefault("rl.seed", 0)

	// Reward defaults
	v.SetDefault("rl.reward.collision_penalty", -50.0)
	v.SetDefault("rl.reward.base_reward", 1.0)
	v.SetDefault("rl.reward.forward_bonus", 10.0)
	v.SetDefault("rl.reward.forward_action", "forward")

	// Report defaults
	v.SetDefault("report.output_path", "")
	v.SetDefault("report.title", "Q-learning training")
}
