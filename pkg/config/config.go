package config

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// Config holds the harness configuration
type Config struct {
	Logging     LoggingConfig     `mapstructure:"logging"`
	Metrics     MetricsConfig     `mapstructure:"metrics"`
	Persistence PersistenceConfig `mapstructure:"persistence"`
	Robot       RobotConfig       `mapstructure:"robot"`
	RL          RLConfig          `mapstructure:"rl"`
	Report      ReportConfig      `mapstructure:"report"`
}

// LoggingConfig contains logging settings
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
	Output string `mapstructure:"output"`
}

// MetricsConfig contains metrics exposition settings
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Port    int    `mapstructure:"port"`
	Path    string `mapstructure:"path"`
}

// PersistenceConfig contains Q-table persistence settings
type PersistenceConfig struct {
	Backend     string `mapstructure:"backend"` // file | sqlite
	ModelsPath  string `mapstructure:"models_path"`
	TablePath   string `mapstructure:"table_path"`
	SQLiteFile  string `mapstructure:"sqlite_file"`
	BackupCount int    `mapstructure:"backup_count"`
}

// RobotConfig selects and configures the robot collaborator
type RobotConfig struct {
	Mode          string          `mapstructure:"mode"` // simulation | hardware | bridge_simulation
	BlockingMoves bool            `mapstructure:"blocking_moves"`
	SettleDelay   time.Duration   `mapstructure:"settle_delay"`
	Bridge        BridgeConfig    `mapstructure:"bridge"`
	Simulator     SimulatorConfig `mapstructure:"simulator"`
}

// BridgeConfig contains settings for the gRPC robot bridge
type BridgeConfig struct {
	Address     string        `mapstructure:"address"`
	CallTimeout time.Duration `mapstructure:"call_timeout"`
	HealthCheck bool          `mapstructure:"health_check"`

	Server BridgeServerConfig `mapstructure:"server"`
}

// BridgeServerConfig configures sim-bridge, which serves a simulated robot
// over the bridge protocol
type BridgeServerConfig struct {
	Listen               string        `mapstructure:"listen"` // empty uses bridge.address
	HandlerTimeout       time.Duration `mapstructure:"handler_timeout"`
	MaxConcurrentStreams int           `mapstructure:"max_concurrent_streams"`
	KeepaliveTime        time.Duration `mapstructure:"keepalive_time"`
	KeepaliveTimeout     time.Duration `mapstructure:"keepalive_timeout"`
	Reflection           bool          `mapstructure:"reflection"`
	ShutdownTimeout      time.Duration `mapstructure:"shutdown_timeout"`
}

// SimulatorConfig describes the built-in arena simulator
type SimulatorConfig struct {
	ArenaWidth   float64          `mapstructure:"arena_width"`
	ArenaHeight  float64          `mapstructure:"arena_height"`
	Walled       bool             `mapstructure:"walled"`
	Obstacles    []ObstacleConfig `mapstructure:"obstacles"`
	StartX       float64          `mapstructure:"start_x"`
	StartY       float64          `mapstructure:"start_y"`
	StartHeading float64          `mapstructure:"start_heading"` // radians
	StartJitter  float64          `mapstructure:"start_jitter"`
	WheelBase    float64          `mapstructure:"wheel_base"`
	SpeedScale   float64          `mapstructure:"speed_scale"` // metres per second per speed unit
	SensorRange  float64          `mapstructure:"sensor_range"`
	IRGain       float64          `mapstructure:"ir_gain"`
	FloorReading float64          `mapstructure:"floor_reading"` // ambient reflection, 0 disables
	TimeStep     time.Duration    `mapstructure:"time_step"`
	Seed         int64            `mapstructure:"seed"`
}

// ObstacleConfig is an axis-aligned box inside the arena
type ObstacleConfig struct {
	X      float64 `mapstructure:"x"`
	Y      float64 `mapstructure:"y"`
	Width  float64 `mapstructure:"width"`
	Height float64 `mapstructure:"height"`
}

// RLConfig contains the Q-learning settings
type RLConfig struct {
	NumBins          int       `mapstructure:"num_bins"`
	NumSensors       int       `mapstructure:"num_sensors"` // 0 derives from sensor_indices
	SensorIndices    []int     `mapstructure:"sensor_indices"`
	Thresholds       []float64 `mapstructure:"thresholds"`
	NoDetectionAbove float64   `mapstructure:"no_detection_above"` // 0 disables
	RoundReadings    bool      `mapstructure:"round_readings"`

	Actions []ActionConfig `mapstructure:"actions"`

	TableEncoding string `mapstructure:"table_encoding"` // sparse | dense
	TableInit     string `mapstructure:"table_init"`     // zero | random

	LearningRate        float64 `mapstructure:"learning_rate"`
	DiscountFactor      float64 `mapstructure:"discount_factor"`
	ExplorationSchedule string  `mapstructure:"exploration_schedule"` // constant | decay
	ExplorationRate     float64 `mapstructure:"exploration_rate"`
	ExplorationDecay    float64 `mapstructure:"exploration_decay"`
	MinExploration      float64 `mapstructure:"min_exploration"`

	NumEpisodes        int   `mapstructure:"num_episodes"`
	MaxSteps           int   `mapstructure:"max_steps"`
	CheckpointInterval int   `mapstructure:"checkpoint_interval"`
	DropoutTerminates  bool  `mapstructure:"dropout_terminates"`
	Seed               int64 `mapstructure:"seed"`

	Reward RewardConfig `mapstructure:"reward"`
}

// ActionConfig binds an action name to its motor command
type ActionConfig struct {
	Name         string  `mapstructure:"name"`
	LeftSpeed    int     `mapstructure:"left_speed"`
	RightSpeed   int     `mapstructure:"right_speed"`
	DurationMs   int     `mapstructure:"duration_ms"`
	MovementCost float64 `mapstructure:"movement_cost"`
}

// RewardConfig contains the reward shaping parameters
type RewardConfig struct {
	CollisionPenalty float64 `mapstructure:"collision_penalty"`
	BaseReward       float64 `mapstructure:"base_reward"`
	ForwardBonus     float64 `mapstructure:"forward_bonus"`
	ForwardAction    string  `mapstructure:"forward_action"`
}

// ReportConfig contains training report settings
type ReportConfig struct {
	OutputPath string `mapstructure:"output_path"`
	Title      string `mapstructure:"title"`
}

// SensorCount returns the number of monitored sensors
func (c RLConfig) SensorCount() int {
	if c.NumSensors > 0 {
		return c.NumSensors
	}
	return len(c.SensorIndices)
}

// Loader reads configuration from file and environment variables
type Loader struct {
	v    *viper.Viper
	mu   sync.Mutex
	last *Config
}

// NewLoader creates a loader. An empty path searches the default locations
func NewLoader(configPath string) *Loader {
	v := viper.New()

	if configPath != "" {
		v.SetConfigFile(configPath)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/robot-qlearning/")
	}

	v.AutomaticEnv()
	v.SetEnvPrefix("ROBOTQL")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	setDefaults(v)

	return &Loader{v: v}
}

// Load reads, unmarshals and validates the configuration
func (l *Loader) Load() (*Config, error) {
	if err := l.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		log.Printf("Config file not found, using defaults and environment variables")
	} else {
		log.Printf("Using config file: %s", l.v.ConfigFileUsed())
	}

	cfg, err := l.decode()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	l.last = cfg
	l.mu.Unlock()
	return cfg, nil
}

func (l *Loader) decode() (*Config, error) {
	var cfg Config
	if err := l.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	if err := Validate(&cfg); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return &cfg, nil
}

// Current returns the most recently loaded configuration
func (l *Loader) Current() *Config {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.last
}

// ConfigFileUsed returns the path of the file that was read, if any
func (l *Loader) ConfigFileUsed() string {
	return l.v.ConfigFileUsed()
}

// Watch reloads the configuration whenever the file changes. Invalid
// reloads are logged and ignored; the callback only sees valid configs
func (l *Loader) Watch(callback func(*Config)) {
	if l.v.ConfigFileUsed() == "" {
		log.Printf("No config file loaded, not watching for changes")
		return
	}

	l.v.OnConfigChange(func(e fsnotify.Event) {
		log.Printf("Config file changed: %s (%s)", e.Name, e.Op)
		cfg, err := l.decode()
		if err != nil {
			log.Printf("Failed to reload config: %v", err)
			return
		}

		l.mu.Lock()
		l.last = cfg
		l.mu.Unlock()

		log.Println("Configuration reloaded successfully")
		if callback != nil {
			callback(cfg)
		}
	})
	l.v.WatchConfig()
}

// CreateDirectories creates the directories the configuration refers to
func CreateDirectories(cfg *Config) error {
	dir := cfg.Persistence.ModelsPath
	if dir == "" || dir == "." {
		return nil
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory %s: %w", dir, err)
	}
	return nil
}
