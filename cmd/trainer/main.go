package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"robot-qlearning/internal/rl"
	"robot-qlearning/internal/robot"
	"robot-qlearning/pkg/config"
	"robot-qlearning/pkg/logger"
	"robot-qlearning/pkg/metrics"
	"robot-qlearning/pkg/report"
	"robot-qlearning/pkg/storage"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type options struct {
	configPath string
	evaluate   int
	watch      bool
}

func main() {
	var opts options
	flag.StringVar(&opts.configPath, "config", os.Getenv("ROBOT_QL_CONFIG"), "path to the configuration file")
	flag.IntVar(&opts.evaluate, "evaluate", 0, "run N greedy evaluation episodes instead of training")
	flag.BoolVar(&opts.watch, "watch", true, "reload the log level when the configuration file changes")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "trainer: %v\n", err)
		var cfgErr *config.ConfigurationError
		if errors.As(err, &cfgErr) {
			os.Exit(2)
		}
		os.Exit(1)
	}
}

func run(ctx context.Context, opts options) error {
	loader := config.NewLoader(opts.configPath)
	cfg, err := loader.Load()
	if err != nil {
		return err
	}

	log := logger.Initialize(cfg.Logging)
	if err := config.CreateDirectories(cfg); err != nil {
		return err
	}
	if opts.watch && loader.ConfigFileUsed() != "" {
		loader.Watch(func(c *config.Config) {
			if logger.SetLevel(c.Logging.Level) {
				log.Infof("Log level changed to %s", c.Logging.Level)
			}
		})
	}

	runID := uuid.NewString()
	entry := logger.WithRun(runID)
	entry.WithFields(logrus.Fields{
		"config":   loader.ConfigFileUsed(),
		"mode":     cfg.Robot.Mode,
		"backend":  cfg.Persistence.Backend,
		"episodes": cfg.RL.NumEpisodes,
	}).Info("Starting Q-learning trainer")

	params, err := rl.NewParams(cfg.RL)
	if err != nil {
		return err
	}

	bot, closeRobot, err := newRobot(ctx, cfg.Robot)
	if err != nil {
		return err
	}
	defer closeRobot()

	backend, err := storage.Open(cfg.Persistence)
	if err != nil {
		return err
	}
	store := storage.NewTableStore(backend,
		storage.WithActionNames(params.Actions.Names()),
		storage.WithStoreRunID(runID),
	)
	defer store.Close()

	rng := params.NewRand()
	var (
		table   rl.Table
		created bool
	)
	if opts.evaluate > 0 {
		table, err = store.LoadFor(ctx, cfg.Persistence.TablePath, params)
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("evaluate needs a trained table at %s: %w", cfg.Persistence.TablePath, err)
		}
	} else {
		table, created, err = store.Initialize(ctx, cfg.Persistence.TablePath, params, rng)
	}
	if err != nil {
		return err
	}
	entry.WithFields(logrus.Fields{"created": created, "rows": table.Len()}).Info("Q-table ready")

	trainingMetrics := metrics.NewTrainingMetrics()
	metricsServer := metrics.NewServer(cfg.Metrics, trainingMetrics)
	if err := metricsServer.Start(); err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
		defer cancel()
		if err := metricsServer.Stop(shutdownCtx); err != nil {
			log.Errorf("Failed to stop metrics server: %v", err)
		}
	}()

	env := rl.NewEnvironment(bot, params, cfg.Robot.BlockingMoves, cfg.Robot.SettleDelay)
	trainer, err := rl.NewTrainer(params, env, table,
		rl.WithPersister(store.Bind(cfg.Persistence.TablePath)),
		rl.WithRecorder(trainingMetrics),
		rl.WithRand(rng),
		rl.WithRunID(runID),
		rl.WithLogger(logrus.NewEntry(log)),
	)
	if err != nil {
		return err
	}

	var results []rl.EpisodeResult
	if opts.evaluate > 0 {
		results, err = trainer.Evaluate(ctx, opts.evaluate)
		if err == nil {
			logEvaluation(entry, results)
		}
	} else {
		var summary rl.Summary
		summary, err = trainer.Run(ctx)
		results = summary.Results
	}

	if cfg.Report.OutputPath != "" && len(results) > 0 {
		if rerr := report.WriteRewardChart(cfg.Report.OutputPath, cfg.Report.Title, results); rerr != nil {
			entry.Errorf("Failed to write report: %v", rerr)
		} else {
			entry.Infof("Report written to %s", cfg.Report.OutputPath)
		}
	}
	return err
}

// newRobot builds the collaborator selected by robot.mode
func newRobot(ctx context.Context, cfg config.RobotConfig) (robot.Robot, func() error, error) {
	switch cfg.Mode {
	case "simulation":
		return robot.NewSimRobot(cfg.Simulator), func() error { return nil }, nil
	case "hardware", "bridge_simulation":
		b, err := robot.DialBridge(ctx, cfg.Bridge)
		if err != nil {
			return nil, nil, err
		}
		if cfg.Mode == "bridge_simulation" {
			return robot.NewBridgeSimulation(b), b.Close, nil
		}
		return b, b.Close, nil
	default:
		return nil, nil, &config.ConfigurationError{Field: "robot.mode", Reason: fmt.Sprintf("unknown mode %q", cfg.Mode)}
	}
}

func logEvaluation(entry *logrus.Entry, results []rl.EpisodeResult) {
	var total float64
	collisions := 0
	for _, r := range results {
		total += r.TotalReward
		collisions += r.Collisions
	}
	entry.WithFields(logrus.Fields{
		"episodes":    len(results),
		"mean_reward": total / float64(len(results)),
		"collisions":  collisions,
	}).Info("Evaluation finished")
}
