package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"robot-qlearning/internal/robot"
	"robot-qlearning/pkg/config"
	"robot-qlearning/pkg/logger"
	"robot-qlearning/pkg/metrics"
	"robot-qlearning/pkg/server"
)

// sim-bridge serves the built-in simulator over the robot bridge protocol,
// so the trainer's hardware and bridge_simulation modes can run without a robot
func main() {
	configPath := flag.String("config", os.Getenv("ROBOT_QL_CONFIG"), "path to the configuration file")
	listen := flag.String("listen", "", "listen address, defaults to robot.bridge.server.listen or robot.bridge.address")
	flag.Parse()

	cfg, err := config.NewLoader(*configPath).Load()
	if err != nil {
		logger.GetLogger().Fatalf("Failed to load configuration: %v", err)
	}
	log := logger.Initialize(cfg.Logging)

	addr := *listen
	if addr == "" {
		addr = cfg.Robot.Bridge.Server.Listen
	}
	if addr == "" {
		addr = cfg.Robot.Bridge.Address
	}

	rpcMetrics := metrics.NewRPCMetrics()
	metricsServer := metrics.NewServer(cfg.Metrics, rpcMetrics)
	if err := metricsServer.Start(); err != nil {
		log.Fatalf("Failed to start metrics server: %v", err)
	}

	srv := server.NewServer(cfg.Robot.Bridge.Server, robot.NewSimRobot(cfg.Robot.Simulator), rpcMetrics)
	if err := srv.Listen(addr); err != nil {
		log.Fatalf("%v", err)
	}

	serveErr := make(chan error, 1)
	go func() {
		serveErr <- srv.Serve(nil)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Infof("Received signal: %v", sig)
	case err := <-serveErr:
		log.Errorf("Bridge server error: %v", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Robot.Bridge.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Stop(shutdownCtx); err != nil {
		log.Errorf("Failed to stop bridge server: %v", err)
	}
	if err := metricsServer.Stop(shutdownCtx); err != nil {
		log.Errorf("Failed to stop metrics server: %v", err)
	}
	log.Info("Simulated robot bridge stopped")
}
