// Command bridge runs the simulation bridge: it declares the routing
// fabric, starts every inbound protocol adapter, and runs the bridge
// core's dispatch loop until interrupted. Wiring follows the teacher's
// cmd/server entry points: load config, build dependencies bottom-up,
// install signal handling, run, shut down in reverse order.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/intocps-association/simulation-bridge/internal/adapter"
	"github.com/intocps-association/simulation-bridge/internal/adapter/httpstream"
	"github.com/intocps-association/simulation-bridge/internal/adapter/internalbroker"
	"github.com/intocps-association/simulation-bridge/internal/adapter/pubsub"
	"github.com/intocps-association/simulation-bridge/internal/bridgecore"
	"github.com/intocps-association/simulation-bridge/internal/config"
	"github.com/intocps-association/simulation-bridge/internal/fabric"
	"github.com/intocps-association/simulation-bridge/internal/health"
	"github.com/intocps-association/simulation-bridge/internal/logger"
)

const shutdownGrace = 10 * time.Second

func main() {
	configPath := flag.String("config", "config/bridge.yaml", "path to the bridge configuration file")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, "bridge:", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New("bridge", logger.Level(cfg.Logging.Level))
	checker := health.NewChecker()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	backoff := config.DefaultReconnectBackoff()
	fab := fabric.New(cfg.RabbitMQ, backoff, log)
	if err := fab.Declare(ctx); err != nil {
		return fmt.Errorf("declare routing fabric: %w", err)
	}
	defer fab.Close()
	checker.Run("fabric", func() error { return nil })

	internalAdapter := internalbroker.New(fab, log)
	pubsubAdapter := pubsub.New(cfg.MQTT, log)
	httpAdapter := httpstream.New(cfg.REST, log)

	internalCh, err := internalAdapter.Start(ctx)
	if err != nil {
		return fmt.Errorf("start internal-broker adapter: %w", err)
	}
	pubsubCh, err := pubsubAdapter.Start(ctx)
	if err != nil {
		log.Errorf("pub-sub adapter unavailable, continuing without it: %v", err)
		pubsubCh = make(chan adapter.Signal)
	}
	httpCh, err := httpAdapter.Start(ctx)
	if err != nil {
		return fmt.Errorf("start http streaming adapter: %w", err)
	}

	core := bridgecore.New(fab, internalAdapter, pubsubAdapter, httpAdapter, log)

	log.Infof("bridge %s ready", cfg.SimulationBridge.BridgeID)

	runErr := core.Run(ctx, internalCh, pubsubCh, httpCh)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer shutdownCancel()
	_ = httpAdapter.Stop(shutdownCtx)
	_ = pubsubAdapter.Stop(shutdownCtx)
	_ = internalAdapter.Stop(shutdownCtx)

	if runErr != nil && runErr != context.Canceled {
		return runErr
	}
	return nil
}
