// Command agent runs one simulator agent: it connects to the routing
// fabric's simulator queue, and dispatches requests to the batch or
// streaming executor. The compute kernel binary comes from the -kernel
// flag; simulation.path is the working directory the simulation files
// are resolved against, per spec.md §4.8/§4.9's treatment of the kernel
// as an opaque external collaborator.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/intocps-association/simulation-bridge/internal/agent/batch"
	"github.com/intocps-association/simulation-bridge/internal/agent/compute"
	"github.com/intocps-association/simulation-bridge/internal/agent/handler"
	"github.com/intocps-association/simulation-bridge/internal/agent/perf"
	"github.com/intocps-association/simulation-bridge/internal/agent/publish"
	"github.com/intocps-association/simulation-bridge/internal/agent/streaming"
	"github.com/intocps-association/simulation-bridge/internal/config"
	"github.com/intocps-association/simulation-bridge/internal/fabric"
	"github.com/intocps-association/simulation-bridge/internal/logger"
)

func main() {
	configPath := flag.String("config", "config/agent.yaml", "path to the agent configuration file")
	kernelExecutable := flag.String("kernel", "matlab-kernel", "compute kernel executable to launch")
	flag.Parse()

	if err := run(*configPath, *kernelExecutable); err != nil {
		fmt.Fprintln(os.Stderr, "agent:", err)
		os.Exit(1)
	}
}

func run(configPath, kernelExecutable string) error {
	cfg, err := config.LoadAgent(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	log := logger.New(fmt.Sprintf("agent.%s", cfg.Agent.AgentID), logger.Level(cfg.Logging.Level))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	backoff := config.DefaultReconnectBackoff()
	fab := fabric.New(cfg.RabbitMQ, backoff, log)

	monitor, err := perf.New(cfg.Performance.Enabled, cfg.Performance.LogDir, cfg.Performance.LogFilename)
	if err != nil {
		return fmt.Errorf("start performance monitor: %w", err)
	}
	defer monitor.Close()

	pub := publish.New(fab, log)
	defer pub.Close()

	sessionFactory := compute.NewProcessSessionFactory(kernelExecutable)
	batchExec := batch.New(cfg.Simulation.Path, sessionFactory, pub, cfg.ResponseTemplates, monitor, log)
	streamExec := streaming.New(cfg.Simulation.Path, kernelExecutable, cfg.TCP.Host, streaming.DefaultLauncher, pub, cfg.ResponseTemplates, monitor, log)

	h := handler.New(cfg.Agent.AgentID, fab, batchExec, streamExec, cfg.ResponseTemplates, pub, log)
	defer h.Stop()

	log.Infof("agent %s ready, watching simulation path %s", cfg.Agent.AgentID, cfg.Simulation.Path)

	if err := h.Run(ctx); err != nil && err != context.Canceled {
		return err
	}
	return nil
}
