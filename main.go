package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"netsync/client/internal/client"
	"netsync/client/internal/config"
	"netsync/client/internal/diagnostics"
	"netsync/client/internal/events"
	"netsync/client/internal/logging"
	"netsync/client/internal/netdemo"
	"netsync/client/internal/simulation"
)

const (
	cleanupInterval  = time.Minute
	resourceInterval = time.Second
	eventBuffer      = 256
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "netclient: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	logging.ReplaceGlobals(logger)
	defer func() {
		_ = logger.Sync()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine, err := client.New(*cfg,
		client.WithLogger(logger),
		client.WithResources(client.FileResources{Dir: cfg.ResourceDir}),
	)
	if err != nil {
		return fmt.Errorf("init engine: %w", err)
	}

	//1.- Diagnostics and netdemo retention run beside the tick loop.
	var diag *diagnostics.Server
	if cfg.DiagnosticsAddr != "" {
		diag = diagnostics.NewServer(engine, cfg.DiagnosticsSecret, logger)
		logger.Info("diagnostics enabled",
			logging.String("target", diagnosticsTarget(cfg.DiagnosticsAddr)),
			logging.Bool("secured", cfg.DiagnosticsSecret != ""),
		)
		go func() {
			if err := diag.ListenAndServe(ctx, cfg.DiagnosticsAddr); err != nil {
				logger.Error("diagnostics server stopped", logging.Error(err))
			}
		}()
	}
	cleaner := netdemo.NewCleaner(cfg.NetDemo.Dir, netdemo.PolicyFromConfig(cfg.NetDemo), logger)
	go cleaner.Run(ctx, cleanupInterval)

	sub, err := engine.Events().Subscribe(ctx, "netclient", eventBuffer)
	if err != nil {
		return fmt.Errorf("subscribe events: %w", err)
	}
	go watchEvents(ctx, engine, sub, logger, resourceInterval)

	//2.- Playback wins over a live connection.
	switch {
	case cfg.NetDemo.Play != "":
		if err := engine.StartPlaying(cfg.NetDemo.Play); err != nil {
			return fmt.Errorf("play netdemo: %w", err)
		}
		logger.Info("playing netdemo", logging.String("path", engine.DemoPath(cfg.NetDemo.Play)))
	case cfg.Server != "":
		if err := engine.Connect(ctx, cfg.Server, cfg.Password); err != nil {
			return fmt.Errorf("connect: %w", err)
		}
		if cfg.NetDemo.Record {
			name := "netdemo-" + time.Now().UTC().Format("20060102-150405")
			if err := engine.StartRecording(name); err != nil {
				logger.Warn("cannot start netdemo recording", logging.Error(err))
			}
		}
	default:
		logger.Warn("no server or netdemo configured, idling")
	}

	monitor := simulation.NewTickMonitor(simulation.StepFor(cfg.TickRate))
	loop := simulation.NewLoop(cfg.TickRate, func(ctx context.Context, _ uint64) {
		engine.Tick(ctx)
	}, monitor)
	logger.Info("netclient running",
		logging.String("transport", cfg.Transport),
		logging.String("compression", cfg.Compression),
		logging.Duration("tick", loop.StepDuration()),
	)
	loop.Run(ctx)

	//3.- Shutdown flushes any recording before the listeners go away.
	sub.Close()
	if written, err := engine.StopRecording(); err == nil && len(written) > 0 {
		logger.Info("netdemo saved", logging.Strings("files", written))
	}
	if err := engine.Close(); err != nil {
		logger.Warn("engine close failed", logging.Error(err))
	}
	if diag != nil {
		diag.Stop()
	}
	metrics := monitor.Snapshot()
	logger.Info("netclient stopped",
		logging.Int64("ticks", int64(loop.Ticks())),
		logging.Int64("skipped", int64(loop.Skipped())),
		logging.Int("overruns", metrics.Overruns),
		logging.Duration("tick_max", metrics.Max),
	)
	return nil
}

// resourcePoller reports map resources that became available since the
// engine asked for them.
type resourcePoller interface {
	RecheckResources(ctx context.Context) ([]string, error)
}

// watchEvents logs engine notifications and polls for downloaded resources
// every interval.
func watchEvents(ctx context.Context, engine resourcePoller, sub *events.Subscription, logger *logging.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ready, err := engine.RecheckResources(ctx)
			if err != nil {
				logger.Warn("resource recheck failed", logging.Error(err))
			}
			for _, name := range ready {
				logger.Info("resource available", logging.String("resource", name))
			}
		case event, ok := <-sub.Events():
			if !ok {
				return
			}
			switch event.Kind {
			case events.KindSnapshotReady:
			case events.KindNeedDownload:
				logger.Warn("resource required",
					logging.String("resource", event.Resource),
					logging.String("map", event.Map),
				)
			default:
				logger.Info("engine event",
					logging.String("kind", string(event.Kind)),
					logging.String("address", event.Address),
					logging.String("reason", event.Reason),
					logging.String("detail", event.Detail),
					logging.String("map", event.Map),
				)
			}
			if err := sub.Ack(event.Sequence); err != nil && !errors.Is(err, events.ErrOutOfOrderAck) {
				logger.Warn("event ack failed", logging.Error(err))
			}
		}
	}
}
