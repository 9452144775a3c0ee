package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"

	"github.com/skeindata/skein/internal/checkpoint"
	"github.com/skeindata/skein/internal/codec"
	"github.com/skeindata/skein/internal/config"
	"github.com/skeindata/skein/internal/executor"
	"github.com/skeindata/skein/internal/logging"
	"github.com/skeindata/skein/internal/metrics"
	"github.com/skeindata/skein/internal/protocol"
	"github.com/skeindata/skein/internal/storage"
	"github.com/skeindata/skein/internal/worker"
)

func main() {
	configPath := flag.String("config", "", "path to YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		slog.Error("load configuration", "error", err)
		os.Exit(1)
	}

	logging.Setup(cfg.Log)

	workerID := cfg.Worker.ID
	if workerID == "" {
		workerID = uuid.NewString()
	}
	log := logging.WorkerLogger(workerID)
	log.Info("skein worker starting", "coordinator", cfg.Coordinator.Address)

	var m *metrics.Metrics
	if cfg.Metrics.Enabled {
		m = metrics.Init("skein")
		go func() {
			if err := metrics.Serve(cfg.Metrics.Address); err != nil {
				log.Error("metrics server stopped", "error", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-ch
		log.Info("shutting down", "signal", sig.String())
		cancel()
	}()

	store, err := storage.New(ctx, storage.Config{
		Backend:   cfg.Storage.Backend,
		LocalDir:  cfg.Storage.LocalDir,
		BucketURL: cfg.Storage.BucketURL,
	})
	if err != nil {
		log.Error("create durable store", "error", err)
		os.Exit(1)
	}
	defer store.Close()

	c := codec.New(cfg.IO.BufferSize)
	writer := checkpoint.NewWriter(store, c, m)

	// Datasets are registered here as the coordinator deploys jobs to this
	// worker; the registry starts empty.
	registry := worker.NewRegistry()
	runner := worker.NewRunner(registry, c, writer)

	pool := executor.NewPool(runner.Run, cfg.Worker.Cores, m)
	defer pool.Close()

	conn, err := net.Dial("tcp", cfg.Coordinator.Address)
	if err != nil {
		log.Error("connect to coordinator", "address", cfg.Coordinator.Address, "error", err)
		os.Exit(1)
	}

	channel := protocol.NewControlChannel(protocol.ChannelConfig{
		Conn:     conn,
		WorkerID: workerID,
		Host:     cfg.Worker.Host,
		Cores:    cfg.Worker.Cores,
		Executor: pool,
		Metrics:  m,
	})

	if err := channel.Run(ctx); err != nil {
		log.Error("control channel stopped", "error", err)
		os.Exit(1)
	}

	log.Info("skein worker stopped cleanly")
}
