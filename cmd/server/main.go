package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"baldr/api/httpserver"
	"baldr/config"
	"baldr/infra/kafka"
	"baldr/infra/outbox"
	"baldr/infra/wal"
	"baldr/jobs/broadcaster"
	"baldr/jobs/marketdata"
	"baldr/logger"
	"baldr/service"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		println("config:", err.Error())
		os.Exit(1)
	}

	log := logger.Init(cfg.Logger.Level, cfg.Logger.Pretty)

	// ---------------- Durability ----------------

	w, err := wal.Open(wal.Config{
		Dir:             cfg.WAL.Dir,
		SegmentSize:     cfg.WAL.SegmentSize,
		SegmentDuration: cfg.WAL.SegmentDuration,
		Logger:          log,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("wal open failed")
	}
	defer w.Close()

	box, err := outbox.Open(cfg.Outbox.Dir)
	if err != nil {
		log.Fatal().Err(err).Msg("outbox open failed")
	}
	defer box.Close()

	// ---------------- Engine ----------------

	dist := service.NewDistributor(log)
	engine := service.NewEngine(service.Config{
		PreventSelfTrade: cfg.Engine.PreventSelfTrade,
		MaxDepthLevels:   cfg.Engine.MaxDepthLevels,
	}, log, w, box, dist)

	if err := engine.Recover(cfg.Snapshot.Dir); err != nil {
		log.Fatal().Err(err).Msg("recovery failed")
	}

	// ---------------- Background jobs ----------------

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	engine.StartSnapshotJob(ctx, cfg.Snapshot.Dir, cfg.Snapshot.Interval)

	bc, err := broadcaster.New(log, box, cfg.Kafka.Brokers, cfg.Kafka.ExecutionsTopic, cfg.Kafka.ReplayInterval)
	if err != nil {
		log.Fatal().Err(err).Msg("broadcaster init failed")
	}
	defer bc.Close()
	bc.Start(ctx)

	md := marketdata.New(log, engine,
		kafka.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.MarketDataTopic),
		cfg.MarketData.Interval, cfg.MarketData.Depth)
	defer md.Close()
	md.Start(ctx)

	// ---------------- HTTP ----------------

	server := httpserver.New(log, engine, dist)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(cfg.Server.Addr,
			cfg.Server.ReadTimeout, cfg.Server.WriteTimeout, cfg.Server.IdleTimeout)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		log.Info().Str("signal", sig.String()).Msg("shutting down")
	case err := <-errCh:
		if err != nil {
			log.Error().Err(err).Msg("http server failed")
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("http shutdown failed")
	}
}
