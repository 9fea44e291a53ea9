package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/seisworks/dlrepick/internal/config"
	"github.com/seisworks/dlrepick/internal/ops"
	"github.com/seisworks/dlrepick/internal/refiner"
	"github.com/seisworks/dlrepick/internal/repicker"
	"github.com/seisworks/dlrepick/internal/spool"
	"github.com/seisworks/dlrepick/internal/waveform"
)

func main() {
	common := config.LoadCommon()
	cfg := config.LoadRepicking()
	logger := log.New(os.Stdout, "[repicker] ", log.LstdFlags)

	ref, err := refiner.New(cfg)
	if err != nil {
		logger.Fatalf("refiner: %v", err)
	}
	logger.Printf("model %s, batch size %d", ref.Name(), cfg.BatchSize)

	workQ, err := buildQueue(common, "dlrepick.work", "repicker", logger,
		func() (spool.Queue, error) { return spool.NewWorkQueue(common.WorkingDir, logger) })
	if err != nil {
		logger.Fatalf("work queue: %v", err)
	}
	resultQ, err := buildQueue(common, "dlrepick.results", "repicker-out", logger,
		func() (spool.Queue, error) { return spool.NewResultQueue(common.WorkingDir, logger) })
	if err != nil {
		logger.Fatalf("result queue: %v", err)
	}

	consumer := repicker.New(common, cfg, workQ, resultQ,
		waveform.NewFSArchive(common.WorkingDir), ref, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := consumer.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Printf("consumer stopped: %v", err)
		}
	}()

	server := ops.New(nil, nil, workQ, resultQ, logger)
	if err := server.Serve(ctx, common.ListenAddr); err != nil {
		logger.Fatalf("ops server: %v", err)
	}
}

func buildQueue(common *config.Common, topic, group string, logger *log.Logger,
	fs func() (spool.Queue, error)) (spool.Queue, error) {
	if common.QueueBackend == "kafka" {
		return spool.NewKafkaQueue(spool.KafkaQueueConfig{
			Brokers: common.KafkaBrokers,
			Topic:   topic,
			GroupID: group,
		})
	}
	return fs()
}
