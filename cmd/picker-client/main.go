package main

import (
	"context"
	"database/sql"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	_ "github.com/lib/pq"

	"github.com/seisworks/dlrepick/internal/catalog"
	"github.com/seisworks/dlrepick/internal/collector"
	"github.com/seisworks/dlrepick/internal/config"
	"github.com/seisworks/dlrepick/internal/inventory"
	"github.com/seisworks/dlrepick/internal/ops"
	"github.com/seisworks/dlrepick/internal/picker"
	"github.com/seisworks/dlrepick/internal/spool"
	"github.com/seisworks/dlrepick/internal/traveltime"
	"github.com/seisworks/dlrepick/internal/waveform"
	"github.com/seisworks/dlrepick/internal/workspace"
)

func main() {
	common := config.LoadCommon()
	cfg := config.LoadPicking()
	logger := log.New(os.Stdout, "[picker] ", log.LstdFlags)

	if common.DatabaseURL == "" {
		logger.Fatal("DATABASE_URL required")
	}
	db, err := sql.Open("postgres", common.DatabaseURL)
	if err != nil {
		logger.Fatalf("db open: %v", err)
	}
	defer db.Close()
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)
	if err := db.Ping(); err != nil {
		logger.Printf("WARN db unreachable at startup: %v", err)
	}
	cat := catalog.NewPGCatalog(db)

	journal, err := workspace.OpenJournal(filepath.Join(common.WorkingDir, "journal.db"))
	if err != nil {
		logger.Fatalf("journal open: %v", err)
	}
	defer journal.Close()
	spaces := workspace.NewMap(journal)

	var inv inventory.Inventory = inventory.NewStatic(nil)
	if common.InventoryFile != "" {
		inv, err = inventory.LoadFile(common.InventoryFile)
		if err != nil {
			logger.Fatalf("inventory: %v", err)
		}
	}

	var source waveform.Source
	if cfg.WaveformURL != "" {
		source, err = waveform.NewHTTPSource(waveform.HTTPSourceConfig{
			BaseURL: cfg.WaveformURL,
			Timeout: cfg.StreamTimeout,
		})
		if err != nil {
			logger.Fatalf("waveform source: %v", err)
		}
	}

	workQ, err := buildQueue(common, "dlrepick.work", "picker-client-work", logger,
		func() (spool.Queue, error) { return spool.NewWorkQueue(common.WorkingDir, logger) })
	if err != nil {
		logger.Fatalf("work queue: %v", err)
	}
	resultQ, err := buildQueue(common, "dlrepick.results", "collector", logger,
		func() (spool.Queue, error) { return spool.NewResultQueue(common.WorkingDir, logger) })
	if err != nil {
		logger.Fatalf("result queue: %v", err)
	}
	notifyQ, err := buildQueue(common, "dlrepick.events", "picker-client", logger,
		func() (spool.Queue, error) { return spool.NewNotifyQueue(common.WorkingDir, logger) })
	if err != nil {
		logger.Fatalf("notify queue: %v", err)
	}

	pipeline := picker.New(common, cfg, cat, inv, traveltime.NewStandardTable(), source,
		waveform.NewFSArchive(common.WorkingDir), spaces, workQ, logger)
	coll := collector.New(common, resultQ, cat, spaces,
		log.New(os.Stdout, "[collector] ", log.LstdFlags))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		if err := pipeline.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Printf("pipeline stopped: %v", err)
		}
	}()
	go func() {
		if err := coll.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Printf("collector stopped: %v", err)
		}
	}()
	go drainNotifications(ctx, notifyQ, common.PollInterval, logger, pipeline.Notify)

	server := ops.New(cat, spaces, workQ, resultQ, logger)
	if err := server.Serve(ctx, common.ListenAddr); err != nil {
		logger.Fatalf("ops server: %v", err)
	}
}

// buildQueue selects the queue backend from configuration.
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

// drainNotifications forwards queued event IDs into the pipeline.
func drainNotifications(ctx context.Context, q spool.Queue, interval time.Duration,
	logger *log.Logger, notify func(string)) {
	for ctx.Err() == nil {
		items, err := q.PollPending(ctx, 0)
		if err != nil && ctx.Err() == nil {
			logger.Printf("WARN notifications: %v", err)
		}
		for _, it := range items {
			eventID := it.EventID
			if eventID == "" {
				eventID = string(it.Payload)
			}
			notify(eventID)
			if err := q.Ack(ctx, it.Token); err != nil {
				logger.Printf("WARN ack %s: %v", it.Token, err)
			}
		}
		select {
		case <-ctx.Done():
		case <-time.After(interval):
		}
	}
}
