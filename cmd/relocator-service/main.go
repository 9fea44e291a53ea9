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
	"github.com/seisworks/dlrepick/internal/config"
	"github.com/seisworks/dlrepick/internal/inventory"
	"github.com/seisworks/dlrepick/internal/ops"
	"github.com/seisworks/dlrepick/internal/relocation"
	"github.com/seisworks/dlrepick/internal/spool"
	"github.com/seisworks/dlrepick/internal/traveltime"
)

func main() {
	common := config.LoadCommon()
	if os.Getenv("DLREPICK_AUTHOR") == "" {
		common.Author = "dl-reloc"
	}
	cfg := config.LoadRelocation()
	logger := log.New(os.Stdout, "[relocator] ", log.LstdFlags)

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

	var inv inventory.Inventory = inventory.NewStatic(nil)
	if common.InventoryFile != "" {
		inv, err = inventory.LoadFile(common.InventoryFile)
		if err != nil {
			logger.Fatalf("inventory: %v", err)
		}
	}

	if cfg.LocatorURL == "" {
		logger.Fatal("DLREPICK_LOCATOR_URL required")
	}
	locator, err := relocation.NewHTTPLocator(relocation.HTTPLocatorConfig{
		BaseURL: cfg.LocatorURL,
	})
	if err != nil {
		logger.Fatalf("locator: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var archiver relocation.Archiver
	if cfg.S3Bucket != "" {
		archiver, err = relocation.NewS3Archiver(ctx, cfg.S3Bucket, cfg.S3Prefix)
		if err != nil {
			logger.Fatalf("s3 archiver: %v", err)
		}
	} else {
		archiver = relocation.NewFileArchiver(filepath.Join(common.WorkingDir, cfg.FailureDir))
	}

	engine := relocation.NewEngine(cfg, locator, archiver, logger)
	svc, err := relocation.NewService(common, cfg, cat, inv, traveltime.NewStandardTable(), engine, logger)
	if err != nil {
		logger.Fatalf("service: %v", err)
	}

	notifyQ, err := buildQueue(common, "dlrepick.events", "relocator", logger)
	if err != nil {
		logger.Fatalf("notify queue: %v", err)
	}

	go func() {
		if err := svc.Run(ctx); err != nil && ctx.Err() == nil {
			logger.Printf("relocator stopped: %v", err)
		}
	}()
	go drainNotifications(ctx, notifyQ, common.PollInterval, logger, svc.Notify)

	server := ops.New(cat, nil, nil, nil, logger)
	if err := server.Serve(ctx, common.ListenAddr); err != nil {
		logger.Fatalf("ops server: %v", err)
	}
}

func buildQueue(common *config.Common, topic, group string, logger *log.Logger) (spool.Queue, error) {
	if common.QueueBackend == "kafka" {
		return spool.NewKafkaQueue(spool.KafkaQueueConfig{
			Brokers: common.KafkaBrokers,
			Topic:   topic,
			GroupID: group,
		})
	}
	return spool.NewNotifyQueue(common.WorkingDir, logger)
}

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
