// Package collector drains refinement results and publishes them to
// the catalog as picks.
package collector

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/seisworks/dlrepick/internal/catalog"
	"github.com/seisworks/dlrepick/internal/config"
	"github.com/seisworks/dlrepick/internal/model"
	"github.com/seisworks/dlrepick/internal/spool"
	"github.com/seisworks/dlrepick/internal/workspace"
)

// Collector polls the result queue and publishes catalog picks.
type Collector struct {
	common  *config.Common
	results spool.Queue
	catalog catalog.Catalog
	spaces  *workspace.Map
	logger  *log.Logger
}

// New wires the result collector. spaces may be nil when the collector
// runs without the ingestion pipeline's workspace map.
func New(common *config.Common, results spool.Queue, cat catalog.Catalog,
	spaces *workspace.Map, logger *log.Logger) *Collector {
	return &Collector{
		common:  common,
		results: results,
		catalog: cat,
		spaces:  spaces,
		logger:  logger,
	}
}

// Run drives the poll loop until the context is cancelled.
func (c *Collector) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.common.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}

		items, err := c.results.PollPending(ctx, 0)
		if err != nil {
			c.logger.Printf("WARN poll: %v", err)
			continue
		}
		for _, it := range items {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := c.HandleResult(ctx, it); err != nil {
				c.logger.Printf("WARN result %s: %v", it.Token, err)
			}
		}
	}
}

// HandleResult publishes one result's picks to the catalog. The publish
// is all or nothing; the result is acknowledged only on success, so a
// failed publish is retried on the next poll.
func (c *Collector) HandleResult(ctx context.Context, it spool.Item) error {
	res, err := spool.DecodeResult(it)
	if err != nil {
		return err
	}

	best := res.BestByParent()
	picks := make([]model.Pick, 0, len(best))
	for _, r := range best {
		picks = append(picks, c.toPick(r))
	}

	if err := c.catalog.PublishPicks(ctx, picks); err != nil {
		return fmt.Errorf("publish: %w", err)
	}

	if c.spaces != nil {
		ws, err := c.spaces.Get(res.EventID)
		if err == nil {
			for _, r := range best {
				ws.SetRefined(r)
			}
		}
	}

	c.logger.Printf("event %s: published %d refined picks", res.EventID, len(picks))
	return c.results.Ack(ctx, it.Token)
}

// toPick converts a refinement into a catalog pick. Identity derives
// from the parent, so republishing the same result cannot create a
// second catalog object.
func (c *Collector) toPick(r model.RefinedPick) model.Pick {
	return model.Pick{
		ID:         r.ID(),
		Stream:     r.Stream,
		Time:       r.Time,
		PhaseHint:  "P",
		Mode:       model.ModeAutomatic,
		Author:     c.common.Author,
		AgencyID:   c.common.AgencyID,
		MethodID:   model.RefinedMethodID,
		Confidence: model.Float64Ptr(r.Confidence),
		CreatedAt:  time.Now().UTC(),
	}
}
