// Package repicker implements the refinement consumer: it drains the
// work-item queue, runs the model over batches of archived waveforms
// and publishes the surviving refined picks as results.
package repicker

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"time"

	"github.com/seisworks/dlrepick/internal/config"
	"github.com/seisworks/dlrepick/internal/model"
	"github.com/seisworks/dlrepick/internal/refiner"
	"github.com/seisworks/dlrepick/internal/spool"
	"github.com/seisworks/dlrepick/internal/waveform"
)

// Consumer drains work items and produces results.
type Consumer struct {
	common  *config.Common
	cfg     *config.Repicking
	work    spool.Queue
	results spool.Queue
	archive *waveform.FSArchive
	refiner refiner.Refiner
	logger  *log.Logger
}

// New wires the refinement consumer.
func New(common *config.Common, cfg *config.Repicking, work, results spool.Queue,
	archive *waveform.FSArchive, ref refiner.Refiner, logger *log.Logger) *Consumer {
	return &Consumer{
		common:  common,
		cfg:     cfg,
		work:    work,
		results: results,
		archive: archive,
		refiner: ref,
		logger:  logger,
	}
}

// Run drives the poll loop until the context is cancelled. One item is
// taken per poll so that items published while a batch was running get
// their newest-first priority on the next poll.
func (c *Consumer) Run(ctx context.Context) error {
	for {
		items, err := c.work.PollPending(ctx, 1)
		if err != nil {
			c.logger.Printf("WARN poll: %v", err)
		}
		if len(items) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(c.common.PollInterval):
			}
			continue
		}
		if err := c.HandleItem(ctx, items[0]); err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			c.logger.Printf("WARN item %s: %v", items[0].Token, err)
		}
	}
}

// HandleItem processes one queued work item end to end. The result is
// published before the item is acknowledged, so a crash in between
// redelivers the item; Process is deterministic over the item's
// contents, which makes the redelivery harmless.
func (c *Consumer) HandleItem(ctx context.Context, it spool.Item) error {
	item, err := spool.DecodeWorkItem(it)
	if err != nil {
		return err
	}
	res, err := c.Process(ctx, item)
	if err != nil {
		return err
	}
	if len(res.Picks) > 0 {
		token, err := spool.PublishResult(ctx, c.results, res)
		if err != nil {
			return fmt.Errorf("publish result: %w", err)
		}
		c.logger.Printf("event %s: %d refined picks as %s", item.EventID, len(res.Picks), token)
	} else {
		c.logger.Printf("event %s: no refinements", item.EventID)
	}
	return c.work.Ack(ctx, it.Token)
}

// Process refines the picks of one work item. The output is a pure
// function of the item's contents: picks are deduplicated per stream,
// batched in order and filtered by the time-deviation and confidence
// gates. All surviving peaks per pick are kept.
func (c *Consumer) Process(ctx context.Context, item model.WorkItem) (model.Result, error) {
	res := model.Result{EventID: item.EventID, CreatedAt: item.CreatedAt}

	picks := dedupeByStream(item.Picks)
	for start := 0; start < len(picks); start += c.cfg.BatchSize {
		if ctx.Err() != nil {
			return model.Result{}, ctx.Err()
		}
		end := start + c.cfg.BatchSize
		if end > len(picks) {
			end = len(picks)
		}
		refined, err := c.processBatch(ctx, item.EventID, picks[start:end])
		if err != nil {
			return model.Result{}, err
		}
		res.Picks = append(res.Picks, refined...)
	}
	return res, nil
}

// dedupeByStream keeps the first pick per band-level stream, in item
// order.
func dedupeByStream(picks []model.Pick) []model.Pick {
	seen := make(map[model.StreamID]bool)
	var out []model.Pick
	for _, p := range picks {
		band := p.Stream.Band()
		if seen[band] {
			continue
		}
		seen[band] = true
		out = append(out, p)
	}
	return out
}

func (c *Consumer) processBatch(ctx context.Context, eventID string, picks []model.Pick) ([]model.RefinedPick, error) {
	var batch []refiner.StationWaveform
	byStation := make(map[string]model.Pick)

	for _, p := range picks {
		band := p.Stream.Band()
		z, n, e, err := c.archive.LoadComponents(eventID, band)
		if err != nil {
			if errors.Is(err, waveform.ErrNoData) {
				c.logger.Printf("WARN %s: missing component, dropped", band)
				continue
			}
			return nil, err
		}
		if c.tooShort(z) || c.tooShort(n) || c.tooShort(e) {
			c.logger.Printf("WARN %s: waveform shorter than model input, dropped", band)
			continue
		}
		if waveform.Gappy(z, 1) || waveform.Gappy(n, 1) || waveform.Gappy(e, 1) {
			c.logger.Printf("WARN %s: gappy waveform, dropped", band)
			continue
		}
		batch = append(batch, refiner.StationWaveform{
			Network:  band.Network,
			Station:  band.Station,
			Location: band.Location,
			Z:        z, N: n, E: e,
		})
		byStation[stationKey(band.Network, band.Station, band.Location)] = p
	}
	if len(batch) == 0 {
		return nil, nil
	}

	annCtx, cancel := context.WithTimeout(ctx, c.cfg.AnnotateTimeout)
	defer cancel()
	annotations, err := c.refiner.Annotate(annCtx, batch)
	if err != nil {
		return nil, fmt.Errorf("annotate: %w", err)
	}

	var out []model.RefinedPick
	for _, a := range annotations {
		pick, ok := byStation[stationKey(a.Network, a.Station, a.Location)]
		if !ok {
			c.logger.Printf("WARN unassociated annotation %s.%s.%s, discarded",
				a.Network, a.Station, a.Location)
			continue
		}
		for _, peak := range refiner.FindPeaks(a, c.cfg.PeakHeight) {
			if math.Abs(peak.Time.Sub(pick.Time).Seconds()) > c.cfg.MaxTimeDeviation.Seconds() {
				continue
			}
			if peak.Confidence < c.cfg.MinConfidence {
				continue
			}
			out = append(out, model.RefinedPick{
				ParentID:   pick.ID,
				Stream:     pick.Stream,
				Time:       peak.Time,
				Confidence: peak.Confidence,
				ModelName:  c.refiner.Name(),
			})
		}
	}
	return out, nil
}

func (c *Consumer) tooShort(recs []waveform.Record) bool {
	return waveform.Duration(recs).Seconds() < c.refiner.MinInputSeconds()
}

func stationKey(net, sta, loc string) string {
	return net + "." + sta + "." + loc
}
