// Package pipeline runs one ingestion pass: collect, filter, dedup, score,
// persist and, when the push gate allows, deliver.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/yangchao228/ScoutX/internal/classify"
	"github.com/yangchao228/ScoutX/internal/collect"
	"github.com/yangchao228/ScoutX/internal/config"
	"github.com/yangchao228/ScoutX/internal/fault"
	"github.com/yangchao228/ScoutX/internal/llm"
	"github.com/yangchao228/ScoutX/internal/models"
	"github.com/yangchao228/ScoutX/internal/notify"
)

// Collector fetches raw items.
type Collector interface {
	Collect(ctx context.Context, sources []config.SourceConfig) []models.Item
}

// Scorer judges an item and writes its summary. Ready reports configuration
// problems that would fail every item.
type Scorer interface {
	Ready() error
	Evaluate(ctx context.Context, item models.Item) (models.Verdict, error)
	Generate(ctx context.Context, item models.Item) (models.Summary, error)
}

// Deduper drops items seen in earlier runs or earlier in the batch.
type Deduper interface {
	FilterNew(ctx context.Context, items []models.Item) []models.Item
}

// Store persists reports and reads back a stored day.
type Store interface {
	RecordIfNew(ctx context.Context, item models.Item, summary models.Summary, score *float64) (bool, error)
	FetchByDate(ctx context.Context, date string) ([]models.ReportRecord, error)
	Today() string
}

// Deliverer sends the accumulated batch to the primary channel.
type Deliverer interface {
	Deliver(ctx context.Context, pairs []models.Pair) (notify.Result, error)
}

// ItemNotifier is the best-effort per-item secondary channel.
type ItemNotifier interface {
	Notify(ctx context.Context, pair models.Pair) error
}

// Deps are the collaborators of a Pipeline. Scorer, Deliverer and Notifier are optional.
type Deps struct {
	Collector  Collector
	Classifier *classify.Classifier
	Dedup      Deduper
	Store      Store
	Scorer     Scorer
	Deliverer  Deliverer
	Notifier   ItemNotifier
	Logger     zerolog.Logger
}

// Options tune a Pipeline.
type Options struct {
	Sources  []config.SourceConfig
	Filter   classify.KeywordFilter
	MinScore float64
	Gate     PushGate
}

// Stats describes one run.
type Stats struct {
	RunID     string
	StartedAt time.Time
	Collected int
	Filtered  int
	New       int
	Rejected  int
	Failed    int
	Processed int

	Delivered     bool
	Delivery      notify.Result
	DeliveryError error
}

// Pipeline sequences one run. Items are processed one at a time.
type Pipeline struct {
	deps Deps
	opts Options

	// Now is the clock that stamps the run start.
	Now func() time.Time
}

// New creates a Pipeline.
func New(deps Deps, opts Options) *Pipeline {
	if deps.Classifier == nil {
		deps.Classifier = classify.New()
	}
	return &Pipeline{deps: deps, opts: opts, Now: time.Now}
}

// RunOnce executes one run. A misconfigured scorer fails the run before any
// item is marked seen; after that a failing item is logged and skipped. The run
// otherwise only fails on cancellation, and a delivery failure is reported in Stats.
func (p *Pipeline) RunOnce(ctx context.Context) (Stats, error) {
	stats := Stats{RunID: uuid.NewString(), StartedAt: p.Now()}
	logger := p.deps.Logger.With().Str("run_id", stats.RunID).Logger()

	if p.deps.Scorer != nil {
		if err := p.deps.Scorer.Ready(); err != nil {
			logger.Error().Err(err).Msg("Scorer is not ready, skipping run")
			return stats, err
		}
	}

	raw := p.deps.Collector.Collect(ctx, p.opts.Sources)
	stats.Collected = len(raw)

	filtered := classify.Apply(collect.Normalize(raw), p.opts.Filter, p.deps.Classifier)
	stats.Filtered = len(filtered)

	fresh := p.deps.Dedup.FilterNew(ctx, filtered)
	stats.New = len(fresh)

	batch := make([]models.Pair, 0, len(fresh))
	for _, item := range fresh {
		if err := ctx.Err(); err != nil {
			return stats, err
		}

		itemLog := logger.With().Str("source", item.Source).Str("url", item.URL).Logger()

		summary, score, keep, err := p.evaluate(ctx, item)
		if err != nil {
			stats.Failed++
			itemLog.Warn().Err(err).Msg("Scoring failed, skipping item")
			continue
		}
		if !keep {
			stats.Rejected++
			continue
		}

		inserted, err := p.deps.Store.RecordIfNew(ctx, item, summary, score)
		if err != nil {
			stats.Failed++
			itemLog.Warn().Err(err).Msg("Failed to save item")
			continue
		}
		if !inserted {
			itemLog.Debug().Msg("Report already stored")
		}

		pair := models.Pair{Item: item, Summary: summary}
		if p.deps.Notifier != nil {
			if err := p.deps.Notifier.Notify(ctx, pair); err != nil {
				itemLog.Warn().Err(err).Msg("Per-item notify failed")
			}
		}

		batch = append(batch, pair)
		stats.Processed++
	}

	p.deliver(ctx, logger, batch, &stats)

	logger.Info().
		Int("collected", stats.Collected).
		Int("filtered", stats.Filtered).
		Int("new", stats.New).
		Int("rejected", stats.Rejected).
		Int("failed", stats.Failed).
		Int("processed", stats.Processed).
		Bool("delivered", stats.Delivered).
		Msg("Run finished")
	return stats, nil
}

// evaluate returns the summary and score for item, and whether it should be kept.
func (p *Pipeline) evaluate(ctx context.Context, item models.Item) (models.Summary, *float64, bool, error) {
	if p.deps.Scorer == nil {
		return llm.FallbackSummary(item), nil, true, nil
	}

	verdict, err := p.deps.Scorer.Evaluate(ctx, item)
	if err != nil {
		return nil, nil, false, err
	}
	if !verdict.Passed || verdict.Score < p.opts.MinScore {
		return nil, nil, false, nil
	}

	summary, err := p.deps.Scorer.Generate(ctx, item)
	if err != nil {
		return nil, nil, false, err
	}
	score := verdict.Score
	return summary, &score, true, nil
}

func (p *Pipeline) deliver(ctx context.Context, logger zerolog.Logger, batch []models.Pair, stats *Stats) {
	if p.deps.Deliverer == nil {
		return
	}
	if !p.opts.Gate.Matches(stats.StartedAt) {
		logger.Info().
			Time("run_started_at", stats.StartedAt).
			Ints("allowed_hours", p.opts.Gate.Hours).
			Int("pending", len(batch)).
			Msg("Channel digest skipped outside push hours")
		return
	}

	res, err := p.deps.Deliverer.Deliver(ctx, batch)
	stats.Delivery = res
	if err != nil {
		stats.DeliveryError = err
		logger.Error().Err(err).Msg("Channel digest failed")
		return
	}
	stats.Delivered = true
}

// DeliverStored sends the reports stored for date through the Deliverer. Push
// dedup keeps already delivered items from being sent again.
func (p *Pipeline) DeliverStored(ctx context.Context, date string) (notify.Result, error) {
	if p.deps.Deliverer == nil {
		return notify.Result{}, fault.Errorf(fault.Config, "pipeline.DeliverStored", "no delivery channel configured")
	}
	if date == "" {
		date = p.deps.Store.Today()
	}

	records, err := p.deps.Store.FetchByDate(ctx, date)
	if err != nil {
		return notify.Result{}, err
	}

	pairs := make([]models.Pair, 0, len(records))
	for _, rec := range records {
		pair, err := rec.Pair()
		if err != nil {
			return notify.Result{}, fmt.Errorf("decode report %s: %w", rec.Fingerprint, err)
		}
		pairs = append(pairs, pair)
	}

	// Stored rows come newest first; deliver in ingestion order.
	for i, j := 0, len(pairs)-1; i < j; i, j = i+1, j-1 {
		pairs[i], pairs[j] = pairs[j], pairs[i]
	}
	return p.deps.Deliverer.Deliver(ctx, pairs)
}
