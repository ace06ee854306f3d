// Package collect fetches raw items from configured RSS and HTML sources.
package collect

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/reddot-watch/feedfetcher"
	"github.com/rs/zerolog"

	"github.com/yangchao228/ScoutX/internal/config"
	"github.com/yangchao228/ScoutX/internal/models"
)

const (
	userAgent     = "ScoutX/1.0"
	sourceTimeout = 2 * time.Minute
)

// FetchFunc fetches the items of one source.
type FetchFunc func(ctx context.Context, src config.SourceConfig) ([]models.Item, error)

// Collector fetches sources with a bounded worker pool. Items come back in
// source order regardless of which worker finished first.
type Collector struct {
	WorkerCount int

	fetchers map[string]FetchFunc
	logger   zerolog.Logger

	fetched atomic.Int64
	failed  atomic.Int64
}

// NewCollector creates a Collector with the rss and html fetchers.
func NewCollector(workerCount int, logger zerolog.Logger) *Collector {
	if workerCount <= 0 {
		workerCount = runtime.NumCPU()
	}

	fetcher := feedfetcher.NewFeedFetcher(feedfetcher.Config{
		UserAgent:            userAgent,
		RequestTimeout:       15 * time.Second,
		MaxItems:             100,
		MaxHeadingLength:     200,
		MaxAge:               48 * time.Hour,
		FutureDriftTolerance: 12 * time.Hour,
	})
	client := &http.Client{Timeout: 30 * time.Second}

	return &Collector{
		WorkerCount: workerCount,
		fetchers: map[string]FetchFunc{
			"rss":  rssFetcher(fetcher),
			"html": htmlFetcher(client),
		},
		logger: logger.With().Str("component", "collect").Logger(),
	}
}

// Register replaces the fetcher used for a source type.
func (c *Collector) Register(sourceType string, fn FetchFunc) {
	c.fetchers[sourceType] = fn
}

// Stats returns the number of items fetched and sources that failed so far.
func (c *Collector) Stats() (fetched, failed int64) {
	return c.fetched.Load(), c.failed.Load()
}

type job struct {
	index int
	src   config.SourceConfig
}

// Collect fetches every source. A failing source is logged and contributes no items.
func (c *Collector) Collect(ctx context.Context, sources []config.SourceConfig) []models.Item {
	results := make([][]models.Item, len(sources))
	jobs := make(chan job, len(sources))

	var wg sync.WaitGroup
	for w := 0; w < min(c.WorkerCount, len(sources)); w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := range jobs {
				results[j.index] = c.fetchSource(ctx, j.src)
			}
		}()
	}

queue:
	for i, src := range sources {
		select {
		case jobs <- job{index: i, src: src}:
		case <-ctx.Done():
			c.logger.Info().Err(ctx.Err()).Msg("Context cancelled during source queueing")
			break queue
		}
	}
	close(jobs)
	wg.Wait()

	var items []models.Item
	for _, r := range results {
		items = append(items, r...)
	}
	return items
}

func (c *Collector) fetchSource(ctx context.Context, src config.SourceConfig) []models.Item {
	logger := c.logger.With().Str("source", src.Name).Str("url", src.URL).Logger()

	fn, ok := c.fetchers[src.Type]
	if !ok {
		c.failed.Add(1)
		logger.Error().Str("type", src.Type).Msg("No fetcher for source type")
		return nil
	}

	srcCtx, cancel := context.WithTimeout(ctx, sourceTimeout)
	defer cancel()

	items, err := fn(srcCtx, src)
	if err != nil {
		c.failed.Add(1)
		logger.Error().Err(err).Msg("Error fetching source")
		return nil
	}

	for i := range items {
		items[i].Source = src.Name
	}
	c.fetched.Add(int64(len(items)))
	logger.Info().Int("items", len(items)).Msg("Source fetched")
	return items
}

func rssFetcher(fetcher *feedfetcher.FeedFetcher) FetchFunc {
	return func(ctx context.Context, src config.SourceConfig) ([]models.Item, error) {
		entries, err := fetcher.FetchAndProcess(ctx, src.URL)
		if err != nil {
			return nil, fmt.Errorf("fetch feed: %w", err)
		}

		items := make([]models.Item, 0, len(entries))
		for _, entry := range entries {
			if entry.URL == "" && entry.Headline == "" {
				continue
			}
			item := models.Item{
				Source:      src.Name,
				Title:       entry.Headline,
				URL:         entry.URL,
				Description: entry.Content,
			}
			if published := entry.PublishedAt; !published.IsZero() {
				item.PublishedAt = &published
			}
			items = append(items, item)
		}
		return items, nil
	}
}
