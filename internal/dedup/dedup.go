// Package dedup drops items already seen at ingestion and items already pushed on a channel.
package dedup

import (
	"context"

	"github.com/rs/zerolog"

	"github.com/yangchao228/ScoutX/internal/fingerprint"
	"github.com/yangchao228/ScoutX/internal/models"
)

// Store is the part of the ledger the gate needs.
type Store interface {
	MarkSeen(ctx context.Context, item models.Item) (bool, error)
	PushedSet(ctx context.Context, channel string, fps []string) (map[string]bool, error)
}

// Gate applies ingestion and delivery dedup against a Store.
type Gate struct {
	store  Store
	logger zerolog.Logger
}

// NewGate creates a Gate.
func NewGate(store Store, logger zerolog.Logger) *Gate {
	return &Gate{store: store, logger: logger}
}

// FilterNew keeps items whose fingerprint has never been seen, recording each
// kept fingerprint. Duplicates inside the batch are dropped after their first
// occurrence. An item whose check fails is skipped and logged.
func (g *Gate) FilterNew(ctx context.Context, items []models.Item) []models.Item {
	kept := make([]models.Item, 0, len(items))
	for _, item := range items {
		isNew, err := g.store.MarkSeen(ctx, item)
		if err != nil {
			g.logger.Error().Err(err).Str("url", item.URL).Msg("Seen check failed, skipping item")
			continue
		}
		if !isNew {
			g.logger.Debug().Str("url", item.URL).Msg("Item already seen")
			continue
		}
		kept = append(kept, item)
	}
	return kept
}

// FilterUnpushed keeps the pairs not yet delivered on channel and returns how many were skipped.
func (g *Gate) FilterUnpushed(ctx context.Context, channel string, pairs []models.Pair) ([]models.Pair, int, error) {
	if len(pairs) == 0 {
		return pairs, 0, nil
	}

	fps := make([]string, len(pairs))
	for i, p := range pairs {
		fps[i] = fingerprint.Of(p.Item)
	}

	pushed, err := g.store.PushedSet(ctx, channel, fps)
	if err != nil {
		return nil, 0, err
	}

	kept := make([]models.Pair, 0, len(pairs))
	batch := make(map[string]bool, len(pairs))
	for i, p := range pairs {
		if pushed[fps[i]] || batch[fps[i]] {
			continue
		}
		batch[fps[i]] = true
		kept = append(kept, p)
	}
	return kept, len(pairs) - len(kept), nil
}
