package dedup

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"

	"github.com/yangchao228/ScoutX/internal/fingerprint"
	"github.com/yangchao228/ScoutX/internal/models"
)

type memStore struct {
	seen    map[string]bool
	pushed  map[string]bool
	failURL string
}

func newMemStore() *memStore {
	return &memStore{seen: map[string]bool{}, pushed: map[string]bool{}}
}

func (m *memStore) MarkSeen(_ context.Context, item models.Item) (bool, error) {
	if item.URL == m.failURL {
		return false, errors.New("disk full")
	}
	fp := fingerprint.Of(item)
	if m.seen[fp] {
		return false, nil
	}
	m.seen[fp] = true
	return true, nil
}

func (m *memStore) PushedSet(_ context.Context, channel string, fps []string) (map[string]bool, error) {
	out := map[string]bool{}
	for _, fp := range fps {
		if m.pushed[channel+"|"+fp] {
			out[fp] = true
		}
	}
	return out, nil
}

func TestFilterNew(t *testing.T) {
	store := newMemStore()
	store.failURL = "https://x/broken"
	gate := NewGate(store, zerolog.Nop())

	items := []models.Item{
		{URL: "https://x/1"},
		{URL: "https://x/1"},
		{URL: "https://x/broken"},
		{URL: "https://x/2"},
	}

	kept := gate.FilterNew(context.Background(), items)
	if len(kept) != 2 || kept[0].URL != "https://x/1" || kept[1].URL != "https://x/2" {
		t.Fatalf("first pass kept %+v", kept)
	}

	again := gate.FilterNew(context.Background(), items[:2])
	if len(again) != 0 {
		t.Fatalf("second pass kept %+v", again)
	}
}

func TestFilterUnpushed(t *testing.T) {
	store := newMemStore()
	gate := NewGate(store, zerolog.Nop())

	a := models.Pair{Item: models.Item{URL: "https://x/a"}}
	b := models.Pair{Item: models.Item{URL: "https://x/b"}}
	store.pushed["feishu|"+fingerprint.Of(a.Item)] = true

	kept, skipped, err := gate.FilterUnpushed(context.Background(), "feishu", []models.Pair{a, b, b})
	if err != nil {
		t.Fatalf("FilterUnpushed: %v", err)
	}
	if len(kept) != 1 || kept[0].Item.URL != "https://x/b" || skipped != 2 {
		t.Fatalf("kept=%+v skipped=%d", kept, skipped)
	}

	kept, skipped, err = gate.FilterUnpushed(context.Background(), "telegram", []models.Pair{a})
	if err != nil || len(kept) != 1 || skipped != 0 {
		t.Fatalf("other channel: kept=%+v skipped=%d err=%v", kept, skipped, err)
	}
}
