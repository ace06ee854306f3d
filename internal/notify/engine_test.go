package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/yangchao228/ScoutX/internal/database"
	"github.com/yangchao228/ScoutX/internal/dedup"
	"github.com/yangchao228/ScoutX/internal/fault"
	"github.com/yangchao228/ScoutX/internal/fingerprint"
	"github.com/yangchao228/ScoutX/internal/ledger"
	"github.com/yangchao228/ScoutX/internal/models"
	"github.com/yangchao228/ScoutX/internal/retry"
)

const testChannel = "feishu_recent_24h"

var testNow = time.Date(2025, 3, 1, 4, 0, 0, 0, time.UTC)

// webhook records posted cards and replies with the scripted responses in order,
// repeating the last one once the script runs out.
type webhook struct {
	mu      sync.Mutex
	cards   []cardMessage
	replies []reply
	server  *httptest.Server
}

type reply struct {
	status int
	body   string
}

var okReply = reply{http.StatusOK, `{"code":0,"msg":"success"}`}

func newWebhook(t *testing.T, replies ...reply) *webhook {
	t.Helper()

	if len(replies) == 0 {
		replies = []reply{okReply}
	}
	w := &webhook{replies: replies}
	w.server = httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		raw, _ := io.ReadAll(r.Body)
		var msg cardMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Errorf("bad card payload: %v", err)
		}

		w.mu.Lock()
		w.cards = append(w.cards, msg)
		rep := w.replies[min(len(w.cards)-1, len(w.replies)-1)]
		w.mu.Unlock()

		rw.WriteHeader(rep.status)
		_, _ = rw.Write([]byte(rep.body))
	}))
	t.Cleanup(w.server.Close)
	return w
}

func (w *webhook) received() []cardMessage {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]cardMessage(nil), w.cards...)
}

func noSleepPolicy() retry.Policy {
	p := retry.DefaultPolicy()
	p.Sleep = func(context.Context, time.Duration) error { return nil }
	return p
}

func newTestEngine(t *testing.T, w *webhook) (*Engine, *ledger.Ledger) {
	t.Helper()

	db, err := database.NewDB(database.NewConfig(filepath.Join(t.TempDir(), "ledger.db")))
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	led := ledger.New(db, time.UTC)
	led.Now = func() time.Time { return testNow }

	sink, err := NewFeishuSink(w.server.URL, time.Second)
	if err != nil {
		t.Fatalf("NewFeishuSink: %v", err)
	}

	engine := NewEngine(EngineConfig{
		Sink:     sink,
		Channel:  testChannel,
		Filter:   dedup.NewGate(led, zerolog.Nop()),
		Marker:   led,
		Location: time.UTC,
		Policy:   noSleepPolicy(),
		Logger:   zerolog.Nop(),
	})
	engine.Now = func() time.Time { return testNow }
	return engine, led
}

func pair(source, title string, age time.Duration) models.Pair {
	published := testNow.Add(-age)
	return models.Pair{
		Item: models.Item{
			Source:      source,
			Title:       title,
			URL:         "https://example.com/" + source + "/" + title,
			Description: "about " + title,
			PublishedAt: &published,
		},
		Summary: models.Summary{"summary of " + title},
	}
}

func itemTitles(msg cardMessage) []string {
	var titles []string
	for _, el := range msg.Card.Elements[1:] {
		end := strings.Index(el.Content, "](")
		titles = append(titles, strings.TrimPrefix(el.Content[:end], "**["))
	}
	return titles
}

func TestDeliver_ChunksInSourceOrder(t *testing.T) {
	w := newWebhook(t)
	engine, led := newTestEngine(t, w)

	counts := map[string]int{"c": 5, "a": 12, "b": 6}
	var pairs []models.Pair
	// Interleave arrival order so grouping has to reorder.
	for i := 0; i < 12; i++ {
		for _, src := range []string{"c", "b", "a"} {
			if i < counts[src] {
				pairs = append(pairs, pair(src, fmt.Sprintf("%s%02d", src, i), time.Hour))
			}
		}
	}

	res, err := engine.Deliver(context.Background(), pairs)
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if res.Outcome != Sent || res.Total != 23 || res.Chunks != 3 || res.ChunksSent != 3 {
		t.Fatalf("unexpected result %+v", res)
	}

	cards := w.received()
	if len(cards) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(cards))
	}

	var got []string
	for i, size := range []int{10, 10, 3} {
		titles := itemTitles(cards[i])
		if len(titles) != size {
			t.Errorf("chunk %d has %d items, want %d", i+1, len(titles), size)
		}
		got = append(got, titles...)

		wantTitle := fmt.Sprintf("ScoutX 日报（最近24小时 23 条）[%d/3]", i+1)
		if cards[i].Card.Header.Title.Content != wantTitle {
			t.Errorf("chunk %d title = %q", i+1, cards[i].Card.Header.Title.Content)
		}
	}

	var want []string
	for _, src := range []string{"a", "b", "c"} {
		for i := 0; i < counts[src]; i++ {
			want = append(want, fmt.Sprintf("%s%02d", src, i))
		}
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Fatalf("order\n got %v\nwant %v", got, want)
	}

	for _, p := range pairs {
		pushed, err := led.IsPushed(context.Background(), testChannel, fingerprint.Of(p.Item))
		if err != nil || !pushed {
			t.Fatalf("%s not marked pushed (err=%v)", p.Item.Title, err)
		}
	}
}

func TestDeliver_RecencyWindow(t *testing.T) {
	w := newWebhook(t)
	engine, _ := newTestEngine(t, w)

	stale := pair("s", "stale", 25*time.Hour)
	fresh := pair("s", "fresh", 23*time.Hour+59*time.Minute)
	undated := pair("s", "undated", 0)
	undated.Item.PublishedAt = nil

	res, err := engine.Deliver(context.Background(), []models.Pair{stale, fresh, undated})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if res.Total != 1 || res.MissingTimestamp != 1 {
		t.Fatalf("unexpected result %+v", res)
	}

	cards := w.received()
	if len(cards) != 1 {
		t.Fatalf("expected one message, got %d", len(cards))
	}
	if titles := itemTitles(cards[0]); len(titles) != 1 || titles[0] != "fresh" {
		t.Fatalf("delivered %v", titles)
	}
	if !strings.Contains(cards[0].Card.Elements[0].Content, "未带发布时间已跳过：1 条") {
		t.Errorf("header does not report missing timestamps: %q", cards[0].Card.Elements[0].Content)
	}
}

func TestDeliver_Notices(t *testing.T) {
	tests := []struct {
		name    string
		pairs   []models.Pair
		outcome Outcome
		detail  string
	}{
		{"empty batch", nil, EmptyNotice, "本轮候选：0 条"},
		{"nothing recent", []models.Pair{pair("s", "old", 48*time.Hour)}, NothingRecentNotice, "最近24小时内没有符合推送条件的内容"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := newWebhook(t)
			engine, _ := newTestEngine(t, w)

			res, err := engine.Deliver(context.Background(), tt.pairs)
			if err != nil {
				t.Fatalf("Deliver: %v", err)
			}
			if res.Outcome != tt.outcome {
				t.Fatalf("outcome = %v, want %v", res.Outcome, tt.outcome)
			}

			cards := w.received()
			if len(cards) != 1 || cards[0].Card.Header.Title.Content != "ScoutX 日报（无新增）" {
				t.Fatalf("expected a single notice, got %+v", cards)
			}
			if !strings.Contains(cards[0].Card.Elements[0].Content, tt.detail) {
				t.Errorf("notice %q lacks %q", cards[0].Card.Elements[0].Content, tt.detail)
			}
		})
	}
}

func TestDeliver_RerunSendsAlreadyDeliveredNotice(t *testing.T) {
	w := newWebhook(t)
	engine, _ := newTestEngine(t, w)
	pairs := []models.Pair{pair("s", "one", time.Hour), pair("s", "two", time.Hour)}

	if _, err := engine.Deliver(context.Background(), pairs); err != nil {
		t.Fatalf("first Deliver: %v", err)
	}
	res, err := engine.Deliver(context.Background(), pairs)
	if err != nil {
		t.Fatalf("second Deliver: %v", err)
	}
	if res.Outcome != AlreadyDeliveredNotice || res.DedupSkipped != 2 {
		t.Fatalf("unexpected result %+v", res)
	}

	cards := w.received()
	if len(cards) != 2 {
		t.Fatalf("expected content then notice, got %d messages", len(cards))
	}
	if !strings.Contains(cards[1].Card.Elements[0].Content, "已推送去重跳过：2 条") {
		t.Errorf("notice lacks dedup count: %q", cards[1].Card.Elements[0].Content)
	}
}

func TestDeliver_RetriesTransientFailures(t *testing.T) {
	w := newWebhook(t,
		reply{http.StatusBadGateway, "upstream"},
		reply{http.StatusOK, `{"code":9499,"msg":"too many requests"}`},
		okReply,
	)
	engine, led := newTestEngine(t, w)
	p := pair("s", "one", time.Hour)

	res, err := engine.Deliver(context.Background(), []models.Pair{p})
	if err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if res.ChunksSent != 1 || len(w.received()) != 3 {
		t.Fatalf("sent=%d requests=%d", res.ChunksSent, len(w.received()))
	}
	pushed, err := led.IsPushed(context.Background(), testChannel, fingerprint.Of(p.Item))
	if err != nil || !pushed {
		t.Fatalf("item not marked pushed after success (err=%v)", err)
	}
}

func TestDeliver_ExhaustedRetriesMarkNothing(t *testing.T) {
	w := newWebhook(t, reply{http.StatusServiceUnavailable, "down"})
	engine, led := newTestEngine(t, w)
	p := pair("s", "one", time.Hour)

	_, err := engine.Deliver(context.Background(), []models.Pair{p})
	if err == nil {
		t.Fatalf("expected delivery error")
	}
	if !fault.Is(err, fault.Transient) {
		t.Errorf("expected transient fault, got %v", err)
	}
	if got := len(w.received()); got != 3 {
		t.Fatalf("expected 3 attempts, got %d", got)
	}
	pushed, err := led.IsPushed(context.Background(), testChannel, fingerprint.Of(p.Item))
	if err != nil || pushed {
		t.Fatalf("item marked pushed after failed delivery (err=%v)", err)
	}
}

func TestDeliver_ValidationFailureIsNotRetried(t *testing.T) {
	w := newWebhook(t, reply{http.StatusBadRequest, "bad card"})
	engine, _ := newTestEngine(t, w)

	_, err := engine.Deliver(context.Background(), []models.Pair{pair("s", "one", time.Hour)})
	if !fault.Is(err, fault.Validation) {
		t.Fatalf("expected validation fault, got %v", err)
	}
	if got := len(w.received()); got != 1 {
		t.Fatalf("expected a single attempt, got %d", got)
	}
}

func TestDeliver_FailedChunkAbortsRemaining(t *testing.T) {
	w := newWebhook(t, okReply, reply{http.StatusInternalServerError, "boom"})
	engine, led := newTestEngine(t, w)

	var pairs []models.Pair
	for i := 0; i < 25; i++ {
		pairs = append(pairs, pair("s", fmt.Sprintf("t%02d", i), time.Hour))
	}

	res, err := engine.Deliver(context.Background(), pairs)
	if err == nil {
		t.Fatalf("expected failure on second chunk")
	}
	if res.ChunksSent != 1 {
		t.Fatalf("ChunksSent = %d", res.ChunksSent)
	}
	// One success plus three attempts at chunk 2; chunk 3 is never tried.
	if got := len(w.received()); got != 4 {
		t.Fatalf("expected 4 requests, got %d", got)
	}

	pushed, err := led.PushedSet(context.Background(), testChannel, fingerprintsOf(pairs))
	if err != nil {
		t.Fatalf("PushedSet: %v", err)
	}
	if len(pushed) != ChunkSize {
		t.Fatalf("expected %d marked items, got %d", ChunkSize, len(pushed))
	}
	if !pushed[fingerprint.Of(pairs[0].Item)] || pushed[fingerprint.Of(pairs[10].Item)] {
		t.Fatalf("wrong items marked")
	}
}

func fingerprintsOf(pairs []models.Pair) []string {
	fps := make([]string, len(pairs))
	for i, p := range pairs {
		fps[i] = fingerprint.Of(p.Item)
	}
	return fps
}

func TestTruncate(t *testing.T) {
	tests := []struct {
		text   string
		max    int
		marker string
		want   string
	}{
		{"short", 10, "…", "short"},
		{"  padded  ", 6, "…", "padded"},
		{"abcdefghij", 5, "…", "abcd…"},
		{"ab   cdefg", 6, "…", "ab…"},
		{"人工智能大模型发布", 5, "…", "人工智能…"},
		{"abcdefghij", 6, "...", "abc..."},
	}

	for _, tt := range tests {
		if got := truncate(tt.text, tt.max, tt.marker); got != tt.want {
			t.Errorf("truncate(%q, %d) = %q, want %q", tt.text, tt.max, got, tt.want)
		}
	}
}

func TestNewFeishuSink_RejectsBadTargets(t *testing.T) {
	for _, target := range []string{"", "   ", "not a url", "ftp://host/hook", "https://"} {
		if _, err := NewFeishuSink(target, time.Second); !fault.Is(err, fault.Config) {
			t.Errorf("NewFeishuSink(%q) error = %v, want config fault", target, err)
		}
	}
}
