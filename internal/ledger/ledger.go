// Package ledger persists seen items, generated reports and per-channel push records.
package ledger

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"sync"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/yangchao228/ScoutX/internal/database"
	"github.com/yangchao228/ScoutX/internal/fault"
	"github.com/yangchao228/ScoutX/internal/fingerprint"
	"github.com/yangchao228/ScoutX/internal/models"
)

const dateLayout = "2006-01-02"

// sqlite keeps at most 32766 host parameters per statement; stay well below it.
const maxInArgs = 500

var reportColumns = []string{
	"fingerprint", "report_date", "source", "title", "url", "published_at",
	"description", "comments_json", "media_json", "summary_json", "score", "created_at",
}

// Reader is the query surface used by the read-only viewer.
type Reader interface {
	FetchByDate(ctx context.Context, date string) ([]models.ReportRecord, error)
	ListDateCounts(ctx context.Context, limit int) ([]models.DateCount, error)
}

// Ledger is an append-only store over the reports, seen_items and push_records tables.
type Ledger struct {
	db  *database.DB
	loc *time.Location

	// Now is the clock used for created_at, pushed_at and report_date.
	Now func() time.Time

	mu    sync.Mutex
	ready bool
	// selectCols caches the read-only select list once every column exists.
	selectCols []string
}

// New returns a Ledger over db. report_date is computed in loc.
func New(db *database.DB, loc *time.Location) *Ledger {
	if loc == nil {
		loc = time.UTC
	}
	return &Ledger{db: db, loc: loc, Now: time.Now}
}

// ensureSchema runs migrations on first use. Read-only handles expect an existing store.
func (l *Ledger) ensureSchema() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.ready || l.db.ReadOnly {
		return nil
	}
	if err := l.db.Migrate(); err != nil {
		return fault.New(fault.Persistence, "ledger.ensureSchema", err)
	}
	l.ready = true
	return nil
}

// MarkSeen records the item fingerprint in seen_items. It returns false when the
// fingerprint was already present.
func (l *Ledger) MarkSeen(ctx context.Context, item models.Item) (bool, error) {
	if err := l.ensureSchema(); err != nil {
		return false, err
	}

	res, err := l.db.ExecContext(ctx, `
		INSERT INTO seen_items (fingerprint, url, title, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO NOTHING`,
		fingerprint.Of(item), item.URL, item.Title, l.Now().UTC())
	if err != nil {
		return false, fault.New(fault.Persistence, "ledger.MarkSeen", err)
	}
	return inserted(res, "ledger.MarkSeen")
}

// IsSeen reports whether the fingerprint is already in seen_items.
func (l *Ledger) IsSeen(ctx context.Context, fp string) (bool, error) {
	if err := l.ensureSchema(); err != nil {
		return false, err
	}

	var n int
	err := l.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM seen_items WHERE fingerprint = ?`, fp)
	if err != nil {
		return false, fault.New(fault.Persistence, "ledger.IsSeen", err)
	}
	return n > 0, nil
}

// RecordIfNew stores a report row for item. An existing row with the same
// fingerprint is left untouched and false is returned.
func (l *Ledger) RecordIfNew(ctx context.Context, item models.Item, summary models.Summary, score *float64) (bool, error) {
	if err := l.ensureSchema(); err != nil {
		return false, err
	}

	comments, err := encodeList(item.Comments)
	if err != nil {
		return false, fault.New(fault.Persistence, "ledger.RecordIfNew", err)
	}
	media, err := encodeList(item.Media)
	if err != nil {
		return false, fault.New(fault.Persistence, "ledger.RecordIfNew", err)
	}
	summaryJSON, err := encodeList(summary)
	if err != nil {
		return false, fault.New(fault.Persistence, "ledger.RecordIfNew", err)
	}

	var published sql.NullTime
	if item.PublishedAt != nil {
		published = sql.NullTime{Time: item.PublishedAt.UTC(), Valid: true}
	}
	var scoreVal sql.NullFloat64
	if score != nil {
		scoreVal = sql.NullFloat64{Float64: *score, Valid: true}
	}

	now := l.Now()
	res, err := l.db.ExecContext(ctx, `
		INSERT INTO reports (
			fingerprint, report_date, source, title, url, published_at,
			description, comments_json, media_json, summary_json, score, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO NOTHING`,
		fingerprint.Of(item), now.In(l.loc).Format(dateLayout), item.Source, item.Title, item.URL, published,
		item.Description, comments, media, summaryJSON, scoreVal, now.UTC())
	if err != nil {
		return false, fault.New(fault.Persistence, "ledger.RecordIfNew", err)
	}
	return inserted(res, "ledger.RecordIfNew")
}

// FetchByDate returns the reports stored for a calendar day, newest first.
func (l *Ledger) FetchByDate(ctx context.Context, date string) ([]models.ReportRecord, error) {
	if err := l.ensureSchema(); err != nil {
		return nil, err
	}

	cols, err := l.reportSelectColumns(ctx)
	if err != nil {
		return nil, err
	}

	query, args, err := sq.Select(cols...).
		From("reports").
		Where(sq.Eq{"report_date": date}).
		OrderBy("created_at DESC", "rowid DESC").
		ToSql()
	if err != nil {
		return nil, fault.New(fault.Persistence, "ledger.FetchByDate", err)
	}

	records := []models.ReportRecord{}
	if err := l.db.SelectContext(ctx, &records, query, args...); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return []models.ReportRecord{}, nil
		}
		return nil, fault.New(fault.Persistence, "ledger.FetchByDate", err)
	}
	return records, nil
}

// reportSelectColumns returns the report select list. Writable handles have been
// migrated. On a read-only handle over an older store, columns added later are
// selected as NULL.
func (l *Ledger) reportSelectColumns(ctx context.Context) ([]string, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.db.ReadOnly {
		return reportColumns, nil
	}
	if l.selectCols != nil {
		return l.selectCols, nil
	}

	var present []string
	if err := l.db.SelectContext(ctx, &present, `SELECT name FROM pragma_table_info('reports')`); err != nil {
		return nil, fault.New(fault.Persistence, "ledger.reportSelectColumns", err)
	}
	have := make(map[string]bool, len(present))
	for _, name := range present {
		have[name] = true
	}

	cols := make([]string, 0, len(reportColumns))
	complete := true
	for _, name := range reportColumns {
		if have[name] || len(have) == 0 {
			cols = append(cols, name)
			continue
		}
		cols = append(cols, "NULL AS "+name)
		complete = false
	}
	// A writer may still migrate the store, so only a full layout is kept.
	if complete && len(have) > 0 {
		l.selectCols = cols
	}
	return cols, nil
}

// ListDateCounts returns up to limit most recent report days with their row counts.
func (l *Ledger) ListDateCounts(ctx context.Context, limit int) ([]models.DateCount, error) {
	if err := l.ensureSchema(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		return []models.DateCount{}, nil
	}

	query, args, err := sq.Select("report_date", "COUNT(*) AS count").
		From("reports").
		GroupBy("report_date").
		OrderBy("report_date DESC").
		Limit(uint64(limit)).
		ToSql()
	if err != nil {
		return nil, fault.New(fault.Persistence, "ledger.ListDateCounts", err)
	}

	counts := []models.DateCount{}
	if err := l.db.SelectContext(ctx, &counts, query, args...); err != nil {
		return nil, fault.New(fault.Persistence, "ledger.ListDateCounts", err)
	}
	return counts, nil
}

// IsPushed reports whether fp was already delivered on channel.
func (l *Ledger) IsPushed(ctx context.Context, channel, fp string) (bool, error) {
	if err := l.ensureSchema(); err != nil {
		return false, err
	}

	var n int
	err := l.db.GetContext(ctx, &n,
		`SELECT COUNT(*) FROM push_records WHERE channel = ? AND item_fingerprint = ?`, channel, fp)
	if err != nil {
		return false, fault.New(fault.Persistence, "ledger.IsPushed", err)
	}
	return n > 0, nil
}

// PushedSet returns the subset of fps already delivered on channel.
func (l *Ledger) PushedSet(ctx context.Context, channel string, fps []string) (map[string]bool, error) {
	if err := l.ensureSchema(); err != nil {
		return nil, err
	}

	pushed := make(map[string]bool, len(fps))
	for start := 0; start < len(fps); start += maxInArgs {
		end := min(start+maxInArgs, len(fps))

		query, args, err := sq.Select("item_fingerprint").
			From("push_records").
			Where(sq.Eq{"channel": channel, "item_fingerprint": fps[start:end]}).
			ToSql()
		if err != nil {
			return nil, fault.New(fault.Persistence, "ledger.PushedSet", err)
		}

		var found []string
		if err := l.db.SelectContext(ctx, &found, query, args...); err != nil {
			return nil, fault.New(fault.Persistence, "ledger.PushedSet", err)
		}
		for _, fp := range found {
			pushed[fp] = true
		}
	}
	return pushed, nil
}

// MarkPushed records fps as delivered on channel in one transaction. Already
// recorded pairs are left as they are.
func (l *Ledger) MarkPushed(ctx context.Context, channel string, fps ...string) error {
	if err := l.ensureSchema(); err != nil {
		return err
	}
	if len(fps) == 0 {
		return nil
	}

	tx, err := l.db.BeginTxx(ctx, nil)
	if err != nil {
		return fault.New(fault.Persistence, "ledger.MarkPushed", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PreparexContext(ctx, `
		INSERT INTO push_records (channel, item_fingerprint, pushed_at)
		VALUES (?, ?, ?)
		ON CONFLICT(channel, item_fingerprint) DO NOTHING`)
	if err != nil {
		return fault.New(fault.Persistence, "ledger.MarkPushed", err)
	}
	defer stmt.Close()

	now := l.Now().UTC()
	for _, fp := range fps {
		if _, err := stmt.ExecContext(ctx, channel, fp, now); err != nil {
			return fault.New(fault.Persistence, "ledger.MarkPushed", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fault.New(fault.Persistence, "ledger.MarkPushed", err)
	}
	return nil
}

// Today returns the ledger's current report day.
func (l *Ledger) Today() string {
	return l.Now().In(l.loc).Format(dateLayout)
}

func inserted(res sql.Result, op string) (bool, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return false, fault.New(fault.Persistence, op, err)
	}
	return n > 0, nil
}

func encodeList[T any](v []T) (string, error) {
	if v == nil {
		v = []T{}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
