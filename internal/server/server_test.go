package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/yangchao228/ScoutX/internal/models"
	"github.com/yangchao228/ScoutX/internal/server/api"
)

type stubReader struct {
	reports   map[string][]models.ReportRecord
	lastLimit int
	err       error
}

func (s *stubReader) FetchByDate(_ context.Context, date string) ([]models.ReportRecord, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.reports[date], nil
}

func (s *stubReader) ListDateCounts(_ context.Context, limit int) ([]models.DateCount, error) {
	s.lastLimit = limit
	if s.err != nil {
		return nil, s.err
	}
	return []models.DateCount{{Date: "2025-03-01", Count: 2}, {Date: "2025-02-28", Count: 5}}, nil
}

type stubPinger struct{ err error }

func (p stubPinger) PingContext(context.Context) error { return p.err }

func newTestHandler(reader *stubReader, apiKey string, pinger Pinger) http.Handler {
	return NewHandler(Options{
		Reader: reader,
		Pinger: pinger,
		Today:  func() string { return "2025-03-01" },
		APIKey: apiKey,
		Logger: zerolog.Nop(),
	})
}

func serve(h http.Handler, target string, header map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, target, nil)
	for k, v := range header {
		req.Header.Set(k, v)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func storedReport() models.ReportRecord {
	return models.ReportRecord{
		Fingerprint:  "abc",
		ReportDate:   "2025-03-01",
		Source:       "qbitai",
		Title:        "GPT-5 发布",
		URL:          "https://example.com/1",
		PublishedAt:  sql.NullTime{Time: time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC), Valid: true},
		CommentsJSON: `["nice"]`,
		MediaJSON:    `[]`,
		SummaryJSON:  `["one","two"]`,
		Score:        sql.NullFloat64{Float64: 8.5, Valid: true},
		CreatedAt:    time.Date(2025, 3, 1, 1, 0, 0, 0, time.UTC),
	}
}

func TestGetReports_DefaultsToToday(t *testing.T) {
	reader := &stubReader{reports: map[string][]models.ReportRecord{"2025-03-01": {storedReport()}}}
	rec := serve(newTestHandler(reader, "", nil), "/v1/reports", nil)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d: %s", rec.Code, rec.Body.String())
	}
	var body api.ReportsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if body.Date != "2025-03-01" || body.Count != 1 {
		t.Fatalf("body = %+v", body)
	}
	got := body.Reports[0]
	if len(got.Summary) != 2 || got.Comments[0] != "nice" || got.Score == nil || *got.Score != 8.5 || got.PublishedAt == nil {
		t.Errorf("report = %+v", got)
	}
	if got.Media == nil {
		t.Errorf("media should encode as an empty list")
	}
}

func TestGetReports_EmptyDayAndBadDate(t *testing.T) {
	h := newTestHandler(&stubReader{}, "", nil)

	rec := serve(h, "/v1/reports?date=2024-01-01", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var body api.ReportsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body.Count != 0 || body.Reports == nil {
		t.Fatalf("body = %s, %v", rec.Body.String(), err)
	}

	if rec := serve(h, "/v1/reports?date=yesterday", nil); rec.Code != http.StatusBadRequest {
		t.Fatalf("bad date status = %d", rec.Code)
	}
}

func TestGetDates_Limit(t *testing.T) {
	tests := []struct {
		query     string
		status    int
		wantLimit int
	}{
		{"", http.StatusOK, 30},
		{"?limit=7", http.StatusOK, 7},
		{"?limit=365", http.StatusOK, 365},
		{"?limit=366", http.StatusBadRequest, 0},
		{"?limit=0", http.StatusBadRequest, 0},
		{"?limit=abc", http.StatusBadRequest, 0},
	}
	for _, tt := range tests {
		t.Run(tt.query, func(t *testing.T) {
			reader := &stubReader{}
			rec := serve(newTestHandler(reader, "", nil), "/v1/dates"+tt.query, nil)
			if rec.Code != tt.status {
				t.Fatalf("status = %d, want %d", rec.Code, tt.status)
			}
			if reader.lastLimit != tt.wantLimit {
				t.Errorf("limit = %d, want %d", reader.lastLimit, tt.wantLimit)
			}
		})
	}
}

func TestReaderErrorIs500(t *testing.T) {
	h := newTestHandler(&stubReader{err: errors.New("locked")}, "", nil)
	if rec := serve(h, "/v1/dates", nil); rec.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestAPIKey(t *testing.T) {
	h := newTestHandler(&stubReader{}, "secret", nil)

	if rec := serve(h, "/v1/dates", nil); rec.Code != http.StatusUnauthorized {
		t.Errorf("missing key status = %d", rec.Code)
	}
	if rec := serve(h, "/v1/dates", map[string]string{"X-API-Key": "wrong"}); rec.Code != http.StatusUnauthorized {
		t.Errorf("wrong key status = %d", rec.Code)
	}
	if rec := serve(h, "/v1/dates", map[string]string{"X-API-Key": "secret"}); rec.Code != http.StatusOK {
		t.Errorf("valid key status = %d", rec.Code)
	}
	if rec := serve(h, "/health", nil); rec.Code != http.StatusOK {
		t.Errorf("health without key status = %d", rec.Code)
	}
}

func TestHealth(t *testing.T) {
	if rec := serve(newTestHandler(&stubReader{}, "", stubPinger{}), "/health", nil); rec.Code != http.StatusOK || rec.Body.String() != "OK" {
		t.Errorf("healthy = %d %q", rec.Code, rec.Body.String())
	}
	if rec := serve(newTestHandler(&stubReader{}, "", stubPinger{err: errors.New("gone")}), "/health", nil); rec.Code != http.StatusServiceUnavailable {
		t.Errorf("unhealthy = %d", rec.Code)
	}
}
