package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/hlog"

	"github.com/yangchao228/ScoutX/internal/ledger"
	"github.com/yangchao228/ScoutX/internal/models"
)

const defaultDateLimit = 30
const maxDateLimit = 365
const dateLayout = "2006-01-02"

// Report is the JSON view of a stored report.
type Report struct {
	Fingerprint string              `json:"fingerprint"`
	ReportDate  string              `json:"report_date"`
	Source      string              `json:"source"`
	Title       string              `json:"title"`
	URL         string              `json:"url"`
	PublishedAt *time.Time          `json:"published_at,omitempty"`
	Description string              `json:"description"`
	Comments    []string            `json:"comments"`
	Media       []models.MediaAsset `json:"media"`
	Summary     []string            `json:"summary"`
	Score       *float64            `json:"score,omitempty"`
	CreatedAt   time.Time           `json:"created_at"`
}

// ReportsResponse is the body of GET /v1/reports.
type ReportsResponse struct {
	Date    string   `json:"date"`
	Count   int      `json:"count"`
	Reports []Report `json:"reports"`
}

// DatesResponse is the body of GET /v1/dates.
type DatesResponse struct {
	Dates []models.DateCount `json:"dates"`
}

// ReportsHandler serves the report ledger read-only.
type ReportsHandler struct {
	reader ledger.Reader
	today  func() string
}

// NewReportsHandler creates a handler. today supplies the default date.
func NewReportsHandler(reader ledger.Reader, today func() string) *ReportsHandler {
	return &ReportsHandler{reader: reader, today: today}
}

// GetReports returns the reports of ?date=YYYY-MM-DD, today when absent.
func (h *ReportsHandler) GetReports(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	date := r.URL.Query().Get("date")
	if date == "" {
		date = h.today()
	} else if _, err := time.Parse(dateLayout, date); err != nil {
		log.Warn().Str("date", date).Msg("Invalid 'date' parameter")
		http.Error(w, "Invalid 'date' parameter: use YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	records, err := h.reader.FetchByDate(r.Context(), date)
	if err != nil {
		log.Error().Err(err).Str("date", date).Msg("Error fetching reports")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	reports := make([]Report, 0, len(records))
	for _, rec := range records {
		rep, err := toReport(rec)
		if err != nil {
			log.Error().Err(err).Str("fingerprint", rec.Fingerprint).Msg("Stored report is unreadable")
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}
		reports = append(reports, rep)
	}

	writeJSON(w, r, ReportsResponse{Date: date, Count: len(reports), Reports: reports})
}

// GetDates returns the most recent report days with their counts.
func (h *ReportsHandler) GetDates(w http.ResponseWriter, r *http.Request) {
	log := hlog.FromRequest(r)

	limit := defaultDateLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed <= 0 || parsed > maxDateLimit {
			log.Warn().Str("limit", limitStr).Msg("Invalid 'limit' parameter value")
			http.Error(w, fmt.Sprintf("Invalid 'limit' parameter: must be between 1 and %d", maxDateLimit), http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	counts, err := h.reader.ListDateCounts(r.Context(), limit)
	if err != nil {
		log.Error().Err(err).Msg("Error listing report dates")
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return
	}

	writeJSON(w, r, DatesResponse{Dates: counts})
}

func toReport(rec models.ReportRecord) (Report, error) {
	pair, err := rec.Pair()
	if err != nil {
		return Report{}, err
	}
	rep := Report{
		Fingerprint: rec.Fingerprint,
		ReportDate:  rec.ReportDate,
		Source:      rec.Source,
		Title:       rec.Title,
		URL:         rec.URL,
		PublishedAt: pair.Item.PublishedAt,
		Description: rec.Description,
		Comments:    nonNil(pair.Item.Comments),
		Media:       nonNil(pair.Item.Media),
		Summary:     nonNil([]string(pair.Summary)),
		CreatedAt:   rec.CreatedAt,
	}
	if rec.Score.Valid {
		score := rec.Score.Float64
		rep.Score = &score
	}
	return rep, nil
}

func nonNil[T any](v []T) []T {
	if v == nil {
		return []T{}
	}
	return v
}

func writeJSON(w http.ResponseWriter, r *http.Request, body any) {
	log := hlog.FromRequest(r)

	jsonBytes, err := json.Marshal(body)
	if err != nil {
		log.Error().Err(err).Msg("Error marshaling JSON response")
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(jsonBytes); err != nil {
		log.Error().Err(err).Msg("Error writing JSON response body to client")
	}
	log.Debug().Int("bytes_written", len(jsonBytes)).Msg("Response completed")
}
