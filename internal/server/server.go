package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"

	"github.com/yangchao228/ScoutX/internal/ledger"
	"github.com/yangchao228/ScoutX/internal/server/api"
)

// Pinger reports whether the backing store is reachable.
type Pinger interface {
	PingContext(ctx context.Context) error
}

// Options configure the HTTP surface.
type Options struct {
	Reader ledger.Reader
	Pinger Pinger
	Today  func() string
	APIKey string
	Logger zerolog.Logger
}

// apiKeyMiddleware checks the X-API-Key header against key. /health stays open.
func apiKeyMiddleware(apiKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.URL.Path == "/health" {
				next.ServeHTTP(w, r)
				return
			}

			reqAPIKey := r.Header.Get("X-API-Key")
			if reqAPIKey == "" {
				http.Error(w, "API key required", http.StatusUnauthorized)
				return
			}
			if reqAPIKey != apiKey {
				http.Error(w, "Invalid API key", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// NewHandler builds the routed, logged and optionally authenticated handler.
func NewHandler(opts Options) http.Handler {
	logger := opts.Logger.With().Str("service", "scoutx-api").Logger()

	reports := api.NewReportsHandler(opts.Reader, opts.Today)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /v1/reports", reports.GetReports)
	mux.HandleFunc("GET /v1/dates", reports.GetDates)
	mux.HandleFunc("GET /health", healthCheckHandler(opts.Pinger))

	var h http.Handler = mux
	if opts.APIKey != "" {
		h = apiKeyMiddleware(opts.APIKey)(h)
		logger.Info().Msg("API key authentication enabled")
	} else {
		logger.Info().Msg("API key authentication disabled")
	}

	h = hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
		idReq, _ := hlog.IDFromRequest(r)

		hlog.FromRequest(r).Info().
			Str("method", r.Method).
			Stringer("url", r.URL).
			Int("status", status).
			Int("size", size).
			Dur("duration", duration).
			Str("req_id", idReq.String()).
			Msg("HTTP Request")
	})(h)
	h = hlog.RequestIDHandler("req_id", "Request-Id")(h)
	h = hlog.UserAgentHandler("user_agent")(h)
	h = hlog.RemoteAddrHandler("remote_addr")(h)
	h = hlog.URLHandler("url")(h)
	h = hlog.MethodHandler("method")(h)
	h = hlog.NewHandler(logger)(h)
	return h
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func Run(ctx context.Context, listenAddr string, opts Options) error {
	logger := opts.Logger

	httpServer := &http.Server{
		Addr:              listenAddr,
		Handler:           NewHandler(opts),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info().Str("address", listenAddr).Msg("API Server starting")
		err := httpServer.ListenAndServe()
		if !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case err := <-serverErr:
		return err

	case <-ctx.Done():
		logger.Info().Msg("Shutting down API server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error().Err(err).Msg("HTTP server shutdown error")
			if err := httpServer.Close(); err != nil {
				logger.Error().Err(err).Msg("HTTP server force close error")
			}
		} else {
			logger.Info().Msg("HTTP server shutdown complete.")
		}
		if err := <-serverErr; err != nil {
			logger.Error().Err(err).Msg("ListenAndServe error during shutdown")
		}
	}

	logger.Info().Msg("Server exiting.")
	return nil
}

// healthCheckHandler answers 200 OK, or 503 when the store cannot be reached.
func healthCheckHandler(pinger Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		log := hlog.FromRequest(r)

		if pinger != nil {
			if err := pinger.PingContext(r.Context()); err != nil {
				log.Error().Err(err).Msg("Health check failed to reach database")
				http.Error(w, "database unavailable", http.StatusServiceUnavailable)
				return
			}
		}

		w.Header().Set("Content-Type", "text/plain")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write([]byte("OK")); err != nil {
			log.Error().Err(err).Msg("Error writing health check response")
		}
	}
}
