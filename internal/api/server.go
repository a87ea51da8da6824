// Package api serves the archive, forecast runs and verification scores as
// JSON.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/IWF-helio/PREDSTORM/internal/store"
)

// DefaultStaleAfter is how old the newest sample of the watched source may
// be before /health reports degraded.
const DefaultStaleAfter = 2 * time.Hour

type Server struct {
	store *store.Store
	addr  string
	// Source is the archived source /health watches for freshness.
	Source     string
	StaleAfter time.Duration
	now        func() time.Time
}

func NewServer(st *store.Store, addr, source string) *Server {
	return &Server{
		store:      st,
		addr:       addr,
		Source:     source,
		StaleAfter: DefaultStaleAfter,
		now:        time.Now,
	}
}

func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", s.handleHealth)
	mux.HandleFunc("GET /api/series", s.handleSeriesRanges)
	mux.HandleFunc("GET /api/series/{source}", s.handleSeries)
	mux.HandleFunc("GET /api/forecast", s.handleLatestForecast)
	mux.HandleFunc("GET /api/forecast/{id}", s.handleForecast)
	mux.HandleFunc("GET /api/verification", s.handleVerification)
	mux.HandleFunc("GET /api/imports", s.handleImports)
	mux.HandleFunc("GET /api/alerts", s.handleAlerts)
	mux.Handle("GET /metrics", promhttp.Handler())
	return mux
}

func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		server.Shutdown(shutdownCtx)
	}()

	if err := server.ListenAndServe(); err != http.ErrServerClosed {
		return err
	}
	return nil
}
