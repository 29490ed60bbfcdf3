// Package server assembles the HTTP server and the router shared by every
// transport entry point.
package server

import (
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/crawlkit/prodstore/pkg/web"
	"github.com/go-chi/chi/v5"
)

// DefaultMaxHeaderBytes caps request headers when the configuration leaves
// the limit unset.
const DefaultMaxHeaderBytes = 1 << 20

// HTTPConfig carries the resolved listener settings for NewHTTPServer.
type HTTPConfig struct {
	Port           int
	MaxHeaderBytes int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	ReadHeader     time.Duration
}

// NewHTTPServer builds an http.Server bound to the configured port with every
// timeout applied.
func NewHTTPServer(cfg HTTPConfig, handler http.Handler) *http.Server {
	maxHeaderBytes := cfg.MaxHeaderBytes
	if maxHeaderBytes == 0 {
		maxHeaderBytes = DefaultMaxHeaderBytes
	}
	return &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.ReadTimeout,
		WriteTimeout:      cfg.WriteTimeout,
		IdleTimeout:       cfg.IdleTimeout,
		ReadHeaderTimeout: cfg.ReadHeader,
		MaxHeaderBytes:    maxHeaderBytes,
	}
}

// NewChiRouter builds the base chi router with request ID injection,
// structured request logging, and panic recovery installed. Route
// registration is left to the caller.
func NewChiRouter(logger *slog.Logger) *chi.Mux {
	mux := chi.NewRouter()
	mux.Use(web.RequestIDInjector)
	mux.Use(web.StructuredLogger(logger))
	mux.Use(web.Recoverer(logger))
	return mux
}
