// Package core provides the HTTP chassis for the pushpipe dispatch service.
// It builds a chi router that enforces cross-cutting concerns (request
// identity, logging, panic recovery, trigger authentication) before requests
// reach the dispatch handler.
package core

import (
	"context"
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"pushpipe/internal/config"
	"pushpipe/internal/pipeline"
	"pushpipe/internal/types"
)

// Dispatcher runs one claim-and-deliver pass over due jobs. Satisfied by
// *pipeline.Runner; injected as an interface so handler tests can stub it.
type Dispatcher interface {
	Run(ctx context.Context, limit int) (*pipeline.BatchSummary, error)
}

// Server encapsulates the dispatch service's HTTP dependencies.
type Server struct {
	Config     *config.Config
	Dispatcher Dispatcher
	Logger     types.Logger

	// Probes are checked by the readiness endpoint. Optional.
	Probes []HealthProbe

	router *chi.Mux
}

// NewServer validates dependencies and prepares the server. Routes are
// mounted separately via MountRoutes so tests can register their own.
func NewServer(cfg *config.Config, dispatcher Dispatcher, logger types.Logger) (*Server, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config must not be nil")
	}
	if dispatcher == nil {
		return nil, fmt.Errorf("dispatcher must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	return &Server{
		Config:     cfg,
		Dispatcher: dispatcher,
		Logger:     logger,
		router:     chi.NewRouter(),
	}, nil
}

// Handler returns the router as an http.Handler.
func (s *Server) Handler() http.Handler {
	return s.router
}
