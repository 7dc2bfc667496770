// Package api provides the HTTP surface of the task runner: task scheduling
// and lifecycle endpoints, manual dispatch, and manual price alert sends. It
// builds a chi router with cross-cutting middleware (request IDs, logging,
// panic recovery) applied before domain handlers.
package api

import (
	"fmt"
	"net/http"

	"github.com/go-chi/chi/v5"

	"lifesync/internal/alerts"
	"lifesync/internal/scheduler"
	"lifesync/internal/types"
)

// Server encapsulates the API dependencies, allowing injection during
// testing.
type Server struct {
	scheduler *scheduler.Service
	alerts    *alerts.Dispatcher
	trigger   types.DispatchTrigger
	logger    types.Logger

	router *chi.Mux
}

// NewServer wires the router. The trigger may be nil; manual dispatch then
// runs synchronously in the request instead of going through the queue.
func NewServer(svc *scheduler.Service, alertDispatcher *alerts.Dispatcher, trigger types.DispatchTrigger, logger types.Logger) (*Server, error) {
	if svc == nil {
		return nil, fmt.Errorf("scheduler service must not be nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("logger must not be nil")
	}

	s := &Server{
		scheduler: svc,
		alerts:    alertDispatcher,
		trigger:   trigger,
		logger:    logger,
		router:    chi.NewRouter(),
	}
	s.mountRoutes()
	return s, nil
}

// Handler returns the http.Handler for the router.
func (s *Server) Handler() http.Handler {
	return s.router
}

// mountRoutes registers middleware and routes.
func (s *Server) mountRoutes() {
	r := s.router

	r.Use(s.Recoverer)
	r.Use(RequestID)
	r.Use(s.RequestLogger)

	r.Get("/healthz", s.handleHealth)

	r.Route("/v1", func(r chi.Router) {
		r.Route("/tasks", func(r chi.Router) {
			r.Post("/", s.handleScheduleTask)
			r.Get("/", s.handleListTasks)
			r.Get("/{id}", s.handleGetTask)
			r.Post("/{id}/pause", s.handlePauseTask)
			r.Post("/{id}/resume", s.handleResumeTask)
			r.Post("/{id}/retry", s.handleRetryTask)
		})

		r.Post("/dispatch", s.handleDispatch)

		if s.alerts != nil {
			r.Post("/alerts/products/{productID}", s.handleSendAlert)
		}
	})
}
