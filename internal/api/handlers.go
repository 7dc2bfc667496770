package api

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"lifesync/internal/alerts"
	"lifesync/internal/scheduler"
)

// handleHealth responds to liveness probes.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
}

// handleScheduleTask creates a new scheduled task.
//
// POST /v1/tasks
func (s *Server) handleScheduleTask(w http.ResponseWriter, r *http.Request) {
	var req scheduler.ScheduleRequest
	if err := DecodeJSON(w, r, &req); err != nil {
		Error(w, r, err)
		return
	}

	id, err := s.scheduler.ScheduleTask(r.Context(), req)
	if err != nil {
		Error(w, r, err)
		return
	}

	JSON(w, r, http.StatusCreated, APIResponse{Data: map[string]string{"task_id": id}})
}

// handleListTasks returns recent tasks, newest first.
//
// GET /v1/tasks?limit=N
func (s *Server) handleListTasks(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, _ = strconv.Atoi(raw)
	}

	tasks, err := s.scheduler.ListTasks(r.Context(), limit)
	if err != nil {
		Error(w, r, err)
		return
	}

	JSON(w, r, http.StatusOK, APIResponse{Data: tasks})
}

// handleGetTask returns one task by ID.
//
// GET /v1/tasks/{id}
func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	task, err := s.scheduler.GetTask(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		Error(w, r, err)
		return
	}

	JSON(w, r, http.StatusOK, APIResponse{Data: task})
}

// handlePauseTask transitions a pending task to paused.
//
// POST /v1/tasks/{id}/pause
func (s *Server) handlePauseTask(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.PauseTask(r.Context(), chi.URLParam(r, "id")); err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: map[string]string{"status": "paused"}})
}

// handleResumeTask transitions a paused task back to pending.
//
// POST /v1/tasks/{id}/resume
func (s *Server) handleResumeTask(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.ResumeTask(r.Context(), chi.URLParam(r, "id")); err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: map[string]string{"status": "pending"}})
}

// handleRetryTask re-queues a failed task to run immediately.
//
// POST /v1/tasks/{id}/retry
func (s *Server) handleRetryTask(w http.ResponseWriter, r *http.Request) {
	if err := s.scheduler.RetryTask(r.Context(), chi.URLParam(r, "id")); err != nil {
		Error(w, r, err)
		return
	}
	JSON(w, r, http.StatusOK, APIResponse{Data: map[string]string{"status": "pending"}})
}

// dispatchRequest is the POST /v1/dispatch body. All fields are optional.
type dispatchRequest struct {
	BatchSize int  `json:"batch_size"`
	Async     bool `json:"async"`
}

// handleDispatch runs a batch of due tasks. With async=true and a configured
// queue trigger the batch is handed to the worker and the call returns 202;
// otherwise the batch runs in the request and the report is returned.
//
// POST /v1/dispatch
func (s *Server) handleDispatch(w http.ResponseWriter, r *http.Request) {
	var req dispatchRequest
	if r.ContentLength > 0 {
		if err := DecodeJSON(w, r, &req); err != nil {
			Error(w, r, err)
			return
		}
	}

	if req.Async && s.trigger != nil {
		if err := s.trigger.TriggerDispatch(r.Context(), req.BatchSize, "manual_api"); err != nil {
			Error(w, r, err)
			return
		}
		JSON(w, r, http.StatusAccepted, APIResponse{Data: map[string]string{"status": "queued"}})
		return
	}

	report, err := s.scheduler.RunScheduledTasks(r.Context(), req.BatchSize)
	if err != nil {
		Error(w, r, err)
		return
	}

	JSON(w, r, http.StatusOK, APIResponse{Data: report})
}

// sendAlertRequest is the POST /v1/alerts/products/{productID} body.
type sendAlertRequest struct {
	ForceSend bool `json:"force_send"`
}

// handleSendAlert evaluates and sends a price alert for a product.
//
// POST /v1/alerts/products/{productID}
func (s *Server) handleSendAlert(w http.ResponseWriter, r *http.Request) {
	var req sendAlertRequest
	if r.ContentLength > 0 {
		if err := DecodeJSON(w, r, &req); err != nil {
			Error(w, r, err)
			return
		}
	}

	outcome, err := s.alerts.SendPriceAlert(r.Context(), chi.URLParam(r, "productID"),
		alerts.SendOptions{ForceSend: req.ForceSend})
	if err != nil {
		Error(w, r, err)
		return
	}

	JSON(w, r, http.StatusOK, APIResponse{Data: outcome})
}
