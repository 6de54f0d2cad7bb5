// Package httpapi exposes the workflow service over HTTP: submission,
// status lookup, health, and Prometheus metrics.
package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/c4h-ai/orchestrator/internal/config"
	"github.com/c4h-ai/orchestrator/internal/models"
	"github.com/c4h-ai/orchestrator/internal/orchestration"
	"github.com/c4h-ai/orchestrator/internal/workflow"
)

// Options wires the API handler.
type Options struct {
	Logger       *zap.Logger
	Orchestrator *orchestration.Orchestrator
	Store        *workflow.Store
	Cache        *workflow.Cache
	Defaults     func() config.Tree

	// Sync runs submissions inline instead of on their own goroutine.
	// Tests use this to get terminal statuses from POST directly.
	Sync bool
}

// Handler serves the workflow API.
type Handler struct {
	opts Options
}

func NewHandler(opts Options) *Handler {
	return &Handler{opts: opts}
}

// RegisterRoutes installs the API endpoints on the mux.
func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/api/v1/workflow", h.handleSubmit)
	mux.HandleFunc("/api/v1/workflow/", h.handleStatus)
	mux.HandleFunc("/health", h.handleHealth)
	mux.Handle("/metrics", promhttp.Handler())
}

// workflowRequest is the POST body.
type workflowRequest struct {
	ProjectPath string `json:"project_path"`
	Intent      struct {
		Description string   `json:"description"`
		TargetFiles []string `json:"target_files,omitempty"`
	} `json:"intent"`
	SystemConfig map[string]any `json:"system_config,omitempty"`
	AppConfig    map[string]any `json:"app_config,omitempty"`
}

// workflowResponse is the uniform reply for submissions and lookups.
type workflowResponse struct {
	WorkflowID  string `json:"workflow_id"`
	Status      string `json:"status"`
	StoragePath string `json:"storage_path"`
	Error       string `json:"error,omitempty"`
}

func responseFor(rec *models.WorkflowRecord) workflowResponse {
	return workflowResponse{
		WorkflowID:  rec.WorkflowID,
		Status:      rec.Status,
		StoragePath: rec.StoragePath,
		Error:       rec.Error,
	}
}

// handleSubmit accepts a work order and answers HTTP 200 even for
// pending or config-rejected workflows; only transport-level problems
// yield a non-200.
func (h *Handler) handleSubmit(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var body workflowRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("malformed request body: %v", err))
		return
	}

	intent := map[string]any{"description": body.Intent.Description}
	if len(body.Intent.TargetFiles) > 0 {
		files := make([]any, len(body.Intent.TargetFiles))
		for i, f := range body.Intent.TargetFiles {
			files[i] = f
		}
		intent["target_files"] = files
	}
	req := orchestration.Request{
		ProjectPath:  body.ProjectPath,
		Intent:       intent,
		SystemConfig: config.Tree(body.SystemConfig),
		AppConfig:    config.Tree(body.AppConfig),
	}

	var rec *models.WorkflowRecord
	if h.opts.Sync {
		rec = h.opts.Orchestrator.Run(r.Context(), req)
	} else {
		rec = h.opts.Orchestrator.Start(req)
	}

	h.opts.Logger.Info("workflow submitted",
		zap.String("workflow_id", rec.WorkflowID),
		zap.String("status", rec.Status))
	h.writeJSON(w, http.StatusOK, responseFor(rec))
}

// handleStatus answers GET /api/v1/workflow/{workflow_id}.
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	workflowID := strings.TrimPrefix(r.URL.Path, "/api/v1/workflow/")
	if workflowID == "" || strings.Contains(workflowID, "/") {
		h.writeError(w, http.StatusNotFound, "workflow not found")
		return
	}

	if rec, ok := h.opts.Store.Get(workflowID); ok {
		h.writeJSON(w, http.StatusOK, responseFor(rec))
		return
	}
	// A sibling instance may have run it; the shared cache is the
	// second chance before 404.
	if h.opts.Cache != nil {
		if rec, ok := h.opts.Cache.Load(r.Context(), workflowID); ok {
			h.writeJSON(w, http.StatusOK, responseFor(rec))
			return
		}
	}
	h.writeError(w, http.StatusNotFound, "workflow not found")
}

// handleHealth reports liveness plus the two gauges operators watch.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		h.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	teamsAvailable := 0
	if h.opts.Defaults != nil {
		if teams, err := orchestration.ParseTeams(h.opts.Defaults()); err == nil {
			teamsAvailable = len(teams)
		}
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"status":            "healthy",
		"workflows_tracked": h.opts.Store.Count(),
		"teams_available":   teamsAvailable,
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.opts.Logger.Warn("response not written", zap.Error(err))
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, map[string]string{"error": msg})
}

// NewServer builds the http.Server around the handler.
func NewServer(addr string, handler *Handler, readTimeout, writeTimeout time.Duration) *http.Server {
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	return &http.Server{
		Addr:         addr,
		Handler:      mux,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	}
}
