// Package httpapi exposes the management API. Thin glue: decode, call the
// core, encode a structured envelope. No business logic lives here.
package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"botmind/internal/core"
	"botmind/internal/task"
)

// envelope is the uniform response body.
type envelope struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// Server serves the management API.
type Server struct {
	core   *core.Core
	logger *zap.Logger
	mux    *http.ServeMux
}

// New builds the server and its routes.
func New(c *core.Core, logger *zap.Logger) *Server {
	s := &Server{core: c, logger: logger, mux: http.NewServeMux()}
	s.mux.HandleFunc("/tasks", s.handleTasks)
	s.mux.HandleFunc("/tasks/", s.handleTaskByID)
	s.mux.HandleFunc("/statistics", s.handleStatistics)
	s.mux.HandleFunc("/history", s.handleHistory)
	s.mux.HandleFunc("/dedupe/metrics", s.handleDedupeMetrics)
	return s
}

// ServeHTTP implements http.Handler.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("request", zap.String("method", r.Method), zap.String("path", r.URL.Path))
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, envelope{Success: true, Data: s.core.GetTasks(nil)})
	case http.MethodPost:
		var req addTaskRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, envelope{Error: "invalid body: " + err.Error()})
			return
		}
		res, err := s.core.AddTask(req.toPartial())
		if err != nil {
			writeJSON(w, http.StatusUnprocessableEntity, envelope{Error: err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, envelope{Success: true, Data: map[string]any{
			"decision": res.Decision,
			"task":     res.Task,
		}})
	default:
		writeJSON(w, http.StatusMethodNotAllowed, envelope{Error: "method not allowed"})
	}
}

// addTaskRequest mirrors task.Partial for JSON callers.
type addTaskRequest struct {
	Title       string         `json:"title"`
	Description string         `json:"description"`
	Type        string         `json:"type"`
	Source      string         `json:"source"`
	Priority    any            `json:"priority"`
	Urgency     any            `json:"urgency"`
	Parameters  map[string]any `json:"parameters"`
	Tags        []string       `json:"tags"`
}

func (r *addTaskRequest) toPartial() *task.Partial {
	src := task.Source(r.Source)
	if src == "" {
		src = task.SourceManual
	}
	return &task.Partial{
		Title:       r.Title,
		Description: r.Description,
		Type:        r.Type,
		Source:      src,
		Priority:    r.Priority,
		Urgency:     r.Urgency,
		Parameters:  r.Parameters,
		Tags:        r.Tags,
	}
}

func (s *Server) handleTaskByID(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/tasks/")
	id, action, _ := strings.Cut(rest, "/")
	if id == "" {
		writeJSON(w, http.StatusNotFound, envelope{Error: "task id required"})
		return
	}

	switch {
	case action == "" && r.Method == http.MethodGet:
		t := s.core.Store.Get(id)
		if t == nil {
			writeJSON(w, http.StatusNotFound, envelope{Error: "task not found"})
			return
		}
		writeJSON(w, http.StatusOK, envelope{Success: true, Data: t})

	case action == "progress" && r.Method == http.MethodGet:
		p := s.core.GetTaskProgress(id)
		if p == nil {
			writeJSON(w, http.StatusNotFound, envelope{Error: "task not found"})
			return
		}
		writeJSON(w, http.StatusOK, envelope{Success: true, Data: p})

	case action == "pause" && r.Method == http.MethodPost:
		if !s.core.PauseTask(id) {
			writeJSON(w, http.StatusNotFound, envelope{Error: "task not found"})
			return
		}
		writeJSON(w, http.StatusOK, envelope{Success: true})

	case action == "resume" && r.Method == http.MethodPost:
		if !s.core.ResumeTask(id) {
			writeJSON(w, http.StatusNotFound, envelope{Error: "task not found"})
			return
		}
		writeJSON(w, http.StatusOK, envelope{Success: true})

	default:
		writeJSON(w, http.StatusMethodNotAllowed, envelope{Error: "method not allowed"})
	}
}

func (s *Server) handleStatistics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: s.core.GetTaskStatistics()})
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: s.core.GetTaskHistory(limit)})
}

func (s *Server) handleDedupeMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, envelope{Success: true, Data: s.core.Registry.Snapshot()})
}

func writeJSON(w http.ResponseWriter, code int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(env)
}
