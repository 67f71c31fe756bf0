// Package callback implements the internal HTTP receiver worker containers
// POST status updates to, plus the matching task read-back endpoint.
// Grounded on the teacher's internal/api/server.go ServeMux-based handler
// registration and jsonResponse/jsonError helpers, scoped down to exactly
// the two endpoints the daemon exposes to its own containers.
package callback

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	orcerrors "github.com/randalmurphal/orcd/internal/errors"
	"github.com/randalmurphal/orcd/internal/metrics"
	"github.com/randalmurphal/orcd/internal/model"
	"github.com/randalmurphal/orcd/internal/registry"
)

// StatusUpdate is the body POSTed by a worker container.
type StatusUpdate struct {
	Status string  `json:"status"`
	Branch *string `json:"branch,omitempty"`
	Commit *string `json:"commit,omitempty"`
	Error  *string `json:"error,omitempty"`
}

// Server is the internal status callback receiver.
type Server struct {
	reg    *registry.Store
	logger *slog.Logger
	mux    *http.ServeMux
	srv    *http.Server
}

// New constructs a callback Server bound to addr, ready to Start.
func New(reg *registry.Store, addr string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{reg: reg, logger: logger, mux: http.NewServeMux()}
	s.routes()
	s.srv = &http.Server{Addr: addr, Handler: s.mux}
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("POST /internal/tasks/{pid}/{tid}/status", s.handlePostStatus)
	s.mux.HandleFunc("GET /internal/tasks/{pid}/{tid}", s.handleGetTask)
	s.mux.Handle("GET /metrics", metrics.Handler())
}

// Start begins serving and blocks until the server stops or ctx is
// cancelled, in which case it gracefully shuts down.
func (s *Server) Start(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.srv.Shutdown(shutdownCtx)
	}()

	s.logger.Info("status callback receiver listening", "addr", s.srv.Addr)
	err := s.srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (s *Server) handlePostStatus(w http.ResponseWriter, r *http.Request) {
	pid, tid := r.PathValue("pid"), r.PathValue("tid")

	var body StatusUpdate
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		jsonError(w, "invalid JSON body", http.StatusBadRequest)
		return
	}

	status := model.Status(body.Status)
	if !model.IsValidStatus(status) {
		jsonError(w, fmt.Sprintf("unknown status %q", body.Status), http.StatusBadRequest)
		return
	}

	update := model.TaskUpdate{Status: &status}
	if body.Branch != nil {
		update.Branch = body.Branch
	}
	if body.Commit != nil {
		update.CommitID = body.Commit
	}
	if body.Error != nil {
		update.Error = body.Error
	}

	if err := s.reg.ApplyTaskUpdate(pid, tid, update); err != nil {
		code := http.StatusConflict
		if oe := orcerrors.As(err); oe != nil {
			code = oe.HTTPStatus()
		}
		jsonError(w, err.Error(), code)
		return
	}

	jsonResponse(w, map[string]string{"status": "ok"})
}

func (s *Server) handleGetTask(w http.ResponseWriter, r *http.Request) {
	pid, tid := r.PathValue("pid"), r.PathValue("tid")

	task, err := s.reg.GetTask(pid, tid)
	if err != nil {
		jsonError(w, err.Error(), http.StatusNotFound)
		return
	}
	jsonResponse(w, task)
}

func jsonResponse(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(data)
}

func jsonError(w http.ResponseWriter, message string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": message})
}
