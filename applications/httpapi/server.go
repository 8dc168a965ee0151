// Package httpapi exposes the orchestration pipeline over REST: account
// snapshots, plan building, and streamed plan execution.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/lendlink-labs/creditdesk/internal/credit"
	"github.com/lendlink-labs/creditdesk/internal/logging"
	"github.com/lendlink-labs/creditdesk/internal/metrics"
)

// AuditReader lists recorded submissions. Nil disables the audit endpoints.
type AuditReader interface {
	ListRecent(ctx context.Context, account string, limit int) ([]credit.SubmissionRecord, error)
	ListPlan(ctx context.Context, planID string) ([]credit.SubmissionRecord, error)
}

// Server is the REST facade over the credit service.
type Server struct {
	svc    *credit.Service
	audit  AuditReader
	log    *logging.Logger
	router *mux.Router
}

// NewServer builds the router. audit may be nil.
func NewServer(svc *credit.Service, audit AuditReader, log *logging.Logger) *Server {
	if log == nil {
		log = logging.Nop()
	}
	s := &Server{svc: svc, audit: audit, log: log}

	r := mux.NewRouter()
	r.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	r.Handle("/metrics", metrics.Handler()).Methods(http.MethodGet)

	api := r.PathPrefix("/api/v1").Subrouter()
	api.HandleFunc("/accounts/{account}/snapshot", s.handleSnapshot).Methods(http.MethodGet)
	api.HandleFunc("/accounts/{account}/audit", s.handleAudit).Methods(http.MethodGet)
	api.HandleFunc("/plans", s.handlePlan).Methods(http.MethodPost)
	api.HandleFunc("/plans/execute", s.handleExecute).Methods(http.MethodPost)
	api.HandleFunc("/plans/{id}/audit", s.handlePlanAudit).Methods(http.MethodGet)

	s.router = r
	return s
}

// Handler returns the routed handler wrapped with HTTP metrics.
func (s *Server) Handler() http.Handler {
	return metrics.InstrumentHandler(s.router)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	account := mux.Vars(r)["account"]
	snap, err := s.svc.Snapshot(r.Context(), account)
	if err != nil {
		if errors.Is(err, credit.ErrReadUnavailable) {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusNotImplemented, errors.New("audit trail not configured"))
		return
	}
	account := mux.Vars(r)["account"]
	limit, err := parseLimitParam(r.URL.Query().Get("limit"), 50)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	records, err := s.audit.ListRecent(r.Context(), account, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

func (s *Server) handlePlanAudit(w http.ResponseWriter, r *http.Request) {
	if s.audit == nil {
		writeError(w, http.StatusNotImplemented, errors.New("audit trail not configured"))
		return
	}
	records, err := s.audit.ListPlan(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, records)
}

// planResponse is the envelope for plan and rejection outcomes.
type planResponse struct {
	Plan      *credit.Plan      `json:"plan,omitempty"`
	Rejection *credit.Rejection `json:"rejection,omitempty"`
}

func (s *Server) handlePlan(w http.ResponseWriter, r *http.Request) {
	action, ok := s.decodeAction(w, r)
	if !ok {
		return
	}

	plan, rej, err := s.svc.ValidateAndPlan(r.Context(), action)
	if err != nil {
		if errors.Is(err, credit.ErrReadUnavailable) {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if rej != nil {
		writeJSON(w, http.StatusUnprocessableEntity, planResponse{Rejection: rej})
		return
	}
	writeJSON(w, http.StatusOK, planResponse{Plan: plan})
}

// handleExecute validates, plans and executes in one request, streaming step
// events as newline-delimited JSON.
func (s *Server) handleExecute(w http.ResponseWriter, r *http.Request) {
	action, ok := s.decodeAction(w, r)
	if !ok {
		return
	}

	plan, rej, err := s.svc.ValidateAndPlan(r.Context(), action)
	if err != nil {
		if errors.Is(err, credit.ErrReadUnavailable) {
			writeError(w, http.StatusBadGateway, err)
			return
		}
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if rej != nil {
		writeJSON(w, http.StatusUnprocessableEntity, planResponse{Rejection: rej})
		return
	}

	w.Header().Set("Content-Type", "application/x-ndjson")
	w.WriteHeader(http.StatusOK)
	flusher, _ := w.(http.Flusher)

	enc := json.NewEncoder(w)
	_ = enc.Encode(planResponse{Plan: plan})
	if flusher != nil {
		flusher.Flush()
	}

	for ev := range s.svc.Execute(r.Context(), plan) {
		if err := enc.Encode(ev); err != nil {
			s.log.Warn(r.Context(), "event stream write failed", map[string]interface{}{
				"plan_id": plan.ID,
				"error":   err.Error(),
			})
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
	}
}

func (s *Server) decodeAction(w http.ResponseWriter, r *http.Request) (credit.Action, bool) {
	var action credit.Action
	if err := decodeJSON(r.Body, &action); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return action, false
	}
	if action.Kind == "" {
		writeError(w, http.StatusBadRequest, errors.New("kind required"))
		return action, false
	}
	if action.Account == "" {
		writeError(w, http.StatusBadRequest, errors.New("account required"))
		return action, false
	}
	return action, true
}

// Run serves until ctx is cancelled, then drains with a bounded shutdown.
func (s *Server) Run(ctx context.Context, addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 5 * time.Minute,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.log.Info(ctx, "http server listening", map[string]interface{}{"addr": addr})
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

func parseLimitParam(raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, fmt.Errorf("invalid limit %q", raw)
	}
	return limit, nil
}

func decodeJSON(body io.ReadCloser, dst interface{}) error {
	defer body.Close()
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, err error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}
