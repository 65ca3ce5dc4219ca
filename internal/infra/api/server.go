// Package api is the admin HTTP surface: health, metrics, job status,
// manual job requests and dead-letter inspection.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"policy-brief-pipeline/internal/domain/model"
	"policy-brief-pipeline/internal/domain/ports/queue"
	"policy-brief-pipeline/internal/pipeline"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

// StatusReader derives a job's visible state.
type StatusReader interface {
	Status(ctx context.Context, jobID string) (*pipeline.JobState, error)
}

// DeadLetterReader lists dead-lettered envelopes of a queue.
type DeadLetterReader interface {
	DeadLetters(ctx context.Context, queue string, limit int) ([]queue.Envelope, error)
}

type Server struct {
	jobs     StatusReader
	requests queue.Queue[model.JobRequest]
	dead     DeadLetterReader
	auth     *AuthManager
	validate *validator.Validate
	log      *zerolog.Logger
	ready    func(ctx context.Context) error

	srv *http.Server
}

type Deps struct {
	Jobs     StatusReader
	Requests queue.Queue[model.JobRequest]
	Dead     DeadLetterReader
	Auth     *AuthManager
	// Ready reports whether backing stores are reachable; nil means always ready.
	Ready func(ctx context.Context) error
}

func NewServer(d Deps, log *zerolog.Logger) *Server {
	l := log.With().Str("component", "api").Logger()
	return &Server{
		jobs:     d.Jobs,
		requests: d.Requests,
		dead:     d.Dead,
		auth:     d.Auth,
		ready:    d.Ready,
		validate: validator.New(),
		log:      &l,
	}
}

// Handler builds the router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	// inside the router so the log line sees the matched route pattern
	r.Use(RequestLog(s.log), Recover(s.log))
	r.Get("/health", s.handleHealth)
	r.Get("/ready", s.handleReady)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Use(RequireAdmin(s.auth), Timeout(15*time.Second))
		r.Post("/jobs", s.handleCreateJob)
		r.Get("/jobs/{jobID}", s.handleGetJob)
		r.Get("/queues/{stage}/dead", s.handleDeadLetters)
	})

	return Chain(r, TraceID())
}

// ListenAndServe serves on addr until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	s.srv = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.log.Info().Str("addr", addr).Msg("admin api listening")
		errCh <- s.srv.ListenAndServe()
	}()
	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
		defer cancel()
		return s.srv.Shutdown(sctx)
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	if s.ready != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
		defer cancel()
		if err := s.ready(ctx); err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

type createJobResponse struct {
	RequestID string `json:"request_id"`
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var req model.JobRequest
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid json: "+err.Error())
		return
	}
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.RequestID == "" {
		req.RequestID = "admin:" + uuid.NewString()
	}
	if err := s.requests.Send(r.Context(), req); err != nil {
		s.log.Error().Err(err).Msg("enqueue job request")
		writeError(w, http.StatusServiceUnavailable, "queue unavailable")
		return
	}
	writeJSON(w, http.StatusAccepted, createJobResponse{RequestID: req.RequestID})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobID")
	st, err := s.jobs.Status(r.Context(), jobID)
	if err != nil {
		s.log.Error().Err(err).Str("job_id", jobID).Msg("job status")
		writeError(w, http.StatusInternalServerError, "status unavailable")
		return
	}
	if st.Status == model.JobStatusUnknown {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type deadLetter struct {
	ID         string          `json:"id"`
	Attempt    int             `json:"attempt"`
	EnqueuedAt time.Time       `json:"enqueued_at"`
	LastError  string          `json:"last_error"`
	Body       json.RawMessage `json:"body"`
}

func (s *Server) handleDeadLetters(w http.ResponseWriter, r *http.Request) {
	stage := model.Stage(chi.URLParam(r, "stage"))
	if !stage.Valid() {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown stage %q", stage))
		return
	}
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 || n > 1000 {
			writeError(w, http.StatusBadRequest, "limit must be between 1 and 1000")
			return
		}
		limit = n
	}
	envs, err := s.dead.DeadLetters(r.Context(), stage.Queue(), limit)
	if err != nil {
		s.log.Error().Err(err).Str("stage", string(stage)).Msg("list dead letters")
		writeError(w, http.StatusInternalServerError, "dead letters unavailable")
		return
	}
	out := make([]deadLetter, 0, len(envs))
	for _, e := range envs {
		out = append(out, deadLetter{ID: e.ID, Attempt: e.Attempt, EnqueuedAt: e.EnqueuedAt, LastError: e.LastError, Body: e.Body})
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
