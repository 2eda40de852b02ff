// Package server exposes the coordinator protocol over HTTP. Workers are
// the only intended clients; every body is JSON.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/geoforge/chunkplane/internal/coord"
	"github.com/geoforge/chunkplane/internal/observability"
	"github.com/geoforge/chunkplane/internal/protocol"
	"github.com/geoforge/chunkplane/internal/work"
)

// Dispatcher is the coordinator surface the HTTP layer binds to.
type Dispatcher interface {
	Register(protocol.RegisterWorkerRequest) protocol.RegisterWorkerResponse
	RequestWork(ctx context.Context, workerID string) (protocol.WorkResponse, error)
	SubmitResult(ctx context.Context, req protocol.SubmitResultRequest) (protocol.SubmitResultResponse, error)
	Status() protocol.StatusResponse
}

// Routes builds the full router. Split from Run so tests can mount it on
// an httptest server.
func Routes(logger *slog.Logger, d Dispatcher) chi.Router {
	r := chi.NewRouter()
	r.Use(Recover())
	r.Use(Logging(logger))

	r.Get("/healthz", liveness())
	r.Get("/metrics", promhttp.Handler().ServeHTTP)

	r.Post("/api/register", handleRegister(d))
	r.Post("/api/request-work", handleRequestWork(d))
	r.Post("/api/submit-result", handleSubmitResult(d))
	r.Get("/api/status", handleStatus(d))
	return r
}

// Run serves until ctx is cancelled, then drains in-flight requests.
func Run(ctx context.Context, addr string, logger *slog.Logger, d Dispatcher) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Routes(logger, d),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http listen", "addr", addr)
		if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func liveness() http.HandlerFunc {
	return func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	}
}

func handleRegister(d Dispatcher) http.HandlerFunc {
	return instrument("/api/register", func(w http.ResponseWriter, r *http.Request) {
		var req protocol.RegisterWorkerRequest
		if err := protocol.Decode(r.Body, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.WorkerID == "" {
			http.Error(w, "worker_id is required", http.StatusBadRequest)
			return
		}
		writeJSON(w, http.StatusOK, d.Register(req))
	})
}

func handleRequestWork(d Dispatcher) http.HandlerFunc {
	return instrument("/api/request-work", func(w http.ResponseWriter, r *http.Request) {
		var req protocol.WorkRequest
		if err := protocol.Decode(r.Body, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.WorkerID == "" {
			http.Error(w, "worker_id is required", http.StatusBadRequest)
			return
		}
		resp, err := d.RequestWork(r.Context(), req.WorkerID)
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})
}

func handleSubmitResult(d Dispatcher) http.HandlerFunc {
	return instrument("/api/submit-result", func(w http.ResponseWriter, r *http.Request) {
		var req protocol.SubmitResultRequest
		if err := protocol.Decode(r.Body, &req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if req.WorkerID == "" {
			http.Error(w, "worker_id is required", http.StatusBadRequest)
			return
		}
		resp, err := d.SubmitResult(r.Context(), req)
		if err != nil {
			http.Error(w, err.Error(), statusFor(err))
			return
		}
		writeJSON(w, http.StatusOK, resp)
	})
}

func handleStatus(d Dispatcher) http.HandlerFunc {
	return instrument("/api/status", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, d.Status())
	})
}

// statusFor maps dispatch errors onto HTTP codes. Ownership and lifecycle
// conflicts are 409 so a worker can tell "retry later" from "you lost this
// chunk".
func statusFor(err error) int {
	switch {
	case errors.Is(err, coord.ErrNotAssigned), errors.Is(err, work.ErrTransition):
		return http.StatusConflict
	case errors.Is(err, coord.ErrUnknownWorker):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		h(sw, r)
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	}
}
