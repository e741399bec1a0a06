package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"time"

	"LiveCanvas/internal/metrics"
	"LiveCanvas/internal/tools"
)

// newServer serves Prometheus metrics and the agent tools on addr.
func newServer(addr string, m *metrics.Metrics, reg *tools.Registry, logger *slog.Logger) *http.Server {
	mux := toolsMux(reg, logger)
	mux.Handle("GET /metrics", m.Handler())
	return &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
}

// serve runs srv until ctx is done.
func serve(ctx context.Context, srv *http.Server) error {
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// toolsMux lists the tools on GET /tools and calls one on POST /tools/{name}
// with the JSON arguments as the request body.
func toolsMux(reg *tools.Registry, logger *slog.Logger) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /tools", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, reg.List())
	})
	mux.HandleFunc("POST /tools/{name}", func(w http.ResponseWriter, r *http.Request) {
		args, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		name := r.PathValue("name")
		out, err := reg.Call(r.Context(), name, args)
		if err != nil {
			status := http.StatusConflict
			switch {
			case errors.Is(err, tools.ErrUnknownTool):
				status = http.StatusNotFound
			case errors.Is(err, tools.ErrInvalidArguments):
				status = http.StatusBadRequest
			}
			logger.Debug("tool call failed", "tool", name, "err", err)
			writeJSON(w, status, map[string]any{"error": err.Error(), "result": out})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"result": out})
	})
	return mux
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
