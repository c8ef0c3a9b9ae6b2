// Package query implements a read-only HTTP surface over a Homer store:
// node lookup, full-text search, and analysis-result retrieval. It exists
// so a running pipeline's output is queryable without re-deriving it from
// the rendered artifacts; it is not the MCP transport spec.md §1 names as
// peripheral plumbing out of scope — no tool-call framing, just plain JSON
// over net/http, the way the teacher's own HTTP server is plain JSON over
// net/http.
package query

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/homer-dev/homer/internal/homer/herrors"
	"github.com/homer-dev/homer/internal/homer/store"
	"github.com/homer-dev/homer/internal/homer/types"
)

// Server serves read-only queries against a single Homer store.
type Server struct {
	store      *store.Store
	httpServer *http.Server
	port       int
}

// Config addresses the query server.
type Config struct {
	Port  int
	Store *store.Store
}

// New builds a Server over an already-open store; it does not own the
// store's lifetime — the caller closes it.
func New(cfg Config) *Server {
	s := &Server{store: cfg.Store, port: cfg.Port}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.cors(s.handleHealth))
	mux.HandleFunc("/api/stats", s.cors(s.handleStats))
	mux.HandleFunc("/api/search", s.cors(s.handleSearch))
	mux.HandleFunc("/api/node/", s.cors(s.handleNode))
	mux.HandleFunc("/api/analysis/", s.cors(s.handleAnalysis))

	s.httpServer = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Port returns the configured listen port.
func (s *Server) Port() int { return s.port }

// Serve blocks until ctx is cancelled, then shuts the server down
// gracefully.
func (s *Server) Serve(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		log.Printf("homer query server listening on :%d", s.port)
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return s.httpServer.Shutdown(shutdownCtx)
}

func (s *Server) cors(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next(w, r)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("encoding response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	stats, err := s.store.Stats()
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get stats")
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// handleSearch handles GET /api/search?query=...&limit=...
func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	q := r.URL.Query().Get("query")
	if q == "" {
		writeError(w, http.StatusBadRequest, "query parameter required")
		return
	}
	scope := types.SearchScope{}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		if l, err := strconv.Atoi(limitStr); err == nil && l > 0 {
			scope.Limit = l
		}
	}
	hits, err := s.store.Search(q, scope)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "search failed")
		return
	}
	writeJSON(w, http.StatusOK, hits)
}

// handleNode handles GET /api/node/:id
func (s *Server) handleNode(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	idStr := strings.TrimPrefix(r.URL.Path, "/api/node/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid node id")
		return
	}
	node, err := s.store.GetNode(types.NodeID(id))
	if herrors.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "node not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get node")
		return
	}
	writeJSON(w, http.StatusOK, node)
}

// handleAnalysis handles GET /api/analysis/:id?kind=CompositeSalience
func (s *Server) handleAnalysis(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	idStr := strings.TrimPrefix(r.URL.Path, "/api/analysis/")
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid node id")
		return
	}
	kind := r.URL.Query().Get("kind")
	if kind == "" {
		writeError(w, http.StatusBadRequest, "kind parameter required")
		return
	}
	result, err := s.store.GetAnalysis(types.NodeID(id), types.AnalysisKind(kind))
	if herrors.IsNotFound(err) {
		writeError(w, http.StatusNotFound, "analysis result not found")
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to get analysis")
		return
	}
	writeJSON(w, http.StatusOK, result)
}
