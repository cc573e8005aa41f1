/**
 * REST Query Surface.
 *
 * Serves the analysis database over HTTP: flow statistics, detected
 * gaps, and database status. Read-only; the analyzer remains the sole
 * writer.
 *
 * Author: KleaSCM
 * Email: KleaSCM@gmail.com
 */

package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/kleaSCM/gapscope/internal/storage"
)

const defaultQueryLimit = 100

// Serves query endpoints over an analysis database.
type Server struct {
	store  storage.Storage
	log    *zap.Logger
	router *mux.Router
	http   *http.Server
}

// NewServer wires the routes over the given storage.
func NewServer(store storage.Storage, log *zap.Logger) *Server {
	s := &Server{
		store:  store,
		log:    log,
		router: mux.NewRouter(),
	}

	api := s.router.PathPrefix("/api").Subrouter()
	api.HandleFunc("/flows", s.handleFlows).Methods(http.MethodGet)
	api.HandleFunc("/flows/{id}/gaps", s.handleFlowGaps).Methods(http.MethodGet)
	api.HandleFunc("/gaps", s.handleGaps).Methods(http.MethodGet)
	api.HandleFunc("/status", s.handleStatus).Methods(http.MethodGet)

	return s
}

// ListenAndServe blocks until the context is cancelled or the listener
// fails.
func (s *Server) ListenAndServe(ctx context.Context, host string, port int) error {
	s.http = &http.Server{
		Addr:              fmt.Sprintf("%s:%d", host, port),
		Handler:           s.router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- s.http.ListenAndServe()
	}()

	s.log.Info("api server listening", zap.String("addr", s.http.Addr))

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return s.http.Shutdown(shutdownCtx)
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return fmt.Errorf("api server failed: %w", err)
	}
}

func (s *Server) handleFlows(w http.ResponseWriter, r *http.Request) {
	flows, err := s.store.RecentFlows(queryLimit(r))
	if err != nil {
		s.serveError(w, err)
		return
	}
	s.serveJSON(w, map[string]interface{}{"flows": flows})
}

func (s *Server) handleFlowGaps(w http.ResponseWriter, r *http.Request) {
	flowID := mux.Vars(r)["id"]
	gaps, err := s.store.GapsForFlow(flowID, queryLimit(r))
	if err != nil {
		s.serveError(w, err)
		return
	}
	s.serveJSON(w, map[string]interface{}{"flow_id": flowID, "gaps": gaps})
}

func (s *Server) handleGaps(w http.ResponseWriter, r *http.Request) {
	gaps, err := s.store.RecentGaps(queryLimit(r))
	if err != nil {
		s.serveError(w, err)
		return
	}
	s.serveJSON(w, map[string]interface{}{"gaps": gaps})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	status, err := s.store.Status()
	if err != nil {
		s.serveError(w, err)
		return
	}
	s.serveJSON(w, status)
}

func (s *Server) serveJSON(w http.ResponseWriter, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		s.log.Error("failed to encode response", zap.Error(err))
	}
}

func (s *Server) serveError(w http.ResponseWriter, err error) {
	s.log.Error("query failed", zap.Error(err))
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusInternalServerError)
	json.NewEncoder(w).Encode(map[string]string{"error": err.Error()})
}

// queryLimit reads the ?limit= parameter with a sane default.
func queryLimit(r *http.Request) int {
	if raw := r.URL.Query().Get("limit"); raw != "" {
		if limit, err := strconv.Atoi(raw); err == nil && limit > 0 {
			return limit
		}
	}
	return defaultQueryLimit
}
