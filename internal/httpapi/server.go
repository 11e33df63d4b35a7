// Package httpapi exposes the conversion service over HTTP. It mirrors the
// NATS surface for clients that prefer REST, streams progress snapshots over
// websockets, and serves the Prometheus scrape endpoint.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/book-expert/logger"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"

	"github.com/book-expert/audiobook-creator/internal/core"
	"github.com/book-expert/audiobook-creator/internal/jobs"
	"github.com/book-expert/audiobook-creator/internal/observability"
	"github.com/book-expert/audiobook-creator/internal/voices"
	"github.com/book-expert/audiobook-creator/internal/worker"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadTimeout  = 120 * time.Second
	wsReadLimit    = 1 << 20
)

// Converter admits conversion jobs. The NATS worker satisfies this so both
// transports share one admission path.
type Converter interface {
	StartConversion(request worker.ConvertRequest) worker.ConvertReply
}

// Server carries the HTTP handlers for the conversion service.
type Server struct {
	converter Converter
	manager   *jobs.Manager
	library   core.LibraryStore
	catalog   *voices.Catalog
	broker    *Broker
	upgrader  websocket.Upgrader
	log       *logger.Logger
}

// New creates a server. library may be nil when persistence is disabled.
func New(
	converter Converter,
	manager *jobs.Manager,
	library core.LibraryStore,
	catalog *voices.Catalog,
	broker *Broker,
	log *logger.Logger,
) *Server {
	return &Server{
		converter: converter,
		manager:   manager,
		library:   library,
		catalog:   catalog,
		broker:    broker,
		log:       log,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Only allow browser websocket connections from the same
				// origin. Non-browser clients often omit Origin.
				origin := strings.TrimSpace(r.Header.Get("Origin"))
				if origin == "" {
					return true
				}

				parsed, err := url.Parse(origin)
				if err != nil {
					return false
				}

				return strings.EqualFold(parsed.Host, r.Host)
			},
		},
	}
}

// Router builds the chi route table.
func (s *Server) Router() http.Handler {
	router := chi.NewRouter()

	router.Get("/healthz", s.handleHealth)
	router.Get("/metrics", func(w http.ResponseWriter, r *http.Request) {
		observability.MetricsHandler().ServeHTTP(w, r)
	})

	router.Post("/v1/jobs", s.handleCreateJob)
	router.Get("/v1/jobs/active", s.handleActiveJob)
	router.Get("/v1/jobs/{id}", s.handleJobStatus)
	router.Post("/v1/jobs/{id}/cancel", s.handleCancelJob)
	router.Get("/v1/jobs/{id}/ws", s.handleJobWS)
	router.Get("/v1/voices", s.handleListVoices)
	router.Get("/v1/library", s.handleListLibrary)
	router.Get("/v1/library/{id}", s.handleGetLibrary)

	return router
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	_, active := s.manager.ActiveID()

	respondJSON(w, http.StatusOK, map[string]any{
		"status":     "ok",
		"job_active": active,
	})
}

func (s *Server) handleCreateJob(w http.ResponseWriter, r *http.Request) {
	var request worker.ConvertRequest

	if err := decodeJSON(r, &request); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", err.Error())

		return
	}

	reply := s.converter.StartConversion(request)
	if !reply.Accepted {
		status := http.StatusBadRequest
		if strings.Contains(reply.Error, jobs.ErrJobActive.Error()) {
			status = http.StatusConflict
		}

		respondError(w, status, "rejected", reply.Error)

		return
	}

	respondJSON(w, http.StatusAccepted, reply)
}

func (s *Server) handleActiveJob(w http.ResponseWriter, _ *http.Request) {
	jobID, ok := s.manager.ActiveID()
	if !ok {
		respondError(w, http.StatusNotFound, "no_active_job", "no conversion is running")

		return
	}

	s.respondSnapshot(w, jobID)
}

func (s *Server) handleJobStatus(w http.ResponseWriter, r *http.Request) {
	s.respondSnapshot(w, chi.URLParam(r, "id"))
}

func (s *Server) respondSnapshot(w http.ResponseWriter, jobID string) {
	snapshot, err := s.manager.Snapshot(jobID)
	if err != nil {
		respondError(w, http.StatusNotFound, "job_not_found", err.Error())

		return
	}

	respondJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	if err := s.manager.Cancel(jobID); err != nil {
		respondError(w, http.StatusNotFound, "job_not_found", err.Error())

		return
	}

	respondJSON(w, http.StatusOK, worker.CancelReply{Cancelled: true})
}

func (s *Server) handleJobWS(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer func() {
		closeErr := conn.Close()
		if closeErr != nil {
			s.log.Warn("Failed to close websocket: %v", closeErr)
		}
	}()

	snapshots, cancel := s.broker.Subscribe(jobID)
	defer cancel()

	ctx, stop := context.WithCancel(r.Context())
	defer stop()

	// The reader only watches for the client going away.
	go func() {
		defer stop()

		conn.SetReadLimit(wsReadLimit)
		_ = conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		conn.SetPongHandler(func(string) error {
			return conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		})

		for {
			if _, _, readErr := conn.ReadMessage(); readErr != nil {
				return
			}
		}
	}()

	// Replay the last known snapshot so late subscribers see current state.
	if snapshot, snapErr := s.manager.Snapshot(jobID); snapErr == nil {
		if !s.writeSnapshot(conn, snapshot) {
			return
		}

		if snapshot.Stage.Terminal() {
			return
		}
	}

	for {
		select {
		case <-ctx.Done():
			return
		case snapshot := <-snapshots:
			if !s.writeSnapshot(conn, snapshot) {
				return
			}

			if snapshot.Stage.Terminal() {
				return
			}
		}
	}
}

func (s *Server) writeSnapshot(conn *websocket.Conn, snapshot core.JobSnapshot) bool {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))

	if err := conn.WriteJSON(snapshot); err != nil {
		s.log.Warn("Failed to write progress snapshot: %v", err)

		return false
	}

	return true
}

func (s *Server) handleListVoices(w http.ResponseWriter, _ *http.Request) {
	respondJSON(w, http.StatusOK, map[string]any{
		"voices":  s.catalog.List(),
		"default": s.catalog.Default().ID,
	})
}

func (s *Server) handleListLibrary(w http.ResponseWriter, r *http.Request) {
	if s.library == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "library is not configured")

		return
	}

	records, err := s.library.List(r.Context())
	if err != nil {
		respondError(w, http.StatusInternalServerError, "library_error", err.Error())

		return
	}

	respondJSON(w, http.StatusOK, map[string]any{"records": records})
}

func (s *Server) handleGetLibrary(w http.ResponseWriter, r *http.Request) {
	if s.library == nil {
		respondError(w, http.StatusNotImplemented, "unavailable", "library is not configured")

		return
	}

	record, err := s.library.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondError(w, http.StatusNotFound, "record_not_found", err.Error())

		return
	}

	respondJSON(w, http.StatusOK, record)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

var errEmptyBody = errors.New("empty request body")

func decodeJSON(r *http.Request, out any) error {
	if r.Body == nil {
		return errEmptyBody
	}
	defer func() { _ = r.Body.Close() }()

	decoder := json.NewDecoder(r.Body)

	err := decoder.Decode(out)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return errEmptyBody
		}

		return fmt.Errorf("failed to decode request body: %w", err)
	}

	return nil
}

func respondJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, code, message string) {
	respondJSON(w, status, errorResponse{Error: message, Code: code})
}
