// Package api exposes the dashboard's HTTP surface: health, the live update
// websocket, per-widget snapshot reads, integration listing, manual refresh
// triggers, and Prometheus metrics.
package api

import (
	"log/slog"
	"net/http"
	"sync/atomic"

	"github.com/agnivade/levenshtein"
	"github.com/dustin/go-humanize"
	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"homeboard/server/cache"
	"homeboard/server/hub"
	"homeboard/server/integration"
	"homeboard/server/metrics"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// suggestionMaxDistance bounds how far a nearest-name suggestion may be
// from the requested widget name before it is withheld.
const suggestionMaxDistance = 3

// Server handles HTTP requests for the dashboard engine.
type Server struct {
	registry *integration.Registry
	store    *cache.Store
	hub      *hub.Hub
	metrics  *metrics.Metrics
	gatherer prometheus.Gatherer
	logger   *slog.Logger

	// ready flips to true once startup registration has completed and the
	// listener is accepting connections.
	ready atomic.Bool
}

// New creates the API server.
func New(registry *integration.Registry, store *cache.Store, h *hub.Hub,
	m *metrics.Metrics, gatherer prometheus.Gatherer, logger *slog.Logger) *Server {
	return &Server{
		registry: registry,
		store:    store,
		hub:      h,
		metrics:  m,
		gatherer: gatherer,
		logger:   logger,
	}
}

// SetReady marks startup as complete; until then /health reports starting.
func (s *Server) SetReady(ready bool) {
	s.ready.Store(ready)
}

// Router builds the request router.
func (s *Server) Router() *mux.Router {
	router := mux.NewRouter()

	router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	router.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
	router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods(http.MethodGet)

	apiRouter := router.PathPrefix("/api").Subrouter()
	apiRouter.HandleFunc("/trigger-refresh", s.handleTriggerRefresh).Methods(http.MethodPost)
	apiRouter.HandleFunc("/refresh/{name}", s.handleRefresh).Methods(http.MethodPost)
	apiRouter.HandleFunc("/widgets/{name}", s.handleWidget).Methods(http.MethodGet)
	apiRouter.HandleFunc("/integrations", s.handleIntegrations).Methods(http.MethodGet)

	return router
}

// handleHealth reports {"status":"healthy"} once the process has finished
// startup registration. The deploy supervisor keys its keep-or-rollback
// decision off this exact shape.
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if !s.ready.Load() {
		s.writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

// handleTriggerRefresh instructs all live sessions to reload. Succeeds
// whether or not any sessions are connected.
func (s *Server) handleTriggerRefresh(w http.ResponseWriter, r *http.Request) {
	sessions := s.hub.Count()
	s.hub.BroadcastReload()
	s.logger.Info("reload broadcast requested", "sessions", sessions)
	s.writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "sessions": sessions})
}

// handleRefresh requests an immediate fetch for one polling integration.
// Requests coalesce with any fetch already in flight; for streaming
// integrations this is a no-op.
func (s *Server) handleRefresh(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	entry := s.registry.Get(name)
	if entry == nil {
		s.writeNotFound(w, name)
		return
	}

	refreshed := entry.Runner.RequestRefresh()
	status := "accepted"
	if !refreshed {
		status = "noop"
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"status": status})
}

// handleWidget returns the current cached rendered state for one
// integration. It never forces a re-fetch. 204 when the integration is
// registered but has not published yet.
func (s *Server) handleWidget(w http.ResponseWriter, r *http.Request) {
	name := mux.Vars(r)["name"]

	if s.registry.Get(name) == nil {
		s.writeNotFound(w, name)
		return
	}

	snap, ok := s.store.Get(name)
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}

	s.writeJSON(w, http.StatusOK, snap)
}

// integrationInfo is the public shape of one registered integration.
// Settings and credentials never appear here.
type integrationInfo struct {
	Name        string `json:"name"`
	DisplayName string `json:"displayName"`
	Capability  string `json:"capability"`
	State       string `json:"state"`
	LastUpdated string `json:"lastUpdated"`
}

// handleIntegrations enumerates registered integrations.
func (s *Server) handleIntegrations(w http.ResponseWriter, r *http.Request) {
	entries := s.registry.List()

	infos := make([]integrationInfo, 0, len(entries))
	for _, entry := range entries {
		status := entry.Runner.Status()
		lastUpdated := "never"
		if !status.LastSuccess.IsZero() {
			lastUpdated = humanize.Time(status.LastSuccess)
		}
		infos = append(infos, integrationInfo{
			Name:        entry.Descriptor.Name,
			DisplayName: entry.Descriptor.DisplayName,
			Capability:  entry.Descriptor.Capability.String(),
			State:       status.State.String(),
			LastUpdated: lastUpdated,
		})
	}

	s.writeJSON(w, http.StatusOK, infos)
}

// writeNotFound emits a 404 with a nearest-name suggestion when a
// registered integration is close enough to what was asked for.
func (s *Server) writeNotFound(w http.ResponseWriter, name string) {
	body := map[string]string{"error": "unknown integration: " + name}
	if suggestion, ok := s.closestName(name); ok {
		body["suggestion"] = suggestion
	}
	s.writeJSON(w, http.StatusNotFound, body)
}

// closestName finds the registered integration name nearest to the input.
func (s *Server) closestName(name string) (string, bool) {
	best := ""
	bestDist := suggestionMaxDistance + 1
	for _, candidate := range s.registry.Names() {
		if d := levenshtein.ComputeDistance(name, candidate); d < bestDist {
			best = candidate
			bestDist = d
		}
	}
	return best, best != ""
}

func (s *Server) writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("failed to encode response", "error", err.Error())
	}
}
