package web

import (
	"crypto/subtle"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"tuya-go-home/internal/automation"
	"tuya-go-home/internal/host"
	"tuya-go-home/internal/tuya"
)

// DeviceManager is the device side of the API.
type DeviceManager interface {
	Devices() []tuya.DeviceInfo
	Device(id string) (*tuya.Device, bool)
	RemoveDevice(id string) error
	Events() *tuya.EventBus
}

// EntityRegistry is the entity side of the API.
type EntityRegistry interface {
	List() []host.Controllable
	Get(uniqueID string) (host.Controllable, bool)
	ForDevice(deviceID string) []host.Controllable
	OnAdded(fn func([]host.Controllable)) func()
	OnRemoved(fn func([]host.Controllable)) func()
}

// ServerOption configures the web server.
type ServerOption func(*Server)

// WithAPIKey enables API key authentication.
func WithAPIKey(key string) ServerOption {
	return func(s *Server) {
		s.apiKey = key
	}
}

// WithAllowedOrigins sets allowed origin patterns for mutating requests and
// WebSocket upgrades.
func WithAllowedOrigins(origins []string) ServerOption {
	return func(s *Server) {
		s.allowedOrigins = origins
	}
}

// WithAutomation sets the automation engine and script manager.
func WithAutomation(engine *automation.Engine, mgr *automation.Manager) ServerOption {
	return func(s *Server) {
		s.autoEngine = engine
		s.scriptMgr = mgr
	}
}

// WithVersion sets the version reported by /api/version.
func WithVersion(v string) ServerOption {
	return func(s *Server) {
		s.version = v
	}
}

// Server is the HTTP API.
type Server struct {
	devices        DeviceManager
	entities       EntityRegistry
	wsHub          *WSHub
	logger         *slog.Logger
	mux            *http.ServeMux
	apiKey         string
	allowedOrigins []string
	scriptMgr      *automation.Manager
	autoEngine     *automation.Engine
	version        string
	wg             sync.WaitGroup
	unsubs         []func()
}

// NewServer creates the API server and starts its WebSocket hub.
func NewServer(devices DeviceManager, entities EntityRegistry, logger *slog.Logger, opts ...ServerOption) *Server {
	s := &Server{
		devices:  devices,
		entities: entities,
		logger:   logger.With("component", "web"),
		mux:      http.NewServeMux(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.wsHub = NewWSHub(s.logger)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		s.wsHub.Run()
	}()

	s.unsubs = append(s.unsubs,
		devices.Events().OnAll(func(event tuya.Event) {
			s.wsHub.Broadcast(event)
		}),
		entities.OnAdded(func(added []host.Controllable) {
			s.wsHub.Broadcast(tuya.Event{Type: "entities_added", Data: uniqueIDs(added)})
		}),
		entities.OnRemoved(func(removed []host.Controllable) {
			s.wsHub.Broadcast(tuya.Event{Type: "entities_removed", Data: uniqueIDs(removed)})
		}),
	)

	s.routes()
	return s
}

// Stop shuts down the WebSocket hub and waits for it to exit.
func (s *Server) Stop() {
	for _, unsub := range s.unsubs {
		unsub()
	}
	s.unsubs = nil
	s.wsHub.Stop()
	s.wg.Wait()
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /api/devices", s.handleAPIListDevices)
	s.mux.HandleFunc("GET /api/devices/{id}", s.handleAPIGetDevice)
	s.mux.HandleFunc("DELETE /api/devices/{id}", s.handleAPIDeleteDevice)

	s.mux.HandleFunc("GET /api/sirens", s.handleAPIListSirens)
	s.mux.HandleFunc("GET /api/sirens/{uid}", s.handleAPIGetSiren)
	s.mux.HandleFunc("POST /api/sirens/{uid}/turn_on", s.handleAPITurnOn)
	s.mux.HandleFunc("POST /api/sirens/{uid}/turn_off", s.handleAPITurnOff)

	s.mux.HandleFunc("GET /api/categories", s.handleAPIListCategories)
	s.mux.HandleFunc("GET /api/version", s.handleAPIVersion)

	s.mux.HandleFunc("GET /api/automations", s.handleAPIListAutomations)
	s.mux.HandleFunc("GET /api/automations/{id}", s.handleAPIGetAutomation)
	s.mux.HandleFunc("POST /api/automations", s.handleAPICreateAutomation)
	s.mux.HandleFunc("PUT /api/automations/{id}", s.handleAPIUpdateAutomation)
	s.mux.HandleFunc("DELETE /api/automations/{id}", s.handleAPIDeleteAutomation)
	s.mux.HandleFunc("POST /api/automations/{id}/toggle", s.handleAPIToggleAutomation)
	s.mux.HandleFunc("POST /api/automations/{id}/run", s.handleAPIRunAutomation)

	s.mux.HandleFunc("GET /ws", s.handleWS)
}

// ServeHTTP implements http.Handler, applying origin and API key checks.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if len(s.allowedOrigins) > 0 {
		if origin := r.Header.Get("Origin"); origin != "" {
			allowed := s.isOriginAllowed(origin)
			switch {
			case r.Method == http.MethodOptions && allowed:
				w.Header().Set("Access-Control-Allow-Origin", origin)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-API-Key")
				w.Header().Set("Access-Control-Max-Age", "3600")
				w.WriteHeader(http.StatusNoContent)
				return
			case r.Method == http.MethodOptions, r.Method != http.MethodGet && !allowed:
				http.Error(w, "Forbidden", http.StatusForbidden)
				return
			case r.Method != http.MethodGet:
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
		}
	}

	// Browsers cannot send custom headers on a WebSocket upgrade, so only
	// /api/ is key protected.
	if s.apiKey != "" && strings.HasPrefix(r.URL.Path, "/api/") {
		key := r.Header.Get("X-API-Key")
		if subtle.ConstantTimeCompare([]byte(key), []byte(s.apiKey)) != 1 {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
	}
	s.mux.ServeHTTP(w, r)
}

func (s *Server) isOriginAllowed(origin string) bool {
	for _, allowed := range s.allowedOrigins {
		if allowed == "*" || allowed == origin {
			return true
		}
	}
	return false
}

func (s *Server) handleAPIVersion(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"version": s.version})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("writeJSON encode failed", "err", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func uniqueIDs(entities []host.Controllable) []string {
	ids := make([]string, len(entities))
	for i, e := range entities {
		ids[i] = e.UniqueID()
	}
	return ids
}
