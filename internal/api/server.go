package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/oddstack/browserpool/internal/slot"
)

// Facade is the subset of the Pool Facade the HTTP surface needs.
// Narrowed to an interface so the server can be tested without a real
// container runtime.
type Facade interface {
	Init(ctx context.Context, pullOnStart bool) error
	Browsers() []slot.Slot
	BrowsersFromRuntime(ctx context.Context) ([]slot.Slot, error)
	FindById(id string) (slot.Slot, bool)
	FindBySession(sessionID string) (slot.Slot, bool)
	Reserve(leaseMinutes int) (slot.Slot, bool)
	Extend(name string, leaseMinutes int) error
	SetInternals(name string, session slot.Session) (slot.Slot, error)
	SetVncPassword(name, password string) (slot.Slot, error)
	SetDebug(name string, debug bool) (slot.Slot, error)
	SetViewport(name string, vp slot.Viewport) (slot.Slot, error)
	SetDefaultViewport(vp slot.Viewport)
	ReInitWithResolution(name, resolutionKey string) error
	Release(name string) error
	Shutdown()
}

// Server is the HTTP front door over a Facade.
type Server struct {
	pool   Facade
	mux    *http.ServeMux
	logger *log.Logger
}

// NewServer wires every route. Grounded on the teacher's
// registry.Server: a plain *http.ServeMux with method-qualified
// patterns, one handler per route.
func NewServer(pool Facade, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.Default()
	}
	s := &Server{pool: pool, mux: http.NewServeMux(), logger: logger}

	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /browsers", s.handleBrowsers)
	s.mux.HandleFunc("GET /browsers/runtime", s.handleBrowsersFromRuntime)
	s.mux.HandleFunc("GET /browsers/id/{id}", s.handleFindById)
	s.mux.HandleFunc("GET /browsers/session/{sessionID}", s.handleFindBySession)
	s.mux.HandleFunc("POST /reserve", s.handleReserve)
	s.mux.HandleFunc("POST /browsers/{name}/extend", s.handleExtend)
	s.mux.HandleFunc("POST /browsers/{name}/release", s.handleRelease)
	s.mux.HandleFunc("POST /browsers/{name}/internals", s.handleSetInternals)
	s.mux.HandleFunc("POST /browsers/{name}/viewport", s.handleSetViewport)
	s.mux.HandleFunc("POST /browsers/{name}/vnc-password", s.handleSetVncPassword)
	s.mux.HandleFunc("POST /browsers/{name}/debug", s.handleSetDebug)
	s.mux.HandleFunc("POST /browsers/{name}/resolution", s.handleReInitResolution)
	s.mux.HandleFunc("POST /default-viewport", s.handleSetDefaultViewport)
	return s
}

func (s *Server) Handler() http.Handler { return s.mux }

// ListenAndServe starts the HTTP server on addr.
func ListenAndServe(addr string, s *Server) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	s.logger.Printf("api: listening on %s", addr)
	return srv.ListenAndServe()
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleBrowsers(w http.ResponseWriter, r *http.Request) {
	browsers := s.pool.Browsers()
	used := 0
	for _, b := range browsers {
		if b.State == slot.Leased {
			used++
		}
	}
	writeJSON(w, http.StatusOK, BrowsersResponse{Browsers: browsers, Capacity: len(browsers), Used: used})
}

func (s *Server) handleBrowsersFromRuntime(w http.ResponseWriter, r *http.Request) {
	browsers, err := s.pool.BrowsersFromRuntime(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, BrowsersResponse{Browsers: browsers, Capacity: len(browsers)})
}

func (s *Server) handleFindById(w http.ResponseWriter, r *http.Request) {
	sl, ok := s.pool.FindById(r.PathValue("id"))
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "no slot with that id"})
		return
	}
	writeJSON(w, http.StatusOK, sl)
}

func (s *Server) handleFindBySession(w http.ResponseWriter, r *http.Request) {
	sl, ok := s.pool.FindBySession(r.PathValue("sessionID"))
	if !ok {
		writeJSON(w, http.StatusNotFound, ErrorResponse{Error: "no slot with that session"})
		return
	}
	writeJSON(w, http.StatusOK, sl)
}

func (s *Server) handleReserve(w http.ResponseWriter, r *http.Request) {
	var req ReserveRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sl, ok := s.pool.Reserve(req.LeaseMinutes)
	writeJSON(w, http.StatusOK, ReserveResponse{Available: ok, Slot: sl})
}

func (s *Server) handleExtend(w http.ResponseWriter, r *http.Request) {
	var req ExtendRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.pool.Extend(r.PathValue("name"), req.LeaseMinutes); err != nil {
		writeError(w, http.StatusConflict, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true"})
}

func (s *Server) handleRelease(w http.ResponseWriter, r *http.Request) {
	if err := s.pool.Release(r.PathValue("name")); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true"})
}

func (s *Server) handleSetInternals(w http.ResponseWriter, r *http.Request) {
	var req SetInternalsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sl, err := s.pool.SetInternals(r.PathValue("name"), req.Session)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, sl)
}

func (s *Server) handleSetViewport(w http.ResponseWriter, r *http.Request) {
	var req SetViewportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sl, err := s.pool.SetViewport(r.PathValue("name"), req.Viewport)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, sl)
}

func (s *Server) handleSetVncPassword(w http.ResponseWriter, r *http.Request) {
	var req SetVncPasswordRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sl, err := s.pool.SetVncPassword(r.PathValue("name"), req.Password)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, sl)
}

func (s *Server) handleSetDebug(w http.ResponseWriter, r *http.Request) {
	var req SetDebugRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	sl, err := s.pool.SetDebug(r.PathValue("name"), req.Debug)
	if err != nil {
		writeError(w, http.StatusNotFound, err)
		return
	}
	writeJSON(w, http.StatusOK, sl)
}

func (s *Server) handleReInitResolution(w http.ResponseWriter, r *http.Request) {
	var req ReInitResolutionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.pool.ReInitWithResolution(r.PathValue("name"), req.Resolution); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true"})
}

func (s *Server) handleSetDefaultViewport(w http.ResponseWriter, r *http.Request) {
	var req SetDefaultViewportRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	s.pool.SetDefaultViewport(req.Viewport)
	writeJSON(w, http.StatusOK, map[string]string{"ok": "true"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, ErrorResponse{Error: err.Error()})
}
