// Package api provides the read-only HTTP ops API: health, stats and
// active call snapshots. It renders nothing and mutates nothing.
package api

import (
	"encoding/json"
	"net/http"
	"time"

	types "github.com/leximon/telephone/api/types/v1"
	"github.com/leximon/telephone/internal/call"
	"github.com/leximon/telephone/internal/logger"
)

// Server serves the ops API over a plain http.ServeMux.
type Server struct {
	addr       string
	nodeID     string
	httpServer *http.Server
	svc        *call.Service
	startTime  time.Time
}

// NewServer creates the ops API server over the call service.
func NewServer(addr, nodeID string, svc *call.Service) *Server {
	s := &Server{
		addr:      addr,
		nodeID:    nodeID,
		svc:       svc,
		startTime: time.Now(),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/health", s.handleHealth)
	mux.HandleFunc("/api/v1/stats", s.handleStats)
	mux.HandleFunc("/api/v1/calls", s.handleCalls)

	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: mux,
	}
	return s
}

// Start begins listening for HTTP requests.
func (s *Server) Start() error {
	logger.Info("ops API listening", "addr", s.addr)
	go func() {
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("ops API server error", "error", err)
		}
	}()
	return nil
}

// Stop shuts the server down.
func (s *Server) Stop() error {
	if s.httpServer != nil {
		return s.httpServer.Close()
	}
	return nil
}

// Handler returns the underlying HTTP handler, for tests.
func (s *Server) Handler() http.Handler {
	return s.httpServer.Handler
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, types.HealthResponse{
		Status: "ok",
		NodeID: s.nodeID,
		Uptime: int64(time.Since(s.startTime).Seconds()),
	})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var resp types.StatsResponse
	for _, leg := range s.svc.Registry().Snapshot() {
		resp.ActiveLegs++
		switch leg.State().(type) {
		case call.Dialing:
			resp.DialingLegs++
		case call.RingingOut, call.RingingIn:
			resp.RingingLegs++
		case call.Active:
			resp.BridgedCalls++
		case call.Searching:
			resp.SearchingLegs++
		}
	}
	// both legs of a bridged call are counted above
	resp.BridgedCalls /= 2
	resp.ActiveCalls = resp.BridgedCalls + resp.RingingLegs/2
	s.writeJSON(w, resp)
}

func (s *Server) handleCalls(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	legs := s.svc.Registry().Snapshot()
	resp := make([]types.CallLeg, 0, len(legs))
	for _, leg := range legs {
		entry := types.CallLeg{
			LegID:     leg.ID(),
			TenantID:  leg.TenantID(),
			Outgoing:  leg.Outgoing(),
			State:     leg.State().String(),
			CreatedAt: leg.CreatedAt().UTC().Format(time.RFC3339),
		}
		if peer := leg.Peer(); peer != nil {
			entry.PeerTenant = peer.TenantID()
		}
		if started := leg.StartedAt(); !started.IsZero() {
			entry.StartedAt = started.UTC().Format(time.RFC3339)
			entry.Duration = int(time.Since(started).Seconds())
		}
		if relay := leg.Relay(); relay != nil {
			entry.QueueDepth = relay.QueueLen()
		}
		resp = append(resp, entry)
	}
	s.writeJSON(w, resp)
}

func (s *Server) writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Warn("ops API encode failed", "error", err)
	}
}
