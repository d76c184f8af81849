// ABOUTME: HTTP endpoints for liveness, readiness, and service stats
// ABOUTME: Unauthenticated operational surface, not a user-facing API

package gateway

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// StatsResponse is the JSON body served by /api/stats.
type StatsResponse struct {
	WaitingThreads int      `json:"waiting_threads"`
	OpenChats      int      `json:"open_chats"`
	Frontends      []string `json:"frontends"`
}

// handleHealth returns 200 OK if the server is alive.
func (g *Gateway) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("OK"))
}

// handleReady returns 200 OK once storage answers queries and at least
// one frontend is registered.
func (g *Gateway) handleReady(w http.ResponseWriter, r *http.Request) {
	if len(g.frontends.All()) == 0 {
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("no frontends registered"))
		return
	}

	if _, err := g.store.CountOpenChats(r.Context()); err != nil {
		g.logger.Error("readiness probe store query failed", "error", err)
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("store unavailable"))
		return
	}

	w.WriteHeader(http.StatusOK)
	_, _ = fmt.Fprintf(w, "ready (%d frontends)", len(g.frontends.All()))
}

// handleStats serves live pairing counters.
func (g *Gateway) handleStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	waiting, err := g.store.CountWaitingThreads(r.Context())
	if err != nil {
		g.logger.Error("counting waiting threads failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}
	open, err := g.store.CountOpenChats(r.Context())
	if err != nil {
		g.logger.Error("counting open chats failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	names := make([]string, 0, len(g.frontends.All()))
	for _, a := range g.frontends.All() {
		names = append(names, a.Name())
	}

	w.Header().Set("Content-Type", "application/json")
	resp := StatsResponse{
		WaitingThreads: waiting,
		OpenChats:      open,
		Frontends:      names,
	}
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		g.logger.Error("encoding stats response failed", "error", err)
	}
}
