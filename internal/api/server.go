package api

import (
	"encoding/json"
	"net/http"

	"refurb-bridge/internal/config"
	"refurb-bridge/internal/db"
	"refurb-bridge/internal/engine"
	"refurb-bridge/internal/market"
	"refurb-bridge/internal/scheduler"
	"refurb-bridge/internal/syncer"
	"refurb-bridge/internal/traffic"
)

// Server is the admin HTTP API wiring together the controller, the local
// mirror and the engines behind it.
type Server struct {
	cfg   *config.Config
	store *db.DB
	tc    *traffic.Controller
	mkt   *market.Client
	eng   *engine.Engine
	sync  *syncer.Syncer
	sched *scheduler.Scheduler

	dispatchLog *dispatchLog
}

// NewServer creates the admin server. Attach the returned server's
// DispatchSink to the controller so GET /api/traffic/log has data.
func NewServer(cfg *config.Config, store *db.DB, tc *traffic.Controller, mkt *market.Client, eng *engine.Engine, sync *syncer.Syncer, sched *scheduler.Scheduler) *Server {
	return &Server{
		cfg:         cfg,
		store:       store,
		tc:          tc,
		mkt:         mkt,
		eng:         eng,
		sync:        sync,
		sched:       sched,
		dispatchLog: newDispatchLog(512),
	}
}

// DispatchSink records controller dispatch outcomes in the in-memory ring.
func (s *Server) DispatchSink(e traffic.LogEntry) {
	s.dispatchLog.add(e)
}

// Handler returns the HTTP handler with all API routes and CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/status", s.handleStatus)

	mux.HandleFunc("GET /api/listings", s.handleListListings)
	mux.HandleFunc("GET /api/listings/{id}", s.handleGetListing)
	mux.HandleFunc("GET /api/listings/{id}/history", s.handleListingHistory)
	mux.HandleFunc("GET /api/orders", s.handleListOrders)

	mux.HandleFunc("GET /api/parameters/{sku}", s.handleGetParameters)
	mux.HandleFunc("POST /api/parameters/{sku}", s.handleSetParameters)

	mux.HandleFunc("POST /api/reprice/{id}", s.handleReprice)
	mux.HandleFunc("POST /api/probe/{id}", s.handleProbe)
	mux.HandleFunc("POST /api/recover/{id}", s.handleRecover)

	mux.HandleFunc("POST /api/listings/bulk", s.handleBulkUpload)
	mux.HandleFunc("POST /api/sync/listings", s.handleSyncListings)
	mux.HandleFunc("POST /api/sync/orders", s.handleSyncOrders)

	mux.HandleFunc("GET /api/scheduler/status", s.handleSchedulerStatus)
	mux.HandleFunc("POST /api/scheduler/trigger/{name}", s.handleSchedulerTrigger)

	mux.HandleFunc("GET /api/rate-limits", s.handleGetRateLimits)
	mux.HandleFunc("PUT /api/rate-limits", s.handleSetRateLimits)
	mux.HandleFunc("GET /api/traffic/log", s.handleTrafficLog)

	mux.HandleFunc("POST /webhook", s.handleWebhook)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(204)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	listings, _ := s.store.ListAllListings()
	orders, _ := s.store.ListOrders(0)
	writeJSON(w, map[string]interface{}{
		"listings":    len(listings),
		"orders":      len(orders),
		"rate_limits": s.cfg.RateLimits,
	})
}
