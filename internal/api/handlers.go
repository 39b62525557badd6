package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"refurb-bridge/internal/config"
	"refurb-bridge/internal/db"
	"refurb-bridge/internal/logger"
)

// --- Mirror reads ---

func (s *Server) handleListListings(w http.ResponseWriter, r *http.Request) {
	var (
		listings []db.Listing
		err      error
	)
	if r.URL.Query().Get("active") == "1" {
		listings, err = s.store.ListActiveListings()
	} else {
		listings, err = s.store.ListAllListings()
	}
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"listings": listings, "count": len(listings)})
}

func (s *Server) handleGetListing(w http.ResponseWriter, r *http.Request) {
	l, err := s.store.GetListing(r.PathValue("id"))
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	if l == nil {
		writeError(w, 404, "not found")
		return
	}
	writeJSON(w, l)
}

func (s *Server) handleListingHistory(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	changes, err := s.store.ListPriceChanges(r.PathValue("id"), limit)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"history": changes, "count": len(changes)})
}

func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			limit = n
		}
	}
	orders, err := s.store.ListOrders(limit)
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"orders": orders, "count": len(orders)})
}

// --- Pricing parameters ---

func (s *Server) handleGetParameters(w http.ResponseWriter, r *http.Request) {
	params, err := s.store.ListPricingParams(r.PathValue("sku"))
	if err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"parameters": params, "count": len(params)})
}

func (s *Server) handleSetParameters(w http.ResponseWriter, r *http.Request) {
	var p db.PricingParams
	if err := json.NewDecoder(r.Body).Decode(&p); err != nil {
		writeError(w, 400, "invalid json")
		return
	}
	p.SKU = r.PathValue("sku")
	if err := p.Validate(); err != nil {
		writeError(w, 400, err.Error())
		return
	}
	if err := s.store.UpsertPricingParams(p); err != nil {
		writeError(w, 500, err.Error())
		return
	}
	writeJSON(w, p)
}

// --- Repricing actions ---

func (s *Server) handleReprice(w http.ResponseWriter, r *http.Request) {
	res, err := s.eng.Reprice(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, 404, err.Error())
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleProbe(w http.ResponseWriter, r *http.Request) {
	res, err := s.eng.Probe(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, 409, err.Error())
		return
	}
	writeJSON(w, res)
}

func (s *Server) handleRecover(w http.ResponseWriter, r *http.Request) {
	res, err := s.eng.Recover(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, 404, err.Error())
		return
	}
	writeJSON(w, res)
}

// handleBulkUpload submits a CSV catalog as an async marketplace import
// task and waits for its completion, polling at low priority.
func (s *Server) handleBulkUpload(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Catalog   string `json:"catalog"`
		Delimiter string `json:"delimiter"`
		Encoding  string `json:"encoding"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Catalog == "" {
		writeError(w, 400, "catalog csv required")
		return
	}
	if req.Delimiter == "" {
		req.Delimiter = ";"
	}
	if req.Encoding == "" {
		req.Encoding = "utf-8"
	}

	taskID, err := s.mkt.BulkUpload(r.Context(), req.Catalog, req.Delimiter, req.Encoding)
	if err != nil {
		writeError(w, 502, err.Error())
		return
	}
	if err := s.mkt.WaitTask(r.Context(), taskID, 30, 2*time.Second); err != nil {
		writeError(w, 502, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"status": "done", "task_id": taskID})
}

// --- Sync ---

func (s *Server) handleSyncListings(w http.ResponseWriter, r *http.Request) {
	n, err := s.sync.SyncListings(r.Context())
	if err != nil {
		writeError(w, 502, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"synced": n})
}

func (s *Server) handleSyncOrders(w http.ResponseWriter, r *http.Request) {
	full := r.URL.Query().Get("full") == "1"
	n, err := s.sync.SyncOrders(r.Context(), full)
	if err != nil {
		writeError(w, 502, err.Error())
		return
	}
	writeJSON(w, map[string]interface{}{"synced": n, "full": full})
}

// --- Scheduler ---

func (s *Server) handleSchedulerStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{"tasks": s.sched.Status()})
}

func (s *Server) handleSchedulerTrigger(w http.ResponseWriter, r *http.Request) {
	name := r.PathValue("name")
	if !s.sched.Trigger(name) {
		writeError(w, 404, "unknown task: "+name)
		return
	}
	writeJSON(w, map[string]string{"status": "triggered", "task": name})
}

// --- Rate limits ---

func (s *Server) handleGetRateLimits(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.cfg.RateLimits)
}

// handleSetRateLimits hot-swaps the controller's buckets and persists the
// new limits so they survive a restart.
func (s *Server) handleSetRateLimits(w http.ResponseWriter, r *http.Request) {
	var rl config.RateLimits
	if err := json.NewDecoder(r.Body).Decode(&rl); err != nil {
		writeError(w, 400, "invalid json")
		return
	}
	for _, b := range []config.BucketSpec{rl.Global, rl.Catalog, rl.Competitor, rl.Care} {
		if b.IntervalMS <= 0 || b.MaxRequests <= 0 {
			writeError(w, 400, "every bucket needs positive interval_ms and max_requests")
			return
		}
	}
	s.tc.UpdateConfig(rl)
	s.cfg.RateLimits = rl
	if err := s.store.SaveRateLimits(rl); err != nil {
		logger.Warn("API", "persist rate limits: "+err.Error())
	}
	writeJSON(w, rl)
}

func (s *Server) handleTrafficLog(w http.ResponseWriter, r *http.Request) {
	entries := s.dispatchLog.snapshot()
	writeJSON(w, map[string]interface{}{"entries": entries, "count": len(entries)})
}
