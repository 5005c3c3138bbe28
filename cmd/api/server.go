package main

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/shopassist-ai/engine/engine/domain"
	"github.com/shopassist-ai/engine/engine/enrich"
	"github.com/shopassist-ai/engine/engine/scraper"
	"github.com/shopassist-ai/engine/engine/search"
	"github.com/shopassist-ai/engine/engine/status"
	"github.com/shopassist-ai/engine/engine/vsync"
	"github.com/shopassist-ai/engine/pkg/metrics"
	"github.com/shopassist-ai/engine/pkg/mid"
)

// server bundles the pipeline services behind the HTTP API.
type server struct {
	scraper   *scraper.Scraper
	processor *enrich.Processor
	syncer    *vsync.Engine
	searcher  *search.Service
	tracker   *status.Tracker
	logger    *slog.Logger
	reg       *metrics.Registry

	defaultMaxPosts int
	// jobs is the lifetime context for background work; request contexts
	// end when the response is written.
	jobs context.Context
}

func (s *server) handler(corsOrigin string) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/health", s.handleHealth)
	mux.HandleFunc("GET /api/status/{username}", s.handleStatus)
	mux.HandleFunc("POST /api/scrape", s.handleScrape)
	mux.HandleFunc("POST /api/process-ai", s.handleProcessAI)
	mux.HandleFunc("POST /api/sync", s.handleSync)
	mux.HandleFunc("POST /api/search", s.handleSearch)
	mux.Handle("GET /metrics", s.reg.Handler())

	return mid.Chain(mux,
		mid.Recover(s.logger),
		mid.Logger(s.logger),
		mid.OTel("shopassist-api"),
		mid.CORS(corsOrigin),
	)
}

func (s *server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	username := r.PathValue("username")
	if err := domain.ValidateUsername(username); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	writeJSON(w, http.StatusOK, s.tracker.Snapshot(username))
}

// ScrapeRequest is the JSON body for POST /api/scrape.
type ScrapeRequest struct {
	Username    string `json:"username"`
	MaxPosts    int    `json:"max_posts,omitempty"`
	RecipientID string `json:"recipient_id,omitempty"`
	// AIMode chains an analysis job after the scrape: update_all,
	// update_remaining (default), or skip.
	AIMode string `json:"ai_mode,omitempty"`
}

func (s *server) handleScrape(w http.ResponseWriter, r *http.Request) {
	var req ScrapeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if err := domain.ValidateUsername(req.Username); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	mode, err := enrich.ParseMode(req.AIMode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.MaxPosts <= 0 {
		req.MaxPosts = s.defaultMaxPosts
	}
	if s.tracker.Snapshot(req.Username).Scraping.State == status.StateRunning {
		writeError(w, http.StatusConflict, domain.ErrAlreadyRunning)
		return
	}

	go s.runPipeline(req.Username, req.MaxPosts, req.RecipientID, mode)
	writeJSON(w, http.StatusAccepted, map[string]string{
		"message":  "Scraping started",
		"username": req.Username,
	})
}

// runPipeline chains scrape → analysis → vector sync. Each stage records
// its own job status; a failed stage stops the chain.
func (s *server) runPipeline(username string, maxPosts int, recipientID string, mode enrich.Mode) {
	ctx := s.jobs
	if err := s.scraper.Run(ctx, username, maxPosts, recipientID); err != nil {
		if scraper.IsDuplicate(err) {
			s.logger.Warn("scrape already running", "username", username)
		}
		return
	}
	if err := s.processor.Run(ctx, username, mode); err != nil {
		return
	}
	if mode != enrich.ModeSkip {
		if _, err := s.syncer.Sync(ctx, username); err != nil {
			s.logger.Error("post-analysis sync failed", "username", username, "error", err)
		}
	}
}

// ProcessAIRequest is the JSON body for POST /api/process-ai.
type ProcessAIRequest struct {
	Username string `json:"username"`
	Mode     string `json:"mode,omitempty"`
}

func (s *server) handleProcessAI(w http.ResponseWriter, r *http.Request) {
	var req ProcessAIRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if err := domain.ValidateUsername(req.Username); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	mode, err := enrich.ParseMode(req.Mode)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if s.tracker.Snapshot(req.Username).AI.State == status.StateRunning {
		writeError(w, http.StatusConflict, domain.ErrAlreadyRunning)
		return
	}

	go func() {
		if err := s.processor.Run(s.jobs, req.Username, mode); err != nil {
			return
		}
		if mode != enrich.ModeSkip {
			if _, err := s.syncer.Sync(s.jobs, req.Username); err != nil {
				s.logger.Error("post-analysis sync failed", "username", req.Username, "error", err)
			}
		}
	}()
	writeJSON(w, http.StatusAccepted, map[string]string{
		"message":  "AI analysis started",
		"username": req.Username,
	})
}

// SyncRequest is the JSON body for POST /api/sync. An empty username syncs
// every known profile.
type SyncRequest struct {
	Username string `json:"username,omitempty"`
}

func (s *server) handleSync(w http.ResponseWriter, r *http.Request) {
	var req SyncRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	if req.Username != "" {
		if err := domain.ValidateUsername(req.Username); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		go func() {
			if _, err := s.syncer.Sync(s.jobs, req.Username); err != nil {
				s.logger.Error("sync failed", "username", req.Username, "error", err)
			}
		}()
	} else {
		go func() {
			if err := s.syncer.SyncAll(s.jobs); err != nil {
				s.logger.Error("sync all failed", "error", err)
			}
		}()
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"message": "Sync started"})
}

// SearchRequest is the JSON body for POST /api/search. TopK defaults to 5
// when omitted; an explicit non-positive value is rejected.
type SearchRequest struct {
	Query       string `json:"query"`
	TopK        *int   `json:"top_k,omitempty"`
	RecipientID string `json:"recipient_id"`
}

// SearchResponse is the JSON response for POST /api/search.
type SearchResponse struct {
	Results []search.Result `json:"results"`
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	var req SearchRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, errors.New("invalid request body"))
		return
	}
	topK := 5
	if req.TopK != nil {
		topK = *req.TopK
	}

	results, err := s.searcher.Search(r.Context(), req.Query, topK, req.RecipientID)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) {
			writeError(w, http.StatusBadRequest, err)
			return
		}
		s.logger.Error("search failed", "error", err)
		writeError(w, http.StatusInternalServerError, errors.New("internal server error"))
		return
	}
	if results == nil {
		results = []search.Result{}
	}
	writeJSON(w, http.StatusOK, SearchResponse{Results: results})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
