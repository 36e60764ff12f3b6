package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"TroveLedger/internal/event"
	"TroveLedger/internal/ingestion"
	"TroveLedger/internal/observability"
	"TroveLedger/internal/projection"
	"TroveLedger/internal/query"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/holiman/uint256"
)

// HTTPServer serves the JSON query and admin API.
// Per doc §16: queries read from projection tables and carry as_of_sequence.
type HTTPServer struct {
	httpServer    *http.Server
	addr          string
	db            *sql.DB
	qs            *query.QueryService
	ingest        *ingestion.GRPCIngestService
	history       *projection.TroveHistoryProjection
	healthChecker *observability.HealthChecker
}

func NewHTTPServer(
	addr string,
	db *sql.DB,
	qs *query.QueryService,
	ingest *ingestion.GRPCIngestService,
	history *projection.TroveHistoryProjection,
	healthChecker *observability.HealthChecker,
) *HTTPServer {
	return &HTTPServer{
		addr:          addr,
		db:            db,
		qs:            qs,
		ingest:        ingest,
		history:       history,
		healthChecker: healthChecker,
	}
}

func (s *HTTPServer) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(10 * time.Second))

	r.Get("/healthz", s.healthChecker.LivenessHandler)
	r.Get("/readyz", s.healthChecker.ReadinessHandler)

	r.Route("/v1", func(r chi.Router) {
		r.Get("/balances/{userID}", s.handleGetBalance)
		r.Get("/troves", s.handleListTroves)
		r.Get("/troves/{owner}", s.handleGetTrove)
		r.Get("/stability/{depositor}", s.handleGetStabilityDeposit)
		r.Get("/system/status", s.handleSystemStatus)
		r.Get("/journals/{userID}", s.handleJournalHistory)
		r.Get("/history/liquidations", s.handleLiquidationHistory)
		r.Get("/history/redemptions", s.handleRedemptionHistory)

		r.Post("/commands/{type}", s.handleSubmitCommand)

		r.Route("/admin", func(r chi.Router) {
			r.Get("/integrity", s.handleVerifyIntegrity)
			r.Post("/rebuild-projections", s.handleRebuildProjections)
			r.Post("/inject/price", s.handleInjectPrice)
			r.Post("/inject/liquidate", s.handleInjectLiquidate)
			r.Post("/inject/liquidate-batch", s.handleInjectLiquidateBatch)
		})
	})

	return r
}

// Start runs the HTTP server until the context is cancelled (blocking).
func (s *HTTPServer) Start(ctx context.Context) error {
	s.httpServer = &http.Server{
		Addr:    s.addr,
		Handler: s.routes(),
	}

	go func() {
		<-ctx.Done()
		log.Println("INFO: HTTP server shutting down...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		s.httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("INFO: HTTP server listening on %s", s.addr)
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// --- Query handlers ---

func (s *HTTPServer) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "userID")
	if !ok {
		return
	}

	resp, err := s.qs.GetBalance(r.Context(), userID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleGetTrove(w http.ResponseWriter, r *http.Request) {
	owner, ok := pathUUID(w, r, "owner")
	if !ok {
		return
	}

	resp, err := s.qs.GetTrove(r.Context(), owner)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if resp == nil {
		writeErrorMsg(w, http.StatusNotFound, "no trove for account")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleListTroves(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50, 500)

	var afterOwner *uuid.UUID
	if after := r.URL.Query().Get("after"); after != "" {
		parsed, err := uuid.Parse(after)
		if err != nil {
			writeErrorMsg(w, http.StatusBadRequest, "invalid after cursor")
			return
		}
		afterOwner = &parsed
	}

	troves, err := s.qs.GetActiveTroves(r.Context(), limit, afterOwner)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"troves": troves})
}

func (s *HTTPServer) handleGetStabilityDeposit(w http.ResponseWriter, r *http.Request) {
	depositor, ok := pathUUID(w, r, "depositor")
	if !ok {
		return
	}

	resp, err := s.qs.GetStabilityDeposit(r.Context(), depositor)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	if resp == nil {
		writeErrorMsg(w, http.StatusNotFound, "no stability deposit for account")
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	resp, err := s.qs.GetSystemStatus(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *HTTPServer) handleJournalHistory(w http.ResponseWriter, r *http.Request) {
	userID, ok := pathUUID(w, r, "userID")
	if !ok {
		return
	}

	limit := queryInt(r, "limit", 100, 500)

	var afterSeq *int64
	if from := r.URL.Query().Get("from_sequence"); from != "" {
		seq, err := strconv.ParseInt(from, 10, 64)
		if err != nil {
			writeErrorMsg(w, http.StatusBadRequest, "invalid from_sequence")
			return
		}
		afterSeq = &seq
	}

	entries, err := s.qs.GetJournalHistory(r.Context(), userID, limit, afterSeq)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"journals": entries})
}

// handleSubmitCommand accepts a command over HTTP in the same JSON wire
// format the NATS subjects carry, parses it with the shared parser, and
// enqueues it to the core.
func (s *HTTPServer) handleSubmitCommand(w http.ResponseWriter, r *http.Request) {
	eventType := chi.URLParam(r, "type")
	if event.EventTypeFromString(eventType) == event.EventTypeUnknown {
		writeErrorMsg(w, http.StatusBadRequest, "unknown command type: "+eventType)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "read request body failed")
		return
	}

	raw := ingestion.RawEvent{
		Subject:   "http",
		Data:      body,
		Timestamp: time.Now(),
		AckFunc:   func() {},
		NakFunc:   func() {},
	}
	evt, err := ingestion.ParseRawEvent(raw, eventType)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	if err := s.ingest.Submit(r.Context(), evt); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (s *HTTPServer) handleLiquidationHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100, 1000)
	entries := s.history.RecentLiquidations(limit)
	writeJSON(w, http.StatusOK, map[string]interface{}{"liquidations": entries})
}

func (s *HTTPServer) handleRedemptionHistory(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 100, 1000)
	entries := s.history.RecentRedemptions(limit)
	writeJSON(w, http.StatusOK, map[string]interface{}{"redemptions": entries})
}

// --- Admin handlers ---

func (s *HTTPServer) handleVerifyIntegrity(w http.ResponseWriter, r *http.Request) {
	report, err := s.qs.VerifyIntegrity(r.Context())
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *HTTPServer) handleRebuildProjections(w http.ResponseWriter, r *http.Request) {
	if err := projection.RebuildProjections(r.Context(), s.db); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"rebuilt": true})
}

func (s *HTTPServer) handleInjectPrice(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Price         string `json:"price"`
		PriceSequence int64  `json:"price_sequence"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "invalid request body")
		return
	}

	price, err := uint256.FromDecimal(req.Price)
	if err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "invalid price")
		return
	}

	if err := s.ingest.InjectPrice(r.Context(), price, req.PriceSequence); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (s *HTTPServer) handleInjectLiquidate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Target string `json:"target"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "invalid request body")
		return
	}

	target, err := uuid.Parse(req.Target)
	if err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "invalid target")
		return
	}

	if err := s.ingest.InjectLiquidate(r.Context(), target); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

func (s *HTTPServer) handleInjectLiquidateBatch(w http.ResponseWriter, r *http.Request) {
	var req struct {
		MaxTroves int `json:"max_troves"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "invalid request body")
		return
	}

	if err := s.ingest.InjectLiquidateBatch(r.Context(), req.MaxTroves); err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]bool{"accepted": true})
}

// --- helpers ---

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		writeErrorMsg(w, http.StatusBadRequest, "invalid "+name)
		return uuid.Nil, false
	}
	return id, true
}

func queryInt(r *http.Request, name string, def, max int) int {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 || n > max {
		return def
	}
	return n
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("WARN: write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeErrorMsg(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}
