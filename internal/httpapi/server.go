package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/agentworkforce/relaycrm/internal/adsync"
	"github.com/agentworkforce/relaycrm/internal/crm"
)

// BatchProcessor ingests one webhook delivery.
type BatchProcessor interface {
	Process(ctx context.Context, kind crm.EntityKind, records []crm.Payload) (crm.BatchResult, error)
}

// SyncRunner runs one ad sync orchestration.
type SyncRunner interface {
	Run(ctx context.Context) adsync.Report
}

type SyncLogReader interface {
	ListSyncLog(ctx context.Context, limit int) ([]crm.SyncLogEntry, error)
}

// Backend bundles the collaborators behind the HTTP surface. Sync and
// SyncLog are optional; their endpoints answer 503 when unset.
type Backend struct {
	Batches BatchProcessor
	Sync    SyncRunner
	SyncLog SyncLogReader
}

type ServerConfig struct {
	WebhookSecret string
	ServiceKey    string
	MaxBodyBytes  int64
	// RateLimit is the sustained webhook requests per second allowed per
	// remote address; 0 disables limiting.
	RateLimit float64
	RateBurst int
	Logger    *zap.Logger
}

type Server struct {
	backend     Backend
	cfg         ServerConfig
	logger      *zap.Logger
	rateLimiter *rateLimiter
	envelope    *envelopeDecoder
	metrics     *metrics
	hub         *hub
}

type rateLimiter struct {
	mu      sync.Mutex
	limit   rate.Limit
	burst   int
	idle    time.Duration
	entries map[string]*rateEntry
	sweepAt time.Time
}

type rateEntry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

var (
	webhookCORS = map[string]string{
		"Access-Control-Allow-Origin":  "*",
		"Access-Control-Allow-Headers": "authorization, content-type, x-webhook-secret",
		"Access-Control-Allow-Methods": "POST, HEAD, OPTIONS",
	}
	syncCORS = map[string]string{
		"Access-Control-Allow-Origin":  "*",
		"Access-Control-Allow-Headers": "authorization, x-client-info, apikey, content-type",
	}
	webhookRoutes = map[string]crm.EntityKind{
		"/webhooks/dynamics-leads":             crm.EntityLead,
		"/webhooks/dynamics-opportunities":     crm.EntityOpportunity,
		"/functions/v1/dynamics-leads":         crm.EntityLead,
		"/functions/v1/dynamics-opportunities": crm.EntityOpportunity,
	}
)

func NewServer(backend Backend) *Server {
	return NewServerWithConfig(backend, ServerConfig{})
}

func NewServerWithConfig(backend Backend, cfg ServerConfig) *Server {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = 10 << 20
	}
	if cfg.RateLimit < 0 {
		cfg.RateLimit = 0
	}
	if cfg.RateBurst <= 0 {
		cfg.RateBurst = 20
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	envelope, err := newEnvelopeDecoder()
	if err != nil {
		// The schema is a constant; failing to compile it is a programming error.
		panic(fmt.Sprintf("httpapi: compile envelope schema: %v", err))
	}
	var limiter *rateLimiter
	if cfg.RateLimit > 0 {
		limiter = &rateLimiter{
			limit:   rate.Limit(cfg.RateLimit),
			burst:   cfg.RateBurst,
			idle:    10 * time.Minute,
			entries: map[string]*rateEntry{},
		}
	}
	m := newMetrics()
	return &Server{
		backend:     backend,
		cfg:         cfg,
		logger:      logger,
		rateLimiter: limiter,
		envelope:    envelope,
		metrics:     m,
		hub:         newHub(func(n int) { m.streamSubscribers.Set(float64(n)) }),
	}
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	started := time.Now()
	rec := &statusRecorder{ResponseWriter: w}
	route := s.route(rec, r)
	s.metrics.observeRequest(route, r.Method, rec.statusCode(), time.Since(started).Seconds())
}

// route dispatches the request and returns the label used for metrics.
func (s *Server) route(w http.ResponseWriter, r *http.Request) string {
	path := strings.TrimRight(r.URL.Path, "/")
	if kind, ok := webhookRoutes[path]; ok {
		s.handleWebhook(w, r, kind)
		return "webhook_" + string(kind)
	}
	switch path {
	case "/health":
		if r.Method != http.MethodGet && r.Method != http.MethodHead {
			writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
			return "health"
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return "health"
	case "/metrics":
		s.metrics.handler().ServeHTTP(w, r)
		return "metrics"
	case "/v1/sync/ads", "/functions/v1/sync-ads-orchestrator":
		s.handleSyncTrigger(w, r)
		return "sync_trigger"
	case "/v1/sync-log":
		s.handleSyncLog(w, r)
		return "sync_log"
	case "/v1/stream":
		s.handleStream(w, r)
		return "stream"
	default:
		writeError(w, http.StatusNotFound, "Not found")
		return "not_found"
	}
}

type webhookResponse struct {
	Success bool `json:"success"`
	crm.BatchResult
}

func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request, kind crm.EntityKind) {
	if r.Method == http.MethodOptions || r.Method == http.MethodHead {
		setHeaders(w, webhookCORS)
		w.WriteHeader(http.StatusOK)
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if authErr := verifyWebhookSecret(r.Header.Get("x-webhook-secret"), s.cfg.WebhookSecret); authErr != nil {
		writeError(w, authErr.status, authErr.message)
		return
	}
	if s.rateLimiter != nil && !s.rateLimiter.allow(remoteKey(r), time.Now()) {
		w.Header().Set("Retry-After", "1")
		writeError(w, http.StatusTooManyRequests, "Too many requests")
		return
	}
	body, ok := s.readRequestBody(w, r)
	if !ok {
		return
	}
	records, err := s.envelope.decode(body)
	if err != nil {
		var envErr *envelopeError
		if errors.As(err, &envErr) {
			writeError(w, http.StatusBadRequest, envErr.message)
			return
		}
		writeError(w, http.StatusBadRequest, "Invalid payload: "+err.Error())
		return
	}
	if len(records) == 0 {
		writeError(w, http.StatusBadRequest, "No records in data")
		return
	}

	// Committed records stay committed if the caller hangs up mid-batch.
	result, err := s.processBatch(context.WithoutCancel(r.Context()), kind, records)
	if err != nil {
		if errors.Is(err, crm.ErrEmptyBatch) {
			writeError(w, http.StatusBadRequest, "No records in data")
			return
		}
		s.logger.Error("webhook: batch failed", zap.String("entity", string(kind)), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	s.metrics.observeBatch(result)
	s.hub.publish(Event{Type: "batch", Batch: &result})
	writeJSON(w, http.StatusOK, webhookResponse{Success: true, BatchResult: result})
}

func (s *Server) processBatch(ctx context.Context, kind crm.EntityKind, records []crm.Payload) (result crm.BatchResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("batch panicked: %v", r)
		}
	}()
	if s.backend.Batches == nil {
		return crm.BatchResult{}, errors.New("batch processor is not configured")
	}
	return s.backend.Batches.Process(ctx, kind, records)
}

func (s *Server) handleSyncTrigger(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		setHeaders(w, syncCORS)
		w.WriteHeader(http.StatusOK)
		_, _ = io.WriteString(w, "ok")
		return
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if authErr := authorizeServiceKey(r.Header.Get("Authorization"), "", s.cfg.ServiceKey); authErr != nil {
		writeError(w, authErr.status, authErr.message)
		return
	}
	if s.backend.Sync == nil {
		writeError(w, http.StatusServiceUnavailable, "Ad sync is not configured")
		return
	}
	report := s.backend.Sync.Run(context.WithoutCancel(r.Context()))
	s.metrics.observeSync(report)
	s.hub.publish(Event{Type: "sync", Sync: &report})
	setHeaders(w, syncCORS)
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleSyncLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeError(w, http.StatusMethodNotAllowed, "Method not allowed")
		return
	}
	if authErr := authorizeServiceKey(r.Header.Get("Authorization"), "", s.cfg.ServiceKey); authErr != nil {
		writeError(w, authErr.status, authErr.message)
		return
	}
	if s.backend.SyncLog == nil {
		writeError(w, http.StatusServiceUnavailable, "Sync log is not configured")
		return
	}
	limit := parseBoundedInt(r.URL.Query().Get("limit"), 50, 1, 500)
	entries, err := s.backend.SyncLog.ListSyncLog(r.Context(), limit)
	if err != nil {
		s.logger.Error("sync log: list failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if entries == nil {
		entries = []crm.SyncLogEntry{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
}

func (s *Server) readRequestBody(w http.ResponseWriter, r *http.Request) ([]byte, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxBodyBytes)
	body, err := io.ReadAll(r.Body)
	if err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, http.StatusRequestEntityTooLarge, "Request body exceeds configured limit")
			return nil, false
		}
		writeError(w, http.StatusBadRequest, "Failed to read request body")
		return nil, false
	}
	return body, true
}

func setHeaders(w http.ResponseWriter, headers map[string]string) {
	for key, value := range headers {
		w.Header().Set(key, value)
	}
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func remoteKey(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

func (r *rateLimiter) allow(key string, now time.Time) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if now.After(r.sweepAt) {
		for k, entry := range r.entries {
			if now.Sub(entry.lastSeen) > r.idle {
				delete(r.entries, k)
			}
		}
		r.sweepAt = now.Add(r.idle)
	}
	entry, ok := r.entries[key]
	if !ok {
		entry = &rateEntry{limiter: rate.NewLimiter(r.limit, r.burst)}
		r.entries[key] = entry
	}
	entry.lastSeen = now
	return entry.limiter.AllowN(now, 1)
}

func parseBoundedInt(raw string, fallback, min, max int) int {
	if strings.TrimSpace(raw) == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(strings.TrimSpace(raw))
	if err != nil {
		return fallback
	}
	if parsed < min {
		return fallback
	}
	if parsed > max {
		return max
	}
	return parsed
}
