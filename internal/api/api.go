// Package api serves the sentinel's HTTP interface: pipeline status, the
// busiest flows, anomaly training, stored alert summaries and metrics.
package api

import (
	"Go2NetSentinel/internal/errors"
	"Go2NetSentinel/internal/model"
	"Go2NetSentinel/internal/pipeline"
	"Go2NetSentinel/internal/query"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	defaultFlowLimit = 20
	maxFlowLimit     = 1000
	maxTrainBody     = 32 << 20
)

// StatusProvider reports pipeline counters.
type StatusProvider interface {
	Stats() pipeline.Stats
}

// FlowLister lists the busiest flows.
type FlowLister interface {
	Top(limit int) []model.Flow
}

// Detector is the part of the detection engine the API drives.
type Detector interface {
	TrainAnomalyDetector(samples [][]float64) error
	Rules() []string
}

// Handler holds the dependencies for API handlers. Any of them may be nil;
// Querier is nil when ClickHouse is not configured.
type Handler struct {
	Status   StatusProvider
	Flows    FlowLister
	Detector Detector
	Querier  query.Querier
	Gatherer prometheus.Gatherer
}

// NewRouter registers the routes whose dependencies are set. The alert
// routes are always present and answer 503 without a Querier.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	if h.Status != nil {
		r.HandleFunc("/api/v1/status", h.statusHandler).Methods("GET")
	}
	if h.Flows != nil {
		r.HandleFunc("/api/v1/flows", h.flowsHandler).Methods("GET")
	}
	if h.Detector != nil {
		r.HandleFunc("/api/v1/rules", h.rulesHandler).Methods("GET")
		r.HandleFunc("/api/v1/anomaly/train", h.trainHandler).Methods("POST")
	}
	r.HandleFunc("/api/v1/alerts/summary", h.alertSummaryHandler).Methods("GET")
	r.HandleFunc("/api/v1/alerts/recent", h.recentAlertsHandler).Methods("GET")
	if h.Gatherer != nil {
		r.Handle("/metrics", promhttp.HandlerFor(h.Gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}
	return r
}

// Server is the HTTP server around the router.
type Server struct {
	server *http.Server
}

// NewServer creates a server listening on addr.
func NewServer(addr string, h *Handler) *Server {
	return &Server{server: &http.Server{
		Addr:              addr,
		Handler:           NewRouter(h),
		ReadHeaderTimeout: 10 * time.Second,
	}}
}

// Start serves in the background.
func (s *Server) Start() {
	go func() {
		log.Printf("API server starting on %s", s.server.Addr)
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("ERROR: API server on %s stopped: %v", s.server.Addr, err)
		}
	}()
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("Warning: failed to encode API response: %v", err)
	}
}

func (h *Handler) statusHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.Status.Stats())
}

type flowView struct {
	Key             string    `json:"key"`
	SrcIP           string    `json:"src_ip"`
	DstIP           string    `json:"dst_ip"`
	SrcPort         uint16    `json:"src_port"`
	DstPort         uint16    `json:"dst_port"`
	PacketCount     uint64    `json:"packet_count"`
	ByteCount       uint64    `json:"byte_count"`
	FirstSeen       time.Time `json:"first_seen"`
	LastSeen        time.Time `json:"last_seen"`
	DurationSeconds float64   `json:"duration_seconds"`
}

func (h *Handler) flowsHandler(w http.ResponseWriter, r *http.Request) {
	limit := defaultFlowLimit
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			http.Error(w, fmt.Sprintf("invalid limit: %q", v), http.StatusBadRequest)
			return
		}
		limit = min(n, maxFlowLimit)
	}

	flows := h.Flows.Top(limit)
	views := make([]flowView, 0, len(flows))
	for _, f := range flows {
		views = append(views, flowView{
			Key:             f.Key.String(),
			SrcIP:           f.Key.SrcIP.String(),
			DstIP:           f.Key.DstIP.String(),
			SrcPort:         f.Key.SrcPort,
			DstPort:         f.Key.DstPort,
			PacketCount:     f.Stats.PacketCount,
			ByteCount:       f.Stats.ByteCount,
			FirstSeen:       f.Stats.FirstSeen,
			LastSeen:        f.Stats.LastSeen,
			DurationSeconds: f.Stats.Duration(),
		})
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *Handler) rulesHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"rules": h.Detector.Rules()})
}

// TrainRequest is the body of POST /api/v1/anomaly/train.
type TrainRequest struct {
	Samples [][]float64 `json:"samples"`
}

func (h *Handler) trainHandler(w http.ResponseWriter, r *http.Request) {
	var req TrainRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxTrainBody)).Decode(&req); err != nil {
		http.Error(w, fmt.Sprintf("failed to decode request: %v", err), http.StatusBadRequest)
		return
	}
	if err := h.Detector.TrainAnomalyDetector(req.Samples); err != nil {
		status := http.StatusInternalServerError
		if errors.GetKind(err) == errors.KindValidation {
			status = http.StatusBadRequest
		}
		http.Error(w, fmt.Sprintf("failed to train anomaly model: %v", err), status)
		return
	}
	log.Printf("Anomaly model retrained on %d samples via API.", len(req.Samples))
	writeJSON(w, http.StatusOK, map[string]any{"trained": true, "samples": len(req.Samples)})
}

func parseSummaryRequest(r *http.Request) (query.SummaryRequest, error) {
	q := r.URL.Query()
	req := query.SummaryRequest{RuleID: q.Get("rule"), Severity: q.Get("severity")}
	for name, dst := range map[string]*time.Time{"since": &req.Since, "until": &req.Until} {
		if v := q.Get(name); v != "" {
			t, err := time.Parse(time.RFC3339, v)
			if err != nil {
				return req, fmt.Errorf("invalid %s: %w", name, err)
			}
			*dst = t
		}
	}
	return req, nil
}

func (h *Handler) alertSummaryHandler(w http.ResponseWriter, r *http.Request) {
	if h.Querier == nil {
		http.Error(w, "alert storage is not configured", http.StatusServiceUnavailable)
		return
	}
	req, err := parseSummaryRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	summaries, err := h.Querier.Summary(r.Context(), req)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to query alerts: %v", err), http.StatusInternalServerError)
		return
	}
	if summaries == nil {
		summaries = []query.RuleSummary{}
	}
	writeJSON(w, http.StatusOK, summaries)
}

func (h *Handler) recentAlertsHandler(w http.ResponseWriter, r *http.Request) {
	if h.Querier == nil {
		http.Error(w, "alert storage is not configured", http.StatusServiceUnavailable)
		return
	}
	req, err := parseSummaryRequest(r)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if limit, err = strconv.Atoi(v); err != nil || limit <= 0 {
			http.Error(w, fmt.Sprintf("invalid limit: %q", v), http.StatusBadRequest)
			return
		}
	}
	threats, err := h.Querier.Recent(r.Context(), req, min(limit, maxFlowLimit))
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to query alerts: %v", err), http.StatusInternalServerError)
		return
	}
	if threats == nil {
		threats = []query.StoredThreat{}
	}
	writeJSON(w, http.StatusOK, threats)
}
