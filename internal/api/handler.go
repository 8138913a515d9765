package api

import (
	"encoding/json"
	"errors"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/punchamoorthee/remitops/internal/domain"
	"github.com/punchamoorthee/remitops/internal/models"
	"github.com/punchamoorthee/remitops/internal/service"
	"go.uber.org/zap"
)

// Metrics
var (
	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "remit_http_requests_total",
		Help: "Total HTTP requests processed, labeled by status code",
	}, []string{"method", "endpoint", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "remit_http_request_duration_seconds",
		Help:    "Latency distribution of HTTP requests",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	}, []string{"method", "endpoint"})
)

const (
	headerUserID         = "X-User-ID"
	headerIdempotencyKey = "Idempotency-Key"
	headerReplayed       = "Idempotent-Replayed"
	headerRequestID      = "X-Request-ID"
)

type Handler struct {
	svc    *service.Service
	logger *zap.Logger
}

func NewHandler(svc *service.Service, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{svc: svc, logger: logger}
}

// identity keys rate limits: the gateway-supplied user id when present,
// else the client address.
func identity(r *http.Request) string {
	if id := strings.TrimSpace(r.Header.Get(headerUserID)); id != "" {
		return "user:" + id
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	return "ip:" + host
}

func userID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(headerUserID))
}

func parseAmount(raw, name string) (float64, error) {
	if strings.TrimSpace(raw) == "" {
		return 0, domain.Validation("%s is required", name)
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(raw), 64)
	if err != nil || math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, domain.Validation("%s must be a number", name)
	}
	return v, nil
}

func parseOptional(raw, name string) (*float64, error) {
	if strings.TrimSpace(raw) == "" {
		return nil, nil
	}
	v, err := parseAmount(raw, name)
	if err != nil {
		return nil, err
	}
	return &v, nil
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		return domain.Validation("malformed JSON body")
	}
	return nil
}

// writeError maps a classified error to its status and body. Internal
// errors are logged in full and answered generically.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var de *domain.Error
	if !errors.As(err, &de) {
		de = domain.Internal(err, "internal server error")
	}
	body := models.ErrorResponse{Error: de.Message, Code: de.Kind.String()}

	switch de.Kind {
	case domain.KindInternal:
		h.logger.Error("request failed",
			zap.String("request_id", requestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		body.Error = "internal server error"
	case domain.KindGone:
		body.Expired = true
	case domain.KindRateLimited:
		secs := int(math.Ceil(de.RetryAfter.Seconds()))
		w.Header().Set("Retry-After", strconv.Itoa(secs))
		body.RetryAfterMs = de.RetryAfter.Milliseconds()
	}
	respondWithJSON(w, de.Kind.HTTPStatus(), body)
}

func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if payload != nil {
		_ = json.NewEncoder(w).Encode(payload)
	}
}
