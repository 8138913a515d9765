package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

type ctxKey struct{}

func requestID(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// NewRouter mounts the v1 API, health and metrics endpoints.
func NewRouter(h *Handler) *mux.Router {
	r := mux.NewRouter()
	r.Use(h.requestIDMiddleware, h.instrumentMiddleware)

	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/health", h.HealthCheckHandler).Methods(http.MethodGet)

	apiV1 := r.PathPrefix("/api/v1").Subrouter()
	apiV1.HandleFunc("/quote", h.QuoteHandler).Methods(http.MethodGet)
	apiV1.HandleFunc("/recommendation", h.RecommendationHandler).Methods(http.MethodGet)
	apiV1.HandleFunc("/transfers", h.CreateTransferHandler).Methods(http.MethodPost)
	apiV1.HandleFunc("/transfers/lookup", h.LookupTransferHandler).Methods(http.MethodGet)
	apiV1.HandleFunc("/transfers/{id}", h.GetTransferHandler).Methods(http.MethodGet)
	apiV1.HandleFunc("/transfers/{id}", h.UpdateTransferHandler).Methods(http.MethodPatch)
	apiV1.HandleFunc("/transfers/{id}/execute", h.ExecuteTransferHandler).Methods(http.MethodPost)
	return r
}

func (h *Handler) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get(headerRequestID)
		if id == "" {
			id = uuid.NewString()
		}
		w.Header().Set(headerRequestID, id)
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, id)))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

// instrumentMiddleware records request metrics under the route template
// and logs one line per request.
func (h *Handler) instrumentMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		elapsed := time.Since(start)

		endpoint := r.URL.Path
		if route := mux.CurrentRoute(r); route != nil {
			if tpl, err := route.GetPathTemplate(); err == nil {
				endpoint = tpl
			}
		}
		httpRequestDuration.WithLabelValues(r.Method, endpoint).Observe(elapsed.Seconds())
		httpRequestsTotal.WithLabelValues(r.Method, endpoint, strconv.Itoa(rec.status)).Inc()

		h.logger.Info("http request",
			zap.String("request_id", requestID(r.Context())),
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", rec.status),
			zap.Duration("duration", elapsed))
	})
}
