// Package server exposes webhook ingestion and issue statistics over HTTP.
package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/jacklau/issuesla/internal/github"
	"github.com/jacklau/issuesla/internal/metrics"
	"github.com/jacklau/issuesla/internal/stats"
)

// EventIngester stores parsed webhook events.
type EventIngester interface {
	Handle(ctx context.Context, evt github.WebhookEvent) error
}

// StatisticsService computes dashboard statistics for a query window.
type StatisticsService interface {
	Compute(ctx context.Context, q stats.Query) (metrics.Statistics, error)
}

// DeliveryLog deduplicates webhook deliveries by id.
type DeliveryLog interface {
	RecordDelivery(ctx context.Context, id, event string) (bool, error)
	ForgetDelivery(ctx context.Context, id string) error
}

// Handler serves the HTTP API.
type Handler struct {
	Ingest     EventIngester
	Stats      StatisticsService
	Deliveries DeliveryLog // optional
	Secret     string
	Origins    []string
	Log        *slog.Logger
}

// NewHandler creates a Handler. deliveries may be nil to disable deduplication.
func NewHandler(ingest EventIngester, statsSvc StatisticsService, deliveries DeliveryLog, secret string, origins []string, log *slog.Logger) *Handler {
	if log == nil {
		log = slog.Default()
	}
	return &Handler{
		Ingest:     ingest,
		Stats:      statsSvc,
		Deliveries: deliveries,
		Secret:     secret,
		Origins:    origins,
		Log:        log,
	}
}

// Router builds the chi router with middleware and all routes.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(h.logRequests)
	r.Use(middleware.Recoverer)
	if len(h.Origins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: h.Origins,
			AllowedMethods: []string{http.MethodGet, http.MethodOptions},
			AllowedHeaders: []string{"Accept", "Content-Type"},
			MaxAge:         300,
		}))
	}

	r.Get("/health", h.handleHealth)

	r.Route("/webhooks", func(r chi.Router) {
		r.Post("/github", h.handleWebhook(""))
		r.Post("/gh-issue", h.handleWebhook("issues"))
		r.Post("/gh-issue-comment", h.handleWebhook("issue_comment"))
	})

	r.Get("/api/issue-statistics", h.handleIssueStatistics)

	return r
}

// logRequests logs one line per request after it completes.
func (h *Handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		h.Log.Info("http request",
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", ww.Status()),
			slog.Duration("duration", time.Since(start)),
			slog.String("request_id", middleware.GetReqID(r.Context())),
		)
	})
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`{"status":"ok"}`))
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// writeError renders err as a JSON error body. Errors that are not
// *stats.Error become a 500 with a generic message.
func (h *Handler) writeError(w http.ResponseWriter, handlerName string, err error) {
	var appErr *stats.Error
	if !errors.As(err, &appErr) {
		appErr = &stats.Error{
			Code:    "INTERNAL",
			Message: "internal error",
			Status:  http.StatusInternalServerError,
			Err:     err,
		}
	}

	level := slog.LevelWarn
	if appErr.Status >= http.StatusInternalServerError {
		level = slog.LevelError
	}
	h.Log.Log(context.Background(), level, "handler error",
		slog.String("handler", handlerName),
		slog.String("code", appErr.Code),
		slog.String("message", appErr.Message),
		slog.Any("err", appErr.Err),
	)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(appErr.Status)

	resp := errorResponse{}
	resp.Error.Code = appErr.Code
	resp.Error.Message = appErr.Message
	_ = json.NewEncoder(w).Encode(resp)
}

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}
