package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	gogithub "github.com/google/go-github/v60/github"
	"github.com/google/uuid"

	"github.com/jacklau/issuesla/internal/github"
	"github.com/jacklau/issuesla/internal/ingest"
	"github.com/jacklau/issuesla/internal/stats"
)

// maxPayloadBytes matches GitHub's webhook payload cap.
const maxPayloadBytes = 25 << 20

// handleWebhook authenticates and ingests one delivery. defaultEvent is used
// when the X-GitHub-Event header is absent (legacy per-event endpoints).
func (h *Handler) handleWebhook(defaultEvent string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxPayloadBytes))
		if err != nil {
			h.writeError(w, "webhook", stats.BadRequest("reading request body failed"))
			return
		}

		if !github.VerifySignature(h.Secret, body, r.Header.Get(github.SignatureHeader)) {
			h.Log.Warn("webhook signature mismatch", slog.String("remote", r.RemoteAddr))
			writeText(w, http.StatusUnauthorized, "Unauthorized")
			return
		}

		eventType := gogithub.WebHookType(r)
		if eventType == "" {
			eventType = defaultEvent
		}
		deliveryID := gogithub.DeliveryID(r)
		log := h.Log.With(slog.String("event", eventType), slog.String("delivery", deliveryID))

		evt, err := github.ParseEvent(eventType, deliveryID, body)
		switch {
		case errors.Is(err, github.ErrUnsupportedEvent), errors.Is(err, github.ErrIgnoredAction):
			log.Debug("webhook ignored", slog.String("reason", err.Error()))
			writeText(w, http.StatusOK, "OK")
			return
		case err != nil:
			h.writeError(w, "webhook", &stats.Error{
				Code:    "BAD_REQUEST",
				Message: "malformed webhook payload",
				Status:  http.StatusBadRequest,
				Err:     err,
			})
			return
		}

		tracked := false
		if h.Deliveries != nil && isDeliveryID(deliveryID) {
			fresh, err := h.Deliveries.RecordDelivery(r.Context(), deliveryID, eventType)
			if err != nil {
				h.writeError(w, "webhook", err)
				return
			}
			if !fresh {
				log.Info("duplicate delivery skipped")
				writeText(w, http.StatusOK, "OK")
				return
			}
			tracked = true
		}

		if err := h.Ingest.Handle(r.Context(), evt); err != nil {
			if tracked {
				if ferr := h.Deliveries.ForgetDelivery(r.Context(), deliveryID); ferr != nil {
					log.Error("forgetting failed delivery", slog.Any("err", ferr))
				}
			}
			if errors.Is(err, ingest.ErrInvalidEvent) {
				h.writeError(w, "webhook", &stats.Error{
					Code: "BAD_REQUEST", Message: "webhook payload cannot be stored", Status: http.StatusBadRequest, Err: err,
				})
				return
			}
			h.writeError(w, "webhook", fmt.Errorf("ingesting %s: %w", evt.Kind, err))
			return
		}

		log.Info("webhook ingested",
			slog.String("kind", evt.Kind.String()),
			slog.String("repo", evt.Repo),
			slog.Int("issue", evt.Issue.Number),
		)
		writeText(w, http.StatusOK, "OK")
	}
}

// isDeliveryID reports whether id looks like a GitHub delivery GUID.
func isDeliveryID(id string) bool {
	if id == "" {
		return false
	}
	_, err := uuid.Parse(id)
	return err == nil
}
