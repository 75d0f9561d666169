package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/nabil-hasan/tutorlane/libs/outbox"
	"github.com/nabil-hasan/tutorlane/services/payments-service/internal/storage"
)

// StripeWebhook handles Stripe webhooks (signature verification is the auth).
// A completed checkout becomes payments.lesson.paid.v1 through the outbox; an
// expired one becomes payments.checkout.expired.v1. The booking side consumes
// both and settles the hold.
func (h *Handler) StripeWebhook(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.stripeWebhookSecret == "" {
		http.Error(w, "stripe webhook not configured", http.StatusServiceUnavailable)
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if strings.TrimSpace(sigHeader) == "" {
		http.Error(w, "missing Stripe-Signature header", http.StatusBadRequest)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20)) // 1 MiB hard cap
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	evt, err := webhook.ConstructEventWithTolerance(body, sigHeader, h.stripeWebhookSecret, h.stripeWebhookTolerance)
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}

	occurredAt := time.Unix(evt.Created, 0).UTC()
	evtType := string(evt.Type)
	h.logger.Info("payment provider event received",
		"provider", "stripe",
		"provider_event_id", evt.ID,
		"event_type", evtType,
		"occurred_at", occurredAt.Format(time.RFC3339),
	)

	tx, err := h.repo.Begin(r.Context())
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(r.Context()) }()

	// Idempotency: ignore replayed Stripe events.
	if err := h.repo.InsertProviderEvent(r.Context(), tx, storage.ProviderEvent{
		Provider:        "stripe",
		ProviderEventID: evt.ID,
		EventType:       evtType,
		Payload:         body,
	}); err != nil {
		if errors.Is(err, storage.ErrDuplicateProviderEvent) {
			h.logger.Info("payment provider event duplicate ignored", "provider_event_id", evt.ID, "event_type", evtType)
			writeJSON(w, http.StatusOK, map[string]any{"status": "duplicate"})
			_ = tx.Commit(r.Context())
			return
		}
		http.Error(w, "failed to record provider event", http.StatusInternalServerError)
		return
	}

	switch evtType {
	case "checkout.session.completed":
		session, lessonID := h.decodeSession(evt.Data.Raw)
		if lessonID == "" {
			break
		}
		if err := h.repo.MarkCheckoutSessionCompleted(r.Context(), tx, session.ID, occurredAt); err != nil {
			http.Error(w, "failed to mark session completed", http.StatusInternalServerError)
			return
		}
		payload, err := json.Marshal(map[string]any{
			"lesson_id":         lessonID,
			"stripe_session_id": session.ID,
			"amount_cents":      session.AmountTotal,
			"paid_at":           occurredAt.Format(time.RFC3339),
		})
		if err != nil {
			http.Error(w, "failed to build event payload", http.StatusInternalServerError)
			return
		}
		if err := h.outboxRepo.Insert(r.Context(), tx, outbox.Event{
			AggregateType: "lesson",
			AggregateID:   lessonID,
			EventType:     "payments.lesson.paid.v1",
			Payload:       payload,
		}); err != nil {
			http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
			return
		}

	case "checkout.session.expired":
		session, lessonID := h.decodeSession(evt.Data.Raw)
		if lessonID == "" {
			break
		}
		if err := h.repo.MarkCheckoutSessionExpired(r.Context(), tx, session.ID, occurredAt); err != nil {
			http.Error(w, "failed to mark session expired", http.StatusInternalServerError)
			return
		}
		payload, err := json.Marshal(map[string]any{
			"lesson_id":         lessonID,
			"stripe_session_id": session.ID,
			"expired_at":        occurredAt.Format(time.RFC3339),
		})
		if err != nil {
			http.Error(w, "failed to build event payload", http.StatusInternalServerError)
			return
		}
		if err := h.outboxRepo.Insert(r.Context(), tx, outbox.Event{
			AggregateType: "lesson",
			AggregateID:   lessonID,
			EventType:     "payments.checkout.expired.v1",
			Payload:       payload,
		}); err != nil {
			http.Error(w, "failed to write outbox event", http.StatusInternalServerError)
			return
		}
	}

	if err := tx.Commit(r.Context()); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func (h *Handler) decodeSession(raw []byte) (stripe.CheckoutSession, string) {
	var session stripe.CheckoutSession
	if err := json.Unmarshal(raw, &session); err != nil {
		h.logger.Error("stripe: invalid checkout session payload", "err", err)
		return stripe.CheckoutSession{}, ""
	}
	lessonID := strings.TrimSpace(session.Metadata["lesson_id"])
	if lessonID == "" {
		lessonID = strings.TrimSpace(session.ClientReferenceID)
	}
	if lessonID == "" {
		h.logger.Warn("stripe: checkout session without lesson_id metadata", "session_id", session.ID)
	}
	return session, lessonID
}
