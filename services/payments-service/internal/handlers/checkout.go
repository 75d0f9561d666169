package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stripe/stripe-go/v79"
	checkoutsession "github.com/stripe/stripe-go/v79/checkout/session"

	"github.com/nabil-hasan/tutorlane/libs/outbox"
	"github.com/nabil-hasan/tutorlane/services/payments-service/internal/storage"
)

type Handler struct {
	repo                   *storage.Repository
	outboxRepo             *outbox.Repository
	logger                 *slog.Logger
	stripeSecretKey        string
	stripeWebhookSecret    string
	stripeWebhookTolerance time.Duration
	checkoutSuccessURL     string
	checkoutCancelURL      string
	checkoutExpiry         time.Duration
	currency               string
}

type Config struct {
	StripeSecretKey               string
	StripeWebhookSecret           string
	StripeWebhookToleranceSeconds int
	CheckoutSuccessURL            string
	CheckoutCancelURL             string
	CheckoutExpiryMinutes         int
	Currency                      string
}

func New(repo *storage.Repository, outboxRepo *outbox.Repository, logger *slog.Logger, cfg Config) *Handler {
	tolSeconds := cfg.StripeWebhookToleranceSeconds
	if tolSeconds <= 0 {
		tolSeconds = 300
	}
	// Stripe rejects checkout expirations under 30 minutes.
	expiryMins := cfg.CheckoutExpiryMinutes
	if expiryMins < 30 {
		expiryMins = 30
	}
	currency := strings.TrimSpace(strings.ToLower(cfg.Currency))
	if currency == "" {
		currency = "usd"
	}
	return &Handler{
		repo:                   repo,
		outboxRepo:             outboxRepo,
		logger:                 logger,
		stripeSecretKey:        strings.TrimSpace(cfg.StripeSecretKey),
		stripeWebhookSecret:    strings.TrimSpace(cfg.StripeWebhookSecret),
		stripeWebhookTolerance: time.Duration(tolSeconds) * time.Second,
		checkoutSuccessURL:     strings.TrimSpace(cfg.CheckoutSuccessURL),
		checkoutCancelURL:      strings.TrimSpace(cfg.CheckoutCancelURL),
		checkoutExpiry:         time.Duration(expiryMins) * time.Minute,
		currency:               currency,
	}
}

type checkoutRequest struct {
	LessonID    string `json:"lesson_id"`
	AmountCents int64  `json:"amount_cents"`
	Description string `json:"description,omitempty"`
}

// Checkout serves POST /api/v1/payments/checkout: a one-time Stripe Checkout
// session for a held lesson. The lesson id travels in the session metadata so
// the webhook can map the provider event back to the hold.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	if h.stripeSecretKey == "" {
		http.Error(w, "stripe checkout not configured (STRIPE_SECRET_KEY missing)", http.StatusNotImplemented)
		return
	}

	var req checkoutRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.LessonID = strings.TrimSpace(req.LessonID)
	req.Description = strings.TrimSpace(req.Description)
	if req.LessonID == "" {
		http.Error(w, "lesson_id is required", http.StatusBadRequest)
		return
	}
	if req.AmountCents <= 0 {
		http.Error(w, "amount_cents must be positive", http.StatusBadRequest)
		return
	}
	if h.checkoutSuccessURL == "" || h.checkoutCancelURL == "" {
		http.Error(w, "checkout return URLs not configured", http.StatusNotImplemented)
		return
	}

	description := req.Description
	if description == "" {
		description = "Tutoring lesson"
	}

	stripe.Key = h.stripeSecretKey

	params := &stripe.CheckoutSessionParams{
		Mode:              stripe.String(string(stripe.CheckoutSessionModePayment)),
		SuccessURL:        stripe.String(h.checkoutSuccessURL),
		CancelURL:         stripe.String(h.checkoutCancelURL),
		ClientReferenceID: stripe.String(req.LessonID),
		ExpiresAt:         stripe.Int64(time.Now().Add(h.checkoutExpiry).Unix()),
		LineItems: []*stripe.CheckoutSessionLineItemParams{
			{
				PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
					Currency:   stripe.String(h.currency),
					UnitAmount: stripe.Int64(req.AmountCents),
					ProductData: &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
						Name: stripe.String(description),
					},
				},
				Quantity: stripe.Int64(1),
			},
		},
		Metadata: map[string]string{
			"lesson_id": req.LessonID,
		},
	}
	if idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key")); idemKey != "" {
		params.IdempotencyKey = stripe.String(idemKey)
	}

	sess, err := checkoutsession.New(params)
	if err != nil {
		h.logger.Error("stripe checkout session create failed", "err", err, "lesson_id", req.LessonID)
		http.Error(w, "failed to create checkout session", http.StatusBadGateway)
		return
	}

	tx, err := h.repo.Begin(r.Context())
	if err != nil {
		http.Error(w, "db error", http.StatusInternalServerError)
		return
	}
	defer func() { _ = tx.Rollback(r.Context()) }()

	if err := h.repo.UpsertCheckoutSession(r.Context(), tx, storage.CheckoutSession{
		StripeSessionID: sess.ID,
		LessonID:        req.LessonID,
		AmountCents:     req.AmountCents,
		Currency:        h.currency,
		Status:          "created",
		URL:             sess.URL,
	}); err != nil {
		http.Error(w, "failed to persist checkout session", http.StatusInternalServerError)
		return
	}
	if err := tx.Commit(r.Context()); err != nil {
		http.Error(w, "failed to commit", http.StatusInternalServerError)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"session_id": sess.ID,
		"url":        sess.URL,
	})
}

// SessionStatus is public: Stripe redirects the student back without auth, so
// it exposes non-sensitive state only.
func (h *Handler) SessionStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	sessionID := strings.TrimSpace(r.URL.Query().Get("session_id"))
	if sessionID == "" {
		http.Error(w, "session_id is required", http.StatusBadRequest)
		return
	}

	sess, err := h.repo.GetCheckoutSession(r.Context(), sessionID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			http.Error(w, "not found", http.StatusNotFound)
			return
		}
		http.Error(w, "failed to load session", http.StatusInternalServerError)
		return
	}

	resp := map[string]any{
		"session_id": sess.StripeSessionID,
		"lesson_id":  sess.LessonID,
		"status":     sess.Status,
		"updated_at": sess.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if sess.CompletedAt != nil {
		resp["completed_at"] = sess.CompletedAt.UTC().Format(time.RFC3339)
	}
	if sess.ExpiredAt != nil {
		resp["expired_at"] = sess.ExpiredAt.UTC().Format(time.RFC3339)
	}
	writeJSON(w, http.StatusOK, resp)
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}
