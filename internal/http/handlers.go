package http

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	redisadapter "github.com/showgate/booking-engine/internal/adapters/redis"
	stripeadapter "github.com/showgate/booking-engine/internal/adapters/stripe"
	"github.com/showgate/booking-engine/internal/booking"
	"github.com/showgate/booking-engine/internal/domain"
	"github.com/showgate/booking-engine/internal/observability"
)

const webhookBodyLimit = 1 << 16

// idempKey scopes the client's Idempotency-Key to the authenticated user so
// one user's key cannot replay another user's stored response.
func idempKey(userID uuid.UUID, r *http.Request) string {
	return userID.String() + ":" + r.Header.Get("Idempotency-Key")
}

type Handlers struct {
	svc     *booking.Service
	gateway *stripeadapter.Gateway
	idemp   *redisadapter.Idempotency
	logger  observability.Logger
}

func NewHandlers(svc *booking.Service, gateway *stripeadapter.Gateway, idemp *redisadapter.Idempotency, logger observability.Logger) *Handlers {
	return &Handlers{
		svc:     svc,
		gateway: gateway,
		idemp:   idemp,
		logger:  logger,
	}
}

func (h *Handlers) CreateReservation(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(r)
	if !ok {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	key := idempKey(userID, r)
	existing, err := h.idemp.Get(r.Context(), key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if existing != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(existing.Status)
		w.Write(existing.Body)
		return
	}

	var req struct {
		Kind      domain.ShowingKind `json:"kind"`
		ShowingID uuid.UUID          `json:"showing_id"`
		Units     []string           `json:"units"`
		Amount    *float64           `json:"amount"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	ref := domain.ShowingRef{Kind: req.Kind, ID: req.ShowingID}
	b, checkoutURL, err := h.svc.Reserve(r.Context(), userID, ref, req.Units, req.Amount)
	if err != nil {
		h.writeReserveError(w, err)
		return
	}

	resp := map[string]interface{}{
		"booking_id":   b.ID,
		"status":       b.Status,
		"amount":       b.Amount,
		"units":        b.Units,
		"checkout_url": checkoutURL,
	}
	data, _ := json.Marshal(resp)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	w.Write(data)

	h.idemp.Set(r.Context(), key, redisadapter.StoredResponse{Status: http.StatusCreated, Body: data})
}

func (h *Handlers) writeReserveError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, domain.ErrInvalidShowing):
		http.Error(w, "showing not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrTooManyUnits),
		errors.Is(err, domain.ErrDuplicateUnit),
		errors.Is(err, domain.ErrUnknownUnit):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, domain.ErrShowingExpired):
		http.Error(w, "showing already started", http.StatusGone)
	case errors.Is(err, domain.ErrUnitsUnavailable):
		http.Error(w, "units already taken", http.StatusConflict)
	case errors.Is(err, domain.ErrSerializationFailure):
		http.Error(w, "conflict, try again", http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func (h *Handlers) GetBooking(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(r)
	if !ok {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	b, err := h.svc.Get(r.Context(), id, userID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			http.Error(w, "booking not found", http.StatusNotFound)
			return
		}
		if errors.Is(err, domain.ErrNotOwner) {
			http.Error(w, "forbidden", http.StatusForbidden)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(bookingResponse(b))
}

func (h *Handlers) ListBookings(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(r)
	if !ok {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	bookings, err := h.svc.ListMine(r.Context(), userID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	resp := make([]map[string]interface{}, 0, len(bookings))
	for _, b := range bookings {
		resp = append(resp, bookingResponse(b))
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

func (h *Handlers) CancelBooking(w http.ResponseWriter, r *http.Request) {
	userID, ok := userFrom(r)
	if !ok {
		http.Error(w, "missing user identity", http.StatusUnauthorized)
		return
	}

	key := idempKey(userID, r)
	existing, err := h.idemp.Get(r.Context(), key)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if existing != nil {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(existing.Status)
		w.Write(existing.Body)
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		http.Error(w, "invalid id", http.StatusBadRequest)
		return
	}

	b, err := h.svc.Cancel(r.Context(), id, userID)
	if err != nil {
		h.writeCancelError(w, err)
		return
	}

	resp := map[string]interface{}{
		"booking_id":    b.ID,
		"status":        b.Status,
		"refund_amount": b.RefundAmount,
		"cancelled_at":  b.CancelledAt.Format(time.RFC3339),
	}
	data, _ := json.Marshal(resp)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	w.Write(data)

	h.idemp.Set(r.Context(), key, redisadapter.StoredResponse{Status: http.StatusOK, Body: data})
}

func (h *Handlers) writeCancelError(w http.ResponseWriter, err error) {
	var notCancellable *domain.NotCancellableError
	switch {
	case errors.Is(err, domain.ErrNotFound):
		http.Error(w, "booking not found", http.StatusNotFound)
	case errors.Is(err, domain.ErrNotOwner):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.As(err, &notCancellable):
		writeJSONError(w, http.StatusConflict, map[string]interface{}{
			"error":    notCancellable.Error(),
			"status":   notCancellable.Status,
			"redeemed": notCancellable.Redeemed,
		})
	case errors.Is(err, domain.ErrSerializationFailure):
		http.Error(w, "conflict, try again", http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// Redeem is hit by door scanners, not end users, so it carries no user
// identity. The token itself is the credential.
func (h *Handlers) Redeem(w http.ResponseWriter, r *http.Request) {
	token := chi.URLParam(r, "token")

	summary, err := h.svc.Redeem(r.Context(), token)
	if err != nil {
		h.writeRedeemError(w, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]interface{}{
		"result":  "admitted",
		"summary": summary,
	})
}

func (h *Handlers) writeRedeemError(w http.ResponseWriter, err error) {
	var redeemed *domain.AlreadyRedeemedError
	var cancelled *domain.AlreadyCancelledError
	switch {
	case errors.Is(err, domain.ErrInvalidToken):
		http.Error(w, "unknown token", http.StatusNotFound)
	case errors.As(err, &redeemed):
		writeJSONError(w, http.StatusConflict, map[string]interface{}{
			"result":      "already_redeemed",
			"redeemed_at": redeemed.RedeemedAt.Format(time.RFC3339),
			"summary":     redeemed.Summary,
		})
	case errors.As(err, &cancelled):
		writeJSONError(w, http.StatusGone, map[string]interface{}{
			"result":       "cancelled",
			"cancelled_at": cancelled.CancelledAt.Format(time.RFC3339),
		})
	case errors.Is(err, domain.ErrPaymentPending):
		http.Error(w, "payment not completed", http.StatusConflict)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

// PaymentWebhook receives checkout completion events from the payment
// processor. Verification failures return 400; a processing failure
// returns 500 so the processor redelivers.
func (h *Handlers) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(io.LimitReader(r.Body, webhookBodyLimit))
	if err != nil {
		http.Error(w, "read error", http.StatusBadRequest)
		return
	}

	bookingID, ok, err := h.gateway.VerifyCallback(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		http.Error(w, "invalid signature", http.StatusBadRequest)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusOK)
		return
	}

	_, err = h.svc.ConfirmPayment(r.Context(), bookingID)
	if err != nil {
		if errors.Is(err, domain.ErrConfirmationTooLate) {
			// Logged for reconciliation inside the service; acking stops
			// pointless redelivery.
			w.WriteHeader(http.StatusOK)
			return
		}
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

func (h *Handlers) Readyz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Ready"))
}

func bookingResponse(b domain.Booking) map[string]interface{} {
	resp := map[string]interface{}{
		"booking_id": b.ID,
		"kind":       b.Showing.Kind,
		"showing_id": b.Showing.ID,
		"units":      b.Units,
		"amount":     b.Amount,
		"status":     b.Status,
		"redeemed":   b.Redeemed,
		"created_at": b.CreatedAt.Format(time.RFC3339),
	}
	// The token is the admission credential; only the owner sees it, and
	// only once the booking is paid.
	if b.RedemptionToken != "" {
		resp["redemption_token"] = b.RedemptionToken
	}
	if b.RefundAmount != nil {
		resp["refund_amount"] = *b.RefundAmount
	}
	if b.RedeemedAt != nil {
		resp["redeemed_at"] = b.RedeemedAt.Format(time.RFC3339)
	}
	if b.CancelledAt != nil {
		resp["cancelled_at"] = b.CancelledAt.Format(time.RFC3339)
	}
	return resp
}

func writeJSONError(w http.ResponseWriter, status int, body map[string]interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(body)
}
