package api

import (
	"errors"
	"net/http"

	"github.com/example/komodo-checkout/internal/checkout"
	"github.com/example/komodo-checkout/internal/command"
	"github.com/example/komodo-checkout/internal/komodo"
	"github.com/example/komodo-checkout/internal/query"
	"github.com/example/komodo-checkout/internal/session"
	"go.uber.org/zap"
)

// statusFor maps the sentinel errors of the cart and checkout packages to
// HTTP statuses.
func statusFor(err error) (int, bool) {
	switch {
	case errors.Is(err, checkout.ErrEmptyCart):
		return http.StatusBadRequest, true
	case errors.Is(err, checkout.ErrInsufficientFunds),
		errors.Is(err, checkout.ErrBalanceUnknown):
		return http.StatusPaymentRequired, true
	case errors.Is(err, checkout.ErrSubmissionInProgress),
		errors.Is(err, checkout.ErrAlreadySubmitted),
		errors.Is(err, checkout.ErrInvalidTransition),
		errors.Is(err, checkout.ErrVisitClosed),
		errors.Is(err, session.ErrCheckoutBusy):
		return http.StatusConflict, true
	case errors.Is(err, session.ErrNoCheckout),
		errors.Is(err, command.ErrProductNotFound),
		errors.Is(err, query.ErrAttemptNotFound):
		return http.StatusNotFound, true
	}
	return 0, false
}

// upstreamStatus is the status to answer with when a Komodo call failed.
// Client errors pass through; everything else is a bad gateway.
func upstreamStatus(err error) int {
	var apiErr *komodo.APIError
	if errors.As(err, &apiErr) && apiErr.StatusCode >= 400 && apiErr.StatusCode < 500 {
		return apiErr.StatusCode
	}
	return http.StatusBadGateway
}

func (h *Handlers) respondError(w http.ResponseWriter, err error) {
	if status, ok := statusFor(err); ok {
		respondJSONError(w, err.Error(), status)
		return
	}
	if errors.Is(err, command.ErrCatalogueUnavailable) {
		respondUpstreamError(w, h.logger, err)
		return
	}
	h.logger.Error("request failed", zap.Error(err))
	respondJSONError(w, "internal server error", http.StatusInternalServerError)
}

// respondUpstreamError answers for a failed Komodo call, using the API's
// own message when it sent one.
func respondUpstreamError(w http.ResponseWriter, logger *zap.Logger, err error) {
	status := upstreamStatus(err)
	message := "upstream request failed"
	var apiErr *komodo.APIError
	if errors.As(err, &apiErr) {
		if detail := apiErr.DetailMessage(); detail != "" {
			message = detail
		} else {
			message = apiErr.Message
		}
	}
	if status == http.StatusBadGateway {
		logger.Warn("upstream request failed", zap.Error(err))
	}
	respondJSONError(w, message, status)
}
