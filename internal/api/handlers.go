package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/example/komodo-checkout/internal/api/middleware"
	"github.com/example/komodo-checkout/internal/checkout"
	"github.com/example/komodo-checkout/internal/command"
	"github.com/example/komodo-checkout/internal/domain/cart"
	"github.com/example/komodo-checkout/internal/query"
	"github.com/example/komodo-checkout/internal/session"
	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type Handlers struct {
	cmdHandler   *command.Handler
	queryHandler *query.Handler
	sessions     *session.Registry
	logger       *zap.Logger
}

func NewHandlers(cmdHandler *command.Handler, queryHandler *query.Handler, sessions *session.Registry, logger *zap.Logger) *Handlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handlers{
		cmdHandler:   cmdHandler,
		queryHandler: queryHandler,
		sessions:     sessions,
		logger:       logger.Named("api"),
	}
}

// Cart Handlers

// AddItemRequest adds a product of a stand to the cart. Quantity defaults
// to 1 when omitted.
type AddItemRequest struct {
	StandID   int64        `json:"stand_id"`
	StandName *string      `json:"stand_name"`
	Product   cart.Product `json:"product"`
	Quantity  *int         `json:"quantity"`
}

type SetQuantityRequest struct {
	Quantity int `json:"quantity"`
}

func (h *Handlers) GetCart(w http.ResponseWriter, r *http.Request) {
	s := h.session(r)
	respondJSON(w, http.StatusOK, s.Cart().Snapshot())
}

func (h *Handlers) AddToCart(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}
	if req.Product.ID <= 0 || req.StandID <= 0 {
		respondJSONError(w, "stand_id and product.id are required", http.StatusBadRequest)
		return
	}

	snap, err := h.cmdHandler.AddToCart(r.Context(), command.AddToCart{
		Actor:     actor(r),
		StandID:   req.StandID,
		StandName: req.StandName,
		Product:   req.Product,
		Quantity:  req.Quantity,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, snap)
}

func (h *Handlers) UpdateCartItem(w http.ResponseWriter, r *http.Request) {
	productID, ok := pathInt(w, r, "productID")
	if !ok {
		return
	}

	var req SetQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondJSONError(w, "Invalid request body", http.StatusBadRequest)
		return
	}

	snap, err := h.cmdHandler.SetQuantity(r.Context(), command.SetQuantity{
		Actor:     actor(r),
		ProductID: productID,
		Quantity:  req.Quantity,
	})
	if err != nil {
		h.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, snap)
}

func (h *Handlers) RemoveFromCart(w http.ResponseWriter, r *http.Request) {
	productID, ok := pathInt(w, r, "productID")
	if !ok {
		return
	}

	snap, err := h.cmdHandler.RemoveFromCart(r.Context(), command.RemoveFromCart{Actor: actor(r), ProductID: productID})
	if err != nil {
		h.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, snap)
}

func (h *Handlers) ClearCart(w http.ResponseWriter, r *http.Request) {
	snap, err := h.cmdHandler.ClearCart(r.Context(), command.ClearCart{Actor: actor(r)})
	if err != nil {
		h.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, snap)
}

// Checkout Handlers

// CheckoutResponse carries the open visit, or the navigation issued by a
// visit that has already redirected.
type CheckoutResponse struct {
	Checkout   *checkout.View       `json:"checkout,omitempty"`
	Navigation *checkout.Navigation `json:"navigation,omitempty"`
	Error      string               `json:"error,omitempty"`
}

func viewOf(visit *checkout.Visit) CheckoutResponse {
	view := visit.View()
	return CheckoutResponse{Checkout: &view}
}

// BeginCheckout opens a checkout visit. The wallet balance is fetched in
// the background; poll GetCheckout to see it arrive.
func (h *Handlers) BeginCheckout(w http.ResponseWriter, r *http.Request) {
	// The wallet fetch outlives this request but keeps its token.
	visit, err := h.cmdHandler.BeginCheckout(context.WithoutCancel(r.Context()), command.BeginCheckout{Actor: actor(r)})
	if err != nil {
		h.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, viewOf(visit))
}

func (h *Handlers) GetCheckout(w http.ResponseWriter, r *http.Request) {
	s := h.session(r)

	visit, err := s.Checkout()
	if errors.Is(err, session.ErrNoCheckout) {
		if nav, ok := s.TakeNavigation(); ok {
			respondJSON(w, http.StatusOK, CheckoutResponse{Navigation: &nav})
			return
		}
	}
	if err != nil {
		h.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, viewOf(visit))
}

func (h *Handlers) EndCheckout(w http.ResponseWriter, r *http.Request) {
	h.cmdHandler.EndCheckout(r.Context(), command.EndCheckout{Actor: actor(r)})
	w.WriteHeader(http.StatusNoContent)
}

// ConfirmCheckout submits the cart. A rejected order answers with the
// upstream status and the message shown to the user; the visit keeps the
// same message.
func (h *Handlers) ConfirmCheckout(w http.ResponseWriter, r *http.Request) {
	visit, err := h.cmdHandler.ConfirmCheckout(r.Context(), command.ConfirmCheckout{Actor: actor(r)})
	if err != nil {
		if _, known := statusFor(err); known || visit == nil {
			h.respondError(w, err)
			return
		}
		resp := viewOf(visit)
		resp.Error = checkout.FailureMessage(err)
		respondJSON(w, upstreamStatus(err), resp)
		return
	}

	respondJSON(w, http.StatusOK, viewOf(visit))
}

func (h *Handlers) RetryCheckout(w http.ResponseWriter, r *http.Request) {
	visit, err := h.cmdHandler.RetryCheckout(r.Context(), command.RetryCheckout{Actor: actor(r)})
	if err != nil {
		h.respondError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, viewOf(visit))
}

// History Handlers

func (h *Handlers) GetCheckoutHistory(w http.ResponseWriter, r *http.Request) {
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			respondJSONError(w, "limit must be a number", http.StatusBadRequest)
			return
		}
		limit = n
	}

	attempts, err := h.queryHandler.ListCheckoutHistory(r.Context(), middleware.GetUserID(r.Context()), limit)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, attempts)
}

func (h *Handlers) GetCheckoutAttempt(w http.ResponseWriter, r *http.Request) {
	attemptID := mux.Vars(r)["attemptID"]
	attempt, err := h.queryHandler.GetCheckoutAttempt(r.Context(), middleware.GetUserID(r.Context()), attemptID)
	if err != nil {
		h.respondError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, attempt)
}

// Helpers

// actor identifies the caller. Routes using it sit behind AuthMiddleware,
// so claims are always present.
func actor(r *http.Request) command.Actor {
	claims, _ := middleware.GetUserFromContext(r.Context())
	return command.Actor{UserID: string(claims.UserID), Role: claims.Role}
}

func (h *Handlers) session(r *http.Request) *session.Session {
	a := actor(r)
	return h.sessions.Get(a.UserID, a.Role)
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func respondJSONError(w http.ResponseWriter, message string, status int) {
	respondJSON(w, status, map[string]string{"error": message})
}

func pathInt(w http.ResponseWriter, r *http.Request, name string) (int64, bool) {
	id, err := strconv.ParseInt(mux.Vars(r)[name], 10, 64)
	if err != nil {
		respondJSONError(w, name+" must be a number", http.StatusBadRequest)
		return 0, false
	}
	return id, true
}
