package api

import (
	"context"
	"net/http"

	"github.com/example/komodo-checkout/internal/komodo"
	"go.uber.org/zap"
)

// Catalogue reads the public stand catalogue
type Catalogue interface {
	GetPublicStand(ctx context.Context, standID int64) (*komodo.Stand, error)
	GetStandProducts(ctx context.Context, standID int64) ([]komodo.Product, error)
}

// StandHandlers proxies the public catalogue so the UI can render a stand
// and add its products to the cart.
type StandHandlers struct {
	catalogue Catalogue
	logger    *zap.Logger
}

func NewStandHandlers(catalogue Catalogue, logger *zap.Logger) *StandHandlers {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StandHandlers{catalogue: catalogue, logger: logger.Named("stands")}
}

func (h *StandHandlers) GetStand(w http.ResponseWriter, r *http.Request) {
	standID, ok := pathInt(w, r, "standID")
	if !ok {
		return
	}

	stand, err := h.catalogue.GetPublicStand(r.Context(), standID)
	if err != nil {
		respondUpstreamError(w, h.logger, err)
		return
	}
	respondJSON(w, http.StatusOK, stand)
}

func (h *StandHandlers) GetStandProducts(w http.ResponseWriter, r *http.Request) {
	standID, ok := pathInt(w, r, "standID")
	if !ok {
		return
	}

	products, err := h.catalogue.GetStandProducts(r.Context(), standID)
	if err != nil {
		respondUpstreamError(w, h.logger, err)
		return
	}
	if products == nil {
		products = []komodo.Product{}
	}
	respondJSON(w, http.StatusOK, products)
}
