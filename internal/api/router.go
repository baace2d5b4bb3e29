package api

import (
	"net/http"

	"github.com/example/komodo-checkout/internal/api/middleware"
	"github.com/example/komodo-checkout/internal/auth"
	"github.com/example/komodo-checkout/internal/metrics"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"
)

type RouterConfig struct {
	Handlers      *Handlers
	AuthHandlers  *AuthHandlers
	StandHandlers *StandHandlers
	JWTService    *auth.JWTService
	// Roles fills in roles missing from access tokens. Optional.
	Roles *middleware.RoleResolver
	// Metrics and Gatherer enable request metrics and GET /metrics.
	Metrics  *metrics.ServerMetrics
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

func NewRouter(cfg RouterConfig) http.Handler {
	router := mux.NewRouter()
	router.Use(middleware.Observe(cfg.Logger, cfg.Metrics))

	requireAuth := middleware.AuthMiddleware(cfg.JWTService, cfg.Roles)
	optionalAuth := middleware.OptionalAuthMiddleware(cfg.JWTService)

	router.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)
	if cfg.Gatherer != nil {
		router.Handle("/metrics", metrics.Handler(cfg.Gatherer)).Methods(http.MethodGet)
	}

	// Auth
	authRoutes := router.PathPrefix("/auth").Subrouter()
	authRoutes.HandleFunc("/login", cfg.AuthHandlers.Login).Methods(http.MethodPost)
	authRoutes.HandleFunc("/refresh", cfg.AuthHandlers.Refresh).Methods(http.MethodPost)
	authRoutes.Handle("/logout", optionalAuth(http.HandlerFunc(cfg.AuthHandlers.Logout))).Methods(http.MethodPost)
	authRoutes.Handle("/me", requireAuth(http.HandlerFunc(cfg.AuthHandlers.Me))).Methods(http.MethodGet)

	// Public catalogue
	stands := router.PathPrefix("/stands").Subrouter()
	stands.Use(optionalAuth)
	stands.HandleFunc("/{standID}", cfg.StandHandlers.GetStand).Methods(http.MethodGet)
	stands.HandleFunc("/{standID}/products", cfg.StandHandlers.GetStandProducts).Methods(http.MethodGet)

	// Cart
	cartRoutes := router.PathPrefix("/cart").Subrouter()
	cartRoutes.Use(requireAuth)
	cartRoutes.HandleFunc("", cfg.Handlers.GetCart).Methods(http.MethodGet)
	cartRoutes.HandleFunc("", cfg.Handlers.ClearCart).Methods(http.MethodDelete)
	cartRoutes.HandleFunc("/items", cfg.Handlers.AddToCart).Methods(http.MethodPost)
	cartRoutes.HandleFunc("/items/{productID}", cfg.Handlers.UpdateCartItem).Methods(http.MethodPut)
	cartRoutes.HandleFunc("/items/{productID}", cfg.Handlers.RemoveFromCart).Methods(http.MethodDelete)

	// Checkout
	checkoutRoutes := router.PathPrefix("/checkout").Subrouter()
	checkoutRoutes.Use(requireAuth)
	checkoutRoutes.HandleFunc("", cfg.Handlers.BeginCheckout).Methods(http.MethodPost)
	checkoutRoutes.HandleFunc("", cfg.Handlers.GetCheckout).Methods(http.MethodGet)
	checkoutRoutes.HandleFunc("", cfg.Handlers.EndCheckout).Methods(http.MethodDelete)
	checkoutRoutes.HandleFunc("/confirm", cfg.Handlers.ConfirmCheckout).Methods(http.MethodPost)
	checkoutRoutes.HandleFunc("/retry", cfg.Handlers.RetryCheckout).Methods(http.MethodPost)
	checkoutRoutes.HandleFunc("/history", cfg.Handlers.GetCheckoutHistory).Methods(http.MethodGet)
	checkoutRoutes.HandleFunc("/history/{attemptID}", cfg.Handlers.GetCheckoutAttempt).Methods(http.MethodGet)

	return router
}
