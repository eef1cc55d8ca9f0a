// Package handler exposes the storefront HTTP API: public catalog,
// checkout, and discount validation endpoints plus the API-key guarded
// admin back office.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/serendib/storefront/internal/domain/credit"
	"github.com/serendib/storefront/internal/domain/order"
	"github.com/serendib/storefront/internal/domain/product"
	"github.com/serendib/storefront/internal/domain/promo"
	"github.com/serendib/storefront/internal/notify"
)

// Config holds non-dependency configuration for the Handler.
type Config struct {
	// ImageBaseURL is prepended to relative image paths in product
	// responses. When empty, image paths are returned as stored.
	ImageBaseURL string
}

// Handler serves the storefront API, delegating business logic to the
// injected domain services and repositories.
type Handler struct {
	cfg Config

	products     product.Repository
	promos       promo.Evaluator
	promoRepo    promo.Repository
	credits      credit.Validator
	creditRepo   credit.Repository
	orderService *order.Service
	orders       order.Repository
	mailer       notify.Sender
}

// New constructs a Handler with the required domain dependencies.
func New(
	cfg Config,
	products product.Repository,
	promos promo.Evaluator,
	promoRepo promo.Repository,
	credits credit.Validator,
	creditRepo credit.Repository,
	orderService *order.Service,
	orders order.Repository,
	mailer notify.Sender,
) *Handler {
	return &Handler{
		cfg:          cfg,
		products:     products,
		promos:       promos,
		promoRepo:    promoRepo,
		credits:      credits,
		creditRepo:   creditRepo,
		orderService: orderService,
		orders:       orders,
		mailer:       mailer,
	}
}

// Routes registers all API routes on the mux. Admin routes are wrapped
// with the API key guard.
func (h *Handler) Routes(mux *http.ServeMux, admin *APIKeyGuard) {
	mux.HandleFunc("GET /api/products", h.listProducts)
	mux.HandleFunc("GET /api/products/{id}", h.getProduct)
	mux.HandleFunc("POST /api/promotions/validate", h.validatePromotion)
	mux.HandleFunc("POST /api/credits/validate", h.validateStoreCredit)
	mux.HandleFunc("POST /api/orders", h.placeOrder)

	mux.Handle("GET /api/admin/promotions", admin.Wrap(h.listPromotions))
	mux.Handle("POST /api/admin/promotions", admin.Wrap(h.createPromotion))
	mux.Handle("PUT /api/admin/promotions/{code}", admin.Wrap(h.updatePromotion))
	mux.Handle("DELETE /api/admin/promotions/{code}", admin.Wrap(h.deletePromotion))

	mux.Handle("GET /api/admin/credits", admin.Wrap(h.listCredits))
	mux.Handle("POST /api/admin/credits", admin.Wrap(h.createCredit))
	mux.Handle("DELETE /api/admin/credits/{code}", admin.Wrap(h.deleteCredit))

	mux.Handle("GET /api/admin/orders", admin.Wrap(h.listOrders))
	mux.Handle("GET /api/admin/orders/{id}", admin.Wrap(h.getOrder))
	mux.Handle("PUT /api/admin/orders/{id}/status", admin.Wrap(h.updateOrderStatus))
	mux.Handle("DELETE /api/admin/orders/{id}", admin.Wrap(h.deleteOrder))
}

// errorResponse is the common JSON error envelope.
type errorResponse struct {
	Error     string           `json:"error"`
	Shortages []order.Shortage `json:"shortages,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// decodeJSON reads the request body into v, rejecting unknown fields.
func decodeJSON(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	return dec.Decode(v)
}

// decodeJSONLenient reads the request body into v, ignoring unknown
// fields. Used on the checkout endpoint, where older client builds still
// send fields the server no longer reads, such as shipping or per-item
// prices.
func decodeJSONLenient(r *http.Request, v any) error {
	return json.NewDecoder(r.Body).Decode(v)
}

// writeInternalError logs the error with request context and responds
// with a generic 500 body. Backend details never reach the client.
func writeInternalError(w http.ResponseWriter, r *http.Request, err error) {
	zctx.From(r.Context()).Error("request failed",
		zap.String("path", r.URL.Path),
		zap.Error(err),
	)
	writeError(w, http.StatusInternalServerError, "internal server error")
}
