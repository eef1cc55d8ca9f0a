package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"go.uber.org/zap"

	"github.com/serendib/storefront/internal/domain/order"
)

type orderItemRequest struct {
	ProductID string `json:"id"`
	Quantity  int    `json:"quantity"`
}

type placeOrderRequest struct {
	Items         []orderItemRequest `json:"items"`
	Customer      order.Customer     `json:"customer"`
	PaymentMethod string             `json:"paymentMethod"`
	PromoCode     string             `json:"promoCode,omitempty"`
	CreditCode    string             `json:"creditCode,omitempty"`
	BankSlipURL   string             `json:"bankSlipUrl,omitempty"`
}

type placeOrderResponse struct {
	OK      bool   `json:"ok"`
	OrderID string `json:"orderId"`
}

// placeOrder creates an order from the cart payload. Stock, pricing, and
// discount codes are resolved server-side; insufficient stock yields a
// 409 with per-item shortages.
func (h *Handler) placeOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := decodeJSONLenient(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	items := make([]order.ItemRequest, len(req.Items))
	for i, item := range req.Items {
		items[i] = order.ItemRequest{ProductID: item.ProductID, Quantity: item.Quantity}
	}

	o, err := h.orderService.PlaceOrder(r.Context(), order.PlaceOrderRequest{
		Items:         items,
		Customer:      req.Customer,
		PaymentMethod: order.PaymentMethod(req.PaymentMethod),
		PromoCode:     req.PromoCode,
		CreditCode:    req.CreditCode,
		BankSlipURL:   req.BankSlipURL,
	})
	if err != nil {
		h.writePlaceOrderError(w, r, err)
		return
	}

	// Confirmation delivery is best-effort and must not hold the response.
	go h.sendConfirmation(context.WithoutCancel(r.Context()), o)

	writeJSON(w, http.StatusCreated, placeOrderResponse{OK: true, OrderID: o.ID})
}

// writePlaceOrderError maps order placement failures onto HTTP statuses.
func (h *Handler) writePlaceOrderError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		stockErr   *order.InsufficientStockError
		paymentErr *order.InvalidPaymentMethodError
		promoErr   *order.InvalidPromoError
		creditErr  *order.InvalidCreditError
	)
	switch {
	case errors.As(err, &stockErr):
		writeJSON(w, http.StatusConflict, errorResponse{
			Error:     "insufficient stock",
			Shortages: stockErr.Shortages,
		})
	case errors.Is(err, order.ErrEmptyItems),
		errors.Is(err, order.ErrMultipleCodes),
		errors.As(err, &paymentErr),
		errors.As(err, &promoErr),
		errors.As(err, &creditErr):
		writeError(w, http.StatusBadRequest, err.Error())
	default:
		writeInternalError(w, r, errors.Wrap(err, "place order"))
	}
}

// sendConfirmation dispatches the order confirmation email, logging any
// delivery failure.
func (h *Handler) sendConfirmation(ctx context.Context, o *order.Order) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	if err := h.mailer.SendOrderConfirmation(ctx, o); err != nil {
		zctx.From(ctx).Warn("order confirmation not delivered",
			zap.String("order_id", o.ID),
			zap.Error(err),
		)
	}
}

type orderResponse struct {
	ID            string              `json:"id"`
	Status        order.Status        `json:"status"`
	Items         []orderItemResponse `json:"items"`
	Subtotal      float64             `json:"subtotal"`
	Shipping      float64             `json:"shipping"`
	Discount      float64             `json:"discount"`
	FreeShipping  bool                `json:"freeShipping"`
	Total         float64             `json:"total"`
	PromoCode     string              `json:"promoCode,omitempty"`
	CreditCode    string              `json:"creditCode,omitempty"`
	Customer      order.Customer      `json:"customer"`
	PaymentMethod order.PaymentMethod `json:"paymentMethod"`
	BankSlipURL   string              `json:"bankSlipUrl,omitempty"`
	CreatedAt     time.Time           `json:"createdAt"`
}

type orderItemResponse struct {
	ProductID string  `json:"id"`
	Name      string  `json:"name"`
	Slug      string  `json:"slug"`
	Price     float64 `json:"price"`
	Quantity  int     `json:"quantity"`
}

func toOrderResponse(o *order.Order) orderResponse {
	items := make([]orderItemResponse, len(o.Items))
	for i, item := range o.Items {
		items[i] = orderItemResponse{
			ProductID: item.ProductID,
			Name:      item.Name,
			Slug:      item.Slug,
			Price:     item.Price.InexactFloat64(),
			Quantity:  item.Quantity,
		}
	}
	return orderResponse{
		ID:            o.ID,
		Status:        o.Status,
		Items:         items,
		Subtotal:      o.Subtotal.InexactFloat64(),
		Shipping:      o.Shipping.InexactFloat64(),
		Discount:      o.PromoDiscount.InexactFloat64(),
		FreeShipping:  o.FreeShipping,
		Total:         o.Total.InexactFloat64(),
		PromoCode:     o.PromoCode,
		CreditCode:    o.CreditCode,
		Customer:      o.Customer,
		PaymentMethod: o.PaymentMethod,
		BankSlipURL:   o.BankSlipURL,
		CreatedAt:     o.CreatedAt,
	}
}

// listOrders returns all orders, newest first.
func (h *Handler) listOrders(w http.ResponseWriter, r *http.Request) {
	all, err := h.orders.List(r.Context())
	if err != nil {
		writeInternalError(w, r, errors.Wrap(err, "list orders"))
		return
	}

	out := make([]orderResponse, len(all))
	for i := range all {
		out[i] = toOrderResponse(&all[i])
	}
	writeJSON(w, http.StatusOK, out)
}

// getOrder returns a single order by ID.
func (h *Handler) getOrder(w http.ResponseWriter, r *http.Request) {
	o, err := h.orders.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeInternalError(w, r, errors.Wrap(err, "get order"))
		return
	}
	writeJSON(w, http.StatusOK, toOrderResponse(o))
}

type updateStatusRequest struct {
	Status string `json:"status"`
}

// updateOrderStatus replaces an order's status with any member of the
// known set. There is no transition graph to enforce.
func (h *Handler) updateOrderStatus(w http.ResponseWriter, r *http.Request) {
	var req updateStatusRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	status, err := order.ParseStatus(req.Status)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.orders.UpdateStatus(r.Context(), r.PathValue("id"), status); err != nil {
		if errors.Is(err, order.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeInternalError(w, r, errors.Wrap(err, "update order status"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

// deleteOrder removes an order. The credit consumed by the order, if
// any, stays consumed.
func (h *Handler) deleteOrder(w http.ResponseWriter, r *http.Request) {
	if err := h.orders.Delete(r.Context(), r.PathValue("id")); err != nil {
		if errors.Is(err, order.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		writeInternalError(w, r, errors.Wrap(err, "delete order"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
