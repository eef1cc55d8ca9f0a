package handler

import (
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/serendib/storefront/internal/domain/credit"
)

type validatePromotionRequest struct {
	Code     string  `json:"code"`
	Subtotal float64 `json:"subtotal"`
}

type validatePromotionResponse struct {
	Valid        bool     `json:"valid"`
	Discount     *float64 `json:"discount,omitempty"`
	FreeShipping bool     `json:"freeShipping,omitempty"`
	Message      string   `json:"message,omitempty"`
}

// validatePromotion checks a promotion code against a cart subtotal. It
// is a pure read: calling it any number of times never consumes the code.
func (h *Handler) validatePromotion(w http.ResponseWriter, r *http.Request) {
	var req validatePromotionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	res, err := h.promos.Validate(r.Context(), req.Code, decimal.NewFromFloat(req.Subtotal))
	if err != nil {
		writeInternalError(w, r, errors.Wrap(err, "validate promotion"))
		return
	}

	out := validatePromotionResponse{Valid: res.Valid}
	if res.Valid {
		d := res.Discount.InexactFloat64()
		out.Discount = &d
		out.FreeShipping = res.FreeShipping
	} else {
		out.Message = res.Reason
	}
	writeJSON(w, http.StatusOK, out)
}

type validateCreditRequest struct {
	Code       string  `json:"code"`
	OrderTotal float64 `json:"orderTotal"`
}

type validateCreditResponse struct {
	Valid     bool            `json:"valid"`
	Reason    credit.Reason   `json:"reason,omitempty"`
	MaxUsable *float64        `json:"maxUsable,omitempty"`
	Credit    *creditResponse `json:"credit,omitempty"`
}

// validateStoreCredit checks a store credit code against an order total.
// Like promotion validation this is read-only: the credit is consumed
// only when an order that carries it commits.
func (h *Handler) validateStoreCredit(w http.ResponseWriter, r *http.Request) {
	var req validateCreditRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}

	res, err := h.credits.Validate(r.Context(), req.Code, decimal.NewFromFloat(req.OrderTotal))
	if err != nil {
		writeInternalError(w, r, errors.Wrap(err, "validate store credit"))
		return
	}

	out := validateCreditResponse{Valid: res.Valid, Reason: res.Reason}
	if res.Valid {
		usable := res.MaxUsable.InexactFloat64()
		out.MaxUsable = &usable
	}
	// The validator surfaces the credit record whenever it found one, so
	// rejections like EXPIRED or MIN_TOTAL still show the client which
	// credit was checked.
	if res.Credit != nil {
		cr := toCreditResponse(res.Credit)
		out.Credit = &cr
	}
	writeJSON(w, http.StatusOK, out)
}
