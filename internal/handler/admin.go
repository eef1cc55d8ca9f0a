package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/serendib/storefront/internal/domain/credit"
	"github.com/serendib/storefront/internal/domain/promo"
)

type promotionRequest struct {
	Code     string     `json:"code"`
	Type     string     `json:"type"`
	Value    float64    `json:"value"`
	Enabled  bool       `json:"enabled"`
	StartsAt *time.Time `json:"startsAt,omitempty"`
	EndsAt   *time.Time `json:"endsAt,omitempty"`
}

type promotionResponse struct {
	Code      string     `json:"code"`
	Type      promo.Type `json:"type"`
	Value     float64    `json:"value"`
	Enabled   bool       `json:"enabled"`
	StartsAt  *time.Time `json:"startsAt,omitempty"`
	EndsAt    *time.Time `json:"endsAt,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
}

func toPromotionResponse(p *promo.Promotion) promotionResponse {
	return promotionResponse{
		Code:      p.Code,
		Type:      p.Type,
		Value:     p.Value.InexactFloat64(),
		Enabled:   p.Enabled,
		StartsAt:  p.StartsAt,
		EndsAt:    p.EndsAt,
		CreatedAt: p.CreatedAt,
	}
}

// validatePromotionInput checks the shared create/update constraints.
func validatePromotionInput(req *promotionRequest) (string, bool) {
	if !promo.ValidType(promo.Type(req.Type)) {
		return "unknown promotion type", false
	}
	if req.Value < 0 {
		return "value must not be negative", false
	}
	if req.StartsAt != nil && req.EndsAt != nil && req.EndsAt.Before(*req.StartsAt) {
		return "endsAt must not precede startsAt", false
	}
	return "", true
}

// listPromotions returns all promotions including disabled and expired ones.
func (h *Handler) listPromotions(w http.ResponseWriter, r *http.Request) {
	promos, err := h.promoRepo.List(r.Context())
	if err != nil {
		writeInternalError(w, r, errors.Wrap(err, "list promotions"))
		return
	}

	out := make([]promotionResponse, len(promos))
	for i := range promos {
		out[i] = toPromotionResponse(&promos[i])
	}
	writeJSON(w, http.StatusOK, out)
}

// createPromotion stores a new promotion. The code is uppercased before
// persisting so lookups stay case-insensitive.
func (h *Handler) createPromotion(w http.ResponseWriter, r *http.Request) {
	var req promotionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}
	if msg, ok := validatePromotionInput(&req); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	p := &promo.Promotion{
		Code:     promo.NormalizeCode(req.Code),
		Type:     promo.Type(req.Type),
		Value:    decimal.NewFromFloat(req.Value),
		Enabled:  req.Enabled,
		StartsAt: req.StartsAt,
		EndsAt:   req.EndsAt,
	}
	if err := h.promoRepo.Create(r.Context(), p); err != nil {
		writeInternalError(w, r, errors.Wrap(err, "create promotion"))
		return
	}
	writeJSON(w, http.StatusCreated, toPromotionResponse(p))
}

// updatePromotion replaces the rule stored under the path code.
func (h *Handler) updatePromotion(w http.ResponseWriter, r *http.Request) {
	var req promotionRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if msg, ok := validatePromotionInput(&req); !ok {
		writeError(w, http.StatusBadRequest, msg)
		return
	}

	p := &promo.Promotion{
		Code:     promo.NormalizeCode(r.PathValue("code")),
		Type:     promo.Type(req.Type),
		Value:    decimal.NewFromFloat(req.Value),
		Enabled:  req.Enabled,
		StartsAt: req.StartsAt,
		EndsAt:   req.EndsAt,
	}
	if err := h.promoRepo.Update(r.Context(), p); err != nil {
		if errors.Is(err, promo.ErrNotFound) {
			writeError(w, http.StatusNotFound, "promotion not found")
			return
		}
		writeInternalError(w, r, errors.Wrap(err, "update promotion"))
		return
	}
	writeJSON(w, http.StatusOK, toPromotionResponse(p))
}

// deletePromotion removes a promotion. Orders that already used the code
// keep their recorded discount.
func (h *Handler) deletePromotion(w http.ResponseWriter, r *http.Request) {
	code := promo.NormalizeCode(r.PathValue("code"))
	if err := h.promoRepo.Delete(r.Context(), code); err != nil {
		if errors.Is(err, promo.ErrNotFound) {
			writeError(w, http.StatusNotFound, "promotion not found")
			return
		}
		writeInternalError(w, r, errors.Wrap(err, "delete promotion"))
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type creditRequest struct {
	Code          string     `json:"code"`
	Amount        float64    `json:"amount"`
	Enabled       bool       `json:"enabled"`
	MinOrderTotal *float64   `json:"minOrderTotal,omitempty"`
	StartsAt      *time.Time `json:"startsAt,omitempty"`
	EndsAt        *time.Time `json:"endsAt,omitempty"`
}

type creditResponse struct {
	Code          string     `json:"code"`
	Amount        float64    `json:"amount"`
	Enabled       bool       `json:"enabled"`
	MinOrderTotal *float64   `json:"minOrderTotal,omitempty"`
	StartsAt      *time.Time `json:"startsAt,omitempty"`
	EndsAt        *time.Time `json:"endsAt,omitempty"`
	UsedAt        *time.Time `json:"usedAt,omitempty"`
	UsedOrderID   string     `json:"usedOrderId,omitempty"`
	CreatedAt     time.Time  `json:"createdAt"`
}

func toCreditResponse(c *credit.StoreCredit) creditResponse {
	out := creditResponse{
		Code:        c.Code,
		Amount:      c.Amount.InexactFloat64(),
		Enabled:     c.Enabled,
		StartsAt:    c.StartsAt,
		EndsAt:      c.EndsAt,
		UsedAt:      c.UsedAt,
		UsedOrderID: c.UsedOrderID,
		CreatedAt:   c.CreatedAt,
	}
	if c.MinOrderTotal != nil {
		min := c.MinOrderTotal.InexactFloat64()
		out.MinOrderTotal = &min
	}
	return out
}

// listCredits returns all store credits, consumed ones included.
func (h *Handler) listCredits(w http.ResponseWriter, r *http.Request) {
	credits, err := h.creditRepo.List(r.Context())
	if err != nil {
		writeInternalError(w, r, errors.Wrap(err, "list store credits"))
		return
	}

	out := make([]creditResponse, len(credits))
	for i := range credits {
		out[i] = toCreditResponse(&credits[i])
	}
	writeJSON(w, http.StatusOK, out)
}

// createCredit issues a new store credit.
func (h *Handler) createCredit(w http.ResponseWriter, r *http.Request) {
	var req creditRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if strings.TrimSpace(req.Code) == "" {
		writeError(w, http.StatusBadRequest, "code is required")
		return
	}
	if req.Amount <= 0 {
		writeError(w, http.StatusBadRequest, "amount must be positive")
		return
	}

	c := &credit.StoreCredit{
		Code:     credit.NormalizeCode(req.Code),
		Amount:   decimal.NewFromFloat(req.Amount),
		Enabled:  req.Enabled,
		StartsAt: req.StartsAt,
		EndsAt:   req.EndsAt,
	}
	if req.MinOrderTotal != nil {
		min := decimal.NewFromFloat(*req.MinOrderTotal)
		c.MinOrderTotal = &min
	}
	if err := h.creditRepo.Create(r.Context(), c); err != nil {
		writeInternalError(w, r, errors.Wrap(err, "create store credit"))
		return
	}
	writeJSON(w, http.StatusCreated, toCreditResponse(c))
}

// deleteCredit removes an unused store credit. Consumed credits are part
// of the order history and refuse deletion.
func (h *Handler) deleteCredit(w http.ResponseWriter, r *http.Request) {
	code := credit.NormalizeCode(r.PathValue("code"))
	if err := h.creditRepo.Delete(r.Context(), code); err != nil {
		switch {
		case errors.Is(err, credit.ErrNotFound):
			writeError(w, http.StatusNotFound, "store credit not found")
		case errors.Is(err, credit.ErrAlreadyUsed):
			writeError(w, http.StatusConflict, "store credit already used")
		default:
			writeInternalError(w, r, errors.Wrap(err, "delete store credit"))
		}
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
