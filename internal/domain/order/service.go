package order

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/serendib/storefront/internal/domain/credit"
	"github.com/serendib/storefront/internal/domain/product"
	"github.com/serendib/storefront/internal/domain/promo"
)

// Sentinel errors for order validation.
var (
	ErrEmptyItems    = fmt.Errorf("items required")
	ErrMultipleCodes = fmt.Errorf("only one discount code may be applied per order")
)

// InvalidPaymentMethodError indicates an unknown payment method value.
type InvalidPaymentMethodError struct {
	Value string
}

func (e *InvalidPaymentMethodError) Error() string {
	return fmt.Sprintf("invalid payment method %q", e.Value)
}

// InvalidPromoError indicates the supplied promotion code did not validate.
type InvalidPromoError struct {
	Code   string
	Reason string
}

func (e *InvalidPromoError) Error() string {
	return fmt.Sprintf("promo code %s rejected: %s", e.Code, e.Reason)
}

// InvalidCreditError indicates the supplied store credit did not validate.
type InvalidCreditError struct {
	Code   string
	Reason credit.Reason
}

func (e *InvalidCreditError) Error() string {
	return fmt.Sprintf("store credit %s rejected: %s", e.Code, e.Reason)
}

// ItemRequest is a single requested cart line.
type ItemRequest struct {
	ProductID string
	Quantity  int
}

// PlaceOrderRequest holds the input for placing an order. At most one of
// PromoCode and CreditCode may be set.
type PlaceOrderRequest struct {
	Items         []ItemRequest
	Customer      Customer
	PaymentMethod PaymentMethod
	PromoCode     string
	CreditCode    string
	BankSlipURL   string
}

// Totals is the money breakdown computed for an order.
type Totals struct {
	Subtotal decimal.Decimal
	Shipping decimal.Decimal
	Total    decimal.Decimal
}

// Service assembles finalized orders: it checks availability, evaluates
// the applied discount code, computes totals, and commits through the
// order Repository.
type Service struct {
	products    product.Repository
	promos      promo.Evaluator
	credits     credit.Validator
	orders      Repository
	shippingFee decimal.Decimal
	now         func() time.Time
}

// NewService creates an order Service. shippingFee is the flat base fee
// charged unless a free-shipping promotion applies.
func NewService(
	products product.Repository,
	promos promo.Evaluator,
	credits credit.Validator,
	orders Repository,
	shippingFee decimal.Decimal,
) *Service {
	return &Service{
		products:    products,
		promos:      promos,
		credits:     credits,
		orders:      orders,
		shippingFee: shippingFee,
		now:         time.Now,
	}
}

// requiredQuantity coerces zero and negative quantities to one rather
// than rejecting them.
func requiredQuantity(qty int) int {
	if qty < 1 {
		return 1
	}
	return qty
}

// CheckAvailability compares requested quantities against the catalog.
// Quantities are summed per product first, so a cart that spreads one
// product over several lines is checked against the combined demand.
// Unknown product ids count as zero available stock. The returned slice
// is empty when every product can be fulfilled.
func CheckAvailability(items []ItemRequest, byID map[string]product.Product) []Shortage {
	ids := make([]string, 0, len(items))
	required := make(map[string]int, len(items))
	for _, item := range items {
		if _, seen := required[item.ProductID]; !seen {
			ids = append(ids, item.ProductID)
		}
		required[item.ProductID] += requiredQuantity(item.Quantity)
	}

	var shortages []Shortage
	for _, id := range ids {
		available := 0
		name := ""
		if p, ok := byID[id]; ok {
			available = p.Stock
			name = p.Name
		}

		if required[id] > available {
			shortages = append(shortages, Shortage{
				ProductID: id,
				Name:      name,
				Requested: required[id],
				Available: available,
			})
		}
	}
	return shortages
}

// ComputeTotals combines the line items, the resolved discount, and the
// shipping fee into the order's money figures. The discount is clamped
// so the total never goes negative; shipping is added after clamping.
func ComputeTotals(items []LineItem, discount decimal.Decimal, freeShipping bool, shippingFee decimal.Decimal) Totals {
	subtotal := decimal.Zero
	for _, item := range items {
		line := item.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))
		subtotal = subtotal.Add(line)
	}

	shipping := shippingFee
	if freeShipping {
		shipping = decimal.Zero
	}

	discounted := subtotal.Sub(discount)
	if discounted.IsNegative() {
		discounted = decimal.Zero
	}

	return Totals{
		Subtotal: subtotal,
		Shipping: shipping,
		Total:    discounted.Add(shipping),
	}
}

// PlaceOrder validates the request, snapshots catalog prices, applies at
// most one discount code, and commits the order atomically. Line item
// prices come from the catalog, never from the client payload.
func (s *Service) PlaceOrder(ctx context.Context, req PlaceOrderRequest) (*Order, error) {
	if len(req.Items) == 0 {
		return nil, ErrEmptyItems
	}
	if !ValidPaymentMethod(req.PaymentMethod) {
		return nil, &InvalidPaymentMethodError{Value: string(req.PaymentMethod)}
	}
	if req.PromoCode != "" && req.CreditCode != "" {
		return nil, ErrMultipleCodes
	}

	// Coerce quantities and collect product ids.
	items := make([]ItemRequest, len(req.Items))
	ids := make([]string, len(req.Items))
	for i, item := range req.Items {
		items[i] = ItemRequest{
			ProductID: item.ProductID,
			Quantity:  requiredQuantity(item.Quantity),
		}
		ids[i] = item.ProductID
	}

	fetched, err := s.products.GetByIDs(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("get products: %w", err)
	}
	byID := make(map[string]product.Product, len(fetched))
	for _, p := range fetched {
		byID[p.ID] = p
	}

	if shortages := CheckAvailability(items, byID); len(shortages) > 0 {
		return nil, &InsufficientStockError{Shortages: shortages}
	}

	// Snapshot line items with catalog prices.
	lines := make([]LineItem, len(items))
	for i, item := range items {
		p := byID[item.ProductID]
		lines[i] = LineItem{
			ProductID: p.ID,
			Name:      p.Name,
			Slug:      p.Slug,
			Price:     p.Price,
			Quantity:  item.Quantity,
		}
	}

	subtotal := decimal.Zero
	for _, line := range lines {
		subtotal = subtotal.Add(line.Price.Mul(decimal.NewFromInt(int64(line.Quantity))))
	}

	discount := decimal.Zero
	freeShipping := false
	promoCode := ""
	creditCode := ""

	switch {
	case req.PromoCode != "":
		res, err := s.promos.Validate(ctx, req.PromoCode, subtotal)
		if err != nil {
			return nil, fmt.Errorf("validate promotion: %w", err)
		}
		if !res.Valid {
			return nil, &InvalidPromoError{Code: req.PromoCode, Reason: res.Reason}
		}
		discount = res.Discount
		freeShipping = res.FreeShipping
		promoCode = promo.NormalizeCode(req.PromoCode)

	case req.CreditCode != "":
		res, err := s.credits.Validate(ctx, req.CreditCode, subtotal)
		if err != nil {
			return nil, fmt.Errorf("validate store credit: %w", err)
		}
		if !res.Valid {
			return nil, &InvalidCreditError{Code: req.CreditCode, Reason: res.Reason}
		}
		discount = res.MaxUsable
		creditCode = credit.NormalizeCode(req.CreditCode)
	}

	totals := ComputeTotals(lines, discount, freeShipping, s.shippingFee)

	o := &Order{
		ID:            uuid.New().String(),
		Status:        StatusPending,
		Items:         lines,
		Subtotal:      totals.Subtotal,
		Shipping:      totals.Shipping,
		PromoDiscount: discount,
		FreeShipping:  freeShipping,
		Total:         totals.Total,
		PromoCode:     promoCode,
		CreditCode:    creditCode,
		Customer:      req.Customer,
		PaymentMethod: req.PaymentMethod,
		BankSlipURL:   req.BankSlipURL,
		CreatedAt:     s.now(),
	}

	if err := s.orders.Commit(ctx, o); err != nil {
		var stockErr *InsufficientStockError
		if errors.As(err, &stockErr) {
			return nil, stockErr
		}
		// Credit consumed by a concurrent order between validation and
		// commit: report it like a validation-time rejection.
		if errors.Is(err, credit.ErrAlreadyUsed) {
			return nil, &InvalidCreditError{Code: creditCode, Reason: credit.ReasonAlreadyUsed}
		}
		return nil, fmt.Errorf("commit order: %w", err)
	}

	return o, nil
}
