package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serendib/storefront/internal/domain/auth"
	"github.com/serendib/storefront/internal/domain/credit"
	"github.com/serendib/storefront/internal/domain/order"
	"github.com/serendib/storefront/internal/domain/product"
	"github.com/serendib/storefront/internal/domain/promo"
)

type stubProducts struct {
	products []product.Product
	err      error
}

func (s *stubProducts) List(_ context.Context, f product.Filter) ([]product.Product, error) {
	if s.err != nil {
		return nil, s.err
	}
	if !f.FeaturedOnly {
		return s.products, nil
	}
	var out []product.Product
	for _, p := range s.products {
		if p.Featured {
			out = append(out, p)
		}
	}
	return out, nil
}

func (s *stubProducts) GetByID(_ context.Context, id string) (*product.Product, error) {
	for i := range s.products {
		if s.products[i].ID == id {
			return &s.products[i], nil
		}
	}
	return nil, product.ErrNotFound
}

func (s *stubProducts) GetByIDs(_ context.Context, ids []string) ([]product.Product, error) {
	var out []product.Product
	for _, id := range ids {
		for _, p := range s.products {
			if p.ID == id {
				out = append(out, p)
			}
		}
	}
	return out, nil
}

type stubEvaluator struct {
	result promo.Result
	err    error
}

func (s *stubEvaluator) Validate(context.Context, string, decimal.Decimal) (promo.Result, error) {
	return s.result, s.err
}

type stubCreditValidator struct {
	result credit.Result
	err    error
}

func (s *stubCreditValidator) Validate(context.Context, string, decimal.Decimal) (credit.Result, error) {
	return s.result, s.err
}

type stubPromoRepo struct {
	promotions []promo.Promotion
	created    *promo.Promotion
	deleteErr  error
}

func (s *stubPromoRepo) FindByCode(_ context.Context, code string) (*promo.Promotion, error) {
	for i := range s.promotions {
		if s.promotions[i].Code == code {
			return &s.promotions[i], nil
		}
	}
	return nil, promo.ErrNotFound
}

func (s *stubPromoRepo) List(context.Context) ([]promo.Promotion, error) {
	return s.promotions, nil
}

func (s *stubPromoRepo) Create(_ context.Context, p *promo.Promotion) error {
	s.created = p
	return nil
}

func (s *stubPromoRepo) Update(_ context.Context, p *promo.Promotion) error {
	for i := range s.promotions {
		if s.promotions[i].Code == p.Code {
			s.promotions[i] = *p
			return nil
		}
	}
	return promo.ErrNotFound
}

func (s *stubPromoRepo) Delete(context.Context, string) error {
	return s.deleteErr
}

type stubCreditRepo struct {
	credits   []credit.StoreCredit
	created   *credit.StoreCredit
	deleteErr error
}

func (s *stubCreditRepo) FindByCode(_ context.Context, code string) (*credit.StoreCredit, error) {
	for i := range s.credits {
		if s.credits[i].Code == code {
			return &s.credits[i], nil
		}
	}
	return nil, credit.ErrNotFound
}

func (s *stubCreditRepo) List(context.Context) ([]credit.StoreCredit, error) {
	return s.credits, nil
}

func (s *stubCreditRepo) Create(_ context.Context, c *credit.StoreCredit) error {
	s.created = c
	return nil
}

func (s *stubCreditRepo) Delete(context.Context, string) error {
	return s.deleteErr
}

func (s *stubCreditRepo) MarkUsed(context.Context, string, string, time.Time) error {
	return nil
}

type stubOrders struct {
	committed *order.Order
	commitErr error
	orders    []order.Order
	statusErr error
}

func (s *stubOrders) Commit(_ context.Context, o *order.Order) error {
	if s.commitErr != nil {
		return s.commitErr
	}
	s.committed = o
	return nil
}

func (s *stubOrders) Get(_ context.Context, id string) (*order.Order, error) {
	for i := range s.orders {
		if s.orders[i].ID == id {
			return &s.orders[i], nil
		}
	}
	return nil, order.ErrNotFound
}

func (s *stubOrders) List(context.Context) ([]order.Order, error) {
	return s.orders, nil
}

func (s *stubOrders) UpdateStatus(context.Context, string, order.Status) error {
	return s.statusErr
}

func (s *stubOrders) Delete(context.Context, string) error {
	return nil
}

type recordingSender struct {
	sent chan *order.Order
}

func (s *recordingSender) SendOrderConfirmation(_ context.Context, o *order.Order) error {
	if s.sent != nil {
		s.sent <- o
	}
	return nil
}

func (s *recordingSender) Close() error { return nil }

type stubAPIKeys struct {
	keys map[string]*auth.APIKeyInfo
}

func (s *stubAPIKeys) FindByHash(_ context.Context, hash string) (*auth.APIKeyInfo, error) {
	if info, ok := s.keys[hash]; ok {
		return info, nil
	}
	return nil, auth.ErrKeyNotFound
}

type fixture struct {
	handler *Handler
	mux     *http.ServeMux

	products *stubProducts
	promos   *stubEvaluator
	credits  *stubCreditValidator
	promoDB  *stubPromoRepo
	creditDB *stubCreditRepo
	orders   *stubOrders
	mailer   *recordingSender
	apiKey   string
}

const testPepper = "test-pepper"

func newFixture(t *testing.T) *fixture {
	t.Helper()

	f := &fixture{
		products: &stubProducts{},
		promos:   &stubEvaluator{},
		credits:  &stubCreditValidator{},
		promoDB:  &stubPromoRepo{},
		creditDB: &stubCreditRepo{},
		orders:   &stubOrders{},
		mailer:   &recordingSender{},
		apiKey:   "admin-key",
	}

	svc := order.NewService(f.products, f.promos, f.credits, f.orders, decimal.NewFromInt(350))
	f.handler = New(
		Config{ImageBaseURL: "https://cdn.example.com"},
		f.products, f.promos, f.promoDB, f.credits, f.creditDB, svc, f.orders, f.mailer,
	)

	mac := hmac.New(sha256.New, []byte(testPepper))
	mac.Write([]byte(f.apiKey))
	hash := hex.EncodeToString(mac.Sum(nil))

	guard := NewAPIKeyGuard(&stubAPIKeys{keys: map[string]*auth.APIKeyInfo{
		hash: {ID: "key-1", KeyHash: hash, Name: "test"},
	}}, []byte(testPepper))

	f.mux = http.NewServeMux()
	f.handler.Routes(f.mux, guard)
	return f
}

func (f *fixture) do(t *testing.T, method, path string, body any, admin bool) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	if admin {
		req.Header.Set("X-API-Key", f.apiKey)
	}
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&v))
	return v
}

func sampleProducts() []product.Product {
	return []product.Product{
		{
			ID: "p1", Name: "Ceylon Tea", Slug: "ceylon-tea",
			Price: decimal.NewFromInt(1200), Category: "beverages",
			Stock: 10, Featured: true,
			Image: product.Image{Thumbnail: "/images/tea-thumb.jpg"},
		},
		{
			ID: "p2", Name: "Cinnamon Sticks", Slug: "cinnamon-sticks",
			Price: decimal.NewFromInt(800), Category: "spices",
			Stock: 2,
		},
	}
}

func TestListProducts(t *testing.T) {
	f := newFixture(t)
	f.products.products = sampleProducts()

	rec := f.do(t, http.MethodGet, "/api/products", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)

	got := decodeBody[[]productResponse](t, rec)
	require.Len(t, got, 2)
	assert.Equal(t, "p1", got[0].ID)
	assert.Equal(t, 1200.0, got[0].Price)
	assert.Equal(t, "https://cdn.example.com/images/tea-thumb.jpg", got[0].Image.Thumbnail)
}

func TestListProductsFeatured(t *testing.T) {
	f := newFixture(t)
	f.products.products = sampleProducts()

	rec := f.do(t, http.MethodGet, "/api/products?featured=true", nil, false)
	require.Equal(t, http.StatusOK, rec.Code)

	got := decodeBody[[]productResponse](t, rec)
	require.Len(t, got, 1)
	assert.Equal(t, "p1", got[0].ID)
	assert.True(t, got[0].Featured)
}

func TestGetProductNotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/products/missing", nil, false)
	require.Equal(t, http.StatusNotFound, rec.Code)

	got := decodeBody[errorResponse](t, rec)
	assert.Equal(t, "product not found", got.Error)
}

func TestValidatePromotion(t *testing.T) {
	f := newFixture(t)
	f.promos.result = promo.Result{Valid: true, Discount: decimal.NewFromInt(150)}

	rec := f.do(t, http.MethodPost, "/api/promotions/validate",
		map[string]any{"code": "save10", "subtotal": 1500}, false)
	require.Equal(t, http.StatusOK, rec.Code)

	got := decodeBody[validatePromotionResponse](t, rec)
	assert.True(t, got.Valid)
	require.NotNil(t, got.Discount)
	assert.Equal(t, 150.0, *got.Discount)
}

func TestValidatePromotionRejected(t *testing.T) {
	f := newFixture(t)
	f.promos.result = promo.Result{Valid: false, Reason: "not active"}

	rec := f.do(t, http.MethodPost, "/api/promotions/validate",
		map[string]any{"code": "OLD", "subtotal": 1500}, false)
	require.Equal(t, http.StatusOK, rec.Code)

	got := decodeBody[validatePromotionResponse](t, rec)
	assert.False(t, got.Valid)
	assert.Nil(t, got.Discount)
	assert.Equal(t, "not active", got.Message)
}

func TestValidatePromotionEmptyCode(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/promotions/validate",
		map[string]any{"code": "  ", "subtotal": 100}, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestValidateStoreCredit(t *testing.T) {
	f := newFixture(t)
	f.credits.result = credit.Result{
		Valid:     true,
		MaxUsable: decimal.NewFromInt(1000),
		Credit:    &credit.StoreCredit{Code: "GIFT-1000", Amount: decimal.NewFromInt(1000), Enabled: true},
	}

	rec := f.do(t, http.MethodPost, "/api/credits/validate",
		map[string]any{"code": "gift-1000", "orderTotal": 4500}, false)
	require.Equal(t, http.StatusOK, rec.Code)

	got := decodeBody[validateCreditResponse](t, rec)
	assert.True(t, got.Valid)
	require.NotNil(t, got.MaxUsable)
	assert.Equal(t, 1000.0, *got.MaxUsable)
	require.NotNil(t, got.Credit)
	assert.Equal(t, "GIFT-1000", got.Credit.Code)
}

func TestValidateStoreCreditRejected(t *testing.T) {
	f := newFixture(t)
	minTotal := decimal.NewFromInt(5000)
	f.credits.result = credit.Result{
		Reason: credit.ReasonMinTotal,
		Credit: &credit.StoreCredit{
			Code: "GIFT", Amount: decimal.NewFromInt(1000),
			Enabled: true, MinOrderTotal: &minTotal,
		},
	}

	rec := f.do(t, http.MethodPost, "/api/credits/validate",
		map[string]any{"code": "GIFT", "orderTotal": 500}, false)
	require.Equal(t, http.StatusOK, rec.Code)

	got := decodeBody[validateCreditResponse](t, rec)
	assert.False(t, got.Valid)
	assert.Equal(t, credit.ReasonMinTotal, got.Reason)
	assert.Nil(t, got.MaxUsable)
	// The checked credit is still reported on rejections.
	require.NotNil(t, got.Credit)
	assert.Equal(t, "GIFT", got.Credit.Code)
	assert.Equal(t, 1000.0, got.Credit.Amount)
}

func TestPlaceOrder(t *testing.T) {
	f := newFixture(t)
	f.products.products = sampleProducts()
	f.mailer.sent = make(chan *order.Order, 1)

	rec := f.do(t, http.MethodPost, "/api/orders", map[string]any{
		"items": []map[string]any{
			{"id": "p1", "quantity": 2},
		},
		"customer": map[string]any{
			"name": "Nimal Perera", "email": "nimal@example.com",
			"phone": "0771234567", "address": "12 Galle Rd", "city": "Colombo",
		},
		"paymentMethod": "COD",
	}, false)
	require.Equal(t, http.StatusCreated, rec.Code)

	got := decodeBody[placeOrderResponse](t, rec)
	assert.True(t, got.OK)
	assert.NotEmpty(t, got.OrderID)

	require.NotNil(t, f.orders.committed)
	assert.True(t, f.orders.committed.Total.Equal(decimal.NewFromInt(2750)))

	select {
	case o := <-f.mailer.sent:
		assert.Equal(t, got.OrderID, o.ID)
	case <-time.After(time.Second):
		t.Fatal("confirmation was not dispatched")
	}
}

func TestPlaceOrderIgnoresLegacyFields(t *testing.T) {
	// Older client builds send shipping and per-item prices; the server
	// computes both itself and must not reject the payload.
	f := newFixture(t)
	f.products.products = sampleProducts()

	rec := f.do(t, http.MethodPost, "/api/orders", map[string]any{
		"items": []map[string]any{
			{"id": "p1", "quantity": 2, "price": 99},
		},
		"customer": map[string]any{
			"name": "Nimal Perera", "email": "nimal@example.com",
			"phone": "0771234567", "address": "12 Galle Rd", "city": "Colombo",
		},
		"paymentMethod": "COD",
		"shipping":      350,
	}, false)
	require.Equal(t, http.StatusCreated, rec.Code)

	require.NotNil(t, f.orders.committed)
	// Catalog price, not the client-supplied one.
	assert.True(t, f.orders.committed.Subtotal.Equal(decimal.NewFromInt(2400)))
}

func TestPlaceOrderDuplicateLinesExceedStock(t *testing.T) {
	f := newFixture(t)
	f.products.products = sampleProducts()

	rec := f.do(t, http.MethodPost, "/api/orders", map[string]any{
		"items": []map[string]any{
			{"id": "p2", "quantity": 1},
			{"id": "p2", "quantity": 2},
		},
		"customer":      map[string]any{"name": "Nimal"},
		"paymentMethod": "COD",
	}, false)
	require.Equal(t, http.StatusConflict, rec.Code)

	got := decodeBody[errorResponse](t, rec)
	require.Len(t, got.Shortages, 1)
	assert.Equal(t, "p2", got.Shortages[0].ProductID)
	assert.Equal(t, 3, got.Shortages[0].Requested)
	assert.Equal(t, 2, got.Shortages[0].Available)
}

func TestPlaceOrderCreditConsumedDuringCommit(t *testing.T) {
	f := newFixture(t)
	f.products.products = sampleProducts()
	f.credits.result = credit.Result{Valid: true, MaxUsable: decimal.NewFromInt(500)}
	f.orders.commitErr = credit.ErrAlreadyUsed

	rec := f.do(t, http.MethodPost, "/api/orders", map[string]any{
		"items":         []map[string]any{{"id": "p1", "quantity": 1}},
		"customer":      map[string]any{"name": "Nimal"},
		"paymentMethod": "COD",
		"creditCode":    "GIFT-500",
	}, false)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	got := decodeBody[errorResponse](t, rec)
	assert.Contains(t, got.Error, "ALREADY_USED")
}

func TestPlaceOrderInsufficientStock(t *testing.T) {
	f := newFixture(t)
	f.products.products = sampleProducts()

	rec := f.do(t, http.MethodPost, "/api/orders", map[string]any{
		"items":         []map[string]any{{"id": "p2", "quantity": 5}},
		"customer":      map[string]any{"name": "Nimal"},
		"paymentMethod": "COD",
	}, false)
	require.Equal(t, http.StatusConflict, rec.Code)

	got := decodeBody[errorResponse](t, rec)
	require.Len(t, got.Shortages, 1)
	assert.Equal(t, "p2", got.Shortages[0].ProductID)
	assert.Equal(t, 5, got.Shortages[0].Requested)
	assert.Equal(t, 2, got.Shortages[0].Available)
}

func TestPlaceOrderInvalidPayment(t *testing.T) {
	f := newFixture(t)
	f.products.products = sampleProducts()

	rec := f.do(t, http.MethodPost, "/api/orders", map[string]any{
		"items":         []map[string]any{{"id": "p1", "quantity": 1}},
		"customer":      map[string]any{"name": "Nimal"},
		"paymentMethod": "CHEQUE",
	}, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPlaceOrderBothCodes(t *testing.T) {
	f := newFixture(t)
	f.products.products = sampleProducts()

	rec := f.do(t, http.MethodPost, "/api/orders", map[string]any{
		"items":         []map[string]any{{"id": "p1", "quantity": 1}},
		"customer":      map[string]any{"name": "Nimal"},
		"paymentMethod": "COD",
		"promoCode":     "SAVE10",
		"creditCode":    "GIFT",
	}, false)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAdminRequiresKey(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodGet, "/api/admin/promotions", nil, false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/api/admin/promotions", nil)
	req.Header.Set("X-API-Key", "wrong-key")
	rr := httptest.NewRecorder()
	f.mux.ServeHTTP(rr, req)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestCreatePromotion(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/admin/promotions", map[string]any{
		"code": "save10", "type": "percent", "value": 10, "enabled": true,
	}, true)
	require.Equal(t, http.StatusCreated, rec.Code)

	require.NotNil(t, f.promoDB.created)
	assert.Equal(t, "SAVE10", f.promoDB.created.Code)
	assert.Equal(t, promo.TypePercent, f.promoDB.created.Type)
}

func TestCreatePromotionUnknownType(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/admin/promotions", map[string]any{
		"code": "BOGO", "type": "buyOneGetOne", "value": 1, "enabled": true,
	}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Nil(t, f.promoDB.created)
}

func TestUpdatePromotionNotFound(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, "/api/admin/promotions/MISSING", map[string]any{
		"type": "fixed", "value": 500, "enabled": true,
	}, true)
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestCreateCredit(t *testing.T) {
	f := newFixture(t)

	minTotal := 2000.0
	rec := f.do(t, http.MethodPost, "/api/admin/credits", map[string]any{
		"code": "gift-500", "amount": 500, "enabled": true, "minOrderTotal": minTotal,
	}, true)
	require.Equal(t, http.StatusCreated, rec.Code)

	require.NotNil(t, f.creditDB.created)
	assert.Equal(t, "GIFT-500", f.creditDB.created.Code)
	require.NotNil(t, f.creditDB.created.MinOrderTotal)
	assert.True(t, f.creditDB.created.MinOrderTotal.Equal(decimal.NewFromInt(2000)))
}

func TestCreateCreditNonPositiveAmount(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPost, "/api/admin/credits", map[string]any{
		"code": "GIFT", "amount": 0, "enabled": true,
	}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestDeleteCreditAlreadyUsed(t *testing.T) {
	f := newFixture(t)
	f.creditDB.deleteErr = credit.ErrAlreadyUsed

	rec := f.do(t, http.MethodDelete, "/api/admin/credits/GIFT", nil, true)
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestUpdateOrderStatus(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, "/api/admin/orders/o1/status",
		map[string]any{"status": "shipped"}, true)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestUpdateOrderStatusInvalid(t *testing.T) {
	f := newFixture(t)

	rec := f.do(t, http.MethodPut, "/api/admin/orders/o1/status",
		map[string]any{"status": "refunded"}, true)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetOrder(t *testing.T) {
	f := newFixture(t)
	f.orders.orders = []order.Order{{
		ID:     "o1",
		Status: order.StatusPending,
		Items: []order.LineItem{
			{ProductID: "p1", Name: "Ceylon Tea", Price: decimal.NewFromInt(1200), Quantity: 2},
		},
		Subtotal: decimal.NewFromInt(2400),
		Shipping: decimal.NewFromInt(350),
		Total:    decimal.NewFromInt(2750),
	}}

	rec := f.do(t, http.MethodGet, "/api/admin/orders/o1", nil, true)
	require.Equal(t, http.StatusOK, rec.Code)

	got := decodeBody[orderResponse](t, rec)
	assert.Equal(t, "o1", got.ID)
	assert.Equal(t, 2750.0, got.Total)
	require.Len(t, got.Items, 1)
	assert.Equal(t, 1200.0, got.Items[0].Price)
}
