package notify

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/serendib/storefront/internal/domain/order"
)

func sampleOrder() *order.Order {
	return &order.Order{
		ID:     "9f6c2b1e",
		Status: order.StatusPending,
		Items: []order.LineItem{
			{ProductID: "p1", Name: "Ceylon BOPF Black Tea 250g", Price: decimal.NewFromInt(1450), Quantity: 2},
			{ProductID: "p2", Name: "Kithul Treacle 375ml", Price: decimal.NewFromInt(1675), Quantity: 1},
		},
		Subtotal:      decimal.NewFromInt(4575),
		Shipping:      decimal.NewFromInt(350),
		PromoDiscount: decimal.NewFromInt(457),
		Total:         decimal.NewFromInt(4468),
		Customer:      order.Customer{Name: "Nimal Perera", Email: "nimal@example.com"},
		PaymentMethod: order.PaymentCOD,
	}
}

func TestConfirmationMessage(t *testing.T) {
	msg := string(confirmationMessage("orders@shop.lk", sampleOrder()))

	assert.Contains(t, msg, "From: orders@shop.lk\r\n")
	assert.Contains(t, msg, "To: nimal@example.com\r\n")
	assert.Contains(t, msg, "Subject: Order 9f6c2b1e confirmed\r\n")
	assert.Contains(t, msg, "2 x Ceylon BOPF Black Tea 250g @ LKR 1450.00")
	assert.Contains(t, msg, "Subtotal: LKR 4575.00")
	assert.Contains(t, msg, "Discount: LKR -457.00")
	assert.Contains(t, msg, "Shipping: LKR 350.00")
	assert.Contains(t, msg, "Total:    LKR 4468.00")
	assert.Contains(t, msg, "Payment method: COD")
}

func TestConfirmationMessageNoDiscountLine(t *testing.T) {
	o := sampleOrder()
	o.PromoDiscount = decimal.Zero

	msg := string(confirmationMessage("orders@shop.lk", o))
	assert.NotContains(t, msg, "Discount:")
}

func TestSendSkipsEmptyEmail(t *testing.T) {
	// No SMTP server is reachable in tests; an empty recipient must
	// short-circuit before any dial happens.
	m := NewSMTPMailer(Config{Host: "smtp.invalid", Port: 587})
	o := sampleOrder()
	o.Customer.Email = ""

	require.NoError(t, m.SendOrderConfirmation(context.Background(), o))
	require.NoError(t, m.Close())
}

func TestSendHonoursCancelledContext(t *testing.T) {
	m := NewSMTPMailer(Config{Host: "smtp.invalid", Port: 587})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := m.SendOrderConfirmation(ctx, sampleOrder())
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNopSender(t *testing.T) {
	var s Sender = NopSender{}
	assert.NoError(t, s.SendOrderConfirmation(context.Background(), sampleOrder()))
	assert.NoError(t, s.Close())
}
