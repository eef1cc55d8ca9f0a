// Package notify sends best-effort customer notifications. Delivery
// failures are logged and never propagate into order placement results.
package notify

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"sync"

	"github.com/go-faster/errors"

	"github.com/serendib/storefront/internal/domain/order"
)

// Sender delivers order notifications.
type Sender interface {
	SendOrderConfirmation(ctx context.Context, o *order.Order) error
	Close() error
}

// Config holds SMTP transport settings. FallbackPort, when non-zero, is
// tried after a failed dial on Port.
type Config struct {
	Host         string
	Port         int
	FallbackPort int
	Username     string
	Password     string
	From         string
}

// SMTPMailer is an explicit SMTP client with a managed lifecycle: the
// connection is established on first use, reused across sends, and torn
// down by Close. All state is owned by the mailer instance, nothing is
// cached at package level.
type SMTPMailer struct {
	cfg Config

	mu     sync.Mutex
	client *smtp.Client
}

// NewSMTPMailer creates a mailer for the given transport settings. No
// connection is opened until the first send.
func NewSMTPMailer(cfg Config) *SMTPMailer {
	return &SMTPMailer{cfg: cfg}
}

// connectLocked dials the SMTP host, trying the fallback port when the
// primary refuses. Caller must hold m.mu.
func (m *SMTPMailer) connectLocked() error {
	if m.client != nil {
		// Probe the cached connection; drop it if the server went away.
		if err := m.client.Noop(); err == nil {
			return nil
		}
		_ = m.client.Close()
		m.client = nil
	}

	ports := []int{m.cfg.Port}
	if m.cfg.FallbackPort != 0 && m.cfg.FallbackPort != m.cfg.Port {
		ports = append(ports, m.cfg.FallbackPort)
	}

	var lastErr error
	for _, port := range ports {
		addr := fmt.Sprintf("%s:%d", m.cfg.Host, port)
		client, err := smtp.Dial(addr)
		if err != nil {
			lastErr = errors.Wrapf(err, "dial %s", addr)
			continue
		}

		if m.cfg.Username != "" {
			auth := smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)
			if err := client.Auth(auth); err != nil {
				_ = client.Close()
				lastErr = errors.Wrapf(err, "auth against %s", addr)
				continue
			}
		}

		m.client = client
		return nil
	}
	return lastErr
}

// SendOrderConfirmation emails the order summary to the customer.
func (m *SMTPMailer) SendOrderConfirmation(ctx context.Context, o *order.Order) error {
	if o.Customer.Email == "" {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.connectLocked(); err != nil {
		return errors.Wrap(err, "connect")
	}

	msg := confirmationMessage(m.cfg.From, o)
	if err := m.sendLocked(o.Customer.Email, msg); err != nil {
		return errors.Wrapf(err, "send confirmation for order %s", o.ID)
	}
	return nil
}

// sendLocked runs one SMTP mail transaction. Caller must hold m.mu.
func (m *SMTPMailer) sendLocked(to string, msg []byte) error {
	c := m.client
	if err := c.Mail(m.cfg.From); err != nil {
		return err
	}
	if err := c.Rcpt(to); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return err
	}
	return w.Close()
}

// Close terminates the cached connection. Safe to call multiple times.
func (m *SMTPMailer) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.client == nil {
		return nil
	}
	err := m.client.Quit()
	m.client = nil
	return err
}

// confirmationMessage renders the plain-text order confirmation body.
func confirmationMessage(from string, o *order.Order) []byte {
	var b strings.Builder
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", o.Customer.Email)
	fmt.Fprintf(&b, "Subject: Order %s confirmed\r\n", o.ID)
	b.WriteString("MIME-Version: 1.0\r\nContent-Type: text/plain; charset=utf-8\r\n\r\n")

	fmt.Fprintf(&b, "Hello %s,\r\n\r\nThank you for your order %s.\r\n\r\n", o.Customer.Name, o.ID)
	for _, item := range o.Items {
		fmt.Fprintf(&b, "  %d x %s @ LKR %s\r\n", item.Quantity, item.Name, item.Price.StringFixed(2))
	}
	fmt.Fprintf(&b, "\r\nSubtotal: LKR %s\r\n", o.Subtotal.StringFixed(2))
	if o.PromoDiscount.IsPositive() {
		fmt.Fprintf(&b, "Discount: LKR -%s\r\n", o.PromoDiscount.StringFixed(2))
	}
	fmt.Fprintf(&b, "Shipping: LKR %s\r\n", o.Shipping.StringFixed(2))
	fmt.Fprintf(&b, "Total:    LKR %s\r\n", o.Total.StringFixed(2))
	fmt.Fprintf(&b, "\r\nPayment method: %s\r\n", o.PaymentMethod)

	return []byte(b.String())
}

// NopSender discards all notifications. Used when SMTP is not configured.
type NopSender struct{}

func (NopSender) SendOrderConfirmation(context.Context, *order.Order) error { return nil }
func (NopSender) Close() error                                              { return nil }
