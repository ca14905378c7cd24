// Package mailer sends transactional order emails over SMTP.
package mailer

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	mail "github.com/wneessen/go-mail"

	"github.com/bangleworld/orderflow/internal/config"
	"github.com/bangleworld/orderflow/internal/order"
)

type SMTPMailer struct {
	client *mail.Client
	from   string
}

func NewSMTPMailer(cfg config.SMTPConfig) (*SMTPMailer, error) {
	client, err := mail.NewClient(cfg.Host,
		mail.WithPort(cfg.Port),
		mail.WithSMTPAuth(mail.SMTPAuthPlain),
		mail.WithUsername(cfg.User),
		mail.WithPassword(cfg.Password),
	)
	if err != nil {
		return nil, fmt.Errorf("mailer: failed to build smtp client: %w", err)
	}

	return &SMTPMailer{client: client, from: cfg.From}, nil
}

func (m *SMTPMailer) SendOrderConfirmation(ctx context.Context, o *order.Order) error {
	subject := fmt.Sprintf("Order %s confirmed", o.OrderNumber)
	body := fmt.Sprintf(
		"Hi %s,\n\nWe have received your payment of %.2f %s. Your order %s is confirmed and will be prepared for dispatch shortly.\n\nThank you for shopping with us.\n",
		o.Address.Name, o.TotalAmount, o.Currency, o.OrderNumber,
	)
	return m.send(ctx, o, subject, body)
}

func (m *SMTPMailer) SendOrderProcessing(ctx context.Context, o *order.Order) error {
	subject := fmt.Sprintf("Order %s is being prepared", o.OrderNumber)
	body := fmt.Sprintf(
		"Hi %s,\n\nYour order %s has been handed to our logistics partner and is being prepared for dispatch. We will let you know as soon as it ships.\n",
		o.Address.Name, o.OrderNumber,
	)
	return m.send(ctx, o, subject, body)
}

func (m *SMTPMailer) SendOrderShipped(ctx context.Context, o *order.Order) error {
	subject := fmt.Sprintf("Order %s shipped", o.OrderNumber)
	body := fmt.Sprintf(
		"Hi %s,\n\nYour order %s is on its way with %s. Track it with AWB %s.\n",
		o.Address.Name, o.OrderNumber, o.Shipping.CourierName, o.Shipping.AWBCode,
	)
	return m.send(ctx, o, subject, body)
}

func (m *SMTPMailer) send(ctx context.Context, o *order.Order, subject, body string) error {
	if o.Address.Email == "" {
		return fmt.Errorf("mailer: order %s has no customer email", o.OrderNumber)
	}

	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return fmt.Errorf("mailer: invalid from address: %w", err)
	}
	if err := msg.To(o.Address.Email); err != nil {
		return fmt.Errorf("mailer: invalid recipient %q: %w", o.Address.Email, err)
	}
	msg.Subject(subject)
	msg.SetBodyString(mail.TypeTextPlain, body)

	if err := m.client.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("mailer: failed to send %q to %s: %w", subject, o.Address.Email, err)
	}

	log.Info().Str("order_number", o.OrderNumber).Str("to", o.Address.Email).Str("subject", subject).Msg("Email sent")
	return nil
}

// Disabled is a no-op mailer for environments without SMTP configured.
type Disabled struct{}

func (Disabled) SendOrderConfirmation(ctx context.Context, o *order.Order) error {
	log.Debug().Str("order_number", o.OrderNumber).Msg("Mailer disabled, skipping confirmation email")
	return nil
}

func (Disabled) SendOrderProcessing(ctx context.Context, o *order.Order) error {
	log.Debug().Str("order_number", o.OrderNumber).Msg("Mailer disabled, skipping processing email")
	return nil
}

func (Disabled) SendOrderShipped(ctx context.Context, o *order.Order) error {
	log.Debug().Str("order_number", o.OrderNumber).Msg("Mailer disabled, skipping shipped email")
	return nil
}
