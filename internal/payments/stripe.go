package payments

import (
	"context"
	"fmt"
	"os"
	"sync"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
)

// WagePayouts wraps stripe-go for the driver-wage hold/capture/cancel flow.
// A hold is placed when an assignment succeeds, captured on delivery and
// cancelled when the order ends any other way.
type WagePayouts struct {
	currency string

	mu    sync.Mutex
	holds map[string]string // order id -> payment intent id
}

// NewWagePayouts initializes the stripe client with the STRIPE_API_KEY env var.
func NewWagePayouts(currency string) *WagePayouts {
	stripe.Key = os.Getenv("STRIPE_API_KEY")
	if currency == "" {
		currency = "vnd"
	}
	return &WagePayouts{currency: currency, holds: make(map[string]string)}
}

// HoldWage creates a manual-capture PaymentIntent for the computed wage.
func (w *WagePayouts) HoldWage(ctx context.Context, orderID string, amount int64) error {
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(amount),
		Currency: stripe.String(w.currency),
	}
	params.CaptureMethod = stripe.String(string(stripe.PaymentIntentCaptureMethodManual))
	pi, err := paymentintent.New(params)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.holds[orderID] = pi.ID
	w.mu.Unlock()
	return nil
}

// CaptureForOrder finalizes the hold placed for an order.
func (w *WagePayouts) CaptureForOrder(ctx context.Context, orderID string) error {
	id, ok := w.take(orderID)
	if !ok {
		return fmt.Errorf("no wage hold for order %s", orderID)
	}
	_, err := paymentintent.Capture(id, nil)
	return err
}

// CancelForOrder releases the hold placed for an order.
func (w *WagePayouts) CancelForOrder(ctx context.Context, orderID string) error {
	id, ok := w.take(orderID)
	if !ok {
		return nil
	}
	_, err := paymentintent.Cancel(id, nil)
	return err
}

func (w *WagePayouts) take(orderID string) (string, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	id, ok := w.holds[orderID]
	delete(w.holds, orderID)
	return id, ok
}
