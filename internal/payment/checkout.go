package payment

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"

	"tradechat/internal/models"
)

// ErrDismissed reports that the user closed the checkout without paying.
var ErrDismissed = errors.New("checkout dismissed")

// Outcome is the result a completed checkout hands back for verification.
type Outcome struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
}

// Checkout presents an order to the user and blocks until they pay, dismiss,
// or the context expires.
type Checkout interface {
	Open(ctx context.Context, order models.PaymentOrder) (Outcome, error)
}

// Broker is a Checkout backed by external resolution: Open parks until a
// callback arrives for the order id, either a payment outcome or a
// dismissal. The HTTP gateway feeds Resolve and Dismiss from the provider's
// handler callbacks.
type Broker struct {
	mu      sync.Mutex
	pending map[string]chan result
	logger  zerolog.Logger
}

type result struct {
	outcome Outcome
	err     error
}

func NewBroker(logger zerolog.Logger) *Broker {
	return &Broker{
		pending: make(map[string]chan result),
		logger:  logger,
	}
}

// Open registers the order and waits for its resolution. A second Open for
// an order already pending fails immediately.
func (b *Broker) Open(ctx context.Context, order models.PaymentOrder) (Outcome, error) {
	ch := make(chan result, 1)

	b.mu.Lock()
	if _, exists := b.pending[order.OrderID]; exists {
		b.mu.Unlock()
		return Outcome{}, errors.New("checkout already open for order " + order.OrderID)
	}
	b.pending[order.OrderID] = ch
	b.mu.Unlock()

	b.logger.Info().Str("order_id", order.OrderID).Int64("amount", order.Amount).Msg("checkout opened")

	select {
	case res := <-ch:
		return res.outcome, res.err
	case <-ctx.Done():
		b.mu.Lock()
		delete(b.pending, order.OrderID)
		b.mu.Unlock()
		return Outcome{}, ctx.Err()
	}
}

// Resolve delivers a payment outcome for a pending order. Returns false when
// no checkout is waiting on the order.
func (b *Broker) Resolve(orderID string, outcome Outcome) bool {
	return b.settle(orderID, result{outcome: outcome})
}

// Dismiss cancels a pending checkout as user-closed.
func (b *Broker) Dismiss(orderID string) bool {
	return b.settle(orderID, result{err: ErrDismissed})
}

func (b *Broker) settle(orderID string, res result) bool {
	b.mu.Lock()
	ch, ok := b.pending[orderID]
	if ok {
		delete(b.pending, orderID)
	}
	b.mu.Unlock()
	if !ok {
		return false
	}
	ch <- res
	return true
}
