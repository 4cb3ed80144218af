package trade

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"tradechat/internal/backend"
	"tradechat/internal/models"
	"tradechat/internal/observability"
	"tradechat/internal/payment"
)

// ErrPurchaseInFlight rejects a purchase while another one is running for
// the same buyer.
var ErrPurchaseInFlight = errors.New("purchase already in progress")

// ErrAmountOutOfRange reports a listing whose limits cannot admit any valid
// amount.
var ErrAmountOutOfRange = errors.New("amount outside listing limits")

// PaymentError wraps a failure in the wallet top-up leg. The trade leg was
// never reached; the user's money state is whatever the backend verified.
type PaymentError struct {
	Stage string // order, checkout, dismissed, verification
	Err   error
}

func (e *PaymentError) Error() string {
	return fmt.Sprintf("payment %s failed: %v", e.Stage, e.Err)
}

func (e *PaymentError) Unwrap() error { return e.Err }

// TradeInitiationError wraps a failure starting the trade itself. AfterTopUp
// distinguishes the case where the wallet was already charged, which needs
// different user messaging than a plain initiation failure.
type TradeInitiationError struct {
	AfterTopUp bool
	Err        error
}

func (e *TradeInitiationError) Error() string {
	if e.AfterTopUp {
		return fmt.Sprintf("trade initiation failed after top-up: %v", e.Err)
	}
	return fmt.Sprintf("trade initiation failed: %v", e.Err)
}

func (e *TradeInitiationError) Unwrap() error { return e.Err }

// BackendAPI is the slice of the backend client the orchestrator needs.
type BackendAPI interface {
	GetBalance(ctx context.Context) (models.Balance, error)
	CreateTopUpOrder(ctx context.Context, amount float64) (models.PaymentOrder, error)
	VerifyPayment(ctx context.Context, req backend.VerifyPaymentRequest) error
	InitiateTrade(ctx context.Context, req backend.InitiateTradeRequest) (models.Trade, error)
}

// Notifier surfaces purchase dialog transitions to the user's UI surface.
type Notifier interface {
	CloseDialog(userID string)
	ReopenDialog(userID string)
	Notify(userID string, event string, payload any)
}

// BalanceSink receives refreshed wallet balances for app-state display.
type BalanceSink interface {
	SetBalance(models.Balance)
}

// EventPublisher emits trade lifecycle events to the message broker.
// Publish failures are logged and never block a purchase.
type EventPublisher interface {
	Publish(ctx context.Context, routingKey string, payload any) error
}

// Config carries orchestrator dependencies and tuning.
type Config struct {
	Backend  BackendAPI
	Checkout payment.Checkout
	Provider *payment.Provider
	Notifier Notifier
	Balances BalanceSink
	Events   EventPublisher
	Logger   zerolog.Logger

	// SettleDelay is the pause after closing the dialog before opening
	// checkout, and again after verification before re-initiating, giving
	// the backend time to settle writes.
	SettleDelay time.Duration
	// ReopenDelay is the pause before reopening the dialog after a failed or
	// dismissed checkout.
	ReopenDelay time.Duration

	sleep func(ctx context.Context, d time.Duration) error
}

// Orchestrator runs the buy flow for a listing: clamp the requested amount,
// check the wallet, top up through the payment gateway when short, then
// initiate the trade. The payment leg and the trade leg fail independently
// so callers can message the user accurately.
type Orchestrator struct {
	cfg Config

	mu       sync.Mutex
	inFlight map[string]bool
}

func NewOrchestrator(cfg Config) *Orchestrator {
	if cfg.sleep == nil {
		cfg.sleep = sleepCtx
	}
	return &Orchestrator{
		cfg:      cfg,
		inFlight: make(map[string]bool),
	}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ClampAmount fits a requested token amount into what the listing can
// serve. The effective upper bound is the lower of the listing max and the
// remaining inventory.
func ClampAmount(listing models.Listing, amount float64) (float64, error) {
	upper := listing.MaxLimit
	if listing.RemainingTokens < upper {
		upper = listing.RemainingTokens
	}
	if amount <= 0 || upper <= 0 || upper < listing.MinLimit {
		return 0, ErrAmountOutOfRange
	}
	if amount < listing.MinLimit {
		amount = listing.MinLimit
	}
	if amount > upper {
		amount = upper
	}
	return amount, nil
}

// Purchase buys amount tokens from the listing on behalf of buyerID. Only
// one purchase per buyer runs at a time.
func (o *Orchestrator) Purchase(ctx context.Context, buyerID string, listing models.Listing, amount float64) (models.Trade, error) {
	o.mu.Lock()
	if o.inFlight[buyerID] {
		o.mu.Unlock()
		return models.Trade{}, ErrPurchaseInFlight
	}
	o.inFlight[buyerID] = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.inFlight, buyerID)
		o.mu.Unlock()
	}()

	trade, err := o.purchase(ctx, buyerID, listing, amount)
	if err != nil {
		observability.IncPurchase("error")
		return models.Trade{}, err
	}
	observability.IncPurchase("ok")
	return trade, nil
}

func (o *Orchestrator) purchase(ctx context.Context, buyerID string, listing models.Listing, amount float64) (models.Trade, error) {
	logger := o.cfg.Logger.With().
		Str("buyer_id", buyerID).
		Str("listing_id", listing.ID).
		Logger()

	amount, err := ClampAmount(listing, amount)
	if err != nil {
		return models.Trade{}, err
	}
	totalCost := amount * listing.PricePerToken

	balance, err := o.cfg.Backend.GetBalance(ctx)
	if err != nil {
		return models.Trade{}, fmt.Errorf("fetch balance: %w", err)
	}

	toppedUp := false
	if balance.Available < totalCost {
		if err := o.topUp(ctx, buyerID, totalCost-balance.Available, logger); err != nil {
			return models.Trade{}, err
		}
		toppedUp = true

		if err := o.cfg.sleep(ctx, o.cfg.SettleDelay); err != nil {
			return models.Trade{}, err
		}
	}

	// The trade is always initiated with the originally requested amount,
	// not the top-up figure.
	trade, err := o.cfg.Backend.InitiateTrade(ctx, backend.InitiateTradeRequest{
		ListingID:      listing.ID,
		FunTokenAmount: amount,
	})
	if err != nil {
		return models.Trade{}, &TradeInitiationError{AfterTopUp: toppedUp, Err: err}
	}

	logger.Info().
		Str("trade_id", trade.ID).
		Float64("amount", amount).
		Float64("total_cost", totalCost).
		Bool("topped_up", toppedUp).
		Msg("trade initiated")
	o.publish(buyerID, "trade.initiated", trade)
	if o.cfg.Notifier != nil {
		o.cfg.Notifier.Notify(buyerID, "trade_initiated", trade)
	}
	return trade, nil
}

// topUp runs the wallet leg: create a gateway order for the shortfall,
// close the purchase dialog so checkout owns the screen, wait for the
// checkout resolution and verify it server side. Any failure reopens the
// dialog after ReopenDelay.
func (o *Orchestrator) topUp(ctx context.Context, buyerID string, shortfall float64, logger zerolog.Logger) error {
	needed := math.Ceil(shortfall)

	order, err := o.cfg.Backend.CreateTopUpOrder(ctx, needed)
	if err != nil {
		return &PaymentError{Stage: "order", Err: err}
	}
	observability.IncTopUpOrder()
	logger.Info().Str("order_id", order.OrderID).Float64("top_up", needed).Msg("top-up order created")

	if o.cfg.Notifier != nil {
		o.cfg.Notifier.CloseDialog(buyerID)
	}
	if err := o.cfg.sleep(ctx, o.cfg.SettleDelay); err != nil {
		return err
	}

	outcome, err := o.cfg.Checkout.Open(ctx, order)
	if err != nil {
		o.reopen(ctx, buyerID)
		if errors.Is(err, payment.ErrDismissed) {
			return &PaymentError{Stage: "dismissed", Err: err}
		}
		return &PaymentError{Stage: "checkout", Err: err}
	}

	if err := o.cfg.Backend.VerifyPayment(ctx, backend.VerifyPaymentRequest{
		OrderID:   outcome.OrderID,
		PaymentID: outcome.PaymentID,
		Signature: outcome.Signature,
	}); err != nil {
		o.reopen(ctx, buyerID)
		return &PaymentError{Stage: "verification", Err: err}
	}

	o.publish(buyerID, "payment.verified", outcome)
	o.auditPayment(outcome.PaymentID, logger)
	o.refreshBalance(ctx, logger)
	return nil
}

func (o *Orchestrator) reopen(ctx context.Context, buyerID string) {
	if o.cfg.Notifier == nil {
		return
	}
	// Reopening uses the parent context deadline but ignores cancellation
	// errors; the dialog comes back regardless.
	_ = o.cfg.sleep(ctx, o.cfg.ReopenDelay)
	o.cfg.Notifier.ReopenDialog(buyerID)
}

// refreshBalance pushes the post-top-up balance into app state. Failures
// only log; the purchase continues on the verified amount.
func (o *Orchestrator) refreshBalance(ctx context.Context, logger zerolog.Logger) {
	if o.cfg.Balances == nil {
		return
	}
	balance, err := o.cfg.Backend.GetBalance(ctx)
	if err != nil {
		logger.Warn().Err(err).Msg("balance refresh after top-up failed")
		return
	}
	o.cfg.Balances.SetBalance(balance)
}

// auditPayment records the captured payment details asynchronously.
func (o *Orchestrator) auditPayment(paymentID string, logger zerolog.Logger) {
	if o.cfg.Provider == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		p, err := o.cfg.Provider.Get().FetchPayment(ctx, paymentID)
		if err != nil {
			logger.Warn().Err(err).Str("payment_id", paymentID).Msg("payment audit fetch failed")
			return
		}
		logger.Info().
			Str("payment_id", p.ID).
			Str("order_id", p.OrderID).
			Str("status", p.Status).
			Str("method", p.Method).
			Msg("payment captured")
	}()
}

func (o *Orchestrator) publish(buyerID, routingKey string, payload any) {
	if o.cfg.Events == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := o.cfg.Events.Publish(ctx, routingKey, map[string]any{
		"user_id": buyerID,
		"event":   routingKey,
		"data":    payload,
	}); err != nil {
		o.cfg.Logger.Warn().Err(err).Str("routing_key", routingKey).Msg("event publish failed")
	}
}
