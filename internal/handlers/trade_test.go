package handlers

import (
	"context"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradechat/internal/middleware"
	"tradechat/internal/models"
	"tradechat/internal/payment"
	"tradechat/internal/telemetry"
	"tradechat/internal/trade"
	"tradechat/internal/ws"
)

type purchaserFunc func(ctx context.Context, buyerID string, listing models.Listing, amount float64) (models.Trade, error)

func (f purchaserFunc) Purchase(ctx context.Context, buyerID string, listing models.Listing, amount float64) (models.Trade, error) {
	return f(ctx, buyerID, listing, amount)
}

func setupTradeRouter(purchaser Purchaser, broker *payment.Broker) *gin.Engine {
	gin.SetMode(gin.TestMode)
	audit := telemetry.NewAuditEmitter(nil, "", "tradechat", "test", zerolog.Nop())
	handler := NewTradeHandler(purchaser, broker, ws.NewHub(zerolog.Nop()), audit, zerolog.Nop())

	r := gin.New()
	r.Use(func(c *gin.Context) {
		c.Set(middleware.ContextUserIDKey, "buyer")
		c.Next()
	})
	r.POST("/trades", handler.StartPurchase)
	r.POST("/payments/:order_id/callback", handler.PaymentCallback)
	r.POST("/payments/:order_id/dismiss", handler.PaymentDismiss)
	return r
}

func validListing() models.Listing {
	return models.Listing{
		ID:              "listing-1",
		SellerID:        "seller",
		PricePerToken:   5,
		MinLimit:        1,
		MaxLimit:        100,
		RemainingTokens: 50,
	}
}

func TestStartPurchaseAccepted(t *testing.T) {
	var mu sync.Mutex
	var calls []float64
	done := make(chan struct{}, 1)
	purchaser := purchaserFunc(func(_ context.Context, buyerID string, _ models.Listing, amount float64) (models.Trade, error) {
		mu.Lock()
		calls = append(calls, amount)
		mu.Unlock()
		assert.Equal(t, "buyer", buyerID)
		done <- struct{}{}
		return models.Trade{ID: "trade-1"}, nil
	})
	router := setupTradeRouter(purchaser, payment.NewBroker(zerolog.Nop()))

	rec := postJSON(t, router, "/trades", gin.H{"listing": validListing(), "amount": 10})
	require.Equal(t, http.StatusAccepted, rec.Code)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("purchase never ran")
	}
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []float64{10}, calls)
}

func TestStartPurchaseInvalidAmount(t *testing.T) {
	called := false
	purchaser := purchaserFunc(func(context.Context, string, models.Listing, float64) (models.Trade, error) {
		called = true
		return models.Trade{}, nil
	})
	router := setupTradeRouter(purchaser, payment.NewBroker(zerolog.Nop()))

	listing := validListing()
	listing.RemainingTokens = 0
	rec := postJSON(t, router, "/trades", gin.H{"listing": listing, "amount": 10})
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.False(t, called)
}

func TestStartPurchaseMissingListing(t *testing.T) {
	purchaser := purchaserFunc(func(context.Context, string, models.Listing, float64) (models.Trade, error) {
		return models.Trade{}, nil
	})
	router := setupTradeRouter(purchaser, payment.NewBroker(zerolog.Nop()))

	rec := postJSON(t, router, "/trades", gin.H{"amount": 10})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStartPurchaseFailureStillAccepted(t *testing.T) {
	done := make(chan struct{}, 1)
	purchaser := purchaserFunc(func(context.Context, string, models.Listing, float64) (models.Trade, error) {
		done <- struct{}{}
		return models.Trade{}, &trade.PaymentError{Stage: "dismissed", Err: payment.ErrDismissed}
	})
	router := setupTradeRouter(purchaser, payment.NewBroker(zerolog.Nop()))

	rec := postJSON(t, router, "/trades", gin.H{"listing": validListing(), "amount": 10})
	require.Equal(t, http.StatusAccepted, rec.Code, "the surface answer is decoupled from the flow outcome")

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("purchase never ran")
	}
}

func TestPaymentCallbackResolvesCheckout(t *testing.T) {
	broker := payment.NewBroker(zerolog.Nop())
	purchaser := purchaserFunc(func(context.Context, string, models.Listing, float64) (models.Trade, error) {
		return models.Trade{}, nil
	})
	router := setupTradeRouter(purchaser, broker)

	outcomes := make(chan payment.Outcome, 1)
	go func() {
		out, err := broker.Open(context.Background(), models.PaymentOrder{OrderID: "order-1"})
		assert.NoError(t, err)
		outcomes <- out
	}()

	require.Eventually(t, func() bool {
		rec := postJSON(t, router, "/payments/order-1/callback", gin.H{
			"razorpay_order_id":   "order-1",
			"razorpay_payment_id": "pay-1",
			"razorpay_signature":  "sig",
		})
		return rec.Code == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	out := <-outcomes
	assert.Equal(t, "pay-1", out.PaymentID)
}

func TestPaymentCallbackOrderMismatch(t *testing.T) {
	router := setupTradeRouter(purchaserFunc(func(context.Context, string, models.Listing, float64) (models.Trade, error) {
		return models.Trade{}, nil
	}), payment.NewBroker(zerolog.Nop()))

	rec := postJSON(t, router, "/payments/order-1/callback", gin.H{
		"razorpay_order_id":   "order-2",
		"razorpay_payment_id": "pay-1",
		"razorpay_signature":  "sig",
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestPaymentCallbackNoPendingCheckout(t *testing.T) {
	router := setupTradeRouter(purchaserFunc(func(context.Context, string, models.Listing, float64) (models.Trade, error) {
		return models.Trade{}, nil
	}), payment.NewBroker(zerolog.Nop()))

	rec := postJSON(t, router, "/payments/order-9/callback", gin.H{
		"razorpay_payment_id": "pay-1",
		"razorpay_signature":  "sig",
	})
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestPaymentDismiss(t *testing.T) {
	broker := payment.NewBroker(zerolog.Nop())
	router := setupTradeRouter(purchaserFunc(func(context.Context, string, models.Listing, float64) (models.Trade, error) {
		return models.Trade{}, nil
	}), broker)

	errs := make(chan error, 1)
	go func() {
		_, err := broker.Open(context.Background(), models.PaymentOrder{OrderID: "order-1"})
		errs <- err
	}()

	require.Eventually(t, func() bool {
		rec := postJSON(t, router, "/payments/order-1/dismiss", nil)
		return rec.Code == http.StatusOK
	}, 2*time.Second, 10*time.Millisecond)

	assert.ErrorIs(t, <-errs, payment.ErrDismissed)
}
