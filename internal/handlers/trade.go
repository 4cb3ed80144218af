package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"tradechat/internal/middleware"
	"tradechat/internal/models"
	"tradechat/internal/observability"
	"tradechat/internal/payment"
	"tradechat/internal/telemetry"
	"tradechat/internal/trade"
	"tradechat/internal/ws"
)

// Purchaser runs the buy flow.
type Purchaser interface {
	Purchase(ctx context.Context, buyerID string, listing models.Listing, amount float64) (models.Trade, error)
}

// TradeHandler accepts purchase requests and the payment callbacks that
// resolve pending checkouts.
type TradeHandler struct {
	purchaser Purchaser
	broker    *payment.Broker
	hub       *ws.Hub
	audit     *telemetry.AuditEmitter
	logger    zerolog.Logger

	// purchaseTimeout bounds one detached purchase run, checkout wait
	// included.
	purchaseTimeout time.Duration
}

// NewTradeHandler builds a TradeHandler.
func NewTradeHandler(purchaser Purchaser, broker *payment.Broker, hub *ws.Hub, audit *telemetry.AuditEmitter, logger zerolog.Logger) *TradeHandler {
	return &TradeHandler{
		purchaser:       purchaser,
		broker:          broker,
		hub:             hub,
		audit:           audit,
		logger:          logger,
		purchaseTimeout: 10 * time.Minute,
	}
}

type purchaseRequest struct {
	Listing models.Listing `json:"listing" binding:"required"`
	Amount  float64        `json:"amount" binding:"required"`
}

// StartPurchase kicks off the buy flow and returns immediately. The flow can
// block on a checkout, so it runs detached from the request; its outcome
// lands on the buyer's notification socket.
func (h *TradeHandler) StartPurchase(c *gin.Context) {
	var req purchaseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if req.Listing.ID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "listing id is required"})
		return
	}
	if _, err := trade.ClampAmount(req.Listing, req.Amount); err != nil {
		c.JSON(http.StatusUnprocessableEntity, gin.H{"error": "amount outside listing limits"})
		return
	}

	buyerID := middleware.UserID(c)
	requestID := observability.RequestIDFromRequest(c.Request)

	go h.runPurchase(buyerID, requestID, req.Listing, req.Amount)

	c.JSON(http.StatusAccepted, gin.H{"status": "purchase_started"})
}

func (h *TradeHandler) runPurchase(buyerID, requestID string, listing models.Listing, amount float64) {
	ctx, cancel := context.WithTimeout(context.Background(), h.purchaseTimeout)
	defer cancel()

	tr, err := h.purchaser.Purchase(ctx, buyerID, listing, amount)
	if err != nil {
		h.notifyPurchaseFailure(ctx, buyerID, requestID, err)
		return
	}

	h.audit.Emit(ctx, "info", "trade initiated "+tr.ID, requestID, &buyerID)
	if h.hub != nil {
		h.hub.Notify(buyerID, "purchase_completed", tr)
	}
}

// notifyPurchaseFailure maps each failure domain to its own event so the
// client can message the user accurately: a failed payment is not a failed
// trade, and a trade failure after a top-up must not read as a lost payment.
func (h *TradeHandler) notifyPurchaseFailure(ctx context.Context, buyerID, requestID string, err error) {
	event := "purchase_failed"
	message := "Purchase could not be completed"

	var payErr *trade.PaymentError
	var tradeErr *trade.TradeInitiationError
	switch {
	case errors.Is(err, trade.ErrPurchaseInFlight):
		event = "purchase_rejected"
		message = "Another purchase is already in progress"
	case errors.Is(err, trade.ErrAmountOutOfRange):
		event = "purchase_rejected"
		message = "Amount is outside the listing limits"
	case errors.As(err, &payErr):
		event = "payment_failed"
		switch payErr.Stage {
		case "dismissed":
			event = "payment_dismissed"
			message = "Payment was cancelled"
		case "verification":
			message = "Payment could not be verified"
		default:
			message = "Payment failed, you have not been charged"
		}
	case errors.As(err, &tradeErr):
		event = "trade_failed"
		if tradeErr.AfterTopUp {
			message = "Your top-up succeeded but the trade could not be started"
		} else {
			message = "Trade could not be started"
		}
	}

	h.logger.Warn().Err(err).Str("buyer_id", buyerID).Str("event", event).Msg("purchase failed")
	h.audit.Emit(ctx, "warn", message, requestID, &buyerID)
	if h.hub != nil {
		h.hub.Notify(buyerID, event, gin.H{"message": message})
	}
}

// PaymentCallback resolves a pending checkout with the provider's outcome.
func (h *TradeHandler) PaymentCallback(c *gin.Context) {
	orderID := c.Param("order_id")

	var outcome payment.Outcome
	if err := c.ShouldBindJSON(&outcome); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if outcome.OrderID == "" {
		outcome.OrderID = orderID
	}
	if outcome.OrderID != orderID {
		c.JSON(http.StatusBadRequest, gin.H{"error": "order id mismatch"})
		return
	}

	if !h.broker.Resolve(orderID, outcome) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no pending checkout for order"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "resolved"})
}

// PaymentDismiss cancels a pending checkout as user-closed.
func (h *TradeHandler) PaymentDismiss(c *gin.Context) {
	orderID := c.Param("order_id")
	if !h.broker.Dismiss(orderID) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no pending checkout for order"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "dismissed"})
}
