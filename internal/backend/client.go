package backend

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"tradechat/internal/models"
)

// Client is a typed HTTP client for the trade/chat backend API. All business
// logic (escrow, trade state transitions, balance accounting) lives behind
// this API; the client only shapes requests and fails closed on malformed
// responses.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	logger  zerolog.Logger
}

// NewClient builds a Client. requestsPerSecond bounds outbound call rate;
// zero disables limiting.
func NewClient(baseURL, token string, requestsPerSecond float64, logger zerolog.Logger) *Client {
	var limiter *rate.Limiter
	if requestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(requestsPerSecond), int(requestsPerSecond)+1)
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{},
		limiter: limiter,
		logger:  logger,
	}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return err
		}
	}

	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return c.apiError(resp.StatusCode, raw)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode %s %s response: %w", method, path, err)
	}
	return nil
}

func (c *Client) apiError(status int, raw []byte) *APIError {
	var envelope errorEnvelope
	apiErr := &APIError{StatusCode: status}
	if err := json.Unmarshal(raw, &envelope); err == nil {
		apiErr.Status = envelope.Status
		apiErr.Message = envelope.Data.Message
		if apiErr.Message == "" {
			apiErr.Message = envelope.Error
		}
	}
	if apiErr.Message == "" {
		apiErr.Message = http.StatusText(status)
	}
	return apiErr
}

// StoreMessage mirrors a confirmed chat message to the system of record.
func (c *Client) StoreMessage(ctx context.Context, req StoreMessageRequest) error {
	return c.do(ctx, http.MethodPost, "/chat/messages", req, nil)
}

// GetBalance returns the user's spendable wallet balance.
func (c *Client) GetBalance(ctx context.Context) (models.Balance, error) {
	var balance models.Balance
	err := c.do(ctx, http.MethodGet, "/wallet/balance", nil, &balance)
	return balance, err
}

// CreateTopUpOrder asks the backend to open a gateway order covering amount.
func (c *Client) CreateTopUpOrder(ctx context.Context, amount float64) (models.PaymentOrder, error) {
	var order models.PaymentOrder
	err := c.do(ctx, http.MethodPost, "/wallet/topup/orders", TopUpOrderRequest{Amount: amount}, &order)
	if err != nil {
		return models.PaymentOrder{}, err
	}
	if order.OrderID == "" {
		return models.PaymentOrder{}, fmt.Errorf("top-up order response missing order id")
	}
	return order, nil
}

// VerifyPayment submits the checkout result for server-side verification.
func (c *Client) VerifyPayment(ctx context.Context, req VerifyPaymentRequest) error {
	return c.do(ctx, http.MethodPost, "/wallet/topup/verify", req, nil)
}

// InitiateTrade starts a trade against a listing.
func (c *Client) InitiateTrade(ctx context.Context, req InitiateTradeRequest) (models.Trade, error) {
	var trade models.Trade
	err := c.do(ctx, http.MethodPost, "/trades", req, &trade)
	return trade, err
}

// ConfirmPayment acknowledges the fiat leg of an initiated trade.
func (c *Client) ConfirmPayment(ctx context.Context, req ConfirmPaymentRequest) error {
	return c.do(ctx, http.MethodPost, "/trades/"+req.TradeID+"/confirm-payment", req, nil)
}

// CompleteTrade releases the escrowed tokens for a trade.
func (c *Client) CompleteTrade(ctx context.Context, tradeID string) error {
	return c.do(ctx, http.MethodPost, "/trades/"+tradeID+"/complete", nil, nil)
}
