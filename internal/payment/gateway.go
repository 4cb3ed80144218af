package payment

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/rs/zerolog"
)

// DefaultBaseURL is the hosted gateway REST endpoint.
const DefaultBaseURL = "https://api.razorpay.com/v1"

// Gateway is a minimal REST client for the payment provider. The key pair is
// sent as HTTP basic auth on every call.
type Gateway struct {
	baseURL   string
	keyID     string
	keySecret string
	http      *http.Client
	logger    zerolog.Logger
}

// Order is a gateway order as returned by the provider. Amount is in the
// currency's smallest unit.
type Order struct {
	ID       string `json:"id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Receipt  string `json:"receipt"`
	Status   string `json:"status"`
}

// Payment is a captured or attempted payment against an order.
type Payment struct {
	ID      string `json:"id"`
	OrderID string `json:"order_id"`
	Amount  int64  `json:"amount"`
	Status  string `json:"status"`
	Method  string `json:"method"`
	Email   string `json:"email"`
	Contact string `json:"contact"`
}

type gatewayError struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

func NewGateway(baseURL, keyID, keySecret string, logger zerolog.Logger) *Gateway {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Gateway{
		baseURL:   baseURL,
		keyID:     keyID,
		keySecret: keySecret,
		http:      &http.Client{},
		logger:    logger,
	}
}

func (g *Gateway) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		payload, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal gateway request: %w", err)
		}
		reader = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, g.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("build gateway request: %w", err)
	}
	req.SetBasicAuth(g.keyID, g.keySecret)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := g.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read gateway response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var gwErr gatewayError
		if json.Unmarshal(raw, &gwErr) == nil && gwErr.Error.Description != "" {
			return fmt.Errorf("gateway %s: %s (%s)", path, gwErr.Error.Description, gwErr.Error.Code)
		}
		return fmt.Errorf("gateway %s: status %d", path, resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode gateway response: %w", err)
	}
	return nil
}

// CreateOrder opens a new order. amount is in the smallest currency unit.
func (g *Gateway) CreateOrder(ctx context.Context, amount int64, currency, receipt string) (Order, error) {
	var order Order
	err := g.do(ctx, http.MethodPost, "/orders", map[string]any{
		"amount":   amount,
		"currency": currency,
		"receipt":  receipt,
	}, &order)
	if err != nil {
		return Order{}, err
	}
	if order.ID == "" {
		return Order{}, fmt.Errorf("gateway order response missing id")
	}
	return order, nil
}

// FetchPayment retrieves one payment by id.
func (g *Gateway) FetchPayment(ctx context.Context, paymentID string) (Payment, error) {
	var p Payment
	err := g.do(ctx, http.MethodGet, "/payments/"+paymentID, nil, &p)
	return p, err
}

// VerifyCheckoutSignature checks the HMAC-SHA256 signature a completed
// checkout hands back. The signed payload is "<orderID>|<paymentID>" keyed
// with the API secret.
func VerifyCheckoutSignature(orderID, paymentID, signature, secret string) bool {
	if orderID == "" || paymentID == "" || signature == "" {
		return false
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(orderID + "|" + paymentID))
	expected := hex.EncodeToString(mac.Sum(nil))
	return subtle.ConstantTimeCompare([]byte(expected), []byte(signature)) == 1
}

// Provider hands out a lazily built Gateway. Construction happens exactly
// once regardless of how many callers race on Get.
type Provider struct {
	once    sync.Once
	build   func() *Gateway
	gateway *Gateway
}

func NewProvider(build func() *Gateway) *Provider {
	return &Provider{build: build}
}

func (p *Provider) Get() *Gateway {
	p.once.Do(func() {
		p.gateway = p.build()
	})
	return p.gateway
}
