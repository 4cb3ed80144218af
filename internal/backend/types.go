package backend

import "fmt"

// APIError is the structured failure shape of the trade API. Responses that
// cannot be parsed into the documented error envelope still produce an
// APIError carrying the HTTP status, never a silent zero value.
type APIError struct {
	StatusCode int
	Status     string
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("trade api: http %d", e.StatusCode)
	}
	return fmt.Sprintf("trade api: http %d: %s", e.StatusCode, e.Message)
}

// errorEnvelope matches the API's error body: {"status": ..., "data": {"message": ...}}
// with a flat {"error": ...} fallback used by some endpoints.
type errorEnvelope struct {
	Status string `json:"status"`
	Data   struct {
		Message string `json:"message"`
	} `json:"data"`
	Error string `json:"error"`
}

// StoreMessageRequest mirrors a confirmed chat message to the system of
// record. ExternalMessageID is the realtime store's generated id, kept for
// cross-referencing.
type StoreMessageRequest struct {
	ChatID            string `json:"chatId"`
	SenderID          string `json:"senderId"`
	ReceiverID        string `json:"receiverId"`
	Content           string `json:"content"`
	MessageType       string `json:"messageType"`
	ExternalMessageID string `json:"externalMessageId"`
}

// InitiateTradeRequest starts a trade against a listing.
type InitiateTradeRequest struct {
	ListingID      string  `json:"listingId"`
	FunTokenAmount float64 `json:"funTokenAmount"`
}

// ConfirmPaymentRequest acknowledges the fiat leg of a trade.
type ConfirmPaymentRequest struct {
	TradeID   string `json:"tradeId"`
	Reference string `json:"reference,omitempty"`
}

// TopUpOrderRequest asks the backend to create a gateway order covering a
// balance shortfall.
type TopUpOrderRequest struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency,omitempty"`
}

// VerifyPaymentRequest carries the gateway checkout result for server-side
// verification.
type VerifyPaymentRequest struct {
	OrderID   string `json:"razorpay_order_id"`
	PaymentID string `json:"razorpay_payment_id"`
	Signature string `json:"razorpay_signature"`
}
