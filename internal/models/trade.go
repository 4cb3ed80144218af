package models

import "time"

// Listing is a sell offer for fun tokens published by a peer.
type Listing struct {
	ID              string  `json:"id"`
	SellerID        string  `json:"seller_id"`
	PricePerToken   float64 `json:"price_per_token"`
	MinLimit        float64 `json:"min_limit"`
	MaxLimit        float64 `json:"max_limit"`
	RemainingTokens float64 `json:"remaining_tokens"`
}

// Trade is a purchase of fun tokens against a listing, owned by the backend
// trade API.
type Trade struct {
	ID             string    `json:"id"`
	ListingID      string    `json:"listing_id"`
	BuyerID        string    `json:"buyer_id"`
	SellerID       string    `json:"seller_id"`
	FunTokenAmount float64   `json:"fun_token_amount"`
	TotalCost      float64   `json:"total_cost"`
	Status         string    `json:"status"`
	CreatedAt      time.Time `json:"created_at"`
}

// Balance is the user's spendable wallet balance as reported by the backend.
type Balance struct {
	Available float64 `json:"available"`
	Currency  string  `json:"currency"`
}

// PaymentOrder is a gateway order created for a balance top-up. Amount is in
// the smallest currency unit.
type PaymentOrder struct {
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	KeyID    string `json:"key_id,omitempty"`
	Receipt  string `json:"receipt,omitempty"`
}
