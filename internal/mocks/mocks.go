package mocks

import (
	"context"

	"github.com/stretchr/testify/mock"

	"tradechat/internal/backend"
	"tradechat/internal/models"
	"tradechat/internal/payment"
	"tradechat/internal/trade"
)

// BackendAPI mocks the backend client surface the trade orchestrator uses.
type BackendAPI struct {
	mock.Mock
}

var _ trade.BackendAPI = (*BackendAPI)(nil)

func (m *BackendAPI) GetBalance(ctx context.Context) (models.Balance, error) {
	args := m.Called(ctx)
	return args.Get(0).(models.Balance), args.Error(1)
}

func (m *BackendAPI) CreateTopUpOrder(ctx context.Context, amount float64) (models.PaymentOrder, error) {
	args := m.Called(ctx, amount)
	return args.Get(0).(models.PaymentOrder), args.Error(1)
}

func (m *BackendAPI) VerifyPayment(ctx context.Context, req backend.VerifyPaymentRequest) error {
	args := m.Called(ctx, req)
	return args.Error(0)
}

func (m *BackendAPI) InitiateTrade(ctx context.Context, req backend.InitiateTradeRequest) (models.Trade, error) {
	args := m.Called(ctx, req)
	return args.Get(0).(models.Trade), args.Error(1)
}

// Checkout mocks the blocking checkout surface.
type Checkout struct {
	mock.Mock
}

var _ payment.Checkout = (*Checkout)(nil)

func (m *Checkout) Open(ctx context.Context, order models.PaymentOrder) (payment.Outcome, error) {
	args := m.Called(ctx, order)
	return args.Get(0).(payment.Outcome), args.Error(1)
}

// Notifier mocks the dialog/notification surface.
type Notifier struct {
	mock.Mock
}

var _ trade.Notifier = (*Notifier)(nil)

func (m *Notifier) CloseDialog(userID string) {
	m.Called(userID)
}

func (m *Notifier) ReopenDialog(userID string) {
	m.Called(userID)
}

func (m *Notifier) Notify(userID string, event string, payload any) {
	m.Called(userID, event, payload)
}

// BalanceSink mocks the app-state balance receiver.
type BalanceSink struct {
	mock.Mock
}

var _ trade.BalanceSink = (*BalanceSink)(nil)

func (m *BalanceSink) SetBalance(balance models.Balance) {
	m.Called(balance)
}

// EventPublisher mocks the broker publisher.
type EventPublisher struct {
	mock.Mock
}

var _ trade.EventPublisher = (*EventPublisher)(nil)

func (m *EventPublisher) Publish(ctx context.Context, routingKey string, payload any) error {
	args := m.Called(ctx, routingKey, payload)
	return args.Error(0)
}
