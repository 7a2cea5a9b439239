package service

import (
	"context"
	"net/url"
	"testing"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"
	"checkout-service/internal/payment"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestRequestPayment_RecordsPendingPayment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.checkout(t, 2)

	form := &payment.Form{Action: "https://pay.example.com", HTML: "<form></form>"}
	f.gateway.On("RequestPayment", mock.Anything, payment.Request{OrderID: order.ID, Amount: 2000, Subject: "Order 1"}).
		Return(form, nil).Once()

	got, err := f.payments.RequestPayment(ctx, buyerID, order.ID)
	require.NoError(t, err)
	assert.Equal(t, form, got)

	p, err := f.repo.GetPaymentByOrderID(ctx, order.ID)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, models.PaymentStatusPending, p.Status)
	assert.Equal(t, int64(2000), p.Amount)

	_, err = f.payments.RequestPayment(ctx, otherBuyer, order.ID)
	assert.ErrorIs(t, err, apperr.ErrOrderNotFound)

	f.gateway.AssertExpectations(t)
}

func TestRequestPayment_TimeoutLeavesOrderPending(t *testing.T) {
	f := newFixture(t)
	order := f.checkout(t, 1)

	f.gateway.On("RequestPayment", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) {
			<-args.Get(0).(context.Context).Done()
		}).
		Return(nil, context.DeadlineExceeded).Once()

	_, err := f.payments.RequestPayment(context.Background(), buyerID, order.ID)
	assert.ErrorIs(t, err, apperr.ErrGatewayUnavailable)
	assert.Equal(t, models.OrderStatusPending, f.status(t, order.ID))
}

func TestRequestPayment_TerminalOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.checkout(t, 1)
	require.NoError(t, f.orders.Cancel(ctx, buyerID, order.ID))

	_, err := f.payments.RequestPayment(ctx, buyerID, order.ID)
	assert.ErrorIs(t, err, apperr.ErrOrderNotPending)
	f.gateway.AssertNotCalled(t, "RequestPayment", mock.Anything, mock.Anything)
}

func TestHandleNotification(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	order := f.checkout(t, 3)

	forged := url.Values{"sign": {"bad"}}
	f.gateway.On("ParseAndAuthenticate", forged).Return(nil, apperr.ErrInvalidSignature).Once()
	assert.ErrorIs(t, f.payments.HandleNotification(ctx, forged), apperr.ErrInvalidSignature)

	waiting := url.Values{"trade_status": {payment.TradeWaitBuyerPay}}
	pending := paidNotification(order.ID, "30.00")
	pending.Status = payment.TradeWaitBuyerPay
	f.gateway.On("ParseAndAuthenticate", waiting).Return(pending, nil).Once()
	require.NoError(t, f.payments.HandleNotification(ctx, waiting))
	assert.Equal(t, models.OrderStatusPending, f.status(t, order.ID))

	paid := url.Values{"trade_status": {payment.TradeSuccess}}
	f.gateway.On("ParseAndAuthenticate", paid).Return(paidNotification(order.ID, "30.00"), nil).Once()
	require.NoError(t, f.payments.HandleNotification(ctx, paid))
	assert.Equal(t, models.OrderStatusSuccess, f.status(t, order.ID))
	assert.Equal(t, 2, f.stock(t))

	f.gateway.AssertExpectations(t)
}
