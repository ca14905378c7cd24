package order_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bangleworld/orderflow/internal/catalog"
	"github.com/bangleworld/orderflow/internal/order"
	"github.com/bangleworld/orderflow/internal/outbox"
	"github.com/bangleworld/orderflow/internal/settings"
	"github.com/bangleworld/orderflow/internal/shipping/shiprocket"
)

// fakeRepo is an in-memory Repository with the same guarded-update
// semantics as the Postgres implementation, so the idempotency
// properties are exercised for real.
type fakeRepo struct {
	mu         sync.Mutex
	orders     map[uuid.UUID]*order.Order
	claims     map[uuid.UUID]time.Time
	decrements int
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{
		orders: make(map[uuid.UUID]*order.Order),
		claims: make(map[uuid.UUID]time.Time),
	}
}

func (f *fakeRepo) Create(ctx context.Context, o *order.Order) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	cp := *o
	cp.Tracking = append(cp.Tracking, order.TrackingEvent{OrderID: o.ID, Status: order.StatusPlaced, Message: "Order placed", Actor: "system"})
	f.orders[o.ID] = &cp
	return nil
}

func (f *fakeRepo) get(id uuid.UUID) (*order.Order, error) {
	o, ok := f.orders[id]
	if !ok {
		return nil, order.ErrOrderNotFound
	}
	return o, nil
}

func (f *fakeRepo) GetByID(ctx context.Context, id uuid.UUID) (*order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	o, err := f.get(id)
	if err != nil {
		return nil, err
	}
	cp := *o
	return &cp, nil
}

func (f *fakeRepo) GetByGatewayRef(ctx context.Context, gateway, ref string) (*order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, o := range f.orders {
		if o.Payment.Gateway == gateway && (o.Payment.IntentID == ref || o.Payment.GatewayOrderID == ref) {
			cp := *o
			return &cp, nil
		}
	}
	return nil, order.ErrOrderNotFound
}

func (f *fakeRepo) GetByAWB(ctx context.Context, awb string) (*order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, o := range f.orders {
		if awb != "" && o.Shipping.AWBCode == awb {
			cp := *o
			return &cp, nil
		}
	}
	return nil, order.ErrOrderNotFound
}

func (f *fakeRepo) ListByUser(ctx context.Context, userID uuid.UUID) ([]order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []order.Order
	for _, o := range f.orders {
		if o.UserID == userID {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeRepo) ListByStatus(ctx context.Context, status order.OrderStatus, limit int) ([]order.Order, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	var out []order.Order
	for _, o := range f.orders {
		if o.Status == status && len(out) < limit {
			out = append(out, *o)
		}
	}
	return out, nil
}

func (f *fakeRepo) AttachPaymentRef(ctx context.Context, orderID uuid.UUID, p order.Payment) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	o, err := f.get(orderID)
	if err != nil {
		return err
	}
	o.Payment.Gateway = p.Gateway
	o.Payment.IntentID = p.IntentID
	o.Payment.GatewayOrderID = p.GatewayOrderID
	return nil
}

func (f *fakeRepo) ConfirmPayment(ctx context.Context, orderID uuid.UUID, conf order.PaymentConfirmation) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	o, err := f.get(orderID)
	if err != nil {
		return false, err
	}
	if o.Payment.Status == order.PaymentCompleted || o.Status != order.StatusPlaced {
		return false, nil
	}

	now := time.Now()
	o.Payment.Status = order.PaymentCompleted
	o.Payment.Gateway = conf.Gateway
	o.Payment.PaymentID = conf.PaymentID
	o.Payment.PaidAt = &now
	o.Status = order.StatusConfirmed
	for _, item := range o.Items {
		f.decrements += item.Quantity
	}
	o.Tracking = append(o.Tracking, order.TrackingEvent{OrderID: orderID, Status: order.StatusConfirmed, Message: "Payment received, order confirmed", Actor: "system"})
	return true, nil
}

func (f *fakeRepo) MarkPaymentFailed(ctx context.Context, orderID uuid.UUID, reason string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	o, err := f.get(orderID)
	if err != nil {
		return err
	}
	if o.Payment.Status != order.PaymentPending {
		return nil
	}
	o.Payment.Status = order.PaymentFailed
	o.Status = order.StatusCancelled
	return nil
}

func (f *fakeRepo) SetRefund(ctx context.Context, orderID uuid.UUID, refundID string, partial bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	o, err := f.get(orderID)
	if err != nil {
		return err
	}
	o.Payment.RefundID = refundID
	if partial {
		o.Payment.Status = order.PaymentPartiallyRefunded
	} else {
		o.Payment.Status = order.PaymentRefunded
	}
	return nil
}

func (f *fakeRepo) ClaimShipment(ctx context.Context, orderID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	o, err := f.get(orderID)
	if err != nil {
		return err
	}
	if o.Shipping.ShiprocketOrderID != "" {
		return order.ErrShipmentExists
	}
	if claimedAt, ok := f.claims[orderID]; ok && time.Since(claimedAt) < order.ShipmentClaimTTL {
		return order.ErrShipmentExists
	}
	f.claims[orderID] = time.Now()
	return nil
}

func (f *fakeRepo) SettleShipment(ctx context.Context, orderID uuid.UUID, sh order.Shipping) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	o, err := f.get(orderID)
	if err != nil {
		return err
	}
	if _, ok := f.claims[orderID]; !ok || o.Shipping.ShiprocketOrderID != "" {
		return order.ErrNoShipmentClaim
	}
	o.Shipping = sh
	delete(f.claims, orderID)
	return nil
}

func (f *fakeRepo) ReleaseShipment(ctx context.Context, orderID uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if _, err := f.get(orderID); err != nil {
		return err
	}
	delete(f.claims, orderID)
	return nil
}

func (f *fakeRepo) UpdateAWB(ctx context.Context, orderID uuid.UUID, awb, courierName string, courierID int) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	o, err := f.get(orderID)
	if err != nil {
		return err
	}
	o.Shipping.AWBCode = awb
	o.Shipping.CourierName = courierName
	o.Shipping.CourierID = courierID
	return nil
}

func (f *fakeRepo) Transition(ctx context.Context, orderID uuid.UUID, from, to order.OrderStatus, message, actor string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	o, err := f.get(orderID)
	if err != nil {
		return err
	}
	if o.Status != from {
		return order.ErrStatusConflict
	}
	o.Status = to
	now := time.Now()
	switch to {
	case order.StatusShipped:
		if o.Shipping.ShippedAt == nil {
			o.Shipping.ShippedAt = &now
		}
	case order.StatusDelivered:
		if o.Shipping.DeliveredAt == nil {
			o.Shipping.DeliveredAt = &now
		}
	}
	o.Tracking = append(o.Tracking, order.TrackingEvent{OrderID: orderID, Status: to, Message: message, Actor: actor})
	return nil
}

func (f *fakeRepo) AppendTracking(ctx context.Context, orderID uuid.UUID, status order.OrderStatus, message, actor string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	o, err := f.get(orderID)
	if err != nil {
		return err
	}
	o.Tracking = append(o.Tracking, order.TrackingEvent{OrderID: orderID, Status: status, Message: message, Actor: actor})
	return nil
}

type mockCatalog struct {
	getByIDFunc func(ctx context.Context, id uuid.UUID) (*catalog.Product, error)
}

func (m *mockCatalog) GetByID(ctx context.Context, id uuid.UUID) (*catalog.Product, error) {
	return m.getByIDFunc(ctx, id)
}

type mockShipper struct {
	createCalls     int
	pickupCalls     int
	cancelledAWBs   []string
	createOrderFunc func(ctx context.Context, req shiprocket.OrderRequest) (*shiprocket.CreateOrderResult, error)
	retryAWBFunc    func(ctx context.Context, shipmentID, pickupPincode, deliveryPincode string, weightKg float64) (string, int, string, error)
}

func (m *mockShipper) CreateOrder(ctx context.Context, req shiprocket.OrderRequest) (*shiprocket.CreateOrderResult, error) {
	m.createCalls++
	if m.createOrderFunc != nil {
		return m.createOrderFunc(ctx, req)
	}
	return &shiprocket.CreateOrderResult{
		OrderID:     "SR-1001",
		ShipmentID:  "SH-2001",
		AWBCode:     "AWB123",
		CourierID:   24,
		CourierName: "Bluedart",
	}, nil
}

func (m *mockShipper) RequestPickup(ctx context.Context, shipmentID string) error {
	m.pickupCalls++
	return nil
}

func (m *mockShipper) CancelShipments(ctx context.Context, awbs []string) error {
	m.cancelledAWBs = append(m.cancelledAWBs, awbs...)
	return nil
}

func (m *mockShipper) RetryAWB(ctx context.Context, shipmentID, pickupPincode, deliveryPincode string, weightKg float64) (string, int, string, error) {
	if m.retryAWBFunc != nil {
		return m.retryAWBFunc(ctx, shipmentID, pickupPincode, deliveryPincode, weightKg)
	}
	return "AWB999", 24, "Bluedart", nil
}

type mockMailer struct {
	confirmations    int
	processing       int
	shipped          int
	failConfirmation bool
}

func (m *mockMailer) SendOrderConfirmation(ctx context.Context, o *order.Order) error {
	if m.failConfirmation {
		return errors.New("smtp: connection refused")
	}
	m.confirmations++
	return nil
}

func (m *mockMailer) SendOrderProcessing(ctx context.Context, o *order.Order) error {
	m.processing++
	return nil
}

func (m *mockMailer) SendOrderShipped(ctx context.Context, o *order.Order) error {
	m.shipped++
	return nil
}

type mockQueue struct {
	kinds []string
}

func (m *mockQueue) Enqueue(ctx context.Context, kind string, payload interface{}) error {
	m.kinds = append(m.kinds, kind)
	return nil
}

type mockRefunder struct {
	calls      int
	refundFunc func(ctx context.Context, o *order.Order, amount float64) (string, bool, error)
}

func (m *mockRefunder) RefundOrder(ctx context.Context, o *order.Order, amount float64) (string, bool, error) {
	m.calls++
	if m.refundFunc != nil {
		return m.refundFunc(ctx, o, amount)
	}
	return "rfnd_1", false, nil
}

type fixture struct {
	repo     *fakeRepo
	products *mockCatalog
	shipper  *mockShipper
	mailer   *mockMailer
	queue    *mockQueue
	refunder *mockRefunder
	svc      order.Service
}

func newFixture() *fixture {
	f := &fixture{
		repo:     newFakeRepo(),
		shipper:  &mockShipper{},
		mailer:   &mockMailer{},
		queue:    &mockQueue{},
		refunder: &mockRefunder{},
	}
	f.products = &mockCatalog{
		getByIDFunc: func(ctx context.Context, id uuid.UUID) (*catalog.Product, error) {
			return &catalog.Product{ID: id, Name: "Gold Bangle", SKU: "GB-1", Price: 2500, Stock: 10}, nil
		},
	}
	f.svc = order.NewService(f.repo, f.products, f.shipper, f.mailer, f.queue, f.refunder, "400001")
	return f
}

func (f *fixture) placedOrder(t *testing.T) *order.Order {
	t.Helper()

	productID, err := uuid.NewV4()
	require.NoError(t, err)
	userID, err := uuid.NewV4()
	require.NoError(t, err)

	o, err := f.svc.Checkout(context.Background(), order.CheckoutInput{
		UserID: userID,
		Items:  []order.CheckoutItem{{ProductID: productID, Quantity: 2}},
		Address: order.Address{
			Name:    "Asha Rao",
			Email:   "asha@example.com",
			Phone:   "9800000000",
			Line1:   "14 MG Road",
			City:    "Bengaluru",
			State:   "Karnataka",
			Pincode: "560001",
			Country: "India",
		},
	})
	require.NoError(t, err)
	return o
}

var manualPolicy = settings.ShipmentPolicy{DefaultPickupLocation: "Primary"}

var autoPolicy = settings.ShipmentPolicy{
	AutoCreateShipment:    true,
	DefaultPickupLocation: "Primary",
}

func TestService_Checkout(t *testing.T) {
	t.Run("computes_totals_and_snapshots_product", func(t *testing.T) {
		f := newFixture()
		o := f.placedOrder(t)

		assert.Equal(t, order.StatusPlaced, o.Status)
		assert.Equal(t, order.PaymentPending, o.Payment.Status)
		assert.Equal(t, 5000.0, o.Subtotal)
		assert.Equal(t, 5000.0, o.TotalAmount)
		assert.Equal(t, "INR", o.Currency)
		require.Len(t, o.Items, 1)
		assert.Equal(t, "Gold Bangle", o.Items[0].Name)
		assert.Equal(t, 2500.0, o.Items[0].UnitPrice)
		assert.NotEmpty(t, o.OrderNumber)
	})

	t.Run("empty_order_rejected", func(t *testing.T) {
		f := newFixture()
		userID, err := uuid.NewV4()
		require.NoError(t, err)

		_, err = f.svc.Checkout(context.Background(), order.CheckoutInput{UserID: userID})
		assert.ErrorIs(t, err, order.ErrEmptyOrder)
	})

	t.Run("insufficient_stock_rejected", func(t *testing.T) {
		f := newFixture()
		f.products.getByIDFunc = func(ctx context.Context, id uuid.UUID) (*catalog.Product, error) {
			return &catalog.Product{ID: id, Name: "Gold Bangle", Price: 2500, Stock: 1}, nil
		}

		productID, err := uuid.NewV4()
		require.NoError(t, err)
		userID, err := uuid.NewV4()
		require.NoError(t, err)

		_, err = f.svc.Checkout(context.Background(), order.CheckoutInput{
			UserID: userID,
			Items:  []order.CheckoutItem{{ProductID: productID, Quantity: 2}},
		})
		assert.ErrorIs(t, err, catalog.ErrInsufficientStock)
	})

	t.Run("variant_price_used", func(t *testing.T) {
		f := newFixture()
		f.products.getByIDFunc = func(ctx context.Context, id uuid.UUID) (*catalog.Product, error) {
			return &catalog.Product{
				ID: id, Name: "Gold Bangle", Price: 2500, Stock: 10,
				Variants: []catalog.Variant{{SKU: "GB-1-L", Price: 2800, Stock: 5}},
			}, nil
		}

		productID, err := uuid.NewV4()
		require.NoError(t, err)
		userID, err := uuid.NewV4()
		require.NoError(t, err)

		o, err := f.svc.Checkout(context.Background(), order.CheckoutInput{
			UserID: userID,
			Items:  []order.CheckoutItem{{ProductID: productID, VariantSKU: "GB-1-L", Quantity: 1}},
		})
		require.NoError(t, err)
		assert.Equal(t, 2800.0, o.Subtotal)

		_, err = f.svc.Checkout(context.Background(), order.CheckoutInput{
			UserID: userID,
			Items:  []order.CheckoutItem{{ProductID: productID, VariantSKU: "GB-1-XL", Quantity: 1}},
		})
		assert.ErrorIs(t, err, catalog.ErrVariantNotFound)
	})
}

func TestService_ConfirmPayment_Idempotent(t *testing.T) {
	f := newFixture()
	o := f.placedOrder(t)
	conf := order.PaymentConfirmation{Gateway: "razorpay", PaymentID: "pay_123"}

	first, err := f.svc.ConfirmPayment(context.Background(), o.ID, conf, manualPolicy)
	require.NoError(t, err)
	assert.False(t, first.AlreadyConfirmed)
	assert.Equal(t, order.OutcomeOK, first.Email)
	assert.Equal(t, 2, f.repo.decrements)
	assert.Equal(t, 1, f.mailer.confirmations)

	second, err := f.svc.ConfirmPayment(context.Background(), o.ID, conf, manualPolicy)
	require.NoError(t, err)
	assert.True(t, second.AlreadyConfirmed)
	assert.Equal(t, 2, f.repo.decrements, "stock must be decremented exactly once")
	assert.Equal(t, 1, f.mailer.confirmations)
}

func TestService_ConfirmPayment_CancelledOrder(t *testing.T) {
	f := newFixture()
	o := f.placedOrder(t)
	_, err := f.svc.Cancel(context.Background(), o.ID, "changed my mind", "customer")
	require.NoError(t, err)

	_, err = f.svc.ConfirmPayment(context.Background(), o.ID, order.PaymentConfirmation{Gateway: "razorpay"}, manualPolicy)
	assert.ErrorIs(t, err, order.ErrInvalidTransition)
}

func TestService_ConfirmPayment_AutoShipment(t *testing.T) {
	f := newFixture()
	o := f.placedOrder(t)

	result, err := f.svc.ConfirmPayment(context.Background(), o.ID, order.PaymentConfirmation{Gateway: "stripe", PaymentID: "pi_1"}, autoPolicy)
	require.NoError(t, err)
	require.NotNil(t, result.Shipment)
	assert.Equal(t, order.OutcomeOK, result.Shipment.Outcome)
	assert.Equal(t, "AWB123", result.Shipment.AWBCode)
	assert.Equal(t, 1, f.shipper.createCalls)
	assert.Equal(t, 1, f.mailer.processing)

	got, err := f.svc.GetOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusReadyToShip, got.Status)
	assert.Equal(t, "SR-1001", got.Shipping.ShiprocketOrderID)
}

func TestService_ConfirmPayment_ApprovalHoldsShipment(t *testing.T) {
	f := newFixture()
	o := f.placedOrder(t)
	policy := autoPolicy
	policy.RequireApproval = true

	result, err := f.svc.ConfirmPayment(context.Background(), o.ID, order.PaymentConfirmation{Gateway: "stripe"}, policy)
	require.NoError(t, err)
	assert.Nil(t, result.Shipment)
	assert.Equal(t, 0, f.shipper.createCalls)
}

func TestService_ConfirmPayment_EmailFailureGoesToOutbox(t *testing.T) {
	f := newFixture()
	f.mailer.failConfirmation = true
	o := f.placedOrder(t)

	result, err := f.svc.ConfirmPayment(context.Background(), o.ID, order.PaymentConfirmation{Gateway: "stripe"}, manualPolicy)
	require.NoError(t, err)
	assert.Equal(t, order.OutcomePartial, result.Email)
	assert.Contains(t, f.queue.kinds, outbox.KindConfirmationEmail)
}

func TestService_CreateShipment(t *testing.T) {
	t.Run("second_call_is_rejected_and_client_called_once", func(t *testing.T) {
		f := newFixture()
		o := f.placedOrder(t)
		_, err := f.svc.ConfirmPayment(context.Background(), o.ID, order.PaymentConfirmation{Gateway: "stripe"}, manualPolicy)
		require.NoError(t, err)

		first, err := f.svc.CreateShipment(context.Background(), o.ID, manualPolicy, "admin")
		require.NoError(t, err)
		assert.Equal(t, order.OutcomeOK, first.Outcome)

		_, err = f.svc.CreateShipment(context.Background(), o.ID, manualPolicy, "admin")
		assert.ErrorIs(t, err, order.ErrShipmentExists)
		assert.Equal(t, 1, f.shipper.createCalls)
	})

	t.Run("unpaid_order_rejected", func(t *testing.T) {
		f := newFixture()
		o := f.placedOrder(t)

		_, err := f.svc.CreateShipment(context.Background(), o.ID, manualPolicy, "admin")
		assert.ErrorIs(t, err, order.ErrInvalidTransition)
		assert.Equal(t, 0, f.shipper.createCalls)
	})

	t.Run("awb_failure_yields_partial_and_retry_task", func(t *testing.T) {
		f := newFixture()
		f.shipper.createOrderFunc = func(ctx context.Context, req shiprocket.OrderRequest) (*shiprocket.CreateOrderResult, error) {
			return &shiprocket.CreateOrderResult{
				OrderID:    "SR-1002",
				ShipmentID: "SH-2002",
				AWBErr:     errors.New("no couriers serviceable"),
			}, nil
		}
		o := f.placedOrder(t)
		_, err := f.svc.ConfirmPayment(context.Background(), o.ID, order.PaymentConfirmation{Gateway: "stripe"}, manualPolicy)
		require.NoError(t, err)

		outcome, err := f.svc.CreateShipment(context.Background(), o.ID, manualPolicy, "admin")
		require.NoError(t, err)
		assert.Equal(t, order.OutcomePartial, outcome.Outcome)
		assert.Empty(t, outcome.AWBCode)
		assert.Contains(t, f.queue.kinds, outbox.KindAWBGeneration)

		got, err := f.svc.GetOrder(context.Background(), o.ID)
		require.NoError(t, err)
		assert.Equal(t, order.StatusReadyToShip, got.Status)
	})

	t.Run("remote_failure_releases_claim", func(t *testing.T) {
		f := newFixture()
		remoteErr := &shiprocket.APIError{Status: 500, Message: "internal error"}
		f.shipper.createOrderFunc = func(ctx context.Context, req shiprocket.OrderRequest) (*shiprocket.CreateOrderResult, error) {
			return nil, remoteErr
		}
		o := f.placedOrder(t)
		_, err := f.svc.ConfirmPayment(context.Background(), o.ID, order.PaymentConfirmation{Gateway: "stripe"}, manualPolicy)
		require.NoError(t, err)

		_, err = f.svc.CreateShipment(context.Background(), o.ID, manualPolicy, "admin")
		require.Error(t, err)
		var apiErr *shiprocket.APIError
		assert.ErrorAs(t, err, &apiErr)

		// The slot is free again, so a retry succeeds.
		f.shipper.createOrderFunc = nil
		outcome, err := f.svc.CreateShipment(context.Background(), o.ID, manualPolicy, "admin")
		require.NoError(t, err)
		assert.Equal(t, order.OutcomeOK, outcome.Outcome)
	})

	t.Run("overlapping_claims_on_different_orders_both_succeed", func(t *testing.T) {
		f := newFixture()
		a := f.placedOrder(t)
		b := f.placedOrder(t)
		for _, o := range []*order.Order{a, b} {
			_, err := f.svc.ConfirmPayment(context.Background(), o.ID, order.PaymentConfirmation{Gateway: "stripe"}, manualPolicy)
			require.NoError(t, err)
		}

		// B's shipment is created while A's claim is still unsettled,
		// mid remote call.
		var bOutcome *order.ShipmentOutcome
		var bErr error
		f.shipper.createOrderFunc = func(ctx context.Context, req shiprocket.OrderRequest) (*shiprocket.CreateOrderResult, error) {
			f.shipper.createOrderFunc = func(ctx context.Context, req shiprocket.OrderRequest) (*shiprocket.CreateOrderResult, error) {
				return &shiprocket.CreateOrderResult{OrderID: "SR-2001", ShipmentID: "SH-3001", AWBCode: "AWB456", CourierID: 24, CourierName: "Bluedart"}, nil
			}
			bOutcome, bErr = f.svc.CreateShipment(ctx, b.ID, manualPolicy, "admin")
			return &shiprocket.CreateOrderResult{OrderID: "SR-1001", ShipmentID: "SH-2001", AWBCode: "AWB123", CourierID: 24, CourierName: "Bluedart"}, nil
		}

		aOutcome, err := f.svc.CreateShipment(context.Background(), a.ID, manualPolicy, "admin")
		require.NoError(t, err)
		require.NoError(t, bErr)
		assert.Equal(t, order.OutcomeOK, aOutcome.Outcome)
		assert.Equal(t, order.OutcomeOK, bOutcome.Outcome)
		assert.Equal(t, 2, f.shipper.createCalls)

		gotA, err := f.svc.GetOrder(context.Background(), a.ID)
		require.NoError(t, err)
		gotB, err := f.svc.GetOrder(context.Background(), b.ID)
		require.NoError(t, err)
		assert.Equal(t, "SR-1001", gotA.Shipping.ShiprocketOrderID)
		assert.Equal(t, "SR-2001", gotB.Shipping.ShiprocketOrderID)
	})

	t.Run("stale_claim_is_taken_over", func(t *testing.T) {
		f := newFixture()
		o := f.placedOrder(t)
		_, err := f.svc.ConfirmPayment(context.Background(), o.ID, order.PaymentConfirmation{Gateway: "stripe"}, manualPolicy)
		require.NoError(t, err)

		// A claim left behind by a crashed process: older than the TTL,
		// never settled or released.
		require.NoError(t, f.repo.ClaimShipment(context.Background(), o.ID))
		f.repo.mu.Lock()
		f.repo.claims[o.ID] = time.Now().Add(-order.ShipmentClaimTTL - time.Minute)
		f.repo.mu.Unlock()

		outcome, err := f.svc.CreateShipment(context.Background(), o.ID, manualPolicy, "admin")
		require.NoError(t, err)
		assert.Equal(t, order.OutcomeOK, outcome.Outcome)
	})
}

func TestService_ShipOrder(t *testing.T) {
	t.Run("ships_and_sets_shipped_at", func(t *testing.T) {
		f := newFixture()
		o := f.placedOrder(t)
		_, err := f.svc.ConfirmPayment(context.Background(), o.ID, order.PaymentConfirmation{Gateway: "stripe"}, autoPolicy)
		require.NoError(t, err)

		require.NoError(t, f.svc.ShipOrder(context.Background(), o.ID, "admin"))
		assert.Equal(t, 1, f.shipper.pickupCalls)
		assert.Equal(t, 1, f.mailer.shipped)

		got, err := f.svc.GetOrder(context.Background(), o.ID)
		require.NoError(t, err)
		assert.Equal(t, order.StatusShipped, got.Status)
		assert.NotNil(t, got.Shipping.ShippedAt)
	})

	t.Run("missing_awb_rejected", func(t *testing.T) {
		f := newFixture()
		f.shipper.createOrderFunc = func(ctx context.Context, req shiprocket.OrderRequest) (*shiprocket.CreateOrderResult, error) {
			return &shiprocket.CreateOrderResult{OrderID: "SR-1", ShipmentID: "SH-1", AWBErr: errors.New("awb failed")}, nil
		}
		o := f.placedOrder(t)
		_, err := f.svc.ConfirmPayment(context.Background(), o.ID, order.PaymentConfirmation{Gateway: "stripe"}, autoPolicy)
		require.NoError(t, err)

		err = f.svc.ShipOrder(context.Background(), o.ID, "admin")
		assert.ErrorIs(t, err, order.ErrAWBPending)
	})

	t.Run("wrong_status_rejected", func(t *testing.T) {
		f := newFixture()
		o := f.placedOrder(t)

		err := f.svc.ShipOrder(context.Background(), o.ID, "admin")
		assert.ErrorIs(t, err, order.ErrInvalidTransition)
		assert.Equal(t, 0, f.shipper.pickupCalls)
	})
}

func TestService_BulkShipOrders(t *testing.T) {
	f := newFixture()
	ready := f.placedOrder(t)
	_, err := f.svc.ConfirmPayment(context.Background(), ready.ID, order.PaymentConfirmation{Gateway: "stripe"}, autoPolicy)
	require.NoError(t, err)
	stuck := f.placedOrder(t)

	results := f.svc.BulkShipOrders(context.Background(), []uuid.UUID{ready.ID, stuck.ID}, "admin")
	require.Len(t, results, 2)
	assert.True(t, results[0].OK)
	assert.False(t, results[1].OK)
	assert.NotEmpty(t, results[1].Error)
}

func TestService_Cancel(t *testing.T) {
	t.Run("paid_order_is_refunded", func(t *testing.T) {
		f := newFixture()
		o := f.placedOrder(t)
		_, err := f.svc.ConfirmPayment(context.Background(), o.ID, order.PaymentConfirmation{Gateway: "razorpay", PaymentID: "pay_9"}, manualPolicy)
		require.NoError(t, err)

		result, err := f.svc.Cancel(context.Background(), o.ID, "damaged in warehouse", "admin")
		require.NoError(t, err)
		assert.Equal(t, order.OutcomeOK, result.Refund)
		assert.Equal(t, "rfnd_1", result.RefundID)
		assert.Equal(t, 1, f.refunder.calls)

		got, err := f.svc.GetOrder(context.Background(), o.ID)
		require.NoError(t, err)
		assert.Equal(t, order.StatusCancelled, got.Status)
		assert.Equal(t, order.PaymentRefunded, got.Payment.Status)
	})

	t.Run("unpaid_order_skips_refund", func(t *testing.T) {
		f := newFixture()
		o := f.placedOrder(t)

		result, err := f.svc.Cancel(context.Background(), o.ID, "", "customer")
		require.NoError(t, err)
		assert.Equal(t, order.OutcomeSkipped, result.Refund)
		assert.Equal(t, 0, f.refunder.calls)
	})

	t.Run("shipped_order_not_cancellable", func(t *testing.T) {
		f := newFixture()
		o := f.placedOrder(t)
		_, err := f.svc.ConfirmPayment(context.Background(), o.ID, order.PaymentConfirmation{Gateway: "stripe"}, autoPolicy)
		require.NoError(t, err)

		_, err = f.svc.Cancel(context.Background(), o.ID, "", "customer")
		assert.ErrorIs(t, err, order.ErrNotCancellable)
	})

	t.Run("refund_failure_does_not_undo_cancellation", func(t *testing.T) {
		f := newFixture()
		f.refunder.refundFunc = func(ctx context.Context, o *order.Order, amount float64) (string, bool, error) {
			return "", false, errors.New("gateway timeout")
		}
		o := f.placedOrder(t)
		_, err := f.svc.ConfirmPayment(context.Background(), o.ID, order.PaymentConfirmation{Gateway: "razorpay"}, manualPolicy)
		require.NoError(t, err)

		result, err := f.svc.Cancel(context.Background(), o.ID, "", "admin")
		require.NoError(t, err)
		assert.Equal(t, order.OutcomeFailed, result.Refund)

		got, err := f.svc.GetOrder(context.Background(), o.ID)
		require.NoError(t, err)
		assert.Equal(t, order.StatusCancelled, got.Status)
	})
}

func TestService_RecordRefund(t *testing.T) {
	f := newFixture()
	o := f.placedOrder(t)
	_, err := f.svc.ConfirmPayment(context.Background(), o.ID, order.PaymentConfirmation{Gateway: "stripe"}, manualPolicy)
	require.NoError(t, err)

	require.NoError(t, f.svc.RecordRefund(context.Background(), o.ID, "re_dash_1", true))

	got, err := f.svc.GetOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.PaymentPartiallyRefunded, got.Payment.Status)
	assert.Equal(t, "re_dash_1", got.Payment.RefundID)
}

func TestService_MarkReturned(t *testing.T) {
	deliver := func(t *testing.T, f *fixture, deliveredAt time.Time) *order.Order {
		t.Helper()
		o := f.placedOrder(t)
		_, err := f.svc.ConfirmPayment(context.Background(), o.ID, order.PaymentConfirmation{Gateway: "stripe"}, autoPolicy)
		require.NoError(t, err)
		require.NoError(t, f.svc.ShipOrder(context.Background(), o.ID, "admin"))
		require.NoError(t, f.repo.Transition(context.Background(), o.ID, order.StatusShipped, order.StatusDelivered, "Delivered", "shiprocket"))
		f.repo.mu.Lock()
		f.repo.orders[o.ID].Shipping.DeliveredAt = &deliveredAt
		f.repo.mu.Unlock()
		return o
	}

	t.Run("inside_window", func(t *testing.T) {
		f := newFixture()
		o := deliver(t, f, time.Now().Add(-3*24*time.Hour))

		got, err := f.svc.MarkReturned(context.Background(), o.ID, "admin")
		require.NoError(t, err)
		assert.Equal(t, order.StatusReturned, got.Status)
	})

	t.Run("window_closed", func(t *testing.T) {
		f := newFixture()
		o := deliver(t, f, time.Now().Add(-order.ReturnWindow-time.Second))

		_, err := f.svc.MarkReturned(context.Background(), o.ID, "admin")
		assert.ErrorIs(t, err, order.ErrReturnWindowClosed)
	})

	t.Run("not_delivered", func(t *testing.T) {
		f := newFixture()
		o := f.placedOrder(t)

		_, err := f.svc.MarkReturned(context.Background(), o.ID, "admin")
		assert.ErrorIs(t, err, order.ErrInvalidTransition)
	})
}

func TestService_ApplyTrackingUpdate(t *testing.T) {
	shippedOrder := func(t *testing.T, f *fixture) *order.Order {
		t.Helper()
		o := f.placedOrder(t)
		_, err := f.svc.ConfirmPayment(context.Background(), o.ID, order.PaymentConfirmation{Gateway: "stripe"}, autoPolicy)
		require.NoError(t, err)
		require.NoError(t, f.svc.ShipOrder(context.Background(), o.ID, "admin"))
		return o
	}

	t.Run("advances_through_table", func(t *testing.T) {
		f := newFixture()
		o := shippedOrder(t, f)

		require.NoError(t, f.svc.ApplyTrackingUpdate(context.Background(), "AWB123", "OUT FOR DELIVERY", "Bengaluru Hub"))
		got, err := f.svc.GetOrder(context.Background(), o.ID)
		require.NoError(t, err)
		assert.Equal(t, order.StatusOutForDelivery, got.Status)

		require.NoError(t, f.svc.ApplyTrackingUpdate(context.Background(), "AWB123", "Delivered", ""))
		got, err = f.svc.GetOrder(context.Background(), o.ID)
		require.NoError(t, err)
		assert.Equal(t, order.StatusDelivered, got.Status)
		assert.NotNil(t, got.Shipping.DeliveredAt)
	})

	t.Run("regression_ignored", func(t *testing.T) {
		f := newFixture()
		o := shippedOrder(t, f)
		require.NoError(t, f.svc.ApplyTrackingUpdate(context.Background(), "AWB123", "DELIVERED", ""))

		require.NoError(t, f.svc.ApplyTrackingUpdate(context.Background(), "AWB123", "IN TRANSIT", ""))
		got, err := f.svc.GetOrder(context.Background(), o.ID)
		require.NoError(t, err)
		assert.Equal(t, order.StatusDelivered, got.Status)
	})

	t.Run("unknown_status_recorded_in_tracking_only", func(t *testing.T) {
		f := newFixture()
		o := shippedOrder(t, f)

		require.NoError(t, f.svc.ApplyTrackingUpdate(context.Background(), "AWB123", "RTO INITIATED", "Mumbai"))
		got, err := f.svc.GetOrder(context.Background(), o.ID)
		require.NoError(t, err)
		assert.Equal(t, order.StatusShipped, got.Status)

		last := got.Tracking[len(got.Tracking)-1]
		assert.Contains(t, last.Message, "RTO INITIATED")
		assert.Equal(t, "shiprocket", last.Actor)
	})

	t.Run("unknown_awb", func(t *testing.T) {
		f := newFixture()
		err := f.svc.ApplyTrackingUpdate(context.Background(), "AWB-MISSING", "DELIVERED", "")
		assert.ErrorIs(t, err, order.ErrOrderNotFound)
	})
}

func TestService_UpdateStatus(t *testing.T) {
	f := newFixture()
	o := f.placedOrder(t)
	_, err := f.svc.ConfirmPayment(context.Background(), o.ID, order.PaymentConfirmation{Gateway: "stripe"}, manualPolicy)
	require.NoError(t, err)

	got, err := f.svc.UpdateStatus(context.Background(), o.ID, order.StatusProcessing, "admin")
	require.NoError(t, err)
	assert.Equal(t, order.StatusProcessing, got.Status)

	_, err = f.svc.UpdateStatus(context.Background(), o.ID, order.StatusDelivered, "admin")
	assert.ErrorIs(t, err, order.ErrInvalidTransition)
}

func TestService_Lifecycle(t *testing.T) {
	f := newFixture()
	o := f.placedOrder(t)

	result, err := f.svc.ConfirmPayment(context.Background(), o.ID, order.PaymentConfirmation{Gateway: "razorpay", PaymentID: "pay_lc"}, autoPolicy)
	require.NoError(t, err)
	assert.False(t, result.AlreadyConfirmed)
	require.NotNil(t, result.Shipment)
	assert.Equal(t, order.OutcomeOK, result.Shipment.Outcome)
	assert.Equal(t, 2, f.repo.decrements)

	require.NoError(t, f.svc.ShipOrder(context.Background(), o.ID, "admin"))
	require.NoError(t, f.svc.ApplyTrackingUpdate(context.Background(), "AWB123", "OUT FOR DELIVERY", ""))
	require.NoError(t, f.svc.ApplyTrackingUpdate(context.Background(), "AWB123", "DELIVERED", ""))

	got, err := f.svc.GetOrder(context.Background(), o.ID)
	require.NoError(t, err)
	assert.Equal(t, order.StatusDelivered, got.Status)
	assert.NotNil(t, got.Shipping.ShippedAt)
	assert.NotNil(t, got.Shipping.DeliveredAt)

	var statuses []order.OrderStatus
	for _, ev := range got.Tracking {
		statuses = append(statuses, ev.Status)
	}
	assert.Equal(t, []order.OrderStatus{
		order.StatusPlaced,
		order.StatusConfirmed,
		order.StatusReadyToShip,
		order.StatusShipped,
		order.StatusOutForDelivery,
		order.StatusDelivered,
	}, statuses)
}

func TestService_RunQueuedTask(t *testing.T) {
	t.Run("retries_awb_assignment", func(t *testing.T) {
		f := newFixture()
		f.shipper.createOrderFunc = func(ctx context.Context, req shiprocket.OrderRequest) (*shiprocket.CreateOrderResult, error) {
			return &shiprocket.CreateOrderResult{OrderID: "SR-1", ShipmentID: "SH-1", AWBErr: errors.New("awb failed")}, nil
		}
		o := f.placedOrder(t)
		_, err := f.svc.ConfirmPayment(context.Background(), o.ID, order.PaymentConfirmation{Gateway: "stripe"}, autoPolicy)
		require.NoError(t, err)

		err = f.svc.RunQueuedTask(context.Background(), outbox.KindAWBGeneration, order.TaskPayload{OrderID: o.ID})
		require.NoError(t, err)

		got, err := f.svc.GetOrder(context.Background(), o.ID)
		require.NoError(t, err)
		assert.Equal(t, "AWB999", got.Shipping.AWBCode)
		assert.Equal(t, "Bluedart", got.Shipping.CourierName)
	})

	t.Run("awb_retry_is_noop_when_assigned", func(t *testing.T) {
		f := newFixture()
		retried := false
		f.shipper.retryAWBFunc = func(ctx context.Context, shipmentID, pickupPincode, deliveryPincode string, weightKg float64) (string, int, string, error) {
			retried = true
			return "", 0, "", errors.New("should not be called")
		}
		o := f.placedOrder(t)
		_, err := f.svc.ConfirmPayment(context.Background(), o.ID, order.PaymentConfirmation{Gateway: "stripe"}, autoPolicy)
		require.NoError(t, err)

		require.NoError(t, f.svc.RunQueuedTask(context.Background(), outbox.KindAWBGeneration, order.TaskPayload{OrderID: o.ID}))
		assert.False(t, retried)
	})

	t.Run("resends_email", func(t *testing.T) {
		f := newFixture()
		o := f.placedOrder(t)

		require.NoError(t, f.svc.RunQueuedTask(context.Background(), outbox.KindConfirmationEmail, order.TaskPayload{OrderID: o.ID}))
		assert.Equal(t, 1, f.mailer.confirmations)
	})

	t.Run("unknown_kind", func(t *testing.T) {
		f := newFixture()
		o := f.placedOrder(t)

		err := f.svc.RunQueuedTask(context.Background(), "email_unknown", order.TaskPayload{OrderID: o.ID})
		assert.Error(t, err)
	})
}
