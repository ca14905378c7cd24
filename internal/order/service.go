package order

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/bangleworld/orderflow/internal/catalog"
	"github.com/bangleworld/orderflow/internal/outbox"
	"github.com/bangleworld/orderflow/internal/settings"
	"github.com/bangleworld/orderflow/internal/shipping/shiprocket"
)

var (
	ErrInvalidTransition  = errors.New("invalid order status transition")
	ErrNotCancellable     = errors.New("order can no longer be cancelled")
	ErrReturnWindowClosed = errors.New("return window has closed")
	ErrAWBPending         = errors.New("shipment has no awb assigned yet")
	ErrEmptyOrder         = errors.New("order has no items")
)

// Outcome reports how a best-effort side effect went. Failed side
// effects land in the outbox for retry rather than failing the main
// operation.
type Outcome string

const (
	OutcomeOK      Outcome = "ok"
	OutcomePartial Outcome = "partial"
	OutcomeFailed  Outcome = "failed"
	OutcomeSkipped Outcome = "skipped"
)

type ConfirmResult struct {
	Order            *Order           `json:"order"`
	AlreadyConfirmed bool             `json:"already_confirmed"`
	Email            Outcome          `json:"email"`
	Shipment         *ShipmentOutcome `json:"shipment,omitempty"`
}

type ShipmentOutcome struct {
	Outcome     Outcome `json:"outcome"`
	AWBCode     string  `json:"awb_code,omitempty"`
	CourierName string  `json:"courier_name,omitempty"`
	Error       string  `json:"error,omitempty"`
}

type CancelResult struct {
	Order    *Order  `json:"order"`
	RefundID string  `json:"refund_id,omitempty"`
	Refund   Outcome `json:"refund"`
}

type BulkResult struct {
	OrderID uuid.UUID `json:"order_id"`
	OK      bool      `json:"ok"`
	Error   string    `json:"error,omitempty"`
}

type CheckoutItem struct {
	ProductID  uuid.UUID `json:"product_id" validate:"required"`
	VariantSKU string    `json:"variant_sku"`
	Quantity   int       `json:"quantity" validate:"required,gt=0"`
}

type CheckoutInput struct {
	UserID       uuid.UUID
	Items        []CheckoutItem
	Address      Address
	Currency     string
	ShippingCost float64
	Tax          float64
	Discount     float64
}

// TaskPayload is the outbox payload shared by every queued order task.
type TaskPayload struct {
	OrderID uuid.UUID `json:"order_id"`
}

// Mailer sends lifecycle emails. Implementations must be safe for
// concurrent use.
type Mailer interface {
	SendOrderConfirmation(ctx context.Context, o *Order) error
	SendOrderProcessing(ctx context.Context, o *Order) error
	SendOrderShipped(ctx context.Context, o *Order) error
}

// ShipmentGateway is the slice of the logistics client the service
// needs.
type ShipmentGateway interface {
	CreateOrder(ctx context.Context, req shiprocket.OrderRequest) (*shiprocket.CreateOrderResult, error)
	RequestPickup(ctx context.Context, shipmentID string) error
	CancelShipments(ctx context.Context, awbs []string) error
	RetryAWB(ctx context.Context, shipmentID, pickupPincode, deliveryPincode string, weightKg float64) (awb string, courierID int, courierName string, err error)
}

// Refunder reverses a completed payment through whichever gateway
// collected it.
type Refunder interface {
	RefundOrder(ctx context.Context, o *Order, amount float64) (refundID string, partial bool, err error)
}

type Service interface {
	Checkout(ctx context.Context, input CheckoutInput) (*Order, error)
	GetOrder(ctx context.Context, id uuid.UUID) (*Order, error)
	GetOrderByGatewayRef(ctx context.Context, gateway, ref string) (*Order, error)
	ListUserOrders(ctx context.Context, userID uuid.UUID) ([]Order, error)
	ListOrdersByStatus(ctx context.Context, status OrderStatus, limit int) ([]Order, error)

	AttachPaymentRef(ctx context.Context, orderID uuid.UUID, p Payment) error
	ConfirmPayment(ctx context.Context, orderID uuid.UUID, conf PaymentConfirmation, policy settings.ShipmentPolicy) (*ConfirmResult, error)
	FailPayment(ctx context.Context, orderID uuid.UUID, reason string) error
	RecordRefund(ctx context.Context, orderID uuid.UUID, refundID string, partial bool) error

	CreateShipment(ctx context.Context, orderID uuid.UUID, policy settings.ShipmentPolicy, actor string) (*ShipmentOutcome, error)
	ShipOrder(ctx context.Context, orderID uuid.UUID, actor string) error
	BulkCreateShipments(ctx context.Context, orderIDs []uuid.UUID, policy settings.ShipmentPolicy, actor string) []BulkResult
	BulkShipOrders(ctx context.Context, orderIDs []uuid.UUID, actor string) []BulkResult

	Cancel(ctx context.Context, orderID uuid.UUID, reason, actor string) (*CancelResult, error)
	MarkReturned(ctx context.Context, orderID uuid.UUID, actor string) (*Order, error)
	ApplyTrackingUpdate(ctx context.Context, awb, providerStatus, location string) error
	UpdateStatus(ctx context.Context, orderID uuid.UUID, next OrderStatus, actor string) (*Order, error)

	RunQueuedTask(ctx context.Context, kind string, payload TaskPayload) error
}

// Package defaults used when an order carries no explicit dimensions.
// Shiprocket rejects zero-weight shipments.
const (
	defaultItemWeightKg = 0.5
	defaultLengthCm     = 12
	defaultWidthCm      = 12
	defaultHeightCm     = 8
)

type service struct {
	repo          Repository
	products      catalog.Repository
	shipping      ShipmentGateway
	mailer        Mailer
	queue         outbox.Queue
	refunder      Refunder
	pickupPincode string
}

func NewService(repo Repository, products catalog.Repository, shipping ShipmentGateway, mailer Mailer, queue outbox.Queue, refunder Refunder, pickupPincode string) Service {
	return &service{
		repo:          repo,
		products:      products,
		shipping:      shipping,
		mailer:        mailer,
		queue:         queue,
		refunder:      refunder,
		pickupPincode: pickupPincode,
	}
}

func (s *service) Checkout(ctx context.Context, input CheckoutInput) (*Order, error) {
	if len(input.Items) == 0 {
		return nil, ErrEmptyOrder
	}

	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("service: failed to generate order id: %w", err)
	}

	o := &Order{
		ID:           id,
		OrderNumber:  NewOrderNumber(time.Now()),
		UserID:       input.UserID,
		Status:       StatusPlaced,
		Currency:     input.Currency,
		ShippingCost: input.ShippingCost,
		Tax:          input.Tax,
		Discount:     input.Discount,
		Address:      input.Address,
		Payment:      Payment{Status: PaymentPending},
	}
	if o.Currency == "" {
		o.Currency = "INR"
	}

	for _, line := range input.Items {
		p, err := s.products.GetByID(ctx, line.ProductID)
		if err != nil {
			return nil, err
		}

		price := p.Price
		stock := p.Stock
		if line.VariantSKU != "" {
			variant, ok := findVariant(p, line.VariantSKU)
			if !ok {
				return nil, catalog.ErrVariantNotFound
			}
			price = variant.Price
			stock = variant.Stock
		}
		// Soft availability check; the authoritative guarded decrement
		// happens when the payment completes.
		if stock < line.Quantity {
			return nil, catalog.ErrInsufficientStock
		}

		o.Items = append(o.Items, OrderItem{
			ProductID:  p.ID,
			VariantSKU: line.VariantSKU,
			Name:       p.Name,
			ImageURL:   p.ImageURL,
			Quantity:   line.Quantity,
			UnitPrice:  price,
			Subtotal:   price * float64(line.Quantity),
		})
		o.Subtotal += price * float64(line.Quantity)
	}
	o.TotalAmount = o.Subtotal + o.ShippingCost + o.Tax - o.Discount

	if err := s.repo.Create(ctx, o); err != nil {
		return nil, err
	}

	log.Info().
		Stringer("order_id", o.ID).
		Str("order_number", o.OrderNumber).
		Float64("total", o.TotalAmount).
		Msg("Order placed")
	return o, nil
}

func findVariant(p *catalog.Product, sku string) (catalog.Variant, bool) {
	for _, v := range p.Variants {
		if v.SKU == sku {
			return v, true
		}
	}
	return catalog.Variant{}, false
}

func (s *service) GetOrder(ctx context.Context, id uuid.UUID) (*Order, error) {
	return s.repo.GetByID(ctx, id)
}

func (s *service) GetOrderByGatewayRef(ctx context.Context, gateway, ref string) (*Order, error) {
	return s.repo.GetByGatewayRef(ctx, gateway, ref)
}

func (s *service) ListUserOrders(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	return s.repo.ListByUser(ctx, userID)
}

func (s *service) ListOrdersByStatus(ctx context.Context, status OrderStatus, limit int) ([]Order, error) {
	if limit <= 0 || limit > 200 {
		limit = 50
	}
	return s.repo.ListByStatus(ctx, status, limit)
}

func (s *service) AttachPaymentRef(ctx context.Context, orderID uuid.UUID, p Payment) error {
	return s.repo.AttachPaymentRef(ctx, orderID, p)
}

func (s *service) ConfirmPayment(ctx context.Context, orderID uuid.UUID, conf PaymentConfirmation, policy settings.ShipmentPolicy) (*ConfirmResult, error) {
	confirmed, err := s.repo.ConfirmPayment(ctx, orderID, conf)
	if err != nil {
		return nil, err
	}

	o, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}

	if !confirmed {
		if o.Payment.Status == PaymentCompleted {
			// Duplicate webhook delivery or verify-plus-webhook race.
			return &ConfirmResult{Order: o, AlreadyConfirmed: true, Email: OutcomeSkipped}, nil
		}
		return nil, fmt.Errorf("service: cannot confirm payment for order in status %q: %w", o.Status, ErrInvalidTransition)
	}

	result := &ConfirmResult{Order: o, Email: OutcomeOK}
	if err := s.mailer.SendOrderConfirmation(ctx, o); err != nil {
		result.Email = s.deferTask(ctx, outbox.KindConfirmationEmail, o.ID, "confirmation email", err)
	}

	if policy.AutoCreateShipment && !policy.RequireApproval {
		shipment, err := s.CreateShipment(ctx, orderID, policy, "system")
		if err != nil {
			log.Error().Err(err).Stringer("order_id", orderID).Msg("Automatic shipment creation failed")
			result.Shipment = &ShipmentOutcome{Outcome: OutcomeFailed, Error: err.Error()}
		} else {
			result.Shipment = shipment
		}
		if o, err := s.repo.GetByID(ctx, orderID); err == nil {
			result.Order = o
		}
	}

	log.Info().
		Stringer("order_id", orderID).
		Str("gateway", conf.Gateway).
		Msg("Payment confirmed")
	return result, nil
}

// deferTask queues a retry for a failed side effect and reports the
// outcome. A task that cannot even be queued is Failed, not Partial.
func (s *service) deferTask(ctx context.Context, kind string, orderID uuid.UUID, what string, cause error) Outcome {
	log.Warn().Err(cause).Stringer("order_id", orderID).Msgf("Deferring %s to outbox", what)

	if err := s.queue.Enqueue(ctx, kind, TaskPayload{OrderID: orderID}); err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msgf("Failed to enqueue %s retry", what)
		return OutcomeFailed
	}
	return OutcomePartial
}

func (s *service) FailPayment(ctx context.Context, orderID uuid.UUID, reason string) error {
	if err := s.repo.MarkPaymentFailed(ctx, orderID, reason); err != nil {
		return err
	}
	log.Info().Stringer("order_id", orderID).Str("reason", reason).Msg("Payment failed")
	return nil
}

// RecordRefund stores a refund that was issued outside the cancellation flow,
// for example from the gateway dashboard.
func (s *service) RecordRefund(ctx context.Context, orderID uuid.UUID, refundID string, partial bool) error {
	if err := s.repo.SetRefund(ctx, orderID, refundID, partial); err != nil {
		return err
	}
	o, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	message := "Refund issued"
	if partial {
		message = "Partial refund issued"
	}
	if err := s.repo.AppendTracking(ctx, orderID, o.Status, message, "gateway"); err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Msg("Failed to append refund tracking entry")
	}
	log.Info().Stringer("order_id", orderID).Str("refund_id", refundID).Bool("partial", partial).Msg("Refund recorded")
	return nil
}

func (s *service) CreateShipment(ctx context.Context, orderID uuid.UUID, policy settings.ShipmentPolicy, actor string) (*ShipmentOutcome, error) {
	o, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Payment.Status != PaymentCompleted {
		return nil, fmt.Errorf("service: order %s is not paid: %w", o.OrderNumber, ErrInvalidTransition)
	}
	if !o.Status.CanTransitionTo(StatusReadyToShip) {
		return nil, fmt.Errorf("service: cannot create shipment for order in status %q: %w", o.Status, ErrInvalidTransition)
	}

	// Reserve the single shipment slot before any remote call so a
	// concurrent request cannot create a second remote order.
	if err := s.repo.ClaimShipment(ctx, orderID); err != nil {
		return nil, err
	}

	req := s.shipmentRequest(o, policy)
	res, err := s.shipping.CreateOrder(ctx, req)
	if err != nil {
		if relErr := s.repo.ReleaseShipment(ctx, orderID); relErr != nil {
			log.Error().Err(relErr).Stringer("order_id", orderID).Msg("Failed to release shipment claim")
		}
		return nil, fmt.Errorf("service: failed to create shipment for order %s: %w", o.OrderNumber, err)
	}

	sh := Shipping{
		ShiprocketOrderID: res.OrderID,
		ShipmentID:        res.ShipmentID,
		AWBCode:           res.AWBCode,
		CourierID:         res.CourierID,
		CourierName:       res.CourierName,
		PickupLocation:    req.PickupLocation,
		WeightKg:          req.WeightKg,
		LengthCm:          req.LengthCm,
		WidthCm:           req.WidthCm,
		HeightCm:          req.HeightCm,
	}
	if err := s.repo.SettleShipment(ctx, orderID, sh); err != nil {
		return nil, err
	}

	message := "Shipment created"
	if res.CourierName != "" {
		message = "Shipment created via " + res.CourierName
	}
	if err := s.repo.Transition(ctx, orderID, o.Status, StatusReadyToShip, message, actor); err != nil {
		return nil, err
	}

	o.Status = StatusReadyToShip
	o.Shipping = sh
	outcome := &ShipmentOutcome{Outcome: OutcomeOK, AWBCode: res.AWBCode, CourierName: res.CourierName}

	if res.AWBErr != nil {
		outcome.Outcome = s.deferTask(ctx, outbox.KindAWBGeneration, orderID, "awb assignment", res.AWBErr)
		outcome.Error = res.AWBErr.Error()
	}

	if err := s.mailer.SendOrderProcessing(ctx, o); err != nil {
		deferred := s.deferTask(ctx, outbox.KindProcessingEmail, orderID, "processing email", err)
		if outcome.Outcome == OutcomeOK {
			outcome.Outcome = deferred
		}
	}

	log.Info().
		Stringer("order_id", orderID).
		Str("shiprocket_order_id", res.OrderID).
		Str("awb", res.AWBCode).
		Msg("Shipment created")
	return outcome, nil
}

func (s *service) shipmentRequest(o *Order, policy settings.ShipmentPolicy) shiprocket.OrderRequest {
	items := make([]shiprocket.OrderItem, 0, len(o.Items))
	totalQty := 0
	for _, it := range o.Items {
		sku := it.VariantSKU
		if sku == "" {
			sku = it.ProductID.String()
		}
		items = append(items, shiprocket.OrderItem{
			Name:    it.Name,
			SKU:     sku,
			Units:   it.Quantity,
			Selling: it.UnitPrice,
		})
		totalQty += it.Quantity
	}

	return shiprocket.OrderRequest{
		OrderID:           o.OrderNumber,
		OrderDate:         o.CreatedAt.Format("2006-01-02 15:04"),
		PickupLocation:    policy.DefaultPickupLocation,
		BillingName:       o.Address.Name,
		BillingAddress:    strings.TrimSpace(o.Address.Line1 + " " + o.Address.Line2),
		BillingCity:       o.Address.City,
		BillingState:      o.Address.State,
		BillingPincode:    o.Address.Pincode,
		BillingCountry:    o.Address.Country,
		BillingEmail:      o.Address.Email,
		BillingPhone:      o.Address.Phone,
		ShippingIsBilling: true,
		Items:             items,
		PaymentMethod:     "Prepaid",
		SubTotal:          o.Subtotal,
		WeightKg:          defaultItemWeightKg * float64(totalQty),
		LengthCm:          defaultLengthCm,
		WidthCm:           defaultWidthCm,
		HeightCm:          defaultHeightCm,
		PickupPincode:     s.pickupPincode,
	}
}

func (s *service) ShipOrder(ctx context.Context, orderID uuid.UUID, actor string) error {
	o, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return err
	}
	if !o.Status.CanTransitionTo(StatusShipped) {
		return fmt.Errorf("service: cannot ship order in status %q: %w", o.Status, ErrInvalidTransition)
	}
	if o.Shipping.AWBCode == "" {
		return ErrAWBPending
	}

	if err := s.shipping.RequestPickup(ctx, o.Shipping.ShipmentID); err != nil {
		return fmt.Errorf("service: failed to request pickup for order %s: %w", o.OrderNumber, err)
	}

	message := "Pickup scheduled with " + o.Shipping.CourierName
	if err := s.repo.Transition(ctx, orderID, o.Status, StatusShipped, message, actor); err != nil {
		return err
	}

	o.Status = StatusShipped
	if err := s.mailer.SendOrderShipped(ctx, o); err != nil {
		s.deferTask(ctx, outbox.KindShippedEmail, orderID, "shipped email", err)
	}

	log.Info().Stringer("order_id", orderID).Str("awb", o.Shipping.AWBCode).Msg("Order shipped")
	return nil
}

func (s *service) BulkCreateShipments(ctx context.Context, orderIDs []uuid.UUID, policy settings.ShipmentPolicy, actor string) []BulkResult {
	results := make([]BulkResult, 0, len(orderIDs))
	for _, id := range orderIDs {
		r := BulkResult{OrderID: id, OK: true}
		if _, err := s.CreateShipment(ctx, id, policy, actor); err != nil {
			r.OK = false
			r.Error = err.Error()
		}
		results = append(results, r)
	}
	return results
}

func (s *service) BulkShipOrders(ctx context.Context, orderIDs []uuid.UUID, actor string) []BulkResult {
	results := make([]BulkResult, 0, len(orderIDs))
	for _, id := range orderIDs {
		r := BulkResult{OrderID: id, OK: true}
		if err := s.ShipOrder(ctx, id, actor); err != nil {
			r.OK = false
			r.Error = err.Error()
		}
		results = append(results, r)
	}
	return results
}

func (s *service) Cancel(ctx context.Context, orderID uuid.UUID, reason, actor string) (*CancelResult, error) {
	o, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !o.CanBeCancelled() {
		return nil, ErrNotCancellable
	}

	if o.HasRemoteShipment() && o.Shipping.AWBCode != "" {
		if err := s.shipping.CancelShipments(ctx, []string{o.Shipping.AWBCode}); err != nil {
			log.Error().Err(err).Stringer("order_id", orderID).Msg("Failed to cancel remote shipment")
		}
	}

	message := "Order cancelled"
	if reason != "" {
		message = "Order cancelled: " + reason
	}
	if err := s.repo.Transition(ctx, orderID, o.Status, StatusCancelled, message, actor); err != nil {
		return nil, err
	}
	o.Status = StatusCancelled

	result := &CancelResult{Order: o, Refund: OutcomeSkipped}
	if o.Payment.Status == PaymentCompleted {
		refundID, partial, err := s.refunder.RefundOrder(ctx, o, 0)
		if err != nil {
			// The cancellation stands; the refund needs manual
			// follow-up through the gateway dashboard.
			log.Error().Err(err).Stringer("order_id", orderID).Msg("Refund failed after cancellation")
			result.Refund = OutcomeFailed
		} else {
			if err := s.repo.SetRefund(ctx, orderID, refundID, partial); err != nil {
				return nil, err
			}
			result.RefundID = refundID
			result.Refund = OutcomeOK
		}
	}

	log.Info().Stringer("order_id", orderID).Str("reason", reason).Msg("Order cancelled")
	return result, nil
}

func (s *service) MarkReturned(ctx context.Context, orderID uuid.UUID, actor string) (*Order, error) {
	o, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusDelivered {
		return nil, fmt.Errorf("service: cannot return order in status %q: %w", o.Status, ErrInvalidTransition)
	}
	if !o.CanBeReturned() {
		return nil, ErrReturnWindowClosed
	}

	if err := s.repo.Transition(ctx, orderID, StatusDelivered, StatusReturned, "Return accepted", actor); err != nil {
		return nil, err
	}
	o.Status = StatusReturned

	log.Info().Stringer("order_id", orderID).Msg("Order returned")
	return o, nil
}

// providerStatusMap translates courier scan statuses into lifecycle
// statuses. Anything absent lands in tracking only.
var providerStatusMap = map[string]OrderStatus{
	"PICKED UP":        StatusShipped,
	"PICKUP COMPLETE":  StatusShipped,
	"SHIPPED":          StatusShipped,
	"IN TRANSIT":       StatusShipped,
	"OUT FOR DELIVERY": StatusOutForDelivery,
	"DELIVERED":        StatusDelivered,
}

func (s *service) ApplyTrackingUpdate(ctx context.Context, awb, providerStatus, location string) error {
	o, err := s.repo.GetByAWB(ctx, awb)
	if err != nil {
		return err
	}

	normalized := strings.ToUpper(strings.TrimSpace(providerStatus))
	message := "Courier update: " + normalized
	if location != "" {
		message += " at " + location
	}

	next, known := providerStatusMap[normalized]
	if !known {
		return s.repo.AppendTracking(ctx, o.ID, o.Status, message, "shiprocket")
	}
	if next == o.Status {
		return s.repo.AppendTracking(ctx, o.ID, o.Status, message, "shiprocket")
	}
	if !o.Status.CanTransitionTo(next) {
		// Couriers replay and reorder scans; a regression never moves
		// the order backwards.
		log.Warn().
			Stringer("order_id", o.ID).
			Str("provider_status", normalized).
			Str("current", string(o.Status)).
			Msg("Ignoring out-of-order courier status")
		return s.repo.AppendTracking(ctx, o.ID, o.Status, message, "shiprocket")
	}

	return s.repo.Transition(ctx, o.ID, o.Status, next, message, "shiprocket")
}

func (s *service) UpdateStatus(ctx context.Context, orderID uuid.UUID, next OrderStatus, actor string) (*Order, error) {
	o, err := s.repo.GetByID(ctx, orderID)
	if err != nil {
		return nil, err
	}
	if !o.Status.CanTransitionTo(next) {
		return nil, fmt.Errorf("service: transition %q -> %q not allowed: %w", o.Status, next, ErrInvalidTransition)
	}

	if err := s.repo.Transition(ctx, orderID, o.Status, next, "Status updated", actor); err != nil {
		return nil, err
	}
	o.Status = next

	log.Info().Stringer("order_id", orderID).Str("status", string(next)).Msg("Order status updated")
	return o, nil
}

// RunQueuedTask executes one outbox task. It is invoked by the worker,
// so every branch must be safe to re-run.
func (s *service) RunQueuedTask(ctx context.Context, kind string, payload TaskPayload) error {
	o, err := s.repo.GetByID(ctx, payload.OrderID)
	if err != nil {
		return err
	}

	switch kind {
	case outbox.KindConfirmationEmail:
		return s.mailer.SendOrderConfirmation(ctx, o)
	case outbox.KindProcessingEmail:
		return s.mailer.SendOrderProcessing(ctx, o)
	case outbox.KindShippedEmail:
		return s.mailer.SendOrderShipped(ctx, o)
	case outbox.KindAWBGeneration:
		return s.retryAWB(ctx, o)
	default:
		return fmt.Errorf("service: unknown queued task kind %q", kind)
	}
}

func (s *service) retryAWB(ctx context.Context, o *Order) error {
	if o.Shipping.AWBCode != "" {
		return nil
	}
	if !o.HasRemoteShipment() {
		return fmt.Errorf("service: order %s has no shipment to assign an awb to", o.OrderNumber)
	}

	awb, courierID, courierName, err := s.shipping.RetryAWB(ctx, o.Shipping.ShipmentID, s.pickupPincode, o.Address.Pincode, o.Shipping.WeightKg)
	if err != nil {
		return err
	}

	if err := s.repo.UpdateAWB(ctx, o.ID, awb, courierName, courierID); err != nil {
		return err
	}
	return s.repo.AppendTracking(ctx, o.ID, o.Status, "AWB "+awb+" assigned via "+courierName, "system")
}
