package order

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/gofrs/uuid"
)

type OrderStatus string

const (
	StatusPlaced         OrderStatus = "placed"
	StatusConfirmed      OrderStatus = "confirmed"
	StatusProcessing     OrderStatus = "processing"
	StatusReadyToShip    OrderStatus = "ready_to_ship"
	StatusShipped        OrderStatus = "shipped"
	StatusOutForDelivery OrderStatus = "out_for_delivery"
	StatusDelivered      OrderStatus = "delivered"
	StatusCancelled      OrderStatus = "cancelled"
	StatusReturned       OrderStatus = "returned"
)

func (os OrderStatus) String() string {
	return string(os)
}

type PaymentStatus string

const (
	PaymentPending           PaymentStatus = "pending"
	PaymentCompleted         PaymentStatus = "completed"
	PaymentFailed            PaymentStatus = "failed"
	PaymentRefunded          PaymentStatus = "refunded"
	PaymentPartiallyRefunded PaymentStatus = "partially_refunded"
)

func (ps PaymentStatus) String() string {
	return string(ps)
}

// allowedTransitions is the single authority on order lifecycle moves.
// Every caller (payment confirm, admin action, provider webhook) goes
// through CanTransitionTo; nothing writes a status outside this table.
var allowedTransitions = map[OrderStatus]map[OrderStatus]bool{
	StatusPlaced: {
		StatusConfirmed: true,
		StatusCancelled: true,
	},
	StatusConfirmed: {
		StatusProcessing:  true,
		StatusReadyToShip: true,
		StatusCancelled:   true,
	},
	StatusProcessing: {
		StatusReadyToShip: true,
		StatusCancelled:   true,
	},
	StatusReadyToShip: {
		StatusShipped: true,
	},
	StatusShipped: {
		StatusOutForDelivery: true,
		StatusDelivered:      true, // some couriers never report an out-for-delivery scan
	},
	StatusOutForDelivery: {
		StatusDelivered: true,
	},
	StatusDelivered: {
		StatusReturned: true,
	},
	StatusCancelled: {},
	StatusReturned:  {},
}

// CanTransitionTo reports whether moving from os to next is a legal
// lifecycle transition.
func (os OrderStatus) CanTransitionTo(next OrderStatus) bool {
	return allowedTransitions[os][next]
}

// ReturnWindow is how long after delivery an order may still be returned.
const ReturnWindow = 7 * 24 * time.Hour

type OrderItem struct {
	ID         uuid.UUID `json:"id" db:"id"`
	OrderID    uuid.UUID `json:"order_id" db:"order_id"`
	ProductID  uuid.UUID `json:"product_id" db:"product_id"`
	VariantSKU string    `json:"variant_sku,omitempty" db:"variant_sku"`
	// Name and ImageURL are snapshots taken at order time so history
	// survives later catalog edits.
	Name      string    `json:"name" db:"name"`
	ImageURL  string    `json:"image_url,omitempty" db:"image_url"`
	Quantity  int       `json:"quantity" db:"quantity"`
	UnitPrice float64   `json:"unit_price" db:"unit_price"`
	Subtotal  float64   `json:"subtotal" db:"subtotal"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
}

type Payment struct {
	Status         PaymentStatus `json:"status" db:"payment_status"`
	Gateway        string        `json:"gateway,omitempty" db:"payment_gateway"`
	IntentID       string        `json:"intent_id,omitempty" db:"payment_intent_id"`
	GatewayOrderID string        `json:"gateway_order_id,omitempty" db:"payment_gateway_order_id"`
	PaymentID      string        `json:"payment_id,omitempty" db:"payment_payment_id"`
	Signature      string        `json:"-" db:"payment_signature"`
	RefundID       string        `json:"refund_id,omitempty" db:"payment_refund_id"`
	PaidAt         *time.Time    `json:"paid_at,omitempty" db:"payment_paid_at"`
}

type Shipping struct {
	ShiprocketOrderID string     `json:"shiprocket_order_id,omitempty" db:"shipping_shiprocket_order_id"`
	ShipmentID        string     `json:"shipment_id,omitempty" db:"shipping_shipment_id"`
	AWBCode           string     `json:"awb_code,omitempty" db:"shipping_awb_code"`
	CourierID         int        `json:"courier_id,omitempty" db:"shipping_courier_id"`
	CourierName       string     `json:"courier_name,omitempty" db:"shipping_courier_name"`
	PickupLocation    string     `json:"pickup_location,omitempty" db:"shipping_pickup_location"`
	WeightKg          float64    `json:"weight_kg,omitempty" db:"shipping_weight_kg"`
	LengthCm          float64    `json:"length_cm,omitempty" db:"shipping_length_cm"`
	WidthCm           float64    `json:"width_cm,omitempty" db:"shipping_width_cm"`
	HeightCm          float64    `json:"height_cm,omitempty" db:"shipping_height_cm"`
	ShippedAt         *time.Time `json:"shipped_at,omitempty" db:"shipping_shipped_at"`
	DeliveredAt       *time.Time `json:"delivered_at,omitempty" db:"shipping_delivered_at"`
}

// TrackingEvent is one entry of the order's append-only audit log.
type TrackingEvent struct {
	ID        int64       `json:"id" db:"id"`
	OrderID   uuid.UUID   `json:"order_id" db:"order_id"`
	Status    OrderStatus `json:"status" db:"status"`
	Message   string      `json:"message" db:"message"`
	Actor     string      `json:"actor,omitempty" db:"actor"`
	CreatedAt time.Time   `json:"created_at" db:"created_at"`
}

type Address struct {
	Name    string `json:"name" db:"address_name"`
	Email   string `json:"email" db:"address_email"`
	Phone   string `json:"phone" db:"address_phone"`
	Line1   string `json:"line1" db:"address_line1"`
	Line2   string `json:"line2,omitempty" db:"address_line2"`
	City    string `json:"city" db:"address_city"`
	State   string `json:"state" db:"address_state"`
	Pincode string `json:"pincode" db:"address_pincode"`
	Country string `json:"country" db:"address_country"`
}

type Order struct {
	ID           uuid.UUID       `json:"id" db:"id"`
	OrderNumber  string          `json:"order_number" db:"order_number"`
	UserID       uuid.UUID       `json:"user_id" db:"user_id"`
	Status       OrderStatus     `json:"status" db:"status"`
	Items        []OrderItem     `json:"items" db:"-"`
	Subtotal     float64         `json:"subtotal" db:"subtotal"`
	ShippingCost float64         `json:"shipping_cost" db:"shipping_cost"`
	Tax          float64         `json:"tax" db:"tax"`
	Discount     float64         `json:"discount" db:"discount"`
	TotalAmount  float64         `json:"total_amount" db:"total_amount"`
	Currency     string          `json:"currency" db:"currency"`
	Payment      Payment         `json:"payment"`
	Shipping     Shipping        `json:"shipping"`
	Address      Address         `json:"address"`
	Tracking     []TrackingEvent `json:"tracking,omitempty" db:"-"`
	CreatedAt    time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time       `json:"updated_at" db:"updated_at"`
}

// CanBeCancelled reports whether the order is still in a state where
// cancellation is allowed. Once a shipment is prepared the parcel is out
// of our hands and cancellation goes through the return flow instead.
func (o *Order) CanBeCancelled() bool {
	switch o.Status {
	case StatusPlaced, StatusConfirmed, StatusProcessing:
		return true
	}
	return false
}

// CanBeReturned reports whether the order is delivered and still inside
// the return window.
func (o *Order) CanBeReturned() bool {
	if o.Status != StatusDelivered || o.Shipping.DeliveredAt == nil {
		return false
	}
	return time.Since(*o.Shipping.DeliveredAt) <= ReturnWindow
}

// HasRemoteShipment reports whether a shipment was already created at the
// logistics provider for this order.
func (o *Order) HasRemoteShipment() bool {
	return o.Shipping.ShiprocketOrderID != ""
}

// orderSeq starts at a clock-derived offset so a process restart within
// the same second does not replay sequence values already handed out.
var orderSeq = orderSeqSeed(time.Now())

func orderSeqSeed(t time.Time) uint64 {
	return uint64(t.UnixNano())
}

// NewOrderNumber builds a human-readable order number from the timestamp
// plus a process-wide sequence. The sequence keeps numbers distinct even
// when two orders are created within the same second.
func NewOrderNumber(now time.Time) string {
	seq := atomic.AddUint64(&orderSeq, 1) % 100000
	return fmt.Sprintf("ORD-%s-%05d", now.UTC().Format("20060102150405"), seq)
}
