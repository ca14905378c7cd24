package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/bangleworld/orderflow/internal/catalog"
)

var (
	ErrOrderNotFound   = errors.New("order not found")
	ErrShipmentExists  = errors.New("shipment already exists for this order")
	ErrStatusConflict  = errors.New("order status changed concurrently")
	ErrNoShipmentClaim = errors.New("no shipment claim to settle")
)

// PaymentConfirmation carries the gateway references recorded when a
// payment completes.
type PaymentConfirmation struct {
	Gateway        string
	IntentID       string
	GatewayOrderID string
	PaymentID      string
	Signature      string
}

type Repository interface {
	Create(ctx context.Context, o *Order) error
	GetByID(ctx context.Context, id uuid.UUID) (*Order, error)
	GetByGatewayRef(ctx context.Context, gateway, ref string) (*Order, error)
	GetByAWB(ctx context.Context, awb string) (*Order, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]Order, error)
	ListByStatus(ctx context.Context, status OrderStatus, limit int) ([]Order, error)

	AttachPaymentRef(ctx context.Context, orderID uuid.UUID, p Payment) error
	// ConfirmPayment marks the payment completed, moves the order to
	// confirmed and decrements stock, all in one transaction. It
	// returns false without touching anything when the payment is
	// already completed, which makes concurrent confirmation paths
	// (client verify + webhook) collapse into a single effect.
	ConfirmPayment(ctx context.Context, orderID uuid.UUID, conf PaymentConfirmation) (bool, error)
	MarkPaymentFailed(ctx context.Context, orderID uuid.UUID, reason string) error
	SetRefund(ctx context.Context, orderID uuid.UUID, refundID string, partial bool) error

	// ClaimShipment reserves the order's single shipment slot before
	// any remote call is made. A live claim or an existing shipment
	// fails with ErrShipmentExists; a claim older than ShipmentClaimTTL
	// is considered abandoned and taken over. SettleShipment stores
	// the real provider ids and clears the claim; ReleaseShipment
	// clears it on remote failure.
	ClaimShipment(ctx context.Context, orderID uuid.UUID) error
	SettleShipment(ctx context.Context, orderID uuid.UUID, sh Shipping) error
	ReleaseShipment(ctx context.Context, orderID uuid.UUID) error
	UpdateAWB(ctx context.Context, orderID uuid.UUID, awb, courierName string, courierID int) error

	// Transition moves the order from one lifecycle status to another,
	// appending a tracking entry. The update is guarded on the
	// expected current status so a concurrent writer surfaces as
	// ErrStatusConflict instead of a silent overwrite.
	Transition(ctx context.Context, orderID uuid.UUID, from, to OrderStatus, message, actor string) error
	AppendTracking(ctx context.Context, orderID uuid.UUID, status OrderStatus, message, actor string) error
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

const orderColumns = `
	id, order_number, user_id, status,
	subtotal, shipping_cost, tax, discount, total_amount, currency,
	payment_status, payment_gateway, payment_intent_id, payment_gateway_order_id,
	payment_payment_id, payment_signature, payment_refund_id, payment_paid_at,
	shipping_shiprocket_order_id, shipping_shipment_id, shipping_awb_code,
	shipping_courier_id, shipping_courier_name, shipping_pickup_location,
	shipping_weight_kg, shipping_length_cm, shipping_width_cm, shipping_height_cm,
	shipping_shipped_at, shipping_delivered_at,
	address_name, address_email, address_phone, address_line1, address_line2,
	address_city, address_state, address_pincode, address_country,
	created_at, updated_at`

func scanOrder(row pgx.Row) (*Order, error) {
	var o Order
	var shiprocketOrderID *string
	err := row.Scan(
		&o.ID, &o.OrderNumber, &o.UserID, &o.Status,
		&o.Subtotal, &o.ShippingCost, &o.Tax, &o.Discount, &o.TotalAmount, &o.Currency,
		&o.Payment.Status, &o.Payment.Gateway, &o.Payment.IntentID, &o.Payment.GatewayOrderID,
		&o.Payment.PaymentID, &o.Payment.Signature, &o.Payment.RefundID, &o.Payment.PaidAt,
		&shiprocketOrderID, &o.Shipping.ShipmentID, &o.Shipping.AWBCode,
		&o.Shipping.CourierID, &o.Shipping.CourierName, &o.Shipping.PickupLocation,
		&o.Shipping.WeightKg, &o.Shipping.LengthCm, &o.Shipping.WidthCm, &o.Shipping.HeightCm,
		&o.Shipping.ShippedAt, &o.Shipping.DeliveredAt,
		&o.Address.Name, &o.Address.Email, &o.Address.Phone, &o.Address.Line1, &o.Address.Line2,
		&o.Address.City, &o.Address.State, &o.Address.Pincode, &o.Address.Country,
		&o.CreatedAt, &o.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if shiprocketOrderID != nil {
		o.Shipping.ShiprocketOrderID = *shiprocketOrderID
	}
	return &o, nil
}

func (r *postgresRepository) Create(ctx context.Context, o *Order) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				log.Error().Err(rbErr).Stringer("order_id", o.ID).Msg("Failed to rollback order creation")
			}
		}
	}()

	now := time.Now().UTC()
	o.CreatedAt = now
	o.UpdatedAt = now

	_, err = tx.Exec(ctx, `
		INSERT INTO orders (
			id, order_number, user_id, status,
			subtotal, shipping_cost, tax, discount, total_amount, currency,
			payment_status,
			address_name, address_email, address_phone, address_line1, address_line2,
			address_city, address_state, address_pincode, address_country,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11,
			$12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22
		)
	`,
		o.ID, o.OrderNumber, o.UserID, string(o.Status),
		o.Subtotal, o.ShippingCost, o.Tax, o.Discount, o.TotalAmount, o.Currency,
		string(o.Payment.Status),
		o.Address.Name, o.Address.Email, o.Address.Phone, o.Address.Line1, o.Address.Line2,
		o.Address.City, o.Address.State, o.Address.Pincode, o.Address.Country,
		o.CreatedAt, o.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to insert order %s: %w", o.OrderNumber, err)
	}

	for i := range o.Items {
		item := &o.Items[i]
		itemID, genErr := uuid.NewV4()
		if genErr != nil {
			return fmt.Errorf("repository: failed to generate order item id: %w", genErr)
		}
		item.ID = itemID
		item.OrderID = o.ID
		item.CreatedAt = now

		_, err = tx.Exec(ctx, `
			INSERT INTO order_items (id, order_id, product_id, variant_sku, name, image_url, quantity, unit_price, subtotal, created_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		`, item.ID, item.OrderID, item.ProductID, item.VariantSKU, item.Name, item.ImageURL, item.Quantity, item.UnitPrice, item.Subtotal, item.CreatedAt)
		if err != nil {
			return fmt.Errorf("repository: failed to insert order item for %s: %w", o.OrderNumber, err)
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO order_tracking (order_id, status, message, actor) VALUES ($1, $2, $3, $4)
	`, o.ID, string(StatusPlaced), "Order placed", "system")
	if err != nil {
		return fmt.Errorf("repository: failed to insert initial tracking entry for %s: %w", o.OrderNumber, err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("repository: failed to commit order %s: %w", o.OrderNumber, err)
	}
	return nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
}

func (r *postgresRepository) GetByGatewayRef(ctx context.Context, gateway, ref string) (*Order, error) {
	return r.getOne(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE payment_gateway = $1 AND (payment_intent_id = $2 OR payment_gateway_order_id = $2)
	`, gateway, ref)
}

func (r *postgresRepository) GetByAWB(ctx context.Context, awb string) (*Order, error) {
	return r.getOne(ctx, `SELECT `+orderColumns+` FROM orders WHERE shipping_awb_code = $1 AND shipping_awb_code <> ''`, awb)
}

func (r *postgresRepository) getOne(ctx context.Context, query string, args ...any) (*Order, error) {
	o, err := scanOrder(r.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order: %w", err)
	}

	if err := r.loadItems(ctx, o); err != nil {
		return nil, err
	}
	if err := r.loadTracking(ctx, o); err != nil {
		return nil, err
	}
	return o, nil
}

func (r *postgresRepository) loadItems(ctx context.Context, o *Order) error {
	rows, err := r.db.Query(ctx, `
		SELECT id, order_id, product_id, variant_sku, name, image_url, quantity, unit_price, subtotal, created_at
		FROM order_items
		WHERE order_id = $1
		ORDER BY created_at, id
	`, o.ID)
	if err != nil {
		return fmt.Errorf("repository: failed to query items for order %s: %w", o.ID, err)
	}
	defer rows.Close()

	items := make([]OrderItem, 0)
	for rows.Next() {
		var item OrderItem
		if err := rows.Scan(&item.ID, &item.OrderID, &item.ProductID, &item.VariantSKU, &item.Name, &item.ImageURL, &item.Quantity, &item.UnitPrice, &item.Subtotal, &item.CreatedAt); err != nil {
			return fmt.Errorf("repository: failed to scan item for order %s: %w", o.ID, err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("repository: error iterating items for order %s: %w", o.ID, err)
	}

	o.Items = items
	return nil
}

func (r *postgresRepository) loadTracking(ctx context.Context, o *Order) error {
	rows, err := r.db.Query(ctx, `
		SELECT id, order_id, status, message, actor, created_at
		FROM order_tracking
		WHERE order_id = $1
		ORDER BY id
	`, o.ID)
	if err != nil {
		return fmt.Errorf("repository: failed to query tracking for order %s: %w", o.ID, err)
	}
	defer rows.Close()

	tracking := make([]TrackingEvent, 0)
	for rows.Next() {
		var ev TrackingEvent
		if err := rows.Scan(&ev.ID, &ev.OrderID, &ev.Status, &ev.Message, &ev.Actor, &ev.CreatedAt); err != nil {
			return fmt.Errorf("repository: failed to scan tracking for order %s: %w", o.ID, err)
		}
		tracking = append(tracking, ev)
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("repository: error iterating tracking for order %s: %w", o.ID, err)
	}

	o.Tracking = tracking
	return nil
}

func (r *postgresRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]Order, error) {
	return r.list(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE user_id = $1
		ORDER BY created_at DESC
	`, userID)
}

func (r *postgresRepository) ListByStatus(ctx context.Context, status OrderStatus, limit int) ([]Order, error) {
	return r.list(ctx, `
		SELECT `+orderColumns+`
		FROM orders
		WHERE status = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, string(status), limit)
}

func (r *postgresRepository) list(ctx context.Context, query string, args ...any) ([]Order, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query orders: %w", err)
	}
	defer rows.Close()

	orders := make([]Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order row: %w", err)
		}
		orders = append(orders, *o)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating orders: %w", err)
	}

	for i := range orders {
		if err := r.loadItems(ctx, &orders[i]); err != nil {
			return nil, err
		}
	}
	return orders, nil
}

func (r *postgresRepository) AttachPaymentRef(ctx context.Context, orderID uuid.UUID, p Payment) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE orders
		SET payment_gateway = $2, payment_intent_id = $3, payment_gateway_order_id = $4, updated_at = now()
		WHERE id = $1
	`, orderID, p.Gateway, p.IntentID, p.GatewayOrderID)
	if err != nil {
		return fmt.Errorf("repository: failed to attach payment ref to order %s: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *postgresRepository) ConfirmPayment(ctx context.Context, orderID uuid.UUID, conf PaymentConfirmation) (confirmed bool, err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("repository: failed to begin confirm transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				log.Error().Err(rbErr).Stringer("order_id", orderID).Msg("Failed to rollback payment confirmation")
			}
		}
	}()

	// The guard on payment_status makes this step idempotent: the
	// second of two racing confirmations updates zero rows and skips
	// the stock decrement entirely.
	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET payment_status = $2,
		    status = $3,
		    payment_gateway = $4,
		    payment_intent_id = CASE WHEN $5 <> '' THEN $5 ELSE payment_intent_id END,
		    payment_gateway_order_id = CASE WHEN $6 <> '' THEN $6 ELSE payment_gateway_order_id END,
		    payment_payment_id = $7,
		    payment_signature = $8,
		    payment_paid_at = now(),
		    updated_at = now()
		WHERE id = $1 AND payment_status <> 'completed' AND status = 'placed'
	`, orderID, string(PaymentCompleted), string(StatusConfirmed),
		conf.Gateway, conf.IntentID, conf.GatewayOrderID, conf.PaymentID, conf.Signature)
	if err != nil {
		return false, fmt.Errorf("repository: failed to mark payment completed for order %s: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
			log.Error().Err(rbErr).Stringer("order_id", orderID).Msg("Failed to rollback no-op confirmation")
		}
		return false, nil
	}

	rows, err := tx.Query(ctx, `
		SELECT product_id, variant_sku, quantity FROM order_items WHERE order_id = $1
	`, orderID)
	if err != nil {
		return false, fmt.Errorf("repository: failed to load items for stock decrement of order %s: %w", orderID, err)
	}

	type line struct {
		productID  uuid.UUID
		variantSKU string
		quantity   int
	}
	var lines []line
	for rows.Next() {
		var l line
		if err = rows.Scan(&l.productID, &l.variantSKU, &l.quantity); err != nil {
			rows.Close()
			return false, fmt.Errorf("repository: failed to scan item of order %s: %w", orderID, err)
		}
		lines = append(lines, l)
	}
	rows.Close()
	if err = rows.Err(); err != nil {
		return false, fmt.Errorf("repository: error iterating items of order %s: %w", orderID, err)
	}

	for _, l := range lines {
		if err = catalog.DecrementStock(ctx, tx, l.productID, l.variantSKU, l.quantity); err != nil {
			return false, err
		}
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO order_tracking (order_id, status, message, actor) VALUES ($1, $2, $3, $4)
	`, orderID, string(StatusConfirmed), "Payment received, order confirmed", "system")
	if err != nil {
		return false, fmt.Errorf("repository: failed to append confirmation tracking for order %s: %w", orderID, err)
	}

	if err = tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("repository: failed to commit payment confirmation for order %s: %w", orderID, err)
	}
	return true, nil
}

func (r *postgresRepository) MarkPaymentFailed(ctx context.Context, orderID uuid.UUID, reason string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE orders
		SET payment_status = $2, status = $3, updated_at = now()
		WHERE id = $1 AND payment_status = 'pending'
	`, orderID, string(PaymentFailed), string(StatusCancelled))
	if err != nil {
		return fmt.Errorf("repository: failed to mark payment failed for order %s: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return nil
	}
	return r.AppendTracking(ctx, orderID, StatusCancelled, "Payment failed: "+reason, "system")
}

func (r *postgresRepository) SetRefund(ctx context.Context, orderID uuid.UUID, refundID string, partial bool) error {
	status := PaymentRefunded
	if partial {
		status = PaymentPartiallyRefunded
	}

	tag, err := r.db.Exec(ctx, `
		UPDATE orders
		SET payment_status = $2, payment_refund_id = $3, updated_at = now()
		WHERE id = $1
	`, orderID, string(status), refundID)
	if err != nil {
		return fmt.Errorf("repository: failed to record refund for order %s: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

// ShipmentClaimTTL bounds how long a shipment claim may sit unsettled.
// A claim older than this is treated as abandoned (crashed process) and
// can be taken over.
const ShipmentClaimTTL = 10 * time.Minute

// ClaimShipment reserves the order's shipment slot while the remote call
// is in flight. The claim lives in shipping_claimed_at, a column outside
// the orders_shiprocket_order_id_uq index, so claims on different orders
// never collide with each other.
func (r *postgresRepository) ClaimShipment(ctx context.Context, orderID uuid.UUID) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE orders
		SET shipping_claimed_at = now(), updated_at = now()
		WHERE id = $1
		  AND shipping_shiprocket_order_id IS NULL
		  AND (shipping_claimed_at IS NULL OR shipping_claimed_at < now() - make_interval(secs => $2))
	`, orderID, ShipmentClaimTTL.Seconds())
	if err != nil {
		return fmt.Errorf("repository: failed to claim shipment slot for order %s: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if err := r.db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); err != nil {
			return fmt.Errorf("repository: failed to check order %s: %w", orderID, err)
		}
		if !exists {
			return ErrOrderNotFound
		}
		return ErrShipmentExists
	}
	return nil
}

func (r *postgresRepository) SettleShipment(ctx context.Context, orderID uuid.UUID, sh Shipping) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE orders
		SET shipping_shiprocket_order_id = $2,
		    shipping_shipment_id = $3,
		    shipping_awb_code = $4,
		    shipping_courier_id = $5,
		    shipping_courier_name = $6,
		    shipping_pickup_location = $7,
		    shipping_weight_kg = $8,
		    shipping_length_cm = $9,
		    shipping_width_cm = $10,
		    shipping_height_cm = $11,
		    shipping_claimed_at = NULL,
		    updated_at = now()
		WHERE id = $1 AND shipping_claimed_at IS NOT NULL AND shipping_shiprocket_order_id IS NULL
	`, orderID, sh.ShiprocketOrderID, sh.ShipmentID, sh.AWBCode, sh.CourierID, sh.CourierName,
		sh.PickupLocation, sh.WeightKg, sh.LengthCm, sh.WidthCm, sh.HeightCm)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation {
			return ErrShipmentExists
		}
		return fmt.Errorf("repository: failed to settle shipment for order %s: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNoShipmentClaim
	}
	return nil
}

func (r *postgresRepository) ReleaseShipment(ctx context.Context, orderID uuid.UUID) error {
	_, err := r.db.Exec(ctx, `
		UPDATE orders
		SET shipping_claimed_at = NULL, updated_at = now()
		WHERE id = $1 AND shipping_shiprocket_order_id IS NULL
	`, orderID)
	if err != nil {
		return fmt.Errorf("repository: failed to release shipment claim for order %s: %w", orderID, err)
	}
	return nil
}

func (r *postgresRepository) UpdateAWB(ctx context.Context, orderID uuid.UUID, awb, courierName string, courierID int) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE orders
		SET shipping_awb_code = $2, shipping_courier_name = $3, shipping_courier_id = $4, updated_at = now()
		WHERE id = $1
	`, orderID, awb, courierName, courierID)
	if err != nil {
		return fmt.Errorf("repository: failed to update awb for order %s: %w", orderID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrOrderNotFound
	}
	return nil
}

func (r *postgresRepository) Transition(ctx context.Context, orderID uuid.UUID, from, to OrderStatus, message, actor string) (err error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transition transaction: %w", err)
	}
	defer func() {
		if err != nil {
			if rbErr := tx.Rollback(ctx); rbErr != nil && !errors.Is(rbErr, pgx.ErrTxClosed) {
				log.Error().Err(rbErr).Stringer("order_id", orderID).Msg("Failed to rollback transition")
			}
		}
	}()

	query := `
		UPDATE orders
		SET status = $2, updated_at = now()`
	switch to {
	case StatusShipped:
		query += `, shipping_shipped_at = COALESCE(shipping_shipped_at, now())`
	case StatusDelivered:
		query += `, shipping_delivered_at = COALESCE(shipping_delivered_at, now())`
	}
	query += `
		WHERE id = $1 AND status = $3`

	tag, err := tx.Exec(ctx, query, orderID, string(to), string(from))
	if err != nil {
		return fmt.Errorf("repository: failed to transition order %s to %s: %w", orderID, to, err)
	}
	if tag.RowsAffected() == 0 {
		var exists bool
		if checkErr := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE id = $1)`, orderID).Scan(&exists); checkErr != nil {
			err = fmt.Errorf("repository: failed to check order %s: %w", orderID, checkErr)
			return err
		}
		if !exists {
			err = ErrOrderNotFound
			return err
		}
		err = ErrStatusConflict
		return err
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO order_tracking (order_id, status, message, actor) VALUES ($1, $2, $3, $4)
	`, orderID, string(to), message, actor)
	if err != nil {
		return fmt.Errorf("repository: failed to append tracking for order %s: %w", orderID, err)
	}

	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("repository: failed to commit transition for order %s: %w", orderID, err)
	}
	return nil
}

func (r *postgresRepository) AppendTracking(ctx context.Context, orderID uuid.UUID, status OrderStatus, message, actor string) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO order_tracking (order_id, status, message, actor) VALUES ($1, $2, $3, $4)
	`, orderID, string(status), message, actor)
	if err != nil {
		return fmt.Errorf("repository: failed to append tracking for order %s: %w", orderID, err)
	}
	return nil
}
