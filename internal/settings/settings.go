// Package settings persists the admin toggles that gate shipment
// automation. Callers never read the row directly during orchestration;
// they load a ShipmentPolicy snapshot and pass it down explicitly.
package settings

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// ShipmentPolicy is the effective automation policy for one operation.
// It is a plain value so a policy read at the start of a request cannot
// change underneath the orchestration code.
type ShipmentPolicy struct {
	AutoCreateShipment    bool
	RequireApproval       bool
	DefaultPickupLocation string
}

// AdminSettings is the stored singleton row.
type AdminSettings struct {
	AutoCreateShipment    bool      `json:"auto_create_shipment" db:"auto_create_shipment"`
	RequireOrderApproval  bool      `json:"require_order_approval" db:"require_order_approval"`
	DefaultPickupLocation string    `json:"default_pickup_location" db:"default_pickup_location"`
	LastUpdatedBy         string    `json:"last_updated_by" db:"last_updated_by"`
	UpdatedAt             time.Time `json:"updated_at" db:"updated_at"`
}

func (s AdminSettings) Policy() ShipmentPolicy {
	return ShipmentPolicy{
		AutoCreateShipment:    s.AutoCreateShipment,
		RequireApproval:       s.RequireOrderApproval,
		DefaultPickupLocation: s.DefaultPickupLocation,
	}
}

type Store interface {
	Get(ctx context.Context) (AdminSettings, error)
	Update(ctx context.Context, s AdminSettings) (AdminSettings, error)
}

type postgresStore struct {
	db *pgxpool.Pool
}

func NewStore(db *pgxpool.Pool) Store {
	return &postgresStore{db: db}
}

func (r *postgresStore) Get(ctx context.Context) (AdminSettings, error) {
	query := `
		SELECT auto_create_shipment, require_order_approval, default_pickup_location, last_updated_by, updated_at
		FROM admin_settings
		WHERE id = 1
	`

	var s AdminSettings
	err := r.db.QueryRow(ctx, query).Scan(
		&s.AutoCreateShipment,
		&s.RequireOrderApproval,
		&s.DefaultPickupLocation,
		&s.LastUpdatedBy,
		&s.UpdatedAt,
	)
	if err != nil {
		return AdminSettings{}, fmt.Errorf("repository: failed to select admin settings: %w", err)
	}

	return s, nil
}

func (r *postgresStore) Update(ctx context.Context, s AdminSettings) (AdminSettings, error) {
	query := `
		UPDATE admin_settings
		SET auto_create_shipment = $1,
		    require_order_approval = $2,
		    default_pickup_location = $3,
		    last_updated_by = $4,
		    updated_at = now()
		WHERE id = 1
		RETURNING auto_create_shipment, require_order_approval, default_pickup_location, last_updated_by, updated_at
	`

	var out AdminSettings
	err := r.db.QueryRow(ctx, query,
		s.AutoCreateShipment,
		s.RequireOrderApproval,
		s.DefaultPickupLocation,
		s.LastUpdatedBy,
	).Scan(
		&out.AutoCreateShipment,
		&out.RequireOrderApproval,
		&out.DefaultPickupLocation,
		&out.LastUpdatedBy,
		&out.UpdatedAt,
	)
	if err != nil {
		return AdminSettings{}, fmt.Errorf("repository: failed to update admin settings: %w", err)
	}

	return out, nil
}
