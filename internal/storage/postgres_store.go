package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	_ "github.com/lib/pq"

	"github.com/example/order-dispatch/internal/models"
)

// PostgresStore implements OrderRepository and ProfileStore over the shared
// orders schema. Structured columns stay flat; items and cancellation ride
// in jsonb like the writing side stores them.
type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

func (p *PostgresStore) GetOrder(ctx context.Context, id string) (*models.Order, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, status, tracking_info, customer_id, restaurant_id,
		       COALESCE(driver_id, ''), COALESCE(distance_km, 0), COALESCE(driver_wage, 0),
		       items, restaurant_address, customer_address, cancellation,
		       created_at, updated_at
		FROM orders WHERE id = $1`, id)

	var o models.Order
	var items, restaurantAddr, customerAddr []byte
	var cancellation sql.NullString
	err := row.Scan(&o.ID, &o.Status, &o.TrackingInfo, &o.CustomerID, &o.RestaurantID,
		&o.DriverID, &o.Distance, &o.DriverWage,
		&items, &restaurantAddr, &customerAddr, &cancellation,
		&o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(restaurantAddr, &o.RestaurantAddress); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(customerAddr, &o.CustomerAddress); err != nil {
		return nil, err
	}
	if cancellation.Valid && cancellation.String != "" {
		var c models.Cancellation
		if err := json.Unmarshal([]byte(cancellation.String), &c); err != nil {
			return nil, err
		}
		o.Cancellation = &c
	}
	return &o, nil
}

func (p *PostgresStore) UpdateOrder(ctx context.Context, o *models.Order) error {
	var cancellation any
	if o.Cancellation != nil {
		b, err := json.Marshal(o.Cancellation)
		if err != nil {
			return err
		}
		cancellation = string(b)
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE orders
		SET status=$1, tracking_info=$2, driver_id=NULLIF($3, ''), distance_km=$4,
		    driver_wage=$5, cancellation=$6, updated_at=$7
		WHERE id=$8`,
		o.Status, o.TrackingInfo, o.DriverID, o.Distance, o.DriverWage, cancellation, o.UpdatedAt, o.ID)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) GetProfile(ctx context.Context, actorType models.ActorType, id string) (models.Profile, error) {
	row := p.db.QueryRowContext(ctx, `
		SELECT id, name, COALESCE(avatar, ''), COALESCE(address, ''), COALESCE(phone, '')
		FROM actor_profiles WHERE actor_type = $1 AND id = $2`, string(actorType), id)
	var prof models.Profile
	err := row.Scan(&prof.ID, &prof.Name, &prof.Avatar, &prof.Address, &prof.Phone)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Profile{}, ErrNotFound
	}
	if err != nil {
		return models.Profile{}, err
	}
	return prof, nil
}
