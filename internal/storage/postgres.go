package storage

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/example/ride-dispatch/internal/models"
)

// PostgresStore implements Store on database/sql. The claim and every
// status transition are single conditional UPDATEs checked by affected
// row count, so no explicit row lock is needed: losing racers simply
// match zero rows.
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

func (p *PostgresStore) DB() *sql.DB { return p.db }

const rideColumns = `id, rider_id, driver_id, pickup_lat, pickup_lng, dropoff_lat, dropoff_lng,
	pickup_address, dropoff_address, vehicle_class, status, estimated_price, final_price,
	cancelled_by, cancellation_reason, cancellation_fee, created_at, updated_at`

func (p *PostgresStore) CreateRide(ctx context.Context, r *models.Ride) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO rides(`+rideColumns+`)
		VALUES($1,$2,NULLIF($3,''),$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,NULLIF($14,''),NULLIF($15,''),$16,$17,$18)`,
		r.ID, r.RiderID, r.DriverID, r.Pickup.Lat, r.Pickup.Lng, r.Dropoff.Lat, r.Dropoff.Lng,
		r.PickupAddress, r.DropoffAddress, r.VehicleClass, r.Status, r.EstimatedPrice, r.FinalPrice,
		r.CancelledBy, r.CancellationReason, r.CancellationFee, r.CreatedAt, r.UpdatedAt)
	return err
}

func (p *PostgresStore) GetRide(ctx context.Context, id string) (*models.Ride, error) {
	return p.queryRide(ctx, `SELECT `+rideColumns+` FROM rides WHERE id=$1`, id)
}

func (p *PostgresStore) ClaimRide(ctx context.Context, rideID, driverID string) (*models.Ride, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE rides SET driver_id=$1, status=$2, updated_at=now() WHERE id=$3 AND status=$4`,
		driverID, models.StatusAccepted, rideID, models.StatusSearching)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		// distinguish a lost race from a missing ride
		if _, err := p.GetRide(ctx, rideID); err != nil {
			return nil, err
		}
		return nil, models.ErrRideAlreadyClaimed
	}
	return p.GetRide(ctx, rideID)
}

func (p *PostgresStore) TransitionStatus(ctx context.Context, rideID, driverID string, from, to models.RideStatus) (*models.Ride, error) {
	final := to == models.StatusCompleted
	res, err := p.db.ExecContext(ctx,
		`UPDATE rides SET status=$1,
			final_price=CASE WHEN $2 AND final_price IS NULL THEN estimated_price ELSE final_price END,
			updated_at=now()
		 WHERE id=$3 AND driver_id=$4 AND status=$5`,
		to, final, rideID, driverID, from)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		r, err := p.GetRide(ctx, rideID)
		if err != nil {
			return nil, err
		}
		if r.DriverID != driverID {
			return nil, models.ErrNotAuthorized
		}
		return nil, models.ErrInvalidTransition
	}
	return p.GetRide(ctx, rideID)
}

func (p *PostgresStore) CancelRide(ctx context.Context, rideID, cancelledBy, reason string, feeIfEnRoute float64) (*models.Ride, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE rides SET
			cancellation_fee=CASE WHEN status IN ($1,$2) THEN $3 ELSE 0 END,
			status=$4, cancelled_by=$5, cancellation_reason=$6, updated_at=now()
		 WHERE id=$7 AND status NOT IN ($4,$8)`,
		models.StatusArrived, models.StatusStarted, feeIfEnRoute,
		models.StatusCanceled, cancelledBy, reason, rideID, models.StatusCompleted)
	if err != nil {
		return nil, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return nil, err
	}
	if n == 0 {
		if _, err := p.GetRide(ctx, rideID); err != nil {
			return nil, err
		}
		return nil, models.ErrInvalidTransition
	}
	return p.GetRide(ctx, rideID)
}

func (p *PostgresStore) RidesByRider(ctx context.Context, riderID string) ([]*models.Ride, error) {
	return p.queryRides(ctx, `SELECT `+rideColumns+` FROM rides WHERE rider_id=$1 ORDER BY created_at DESC`, riderID)
}

func (p *PostgresStore) RidesByDriver(ctx context.Context, driverID string) ([]*models.Ride, error) {
	return p.queryRides(ctx, `SELECT `+rideColumns+` FROM rides WHERE driver_id=$1 ORDER BY created_at DESC`, driverID)
}

func (p *PostgresStore) ActiveRideForDriver(ctx context.Context, driverID string) (*models.Ride, error) {
	return p.queryRide(ctx,
		`SELECT `+rideColumns+` FROM rides WHERE driver_id=$1 AND status = ANY($2) ORDER BY created_at DESC LIMIT 1`,
		driverID, pq.Array([]string{string(models.StatusAccepted), string(models.StatusArrived), string(models.StatusStarted)}))
}

func (p *PostgresStore) SearchingRides(ctx context.Context) ([]*models.Ride, error) {
	return p.queryRides(ctx, `SELECT `+rideColumns+` FROM rides WHERE status=$1 ORDER BY created_at`, models.StatusSearching)
}

func (p *PostgresStore) queryRide(ctx context.Context, query string, args ...any) (*models.Ride, error) {
	r, err := scanRide(p.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	return r, err
}

func (p *PostgresStore) queryRides(ctx context.Context, query string, args ...any) ([]*models.Ride, error) {
	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*models.Ride
	for rows.Next() {
		r, err := scanRide(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRide(row rowScanner) (*models.Ride, error) {
	var r models.Ride
	var driverID, cancelledBy, cancelReason sql.NullString
	var finalPrice sql.NullFloat64
	err := row.Scan(&r.ID, &r.RiderID, &driverID, &r.Pickup.Lat, &r.Pickup.Lng, &r.Dropoff.Lat, &r.Dropoff.Lng,
		&r.PickupAddress, &r.DropoffAddress, &r.VehicleClass, &r.Status, &r.EstimatedPrice, &finalPrice,
		&cancelledBy, &cancelReason, &r.CancellationFee, &r.CreatedAt, &r.UpdatedAt)
	if err != nil {
		return nil, err
	}
	r.DriverID = driverID.String
	r.CancelledBy = cancelledBy.String
	r.CancellationReason = cancelReason.String
	if finalPrice.Valid {
		r.FinalPrice = &finalPrice.Float64
	}
	return &r, nil
}

func (p *PostgresStore) SaveTransaction(ctx context.Context, t *models.Transaction) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO transactions(id, ride_id, provider_ref, amount, status, created_at) VALUES($1,$2,$3,$4,$5,$6)`,
		t.ID, t.RideID, t.ProviderRef, t.Amount, t.Status, t.CreatedAt)
	return err
}

func (p *PostgresStore) TransactionByRef(ctx context.Context, providerRef string) (*models.Transaction, error) {
	var t models.Transaction
	err := p.db.QueryRowContext(ctx,
		`SELECT id, ride_id, provider_ref, amount, status, created_at FROM transactions WHERE provider_ref=$1`,
		providerRef).Scan(&t.ID, &t.RideID, &t.ProviderRef, &t.Amount, &t.Status, &t.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func (p *PostgresStore) SetTransactionStatus(ctx context.Context, providerRef string, status models.PaymentStatus) (*models.Transaction, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE transactions SET status=$1 WHERE provider_ref=$2`, status, providerRef)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, models.ErrNotFound
	}
	return p.TransactionByRef(ctx, providerRef)
}

func (p *PostgresStore) SaveReview(ctx context.Context, rv *models.RideReview) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO ride_reviews(ride_id, rider_id, driver_id, rating, comment, created_at) VALUES($1,$2,$3,$4,$5,$6)`,
		rv.RideID, rv.RiderID, rv.DriverID, rv.Rating, rv.Comment, rv.CreatedAt)
	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == "23505" {
		return models.ErrAlreadyReviewed
	}
	return err
}

func (p *PostgresStore) SaveChatMessage(ctx context.Context, m *models.ChatMessage) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO ride_messages(ride_id, sender_id, sender_name, content, sent_at) VALUES($1,$2,$3,$4,$5)`,
		m.RideID, m.SenderID, m.SenderName, m.Content, m.SentAt)
	return err
}

func (p *PostgresStore) GetDriver(ctx context.Context, id string) (*models.DriverProfile, error) {
	var d models.DriverProfile
	var lat, lng sql.NullFloat64
	err := p.db.QueryRowContext(ctx,
		`SELECT id, name, phone, vehicle_class, vehicle_brand, vehicle_model, rating,
			online, active, admin_verified, identity_verified, last_lat, last_lng, updated_at
		 FROM driver_profiles WHERE id=$1`, id).
		Scan(&d.ID, &d.Name, &d.Phone, &d.VehicleClass, &d.VehicleBrand, &d.VehicleModel, &d.Rating,
			&d.Online, &d.Active, &d.AdminVerified, &d.IdentityVerified, &lat, &lng, &d.Updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, models.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if lat.Valid && lng.Valid {
		d.LastLocation = &models.Coord{Lat: lat.Float64, Lng: lng.Float64}
	}
	return &d, nil
}

func (p *PostgresStore) UpsertDriver(ctx context.Context, d *models.DriverProfile) error {
	var lat, lng any
	if d.LastLocation != nil {
		lat, lng = d.LastLocation.Lat, d.LastLocation.Lng
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO driver_profiles(id, name, phone, vehicle_class, vehicle_brand, vehicle_model, rating,
			online, active, admin_verified, identity_verified, last_lat, last_lng, updated_at)
		 VALUES($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,now())
		 ON CONFLICT (id) DO UPDATE SET
			name=EXCLUDED.name, phone=EXCLUDED.phone, vehicle_class=EXCLUDED.vehicle_class,
			vehicle_brand=EXCLUDED.vehicle_brand, vehicle_model=EXCLUDED.vehicle_model,
			rating=EXCLUDED.rating, online=EXCLUDED.online, active=EXCLUDED.active,
			admin_verified=EXCLUDED.admin_verified, identity_verified=EXCLUDED.identity_verified,
			last_lat=EXCLUDED.last_lat, last_lng=EXCLUDED.last_lng, updated_at=now()`,
		d.ID, d.Name, d.Phone, d.VehicleClass, d.VehicleBrand, d.VehicleModel, d.Rating,
		d.Online, d.Active, d.AdminVerified, d.IdentityVerified, lat, lng)
	return err
}

func (p *PostgresStore) SetDriverLocation(ctx context.Context, id string, loc models.Coord) (*models.DriverProfile, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE driver_profiles SET last_lat=$1, last_lng=$2, online=true, updated_at=now() WHERE id=$3`,
		loc.Lat, loc.Lng, id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, models.ErrNotFound
	}
	return p.GetDriver(ctx, id)
}

func (p *PostgresStore) SetDriverOnline(ctx context.Context, id string, online bool) (*models.DriverProfile, error) {
	res, err := p.db.ExecContext(ctx,
		`UPDATE driver_profiles SET online=$1, updated_at=now() WHERE id=$2`, online, id)
	if err != nil {
		return nil, err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, models.ErrNotFound
	}
	return p.GetDriver(ctx, id)
}

func (p *PostgresStore) SetIdentityVerified(ctx context.Context, id string, verified bool) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE driver_profiles SET identity_verified=$1, updated_at=now() WHERE id=$2`, verified, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return models.ErrNotFound
	}
	return nil
}

// RateConfig reads the pricing row for a class, satisfying the fare
// calculator's ConfigSource.
func (p *PostgresStore) RateConfig(ctx context.Context, class models.VehicleClass) (models.RateConfig, error) {
	var cfg models.RateConfig
	err := p.db.QueryRowContext(ctx,
		`SELECT base_fare, price_per_km, price_per_minute, tax_percentage FROM price_configs WHERE vehicle_class=$1`,
		class).Scan(&cfg.BaseFare, &cfg.PerKmRate, &cfg.PerMinuteRate, &cfg.TaxPercent)
	if errors.Is(err, sql.ErrNoRows) {
		return models.RateConfig{}, models.ErrConfigNotFound
	}
	return cfg, err
}
