package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"github.com/tournevent/shiprouter/internal/resilience"
	"github.com/tournevent/shiprouter/internal/routing"
	"github.com/tournevent/shiprouter/pkg/shipper"
)

// PostgresStore persists records in PostgreSQL through lib/pq.
type PostgresStore struct {
	db *sql.DB
}

// OpenPostgres connects to dsn and verifies the connection.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}
	return NewPostgresStore(db), nil
}

// NewPostgresStore wraps an open database handle.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Close closes the database handle.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}

// DB returns the underlying handle.
func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

// Migrate creates the tables and indexes when missing.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	for i, stmt := range migrations {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("applying migration %d: %w", i+1, err)
		}
	}
	return nil
}

// WriteAudit inserts an audit entry.
func (s *PostgresStore) WriteAudit(ctx context.Context, e resilience.AuditEntry) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO audit_log (id, created_at, organization_id, user_id, action, resource,
		                       resource_id, carrier, request, response, success, error_message, duration_ms)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`,
		e.ID, utc(e.Timestamp), nullString(e.OrganizationID), nullString(e.UserID),
		e.Action, e.Resource, e.ResourceID, e.Carrier,
		nullJSON(e.Request), nullJSON(e.Response), e.Success, nullString(e.ErrorMessage), e.DurationMs,
	)
	if err != nil {
		return fmt.Errorf("inserting audit entry: %w", err)
	}
	return nil
}

// AuditEntries returns audit entries for a resource ID, oldest first. An
// empty resourceID returns every entry.
func (s *PostgresStore) AuditEntries(ctx context.Context, resourceID string) ([]resilience.AuditEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, created_at, organization_id, user_id, action, resource, resource_id, carrier,
		       request, response, success, error_message, duration_ms
		FROM audit_log
		WHERE ($1 = '' OR resource_id = $1)
		ORDER BY created_at, id`, resourceID)
	if err != nil {
		return nil, fmt.Errorf("querying audit log: %w", err)
	}
	defer rows.Close()

	var out []resilience.AuditEntry
	for rows.Next() {
		var (
			e                 resilience.AuditEntry
			org, user, errMsg sql.NullString
			req, resp         []byte
		)
		if err := rows.Scan(&e.ID, &e.Timestamp, &org, &user, &e.Action, &e.Resource, &e.ResourceID,
			&e.Carrier, &req, &resp, &e.Success, &errMsg, &e.DurationMs); err != nil {
			return nil, fmt.Errorf("scanning audit entry: %w", err)
		}
		e.OrganizationID, e.UserID, e.ErrorMessage = org.String, user.String, errMsg.String
		e.Request, e.Response = req, resp
		e.Timestamp = e.Timestamp.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// SaveDecision inserts a routing decision.
func (s *PostgresStore) SaveDecision(ctx context.Context, d routing.Decision) error {
	payload, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("encoding decision: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO routing_decisions (order_id, carrier, rule, cost, savings, decision, decided_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		d.OrderID, d.Carrier, string(d.Rule), d.Cost.Amount, d.Savings, payload, utc(d.DecidedAt),
	)
	if err != nil {
		return fmt.Errorf("inserting routing decision: %w", err)
	}
	return nil
}

// Decision returns the latest decision for an order.
func (s *PostgresStore) Decision(ctx context.Context, orderID string) (routing.Decision, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx, `
		SELECT decision FROM routing_decisions
		WHERE order_id = $1
		ORDER BY id DESC
		LIMIT 1`, orderID).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return routing.Decision{}, ErrNotFound
	}
	if err != nil {
		return routing.Decision{}, fmt.Errorf("querying routing decision: %w", err)
	}
	var d routing.Decision
	if err := json.Unmarshal(payload, &d); err != nil {
		return routing.Decision{}, fmt.Errorf("decoding routing decision: %w", err)
	}
	return d, nil
}

// SaveShipment inserts or replaces the shipment for an order.
func (s *PostgresStore) SaveShipment(ctx context.Context, rec shipper.ShipmentRecord) error {
	pkg, err := json.Marshal(rec.Package)
	if err != nil {
		return fmt.Errorf("encoding package: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO shipments (order_id, reference, carrier, service_code, shipment_id, tracking_number,
		                       label_ref, status, package, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
		ON CONFLICT (order_id) DO UPDATE SET
			reference = EXCLUDED.reference,
			carrier = EXCLUDED.carrier,
			service_code = EXCLUDED.service_code,
			shipment_id = EXCLUDED.shipment_id,
			tracking_number = EXCLUDED.tracking_number,
			label_ref = EXCLUDED.label_ref,
			status = EXCLUDED.status,
			package = EXCLUDED.package,
			updated_at = EXCLUDED.updated_at`,
		rec.OrderID, rec.Reference, rec.Carrier, rec.ServiceCode, rec.ShipmentID, rec.TrackingNumber,
		rec.LabelRef, string(rec.Status), pkg, utc(rec.CreatedAt),
	)
	if err != nil {
		return fmt.Errorf("upserting shipment: %w", err)
	}
	return nil
}

// Shipment returns the shipment for an order.
func (s *PostgresStore) Shipment(ctx context.Context, orderID string) (shipper.ShipmentRecord, error) {
	var (
		rec    shipper.ShipmentRecord
		status string
		pkg    []byte
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT order_id, reference, carrier, service_code, shipment_id, tracking_number,
		       label_ref, status, package, created_at
		FROM shipments WHERE order_id = $1`, orderID).
		Scan(&rec.OrderID, &rec.Reference, &rec.Carrier, &rec.ServiceCode, &rec.ShipmentID,
			&rec.TrackingNumber, &rec.LabelRef, &status, &pkg, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return shipper.ShipmentRecord{}, ErrNotFound
	}
	if err != nil {
		return shipper.ShipmentRecord{}, fmt.Errorf("querying shipment: %w", err)
	}
	rec.Status = shipper.TrackingStatus(status)
	rec.CreatedAt = rec.CreatedAt.UTC()
	if err := json.Unmarshal(pkg, &rec.Package); err != nil {
		return shipper.ShipmentRecord{}, fmt.Errorf("decoding package: %w", err)
	}
	return rec, nil
}

// UpdateShipmentStatus sets the status of the shipment with the given
// tracking number.
func (s *PostgresStore) UpdateShipmentStatus(ctx context.Context, carrier, trackingNumber string, status shipper.TrackingStatus) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE shipments SET status = $3, updated_at = $4
		WHERE carrier = $1 AND tracking_number = $2`,
		carrier, trackingNumber, string(status), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("updating shipment status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendEvents inserts events in one transaction, skipping ones already
// stored, and returns how many were new.
func (s *PostgresStore) AppendEvents(ctx context.Context, events []shipper.TrackingEvent) (int, error) {
	if len(events) == 0 {
		return 0, nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO tracking_events (carrier, tracking_number, status, description, location, raw_code, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (carrier, tracking_number, raw_code, occurred_at) DO NOTHING`)
	if err != nil {
		return 0, fmt.Errorf("preparing event insert: %w", err)
	}
	defer stmt.Close()

	added := 0
	for _, e := range events {
		res, err := stmt.ExecContext(ctx, e.Carrier, e.TrackingNumber, string(e.Status),
			e.Description, e.Location, e.RawCode, utc(e.Timestamp))
		if err != nil {
			return 0, fmt.Errorf("inserting tracking event: %w", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			added++
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing tracking events: %w", err)
	}
	return added, nil
}

// Events returns the stored events of one shipment, newest first.
func (s *PostgresStore) Events(ctx context.Context, carrier, trackingNumber string) ([]shipper.TrackingEvent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT carrier, tracking_number, status, description, location, raw_code, occurred_at
		FROM tracking_events
		WHERE carrier = $1 AND tracking_number = $2
		ORDER BY occurred_at DESC, id DESC`, carrier, trackingNumber)
	if err != nil {
		return nil, fmt.Errorf("querying tracking events: %w", err)
	}
	defer rows.Close()

	var out []shipper.TrackingEvent
	for rows.Next() {
		var (
			e      shipper.TrackingEvent
			status string
		)
		if err := rows.Scan(&e.Carrier, &e.TrackingNumber, &status, &e.Description,
			&e.Location, &e.RawCode, &e.Timestamp); err != nil {
			return nil, fmt.Errorf("scanning tracking event: %w", err)
		}
		e.Status = shipper.TrackingStatus(status)
		e.Timestamp = e.Timestamp.UTC()
		out = append(out, e)
	}
	return out, rows.Err()
}

// RetryJobs returns the retry queue store backed by the same database.
func (s *PostgresStore) RetryJobs() *RetryJobStore {
	return &RetryJobStore{db: s.db}
}

func nullString(v string) sql.NullString {
	return sql.NullString{String: v, Valid: v != ""}
}

func nullJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return []byte(raw)
}

// isUniqueViolation reports whether err is a PostgreSQL unique_violation.
func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
