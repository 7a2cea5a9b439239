package store

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"time"

	"checkout-service/internal/apperr"
	"checkout-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
)

//go:embed migrations.sql
var migrationSQL string

// dbtx is satisfied by both *sqlx.DB and *sqlx.Tx
type dbtx interface {
	GetContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	SelectContext(ctx context.Context, dest interface{}, query string, args ...interface{}) error
	ExecContext(ctx context.Context, query string, args ...interface{}) (sql.Result, error)
	Rebind(query string) string
}

// Store is the postgres-backed Repository
type Store struct {
	db   *sqlx.DB
	q    dbtx
	inTx bool
}

var _ Repository = (*Store)(nil)

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db, q: db}, nil
}

// NewStoreFromDB wraps an already opened postgres connection
func NewStoreFromDB(db *sql.DB) *Store {
	x := sqlx.NewDb(db, "postgres")
	return &Store{db: x, q: x}
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate applies the embedded schema. Statements are idempotent.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, migrationSQL); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// RunInTx runs fn inside a database transaction. Nested calls join the outer one.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, repo Repository) error) error {
	if s.inTx {
		return fn(ctx, s)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(ctx, &Store{db: s.db, q: tx, inTx: true}); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

func rowsAffected(res sql.Result) (int64, error) {
	n, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to read rows affected: %w", err)
	}
	return n, nil
}

func (s *Store) exists(ctx context.Context, query string, args ...interface{}) (bool, error) {
	var ok bool
	if err := s.q.GetContext(ctx, &ok, query, args...); err != nil {
		return false, err
	}
	return ok, nil
}

// CreatePayment creates a new payment record
func (s *Store) CreatePayment(ctx context.Context, payment *models.Payment) error {
	query := `
		INSERT INTO payments (order_id, status, provider_tx_id, amount)
		VALUES ($1, $2, $3, $4)
		RETURNING id, created_at, updated_at`

	return s.q.GetContext(ctx, payment, query,
		payment.OrderID, payment.Status, payment.ProviderTxID, payment.Amount)
}

// GetPaymentByOrderID retrieves the latest payment for an order, nil if none
func (s *Store) GetPaymentByOrderID(ctx context.Context, orderID int64) (*models.Payment, error) {
	var payment models.Payment
	err := s.q.GetContext(ctx, &payment,
		`SELECT id, order_id, status, provider_tx_id, amount, created_at, updated_at
		FROM payments WHERE order_id = $1 ORDER BY created_at DESC, id DESC LIMIT 1`, orderID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get payment for order %d: %w", orderID, err)
	}
	return &payment, nil
}

// UpdatePaymentStatus updates the latest payment of an order, creating one
// when the order was paid without a recorded request
func (s *Store) UpdatePaymentStatus(ctx context.Context, orderID, amount int64, status, providerTxID string) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE payments SET status = $1, provider_tx_id = $2, updated_at = NOW() WHERE id = (SELECT id FROM payments WHERE order_id = $3 ORDER BY created_at DESC, id DESC LIMIT 1)`,
		status, providerTxID, orderID)
	if err != nil {
		return fmt.Errorf("failed to update payment for order %d: %w", orderID, err)
	}
	n, err := rowsAffected(res)
	if err != nil {
		return err
	}
	if n > 0 {
		return nil
	}

	return s.CreatePayment(ctx, &models.Payment{
		OrderID:      orderID,
		Status:       status,
		ProviderTxID: providerTxID,
		Amount:       amount,
	})
}

// MarkNotificationProcessed records a provider notification id
func (s *Store) MarkNotificationProcessed(ctx context.Context, notifyID string, orderID int64) (bool, error) {
	res, err := s.q.ExecContext(ctx,
		"INSERT INTO processed_notifications (notify_id, order_id) VALUES ($1, $2) ON CONFLICT (notify_id) DO NOTHING",
		notifyID, orderID)
	if err != nil {
		return false, fmt.Errorf("failed to record notification %s: %w", notifyID, err)
	}
	n, err := rowsAffected(res)
	return n > 0, err
}

// CreateMessage stores an inbox message once per event id
func (s *Store) CreateMessage(ctx context.Context, msg *models.Message) (bool, error) {
	err := s.q.GetContext(ctx, msg,
		`INSERT INTO messages (event_id, to_account_id, kind) VALUES (NULLIF($1, ''), $2, $3)
		ON CONFLICT (event_id) DO NOTHING RETURNING id, created_at`,
		msg.EventID, msg.ToAccountID, msg.Kind)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to create message for account %d: %w", msg.ToAccountID, err)
	}
	return true, nil
}

// ListMessages returns an account's inbox, newest first
func (s *Store) ListMessages(ctx context.Context, accountID int64) ([]models.Message, error) {
	messages := []models.Message{}
	err := s.q.SelectContext(ctx, &messages,
		"SELECT id, COALESCE(event_id, '') AS event_id, to_account_id, kind, created_at FROM messages WHERE to_account_id = $1 ORDER BY created_at DESC, id DESC",
		accountID)
	return messages, err
}

func int64Array(ids []int64) interface{} {
	return pq.Array(ids)
}

func notFound(err error, sentinel *apperr.Error, id int64) error {
	if errors.Is(err, sql.ErrNoRows) {
		return sentinel.WithDetail("id %d", id)
	}
	return err
}
