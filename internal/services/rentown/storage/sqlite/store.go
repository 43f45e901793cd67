// Package sqlite provides the SQLite-backed store for the rentown service.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/louisbranch/rentown/internal/agreement"
	"github.com/louisbranch/rentown/internal/agreement/event"
	"github.com/louisbranch/rentown/internal/platform/id"
	"github.com/louisbranch/rentown/internal/platform/storage/sqlitemigrate"
	"github.com/louisbranch/rentown/internal/services/rentown/storage"
	"github.com/louisbranch/rentown/internal/services/rentown/storage/sqlite/migrations"
)

func toMillis(value time.Time) int64 {
	return value.UTC().UnixMilli()
}

// fromMillis reverses toMillis for persisted millisecond timestamps.
func fromMillis(value int64) time.Time {
	return time.UnixMilli(value).UTC()
}

// toNullMillis maps optional domain times to sql.NullInt64 for nullable DB columns.
func toNullMillis(value *time.Time) sql.NullInt64 {
	if value == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMillis(*value), Valid: true}
}

// fromNullMillis maps nullable SQL timestamps back into optional domain time values.
func fromNullMillis(value sql.NullInt64) *time.Time {
	if !value.Valid {
		return nil
	}
	t := fromMillis(value.Int64)
	return &t
}

// Store provides a SQLite-backed store implementing all storage interfaces.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
	newID func() (string, error)
}

// Option configures store behavior.
type Option func(*Store)

// WithNow overrides the clock used for storage-assigned timestamps.
func WithNow(now func() time.Time) Option {
	return func(s *Store) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides the generator used for transfer record ids.
func WithIDGenerator(generator func() (string, error)) Option {
	return func(s *Store) {
		if generator != nil {
			s.newID = generator
		}
	}
}

// Open opens a SQLite store at the provided path and applies embedded
// migrations before the store is handed to higher layers.
func Open(path string, opts ...Option) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}

	cleanPath := filepath.Clean(path)
	dsn := cleanPath + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}

	if err := sqlitemigrate.ApplyMigrations(sqlDB, migrations.FS, "."); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("apply migrations: %w", err)
	}

	store := &Store{
		sqlDB: sqlDB,
		now:   time.Now,
		newID: id.NewID,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store, nil
}

// Close closes the underlying SQLite database.
//
// Close is intentionally nil-safe so callers can defer it in all startup paths.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// CreateAgreement stores a new agreement and journals its creation event in
// the same transaction.
func (s *Store) CreateAgreement(ctx context.Context, a agreement.Agreement, created event.Event) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const insertSQL = `
INSERT INTO agreements (
    id, landlord_id, tenant_id, rent_amount, total_paid, payment_count,
    payments_needed, property_owned, last_payment_period,
    periods_for_payment, penalty_percent, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if _, err := tx.ExecContext(ctx, insertSQL,
		a.ID, a.LandlordID, a.TenantID,
		int64(a.RentAmount), int64(a.TotalPaid), int64(a.PaymentCount),
		int64(a.PaymentsNeeded), boolToInt(a.PropertyOwned), int64(a.LastPaymentPeriod),
		int64(a.PeriodsForPayment), int64(a.PenaltyPercent),
		toMillis(a.CreatedAt), toMillis(a.UpdatedAt),
	); err != nil {
		return fmt.Errorf("insert agreement: %w", err)
	}

	if _, err := s.appendEvent(ctx, tx, created); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit create transaction: %w", err)
	}
	return nil
}

// GetAgreement returns the agreement with the given id.
func (s *Store) GetAgreement(ctx context.Context, agreementID string) (agreement.Agreement, error) {
	row := s.sqlDB.QueryRowContext(ctx, selectAgreementSQL+" WHERE id = ?", agreementID)
	a, err := scanAgreement(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return agreement.Agreement{}, storage.ErrNotFound
		}
		return agreement.Agreement{}, fmt.Errorf("get agreement: %w", err)
	}
	return a, nil
}

// ListAgreements returns all agreements ordered by creation time.
func (s *Store) ListAgreements(ctx context.Context) ([]agreement.Agreement, error) {
	rows, err := s.sqlDB.QueryContext(ctx, selectAgreementSQL+" ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("list agreements: %w", err)
	}
	defer rows.Close()

	var agreements []agreement.Agreement
	for rows.Next() {
		a, err := scanAgreement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agreement: %w", err)
		}
		agreements = append(agreements, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agreements: %w", err)
	}
	return agreements, nil
}

// CommitDecision applies an engine decision atomically: the agreement state
// update, the journal events, and the transfer instructions land in one
// transaction, or none do.
func (s *Store) CommitDecision(ctx context.Context, a agreement.Agreement, events []event.Event, transfers []agreement.Transfer) (storage.CommitResult, error) {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return storage.CommitResult{}, fmt.Errorf("begin commit transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const updateSQL = `
UPDATE agreements SET
    rent_amount = ?, total_paid = ?, payment_count = ?, property_owned = ?,
    last_payment_period = ?, updated_at = ?
WHERE id = ?`
	result, err := tx.ExecContext(ctx, updateSQL,
		int64(a.RentAmount), int64(a.TotalPaid), int64(a.PaymentCount),
		boolToInt(a.PropertyOwned), int64(a.LastPaymentPeriod),
		toMillis(a.UpdatedAt), a.ID,
	)
	if err != nil {
		return storage.CommitResult{}, fmt.Errorf("update agreement: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return storage.CommitResult{}, fmt.Errorf("update agreement rows: %w", err)
	}
	if affected == 0 {
		return storage.CommitResult{}, storage.ErrNotFound
	}

	var committed storage.CommitResult
	for _, evt := range events {
		stored, err := s.appendEvent(ctx, tx, evt)
		if err != nil {
			return storage.CommitResult{}, err
		}
		committed.Events = append(committed.Events, stored)
	}

	for _, transfer := range transfers {
		stored, err := s.appendTransfer(ctx, tx, a.ID, transfer)
		if err != nil {
			return storage.CommitResult{}, err
		}
		committed.Transfers = append(committed.Transfers, stored)
	}

	if err := tx.Commit(); err != nil {
		return storage.CommitResult{}, fmt.Errorf("commit decision transaction: %w", err)
	}
	return committed, nil
}

// ListEvents returns the journal for an agreement in append order.
func (s *Store) ListEvents(ctx context.Context, agreementID string, limit int) ([]event.Event, error) {
	query := `
SELECT agreement_id, seq, timestamp, type, actor_id, period, payload
FROM agreement_events WHERE agreement_id = ? ORDER BY seq`
	args := []any{agreementID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list events: %w", err)
	}
	defer rows.Close()

	var events []event.Event
	for rows.Next() {
		var evt event.Event
		var seq, timestamp, period int64
		var payload string
		if err := rows.Scan(&evt.AgreementID, &seq, &timestamp, &evt.Type, &evt.ActorID, &period, &payload); err != nil {
			return nil, fmt.Errorf("scan event: %w", err)
		}
		evt.Seq = uint64(seq)
		evt.Timestamp = fromMillis(timestamp)
		evt.Period = uint64(period)
		evt.PayloadJSON = []byte(payload)
		events = append(events, evt)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate events: %w", err)
	}
	return events, nil
}

// ListTransfers returns the transfer outbox for an agreement in schedule order.
func (s *Store) ListTransfers(ctx context.Context, agreementID string, limit int) ([]storage.Transfer, error) {
	query := `
SELECT id, agreement_id, seq, recipient, amount, status, created_at, executed_at
FROM transfers WHERE agreement_id = ? ORDER BY seq`
	args := []any{agreementID}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list transfers: %w", err)
	}
	defer rows.Close()

	var transfers []storage.Transfer
	for rows.Next() {
		var transfer storage.Transfer
		var seq, amount, createdAt int64
		var executedAt sql.NullInt64
		if err := rows.Scan(&transfer.ID, &transfer.AgreementID, &seq, &transfer.Recipient, &amount, &transfer.Status, &createdAt, &executedAt); err != nil {
			return nil, fmt.Errorf("scan transfer: %w", err)
		}
		transfer.Seq = uint64(seq)
		transfer.Amount = uint64(amount)
		transfer.CreatedAt = fromMillis(createdAt)
		transfer.ExecutedAt = fromNullMillis(executedAt)
		transfers = append(transfers, transfer)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate transfers: %w", err)
	}
	return transfers, nil
}

// MarkTransferExecuted records that the host executor completed a transfer.
func (s *Store) MarkTransferExecuted(ctx context.Context, transferID string, executedAt time.Time) error {
	result, err := s.sqlDB.ExecContext(ctx,
		"UPDATE transfers SET status = ?, executed_at = ? WHERE id = ? AND status = ?",
		storage.TransferStatusExecuted, toMillis(executedAt), transferID, storage.TransferStatusPending,
	)
	if err != nil {
		return fmt.Errorf("mark transfer executed: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("mark transfer rows: %w", err)
	}
	if affected == 0 {
		var status string
		row := s.sqlDB.QueryRowContext(ctx, "SELECT status FROM transfers WHERE id = ?", transferID)
		if err := row.Scan(&status); err != nil {
			if errors.Is(err, sql.ErrNoRows) {
				return storage.ErrNotFound
			}
			return fmt.Errorf("check transfer status: %w", err)
		}
		return fmt.Errorf("transfer %s already %s", transferID, status)
	}
	return nil
}

const selectAgreementSQL = `
SELECT id, landlord_id, tenant_id, rent_amount, total_paid, payment_count,
    payments_needed, property_owned, last_payment_period,
    periods_for_payment, penalty_percent, created_at, updated_at
FROM agreements`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgreement(row rowScanner) (agreement.Agreement, error) {
	var a agreement.Agreement
	var rentAmount, totalPaid, paymentCount, paymentsNeeded int64
	var propertyOwned, lastPaymentPeriod, periodsForPayment, penaltyPercent int64
	var createdAt, updatedAt int64
	if err := row.Scan(
		&a.ID, &a.LandlordID, &a.TenantID, &rentAmount, &totalPaid, &paymentCount,
		&paymentsNeeded, &propertyOwned, &lastPaymentPeriod,
		&periodsForPayment, &penaltyPercent, &createdAt, &updatedAt,
	); err != nil {
		return agreement.Agreement{}, err
	}
	a.RentAmount = uint64(rentAmount)
	a.TotalPaid = uint64(totalPaid)
	a.PaymentCount = uint64(paymentCount)
	a.PaymentsNeeded = uint64(paymentsNeeded)
	a.PropertyOwned = propertyOwned != 0
	a.LastPaymentPeriod = uint64(lastPaymentPeriod)
	a.PeriodsForPayment = uint64(periodsForPayment)
	a.PenaltyPercent = uint64(penaltyPercent)
	a.CreatedAt = fromMillis(createdAt)
	a.UpdatedAt = fromMillis(updatedAt)
	return a, nil
}

// appendEvent writes an event row with the next per-agreement sequence
// number and a storage-assigned timestamp.
func (s *Store) appendEvent(ctx context.Context, tx *sql.Tx, evt event.Event) (event.Event, error) {
	if !evt.Type.IsValid() {
		return event.Event{}, fmt.Errorf("event type is required")
	}

	var lastSeq int64
	row := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) FROM agreement_events WHERE agreement_id = ?", evt.AgreementID)
	if err := row.Scan(&lastSeq); err != nil {
		return event.Event{}, fmt.Errorf("next event seq: %w", err)
	}

	evt.Seq = uint64(lastSeq) + 1
	evt.Timestamp = s.now().UTC()
	payload := evt.PayloadJSON
	if payload == nil {
		payload = []byte("{}")
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO agreement_events (agreement_id, seq, timestamp, type, actor_id, period, payload)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		evt.AgreementID, int64(evt.Seq), toMillis(evt.Timestamp),
		string(evt.Type), evt.ActorID, int64(evt.Period), string(payload),
	); err != nil {
		return event.Event{}, fmt.Errorf("append event: %w", err)
	}
	return evt, nil
}

// appendTransfer writes a pending outbox row with the next per-agreement
// sequence number.
func (s *Store) appendTransfer(ctx context.Context, tx *sql.Tx, agreementID string, transfer agreement.Transfer) (storage.Transfer, error) {
	transferID, err := s.newID()
	if err != nil {
		return storage.Transfer{}, fmt.Errorf("generate transfer id: %w", err)
	}

	var lastSeq int64
	row := tx.QueryRowContext(ctx,
		"SELECT COALESCE(MAX(seq), 0) FROM transfers WHERE agreement_id = ?", agreementID)
	if err := row.Scan(&lastSeq); err != nil {
		return storage.Transfer{}, fmt.Errorf("next transfer seq: %w", err)
	}

	stored := storage.Transfer{
		ID:          transferID,
		AgreementID: agreementID,
		Seq:         uint64(lastSeq) + 1,
		Recipient:   transfer.Recipient,
		Amount:      transfer.Amount,
		Status:      storage.TransferStatusPending,
		CreatedAt:   s.now().UTC(),
	}

	if _, err := tx.ExecContext(ctx, `
INSERT INTO transfers (id, agreement_id, seq, recipient, amount, status, created_at, executed_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		stored.ID, stored.AgreementID, int64(stored.Seq), stored.Recipient,
		int64(stored.Amount), string(stored.Status), toMillis(stored.CreatedAt),
		toNullMillis(stored.ExecutedAt),
	); err != nil {
		return storage.Transfer{}, fmt.Errorf("append transfer: %w", err)
	}
	return stored, nil
}

func boolToInt(value bool) int64 {
	if value {
		return 1
	}
	return 0
}
