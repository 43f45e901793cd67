// Package storage defines the persistence interfaces for the rentown service.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/louisbranch/rentown/internal/agreement"
	"github.com/louisbranch/rentown/internal/agreement/event"
)

// ErrNotFound indicates a requested record is missing.
var ErrNotFound = errors.New("record not found")

// TransferStatus tracks whether the host executor has moved the funds for a
// scheduled transfer.
type TransferStatus string

const (
	// TransferStatusPending marks a transfer awaiting execution.
	TransferStatusPending TransferStatus = "pending"
	// TransferStatusExecuted marks a transfer the host has completed.
	TransferStatusExecuted TransferStatus = "executed"
)

// Transfer is a persisted transfer instruction in the outbox.
type Transfer struct {
	ID          string
	AgreementID string
	// Seq orders transfers within an agreement (starts at 1). Assigned by
	// storage on commit.
	Seq        uint64
	Recipient  string
	Amount     uint64
	Status     TransferStatus
	CreatedAt  time.Time
	ExecutedAt *time.Time
}

// AgreementStore persists agreement state records.
type AgreementStore interface {
	// CreateAgreement stores a new agreement and journals its creation
	// event in the same transaction.
	CreateAgreement(ctx context.Context, a agreement.Agreement, created event.Event) error
	// GetAgreement returns the agreement with the given id, or ErrNotFound.
	GetAgreement(ctx context.Context, agreementID string) (agreement.Agreement, error)
	// ListAgreements returns all agreements ordered by creation time.
	ListAgreements(ctx context.Context) ([]agreement.Agreement, error)
}

// DecisionWriter commits an engine decision atomically: the new agreement
// state, the journal events, and the transfer instructions all land in one
// transaction, or none do.
type DecisionWriter interface {
	CommitDecision(ctx context.Context, a agreement.Agreement, events []event.Event, transfers []agreement.Transfer) (CommitResult, error)
}

// CommitResult reports the journal and outbox records written by a commit,
// with sequence numbers and timestamps assigned.
type CommitResult struct {
	Events    []event.Event
	Transfers []Transfer
}

// EventJournal reads the agreement event journal.
type EventJournal interface {
	ListEvents(ctx context.Context, agreementID string, limit int) ([]event.Event, error)
}

// TransferOutbox reads and settles scheduled transfers.
type TransferOutbox interface {
	ListTransfers(ctx context.Context, agreementID string, limit int) ([]Transfer, error)
	// MarkTransferExecuted records that the host executor completed a
	// transfer. Marking an already-executed transfer is an error.
	MarkTransferExecuted(ctx context.Context, transferID string, executedAt time.Time) error
}

// Store bundles all persistence capabilities the service needs.
type Store interface {
	AgreementStore
	DecisionWriter
	EventJournal
	TransferOutbox
}
