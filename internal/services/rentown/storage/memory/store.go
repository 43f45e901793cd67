// Package memory provides an in-memory store used in tests and local runs.
package memory

import (
	"context"
	"errors"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/louisbranch/rentown/internal/agreement"
	"github.com/louisbranch/rentown/internal/agreement/event"
	"github.com/louisbranch/rentown/internal/platform/id"
	"github.com/louisbranch/rentown/internal/services/rentown/storage"
)

// Store keeps agreements, their journals, and the transfer outbox in memory.
type Store struct {
	mu         sync.Mutex
	now        func() time.Time
	newID      func() (string, error)
	agreements map[string]agreement.Agreement
	events     map[string][]event.Event
	transfers  map[string][]storage.Transfer
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

// NewStore creates a new in-memory store.
func NewStore(opts ...Option) *Store {
	store := &Store{
		now:        time.Now,
		newID:      id.NewID,
		agreements: make(map[string]agreement.Agreement),
		events:     make(map[string][]event.Event),
		transfers:  make(map[string][]storage.Transfer),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(store)
		}
	}
	return store
}

// CreateAgreement stores a new agreement and journals its creation event.
func (s *Store) CreateAgreement(ctx context.Context, a agreement.Agreement, created event.Event) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	agreementID := strings.TrimSpace(a.ID)
	if agreementID == "" {
		return errors.New("agreement id is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agreements[agreementID]; ok {
		return errors.New("agreement already exists")
	}
	s.agreements[agreementID] = a
	s.appendEventLocked(created)
	return nil
}

// GetAgreement returns the agreement with the given id.
func (s *Store) GetAgreement(ctx context.Context, agreementID string) (agreement.Agreement, error) {
	if err := ctx.Err(); err != nil {
		return agreement.Agreement{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.agreements[agreementID]
	if !ok {
		return agreement.Agreement{}, storage.ErrNotFound
	}
	return a, nil
}

// ListAgreements returns all agreements ordered by creation time.
func (s *Store) ListAgreements(ctx context.Context) ([]agreement.Agreement, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	agreements := make([]agreement.Agreement, 0, len(s.agreements))
	for _, a := range s.agreements {
		agreements = append(agreements, a)
	}
	sort.Slice(agreements, func(i, j int) bool {
		if !agreements[i].CreatedAt.Equal(agreements[j].CreatedAt) {
			return agreements[i].CreatedAt.Before(agreements[j].CreatedAt)
		}
		return agreements[i].ID < agreements[j].ID
	})
	return agreements, nil
}

// CommitDecision applies an engine decision atomically under the store lock.
func (s *Store) CommitDecision(ctx context.Context, a agreement.Agreement, events []event.Event, transfers []agreement.Transfer) (storage.CommitResult, error) {
	if err := ctx.Err(); err != nil {
		return storage.CommitResult{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.agreements[a.ID]; !ok {
		return storage.CommitResult{}, storage.ErrNotFound
	}

	var committed storage.CommitResult
	for _, transfer := range transfers {
		transferID, err := s.newID()
		if err != nil {
			return storage.CommitResult{}, err
		}
		stored := storage.Transfer{
			ID:          transferID,
			AgreementID: a.ID,
			Seq:         uint64(len(s.transfers[a.ID])) + 1,
			Recipient:   transfer.Recipient,
			Amount:      transfer.Amount,
			Status:      storage.TransferStatusPending,
			CreatedAt:   s.now().UTC(),
		}
		s.transfers[a.ID] = append(s.transfers[a.ID], stored)
		committed.Transfers = append(committed.Transfers, stored)
	}

	s.agreements[a.ID] = a
	for _, evt := range events {
		committed.Events = append(committed.Events, s.appendEventLocked(evt))
	}
	return committed, nil
}

// ListEvents returns the journal for an agreement in append order.
func (s *Store) ListEvents(ctx context.Context, agreementID string, limit int) ([]event.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	journal := s.events[agreementID]
	if limit > 0 && limit < len(journal) {
		journal = journal[:limit]
	}
	events := make([]event.Event, len(journal))
	copy(events, journal)
	return events, nil
}

// ListTransfers returns the transfer outbox for an agreement in schedule order.
func (s *Store) ListTransfers(ctx context.Context, agreementID string, limit int) ([]storage.Transfer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	outbox := s.transfers[agreementID]
	if limit > 0 && limit < len(outbox) {
		outbox = outbox[:limit]
	}
	transfers := make([]storage.Transfer, len(outbox))
	copy(transfers, outbox)
	return transfers, nil
}

// MarkTransferExecuted records that the host executor completed a transfer.
func (s *Store) MarkTransferExecuted(ctx context.Context, transferID string, executedAt time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for agreementID, outbox := range s.transfers {
		for i, transfer := range outbox {
			if transfer.ID != transferID {
				continue
			}
			if transfer.Status != storage.TransferStatusPending {
				return errors.New("transfer already executed")
			}
			executedAt = executedAt.UTC()
			transfer.Status = storage.TransferStatusExecuted
			transfer.ExecutedAt = &executedAt
			s.transfers[agreementID][i] = transfer
			return nil
		}
	}
	return storage.ErrNotFound
}

func (s *Store) appendEventLocked(evt event.Event) event.Event {
	evt.Seq = uint64(len(s.events[evt.AgreementID])) + 1
	evt.Timestamp = s.now().UTC()
	if evt.PayloadJSON == nil {
		evt.PayloadJSON = []byte("{}")
	}
	s.events[evt.AgreementID] = append(s.events[evt.AgreementID], evt)
	return evt
}
