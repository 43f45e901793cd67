// Package app implements the agreement registry service.
//
// The service owns the multi-agreement registry: it loads agreement state,
// invokes the pure engine with the caller identity and period supplied by the
// transport edge, and commits the resulting state, journal events, and
// transfer instructions atomically through the store.
package app

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/louisbranch/rentown/internal/agreement"
	"github.com/louisbranch/rentown/internal/agreement/event"
	apperrors "github.com/louisbranch/rentown/internal/platform/errors"
	"github.com/louisbranch/rentown/internal/platform/id"
	"github.com/louisbranch/rentown/internal/services/rentown/storage"
)

// Service coordinates engine operations with persistence.
type Service struct {
	store storage.Store
	now   func() time.Time
	newID func() (string, error)
}

// Option configures service behavior.
type Option func(*Service)

// WithNow overrides the clock used for state timestamps.
func WithNow(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// WithIDGenerator overrides the generator used for agreement ids.
func WithIDGenerator(generator func() (string, error)) Option {
	return func(s *Service) {
		if generator != nil {
			s.newID = generator
		}
	}
}

// NewService creates a service over the provided store.
func NewService(store storage.Store, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("store is required")
	}
	service := &Service{
		store: store,
		now:   time.Now,
		newID: id.NewID,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(service)
		}
	}
	return service, nil
}

// Result reports the outcome of an accepted command: the committed state plus
// the journal events and transfer instructions written with it.
type Result struct {
	Agreement agreement.Agreement
	Events    []event.Event
	Transfers []storage.Transfer
}

// Create registers a new agreement.
//
// Creation carries no party restriction; the authenticated caller is
// journaled as the actor of the creation event.
func (s *Service) Create(ctx context.Context, callerID string, input agreement.Input) (agreement.Agreement, error) {
	a, err := agreement.New(input, s.now, s.newID)
	if err != nil {
		return agreement.Agreement{}, err
	}

	payload, err := json.Marshal(event.CreatedPayload{
		LandlordID:        a.LandlordID,
		TenantID:          a.TenantID,
		RentAmount:        a.RentAmount,
		PaymentsNeeded:    a.PaymentsNeeded,
		PeriodsForPayment: a.PeriodsForPayment,
		PenaltyPercent:    a.PenaltyPercent,
	})
	if err != nil {
		return agreement.Agreement{}, apperrors.Wrap(apperrors.CodeUnknown, "encode created payload", err)
	}

	created := event.Event{
		AgreementID: a.ID,
		Type:        event.TypeAgreementCreated,
		ActorID:     callerID,
		Period:      input.CurrentPeriod,
		PayloadJSON: payload,
	}
	if err := s.store.CreateAgreement(ctx, a, created); err != nil {
		return agreement.Agreement{}, apperrors.Wrap(apperrors.CodeUnknown, "store agreement", err)
	}
	return a, nil
}

// Get returns the agreement with the given id.
func (s *Service) Get(ctx context.Context, agreementID string) (agreement.Agreement, error) {
	a, err := s.store.GetAgreement(ctx, agreementID)
	if err != nil {
		return agreement.Agreement{}, mapStorageError("load agreement", err)
	}
	return a, nil
}

// List returns all registered agreements.
func (s *Service) List(ctx context.Context) ([]agreement.Agreement, error) {
	agreements, err := s.store.ListAgreements(ctx)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "list agreements", err)
	}
	return agreements, nil
}

// PayRent accepts a rent payment on behalf of the caller.
func (s *Service) PayRent(ctx context.Context, callerID, agreementID string, amountSent, currentPeriod uint64) (Result, error) {
	a, err := s.store.GetAgreement(ctx, agreementID)
	if err != nil {
		return Result{}, mapStorageError("load agreement", err)
	}

	next, decision, err := a.PayRent(callerID, amountSent, currentPeriod, s.now)
	if err != nil {
		return Result{}, err
	}
	return s.commit(ctx, next, decision.Events, decision.Transfers)
}

// AdjustRent replaces the rent amount on behalf of the landlord.
func (s *Service) AdjustRent(ctx context.Context, callerID, agreementID string, newRentAmount uint64) (Result, error) {
	a, err := s.store.GetAgreement(ctx, agreementID)
	if err != nil {
		return Result{}, mapStorageError("load agreement", err)
	}

	next, err := a.AdjustRent(callerID, newRentAmount, s.now)
	if err != nil {
		return Result{}, err
	}

	payload, err := json.Marshal(event.RentAdjustedPayload{
		PreviousRent: a.RentAmount,
		NewRent:      next.RentAmount,
	})
	if err != nil {
		return Result{}, apperrors.Wrap(apperrors.CodeUnknown, "encode adjustment payload", err)
	}
	adjusted := event.Event{
		AgreementID: a.ID,
		Type:        event.TypeRentAdjusted,
		ActorID:     callerID,
		PayloadJSON: payload,
	}
	return s.commit(ctx, next, []event.Event{adjusted}, nil)
}

// Cancel cancels the agreement, dispatching to the tenant or landlord path
// by caller identity. The refund transfer is scheduled even when it is zero
// so the outbox records every cancellation.
func (s *Service) Cancel(ctx context.Context, callerID, agreementID string, currentPeriod uint64) (Result, error) {
	a, err := s.store.GetAgreement(ctx, agreementID)
	if err != nil {
		return Result{}, mapStorageError("load agreement", err)
	}

	var next agreement.Agreement
	var refund agreement.Transfer
	switch callerID {
	case a.TenantID:
		next, refund, err = a.CancelByTenant(callerID, currentPeriod, s.now)
	case a.LandlordID:
		next, refund, err = a.CancelByLandlord(callerID, currentPeriod, s.now)
	default:
		err = agreement.ErrUnauthorized
	}
	if err != nil {
		return Result{}, err
	}

	payload, err := json.Marshal(event.CancelledPayload{
		CancelledBy: callerID,
		Refund:      refund.Amount,
		Forfeited:   a.TotalPaid - refund.Amount,
	})
	if err != nil {
		return Result{}, apperrors.Wrap(apperrors.CodeUnknown, "encode cancellation payload", err)
	}
	cancelled := event.Event{
		AgreementID: a.ID,
		Type:        event.TypeAgreementCancelled,
		ActorID:     callerID,
		Period:      currentPeriod,
		PayloadJSON: payload,
	}
	return s.commit(ctx, next, []event.Event{cancelled}, []agreement.Transfer{refund})
}

// ListEvents returns the agreement's journal in append order.
func (s *Service) ListEvents(ctx context.Context, agreementID string, limit int) ([]event.Event, error) {
	if _, err := s.store.GetAgreement(ctx, agreementID); err != nil {
		return nil, mapStorageError("load agreement", err)
	}
	events, err := s.store.ListEvents(ctx, agreementID, limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "list events", err)
	}
	return events, nil
}

// ListTransfers returns the agreement's transfer outbox in schedule order.
func (s *Service) ListTransfers(ctx context.Context, agreementID string, limit int) ([]storage.Transfer, error) {
	if _, err := s.store.GetAgreement(ctx, agreementID); err != nil {
		return nil, mapStorageError("load agreement", err)
	}
	transfers, err := s.store.ListTransfers(ctx, agreementID, limit)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeUnknown, "list transfers", err)
	}
	return transfers, nil
}

// MarkTransferExecuted records that the host executor completed a transfer.
func (s *Service) MarkTransferExecuted(ctx context.Context, transferID string) error {
	if err := s.store.MarkTransferExecuted(ctx, transferID, s.now().UTC()); err != nil {
		return mapStorageError("mark transfer executed", err)
	}
	return nil
}

func (s *Service) commit(ctx context.Context, a agreement.Agreement, events []event.Event, transfers []agreement.Transfer) (Result, error) {
	committed, err := s.store.CommitDecision(ctx, a, events, transfers)
	if err != nil {
		return Result{}, mapStorageError("commit decision", err)
	}
	return Result{
		Agreement: a,
		Events:    committed.Events,
		Transfers: committed.Transfers,
	}, nil
}

func mapStorageError(message string, err error) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apperrors.Wrap(apperrors.CodeNotFound, message, err)
	}
	return apperrors.Wrap(apperrors.CodeUnknown, message, err)
}
