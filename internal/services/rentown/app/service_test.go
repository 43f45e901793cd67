package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/louisbranch/rentown/internal/agreement"
	"github.com/louisbranch/rentown/internal/agreement/event"
	apperrors "github.com/louisbranch/rentown/internal/platform/errors"
	"github.com/louisbranch/rentown/internal/services/rentown/storage"
	"github.com/louisbranch/rentown/internal/services/rentown/storage/memory"
)

var fixedNow = time.Date(2026, 3, 14, 9, 30, 0, 0, time.UTC)

func newTestService(t *testing.T) *Service {
	t.Helper()

	counter := 0
	generator := func() (string, error) {
		counter++
		return fmt.Sprintf("id-%03d", counter), nil
	}
	store := memory.NewStore(
		memory.WithNow(func() time.Time { return fixedNow }),
		memory.WithIDGenerator(generator),
	)
	service, err := NewService(store,
		WithNow(func() time.Time { return fixedNow }),
		WithIDGenerator(generator),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	return service
}

func testInput() agreement.Input {
	return agreement.Input{
		LandlordID:        "landlord-1",
		TenantID:          "tenant-1",
		RentAmount:        100,
		PaymentsNeeded:    3,
		PeriodsForPayment: 10,
		PenaltyPercent:    20,
	}
}

func TestNewServiceRequiresStore(t *testing.T) {
	if _, err := NewService(nil); err == nil {
		t.Fatal("expected error for nil store")
	}
}

func TestCreateJournalsCreation(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	a, err := service.Create(ctx, "landlord-1", testInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if a.ID == "" {
		t.Fatal("expected generated agreement id")
	}
	if a.IsOwned() || a.PaymentCount != 0 {
		t.Fatalf("expected fresh agreement, got owned=%v count=%d", a.IsOwned(), a.PaymentCount)
	}

	events, err := service.ListEvents(ctx, a.ID, 0)
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Type != event.TypeAgreementCreated {
		t.Errorf("expected created event, got %q", events[0].Type)
	}
	if events[0].ActorID != "landlord-1" {
		t.Errorf("expected creator as actor, got %q", events[0].ActorID)
	}

	var payload event.CreatedPayload
	if err := json.Unmarshal(events[0].PayloadJSON, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.RentAmount != 100 || payload.PaymentsNeeded != 3 {
		t.Errorf("unexpected created payload: %+v", payload)
	}
}

func TestCreateRejectsInvalidConfiguration(t *testing.T) {
	service := newTestService(t)

	input := testInput()
	input.RentAmount = 0
	if _, err := service.Create(context.Background(), "landlord-1", input); !errors.Is(err, agreement.ErrInvalidConfiguration) {
		t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
	}
}

func TestPayRentThroughOwnership(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	a, err := service.Create(ctx, "landlord-1", testInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	for period := uint64(1); period <= 3; period++ {
		result, err := service.PayRent(ctx, "tenant-1", a.ID, 100, period)
		if err != nil {
			t.Fatalf("payment %d: %v", period, err)
		}
		if result.Agreement.PaymentCount != period {
			t.Errorf("payment %d: expected count %d, got %d", period, period, result.Agreement.PaymentCount)
		}
		if len(result.Transfers) != 1 {
			t.Fatalf("payment %d: expected 1 transfer, got %d", period, len(result.Transfers))
		}
		if result.Transfers[0].Recipient != "landlord-1" || result.Transfers[0].Amount != 100 {
			t.Errorf("payment %d: unexpected transfer %+v", period, result.Transfers[0])
		}
	}

	got, err := service.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !got.IsOwned() {
		t.Fatal("expected ownership after three payments")
	}
	if got.TotalPaid != 300 {
		t.Errorf("expected total paid 300, got %d", got.TotalPaid)
	}

	if _, err := service.PayRent(ctx, "tenant-1", a.ID, 100, 4); !errors.Is(err, agreement.ErrAlreadyOwned) {
		t.Fatalf("expected ErrAlreadyOwned, got %v", err)
	}
}

func TestPayRentRefundsExcess(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	a, err := service.Create(ctx, "landlord-1", testInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	result, err := service.PayRent(ctx, "tenant-1", a.ID, 130, 1)
	if err != nil {
		t.Fatalf("pay rent: %v", err)
	}
	if len(result.Transfers) != 2 {
		t.Fatalf("expected refund and rent transfers, got %d", len(result.Transfers))
	}
	if result.Transfers[0].Recipient != "tenant-1" || result.Transfers[0].Amount != 30 {
		t.Errorf("unexpected refund transfer: %+v", result.Transfers[0])
	}
	if result.Transfers[1].Recipient != "landlord-1" || result.Transfers[1].Amount != 100 {
		t.Errorf("unexpected rent transfer: %+v", result.Transfers[1])
	}
	if result.Agreement.TotalPaid != 100 {
		t.Errorf("expected total paid to track rent only, got %d", result.Agreement.TotalPaid)
	}
}

func TestPayRentUnauthorizedLeavesStateUnchanged(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	a, err := service.Create(ctx, "landlord-1", testInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := service.PayRent(ctx, "landlord-1", a.ID, 100, 1); !errors.Is(err, agreement.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}

	got, err := service.Get(ctx, a.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != a {
		t.Fatalf("state changed on rejected command:\n got %+v\nwant %+v", got, a)
	}
}

func TestAdjustRentJournalsChange(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	a, err := service.Create(ctx, "landlord-1", testInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	result, err := service.AdjustRent(ctx, "landlord-1", a.ID, 110)
	if err != nil {
		t.Fatalf("adjust rent: %v", err)
	}
	if result.Agreement.RentAmount != 110 {
		t.Errorf("expected rent 110, got %d", result.Agreement.RentAmount)
	}
	if len(result.Events) != 1 || result.Events[0].Type != event.TypeRentAdjusted {
		t.Fatalf("expected rent adjusted event, got %+v", result.Events)
	}

	var payload event.RentAdjustedPayload
	if err := json.Unmarshal(result.Events[0].PayloadJSON, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.PreviousRent != 100 || payload.NewRent != 110 {
		t.Errorf("unexpected adjustment payload: %+v", payload)
	}

	if _, err := service.AdjustRent(ctx, "landlord-1", a.ID, 130); !errors.Is(err, agreement.ErrRentIncreaseTooLarge) {
		t.Fatalf("expected ErrRentIncreaseTooLarge, got %v", err)
	}
}

func TestCancelByTenant(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	a, err := service.Create(ctx, "landlord-1", testInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	for period := uint64(1); period <= 3; period++ {
		if _, err := service.PayRent(ctx, "tenant-1", a.ID, 100, period); err != nil {
			t.Fatalf("payment %d: %v", period, err)
		}
	}

	result, err := service.Cancel(ctx, "tenant-1", a.ID, 4)
	if err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if len(result.Transfers) != 1 {
		t.Fatalf("expected refund transfer, got %d transfers", len(result.Transfers))
	}
	if result.Transfers[0].Recipient != "tenant-1" || result.Transfers[0].Amount != 240 {
		t.Errorf("expected refund of 240 to tenant, got %+v", result.Transfers[0])
	}
	if result.Agreement.TotalPaid != 0 || result.Agreement.PaymentCount != 0 || result.Agreement.IsOwned() {
		t.Errorf("expected reset state, got %+v", result.Agreement)
	}

	var payload event.CancelledPayload
	if err := json.Unmarshal(result.Events[0].PayloadJSON, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.CancelledBy != "tenant-1" || payload.Refund != 240 || payload.Forfeited != 60 {
		t.Errorf("unexpected cancellation payload: %+v", payload)
	}
}

func TestCancelByLandlordRequiresOverduePayment(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	a, err := service.Create(ctx, "landlord-1", testInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := service.PayRent(ctx, "tenant-1", a.ID, 100, 5); err != nil {
		t.Fatalf("pay rent: %v", err)
	}

	if _, err := service.Cancel(ctx, "landlord-1", a.ID, 15); !errors.Is(err, agreement.ErrPaymentNotDue) {
		t.Fatalf("expected ErrPaymentNotDue, got %v", err)
	}
	if _, err := service.Cancel(ctx, "landlord-1", a.ID, 16); err != nil {
		t.Fatalf("cancel after grace window: %v", err)
	}
}

func TestCancelByStranger(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	a, err := service.Create(ctx, "landlord-1", testInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	if _, err := service.Cancel(ctx, "someone-else", a.ID, 20); !errors.Is(err, agreement.ErrUnauthorized) {
		t.Fatalf("expected ErrUnauthorized, got %v", err)
	}
}

func TestGetUnknownAgreement(t *testing.T) {
	service := newTestService(t)

	_, err := service.Get(context.Background(), "missing")
	if !errors.Is(err, apperrors.New(apperrors.CodeNotFound, "")) {
		t.Fatalf("expected not found code, got %v", err)
	}
}

func TestMarkTransferExecuted(t *testing.T) {
	service := newTestService(t)
	ctx := context.Background()

	a, err := service.Create(ctx, "landlord-1", testInput())
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	result, err := service.PayRent(ctx, "tenant-1", a.ID, 100, 1)
	if err != nil {
		t.Fatalf("pay rent: %v", err)
	}

	if err := service.MarkTransferExecuted(ctx, result.Transfers[0].ID); err != nil {
		t.Fatalf("mark executed: %v", err)
	}

	transfers, err := service.ListTransfers(ctx, a.ID, 0)
	if err != nil {
		t.Fatalf("list transfers: %v", err)
	}
	if transfers[0].Status != storage.TransferStatusExecuted {
		t.Errorf("expected executed status, got %q", transfers[0].Status)
	}
}
