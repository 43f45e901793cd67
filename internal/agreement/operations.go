package agreement

import (
	"encoding/json"
	"time"

	"github.com/louisbranch/rentown/internal/agreement/event"
)

// PayRent accepts a rent payment from the tenant.
//
// The returned decision schedules a refund of any excess over the current
// rent back to the caller, followed by the rent transfer to the landlord,
// and emits a PaymentMade event. Ownership transfers when the accepted
// payment count reaches PaymentsNeeded.
func (a Agreement) PayRent(callerID string, amountSent uint64, currentPeriod uint64, now func() time.Time) (Agreement, Decision, error) {
	if callerID != a.TenantID {
		return a, Decision{}, ErrUnauthorized
	}
	if amountSent < a.RentAmount {
		return a, Decision{}, ErrInsufficientPayment
	}
	if a.PropertyOwned {
		return a, Decision{}, ErrAlreadyOwned
	}

	var decision Decision
	if excess := amountSent - a.RentAmount; excess > 0 {
		decision.Transfers = append(decision.Transfers, Transfer{Recipient: callerID, Amount: excess})
	}
	decision.Transfers = append(decision.Transfers, Transfer{Recipient: a.LandlordID, Amount: a.RentAmount})

	a.TotalPaid += a.RentAmount
	a.PaymentCount++
	if a.PaymentCount >= a.PaymentsNeeded {
		a.PropertyOwned = true
	}
	a.LastPaymentPeriod = currentPeriod
	a.UpdatedAt = stamp(now)

	payload, _ := json.Marshal(event.PaymentMadePayload{From: callerID, Amount: a.RentAmount})
	decision.Events = append(decision.Events, event.Event{
		AgreementID: a.ID,
		Type:        event.TypePaymentMade,
		ActorID:     callerID,
		Period:      currentPeriod,
		PayloadJSON: payload,
	})

	return a, decision, nil
}

// AdjustRent replaces the rent amount.
//
// Only the landlord may adjust rent, and a single adjustment may not exceed
// 110% of the current rent. The cap is computed with integer floor division
// and then compared, so for rent 100 the largest accepted value is 110.
// Decreases are unbounded.
func (a Agreement) AdjustRent(callerID string, newRentAmount uint64, now func() time.Time) (Agreement, error) {
	if callerID != a.LandlordID {
		return a, ErrUnauthorized
	}
	maxRent := a.RentAmount * rentIncreaseCapPercent / 100
	if newRentAmount > maxRent {
		return a, ErrRentIncreaseTooLarge
	}
	a.RentAmount = newRentAmount
	a.UpdatedAt = stamp(now)
	return a, nil
}

// CancelByTenant cancels the agreement on the tenant's initiative.
//
// The tenant may cancel at any time; no due-date condition applies.
func (a Agreement) CancelByTenant(callerID string, currentPeriod uint64, now func() time.Time) (Agreement, Transfer, error) {
	if callerID != a.TenantID {
		return a, Transfer{}, ErrUnauthorized
	}
	return a.cancel(now), a.refundTransfer(), nil
}

// CancelByLandlord cancels the agreement on the landlord's initiative.
//
// The landlord may only cancel once the tenant's payment is overdue: the
// current period must exceed the last payment period plus the grace window.
func (a Agreement) CancelByLandlord(callerID string, currentPeriod uint64, now func() time.Time) (Agreement, Transfer, error) {
	if callerID != a.LandlordID {
		return a, Transfer{}, ErrUnauthorized
	}
	if !a.IsPaymentDue(currentPeriod) {
		return a, Transfer{}, ErrPaymentNotDue
	}
	return a.cancel(now), a.refundTransfer(), nil
}

// Refund returns the amount the tenant would receive if the agreement were
// cancelled now: TotalPaid minus the flat penalty, with integer floor
// division.
func (a Agreement) Refund() uint64 {
	return a.TotalPaid * (100 - a.PenaltyPercent) / 100
}

// refundTransfer builds the refund instruction for a cancellation, computed
// from the pre-reset TotalPaid.
func (a Agreement) refundTransfer() Transfer {
	return Transfer{Recipient: a.TenantID, Amount: a.Refund()}
}

// cancel resets all payment progress. Ownership progress does not persist
// across a cancellation: a tenant who already qualified for ownership loses
// that status when either party later cancels. That mirrors the source
// policy and is deliberate, not an oversight.
func (a Agreement) cancel(now func() time.Time) Agreement {
	a.TotalPaid = 0
	a.PaymentCount = 0
	a.PropertyOwned = false
	a.UpdatedAt = stamp(now)
	return a
}

func stamp(now func() time.Time) time.Time {
	if now == nil {
		now = time.Now
	}
	return now().UTC()
}
