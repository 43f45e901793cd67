// Package agreement implements the rent-to-own agreement engine.
//
// The engine is a deterministic state machine over a single landlord/tenant
// pair. Every operation is a pure function of the current state plus an
// explicit caller identity and period counter supplied by the host; the
// engine never reads a clock, never performs I/O, and never moves funds
// itself. Operations return the next state together with the value transfers
// the host must execute atomically with the state commit.
package agreement

import (
	"strings"
	"time"

	apperrors "github.com/louisbranch/rentown/internal/platform/errors"
	"github.com/louisbranch/rentown/internal/platform/id"
)

// Typed engine errors. All are pure validation failures returned before any
// state mutation; a non-nil error always means the returned state is the
// input state unchanged.
var (
	// ErrUnauthorized indicates the wrong caller for the operation.
	ErrUnauthorized = apperrors.New(apperrors.CodeUnauthorized, "caller is not authorized for this operation")
	// ErrInsufficientPayment indicates the amount sent is below the current rent.
	ErrInsufficientPayment = apperrors.New(apperrors.CodeInsufficientPayment, "amount sent is below the rent amount")
	// ErrAlreadyOwned indicates the property has already transferred to the tenant.
	ErrAlreadyOwned = apperrors.New(apperrors.CodeAlreadyOwned, "property is already owned by the tenant")
	// ErrRentIncreaseTooLarge indicates a rent adjustment above the 110% cap.
	ErrRentIncreaseTooLarge = apperrors.New(apperrors.CodeRentIncreaseTooLarge, "rent increase exceeds the allowed cap")
	// ErrPaymentNotDue indicates the landlord cancelled before the grace window lapsed.
	ErrPaymentNotDue = apperrors.New(apperrors.CodePaymentNotDue, "payment is not overdue")
	// ErrInvalidConfiguration indicates invalid creation parameters.
	ErrInvalidConfiguration = apperrors.New(apperrors.CodeInvalidConfiguration, "invalid agreement configuration")
)

// rentIncreaseCapPercent bounds a single rent adjustment relative to the
// current rent. The cap is computed with integer floor division before the
// comparison.
const rentIncreaseCapPercent = 110

// Agreement holds the full state of one rent-to-own agreement.
//
// LandlordID, TenantID, PaymentsNeeded, PeriodsForPayment, and
// PenaltyPercent are fixed at creation. RentAmount changes only through
// AdjustRent. The payment accumulators reset to zero on any cancellation.
type Agreement struct {
	ID         string
	LandlordID string
	TenantID   string

	// RentAmount is the rent charged per accepted payment.
	RentAmount uint64
	// TotalPaid accumulates the rent charged at each accepted payment.
	TotalPaid uint64
	// PaymentCount increments by exactly one per accepted payment.
	PaymentCount uint64
	// PaymentsNeeded is the accepted-payment count at which ownership transfers.
	PaymentsNeeded uint64
	// PropertyOwned reports whether ownership has transferred to the tenant.
	PropertyOwned bool
	// LastPaymentPeriod is the period of the most recent accepted payment,
	// initialized to the creation period.
	LastPaymentPeriod uint64
	// PeriodsForPayment is the grace window length for landlord cancellation.
	PeriodsForPayment uint64
	// PenaltyPercent is the fraction of TotalPaid forfeited on cancellation,
	// in [0, 100].
	PenaltyPercent uint64

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Input describes the creation parameters for an agreement.
type Input struct {
	LandlordID        string
	TenantID          string
	RentAmount        uint64
	PaymentsNeeded    uint64
	PeriodsForPayment uint64
	PenaltyPercent    uint64
	CurrentPeriod     uint64
}

// New creates an agreement with a generated ID and timestamps.
//
// It fails with ErrInvalidConfiguration unless RentAmount > 0,
// PaymentsNeeded > 0, PenaltyPercent <= 100, and both party identities are
// present and distinct.
func New(input Input, now func() time.Time, idGenerator func() (string, error)) (Agreement, error) {
	if now == nil {
		now = time.Now
	}
	if idGenerator == nil {
		idGenerator = id.NewID
	}

	normalized, err := NormalizeInput(input)
	if err != nil {
		return Agreement{}, err
	}

	agreementID, err := idGenerator()
	if err != nil {
		return Agreement{}, apperrors.Wrap(apperrors.CodeUnknown, "generate agreement id", err)
	}

	createdAt := now().UTC()
	return Agreement{
		ID:                agreementID,
		LandlordID:        normalized.LandlordID,
		TenantID:          normalized.TenantID,
		RentAmount:        normalized.RentAmount,
		PaymentsNeeded:    normalized.PaymentsNeeded,
		LastPaymentPeriod: normalized.CurrentPeriod,
		PeriodsForPayment: normalized.PeriodsForPayment,
		PenaltyPercent:    normalized.PenaltyPercent,
		CreatedAt:         createdAt,
		UpdatedAt:         createdAt,
	}, nil
}

// NormalizeInput trims and validates agreement creation parameters.
func NormalizeInput(input Input) (Input, error) {
	input.LandlordID = strings.TrimSpace(input.LandlordID)
	input.TenantID = strings.TrimSpace(input.TenantID)
	if input.LandlordID == "" {
		return Input{}, apperrors.New(apperrors.CodeInvalidConfiguration, "landlord id is required")
	}
	if input.TenantID == "" {
		return Input{}, apperrors.New(apperrors.CodeInvalidConfiguration, "tenant id is required")
	}
	if input.LandlordID == input.TenantID {
		return Input{}, apperrors.New(apperrors.CodeInvalidConfiguration, "landlord and tenant must be distinct")
	}
	if input.RentAmount == 0 {
		return Input{}, apperrors.New(apperrors.CodeInvalidConfiguration, "rent amount must be positive")
	}
	if input.PaymentsNeeded == 0 {
		return Input{}, apperrors.New(apperrors.CodeInvalidConfiguration, "payments needed must be positive")
	}
	if input.PenaltyPercent > 100 {
		return Input{}, apperrors.New(apperrors.CodeInvalidConfiguration, "penalty percent must be at most 100")
	}
	return input, nil
}

// IsOwned reports whether the property has transferred to the tenant.
func (a Agreement) IsOwned() bool {
	return a.PropertyOwned
}

// IsPaymentDue reports whether the grace window has lapsed since the last
// accepted payment.
func (a Agreement) IsPaymentDue(currentPeriod uint64) bool {
	return currentPeriod > a.LastPaymentPeriod+a.PeriodsForPayment
}
