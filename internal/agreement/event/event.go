// Package event defines the agreement event journal vocabulary.
package event

import (
	"strings"
	"time"
)

// Type identifies the type of an agreement event.
type Type string

const (
	// TypeAgreementCreated records the creation of an agreement.
	TypeAgreementCreated Type = "agreement.created"
	// TypePaymentMade records an accepted rent payment. This is the only
	// event the engine itself emits.
	TypePaymentMade Type = "agreement.payment_made"
	// TypeRentAdjusted records a landlord rent adjustment.
	TypeRentAdjusted Type = "agreement.rent_adjusted"
	// TypeAgreementCancelled records a cancellation by either party.
	TypeAgreementCancelled Type = "agreement.cancelled"
)

// Event represents an immutable record in the agreement journal.
type Event struct {
	// AgreementID is the agreement this event belongs to.
	AgreementID string
	// Seq is the event sequence number within the agreement (starts at 1).
	// Assigned by storage on append.
	Seq uint64
	// Timestamp is when the event was journaled. Assigned by storage on append.
	Timestamp time.Time
	// Type identifies the kind of event.
	Type Type
	// ActorID is the caller whose command produced the event.
	ActorID string
	// Period is the period counter supplied with the command.
	Period uint64
	// PayloadJSON holds event-specific data as JSON.
	PayloadJSON []byte
}

// IsValid reports whether the event type is usable.
func (t Type) IsValid() bool {
	return strings.TrimSpace(string(t)) != ""
}

// PaymentMadePayload is the payload for TypePaymentMade.
type PaymentMadePayload struct {
	From   string `json:"from"`
	Amount uint64 `json:"amount"`
}

// RentAdjustedPayload is the payload for TypeRentAdjusted.
type RentAdjustedPayload struct {
	PreviousRent uint64 `json:"previous_rent"`
	NewRent      uint64 `json:"new_rent"`
}

// CancelledPayload is the payload for TypeAgreementCancelled.
type CancelledPayload struct {
	CancelledBy string `json:"cancelled_by"`
	Refund      uint64 `json:"refund"`
	Forfeited   uint64 `json:"forfeited"`
}

// CreatedPayload is the payload for TypeAgreementCreated.
type CreatedPayload struct {
	LandlordID        string `json:"landlord_id"`
	TenantID          string `json:"tenant_id"`
	RentAmount        uint64 `json:"rent_amount"`
	PaymentsNeeded    uint64 `json:"payments_needed"`
	PeriodsForPayment uint64 `json:"periods_for_payment"`
	PenaltyPercent    uint64 `json:"penalty_percent"`
}
