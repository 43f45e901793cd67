package agreement

import "github.com/louisbranch/rentown/internal/agreement/event"

// Transfer is a declarative instruction for the host to move funds.
// The engine schedules transfers; it never executes them.
type Transfer struct {
	Recipient string
	Amount    uint64
}

// Decision carries the effects of an accepted operation: the ordered value
// transfers the host must execute and the domain events it may journal.
// The host applies the returned state and the decision as a single atomic
// unit, or not at all.
type Decision struct {
	Transfers []Transfer
	Events    []event.Event
}
