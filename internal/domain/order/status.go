package order

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
)

// Statuses lists every known status in lifecycle order.
var Statuses = []Status{
	StatusPending,
	StatusProcessing,
	StatusShipped,
	StatusDelivered,
	StatusCancelled,
}

var validNext = map[Status]map[Status]bool{
	StatusPending:    {StatusProcessing: true, StatusCancelled: true},
	StatusProcessing: {StatusShipped: true, StatusCancelled: true},
	StatusShipped:    {StatusDelivered: true, StatusCancelled: true},
	StatusDelivered:  {},
	StatusCancelled:  {StatusPending: true},
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// Terminal reports whether no transition leaves s.
func (s Status) Terminal() bool {
	next, ok := validNext[s]
	return ok && len(next) == 0
}

// CanTransition reports whether from -> to is an allowed transition.
// Staying in the same state is not a transition.
func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

// CheckTransition returns *InvalidTransitionError unless from -> to is allowed.
func CheckTransition(from, to Status) error {
	if !CanTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}
	return nil
}

// stockEffect derives the inventory adjustments implied by a transition.
func stockEffect(from, to Status, items []Item) []StockDelta {
	switch {
	case to == StatusCancelled && from != StatusCancelled:
		return restorations(items)
	case from == StatusCancelled && to != StatusCancelled:
		return deductions(items)
	default:
		return nil
	}
}
