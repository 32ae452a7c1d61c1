package order

// Status is the fulfillment state of an order.
type Status string

const (
	// StatusPending is the initial status; the payment window runs here.
	StatusPending Status = "pending"
	// StatusProcessing triggers the one-time stock deduction.
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	// StatusCompleted is terminal.
	StatusCompleted Status = "completed"
	// StatusCancelled is terminal and never restocks.
	StatusCancelled Status = "cancelled"
)

// validNext lists the statuses reachable from each state. Terminal states
// have no entry.
var validNext = map[Status][]Status{
	StatusPending:    {StatusProcessing, StatusCancelled},
	StatusProcessing: {StatusShipped, StatusCancelled},
	StatusShipped:    {StatusCompleted, StatusCancelled},
}

// IsValid reports whether s is a known status.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusShipped, StatusCompleted, StatusCancelled:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible from s.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// CanTransition reports whether an order may move from one status to
// another. Re-entering the current status is not a transition.
func CanTransition(from, to Status) bool {
	for _, next := range validNext[from] {
		if next == to {
			return true
		}
	}
	return false
}
