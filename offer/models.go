package offer

import "time"

// Status represents the lifecycle of an offer.
type Status string

const (
	StatusOpen      Status = "open"
	StatusAccepted  Status = "accepted"
	StatusCompleted Status = "completed"
	StatusDisputed  Status = "disputed"
	StatusCancelled Status = "cancelled"
)

// Terminal reports whether no further transition can leave the status.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCancelled
}

// ValidTransition encodes the offer state machine. Disputed and Cancelled
// are reachable in the schema but no engine operation drives into them
// yet; their trigger policy is an extension point.
func ValidTransition(from, to Status) bool {
	switch from {
	case StatusOpen:
		return to == StatusAccepted || to == StatusCancelled
	case StatusAccepted:
		return to == StatusCompleted || to == StatusDisputed
	default:
		return false
	}
}

// Record mirrors the offers table. Client is nil until acceptance and
// Escrowed carries the held payment while the offer is accepted.
type Record struct {
	ID              int64
	Provider        string
	Client          *string
	Price           int64
	DescriptionHash string
	Status          Status
	Escrowed        int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// ListFilters narrows and pages offer listings.
type ListFilters struct {
	Provider string
	Status   Status
	Page     int
	PageSize int
}
