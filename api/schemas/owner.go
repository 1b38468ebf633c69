package schemas

import "time"

// -- Owner Record Schemas --

// BlockEntry bars an owner from creating accounts.
type BlockEntry struct {
	OwnerID   string    `json:"owner_id"`
	Reason    string    `json:"reason,omitempty"`
	BlockedBy string    `json:"blocked_by,omitempty"`
	BlockedAt time.Time `json:"blocked_at"`
}

// AttemptStatus is the state recorded for a creation attempt.
type AttemptStatus string

const (
	AttemptPending AttemptStatus = "pending"
	AttemptSuccess AttemptStatus = "success"
	AttemptFailed  AttemptStatus = "failed"
)

// CreationAttempt is one entry of the append-only creation log. A run writes
// a pending entry when it starts and a success or failed entry when it ends.
type CreationAttempt struct {
	ID      string        `json:"id"`
	OwnerID string        `json:"owner_id"`
	Status  AttemptStatus `json:"status"`
	// Detail holds the account ID on success and the error text on failure.
	Detail string    `json:"detail,omitempty"`
	At     time.Time `json:"at"`
}

// Stats aggregates the creation log and the account table.
type Stats struct {
	TotalOwners    int `json:"total_owners"`
	TotalCreated   int `json:"total_created"`
	TotalFailed    int `json:"total_failed"`
	ActiveAccounts int `json:"active_accounts"`
	// SuccessRate is the percentage of finished attempts that succeeded.
	SuccessRate   float64 `json:"success_rate"`
	Owners24h     int     `json:"owners_24h"`
	Created24h    int     `json:"created_24h"`
	Owners7d      int     `json:"owners_7d"`
	Created7d     int     `json:"created_7d"`
	BlockedOwners int     `json:"blocked_owners"`
}

// ProgressRecord is the last progress event of an owner's running attempt.
type ProgressRecord struct {
	OwnerID   string    `json:"owner_id"`
	Percent   int       `json:"percent"`
	Message   string    `json:"message"`
	UpdatedAt time.Time `json:"updated_at"`
}
