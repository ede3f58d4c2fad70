package idempotency

import "time"

// Status values for idempotency entries
const (
	StatusInProgress = "IN_PROGRESS"
	StatusDone       = "DONE"
	StatusFailed     = "FAILED"
)

// Record is the shape persisted in the idempotency DynamoDB table. Order creation
// requests and inbound webhook events share the table; Scope tells them apart.
type Record struct {
	IdempotencyKey string    `dynamodbav:"idempotency_key"` // PK
	Scope          string    `dynamodbav:"scope,omitempty"` // e.g. "create_order", "webhook:online"
	Status         string    `dynamodbav:"status"`
	OrderID        string    `dynamodbav:"order_id,omitempty"`
	ResponseBody   string    `dynamodbav:"response_body,omitempty"`
	ResponseStatus int       `dynamodbav:"response_status,omitempty"`
	CreatedAt      time.Time `dynamodbav:"created_at"`
	UpdatedAt      time.Time `dynamodbav:"updated_at"`
	ExpiresAt      int64     `dynamodbav:"expires_at"` // TTL epoch seconds
	Note           string    `dynamodbav:"note,omitempty"`
}

// Outcome of Begin.
type Outcome int

const (
	// Acquired means the caller owns the key and must finish with MarkDone or MarkFailed.
	Acquired Outcome = iota
	// Completed means the key was already processed successfully.
	Completed
	// InFlight means another worker holds the key.
	InFlight
)

func (o Outcome) String() string {
	switch o {
	case Acquired:
		return "acquired"
	case Completed:
		return "completed"
	case InFlight:
		return "in_flight"
	}
	return "unknown"
}
