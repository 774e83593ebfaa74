package circulation

import (
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
)

// NotificationKind names the condition a notification reports.
type NotificationKind string

const (
	NotificationOverdue  NotificationKind = "overdue"
	NotificationReminder NotificationKind = "reminder"
)

// NotificationRecord is the persisted in-app notification. The scheduler
// also uses it as the idempotence ledger: at most one record per
// (user, book, kind) per calendar day of CreatedAt.
type NotificationRecord struct {
	ID           uuid.UUID
	UserID       uuid.UUID
	LoanID       uuid.UUID
	BookID       uuid.UUID
	Kind         NotificationKind
	Payload      []byte
	Acknowledged bool
	CreatedAt    time.Time
	ExpiresAt    time.Time
}

// Delivery is what the core hands to a notification sink. The core does
// not care how delivery happens, only about the error outcome.
type Delivery struct {
	Recipient uuid.UUID
	Kind      NotificationKind
	Payload   DeliveryPayload
}

// DeliveryPayload carries the loan facts a sink needs to render a
// message. DaysOverdue is meaningful for overdue deliveries only,
// DaysUntilDue for reminders only.
type DeliveryPayload struct {
	LoanID       uuid.UUID `json:"loan_id"`
	BookID       uuid.UUID `json:"book_id"`
	DueDate      time.Time `json:"due_date"`
	DaysOverdue  int       `json:"days_overdue,omitempty"`
	DaysUntilDue int       `json:"days_until_due,omitempty"`
}

// ToJSON marshals the payload for persistence in a NotificationRecord.
func (p DeliveryPayload) ToJSON() ([]byte, error) {
	return jsoniter.ConfigFastest.Marshal(p)
}

// DeliveryPayloadFromJSON restores a payload from its persisted form.
func DeliveryPayloadFromJSON(payloadJSON []byte) (DeliveryPayload, error) {
	payload := new(DeliveryPayload)
	if err := jsoniter.ConfigFastest.Unmarshal(payloadJSON, payload); err != nil {
		return DeliveryPayload{}, err
	}

	return *payload, nil
}
