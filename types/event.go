package types

import "time"

// AccountEventType names a lifecycle change other subsystems react to.
type AccountEventType string

const (
	AccountRegistered      AccountEventType = "account.registered"
	AccountPasswordChanged AccountEventType = "account.password_changed"
	AccountDeleted         AccountEventType = "account.deleted"
)

// AccountEvent is published on the account events channel.
type AccountEvent struct {
	Type       AccountEventType `json:"type"`
	AccountID  string           `json:"account_id"`
	Email      string           `json:"email"`
	OccurredAt time.Time        `json:"occurred_at"`
}
