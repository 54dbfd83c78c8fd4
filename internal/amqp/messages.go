package amqp

import (
	"encoding/json"
	"time"
)

// Actions a ledger event can carry.
const (
	ActionCreated = "created"
	ActionUpdated = "updated"
	ActionDeleted = "deleted"
)

// LedgerEvent is the lightweight message published after a ledger transaction
// commits. Consumers fetch the full row from storage by ID; deleted rows are
// gone, so the event is self-describing enough to log.
type LedgerEvent struct {
	TransactionID int64     `json:"transaction_id"`
	UserID        int64     `json:"user_id"`
	Kind          string    `json:"kind"`
	Action        string    `json:"action"`
	Timestamp     time.Time `json:"timestamp"`
}

func NewLedgerEvent(transactionID, userID int64, kind, action string) *LedgerEvent {
	return &LedgerEvent{
		TransactionID: transactionID,
		UserID:        userID,
		Kind:          kind,
		Action:        action,
		Timestamp:     time.Now(),
	}
}

// ToJSON converts the event to JSON bytes.
func (e *LedgerEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// LedgerEventFromJSON creates an event from JSON bytes.
func LedgerEventFromJSON(data []byte) (*LedgerEvent, error) {
	var e LedgerEvent
	if err := json.Unmarshal(data, &e); err != nil {
		return nil, err
	}
	return &e, nil
}
