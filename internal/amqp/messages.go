package amqp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"budgetwatch/internal/core"
)

// AlertMessage carries one owner's alert batch between instances.
type AlertMessage struct {
	ID        string          `json:"id"`
	OwnerID   string          `json:"owner_id"`
	Event     core.AlertEvent `json:"event"`
	Timestamp time.Time       `json:"timestamp"`
}

func NewAlertMessage(owner string, ev core.AlertEvent) *AlertMessage {
	return &AlertMessage{
		ID:        uuid.NewString(),
		OwnerID:   owner,
		Event:     ev,
		Timestamp: time.Now().UTC(),
	}
}

func (m *AlertMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

// AlertMessageFromJSON decodes and checks a message body.
func AlertMessageFromJSON(data []byte) (*AlertMessage, error) {
	var msg AlertMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	if msg.OwnerID == "" {
		return nil, fmt.Errorf("alert message %s: missing owner", msg.ID)
	}
	return &msg, nil
}
