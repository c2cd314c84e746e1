package webhooks

import (
	"encoding/json"
	"time"

	"github.com/angelmondragon/merchcoin-backend/pkg/enums"
)

// Envelope is the JSON body posted to every receiver.
type Envelope struct {
	Event     enums.EventType `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

func encodeEnvelope(event enums.EventType, data json.RawMessage, at time.Time) ([]byte, error) {
	return json.Marshal(Envelope{Event: event, Data: data, Timestamp: at.UTC()})
}
