package fanout

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"

	"daily-reward-api/internal/events"
)

// Envelope is the wire format for events sent over the live feed.
// Only display fields are exposed; user and account ids stay server side.
type Envelope struct {
	Type      string          `json:"type"`
	ID        string          `json:"id"`
	Username  string          `json:"username"`
	TierLabel string          `json:"tier_label"`
	Value     decimal.Decimal `json:"value"`
	Committed bool            `json:"committed"`
	Outcome   string          `json:"outcome,omitempty"`
	Timestamp time.Time       `json:"ts"`
}

// MarshalEvent serializes a reward event into a JSON-encoded Envelope.
func MarshalEvent(evt events.Event) ([]byte, error) {
	data, ok := evt.Data.(events.RewardData)
	if !ok {
		return nil, fmt.Errorf("unexpected payload %T for %s", evt.Data, evt.Type)
	}
	rec := data.Record
	env := Envelope{
		Type:      string(evt.Type),
		ID:        rec.ID,
		Username:  rec.Username,
		TierLabel: rec.TierLabel,
		Value:     rec.Value,
		Committed: rec.Committed,
		Outcome:   data.Outcome,
		Timestamp: evt.Timestamp,
	}
	return json.Marshal(env)
}

// UnmarshalEnvelope decodes one feed message.
func UnmarshalEnvelope(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	return env, nil
}
