// Package hermes implements the Hermes Messenger (spec.md §4.G /
// SPEC_FULL.md §5.G): two independent workers draining the outbox table —
// broker (publishes to an external STOMP-shaped message bus) and email
// (sends SMTP notifications) — both under the same --once/GRACEFUL_STOP/
// heartbeat discipline as the rest of the daemon fleet.
package hermes

import (
	jsoniter "github.com/json-iterator/go"

	"github.com/rucio-go/rucio/internal/store"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Outbox is the narrow contract both workers drain from — package did and
// package rule are producers via tx.EnqueueMessage; Hermes is the only
// consumer, so it depends on internal/store directly rather than through
// a round-trip into did/rule (mirrors feed's "events flow through a queue
// both sides can reach" resolution of the cyclic-import design note).
type Outbox struct {
	db *store.DB
}

func NewOutbox(db *store.DB) *Outbox { return &Outbox{db: db} }

// payload is the wire shape published to the broker/serialized for mail,
// exactly the {event_type, payload, created_at} triple of spec.md §6.
type payload struct {
	EventType string         `json:"event_type"`
	Payload   map[string]any `json:"payload"`
	CreatedAt int64          `json:"created_at"`
}

func encode(m *store.Message) ([]byte, error) {
	return json.Marshal(payload{EventType: m.EventType, Payload: m.Payload, CreatedAt: m.CreatedAt.Unix()})
}
