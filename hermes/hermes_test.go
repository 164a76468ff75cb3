package hermes

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/rucio-go/rucio/cmn/cos"
	"github.com/rucio-go/rucio/internal/store"
)

// failingBroker always errors, so every publish attempt is a retry.
type failingBroker struct{ calls int }

func (f *failingBroker) Publish(_ context.Context, _ string, _ []byte, _ bool) error {
	f.calls++
	return errors.New("broker unavailable")
}

// Scenario 6 of spec.md §8: an outbox row with an un-encodable payload is
// logged and dropped (poison) on its very first tick.
func TestBrokerDropsUnencodablePayloadAsPoison(t *testing.T) {
	ctx := context.Background()
	db := store.NewDB()
	ob := NewOutbox(db)

	tx := db.Begin(ctx)
	tx.EnqueueMessage(&store.Message{ID: "m1", EventType: "RULE_OK", Payload: map[string]any{"bytes": math.NaN()}, CreatedAt: time.Now()})
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	broker := &failingBroker{}
	cfg := BrokerConfig{Destination: "/queue/rucio", Threads: 1, Bulk: 10, Once: true}
	attempts := &deliveryAttempts{counts: make(map[string]int)}

	runBrokerTick(ctx, ob, broker, cfg, 0, 1, attempts)

	rtx := ob.db.BeginRead(ctx)
	count := rtx.MessageCount()
	rtx.CommitRead()
	if count != 0 {
		t.Fatalf("after encode failure: expected poison message dropped, count=%d", count)
	}
	if broker.calls != 0 {
		t.Fatalf("encode failure must never reach Publish, got %d calls", broker.calls)
	}
}

// A publish failure (broker unreachable) must never drop the message: it
// stays queued for retry no matter how many attempts accumulate (§4.G, §8).
func TestBrokerRetriesPublishFailureIndefinitely(t *testing.T) {
	ctx := context.Background()
	db := store.NewDB()
	ob := NewOutbox(db)

	tx := db.Begin(ctx)
	tx.EnqueueMessage(&store.Message{ID: "m1", EventType: "RULE_OK", Payload: map[string]any{"rule_id": "r1"}, CreatedAt: time.Now()})
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	broker := &failingBroker{}
	cfg := BrokerConfig{Destination: "/queue/rucio", Threads: 1, Bulk: 10, Once: true, MaxDeliveryAttempts: 2}
	attempts := &deliveryAttempts{counts: make(map[string]int)}

	for i := 0; i < 5; i++ {
		runBrokerTick(ctx, ob, broker, cfg, 0, 1, attempts)
		rtx := ob.db.BeginRead(ctx)
		count := rtx.MessageCount()
		rtx.CommitRead()
		if count != 1 {
			t.Fatalf("tick %d: message must remain queued after a publish failure, count=%d", i, count)
		}
	}
	if broker.calls != 5 {
		t.Fatalf("expected 5 publish attempts, got %d", broker.calls)
	}
}

func TestOutboxEncodeRoundTrips(t *testing.T) {
	m := &store.Message{ID: "m1", EventType: "RULE_OK", Payload: map[string]any{"rule_id": "r1"}, CreatedAt: time.Unix(1000, 0)}
	body, err := encode(m)
	if err != nil {
		t.Fatalf("encode: %v", err)
	}
	var got payload
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if got.EventType != "RULE_OK" || got.CreatedAt != 1000 {
		t.Fatalf("round-trip mismatch: %+v", got)
	}
}

// TestRunBrokerOnceHeartbeatsAndDies checks the --once path registers and
// then tears down its heartbeat row.
func TestRunBrokerOnceHeartbeatsAndDies(t *testing.T) {
	ctx := context.Background()
	db := store.NewDB()
	ob := NewOutbox(db)
	stop := cos.NewStopCh()

	if err := RunBroker(ctx, ob, LoggingBroker{}, BrokerConfig{Destination: "/queue/rucio", Threads: 1, Bulk: 10, Once: true}, stop); err != nil {
		t.Fatalf("RunBroker: %v", err)
	}

	// A probe heartbeat for the same executable must now be the only live
	// row: nrThreads counts every live heartbeat of that executable.
	tx := db.Begin(ctx)
	_, live := tx.Heartbeat("rucio-hermes-broker", "probe-host", -1, 0, time.Now())
	tx.Commit()
	if live != 1 {
		t.Fatalf("expected the broker's heartbeat row to be removed, got %d live rows", live)
	}
}
