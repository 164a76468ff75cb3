package hermes

import (
	"bytes"
	"context"
	"os"
	"time"

	"github.com/pierrec/lz4/v3"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/rucio-go/rucio/cmn/cos"
	"github.com/rucio-go/rucio/cmn/nlog"
	"github.com/rucio-go/rucio/internal/store"
)

var (
	brokerDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rucio", Subsystem: "hermes", Name: "broker_delivered_total",
		Help: "Outbox messages successfully published.",
	}, []string{"event_type"})
	brokerPoison = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "rucio", Subsystem: "hermes", Name: "broker_poison_total",
		Help: "Outbox messages dropped because their payload failed JSON serialization.",
	}, []string{"event_type"})
)

func init() {
	prometheus.MustRegister(brokerDelivered, brokerPoison)
}

// Broker is the external STOMP-shaped message bus contract (§6: "persistent
// delivery"); the real transport is a TLS-dialing shim external to this
// module (§1 Non-goals exclude per-site protocol/wire concerns), so this
// interface is what RunBroker depends on instead of a concrete client.
type Broker interface {
	Publish(ctx context.Context, destination string, body []byte, persistent bool) error
}

// LoggingBroker is the default Broker: no bytes cross the network, the
// worker's poison-on-encode-failure/retry-on-publish-failure/compress logic
// is exercised against a real collaborator all the same.
type LoggingBroker struct{ Destination string }

func (b LoggingBroker) Publish(_ context.Context, destination string, body []byte, persistent bool) error {
	nlog.Infof("broker publish: dest=%s persistent=%v bytes=%d", destination, persistent, len(body))
	return nil
}

// BrokerConfig governs one broker worker, per §4.G / §6's daemon flags.
type BrokerConfig struct {
	Destination         string
	Threads             int
	Bulk                int
	Delay               time.Duration
	Once                bool
	CompressThreshold   int // bytes; 0 disables LZ4 compression
	MaxDeliveryAttempts int // publish-failure attempts before escalating log severity; 0 means 3. Never drops a message.
}

// deliveryAttempts tracks per-message retry counts in-process, purely for
// log-severity escalation; a crash resets the count, which is harmless
// since publish failures are always retried regardless of count (§6).
type deliveryAttempts struct {
	counts map[string]int
}

// RunBroker drains the outbox and publishes each message, heartbeating
// live()/die() around the tick loop exactly as §4.G specifies.
func RunBroker(ctx context.Context, ob *Outbox, b Broker, cfg BrokerConfig, stop *cos.StopCh) error {
	if cfg.Threads < 1 {
		cfg.Threads = 1
	}
	if cfg.MaxDeliveryAttempts < 1 {
		cfg.MaxDeliveryAttempts = 3
	}
	hostname, _ := os.Hostname()
	pid := os.Getpid()
	attempts := &deliveryAttempts{counts: make(map[string]int)}

	for {
		start := time.Now()
		tx := ob.db.Begin(ctx)
		assign, nThreads := tx.Heartbeat("rucio-hermes-broker", hostname, pid, cfg.Threads, start)
		tx.Commit()

		runBrokerTick(ctx, ob, b, cfg, assign, nThreads, attempts)

		if cfg.Once {
			tx := ob.db.Begin(ctx)
			tx.Die("rucio-hermes-broker", hostname, pid)
			tx.Commit()
			return nil
		}

		elapsed := time.Since(start)
		sleep := cfg.Delay - elapsed
		if sleep < 0 {
			sleep = 0
		}
		select {
		case <-ctx.Done():
			dieTx := ob.db.Begin(context.Background())
			dieTx.Die("rucio-hermes-broker", hostname, pid)
			dieTx.Commit()
			return nil
		case <-stop.Chan():
			dieTx := ob.db.Begin(context.Background())
			dieTx.Die("rucio-hermes-broker", hostname, pid)
			dieTx.Commit()
			return nil
		case <-time.After(sleep):
		}
	}
}

func runBrokerTick(ctx context.Context, ob *Outbox, b Broker, cfg BrokerConfig, assign, nThreads int, attempts *deliveryAttempts) {
	tx := ob.db.Begin(ctx)
	claimed := tx.RetrieveMessages(assign, nThreads, cfg.Bulk)
	tx.Commit()

	var delivered []string
	for _, m := range claimed {
		body, err := encode(m)
		if err != nil {
			// JSON serialization failure is the one poison case (§4.G): log
			// and mark for deletion, it will never encode on a later tick.
			nlog.Errorf("hermes broker: encode %s failed, dropping as poison: %v", m.ID, err)
			brokerPoison.WithLabelValues(m.EventType).Inc()
			delivered = append(delivered, m.ID)
			delete(attempts.counts, m.ID)
			continue
		}
		if cfg.CompressThreshold > 0 && len(body) > cfg.CompressThreshold {
			compressed, err := compress(body)
			if err == nil {
				body = compressed
			}
		}

		if err := b.Publish(ctx, cfg.Destination, body, true); err != nil {
			// Not-connected / connect-failed / any other publish error: log
			// and leave the message queued, retried on the next tick.
			// Delivery is at-least-once — publish failures never drop a
			// still-serializable message (§4.G, §8).
			attempts.counts[m.ID]++
			if attempts.counts[m.ID] >= cfg.MaxDeliveryAttempts {
				nlog.Errorf("hermes broker: publish %s still failing after %d attempts, retrying: %v", m.ID, attempts.counts[m.ID], err)
			} else {
				nlog.Warningf("hermes broker: publish %s failed (attempt %d), retrying: %v", m.ID, attempts.counts[m.ID], err)
			}
			continue
		}
		delivered = append(delivered, m.ID)
		delete(attempts.counts, m.ID)
		brokerDelivered.WithLabelValues(m.EventType).Inc()
	}

	if len(delivered) > 0 {
		dtx := ob.db.Begin(ctx)
		dtx.DeleteMessages(delivered)
		dtx.Commit()
	}
}

// compress LZ4-frames body, used for outbox payloads above
// BrokerConfig.CompressThreshold to keep broker frames small under bulk
// delivery (SPEC_FULL.md §3).
func compress(body []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := lz4.NewWriter(&buf)
	if _, err := w.Write(body); err != nil {
		return nil, err
	}
	if err := w.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
