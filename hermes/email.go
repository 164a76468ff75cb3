package hermes

import (
	"context"
	"fmt"
	"net/smtp"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/rucio-go/rucio/cmn/cos"
	"github.com/rucio-go/rucio/cmn/nlog"
)

var emailDelivered = prometheus.NewCounterVec(prometheus.CounterOpts{
	Namespace: "rucio", Subsystem: "hermes", Name: "email_delivered_total",
	Help: "Outbox messages successfully mailed.",
}, []string{"event_type"})

func init() {
	prometheus.MustRegister(emailDelivered)
}

// Mailer is the SMTP send contract; no third-party mail library appears
// anywhere in the retrieval pack, so this is the one component in Hermes
// built directly on the standard library (DESIGN.md records the
// justification).
type Mailer interface {
	Send(ctx context.Context, to []string, subject, body string) error
}

// SMTPMailer is the production Mailer: a thin MIME envelope over
// net/smtp.SendMail, no connection pooling and no retries of its own; a
// failed send leaves the message queued for the email worker's next tick.
type SMTPMailer struct {
	Addr string
	From string
	Auth smtp.Auth
}

func (m SMTPMailer) Send(_ context.Context, to []string, subject, body string) error {
	msg := fmt.Sprintf("From: %s\r\nTo: %s\r\nSubject: %s\r\nMIME-Version: 1.0\r\nContent-Type: text/plain; charset=\"utf-8\"\r\n\r\n%s\r\n",
		m.From, joinAddrs(to), subject, body)
	return smtp.SendMail(m.Addr, m.Auth, m.From, to, []byte(msg))
}

func joinAddrs(to []string) string {
	out := ""
	for i, a := range to {
		if i > 0 {
			out += ", "
		}
		out += a
	}
	return out
}

// EmailConfig governs the email worker, per §4.G.
type EmailConfig struct {
	Recipient string // resolved per-message in a real deployment; fixed here
	Threads   int
	Bulk      int
	Delay     time.Duration
	Once      bool
}

// RunEmail drains EMAIL-kind outbox rows (event_type == "email") and mails
// each one, under the same heartbeat/--once/GRACEFUL_STOP discipline as
// RunBroker.
func RunEmail(ctx context.Context, ob *Outbox, m Mailer, cfg EmailConfig, stop *cos.StopCh) error {
	if cfg.Threads < 1 {
		cfg.Threads = 1
	}
	hostname, _ := os.Hostname()
	pid := os.Getpid()

	for {
		start := time.Now()
		tx := ob.db.Begin(ctx)
		assign, nThreads := tx.Heartbeat("rucio-hermes-email", hostname, pid, cfg.Threads, start)
		tx.Commit()

		runEmailTick(ctx, ob, m, cfg, assign, nThreads)

		if cfg.Once {
			dtx := ob.db.Begin(ctx)
			dtx.Die("rucio-hermes-email", hostname, pid)
			dtx.Commit()
			return nil
		}

		elapsed := time.Since(start)
		sleep := cfg.Delay - elapsed
		if sleep < 0 {
			sleep = 0
		}
		select {
		case <-ctx.Done():
			dtx := ob.db.Begin(context.Background())
			dtx.Die("rucio-hermes-email", hostname, pid)
			dtx.Commit()
			return nil
		case <-stop.Chan():
			dtx := ob.db.Begin(context.Background())
			dtx.Die("rucio-hermes-email", hostname, pid)
			dtx.Commit()
			return nil
		case <-time.After(sleep):
		}
	}
}

func runEmailTick(ctx context.Context, ob *Outbox, m Mailer, cfg EmailConfig, assign, nThreads int) {
	tx := ob.db.Begin(ctx)
	claimed := tx.RetrieveMessages(assign, nThreads, cfg.Bulk)
	tx.Commit()

	var delivered []string
	for _, msg := range claimed {
		if msg.EventType != "email" {
			continue
		}
		subject := fmt.Sprintf("rucio: %v", msg.Payload["subject"])
		body := fmt.Sprintf("%v", msg.Payload["body"])
		if err := m.Send(ctx, []string{cfg.Recipient}, subject, body); err != nil {
			nlog.Warningf("hermes email: send %s failed: %v", msg.ID, err)
			continue
		}
		delivered = append(delivered, msg.ID)
		emailDelivered.WithLabelValues(msg.EventType).Inc()
	}
	if len(delivered) > 0 {
		dtx := ob.db.Begin(ctx)
		dtx.DeleteMessages(delivered)
		dtx.Commit()
	}
}
