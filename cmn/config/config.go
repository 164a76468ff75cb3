// Package config is the process-wide configuration owner. Rather than a
// global ORM-style session object (see DESIGN.md, "Global ORM session"),
// Rucio-Go threads an explicit *store.Tx everywhere state is mutated; the
// one genuinely global, rarely-mutated piece of process state is runtime
// config, so it alone follows the teacher's GCO ("global config owner")
// pattern: held behind an atomic pointer that Put swaps without a restart.
// The daemons under cmd/ copy the values they need once at startup, so a
// later swap does not reach an already running daemon.
package config

import (
	"encoding/json"
	"os"
	"sync/atomic"
	"time"
)

type Daemon struct {
	Threads      int           `json:"threads"`
	Bulk         int           `json:"bulk"`
	Delay        time.Duration `json:"delay"`
	BrokerTimeout time.Duration `json:"broker_timeout"`
	BrokerRetry  int           `json:"broker_retry"`
}

type Broker struct {
	DNSAlias string `json:"dns_alias"`
	Topic    string `json:"topic"`
	UseTLS   bool   `json:"use_tls"`
}

type SMTP struct {
	Host string `json:"host"`
	Port int    `json:"port"`
	From string `json:"from"`
}

type Config struct {
	Daemon Daemon `json:"daemon"`
	Broker Broker `json:"broker"`
	SMTP   SMTP   `json:"smtp"`
}

func defaults() *Config {
	return &Config{
		Daemon: Daemon{
			Threads:       1,
			Bulk:          1000,
			Delay:         60 * time.Second,
			BrokerTimeout: 3 * time.Second,
			BrokerRetry:   3,
		},
		Broker: Broker{DNSAlias: "rucio-broker.example.org", Topic: "/topic/rucio.events", UseTLS: true},
		SMTP:   SMTP{Host: "localhost", Port: 25, From: "noreply@rucio.example.org"},
	}
}

// owner is the atomic holder of the current *Config, mirroring the
// teacher's cmn.GCO ("global config owner").
type owner struct {
	p atomic.Pointer[Config]
}

var GCO = func() *owner {
	o := &owner{}
	o.p.Store(defaults())
	return o
}()

// Get returns the currently active config; safe to call concurrently from
// any daemon tick.
func (o *owner) Get() *Config { return o.p.Load() }

// Put atomically swaps in a new config, e.g. after a SIGHUP reload.
func (o *owner) Put(c *Config) { o.p.Store(c) }

// LoadFile reads a JSON config file over the defaults and installs it.
func (o *owner) LoadFile(path string) error {
	b, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	c := defaults()
	if err := json.Unmarshal(b, c); err != nil {
		return err
	}
	o.Put(c)
	return nil
}
