package store

import (
	"fmt"
	"time"
)

// Heartbeat registers (executable, hostname, pid) and returns the
// worker's current (assign_thread, nr_threads) sharding assignment, per
// §4.G's live()/die() discipline. nThreads is the operator-configured
// total from --threads and a floor for nr_threads; assign_thread is this
// worker's position among the live heartbeats for the same executable,
// ordered by their "executable:hostname:pid" key, refreshed every call.
func (tx *Tx) Heartbeat(executable, hostname string, pid int, nThreads int, now time.Time) (assignThread, nrThreads int) {
	key := fmt.Sprintf("%s:%s:%d", executable, hostname, pid)
	tx.db.heartbeats[key] = &Heartbeat{
		Executable: executable,
		Hostname:   hostname,
		PID:        pid,
		UpdatedAt:  now,
	}

	var keys []string
	for k, h := range tx.db.heartbeats {
		if h.Executable == executable {
			keys = append(keys, k)
		}
	}
	// stable order: insertion into a map is unordered, so sort by key to
	// keep the assignment deterministic across calls within one tick.
	for i := 1; i < len(keys); i++ {
		for j := i; j > 0 && keys[j] < keys[j-1]; j-- {
			keys[j], keys[j-1] = keys[j-1], keys[j]
		}
	}
	for i, k := range keys {
		if k == key {
			assignThread = i
			break
		}
	}
	nrThreads = len(keys)
	if nrThreads < nThreads {
		nrThreads = nThreads
	}
	return
}

// Die removes a worker's heartbeat row, per §4.G's die().
func (tx *Tx) Die(executable, hostname string, pid int) {
	key := fmt.Sprintf("%s:%s:%d", executable, hostname, pid)
	delete(tx.db.heartbeats, key)
}
