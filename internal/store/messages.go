package store

import (
	"sort"

	"github.com/rucio-go/rucio/cmn/cos"
)

// EnqueueMessage appends an outbox row (§3 "Outbox Message"); append-only
// until delivery, at which point the consumer calls DeleteMessages.
func (tx *Tx) EnqueueMessage(m *Message) {
	cp := *m
	tx.db.messages[m.ID] = &cp
}

// RetrieveMessages claims up to `bulk` messages owned by (threadID,
// nThreads), per Hermes's retrieve_messages contract (§4.G), oldest
// created_at first. Ordering holds only within one (thread, shard) pair
// (§5), so callers must not assume a global created_at order.
func (tx *Tx) RetrieveMessages(threadID, nThreads, bulk int) []*Message {
	var out []*Message
	for id, m := range tx.db.messages {
		if cos.Owns(id, threadID, nThreads) {
			out = append(out, m)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if bulk < 1 {
		bulk = 1
	}
	if len(out) > bulk {
		out = out[:bulk]
	}
	return out
}

// DeleteMessages removes delivered (or poison) rows by id.
func (tx *Tx) DeleteMessages(ids []string) {
	for _, id := range ids {
		delete(tx.db.messages, id)
	}
}

func (tx *Tx) MessageCount() int { return len(tx.db.messages) }
