// Package feed is the consumer-facing wrapper around the re-evaluation
// feed (SPEC_FULL.md §5.F / spec.md §4.F / §3 "UpdatedDID"): producers in
// package did write directly to internal/store's updated_dids table;
// this package owns the sharded-drain contract the rule engine's
// reevaluator uses, plus a binary encoding of one work item
// (Item.MarshalMsg/UnmarshalMsg).
//
// The encoding uses tinylib/msgp's compact binary format instead of JSON
// (JSON is reserved for the outbox's broker-facing payloads in package
// hermes). The queue itself holds plain store.UpdatedDID structs; nothing
// in the module encodes them on the way in or out.
package feed

import (
	"github.com/tinylib/msgp/msgp"

	"github.com/rucio-go/rucio/internal/store"
)

// Item is the wire-shape counterpart of store.UpdatedDID.
type Item struct {
	ID     int64
	Scope  string
	Name   string
	Action store.UpdatedAction
}

func fromStore(u *store.UpdatedDID) Item {
	return Item{ID: u.ID, Scope: u.Scope, Name: u.Name, Action: u.Action}
}

// MarshalMsg appends the msgp encoding of the item to b.
func (it Item) MarshalMsg(b []byte) ([]byte, error) {
	b = msgp.AppendArrayHeader(b, 4)
	b = msgp.AppendInt64(b, it.ID)
	b = msgp.AppendString(b, it.Scope)
	b = msgp.AppendString(b, it.Name)
	b = msgp.AppendInt(b, int(it.Action))
	return b, nil
}

// UnmarshalMsg decodes an Item previously encoded with MarshalMsg.
func (it *Item) UnmarshalMsg(b []byte) ([]byte, error) {
	sz, b, err := msgp.ReadArrayHeaderBytes(b)
	if err != nil {
		return b, err
	}
	if sz != 4 {
		return b, msgp.ArrayError{Wanted: 4, Got: sz}
	}
	id, b, err := msgp.ReadInt64Bytes(b)
	if err != nil {
		return b, err
	}
	scope, b, err := msgp.ReadStringBytes(b)
	if err != nil {
		return b, err
	}
	name, b, err := msgp.ReadStringBytes(b)
	if err != nil {
		return b, err
	}
	action, b, err := msgp.ReadIntBytes(b)
	if err != nil {
		return b, err
	}
	it.ID, it.Scope, it.Name, it.Action = id, scope, name, store.UpdatedAction(action)
	return b, nil
}
