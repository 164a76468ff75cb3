package feed

import (
	"context"
	"fmt"
	"testing"

	"github.com/rucio-go/rucio/internal/store"
)

func TestItemMsgpRoundTrip(t *testing.T) {
	want := Item{ID: 7, Scope: "u", Name: "ds1", Action: store.ActionBoth}
	b, err := want.MarshalMsg(nil)
	if err != nil {
		t.Fatalf("MarshalMsg: %v", err)
	}
	var got Item
	rest, err := got.UnmarshalMsg(b)
	if err != nil {
		t.Fatalf("UnmarshalMsg: %v", err)
	}
	if len(rest) != 0 {
		t.Fatalf("unexpected trailing bytes: %d", len(rest))
	}
	if got != want {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", got, want)
	}
}

// Action folding: ATTACH then DETACH for the same (scope,name) within one
// drain window folds to BOTH, per §3/§9.
func TestFoldingATTACHthenDETACH(t *testing.T) {
	ctx := context.Background()
	db := store.NewDB()
	f := New(db)

	tx := db.Begin(ctx)
	tx.EnqueueUpdatedDID("u", "ds1", store.ActionAttach)
	tx.EnqueueUpdatedDID("u", "ds1", store.ActionDetach)
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	items := f.Drain(ctx, 0, 1, 100)
	if len(items) != 1 {
		t.Fatalf("expected folding to one item, got %d", len(items))
	}
	if items[0].Action != store.ActionBoth {
		t.Fatalf("Action = %v, want ActionBoth", items[0].Action)
	}
}

func TestDrainShardsByName(t *testing.T) {
	ctx := context.Background()
	db := store.NewDB()
	f := New(db)

	tx := db.Begin(ctx)
	for i := 0; i < 50; i++ {
		tx.EnqueueUpdatedDID("u", randName(i), store.ActionAttach)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("commit: %v", err)
	}

	a := f.Drain(ctx, 0, 2, 1000)
	b := f.Drain(ctx, 1, 2, 1000)
	if len(a)+len(b) != 50 {
		t.Fatalf("expected all 50 items drained across both shards, got %d+%d", len(a), len(b))
	}
	seen := make(map[string]bool)
	for _, it := range append(a, b...) {
		if seen[it.Name] {
			t.Fatalf("name %s drained by both shards", it.Name)
		}
		seen[it.Name] = true
	}
}

func randName(i int) string {
	return fmt.Sprintf("name-%d", i)
}
