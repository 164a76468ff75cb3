package rse

import (
	"math/rand"
	"testing"

	"github.com/rucio-go/rucio/cmn/errs"
)

type fakeSource struct {
	attrs map[string]map[string]string
	quota map[string]int64
}

func (f *fakeSource) Attributes(rseID string) (map[string]string, error) {
	return f.attrs[rseID], nil
}

func (f *fakeSource) QuotaLeft(account, rseID string) int64 {
	return f.quota[rseID]
}

func newFake() *fakeSource {
	return &fakeSource{
		attrs: map[string]map[string]string{
			"X": {},
			"Y": {"w": "1"},
			"Z": {"w": "1"},
		},
		quota: map[string]int64{"X": 1 << 30, "Y": 1 << 30, "Z": 1 << 30},
	}
}

// Scenario 2 of spec.md §8: 3 eligible RSEs, equal weight, copies=2 picks
// 2 distinct RSEs.
func TestSelectTwoDistinctRSEs(t *testing.T) {
	src := &fakeSource{
		attrs: map[string]map[string]string{"X": {}, "Y": {}, "Z": {}},
		quota: map[string]int64{"X": 1 << 30, "Y": 1 << 30, "Z": 1 << 30},
	}
	sel, err := New("alice", []string{"X", "Y", "Z"}, "", 2, src, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	picked, err := sel.Select(100, nil, nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if len(picked) != 2 {
		t.Fatalf("picked %d RSEs, want 2", len(picked))
	}
	if picked[0] == picked[1] {
		t.Fatalf("picked the same RSE twice: %v", picked)
	}
}

// Scenario 4 of spec.md §8: weight missing on X => skipped => only 2
// remain for copies=3 => InsufficientTargetRSEs.
func TestWeightMissingSkipsRSE(t *testing.T) {
	src := newFake()
	_, err := New("alice", []string{"X", "Y", "Z"}, "w", 3, src, rand.New(rand.NewSource(1)))
	if !errs.Is(err, errs.InsufficientTargetRSEs) {
		t.Fatalf("want InsufficientTargetRSEs, got %v", err)
	}
}

func TestInvalidWeightValue(t *testing.T) {
	src := &fakeSource{
		attrs: map[string]map[string]string{"X": {"w": "not-a-number"}},
		quota: map[string]int64{"X": 1 << 30},
	}
	_, err := New("alice", []string{"X"}, "w", 1, src, rand.New(rand.NewSource(1)))
	if !errs.Is(err, errs.InvalidRuleWeight) {
		t.Fatalf("want InvalidRuleWeight, got %v", err)
	}
}

func TestZeroQuotaExcludesRSE(t *testing.T) {
	src := &fakeSource{
		attrs: map[string]map[string]string{"X": {}, "Y": {}},
		quota: map[string]int64{"X": 0, "Y": 1 << 30},
	}
	_, err := New("alice", []string{"X", "Y"}, "", 2, src, rand.New(rand.NewSource(1)))
	if !errs.Is(err, errs.InsufficientAccountLimit) {
		t.Fatalf("want InsufficientAccountLimit, got %v", err)
	}
}

func TestSelectDeterministicWhenSeeded(t *testing.T) {
	src := newFake()
	run := func() []string {
		sel, err := New("alice", []string{"X", "Y", "Z"}, "", 2, src, rand.New(rand.NewSource(42)))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		picked, err := sel.Select(10, nil, nil)
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		return picked
	}
	a, b := run(), run()
	if len(a) != len(b) {
		t.Fatalf("lengths differ: %v vs %v", a, b)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("same seed produced different picks: %v vs %v", a, b)
		}
	}
}

// TestSelectDeterministic10kDraws is the property test named in §4.C: a
// fixed seed must reproduce the identical RSE sequence across many
// independent Selector instances, not merely one lucky pair.
func TestSelectDeterministic10kDraws(t *testing.T) {
	src := newFake()
	draw := func(seed int64) []string {
		sel, err := New("alice", []string{"X", "Y", "Z"}, "", 2, src, rand.New(rand.NewSource(seed)))
		if err != nil {
			t.Fatalf("New: %v", err)
		}
		picked, err := sel.Select(10, nil, nil)
		if err != nil {
			t.Fatalf("Select: %v", err)
		}
		return picked
	}

	want := draw(42)
	for i := 0; i < 10000; i++ {
		got := draw(42)
		if len(got) != len(want) {
			t.Fatalf("draw %d: lengths differ: %v vs %v", i, got, want)
		}
		for j := range got {
			if got[j] != want[j] {
				t.Fatalf("draw %d: seed 42 produced %v, want %v", i, got, want)
			}
		}
	}
}

func TestSelectHonorsPreferred(t *testing.T) {
	src := newFake()
	sel, err := New("alice", []string{"X", "Y", "Z"}, "", 1, src, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	picked, err := sel.Select(10, []string{"Y"}, nil)
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if picked[0] != "Y" {
		t.Fatalf("expected preferred RSE Y to be picked, got %v", picked)
	}
}

func TestSelectHonorsBlacklist(t *testing.T) {
	src := newFake()
	sel, err := New("alice", []string{"X", "Y", "Z"}, "", 1, src, rand.New(rand.NewSource(7)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	picked, err := sel.Select(10, nil, []string{"X", "Y"})
	if err != nil {
		t.Fatalf("Select: %v", err)
	}
	if picked[0] != "Z" {
		t.Fatalf("expected Z (only non-blacklisted), got %v", picked)
	}
}

func TestSelectExhaustedBySpaceLeft(t *testing.T) {
	src := &fakeSource{
		attrs: map[string]map[string]string{"X": {}},
		quota: map[string]int64{"X": 50},
	}
	sel, err := New("alice", []string{"X"}, "", 1, src, rand.New(rand.NewSource(1)))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	_, err = sel.Select(100, nil, nil)
	if !errs.Is(err, errs.InsufficientTargetRSEs) {
		t.Fatalf("want InsufficientTargetRSEs (quota_left <= size), got %v", err)
	}
}
