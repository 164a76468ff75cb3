// Package rse implements the RSE Selector (SPEC_FULL.md §5.C /
// spec.md §4.C): the weighted, quota-aware site picker the rule engine
// uses to place copies. This is the "dedicated module" selector named in
// spec.md §9's design note — the only one; the in-rule duplicate
// described there is not reimplemented.
package rse

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/tidwall/buntdb"
	"golang.org/x/crypto/blake2b"
)

// AttributeProvider is the external RSE-attribute collaborator's contract:
// a pure function of rse_id -> attribute map (§4.C: "fetch each RSE's
// attribute map").
type AttributeProvider interface {
	Attributes(rseID string) (map[string]string, error)
}

// QuotaProvider is the external accounting collaborator's contract:
// account_limit(rse) - account_usage(rse) per §4.C.
type QuotaProvider interface {
	QuotaLeft(account, rseID string) int64
}

// Snapshot is a TTL-refreshed, queryable cache of RSE attributes (quota
// is passed through uncached, see QuotaLeft), backed by an embedded
// buntdb so constructing a
// Selector for one rule creation doesn't round-trip to the attribute
// service per RSE on every call — the rule engine typically resolves many
// rules against the same handful of RSEs in a batch.
type Snapshot struct {
	db       *buntdb.DB
	attrs    AttributeProvider
	quota    QuotaProvider
	ttl      time.Duration
}

func NewSnapshot(attrs AttributeProvider, quota QuotaProvider, ttl time.Duration) (*Snapshot, error) {
	db, err := buntdb.Open(":memory:")
	if err != nil {
		return nil, err
	}
	return &Snapshot{db: db, attrs: attrs, quota: quota, ttl: ttl}, nil
}

func (s *Snapshot) Close() error { return s.db.Close() }

func attrCacheKey(rseID string) string {
	sum := blake2b.Sum256([]byte("attrs:" + rseID))
	return fmt.Sprintf("attrs:%x", sum[:8])
}

// Attributes returns rseID's attribute map, refreshing from the
// collaborator when the cached entry is absent or has expired.
func (s *Snapshot) Attributes(rseID string) (map[string]string, error) {
	key := attrCacheKey(rseID)
	var cached map[string]string
	err := s.db.View(func(tx *buntdb.Tx) error {
		val, err := tx.Get(key)
		if err != nil {
			return err
		}
		return json.Unmarshal([]byte(val), &cached)
	})
	if err == nil {
		return cached, nil
	}

	fresh, ferr := s.attrs.Attributes(rseID)
	if ferr != nil {
		return nil, ferr
	}
	b, _ := json.Marshal(fresh)
	_ = s.db.Update(func(tx *buntdb.Tx) error {
		_, _, err := tx.Set(key, string(b), &buntdb.SetOptions{Expires: true, TTL: s.ttl})
		return err
	})
	return fresh, nil
}

// QuotaLeft delegates straight through; quota changes too fast (every
// selection round decrements it) to cache usefully.
func (s *Snapshot) QuotaLeft(account, rseID string) int64 {
	return s.quota.QuotaLeft(account, rseID)
}
