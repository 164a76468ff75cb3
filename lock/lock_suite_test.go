package lock

import (
	"context"
	"testing"

	. "github.com/onsi/ginkgo"
	. "github.com/onsi/gomega"

	"github.com/rucio-go/rucio/internal/store"
)

func TestLockSuite(t *testing.T) {
	RegisterFailHandler(Fail)
	RunSpecs(t, "Lock Layer Suite")
}

var _ = Describe("ReplicaLock state machine", func() {
	var (
		ctx context.Context
		db  *store.DB
		s   *Store
		rk  store.ReplicaKey
		lk  store.ReplicaLockKey
	)

	BeforeEach(func() {
		ctx = context.Background()
		db = store.NewDB()
		s = New(db)
		rk = store.ReplicaKey{RSEID: "SITE_A", Scope: "u", Name: "f1"}
		lk = store.ReplicaLockKey{RuleID: "r1", RSEID: "SITE_A", Scope: "u", Name: "f1"}

		tx := db.Begin(ctx)
		tx.PutReplica(&store.Replica{Key: rk})
		Expect(tx.Commit()).To(Succeed())
	})

	Context("on creation", func() {
		It("starts WAITING and increments the replica lock_cnt", func() {
			Expect(s.AddReplicaLock(ctx, &store.ReplicaLock{Key: lk, Account: "alice", State: store.LockWaiting})).To(Succeed())

			locks := s.GetReplicaLocks(ctx, "u", "f1")
			Expect(locks).To(HaveLen(1))
			Expect(locks[0].State).To(Equal(store.LockWaiting))

			rtx := db.BeginRead(ctx)
			defer rtx.CommitRead()
			r, ok := rtx.GetReplica(rk)
			Expect(ok).To(BeTrue())
			Expect(r.LockCnt).To(Equal(1))
			Expect(r.Tombstone).To(BeNil())
		})
	})

	Context("on a successful transfer callback", func() {
		It("transitions WAITING -> OK", func() {
			Expect(s.AddReplicaLock(ctx, &store.ReplicaLock{Key: lk, Account: "alice", State: store.LockWaiting})).To(Succeed())
			Expect(s.UpdateState(ctx, lk, store.LockOK)).To(Succeed())

			locks := s.GetReplicaLocks(ctx, "u", "f1")
			Expect(locks).To(HaveLen(1))
			Expect(locks[0].State).To(Equal(store.LockOK))
		})
	})

	Context("on permanent transfer failure", func() {
		It("transitions WAITING -> STUCK", func() {
			Expect(s.AddReplicaLock(ctx, &store.ReplicaLock{Key: lk, Account: "alice", State: store.LockWaiting})).To(Succeed())
			Expect(s.UpdateState(ctx, lk, store.LockStuck)).To(Succeed())

			locks := s.GetReplicaLocks(ctx, "u", "f1")
			Expect(locks[0].State).To(Equal(store.LockStuck))
		})
	})

	Context("when the owning rule is deleted", func() {
		It("removes the lock and tombstones the replica once lock_cnt reaches zero (I7)", func() {
			Expect(s.AddReplicaLock(ctx, &store.ReplicaLock{Key: lk, Account: "alice", State: store.LockWaiting})).To(Succeed())

			n, err := s.DeleteLocksForRule(ctx, "r1")
			Expect(err).NotTo(HaveOccurred())
			Expect(n).To(Equal(1))

			rtx := db.BeginRead(ctx)
			defer rtx.CommitRead()
			r, _ := rtx.GetReplica(rk)
			Expect(r.LockCnt).To(Equal(0))
			Expect(r.Tombstone).NotTo(BeNil())
		})
	})
})
