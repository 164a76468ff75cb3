// Package transfer is the outbound contract to the external transfer
// subsystem (spec.md §6): submit_transfer is fire-and-forget from the
// rule engine's perspective — failures surface later via lock state
// updates, never by rolling back the rule (spec.md §4.B "Failure
// semantics"). Physical transfer of bytes and per-site protocol quirks
// are explicit Non-goals (§1); this package only carries the contract
// shape so the rule engine has a real collaborator type to depend on.
package transfer

import (
	"context"

	"github.com/rucio-go/rucio/cmn/nlog"
)

// Order is one unit of work handed to the external transfer subsystem.
type Order struct {
	Scope          string
	Name           string
	DestinationRSE string
	Metadata       map[string]string
}

// Submitter is the transfer subsystem's inbound contract.
type Submitter interface {
	Submit(ctx context.Context, order Order) error
}

// LoggingSubmitter is the default Submitter: it never moves a byte (that's
// the transfer subsystem's job, external to this module) and always
// succeeds, so the engine's "failures don't roll back the rule" semantics
// are exercised by a real collaborator without reimplementing gsiftp/srm.
type LoggingSubmitter struct{}

func (LoggingSubmitter) Submit(_ context.Context, o Order) error {
	nlog.Infof("submit_transfer: %s:%s -> %s", o.Scope, o.Name, o.DestinationRSE)
	return nil
}

// SubmitBatch submits every order, collecting but not stopping on the
// first failure — a failed order leaves the owning lock WAITING. Nothing
// in this module submits that order again: re-evaluation only places
// files that hold no lock from the rule.
func SubmitBatch(ctx context.Context, s Submitter, orders []Order) []error {
	var errs []error
	for _, o := range orders {
		if err := s.Submit(ctx, o); err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
