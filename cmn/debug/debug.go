//go:build !debug

// Package debug holds assertions that compile to no-ops unless built with
// -tags debug, so invariant checks can stay inline in hot paths without a
// production-time cost.
package debug

// Assert panics with msg if cond is false. Disabled in non-debug builds.
func Assert(cond bool, msg ...any) {}

// AssertNoErr panics if err is non-nil. Disabled in non-debug builds.
func AssertNoErr(err error) {}
