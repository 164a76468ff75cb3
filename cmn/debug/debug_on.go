//go:build debug

package debug

import "fmt"

// Assert panics with msg if cond is false.
func Assert(cond bool, msg ...any) {
	if !cond {
		panic(fmt.Sprint(msg...))
	}
}

// AssertNoErr panics if err is non-nil.
func AssertNoErr(err error) {
	if err != nil {
		panic(err)
	}
}
