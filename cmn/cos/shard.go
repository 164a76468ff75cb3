// Package cos ("common os"-ish small utilities) holds the bits every
// package needs and none of them owns outright: the portable sharding
// hash and the process-wide graceful-stop signal.
package cos

import (
	"github.com/OneOfOne/xxhash"
)

// ShardOf returns the worker index in [0, totalWorkers) that owns `name`,
// per §9's "replace dialect-specific hashing with one portable hash
// computed in the application layer". xxhash.Checksum64 is the teacher's
// own choice of checksum for exactly this kind of stable partitioning
// (cos.ChecksumXXHash in the example pack's integration tests).
func ShardOf(name string, totalWorkers int) int {
	if totalWorkers <= 1 {
		return 0
	}
	h := xxhash.Checksum64([]byte(name))
	return int(h % uint64(totalWorkers))
}

// Owns reports whether workerNumber (0-based) is responsible for name out
// of totalWorkers, per the worker-sharding scheme in §5.
func Owns(name string, workerNumber, totalWorkers int) bool {
	return ShardOf(name, totalWorkers) == workerNumber
}
