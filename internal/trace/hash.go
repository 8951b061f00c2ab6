package trace

import (
	"crypto/sha256"
	"encoding/hex"
)

// ComputeTraceHash computes the deterministic TraceHash of a canonical trace
// encoding: sha256 over the canonical sorted-order bytes, hex-encoded. It
// assumes the input is already a canonical encoding (e.g. from
// ExecutionTrace.CanonicalJSON()), and is stable across architectures and
// compilers.
func ComputeTraceHash(canonicalEncoding []byte) string {
	if len(canonicalEncoding) == 0 {
		return ""
	}
	sum := sha256.Sum256(canonicalEncoding)
	return hex.EncodeToString(sum[:])
}
