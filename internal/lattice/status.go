package lattice

import "sync"

// NodeData is the output of one successful computation: a value together
// with the digests of the inputs that produced it and of the value itself.
type NodeData[V any] struct {
	value  V
	hashes HashPair
}

// NewNodeData constructs a NodeData from a value and its hash pair.
func NewNodeData[V any](value V, hashes HashPair) NodeData[V] {
	return NodeData[V]{value: value, hashes: hashes}
}

// Value returns the shared-ownership result. V itself is expected to be
// immutable content (e.g. a pointer to a value nobody mutates after
// publication); the engine never copies it.
func (d NodeData[V]) Value() V { return d.value }

// InputHash returns the 256-bit digest of the inputs consulted.
func (d NodeData[V]) InputHash() Hash { return d.hashes.Input }

// OutputHash returns the 256-bit digest of the produced value.
func (d NodeData[V]) OutputHash() Hash { return d.hashes.Output }

// Hashes returns both digests together.
func (d NodeData[V]) Hashes() HashPair { return d.hashes }

// statusKind tags the five legal node states plus Vacant: a key with no
// entry, or an entry that has been created but not yet claimed for compute.
type statusKind int

const (
	kindVacant statusKind = iota // zero value: the implicit state of a freshly-created entry
	kindComputing
	kindVerified
	kindDirty
	kindFailed
	kindUnreachable
)

func (k statusKind) String() string {
	switch k {
	case kindVacant:
		return "Vacant"
	case kindComputing:
		return "Computing"
	case kindVerified:
		return "Verified"
	case kindDirty:
		return "Dirty"
	case kindFailed:
		return "Failed"
	case kindUnreachable:
		return "Unreachable"
	default:
		return "unknown"
	}
}

// Status is a seedable node status used with Engine.Insert and
// Engine.Pollute. It deliberately cannot represent Computing - that state
// only ever arises from inside the request coordinator.
type Status[V any] struct {
	kind   statusKind
	data   NodeData[V]
	err    error
	reason string
}

// Verified constructs a Status representing a current, consistent result.
func Verified[V any](d NodeData[V]) Status[V] {
	return Status[V]{kind: kindVerified, data: d}
}

// DirtyStatus constructs a Status representing a stale-but-retained result.
func DirtyStatus[V any](d NodeData[V]) Status[V] {
	return Status[V]{kind: kindDirty, data: d}
}

// FailedStatus constructs a Status representing a shared failure handle.
func FailedStatus[V any](err error) Status[V] {
	return Status[V]{kind: kindFailed, err: err}
}

// UnreachableStatus constructs a Status representing structural poisoning.
func UnreachableStatus[V any](reason string) Status[V] {
	return Status[V]{kind: kindUnreachable, reason: reason}
}

// IsVerified reports whether this Status is the Verified variant.
func (s Status[V]) IsVerified() bool { return s.kind == kindVerified }

// IsDirty reports whether this Status is the Dirty variant.
func (s Status[V]) IsDirty() bool { return s.kind == kindDirty }

// Data returns the carried NodeData; valid only when IsVerified or IsDirty.
func (s Status[V]) Data() NodeData[V] { return s.data }

// Snapshot is the non-blocking view returned by Engine.PeekStatus.
type Snapshot[V any] struct {
	Present bool
	Kind    string
	Data    NodeData[V] // valid when Kind is Verified or Dirty
	Err     error       // valid when Kind is Failed
	Reason  string      // valid when Kind is Unreachable
}

// entry is the per-key status map cell. It carries its own mutex so that
// status-map concurrency is entry-level, never a single global lock held
// across a suspension point.
type entry[V any] struct {
	mu     sync.Mutex
	kind   statusKind
	data   NodeData[V]
	err    error
	reason string
	notify chan struct{} // non-nil only while kind == kindComputing
}

func newEntry[V any]() *entry[V] {
	return &entry[V]{}
}
