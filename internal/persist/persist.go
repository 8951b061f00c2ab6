// Package persist snapshots a lattice.Engine's Verified and Dirty entries
// into an embedded transactional key-value store, and reloads them on
// startup. It never calls into a Computer; it is purely a boundary between
// in-memory engine state and a durable file.
package persist

import (
	"encoding/binary"
	"fmt"

	"go.etcd.io/bbolt"

	"warp/internal/lattice"
)

// schemaVersion tags the wire format of a persisted value record so a
// format change can be detected on load instead of silently misparsed.
const schemaVersion = 1

const (
	kindTagVerified byte = 1
	kindTagDirty    byte = 2
)

var nodesBucket = []byte("warp_v1_nodes")

// Bridge converts a domain type T to and from its durable byte
// representation. Both directions receive the engine's user context C, so
// a bridge can consult environment the bytes alone don't carry (e.g. a
// working directory to rebase a relative path at load time). Returning
// ok=false causes the entry to be silently omitted from the snapshot: a
// bridge may legitimately decline to persist some values.
type Bridge[T, C any] interface {
	ToPersisted(v T, userCtx C) (data []byte, ok bool)
	FromPersisted(data []byte, userCtx C) (T, bool)
}

// FuncBridge adapts two plain functions to the Bridge interface.
type FuncBridge[T, C any] struct {
	To   func(T, C) ([]byte, bool)
	From func([]byte, C) (T, bool)
}

func (b FuncBridge[T, C]) ToPersisted(v T, userCtx C) ([]byte, bool)   { return b.To(v, userCtx) }
func (b FuncBridge[T, C]) FromPersisted(d []byte, userCtx C) (T, bool) { return b.From(d, userCtx) }

// Store wraps a single-bucket bbolt database.
type Store struct {
	db *bbolt.DB
}

// Open opens (creating if absent) the bbolt file at path and ensures the
// node bucket exists.
func Open(path string) (*Store, error) {
	db, err := bbolt.Open(path, 0o600, nil)
	if err != nil {
		return nil, &lattice.IOError{Inner: err, Path: path}
	}
	err = db.Update(func(tx *bbolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(nodesBucket)
		return err
	})
	if err != nil {
		_ = db.Close()
		return nil, &lattice.StorageError{Inner: err}
	}
	return &Store{db: db}, nil
}

// Close releases the underlying file handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// WriteSnapshot commits every Verified or Dirty entry of snapshot (as
// produced by Engine.Durable) to the store in a single write transaction;
// callers never observe a partial write. Entries whose key or value bridge
// returns ok=false are silently skipped. userCtx is handed to every bridge
// call.
func WriteSnapshot[K comparable, V, C any](s *Store, snapshot map[K]lattice.Status[V], userCtx C, keyBridge Bridge[K, C], valueBridge Bridge[V, C]) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		// A snapshot replaces the previous one wholesale; dropping the bucket
		// inside the same transaction keeps the swap atomic and stops records
		// for since-removed keys from accumulating across runs.
		if err := tx.DeleteBucket(nodesBucket); err != nil {
			return &lattice.StorageError{Inner: err}
		}
		bucket, err := tx.CreateBucket(nodesBucket)
		if err != nil {
			return &lattice.StorageError{Inner: err}
		}
		for k, status := range snapshot {
			keyBytes, ok := keyBridge.ToPersisted(k, userCtx)
			if !ok {
				continue
			}

			var tag byte
			var data lattice.NodeData[V]
			switch {
			case status.IsVerified():
				tag = kindTagVerified
				data = status.Data()
			case status.IsDirty():
				tag = kindTagDirty
				data = status.Data()
			default:
				continue
			}

			valueBytes, ok := valueBridge.ToPersisted(data.Value(), userCtx)
			if !ok {
				continue
			}

			record := encodeRecord(tag, data.Hashes(), valueBytes)
			if err := bucket.Put(keyBytes, record); err != nil {
				return &lattice.StorageError{Inner: err}
			}
		}
		return nil
	})
}

// LoadSnapshot reads every node record back into a map suitable for
// Engine.Insert, reconstructing keys and values via the supplied bridges and
// preserving the Verified/Dirty distinction the record was written with.
// Records whose key or value bridge rejects the bytes are silently skipped,
// since a bridge may legitimately evolve and orphan old records.
func LoadSnapshot[K comparable, V, C any](s *Store, userCtx C, keyBridge Bridge[K, C], valueBridge Bridge[V, C]) (map[K]lattice.Status[V], error) {
	out := make(map[K]lattice.Status[V])
	err := s.db.View(func(tx *bbolt.Tx) error {
		bucket := tx.Bucket(nodesBucket)
		return bucket.ForEach(func(keyBytes, valueBytes []byte) error {
			k, ok := keyBridge.FromPersisted(keyBytes, userCtx)
			if !ok {
				return nil
			}
			tag, hashes, payload, err := decodeRecord(valueBytes)
			if err != nil {
				return &lattice.StorageError{Inner: err}
			}
			v, ok := valueBridge.FromPersisted(payload, userCtx)
			if !ok {
				return nil
			}
			data := lattice.NewNodeData(v, hashes)
			switch tag {
			case kindTagVerified:
				out[k] = lattice.Verified(data)
			case kindTagDirty:
				out[k] = lattice.DirtyStatus(data)
			}
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// encodeRecord lays out: version(1) | tag(1) | inputHash(32) | outputHash(32)
// | len(payload, 8 big-endian) | payload.
func encodeRecord(tag byte, hashes lattice.HashPair, payload []byte) []byte {
	buf := make([]byte, 0, 2+32+32+8+len(payload))
	buf = append(buf, schemaVersion, tag)
	in := hashes.Input
	out := hashes.Output
	buf = append(buf, in[:]...)
	buf = append(buf, out[:]...)
	var lenBytes [8]byte
	binary.BigEndian.PutUint64(lenBytes[:], uint64(len(payload)))
	buf = append(buf, lenBytes[:]...)
	buf = append(buf, payload...)
	return buf
}

func decodeRecord(buf []byte) (tag byte, hashes lattice.HashPair, payload []byte, err error) {
	const headerLen = 2 + 32 + 32 + 8
	if len(buf) < headerLen {
		return 0, lattice.HashPair{}, nil, fmt.Errorf("persist: record too short: %d bytes", len(buf))
	}
	version := buf[0]
	if version != schemaVersion {
		return 0, lattice.HashPair{}, nil, fmt.Errorf("persist: unsupported schema version %d", version)
	}
	tag = buf[1]
	copy(hashes.Input[:], buf[2:34])
	copy(hashes.Output[:], buf[34:66])
	n := binary.BigEndian.Uint64(buf[66:74])
	if uint64(len(buf)-headerLen) != n {
		return 0, lattice.HashPair{}, nil, fmt.Errorf("persist: payload length mismatch: header says %d, have %d", n, len(buf)-headerLen)
	}
	payload = buf[headerLen:]
	return tag, hashes, payload, nil
}
