// Package statestore provides the key-value persistence layer shared by the
// native engines. Values are RLP encoded so stored records remain canonical
// and cheap to hash off-process.
package statestore

import (
	"bytes"
	"errors"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"
)

var errNilStore = errors.New("statestore: store not initialised")

// KVStore is the narrow persistence surface the native engines depend on.
// Implementations must apply writes atomically within a single top-level call.
type KVStore interface {
	KVGet(key []byte, out interface{}) (bool, error)
	KVPut(key []byte, value interface{}) error
	KVDelete(key []byte) error
	// KVIterate visits every key with the given prefix in lexicographic key
	// order. The raw value bytes can be decoded with Decode.
	KVIterate(prefix []byte, fn func(key, value []byte) error) error
}

// Decode unmarshals raw stored bytes into out.
func Decode(raw []byte, out interface{}) error {
	return rlp.DecodeBytes(raw, out)
}

// Memory is an in-process KVStore with snapshot/revert support. It backs the
// atomic transaction boundary: take a snapshot before a top-level call and
// revert on failure so state is byte-identical to the pre-call view.
type Memory struct {
	entries map[string][]byte
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string][]byte)}
}

func (m *Memory) KVPut(key []byte, value interface{}) error {
	if m == nil {
		return errNilStore
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	m.entries[string(key)] = encoded
	return nil
}

func (m *Memory) KVGet(key []byte, out interface{}) (bool, error) {
	if m == nil {
		return false, errNilStore
	}
	encoded, ok := m.entries[string(key)]
	if !ok {
		return false, nil
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(encoded, out); err != nil {
		return false, err
	}
	return true, nil
}

func (m *Memory) KVDelete(key []byte) error {
	if m == nil {
		return errNilStore
	}
	delete(m.entries, string(key))
	return nil
}

func (m *Memory) KVIterate(prefix []byte, fn func(key, value []byte) error) error {
	if m == nil {
		return errNilStore
	}
	keys := make([]string, 0, len(m.entries))
	for key := range m.entries {
		if bytes.HasPrefix([]byte(key), prefix) {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	for _, key := range keys {
		if err := fn([]byte(key), m.entries[key]); err != nil {
			return err
		}
	}
	return nil
}

// Snapshot captures the full store contents.
type Snapshot struct {
	entries map[string][]byte
}

// Snapshot returns a deep copy of the current state.
func (m *Memory) Snapshot() *Snapshot {
	if m == nil {
		return nil
	}
	copied := make(map[string][]byte, len(m.entries))
	for key, value := range m.entries {
		copied[key] = append([]byte(nil), value...)
	}
	return &Snapshot{entries: copied}
}

// Revert restores the store to a previously captured snapshot.
func (m *Memory) Revert(snap *Snapshot) {
	if m == nil || snap == nil {
		return
	}
	restored := make(map[string][]byte, len(snap.entries))
	for key, value := range snap.entries {
		restored[key] = append([]byte(nil), value...)
	}
	m.entries = restored
}

// Update runs fn and restores the pre-call snapshot when it errors, so a
// failed multi-step mutation leaves no trace.
func (m *Memory) Update(fn func() error) error {
	snap := m.Snapshot()
	if err := fn(); err != nil {
		m.Revert(snap)
		return err
	}
	return nil
}

// Len reports the number of stored entries. Test helper.
func (m *Memory) Len() int {
	if m == nil {
		return 0
	}
	return len(m.entries)
}
