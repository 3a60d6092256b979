package statestore

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

type record struct {
	Name  string
	Count uint64
}

func TestMemoryRoundTrip(t *testing.T) {
	mem := NewMemory()
	require.NoError(t, mem.KVPut([]byte("k/1"), record{Name: "a", Count: 7}))

	var out record
	ok, err := mem.KVGet([]byte("k/1"), &out)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, record{Name: "a", Count: 7}, out)

	ok, err = mem.KVGet([]byte("k/2"), &out)
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, mem.KVDelete([]byte("k/1")))
	ok, err = mem.KVGet([]byte("k/1"), nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryIterateOrderedByKey(t *testing.T) {
	mem := NewMemory()
	require.NoError(t, mem.KVPut([]byte("p/b"), record{Name: "b"}))
	require.NoError(t, mem.KVPut([]byte("p/a"), record{Name: "a"}))
	require.NoError(t, mem.KVPut([]byte("q/c"), record{Name: "c"}))

	var keys []string
	require.NoError(t, mem.KVIterate([]byte("p/"), func(key, value []byte) error {
		var out record
		require.NoError(t, Decode(value, &out))
		keys = append(keys, string(key))
		return nil
	}))
	require.Equal(t, []string{"p/a", "p/b"}, keys)
}

func TestMemoryUpdateRevertsOnError(t *testing.T) {
	mem := NewMemory()
	require.NoError(t, mem.KVPut([]byte("kept"), record{Name: "kept"}))

	failure := errors.New("boom")
	err := mem.Update(func() error {
		require.NoError(t, mem.KVPut([]byte("new"), record{Name: "new"}))
		require.NoError(t, mem.KVDelete([]byte("kept")))
		return failure
	})
	require.ErrorIs(t, err, failure)

	require.Equal(t, 1, mem.Len())
	ok, err := mem.KVGet([]byte("kept"), nil)
	require.NoError(t, err)
	require.True(t, ok)
	ok, err = mem.KVGet([]byte("new"), nil)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestMemoryUpdateCommitsOnSuccess(t *testing.T) {
	mem := NewMemory()
	require.NoError(t, mem.Update(func() error {
		return mem.KVPut([]byte("new"), record{Name: "new"})
	}))
	ok, err := mem.KVGet([]byte("new"), nil)
	require.NoError(t, err)
	require.True(t, ok)
}

func TestBoltTransactionBoundary(t *testing.T) {
	db, err := OpenBolt(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	require.NoError(t, db.WithinTransaction(func(kv KVStore) error {
		return kv.KVPut([]byte("k/1"), record{Name: "a", Count: 1})
	}))

	failure := errors.New("boom")
	err = db.WithinTransaction(func(kv KVStore) error {
		if err := kv.KVPut([]byte("k/2"), record{Name: "b", Count: 2}); err != nil {
			return err
		}
		return failure
	})
	require.ErrorIs(t, err, failure)

	require.NoError(t, db.View(func(kv KVStore) error {
		var out record
		ok, err := kv.KVGet([]byte("k/1"), &out)
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, uint64(1), out.Count)

		ok, err = kv.KVGet([]byte("k/2"), nil)
		require.NoError(t, err)
		require.False(t, ok)
		return nil
	}))
}

func TestBoltIteratePrefix(t *testing.T) {
	db, err := OpenBolt(filepath.Join(t.TempDir(), "state.db"))
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, db.Close()) })

	require.NoError(t, db.WithinTransaction(func(kv KVStore) error {
		for _, key := range []string{"m/2", "m/1", "n/1"} {
			if err := kv.KVPut([]byte(key), record{Name: key}); err != nil {
				return err
			}
		}
		return nil
	}))

	var keys []string
	require.NoError(t, db.View(func(kv KVStore) error {
		return kv.KVIterate([]byte("m/"), func(key, _ []byte) error {
			keys = append(keys, string(key))
			return nil
		})
	}))
	require.Equal(t, []string{"m/1", "m/2"}, keys)
}
