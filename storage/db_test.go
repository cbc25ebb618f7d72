package storage

import (
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()

	_, err := db.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, db.Put([]byte("a/1"), []byte("one")))
	require.NoError(t, db.Put([]byte("a/2"), []byte("two")))
	require.NoError(t, db.Put([]byte("b/1"), []byte("other")))

	value, err := db.Get([]byte("a/1"))
	require.NoError(t, err)
	require.Equal(t, []byte("one"), value)

	batch := NewBatch()
	batch.Put([]byte("a/3"), []byte("three"))
	batch.Delete([]byte("a/1"))
	require.Equal(t, 2, batch.Len())
	require.NoError(t, db.Write(batch))

	var keys []string
	err = db.Iterate([]byte("a/"), func(key, value []byte) error {
		keys = append(keys, string(key))
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, []string{"a/2", "a/3"}, keys)

	stop := errors.New("stop")
	err = db.Iterate([]byte("a/"), func(key, value []byte) error { return stop })
	require.ErrorIs(t, err, stop)

	require.NoError(t, db.Delete([]byte("b/1")))
	_, err = db.Get([]byte("b/1"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestMemDB(t *testing.T) {
	db := NewMemDB()
	t.Cleanup(db.Close)
	exerciseDatabase(t, db)
}

func TestLevelDB(t *testing.T) {
	db, err := NewLevelDB(filepath.Join(t.TempDir(), "ledger"))
	require.NoError(t, err)
	t.Cleanup(db.Close)
	exerciseDatabase(t, db)
}

func TestMemDBReturnsCopies(t *testing.T) {
	db := NewMemDB()
	value := []byte("abc")
	require.NoError(t, db.Put([]byte("k"), value))
	value[0] = 'x'

	got, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("abc"), got)
}
