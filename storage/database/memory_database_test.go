package database

import (
	"testing"

	"github.com/stretchr/testify/require"
)

var (
	_ Database = (*MemDatabase)(nil)
	_ Database = (*levelDB)(nil)
	_ Database = (*badgerDB)(nil)
)

func TestMemDatabase_PutGetDelete(t *testing.T) {
	db := NewMemDatabase()

	ok, err := db.Has([]byte("k"))
	require.NoError(t, err)
	require.False(t, ok)

	require.NoError(t, db.Put([]byte("k"), []byte("v")))
	ok, err = db.Has([]byte("k"))
	require.NoError(t, err)
	require.True(t, ok)

	v, err := db.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)

	require.NoError(t, db.Delete([]byte("k")))
	_, err = db.Get([]byte("k"))
	require.Error(t, err)
}

func TestMemDatabase_Batch(t *testing.T) {
	db := NewMemDatabase()
	b := db.NewBatch()
	require.NoError(t, b.Put([]byte("a"), []byte("1")))
	require.NoError(t, b.Put([]byte("b"), []byte("2")))
	require.Equal(t, 2, b.ValueSize())
	require.NoError(t, b.Write())

	v, err := db.Get([]byte("a"))
	require.NoError(t, err)
	require.Equal(t, []byte("1"), v)
}

func TestTable_Namespaces(t *testing.T) {
	db := NewMemDatabase()
	tbl := NewTable(db, "ns-")

	require.NoError(t, tbl.Put([]byte("k"), []byte("v")))

	_, err := db.Get([]byte("k"))
	require.Error(t, err)

	v, err := db.Get([]byte("ns-k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)

	v, err = tbl.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), v)
}
