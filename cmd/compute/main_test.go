package main

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/hanzoai/compute/storage/database"
)

func TestOpenNodeDatabase_Leveldb(t *testing.T) {
	db, err := openNodeDatabase("leveldb", t.TempDir())
	require.NoError(t, err)
	defer db.Close()
	require.Equal(t, database.LevelDB, db.Type())
}

func TestOpenNodeDatabase_Badger(t *testing.T) {
	db, err := openNodeDatabase("badger", t.TempDir())
	require.NoError(t, err)
	defer db.Close()
	require.Equal(t, database.BadgerDB, db.Type())
}

func TestOpenNodeDatabase_DefaultsToLeveldb(t *testing.T) {
	db, err := openNodeDatabase("", t.TempDir())
	require.NoError(t, err)
	defer db.Close()
	require.Equal(t, database.LevelDB, db.Type())
}

func TestOpenNodeDatabase_UnknownEngineRejected(t *testing.T) {
	_, err := openNodeDatabase("postgres", t.TempDir())
	require.Error(t, err)
}
