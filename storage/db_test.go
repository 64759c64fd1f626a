package storage

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGetReportsMissingKeys(t *testing.T) {
	mem := NewMemDB()
	_, err := mem.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)
	require.NoError(t, mem.Put([]byte("k"), []byte("v")))
	got, err := mem.Get([]byte("k"))
	require.NoError(t, err)
	require.Equal(t, []byte("v"), got)

	ldb, err := NewLevelDB(t.TempDir())
	require.NoError(t, err)
	defer ldb.Close()
	_, err = ldb.Get([]byte("missing"))
	require.ErrorIs(t, err, ErrNotFound)
}

func TestGetOnClosedLevelDBIsNotMissing(t *testing.T) {
	ldb, err := NewLevelDB(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, ldb.Put([]byte("k"), []byte("v")))
	ldb.Close()

	_, err = ldb.Get([]byte("k"))
	require.Error(t, err)
	require.NotErrorIs(t, err, ErrNotFound)
}
