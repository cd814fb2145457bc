package boltdbresumer

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/cenkalti/steward/internal/resumer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	bolt "go.etcd.io/bbolt"
)

func newTestResumer(t *testing.T) *Resumer {
	db, err := bolt.Open(filepath.Join(t.TempDir(), "resume.db"), 0640, &bolt.Options{Timeout: time.Second})
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	r, err := New(db, []byte("torrents"))
	require.NoError(t, err)
	return r
}

func TestWriteRead(t *testing.T) {
	r := newTestResumer(t)
	addedAt := time.Date(2020, 1, 2, 3, 4, 5, 0, time.UTC)
	spec := &Spec{
		InfoHash:        []byte("01234567890123456789"),
		Name:            "foo",
		MetaInfo:        []byte("d4:infod4:name3:fooee"),
		AddedAt:         addedAt,
		Started:         true,
		SaveLocation:    "/tmp/done",
		BytesDownloaded: 10,
		BytesUploaded:   20,
		BytesWasted:     3,
	}
	require.NoError(t, r.Write("t1", spec))

	got, err := r.Read("t1")
	require.NoError(t, err)
	assert.Equal(t, spec.InfoHash, got.InfoHash)
	assert.Equal(t, "foo", got.Name)
	assert.Equal(t, spec.MetaInfo, got.MetaInfo)
	assert.True(t, got.AddedAt.Equal(addedAt))
	assert.True(t, got.Started)
	assert.False(t, got.Completed)
	assert.Equal(t, "/tmp/done", got.SaveLocation)
	assert.Equal(t, int64(10), got.BytesDownloaded)
	assert.Equal(t, int64(20), got.BytesUploaded)
	assert.Equal(t, int64(3), got.BytesWasted)
}

func TestPartialWrites(t *testing.T) {
	r := newTestResumer(t)
	require.NoError(t, r.Write("t1", &Spec{InfoHash: []byte("x"), AddedAt: time.Now()}))

	tr := r.For("t1")
	require.NoError(t, tr.WriteStats(resumer.Stats{BytesDownloaded: 5, BytesUploaded: 6, BytesWasted: 7}))
	require.NoError(t, tr.WriteStarted(true))
	require.NoError(t, tr.WriteSaveLocation("/a"))
	require.NoError(t, tr.WriteCompleted("/a/foo"))

	got, err := r.Read("t1")
	require.NoError(t, err)
	assert.Equal(t, int64(5), got.BytesDownloaded)
	assert.Equal(t, int64(6), got.BytesUploaded)
	assert.Equal(t, int64(7), got.BytesWasted)
	assert.True(t, got.Started)
	assert.True(t, got.Completed)
	assert.Equal(t, "/a", got.SaveLocation)
	assert.Equal(t, "/a/foo", got.FinalLocation)

	// Writes to an unknown torrent are dropped.
	assert.NoError(t, r.For("missing").WriteStarted(true))
	_, err = r.Read("missing")
	assert.Error(t, err)
}

func TestListDelete(t *testing.T) {
	r := newTestResumer(t)
	require.NoError(t, r.Write("a", &Spec{InfoHash: []byte("a")}))
	require.NoError(t, r.Write("b", &Spec{InfoHash: []byte("b")}))

	ids, err := r.List()
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"a", "b"}, ids)

	require.NoError(t, r.Delete("a"))
	require.NoError(t, r.Delete("a"))
	ids, err = r.List()
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, ids)
}
