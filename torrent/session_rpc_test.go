package torrent

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"

	"github.com/cenkalti/steward/engine/simengine"
	"github.com/cenkalti/steward/rpcclient"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRPC(t *testing.T) {
	cfg := sessionConfig(t.TempDir())
	cfg.RPCEnabled = true
	cfg.RPCHost = "127.0.0.1"
	cfg.RPCPort = 0
	s := newTestSession(t, cfg, simengine.New(simengine.DefaultConfig))
	defer s.Close()

	clt := rpcclient.New(s.rpc.Addr().String())
	defer clt.Close()

	version, err := clt.ServerVersion()
	require.NoError(t, err)
	assert.Equal(t, Version, version)

	added, err := clt.AddTorrent(bytes.NewReader(makeTorrent(t, "a")), "", true)
	require.NoError(t, err)
	assert.Equal(t, "a", added.Name)
	assert.Equal(t, "queued", added.State)
	assert.Len(t, added.InfoHash, 40)

	_, err = clt.AddTorrent(bytes.NewReader([]byte("garbage")), "", true)
	assert.Error(t, err)

	torrents, err := clt.ListTorrents()
	require.NoError(t, err)
	require.Len(t, torrents, 1)
	assert.Equal(t, added.ID, torrents[0].ID)

	require.NoError(t, clt.SetSaveLocation(added.ID, t.TempDir()))
	assert.Error(t, clt.SetSaveLocation(added.ID, ""))
	assert.Error(t, clt.StopTorrent(added.ID))

	require.NoError(t, clt.StartTorrent(added.ID))
	require.Eventually(t, func() bool {
		st, err := clt.GetTorrentStats(added.ID)
		return err == nil && st.State == "downloading"
	}, waitFor, tick)

	ss, err := clt.GetSessionStats()
	require.NoError(t, err)
	assert.Equal(t, 1, ss.Torrents)
	assert.Equal(t, 1, ss.Active)

	require.NoError(t, clt.PauseTorrent(added.ID))
	st, err := clt.GetTorrentStats(added.ID)
	require.NoError(t, err)
	assert.Equal(t, "paused", st.State)
	resumed, err := clt.ResumeTorrent(added.ID)
	require.NoError(t, err)
	assert.True(t, resumed)
	resumed, err = clt.ResumeTorrent(added.ID)
	require.NoError(t, err)
	assert.False(t, resumed)

	assert.Error(t, clt.StartTorrent("unknown"))
	_, err = clt.GetTorrentStats("unknown")
	assert.Error(t, err)
	require.NoError(t, clt.RemoveTorrent(added.ID, false))
	assert.Error(t, clt.RemoveTorrent(added.ID, false))
	torrents, err = clt.ListTorrents()
	require.NoError(t, err)
	assert.Empty(t, torrents)
}

func TestRPCError(t *testing.T) {
	assert.Nil(t, rpcError(nil))
	assert.Equal(t, errTorrentNotFound, rpcError(ErrTorrentNotFound))
	assert.Contains(t, rpcError(&IllegalStateError{Op: "stop", State: Queued}).Error(), "cannot stop torrent in queued state")
	assert.Contains(t, rpcError(newInputError(assert.AnError)).Error(), "input error")
}

func TestRPCReady(t *testing.T) {
	eng := simengine.New(simengine.DefaultConfig)
	eng.SetReady(false)
	cfg := sessionConfig(t.TempDir())
	cfg.RPCEnabled = true
	cfg.RPCHost = "127.0.0.1"
	cfg.RPCPort = 0
	s := newTestSession(t, cfg, eng)
	defer s.Close()
	addTorrent(t, s, "a", &AddTorrentOptions{Stopped: true})
	url := "http://" + s.rpc.Addr().String() + "/ready"

	get := func() (int, readiness) {
		resp, err := http.Get(url)
		require.NoError(t, err)
		defer resp.Body.Close()
		var r readiness
		require.NoError(t, json.NewDecoder(resp.Body).Decode(&r))
		return resp.StatusCode, r
	}
	code, r := get()
	assert.Equal(t, http.StatusServiceUnavailable, code)
	assert.False(t, r.Engine)
	assert.Equal(t, 1, r.Torrents)

	eng.SetReady(true)
	code, r = get()
	assert.Equal(t, http.StatusOK, code)
	assert.True(t, r.Engine)

	resp, err := http.Post(url, "application/json", nil)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode)
}
