// Package rpcclient provides a client for the JSON-RPC 2.0 interface of a running session.
package rpcclient

import (
	"encoding/base64"
	"io"
	"net"
	"strconv"

	"github.com/cenkalti/steward/internal/rpctypes"
	"github.com/powerman/rpc-codec/jsonrpc2"
)

type Client struct {
	client *jsonrpc2.Client
}

// New returns a client that sends requests to the session at addr ("host:port").
func New(addr string) *Client {
	return &Client{client: jsonrpc2.NewHTTPClient("http://" + addr)}
}

// NewHostPort is a shortcut for New with the host and port joined.
func NewHostPort(host string, port int) *Client {
	return New(net.JoinHostPort(host, strconv.Itoa(port)))
}

func (c *Client) Close() error {
	return c.client.Close()
}

func (c *Client) ServerVersion() (string, error) {
	var reply string
	err := c.client.Call("Session.Version", struct{}{}, &reply)
	return reply, err
}

func (c *Client) ListTorrents() ([]rpctypes.Torrent, error) {
	var reply rpctypes.ListTorrentsResponse
	err := c.client.Call("Session.ListTorrents", rpctypes.ListTorrentsRequest{}, &reply)
	return reply.Torrents, err
}

// AddTorrent reads a .torrent file from f and adds it to the session.
func (c *Client) AddTorrent(f io.Reader, saveLocation string, stopped bool) (*rpctypes.Torrent, error) {
	b, err := io.ReadAll(f)
	if err != nil {
		return nil, err
	}
	args := rpctypes.AddTorrentRequest{
		Torrent:      base64.StdEncoding.EncodeToString(b),
		SaveLocation: saveLocation,
		Stopped:      stopped,
	}
	var reply rpctypes.AddTorrentResponse
	err = c.client.Call("Session.AddTorrent", args, &reply)
	return &reply.Torrent, err
}

func (c *Client) RemoveTorrent(id string, deleteData bool) error {
	args := rpctypes.RemoveTorrentRequest{ID: id, DeleteData: deleteData}
	var reply rpctypes.RemoveTorrentResponse
	return c.client.Call("Session.RemoveTorrent", args, &reply)
}

func (c *Client) GetSessionStats() (*rpctypes.SessionStats, error) {
	var reply rpctypes.GetSessionStatsResponse
	err := c.client.Call("Session.GetSessionStats", rpctypes.GetSessionStatsRequest{}, &reply)
	return &reply.Stats, err
}

func (c *Client) GetTorrentStats(id string) (*rpctypes.Stats, error) {
	args := rpctypes.GetTorrentStatsRequest{ID: id}
	var reply rpctypes.GetTorrentStatsResponse
	err := c.client.Call("Session.GetTorrentStats", args, &reply)
	return &reply.Stats, err
}

func (c *Client) StartTorrent(id string) error {
	args := rpctypes.StartTorrentRequest{ID: id}
	var reply rpctypes.StartTorrentResponse
	return c.client.Call("Session.StartTorrent", args, &reply)
}

func (c *Client) StopTorrent(id string) error {
	args := rpctypes.StopTorrentRequest{ID: id}
	var reply rpctypes.StopTorrentResponse
	return c.client.Call("Session.StopTorrent", args, &reply)
}

func (c *Client) PauseTorrent(id string) error {
	args := rpctypes.PauseTorrentRequest{ID: id}
	var reply rpctypes.PauseTorrentResponse
	return c.client.Call("Session.PauseTorrent", args, &reply)
}

// ResumeTorrent returns false if the torrent is not in a resumable state.
func (c *Client) ResumeTorrent(id string) (bool, error) {
	args := rpctypes.ResumeTorrentRequest{ID: id}
	var reply rpctypes.ResumeTorrentResponse
	err := c.client.Call("Session.ResumeTorrent", args, &reply)
	return reply.Resumed, err
}

func (c *Client) SetSaveLocation(id, dir string) error {
	args := rpctypes.SetSaveLocationRequest{ID: id, SaveLocation: dir}
	var reply rpctypes.SetSaveLocationResponse
	return c.client.Call("Session.SetSaveLocation", args, &reply)
}
