package torrent

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"

	"github.com/cenkalti/steward/internal/rpctypes"
	"github.com/powerman/rpc-codec/jsonrpc2"
)

// Error codes returned from the RPC server.
const (
	rpcErrTorrentNotFound = 1
	rpcErrInput           = 2
	rpcErrIllegalState    = 3
)

var errTorrentNotFound = jsonrpc2.NewError(rpcErrTorrentNotFound, "torrent not found")

type rpcHandler struct {
	session *Session
}

// rpcError converts errors of known types to JSON-RPC errors with a code.
func rpcError(err error) error {
	if err == nil {
		return nil
	}
	var ie *InputError
	if errors.As(err, &ie) {
		return jsonrpc2.NewError(rpcErrInput, ie.Error())
	}
	var se *IllegalStateError
	if errors.As(err, &se) {
		return jsonrpc2.NewError(rpcErrIllegalState, se.Error())
	}
	if errors.Is(err, ErrTorrentNotFound) {
		return errTorrentNotFound
	}
	return err
}

func (h *rpcHandler) Version(args struct{}, reply *string) error {
	*reply = Version
	return nil
}

func (h *rpcHandler) ListTorrents(args *rpctypes.ListTorrentsRequest, reply *rpctypes.ListTorrentsResponse) error {
	torrents := h.session.ListTorrents()
	reply.Torrents = make([]rpctypes.Torrent, 0, len(torrents))
	for _, t := range torrents {
		reply.Torrents = append(reply.Torrents, newRPCTorrent(t))
	}
	return nil
}

func (h *rpcHandler) AddTorrent(args *rpctypes.AddTorrentRequest, reply *rpctypes.AddTorrentResponse) error {
	r := base64.NewDecoder(base64.StdEncoding, strings.NewReader(args.Torrent))
	opt := &AddTorrentOptions{
		SaveLocation: args.SaveLocation,
		Stopped:      args.Stopped,
	}
	t, err := h.session.AddTorrent(r, opt)
	if t != nil {
		reply.Torrent = newRPCTorrent(t)
	}
	return rpcError(err)
}

func newRPCTorrent(t *Torrent) rpctypes.Torrent {
	return rpctypes.Torrent{
		ID:       t.ID(),
		Name:     t.Name(),
		InfoHash: t.InfoHash().String(),
		State:    t.State().String(),
		AddedAt:  rpctypes.Time{Time: t.AddedAt()},
	}
}

func (h *rpcHandler) RemoveTorrent(args *rpctypes.RemoveTorrentRequest, reply *rpctypes.RemoveTorrentResponse) error {
	return rpcError(h.session.RemoveTorrent(args.ID, args.DeleteData))
}

func (h *rpcHandler) GetSessionStats(args *rpctypes.GetSessionStatsRequest, reply *rpctypes.GetSessionStatsResponse) error {
	s := h.session.Stats()
	reply.Stats = rpctypes.SessionStats{
		Torrents:         s.Torrents,
		Active:           s.Active,
		DiskTasksQueued:  s.DiskTasksQueued,
		DiskTasksRunning: s.DiskTasksRunning,

		Transitions:         s.Transitions,
		RejectedTransitions: s.RejectedTransitions,
		EventsDelivered:     s.EventsDelivered,
		ListenerPanics:      s.ListenerPanics,
		DiskProblems:        s.DiskProblems,

		SpeedDownload: s.SpeedDownload,
		SpeedUpload:   s.SpeedUpload,

		Uptime: int(s.Uptime / time.Second),
	}
	return nil
}

func (h *rpcHandler) GetTorrentStats(args *rpctypes.GetTorrentStatsRequest, reply *rpctypes.GetTorrentStatsResponse) error {
	t := h.session.GetTorrent(args.ID)
	if t == nil {
		return errTorrentNotFound
	}
	s := t.Stats()
	reply.Stats = rpctypes.Stats{
		State:         s.State.String(),
		Name:          s.Name,
		InfoHash:      s.InfoHash,
		Complete:      s.Complete,
		SaveLocation:  s.SaveLocation,
		FinalLocation: s.FinalLocation,
		Links:         s.Links,
		Ratio:         s.Ratio,
	}
	reply.Stats.Bytes.Total = s.Bytes.Total
	reply.Stats.Bytes.Completed = s.Bytes.Completed
	reply.Stats.Bytes.Downloaded = s.Bytes.Downloaded
	reply.Stats.Bytes.Uploaded = s.Bytes.Uploaded
	reply.Stats.Bytes.Wasted = s.Bytes.Wasted
	reply.Stats.Peers.Total = s.Peers.Total
	reply.Stats.Peers.Seeds = s.Peers.Seeds
	reply.Stats.Peers.NonInteresting = s.Peers.NonInteresting
	reply.Stats.Peers.UnchokingUs = s.Peers.UnchokingUs
	reply.Stats.Speed.Download = s.Speed.Download
	reply.Stats.Speed.Upload = s.Speed.Upload
	return nil
}

func (h *rpcHandler) StartTorrent(args *rpctypes.StartTorrentRequest, reply *rpctypes.StartTorrentResponse) error {
	t := h.session.GetTorrent(args.ID)
	if t == nil {
		return errTorrentNotFound
	}
	return rpcError(t.Start())
}

func (h *rpcHandler) StopTorrent(args *rpctypes.StopTorrentRequest, reply *rpctypes.StopTorrentResponse) error {
	t := h.session.GetTorrent(args.ID)
	if t == nil {
		return errTorrentNotFound
	}
	return rpcError(t.Stop())
}

func (h *rpcHandler) PauseTorrent(args *rpctypes.PauseTorrentRequest, reply *rpctypes.PauseTorrentResponse) error {
	t := h.session.GetTorrent(args.ID)
	if t == nil {
		return errTorrentNotFound
	}
	t.Pause()
	return nil
}

func (h *rpcHandler) ResumeTorrent(args *rpctypes.ResumeTorrentRequest, reply *rpctypes.ResumeTorrentResponse) error {
	t := h.session.GetTorrent(args.ID)
	if t == nil {
		return errTorrentNotFound
	}
	reply.Resumed = t.Resume()
	return nil
}

func (h *rpcHandler) SetSaveLocation(args *rpctypes.SetSaveLocationRequest, reply *rpctypes.SetSaveLocationResponse) error {
	t := h.session.GetTorrent(args.ID)
	if t == nil {
		return errTorrentNotFound
	}
	err := t.SetSaveLocation(args.SaveLocation)
	if err != nil {
		return jsonrpc2.NewError(rpcErrInput, err.Error())
	}
	return nil
}
