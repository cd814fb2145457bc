package torrent

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"time"

	"github.com/cenkalti/steward/internal/metainfo"
	"github.com/cenkalti/steward/internal/resumer/boltdbresumer"
	"github.com/gofrs/uuid"
)

// AddTorrentOptions contains options for adding a new torrent.
type AddTorrentOptions struct {
	// ID uniquely identifies the torrent in Session.
	// If empty, a random ID is generated.
	ID string
	// Directory to move data into after the download completes.
	SaveLocation string
	// Do not start torrent automatically after adding.
	Stopped bool
	// Do not trust existing data in the download directory until the engine opens the torrent.
	Overwrite bool
}

// AddTorrent adds a new torrent to the session by reading .torrent metainfo from reader.
// Nil value can be passed as opt for default options.
func (s *Session) AddTorrent(r io.Reader, opt *AddTorrentOptions) (*Torrent, error) {
	if opt == nil {
		opt = &AddTorrentOptions{}
	}
	b, err := io.ReadAll(io.LimitReader(r, s.config.MaxTorrentSize+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > s.config.MaxTorrentSize {
		return nil, newInputError(fmt.Errorf("torrent too large: more than %d bytes", s.config.MaxTorrentSize))
	}
	mi, err := metainfo.New(bytes.NewReader(b))
	if err != nil {
		return nil, newInputError(err)
	}
	id, err := newID(opt.ID)
	if err != nil {
		return nil, err
	}
	addedAt := time.Now().UTC()

	s.mTorrents.Lock()
	if s.closed {
		s.mTorrents.Unlock()
		return nil, errors.New("session is closed")
	}
	if _, ok := s.torrents[id]; ok {
		s.mTorrents.Unlock()
		return nil, newInputError(fmt.Errorf("duplicate torrent id: %s", id))
	}
	if t, ok := s.torrentsByInfoHash[mi.Info.Hash]; ok {
		s.mTorrents.Unlock()
		return nil, newInputError(fmt.Errorf("torrent already exists with id: %s", t.ID()))
	}
	rspec := &boltdbresumer.Spec{
		InfoHash:     mi.Info.Hash[:],
		Name:         mi.Info.Name,
		MetaInfo:     b,
		AddedAt:      addedAt,
		SaveLocation: opt.SaveLocation,
	}
	err = s.resumer.Write(id, rspec)
	if err != nil {
		s.mTorrents.Unlock()
		return nil, err
	}
	t := s.newTorrent(options{
		ID:           id,
		InfoHash:     mi.Info.Hash,
		Name:         mi.Info.Name,
		MetaInfo:     b,
		AddedAt:      addedAt,
		SaveDir:      filepath.Join(s.config.DataDir, id),
		SaveLocation: opt.SaveLocation,
		Overwrite:    opt.Overwrite,
	})
	t2 := s.insertTorrent(t)
	s.mTorrents.Unlock()

	s.log.Infof("added torrent %s: %s", id, mi.Info.Name)
	if !opt.Stopped {
		err = t2.Start()
	}
	return t2, err
}

func newID(id string) (string, error) {
	if id != "" {
		return id, nil
	}
	u, err := uuid.NewV4()
	if err != nil {
		return "", err
	}
	return base64.RawURLEncoding.EncodeToString(u[:]), nil
}
