package torrent

import (
	"fmt"
	"path/filepath"

	"github.com/cenkalti/steward/internal/resumer"
)

func (s *Session) loadExistingTorrents() {
	ids, err := s.resumer.List()
	if err != nil {
		s.log.Errorln("cannot list existing torrents:", err)
		return
	}
	var loaded int
	var started []*Torrent
	for _, id := range ids {
		t, hasStarted, err := s.loadExistingTorrent(id)
		if err != nil {
			s.log.Error(err)
			continue
		}
		s.log.Debugf("loaded existing torrent: #%s %s", id, t.Name())
		loaded++
		if hasStarted {
			started = append(started, t)
		}
	}
	s.log.Infof("loaded %d existing torrents", loaded)
	if !s.config.ResumeOnStartup {
		return
	}
	for _, t := range started {
		if err := t.Start(); err != nil {
			s.log.Errorf("cannot start torrent %s: %s", t.ID(), err)
		}
	}
}

func (s *Session) loadExistingTorrent(id string) (tt *Torrent, hasStarted bool, err error) {
	spec, err := s.resumer.Read(id)
	if err != nil {
		return
	}
	hasStarted = spec.Started
	var ih InfoHash
	if len(spec.InfoHash) != len(ih) {
		return nil, false, fmt.Errorf("invalid info hash length in torrent %s: %d", id, len(spec.InfoHash))
	}
	copy(ih[:], spec.InfoHash)
	o := options{
		ID:           id,
		InfoHash:     ih,
		Name:         spec.Name,
		MetaInfo:     spec.MetaInfo,
		AddedAt:      spec.AddedAt,
		SaveDir:      filepath.Join(s.config.DataDir, id),
		SaveLocation: spec.SaveLocation,
		Stats: resumer.Stats{
			BytesDownloaded: spec.BytesDownloaded,
			BytesUploaded:   spec.BytesUploaded,
			BytesWasted:     spec.BytesWasted,
		},
	}
	if spec.Completed && spec.FinalLocation != "" {
		// Data is already moved. The engine opens it where it is.
		o.SaveDir = filepath.Dir(spec.FinalLocation)
		o.SaveLocation = ""
		o.FinalLocation = spec.FinalLocation
	}
	s.mTorrents.Lock()
	defer s.mTorrents.Unlock()
	if t, ok := s.torrentsByInfoHash[ih]; ok {
		return nil, false, fmt.Errorf("torrent %s has the same info hash with %s", id, t.ID())
	}
	tt = s.insertTorrent(s.newTorrent(o))
	return
}
