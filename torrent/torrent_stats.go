package torrent

import (
	"github.com/cenkalti/steward/engine"
	"github.com/cenkalti/steward/internal/resumer"
)

// Stats contains statistics about Torrent.
type Stats struct {
	// Status of the torrent.
	State State
	// Name can change after metadata is downloaded.
	Name string
	// Hex encoded info hash.
	InfoHash string
	// All data is downloaded and verified.
	Complete bool
	// Directory that data is moved into on completion.
	SaveLocation string
	// Path of data after completion.
	FinalLocation string
	Bytes         struct {
		// Total length of files.
		Total int64
		// Bytes verified on disk.
		Completed int64
		// Downloaded over all sessions. Data that is discarded is not counted.
		Downloaded int64
		// Uploaded over all sessions.
		Uploaded int64
		// Downloaded but discarded (failed hash check or duplicate).
		Wasted int64
	}
	Peers struct {
		// Number of peers connected by the engine.
		Total int
		// Peers that have all pieces.
		Seeds int
		// Peers that have nothing we want.
		NonInteresting int
		// Peers that are not choking us.
		UnchokingUs int
	}
	// Links admitted by the coordinator.
	Links int
	// Bytes per second.
	Speed struct {
		Download int64
		Upload   int64
	}
	// Uploaded / Downloaded
	Ratio float64
}

// fold adds the live counters of ses to the totals and stops treating them as live.
// Counters of a run are added once even if fold is called concurrently.
func (t *torrent) fold(ses engine.Session) {
	t.m.Lock()
	ok, run := t.session == ses && t.live, t.run
	t.m.Unlock()
	if !ok {
		return
	}
	st := ses.Stats()
	t.m.Lock()
	if t.session != ses || !t.live || t.run != run {
		t.m.Unlock()
		return
	}
	t.counters.BytesDownloaded += st.BytesReceived
	t.counters.BytesUploaded += st.BytesSent
	t.counters.BytesWasted += st.BytesDiscarded
	t.live = false
	t.m.Unlock()
	t.writeStats()
}

// totals returns the durable counters plus the live counters of the session.
func (t *torrent) totals() resumer.Stats {
	for {
		t.m.Lock()
		c, ses, live, run := t.counters, t.session, t.live, t.run
		t.m.Unlock()
		if !live || ses == nil {
			return c
		}
		st := ses.Stats()
		t.m.Lock()
		same := t.session == ses && t.live && t.run == run
		t.m.Unlock()
		// Counters are folded or the session is armed again in the meantime.
		if !same {
			continue
		}
		c.BytesDownloaded += st.BytesReceived
		c.BytesUploaded += st.BytesSent
		c.BytesWasted += st.BytesDiscarded
		return c
	}
}

// writeStats saves the current totals.
// Writes are serialized so the database is never left with older totals.
func (t *torrent) writeStats() {
	t.statsM.Lock()
	defer t.statsM.Unlock()
	if t.destroyed() {
		return
	}
	if err := t.resumer.WriteStats(t.totals()); err != nil {
		t.log.Errorln("cannot write stats:", err)
	}
}

// TotalDownloaded returns bytes downloaded in all sessions of this torrent.
func (t *torrent) TotalDownloaded() int64 {
	return t.totals().BytesDownloaded
}

// TotalUploaded returns bytes uploaded in all sessions of this torrent.
func (t *torrent) TotalUploaded() int64 {
	return t.totals().BytesUploaded
}

// Ratio is uploaded bytes divided by downloaded bytes. It is zero if nothing is downloaded.
func (t *torrent) Ratio() float64 {
	return ratio(t.totals())
}

func ratio(c resumer.Stats) float64 {
	if c.BytesDownloaded == 0 {
		return 0
	}
	return float64(c.BytesUploaded) / float64(c.BytesDownloaded)
}

// AmountLost returns bytes that are downloaded and thrown away.
func (t *torrent) AmountLost() int64 {
	return t.totals().BytesWasted
}

// IsComplete returns true if all data is downloaded and verified.
// A torrent with a disk problem is never complete.
func (t *torrent) IsComplete() bool {
	var s State
	var completed bool
	t.guard.view(func(st State, h *history) {
		s = st
		completed = h.completed()
	})
	if s == DiskProblem {
		return false
	}
	t.m.Lock()
	overwrite, ses := t.overwrite, t.session
	t.m.Unlock()
	if overwrite {
		return false
	}
	return completed || (ses != nil && ses.Complete())
}

// sessionSnapshot is the statistics of the engine session at one moment.
type sessionSnapshot struct {
	engine.Stats
	// Session exists
	open bool
	// Session is armed and its counters are part of the totals
	live bool
}

func (t *torrent) sessionStats() (st sessionSnapshot) {
	ses, live := t.currentSession()
	if ses == nil {
		return
	}
	st.open = true
	st.live = live
	st.Stats = ses.Stats()
	return
}

// Stats returns statistics about the torrent.
func (t *torrent) Stats() Stats {
	var s Stats
	s.State = t.State()
	s.Name = t.name
	s.InfoHash = t.hexHash()
	s.Complete = t.IsComplete()
	c := t.totals()
	s.Bytes.Downloaded = c.BytesDownloaded
	s.Bytes.Uploaded = c.BytesUploaded
	s.Bytes.Wasted = c.BytesWasted
	s.Ratio = ratio(c)
	t.m.Lock()
	s.SaveLocation = t.saveLocation
	s.FinalLocation = t.finalLocation
	s.Links = len(t.links)
	t.m.Unlock()
	if ss := t.sessionStats(); ss.open {
		s.Bytes.Total = ss.BytesTotal
		s.Bytes.Completed = ss.BytesCompleted
		if ss.live {
			s.Peers.Total = ss.Peers
			s.Peers.Seeds = ss.Seeds
			s.Peers.NonInteresting = ss.NonInterestingPeers
			s.Peers.UnchokingUs = ss.UnchokingPeers
			s.Speed.Download = ss.ReceiveRate
			s.Speed.Upload = ss.SendRate
		}
	}
	return s
}
