package torrent

import "github.com/cenkalti/steward/internal/admission"

func (t *torrent) snapshot(addr string) admission.Snapshot {
	s := admission.Snapshot{
		Active:            t.IsActive(),
		Complete:          t.IsComplete(),
		MaxLinks:          t.config.MaxConnections,
		AcceptsIncoming:   t.config.AcceptsIncoming,
		OthersDownloading: t.othersDownloading(),
	}
	t.m.Lock()
	s.Links = len(t.links)
	_, s.Connected = t.links[addr]
	t.m.Unlock()
	return s
}

// NeedsMoreConnections returns true if the admission policy wants more peers to be fetched for this torrent.
func (t *torrent) NeedsMoreConnections() bool {
	return t.admission.WantsMoreConnections(t.snapshot(""))
}

// ShouldAddConnection returns true if the admission policy accepts c into the link set.
func (t *torrent) ShouldAddConnection(c admission.Candidate) bool {
	return t.admission.ShouldAdmit(c, t.snapshot(c.Addr))
}

// AddConnection records an established connection.
// A torrent that was still looking for peers starts downloading.
// Returns false if the torrent cannot use the connection in its current state.
func (t *torrent) AddConnection(c admission.Candidate) bool {
	t.notify(trConnectionAccepted, c.Addr)
	switch t.State() {
	case Downloading, Seeding:
	default:
		return false
	}
	t.m.Lock()
	t.links[c.Addr] = c
	t.m.Unlock()
	return true
}

// LinkClosed removes the connection from the link set.
func (t *torrent) LinkClosed(addr string) {
	t.m.Lock()
	delete(t.links, addr)
	t.m.Unlock()
}

// AddEndpoint records a peer address received from a tracker.
// The first new endpoint of a torrent that is scraping moves it to Connecting.
func (t *torrent) AddEndpoint(addr string) {
	t.m.Lock()
	_, known := t.endpoints[addr]
	_, connected := t.links[addr]
	if !known {
		t.endpoints[addr] = struct{}{}
	}
	t.m.Unlock()
	if known || connected {
		return
	}
	t.notify(trEndpointAdded, addr)
}

// ShouldStop returns true if the torrent has no connections and no peers while it is not seeding.
func (t *torrent) ShouldStop() bool {
	t.m.Lock()
	links := len(t.links)
	t.m.Unlock()
	return links == 0 && t.CountPeers() == 0 && t.State() != Seeding
}

// CountPeers returns the number of peers connected by the engine.
func (t *torrent) CountPeers() int {
	return t.sessionStats().Peers
}

// CountSeeds returns the number of connected peers that have all pieces.
func (t *torrent) CountSeeds() int {
	return t.sessionStats().Seeds
}

// NonInterestingPeers returns the number of connected peers that have nothing we need.
func (t *torrent) NonInterestingPeers() int {
	return t.sessionStats().NonInterestingPeers
}

// ChokingPeers returns the number of connected peers that are choking us.
func (t *torrent) ChokingPeers() int {
	st := t.sessionStats()
	return st.Peers - st.UnchokingPeers
}

// IsUploading returns true if data is being sent to peers.
func (t *torrent) IsUploading() bool {
	st := t.sessionStats()
	return st.live && st.SendRate > 0
}

// MeasuredBandwidth returns the current download or upload speed in KiB/s.
func (t *torrent) MeasuredBandwidth(downstream bool) float64 {
	st := t.sessionStats()
	if !st.live {
		return 0
	}
	rate := st.SendRate
	if downstream {
		rate = st.ReceiveRate
	}
	return float64(rate) / 1024
}
