// Package admission decides whether a peer connection may join a torrent's link set.
//
// The embedded engine normally manages connections by itself. Deferred is the default policy and admits nothing.
// Limit is the policy for the case the coordinator manages connections directly.
package admission

// Candidate is a peer connection fetched from outside of the engine.
type Candidate struct {
	// Network endpoint, "host:port".
	Addr string
	// True if the remote peer connected to us.
	Incoming bool
}

// Snapshot is the torrent's view at the time of the decision.
type Snapshot struct {
	// Torrent is in an active state.
	Active bool
	// All pieces are downloaded.
	Complete bool
	// Number of links in the set.
	Links int
	// Configured maximum number of links per torrent.
	MaxLinks int
	// Local peer accepts incoming connections.
	AcceptsIncoming bool
	// Some other torrent in the session is still downloading.
	OthersDownloading bool
	// Candidate is already in the link set. Ignored by WantsMoreConnections.
	Connected bool
}

// Policy decides about new connections.
type Policy interface {
	ShouldAdmit(c Candidate, s Snapshot) bool
	WantsMoreConnections(s Snapshot) bool
}

// Deferred leaves connection management to the engine.
type Deferred struct{}

var _ Policy = Deferred{}

func (Deferred) ShouldAdmit(Candidate, Snapshot) bool { return false }

func (Deferred) WantsMoreConnections(Snapshot) bool { return false }

// Limit keeps the number of links under Snapshot.MaxLinks.
//
// When the local peer accepts incoming connections, outgoing fetching stops at 3/5 of the maximum
// so that incoming peers can fill the rest.
type Limit struct{}

var _ Policy = Limit{}

func (Limit) ShouldAdmit(c Candidate, s Snapshot) bool {
	if s.Connected {
		return false
	}
	return s.Links < s.MaxLinks
}

func (Limit) WantsMoreConnections(s Snapshot) bool {
	if !s.Active {
		return false
	}
	// Seeders give way to torrents that are still downloading.
	if s.Complete && s.OthersDownloading {
		return false
	}
	limit := s.MaxLinks
	if s.AcceptsIncoming {
		limit = limit * 3 / 5
	}
	return s.Links < limit
}
