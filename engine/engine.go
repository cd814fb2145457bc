// Package engine defines the boundary between the lifecycle coordinator and an embedded download engine.
//
// The engine owns everything below the lifecycle: peer wire protocol, trackers, DHT, piece verification and disk layout.
// The coordinator only issues session commands, reads aggregate statistics and receives notifications through Listener.
package engine

import "errors"

// ErrNotReady is returned from Engine.Open while the engine is still booting.
var ErrNotReady = errors.New("engine is not ready")

// Spec describes a torrent to open in the engine.
type Spec struct {
	// SHA-1 hash of the info dictionary.
	InfoHash [20]byte
	// Display name.
	Name string
	// Raw bytes of the .torrent file.
	MetaInfo []byte
	// Directory to save downloaded files.
	SaveDir string
}

// Engine is the embedded download engine.
type Engine interface {
	// Ready returns true after the engine has finished its own startup.
	Ready() bool
	// Open returns the live session for the torrent, creating it if necessary.
	// Opening the same info hash twice returns the same session.
	Open(spec Spec) (Session, error)
	// Close releases all sessions and stops the engine.
	Close() error
}

// Session is the engine's live handle for one torrent.
//
// Commands may block on IO and must not be called from inside a Listener callback.
// State, Stats, SaveLocation and Complete are queries and can be called from anywhere.
type Session interface {
	// AddListener registers l for notifications. Notifications for one session are delivered serially.
	AddListener(l Listener)
	// RemoveListener unregisters l.
	RemoveListener(l Listener)
	// State returns the current engine state.
	State() State
	// SetWaiting re-arms a stopped session. The session moves to Waiting state and
	// its transfer counters restart from zero.
	SetWaiting()
	// Initialize prepares a Waiting session (allocation, checking).
	Initialize()
	// StartDownload starts transferring a Ready session.
	StartDownload()
	// Stop tears down transfers. Counters keep their values until SetWaiting is called.
	Stop() error
	// Remove releases the session from the engine. The session must not be used afterwards.
	Remove() error
	// RemoveData deletes downloaded files of a removed session.
	RemoveData() error
	// Stats returns counters of the current session.
	Stats() Stats
	// SaveLocation returns the path of downloaded data (file or directory).
	SaveLocation() string
	// MoveData moves downloaded data into dir.
	MoveData(dir string) error
	// Complete returns true if all pieces are downloaded and verified.
	Complete() bool
}

// Listener receives notifications from a Session.
// Calls may come from any goroutine and must return quickly.
type Listener interface {
	StateChanged(s State)

	PeerAdded(p Peer)
	PeerRemoved(p Peer)
	PeerManagerAdded()
	PeerManagerRemoved()

	PieceAdded(index int)
	PieceRemoved(index int)

	DownloadComplete()
	DiskFault(err error)

	TrackerRequestStarted()
	TrackerRequestFailed(err error)
	// TrackerFailed is sent when no tracker can be reached and the engine gives up announcing.
	TrackerFailed(err error)

	// EngineStopping is sent once when the whole engine begins shutting down.
	EngineStopping()
}

// Peer is a remote peer known by the engine.
type Peer struct {
	Addr string
}

// Stats contains aggregate counters of a session.
type Stats struct {
	// Bytes of verified piece data received in this session.
	BytesReceived int64
	// Bytes of piece data sent in this session.
	BytesSent int64
	// Bytes received but thrown away (failed hash check, duplicates).
	BytesDiscarded int64
	// Bytes verified on disk, across sessions.
	BytesCompleted int64
	// Length of all files.
	BytesTotal int64
	// Bytes per second.
	ReceiveRate int64
	SendRate    int64
	// Connected peers, including seeds.
	Peers int
	// Connected peers that have all pieces.
	Seeds int
	// Peers that have nothing we need.
	NonInterestingPeers int
	// Peers that are not choking us.
	UnchokingPeers int
}
