package engine

import "strconv"

// State of a session inside the engine.
type State int

const (
	// Waiting for the owner to call Initialize.
	Waiting State = iota
	// Initializing is the state while the engine prepares the session.
	Initializing
	// Allocating files on disk.
	Allocating
	// Checking existing data on disk.
	Checking
	// Initialized sessions are prepared but not yet Ready.
	Initialized
	// Ready to start transferring with StartDownload.
	Ready
	// Downloading pieces from peers.
	Downloading
	// Finishing writes the last pieces to their final place.
	Finishing
	// Seeding all pieces.
	Seeding
	// Stopping transfers.
	Stopping
	// Stopped sessions do not transfer data.
	Stopped
	// Error stopped the session.
	Error
	// Queued by the engine's own queue manager.
	Queued
)

var stateStrings = map[State]string{
	Waiting:      "waiting",
	Initializing: "initializing",
	Allocating:   "allocating",
	Checking:     "checking",
	Initialized:  "initialized",
	Ready:        "ready",
	Downloading:  "downloading",
	Finishing:    "finishing",
	Seeding:      "seeding",
	Stopping:     "stopping",
	Stopped:      "stopped",
	Error:        "error",
	Queued:       "queued",
}

func (s State) String() string {
	str, ok := stateStrings[s]
	if !ok {
		return strconv.Itoa(int(s))
	}
	return str
}
