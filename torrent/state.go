package torrent

import "strconv"

// State is the lifecycle state of a torrent as seen by the coordinator.
type State int

const (
	// Queued is the initial state. The torrent waits for Start.
	Queued State = iota
	// Starting means the engine session is being opened or initialized.
	Starting
	// WaitingForTracker means the session is initialized and no tracker request is running.
	WaitingForTracker
	// Scraping means a tracker request is in flight.
	Scraping
	// Connecting means peer endpoints are known and connections are being made.
	Connecting
	// Downloading means data is being transferred.
	Downloading
	// Verifying means existing data is being hash checked.
	Verifying
	// Saving means downloaded data is being finalized on disk.
	Saving
	// Seeding means all data is downloaded.
	Seeding
	// Paused by the user.
	Paused
	// Stopped by the user or by the engine.
	Stopped
	// TrackerFailure means no tracker could be reached. Resume retries.
	TrackerFailure
	// DiskProblem is terminal. It is entered on the first disk fault.
	DiskProblem
	// Invalid means the torrent cannot be run.
	Invalid
)

var stateStrings = map[State]string{
	Queued:            "queued",
	Starting:          "starting",
	WaitingForTracker: "waiting-for-tracker",
	Scraping:          "scraping",
	Connecting:        "connecting",
	Downloading:       "downloading",
	Verifying:         "verifying",
	Saving:            "saving",
	Seeding:           "seeding",
	Paused:            "paused",
	Stopped:           "stopped",
	TrackerFailure:    "tracker-failure",
	DiskProblem:       "disk-problem",
	Invalid:           "invalid",
}

func (s State) String() string {
	if str, ok := stateStrings[s]; ok {
		return str
	}
	return "state(" + strconv.Itoa(int(s)) + ")"
}

// MarshalText implements encoding.TextMarshaler.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsActive returns true if the torrent has a running engine session.
func (s State) IsActive() bool {
	switch s {
	case WaitingForTracker, Scraping, Connecting, Downloading, Seeding, Verifying, Saving:
		return true
	}
	return false
}

// IsPausable returns true if Pause has an effect in this state besides Queued.
func (s State) IsPausable() bool {
	return s.isDownloading() || s == Verifying
}

func (s State) isDownloading() bool {
	switch s {
	case WaitingForTracker, Scraping, Connecting, Downloading:
		return true
	}
	return false
}

// isStop returns true for states in which the torrent has no running engine session.
func (s State) isStop() bool {
	switch s {
	case Paused, Stopped, DiskProblem, TrackerFailure, Invalid:
		return true
	}
	return false
}
