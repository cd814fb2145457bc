package torrent

import "strconv"

// EventType is the kind of a torrent event.
type EventType int

const (
	EventStarting EventType = iota
	EventStarted
	EventDownloading
	EventComplete
	EventStopSeeding
	EventStopped
)

var eventTypeStrings = map[EventType]string{
	EventStarting:    "starting",
	EventStarted:     "started",
	EventDownloading: "downloading",
	EventComplete:    "complete",
	EventStopSeeding: "stop-seeding",
	EventStopped:     "stopped",
}

func (e EventType) String() string {
	if str, ok := eventTypeStrings[e]; ok {
		return str
	}
	return "event(" + strconv.Itoa(int(e)) + ")"
}

// MarshalText implements encoding.TextMarshaler.
func (e EventType) MarshalText() ([]byte, error) {
	return []byte(e.String()), nil
}

// Event is sent to torrent listeners in the order the causing transitions happened.
type Event struct {
	TorrentID string
	Type      EventType
	// Optional human readable description.
	Detail string
	// Seq starts from 1 and increases by one for every event of a torrent.
	Seq uint64
}
