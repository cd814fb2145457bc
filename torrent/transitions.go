package torrent

import "strconv"

// trigger is anything that may change the state of a torrent.
type trigger int

const (
	// Operator commands
	trStart trigger = iota
	trPause
	trResume
	trStop
	trDestroy

	// Engine session state changes
	trEngineStarting
	trEngineInitialized
	trEngineChecking
	trEngineDownloading
	trEngineFinishing
	trEngineSeeding
	trEngineError
	trEngineStopped

	// Tracker and link notifications
	trTrackerRequest
	trTrackerRequestFailed
	trTrackerFailed
	trEndpointAdded
	trConnectionAccepted

	trDiskFault
	trEngineStopping

	numTriggers
)

var triggerNames = [numTriggers]string{
	trStart:                "start",
	trPause:                "pause",
	trResume:               "resume",
	trStop:                 "stop",
	trDestroy:              "destroy",
	trEngineStarting:       "engine-starting",
	trEngineInitialized:    "engine-initialized",
	trEngineChecking:       "engine-checking",
	trEngineDownloading:    "engine-downloading",
	trEngineFinishing:      "engine-finishing",
	trEngineSeeding:        "engine-seeding",
	trEngineError:          "engine-error",
	trEngineStopped:        "engine-stopped",
	trTrackerRequest:       "tracker-request",
	trTrackerRequestFailed: "tracker-request-failed",
	trTrackerFailed:        "tracker-failed",
	trEndpointAdded:        "endpoint-added",
	trConnectionAccepted:   "connection-accepted",
	trDiskFault:            "disk-fault",
	trEngineStopping:       "engine-stopping",
}

func (tr trigger) String() string {
	if tr >= 0 && tr < numTriggers {
		return triggerNames[tr]
	}
	return "trigger(" + strconv.Itoa(int(tr)) + ")"
}

// history records the triggers accepted and the states entered since the torrent was registered.
// Transition guards are predicates over it.
type history struct {
	accepted [numTriggers]int
	entered  map[State]int
}

func (h *history) record(tn transition) {
	h.accepted[tn.trigger]++
	if tn.changed() {
		if h.entered == nil {
			h.entered = make(map[State]int)
		}
		h.entered[tn.to]++
	}
}

// activity returns true after the engine has reported real transfer activity.
func (h *history) activity() bool {
	return h.accepted[trEngineDownloading] > 0 || h.accepted[trEngineSeeding] > 0
}

func (h *history) completed() bool {
	return h.accepted[trEngineSeeding] > 0
}

func (h *history) pausedBefore() bool {
	return h.entered[Paused] > 0
}

func (h *history) destroyed() bool {
	return h.accepted[trDestroy] > 0
}

// shuttingDown returns true after the whole engine has begun to stop.
// No notification is applied after that.
func (h *history) shuttingDown() bool {
	return h.accepted[trEngineStopping] > 0
}

// transition is the result of an accepted trigger.
type transition struct {
	trigger trigger
	from    State
	to      State
	// true if the trigger is accepted for the first time
	first bool
}

func (tn transition) changed() bool {
	return tn.from != tn.to
}

// event returns the event that must be emitted for the transition, if any.
func (tn transition) event() (EventType, bool) {
	switch tn.trigger {
	case trStart, trEngineStarting:
		return EventStarting, tn.changed()
	case trEngineInitialized:
		return EventStarted, tn.changed()
	case trEngineDownloading, trConnectionAccepted:
		return EventDownloading, tn.changed()
	case trEngineSeeding:
		return EventComplete, tn.first
	case trStop, trEngineStopped, trEngineError, trDiskFault, trTrackerFailed:
		return EventStopped, tn.changed()
	case trPause, trEngineStopping:
		return EventStopped, tn.changed() && tn.from.IsActive()
	}
	return 0, false
}

// rule returns the next state for a trigger, or false if the trigger is not valid.
type rule func(s State, h *history) (State, bool)

type predicate func(s State, h *history) bool

func to(next State, valid predicate) rule {
	return func(s State, h *history) (State, bool) {
		if !valid(s, h) {
			return s, false
		}
		return next, true
	}
}

func in(states ...State) predicate {
	return func(s State, _ *history) bool {
		for _, st := range states {
			if s == st {
				return true
			}
		}
		return false
	}
}

func anyState(State, *history) bool { return true }

func active(s State, _ *history) bool { return s.IsActive() }

func pausable(s State, _ *history) bool { return s.IsPausable() || s == Queued }

// notified wraps the predicate of a trigger that comes from an engine callback.
// Callbacks do not apply after the engine has begun shutting down, and a disk problem is final until removal.
func notified(valid predicate) predicate {
	return func(s State, h *history) bool {
		return s != DiskProblem && s != Invalid && !h.shuttingDown() && valid(s, h)
	}
}

// engineStopped reports stopped sessions that were running.
// Until activity is seen, a stopped session is residue of a previous run that is not armed yet.
// Pause and tracker failure stop the session themselves and keep their state.
// A Queued torrent is about to arm its stopped session again.
func engineStopped(s State, h *history) bool {
	return h.activity() && s != Paused && s != TrackerFailure && s != Queued
}

func notDestroyed(valid predicate) predicate {
	return func(s State, h *history) bool {
		return !h.destroyed() && valid(s, h)
	}
}

var rules = [numTriggers]rule{
	trStart:  to(Starting, notDestroyed(in(Queued))),
	trPause:  to(Paused, pausable),
	trResume: to(Queued, notDestroyed(in(Paused, TrackerFailure, Stopped))),
	trStop:   to(Stopped, active),
	trDestroy: func(s State, h *history) (State, bool) {
		return s, !h.destroyed()
	},

	trEngineStarting:    to(Starting, notified(anyState)),
	trEngineInitialized: to(WaitingForTracker, notified(anyState)),
	trEngineChecking:    to(Verifying, notified(anyState)),
	trEngineDownloading: to(Downloading, notified(anyState)),
	trEngineFinishing:   to(Saving, notified(anyState)),
	trEngineSeeding:     to(Seeding, notified(anyState)),
	trEngineError:       to(Stopped, notified(anyState)),
	trEngineStopped:     to(Stopped, notified(engineStopped)),

	trTrackerRequest:       to(Scraping, notified(in(WaitingForTracker))),
	trTrackerRequestFailed: to(WaitingForTracker, notified(in(Scraping))),
	trTrackerFailed:        to(TrackerFailure, notified(func(s State, _ *history) bool { return s.IsActive() && s != Seeding })),
	trEndpointAdded:        to(Connecting, notified(in(Scraping))),
	trConnectionAccepted:   to(Downloading, notified(in(Connecting, Scraping, WaitingForTracker))),

	trDiskFault: to(DiskProblem, func(s State, h *history) bool {
		return s != DiskProblem && !h.shuttingDown()
	}),
	trEngineStopping: func(s State, h *history) (State, bool) {
		if h.shuttingDown() {
			return s, false
		}
		if pausable(s, h) {
			return Paused, true
		}
		return s, true
	},
}
