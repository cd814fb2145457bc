// Package torrent coordinates the lifecycle of torrents running in an embedded download engine.
package torrent

import (
	"encoding/hex"
	"sync"
	"time"

	"github.com/cenkalti/steward/engine"
	"github.com/cenkalti/steward/internal/admission"
	"github.com/cenkalti/steward/internal/diskqueue"
	"github.com/cenkalti/steward/internal/eventbus"
	"github.com/cenkalti/steward/internal/logger"
	"github.com/cenkalti/steward/internal/resumer"
	"github.com/rcrowley/go-metrics"
)

// torrent is the state machine of a single torrent.
//
// Operator commands arrive from callers, notifications arrive from engine goroutines,
// and blocking work runs on the torrent's lane of the shared disk pool.
// All of them meet at guard, which is the only writer of the state.
type torrent struct {
	id       string
	infoHash [20]byte
	name     string
	addedAt  time.Time
	metaInfo []byte
	saveDir  string

	config    *Config
	engine    engine.Engine
	lane      *diskqueue.Lane
	bus       *eventbus.Bus[Event]
	admission admission.Policy
	resumer   resumer.Resumer
	metrics   *torrentMetrics
	log       logger.Logger

	// Called with the first disk error if reporting is enabled.
	onDiskError func(error)
	// Returns true if some other torrent in the session is downloading.
	othersDownloading func() bool

	guard stateGuard
	// Sequence number of the last event. Protected by guard.
	seq uint64
	// Closed when the torrent is destroyed.
	destroyC chan struct{}

	// Serializes writes of counters to the resumer. Taken before m.
	statsM sync.Mutex

	// m protects the fields below. Engine and database calls are never made while holding it.
	m sync.Mutex
	// Engine session. Nil until the start task opens it and after it is removed from the engine.
	session  engine.Session
	listener *engineListener
	// Live counters of session are part of the totals.
	live bool
	// Incremented each time the session is armed. Counters of one run are folded at most once.
	run uint64
	// Totals of previous sessions.
	counters resumer.Stats
	// Existing data is not trusted until the session is opened.
	overwrite bool
	// Directory to move data into on completion.
	saveLocation  string
	finalLocation string
	links         map[string]admission.Candidate
	endpoints     map[string]struct{}
}

// torrentMetrics are shared by all torrents of a session.
type torrentMetrics struct {
	Transitions         metrics.Counter
	RejectedTransitions metrics.Counter
	DiskProblems        metrics.Counter
	EventsDelivered     metrics.Counter
	ListenerPanics      metrics.Counter
}

func nilTorrentMetrics() *torrentMetrics {
	return &torrentMetrics{
		Transitions:         metrics.NilCounter{},
		RejectedTransitions: metrics.NilCounter{},
		DiskProblems:        metrics.NilCounter{},
		EventsDelivered:     metrics.NilCounter{},
		ListenerPanics:      metrics.NilCounter{},
	}
}

// options for creating a new torrent.
type options struct {
	ID       string
	InfoHash [20]byte
	Name     string
	MetaInfo []byte
	AddedAt  time.Time
	// Directory given to the engine.
	SaveDir string
	// Directory to move data into on completion.
	SaveLocation  string
	FinalLocation string
	Overwrite     bool
	Stats         resumer.Stats

	Config            *Config
	Engine            engine.Engine
	Lane              *diskqueue.Lane
	Resumer           resumer.Resumer
	Admission         admission.Policy
	Metrics           *torrentMetrics
	OnDiskError       func(error)
	OthersDownloading func() bool
}

func newTorrent(o options) *torrent {
	if o.Config == nil {
		cfg := DefaultConfig
		o.Config = &cfg
	}
	if o.Admission == nil {
		o.Admission = admission.Deferred{}
	}
	if o.Resumer == nil {
		o.Resumer = nopResumer{}
	}
	if o.Metrics == nil {
		o.Metrics = nilTorrentMetrics()
	}
	if o.OthersDownloading == nil {
		o.OthersDownloading = func() bool { return false }
	}
	l := logger.New("torrent " + o.ID)
	bus := eventbus.New[Event](l)
	bus.Delivered = o.Metrics.EventsDelivered
	bus.Panics = o.Metrics.ListenerPanics
	return &torrent{
		id:                o.ID,
		infoHash:          o.InfoHash,
		name:              o.Name,
		addedAt:           o.AddedAt,
		metaInfo:          o.MetaInfo,
		saveDir:           o.SaveDir,
		config:            o.Config,
		engine:            o.Engine,
		lane:              o.Lane,
		bus:               bus,
		admission:         o.Admission,
		resumer:           o.Resumer,
		metrics:           o.Metrics,
		log:               l,
		destroyC:          make(chan struct{}),
		onDiskError:       o.OnDiskError,
		othersDownloading: o.OthersDownloading,
		counters:          o.Stats,
		overwrite:         o.Overwrite,
		saveLocation:      o.SaveLocation,
		finalLocation:     o.FinalLocation,
		links:             make(map[string]admission.Candidate),
		endpoints:         make(map[string]struct{}),
	}
}

func (t *torrent) spec() engine.Spec {
	return engine.Spec{
		InfoHash: t.infoHash,
		Name:     t.name,
		MetaInfo: t.metaInfo,
		SaveDir:  t.saveDir,
	}
}

func (t *torrent) hexHash() string {
	return hex.EncodeToString(t.infoHash[:])
}

// State returns the current state.
func (t *torrent) State() State {
	return t.guard.State()
}

// IsActive returns true if the torrent has a running engine session.
func (t *torrent) IsActive() bool {
	return t.State().IsActive()
}

// IsPausable returns true if Pause would stop the torrent.
func (t *torrent) IsPausable() bool {
	return t.State().IsPausable()
}

// IsPaused returns true if the torrent is paused by the user or by engine shutdown.
func (t *torrent) IsPaused() bool {
	return t.State() == Paused
}

// AddEventListener registers fn to receive events of this torrent.
// Events are delivered in the order they happen, never while the state is locked,
// so fn may call any method of the torrent.
func (t *torrent) AddEventListener(fn func(Event)) (cancel func()) {
	return t.bus.Subscribe(fn)
}

// apply runs a trigger through the guard and queues the resulting event.
// Callers must flush the bus after releasing every lock.
func (t *torrent) apply(tr trigger, detail string) (transition, bool) {
	tn, ok := t.guard.transition(tr, func(tn transition) {
		if typ, emit := tn.event(); emit {
			t.enqueueLocked(typ, detail)
		}
	})
	if !ok {
		t.metrics.RejectedTransitions.Inc(1)
		return tn, false
	}
	t.metrics.Transitions.Inc(1)
	if tn.changed() {
		t.log.Debugf("%s: %s -> %s", tr, tn.from, tn.to)
	}
	return tn, true
}

// enqueueLocked must be called with the guard locked, so sequence numbers follow the order of transitions.
func (t *torrent) enqueueLocked(typ EventType, detail string) {
	t.seq++
	t.bus.Enqueue(Event{
		TorrentID: t.id,
		Type:      typ,
		Detail:    detail,
		Seq:       t.seq,
	})
}

// emit sends an event that is not the result of a transition.
func (t *torrent) emit(typ EventType, detail string) {
	t.guard.view(func(State, *history) {
		t.enqueueLocked(typ, detail)
	})
	t.bus.Flush()
}

// submit runs a task on the lane of this torrent.
func (t *torrent) submit(name string, task diskqueue.Task) {
	err := t.lane.Submit(task)
	if err != nil {
		t.log.Warningf("cannot run %s task: %s", name, err)
	}
}

// destroyed returns true after the torrent is destroyed. Lane tasks do not touch the engine after that.
func (t *torrent) destroyed() bool {
	var d bool
	t.guard.view(func(_ State, h *history) { d = h.destroyed() })
	return d
}

// currentSession returns the engine session and whether its counters are live.
func (t *torrent) currentSession() (engine.Session, bool) {
	t.m.Lock()
	defer t.m.Unlock()
	return t.session, t.live
}

type nopResumer struct{}

func (nopResumer) WriteStats(resumer.Stats) error { return nil }
func (nopResumer) WriteStarted(bool) error        { return nil }
func (nopResumer) WriteSaveLocation(string) error { return nil }
func (nopResumer) WriteCompleted(string) error    { return nil }
