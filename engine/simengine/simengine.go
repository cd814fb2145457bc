// Package simengine is an in-memory engine that follows the session protocol without any network activity.
//
// Sessions can run on their own (Config.Auto) or be driven step by step with the scripting methods of Session.
// It is used in tests and for dry runs of the daemon.
package simengine

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/steward/engine"
	"github.com/cenkalti/steward/internal/eventbus"
	"github.com/cenkalti/steward/internal/logger"
	"github.com/cenkalti/steward/internal/relocator"
)

var (
	errClosed  = errors.New("engine is closed")
	errRemoved = errors.New("session is removed")
)

// Config for Engine.
type Config struct {
	// Open returns engine.ErrNotReady until this much time passes after New.
	ReadyDelay time.Duration
	// Sessions move through the states by themselves after Initialize and StartDownload.
	Auto bool
	// Time from StartDownload to completion in Auto mode. Zero means the download never completes by itself.
	DownloadTime time.Duration
	// Size of the data of every session.
	Length int64
	// Write a file of Length bytes into the save directory on completion.
	WriteFiles bool
}

var DefaultConfig = Config{
	Auto:   true,
	Length: 16 << 10,
}

// Engine implements engine.Engine.
type Engine struct {
	config Config
	log    logger.Logger

	m            sync.Mutex
	readyAt      time.Time
	openErr      error
	openAttempts int
	sessions     map[[20]byte]*Session
	closed       bool
}

var _ engine.Engine = (*Engine)(nil)

// New returns a new Engine.
func New(cfg Config) *Engine {
	return &Engine{
		config:   cfg,
		log:      logger.New("simengine"),
		readyAt:  time.Now().Add(cfg.ReadyDelay),
		sessions: make(map[[20]byte]*Session),
	}
}

func (e *Engine) Ready() bool {
	e.m.Lock()
	defer e.m.Unlock()
	return !e.closed && !time.Now().Before(e.readyAt)
}

// SetReady overrides the ready state of the engine.
func (e *Engine) SetReady(value bool) {
	e.m.Lock()
	defer e.m.Unlock()
	if value {
		e.readyAt = time.Now()
	} else {
		e.readyAt = time.Now().Add(100 * 365 * 24 * time.Hour)
	}
}

// SetOpenError makes Open fail with err. Nil clears the error.
func (e *Engine) SetOpenError(err error) {
	e.m.Lock()
	e.openErr = err
	e.m.Unlock()
}

// OpenAttempts returns the number of Open calls.
func (e *Engine) OpenAttempts() int {
	e.m.Lock()
	defer e.m.Unlock()
	return e.openAttempts
}

func (e *Engine) Open(spec engine.Spec) (engine.Session, error) {
	e.m.Lock()
	defer e.m.Unlock()
	e.openAttempts++
	if e.closed {
		return nil, errClosed
	}
	if time.Now().Before(e.readyAt) {
		return nil, engine.ErrNotReady
	}
	if e.openErr != nil {
		return nil, e.openErr
	}
	if s, ok := e.sessions[spec.InfoHash]; ok {
		return s, nil
	}
	s := newSession(e, spec)
	e.sessions[spec.InfoHash] = s
	return s, nil
}

// Session returns the open session for info hash. Returns nil if there is no such session.
func (e *Engine) Session(infoHash [20]byte) *Session {
	e.m.Lock()
	defer e.m.Unlock()
	return e.sessions[infoHash]
}

// Close notifies all sessions that the engine is stopping, then stops them.
func (e *Engine) Close() error {
	e.m.Lock()
	if e.closed {
		e.m.Unlock()
		return nil
	}
	e.closed = true
	sessions := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.m.Unlock()

	for _, s := range sessions {
		s.publish(func(l engine.Listener) { l.EngineStopping() })
	}
	for _, s := range sessions {
		_ = s.Stop()
	}
	return nil
}

func (e *Engine) remove(s *Session) {
	e.m.Lock()
	if e.sessions[s.spec.InfoHash] == s {
		delete(e.sessions, s.spec.InfoHash)
	}
	e.m.Unlock()
}

// notification is a call on a listener.
type notification func(l engine.Listener)

// Session implements engine.Session.
type Session struct {
	engine *Engine
	spec   engine.Spec
	bus    *eventbus.Bus[notification]

	m         sync.Mutex
	state     engine.State
	stats     engine.Stats
	dir       string
	complete  bool
	removed   bool
	listeners map[engine.Listener]func()
	timer     *time.Timer
}

var _ engine.Session = (*Session)(nil)

func newSession(e *Engine, spec engine.Spec) *Session {
	return &Session{
		engine:    e,
		spec:      spec,
		bus:       eventbus.New[notification](e.log),
		state:     engine.Stopped,
		stats:     engine.Stats{BytesTotal: e.config.Length},
		dir:       spec.SaveDir,
		listeners: make(map[engine.Listener]func()),
	}
}

func (s *Session) AddListener(l engine.Listener) {
	s.m.Lock()
	defer s.m.Unlock()
	if _, ok := s.listeners[l]; ok {
		return
	}
	s.listeners[l] = s.bus.Subscribe(func(n notification) { n(l) })
}

func (s *Session) RemoveListener(l engine.Listener) {
	s.m.Lock()
	cancel, ok := s.listeners[l]
	delete(s.listeners, l)
	s.m.Unlock()
	if ok {
		cancel()
	}
}

// Listeners returns the number of registered listeners.
func (s *Session) Listeners() int {
	return s.bus.Len()
}

func (s *Session) State() engine.State {
	s.m.Lock()
	defer s.m.Unlock()
	return s.state
}

func (s *Session) Stats() engine.Stats {
	s.m.Lock()
	defer s.m.Unlock()
	return s.stats
}

func (s *Session) Complete() bool {
	s.m.Lock()
	defer s.m.Unlock()
	return s.complete
}

func (s *Session) SaveLocation() string {
	s.m.Lock()
	defer s.m.Unlock()
	return filepath.Join(s.dir, s.spec.Name)
}

// Removed returns true after Remove is called.
func (s *Session) Removed() bool {
	s.m.Lock()
	defer s.m.Unlock()
	return s.removed
}

// setStateLocked changes the state and queues the notification. Must be called with s.m held.
func (s *Session) setStateLocked(st engine.State) {
	if s.state == st {
		return
	}
	s.state = st
	s.bus.Enqueue(func(l engine.Listener) { l.StateChanged(st) })
}

func (s *Session) publish(n notification) {
	s.bus.Publish(n)
}

func (s *Session) SetWaiting() {
	s.m.Lock()
	if s.removed {
		s.m.Unlock()
		return
	}
	s.stopTimerLocked()
	s.stats.BytesReceived = 0
	s.stats.BytesSent = 0
	s.stats.BytesDiscarded = 0
	s.stats.ReceiveRate = 0
	s.stats.SendRate = 0
	s.setStateLocked(engine.Waiting)
	s.m.Unlock()
	s.bus.Flush()
}

func (s *Session) Initialize() {
	s.m.Lock()
	if s.removed || s.state != engine.Waiting {
		s.m.Unlock()
		return
	}
	s.setStateLocked(engine.Initializing)
	if s.engine.config.Auto {
		s.setStateLocked(engine.Checking)
		s.setStateLocked(engine.Initialized)
		s.setStateLocked(engine.Ready)
	}
	s.m.Unlock()
	s.bus.Flush()
}

func (s *Session) StartDownload() {
	s.m.Lock()
	if s.removed {
		s.m.Unlock()
		return
	}
	if s.complete {
		s.setStateLocked(engine.Seeding)
	} else {
		s.setStateLocked(engine.Downloading)
		if d := s.engine.config.DownloadTime; s.engine.config.Auto && d > 0 {
			s.timer = time.AfterFunc(d, s.finish)
		}
	}
	s.m.Unlock()
	s.bus.Flush()
}

func (s *Session) finish() {
	if err := s.SetComplete(); err != nil {
		s.FaultDisk(err)
	}
}

func (s *Session) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Session) Stop() error {
	s.m.Lock()
	if s.removed {
		s.m.Unlock()
		return errRemoved
	}
	s.stopTimerLocked()
	s.stats.ReceiveRate = 0
	s.stats.SendRate = 0
	s.stats.Peers = 0
	s.stats.Seeds = 0
	s.stats.NonInterestingPeers = 0
	s.stats.UnchokingPeers = 0
	if s.state != engine.Stopped {
		s.setStateLocked(engine.Stopping)
		s.setStateLocked(engine.Stopped)
	}
	s.m.Unlock()
	s.bus.Flush()
	return nil
}

func (s *Session) Remove() error {
	s.m.Lock()
	if s.removed {
		s.m.Unlock()
		return nil
	}
	s.removed = true
	s.stopTimerLocked()
	for l, cancel := range s.listeners {
		cancel()
		delete(s.listeners, l)
	}
	s.m.Unlock()
	s.engine.remove(s)
	return nil
}

func (s *Session) RemoveData() error {
	return os.RemoveAll(s.SaveLocation())
}

func (s *Session) MoveData(dir string) error {
	s.m.Lock()
	defer s.m.Unlock()
	src := filepath.Join(s.dir, s.spec.Name)
	if _, err := os.Lstat(src); os.IsNotExist(err) {
		// Nothing is written yet.
		s.dir = dir
		return nil
	}
	if _, err := relocator.Move(src, dir); err != nil {
		return err
	}
	s.dir = dir
	return nil
}

// SetState changes the engine state of the session and notifies listeners.
func (s *Session) SetState(st engine.State) {
	s.m.Lock()
	s.setStateLocked(st)
	s.m.Unlock()
	s.bus.Flush()
}

// SetStats replaces the counters of the session. BytesTotal is kept if zero.
func (s *Session) SetStats(st engine.Stats) {
	s.m.Lock()
	if st.BytesTotal == 0 {
		st.BytesTotal = s.stats.BytesTotal
	}
	s.stats = st
	s.m.Unlock()
}

// Transfer adds to the transfer counters of the session.
func (s *Session) Transfer(received, sent, discarded int64) {
	s.m.Lock()
	s.stats.BytesReceived += received
	s.stats.BytesSent += sent
	s.stats.BytesDiscarded += discarded
	s.stats.BytesCompleted += received
	if s.stats.BytesCompleted > s.stats.BytesTotal {
		s.stats.BytesCompleted = s.stats.BytesTotal
	}
	s.m.Unlock()
}

// SetComplete marks all data as downloaded, writes files if configured, and moves the session to Seeding.
func (s *Session) SetComplete() error {
	s.m.Lock()
	if s.removed {
		s.m.Unlock()
		return errRemoved
	}
	if s.engine.config.WriteFiles {
		if err := s.writeFileLocked(); err != nil {
			s.m.Unlock()
			return err
		}
	}
	if s.stats.BytesReceived < s.stats.BytesTotal-s.stats.BytesCompleted {
		s.stats.BytesReceived = s.stats.BytesTotal - s.stats.BytesCompleted
	}
	s.stats.BytesCompleted = s.stats.BytesTotal
	s.complete = true
	s.setStateLocked(engine.Finishing)
	s.bus.Enqueue(func(l engine.Listener) { l.DownloadComplete() })
	s.setStateLocked(engine.Seeding)
	s.m.Unlock()
	s.bus.Flush()
	return nil
}

func (s *Session) writeFileLocked() error {
	err := os.MkdirAll(s.dir, 0750)
	if err != nil {
		return err
	}
	return os.WriteFile(filepath.Join(s.dir, s.spec.Name), make([]byte, s.stats.BytesTotal), 0640)
}

// FaultDisk reports a disk error to listeners. The engine stops the session on disk errors.
func (s *Session) FaultDisk(err error) {
	s.m.Lock()
	s.stopTimerLocked()
	s.bus.Enqueue(func(l engine.Listener) { l.DiskFault(err) })
	s.setStateLocked(engine.Error)
	s.m.Unlock()
	s.bus.Flush()
}

// TrackerRequest notifies listeners that an announce has started.
func (s *Session) TrackerRequest() {
	s.publish(func(l engine.Listener) { l.TrackerRequestStarted() })
}

// TrackerRequestFailed notifies listeners that an announce has failed. The engine keeps trying.
func (s *Session) TrackerRequestFailed(err error) {
	s.publish(func(l engine.Listener) { l.TrackerRequestFailed(err) })
}

// TrackerFailed notifies listeners that the engine has given up announcing.
func (s *Session) TrackerFailed(err error) {
	s.publish(func(l engine.Listener) { l.TrackerFailed(err) })
}

// AddPeer counts a new peer and notifies listeners.
func (s *Session) AddPeer(addr string, seed bool) {
	s.m.Lock()
	s.stats.Peers++
	if seed {
		s.stats.Seeds++
	}
	s.m.Unlock()
	s.publish(func(l engine.Listener) { l.PeerAdded(engine.Peer{Addr: addr}) })
}

// RemovePeer uncounts a peer and notifies listeners.
func (s *Session) RemovePeer(addr string, seed bool) {
	s.m.Lock()
	if s.stats.Peers > 0 {
		s.stats.Peers--
	}
	if seed && s.stats.Seeds > 0 {
		s.stats.Seeds--
	}
	s.m.Unlock()
	s.publish(func(l engine.Listener) { l.PeerRemoved(engine.Peer{Addr: addr}) })
}

// Pieces are not tracked. These only notify listeners.
func (s *Session) AddPiece(i int)    { s.publish(func(l engine.Listener) { l.PieceAdded(i) }) }
func (s *Session) RemovePiece(i int) { s.publish(func(l engine.Listener) { l.PieceRemoved(i) }) }
