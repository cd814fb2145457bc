// Package anacrolixengine implements the engine interfaces on top of github.com/anacrolix/torrent.
//
// anacrolix/torrent has no notification callbacks. Each session polls its torrent
// and sends notifications for the changes it sees.
package anacrolixengine

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/anacrolix/torrent"
	"github.com/anacrolix/torrent/metainfo"
	"github.com/anacrolix/torrent/storage"
	"github.com/cenkalti/steward/engine"
	"github.com/cenkalti/steward/internal/eventbus"
	"github.com/cenkalti/steward/internal/logger"
	"github.com/cenkalti/steward/internal/relocator"
	"github.com/mitchellh/go-homedir"
	"golang.org/x/time/rate"
)

var errClosed = errors.New("engine is closed")

// Config for Engine.
type Config struct {
	// Default directory of the client. Sessions save into engine.Spec.SaveDir.
	DataDir string `yaml:"data-dir"`
	// TCP and UDP port to listen for peers.
	ListenPort int `yaml:"listen-port"`
	// Keep uploading after download is complete.
	Seed bool `yaml:"seed"`
	// Do not upload at all.
	NoUpload   bool `yaml:"no-upload"`
	DisableUTP bool `yaml:"disable-utp"`
	NoDHT      bool `yaml:"no-dht"`
	// Bytes per second. Zero means unlimited.
	UploadRateLimit   int `yaml:"upload-rate-limit"`
	DownloadRateLimit int `yaml:"download-rate-limit"`
	// Maximum time to wait for torrent info in Initialize.
	ReadyTimeout time.Duration `yaml:"ready-timeout"`
	// Interval of polling torrent stats.
	PollInterval time.Duration `yaml:"poll-interval"`
}

var DefaultConfig = Config{
	DataDir:      "~/steward-downloads",
	ListenPort:   50007,
	Seed:         true,
	ReadyTimeout: time.Minute,
	PollInterval: time.Second,
}

// Bucket size of rate limiters. It must not be smaller than a chunk.
const rateLimitBurst = 1 << 20

// Engine implements engine.Engine.
type Engine struct {
	config Config
	client *torrent.Client
	log    logger.Logger

	m        sync.Mutex
	sessions map[[20]byte]*Session
	closed   bool
	closeC   chan struct{}
}

var _ engine.Engine = (*Engine)(nil)

// New starts a new client.
func New(cfg Config) (*Engine, error) {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultConfig.PollInterval
	}
	var err error
	cfg.DataDir, err = homedir.Expand(cfg.DataDir)
	if err != nil {
		return nil, err
	}
	err = os.MkdirAll(cfg.DataDir, 0750)
	if err != nil {
		return nil, err
	}
	tc := torrent.NewDefaultClientConfig()
	tc.DataDir = cfg.DataDir
	tc.NoUpload = cfg.NoUpload
	tc.Seed = cfg.Seed
	tc.DisableUTP = cfg.DisableUTP
	tc.NoDHT = cfg.NoDHT
	tc.ListenPort = cfg.ListenPort
	if cfg.UploadRateLimit > 0 {
		tc.UploadRateLimiter = rate.NewLimiter(rate.Limit(cfg.UploadRateLimit), rateLimitBurst)
	}
	if cfg.DownloadRateLimit > 0 {
		tc.DownloadRateLimiter = rate.NewLimiter(rate.Limit(cfg.DownloadRateLimit), rateLimitBurst)
	}
	client, err := torrent.NewClient(tc)
	if err != nil {
		return nil, err
	}
	return &Engine{
		config:   cfg,
		client:   client,
		log:      logger.New("anacrolix engine"),
		sessions: make(map[[20]byte]*Session),
		closeC:   make(chan struct{}),
	}, nil
}

// Ready returns true until the engine is closed. The client is ready as soon as New returns.
func (e *Engine) Ready() bool {
	e.m.Lock()
	defer e.m.Unlock()
	return !e.closed
}

func (e *Engine) Open(spec engine.Spec) (engine.Session, error) {
	e.m.Lock()
	defer e.m.Unlock()
	if e.closed {
		return nil, errClosed
	}
	if s, ok := e.sessions[spec.InfoHash]; ok {
		return s, nil
	}
	mi, err := metainfo.Load(bytes.NewReader(spec.MetaInfo))
	if err != nil {
		return nil, err
	}
	s := &Session{
		engine: e,
		spec:   spec,
		mi:     mi,
		bus:    eventbus.New[notification](e.log),
		dir:    spec.SaveDir,
		state:  engine.Stopped,
		stopC:  make(chan struct{}),
	}
	err = s.add()
	if err != nil {
		return nil, err
	}
	e.sessions[spec.InfoHash] = s
	go s.poll()
	return s, nil
}

// Close notifies all sessions that the engine is stopping and closes the client.
func (e *Engine) Close() error {
	e.m.Lock()
	if e.closed {
		e.m.Unlock()
		return nil
	}
	e.closed = true
	close(e.closeC)
	sessions := make([]*Session, 0, len(e.sessions))
	for _, s := range e.sessions {
		sessions = append(sessions, s)
	}
	e.m.Unlock()

	for _, s := range sessions {
		s.bus.Publish(func(l engine.Listener) { l.EngineStopping() })
		_ = s.Stop()
	}
	e.client.Close()
	return nil
}

func (e *Engine) remove(s *Session) {
	e.m.Lock()
	if e.sessions[s.spec.InfoHash] == s {
		delete(e.sessions, s.spec.InfoHash)
	}
	e.m.Unlock()
}

type notification func(l engine.Listener)

// Session implements engine.Session over a *torrent.Torrent.
type Session struct {
	engine *Engine
	spec   engine.Spec
	mi     *metainfo.MetaInfo
	bus    *eventbus.Bus[notification]

	m         sync.Mutex
	t         *torrent.Torrent
	dir       string
	state     engine.State
	listeners map[engine.Listener]func()
	removed   bool
	stopC     chan struct{}
	// Cumulative counters of the torrent at the last SetWaiting.
	base engine.Stats
	// Last poll.
	last     engine.Stats
	lastTime time.Time
	rates    struct{ receive, send int64 }
}

var _ engine.Session = (*Session)(nil)

// add adds the torrent to the client with file storage in s.dir. Must be called with s.m held or before s is shared.
func (s *Session) add() error {
	ts := torrent.TorrentSpecFromMetaInfo(s.mi)
	ts.Storage = storage.NewFile(s.dir)
	t, _, err := s.engine.client.AddTorrentSpec(ts)
	if err != nil {
		return err
	}
	t.DisallowDataDownload()
	s.t = t
	return nil
}

func (s *Session) AddListener(l engine.Listener) {
	s.m.Lock()
	defer s.m.Unlock()
	if s.listeners == nil {
		s.listeners = make(map[engine.Listener]func())
	}
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

func (s *Session) State() engine.State {
	s.m.Lock()
	defer s.m.Unlock()
	return s.state
}

func (s *Session) setStateLocked(st engine.State) {
	if s.state == st {
		return
	}
	s.state = st
	s.bus.Enqueue(func(l engine.Listener) { l.StateChanged(st) })
}

func (s *Session) setState(st engine.State) {
	s.m.Lock()
	s.setStateLocked(st)
	s.m.Unlock()
	s.bus.Flush()
}

func (s *Session) SetWaiting() {
	s.m.Lock()
	if s.removed {
		s.m.Unlock()
		return
	}
	s.base = s.cumulativeLocked()
	s.last = s.base
	s.lastTime = time.Now()
	s.rates.receive, s.rates.send = 0, 0
	s.setStateLocked(engine.Waiting)
	s.m.Unlock()
	s.bus.Flush()
}

// Initialize waits for the info of the torrent in background.
func (s *Session) Initialize() {
	s.m.Lock()
	if s.removed || s.state != engine.Waiting {
		s.m.Unlock()
		return
	}
	s.setStateLocked(engine.Initializing)
	t := s.t
	s.m.Unlock()
	s.bus.Flush()

	go func() {
		timeout := time.NewTimer(s.engine.config.ReadyTimeout)
		defer timeout.Stop()
		select {
		case <-t.GotInfo():
		case <-timeout.C:
			s.engine.log.Warningln("timeout waiting info of", s.spec.Name)
			s.setState(engine.Error)
			return
		case <-s.stopC:
			return
		}
		s.m.Lock()
		if s.state == engine.Initializing {
			s.setStateLocked(engine.Initialized)
			s.setStateLocked(engine.Ready)
		}
		s.m.Unlock()
		s.bus.Flush()
	}()
}

func (s *Session) StartDownload() {
	s.m.Lock()
	if s.removed || s.t.Info() == nil {
		s.m.Unlock()
		return
	}
	s.t.AllowDataDownload()
	s.t.DownloadAll()
	if s.completeLocked() {
		s.setStateLocked(engine.Seeding)
	} else {
		s.setStateLocked(engine.Downloading)
	}
	s.m.Unlock()
	s.bus.Flush()
}

func (s *Session) Stop() error {
	s.m.Lock()
	if s.removed {
		s.m.Unlock()
		return errors.New("session is removed")
	}
	s.t.DisallowDataDownload()
	s.rates.receive, s.rates.send = 0, 0
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
	close(s.stopC)
	s.t.Drop()
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

// MoveData drops the torrent from the client, moves the files and adds it back with storage in dir.
func (s *Session) MoveData(dir string) error {
	s.m.Lock()
	defer s.m.Unlock()
	if s.removed {
		return errors.New("session is removed")
	}
	src := filepath.Join(s.dir, s.spec.Name)
	s.t.Drop()
	_, err := relocator.Move(src, dir)
	if err == nil {
		s.dir = dir
	}
	if err2 := s.add(); err2 != nil {
		return err2
	}
	if s.state == engine.Downloading || s.state == engine.Seeding {
		s.t.AllowDataDownload()
		s.t.DownloadAll()
	}
	return err
}

func (s *Session) SaveLocation() string {
	s.m.Lock()
	defer s.m.Unlock()
	return filepath.Join(s.dir, s.spec.Name)
}

func (s *Session) Complete() bool {
	s.m.Lock()
	defer s.m.Unlock()
	return s.completeLocked()
}

func (s *Session) completeLocked() bool {
	return s.t.Info() != nil && s.t.BytesCompleted() == s.t.Length()
}

// cumulativeLocked returns counters of the torrent since it is added to the client.
func (s *Session) cumulativeLocked() engine.Stats {
	ts := s.t.Stats()
	var st engine.Stats
	st.BytesReceived = ts.BytesReadUsefulData.Int64()
	st.BytesSent = ts.BytesWrittenData.Int64()
	st.BytesDiscarded = ts.BytesReadData.Int64() - st.BytesReceived
	st.Peers = ts.ActivePeers
	st.Seeds = ts.ConnectedSeeders
	if s.t.Info() != nil {
		st.BytesTotal = s.t.Length()
		st.BytesCompleted = s.t.BytesCompleted()
	}
	return st
}

// Stats returns counters since the last SetWaiting.
func (s *Session) Stats() engine.Stats {
	s.m.Lock()
	defer s.m.Unlock()
	st := s.cumulativeLocked()
	st.BytesReceived -= s.base.BytesReceived
	st.BytesSent -= s.base.BytesSent
	st.BytesDiscarded -= s.base.BytesDiscarded
	st.ReceiveRate = s.rates.receive
	st.SendRate = s.rates.send
	return st
}

func (s *Session) poll() {
	ticker := time.NewTicker(s.engine.config.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.update()
		case <-s.stopC:
			return
		case <-s.engine.closeC:
			return
		}
	}
}

// update computes speeds and sends notifications for the changes since the last poll.
func (s *Session) update() {
	s.m.Lock()
	if s.removed {
		s.m.Unlock()
		return
	}
	now := time.Now()
	cur := s.cumulativeLocked()
	if s.state == engine.Downloading || s.state == engine.Seeding {
		if dt := now.Sub(s.lastTime); dt > 0 && !s.lastTime.IsZero() {
			s.rates.receive = (cur.BytesReceived - s.last.BytesReceived) * int64(time.Second) / int64(dt)
			s.rates.send = (cur.BytesSent - s.last.BytesSent) * int64(time.Second) / int64(dt)
		}
	}
	for i := s.last.Peers; i < cur.Peers; i++ {
		s.bus.Enqueue(func(l engine.Listener) { l.PeerAdded(engine.Peer{}) })
	}
	for i := cur.Peers; i < s.last.Peers; i++ {
		s.bus.Enqueue(func(l engine.Listener) { l.PeerRemoved(engine.Peer{}) })
	}
	if s.state == engine.Downloading && s.completeLocked() {
		s.setStateLocked(engine.Finishing)
		s.bus.Enqueue(func(l engine.Listener) { l.DownloadComplete() })
		s.setStateLocked(engine.Seeding)
	}
	s.last = cur
	s.lastTime = now
	s.m.Unlock()
	s.bus.Flush()
}
