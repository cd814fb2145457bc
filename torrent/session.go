package torrent

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cenkalti/steward/engine"
	"github.com/cenkalti/steward/internal/admission"
	"github.com/cenkalti/steward/internal/diskqueue"
	"github.com/cenkalti/steward/internal/logger"
	"github.com/cenkalti/steward/internal/resumer/boltdbresumer"
	"github.com/google/btree"
	bolt "go.etcd.io/bbolt"
	"go.uber.org/multierr"
)

var torrentsBucket = []byte("torrents")

// Session contains the torrents of a process and the resources they share:
// the engine, the disk task pool and the resume database.
type Session struct {
	config    Config
	engine    engine.Engine
	db        *bolt.DB
	resumer   *boltdbresumer.Resumer
	pool      *diskqueue.Pool
	log       logger.Logger
	rpc       *rpcServer
	metrics   *sessionMetrics
	createdAt time.Time
	errC      chan error
	closeC    chan struct{}
	wg        sync.WaitGroup

	mTorrents          sync.RWMutex
	torrents           map[string]*Torrent
	torrentsByInfoHash map[InfoHash]*Torrent
	ordered            *btree.BTreeG[*Torrent]
	closed             bool
}

// NewSession opens the resume database, loads existing torrents and starts the RPC server if enabled.
func NewSession(cfg Config, eng engine.Engine) (*Session, error) {
	if eng == nil {
		return nil, errors.New("nil engine")
	}
	err := cfg.validate()
	if err != nil {
		return nil, err
	}
	err = cfg.expandPaths()
	if err != nil {
		return nil, err
	}
	err = os.MkdirAll(filepath.Dir(cfg.Database), 0750)
	if err != nil {
		return nil, err
	}
	err = os.MkdirAll(cfg.DataDir, 0750)
	if err != nil {
		return nil, err
	}
	l := logger.New("session")
	db, err := bolt.Open(cfg.Database, 0640, &bolt.Options{Timeout: time.Second})
	if err == bolt.ErrTimeout {
		return nil, errors.New("resume database is locked by another process")
	} else if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			db.Close()
		}
	}()
	res, err := boltdbresumer.New(db, torrentsBucket)
	if err != nil {
		return nil, err
	}
	s := &Session{
		config:             cfg,
		engine:             eng,
		db:                 db,
		resumer:            res,
		pool:               diskqueue.NewPool(cfg.DiskWorkers),
		log:                l,
		createdAt:          time.Now(),
		errC:               make(chan error, 100),
		closeC:             make(chan struct{}),
		torrents:           make(map[string]*Torrent),
		torrentsByInfoHash: make(map[InfoHash]*Torrent),
		ordered:            btree.NewG(2, lessTorrent),
	}
	s.initMetrics()
	s.loadExistingTorrents()
	if s.config.RPCEnabled {
		s.rpc = newRPCServer(s)
		err = s.rpc.Start(s.config.RPCHost, s.config.RPCPort)
		if err != nil {
			s.pool.Close()
			s.metrics.Close()
			return nil, err
		}
	}
	s.wg.Add(1)
	go s.updateStatsLoop()
	return s, nil
}

func lessTorrent(a, b *Torrent) bool {
	if !a.torrent.addedAt.Equal(b.torrent.addedAt) {
		return a.torrent.addedAt.Before(b.torrent.addedAt)
	}
	return a.torrent.id < b.torrent.id
}

// Errors returns the channel of errors that are not returned from any call, like disk faults.
// The channel has a small buffer. Errors are dropped if nobody reads it.
func (s *Session) Errors() <-chan error {
	return s.errC
}

func (s *Session) reportError(err error) {
	select {
	case s.errC <- err:
	default:
		s.log.Warningln("error channel is full, dropping error:", err)
	}
}

func (s *Session) newTorrent(o options) *torrent {
	o.Config = &s.config
	o.Engine = s.engine
	o.Lane = s.pool.NewLane()
	o.Resumer = s.resumer.For(o.ID)
	o.Metrics = s.metrics.torrent
	o.OnDiskError = s.reportError
	if s.config.ManageConnections {
		o.Admission = admission.Limit{}
	}
	id := o.ID
	o.OthersDownloading = func() bool { return s.othersDownloading(id) }
	return newTorrent(o)
}

// othersDownloading returns true if a torrent other than id is downloading.
func (s *Session) othersDownloading(id string) bool {
	s.mTorrents.RLock()
	defer s.mTorrents.RUnlock()
	for _, t := range s.torrents {
		if t.torrent.id != id && t.torrent.State().isDownloading() {
			return true
		}
	}
	return false
}

// insertTorrent must be called with mTorrents locked.
func (s *Session) insertTorrent(t *torrent) *Torrent {
	t2 := &Torrent{torrent: t}
	s.torrents[t.id] = t2
	s.torrentsByInfoHash[t.infoHash] = t2
	s.ordered.ReplaceOrInsert(t2)
	return t2
}

// GetTorrent returns the torrent with id. Returns nil if there is no such torrent.
func (s *Session) GetTorrent(id string) *Torrent {
	s.mTorrents.RLock()
	defer s.mTorrents.RUnlock()
	return s.torrents[id]
}

// ListTorrents returns all torrents in the order they are added.
func (s *Session) ListTorrents() []*Torrent {
	s.mTorrents.RLock()
	defer s.mTorrents.RUnlock()
	torrents := make([]*Torrent, 0, s.ordered.Len())
	s.ordered.Ascend(func(t *Torrent) bool {
		torrents = append(torrents, t)
		return true
	})
	return torrents
}

// RemoveTorrent releases the torrent from the engine and deletes its resume data.
// If deleteData is true, downloaded files are deleted too.
func (s *Session) RemoveTorrent(id string, deleteData bool) error {
	s.mTorrents.Lock()
	t, ok := s.torrents[id]
	if !ok {
		s.mTorrents.Unlock()
		return ErrTorrentNotFound
	}
	delete(s.torrents, id)
	delete(s.torrentsByInfoHash, t.torrent.infoHash)
	s.ordered.Delete(t)
	s.mTorrents.Unlock()

	var err error
	if deleteData {
		err = t.torrent.RemoveData()
	} else {
		t.torrent.Destroy()
	}
	return multierr.Append(err, s.resumer.Delete(id))
}

// Close stops the RPC server, releases all torrents from the engine and closes the engine and the database.
// Torrents are not destroyed. They are loaded again by the next session.
func (s *Session) Close() error {
	s.mTorrents.Lock()
	if s.closed {
		s.mTorrents.Unlock()
		return nil
	}
	s.closed = true
	s.mTorrents.Unlock()

	var err error
	if s.rpc != nil {
		err = multierr.Append(err, s.rpc.Stop(s.config.RPCShutdownTimeout))
	}
	close(s.closeC)
	s.wg.Wait()

	// Remaining tasks run with a cancelled context. Sessions they open are detached below.
	s.pool.Close()
	for _, t := range s.ListTorrents() {
		t.torrent.detach()
	}
	s.updateStats()

	err = multierr.Append(err, s.engine.Close())
	s.metrics.Close()
	err = multierr.Append(err, s.db.Close())
	return err
}
