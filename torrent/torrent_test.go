package torrent

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/cenkalti/steward/engine"
	"github.com/cenkalti/steward/engine/simengine"
	"github.com/cenkalti/steward/internal/admission"
	"github.com/cenkalti/steward/internal/diskqueue"
	"github.com/cenkalti/steward/internal/resumer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	waitFor = 2 * time.Second
	tick    = time.Millisecond
)

var testHash = [20]byte{0xde, 0xad, 0xbe, 0xef}

func testConfig() Config {
	cfg := DefaultConfig
	cfg.EngineRetryInitialInterval = time.Millisecond
	cfg.EngineRetryMaxInterval = 5 * time.Millisecond
	cfg.EngineRetryMaxTries = 3
	return cfg
}

type resumeState struct {
	stats         resumer.Stats
	started       bool
	saveLocation  string
	finalLocation string
	completed     bool
}

type testResumer struct {
	m sync.Mutex
	s resumeState
}

func (r *testResumer) WriteStats(s resumer.Stats) error {
	r.m.Lock()
	r.s.stats = s
	r.m.Unlock()
	return nil
}

func (r *testResumer) WriteStarted(value bool) error {
	r.m.Lock()
	r.s.started = value
	r.m.Unlock()
	return nil
}

func (r *testResumer) WriteSaveLocation(dir string) error {
	r.m.Lock()
	r.s.saveLocation = dir
	r.m.Unlock()
	return nil
}

func (r *testResumer) WriteCompleted(finalLocation string) error {
	r.m.Lock()
	r.s.completed = true
	r.s.finalLocation = finalLocation
	r.m.Unlock()
	return nil
}

func (r *testResumer) get() resumeState {
	r.m.Lock()
	defer r.m.Unlock()
	return r.s
}

type eventRecorder struct {
	m      sync.Mutex
	events []Event
}

func (r *eventRecorder) add(e Event) {
	r.m.Lock()
	r.events = append(r.events, e)
	r.m.Unlock()
}

func (r *eventRecorder) Events() []Event {
	r.m.Lock()
	defer r.m.Unlock()
	return append([]Event(nil), r.events...)
}

func (r *eventRecorder) Types() []EventType {
	var types []EventType
	for _, e := range r.Events() {
		types = append(types, e.Type)
	}
	return types
}

type fixture struct {
	t        *testing.T
	torrent  *torrent
	resumer  *testResumer
	events   *eventRecorder
	m        sync.Mutex
	reported []error
}

func newFixture(t *testing.T, eng engine.Engine, cfg Config, pol admission.Policy) *fixture {
	pool := diskqueue.NewPool(2)
	t.Cleanup(pool.Close)
	f := &fixture{
		t:       t,
		resumer: new(testResumer),
		events:  new(eventRecorder),
	}
	f.torrent = newTorrent(options{
		ID:        "test",
		InfoHash:  testHash,
		Name:      "data",
		AddedAt:   time.Now(),
		SaveDir:   filepath.Join(t.TempDir(), "incomplete"),
		Config:    &cfg,
		Engine:    eng,
		Lane:      pool.NewLane(),
		Resumer:   f.resumer,
		Admission: pol,
		OnDiskError: func(err error) {
			f.m.Lock()
			f.reported = append(f.reported, err)
			f.m.Unlock()
		},
	})
	f.torrent.AddEventListener(f.events.add)
	return f
}

func (f *fixture) Reported() []error {
	f.m.Lock()
	defer f.m.Unlock()
	return append([]error(nil), f.reported...)
}

func (f *fixture) waitState(s State) {
	f.t.Helper()
	require.Eventually(f.t, func() bool { return f.torrent.State() == s }, waitFor, tick, "waiting for %s, state is %s", s, f.torrent.State())
}

func (f *fixture) waitEvents(types ...EventType) {
	f.t.Helper()
	require.Eventually(f.t, func() bool { return assert.ObjectsAreEqual(types, f.events.Types()) }, waitFor, tick, "events: %v", f.events.Types())
}

// session waits until the engine session is opened and returns it.
func (f *fixture) session(eng *simengine.Engine) *simengine.Session {
	f.t.Helper()
	require.Eventually(f.t, func() bool { return eng.Session(testHash) != nil }, waitFor, tick)
	return eng.Session(testHash)
}

// waitLane waits until the tasks submitted to the lane of tor so far have run.
func waitLane(t *testing.T, tor *torrent) {
	t.Helper()
	done := make(chan struct{})
	require.NoError(t, tor.lane.Submit(func(context.Context) { close(done) }))
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatal("lane is blocked")
	}
}

// returnsIn fails the test if fn does not return in time.
func returnsIn(t *testing.T, name string, fn func()) {
	t.Helper()
	done := make(chan struct{})
	go func() {
		fn()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(waitFor):
		t.Fatalf("%s did not return", name)
	}
}

func TestDownloadCompleteAndMove(t *testing.T) {
	ecfg := simengine.DefaultConfig
	ecfg.WriteFiles = true
	eng := simengine.New(ecfg)
	f := newFixture(t, eng, testConfig(), nil)
	dst := filepath.Join(t.TempDir(), "complete")
	require.NoError(t, f.torrent.SetSaveLocation(dst))
	assert.Equal(t, dst, f.resumer.get().saveLocation)

	require.NoError(t, f.torrent.Start())
	f.waitState(Downloading)
	f.waitEvents(EventStarting, EventStarted, EventDownloading)
	assert.True(t, f.resumer.get().started)
	assert.False(t, f.torrent.IsComplete())

	ses := f.session(eng)
	require.NoError(t, ses.SetComplete())
	f.waitState(Seeding)
	want := filepath.Join(dst, "data")
	require.Eventually(t, func() bool { return f.torrent.FinalLocation() == want }, waitFor, tick)
	f.waitEvents(EventStarting, EventStarted, EventDownloading, EventComplete)

	_, err := os.Stat(want)
	assert.NoError(t, err)
	assert.True(t, f.torrent.IsComplete())
	r := f.resumer.get()
	assert.True(t, r.completed)
	assert.Equal(t, want, r.finalLocation)
	assert.Error(t, f.torrent.SetSaveLocation(t.TempDir()))

	for i, e := range f.events.Events() {
		assert.Equal(t, uint64(i+1), e.Seq)
		assert.Equal(t, "test", e.TorrentID)
	}
}

func TestStopSeedingOnCompletion(t *testing.T) {
	eng := simengine.New(simengine.DefaultConfig)
	cfg := testConfig()
	cfg.SeedFinishedTorrents = false
	f := newFixture(t, eng, cfg, nil)
	require.NoError(t, f.torrent.Start())
	f.waitState(Downloading)
	ses := f.session(eng)
	ses.Transfer(1000, 0, 0)
	require.NoError(t, ses.SetComplete())

	f.waitEvents(EventStarting, EventStarted, EventDownloading, EventComplete, EventStopSeeding)
	assert.Equal(t, Seeding, f.torrent.State())
	assert.True(t, ses.Removed())
	assert.Nil(t, eng.Session(testHash))
	assert.True(t, f.torrent.IsComplete())
	assert.Equal(t, ses.Stats().BytesReceived, f.torrent.TotalDownloaded())
	assert.Equal(t, f.torrent.TotalDownloaded(), f.resumer.get().stats.BytesDownloaded)
}

func TestPauseResumeKeepsCounters(t *testing.T) {
	eng := simengine.New(simengine.DefaultConfig)
	f := newFixture(t, eng, testConfig(), nil)
	require.NoError(t, f.torrent.Start())
	f.waitState(Downloading)
	ses := f.session(eng)

	ses.Transfer(100, 40, 5)
	assert.Equal(t, int64(100), f.torrent.TotalDownloaded())
	assert.Equal(t, int64(40), f.torrent.TotalUploaded())
	assert.Equal(t, int64(5), f.torrent.AmountLost())
	assert.InDelta(t, 0.4, f.torrent.Ratio(), 1e-9)

	f.torrent.Pause()
	assert.Equal(t, Paused, f.torrent.State())
	assert.True(t, f.torrent.IsPaused())
	assert.Equal(t, engine.Stopped, ses.State())
	assert.False(t, f.resumer.get().started)
	assert.Equal(t, int64(100), f.resumer.get().stats.BytesDownloaded)

	// Counters of a stopped session are not live.
	ses.Transfer(30, 0, 0)
	assert.Equal(t, int64(100), f.torrent.TotalDownloaded())

	// Pausing again has no effect.
	f.torrent.Pause()
	assert.Equal(t, Paused, f.torrent.State())

	require.True(t, f.torrent.Resume())
	f.waitState(Downloading)
	assert.True(t, f.resumer.get().started)
	assert.Equal(t, int64(100), f.torrent.TotalDownloaded())
	ses.Transfer(50, 10, 0)
	assert.Equal(t, int64(150), f.torrent.TotalDownloaded())
	assert.Equal(t, int64(50), f.torrent.TotalUploaded())

	require.NoError(t, f.torrent.Stop())
	assert.Equal(t, Stopped, f.torrent.State())
	assert.Equal(t, int64(150), f.torrent.TotalDownloaded())
	assert.Equal(t, int64(150), f.resumer.get().stats.BytesDownloaded)
}

func TestPauseQueued(t *testing.T) {
	f := newFixture(t, simengine.New(simengine.DefaultConfig), testConfig(), nil)
	f.torrent.Pause()
	assert.Equal(t, Paused, f.torrent.State())
	assert.Empty(t, f.events.Events())
	assert.True(t, f.torrent.Resume())
	assert.Equal(t, Queued, f.torrent.State())
	assert.False(t, f.torrent.Resume())
}

func TestDiskFaultReportedOnce(t *testing.T) {
	eng := simengine.New(simengine.DefaultConfig)
	f := newFixture(t, eng, testConfig(), nil)
	require.NoError(t, f.torrent.Start())
	f.waitState(Downloading)
	ses := f.session(eng)

	cause := errors.New("no space left on device")
	ses.FaultDisk(cause)
	f.waitState(DiskProblem)
	require.Eventually(t, func() bool { return ses.State() == engine.Stopped }, waitFor, tick)
	ses.FaultDisk(errors.New("another error"))

	assert.Equal(t, DiskProblem, f.torrent.State())
	assert.False(t, f.torrent.IsComplete())
	assert.False(t, f.torrent.Resume())
	reported := f.Reported()
	require.Len(t, reported, 1)
	var de *DiskError
	require.True(t, errors.As(reported[0], &de))
	assert.Equal(t, "test", de.TorrentID)
	assert.True(t, errors.Is(reported[0], cause))
	f.waitEvents(EventStarting, EventStarted, EventDownloading, EventStopped)
}

func TestDiskFaultAfterCompletion(t *testing.T) {
	eng := simengine.New(simengine.DefaultConfig)
	cfg := testConfig()
	cfg.ReportDiskProblems = false
	f := newFixture(t, eng, cfg, nil)
	require.NoError(t, f.torrent.Start())
	f.waitState(Downloading)
	ses := f.session(eng)
	require.NoError(t, ses.SetComplete())
	f.waitState(Seeding)
	assert.True(t, f.torrent.IsComplete())

	ses.FaultDisk(errors.New("read error"))
	f.waitState(DiskProblem)
	assert.False(t, f.torrent.IsComplete())
	assert.Empty(t, f.Reported())
}

func TestIllegalCommands(t *testing.T) {
	f := newFixture(t, simengine.New(simengine.DefaultConfig), testConfig(), nil)

	err := f.torrent.Stop()
	var ise *IllegalStateError
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, Queued, ise.State)
	assert.Equal(t, "stop", ise.Op)
	assert.Equal(t, Queued, f.torrent.State())

	require.NoError(t, f.torrent.Start())
	err = f.torrent.Start()
	require.True(t, errors.As(err, &ise))
	assert.Equal(t, "start", ise.Op)
	assert.Error(t, f.torrent.SetSaveLocation(""))
}

func TestDestroy(t *testing.T) {
	eng := simengine.New(simengine.DefaultConfig)
	f := newFixture(t, eng, testConfig(), nil)
	require.NoError(t, f.torrent.Start())
	f.waitState(Downloading)
	ses := f.session(eng)

	f.torrent.Destroy()
	assert.True(t, ses.Removed())
	assert.Nil(t, eng.Session(testHash))
	f.torrent.Destroy()
	assert.Equal(t, Downloading, f.torrent.State())
	cur, _ := f.torrent.currentSession()
	assert.Nil(t, cur)
}

func TestDestroyKeepsCompletedSession(t *testing.T) {
	eng := simengine.New(simengine.DefaultConfig)
	f := newFixture(t, eng, testConfig(), nil)
	require.NoError(t, f.torrent.Start())
	f.waitState(Downloading)
	ses := f.session(eng)
	require.NoError(t, ses.SetComplete())
	require.Eventually(t, func() bool { return f.torrent.FinalLocation() != "" }, waitFor, tick)

	f.torrent.Destroy()
	assert.False(t, ses.Removed())
	assert.Zero(t, ses.Listeners())
}

func TestRemoveData(t *testing.T) {
	ecfg := simengine.DefaultConfig
	ecfg.WriteFiles = true
	eng := simengine.New(ecfg)
	f := newFixture(t, eng, testConfig(), nil)
	require.NoError(t, f.torrent.Start())
	f.waitState(Downloading)
	ses := f.session(eng)
	require.NoError(t, ses.SetComplete())
	require.Eventually(t, func() bool { return f.torrent.FinalLocation() != "" }, waitFor, tick)
	final := f.torrent.FinalLocation()

	require.NoError(t, f.torrent.RemoveData())
	assert.True(t, ses.Removed())
	_, err := os.Stat(final)
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, f.torrent.RemoveData())
}

func TestStoppedBeforeActivityIgnored(t *testing.T) {
	ecfg := simengine.DefaultConfig
	ecfg.Auto = false
	eng := simengine.New(ecfg)
	f := newFixture(t, eng, testConfig(), nil)
	require.NoError(t, f.torrent.Start())
	ses := f.session(eng)
	require.Eventually(t, func() bool { return ses.State() == engine.Initializing }, waitFor, tick)

	// Residue of a previous run.
	ses.SetState(engine.Stopped)
	assert.Equal(t, Starting, f.torrent.State())

	ses.SetState(engine.Initialized)
	f.waitState(WaitingForTracker)
	ses.SetState(engine.Ready)
	f.waitState(Downloading)

	ses.SetState(engine.Stopped)
	f.waitState(Stopped)
	f.waitEvents(EventStarting, EventStarted, EventDownloading, EventStopped)
}

func TestEngineStoppingPauses(t *testing.T) {
	eng := simengine.New(simengine.DefaultConfig)
	f := newFixture(t, eng, testConfig(), nil)
	require.NoError(t, f.torrent.Start())
	f.waitState(Downloading)
	ses := f.session(eng)

	require.NoError(t, eng.Close())
	f.waitState(Paused)
	f.waitEvents(EventStarting, EventStarted, EventDownloading, EventStopped)

	ses.SetState(engine.Downloading)
	ses.TrackerRequest()
	ses.FaultDisk(errors.New("disk error"))
	assert.Equal(t, Paused, f.torrent.State())
	assert.Empty(t, f.Reported())
	// The torrent is started again by the next session.
	assert.True(t, f.resumer.get().started)
}

func TestEngineStoppingWhileSeeding(t *testing.T) {
	eng := simengine.New(simengine.DefaultConfig)
	f := newFixture(t, eng, testConfig(), nil)
	require.NoError(t, f.torrent.Start())
	f.waitState(Downloading)
	require.NoError(t, f.session(eng).SetComplete())
	f.waitState(Seeding)

	require.NoError(t, eng.Close())
	assert.Equal(t, Seeding, f.torrent.State())
	assert.False(t, f.torrent.IsPaused())
}

func TestTrackerFailure(t *testing.T) {
	ecfg := simengine.DefaultConfig
	ecfg.Auto = false
	eng := simengine.New(ecfg)
	f := newFixture(t, eng, testConfig(), nil)
	require.NoError(t, f.torrent.Start())
	ses := f.session(eng)
	require.Eventually(t, func() bool { return ses.State() == engine.Initializing }, waitFor, tick)

	ses.SetState(engine.Initialized)
	f.waitState(WaitingForTracker)
	ses.TrackerRequest()
	f.waitState(Scraping)
	ses.TrackerRequestFailed(errors.New("timeout"))
	f.waitState(WaitingForTracker)
	ses.TrackerRequest()
	f.waitState(Scraping)
	f.torrent.AddEndpoint("10.0.0.1:6881")
	assert.Equal(t, Connecting, f.torrent.State())

	ses.TrackerFailed(errors.New("no tracker"))
	f.waitState(TrackerFailure)
	require.Eventually(t, func() bool { return ses.State() == engine.Stopped }, waitFor, tick)
	assert.Equal(t, TrackerFailure, f.torrent.State())

	require.True(t, f.torrent.Resume())
	f.waitState(Starting)
	require.Eventually(t, func() bool { return ses.State() == engine.Initializing }, waitFor, tick)
}

func TestEngineNotReady(t *testing.T) {
	eng := simengine.New(simengine.DefaultConfig)
	eng.SetReady(false)
	f := newFixture(t, eng, testConfig(), nil)
	require.NoError(t, f.torrent.Start())
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, Starting, f.torrent.State())
	assert.Nil(t, eng.Session(testHash))
	assert.Zero(t, eng.OpenAttempts())
}

func TestEngineRetry(t *testing.T) {
	eng := simengine.New(simengine.DefaultConfig)
	eng.SetOpenError(engine.ErrNotReady)
	cfg := testConfig()
	cfg.EngineRetryMaxTries = 1000
	f := newFixture(t, eng, cfg, nil)
	require.NoError(t, f.torrent.Start())
	require.Eventually(t, func() bool { return eng.OpenAttempts() >= 2 }, waitFor, tick)
	eng.SetOpenError(nil)
	f.waitState(Downloading)
}

func TestConnections(t *testing.T) {
	ecfg := simengine.DefaultConfig
	ecfg.Auto = false
	eng := simengine.New(ecfg)
	cfg := testConfig()
	cfg.MaxConnections = 2
	cfg.AcceptsIncoming = false
	f := newFixture(t, eng, cfg, admission.Limit{})
	c1 := admission.Candidate{Addr: "10.0.0.1:6881"}
	c2 := admission.Candidate{Addr: "10.0.0.2:6881", Incoming: true}

	assert.False(t, f.torrent.NeedsMoreConnections())
	assert.False(t, f.torrent.AddConnection(c1))

	require.NoError(t, f.torrent.Start())
	ses := f.session(eng)
	require.Eventually(t, func() bool { return ses.State() == engine.Initializing }, waitFor, tick)
	ses.SetState(engine.Initialized)
	f.waitState(WaitingForTracker)
	assert.True(t, f.torrent.NeedsMoreConnections())
	assert.True(t, f.torrent.ShouldAddConnection(c1))

	assert.True(t, f.torrent.AddConnection(c1))
	assert.Equal(t, Downloading, f.torrent.State())
	ses.SetState(engine.Downloading)
	assert.False(t, f.torrent.ShouldAddConnection(c1))
	assert.True(t, f.torrent.AddConnection(c2))
	assert.False(t, f.torrent.NeedsMoreConnections())
	assert.Equal(t, 2, f.torrent.Stats().Links)

	f.torrent.LinkClosed(c1.Addr)
	f.torrent.LinkClosed(c2.Addr)
	assert.True(t, f.torrent.ShouldStop())

	ses.AddPeer("10.0.0.3:6881", true)
	assert.Equal(t, 1, f.torrent.CountPeers())
	assert.Equal(t, 1, f.torrent.CountSeeds())
	assert.False(t, f.torrent.ShouldStop())

	ses.SetStats(engine.Stats{Peers: 3, NonInterestingPeers: 1, UnchokingPeers: 1, ReceiveRate: 4096, SendRate: 2048})
	assert.Equal(t, 2, f.torrent.ChokingPeers())
	assert.Equal(t, 1, f.torrent.NonInterestingPeers())
	assert.True(t, f.torrent.IsUploading())
	assert.InDelta(t, 4.0, f.torrent.MeasuredBandwidth(true), 1e-9)
	assert.InDelta(t, 2.0, f.torrent.MeasuredBandwidth(false), 1e-9)

	st := f.torrent.Stats()
	assert.Equal(t, 3, st.Peers.Total)
	assert.Equal(t, int64(4096), st.Speed.Download)
	assert.Equal(t, "deadbeef00000000000000000000000000000000", st.InfoHash)
}

func TestDeferredAdmission(t *testing.T) {
	f := newFixture(t, simengine.New(simengine.DefaultConfig), testConfig(), nil)
	require.NoError(t, f.torrent.Start())
	f.waitState(Downloading)
	assert.False(t, f.torrent.NeedsMoreConnections())
	assert.False(t, f.torrent.ShouldAddConnection(admission.Candidate{Addr: "10.0.0.1:6881"}))
}

func TestListenerPanicIsolated(t *testing.T) {
	eng := simengine.New(simengine.DefaultConfig)
	f := newFixture(t, eng, testConfig(), nil)
	f.torrent.AddEventListener(func(Event) { panic("listener bug") })
	require.NoError(t, f.torrent.Start())
	f.waitState(Downloading)
	f.waitEvents(EventStarting, EventStarted, EventDownloading)
}

func TestListenerCanCallCommands(t *testing.T) {
	eng := simengine.New(simengine.DefaultConfig)
	f := newFixture(t, eng, testConfig(), nil)
	f.torrent.AddEventListener(func(e Event) {
		if e.Type == EventDownloading {
			f.torrent.Pause()
		}
	})
	require.NoError(t, f.torrent.Start())
	f.waitState(Paused)
	f.waitEvents(EventStarting, EventStarted, EventDownloading, EventStopped)
}

func TestListenerReadsCountersOnStop(t *testing.T) {
	eng := simengine.New(simengine.DefaultConfig)
	f := newFixture(t, eng, testConfig(), nil)
	var m sync.Mutex
	var seen []int64
	f.torrent.AddEventListener(func(e Event) {
		if e.Type != EventStopped {
			return
		}
		st := f.torrent.Stats()
		m.Lock()
		seen = append(seen, f.torrent.TotalDownloaded(), st.Bytes.Downloaded)
		m.Unlock()
	})
	require.NoError(t, f.torrent.Start())
	f.waitState(Downloading)
	ses := f.session(eng)
	ses.Transfer(100, 0, 0)

	returnsIn(t, "pause", f.torrent.Pause)
	assert.Equal(t, Paused, f.torrent.State())

	require.True(t, f.torrent.Resume())
	f.waitState(Downloading)
	ses.Transfer(50, 0, 0)
	returnsIn(t, "stop", func() { assert.NoError(t, f.torrent.Stop()) })
	assert.Equal(t, Stopped, f.torrent.State())

	m.Lock()
	defer m.Unlock()
	assert.Equal(t, []int64{100, 100, 150, 150}, seen)
}

func TestDestroyWhileStartRetries(t *testing.T) {
	eng := simengine.New(simengine.DefaultConfig)
	eng.SetOpenError(engine.ErrNotReady)
	cfg := testConfig()
	cfg.EngineRetryMaxTries = 1000
	cfg.EngineRetryMaxInterval = time.Minute
	f := newFixture(t, eng, cfg, nil)
	require.NoError(t, f.torrent.Start())
	require.Eventually(t, func() bool { return eng.OpenAttempts() >= 1 }, waitFor, tick)

	f.torrent.Destroy()
	eng.SetOpenError(nil)
	// The retry is interrupted, so the lane is not held until the next try.
	waitLane(t, f.torrent)

	assert.Nil(t, eng.Session(testHash))
	assert.Equal(t, Starting, f.torrent.State())
	cur, _ := f.torrent.currentSession()
	assert.Nil(t, cur)
}

func TestDestroyWhileEngineNotReady(t *testing.T) {
	eng := simengine.New(simengine.DefaultConfig)
	eng.SetReady(false)
	cfg := testConfig()
	cfg.EngineRetryMaxTries = 1000
	f := newFixture(t, eng, cfg, nil)
	require.NoError(t, f.torrent.Start())
	time.Sleep(20 * time.Millisecond)

	f.torrent.Destroy()
	eng.SetReady(true)
	waitLane(t, f.torrent)

	assert.Nil(t, eng.Session(testHash))
	assert.Zero(t, eng.OpenAttempts())
	assert.Equal(t, []EventType{EventStarting}, f.events.Types())
}
