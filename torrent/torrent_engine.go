package torrent

import (
	"context"

	"github.com/cenkalti/steward/engine"
)

// engineTriggers maps engine states to triggers.
// Waiting and Ready are handled separately because they ask for a command, not a state change.
var engineTriggers = map[engine.State]trigger{
	engine.Allocating:   trEngineStarting,
	engine.Initializing: trEngineStarting,
	engine.Initialized:  trEngineInitialized,
	engine.Checking:     trEngineChecking,
	engine.Downloading:  trEngineDownloading,
	engine.Finishing:    trEngineFinishing,
	engine.Seeding:      trEngineSeeding,
	engine.Error:        trEngineError,
	engine.Stopped:      trEngineStopped,
}

// engineListener translates every notification of one engine session into a trigger of the state machine.
type engineListener struct {
	t       *torrent
	session engine.Session
}

var _ engine.Listener = (*engineListener)(nil)

func (l *engineListener) StateChanged(s engine.State) {
	l.t.engineStateChanged(l.session, s)
}

func (l *engineListener) PeerAdded(engine.Peer)   { l.rederive() }
func (l *engineListener) PeerRemoved(engine.Peer) { l.rederive() }
func (l *engineListener) PeerManagerAdded()       { l.rederive() }
func (l *engineListener) PeerManagerRemoved()     { l.rederive() }

// Pieces are tracked by the engine.
func (l *engineListener) PieceAdded(int)   {}
func (l *engineListener) PieceRemoved(int) {}

func (l *engineListener) DownloadComplete() {
	l.t.notify(trEngineSeeding, "")
}

func (l *engineListener) DiskFault(err error) {
	l.t.diskFault(err)
}

func (l *engineListener) TrackerRequestStarted() {
	l.t.notify(trTrackerRequest, "")
}

func (l *engineListener) TrackerRequestFailed(err error) {
	l.t.notify(trTrackerRequestFailed, errString(err))
}

func (l *engineListener) TrackerFailed(err error) {
	l.t.notify(trTrackerFailed, errString(err))
}

func (l *engineListener) EngineStopping() {
	l.t.notify(trEngineStopping, "")
}

// rederive applies the current state of the session. Peer changes may arrive before the state change.
func (l *engineListener) rederive() {
	if tr, ok := engineTriggers[l.session.State()]; ok {
		l.t.notify(tr, "")
	}
}

func (t *torrent) engineStateChanged(ses engine.Session, s engine.State) {
	switch s {
	case engine.Waiting:
		t.submitCommand("initialize", ses.Initialize)
	case engine.Ready:
		t.submitCommand("start download", ses.StartDownload)
	default:
		if tr, ok := engineTriggers[s]; ok {
			t.notify(tr, s.String())
		}
	}
}

// submitCommand runs a session command on the lane, unless the torrent is stopped or destroyed by then.
func (t *torrent) submitCommand(name string, cmd func()) {
	t.submit(name, func(ctx context.Context) {
		var skip bool
		t.guard.view(func(s State, h *history) { skip = s.isStop() || h.shuttingDown() || h.destroyed() })
		if skip {
			t.log.Debugf("skipping %s command", name)
			return
		}
		cmd()
	})
}

// notify applies a trigger that comes from the engine and runs its side effects.
// Rejected triggers are stale notifications and are ignored.
func (t *torrent) notify(tr trigger, detail string) {
	defer t.bus.Flush()
	tn, ok := t.apply(tr, detail)
	if !ok {
		t.log.Debugf("ignored %s in %s state", tr, tn.from)
		return
	}
	switch tr {
	case trEngineSeeding:
		if tn.first {
			t.log.Info("download completed")
			t.submit("complete", t.completeTask)
		}
	case trTrackerFailed:
		t.log.Warningln("tracker failure:", detail)
		t.submitTeardown(TrackerFailure)
	case trEngineStopping:
		if tn.changed() {
			t.submitTeardown(Paused)
		}
	}
}

func (t *torrent) diskFault(err error) {
	defer t.bus.Flush()
	tn, ok := t.apply(trDiskFault, errString(err))
	if !ok {
		t.log.Debugln("ignored disk fault:", err)
		return
	}
	t.metrics.DiskProblems.Inc(1)
	t.log.Errorln("disk problem:", err)
	t.submitTeardown(DiskProblem)
	if tn.first && t.config.ReportDiskProblems && t.onDiskError != nil {
		t.onDiskError(&DiskError{TorrentID: t.id, err: err})
	}
}

// submitTeardown stops the session on the lane if the torrent is still in state s.
func (t *torrent) submitTeardown(s State) {
	t.submit("stop", func(ctx context.Context) {
		if cur := t.State(); cur != s {
			t.log.Debugf("not stopping session in %s state", cur)
			return
		}
		if err := t.teardown(); err != nil {
			t.log.Errorln("cannot stop engine session:", err)
		}
	})
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
