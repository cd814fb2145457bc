package torrent

import (
	"context"
	"errors"
	"os"

	"github.com/cenkalti/steward/engine"
)

// Start downloading.
// Only a Queued torrent can be started. The engine session is opened on the torrent's lane.
func (t *torrent) Start() error {
	defer t.bus.Flush()
	tn, ok := t.apply(trStart, "")
	if !ok {
		return &IllegalStateError{Op: "start", State: tn.from}
	}
	t.writeStarted(true)
	return t.lane.Submit(t.startTask)
}

// Pause the torrent. If it has a running session, the session is stopped before Pause returns.
// Pause has no effect unless the torrent is Queued or IsPausable returns true.
func (t *torrent) Pause() {
	defer t.bus.Flush()
	tn, ok := t.apply(trPause, "")
	if !ok {
		t.log.Debugf("pause has no effect in %s state", tn.from)
		return
	}
	t.writeStarted(false)
	if err := t.teardown(); err != nil {
		t.log.Errorln("cannot stop engine session:", err)
	}
}

// Resume a Paused, Stopped or TrackerFailure torrent.
// The torrent moves to Queued and its session, if any, is armed again.
// Returns false if the torrent is in another state.
func (t *torrent) Resume() bool {
	defer t.bus.Flush()
	_, ok := t.apply(trResume, "")
	if !ok {
		return false
	}
	t.writeStarted(true)
	if ses, _ := t.currentSession(); ses != nil {
		t.submit("resume", func(ctx context.Context) {
			if t.State() != Queued || t.destroyed() {
				return
			}
			t.rearm()
		})
	}
	return true
}

// Stop downloading and seeding. Only an active torrent can be stopped.
func (t *torrent) Stop() error {
	defer t.bus.Flush()
	tn, ok := t.apply(trStop, "")
	if !ok {
		return &IllegalStateError{Op: "stop", State: tn.from}
	}
	t.writeStarted(false)
	return t.teardown()
}

// Destroy releases the engine session before the torrent is discarded.
// If the torrent has never completed, the session is removed from the engine.
// The state is not changed. Calling Destroy more than once is safe.
func (t *torrent) Destroy() {
	if !t.markDestroyed() {
		return
	}
	t.release()
}

// RemoveData destroys the torrent and deletes downloaded files.
func (t *torrent) RemoveData() error {
	t.markDestroyed()
	ses := t.detach()
	if ses == nil {
		t.m.Lock()
		final := t.finalLocation
		t.m.Unlock()
		if final == "" {
			return nil
		}
		return os.RemoveAll(final)
	}
	err := ses.Remove()
	if err != nil {
		return err
	}
	return ses.RemoveData()
}

// markDestroyed returns false if the torrent is already destroyed.
func (t *torrent) markDestroyed() bool {
	if _, ok := t.apply(trDestroy, ""); !ok {
		return false
	}
	close(t.destroyC)
	return true
}

// release detaches from the engine session and removes it from the engine, unless the torrent has completed.
func (t *torrent) release() {
	var completed bool
	t.guard.view(func(_ State, h *history) { completed = h.completed() })
	ses := t.detach()
	if ses == nil || completed {
		return
	}
	if err := ses.Remove(); err != nil {
		t.log.Errorln("cannot remove session from engine:", err)
	}
}

// SetSaveLocation sets the directory that data is moved into when the download completes.
// It does not move anything before that.
func (t *torrent) SetSaveLocation(dir string) error {
	if dir == "" {
		return errors.New("empty save location")
	}
	var completed bool
	t.guard.view(func(_ State, h *history) { completed = h.completed() })
	t.m.Lock()
	if completed || t.finalLocation != "" {
		t.m.Unlock()
		return errors.New("torrent is already completed")
	}
	t.saveLocation = dir
	t.m.Unlock()
	return t.resumer.WriteSaveLocation(dir)
}

// SaveLocation returns the directory set with SetSaveLocation.
func (t *torrent) SaveLocation() string {
	t.m.Lock()
	defer t.m.Unlock()
	return t.saveLocation
}

// teardown stops the engine session if it is armed. Live counters are folded into the totals after it stops.
func (t *torrent) teardown() error {
	ses, live := t.currentSession()
	if ses == nil || !live {
		return nil
	}
	err := ses.Stop()
	t.fold(ses)
	return err
}

// rearm folds counters of the previous run and moves the session to Waiting.
// The engine restarts session counters from zero, so they become live again.
func (t *torrent) rearm() {
	ses, _ := t.currentSession()
	if ses == nil || t.destroyed() {
		return
	}
	t.fold(ses)
	ses.SetWaiting()
	t.m.Lock()
	armed := t.session == ses
	if armed {
		t.run++
		t.live = true
	}
	t.m.Unlock()
	if !armed {
		return
	}
	// Pause or Stop may have returned before the counters became live.
	if s := t.State(); s.isStop() {
		t.log.Debugf("stopping session armed in %s state", s)
		if err := t.teardown(); err != nil {
			t.log.Errorln("cannot stop engine session:", err)
		}
	}
}

// detach unregisters from the engine session and forgets it.
// Counters of the session are folded.
func (t *torrent) detach() engine.Session {
	ses, _ := t.currentSession()
	if ses == nil {
		return nil
	}
	t.fold(ses)
	var l *engineListener
	t.m.Lock()
	if t.session == ses {
		l = t.listener
		t.session = nil
		t.listener = nil
		t.live = false
	}
	t.m.Unlock()
	if l != nil {
		ses.RemoveListener(l)
	}
	return ses
}

func (t *torrent) writeStarted(value bool) {
	if err := t.resumer.WriteStarted(value); err != nil {
		t.log.Errorln("cannot write started flag:", err)
	}
}
