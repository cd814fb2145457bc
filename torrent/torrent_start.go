package torrent

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v3"
	"github.com/cenkalti/steward/engine"
)

var (
	errNoSession = errors.New("engine returned no session")
	errDestroyed = errors.New("torrent is destroyed")
)

// startTask opens the engine session of a Starting torrent and arms it.
// If the engine does not become ready in the retry budget, the torrent is left in Starting state.
// A torrent destroyed in the meantime never keeps the session.
func (t *torrent) startTask(ctx context.Context) {
	if t.destroyed() {
		return
	}
	if s := t.State(); s != Starting {
		t.log.Debugf("not starting session in %s state", s)
		return
	}
	ses, err := t.openSession(ctx)
	if t.destroyed() {
		t.log.Debug("torrent is destroyed while opening session")
		if ses != nil {
			if err := ses.Remove(); err != nil {
				t.log.Errorln("cannot remove session from engine:", err)
			}
		}
		return
	}
	if err != nil {
		t.log.Errorln("cannot open engine session:", err)
		return
	}
	t.attach(ses)
	// Destroy may have run before the session is attached.
	if t.destroyed() {
		t.release()
		return
	}
	if s := t.State(); s != Starting {
		t.log.Debugf("session opened but torrent is in %s state", s)
		return
	}
	t.log.Info("engine session is opened")
	t.rearm()
}

// openSession retries until the engine gives a session or the torrent is destroyed.
func (t *torrent) openSession(ctx context.Context) (engine.Session, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-t.destroyC:
			cancel()
		case <-ctx.Done():
		}
	}()
	var ses engine.Session
	operation := func() error {
		if t.destroyed() {
			return backoff.Permanent(errDestroyed)
		}
		if !t.engine.Ready() {
			return engine.ErrNotReady
		}
		s, err := t.engine.Open(t.spec())
		if err == engine.ErrNotReady {
			return err
		}
		if err != nil {
			return backoff.Permanent(err)
		}
		if s == nil {
			return errNoSession
		}
		ses = s
		return nil
	}
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = t.config.EngineRetryInitialInterval
	bo.MaxInterval = t.config.EngineRetryMaxInterval
	bo.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(bo, uint64(t.config.EngineRetryMaxTries)), ctx)
	notify := func(err error, d time.Duration) {
		t.log.Debugf("%s, retrying in %s", err, d)
	}
	err := backoff.RetryNotify(operation, b, notify)
	return ses, err
}

// attach registers the listener on ses unless it is already attached.
// The counters of a previous session are folded first.
func (t *torrent) attach(ses engine.Session) {
	old, _ := t.currentSession()
	if old != nil && old != ses {
		t.fold(old)
	}
	t.m.Lock()
	if t.session == ses {
		t.overwrite = false
		t.m.Unlock()
		return
	}
	l := &engineListener{t: t, session: ses}
	old, oldListener := t.session, t.listener
	t.session = ses
	t.listener = l
	t.live = false
	t.overwrite = false
	t.m.Unlock()
	if old != nil && oldListener != nil {
		old.RemoveListener(oldListener)
	}
	ses.AddListener(l)
}
