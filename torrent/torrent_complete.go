package torrent

import "context"

// completeTask runs once, when the torrent completes for the first time.
// It moves data to the save location, persists the final location and stops seeding if configured so.
func (t *torrent) completeTask(ctx context.Context) {
	ses, _ := t.currentSession()
	if ses == nil {
		return
	}
	t.m.Lock()
	dir := t.saveLocation
	t.m.Unlock()
	if dir != "" {
		t.log.Infoln("moving data to", dir)
		if err := ses.MoveData(dir); err != nil {
			t.log.Errorln("cannot move data:", err)
		}
	}
	final := ses.SaveLocation()
	t.m.Lock()
	t.finalLocation = final
	t.m.Unlock()
	if err := t.resumer.WriteCompleted(final); err != nil {
		t.log.Errorln("cannot write completion:", err)
	}
	if !t.config.SeedFinishedTorrents {
		t.stopSeeding()
	}
}

// stopSeeding removes the session from the engine. The torrent stays in Seeding state.
func (t *torrent) stopSeeding() {
	ses := t.detach()
	if ses == nil {
		return
	}
	if err := ses.Remove(); err != nil {
		t.log.Errorln("cannot remove session from engine:", err)
	}
	t.writeStats()
	t.emit(EventStopSeeding, "")
}

// FinalLocation returns the path of data after completion. Empty if not completed yet.
func (t *torrent) FinalLocation() string {
	t.m.Lock()
	defer t.m.Unlock()
	return t.finalLocation
}
