package torrent

import "time"

// SessionStats contains statistics about Session.
type SessionStats struct {
	Torrents int
	// Torrents in an active state.
	Active           int
	DiskTasksQueued  int
	DiskTasksRunning int

	// Accepted and rejected transitions of all torrents.
	Transitions         int64
	RejectedTransitions int64
	EventsDelivered     int64
	ListenerPanics      int64
	DiskProblems        int64

	// Bytes per second.
	SpeedDownload int64
	SpeedUpload   int64

	Uptime time.Duration
}

// Stats returns statistics about the Session.
func (s *Session) Stats() SessionStats {
	m := s.metrics
	return SessionStats{
		Torrents:            int(m.Torrents.Value()),
		Active:              int(m.ActiveTorrents.Value()),
		DiskTasksQueued:     int(m.DiskTasksQueued.Value()),
		DiskTasksRunning:    int(m.DiskTasksRunning.Value()),
		Transitions:         m.torrent.Transitions.Count(),
		RejectedTransitions: m.torrent.RejectedTransitions.Count(),
		EventsDelivered:     m.torrent.EventsDelivered.Count(),
		ListenerPanics:      m.torrent.ListenerPanics.Count(),
		DiskProblems:        m.torrent.DiskProblems.Count(),
		SpeedDownload:       m.SpeedDownload.Value(),
		SpeedUpload:         m.SpeedUpload.Value(),
		Uptime:              time.Since(s.createdAt),
	}
}

func (s *Session) updateStatsLoop() {
	defer s.wg.Done()
	ticker := time.NewTicker(s.config.StatsWriteInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.updateStats()
		case <-s.closeC:
			return
		}
	}
}

// updateStats saves transfer counters of all torrents.
func (s *Session) updateStats() {
	for _, t := range s.ListTorrents() {
		t.torrent.writeStats()
	}
}
