package torrent

import (
	"time"

	"github.com/rcrowley/go-metrics"
)

type sessionMetrics struct {
	registry metrics.Registry

	// Shared by all torrents
	torrent *torrentMetrics

	Torrents         metrics.Gauge
	ActiveTorrents   metrics.Gauge
	DiskTasksQueued  metrics.Gauge
	DiskTasksRunning metrics.Gauge
	SpeedDownload    metrics.Gauge
	SpeedUpload      metrics.Gauge
	Uptime           metrics.Gauge
}

func (s *Session) initMetrics() {
	r := metrics.NewRegistry()
	tm := &torrentMetrics{
		Transitions:         metrics.NewRegisteredCounter("transitions", r),
		RejectedTransitions: metrics.NewRegisteredCounter("rejected_transitions", r),
		DiskProblems:        metrics.NewRegisteredCounter("disk_problems", r),
		EventsDelivered:     metrics.NewRegisteredCounter("events_delivered", r),
		ListenerPanics:      metrics.NewRegisteredCounter("listener_panics", r),
	}
	s.metrics = &sessionMetrics{
		registry: r,
		torrent:  tm,

		Uptime: metrics.NewRegisteredFunctionalGauge("uptime", r, func() int64 { return int64(time.Since(s.createdAt) / time.Second) }),
		Torrents: metrics.NewRegisteredFunctionalGauge("torrents", r, func() int64 {
			s.mTorrents.RLock()
			defer s.mTorrents.RUnlock()
			return int64(len(s.torrents))
		}),
		ActiveTorrents: metrics.NewRegisteredFunctionalGauge("active_torrents", r, func() int64 { return int64(s.countActive()) }),

		DiskTasksQueued:  metrics.NewRegisteredFunctionalGauge("disk_tasks_queued", r, func() int64 { return int64(s.pool.Queued()) }),
		DiskTasksRunning: metrics.NewRegisteredFunctionalGauge("disk_tasks_running", r, func() int64 { return int64(s.pool.Running()) }),

		SpeedDownload: metrics.NewRegisteredFunctionalGauge("speed_download", r, func() int64 { return s.speed(true) }),
		SpeedUpload:   metrics.NewRegisteredFunctionalGauge("speed_upload", r, func() int64 { return s.speed(false) }),
	}
}

func (s *Session) countActive() int {
	var n int
	for _, t := range s.ListTorrents() {
		if t.IsActive() {
			n++
		}
	}
	return n
}

// speed returns the sum of download or upload speeds of all torrents in bytes per second.
func (s *Session) speed(download bool) int64 {
	var total int64
	for _, t := range s.ListTorrents() {
		st := t.torrent.sessionStats()
		if !st.live {
			continue
		}
		if download {
			total += st.ReceiveRate
		} else {
			total += st.SendRate
		}
	}
	return total
}

func (m *sessionMetrics) Close() {
	m.registry.UnregisterAll()
}
