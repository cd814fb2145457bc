// Package rpctypes contains the request and response types of the RPC interface.
package rpctypes

type Torrent struct {
	ID       string
	Name     string
	InfoHash string
	State    string
	AddedAt  Time
}

type SessionStats struct {
	Torrents            int
	Active              int
	DiskTasksQueued     int
	DiskTasksRunning    int
	Transitions         int64
	RejectedTransitions int64
	EventsDelivered     int64
	ListenerPanics      int64
	DiskProblems        int64
	SpeedDownload       int64
	SpeedUpload         int64
	Uptime              int
}

type Stats struct {
	State         string
	Name          string
	InfoHash      string
	Complete      bool
	SaveLocation  string
	FinalLocation string
	Bytes         struct {
		Total      int64
		Completed  int64
		Downloaded int64
		Uploaded   int64
		Wasted     int64
	}
	Peers struct {
		Total          int
		Seeds          int
		NonInteresting int
		UnchokingUs    int
	}
	Links int
	Speed struct {
		Download int64
		Upload   int64
	}
	Ratio float64
}

type ListTorrentsRequest struct {
}

type ListTorrentsResponse struct {
	Torrents []Torrent
}

type AddTorrentRequest struct {
	// Base64 encoded .torrent file.
	Torrent      string
	SaveLocation string
	Stopped      bool
}

type AddTorrentResponse struct {
	Torrent Torrent
}

type RemoveTorrentRequest struct {
	ID         string
	DeleteData bool
}

type RemoveTorrentResponse struct {
}

type GetSessionStatsRequest struct {
}

type GetSessionStatsResponse struct {
	Stats SessionStats
}

type GetTorrentStatsRequest struct {
	ID string
}

type GetTorrentStatsResponse struct {
	Stats Stats
}

type StartTorrentRequest struct {
	ID string
}

type StartTorrentResponse struct {
}

type StopTorrentRequest struct {
	ID string
}

type StopTorrentResponse struct {
}

type PauseTorrentRequest struct {
	ID string
}

type PauseTorrentResponse struct {
}

type ResumeTorrentRequest struct {
	ID string
}

type ResumeTorrentResponse struct {
	// False if the torrent was not in a resumable state.
	Resumed bool
}

type SetSaveLocationRequest struct {
	ID           string
	SaveLocation string
}

type SetSaveLocationResponse struct {
}
