// Package resumer contains an interface that is used by torrent package for saving the progress of a torrent.
package resumer

// Resumer provides operations to save resume info for a Torrent.
type Resumer interface {
	WriteStats(Stats) error
	WriteStarted(bool) error
	WriteSaveLocation(string) error
	WriteCompleted(finalLocation string) error
}

// Stats is the durable part of transfer counters.
type Stats struct {
	BytesDownloaded int64
	BytesUploaded   int64
	BytesWasted     int64
}
