package boltdbresumer

import "time"

// Spec is everything needed to restore a torrent after restart.
type Spec struct {
	InfoHash []byte
	Name     string
	// Raw .torrent file.
	MetaInfo []byte
	AddedAt  time.Time
	Started  bool
	// Directory to move data into on completion. Empty if not set.
	SaveLocation string
	// Path of data after completion hook has run.
	FinalLocation   string
	Completed       bool
	BytesDownloaded int64
	BytesUploaded   int64
	BytesWasted     int64
}
