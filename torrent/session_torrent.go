package torrent

import (
	"encoding/hex"
	"time"

	"github.com/cenkalti/steward/internal/admission"
)

// Torrent is a torrent in a Session.
// Methods are safe to call concurrently with each other and with engine notifications.
type Torrent struct {
	torrent *torrent
}

type InfoHash [20]byte

// String encodes info hash in hex as 40 characters.
func (h InfoHash) String() string {
	return hex.EncodeToString(h[:])
}

// ID is a unique identifier in the Session.
func (t *Torrent) ID() string {
	return t.torrent.id
}

func (t *Torrent) Name() string {
	return t.torrent.name
}

func (t *Torrent) InfoHash() InfoHash {
	return t.torrent.infoHash
}

func (t *Torrent) AddedAt() time.Time {
	return t.torrent.addedAt
}

func (t *Torrent) State() State {
	return t.torrent.State()
}

func (t *Torrent) Stats() Stats {
	return t.torrent.Stats()
}

// Start downloading. Returns *IllegalStateError if the torrent is not Queued.
func (t *Torrent) Start() error {
	return t.torrent.Start()
}

// Stop an active torrent. Returns *IllegalStateError if the torrent is not active.
func (t *Torrent) Stop() error {
	return t.torrent.Stop()
}

// Pause the torrent. It has no effect if the torrent is not Queued or pausable.
func (t *Torrent) Pause() {
	t.torrent.Pause()
}

// Resume a Paused, Stopped or TrackerFailure torrent. Returns false in other states.
func (t *Torrent) Resume() bool {
	return t.torrent.Resume()
}

func (t *Torrent) IsActive() bool   { return t.torrent.IsActive() }
func (t *Torrent) IsPausable() bool { return t.torrent.IsPausable() }
func (t *Torrent) IsPaused() bool   { return t.torrent.IsPaused() }
func (t *Torrent) IsComplete() bool { return t.torrent.IsComplete() }

func (t *Torrent) TotalDownloaded() int64 { return t.torrent.TotalDownloaded() }
func (t *Torrent) TotalUploaded() int64   { return t.torrent.TotalUploaded() }
func (t *Torrent) Ratio() float64         { return t.torrent.Ratio() }
func (t *Torrent) AmountLost() int64      { return t.torrent.AmountLost() }

// AddEventListener registers fn to receive lifecycle events of the torrent.
func (t *Torrent) AddEventListener(fn func(Event)) (cancel func()) {
	return t.torrent.AddEventListener(fn)
}

// SetSaveLocation sets the directory that data is moved into when the download completes.
func (t *Torrent) SetSaveLocation(dir string) error {
	return t.torrent.SetSaveLocation(dir)
}

func (t *Torrent) SaveLocation() string {
	return t.torrent.SaveLocation()
}

// FinalLocation is the path of data after completion.
func (t *Torrent) FinalLocation() string {
	return t.torrent.FinalLocation()
}

func (t *Torrent) NeedsMoreConnections() bool {
	return t.torrent.NeedsMoreConnections()
}

func (t *Torrent) ShouldAddConnection(c admission.Candidate) bool {
	return t.torrent.ShouldAddConnection(c)
}

func (t *Torrent) AddConnection(c admission.Candidate) bool {
	return t.torrent.AddConnection(c)
}

func (t *Torrent) LinkClosed(addr string) {
	t.torrent.LinkClosed(addr)
}

func (t *Torrent) AddEndpoint(addr string) {
	t.torrent.AddEndpoint(addr)
}

func (t *Torrent) ShouldStop() bool         { return t.torrent.ShouldStop() }
func (t *Torrent) CountPeers() int          { return t.torrent.CountPeers() }
func (t *Torrent) CountSeeds() int          { return t.torrent.CountSeeds() }
func (t *Torrent) NonInterestingPeers() int { return t.torrent.NonInterestingPeers() }
func (t *Torrent) ChokingPeers() int        { return t.torrent.ChokingPeers() }
func (t *Torrent) IsUploading() bool        { return t.torrent.IsUploading() }

func (t *Torrent) MeasuredBandwidth(downstream bool) float64 {
	return t.torrent.MeasuredBandwidth(downstream)
}
