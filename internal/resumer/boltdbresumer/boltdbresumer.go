// Package boltdbresumer provides a Resumer implementation that uses a Bolt database file as storage.
package boltdbresumer

import (
	"fmt"
	"strconv"
	"time"

	"github.com/cenkalti/steward/internal/resumer"
	bolt "go.etcd.io/bbolt"
)

// Keys for the persisten storage.
var Keys = struct {
	InfoHash        []byte
	Name            []byte
	MetaInfo        []byte
	AddedAt         []byte
	Started         []byte
	SaveLocation    []byte
	FinalLocation   []byte
	Completed       []byte
	BytesDownloaded []byte
	BytesUploaded   []byte
	BytesWasted     []byte
}{
	InfoHash:        []byte("info_hash"),
	Name:            []byte("name"),
	MetaInfo:        []byte("metainfo"),
	AddedAt:         []byte("added_at"),
	Started:         []byte("started"),
	SaveLocation:    []byte("save_location"),
	FinalLocation:   []byte("final_location"),
	Completed:       []byte("completed"),
	BytesDownloaded: []byte("bytes_downloaded"),
	BytesUploaded:   []byte("bytes_uploaded"),
	BytesWasted:     []byte("bytes_wasted"),
}

// Resumer contains methods for saving/loading resume information of a torrent to a BoltDB database.
type Resumer struct {
	db     *bolt.DB
	bucket []byte
}

// New returns a new Resumer.
func New(db *bolt.DB, bucket []byte) (*Resumer, error) {
	err := db.Update(func(tx *bolt.Tx) error {
		_, err2 := tx.CreateBucketIfNotExists(bucket)
		return err2
	})
	if err != nil {
		return nil, err
	}
	return &Resumer{
		db:     db,
		bucket: bucket,
	}, nil
}

// Write the torrent spec for torrent with `torrentID`.
func (r *Resumer) Write(torrentID string, spec *Spec) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(r.bucket).CreateBucketIfNotExists([]byte(torrentID))
		if err != nil {
			return err
		}
		_ = b.Put(Keys.InfoHash, spec.InfoHash)
		_ = b.Put(Keys.Name, []byte(spec.Name))
		_ = b.Put(Keys.MetaInfo, spec.MetaInfo)
		_ = b.Put(Keys.AddedAt, []byte(spec.AddedAt.Format(time.RFC3339)))
		_ = b.Put(Keys.Started, []byte(strconv.FormatBool(spec.Started)))
		_ = b.Put(Keys.SaveLocation, []byte(spec.SaveLocation))
		_ = b.Put(Keys.FinalLocation, []byte(spec.FinalLocation))
		_ = b.Put(Keys.Completed, []byte(strconv.FormatBool(spec.Completed)))
		_ = b.Put(Keys.BytesDownloaded, []byte(strconv.FormatInt(spec.BytesDownloaded, 10)))
		_ = b.Put(Keys.BytesUploaded, []byte(strconv.FormatInt(spec.BytesUploaded, 10)))
		_ = b.Put(Keys.BytesWasted, []byte(strconv.FormatInt(spec.BytesWasted, 10)))
		return nil
	})
}

func (r *Resumer) put(torrentID string, kv ...[]byte) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(r.bucket).Bucket([]byte(torrentID))
		if b == nil {
			return nil
		}
		for i := 0; i+1 < len(kv); i += 2 {
			if err := b.Put(kv[i], kv[i+1]); err != nil {
				return err
			}
		}
		return nil
	})
}

// WriteStarted writes the start status of a torrent.
func (r *Resumer) WriteStarted(torrentID string, value bool) error {
	return r.put(torrentID, Keys.Started, []byte(strconv.FormatBool(value)))
}

// WriteSaveLocation writes the directory that data will be moved into on completion.
func (r *Resumer) WriteSaveLocation(torrentID string, value string) error {
	return r.put(torrentID, Keys.SaveLocation, []byte(value))
}

// WriteCompleted marks the torrent as completed with data at finalLocation.
func (r *Resumer) WriteCompleted(torrentID string, finalLocation string) error {
	return r.put(torrentID,
		Keys.Completed, []byte("true"),
		Keys.FinalLocation, []byte(finalLocation),
	)
}

// WriteStats writes transfer counters of a torrent.
func (r *Resumer) WriteStats(torrentID string, stats resumer.Stats) error {
	return r.put(torrentID,
		Keys.BytesDownloaded, []byte(strconv.FormatInt(stats.BytesDownloaded, 10)),
		Keys.BytesUploaded, []byte(strconv.FormatInt(stats.BytesUploaded, 10)),
		Keys.BytesWasted, []byte(strconv.FormatInt(stats.BytesWasted, 10)),
	)
}

// Delete removes all information of a torrent.
func (r *Resumer) Delete(torrentID string) error {
	return r.db.Update(func(tx *bolt.Tx) error {
		err := tx.Bucket(r.bucket).DeleteBucket([]byte(torrentID))
		if err == bolt.ErrBucketNotFound {
			return nil
		}
		return err
	})
}

// List returns IDs of saved torrents.
func (r *Resumer) List() ([]string, error) {
	var ids []string
	err := r.db.View(func(tx *bolt.Tx) error {
		return tx.Bucket(r.bucket).ForEach(func(k, v []byte) error {
			// Only nested buckets are torrents.
			if v == nil {
				ids = append(ids, string(k))
			}
			return nil
		})
	})
	return ids, err
}

func (r *Resumer) Read(torrentID string) (*Spec, error) {
	var spec *Spec
	err := r.db.View(func(tx *bolt.Tx) error {
		b := tx.Bucket(r.bucket).Bucket([]byte(torrentID))
		if b == nil {
			return fmt.Errorf("bucket not found: %q", torrentID)
		}

		value := b.Get(Keys.InfoHash)
		if value == nil {
			return fmt.Errorf("key not found: %q", string(Keys.InfoHash))
		}

		spec = new(Spec)
		spec.InfoHash = make([]byte, len(value))
		copy(spec.InfoHash, value)

		spec.Name = string(b.Get(Keys.Name))
		spec.SaveLocation = string(b.Get(Keys.SaveLocation))
		spec.FinalLocation = string(b.Get(Keys.FinalLocation))

		value = b.Get(Keys.MetaInfo)
		if value != nil {
			spec.MetaInfo = make([]byte, len(value))
			copy(spec.MetaInfo, value)
		}

		var err error
		value = b.Get(Keys.AddedAt)
		if value != nil {
			spec.AddedAt, err = time.Parse(time.RFC3339, string(value))
			if err != nil {
				return err
			}
		}

		if spec.Started, err = readBool(b, Keys.Started); err != nil {
			return err
		}
		if spec.Completed, err = readBool(b, Keys.Completed); err != nil {
			return err
		}
		if spec.BytesDownloaded, err = readInt(b, Keys.BytesDownloaded); err != nil {
			return err
		}
		if spec.BytesUploaded, err = readInt(b, Keys.BytesUploaded); err != nil {
			return err
		}
		if spec.BytesWasted, err = readInt(b, Keys.BytesWasted); err != nil {
			return err
		}
		return nil
	})
	return spec, err
}

func readBool(b *bolt.Bucket, key []byte) (bool, error) {
	value := b.Get(key)
	if value == nil {
		return false, nil
	}
	return strconv.ParseBool(string(value))
}

func readInt(b *bolt.Bucket, key []byte) (int64, error) {
	value := b.Get(key)
	if value == nil {
		return 0, nil
	}
	return strconv.ParseInt(string(value), 10, 64)
}

// For returns a resumer.Resumer bound to one torrent.
func (r *Resumer) For(torrentID string) resumer.Resumer {
	return &torrentResumer{r: r, id: torrentID}
}

type torrentResumer struct {
	r  *Resumer
	id string
}

func (t *torrentResumer) WriteStats(s resumer.Stats) error { return t.r.WriteStats(t.id, s) }
func (t *torrentResumer) WriteStarted(v bool) error        { return t.r.WriteStarted(t.id, v) }
func (t *torrentResumer) WriteSaveLocation(v string) error { return t.r.WriteSaveLocation(t.id, v) }
func (t *torrentResumer) WriteCompleted(loc string) error  { return t.r.WriteCompleted(t.id, loc) }
