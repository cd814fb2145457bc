// Package metainfo reads the parts of torrent files that the coordinator needs.
// Everything else in the file is left to the engine.
package metainfo

import (
	"crypto/sha1" // nolint: gosec
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/zeebo/bencode"
)

var errInvalidPieceData = errors.New("invalid piece data")

// MetaInfo file dictionary
type MetaInfo struct {
	Info         Info
	AnnounceList [][]string
}

// Info contains information about torrent.
type Info struct {
	PieceLength uint32     `bencode:"piece length"`
	Pieces      []byte     `bencode:"pieces"`
	Name        string     `bencode:"name"`
	Length      int64      `bencode:"length"` // Single File Mode
	Files       []FileDict `bencode:"files"`  // Multiple File mode

	// Calculated fileds
	Hash        [20]byte `bencode:"-"`
	TotalLength int64    `bencode:"-"`
	NumPieces   uint32   `bencode:"-"`
}

type FileDict struct {
	Length int64    `bencode:"length"`
	Path   []string `bencode:"path"`
}

// New returns a torrent from bencoded stream.
func New(r io.Reader) (*MetaInfo, error) {
	var t struct {
		Info         bencode.RawMessage `bencode:"info"`
		Announce     bencode.RawMessage `bencode:"announce"`
		AnnounceList bencode.RawMessage `bencode:"announce-list"`
	}
	err := bencode.NewDecoder(r).Decode(&t)
	if err != nil {
		return nil, err
	}
	if len(t.Info) == 0 {
		return nil, errors.New("no info dict in torrent file")
	}
	info, err := NewInfo(t.Info)
	if err != nil {
		return nil, err
	}
	ret := &MetaInfo{Info: *info}
	if len(t.AnnounceList) > 0 {
		var ll [][]string
		if bencode.DecodeBytes(t.AnnounceList, &ll) == nil {
			ret.AnnounceList = ll
		}
	} else if len(t.Announce) > 0 {
		var s string
		if bencode.DecodeBytes(t.Announce, &s) == nil && s != "" {
			ret.AnnounceList = [][]string{{s}}
		}
	}
	return ret, nil
}

// NewInfo returns info from bencoded bytes in b.
func NewInfo(b []byte) (*Info, error) {
	var i Info
	if err := bencode.DecodeBytes(b, &i); err != nil {
		return nil, err
	}
	if i.Name == "" {
		return nil, errors.New("torrent has no name")
	}
	if uint32(len(i.Pieces))%sha1.Size != 0 {
		return nil, errInvalidPieceData
	}
	// ".." is not allowed in file names
	for _, file := range i.Files {
		for _, path := range file.Path {
			if strings.TrimSpace(path) == ".." {
				return nil, fmt.Errorf("invalid file name: %q", filepath.Join(file.Path...))
			}
		}
	}
	i.NumPieces = uint32(len(i.Pieces)) / sha1.Size
	if len(i.Files) == 0 {
		i.TotalLength = i.Length
	} else {
		for _, f := range i.Files {
			i.TotalLength += f.Length
		}
	}
	if i.PieceLength > 0 {
		totalPieceDataLength := int64(i.PieceLength) * int64(i.NumPieces)
		delta := totalPieceDataLength - i.TotalLength
		if delta >= int64(i.PieceLength) || delta < 0 {
			return nil, errInvalidPieceData
		}
	}
	i.Hash = sha1.Sum(b) // nolint: gosec
	return &i, nil
}

// HexHash returns the info hash in the form used by trackers and magnet links.
func (i *Info) HexHash() string {
	return fmt.Sprintf("%x", i.Hash[:])
}
