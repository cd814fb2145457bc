// Package relocator moves downloaded data of a torrent to another directory.
package relocator

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/otiai10/copy"
)

// Move moves the file or directory at src into dstDir and returns the new path.
// A rename is tried first. If it fails (e.g. dstDir is on another device), data is copied and src is removed.
func Move(src, dstDir string) (string, error) {
	if _, err := os.Lstat(src); err != nil {
		return "", err
	}
	if err := os.MkdirAll(dstDir, 0750); err != nil {
		return "", err
	}
	dst := filepath.Join(dstDir, filepath.Base(src))
	if filepath.Clean(src) == filepath.Clean(dst) {
		return dst, nil
	}
	if _, err := os.Lstat(dst); err == nil {
		return "", fmt.Errorf("destination already exists: %s", dst)
	} else if !errors.Is(err, os.ErrNotExist) {
		return "", err
	}
	if err := os.Rename(src, dst); err == nil {
		return dst, nil
	}
	if err := copy.Copy(src, dst, copy.Options{Sync: true}); err != nil {
		_ = os.RemoveAll(dst)
		return "", err
	}
	return dst, os.RemoveAll(src)
}
