// Package layout names the on-disk areas under the storage root:
//
//	tmp/                    engine scratch space
//	downloading/{hash}/     in-progress acquisition target
//	available/{hash}        finalized, servable artifact (single file)
package layout

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"moviestream/internal/domain"
)

const (
	tmpDir         = "tmp"
	downloadingDir = "downloading"
	availableDir   = "available"

	dirPermissions = 0o755
)

var errInvalidRoot = errors.New("storage root not configured")

type Root struct {
	base string
}

func New(base string) (Root, error) {
	trimmed := strings.TrimSpace(base)
	if trimmed == "" {
		return Root{}, errInvalidRoot
	}
	abs, err := filepath.Abs(trimmed)
	if err != nil {
		return Root{}, err
	}
	return Root{base: filepath.Clean(abs)}, nil
}

// EnsureDirs creates the three top-level areas and drops staging files a
// previous process left behind in available/. Call it before any finalize
// can run.
func (r Root) EnsureDirs() error {
	for _, dir := range []string{r.Tmp(), r.DownloadingRoot(), r.AvailableRoot()} {
		if err := os.MkdirAll(dir, dirPermissions); err != nil {
			return fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return r.removeStaleParts()
}

func (r Root) removeStaleParts() error {
	entries, err := os.ReadDir(r.AvailableRoot())
	if err != nil {
		return fmt.Errorf("scan %s: %w", r.AvailableRoot(), err)
	}
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !isTempArtifactName(name) {
			continue
		}
		if err := os.Remove(filepath.Join(r.AvailableRoot(), name)); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove stale %s: %w", name, err)
		}
	}
	return nil
}

func isTempArtifactName(name string) bool {
	return strings.HasPrefix(name, ".") && strings.HasSuffix(name, ".part")
}

func (r Root) Base() string            { return r.base }
func (r Root) Tmp() string             { return filepath.Join(r.base, tmpDir) }
func (r Root) DownloadingRoot() string { return filepath.Join(r.base, downloadingDir) }
func (r Root) AvailableRoot() string   { return filepath.Join(r.base, availableDir) }

func (r Root) Downloading(hash domain.ContentHash) string {
	return filepath.Join(r.DownloadingRoot(), string(hash))
}

func (r Root) Available(hash domain.ContentHash) string {
	return filepath.Join(r.AvailableRoot(), string(hash))
}

// TempArtifact returns a unique path inside available/ for staging an
// artifact before the final rename. The name starts with a dot and never
// collides with a content hash.
func (r Root) TempArtifact(hash domain.ContentHash) (string, error) {
	var suffix [6]byte
	if _, err := rand.Read(suffix[:]); err != nil {
		return "", err
	}
	name := fmt.Sprintf(".%s.%s.part", hash, hex.EncodeToString(suffix[:]))
	return filepath.Join(r.AvailableRoot(), name), nil
}

// StatArtifact reports the size of the available artifact for hash. It
// returns os.ErrNotExist when the artifact is missing, is not a regular
// file, or is empty.
func (r Root) StatArtifact(hash domain.ContentHash) (int64, error) {
	info, err := os.Stat(r.Available(hash))
	if err != nil {
		return 0, err
	}
	if !info.Mode().IsRegular() || info.Size() == 0 {
		return 0, os.ErrNotExist
	}
	return info.Size(), nil
}

// RemoveAvailable deletes the artifact for hash. A missing artifact is not
// an error.
func (r Root) RemoveAvailable(hash domain.ContentHash) error {
	return r.removeWithin(r.AvailableRoot(), r.Available(hash))
}

// RemoveDownloading deletes the download directory for hash.
func (r Root) RemoveDownloading(hash domain.ContentHash) error {
	return r.removeWithin(r.DownloadingRoot(), r.Downloading(hash))
}

func (r Root) removeWithin(parent, target string) error {
	if r.base == "" {
		return errInvalidRoot
	}
	cleaned := filepath.Clean(target)
	if !strings.HasPrefix(cleaned, parent+string(os.PathSeparator)) {
		return errors.New("invalid artifact path")
	}
	if err := os.RemoveAll(cleaned); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// Publish moves src into place as the artifact for hash. src must be on the
// same filesystem as available/.
func (r Root) Publish(src string, hash domain.ContentHash) error {
	return os.Rename(src, r.Available(hash))
}

// LinkOrCopy places a copy of src at dst, preferring a hardlink so that the
// downloaded bytes are not duplicated on disk.
func LinkOrCopy(src, dst string) error {
	if err := os.MkdirAll(filepath.Dir(dst), dirPermissions); err != nil {
		return err
	}
	if err := os.Link(src, dst); err == nil {
		return nil
	} else if os.IsExist(err) {
		srcInfo, srcErr := os.Stat(src)
		dstInfo, dstErr := os.Stat(dst)
		if srcErr == nil && dstErr == nil && os.SameFile(srcInfo, dstInfo) {
			return nil
		}
		return err
	}
	return copyFile(src, dst)
}

func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return err
	}
	return out.Close()
}
