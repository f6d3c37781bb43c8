// Package scanner is the local-filesystem collaborator: full scan
// passes and incremental change watching, both delivered to the sync
// core as models.LocalEvent values.
package scanner

import (
	"context"
	"hash/crc32"
	"hash/fnv"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"syscall"

	"github.com/skeinsync/skein/internal/events"
	"github.com/skeinsync/skein/internal/models"
)

// crcBlocks is how many sparse probes feed the content checksum.
const crcBlocks = models.CRCSize

// crcBlockSize is the number of bytes hashed per probe.
const crcBlockSize = 4096

// Scanner walks a sync root producing filesystem observations.
type Scanner struct {
	root   string
	logger *events.Logger
}

// New creates a scanner over root.
func New(root string, logger *events.Logger) *Scanner {
	return &Scanner{
		root:   root,
		logger: logger.WithField("component", "scanner"),
	}
}

// Root returns the scanned directory.
func (s *Scanner) Root() string { return s.root }

// ScanPass walks the whole root once, emitting one observed event per
// syncable entry. pass tags every event with the scan generation so
// the tree can detect vanished entries afterwards.
func (s *Scanner) ScanPass(ctx context.Context, pass int, emit func(models.LocalEvent)) error {
	return filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			s.logger.WithError(err).WithField("path", path).Warn("Scan error, skipping entry")
			if d != nil && d.IsDir() {
				return fs.SkipDir
			}
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if path == s.root {
			return nil
		}
		if d.Type()&fs.ModeSymlink != 0 {
			s.logger.WithField("path", path).Debug("Ignoring symlink")
			return nil
		}

		ev, err := s.observe(path, pass)
		if err != nil {
			s.logger.WithError(err).WithField("path", path).Warn("Cannot stat entry")
			return nil
		}
		emit(ev)
		return nil
	})
}

// Observe builds an observed event for one path, used by the watcher
// and by tests.
func (s *Scanner) Observe(path string, pass int) (models.LocalEvent, error) {
	return s.observe(path, pass)
}

func (s *Scanner) observe(path string, pass int) (models.LocalEvent, error) {
	fi, err := os.Lstat(path)
	if err != nil {
		return models.LocalEvent{}, err
	}

	rel, err := filepath.Rel(s.root, path)
	if err != nil {
		rel = path
	}

	ev := models.LocalEvent{
		Type:     models.LocalEntryObserved,
		Path:     filepath.ToSlash(rel),
		Name:     fi.Name(),
		FsID:     fsidOf(fi, path),
		ScanPass: pass,
	}
	if fi.IsDir() {
		ev.NodeType = models.TypeFolder
		return ev, nil
	}

	ev.NodeType = models.TypeFile
	ev.Fingerprint = fingerprintOf(path, fi)
	return ev, nil
}

// fingerprintOf computes the (size, mtime, crc) content fingerprint
// from sparse probes through the file.
func fingerprintOf(path string, fi os.FileInfo) models.Fingerprint {
	fp := models.Fingerprint{
		Size:  fi.Size(),
		MTime: fi.ModTime().Unix(),
	}

	f, err := os.Open(path)
	if err != nil {
		return fp
	}
	defer f.Close()

	buf := make([]byte, crcBlockSize)
	for i := 0; i < crcBlocks; i++ {
		var off int64
		if fp.Size > int64(crcBlocks*crcBlockSize) {
			off = int64(i) * (fp.Size - crcBlockSize) / int64(crcBlocks-1)
		} else {
			off = int64(i * crcBlockSize)
		}
		n, err := f.ReadAt(buf, off)
		if n > 0 {
			fp.CRC[i] = crc32.ChecksumIEEE(buf[:n])
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return fp
		}
	}
	fp.Valid = true
	return fp
}

// fsidOf extracts the inode number where the platform exposes one,
// falling back to a stable path hash.
func fsidOf(fi os.FileInfo, path string) models.FsID {
	if st, ok := fi.Sys().(*syscall.Stat_t); ok {
		return models.FsID(st.Ino)
	}
	h := fnv.New64a()
	h.Write([]byte(path))
	return models.FsID(h.Sum64())
}
