// Package extract unpacks package archives into a scratch directory.
//
// Extract checks its context between entries only, so a caller can abandon a
// long archive. Nothing in the command line cancels it and there is no
// timeout.
package extract

import (
	"archive/tar"
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/sirupsen/logrus"
	"github.com/tulpar/apgunpacker/internal/models"
	"github.com/tulpar/apgunpacker/internal/scanner"
	"github.com/ulikunitz/xz"
)

// Result summarizes an extraction walk
type Result struct {
	Compression     scanner.Compression
	Entries         int
	Failed          int
	DescriptorFound bool
}

// Extractor writes archive entries to disk
type Extractor struct {
	descriptorName string
}

// NewExtractor creates an extractor that requires a root metadata.json entry
func NewExtractor() *Extractor {
	return &Extractor{
		descriptorName: models.DescriptorFile,
	}
}

// dirMeta is applied once every entry has been written, so that restrictive
// directory modes and timestamps are not disturbed by later entries
type dirMeta struct {
	path string
	hdr  *tar.Header
}

// Extract unpacks every entry of archivePath into dest in archive order.
// A failing entry is logged and skipped. The extraction only succeeds when
// the descriptor entry was seen.
func (e *Extractor) Extract(ctx context.Context, archivePath, dest string) (*Result, error) {
	dest, err := filepath.Abs(dest)
	if err != nil {
		return nil, extractionError(fmt.Errorf("invalid extraction directory: %w", err))
	}

	f, err := os.Open(archivePath)
	if err != nil {
		return nil, extractionError(fmt.Errorf("failed to open archive: %w", err))
	}
	defer f.Close()

	br := bufio.NewReader(f)
	compression, err := scanner.DetectCompression(br)
	if err != nil {
		return nil, extractionError(fmt.Errorf("failed to open archive: %w", err))
	}
	logrus.Debugf("Detected %s archive: %s", compression, archivePath)

	stream, closeStream, err := decompress(br, compression)
	if err != nil {
		return nil, extractionError(fmt.Errorf("failed to open %s stream: %w", compression, err))
	}
	defer closeStream()

	result := &Result{Compression: compression}
	var dirs []dirMeta

	tr := tar.NewReader(stream)
	for {
		if err := ctx.Err(); err != nil {
			return nil, extractionError(err)
		}

		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			logrus.Errorf("Failed to read archive header: %v", err)
			break
		}

		result.Entries++
		if hdr.Name == e.descriptorName {
			result.DescriptorFound = true
		}

		dir, err := writeEntry(tr, hdr, dest)
		if err != nil {
			result.Failed++
			logrus.Errorf("Failed to extract %s: %v", hdr.Name, err)
			continue
		}
		if dir != nil {
			dirs = append(dirs, *dir)
		}
	}

	// Deepest directories last in archive order, so walk backwards
	for i := len(dirs) - 1; i >= 0; i-- {
		applyMetadata(dirs[i].path, dirs[i].hdr)
	}

	logrus.Debugf("Extracted %d entries (%d failed) to %s", result.Entries, result.Failed, dest)

	if !result.DescriptorFound {
		return result, extractionError(fmt.Errorf("%s not found in the archive", e.descriptorName))
	}

	return result, nil
}

func decompress(r io.Reader, c scanner.Compression) (io.Reader, func(), error) {
	switch c {
	case scanner.CompressionGzip:
		gr, err := gzip.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return gr, func() { gr.Close() }, nil
	case scanner.CompressionZstd:
		zr, err := zstd.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return zr, zr.Close, nil
	case scanner.CompressionXz:
		xr, err := xz.NewReader(r)
		if err != nil {
			return nil, nil, err
		}
		return xr, func() {}, nil
	case scanner.CompressionNone:
		return r, func() {}, nil
	default:
		return nil, nil, fmt.Errorf("unsupported compression: %s", c)
	}
}

// writeEntry creates the filesystem object for hdr. Directories are returned
// for deferred metadata.
func writeEntry(tr *tar.Reader, hdr *tar.Header, dest string) (*dirMeta, error) {
	target, err := resolve(dest, hdr.Name)
	if err != nil {
		return nil, err
	}

	switch hdr.Typeflag {
	case tar.TypeDir:
		if err := prepare(dest, target, true); err != nil {
			return nil, err
		}
		if err := os.MkdirAll(target, 0755); err != nil {
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
		return &dirMeta{path: target, hdr: hdr}, nil

	case tar.TypeReg:
		if err := prepare(dest, target, false); err != nil {
			return nil, err
		}
		out, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0600)
		if err != nil {
			return nil, fmt.Errorf("failed to write header: %w", err)
		}
		// The rest of a failed entry is skipped by the next tr.Next call
		if _, err := io.Copy(out, tr); err != nil {
			out.Close()
			return nil, fmt.Errorf("failed to write data block: %w", err)
		}
		if err := out.Close(); err != nil {
			return nil, fmt.Errorf("failed to write data block: %w", err)
		}

	case tar.TypeSymlink:
		if err := checkLinkTarget(dest, target, hdr.Linkname); err != nil {
			return nil, err
		}
		if err := prepare(dest, target, false); err != nil {
			return nil, err
		}
		if err := os.Symlink(hdr.Linkname, target); err != nil {
			return nil, fmt.Errorf("failed to write header: %w", err)
		}

	case tar.TypeLink:
		source, err := resolve(dest, hdr.Linkname)
		if err != nil {
			return nil, fmt.Errorf("hard link target: %w", err)
		}
		if err := checkParents(dest, source); err != nil {
			return nil, err
		}
		if err := prepare(dest, target, false); err != nil {
			return nil, err
		}
		if err := os.Link(source, target); err != nil {
			return nil, fmt.Errorf("failed to write header: %w", err)
		}

	case tar.TypeXGlobalHeader:
		return nil, nil

	default:
		logrus.Warnf("Skipping %s: unsupported entry type %q", hdr.Name, hdr.Typeflag)
		return nil, nil
	}

	applyMetadata(target, hdr)
	return nil, nil
}

// resolve maps an entry name below dest, refusing names that leave it
func resolve(dest, name string) (string, error) {
	clean := filepath.Clean(filepath.FromSlash(name))
	if filepath.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("entry %q escapes the extraction directory", name)
	}
	return filepath.Join(dest, clean), nil
}

// checkLinkTarget refuses a symlink at target whose destination leaves dest
func checkLinkTarget(dest, target, linkname string) error {
	resolved := filepath.FromSlash(linkname)
	if !filepath.IsAbs(resolved) {
		resolved = filepath.Join(filepath.Dir(target), resolved)
	}
	rel, err := filepath.Rel(dest, filepath.Clean(resolved))
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return fmt.Errorf("link target %q escapes the extraction directory", linkname)
	}
	return nil
}

// prepare creates the parent of target and removes a non-directory already
// occupying target, so a previously extracted symlink is replaced rather than
// followed.
func prepare(dest, target string, isDir bool) error {
	if err := checkParents(dest, target); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return fmt.Errorf("failed to create parent directory: %w", err)
	}

	info, err := os.Lstat(target)
	if err != nil {
		return nil
	}
	if isDir && info.IsDir() {
		return nil
	}
	if info.IsDir() {
		return fmt.Errorf("a directory already exists at %s", target)
	}
	return os.Remove(target)
}

// checkParents fails when a directory between dest and target is a symlink
func checkParents(dest, target string) error {
	rel, err := filepath.Rel(dest, filepath.Dir(target))
	if err != nil || rel == "." || rel == ".." {
		return err
	}

	current := dest
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		current = filepath.Join(current, part)
		info, err := os.Lstat(current)
		if err != nil {
			// Not created yet, nothing deeper can exist either
			return nil
		}
		if info.Mode()&os.ModeSymlink != 0 {
			return fmt.Errorf("refusing to write through symlink %s", current)
		}
	}
	return nil
}

// applyMetadata restores extended attributes, permissions and timestamps.
// Failures are warnings: the entry data is already on disk.
func applyMetadata(path string, hdr *tar.Header) {
	// A hard link shares the inode of an entry that was already restored
	if hdr.Typeflag == tar.TypeLink {
		return
	}

	if err := setXattrs(path, hdr); err != nil {
		logrus.Warnf("Failed to restore extended attributes of %s: %v", hdr.Name, err)
	}

	if hdr.Typeflag == tar.TypeSymlink {
		return
	}

	mode := hdr.FileInfo().Mode() & (os.ModePerm | os.ModeSetuid | os.ModeSetgid | os.ModeSticky)
	if err := os.Chmod(path, mode); err != nil {
		logrus.Warnf("Failed to set permissions of %s: %v", hdr.Name, err)
	}

	if hdr.ModTime.IsZero() {
		return
	}
	atime := hdr.AccessTime
	if atime.IsZero() {
		atime = hdr.ModTime
	}
	if err := os.Chtimes(path, atime, hdr.ModTime); err != nil {
		logrus.Warnf("Failed to set timestamps of %s: %v", hdr.Name, err)
	}
}

// xattrRecords returns the extended attributes stored in PAX records
func xattrRecords(hdr *tar.Header) map[string]string {
	const prefix = "SCHILY.xattr."

	var attrs map[string]string
	for key, value := range hdr.PAXRecords {
		if name, ok := strings.CutPrefix(key, prefix); ok && name != "" {
			if attrs == nil {
				attrs = make(map[string]string)
			}
			attrs[name] = value
		}
	}
	return attrs
}

func extractionError(err error) error {
	return &models.IngestError{Type: models.ErrExtraction, Err: err}
}

