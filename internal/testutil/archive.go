// Package testutil builds package archives for tests.
package testutil

import (
	"archive/tar"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/klauspost/compress/zstd"
	"github.com/tulpar/apgunpacker/internal/scanner"
	"github.com/ulikunitz/xz"
)

// Entry describes one archive member. The zero Typeflag means a regular file.
type Entry struct {
	Name       string
	Body       string
	Mode       int64
	Typeflag   byte
	Linkname   string
	ModTime    time.Time
	PAXRecords map[string]string
}

// DescriptorEntry returns a root metadata.json entry holding fields
func DescriptorEntry(t testing.TB, fields map[string]any) Entry {
	t.Helper()

	data, err := json.Marshal(fields)
	if err != nil {
		t.Fatalf("Failed to marshal descriptor: %v", err)
	}
	return Entry{Name: "metadata.json", Body: string(data), Mode: 0644}
}

// WriteArchive writes entries as a tar stream wrapped in compression
func WriteArchive(t testing.TB, path string, compression scanner.Compression, entries []Entry) {
	t.Helper()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatalf("Failed to create archive directory: %v", err)
	}

	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create archive: %v", err)
	}
	defer f.Close()

	w, closeFn := compressor(t, f, compression)

	tw := tar.NewWriter(w)
	for _, e := range entries {
		hdr := &tar.Header{
			Name:       e.Name,
			Mode:       e.Mode,
			Typeflag:   e.Typeflag,
			Linkname:   e.Linkname,
			ModTime:    e.ModTime,
			PAXRecords: e.PAXRecords,
		}
		if hdr.Typeflag == 0 {
			hdr.Typeflag = tar.TypeReg
		}
		if hdr.Typeflag == tar.TypeReg {
			hdr.Size = int64(len(e.Body))
		}
		if hdr.Mode == 0 {
			hdr.Mode = 0644
		}
		if hdr.ModTime.IsZero() {
			hdr.ModTime = time.Now()
		}
		if len(hdr.PAXRecords) > 0 {
			hdr.Format = tar.FormatPAX
		}

		if err := tw.WriteHeader(hdr); err != nil {
			t.Fatalf("Failed to write header for %s: %v", e.Name, err)
		}
		if hdr.Size > 0 {
			if _, err := io.WriteString(tw, e.Body); err != nil {
				t.Fatalf("Failed to write body for %s: %v", e.Name, err)
			}
		}
	}

	if err := tw.Close(); err != nil {
		t.Fatalf("Failed to close tar writer: %v", err)
	}
	if err := closeFn(); err != nil {
		t.Fatalf("Failed to close compressor: %v", err)
	}
}

// WritePackage writes a gzip compressed archive holding a descriptor and one
// payload file, and returns its path
func WritePackage(t testing.TB, dir, fileName string, fields map[string]any) string {
	t.Helper()

	path := filepath.Join(dir, fileName)
	WriteArchive(t, path, scanner.CompressionGzip, []Entry{
		DescriptorEntry(t, fields),
		{Name: "usr/", Typeflag: tar.TypeDir, Mode: 0755},
		{Name: "usr/bin/", Typeflag: tar.TypeDir, Mode: 0755},
		{Name: "usr/bin/tool", Body: "#!/bin/sh\necho tool\n", Mode: 0755},
	})
	return path
}

func compressor(t testing.TB, w io.Writer, compression scanner.Compression) (io.Writer, func() error) {
	t.Helper()

	switch compression {
	case scanner.CompressionGzip:
		gw := gzip.NewWriter(w)
		return gw, gw.Close
	case scanner.CompressionZstd:
		zw, err := zstd.NewWriter(w)
		if err != nil {
			t.Fatalf("Failed to create zstd writer: %v", err)
		}
		return zw, zw.Close
	case scanner.CompressionXz:
		xw, err := xz.NewWriter(w)
		if err != nil {
			t.Fatalf("Failed to create xz writer: %v", err)
		}
		return xw, xw.Close
	default:
		return w, func() error { return nil }
	}
}
