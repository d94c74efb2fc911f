package scanner

import (
	"bufio"
	"bytes"
	"fmt"
)

// Magic bytes for filter detection
var (
	gzipMagic = []byte{0x1F, 0x8B}

	zstdMagic = []byte{0x28, 0xB5, 0x2F, 0xFD}

	xzMagic = []byte{0xFD, 0x37, 0x7A, 0x58, 0x5A, 0x00}

	// POSIX/GNU tar carry "ustar" at offset 257
	tarMagic       = []byte("ustar")
	tarMagicOffset = 257
)

// headerSize covers the tar magic and every compression signature
const headerSize = 512

// DetectCompression peeks at the start of r without consuming it
func DetectCompression(r *bufio.Reader) (Compression, error) {
	header, err := r.Peek(headerSize)
	if err != nil && len(header) == 0 {
		return CompressionUnknown, err
	}

	c := detect(header)
	if c == CompressionUnknown {
		return c, fmt.Errorf("unrecognized archive format")
	}
	return c, nil
}

func detect(header []byte) Compression {
	switch {
	case bytes.HasPrefix(header, gzipMagic):
		return CompressionGzip
	case bytes.HasPrefix(header, zstdMagic):
		return CompressionZstd
	case bytes.HasPrefix(header, xzMagic):
		return CompressionXz
	}

	if len(header) >= tarMagicOffset+len(tarMagic) &&
		bytes.Equal(header[tarMagicOffset:tarMagicOffset+len(tarMagic)], tarMagic) {
		return CompressionNone
	}

	return CompressionUnknown
}
