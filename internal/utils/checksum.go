package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"io"
	"os"
)

// Checksum contains the digest and size of a file
type Checksum struct {
	SHA256 string
	Size   int64
}

// CalculateChecksums streams a file through SHA-256
func CalculateChecksums(path string) (*Checksum, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	h := sha256.New()
	size, err := io.Copy(h, f)
	if err != nil {
		return nil, err
	}

	return &Checksum{
		SHA256: hex.EncodeToString(h.Sum(nil)),
		Size:   size,
	}, nil
}

// SameContent reports whether two files have identical size and digest
func SameContent(a, b string) (bool, error) {
	sumA, err := CalculateChecksums(a)
	if err != nil {
		return false, err
	}
	sumB, err := CalculateChecksums(b)
	if err != nil {
		return false, err
	}
	return sumA.Size == sumB.Size && sumA.SHA256 == sumB.SHA256, nil
}
