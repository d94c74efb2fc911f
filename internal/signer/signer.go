// Package signer produces OpenPGP signatures for repository metadata.
package signer

import (
	"fmt"
	"os"

	"github.com/tulpar/apgunpacker/internal/utils"
)

// SignatureExt is appended to a signed file's name
const SignatureExt = ".asc"

// Signer interface for signing repository metadata
type Signer interface {
	// SignDetached creates an armored detached signature
	SignDetached(data []byte) ([]byte, error)
}

// SignFile writes a detached signature next to path and returns its location
func SignFile(s Signer, path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("failed to read %s: %w", path, err)
	}

	signature, err := s.SignDetached(data)
	if err != nil {
		return "", err
	}

	sigPath := path + SignatureExt
	if err := utils.WriteFile(sigPath, signature, 0644); err != nil {
		return "", fmt.Errorf("failed to write signature: %w", err)
	}
	return sigPath, nil
}
