package models

// IngestConfig contains configuration for a single ingestion run
type IngestConfig struct {
	// Input
	ArchivePath string

	// Repository root holding one directory per package name
	RepoRoot string

	// Parent directory for the scratch extraction directory. Empty means the
	// system temporary directory.
	ScratchDir string

	// Signing of the aggregate descriptor
	GPGKeyPath    string
	GPGPassphrase string
}
