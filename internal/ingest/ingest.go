// Package ingest runs a submitted archive through extraction, descriptor
// validation and the repository merge.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/tulpar/apgunpacker/internal/arch"
	"github.com/tulpar/apgunpacker/internal/extract"
	"github.com/tulpar/apgunpacker/internal/models"
	"github.com/tulpar/apgunpacker/internal/repository"
	"github.com/tulpar/apgunpacker/internal/signer"
	"github.com/tulpar/apgunpacker/internal/utils"
)

// Options configures an Ingestor
type Options struct {
	// RepoRoot is the repository root directory
	RepoRoot string

	// ScratchDir is the parent of the per-run extraction directory. Empty
	// means the system temporary directory.
	ScratchDir string

	// Signer signs the aggregate descriptor after each merge when set
	Signer signer.Signer

	RepositoryOptions []repository.Option
}

// Report describes a completed ingestion
type Report struct {
	*repository.MergeResult

	// RawArchitecture is the architecture as written in the descriptor
	RawArchitecture string

	// Heuristic is set when the architecture was not canonical and had to
	// be guessed
	Heuristic bool

	// Signature is the path of the descriptor signature, if one was written
	Signature string
}

// Ingestor processes one archive at a time. Concurrent runs against the same
// repository must be serialized by the caller or through a
// repository.Locker.
type Ingestor struct {
	extractor  *extract.Extractor
	repo       *repository.Repository
	scratchDir string
	signer     signer.Signer
}

// New creates an Ingestor
func New(opts Options) *Ingestor {
	return &Ingestor{
		extractor:  extract.NewExtractor(),
		repo:       repository.New(opts.RepoRoot, opts.RepositoryOptions...),
		scratchDir: opts.ScratchDir,
		signer:     opts.Signer,
	}
}

// Ingest extracts archivePath to a private scratch directory, reads its
// descriptor and merges it into the repository. The scratch directory is
// removed on every return path.
func (i *Ingestor) Ingest(ctx context.Context, archivePath string) (*Report, error) {
	if err := validateArchivePath(archivePath); err != nil {
		return nil, err
	}

	logrus.Infof("Retrieving metadata from %s...", filepath.Base(archivePath))

	scratch, err := os.MkdirTemp(i.scratchDir, "apg-")
	if err != nil {
		return nil, &models.IngestError{
			Type: models.ErrFileOp,
			Err:  fmt.Errorf("failed to create scratch directory: %w", err),
		}
	}
	defer func() {
		if err := utils.RemoveAll(scratch); err != nil {
			logrus.Warnf("Failed to remove scratch directory %s: %v", scratch, err)
		}
	}()
	logrus.Debugf("Extracting to %s", scratch)

	if _, err := i.extractor.Extract(ctx, archivePath, scratch); err != nil {
		return nil, fmt.Errorf("failed to extract APG package, please check if the file is a valid APG package: %w", err)
	}

	desc, err := models.LoadDescriptor(filepath.Join(scratch, models.DescriptorFile))
	if err != nil {
		return nil, err
	}

	report := &Report{RawArchitecture: desc.Architecture}

	canonical, heuristic, err := arch.Normalize(desc.Architecture)
	if err != nil {
		return nil, &models.IngestError{
			Type:    models.ErrNormalization,
			Package: desc.Name,
			Err:     fmt.Errorf("failed to change architecture of package: %w", err),
		}
	}
	if heuristic {
		logrus.Warnf("Unknown architecture value (%s) detected, using %s. This package has not passed apgcheck!",
			desc.Architecture, canonical)
	}
	report.Heuristic = heuristic
	desc.Architecture = canonical

	result, err := i.repo.Merge(desc, archivePath)
	if err != nil {
		return nil, err
	}
	report.MergeResult = result

	if i.signer != nil {
		sigPath, err := signer.SignFile(i.signer, result.DescriptorPath)
		if err != nil {
			return nil, &models.IngestError{Type: models.ErrSigning, Package: desc.Name, Err: err}
		}
		report.Signature = sigPath
		logrus.Debugf("Signed %s", result.DescriptorPath)
	}

	return report, nil
}

func validateArchivePath(path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return &models.IngestError{
				Type: models.ErrInputValidation,
				Err:  fmt.Errorf("%w: %s", models.ErrArchiveNotFound, path),
			}
		}
		return &models.IngestError{Type: models.ErrInputValidation, Err: err}
	}

	if info.IsDir() {
		return &models.IngestError{
			Type: models.ErrInputValidation,
			Err:  fmt.Errorf("%s is a directory", path),
		}
	}

	if filepath.Ext(path) != repository.ArchiveExt {
		return &models.IngestError{
			Type: models.ErrInputValidation,
			Err:  fmt.Errorf("file must be an APG package: %s", path),
		}
	}

	return nil
}
