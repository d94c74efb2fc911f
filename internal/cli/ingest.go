package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
	"github.com/tulpar/apgunpacker/internal/ingest"
	"github.com/tulpar/apgunpacker/internal/models"
	"github.com/tulpar/apgunpacker/internal/repository"
	"github.com/tulpar/apgunpacker/internal/signer"
)

func loadConfig(v *viper.Viper, archivePath string) *models.IngestConfig {
	return &models.IngestConfig{
		ArchivePath:   archivePath,
		RepoRoot:      v.GetString("repo-root"),
		ScratchDir:    v.GetString("scratch-dir"),
		GPGKeyPath:    v.GetString("gpg-key"),
		GPGPassphrase: v.GetString("gpg-passphrase"),
	}
}

func validateConfig(config *models.IngestConfig) error {
	if config.ArchivePath == "" {
		return &models.IngestError{
			Type: models.ErrInvalidConfig,
			Err:  fmt.Errorf("archive path is required"),
		}
	}

	if config.RepoRoot == "" {
		return &models.IngestError{
			Type: models.ErrInvalidConfig,
			Err:  fmt.Errorf("repo-root is required"),
		}
	}

	if config.GPGPassphrase != "" && config.GPGKeyPath == "" {
		return &models.IngestError{
			Type: models.ErrInvalidConfig,
			Err:  fmt.Errorf("gpg-passphrase given without gpg-key"),
		}
	}

	return nil
}

func redact(config models.IngestConfig) models.IngestConfig {
	if config.GPGPassphrase != "" {
		config.GPGPassphrase = "***"
	}
	return config
}

func runIngestion(ctx context.Context, config *models.IngestConfig) error {
	opts := ingest.Options{
		RepoRoot:   config.RepoRoot,
		ScratchDir: config.ScratchDir,
	}

	if config.GPGKeyPath != "" {
		gpgSigner, err := signer.NewGPGSigner(config.GPGKeyPath, config.GPGPassphrase)
		if err != nil {
			return &models.IngestError{
				Type: models.ErrSigning,
				Err:  fmt.Errorf("failed to initialize GPG signer: %w", err),
			}
		}
		opts.Signer = gpgSigner
		logrus.Info("GPG signer initialized")
	}

	report, err := ingest.New(opts).Ingest(ctx, config.ArchivePath)
	if errors.Is(err, models.ErrArchiveNotFound) {
		// A vanished upload is not a failure of this run
		logrus.Errorf("Archive %s is not found.", config.ArchivePath)
		return nil
	}
	if err != nil {
		return err
	}

	switch report.Outcome {
	case repository.OutcomeNewPackage, repository.OutcomeNewerVersion:
		logrus.Infof("Package %s %s (%s) stored at %s", report.Package, report.Version, report.Architecture, report.StoredArchive)
	default:
		logrus.Infof("Package %s %s (%s) merged, archive %s", report.Package, report.Version, report.Architecture, report.Outcome)
	}

	return nil
}
