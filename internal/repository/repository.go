// Package repository merges ingested packages into the on-disk repository.
//
// Layout:
//
//	<root>/<name>/metadata.json
//	<root>/<name>/<arch>/<base_version>.apg
//
// Repository.Merge is the only operation that mutates the tree. It does not
// roll back: a failure part way through can leave the architecture list, the
// descriptor fields and the stored archives out of step with each other.
package repository

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"github.com/tulpar/apgunpacker/internal/arch"
	"github.com/tulpar/apgunpacker/internal/models"
	"github.com/tulpar/apgunpacker/internal/utils"
	"github.com/tulpar/apgunpacker/internal/version"
)

// ArchiveExt is the extension of stored package archives
const ArchiveExt = ".apg"

// Outcome describes what happened to the incoming archive
type Outcome int

const (
	// OutcomeNewPackage means the entry was created
	OutcomeNewPackage Outcome = iota
	// OutcomeNewerVersion means the archive was stored as the newest version
	OutcomeNewerVersion
	// OutcomeDuplicate means an archive for that version and architecture
	// was already present
	OutcomeDuplicate
	// OutcomeNotStored means the version is not newer and nothing was stored
	// for it; the archive stays where it was
	OutcomeNotStored
)

// String returns the string representation of Outcome
func (o Outcome) String() string {
	switch o {
	case OutcomeNewPackage:
		return "new-package"
	case OutcomeNewerVersion:
		return "newer-version"
	case OutcomeDuplicate:
		return "duplicate"
	case OutcomeNotStored:
		return "not-stored"
	default:
		return "unknown"
	}
}

// MergeResult reports the effect of a merge
type MergeResult struct {
	Package         string
	Architecture    string
	Version         string
	PreviousVersion string
	Outcome         Outcome
	NewArchitecture bool

	// StoredArchive is where the archive was moved to, empty when it was
	// left in place
	StoredArchive  string
	DescriptorPath string
}

// Locker serializes merges of the same package name
type Locker interface {
	Lock(name string) (unlock func(), err error)
}

type nopLocker struct{}

func (nopLocker) Lock(string) (func(), error) {
	return func() {}, nil
}

// Option configures a Repository
type Option func(*Repository)

// WithFieldMerger replaces the descriptor merge policy
func WithFieldMerger(m FieldMerger) Option {
	return func(r *Repository) {
		r.mergeFields = m
	}
}

// WithLocker sets the lock acquired around each merge
func WithLocker(l Locker) Option {
	return func(r *Repository) {
		r.locker = l
	}
}

// Repository is a filesystem package repository
type Repository struct {
	root        string
	mergeFields FieldMerger
	locker      Locker
}

// New creates a Repository rooted at root
func New(root string, opts ...Option) *Repository {
	r := &Repository{
		root:        root,
		mergeFields: OverwriteNonArchitectureFields,
		locker:      nopLocker{},
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Root returns the repository root directory
func (r *Repository) Root() string {
	return r.root
}

// EntryPath returns the directory of a package
func (r *Repository) EntryPath(name string) string {
	return filepath.Join(r.root, name)
}

// DescriptorPath returns the aggregate descriptor of a package
func (r *Repository) DescriptorPath(name string) string {
	return filepath.Join(r.EntryPath(name), models.DescriptorFile)
}

// ArchivePath returns where the archive of a version is stored
func (r *Repository) ArchivePath(name, architecture string, v version.Version) string {
	return filepath.Join(r.EntryPath(name), architecture, v.Base()+ArchiveExt)
}

// Merge records the package described by desc, whose Architecture must
// already be normalized, and moves archivePath into the repository when the
// package is new or its version is newer than the recorded one.
func (r *Repository) Merge(desc *models.Descriptor, archivePath string) (*MergeResult, error) {
	if !arch.IsKnown(desc.Architecture) {
		return nil, &models.IngestError{
			Type:    models.ErrNormalization,
			Package: desc.Name,
			Err:     fmt.Errorf("architecture %q is not normalized", desc.Architecture),
		}
	}

	unlock, err := r.locker.Lock(desc.Name)
	if err != nil {
		return nil, fileOpError(desc.Name, fmt.Errorf("failed to lock package: %w", err))
	}
	defer unlock()

	exists, err := utils.FileExists(r.EntryPath(desc.Name))
	if err != nil {
		return nil, fileOpError(desc.Name, err)
	}

	if !exists {
		return r.create(desc, archivePath)
	}
	return r.update(desc, archivePath)
}

// create builds a new entry holding a single architecture
func (r *Repository) create(desc *models.Descriptor, archivePath string) (*MergeResult, error) {
	logrus.Info("Adding a new package...")

	v := desc.ParsedVersion()
	result := &MergeResult{
		Package:         desc.Name,
		Architecture:    desc.Architecture,
		Version:         desc.Version,
		Outcome:         OutcomeNewPackage,
		NewArchitecture: true,
		StoredArchive:   r.ArchivePath(desc.Name, desc.Architecture, v),
		DescriptorPath:  r.DescriptorPath(desc.Name),
	}

	if err := utils.EnsureDir(filepath.Dir(result.StoredArchive)); err != nil {
		return nil, fileOpError(desc.Name, fmt.Errorf("failed to create architecture directory: %w", err))
	}
	if err := utils.MoveFile(archivePath, result.StoredArchive); err != nil {
		return nil, fileOpError(desc.Name, fmt.Errorf("failed to move archive: %w", err))
	}

	logrus.Info("Writing main metadata...")
	main := models.NewMainDescriptor(desc, desc.Architecture)
	if err := r.writeDescriptor(result.DescriptorPath, main); err != nil {
		return nil, fileOpError(desc.Name, err)
	}

	return result, nil
}

// update merges into an existing entry
func (r *Repository) update(desc *models.Descriptor, archivePath string) (*MergeResult, error) {
	logrus.Info("This package exists in this repository, checking...")

	descriptorPath := r.DescriptorPath(desc.Name)
	main, err := models.LoadMainDescriptor(descriptorPath)
	if err != nil {
		var ie *models.IngestError
		if errors.As(err, &ie) {
			ie.Package = desc.Name
		}
		return nil, err
	}

	incoming := desc.ParsedVersion()
	current := version.Parse(main.Version())
	destination := r.ArchivePath(desc.Name, desc.Architecture, incoming)

	result := &MergeResult{
		Package:         desc.Name,
		Architecture:    desc.Architecture,
		Version:         desc.Version,
		PreviousVersion: current.Raw,
		DescriptorPath:  descriptorPath,
	}

	// Architecture membership is handled before and independently of the
	// version comparison
	if !main.HasArchitecture(desc.Architecture) {
		logrus.Infof("The package of new architecture %s will be added...", desc.Architecture)
		result.NewArchitecture = true
		if err := utils.EnsureDir(filepath.Dir(destination)); err != nil {
			return nil, fileOpError(desc.Name, fmt.Errorf("failed to create architecture directory: %w", err))
		}
	} else {
		logrus.Infof("The package of architecture %s is already added", desc.Architecture)
	}

	cmp := version.Compare(incoming, current)
	present, err := utils.FileExists(destination)
	if err != nil {
		return nil, fileOpError(desc.Name, err)
	}

	switch {
	case cmp > 0:
		logrus.Infof("The package of newer version %s will be added (was %s)...", desc.Version, current.Raw)
		if err := utils.MoveFile(archivePath, destination); err != nil {
			return nil, fileOpError(desc.Name, fmt.Errorf("failed to move archive: %w", err))
		}
		result.Outcome = OutcomeNewerVersion
		result.StoredArchive = destination

	case present:
		logrus.Infof("The package of version %s is already added", desc.Version)
		result.Outcome = OutcomeDuplicate
		warnOnDifferentContent(archivePath, destination)

	default:
		// An older version is never moved into place. The archive stays where
		// it was uploaded and the descriptor is still overwritten below.
		logrus.Warnf("The package of older version %s is not stored, archive left at %s", desc.Version, archivePath)
		result.Outcome = OutcomeNotStored
	}

	if main.ArchitectureReset {
		logrus.Warnf("Main metadata of %s had no architecture list, starting a new one", desc.Name)
	}
	main.AddArchitecture(desc.Architecture)

	r.mergeFields(main, desc, cmp)

	if err := r.writeDescriptor(descriptorPath, main); err != nil {
		return nil, fileOpError(desc.Name, err)
	}

	return result, nil
}

func (r *Repository) writeDescriptor(path string, main *models.MainDescriptor) error {
	data, err := main.Marshal()
	if err != nil {
		return fmt.Errorf("failed to encode main metadata: %w", err)
	}
	if err := utils.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write main metadata: %w", err)
	}
	return nil
}

func warnOnDifferentContent(incoming, stored string) {
	same, err := utils.SameContent(incoming, stored)
	if err != nil {
		logrus.Debugf("Cannot compare %s with %s: %v", incoming, stored, err)
		return
	}
	if !same {
		logrus.Warnf("Archive %s differs from the stored %s of the same version", incoming, stored)
	}
}

func fileOpError(pkg string, err error) error {
	return &models.IngestError{Type: models.ErrFileOp, Package: pkg, Err: err}
}
