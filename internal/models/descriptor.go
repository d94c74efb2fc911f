package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/tulpar/apgunpacker/internal/version"
)

// DescriptorFile is the name of the package descriptor inside an archive and
// of the aggregate descriptor inside a repository entry
const DescriptorFile = "metadata.json"

// Descriptor field names with a fixed meaning
const (
	FieldName         = "name"
	FieldVersion      = "version"
	FieldArchitecture = "architecture"
)

// Descriptor is a package descriptor read from an archive
type Descriptor struct {
	Name         string
	Version      string
	Architecture string

	// Fields holds every top-level field as found in the file, required ones
	// included, so unknown attributes pass through untouched
	Fields map[string]json.RawMessage
}

// ParseDescriptor decodes and validates a package descriptor.
// All failures are reported as ErrDescriptor.
func ParseDescriptor(data []byte) (*Descriptor, error) {
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, descriptorError("", errors.New("metadata.json is empty"))
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, descriptorError("", fmt.Errorf("failed to parse metadata.json: %w", err))
	}
	if fields == nil {
		return nil, descriptorError("", errors.New("metadata.json is not a JSON object"))
	}

	d := &Descriptor{Fields: fields}

	var err error
	if d.Name, err = requiredString(fields, FieldName); err != nil {
		return nil, descriptorError("", err)
	}
	if d.Version, err = requiredString(fields, FieldVersion); err != nil {
		return nil, descriptorError(d.Name, err)
	}
	if d.Architecture, err = requiredString(fields, FieldArchitecture); err != nil {
		return nil, descriptorError(d.Name, err)
	}

	if err := validatePathSegment(d.Name); err != nil {
		return nil, descriptorError(d.Name, fmt.Errorf("invalid package name: %w", err))
	}
	if err := validatePathSegment(version.Base(d.Version)); err != nil {
		return nil, descriptorError(d.Name, fmt.Errorf("invalid version %q: %w", d.Version, err))
	}

	return d, nil
}

// LoadDescriptor reads and parses a descriptor file. Only a regular file is
// accepted, never a symlink.
func LoadDescriptor(path string) (*Descriptor, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, descriptorError("", fmt.Errorf("cannot open metadata.json: %w", err))
	}
	if !info.Mode().IsRegular() {
		return nil, descriptorError("", fmt.Errorf("metadata.json is not a regular file (%s)", info.Mode().Type()))
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, descriptorError("", fmt.Errorf("cannot open metadata.json: %w", err))
	}
	return ParseDescriptor(data)
}

// ParsedVersion returns the descriptor version
func (d *Descriptor) ParsedVersion() version.Version {
	return version.Parse(d.Version)
}

func requiredString(fields map[string]json.RawMessage, key string) (string, error) {
	raw, ok := fields[key]
	if !ok {
		return "", fmt.Errorf("missing required field %q", key)
	}

	var value string
	if err := json.Unmarshal(raw, &value); err != nil {
		return "", fmt.Errorf("field %q must be a string", key)
	}
	if value == "" {
		return "", fmt.Errorf("field %q is empty", key)
	}
	return value, nil
}

// validatePathSegment rejects values that cannot be used as a single
// directory or file name component
func validatePathSegment(s string) error {
	switch {
	case s == "":
		return errors.New("empty")
	case s == "." || s == "..":
		return fmt.Errorf("%q is not allowed", s)
	case strings.ContainsAny(s, `/\`):
		return errors.New("contains a path separator")
	case strings.ContainsRune(s, 0):
		return errors.New("contains a NUL byte")
	}
	return nil
}

func descriptorError(pkg string, err error) error {
	return &IngestError{Type: ErrDescriptor, Package: pkg, Err: err}
}
