package models

import (
	"errors"
	"fmt"
)

// ErrorType represents different categories of ingestion errors
type ErrorType int

const (
	ErrInputValidation ErrorType = iota
	ErrExtraction
	ErrDescriptor
	ErrNormalization
	ErrRepositoryState
	ErrFileOp
	ErrSigning
	ErrInvalidConfig
)

// ErrArchiveNotFound is returned when the submitted archive does not exist.
// Callers treat it as a soft no-op.
var ErrArchiveNotFound = errors.New("archive not found")

// String returns the string representation of ErrorType
func (e ErrorType) String() string {
	switch e {
	case ErrInputValidation:
		return "InputValidation"
	case ErrExtraction:
		return "Extraction"
	case ErrDescriptor:
		return "Descriptor"
	case ErrNormalization:
		return "Normalization"
	case ErrRepositoryState:
		return "RepositoryState"
	case ErrFileOp:
		return "FileOp"
	case ErrSigning:
		return "Signing"
	case ErrInvalidConfig:
		return "InvalidConfig"
	default:
		return "Unknown"
	}
}

// IngestError represents an error during archive ingestion
type IngestError struct {
	Type    ErrorType
	Package string
	Err     error
}

// Error implements the error interface
func (e *IngestError) Error() string {
	if e.Package != "" {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Package, e.Err)
	}
	return fmt.Sprintf("[%s] %v", e.Type, e.Err)
}

// Unwrap returns the wrapped error
func (e *IngestError) Unwrap() error {
	return e.Err
}

// IsType reports whether err is an IngestError of the given type
func IsType(err error, t ErrorType) bool {
	var ie *IngestError
	return errors.As(err, &ie) && ie.Type == t
}
