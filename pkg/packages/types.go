package packages

import (
	"errors"
	"fmt"
	"regexp"
	"time"
)

// TypeGeneric is the only package type whose files are stored
const TypeGeneric = "generic"

var (
	// ErrNotFound is returned for a missing package or file
	ErrNotFound = errors.New("package not found")
	// ErrUnsupportedType is returned for package types other than generic
	ErrUnsupportedType = errors.New("package type is not supported")
	// ErrInvalidCoordinates is returned when a name, version or file name
	// does not match the generic package format
	ErrInvalidCoordinates = errors.New("invalid package coordinates")
	// ErrChecksumMismatch is returned when stored bytes no longer match
	// the digest recorded at upload
	ErrChecksumMismatch = errors.New("package file checksum mismatch")
)

var (
	namePattern    = regexp.MustCompile(`^[A-Za-z0-9._+-]+$`)
	versionPattern = regexp.MustCompile(`^(\.?[\w+-]+\.?)+$`)
	filePattern    = regexp.MustCompile(`^[A-Za-z0-9._+~-]+$`)
)

// Package is one version of a named package in a project
type Package struct {
	ID        int64     `json:"id"`
	ProjectID int64     `json:"project_id"`
	Type      string    `json:"package_type"`
	Name      string    `json:"name"`
	Version   string    `json:"version"`
	Files     []File    `json:"package_files"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// File is an uploaded package file. Content lives in a BlobStore.
type File struct {
	Name      string    `json:"file_name"`
	Size      int64     `json:"size"`
	SHA256    string    `json:"file_sha256"`
	CreatedAt time.Time `json:"created_at"`
}

// Coordinates address a package file
type Coordinates struct {
	ProjectID int64
	Type      string
	Name      string
	Version   string
	File      string
}

// Validate checks the type and the name, version and file formats. File
// may be empty for package-level operations.
func (c Coordinates) Validate() error {
	if c.Type != TypeGeneric {
		return fmt.Errorf("%w: %q", ErrUnsupportedType, c.Type)
	}
	if !namePattern.MatchString(c.Name) {
		return fmt.Errorf("%w: package name %q", ErrInvalidCoordinates, c.Name)
	}
	if !versionPattern.MatchString(c.Version) {
		return fmt.Errorf("%w: package version %q", ErrInvalidCoordinates, c.Version)
	}
	if c.File != "" && !filePattern.MatchString(c.File) {
		return fmt.Errorf("%w: file name %q", ErrInvalidCoordinates, c.File)
	}
	return nil
}

func (c Coordinates) blobKey() string {
	return fmt.Sprintf("projects/%d/packages/%s/%s/%s/%s", c.ProjectID, c.Type, c.Name, c.Version, c.File)
}

func (c Coordinates) packageKey() packageKey {
	return packageKey{projectID: c.ProjectID, typ: c.Type, name: c.Name, version: c.Version}
}

type packageKey struct {
	projectID int64
	typ       string
	name      string
	version   string
}
