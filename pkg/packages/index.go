package packages

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"sync"
	"time"
)

// Index tracks package metadata in memory and file contents in a BlobStore.
// It is safe for concurrent use.
type Index struct {
	blobs BlobStore
	now   func() time.Time

	mu       sync.RWMutex
	packages map[packageKey]*Package
	nextID   int64
}

// NewIndex creates an empty index over blobs
func NewIndex(blobs BlobStore) *Index {
	return &Index{
		blobs:    blobs,
		now:      time.Now,
		packages: make(map[packageKey]*Package),
	}
}

// Upload stores data as a package file, creating the package version on
// first upload. Re-uploading a file name replaces its content.
func (i *Index) Upload(ctx context.Context, c Coordinates, data []byte) (*Package, *File, error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}
	if c.File == "" {
		return nil, nil, fmt.Errorf("%w: file name is required", ErrInvalidCoordinates)
	}

	if err := i.blobs.Put(ctx, c.blobKey(), data); err != nil {
		return nil, nil, fmt.Errorf("failed to store package file: %w", err)
	}

	sum := sha256.Sum256(data)
	now := i.now().UTC()
	file := File{
		Name:      c.File,
		Size:      int64(len(data)),
		SHA256:    hex.EncodeToString(sum[:]),
		CreatedAt: now,
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	pkg, ok := i.packages[c.packageKey()]
	if !ok {
		i.nextID++
		pkg = &Package{
			ID:        i.nextID,
			ProjectID: c.ProjectID,
			Type:      c.Type,
			Name:      c.Name,
			Version:   c.Version,
			CreatedAt: now,
		}
		i.packages[c.packageKey()] = pkg
	}
	pkg.UpdatedAt = now

	replaced := false
	for n := range pkg.Files {
		if pkg.Files[n].Name == c.File {
			pkg.Files[n] = file
			replaced = true
			break
		}
	}
	if !replaced {
		pkg.Files = append(pkg.Files, file)
	}

	return clonePackage(pkg), &file, nil
}

// Download returns a file and its content. The content is checked against
// the digest recorded at upload.
func (i *Index) Download(ctx context.Context, c Coordinates) (*File, []byte, error) {
	if err := c.Validate(); err != nil {
		return nil, nil, err
	}

	i.mu.RLock()
	var file *File
	if pkg, ok := i.packages[c.packageKey()]; ok {
		for n := range pkg.Files {
			if pkg.Files[n].Name == c.File {
				f := pkg.Files[n]
				file = &f
				break
			}
		}
	}
	i.mu.RUnlock()

	if file == nil {
		return nil, nil, ErrNotFound
	}

	data, err := i.blobs.Get(ctx, c.blobKey())
	if err != nil {
		return nil, nil, err
	}

	sum := sha256.Sum256(data)
	if hex.EncodeToString(sum[:]) != file.SHA256 {
		return nil, nil, fmt.Errorf("%s: %w", c.File, ErrChecksumMismatch)
	}
	return file, data, nil
}

// Get returns a package version without its contents
func (i *Index) Get(_ context.Context, c Coordinates) (*Package, error) {
	i.mu.RLock()
	defer i.mu.RUnlock()

	pkg, ok := i.packages[c.packageKey()]
	if !ok {
		return nil, ErrNotFound
	}
	return clonePackage(pkg), nil
}

// Delete removes a package version and all of its files
func (i *Index) Delete(ctx context.Context, c Coordinates) error {
	if err := c.Validate(); err != nil {
		return err
	}

	i.mu.Lock()
	pkg, ok := i.packages[c.packageKey()]
	if ok {
		delete(i.packages, c.packageKey())
	}
	i.mu.Unlock()

	if !ok {
		return ErrNotFound
	}

	for _, f := range pkg.Files {
		fc := c
		fc.File = f.Name
		if err := i.blobs.Delete(ctx, fc.blobKey()); err != nil {
			return fmt.Errorf("failed to delete package file %s: %w", f.Name, err)
		}
	}
	return nil
}

// List returns the packages of the given projects ordered by project, name
// and version, plus the total count before paging. limit <= 0 returns
// everything from offset.
func (i *Index) List(_ context.Context, projectIDs []int64, offset, limit int) ([]*Package, int) {
	wanted := make(map[int64]bool, len(projectIDs))
	for _, id := range projectIDs {
		wanted[id] = true
	}

	i.mu.RLock()
	var matched []*Package
	for _, pkg := range i.packages {
		if wanted[pkg.ProjectID] {
			matched = append(matched, clonePackage(pkg))
		}
	}
	i.mu.RUnlock()

	sort.Slice(matched, func(a, b int) bool {
		pa, pb := matched[a], matched[b]
		if pa.ProjectID != pb.ProjectID {
			return pa.ProjectID < pb.ProjectID
		}
		if pa.Name != pb.Name {
			return pa.Name < pb.Name
		}
		return pa.Version < pb.Version
	})

	total := len(matched)
	if offset >= total {
		return []*Package{}, total
	}
	end := total
	if limit > 0 && offset+limit < total {
		end = offset + limit
	}
	return matched[offset:end], total
}

// ProjectIDs returns every project holding at least one package
func (i *Index) ProjectIDs() []int64 {
	i.mu.RLock()
	seen := make(map[int64]bool)
	for _, pkg := range i.packages {
		seen[pkg.ProjectID] = true
	}
	i.mu.RUnlock()

	ids := make([]int64, 0, len(seen))
	for id := range seen {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
	return ids
}

// HealthCheck reports the blob store's health
func (i *Index) HealthCheck(ctx context.Context) error {
	return i.blobs.HealthCheck(ctx)
}

func clonePackage(p *Package) *Package {
	cp := *p
	cp.Files = append([]File(nil), p.Files...)
	return &cp
}
