// Copyright (c) 2019 devblok
//
// This software is released under the MIT License.
// https://opensource.org/licenses/MIT

package resource

import (
	"errors"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/gobuffalo/packd"
	"github.com/gobuffalo/packr"
	"golang.org/x/exp/mmap"

	"github.com/devblok/korugfx/utility/kar"
)

// ErrNotFound is returned by sources that do not hold the requested file
var ErrNotFound = errors.New("resource: file not found")

// Source supplies raw resource file contents by slash separated name
type Source interface {
	ReadFile(name string) ([]byte, error)
}

// cleanName normalises a resource name so that it can never
// escape the root of a source.
func cleanName(name string) string {
	return strings.TrimPrefix(path.Clean("/"+filepath.ToSlash(name)), "/")
}

// DirSource reads resources from a directory on disk
type DirSource struct {
	root string
}

// NewDirSource creates a source rooted at dir
func NewDirSource(dir string) *DirSource {
	return &DirSource{root: dir}
}

// Root returns the directory the source reads from
func (d *DirSource) Root() string {
	return d.root
}

// Path returns the on-disk location of a resource
func (d *DirSource) Path(name string) string {
	return filepath.Join(d.root, filepath.FromSlash(cleanName(name)))
}

// Name maps an on-disk path back to its resource name.
// The second return is false for paths outside of the root.
func (d *DirSource) Name(p string) (string, bool) {
	rel, err := filepath.Rel(d.root, p)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", false
	}
	return filepath.ToSlash(rel), true
}

// ReadFile implements Source
func (d *DirSource) ReadFile(name string) ([]byte, error) {
	data, err := os.ReadFile(d.Path(name))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, ErrNotFound
	}
	return data, err
}

// ArchiveSource reads resources from a memory mapped kar archive
type ArchiveSource struct {
	mapped  *mmap.ReaderAt
	archive *kar.Archive
}

// OpenArchive maps the archive at path into memory
func OpenArchive(file string) (*ArchiveSource, error) {
	r, err := mmap.Open(file)
	if err != nil {
		return nil, err
	}
	ar, err := kar.Open(r)
	if err != nil {
		r.Close()
		return nil, err
	}
	return &ArchiveSource{mapped: r, archive: ar}, nil
}

// Names lists the resources held in the archive
func (a *ArchiveSource) Names() []string {
	return a.archive.Header().Names()
}

// ReadFile implements Source
func (a *ArchiveSource) ReadFile(name string) ([]byte, error) {
	data, err := a.archive.ReadAll(cleanName(name))
	if errors.Is(err, kar.ErrNotFound) {
		return nil, ErrNotFound
	}
	return data, err
}

// Close unmaps the archive
func (a *ArchiveSource) Close() error {
	return a.mapped.Close()
}

// BoxSource serves resources from a packr box
type BoxSource struct {
	box packr.Box
}

// DefaultsBox holds the resources compiled into the engine:
// placeholder and default textures.
func DefaultsBox() *BoxSource {
	return NewBoxSource(packr.NewBox("./defaults"))
}

// NewBoxSource serves resources from box
func NewBoxSource(box packr.Box) *BoxSource {
	return &BoxSource{box: box}
}

// ReadFile implements Source
func (b *BoxSource) ReadFile(name string) ([]byte, error) {
	name = cleanName(name)
	if !b.box.Has(name) {
		return nil, ErrNotFound
	}
	return b.box.Find(name)
}

// Names lists the files in the box
func (b *BoxSource) Names() ([]string, error) {
	var names []string
	err := b.box.Walk(func(name string, _ packd.File) error {
		names = append(names, filepath.ToSlash(name))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return names, nil
}

// Chain reads from the first source that holds the requested file
type Chain []Source

// ReadFile implements Source
func (c Chain) ReadFile(name string) ([]byte, error) {
	for _, s := range c {
		data, err := s.ReadFile(name)
		if errors.Is(err, ErrNotFound) {
			continue
		}
		return data, err
	}
	return nil, ErrNotFound
}
