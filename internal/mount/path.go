package mount

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"locutusfs/internal/lfs"
	"locutusfs/internal/logging"

	"github.com/gosimple/slug"
)

var (
	pathLogger = logging.GetLogger().WithPrefix("path")
)

// UnsortedName is the root entry listing source files not yet in the menu.
const UnsortedName = "_UNSORTED"

// SourcePath represents a path in the actual source filesystem.
// All paths are stored relative to the source root directory.
type SourcePath struct {
	// relative path from source root, "" for the root itself
	path string
}

// NewSourcePath creates a new SourcePath instance.
// It cleans the path and ensures it's relative to the source root.
func NewSourcePath(path string) *SourcePath {
	cleaned := filepath.Clean("/" + path)
	cleaned = strings.TrimPrefix(cleaned, "/")
	pathLogger.Trace("Creating new source path: %q -> %q", path, cleaned)
	return &SourcePath{path: cleaned}
}

// String returns the string representation of the path
func (sp *SourcePath) String() string {
	return sp.path
}

// IsRoot reports whether the path is the source root
func (sp *SourcePath) IsRoot() bool {
	return sp.path == ""
}

// Join returns the child path name below sp
func (sp *SourcePath) Join(name string) *SourcePath {
	return NewSourcePath(filepath.Join(sp.path, name))
}

// FullPath returns the absolute path by joining with the source root
func (sp *SourcePath) FullPath(sourceRoot string) string {
	full := filepath.Join(sourceRoot, sp.path)
	pathLogger.Trace("Getting full path: %q + %q -> %q", sourceRoot, sp.path, full)
	return full
}

// SourceIndex records which files below the source root are already
// referenced by a fork of the layout.
type SourceIndex struct {
	sourceRoot string
	referenced map[string]lfs.EntryRef // source path -> owning file
	logger     *logging.Logger
}

// NewSourceIndex scans every fork of layout for source paths inside
// sourceRoot.
func NewSourceIndex(sourceRoot string, layout *lfs.FileSystem) *SourceIndex {
	logger := logging.GetLogger().WithPrefix("sources")
	idx := &SourceIndex{
		sourceRoot: sourceRoot,
		referenced: make(map[string]lfs.EntryRef),
		logger:     logger,
	}
	if sourceRoot == "" {
		return idx
	}

	layout.Walk(func(entry lfs.Entry, _ int) bool {
		file, ok := entry.(*lfs.File)
		if !ok {
			return true
		}
		for _, kind := range file.ForkKinds() {
			fork, ok := layout.ForkOf(file, kind)
			if !ok || fork.SourcePath() == "" {
				continue
			}
			if sp, inside := idx.Relative(fork.SourcePath()); inside {
				logger.Trace("Source %q referenced by %s", sp.String(), file.Ref())
				idx.referenced[sp.String()] = file.Ref()
			}
		}
		return true
	})
	return idx
}

// Relative converts an absolute fork source path to a SourcePath, reporting
// false when it lies outside the source root.
func (idx *SourceIndex) Relative(path string) (*SourcePath, bool) {
	if idx.sourceRoot == "" || !filepath.IsAbs(path) {
		return nil, false
	}
	rel, err := filepath.Rel(idx.sourceRoot, path)
	if err != nil || rel == "." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
		return nil, false
	}
	return NewSourcePath(rel), true
}

// IsReferenced returns true if the source path belongs to a menu file
func (idx *SourceIndex) IsReferenced(sp *SourcePath) bool {
	_, exists := idx.referenced[sp.String()]
	idx.logger.Trace("Checking if path is referenced: %q (referenced=%v)", sp.String(), exists)
	return exists
}

// Owner returns the menu file referencing sp, if any
func (idx *SourceIndex) Owner(sp *SourcePath) (lfs.EntryRef, bool) {
	ref, exists := idx.referenced[sp.String()]
	return ref, exists
}

// Len returns the number of referenced source files
func (idx *SourceIndex) Len() int {
	return len(idx.referenced)
}

// Unreferenced returns every regular file below the source root that no
// fork refers to.
func (idx *SourceIndex) Unreferenced() []*SourcePath {
	idx.logger.Debug("Finding unreferenced source paths")
	if idx.sourceRoot == "" {
		return nil
	}

	var unreferenced []*SourcePath
	if err := filepath.Walk(idx.sourceRoot, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			idx.logger.Error("Error walking path %q: %v", path, err)
			return err
		}
		if info.IsDir() {
			return nil
		}

		relPath, err := filepath.Rel(idx.sourceRoot, path)
		if err != nil {
			return err
		}
		sp := NewSourcePath(relPath)
		if !idx.IsReferenced(sp) {
			unreferenced = append(unreferenced, sp)
		}
		return nil
	}); err != nil {
		idx.logger.Error("Failed to walk source directory: %v", err)
		return unreferenced
	}

	idx.logger.Debug("Found %d unreferenced paths", len(unreferenced))
	return unreferenced
}

// namedChild is a directory child under the name the mount shows for it.
type namedChild struct {
	name  string
	entry lfs.Entry
}

// NodeName returns the name an entry is listed under. Long names that
// cannot be path components are slugged, falling back to the entry's
// table reference.
func NodeName(entry lfs.Entry) string {
	name := entry.LongName()
	if name != "" && name != "." && name != ".." && !strings.ContainsAny(name, "/\x00") {
		return name
	}
	if s := slug.Make(name); s != "" {
		return s
	}
	ref := entry.Ref()
	return fmt.Sprintf("%s-%d", ref.Kind, ref.Number)
}

// childNames lists a directory's children in menu order with unique
// names. Later siblings sharing a name get a ~N suffix. Callers hold at
// least a read lock.
func (vfs *LayoutFS) childNames(d *lfs.Directory) []namedChild {
	seen := make(map[string]int)
	if d.Number() == lfs.RootDirectoryNumber && vfs.sourceDir != "" {
		seen[UnsortedName] = 1
	}

	children := make([]namedChild, 0, d.Len())
	for _, ref := range d.Children() {
		entry, ok := vfs.layout.Entry(ref)
		if !ok {
			pathLogger.Warn("Directory #%d lists missing %s", d.Number(), ref)
			continue
		}
		base := NodeName(entry)
		name := base
		for n := 1; seen[name] > 0; n++ {
			name = fmt.Sprintf("%s~%d", base, n)
		}
		seen[name]++
		children = append(children, namedChild{name: name, entry: entry})
	}
	return children
}

// child resolves a listed name within d
func (vfs *LayoutFS) child(d *lfs.Directory, name string) (lfs.Entry, bool) {
	for _, c := range vfs.childNames(d) {
		if c.name == name {
			return c.entry, true
		}
	}
	return nil, false
}
