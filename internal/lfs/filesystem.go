package lfs

import (
	"fmt"

	"locutusfs/internal/logging"
)

var (
	fsLogger = logging.GetLogger().WithPrefix("lfs")
)

// Limits are the capacity constants shared by host and device.
type Limits struct {
	DirectoryTableSize uint32 `json:"directory_table_size" yaml:"directory_table_size"`
	FileTableSize      uint32 `json:"file_table_size" yaml:"file_table_size"`
	ForkTableSize      uint32 `json:"fork_table_size" yaml:"fork_table_size"`
	MaxItemCount       int    `json:"max_item_count" yaml:"max_item_count"`
	MaxShortNameLength int    `json:"max_short_name_length" yaml:"max_short_name_length"`
	MaxLongNameLength  int    `json:"max_long_name_length" yaml:"max_long_name_length"`
}

// DefaultLimits returns the capacities of a device file system.
func DefaultLimits() Limits {
	return Limits{
		DirectoryTableSize: 255,
		FileTableSize:      2048,
		ForkTableSize:      2048,
		MaxItemCount:       255,
		MaxShortNameLength: 18,
		MaxLongNameLength:  60,
	}
}

// Validate checks that the limits describe a usable file system.
func (l Limits) Validate() error {
	if l.DirectoryTableSize == 0 {
		return fmt.Errorf("directory table size must be at least 1 for the root")
	}
	if l.DirectoryTableSize == NoNumber || l.FileTableSize == NoNumber || l.ForkTableSize == NoNumber {
		return fmt.Errorf("table size %d is reserved", NoNumber)
	}
	if l.MaxItemCount <= 0 {
		return fmt.Errorf("max item count must be positive, got %d", l.MaxItemCount)
	}
	if l.MaxShortNameLength < 0 || l.MaxLongNameLength < 0 {
		return fmt.Errorf("name lengths must not be negative")
	}
	return nil
}

// Origin records where a container's contents came from.
type Origin int

const (
	OriginNone Origin = iota
	OriginHostComputer
	OriginLtoFlashDevice
)

var originNames = []string{"none", "host", "device"}

func (o Origin) String() string {
	if o >= 0 && int(o) < len(originNames) {
		return originNames[o]
	}
	return fmt.Sprintf("Origin(%d)", int(o))
}

// MarshalText implements encoding.TextMarshaler
func (o Origin) MarshalText() ([]byte, error) {
	if o < 0 || int(o) >= len(originNames) {
		return nil, fmt.Errorf("invalid origin %d", int(o))
	}
	return []byte(originNames[o]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (o *Origin) UnmarshalText(text []byte) error {
	for i, n := range originNames {
		if n == string(text) {
			*o = Origin(i)
			return nil
		}
	}
	return fmt.Errorf("invalid origin %q", text)
}

// DirtyFlags tracks which tables differ from the last confirmed sync.
type DirtyFlags uint8

const (
	DirtyDirectories DirtyFlags = 1 << iota
	DirtyFiles
	DirtyForks

	DirtyNone DirtyFlags = 0
)

func (f DirtyFlags) String() string {
	if f == DirtyNone {
		return "clean"
	}
	out := ""
	for _, part := range []struct {
		flag DirtyFlags
		name string
	}{{DirtyDirectories, "directories"}, {DirtyFiles, "files"}, {DirtyForks, "forks"}} {
		if f&part.flag != 0 {
			if out != "" {
				out += "|"
			}
			out += part.name
		}
	}
	return out
}

// FileSystem is the container: it owns the three global tables and every
// entity reachable from them. It is not safe for concurrent use; callers
// serialize access to one instance.
type FileSystem struct {
	origin      Origin
	limits      Limits
	directories *Table[Directory]
	files       *Table[File]
	forks       *Table[Fork]
	status      DirtyFlags
}

// New creates an empty file system holding only the root directory.
func New(origin Origin, limits Limits) (*FileSystem, error) {
	if err := limits.Validate(); err != nil {
		return nil, fmt.Errorf("invalid limits: %w", err)
	}
	fs := newEmpty(origin, limits)
	root := fs.newRoot()
	if err := fs.directories.Reserve(RootDirectoryNumber, root); err != nil {
		return nil, fmt.Errorf("reserving root directory: %w", err)
	}
	fsLogger.Debug("Created %s file system (dirs=%d files=%d forks=%d)",
		origin, limits.DirectoryTableSize, limits.FileTableSize, limits.ForkTableSize)
	return fs, nil
}

func newEmpty(origin Origin, limits Limits) *FileSystem {
	return &FileSystem{
		origin:      origin,
		limits:      limits,
		directories: NewTable[Directory]("directory", limits.DirectoryTableSize),
		files:       NewTable[File]("file", limits.FileTableSize),
		forks:       NewTable[Fork]("fork", limits.ForkTableSize),
	}
}

func (fs *FileSystem) newRoot() *Directory {
	root := &Directory{
		number:     RootDirectoryNumber,
		fileNumber: NoNumber,
		parent:     NoNumber,
	}
	root.names = names{reserved: true, customShort: true, limits: &fs.limits, owner: fs, dirty: DirtyDirectories}
	return root
}

// Origin returns the container's provenance
func (fs *FileSystem) Origin() Origin { return fs.origin }

// Limits returns the capacity constants
func (fs *FileSystem) Limits() Limits { return fs.limits }

// Status returns the dirty flags
func (fs *FileSystem) Status() DirtyFlags { return fs.status }

// MarkSynced clears the dirty flags after a confirmed sync.
func (fs *FileSystem) MarkSynced() {
	fsLogger.Debug("Marking %s file system synced (was %s)", fs.origin, fs.status)
	fs.status = DirtyNone
}

// Usage reports the three tables' slot counts.
type Usage struct {
	Directories TableUsage `json:"directories" yaml:"directories"`
	Files       TableUsage `json:"files" yaml:"files"`
	Forks       TableUsage `json:"forks" yaml:"forks"`
}

// Usage returns the current table occupancy
func (fs *FileSystem) Usage() Usage {
	return Usage{
		Directories: fs.directories.usage(),
		Files:       fs.files.usage(),
		Forks:       fs.forks.usage(),
	}
}

// Root returns the root directory
func (fs *FileSystem) Root() *Directory {
	root, ok := fs.directories.Get(RootDirectoryNumber)
	if !ok {
		panic("lfs: root directory slot is free")
	}
	return root
}

// Directory returns the live directory with global number n
func (fs *FileSystem) Directory(n uint32) (*Directory, bool) { return fs.directories.Get(n) }

// File returns the live file with global number n
func (fs *FileSystem) File(n uint32) (*File, bool) { return fs.files.Get(n) }

// Fork returns the live fork with global number n
func (fs *FileSystem) Fork(n uint32) (*Fork, bool) { return fs.forks.Get(n) }

// Entry resolves a reference to a live directory or file.
func (fs *FileSystem) Entry(ref EntryRef) (Entry, bool) {
	switch ref.Kind {
	case KindDirectory:
		if d, ok := fs.directories.Get(ref.Number); ok {
			return d, true
		}
	case KindFile:
		if f, ok := fs.files.Get(ref.Number); ok {
			return f, true
		}
	}
	return nil, false
}

// ForkOf returns the fork of the given kind attached to a file.
func (fs *FileSystem) ForkOf(file *File, kind ForkKind) (*Fork, bool) {
	n, ok := file.forks[kind]
	if !ok {
		return nil, false
	}
	return fs.forks.Get(n)
}

// HousekeepingRecord returns the file record a directory consumes.
func (fs *FileSystem) HousekeepingRecord(d *Directory) (*File, bool) {
	if d.fileNumber == NoNumber {
		return nil, false
	}
	return fs.files.Get(d.fileNumber)
}

// NewDirectory creates a detached directory. It consumes table slots only
// once added to the tree.
func (fs *FileSystem) NewDirectory(longName string) (*Directory, error) {
	d := &Directory{number: NoNumber, fileNumber: NoNumber, parent: NoNumber}
	d.names = names{limits: &fs.limits, dirty: DirtyDirectories}
	if err := d.SetLongName(longName); err != nil {
		return nil, err
	}
	return d, nil
}

// NewFile creates a detached file.
func (fs *FileSystem) NewFile(longName string) (*File, error) {
	f := &File{number: NoNumber, parent: NoNumber, directory: NoNumber, forks: map[ForkKind]uint32{}}
	f.names = names{limits: &fs.limits, dirty: DirtyFiles}
	if err := f.SetLongName(longName); err != nil {
		return nil, err
	}
	return f, nil
}

// NewFork creates a detached fork.
func NewFork(kind ForkKind, crc uint32, sourcePath string, size uint64) *Fork {
	return &Fork{
		number:     NoNumber,
		kind:       kind,
		crc:        crc & crc24Mask,
		sourcePath: sourcePath,
		size:       size,
		file:       NoNumber,
	}
}

// WalkFunc is called for every entry of the tree with its depth (root's
// children are at depth 1). Returning false skips a directory's children.
type WalkFunc func(entry Entry, depth int) bool

// Walk visits the tree depth-first in menu order, starting at the root.
func (fs *FileSystem) Walk(fn WalkFunc) {
	fs.walkDirectory(fs.Root(), 0, fn, map[uint32]bool{})
}

func (fs *FileSystem) walkDirectory(d *Directory, depth int, fn WalkFunc, seen map[uint32]bool) {
	if seen[d.number] {
		fsLogger.Warn("Directory #%d visited twice during walk", d.number)
		return
	}
	seen[d.number] = true
	if !fn(d, depth) {
		return
	}
	for _, child := range d.children {
		entry, ok := fs.Entry(child)
		if !ok {
			fsLogger.Warn("Directory #%d lists missing child %s", d.number, child)
			continue
		}
		switch e := entry.(type) {
		case *Directory:
			fs.walkDirectory(e, depth+1, fn, seen)
		case *File:
			fn(e, depth+1)
		}
	}
}

// EstimatedForkBytes sums the size estimates of every live fork.
func (fs *FileSystem) EstimatedForkBytes() uint64 {
	var total uint64
	fs.forks.Each(func(_ uint32, f *Fork) { total += f.size })
	return total
}

// Clone returns an independent deep copy. Compare a clone rather than a
// container that is still being mutated.
func (fs *FileSystem) Clone() *FileSystem {
	out := newEmpty(fs.origin, fs.limits)
	out.status = fs.status
	fs.directories.Each(func(n uint32, d *Directory) {
		c := *d
		c.children = append([]EntryRef(nil), d.children...)
		c.names.limits = &out.limits
		c.names.owner = out
		if err := out.directories.Reserve(n, &c); err != nil {
			panic(fmt.Sprintf("lfs: cloning directory #%d: %v", n, err))
		}
	})
	fs.files.Each(func(n uint32, f *File) {
		c := *f
		c.forks = make(map[ForkKind]uint32, len(f.forks))
		for k, v := range f.forks {
			c.forks[k] = v
		}
		c.names.limits = &out.limits
		c.names.owner = out
		if err := out.files.Reserve(n, &c); err != nil {
			panic(fmt.Sprintf("lfs: cloning file #%d: %v", n, err))
		}
	})
	fs.forks.Each(func(n uint32, f *Fork) {
		c := *f
		if err := out.forks.Reserve(n, &c); err != nil {
			panic(fmt.Sprintf("lfs: cloning fork #%d: %v", n, err))
		}
	})
	return out
}

// PathOf returns the long names from the root's child down to entry.
func (fs *FileSystem) PathOf(ref EntryRef) ([]string, error) {
	var path []string
	entry, ok := fs.Entry(ref)
	if !ok {
		return nil, newError(OpLookupPath, ref, ErrNotFound)
	}
	for steps := 0; ; steps++ {
		if steps > int(fs.directories.Size())+1 {
			return nil, newError(OpLookupPath, ref, ErrCorruptFileSystem)
		}
		if d, isDir := entry.(*Directory); isDir && d.number == RootDirectoryNumber {
			break
		}
		path = append([]string{entry.LongName()}, path...)
		parent, ok := fs.directories.Get(entry.Parent())
		if !ok {
			return nil, newError(OpLookupPath, ref, ErrCorruptFileSystem)
		}
		entry = parent
	}
	return path, nil
}

// Lookup resolves a path of long names starting at the root. The first
// matching child wins when siblings share a name.
func (fs *FileSystem) Lookup(path []string) (Entry, error) {
	var current Entry = fs.Root()
	for i, name := range path {
		d, ok := current.(*Directory)
		if !ok {
			return nil, fmt.Errorf("%q is not a directory: %w", path[i-1], ErrNotFound)
		}
		var next Entry
		for _, child := range d.children {
			if e, ok := fs.Entry(child); ok && e.LongName() == name {
				next = e
				break
			}
		}
		if next == nil {
			return nil, fmt.Errorf("%q: %w", name, ErrNotFound)
		}
		current = next
	}
	return current, nil
}
