package mount

import (
	"context"
	"os"
	"syscall"

	"locutusfs/internal/lfs"
	"locutusfs/internal/logging"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var (
	dirLogger = logging.GetLogger().WithPrefix("dir")
)

// Dir represents a menu directory, addressed by its directory table number.
type Dir struct {
	fs     *LayoutFS
	number uint32
}

// renamer is satisfied by both entry kinds
type renamer interface {
	SetLongName(name string) error
}

// directory resolves the node's table slot. Callers hold d.fs.mu.
func (d *Dir) directory() (*lfs.Directory, error) {
	dir, ok := d.fs.layout.Directory(d.number)
	if !ok {
		dirLogger.Debug("Directory #%d no longer exists", d.number)
		return nil, syscall.ENOENT
	}
	return dir, nil
}

func (d *Dir) node(entry lfs.Entry) fusefs.Node {
	if sub, ok := entry.(*lfs.Directory); ok {
		return &Dir{fs: d.fs, number: sub.Number()}
	}
	return &File{fs: d.fs, number: entry.Ref().Number}
}

// Attr implements the Node interface, returning directory attributes.
func (d *Dir) Attr(_ context.Context, a *fuse.Attr) error {
	d.fs.mu.RLock()
	defer d.fs.mu.RUnlock()

	dirLogger.Trace("Getting attributes for directory #%d", d.number)
	dir, err := d.directory()
	if err != nil {
		return err
	}

	a.Inode = inodeOf(lfs.DirectoryRef(d.number))
	a.Mode = os.ModeDir | 0755
	a.Size = uint64(dir.Len())
	a.Uid = d.fs.uid
	a.Gid = d.fs.gid
	return nil
}

// Lookup implements the NodeStringLookuper interface, finding a child node.
func (d *Dir) Lookup(_ context.Context, name string) (fusefs.Node, error) {
	dirLogger.Debug("Looking up %q in directory #%d", name, d.number)

	// Check if this is the _UNSORTED directory
	if d.number == lfs.RootDirectoryNumber && name == UnsortedName && d.fs.sourceDir != "" {
		dirLogger.Debug("Returning UnsortedDir for %s", UnsortedName)
		return NewUnsortedDir(d.fs, NewSourcePath("")), nil
	}

	d.fs.mu.RLock()
	defer d.fs.mu.RUnlock()

	dir, err := d.directory()
	if err != nil {
		return nil, err
	}
	entry, ok := d.fs.child(dir, name)
	if !ok {
		dirLogger.Debug("Name not found: %q", name)
		return nil, syscall.ENOENT
	}

	dirLogger.Debug("Found %s for %q", entry.Ref(), name)
	return d.node(entry), nil
}

// ReadDirAll implements the HandleReadDirAller interface, listing the
// directory in menu order.
func (d *Dir) ReadDirAll(_ context.Context) ([]fuse.Dirent, error) {
	dirLogger.Debug("Reading directory contents: #%d", d.number)

	d.fs.mu.RLock()
	defer d.fs.mu.RUnlock()

	dir, err := d.directory()
	if err != nil {
		return nil, err
	}

	entries := []fuse.Dirent{
		{Name: ".", Type: fuse.DT_Dir},
		{Name: "..", Type: fuse.DT_Dir},
	}

	// For root, add _UNSORTED
	if d.number == lfs.RootDirectoryNumber && d.fs.sourceDir != "" {
		dirLogger.Trace("Adding %s to root directory listing", UnsortedName)
		entries = append(entries, fuse.Dirent{Name: UnsortedName, Type: fuse.DT_Dir})
	}

	for _, c := range d.fs.childNames(dir) {
		entryType := fuse.DT_File
		if _, isDir := c.entry.(*lfs.Directory); isDir {
			entryType = fuse.DT_Dir
		}
		entries = append(entries, fuse.Dirent{
			Inode: inodeOf(c.entry.Ref()),
			Name:  c.name,
			Type:  entryType,
		})
	}

	dirLogger.Debug("Directory #%d contains %d entries", d.number, len(entries))
	return entries, nil
}

// Mkdir implements the NodeMkdirer interface, appending a new menu
// directory.
func (d *Dir) Mkdir(_ context.Context, req *fuse.MkdirRequest) (fusefs.Node, error) {
	dirLogger.Info("Creating new directory %q in #%d", req.Name, d.number)

	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()

	dir, err := d.directory()
	if err != nil {
		return nil, err
	}
	if _, exists := d.fs.child(dir, req.Name); exists {
		return nil, syscall.EEXIST
	}

	newDir, err := d.fs.layout.NewDirectory(req.Name)
	if err != nil {
		return nil, ToFuseError(err)
	}
	if err := d.fs.layout.AddChild(d.number, newDir); err != nil {
		dirLogger.Warn("Cannot create %q: %v", req.Name, err)
		return nil, ToFuseError(err)
	}

	if err := d.fs.commit(OpMkdir, req.Name); err != nil {
		return nil, ToFuseError(err)
	}

	dirLogger.Info("Successfully created directory #%d", newDir.Number())
	return &Dir{fs: d.fs, number: newDir.Number()}, nil
}

// Remove implements the NodeRemover interface, removing a file or an empty
// directory along with its forks.
func (d *Dir) Remove(_ context.Context, req *fuse.RemoveRequest) error {
	dirLogger.Info("Removing %q from directory #%d (isDir=%v)", req.Name, d.number, req.Dir)

	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()

	dir, err := d.directory()
	if err != nil {
		return err
	}
	entry, ok := d.fs.child(dir, req.Name)
	if !ok {
		dirLogger.Warn("Name not found: %q", req.Name)
		return syscall.ENOENT
	}

	sub, isDir := entry.(*lfs.Directory)
	switch {
	case req.Dir && !isDir:
		return syscall.ENOTDIR
	case !req.Dir && isDir:
		return syscall.EISDIR
	case isDir && sub.Len() > 0:
		dirLogger.Warn("Directory not empty: %q", req.Name)
		return ToFuseError(NewError(OpRemove, req.Name, ErrDirectoryNotEmpty))
	}

	if err := d.fs.layout.RemoveChild(d.number, entry.Ref()); err != nil {
		dirLogger.Error("Failed to remove %q: %v", req.Name, err)
		return ToFuseError(err)
	}

	if err := d.fs.commit(OpRemove, req.Name); err != nil {
		return ToFuseError(err)
	}

	dirLogger.Info("Successfully removed %q", req.Name)
	return nil
}

// Rename implements the NodeRenamer interface. Moving to another directory
// appends the entry there; a new name becomes its long name.
func (d *Dir) Rename(_ context.Context, req *fuse.RenameRequest, newDir fusefs.Node) error {
	dirLogger.Info("Renaming %q to %q", req.OldName, req.NewName)

	var target *Dir
	switch t := newDir.(type) {
	case *Dir:
		target = t
	case *UnsortedDir:
		dirLogger.Warn("Cannot move to %s directory", UnsortedName)
		return syscall.EPERM
	default:
		dirLogger.Error("Target is not a valid directory type")
		return syscall.EINVAL
	}

	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()

	dir, err := d.directory()
	if err != nil {
		return err
	}
	targetDir, err := target.directory()
	if err != nil {
		return err
	}

	entry, ok := d.fs.child(dir, req.OldName)
	if !ok {
		dirLogger.Warn("Name not found: %q", req.OldName)
		return syscall.ENOENT
	}
	if existing, taken := d.fs.child(targetDir, req.NewName); taken && existing.Ref() != entry.Ref() {
		dirLogger.Warn("Target name already exists: %q", req.NewName)
		return syscall.EEXIST
	}
	if target.number == lfs.RootDirectoryNumber && req.NewName == UnsortedName && d.fs.sourceDir != "" {
		return syscall.EEXIST
	}

	limits := d.fs.layout.Limits()
	if limits.MaxLongNameLength > 0 && len([]rune(req.NewName)) > limits.MaxLongNameLength {
		return syscall.ENAMETOOLONG
	}

	if target.number != d.number {
		dirLogger.Debug("Moving %s from #%d to #%d", entry.Ref(), d.number, target.number)
		if err := d.fs.layout.MoveChildToNewParent(entry.Ref(), target.number, -1); err != nil {
			dirLogger.Warn("Move rejected: %v", err)
			return ToFuseError(err)
		}
	}

	// OldName is the listed name, which may carry a ~N suffix or a slug.
	// Only a changed name becomes the entry's long name.
	if req.NewName != req.OldName {
		if err := entry.(renamer).SetLongName(req.NewName); err != nil {
			return ToFuseError(err)
		}
	}

	if err := d.fs.commit(OpRename, req.NewName); err != nil {
		return ToFuseError(err)
	}

	dirLogger.Info("Successfully completed rename operation")
	return nil
}

// inodeOf gives directories and files disjoint inode numbers
func inodeOf(ref lfs.EntryRef) uint64 {
	if ref.Kind == lfs.KindDirectory {
		return uint64(ref.Number)*2 + 1
	}
	return uint64(ref.Number)*2 + 2
}
