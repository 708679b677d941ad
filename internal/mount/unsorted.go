package mount

import (
	"context"
	"os"
	"path/filepath"
	"syscall"

	"locutusfs/internal/lfs"
	"locutusfs/internal/logging"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var (
	unsortedLogger = logging.GetLogger().WithPrefix("unsorted")
)

// UnsortedDir mirrors the source directory, hiding files the menu already
// references.
type UnsortedDir struct {
	fs   *LayoutFS
	path *SourcePath
}

func NewUnsortedDir(fs *LayoutFS, path *SourcePath) *UnsortedDir {
	unsortedLogger.Trace("New source view %q", path.String())
	return &UnsortedDir{
		fs:   fs,
		path: path,
	}
}

func (d *UnsortedDir) Attr(_ context.Context, a *fuse.Attr) error {
	a.Mode = os.ModeDir | 0555
	a.Uid, a.Gid = d.fs.uid, d.fs.gid
	if d.path.IsRoot() {
		return nil
	}
	return d.fs.statSource(d.path, a)
}

// statSource copies size and times of a source path into a
func (vfs *LayoutFS) statSource(p *SourcePath, a *fuse.Attr) error {
	info, err := os.Stat(p.FullPath(vfs.sourceDir))
	if err != nil {
		unsortedLogger.Warn("Source %q unavailable: %v", p.String(), err)
		return ToFuseError(err)
	}
	a.Size = safeInt64ToUint64(info.Size())
	a.Mtime, a.Atime, a.Ctime = info.ModTime(), info.ModTime(), info.ModTime()
	return nil
}

func (d *UnsortedDir) Lookup(_ context.Context, name string) (fusefs.Node, error) {
	unsortedLogger.Debug("Looking up %q in %s path %q", name, UnsortedName, d.path.String())
	childPath := d.path.Join(name)
	fullPath := childPath.FullPath(d.fs.sourceDir)

	info, err := os.Stat(fullPath)
	if err != nil {
		unsortedLogger.Debug("Lookup of %q failed: %v", fullPath, err)
		return nil, ToFuseError(err)
	}

	d.fs.mu.RLock()
	defer d.fs.mu.RUnlock()

	// Check if path is already in the menu
	if d.fs.sources.IsReferenced(childPath) {
		unsortedLogger.Debug("Path is already referenced: %q", childPath.String())
		return nil, syscall.ENOENT
	}

	if info.IsDir() {
		if !d.hasUnreferenced(childPath) {
			unsortedLogger.Debug("Directory has no unreferenced files: %q", childPath.String())
			return nil, syscall.ENOENT
		}
		return NewUnsortedDir(d.fs, childPath), nil
	}
	return &UnsortedFile{fs: d.fs, path: childPath}, nil
}

func (d *UnsortedDir) ReadDirAll(_ context.Context) ([]fuse.Dirent, error) {
	unsortedLogger.Debug("Reading %s directory: %q", UnsortedName, d.path.String())
	entries, err := os.ReadDir(d.path.FullPath(d.fs.sourceDir))
	if err != nil {
		unsortedLogger.Error("Failed to list source %q: %v", d.path.String(), err)
		return nil, ToFuseError(err)
	}

	d.fs.mu.RLock()
	defer d.fs.mu.RUnlock()

	var listing []fuse.Dirent
	for _, entry := range entries {
		childPath := d.path.Join(entry.Name())

		entryType := fuse.DT_File
		if entry.IsDir() {
			if !d.hasUnreferenced(childPath) {
				continue
			}
			entryType = fuse.DT_Dir
		} else if d.fs.sources.IsReferenced(childPath) {
			continue
		}

		listing = append(listing, fuse.Dirent{Name: entry.Name(), Type: entryType})
	}

	unsortedLogger.Trace("%d of %d source entries unreferenced", len(listing), len(entries))
	return listing, nil
}

// Rename imports a source file into a menu directory: a new menu file named
// req.NewName is appended there with a program fork over the source.
func (d *UnsortedDir) Rename(_ context.Context, req *fuse.RenameRequest, newDir fusefs.Node) error {
	unsortedLogger.Info("Importing %q/%q as %q", d.path.String(), req.OldName, req.NewName)

	var targetDir *Dir
	switch target := newDir.(type) {
	case *Dir:
		targetDir = target
	case *UnsortedDir:
		unsortedLogger.Warn("Cannot move within %s", UnsortedName)
		return syscall.EPERM
	default:
		return syscall.EINVAL
	}

	sp := d.path.Join(req.OldName)
	info, err := os.Stat(sp.FullPath(d.fs.sourceDir))
	if err != nil {
		return ToFuseError(err)
	}
	if info.IsDir() {
		unsortedLogger.Warn("Directories cannot be imported: %q", sp.String())
		return ToFuseError(NewError(OpImport, sp.String(), ErrNotPermitted))
	}

	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()

	parent, err := targetDir.directory()
	if err != nil {
		return err
	}
	if _, taken := d.fs.child(parent, req.NewName); taken {
		return syscall.EEXIST
	}

	if owner, referenced := d.fs.sources.Owner(sp); referenced {
		unsortedLogger.Warn("Source %q is already in the menu as %s", sp.String(), owner)
		return syscall.EEXIST
	}
	if err := d.fs.layout.CanAcceptNewFile(targetDir.number, 1); err != nil {
		unsortedLogger.Warn("Import rejected: %v", err)
		return ToFuseError(err)
	}

	fork, err := d.fs.forkFromSource(lfs.ForkProgram, sp.FullPath(d.fs.sourceDir))
	if err != nil {
		return ToFuseError(err)
	}
	file, err := d.fs.layout.NewFile(req.NewName)
	if err != nil {
		return ToFuseError(err)
	}
	if err := d.fs.layout.AddChild(targetDir.number, file); err != nil {
		return ToFuseError(err)
	}
	if err := d.fs.layout.SetFork(file.Number(), fork); err != nil {
		// Admission passed, so only a broken container gets here
		if rmErr := d.fs.layout.RemoveChild(targetDir.number, file.Ref()); rmErr != nil {
			unsortedLogger.Error("Failed to roll back import: %v", rmErr)
		}
		return ToFuseError(err)
	}

	if err := d.fs.commit(OpImport, sp.String()); err != nil {
		return ToFuseError(err)
	}

	unsortedLogger.Info("Imported %q as file #%d", sp.String(), file.Number())
	return nil
}

// hasUnreferenced reports whether any regular file below path is missing
// from the menu. Callers hold d.fs.mu.
func (d *UnsortedDir) hasUnreferenced(path *SourcePath) bool {
	entries, err := os.ReadDir(path.FullPath(d.fs.sourceDir))
	if err != nil {
		return false
	}

	for _, entry := range entries {
		childPath := path.Join(entry.Name())
		if entry.IsDir() {
			if d.hasUnreferenced(childPath) {
				return true
			}
			continue
		}
		if !d.fs.sources.IsReferenced(childPath) {
			return true
		}
	}
	return false
}

// UnsortedFile represents a source file not yet in the menu
type UnsortedFile struct {
	fs   *LayoutFS
	path *SourcePath
}

func (f *UnsortedFile) Attr(_ context.Context, a *fuse.Attr) error {
	a.Mode = 0444
	a.Uid, a.Gid = f.fs.uid, f.fs.gid
	if err := f.fs.statSource(f.path, a); err != nil {
		return err
	}
	a.BlockSize = 4096
	a.Blocks = blocks(a.Size)
	return nil
}

func (f *UnsortedFile) Open(_ context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fusefs.Handle, error) {
	if !req.Flags.IsReadOnly() {
		unsortedLogger.Warn("Refusing write open of source %q", f.path.String())
		return nil, syscall.EPERM
	}

	full := filepath.Clean(f.path.FullPath(f.fs.sourceDir))
	file, err := os.Open(full)
	if err != nil {
		return nil, ToFuseError(err)
	}
	resp.Flags |= fuse.OpenDirectIO
	return &FileHandle{file: file, path: full}, nil
}
