package mount

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"syscall"

	"locutusfs/internal/lfs"
	"locutusfs/internal/logging"

	"bazil.org/fuse"
)

var (
	xattrLogger = logging.GetLogger().WithPrefix("xattr")
)

// Extended attributes carrying menu metadata
const (
	XattrColor      = "user.lfs.color"     // Menu color, read-write
	XattrShortName  = "user.lfs.shortname" // Short name, read-write
	XattrEntry      = "user.lfs.entry"     // Table reference, read-only
	XattrCrc24      = "user.lfs.crc24"     // Program fork CRC, read-only
	XattrForkPrefix = "user.lfs.fork."     // Followed by a fork kind; value is the source path
)

// metadataEditor is satisfied by both entry kinds
type metadataEditor interface {
	SetShortName(name string) error
	SetColor(c lfs.Color)
}

func xattrValue(value []byte) string {
	return strings.TrimRight(string(value), "\x00\n")
}

// getxattr reads one attribute. Callers hold vfs.mu.
func (vfs *LayoutFS) getxattr(entry lfs.Entry, name string) ([]byte, error) {
	switch name {
	case XattrColor:
		return []byte(entry.Color().String()), nil
	case XattrShortName:
		return []byte(entry.ShortName()), nil
	case XattrEntry:
		return []byte(entry.Ref().String()), nil
	}

	file, isFile := entry.(*lfs.File)
	if !isFile {
		return nil, fuse.ErrNoXattr
	}
	if name == XattrCrc24 {
		fork, ok := vfs.layout.ForkOf(file, lfs.ForkProgram)
		if !ok {
			return nil, fuse.ErrNoXattr
		}
		return []byte(fmt.Sprintf("%06x", fork.Crc24())), nil
	}
	if strings.HasPrefix(name, XattrForkPrefix) {
		kind, err := lfs.ParseForkKind(strings.TrimPrefix(name, XattrForkPrefix))
		if err != nil {
			return nil, fuse.ErrNoXattr
		}
		fork, ok := vfs.layout.ForkOf(file, kind)
		if !ok {
			return nil, fuse.ErrNoXattr
		}
		return []byte(fork.SourcePath()), nil
	}
	return nil, fuse.ErrNoXattr
}

// listxattr names every attribute entry carries. Callers hold vfs.mu.
func (vfs *LayoutFS) listxattr(entry lfs.Entry) []string {
	names := []string{XattrColor, XattrShortName, XattrEntry}
	file, isFile := entry.(*lfs.File)
	if !isFile {
		return names
	}
	if _, ok := file.Fork(lfs.ForkProgram); ok {
		names = append(names, XattrCrc24)
	}
	for _, kind := range file.ForkKinds() {
		names = append(names, XattrForkPrefix+kind.String())
	}
	return names
}

// setxattr changes one attribute. Callers hold vfs.mu for writing.
func (vfs *LayoutFS) setxattr(entry lfs.Entry, name string, value string) error {
	editor := entry.(metadataEditor)
	switch name {
	case XattrColor:
		color, err := lfs.ParseColor(value)
		if err != nil {
			xattrLogger.Warn("Rejecting color %q: %v", value, err)
			return syscall.EINVAL
		}
		editor.SetColor(color)
		return nil
	case XattrShortName:
		return ToFuseError(editor.SetShortName(value))
	case XattrEntry, XattrCrc24:
		return ToFuseError(NewError(OpSetxattr, name, ErrReadOnly))
	}

	file, isFile := entry.(*lfs.File)
	if !isFile || !strings.HasPrefix(name, XattrForkPrefix) {
		return syscall.ENOTSUP
	}
	kind, err := lfs.ParseForkKind(strings.TrimPrefix(name, XattrForkPrefix))
	if err != nil {
		return syscall.ENOTSUP
	}
	fork, err := vfs.forkFromSource(kind, value)
	if err != nil {
		return ToFuseError(err)
	}
	if err := vfs.layout.SetFork(file.Number(), fork); err != nil {
		xattrLogger.Warn("Cannot attach %s fork to %s: %v", kind, file.Ref(), err)
		return ToFuseError(err)
	}
	return nil
}

// removexattr resets one attribute. Callers hold vfs.mu for writing.
func (vfs *LayoutFS) removexattr(entry lfs.Entry, name string) error {
	editor := entry.(metadataEditor)
	switch name {
	case XattrColor:
		editor.SetColor(lfs.ColorNotColored)
		return nil
	case XattrShortName:
		return ToFuseError(editor.SetShortName(""))
	case XattrEntry, XattrCrc24:
		return ToFuseError(NewError(OpSetxattr, name, ErrReadOnly))
	}

	file, isFile := entry.(*lfs.File)
	if !isFile || !strings.HasPrefix(name, XattrForkPrefix) {
		return fuse.ErrNoXattr
	}
	kind, err := lfs.ParseForkKind(strings.TrimPrefix(name, XattrForkPrefix))
	if err != nil {
		return fuse.ErrNoXattr
	}
	if _, ok := file.Fork(kind); !ok {
		return fuse.ErrNoXattr
	}
	return ToFuseError(vfs.layout.ClearFork(file.Number(), kind))
}

// forkFromSource builds a detached fork for the file at path, relative
// paths being resolved against the source directory.
func (vfs *LayoutFS) forkFromSource(kind lfs.ForkKind, path string) (*lfs.Fork, error) {
	if !filepath.IsAbs(path) {
		if vfs.sourceDir == "" {
			return nil, NewError(OpImport, path, lfs.ErrInvalidDestination)
		}
		path = filepath.Join(vfs.sourceDir, path)
	}

	source, err := os.Open(path)
	if err != nil {
		return nil, NewError(OpImport, path, err)
	}
	defer source.Close()

	crc, size, err := lfs.ComputeCrc24(source)
	if err != nil {
		return nil, NewError(OpImport, path, err)
	}
	xattrLogger.Debug("Read %s source %q: crc %06x, %d bytes", kind, path, crc, size)
	return lfs.NewFork(kind, crc, path, size), nil
}

// Getxattr implements the NodeGetxattrer interface.
func (d *Dir) Getxattr(_ context.Context, req *fuse.GetxattrRequest, resp *fuse.GetxattrResponse) error {
	d.fs.mu.RLock()
	defer d.fs.mu.RUnlock()

	dir, err := d.directory()
	if err != nil {
		return err
	}
	value, err := d.fs.getxattr(dir, req.Name)
	if err != nil {
		return err
	}
	resp.Xattr = value
	return nil
}

// Listxattr implements the NodeListxattrer interface.
func (d *Dir) Listxattr(_ context.Context, _ *fuse.ListxattrRequest, resp *fuse.ListxattrResponse) error {
	d.fs.mu.RLock()
	defer d.fs.mu.RUnlock()

	dir, err := d.directory()
	if err != nil {
		return err
	}
	resp.Append(d.fs.listxattr(dir)...)
	return nil
}

// Setxattr implements the NodeSetxattrer interface.
func (d *Dir) Setxattr(_ context.Context, req *fuse.SetxattrRequest) error {
	xattrLogger.Debug("Setting %q on directory #%d", req.Name, d.number)
	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()

	dir, err := d.directory()
	if err != nil {
		return err
	}
	if err := d.fs.setxattr(dir, req.Name, xattrValue(req.Xattr)); err != nil {
		return err
	}
	return ToFuseError(d.fs.commit(OpSetxattr, req.Name))
}

// Removexattr implements the NodeRemovexattrer interface.
func (d *Dir) Removexattr(_ context.Context, req *fuse.RemovexattrRequest) error {
	xattrLogger.Debug("Removing %q from directory #%d", req.Name, d.number)
	d.fs.mu.Lock()
	defer d.fs.mu.Unlock()

	dir, err := d.directory()
	if err != nil {
		return err
	}
	if err := d.fs.removexattr(dir, req.Name); err != nil {
		return err
	}
	return ToFuseError(d.fs.commit(OpSetxattr, req.Name))
}

// Getxattr implements the NodeGetxattrer interface.
func (f *File) Getxattr(_ context.Context, req *fuse.GetxattrRequest, resp *fuse.GetxattrResponse) error {
	f.fs.mu.RLock()
	defer f.fs.mu.RUnlock()

	file, err := f.file()
	if err != nil {
		return err
	}
	value, err := f.fs.getxattr(file, req.Name)
	if err != nil {
		xattrLogger.Trace("Xattr %q not found on file #%d", req.Name, f.number)
		return err
	}
	resp.Xattr = value
	return nil
}

// Listxattr implements the NodeListxattrer interface.
func (f *File) Listxattr(_ context.Context, _ *fuse.ListxattrRequest, resp *fuse.ListxattrResponse) error {
	f.fs.mu.RLock()
	defer f.fs.mu.RUnlock()

	file, err := f.file()
	if err != nil {
		return err
	}
	resp.Append(f.fs.listxattr(file)...)
	return nil
}

// Setxattr implements the NodeSetxattrer interface.
func (f *File) Setxattr(_ context.Context, req *fuse.SetxattrRequest) error {
	xattrLogger.Debug("Setting %q on file #%d (%d bytes)", req.Name, f.number, len(req.Xattr))
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()

	file, err := f.file()
	if err != nil {
		return err
	}
	if err := f.fs.setxattr(file, req.Name, xattrValue(req.Xattr)); err != nil {
		return err
	}
	return ToFuseError(f.fs.commit(OpSetxattr, req.Name))
}

// Removexattr implements the NodeRemovexattrer interface.
func (f *File) Removexattr(_ context.Context, req *fuse.RemovexattrRequest) error {
	xattrLogger.Debug("Removing %q from file #%d", req.Name, f.number)
	f.fs.mu.Lock()
	defer f.fs.mu.Unlock()

	file, err := f.file()
	if err != nil {
		return err
	}
	if err := f.fs.removexattr(file, req.Name); err != nil {
		return err
	}
	return ToFuseError(f.fs.commit(OpSetxattr, req.Name))
}
