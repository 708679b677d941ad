package mount

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"locutusfs/internal/lfs"
	"locutusfs/internal/logging"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var (
	fileLogger = logging.GetLogger().WithPrefix("file")
)

// File represents a menu file. Its content is the source of its program
// fork.
type File struct {
	fs     *LayoutFS
	number uint32
}

// file resolves the node's table slot. Callers hold f.fs.mu.
func (f *File) file() (*lfs.File, error) {
	file, ok := f.fs.layout.File(f.number)
	if !ok || file.IsDirectoryRecord() {
		fileLogger.Debug("File #%d no longer exists", f.number)
		return nil, syscall.ENOENT
	}
	return file, nil
}

// programSource returns the absolute path backing the file, or "" when it
// has no program fork or the fork has no source.
func (f *File) programSource(file *lfs.File) (string, *lfs.Fork) {
	fork, ok := f.fs.layout.ForkOf(file, lfs.ForkProgram)
	if !ok || fork.SourcePath() == "" {
		return "", fork
	}
	path := fork.SourcePath()
	if !filepath.IsAbs(path) && f.fs.sourceDir != "" {
		path = filepath.Join(f.fs.sourceDir, path)
	}
	return path, fork
}

// Attr implements the Node interface, returning the file's attributes.
func (f *File) Attr(_ context.Context, a *fuse.Attr) error {
	f.fs.mu.RLock()
	defer f.fs.mu.RUnlock()

	fileLogger.Trace("Getting attributes for file #%d", f.number)
	file, err := f.file()
	if err != nil {
		return err
	}

	a.Inode = inodeOf(file.Ref())
	a.Mode = 0444
	a.Uid = f.fs.uid
	a.Gid = f.fs.gid
	a.BlockSize = 4096

	source, fork := f.programSource(file)
	if fork != nil {
		a.Size = fork.Size()
	}
	if source != "" {
		if info, statErr := os.Stat(source); statErr == nil {
			a.Size = safeInt64ToUint64(info.Size())
			a.Mtime, a.Atime, a.Ctime = info.ModTime(), info.ModTime(), info.ModTime()
		} else {
			fileLogger.Warn("Source of file #%d unavailable: %v", f.number, statErr)
		}
	}
	a.Blocks = blocks(a.Size)

	fileLogger.Trace("File attributes: mode=%v, size=%d", a.Mode, a.Size)
	return nil
}

// Open implements the NodeOpener interface, opening the program fork's
// source read-only.
func (f *File) Open(_ context.Context, req *fuse.OpenRequest, resp *fuse.OpenResponse) (fusefs.Handle, error) {
	fileLogger.Debug("Opening file #%d with flags %v", f.number, req.Flags)
	if !req.Flags.IsReadOnly() {
		fileLogger.Warn("Attempted write access to read-only file #%d", f.number)
		return nil, syscall.EPERM
	}

	f.fs.mu.RLock()
	file, err := f.file()
	var source string
	if err == nil {
		source, _ = f.programSource(file)
	}
	f.fs.mu.RUnlock()
	if err != nil {
		return nil, err
	}
	if source == "" {
		fileLogger.Warn("File #%d has no program source", f.number)
		return nil, ToFuseError(NewError(OpOpen, file.LongName(), lfs.ErrNotFound))
	}

	handle, err := os.Open(source)
	if err != nil {
		fileLogger.Warn("Program source of file #%d: %v", f.number, err)
		return nil, ToFuseError(err)
	}
	resp.Flags |= fuse.OpenDirectIO
	return &FileHandle{file: handle, path: source}, nil
}

// FileHandle reads a host source file on behalf of a menu or source node.
type FileHandle struct {
	file *os.File
	path string
	mu   sync.RWMutex
}

// Read serves req from the source at the requested offset.
func (fh *FileHandle) Read(_ context.Context, req *fuse.ReadRequest, resp *fuse.ReadResponse) error {
	fh.mu.RLock()
	defer fh.mu.RUnlock()

	buf := make([]byte, req.Size)
	n, err := fh.file.ReadAt(buf, req.Offset)
	if err != nil && err != io.EOF {
		fileLogger.Error("Read of %q at %d failed: %v", fh.path, req.Offset, err)
		return err
	}
	resp.Data = buf[:n]
	fileLogger.Trace("Read %d of %d bytes from %q at %d", n, req.Size, fh.path, req.Offset)
	return nil
}

// Release closes the source.
func (fh *FileHandle) Release(_ context.Context, _ *fuse.ReleaseRequest) error {
	fh.mu.Lock()
	defer fh.mu.Unlock()

	fileLogger.Trace("Closing %q", fh.path)
	return fh.file.Close()
}
