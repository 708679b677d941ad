package mount

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"locutusfs/internal/lfs"
	"locutusfs/internal/logging"

	"bazil.org/fuse"
	fusefs "bazil.org/fuse/fs"
)

var (
	vfsLogger = logging.GetLogger().WithPrefix("vfs")
)

// LayoutStore persists the layout a mount edits. *state.Manager is one.
type LayoutStore interface {
	Load() (*lfs.FileSystem, error)
	Save(fs *lfs.FileSystem) error
}

// LayoutFS exposes a host layout as a FUSE file system. Directories are
// menu directories, files read their program fork's source, and every
// change is applied through the container and saved immediately.
type LayoutFS struct {
	sourceDir string          // Root directory of ROM files, may be empty
	layout    *lfs.FileSystem // Current layout
	store     LayoutStore     // Persists the layout, may be nil
	sources   *SourceIndex    // Source files already referenced by a fork
	conn      *fuse.Conn      // FUSE connection
	uid       uint32          // User ID for filesystem operations
	gid       uint32          // Group ID for filesystem operations
	mu        sync.RWMutex    // Protects layout access
	changed   func(lfs.DirtyFlags)
}

// NewLayoutFS creates a new mountable view of layout. sourceDir, when set,
// is offered under _UNSORTED so ROMs can be dragged into the menu.
func NewLayoutFS(sourceDir string, layout *lfs.FileSystem, store LayoutStore) (*LayoutFS, error) {
	vfsLogger.Info("Creating new layout filesystem")
	vfsLogger.Debug("Source directory: %q", sourceDir)

	if layout == nil {
		return nil, fmt.Errorf("layout is required")
	}

	if sourceDir != "" {
		abs, err := filepath.Abs(sourceDir)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve source directory %s: %w", sourceDir, err)
		}
		sourceDir = abs
	}

	// Get UID/GID from environment if set
	uid := safeIntToUint32(os.Getuid())
	gid := safeIntToUint32(os.Getgid())

	if puidStr := os.Getenv("PUID"); puidStr != "" {
		if puid, err := strconv.ParseUint(puidStr, 10, 32); err == nil {
			uid = uint32(puid)
			vfsLogger.Debug("Using PUID from environment: %d", uid)
		}
	}
	if pgidStr := os.Getenv("PGID"); pgidStr != "" {
		if pgid, err := strconv.ParseUint(pgidStr, 10, 32); err == nil {
			gid = uint32(pgid)
			vfsLogger.Debug("Using PGID from environment: %d", gid)
		}
	}

	vfs := &LayoutFS{
		sourceDir: sourceDir,
		layout:    layout,
		store:     store,
		sources:   NewSourceIndex(sourceDir, layout),
		uid:       uid,
		gid:       gid,
	}

	vfsLogger.Info("Layout filesystem created: %d sources referenced", vfs.sources.Len())
	return vfs, nil
}

// OnChange registers fn to be called with the container's dirty flags after
// every successful change.
func (vfs *LayoutFS) OnChange(fn func(lfs.DirtyFlags)) {
	vfs.mu.Lock()
	defer vfs.mu.Unlock()
	vfs.changed = fn
}

// Root implements the fusefs.FS interface, returning the root directory node.
func (vfs *LayoutFS) Root() (fusefs.Node, error) {
	vfsLogger.Trace("Getting root directory node")
	return &Dir{
		fs:     vfs,
		number: lfs.RootDirectoryNumber,
	}, nil
}

// commit persists the layout after a mutation. When saving fails the
// layout is reloaded from the store so the mount keeps serving what is on
// disk. Callers hold vfs.mu.
func (vfs *LayoutFS) commit(op string, target string) error {
	if vfs.store != nil {
		if err := vfs.store.Save(vfs.layout); err != nil {
			vfsLogger.Error("Failed to save layout after %s of %q: %v", op, target, err)
			if saved, loadErr := vfs.store.Load(); loadErr == nil {
				vfsLogger.Warn("Discarded unsaved %s of %q", op, target)
				vfs.layout = saved
			} else {
				vfsLogger.Error("Serving unsaved layout; reload failed: %v", loadErr)
			}
			vfs.sources = NewSourceIndex(vfs.sourceDir, vfs.layout)
			return NewError(op, target, err)
		}
	}
	vfs.sources = NewSourceIndex(vfs.sourceDir, vfs.layout)
	if vfs.changed != nil {
		vfs.changed(vfs.layout.Status())
	}
	return nil
}

func waitForMount(mountpoint string) error {
	for i := 0; i < 30; i++ {
		info, err := os.Stat(mountpoint)
		if err == nil && info.IsDir() {
			return nil
		}
		time.Sleep(100 * time.Millisecond)
	}
	return fmt.Errorf("mount point not available after 3 seconds")
}

// Mount mounts the layout and serves it in the background.
func (vfs *LayoutFS) Mount(mountPoint string, allowOther bool) error {
	vfsLogger.Info("Mounting layout filesystem")
	vfsLogger.Debug("Mount point: %s", mountPoint)
	vfsLogger.Debug("Source directory: %s", vfs.sourceDir)
	vfsLogger.Debug("UID: %d, GID: %d", vfs.uid, vfs.gid)

	// Check if source directory is readable
	if vfs.sourceDir != "" {
		if _, err := os.ReadDir(vfs.sourceDir); err != nil {
			vfsLogger.Error("Cannot read source directory: %v", err)
			return fmt.Errorf("source directory not readable: %w", err)
		}
	}

	mountOpts := []fuse.MountOption{
		fuse.FSName("locutusfs"),
		fuse.Subtype("locutusfs"),
		fuse.DefaultPermissions(),
		fuse.AsyncRead(),
		fuse.AllowNonEmptyMount(),
	}
	if allowOther {
		mountOpts = append(mountOpts, fuse.AllowOther())
	}

	vfsLogger.Debug("Mounting with %d options", len(mountOpts))

	c, err := fuse.Mount(mountPoint, mountOpts...)
	if err != nil {
		return fmt.Errorf("mount failed: %w", err)
	}
	vfs.conn = c

	go func() {
		if err := fusefs.Serve(c, vfs); err != nil {
			vfsLogger.Error("FUSE server error: %v", err)
		}
		vfsLogger.Debug("FUSE server stopped")
	}()

	// Wait for mount to be ready
	if err := waitForMount(mountPoint); err != nil {
		c.Close()
		vfsLogger.Error("Mount point not ready: %v", err)
		return fmt.Errorf("mount point failed to initialize: %w", err)
	}

	vfsLogger.Info("Filesystem mounted successfully")
	return nil
}

// Unmount cleanly unmounts the filesystem.
func (vfs *LayoutFS) Unmount(mountPoint string) error {
	vfsLogger.Info("Unmounting filesystem from: %s", mountPoint)
	if vfs.conn == nil {
		return nil
	}
	err := fuse.Unmount(mountPoint)
	if err != nil {
		vfsLogger.Error("Unmount failed: %v", err)
		return err
	}
	vfs.conn.Close()
	vfs.conn = nil
	vfsLogger.Info("Unmount completed successfully")
	return nil
}

// Wait blocks until ctx is done and then unmounts.
func (vfs *LayoutFS) Wait(ctx context.Context, mountPoint string) error {
	<-ctx.Done()
	return vfs.Unmount(mountPoint)
}
