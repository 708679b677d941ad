package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"gopkg.in/yaml.v2"

	"locutusfs/internal/lfs"
	"locutusfs/internal/logging"
)

var (
	logger = logging.GetLogger().WithPrefix("state")
)

// DefaultBackupCount is how many backups are kept when none is configured.
const DefaultBackupCount = 5

// ErrUnsupportedVersion is returned for layout files written by a newer build.
var ErrUnsupportedVersion = errors.New("unsupported layout version")

// Manager handles loading and saving a host layout
type Manager struct {
	statePath   string
	backupDir   string
	backupCount int
	format      Format
	limits      lfs.Limits
	mu          sync.RWMutex
}

// NewManager creates a layout manager for the given file path. It ensures
// the directory exists and is writable. limits are used when no layout
// exists yet; a backupCount below 1 keeps DefaultBackupCount backups.
func NewManager(statePath string, limits lfs.Limits, backupCount int) (*Manager, error) {
	logger.Debug("Creating new state manager with path: %s", statePath)

	if err := limits.Validate(); err != nil {
		return nil, fmt.Errorf("invalid limits: %w", err)
	}

	absPath, err := filepath.Abs(statePath)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve state path %s: %w", statePath, err)
	}
	logger.Debug("Resolved state path: %s", absPath)

	stateDir := filepath.Dir(absPath)
	if mkdirErr := os.MkdirAll(stateDir, 0755); mkdirErr != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", stateDir, mkdirErr)
	}

	// Verify we have write permissions without truncating an existing layout
	f, writeErr := os.OpenFile(absPath, os.O_WRONLY|os.O_CREATE, 0644)
	if writeErr != nil {
		return nil, fmt.Errorf("failed to create state file %s: %w", absPath, writeErr)
	}
	f.Close()

	backupDir := filepath.Join(stateDir, ".locutusfs-backups")
	if backupDirErr := os.MkdirAll(backupDir, 0755); backupDirErr != nil {
		return nil, fmt.Errorf("failed to create backup directory %s: %w", backupDir, backupDirErr)
	}

	if backupCount < 1 {
		backupCount = DefaultBackupCount
	}

	m := &Manager{
		statePath:   absPath,
		backupDir:   backupDir,
		backupCount: backupCount,
		format:      FormatFor(absPath),
		limits:      limits,
	}
	logger.Info("State manager ready: %s (%s)", absPath, m.format)
	return m, nil
}

// Path returns the absolute layout file path
func (sm *Manager) Path() string { return sm.statePath }

// BackupDir returns the directory backups are written to
func (sm *Manager) BackupDir() string { return sm.backupDir }

// Load reads the layout from disk. If the file is missing or empty a new
// layout holding only the root is created and written.
func (sm *Manager) Load() (*lfs.FileSystem, error) {
	logger.Debug("Loading layout from: %s", sm.statePath)
	sm.mu.Lock()
	defer sm.mu.Unlock()

	data, err := os.ReadFile(sm.statePath)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to read state file: %w", err)
	}

	if len(data) == 0 {
		logger.Info("No layout found, creating an empty one")
		fs, err := lfs.New(lfs.OriginHostComputer, sm.limits)
		if err != nil {
			return nil, fmt.Errorf("failed to create initial layout: %w", err)
		}
		if err := sm.write(fs); err != nil {
			return nil, fmt.Errorf("failed to write initial layout: %w", err)
		}
		return fs, nil
	}

	logger.Debug("Parsing layout file (%d bytes)", len(data))
	layout, err := sm.decode(data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse state file: %w", err)
	}
	fs, err := lfs.FromSnapshot(layout.FileSystem)
	if err != nil {
		return nil, fmt.Errorf("failed to load layout: %w", err)
	}

	logger.Info("Layout loaded successfully")
	return fs, nil
}

// Save writes the layout to disk after backing up the previous version.
func (sm *Manager) Save(fs *lfs.FileSystem) error {
	sm.mu.Lock()
	defer sm.mu.Unlock()

	logger.Debug("Saving layout to: %s", sm.statePath)

	if backupErr := sm.createBackup(); backupErr != nil {
		logger.Warn("Failed to create backup: %v", backupErr)
		// Continue with save even if backup fails
	}
	return sm.write(fs)
}

func (sm *Manager) write(fs *lfs.FileSystem) error {
	data, marshalErr := sm.encode(&Layout{Version: CurrentVersion, FileSystem: fs.Snapshot()})
	if marshalErr != nil {
		return fmt.Errorf("failed to marshal layout: %w", marshalErr)
	}

	if len(data) == 0 {
		return fmt.Errorf("refusing to write empty layout data")
	}

	logger.Trace("Writing %d bytes of layout data", len(data))
	if err := os.WriteFile(sm.statePath, data, 0600); err != nil {
		return fmt.Errorf("failed to write state file: %w", err)
	}

	// Verify the write
	written, verifyErr := os.ReadFile(sm.statePath)
	if verifyErr != nil {
		return fmt.Errorf("failed to verify written layout: %w", verifyErr)
	}
	if len(written) != len(data) {
		return fmt.Errorf("layout file holds %d bytes after writing %d", len(written), len(data))
	}

	logger.Debug("Layout saved and verified successfully")
	return nil
}

func (sm *Manager) encode(layout *Layout) ([]byte, error) {
	return encode(sm.format, layout)
}

func (sm *Manager) decode(data []byte) (*Layout, error) {
	return decode(sm.format, data)
}

func encode(format Format, layout *Layout) ([]byte, error) {
	if format == FormatYAML {
		return yaml.Marshal(layout)
	}
	return json.MarshalIndent(layout, "", "  ")
}

func decode(format Format, data []byte) (*Layout, error) {
	var layout Layout
	var err error
	if format == FormatYAML {
		err = yaml.UnmarshalStrict(data, &layout)
	} else {
		err = json.Unmarshal(data, &layout)
	}
	if err != nil {
		return nil, err
	}
	if layout.FileSystem == nil {
		return nil, fmt.Errorf("layout has no file system")
	}
	if layout.Version > CurrentVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, layout.Version)
	}
	return &layout, nil
}

// ReadLayout loads a layout file without a manager, for example a device
// image to compare against. Unlike Load it never creates the file.
func ReadLayout(path string) (*lfs.FileSystem, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read layout %s: %w", path, err)
	}
	layout, err := decode(FormatFor(path), data)
	if err != nil {
		return nil, fmt.Errorf("failed to parse layout %s: %w", path, err)
	}
	fs, err := lfs.FromSnapshot(layout.FileSystem)
	if err != nil {
		return nil, fmt.Errorf("failed to load layout %s: %w", path, err)
	}
	return fs, nil
}

// WriteLayout writes fs to path in the format its extension selects.
func WriteLayout(path string, fs *lfs.FileSystem) error {
	data, err := encode(FormatFor(path), &Layout{Version: CurrentVersion, FileSystem: fs.Snapshot()})
	if err != nil {
		return fmt.Errorf("failed to marshal layout: %w", err)
	}
	if err := os.WriteFile(path, data, 0600); err != nil {
		return fmt.Errorf("failed to write layout %s: %w", path, err)
	}
	return nil
}

// createBackup creates a timestamped backup of the current layout file
func (sm *Manager) createBackup() error {
	data, err := os.ReadFile(sm.statePath)
	if os.IsNotExist(err) || (err == nil && len(data) == 0) {
		return nil
	}
	if err != nil {
		return err
	}

	timestamp := time.Now().Format("20060102-150405.000000")
	backupPath := filepath.Join(sm.backupDir, "layout-"+timestamp+sm.format.extension())

	logger.Debug("Creating backup: %s", backupPath)
	if err := os.WriteFile(backupPath, data, 0600); err != nil {
		return fmt.Errorf("failed to write backup: %w", err)
	}

	return sm.cleanupOldBackups()
}

// Backups lists the backup files, newest first.
func (sm *Manager) Backups() ([]string, error) {
	entries, err := os.ReadDir(sm.backupDir)
	if err != nil {
		return nil, err
	}

	var backups []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasPrefix(entry.Name(), "layout-") {
			backups = append(backups, filepath.Join(sm.backupDir, entry.Name()))
		}
	}

	// Names embed the timestamp, so they sort chronologically
	sort.Sort(sort.Reverse(sort.StringSlice(backups)))
	return backups, nil
}

// cleanupOldBackups removes old backup files, keeping only the most recent ones
func (sm *Manager) cleanupOldBackups() error {
	backups, err := sm.Backups()
	if err != nil {
		return err
	}

	for i := sm.backupCount; i < len(backups); i++ {
		logger.Debug("Removing old backup: %s", backups[i])
		if err := os.Remove(backups[i]); err != nil {
			return fmt.Errorf("failed to remove old backup %s: %w", backups[i], err)
		}
	}

	return nil
}
