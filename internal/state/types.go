// Package state persists a host layout between runs.
package state

import (
	"path/filepath"
	"strings"

	"locutusfs/internal/lfs"
)

// CurrentVersion is the layout file version this build writes.
const CurrentVersion = 1

// Layout is the on-disk form of a host file system
type Layout struct {
	// Version for future compatibility
	Version int `json:"version" yaml:"version"`

	// FileSystem is the table dump of the layout
	FileSystem *lfs.Snapshot `json:"file_system" yaml:"file_system"`
}

// Format is the encoding of a layout file.
type Format int

const (
	FormatJSON Format = iota
	FormatYAML
)

func (f Format) String() string {
	if f == FormatYAML {
		return "yaml"
	}
	return "json"
}

func (f Format) extension() string {
	if f == FormatYAML {
		return ".yaml"
	}
	return ".json"
}

// FormatFor picks the encoding from a file name: .yaml and .yml files are
// YAML, everything else is JSON.
func FormatFor(path string) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		return FormatYAML
	default:
		return FormatJSON
	}
}
