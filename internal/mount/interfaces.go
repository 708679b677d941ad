// internal/mount/interfaces.go

package mount

import (
	"bazil.org/fuse/fs"
)

// MetadataNode is a node carrying menu metadata as extended attributes
type MetadataNode interface {
	fs.Node
	fs.NodeGetxattrer
	fs.NodeListxattrer
	fs.NodeSetxattrer
	fs.NodeRemovexattrer
}

// Directory represents a menu directory
type Directory interface {
	MetadataNode
	fs.NodeStringLookuper
	fs.HandleReadDirAller
	fs.NodeMkdirer
	fs.NodeRemover
	fs.NodeRenamer
}

// FileInterface represents a menu file
type FileInterface interface {
	MetadataNode
	fs.NodeOpener
}

// SourceDirectory represents a directory below _UNSORTED
type SourceDirectory interface {
	fs.Node
	fs.NodeStringLookuper
	fs.HandleReadDirAller
	fs.NodeRenamer
}

// FileHandleInterface represents an open file handle
type FileHandleInterface interface {
	fs.Handle
	fs.HandleReader
	fs.HandleReleaser
}

var (
	_ fs.FS               = (*LayoutFS)(nil)
	_ Directory           = (*Dir)(nil)
	_ FileInterface       = (*File)(nil)
	_ SourceDirectory     = (*UnsortedDir)(nil)
	_ fs.NodeOpener       = (*UnsortedFile)(nil)
	_ FileHandleInterface = (*FileHandle)(nil)
)
