package lfs

import (
	"fmt"
)

// ItemKind is the kind of item admission control is asked about.
type ItemKind int

const (
	ItemDirectory ItemKind = iota
	ItemFile
	ItemFork
)

func (k ItemKind) String() string {
	switch k {
	case ItemDirectory:
		return "directory"
	case ItemFile:
		return "file"
	case ItemFork:
		return "fork"
	default:
		return fmt.Sprintf("ItemKind(%d)", int(k))
	}
}

// CanAcceptMoreItems reports whether count items of kind fit at
// destination. For directories and files destination is a directory number;
// for forks it is the number of the file receiving them. When addingNewItems
// is false the items are being relocated and only the destination's child
// limit applies.
//
// The check is pure and must succeed before any mutation that grows the
// tree. A non-nil result is always a *Rejection.
func (fs *FileSystem) CanAcceptMoreItems(destination uint32, kind ItemKind, count int, addingNewItems bool) error {
	if count <= 0 {
		return nil
	}

	if kind == ItemFork {
		if _, ok := fs.files.Get(destination); !ok {
			return &Rejection{
				Reason:  RejectInvalidDestination,
				Message: fmt.Sprintf("file #%d does not exist", destination),
			}
		}
		if addingNewItems && fs.forks.ItemsRemaining() < uint32(count) {
			return fs.tableFull("fork", fs.forks.ItemsRemaining(), count)
		}
		return nil
	}

	if kind != ItemDirectory && kind != ItemFile {
		return &Rejection{
			Reason:  RejectInvalidDestination,
			Message: fmt.Sprintf("%s items cannot be placed in a directory", kind),
		}
	}

	dir, ok := fs.directories.Get(destination)
	if !ok {
		return &Rejection{
			Reason:  RejectInvalidDestination,
			Message: fmt.Sprintf("directory #%d does not exist", destination),
		}
	}

	if count+len(dir.children) > fs.limits.MaxItemCount {
		fsLogger.Debug("Directory #%d rejects %d %s(s): %d of %d slots used",
			destination, count, kind, len(dir.children), fs.limits.MaxItemCount)
		return &Rejection{
			Reason: RejectTooManyItems,
			Message: fmt.Sprintf("%q holds %d of %d items; %d more do not fit",
				dir.LongName(), len(dir.children), fs.limits.MaxItemCount, count),
		}
	}

	if !addingNewItems {
		return nil
	}

	// A directory entry consumes a directory slot and a file slot.
	if kind == ItemDirectory && fs.directories.ItemsRemaining() < uint32(count) {
		return fs.tableFull("directory", fs.directories.ItemsRemaining(), count)
	}
	if fs.files.ItemsRemaining() < uint32(count) {
		return fs.tableFull("file", fs.files.ItemsRemaining(), count)
	}
	return nil
}

// CanAcceptNewFile reports whether a new file carrying forks forks fits in
// directory destination. Like CanAcceptMoreItems it is pure, so callers can
// check before adding the file and attaching its forks.
func (fs *FileSystem) CanAcceptNewFile(destination uint32, forks int) error {
	if err := fs.CanAcceptMoreItems(destination, ItemFile, 1, true); err != nil {
		return err
	}
	if forks > 0 && fs.forks.ItemsRemaining() < uint32(forks) {
		return fs.tableFull("fork", fs.forks.ItemsRemaining(), forks)
	}
	return nil
}

func (fs *FileSystem) tableFull(table string, remaining uint32, count int) *Rejection {
	fsLogger.Debug("%s table rejects %d item(s), %d remaining", table, count, remaining)
	return &Rejection{
		Reason:  RejectTableFull,
		Message: fmt.Sprintf("the %s table has %d free slot(s); %d needed", table, remaining, count),
	}
}
