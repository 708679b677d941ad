package lfs

import (
	"fmt"
)

// AddChild attaches a new entry as the last child of parent.
func (fs *FileSystem) AddChild(parent uint32, entry Entry) error {
	return fs.insertNew(OpAdd, parent, -1, entry)
}

// InsertChild attaches a new entry at index within parent's children.
func (fs *FileSystem) InsertChild(parent uint32, index int, entry Entry) error {
	if index < 0 {
		return newError(OpInsert, entry.Ref(), ErrIndexOutOfRange)
	}
	return fs.insertNew(OpInsert, parent, index, entry)
}

func (fs *FileSystem) insertNew(op string, parentNumber uint32, index int, entry Entry) error {
	fsLogger.Debug("%s %q under directory #%d at %d", op, entry.LongName(), parentNumber, index)

	var kind ItemKind
	switch e := entry.(type) {
	case *Directory:
		if e.number != NoNumber || e.owner != nil {
			return newError(op, e.Ref(), ErrAlreadyAttached)
		}
		kind = ItemDirectory
	case *File:
		if e.number != NoNumber || e.owner != nil || e.directory != NoNumber {
			return newError(op, e.Ref(), ErrAlreadyAttached)
		}
		kind = ItemFile
	default:
		panic(fmt.Sprintf("lfs: unknown entry type %T", entry))
	}

	if err := fs.CanAcceptMoreItems(parentNumber, kind, 1, true); err != nil {
		return newError(op, DirectoryRef(parentNumber), err)
	}
	parent, _ := fs.directories.Get(parentNumber)
	if index < 0 {
		index = len(parent.children)
	}
	if index > len(parent.children) {
		return newError(op, DirectoryRef(parentNumber), ErrIndexOutOfRange)
	}

	switch e := entry.(type) {
	case *Directory:
		n, err := fs.directories.Allocate(e)
		if err != nil {
			return newError(op, DirectoryRef(parentNumber), err)
		}
		record := fs.newRecord(parentNumber)
		record.directory = n
		fn, err := fs.files.Allocate(record)
		if err != nil {
			_ = fs.directories.Free(n)
			return newError(op, DirectoryRef(parentNumber), err)
		}
		record.number = fn
		e.number, e.fileNumber, e.parent = n, fn, parentNumber
		fs.adopt(&e.names)
		fs.status |= DirtyDirectories | DirtyFiles
	case *File:
		n, err := fs.files.Allocate(e)
		if err != nil {
			return newError(op, DirectoryRef(parentNumber), err)
		}
		e.number, e.parent = n, parentNumber
		fs.adopt(&e.names)
		fs.status |= DirtyDirectories | DirtyFiles
	}

	parent.children = insertRef(parent.children, index, entry.Ref())
	fsLogger.Debug("Attached %s to directory #%d", entry.Ref(), parentNumber)
	return nil
}

func (fs *FileSystem) newRecord(parent uint32) *File {
	record := &File{number: NoNumber, parent: parent, directory: NoNumber, forks: map[ForkKind]uint32{}}
	record.names = names{limits: &fs.limits, owner: fs, dirty: DirtyFiles}
	return record
}

func (fs *FileSystem) adopt(n *names) {
	n.limits = &fs.limits
	n.owner = fs
}

// MoveChildToNewParent relocates a live entry. index < 0 appends. Moving
// within the same parent reorders the children without touching the tables.
// Either the move completes or nothing changes.
func (fs *FileSystem) MoveChildToNewParent(child EntryRef, newParent uint32, index int) error {
	fsLogger.Debug("Moving %s to directory #%d at %d", child, newParent, index)

	entry, ok := fs.Entry(child)
	if !ok {
		return newError(OpMove, child, ErrNotFound)
	}
	kind := ItemFile
	switch e := entry.(type) {
	case *Directory:
		if e.number == RootDirectoryNumber {
			return newError(OpMove, child, ErrRootImmutable)
		}
		kind = ItemDirectory
	case *File:
		if e.IsDirectoryRecord() {
			return newError(OpMove, child, ErrInvalidDestination)
		}
	}

	oldParent, ok := fs.directories.Get(entry.Parent())
	if !ok {
		return newError(OpMove, child, ErrCorruptFileSystem)
	}
	oldIndex := oldParent.IndexOf(child)
	if oldIndex < 0 {
		return newError(OpMove, child, ErrCorruptFileSystem)
	}

	if oldParent.number == newParent {
		last := len(oldParent.children) - 1
		if index < 0 {
			index = last
		}
		if index > last {
			return newError(OpMove, child, ErrIndexOutOfRange)
		}
		if index != oldIndex {
			oldParent.children = removeRefAt(oldParent.children, oldIndex)
			oldParent.children = insertRef(oldParent.children, index, child)
			fs.status |= DirtyDirectories
		}
		return nil
	}

	if err := fs.CanAcceptMoreItems(newParent, kind, 1, false); err != nil {
		return newError(OpMove, child, err)
	}
	dest, _ := fs.directories.Get(newParent)
	if index < 0 {
		index = len(dest.children)
	}
	if index > len(dest.children) {
		return newError(OpMove, child, ErrIndexOutOfRange)
	}
	if kind == ItemDirectory && fs.isWithin(newParent, child.Number) {
		return newError(OpMove, child, ErrCycle)
	}

	oldParent.children = removeRefAt(oldParent.children, oldIndex)
	dest.children = insertRef(dest.children, index, child)
	switch e := entry.(type) {
	case *Directory:
		e.parent = newParent
		if record, ok := fs.files.Get(e.fileNumber); ok {
			record.parent = newParent
		}
	case *File:
		e.parent = newParent
	}
	fs.status |= DirtyDirectories | DirtyFiles
	fsLogger.Debug("Moved %s from directory #%d to #%d", child, oldParent.number, newParent)
	return nil
}

// isWithin reports whether directory candidate is ancestor or lies beneath it.
func (fs *FileSystem) isWithin(candidate, ancestor uint32) bool {
	current := candidate
	for steps := uint32(0); steps <= fs.directories.Size(); steps++ {
		if current == ancestor {
			return true
		}
		d, ok := fs.directories.Get(current)
		if !ok || d.parent == NoNumber {
			return false
		}
		current = d.parent
	}
	// A parent chain longer than the table is a cycle; refuse the move.
	return true
}

// RemoveChild detaches child from parent and frees its slots, its forks
// and, for a directory, its entire subtree.
func (fs *FileSystem) RemoveChild(parent uint32, child EntryRef) error {
	fsLogger.Debug("Removing %s from directory #%d", child, parent)

	dir, ok := fs.directories.Get(parent)
	if !ok {
		return newError(OpRemove, DirectoryRef(parent), ErrInvalidDestination)
	}
	if child == DirectoryRef(RootDirectoryNumber) {
		return newError(OpRemove, child, ErrRootImmutable)
	}
	index := dir.IndexOf(child)
	if index < 0 {
		return newError(OpRemove, child, ErrNotFound)
	}

	slots, err := fs.collect(child)
	if err != nil {
		return newError(OpRemove, child, err)
	}

	dir.children = removeRefAt(dir.children, index)
	fs.release(slots)
	fsLogger.Debug("Removed %s: freed %d directories, %d files, %d forks",
		child, len(slots.directories), len(slots.files), len(slots.forks))
	return nil
}

// RemoveChildFromHierarchy removes every entry matching predicate, deepest
// first, and returns how many matched. The root is never offered.
func (fs *FileSystem) RemoveChildFromHierarchy(predicate func(Entry) bool) (int, error) {
	return fs.prune(fs.Root(), predicate, map[uint32]bool{})
}

func (fs *FileSystem) prune(d *Directory, predicate func(Entry) bool, seen map[uint32]bool) (int, error) {
	if seen[d.number] {
		return 0, newError(OpRemove, d.Ref(), ErrCorruptFileSystem)
	}
	seen[d.number] = true

	removed := 0
	for _, ref := range d.Children() {
		if ref.Kind != KindDirectory {
			continue
		}
		sub, ok := fs.directories.Get(ref.Number)
		if !ok {
			return removed, newError(OpRemove, ref, ErrCorruptFileSystem)
		}
		n, err := fs.prune(sub, predicate, seen)
		removed += n
		if err != nil {
			return removed, err
		}
	}

	for _, ref := range d.Children() {
		entry, ok := fs.Entry(ref)
		if !ok || !predicate(entry) {
			continue
		}
		if err := fs.RemoveChild(d.number, ref); err != nil {
			return removed, err
		}
		removed++
	}
	return removed, nil
}

// slotSet lists table slots to release, children before their parents.
type slotSet struct {
	directories []uint32
	files       []uint32
	forks       []uint32
}

// collect gathers every slot owned by ref, verifying they are all live so
// that release cannot fail halfway.
func (fs *FileSystem) collect(ref EntryRef) (*slotSet, error) {
	slots := &slotSet{}
	seenDirs := map[uint32]bool{}
	seenFiles := map[uint32]bool{}
	seenForks := map[uint32]bool{}

	addFile := func(f *File) error {
		if seenFiles[f.number] {
			return ErrCorruptFileSystem
		}
		seenFiles[f.number] = true
		for _, kind := range f.ForkKinds() {
			n := f.forks[kind]
			if _, ok := fs.forks.Get(n); !ok || seenForks[n] {
				return ErrCorruptFileSystem
			}
			seenForks[n] = true
			slots.forks = append(slots.forks, n)
		}
		slots.files = append(slots.files, f.number)
		return nil
	}

	var addDir func(d *Directory) error
	addDir = func(d *Directory) error {
		if seenDirs[d.number] {
			return ErrCorruptFileSystem
		}
		seenDirs[d.number] = true
		for i := len(d.children) - 1; i >= 0; i-- {
			child := d.children[i]
			entry, ok := fs.Entry(child)
			if !ok {
				return ErrCorruptFileSystem
			}
			var err error
			switch e := entry.(type) {
			case *Directory:
				err = addDir(e)
			case *File:
				err = addFile(e)
			}
			if err != nil {
				return err
			}
		}
		if record, ok := fs.files.Get(d.fileNumber); ok {
			if err := addFile(record); err != nil {
				return err
			}
		}
		slots.directories = append(slots.directories, d.number)
		return nil
	}

	entry, ok := fs.Entry(ref)
	if !ok {
		return nil, ErrNotFound
	}
	var err error
	switch e := entry.(type) {
	case *Directory:
		err = addDir(e)
	case *File:
		err = addFile(e)
	}
	if err != nil {
		return nil, err
	}
	return slots, nil
}

// release frees collected slots and marks the entities detached.
func (fs *FileSystem) release(slots *slotSet) {
	for _, n := range slots.forks {
		if f, ok := fs.forks.Get(n); ok {
			f.number, f.file = NoNumber, NoNumber
		}
		mustFree(fs.forks.Free(n), "fork", n)
	}
	for _, n := range slots.files {
		if f, ok := fs.files.Get(n); ok {
			f.number, f.parent, f.owner = NoNumber, NoNumber, nil
			f.forks = map[ForkKind]uint32{}
		}
		mustFree(fs.files.Free(n), "file", n)
	}
	for _, n := range slots.directories {
		if d, ok := fs.directories.Get(n); ok {
			d.number, d.fileNumber, d.parent, d.owner = NoNumber, NoNumber, NoNumber, nil
			d.children = nil
		}
		mustFree(fs.directories.Free(n), "directory", n)
	}
	if len(slots.forks) > 0 {
		fs.status |= DirtyForks
	}
	if len(slots.files) > 0 {
		fs.status |= DirtyFiles
	}
	fs.status |= DirtyDirectories
}

func mustFree(err error, table string, n uint32) {
	if err != nil {
		panic(fmt.Sprintf("lfs: freeing collected %s slot %d: %v", table, n, err))
	}
}

// SetFork attaches a new fork to a live file. A fork already attached under
// the same kind is freed and replaced.
func (fs *FileSystem) SetFork(fileNumber uint32, fork *Fork) error {
	ref := FileRef(fileNumber)
	if fork.number != NoNumber || fork.file != NoNumber {
		return newError(OpSetFork, ref, ErrAlreadyAttached)
	}
	file, ok := fs.files.Get(fileNumber)
	if !ok {
		return newError(OpSetFork, ref, &Rejection{
			Reason:  RejectInvalidDestination,
			Message: fmt.Sprintf("file #%d does not exist", fileNumber),
		})
	}

	if old, replacing := file.forks[fork.kind]; replacing {
		fsLogger.Debug("Replacing %s fork #%d of file #%d", fork.kind, old, fileNumber)
		if prev, ok := fs.forks.Get(old); ok {
			prev.number, prev.file = NoNumber, NoNumber
		}
		if err := fs.forks.Free(old); err != nil {
			return newError(OpSetFork, ref, fmt.Errorf("%w: fork #%d", ErrCorruptFileSystem, old))
		}
		delete(file.forks, fork.kind)
	} else if err := fs.CanAcceptMoreItems(fileNumber, ItemFork, 1, true); err != nil {
		return newError(OpSetFork, ref, err)
	}

	n, err := fs.forks.Allocate(fork)
	if err != nil {
		return newError(OpSetFork, ref, err)
	}
	fork.number, fork.file = n, fileNumber
	file.forks[fork.kind] = n
	fs.status |= DirtyForks | DirtyFiles
	fsLogger.Debug("Attached %s fork #%d (crc %06x) to file #%d", fork.kind, n, fork.crc, fileNumber)
	return nil
}

// ClearFork detaches and frees the fork of kind from a file.
func (fs *FileSystem) ClearFork(fileNumber uint32, kind ForkKind) error {
	ref := FileRef(fileNumber)
	file, ok := fs.files.Get(fileNumber)
	if !ok {
		return newError(OpClearFork, ref, ErrNotFound)
	}
	n, ok := file.forks[kind]
	if !ok {
		return newError(OpClearFork, ref, fmt.Errorf("%w: no %s fork", ErrNotFound, kind))
	}
	if fork, ok := fs.forks.Get(n); ok {
		fork.number, fork.file = NoNumber, NoNumber
	}
	if err := fs.forks.Free(n); err != nil {
		return newError(OpClearFork, ref, err)
	}
	delete(file.forks, kind)
	fs.status |= DirtyForks | DirtyFiles
	return nil
}

func insertRef(refs []EntryRef, index int, ref EntryRef) []EntryRef {
	refs = append(refs, EntryRef{})
	copy(refs[index+1:], refs[index:])
	refs[index] = ref
	return refs
}

func removeRefAt(refs []EntryRef, index int) []EntryRef {
	return append(refs[:index], refs[index+1:]...)
}
