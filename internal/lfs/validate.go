package lfs

import (
	"fmt"
)

// OrphanReport lists live slots that nothing reachable from the root
// references. Orphans are remediable; see CleanupInvalidEntries.
type OrphanReport struct {
	Directories []uint32 `json:"directories,omitempty" yaml:"directories,omitempty"`
	Files       []uint32 `json:"files,omitempty" yaml:"files,omitempty"`
	Forks       []uint32 `json:"forks,omitempty" yaml:"forks,omitempty"`
}

// Empty reports whether no orphans were found
func (r *OrphanReport) Empty() bool { return r.Count() == 0 }

// Count returns the total number of orphaned slots
func (r *OrphanReport) Count() int {
	if r == nil {
		return 0
	}
	return len(r.Directories) + len(r.Files) + len(r.Forks)
}

// Validate checks the container's structural invariants without mutating
// it. Structural corruption is returned as a *CorruptionError; unreachable
// but otherwise well-formed slots are returned in the report.
func Validate(fs *FileSystem) (*OrphanReport, error) {
	v := &validator{
		fs:         fs,
		dirClaims:  map[uint32]uint32{},
		fileClaims: map[uint32]uint32{},
		forkClaims: map[uint32]uint32{},
	}
	v.checkTables()
	v.checkDirectories()
	v.checkFiles()
	v.checkParentChains()
	if len(v.problems) > 0 {
		fsLogger.Warn("Validation of %s file system found %d problem(s)", fs.origin, len(v.problems))
		return nil, &CorruptionError{Problems: v.problems}
	}

	report := v.orphans()
	if !report.Empty() {
		fsLogger.Info("Validation found %d orphaned dirs, %d files, %d forks",
			len(report.Directories), len(report.Files), len(report.Forks))
	}
	return report, nil
}

type validator struct {
	fs         *FileSystem
	problems   []string
	dirClaims  map[uint32]uint32 // directory -> claiming parent
	fileClaims map[uint32]uint32 // file -> claiming parent
	forkClaims map[uint32]uint32 // fork -> claiming file
}

func (v *validator) fail(format string, args ...interface{}) {
	v.problems = append(v.problems, fmt.Sprintf(format, args...))
}

func (v *validator) checkTables() {
	for _, t := range []struct {
		name  string
		usage TableUsage
	}{
		{"directory", v.fs.directories.usage()},
		{"file", v.fs.files.usage()},
		{"fork", v.fs.forks.usage()},
	} {
		if t.usage.InUse > t.usage.Size {
			v.fail("%s table has %d slots in use but only %d slots", t.name, t.usage.InUse, t.usage.Size)
		}
	}

	root, ok := v.fs.directories.Get(RootDirectoryNumber)
	if !ok {
		v.fail("root directory missing")
		return
	}
	if root.parent != NoNumber {
		v.fail("root directory claims parent #%d", root.parent)
	}
}

func (v *validator) checkDirectories() {
	fs := v.fs
	fs.directories.Each(func(n uint32, d *Directory) {
		if len(d.children) > fs.limits.MaxItemCount {
			v.fail("directory #%d has %d children, limit %d", n, len(d.children), fs.limits.MaxItemCount)
		}
		if n != RootDirectoryNumber {
			record, ok := fs.files.Get(d.fileNumber)
			switch {
			case !ok:
				v.fail("directory #%d housekeeping file #%d is not allocated", n, d.fileNumber)
			case record.directory != n:
				v.fail("directory #%d housekeeping file #%d points at directory #%d", n, d.fileNumber, record.directory)
			case record.parent != d.parent:
				v.fail("directory #%d housekeeping file #%d has parent #%d, want #%d", n, d.fileNumber, record.parent, d.parent)
			}
		}

		for _, child := range d.children {
			switch child.Kind {
			case KindDirectory:
				sub, ok := fs.directories.Get(child.Number)
				if !ok {
					v.fail("directory #%d lists free directory #%d", n, child.Number)
					continue
				}
				if child.Number == RootDirectoryNumber {
					v.fail("directory #%d lists the root directory", n)
				}
				if prev, dup := v.dirClaims[child.Number]; dup {
					v.fail("directory #%d claimed by directories #%d and #%d", child.Number, prev, n)
				}
				v.dirClaims[child.Number] = n
				if sub.parent != n {
					v.fail("directory #%d listed by #%d but has parent #%d", child.Number, n, sub.parent)
				}
			case KindFile:
				f, ok := fs.files.Get(child.Number)
				if !ok {
					v.fail("directory #%d lists free file #%d", n, child.Number)
					continue
				}
				if f.IsDirectoryRecord() {
					v.fail("directory #%d lists housekeeping file #%d", n, child.Number)
				}
				if prev, dup := v.fileClaims[child.Number]; dup {
					v.fail("file #%d claimed by directories #%d and #%d", child.Number, prev, n)
				}
				v.fileClaims[child.Number] = n
				if f.parent != n {
					v.fail("file #%d listed by directory #%d but has parent #%d", child.Number, n, f.parent)
				}
			default:
				v.fail("directory #%d lists invalid entry %s", n, child)
			}
		}
	})
}

func (v *validator) checkFiles() {
	fs := v.fs
	fs.files.Each(func(n uint32, f *File) {
		if f.IsDirectoryRecord() {
			if d, ok := fs.directories.Get(f.directory); ok && d.fileNumber != n {
				v.fail("file #%d keeps house for directory #%d, which uses file #%d", n, f.directory, d.fileNumber)
			}
		}
		for _, kind := range f.ForkKinds() {
			forkNumber := f.forks[kind]
			fork, ok := fs.forks.Get(forkNumber)
			if !ok {
				v.fail("file #%d %s fork #%d is not allocated", n, kind, forkNumber)
				continue
			}
			if prev, dup := v.forkClaims[forkNumber]; dup {
				v.fail("fork #%d shared by files #%d and #%d", forkNumber, prev, n)
			}
			v.forkClaims[forkNumber] = n
			if fork.file != n {
				v.fail("fork #%d attached to file #%d but records file #%d", forkNumber, n, fork.file)
			}
			if fork.kind != kind {
				v.fail("fork #%d attached as %s but holds %s", forkNumber, kind, fork.kind)
			}
		}
	})
}

// checkParentChains detects cycles, including ones unreachable from the root.
func (v *validator) checkParentChains() {
	fs := v.fs
	limit := fs.directories.ItemsInUse()
	fs.directories.Each(func(n uint32, d *Directory) {
		current := d
		for steps := uint32(0); current.parent != NoNumber; steps++ {
			if steps > limit {
				v.fail("directory #%d is part of a parent cycle", n)
				return
			}
			next, ok := fs.directories.Get(current.parent)
			if !ok {
				// Parent missing: an orphan, not a cycle.
				return
			}
			current = next
		}
	})
}

func (v *validator) orphans() *OrphanReport {
	fs := v.fs
	reachableDirs := map[uint32]bool{}
	reachableFiles := map[uint32]bool{}

	var visit func(d *Directory)
	visit = func(d *Directory) {
		reachableDirs[d.number] = true
		if d.fileNumber != NoNumber {
			reachableFiles[d.fileNumber] = true
		}
		for _, child := range d.children {
			switch child.Kind {
			case KindDirectory:
				if sub, ok := fs.directories.Get(child.Number); ok && !reachableDirs[child.Number] {
					visit(sub)
				}
			case KindFile:
				reachableFiles[child.Number] = true
			}
		}
	}
	visit(fs.Root())

	report := &OrphanReport{}
	fs.directories.Each(func(n uint32, _ *Directory) {
		if !reachableDirs[n] {
			report.Directories = append(report.Directories, n)
		}
	})
	fs.files.Each(func(n uint32, _ *File) {
		if !reachableFiles[n] {
			report.Files = append(report.Files, n)
		}
	})
	fs.forks.Each(func(n uint32, _ *Fork) {
		if _, claimed := v.forkClaims[n]; !claimed {
			report.Forks = append(report.Forks, n)
		}
	})
	return report
}

// CleanupInvalidEntries frees every orphan in report through the regular
// removal path and returns how many slots were released. Validate should
// have succeeded first.
func (fs *FileSystem) CleanupInvalidEntries(report *OrphanReport) (int, error) {
	if report.Empty() {
		return 0, nil
	}
	fsLogger.Info("Cleaning up %d orphaned entries", report.Count())

	released := 0
	free := func(ref EntryRef) error {
		entry, ok := fs.Entry(ref)
		if !ok {
			// Already released along with an orphaned ancestor.
			return nil
		}
		if parent, ok := fs.directories.Get(entry.Parent()); ok {
			if i := parent.IndexOf(ref); i >= 0 {
				parent.children = removeRefAt(parent.children, i)
			}
		}
		slots, err := fs.collect(ref)
		if err != nil {
			return newError(OpCleanup, ref, err)
		}
		fs.release(slots)
		released += len(slots.directories) + len(slots.files) + len(slots.forks)
		return nil
	}

	for _, n := range report.Directories {
		if err := free(DirectoryRef(n)); err != nil {
			return released, err
		}
	}
	for _, n := range report.Files {
		if err := free(FileRef(n)); err != nil {
			return released, err
		}
	}
	for _, n := range report.Forks {
		if _, ok := fs.forks.Get(n); !ok {
			continue
		}
		if err := fs.forks.Free(n); err != nil {
			return released, newError(OpCleanup, EntryRef{}, err)
		}
		fs.status |= DirtyForks
		released++
	}
	fsLogger.Info("Released %d orphaned slots", released)
	return released, nil
}
