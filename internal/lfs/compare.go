package lfs

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

// Keying selects how entries of the two containers are paired.
type Keying int

const (
	// KeyByNumber pairs entries with the same global number. Use it when
	// both containers share an index space, e.g. a device and its clone.
	KeyByNumber Keying = iota
	// KeyByPath pairs entries by their position in the menu tree (long
	// names, with an occurrence index for duplicate sibling names). Use it
	// for layouts authored independently.
	KeyByPath
)

func (k Keying) String() string {
	if k == KeyByPath {
		return "path"
	}
	return "number"
}

// MarshalText implements encoding.TextMarshaler
func (k Keying) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *Keying) UnmarshalText(text []byte) error {
	switch string(text) {
	case "number":
		*k = KeyByNumber
	case "path":
		*k = KeyByPath
	default:
		return fmt.Errorf("unknown keying %q", text)
	}
	return nil
}

type compareOptions struct {
	keying Keying
}

// CompareOption configures Compare and SimpleCompare.
type CompareOption func(*compareOptions)

// WithKeying selects how entries are paired
func WithKeying(k Keying) CompareOption {
	return func(o *compareOptions) { o.keying = k }
}

// Difference is one entry that must be added, updated or deleted.
type Difference struct {
	Key    string  `json:"key" yaml:"key"`
	Name   string  `json:"name" yaml:"name"`
	Source *uint32 `json:"source,omitempty" yaml:"source,omitempty"`
	Target *uint32 `json:"target,omitempty" yaml:"target,omitempty"`
}

// TableDifferences is the diff of one global table. ToAdd holds entries
// only the source has, ToDelete entries only the target has.
type TableDifferences struct {
	ToAdd    []Difference `json:"to_add,omitempty" yaml:"to_add,omitempty"`
	ToUpdate []Difference `json:"to_update,omitempty" yaml:"to_update,omitempty"`
	ToDelete []Difference `json:"to_delete,omitempty" yaml:"to_delete,omitempty"`
}

// Count returns the number of differences
func (t *TableDifferences) Count() int {
	return len(t.ToAdd) + len(t.ToUpdate) + len(t.ToDelete)
}

// Empty reports whether the table has no differences
func (t *TableDifferences) Empty() bool { return t.Count() == 0 }

// Differences is the structural diff between two containers.
type Differences struct {
	Keying      Keying           `json:"-" yaml:"-"`
	Directories TableDifferences `json:"directories" yaml:"directories"`
	Files       TableDifferences `json:"files" yaml:"files"`
	Forks       TableDifferences `json:"forks" yaml:"forks"`
}

// Count returns the number of differences across all tables
func (d *Differences) Count() int {
	return d.Directories.Count() + d.Files.Count() + d.Forks.Count()
}

// Empty reports whether the containers are equal
func (d *Differences) Empty() bool { return d.Count() == 0 }

// CompareResult is the tri-state outcome of SimpleCompare.
type CompareResult int

const (
	NoDifferences CompareResult = iota
	HasDifferences
	CompareError
)

func (r CompareResult) String() string {
	switch r {
	case NoDifferences:
		return "in sync"
	case HasDifferences:
		return "out of sync"
	default:
		return "compare error"
	}
}

// Compare reports what must change for target to match source. Entries are
// equal when their keys match and their names, short names, colors, child
// order, fork kinds and fork CRCs match. File contents are never read.
//
// The engine is origin-agnostic. Callers strip provenance noise (menu
// position forks, root names across origins) before comparing, and compare
// a clone of any container that is still being mutated.
func Compare(source, target *FileSystem, opts ...CompareOption) (*Differences, error) {
	o := compareOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	diff := &Differences{Keying: o.keying}
	collect := func(t table, c change, d Difference) bool {
		diff.tableFor(t).append(c, d)
		return true
	}
	if err := compare(source, target, o, collect); err != nil {
		return nil, newError(OpCompare, EntryRef{}, err)
	}
	fsLogger.Debug("Compare by %s: %d dir, %d file, %d fork differences",
		o.keying, diff.Directories.Count(), diff.Files.Count(), diff.Forks.Count())
	return diff, nil
}

// SimpleCompare runs the same comparison as Compare but stops at the first
// difference. Both agree on NoDifferences.
func SimpleCompare(source, target *FileSystem, opts ...CompareOption) CompareResult {
	o := compareOptions{}
	for _, opt := range opts {
		opt(&o)
	}
	found := false
	stopAtFirst := func(table, change, Difference) bool {
		found = true
		return false
	}
	if err := compare(source, target, o, stopAtFirst); err != nil {
		fsLogger.Warn("Simple compare failed: %v", err)
		return CompareError
	}
	if found {
		return HasDifferences
	}
	return NoDifferences
}

type table int

const (
	tableDirectories table = iota
	tableFiles
	tableForks
)

type change int

const (
	changeAdd change = iota
	changeUpdate
	changeDelete
)

func (d *Differences) tableFor(t table) *TableDifferences {
	switch t {
	case tableDirectories:
		return &d.Directories
	case tableFiles:
		return &d.Files
	default:
		return &d.Forks
	}
}

func (t *TableDifferences) append(c change, d Difference) {
	switch c {
	case changeAdd:
		t.ToAdd = append(t.ToAdd, d)
	case changeUpdate:
		t.ToUpdate = append(t.ToUpdate, d)
	default:
		t.ToDelete = append(t.ToDelete, d)
	}
}

// sink receives differences in a deterministic order; returning false stops
// the comparison.
type sink func(table, change, Difference) bool

var errNilFileSystem = errors.New("nil file system")

func compare(source, target *FileSystem, o compareOptions, emit sink) error {
	if source == nil || target == nil {
		return errNilFileSystem
	}
	src, err := buildIndex(source, o.keying)
	if err != nil {
		return fmt.Errorf("indexing source: %w", err)
	}
	dst, err := buildIndex(target, o.keying)
	if err != nil {
		return fmt.Errorf("indexing target: %w", err)
	}

	for _, t := range []table{tableDirectories, tableFiles, tableForks} {
		s, d := src.tables[t], dst.tables[t]
		for _, key := range s.keys {
			a := s.items[key]
			b, inTarget := d.items[key]
			switch {
			case !inTarget:
				if !emit(t, changeAdd, Difference{Key: key, Name: a.name, Source: optional(a.number)}) {
					return nil
				}
			case a.attrs != b.attrs:
				if !emit(t, changeUpdate, Difference{Key: key, Name: a.name, Source: optional(a.number), Target: optional(b.number)}) {
					return nil
				}
			}
		}
		for _, key := range d.keys {
			if _, inSource := s.items[key]; inSource {
				continue
			}
			b := d.items[key]
			if !emit(t, changeDelete, Difference{Key: key, Name: b.name, Target: optional(b.number)}) {
				return nil
			}
		}
	}
	return nil
}

// digest is the comparable form of one table entry. attrs encodes every
// attribute that participates in equality.
type digest struct {
	number uint32
	name   string
	attrs  string
}

type tableIndex struct {
	keys  []string
	items map[string]digest
}

func (t *tableIndex) add(key string, d digest) error {
	if _, dup := t.items[key]; dup {
		return fmt.Errorf("%w: key %q indexed twice", ErrCorruptFileSystem, key)
	}
	t.keys = append(t.keys, key)
	t.items[key] = d
	return nil
}

type fsIndex struct {
	fs     *FileSystem
	keying Keying
	tables [3]*tableIndex
	seen   map[uint32]bool
}

// buildIndex walks the tree from the root in menu order. Entries not
// reachable from the root are not compared; the validator reports them.
func buildIndex(fs *FileSystem, keying Keying) (*fsIndex, error) {
	idx := &fsIndex{fs: fs, keying: keying, seen: map[uint32]bool{}}
	for i := range idx.tables {
		idx.tables[i] = &tableIndex{items: map[string]digest{}}
	}
	root := fs.Root()
	if err := idx.visitDirectory(root, idx.directoryKey(root, "", 0)); err != nil {
		return nil, err
	}
	return idx, nil
}

func (idx *fsIndex) directoryKey(d *Directory, parentPath string, occurrence int) string {
	if idx.keying == KeyByNumber {
		return "D#" + strconv.FormatUint(uint64(d.number), 10)
	}
	if d.number == RootDirectoryNumber && parentPath == "" {
		return "D:/"
	}
	return "D:" + childPath(parentPath, d.longName, occurrence)
}

func (idx *fsIndex) fileKey(f *File, parentPath string, occurrence int) string {
	if idx.keying == KeyByNumber {
		return "F#" + strconv.FormatUint(uint64(f.number), 10)
	}
	return "F:" + childPath(parentPath, f.longName, occurrence)
}

func (idx *fsIndex) recordKey(record *File, dirKey string) string {
	if idx.keying == KeyByNumber {
		return "F#" + strconv.FormatUint(uint64(record.number), 10)
	}
	return "R" + dirKey[1:]
}

func (idx *fsIndex) forkKey(fork *Fork, ownerKey string, kind ForkKind) string {
	if idx.keying == KeyByNumber {
		return "K#" + strconv.FormatUint(uint64(fork.number), 10)
	}
	return ownerKey + "@" + kind.String()
}

func childPath(parentPath, name string, occurrence int) string {
	return strings.TrimSuffix(parentPath, "/") + "/" + strconv.Quote(name) + "[" + strconv.Itoa(occurrence) + "]"
}

// pathOf strips the table prefix from a path key ("D:/a[0]" -> "/a[0]").
func pathOf(key string) string {
	if i := strings.IndexByte(key, ':'); i >= 0 {
		return key[i+1:]
	}
	return key
}

func (idx *fsIndex) visitDirectory(d *Directory, key string) error {
	if idx.seen[d.number] {
		return fmt.Errorf("%w: directory #%d reached twice", ErrCorruptFileSystem, d.number)
	}
	idx.seen[d.number] = true

	type resolved struct {
		entry Entry
		key   string
	}
	occurrences := map[string]int{}
	children := make([]resolved, 0, len(d.children))
	childKeys := make([]string, 0, len(d.children))
	for _, ref := range d.children {
		entry, ok := idx.fs.Entry(ref)
		if !ok {
			return fmt.Errorf("%w: directory #%d lists missing %s", ErrCorruptFileSystem, d.number, ref)
		}
		occurrenceKey := ref.Kind.String() + "/" + entry.LongName()
		occurrence := occurrences[occurrenceKey]
		occurrences[occurrenceKey]++

		var childKey string
		switch e := entry.(type) {
		case *Directory:
			childKey = idx.directoryKey(e, pathOf(key), occurrence)
		case *File:
			childKey = idx.fileKey(e, pathOf(key), occurrence)
		}
		children = append(children, resolved{entry: entry, key: childKey})
		childKeys = append(childKeys, strconv.Quote(childKey))
	}

	attrs := fmt.Sprintf("%q|%q|%d|[%s]", d.longName, d.ShortName(), d.color, strings.Join(childKeys, ","))
	if err := idx.tables[tableDirectories].add(key, digest{number: d.number, name: d.longName, attrs: attrs}); err != nil {
		return err
	}

	if record, ok := idx.fs.files.Get(d.fileNumber); ok {
		if err := idx.visitFile(record, idx.recordKey(record, key), key); err != nil {
			return err
		}
	}

	for _, child := range children {
		var err error
		switch e := child.entry.(type) {
		case *Directory:
			err = idx.visitDirectory(e, child.key)
		case *File:
			err = idx.visitFile(e, child.key, key)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (idx *fsIndex) visitFile(f *File, key, parentKey string) error {
	kinds := f.ForkKinds()
	kindNames := make([]string, len(kinds))
	for i, k := range kinds {
		kindNames[i] = k.String()
	}
	attrs := fmt.Sprintf("%q|%q|%d|%q|[%s]", f.longName, f.ShortName(), f.color, parentKey, strings.Join(kindNames, ","))
	if err := idx.tables[tableFiles].add(key, digest{number: f.number, name: f.longName, attrs: attrs}); err != nil {
		return err
	}

	for _, kind := range kinds {
		fork, ok := idx.fs.forks.Get(f.forks[kind])
		if !ok {
			return fmt.Errorf("%w: file #%d lists missing %s fork #%d", ErrCorruptFileSystem, f.number, kind, f.forks[kind])
		}
		forkAttrs := fmt.Sprintf("%s|%06x|%q", fork.kind, fork.crc, key)
		name := f.longName + " (" + kind.String() + ")"
		if err := idx.tables[tableForks].add(idx.forkKey(fork, key, kind), digest{number: fork.number, name: name, attrs: forkAttrs}); err != nil {
			return err
		}
	}
	return nil
}
