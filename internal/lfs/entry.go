package lfs

import (
	"fmt"
	"sort"
	"strings"
)

// NoNumber marks an unset global number (detached entity, root parent, or a
// file record that does not stand for a directory).
const NoNumber uint32 = 0xFFFFFFFF

// RootDirectoryNumber is the reserved global number of the root directory.
const RootDirectoryNumber uint32 = 0

// EntryKind tags the two kinds of menu entries.
type EntryKind int

const (
	// KindDirectory is a folder in the menu tree
	KindDirectory EntryKind = iota + 1
	// KindFile is a leaf entry, usually a program
	KindFile
)

func (k EntryKind) String() string {
	switch k {
	case KindDirectory:
		return "directory"
	case KindFile:
		return "file"
	default:
		return fmt.Sprintf("EntryKind(%d)", int(k))
	}
}

// MarshalText implements encoding.TextMarshaler
func (k EntryKind) MarshalText() ([]byte, error) {
	if k != KindDirectory && k != KindFile {
		return nil, fmt.Errorf("invalid entry kind %d", int(k))
	}
	return []byte(k.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *EntryKind) UnmarshalText(text []byte) error {
	switch string(text) {
	case "directory":
		*k = KindDirectory
	case "file":
		*k = KindFile
	default:
		return fmt.Errorf("invalid entry kind %q", text)
	}
	return nil
}

// EntryRef addresses a directory (by global directory number) or a file (by
// global file number). It is what a directory's children list holds.
type EntryRef struct {
	Kind   EntryKind `json:"kind" yaml:"kind"`
	Number uint32    `json:"number" yaml:"number"`
}

// DirectoryRef returns a reference to directory n
func DirectoryRef(n uint32) EntryRef { return EntryRef{Kind: KindDirectory, Number: n} }

// FileRef returns a reference to file n
func FileRef(n uint32) EntryRef { return EntryRef{Kind: KindFile, Number: n} }

// IsZero reports whether the reference is unset
func (r EntryRef) IsZero() bool { return r.Kind == 0 }

func (r EntryRef) String() string {
	return fmt.Sprintf("%s #%d", r.Kind, r.Number)
}

// Color is the menu color carried through to the device.
type Color int

const (
	ColorNotColored Color = iota
	ColorBlack
	ColorBlue
	ColorRed
	ColorTan
	ColorDarkGreen
	ColorGreen
	ColorYellow
	ColorWhite
)

var colorNames = []string{
	"none", "black", "blue", "red", "tan", "darkgreen", "green", "yellow", "white",
}

func (c Color) String() string {
	if c >= 0 && int(c) < len(colorNames) {
		return colorNames[c]
	}
	return fmt.Sprintf("Color(%d)", int(c))
}

// MarshalText implements encoding.TextMarshaler
func (c Color) MarshalText() ([]byte, error) {
	if c < 0 || int(c) >= len(colorNames) {
		return nil, fmt.Errorf("invalid color %d", int(c))
	}
	return []byte(colorNames[c]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (c *Color) UnmarshalText(text []byte) error {
	parsed, err := ParseColor(string(text))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseColor converts a color name (case-insensitive) to a Color.
func ParseColor(name string) (Color, error) {
	lower := strings.ToLower(name)
	for i, n := range colorNames {
		if n == lower {
			return Color(i), nil
		}
	}
	return ColorNotColored, fmt.Errorf("unknown color %q", name)
}

// ForkKind identifies what a fork holds for its file.
type ForkKind int

const (
	ForkProgram ForkKind = iota
	ForkManual
	ForkSaveData
	ForkVignette
	// ForkMenuPosition holds the device's menu cursor bookkeeping. It is
	// provenance noise for comparisons.
	ForkMenuPosition
)

var forkKindNames = []string{"program", "manual", "savedata", "vignette", "menuposition"}

// ForkKinds lists every fork kind in declaration order.
func ForkKinds() []ForkKind {
	return []ForkKind{ForkProgram, ForkManual, ForkSaveData, ForkVignette, ForkMenuPosition}
}

func (k ForkKind) String() string {
	if k >= 0 && int(k) < len(forkKindNames) {
		return forkKindNames[k]
	}
	return fmt.Sprintf("ForkKind(%d)", int(k))
}

// MarshalText implements encoding.TextMarshaler
func (k ForkKind) MarshalText() ([]byte, error) {
	if k < 0 || int(k) >= len(forkKindNames) {
		return nil, fmt.Errorf("invalid fork kind %d", int(k))
	}
	return []byte(forkKindNames[k]), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (k *ForkKind) UnmarshalText(text []byte) error {
	parsed, err := ParseForkKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseForkKind converts a fork kind name (case-insensitive) to a ForkKind.
func ParseForkKind(name string) (ForkKind, error) {
	lower := strings.ToLower(name)
	for i, n := range forkKindNames {
		if n == lower {
			return ForkKind(i), nil
		}
	}
	return ForkProgram, fmt.Errorf("unknown fork kind %q", name)
}

// DeriveShortName truncates a long name to max runes.
func DeriveShortName(longName string, max int) string {
	runes := []rune(longName)
	if max <= 0 || len(runes) <= max {
		return longName
	}
	return string(runes[:max])
}

// names holds the display attributes shared by directories and files.
type names struct {
	longName    string
	shortName   string
	customShort bool
	reserved    bool
	color       Color
	limits      *Limits
	owner       *FileSystem
	dirty       DirtyFlags
}

// LongName returns the full menu name
func (n *names) LongName() string { return n.longName }

// ShortName returns the name shown where space is tight. Unless customized
// (or the entry is the reserved root), it is derived from the long name.
func (n *names) ShortName() string {
	if n.customShort || n.reserved {
		return n.shortName
	}
	max := 0
	if n.limits != nil {
		max = n.limits.MaxShortNameLength
	}
	return DeriveShortName(n.longName, max)
}

// HasCustomShortName reports whether the short name was set explicitly
func (n *names) HasCustomShortName() bool { return n.customShort }

// Color returns the menu color
func (n *names) Color() Color { return n.color }

// SetLongName renames the entry. A custom short name is left untouched.
func (n *names) SetLongName(name string) error {
	if n.limits != nil && n.limits.MaxLongNameLength > 0 &&
		len([]rune(name)) > n.limits.MaxLongNameLength {
		return ErrNameTooLong
	}
	n.longName = name
	n.touch()
	return nil
}

// SetShortName sets a custom short name. An empty name reverts to the
// derived short name.
func (n *names) SetShortName(name string) error {
	if n.limits != nil && n.limits.MaxShortNameLength > 0 &&
		len([]rune(name)) > n.limits.MaxShortNameLength {
		return ErrNameTooLong
	}
	n.shortName = name
	n.customShort = name != "" || n.reserved
	n.touch()
	return nil
}

// SetColor changes the menu color
func (n *names) SetColor(c Color) {
	n.color = c
	n.touch()
}

func (n *names) touch() {
	if n.owner != nil {
		n.owner.status |= n.dirty
	}
}

// Entry is a node of the menu tree: either a *Directory or a *File.
type Entry interface {
	Ref() EntryRef
	LongName() string
	ShortName() string
	Color() Color
	Parent() uint32
	isEntry()
}

var (
	_ Entry = (*Directory)(nil)
	_ Entry = (*File)(nil)
)

// Directory is a folder. Every non-root directory also owns a housekeeping
// record in the File Table (FileNumber), where its forks live.
type Directory struct {
	names
	number     uint32
	fileNumber uint32
	parent     uint32
	children   []EntryRef
}

func (*Directory) isEntry() {}

// Number returns the global directory number, or NoNumber when detached
func (d *Directory) Number() uint32 { return d.number }

// FileNumber returns the housekeeping file record's number
func (d *Directory) FileNumber() uint32 { return d.fileNumber }

// Parent returns the parent directory number (NoNumber for the root)
func (d *Directory) Parent() uint32 { return d.parent }

// Ref returns the directory's entry reference
func (d *Directory) Ref() EntryRef { return DirectoryRef(d.number) }

// Children returns a copy of the ordered child list
func (d *Directory) Children() []EntryRef {
	out := make([]EntryRef, len(d.children))
	copy(out, d.children)
	return out
}

// Len returns the number of children
func (d *Directory) Len() int { return len(d.children) }

// IndexOf returns the position of child, or -1
func (d *Directory) IndexOf(child EntryRef) int {
	for i, c := range d.children {
		if c == child {
			return i
		}
	}
	return -1
}

// IsRoot reports whether this is the root directory
func (d *Directory) IsRoot() bool { return d.number == RootDirectoryNumber && d.reserved }

// File is a leaf menu entry, or the housekeeping record of a directory.
type File struct {
	names
	number    uint32
	parent    uint32
	directory uint32
	forks     map[ForkKind]uint32
}

func (*File) isEntry() {}

// Number returns the global file number, or NoNumber when detached
func (f *File) Number() uint32 { return f.number }

// Parent returns the owning directory number
func (f *File) Parent() uint32 { return f.parent }

// Directory returns the directory this record keeps house for, or NoNumber
func (f *File) Directory() uint32 { return f.directory }

// IsDirectoryRecord reports whether this is a directory's housekeeping record
func (f *File) IsDirectoryRecord() bool { return f.directory != NoNumber }

// Ref returns the file's entry reference
func (f *File) Ref() EntryRef { return FileRef(f.number) }

// Fork returns the fork number attached under kind
func (f *File) Fork(kind ForkKind) (uint32, bool) {
	n, ok := f.forks[kind]
	return n, ok
}

// ForkKinds returns the kinds of the attached forks in ascending order
func (f *File) ForkKinds() []ForkKind {
	kinds := make([]ForkKind, 0, len(f.forks))
	for k := range f.forks {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Fork is a data stream owned by exactly one file.
type Fork struct {
	number     uint32
	kind       ForkKind
	crc        uint32
	sourcePath string
	size       uint64
	file       uint32
}

// Number returns the global fork number, or NoNumber when detached
func (f *Fork) Number() uint32 { return f.number }

// Kind returns what the fork holds
func (f *Fork) Kind() ForkKind { return f.kind }

// Crc24 returns the content identity
func (f *Fork) Crc24() uint32 { return f.crc }

// SourcePath returns the host file backing the fork, or "" when the data
// only lives on the device
func (f *Fork) SourcePath() string { return f.sourcePath }

// Size returns the size estimate used for flash usage accounting
func (f *Fork) Size() uint64 { return f.size }

// File returns the owning file number, or NoNumber when detached
func (f *Fork) File() uint32 { return f.file }
