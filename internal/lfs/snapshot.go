package lfs

import (
	"fmt"
)

// Snapshot is a materialized dump of the three tables, as read from a
// device or loaded from a host layout file.
type Snapshot struct {
	Origin      Origin            `json:"origin" yaml:"origin"`
	Limits      Limits            `json:"limits" yaml:"limits"`
	Directories []DirectoryRecord `json:"directories" yaml:"directories"`
	Files       []FileRecord      `json:"files" yaml:"files"`
	Forks       []ForkRecord      `json:"forks" yaml:"forks"`
}

// DirectoryRecord is one Directory Table slot.
type DirectoryRecord struct {
	Number     uint32     `json:"number" yaml:"number"`
	FileNumber *uint32    `json:"file_number,omitempty" yaml:"file_number,omitempty"`
	Parent     *uint32    `json:"parent,omitempty" yaml:"parent,omitempty"`
	LongName   string     `json:"long_name" yaml:"long_name"`
	ShortName  string     `json:"short_name,omitempty" yaml:"short_name,omitempty"`
	Color      Color      `json:"color" yaml:"color"`
	Children   []EntryRef `json:"children,omitempty" yaml:"children,omitempty"`
}

// FileRecord is one File Table slot.
type FileRecord struct {
	Number    uint32    `json:"number" yaml:"number"`
	Parent    *uint32   `json:"parent,omitempty" yaml:"parent,omitempty"`
	Directory *uint32   `json:"directory,omitempty" yaml:"directory,omitempty"`
	LongName  string    `json:"long_name,omitempty" yaml:"long_name,omitempty"`
	ShortName string    `json:"short_name,omitempty" yaml:"short_name,omitempty"`
	Color     Color     `json:"color" yaml:"color"`
	Forks     []ForkRef `json:"forks,omitempty" yaml:"forks,omitempty"`
}

// ForkRef is a file's reference to one of its forks.
type ForkRef struct {
	Kind   ForkKind `json:"kind" yaml:"kind"`
	Number uint32   `json:"number" yaml:"number"`
}

// ForkRecord is one Fork Table slot.
type ForkRecord struct {
	Number     uint32   `json:"number" yaml:"number"`
	Kind       ForkKind `json:"kind" yaml:"kind"`
	Crc24      uint32   `json:"crc24" yaml:"crc24"`
	SourcePath string   `json:"source_path,omitempty" yaml:"source_path,omitempty"`
	Size       uint64   `json:"size" yaml:"size"`
	File       *uint32  `json:"file,omitempty" yaml:"file,omitempty"`
}

func optional(n uint32) *uint32 {
	if n == NoNumber {
		return nil
	}
	return &n
}

func required(n *uint32) uint32 {
	if n == nil {
		return NoNumber
	}
	return *n
}

// Snapshot dumps the tables in slot order.
func (fs *FileSystem) Snapshot() *Snapshot {
	s := &Snapshot{Origin: fs.origin, Limits: fs.limits}
	fs.directories.Each(func(n uint32, d *Directory) {
		record := DirectoryRecord{
			Number:     n,
			FileNumber: optional(d.fileNumber),
			Parent:     optional(d.parent),
			LongName:   d.longName,
			Color:      d.color,
			Children:   d.Children(),
		}
		if d.customShort {
			record.ShortName = d.shortName
		}
		s.Directories = append(s.Directories, record)
	})
	fs.files.Each(func(n uint32, f *File) {
		record := FileRecord{
			Number:    n,
			Parent:    optional(f.parent),
			Directory: optional(f.directory),
			LongName:  f.longName,
			Color:     f.color,
		}
		if f.customShort {
			record.ShortName = f.shortName
		}
		for _, kind := range f.ForkKinds() {
			record.Forks = append(record.Forks, ForkRef{Kind: kind, Number: f.forks[kind]})
		}
		s.Files = append(s.Files, record)
	})
	fs.forks.Each(func(n uint32, f *Fork) {
		s.Forks = append(s.Forks, ForkRecord{
			Number:     n,
			Kind:       f.kind,
			Crc24:      f.crc,
			SourcePath: f.sourcePath,
			Size:       f.size,
			File:       optional(f.file),
		})
	})
	fsLogger.Debug("Snapshot of %s file system: %d dirs, %d files, %d forks",
		fs.origin, len(s.Directories), len(s.Files), len(s.Forks))
	return s
}

// FromSnapshot rebuilds a container from a table dump. It fails with a
// *CorruptionError when slots collide, the root is missing, or the
// validator finds structural corruption. Orphans are not an error; call
// Validate to obtain them.
func FromSnapshot(s *Snapshot) (*FileSystem, error) {
	if s == nil {
		return nil, &CorruptionError{Problems: []string{"no snapshot"}}
	}
	if err := s.Limits.Validate(); err != nil {
		return nil, &CorruptionError{Problems: []string{err.Error()}}
	}

	fs := newEmpty(s.Origin, s.Limits)
	var problems []string

	for _, r := range s.Directories {
		d := &Directory{
			number:     r.Number,
			fileNumber: required(r.FileNumber),
			parent:     required(r.Parent),
			children:   append([]EntryRef(nil), r.Children...),
		}
		d.names = names{
			longName:    r.LongName,
			shortName:   r.ShortName,
			customShort: r.ShortName != "",
			color:       r.Color,
			limits:      &fs.limits,
			owner:       fs,
			dirty:       DirtyDirectories,
		}
		if r.Number == RootDirectoryNumber {
			d.reserved = true
			d.customShort = true
		}
		if err := fs.directories.Reserve(r.Number, d); err != nil {
			problems = append(problems, fmt.Sprintf("directory slot %d: %v", r.Number, err))
		}
	}
	for _, r := range s.Files {
		f := &File{
			number:    r.Number,
			parent:    required(r.Parent),
			directory: required(r.Directory),
			forks:     make(map[ForkKind]uint32, len(r.Forks)),
		}
		f.names = names{
			longName:    r.LongName,
			shortName:   r.ShortName,
			customShort: r.ShortName != "",
			color:       r.Color,
			limits:      &fs.limits,
			owner:       fs,
			dirty:       DirtyFiles,
		}
		for _, ref := range r.Forks {
			if _, dup := f.forks[ref.Kind]; dup {
				problems = append(problems, fmt.Sprintf("file #%d lists two %s forks", r.Number, ref.Kind))
				continue
			}
			f.forks[ref.Kind] = ref.Number
		}
		if err := fs.files.Reserve(r.Number, f); err != nil {
			problems = append(problems, fmt.Sprintf("file slot %d: %v", r.Number, err))
		}
	}
	for _, r := range s.Forks {
		f := &Fork{
			number:     r.Number,
			kind:       r.Kind,
			crc:        r.Crc24 & crc24Mask,
			sourcePath: r.SourcePath,
			size:       r.Size,
			file:       required(r.File),
		}
		if err := fs.forks.Reserve(r.Number, f); err != nil {
			problems = append(problems, fmt.Sprintf("fork slot %d: %v", r.Number, err))
		}
	}

	if len(problems) > 0 {
		fsLogger.Warn("Snapshot rejected with %d problem(s)", len(problems))
		return nil, &CorruptionError{Problems: problems}
	}
	if _, ok := fs.directories.Get(RootDirectoryNumber); !ok {
		return nil, &CorruptionError{Problems: []string{"root directory missing"}}
	}
	if _, err := Validate(fs); err != nil {
		return nil, err
	}

	fsLogger.Info("Loaded %s file system: %d dirs, %d files, %d forks",
		s.Origin, fs.directories.ItemsInUse(), fs.files.ItemsInUse(), fs.forks.ItemsInUse())
	return fs, nil
}
