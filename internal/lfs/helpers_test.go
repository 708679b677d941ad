package lfs

import (
	"testing"
)

func smallLimits() Limits {
	return Limits{
		DirectoryTableSize: 3,
		FileTableSize:      3,
		ForkTableSize:      3,
		MaxItemCount:       4,
		MaxShortNameLength: 8,
		MaxLongNameLength:  20,
	}
}

func newTestFS(t *testing.T, limits Limits) *FileSystem {
	t.Helper()
	fs, err := New(OriginHostComputer, limits)
	if err != nil {
		t.Fatalf("Failed to create file system: %v", err)
	}
	return fs
}

func mustDir(t *testing.T, fs *FileSystem, parent uint32, name string) *Directory {
	t.Helper()
	d, err := fs.NewDirectory(name)
	if err != nil {
		t.Fatalf("NewDirectory(%q) unexpected error: %v", name, err)
	}
	if err := fs.AddChild(parent, d); err != nil {
		t.Fatalf("AddChild(%d, %q) unexpected error: %v", parent, name, err)
	}
	return d
}

// mustFile adds a file with a program fork whose CRC is crc.
func mustFile(t *testing.T, fs *FileSystem, parent uint32, name string, crc uint32) *File {
	t.Helper()
	f, err := fs.NewFile(name)
	if err != nil {
		t.Fatalf("NewFile(%q) unexpected error: %v", name, err)
	}
	if err := fs.AddChild(parent, f); err != nil {
		t.Fatalf("AddChild(%d, %q) unexpected error: %v", parent, name, err)
	}
	if err := fs.SetFork(f.Number(), NewFork(ForkProgram, crc, "", 1024)); err != nil {
		t.Fatalf("SetFork(%q) unexpected error: %v", name, err)
	}
	return f
}

func assertUsage(t *testing.T, fs *FileSystem, dirs, files, forks uint32) {
	t.Helper()
	u := fs.Usage()
	if u.Directories.InUse != dirs || u.Files.InUse != files || u.Forks.InUse != forks {
		t.Errorf("usage = %d dirs, %d files, %d forks; want %d, %d, %d",
			u.Directories.InUse, u.Files.InUse, u.Forks.InUse, dirs, files, forks)
	}
}

func assertChildren(t *testing.T, d *Directory, want ...EntryRef) {
	t.Helper()
	got := d.Children()
	if len(got) != len(want) {
		t.Fatalf("directory #%d children = %v, want %v", d.Number(), got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("directory #%d children = %v, want %v", d.Number(), got, want)
		}
	}
}

func assertValid(t *testing.T, fs *FileSystem) {
	t.Helper()
	report, err := Validate(fs)
	if err != nil {
		t.Fatalf("Validate() unexpected error: %v", err)
	}
	if !report.Empty() {
		t.Fatalf("Validate() found orphans: %+v", report)
	}
}
