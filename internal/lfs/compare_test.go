package lfs

import (
	"errors"
	"testing"
)

func compareLimits() Limits {
	return Limits{
		DirectoryTableSize: 5,
		FileTableSize:      10,
		ForkTableSize:      10,
		MaxItemCount:       4,
		MaxShortNameLength: 8,
		MaxLongNameLength:  20,
	}
}

// buildMenu creates Games/Astro and Tools/Ed. With gamesFirst unset the
// tools branch is populated first, so the two variants share a tree but
// not their global numbers.
func buildMenu(t *testing.T, gamesFirst bool) *FileSystem {
	t.Helper()
	fs := newTestFS(t, compareLimits())
	games := mustDir(t, fs, RootDirectoryNumber, "Games")
	if gamesFirst {
		mustFile(t, fs, games.Number(), "Astro", 0xA57A0)
		tools := mustDir(t, fs, RootDirectoryNumber, "Tools")
		mustFile(t, fs, tools.Number(), "Ed", 0xED)
	} else {
		tools := mustDir(t, fs, RootDirectoryNumber, "Tools")
		mustFile(t, fs, tools.Number(), "Ed", 0xED)
		mustFile(t, fs, games.Number(), "Astro", 0xA57A0)
	}
	return fs
}

func lookupFile(t *testing.T, fs *FileSystem, path ...string) *File {
	t.Helper()
	entry, err := fs.Lookup(path)
	if err != nil {
		t.Fatalf("Lookup(%v) unexpected error: %v", path, err)
	}
	f, ok := entry.(*File)
	if !ok {
		t.Fatalf("Lookup(%v) = %T, want *File", path, entry)
	}
	return f
}

func mustCompare(t *testing.T, source, target *FileSystem, keying Keying) *Differences {
	t.Helper()
	diff, err := Compare(source, target, WithKeying(keying))
	if err != nil {
		t.Fatalf("Compare() unexpected error: %v", err)
	}
	simple := SimpleCompare(source, target, WithKeying(keying))
	if diff.Empty() != (simple == NoDifferences) {
		t.Fatalf("SimpleCompare() = %s but Compare() found %d differences", simple, diff.Count())
	}
	return diff
}

func diffNames(diffs []Difference) []string {
	out := make([]string, len(diffs))
	for i, d := range diffs {
		out[i] = d.Name
	}
	return out
}

func TestCompareIdentical(t *testing.T) {
	fs := buildMenu(t, true)
	for _, keying := range []Keying{KeyByNumber, KeyByPath} {
		t.Run(keying.String(), func(t *testing.T) {
			if diff := mustCompare(t, fs, fs, keying); !diff.Empty() {
				t.Errorf("self compare found %+v", diff)
			}
			if diff := mustCompare(t, fs, fs.Clone(), keying); !diff.Empty() {
				t.Errorf("clone compare found %+v", diff)
			}
		})
	}
}

func TestCompareInsertionOrder(t *testing.T) {
	host := buildMenu(t, true)
	device := buildMenu(t, false)

	astroHost := lookupFile(t, host, "Games", "Astro")
	astroDevice := lookupFile(t, device, "Games", "Astro")
	if astroHost.Number() == astroDevice.Number() {
		t.Fatalf("test setup should give Astro different file numbers")
	}

	if diff := mustCompare(t, host, device, KeyByPath); !diff.Empty() {
		t.Errorf("path keyed compare found %+v", diff)
	}
	if diff := mustCompare(t, host, device, KeyByNumber); diff.Empty() {
		t.Error("number keyed compare should see the differing numbers")
	}
}

func TestCompareChanges(t *testing.T) {
	target := buildMenu(t, true)
	source := target.Clone()

	ed := lookupFile(t, source, "Tools", "Ed")
	if err := source.RemoveChild(ed.Parent(), ed.Ref()); err != nil {
		t.Fatalf("RemoveChild() unexpected error: %v", err)
	}
	mustFile(t, source, RootDirectoryNumber, "Zed", 0x2ED)
	lookupFile(t, source, "Games", "Astro").SetColor(ColorRed)

	diff := mustCompare(t, source, target, KeyByPath)

	if got := diffNames(diff.Directories.ToUpdate); len(got) != 2 || got[0] != "" || got[1] != "Tools" {
		t.Errorf("directory updates = %q, want root and Tools", got)
	}
	if got := diffNames(diff.Files.ToAdd); len(got) != 1 || got[0] != "Zed" {
		t.Errorf("file additions = %q, want [Zed]", got)
	}
	if got := diffNames(diff.Files.ToUpdate); len(got) != 1 || got[0] != "Astro" {
		t.Errorf("file updates = %q, want [Astro]", got)
	}
	if got := diffNames(diff.Files.ToDelete); len(got) != 1 || got[0] != "Ed" {
		t.Errorf("file deletions = %q, want [Ed]", got)
	}
	if len(diff.Forks.ToAdd) != 1 || len(diff.Forks.ToDelete) != 1 || len(diff.Forks.ToUpdate) != 0 {
		t.Errorf("fork differences = %+v, want one add and one delete", diff.Forks)
	}

	added := diff.Files.ToAdd[0]
	if added.Source == nil || added.Target != nil {
		t.Errorf("addition should carry only a source number: %+v", added)
	}
	deleted := diff.Files.ToDelete[0]
	if deleted.Target == nil || deleted.Source != nil {
		t.Errorf("deletion should carry only a target number: %+v", deleted)
	}
}

func TestCompareForkCrc(t *testing.T) {
	target := buildMenu(t, true)
	source := target.Clone()
	astro := lookupFile(t, source, "Games", "Astro")
	if err := source.SetFork(astro.Number(), NewFork(ForkProgram, 0x123456, "", 1024)); err != nil {
		t.Fatalf("SetFork() unexpected error: %v", err)
	}

	for _, keying := range []Keying{KeyByNumber, KeyByPath} {
		t.Run(keying.String(), func(t *testing.T) {
			diff := mustCompare(t, source, target, keying)
			if diff.Count() != 1 || len(diff.Forks.ToUpdate) != 1 {
				t.Fatalf("diff = %+v, want a single fork update", diff)
			}
			if got := diff.Forks.ToUpdate[0].Name; got != "Astro (program)" {
				t.Errorf("fork update name = %q", got)
			}
		})
	}
}

func TestCompareChildOrder(t *testing.T) {
	target := buildMenu(t, true)
	source := target.Clone()
	tools, err := source.Lookup([]string{"Tools"})
	if err != nil {
		t.Fatalf("Lookup() unexpected error: %v", err)
	}
	if err := source.MoveChildToNewParent(tools.Ref(), RootDirectoryNumber, 0); err != nil {
		t.Fatalf("MoveChildToNewParent() unexpected error: %v", err)
	}

	diff := mustCompare(t, source, target, KeyByPath)
	if diff.Count() != 1 || len(diff.Directories.ToUpdate) != 1 {
		t.Errorf("diff = %+v, want only the root to change", diff)
	}
}

func TestCompareDuplicateSiblings(t *testing.T) {
	a := newTestFS(t, compareLimits())
	mustFile(t, a, RootDirectoryNumber, "Demo", 1)
	mustFile(t, a, RootDirectoryNumber, "Demo", 2)

	b := a.Clone()
	first := b.Root().Children()[0]
	if err := b.MoveChildToNewParent(first, RootDirectoryNumber, -1); err != nil {
		t.Fatalf("MoveChildToNewParent() unexpected error: %v", err)
	}

	// Swapping same-named siblings swaps which CRC sits at each occurrence.
	diff := mustCompare(t, a, b, KeyByPath)
	if len(diff.Forks.ToUpdate) != 2 {
		t.Errorf("fork updates = %d, want 2", len(diff.Forks.ToUpdate))
	}
}

func TestCompareErrors(t *testing.T) {
	fs := buildMenu(t, true)
	if _, err := Compare(nil, fs); err == nil {
		t.Error("Compare(nil) should fail")
	}
	if got := SimpleCompare(fs, nil); got != CompareError {
		t.Errorf("SimpleCompare(nil) = %s, want %s", got, CompareError)
	}

	broken := fs.Clone()
	broken.Root().children = append(broken.Root().children, FileRef(9))
	_, err := Compare(fs, broken)
	if !errors.Is(err, ErrCorruptFileSystem) {
		t.Errorf("Compare() on a dangling child error = %v, want ErrCorruptFileSystem", err)
	}
	if got := SimpleCompare(fs, broken); got != CompareError {
		t.Errorf("SimpleCompare() = %s, want %s", got, CompareError)
	}
}
