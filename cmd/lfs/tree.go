package main

import (
	"fmt"
	"io"
	"strings"

	"locutusfs/internal/lfs"
)

// splitPath turns "Games/Arcade" into its long names. The empty path and
// "/" name the root.
func splitPath(path string) []string {
	path = strings.Trim(path, "/")
	if path == "" {
		return nil
	}
	return strings.Split(path, "/")
}

func splitLast(path string) ([]string, string, error) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return nil, "", fmt.Errorf("path %q names the root", path)
	}
	return parts[:len(parts)-1], parts[len(parts)-1], nil
}

func lookupDirectory(layout *lfs.FileSystem, path []string) (*lfs.Directory, error) {
	entry, err := layout.Lookup(path)
	if err != nil {
		return nil, err
	}
	d, ok := entry.(*lfs.Directory)
	if !ok {
		return nil, fmt.Errorf("/%s is not a directory", strings.Join(path, "/"))
	}
	return d, nil
}

// lookupEntry resolves a non-root entry
func lookupEntry(layout *lfs.FileSystem, path string) (lfs.Entry, error) {
	parts := splitPath(path)
	if len(parts) == 0 {
		return nil, fmt.Errorf("path %q: %w", path, lfs.ErrRootImmutable)
	}
	return layout.Lookup(parts)
}

func printTree(out io.Writer, layout *lfs.FileSystem) {
	layout.Walk(func(entry lfs.Entry, depth int) bool {
		if depth == 0 {
			fmt.Fprintf(out, "/ %s\n", describe(layout, entry))
			return true
		}
		name := entry.LongName()
		if _, ok := entry.(*lfs.Directory); ok {
			name += "/"
		}
		fmt.Fprintf(out, "%s%s %s\n", strings.Repeat("  ", depth), name, describe(layout, entry))
		return true
	})
}

func describe(layout *lfs.FileSystem, entry lfs.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s", entry.Ref())
	if short := entry.ShortName(); short != "" {
		fmt.Fprintf(&b, " %q", short)
	}
	if c := entry.Color(); c != lfs.ColorNotColored {
		fmt.Fprintf(&b, " %s", c)
	}
	if f, ok := entry.(*lfs.File); ok {
		for _, kind := range f.ForkKinds() {
			if fork, ok := layout.ForkOf(f, kind); ok {
				fmt.Fprintf(&b, " %s:%06x", kind, fork.Crc24())
			}
		}
	}
	b.WriteString("]")
	return b.String()
}

func printUsage(out io.Writer, usage lfs.Usage) {
	rows := []struct {
		name  string
		usage lfs.TableUsage
	}{
		{"directories", usage.Directories},
		{"files", usage.Files},
		{"forks", usage.Forks},
	}
	for _, row := range rows {
		fmt.Fprintf(out, "%-12s %5d / %-5d (%d free)\n", row.name, row.usage.InUse, row.usage.Size, row.usage.Remaining)
	}
}

// printOrphans lists unreachable slots with the path their parent links
// still lead to.
func printOrphans(out io.Writer, layout *lfs.FileSystem, report *lfs.OrphanReport) {
	fmt.Fprintf(out, "orphans: %d directories, %d files, %d forks\n",
		len(report.Directories), len(report.Files), len(report.Forks))

	var refs []lfs.EntryRef
	for _, n := range report.Directories {
		refs = append(refs, lfs.DirectoryRef(n))
	}
	for _, n := range report.Files {
		refs = append(refs, lfs.FileRef(n))
	}
	for _, ref := range refs {
		fmt.Fprintf(out, "  %s %s\n", ref, entryPath(layout, ref))
	}
	for _, n := range report.Forks {
		fmt.Fprintf(out, "  fork #%d\n", n)
	}
}

func entryPath(layout *lfs.FileSystem, ref lfs.EntryRef) string {
	path, err := layout.PathOf(ref)
	if err != nil {
		return "(detached)"
	}
	return "/" + strings.Join(path, "/")
}
