package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"locutusfs/internal/lfs"
	"locutusfs/internal/state"
)

type harness struct {
	t     *testing.T
	state string
	dir   string
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("LFS_CONFIG_FILE", filepath.Join(dir, "missing.yaml"))
	t.Setenv("LFS_BACKUP_COUNT", "0")
	return &harness{t: t, state: filepath.Join(dir, "layout.json"), dir: dir}
}

func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	var out bytes.Buffer
	argv := append([]string{"lfs", "--state", h.state}, args...)
	err := newApp(&out).Run(argv)
	return out.String(), err
}

func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	out, err := h.run(args...)
	if err != nil {
		h.t.Fatalf("Failed to run %v: %v", args, err)
	}
	return out
}

func TestCommands(t *testing.T) {
	h := newHarness(t)

	rom := filepath.Join(h.dir, "astrosmash.bin")
	if err := os.WriteFile(rom, []byte("program image"), 0644); err != nil {
		t.Fatalf("Failed to write rom: %v", err)
	}

	h.mustRun("mkdir", "Games")
	h.mustRun("mkdir", "Games/Arcade")
	h.mustRun("mkdir", "Tools")
	h.mustRun("add", "--color", "yellow", rom, "Games")

	t.Run("List", func(t *testing.T) {
		out := h.mustRun("ls", "--usage")
		for _, want := range []string{"Games/", "    Arcade/", "  Tools/", "    astrosmash ", "yellow", "program:", "forks", "fork data    13 bytes"} {
			if !strings.Contains(out, want) {
				t.Errorf("ls output missing %q:\n%s", want, out)
			}
		}
	})

	t.Run("MoveAndRename", func(t *testing.T) {
		h.mustRun("mv", "--index", "0", "Games/astrosmash", "Tools")
		h.mustRun("rename", "--short-name", "AST", "Tools/astrosmash", "Astrosmash")
		out := h.mustRun("ls")
		if !strings.Contains(out, "Astrosmash [") || !strings.Contains(out, `"AST"`) {
			t.Errorf("ls output after rename:\n%s", out)
		}
		if _, err := h.run("mv", "Games", "Games/Arcade"); err == nil {
			t.Error("Moving a directory into its own subtree should fail")
		}
	})

	t.Run("Validate", func(t *testing.T) {
		if out := h.mustRun("validate"); !strings.Contains(out, "consistent") {
			t.Errorf("validate output = %q", out)
		}
	})

	t.Run("DiffAgainstExport", func(t *testing.T) {
		exported := filepath.Join(h.dir, "device.yaml")
		h.mustRun("export", exported)

		if out := h.mustRun("diff", "--simple", exported); strings.TrimSpace(out) != "in sync" {
			t.Errorf("diff --simple = %q, want in sync", out)
		}

		h.mustRun("rm", "Games/Arcade")
		if out := h.mustRun("diff", "--simple", exported); strings.TrimSpace(out) != "out of sync" {
			t.Errorf("diff --simple after rm = %q, want out of sync", out)
		}
		out := h.mustRun("diff", "--format", "json", exported)
		if !strings.Contains(out, "{") {
			t.Errorf("diff json output = %q", out)
		}
	})

	t.Run("Format", func(t *testing.T) {
		if _, err := h.run("format"); err == nil {
			t.Error("format should refuse a non-empty layout")
		}
		h.mustRun("format", "--force")
		if out := h.mustRun("ls"); strings.Count(out, "\n") != 1 {
			t.Errorf("ls after format = %q, want only the root", out)
		}
	})
}

func TestCommandErrors(t *testing.T) {
	h := newHarness(t)

	tests := []struct {
		name string
		args []string
	}{
		{"mkdir root", []string{"mkdir", "/"}},
		{"mkdir missing parent", []string{"mkdir", "Nope/Child"}},
		{"add missing rom", []string{"add", filepath.Join(h.dir, "missing.bin"), "/"}},
		{"rm root", []string{"rm", "/"}},
		{"bad color", []string{"rename", "--color", "mauve", "/"}},
		{"bad keying", []string{"diff", "--keying", "inode", h.state}},
		{"bad log level", []string{"--log-level", "LOUD", "ls"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := h.run(tt.args...); err == nil {
				t.Errorf("%v should fail", tt.args)
			}
		})
	}
}

func TestSplitPath(t *testing.T) {
	tests := []struct {
		path string
		want []string
	}{
		{"", nil},
		{"/", nil},
		{"Games", []string{"Games"}},
		{"/Games/Arcade/", []string{"Games", "Arcade"}},
	}
	for _, tt := range tests {
		got := splitPath(tt.path)
		if strings.Join(got, "|") != strings.Join(tt.want, "|") || len(got) != len(tt.want) {
			t.Errorf("splitPath(%q) = %v, want %v", tt.path, got, tt.want)
		}
	}
}

func TestValidateOrphans(t *testing.T) {
	h := newHarness(t)

	layout, err := lfs.New(lfs.OriginHostComputer, lfs.DefaultLimits())
	if err != nil {
		t.Fatalf("Failed to create layout: %v", err)
	}
	games, _ := layout.NewDirectory("Games")
	if err := layout.AddChild(lfs.RootDirectoryNumber, games); err != nil {
		t.Fatalf("Failed to add directory: %v", err)
	}

	// Drop the root's only child so Games survives only as an orphan
	snapshot := layout.Snapshot()
	for i := range snapshot.Directories {
		if snapshot.Directories[i].Number == lfs.RootDirectoryNumber {
			snapshot.Directories[i].Children = nil
		}
	}
	orphaned, err := lfs.FromSnapshot(snapshot)
	if err != nil {
		t.Fatalf("Failed to rebuild layout: %v", err)
	}
	if err := state.WriteLayout(h.state, orphaned); err != nil {
		t.Fatalf("Failed to write layout: %v", err)
	}

	out := h.mustRun("validate")
	for _, want := range []string{"orphans: 1 directories, 1 files, 0 forks", "directory #1 /Games"} {
		if !strings.Contains(out, want) {
			t.Errorf("validate output missing %q:\n%s", want, out)
		}
	}

	if out := h.mustRun("validate", "--clean"); !strings.Contains(out, "released 2 slots") {
		t.Errorf("validate --clean output = %q", out)
	}
	if out := h.mustRun("validate"); !strings.Contains(out, "consistent") {
		t.Errorf("validate after clean = %q", out)
	}
}

func TestListUnreferenced(t *testing.T) {
	h := newHarness(t)
	roms := filepath.Join(h.dir, "roms")
	for _, name := range []string{"used.bin", "spare.bin", "more/other.bin"} {
		path := filepath.Join(roms, name)
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			t.Fatalf("Failed to create directory: %v", err)
		}
		if err := os.WriteFile(path, []byte(name), 0644); err != nil {
			t.Fatalf("Failed to write rom: %v", err)
		}
	}
	h.mustRun("add", filepath.Join(roms, "used.bin"), "/")

	out := h.mustRun("ls", "--unreferenced", roms)
	if !strings.Contains(out, "2 unreferenced") || !strings.Contains(out, "  spare.bin\n") ||
		!strings.Contains(out, "  more/other.bin\n") {
		t.Errorf("ls --unreferenced output:\n%s", out)
	}
	if strings.Contains(out, "  used.bin\n") {
		t.Errorf("ls --unreferenced lists a referenced rom:\n%s", out)
	}
}

func TestExitCode(t *testing.T) {
	layout, err := lfs.New(lfs.OriginHostComputer, lfs.DefaultLimits())
	if err != nil {
		t.Fatalf("Failed to create layout: %v", err)
	}
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"success", nil, 0},
		{"capacity", layout.CanAcceptNewFile(lfs.RootDirectoryNumber, 1<<20), 1},
		{"wrapped cycle", fmt.Errorf("moving: %w", lfs.ErrCycle), 1},
		{"usage", errors.New("expected FILE argument"), 2},
		{"corrupt", &lfs.CorruptionError{Problems: []string{"x"}}, 3},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := exitCode(tt.err); got != tt.want {
				t.Errorf("exitCode(%v) = %d, want %d", tt.err, got, tt.want)
			}
		})
	}
}
