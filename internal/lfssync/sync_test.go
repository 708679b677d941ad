package lfssync

import (
	"encoding/json"
	"strings"
	"testing"

	"locutusfs/internal/lfs"

	"gopkg.in/yaml.v2"
)

func testLimits() lfs.Limits {
	return lfs.Limits{
		DirectoryTableSize: 8,
		FileTableSize:      16,
		ForkTableSize:      16,
		MaxItemCount:       8,
		MaxShortNameLength: 8,
		MaxLongNameLength:  20,
	}
}

type layout struct {
	fs *lfs.FileSystem
	t  *testing.T
}

func newLayout(t *testing.T, origin lfs.Origin, rootName string) *layout {
	t.Helper()
	fs, err := lfs.New(origin, testLimits())
	if err != nil {
		t.Fatalf("Failed to create file system: %v", err)
	}
	if err := fs.Root().SetLongName(rootName); err != nil {
		t.Fatalf("Failed to name root: %v", err)
	}
	return &layout{fs: fs, t: t}
}

func (l *layout) dir(parent uint32, name string) *lfs.Directory {
	l.t.Helper()
	d, err := l.fs.NewDirectory(name)
	if err != nil {
		l.t.Fatalf("NewDirectory(%q) unexpected error: %v", name, err)
	}
	if err := l.fs.AddChild(parent, d); err != nil {
		l.t.Fatalf("AddChild(%q) unexpected error: %v", name, err)
	}
	return d
}

func (l *layout) file(parent uint32, name string, crc uint32, size uint64) *lfs.File {
	l.t.Helper()
	f, err := l.fs.NewFile(name)
	if err != nil {
		l.t.Fatalf("NewFile(%q) unexpected error: %v", name, err)
	}
	if err := l.fs.AddChild(parent, f); err != nil {
		l.t.Fatalf("AddChild(%q) unexpected error: %v", name, err)
	}
	if err := l.fs.SetFork(f.Number(), lfs.NewFork(lfs.ForkProgram, crc, "", size)); err != nil {
		l.t.Fatalf("SetFork(%q) unexpected error: %v", name, err)
	}
	return f
}

func (l *layout) menuPosition(number uint32) {
	l.t.Helper()
	if err := l.fs.SetFork(number, lfs.NewFork(lfs.ForkMenuPosition, number, "", 4)); err != nil {
		l.t.Fatalf("SetFork(menu position) unexpected error: %v", err)
	}
}

// pair builds the same Games/Astro menu on a host and a device. The device
// carries menu position forks and names its root differently.
func pair(t *testing.T) (*layout, *layout) {
	host := newLayout(t, lfs.OriginHostComputer, "My Menu")
	games := host.dir(lfs.RootDirectoryNumber, "Games")
	host.file(games.Number(), "Astro", 0xA57A0, 8192)

	device := newLayout(t, lfs.OriginLtoFlashDevice, "LTO")
	games = device.dir(lfs.RootDirectoryNumber, "Games")
	astro := device.file(games.Number(), "Astro", 0xA57A0, 8192)
	device.menuPosition(astro.Number())
	device.menuPosition(games.FileNumber())
	return host, device
}

func TestNormalize(t *testing.T) {
	host, device := pair(t)

	if lfs.SimpleCompare(host.fs, device.fs, lfs.WithKeying(lfs.KeyByPath)) != lfs.HasDifferences {
		t.Fatal("raw containers should differ before normalization")
	}

	normalized, err := Normalize(device.fs, host.fs.Origin())
	if err != nil {
		t.Fatalf("Normalize() unexpected error: %v", err)
	}
	if got := normalized.Usage().Forks.InUse; got != 1 {
		t.Errorf("normalized fork count = %d, want 1", got)
	}
	if normalized.Root().LongName() != "" {
		t.Errorf("root name = %q, want blank", normalized.Root().LongName())
	}
	if device.fs.Usage().Forks.InUse != 3 || device.fs.Root().LongName() != "LTO" {
		t.Error("Normalize must not modify its input")
	}

	t.Run("SameOriginKeepsRootName", func(t *testing.T) {
		same, err := Normalize(host.fs, lfs.OriginHostComputer)
		if err != nil {
			t.Fatalf("Normalize() unexpected error: %v", err)
		}
		if same.Root().LongName() != "My Menu" {
			t.Errorf("root name = %q, want it kept", same.Root().LongName())
		}
	})
}

func TestNewPlan(t *testing.T) {
	t.Run("InSync", func(t *testing.T) {
		host, device := pair(t)
		plan, err := NewPlan(host.fs, device.fs, ToDevice, lfs.KeyByPath)
		if err != nil {
			t.Fatalf("NewPlan() unexpected error: %v", err)
		}
		if !plan.InSync() || plan.TransferBytes != 0 {
			t.Errorf("plan = %+v, want in sync", plan.Differences)
		}
		if got := NeedsSync(host.fs, device.fs, lfs.KeyByPath); got != lfs.NoDifferences {
			t.Errorf("NeedsSync() = %s, want %s", got, lfs.NoDifferences)
		}
	})

	tests := []struct {
		name      string
		direction Direction
		adds      int
		deletes   int
		bytes     uint64
	}{
		{name: "ToDevice", direction: ToDevice, adds: 1, bytes: 4096},
		{name: "FromDevice", direction: FromDevice, deletes: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			host, device := pair(t)
			host.file(lfs.RootDirectoryNumber, "New", 0x4E4557, 4096)

			plan, err := NewPlan(host.fs, device.fs, tt.direction, lfs.KeyByPath)
			if err != nil {
				t.Fatalf("NewPlan() unexpected error: %v", err)
			}
			files := plan.Differences.Files
			if len(files.ToAdd) != tt.adds || len(files.ToDelete) != tt.deletes {
				t.Errorf("file differences = %+v, want %d adds and %d deletes", files, tt.adds, tt.deletes)
			}
			if plan.TransferBytes != tt.bytes {
				t.Errorf("TransferBytes = %d, want %d", plan.TransferBytes, tt.bytes)
			}
			if plan.Direction != tt.direction {
				t.Errorf("Direction = %s, want %s", plan.Direction, tt.direction)
			}
		})
	}

	t.Run("MissingSide", func(t *testing.T) {
		host, _ := pair(t)
		if _, err := NewPlan(host.fs, nil, ToDevice, lfs.KeyByPath); err == nil {
			t.Error("NewPlan() without a device should fail")
		}
		if got := NeedsSync(nil, host.fs, lfs.KeyByPath); got != lfs.CompareError {
			t.Errorf("NeedsSync(nil) = %s, want %s", got, lfs.CompareError)
		}
	})
}

func TestIndicator(t *testing.T) {
	host, device := pair(t)
	indicator := &Indicator{Keying: lfs.KeyByPath}

	if got := indicator.NeedsSync(host.fs, device.fs); got != lfs.NoDifferences {
		t.Fatalf("NeedsSync() = %s, want %s", got, lfs.NoDifferences)
	}

	host.file(lfs.RootDirectoryNumber, "New", 1, 1)
	if got := indicator.NeedsSync(host.fs, device.fs); got != lfs.NoDifferences {
		t.Errorf("cached NeedsSync() = %s, want the stale %s", got, lfs.NoDifferences)
	}

	indicator.Invalidate()
	if got := indicator.NeedsSync(host.fs, device.fs); got != lfs.HasDifferences {
		t.Errorf("NeedsSync() after Invalidate = %s, want %s", got, lfs.HasDifferences)
	}
}

func TestParseDirection(t *testing.T) {
	tests := []struct {
		input   string
		want    Direction
		wantErr bool
	}{
		{"to-device", ToDevice, false},
		{"from-device", FromDevice, false},
		{"", ToDevice, false},
		{"sideways", ToDevice, true},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseDirection(tt.input)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseDirection(%q) error = %v, wantErr %v", tt.input, err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseDirection(%q) = %s, want %s", tt.input, got, tt.want)
			}
		})
	}
}

func TestPlanEncoding(t *testing.T) {
	host, device := pair(t)
	host.file(lfs.RootDirectoryNumber, "New", 0x4E4557, 4096)
	plan, err := NewPlan(host.fs, device.fs, FromDevice, lfs.KeyByPath)
	if err != nil {
		t.Fatalf("NewPlan() unexpected error: %v", err)
	}

	data, err := yaml.Marshal(plan)
	if err != nil {
		t.Fatalf("Failed to marshal plan as YAML: %v", err)
	}
	for _, want := range []string{"direction: from-device", "keying: path"} {
		if !strings.Contains(string(data), want) {
			t.Errorf("YAML plan missing %q:\n%s", want, data)
		}
	}

	data, err = json.Marshal(plan)
	if err != nil {
		t.Fatalf("Failed to marshal plan as JSON: %v", err)
	}
	var decoded struct {
		Direction Direction  `json:"direction"`
		Keying    lfs.Keying `json:"keying"`
	}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Failed to decode plan: %v", err)
	}
	if decoded.Direction != FromDevice || decoded.Keying != lfs.KeyByPath {
		t.Errorf("decoded direction %s keying %s, want from-device by path", decoded.Direction, decoded.Keying)
	}
	if !strings.Contains(string(data), `"direction":"from-device"`) {
		t.Errorf("JSON plan = %s", data)
	}
}
