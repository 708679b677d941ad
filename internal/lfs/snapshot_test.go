package lfs

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestSnapshotRoundTrip(t *testing.T) {
	fs := buildMenu(t, true)
	astro := lookupFile(t, fs, "Games", "Astro")
	if err := astro.SetShortName("ASTRO"); err != nil {
		t.Fatalf("SetShortName() unexpected error: %v", err)
	}
	astro.SetColor(ColorTan)
	if err := fs.SetFork(astro.Number(), NewFork(ForkManual, 0xBEEF, "/roms/astro.txt", 77)); err != nil {
		t.Fatalf("SetFork() unexpected error: %v", err)
	}

	data, err := json.Marshal(fs.Snapshot())
	if err != nil {
		t.Fatalf("Failed to marshal snapshot: %v", err)
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		t.Fatalf("Failed to unmarshal snapshot: %v", err)
	}
	restored, err := FromSnapshot(&s)
	if err != nil {
		t.Fatalf("FromSnapshot() unexpected error: %v", err)
	}

	if diff := mustCompare(t, fs, restored, KeyByNumber); !diff.Empty() {
		t.Errorf("restored container differs: %+v", diff)
	}
	if restored.Usage() != fs.Usage() {
		t.Errorf("usage = %+v, want %+v", restored.Usage(), fs.Usage())
	}
	if restored.Status() != DirtyNone {
		t.Errorf("restored status = %s, want clean", restored.Status())
	}

	got := lookupFile(t, restored, "Games", "Astro")
	if !got.HasCustomShortName() || got.ShortName() != "ASTRO" || got.Color() != ColorTan {
		t.Errorf("restored Astro names = %q/%q/%s", got.LongName(), got.ShortName(), got.Color())
	}
	manual, ok := restored.ForkOf(got, ForkManual)
	if !ok || manual.SourcePath() != "/roms/astro.txt" || manual.Size() != 77 || manual.Crc24() != 0xBEEF {
		t.Errorf("restored manual fork = %+v", manual)
	}

	t.Run("Independent", func(t *testing.T) {
		restored.MarkSynced()
		got.SetColor(ColorWhite)
		if astro.Color() != ColorTan {
			t.Error("editing the restored container leaked into the original")
		}
		if restored.Status()&DirtyFiles == 0 {
			t.Error("restored entries should mark their own container dirty")
		}
	})
}

func TestFromSnapshotRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *Snapshot)
		want   string
	}{
		{
			name:   "MissingRoot",
			mutate: func(s *Snapshot) { s.Directories = s.Directories[1:] },
			want:   "root directory missing",
		},
		{
			name: "SlotCollision",
			mutate: func(s *Snapshot) {
				s.Files = append(s.Files, s.Files[0])
			},
			want: "file slot 0",
		},
		{
			name:   "SlotOutOfRange",
			mutate: func(s *Snapshot) { s.Forks[0].Number = 99 },
			want:   "fork slot 99",
		},
		{
			name: "Overfull",
			mutate: func(s *Snapshot) {
				s.Limits.MaxItemCount = 1
			},
			want: "has 2 children",
		},
		{
			name:   "BadLimits",
			mutate: func(s *Snapshot) { s.Limits.DirectoryTableSize = 0 },
			want:   "directory table size",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := buildMenu(t, true).Snapshot()
			tt.mutate(s)
			_, err := FromSnapshot(s)
			assertCorrupt(t, err, tt.want)
		})
	}

	t.Run("Nil", func(t *testing.T) {
		if _, err := FromSnapshot(nil); !errors.Is(err, ErrCorruptFileSystem) {
			t.Errorf("FromSnapshot(nil) error = %v, want ErrCorruptFileSystem", err)
		}
	})
}

func TestCrc24(t *testing.T) {
	const check = 0x21CF02
	if got := Crc24([]byte("123456789")); got != check {
		t.Errorf("Crc24() = %06x, want %06x", got, check)
	}
	if got := Crc24(nil); got != crc24Init {
		t.Errorf("Crc24(nil) = %06x, want the initial value", got)
	}

	crc, size, err := ComputeCrc24(strings.NewReader("123456789"))
	if err != nil {
		t.Fatalf("ComputeCrc24() unexpected error: %v", err)
	}
	if crc != check || size != 9 {
		t.Errorf("ComputeCrc24() = %06x, %d; want %06x, 9", crc, size, check)
	}

	if f := NewFork(ForkProgram, 0xFF123456, "", 0); f.Crc24() != 0x123456 {
		t.Errorf("NewFork() kept %08x, want the low 24 bits", f.Crc24())
	}
}
