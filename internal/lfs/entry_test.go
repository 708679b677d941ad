package lfs

import (
	"errors"
	"testing"
)

func TestShortNameDerivation(t *testing.T) {
	fs := newTestFS(t, smallLimits())

	f, err := fs.NewFile("SUPERLONGNAME1234")
	if err != nil {
		t.Fatalf("NewFile() unexpected error: %v", err)
	}
	if got := f.ShortName(); got != "SUPERLON" {
		t.Errorf("derived ShortName() = %q, want %q", got, "SUPERLON")
	}

	t.Run("CustomSurvivesRename", func(t *testing.T) {
		if err := f.SetShortName("MYGAME"); err != nil {
			t.Fatalf("SetShortName() unexpected error: %v", err)
		}
		if err := f.SetLongName("Another Long Title"); err != nil {
			t.Fatalf("SetLongName() unexpected error: %v", err)
		}
		if got := f.ShortName(); got != "MYGAME" {
			t.Errorf("ShortName() after rename = %q, want %q", got, "MYGAME")
		}
		if !f.HasCustomShortName() {
			t.Error("custom flag should be set")
		}
	})

	t.Run("ClearingRevertsToDerived", func(t *testing.T) {
		if err := f.SetShortName(""); err != nil {
			t.Fatalf("SetShortName(\"\") unexpected error: %v", err)
		}
		if got := f.ShortName(); got != "Another " {
			t.Errorf("ShortName() = %q, want %q", got, "Another ")
		}
	})

	t.Run("ShortNameIsLimited", func(t *testing.T) {
		if err := f.SetShortName("NINECHARS"); !errors.Is(err, ErrNameTooLong) {
			t.Errorf("SetShortName() error = %v, want ErrNameTooLong", err)
		}
	})

	t.Run("LongNameIsLimited", func(t *testing.T) {
		if _, err := fs.NewFile("this name is far too long for the limit"); !errors.Is(err, ErrNameTooLong) {
			t.Errorf("NewFile() error = %v, want ErrNameTooLong", err)
		}
	})

	t.Run("RootRetainsVerbatim", func(t *testing.T) {
		root := fs.Root()
		if err := root.SetLongName("MENU ROOT LONG"); err != nil {
			t.Fatalf("SetLongName() unexpected error: %v", err)
		}
		if got := root.ShortName(); got != "" {
			t.Errorf("root ShortName() = %q, want empty", got)
		}
		if err := root.SetShortName("ROOT"); err != nil {
			t.Fatalf("SetShortName() unexpected error: %v", err)
		}
		if got := root.ShortName(); got != "ROOT" {
			t.Errorf("root ShortName() = %q, want ROOT", got)
		}
	})
}

func TestDeriveShortName(t *testing.T) {
	tests := []struct {
		name     string
		long     string
		max      int
		expected string
	}{
		{name: "truncates", long: "SUPERLONGNAME1234", max: 8, expected: "SUPERLON"},
		{name: "short enough", long: "ASTRO", max: 8, expected: "ASTRO"},
		{name: "runes not bytes", long: "ÉÉÉÉÉÉÉÉÉÉ", max: 3, expected: "ÉÉÉ"},
		{name: "no limit", long: "anything", max: 0, expected: "anything"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := DeriveShortName(tt.long, tt.max); got != tt.expected {
				t.Errorf("DeriveShortName(%q, %d) = %q, want %q", tt.long, tt.max, got, tt.expected)
			}
		})
	}
}

func TestTextEncodings(t *testing.T) {
	t.Run("Color", func(t *testing.T) {
		var c Color
		if err := c.UnmarshalText([]byte("darkgreen")); err != nil || c != ColorDarkGreen {
			t.Errorf("UnmarshalText(darkgreen) = %v, %v", c, err)
		}
		if _, err := ParseColor("mauve"); err == nil {
			t.Error("ParseColor(mauve) should fail")
		}
	})

	t.Run("ForkKind", func(t *testing.T) {
		text, err := ForkMenuPosition.MarshalText()
		if err != nil || string(text) != "menuposition" {
			t.Errorf("MarshalText() = %q, %v", text, err)
		}
		var k ForkKind
		if err := k.UnmarshalText([]byte("Manual")); err != nil || k != ForkManual {
			t.Errorf("UnmarshalText(Manual) = %v, %v", k, err)
		}
	})

	t.Run("EntryKind", func(t *testing.T) {
		if _, err := EntryKind(0).MarshalText(); err == nil {
			t.Error("zero EntryKind should not marshal")
		}
	})
}
