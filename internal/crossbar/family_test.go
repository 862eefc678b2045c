package crossbar

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestPresets(t *testing.T) {
	if diff := cmp.Diff([]string{"dra7", "dra7-split"}, Presets()); diff != "" {
		t.Fatalf("Presets mismatch (-want +got):\n%s", diff)
	}
	for _, name := range Presets() {
		f := mustPreset(t, name)
		if err := f.Validate(); err != nil {
			t.Errorf("preset %s: %v", name, err)
		}
	}
	if _, ok := Preset("omap4"); ok {
		t.Fatal("unexpected preset omap4")
	}
}

func TestPresetIsACopy(t *testing.T) {
	f := mustPreset(t, "dra7")
	f.Ranges[0].First = 99
	if again := mustPreset(t, "dra7"); again.Ranges[0].First != 7 {
		t.Fatal("mutating a preset copy changed the preset")
	}
}

func TestFamilyUsable(t *testing.T) {
	f := mustPreset(t, "dra7")
	tests := []struct {
		line int
		want bool
	}{
		{-1, false}, {0, false}, {3, false}, {4, true}, {5, false}, {6, false},
		{7, true}, {130, true}, {131, false}, {132, false}, {133, true},
		{139, true}, {159, true}, {160, false},
	}
	for _, tt := range tests {
		if got := f.Usable(tt.line); got != tt.want {
			t.Errorf("Usable(%d) = %v, want %v", tt.line, got, tt.want)
		}
	}
	if f.UsableCount() != 152 {
		t.Fatalf("UsableCount = %d, want 152", f.UsableCount())
	}
	if split := mustPreset(t, "dra7-split"); split.Usable(139) || split.Usable(140) {
		t.Fatal("dra7-split should skip lines 139 and 140")
	}
}

func TestSplitFamilyKeepsFieldLayout(t *testing.T) {
	split := mustPreset(t, "dra7-split")
	if !split.HasField(139) || !split.HasField(140) || split.HasField(131) {
		t.Fatal("dra7-split field layout differs from dra7")
	}

	full := BuildTable(mustPreset(t, "dra7"))
	table := BuildTable(split)
	for _, i := range table.Usable() {
		got, _ := table.Line(i)
		want, _ := full.Line(i)
		if got != want {
			t.Fatalf("line %d = %v, dra7 has %v", i, got, want)
		}
	}
	// The withheld fields are not addressable as lines.
	for _, off := range []int{262, 264} {
		if _, ok := table.LineByOffset(off); ok {
			t.Fatalf("offset %d resolved to a withheld line", off)
		}
	}
}

func TestFamilyString(t *testing.T) {
	if got := mustPreset(t, "dra7").String(); got != "dra7{4,7-130,133-159}" {
		t.Fatalf("String = %q", got)
	}
	if got := mustPreset(t, "dra7-split").String(); got != "dra7-split{4,7-130,133-138,141-159}" {
		t.Fatalf("String = %q", got)
	}
}

func TestFamilyValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(f *Family)
	}{
		{"console out of range", func(f *Family) { f.ConsoleLine = 200 }},
		{"inverted range", func(f *Family) { f.Ranges[0] = LineRange{First: 20, Last: 10} }},
		{"range past max", func(f *Family) { f.Ranges[1].Last = 170 }},
		{"console inside range", func(f *Family) { f.Ranges[0].First = 2 }},
		{"overlapping ranges", func(f *Family) { f.Ranges[1].First = 120 }},
		{"zero control size", func(f *Family) { f.ControlSize = 0 }},
		{"mux window too large", func(f *Family) { f.MuxStart = 0xf00 }},
		{"mux end past page", func(f *Family) { f.MuxEnd = 0x1000 }},
		{"mux end before start", func(f *Family) { f.MuxEnd = 0x100 }},
		{"usable line outside layout", func(f *Family) { f.Layout = []LineRange{{First: 7, Last: 100}} }},
		{"layout past max", func(f *Family) { f.Layout = []LineRange{{First: 7, Last: 200}} }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := mustPreset(t, "dra7")
			tt.mutate(&f)
			if err := f.Validate(); !errors.Is(err, ErrInvalidFamily) {
				t.Fatalf("expected ErrInvalidFamily, got %v", err)
			}
		})
	}
}

func TestParseFamily(t *testing.T) {
	data := []byte(`
base: dra7
name: dra7-lab
ranges:
  - {first: 7, last: 40}
  - {first: 50, last: 60}
muxEnd: 0xbff
`)
	f, err := ParseFamily(data)
	if err != nil {
		t.Fatalf("ParseFamily: %v", err)
	}

	want := mustPreset(t, "dra7")
	want.Name = "dra7-lab"
	want.Ranges = []LineRange{{First: 7, Last: 40}, {First: 50, Last: 60}}
	want.MuxEnd = 0xbff
	if diff := cmp.Diff(want, f); diff != "" {
		t.Fatalf("family mismatch (-want +got):\n%s", diff)
	}
	if f.UsableCount() != 1+34+11 {
		t.Fatalf("UsableCount = %d", f.UsableCount())
	}
}

func TestParseFamilyInheritsByName(t *testing.T) {
	f, err := ParseFamily([]byte("name: dra7-split\n"))
	if err != nil {
		t.Fatalf("ParseFamily: %v", err)
	}
	if diff := cmp.Diff(mustPreset(t, "dra7-split"), f); diff != "" {
		t.Fatalf("family mismatch (-want +got):\n%s", diff)
	}
}

func TestParseFamilyErrors(t *testing.T) {
	tests := []struct {
		name string
		data string
	}{
		{"unknown base", "base: omap4\n"},
		{"invalid ranges", "ranges: [{first: 2, last: 9}]\n"},
		{"malformed yaml", "ranges: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := ParseFamily([]byte(tt.data)); err == nil {
				t.Fatal("expected error")
			}
		})
	}
	if _, err := ParseFamily([]byte("base: omap4\n")); !errors.Is(err, ErrInvalidFamily) {
		t.Fatalf("expected ErrInvalidFamily, got %v", err)
	}
}

func TestLoadFamily(t *testing.T) {
	path := filepath.Join(t.TempDir(), "family.yaml")
	if err := os.WriteFile(path, []byte("base: dra7\nconsoleLine: 5\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	f, err := LoadFamily(path)
	if err != nil {
		t.Fatalf("LoadFamily: %v", err)
	}
	if f.ConsoleLine != 5 || f.Name != "dra7" {
		t.Fatalf("family = %s", f)
	}

	if _, err := LoadFamily(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}
