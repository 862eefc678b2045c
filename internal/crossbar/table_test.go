package crossbar

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestBuildTableLayout(t *testing.T) {
	tests := []struct {
		family string
		usable int
		span   int
		lines  []Line
	}{
		{
			family: "dra7",
			usable: 152,
			span:   304,
			lines: []Line{
				{Index: 0, Offset: Unavailable},
				{Index: 3, Offset: Unavailable},
				{Index: 4, Offset: 0, Reserved: true},
				{Index: 5, Offset: Unavailable},
				{Index: 6, Offset: Unavailable},
				{Index: 7, Offset: 2},
				{Index: 8, Offset: 4},
				{Index: 130, Offset: 248},
				{Index: 131, Offset: Unavailable},
				{Index: 132, Offset: Unavailable},
				{Index: 133, Offset: 250},
				{Index: 139, Offset: 262},
				{Index: 159, Offset: 302},
			},
		},
		{
			// Same field layout as dra7 with 139 and 140 withheld.
			family: "dra7-split",
			usable: 150,
			span:   304,
			lines: []Line{
				{Index: 4, Offset: 0, Reserved: true},
				{Index: 133, Offset: 250},
				{Index: 138, Offset: 260},
				{Index: 139, Offset: Unavailable},
				{Index: 140, Offset: Unavailable},
				{Index: 141, Offset: 266},
				{Index: 159, Offset: 302},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.family, func(t *testing.T) {
			table := BuildTable(mustPreset(t, tt.family))

			if table.Len() != 160 {
				t.Fatalf("Len = %d, want 160", table.Len())
			}
			if got := len(table.Usable()); got != tt.usable {
				t.Fatalf("usable lines = %d, want %d", got, tt.usable)
			}
			if got := table.Span(); got != tt.span {
				t.Fatalf("Span = %d, want %d", got, tt.span)
			}
			if table.FirstUsable() != 4 || table.LastUsable() != 159 {
				t.Fatalf("usable bounds = %d..%d, want 4..159", table.FirstUsable(), table.LastUsable())
			}
			for _, want := range tt.lines {
				got, ok := table.Line(want.Index)
				if !ok {
					t.Fatalf("Line(%d) missing", want.Index)
				}
				if diff := cmp.Diff(want, got); diff != "" {
					t.Errorf("Line(%d) mismatch (-want +got):\n%s", want.Index, diff)
				}
			}
		})
	}
}

func TestBuildTableOffsetsAreDense(t *testing.T) {
	table := BuildTable(mustPreset(t, "dra7"))

	for n, i := range table.Usable() {
		line, _ := table.Line(i)
		if line.Offset != 2*n {
			t.Fatalf("line %d offset = %d, want %d", i, line.Offset, 2*n)
		}
		back, ok := table.LineByOffset(line.Offset)
		if !ok || back.Index != i {
			t.Fatalf("LineByOffset(%d) = %v, %v; want line %d", line.Offset, back, ok, i)
		}
		if line.Reserved != (i == 4) {
			t.Fatalf("line %d reserved = %v", i, line.Reserved)
		}
	}

	if _, ok := table.LineByOffset(1); ok {
		t.Fatal("odd offset resolved to a line")
	}
	if _, ok := table.LineByOffset(table.Span()); ok {
		t.Fatal("offset past the span resolved to a line")
	}
	if _, ok := table.Line(160); ok {
		t.Fatal("Line(160) should be out of range")
	}
}

func TestNextUsable(t *testing.T) {
	table := BuildTable(mustPreset(t, "dra7"))

	tests := []struct {
		from int
		want int
		ok   bool
	}{
		{from: -3, want: 4, ok: true},
		{from: 0, want: 4, ok: true},
		{from: 5, want: 7, ok: true},
		{from: 131, want: 133, ok: true},
		{from: 159, want: 159, ok: true},
		{from: 160, ok: false},
	}
	for _, tt := range tests {
		got, ok := table.NextUsable(tt.from)
		if ok != tt.ok || (ok && got != tt.want) {
			t.Errorf("NextUsable(%d) = %d, %v; want %d, %v", tt.from, got, ok, tt.want, tt.ok)
		}
	}
}

func TestTableEqual(t *testing.T) {
	a := BuildTable(mustPreset(t, "dra7"))
	b := BuildTable(mustPreset(t, "dra7"))
	split := BuildTable(mustPreset(t, "dra7-split"))

	if !a.Equal(b) {
		t.Fatal("identical builds compare unequal")
	}
	if a.Equal(split) {
		t.Fatal("different families compare equal")
	}
	if a.Equal(nil) {
		t.Fatal("table equals nil")
	}
}

func TestLineString(t *testing.T) {
	tests := []struct {
		line Line
		want string
	}{
		{Line{Index: 5, Offset: Unavailable}, "MPU_IRQ_5 unavailable"},
		{Line{Index: 4, Offset: 0, Reserved: true}, "MPU_IRQ_4 offset 0x000 reserved"},
		{Line{Index: 7, Offset: 2}, "MPU_IRQ_7 offset 0x002"},
	}
	for _, tt := range tests {
		if got := tt.line.String(); got != tt.want {
			t.Errorf("String() = %q, want %q", got, tt.want)
		}
	}
}
