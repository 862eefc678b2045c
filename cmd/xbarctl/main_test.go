package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/tinyrange/crossbar/internal/crossbar"
	"github.com/tinyrange/crossbar/internal/iomem"
)

func newTestCLI(t *testing.T) (*xbarctl, *bytes.Buffer) {
	t.Helper()
	f, ok := crossbar.Preset(crossbar.DefaultFamily)
	if !ok {
		t.Fatal("default family missing")
	}
	var out bytes.Buffer
	mem := iomem.NewMemory()
	return &xbarctl{family: f, mapper: mem, mem: mem, out: &out}, &out
}

func TestParseCells(t *testing.T) {
	got, err := parseCells([]string{"0", "0xdb", "4"})
	if err != nil {
		t.Fatalf("parseCells: %v", err)
	}
	if diff := cmp.Diff([]uint32{0, 219, 4}, got); diff != "" {
		t.Fatalf("cells mismatch (-want +got):\n%s", diff)
	}
	if _, err := parseCells([]string{"spi"}); err == nil {
		t.Fatal("expected error for non-numeric cell")
	}
}

func TestTableCommand(t *testing.T) {
	x, out := newTestCLI(t)
	if err := x.runTable(nil); err != nil {
		t.Fatalf("table: %v", err)
	}
	for _, want := range []string{
		"152 usable lines",
		"MPU_IRQ_4 offset 0x000 reserved",
		"MPU_IRQ_159 offset 0x12e",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("table output missing %q:\n%s", want, out.String())
		}
	}
	if strings.Contains(out.String(), "unavailable") {
		t.Error("table listed unavailable lines without -all")
	}
}

func TestTranslateCommand(t *testing.T) {
	x, out := newTestCLI(t)
	if err := x.runTranslate([]string{"0", "219", "4", "1", "20", "1"}); err != nil {
		t.Fatalf("translate: %v", err)
	}
	want := "hwirq 36 type 0x4 line MPU_IRQ_4\nhwirq 36 type 0x1 direct\n"
	if diff := cmp.Diff(want, out.String()); diff != "" {
		t.Fatalf("output mismatch (-want +got):\n%s", diff)
	}
}

func TestProbeCommand(t *testing.T) {
	x, out := newTestCLI(t)
	if err := x.runProbe([]string{"-addr", "0x4a002a48"}); err != nil {
		t.Fatalf("probe: %v", err)
	}
	if !strings.Contains(out.String(), "verdict deny line MPU_IRQ_4") || !strings.Contains(out.String(), "value 0x0") {
		t.Fatalf("unexpected probe output:\n%s", out.String())
	}
}

func TestProbeRejectsWideValue(t *testing.T) {
	x, _ := newTestCLI(t)
	err := x.runProbe([]string{"-addr", "0x4a002a50", "-width", "1", "-write", "0x1ff"})
	if err == nil || !strings.Contains(err.Error(), "does not fit") {
		t.Fatalf("expected width error, got %v", err)
	}
}

const boardYAML = `
name: board
properties:
  compatible:
    strings: ["ti,dra7"]
children:
  - name: ocp
    children:
      - name: serial@48020000
        properties:
          interrupts:
            u32: [0, 100, 4]
      - name: gpio@4ae10000
        properties:
          interrupts:
            u32: [0, 101, 4]
`

func TestSimulateSubtree(t *testing.T) {
	path := filepath.Join(t.TempDir(), "board.yaml")
	if err := os.WriteFile(path, []byte(boardYAML), 0o644); err != nil {
		t.Fatal(err)
	}

	x, out := newTestCLI(t)
	if err := x.runSimulate([]string{"-n", "1", "-dt", path, "-node", "serial@48020000"}); err != nil {
		t.Fatalf("simulate: %v", err)
	}
	if !strings.Contains(out.String(), "serial@48020000: hwirq 39 type 0x4") {
		t.Errorf("serial interrupt not translated:\n%s", out.String())
	}
	if strings.Contains(out.String(), "gpio@4ae10000") {
		t.Errorf("node outside the subtree was translated:\n%s", out.String())
	}

	x, _ = newTestCLI(t)
	if err := x.runSimulate([]string{"-dt", path, "-node", "nope"}); err == nil {
		t.Fatal("expected error for a missing node")
	}
}

func TestSimulateCommand(t *testing.T) {
	x, out := newTestCLI(t)
	if err := x.runSimulate([]string{"-n", "8"}); err != nil {
		t.Fatalf("simulate: %v", err)
	}
	for _, want := range []string{
		"platform TI DRA7",
		"console hwirq 36",
		"dom0: 4 mappings, 159 routed interrupts",
		"remap control page:",
		"probe console line",
		"allocations 9 exhaustions 0 denials 2 pass-throughs 2 cursor 15 remaining 143",
	} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("simulate output missing %q:\n%s", want, out.String())
		}
	}
}
