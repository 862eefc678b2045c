package chipset

import (
	"testing"

	"github.com/google/go-cmp/cmp"
)

func TestLineSetClaim(t *testing.T) {
	l := NewLineSet(192)

	if err := l.Claim(36, "console"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := l.Claim(40, "dom0:CROSSBAR"); err != nil {
		t.Fatalf("Claim: %v", err)
	}
	if err := l.Claim(36, "dom0:CROSSBAR"); err == nil {
		t.Fatal("expected error claiming a line twice")
	}
	if err := l.Claim(192, "x"); err == nil {
		t.Fatal("expected error claiming out of range")
	}

	if owner, ok := l.Owner(36); !ok || owner != "console" {
		t.Fatalf("Owner(36) = %q, %v", owner, ok)
	}
	if !l.Claimed(40) || l.Claimed(41) {
		t.Fatal("Claimed disagrees with the claims")
	}
	if diff := cmp.Diff([]uint32{36, 40}, l.Lines()); diff != "" {
		t.Fatalf("lines mismatch (-want +got):\n%s", diff)
	}
	if l.Count() != 2 {
		t.Fatalf("Count = %d, want 2", l.Count())
	}

	l.Release(40)
	l.Release(41)
	if l.Claimed(40) || l.Count() != 1 {
		t.Fatal("Release did not drop the claim")
	}
	if err := l.Claim(40, "dom1"); err != nil {
		t.Fatalf("Claim after Release: %v", err)
	}
}
