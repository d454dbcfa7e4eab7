package dispatch

import (
	"strings"
	"testing"
)

func TestLoadTopologyParsesEdgesAndSymbols(t *testing.T) {
	input := `
edge 1 3
sst 1 11111111-1111-1111-1111-111111111111
sst 3 22222222-2222-2222-2222-222222222222
`
	topo, err := LoadTopology(strings.NewReader(input))
	if err != nil {
		t.Fatalf("LoadTopology: %v", err)
	}

	n := topo.Neighbours("1")
	if len(n) != 1 || n[0] != "3" {
		t.Errorf("Neighbours(1) = %v, want [3]", n)
	}
	if topo.MaxDegree() != 1 {
		t.Errorf("MaxDegree = %d, want 1", topo.MaxDegree())
	}
	if len(topo.SymbolToUUID) != 2 {
		t.Errorf("SymbolToUUID len = %d, want 2", len(topo.SymbolToUUID))
	}
}

func TestLoadTopologyRejectsMalformedToken(t *testing.T) {
	_, err := LoadTopology(strings.NewReader("bogus 1 2"))
	if err == nil {
		t.Fatal("expected error for malformed token")
	}
}

func TestLoadTopologyRejectsBadUUID(t *testing.T) {
	_, err := LoadTopology(strings.NewReader("sst 1 not-a-uuid"))
	if err == nil {
		t.Fatal("expected error for malformed uuid")
	}
}
