package identity

import (
	"path/filepath"
	"strings"
	"testing"
)

func TestLoadMintsOnceAndStaysStable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "identity.db")

	first, err := Load(path)
	if err != nil {
		t.Fatalf("first load: %v", err)
	}
	if first.ID == "" || first.Name == "" || first.Color == "" {
		t.Fatalf("minted identity is incomplete: %+v", first)
	}
	if !strings.HasPrefix(first.Color, "#") {
		t.Fatalf("expected a hex color, got %q", first.Color)
	}
	if len(strings.Fields(first.Name)) != 2 {
		t.Fatalf("expected an adjective-animal name, got %q", first.Name)
	}

	second, err := Load(path)
	if err != nil {
		t.Fatalf("second load: %v", err)
	}
	if second != first {
		t.Fatalf("identity changed between loads: %+v vs %+v", first, second)
	}
}

func TestLoadDistinctPathsMintDistinctIdentities(t *testing.T) {
	dir := t.TempDir()
	a, err := Load(filepath.Join(dir, "a.db"))
	if err != nil {
		t.Fatalf("load a: %v", err)
	}
	b, err := Load(filepath.Join(dir, "b.db"))
	if err != nil {
		t.Fatalf("load b: %v", err)
	}
	if a.ID == b.ID {
		t.Fatal("two stores must not share an id")
	}
}
