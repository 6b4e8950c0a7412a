package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/notnil/h9can/h9"
)

var _ h9.AddressStore = (*File)(nil)

func TestFile_MissingIsEmpty(t *testing.T) {
	s := NewFile(filepath.Join(t.TempDir(), "state.toml"))
	addr, ok, err := s.LoadAddress()
	if err != nil || ok || addr != 0 {
		t.Fatalf("got %d %v %v", addr, ok, err)
	}
}

func TestFile_RoundTrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "state.toml")
	s := NewFile(path)
	if err := s.StoreAddress(0x1FE); err != nil {
		t.Fatal(err)
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(raw), "address = 510") {
		t.Fatalf("file: %q", raw)
	}
	addr, ok, err := NewFile(path).LoadAddress()
	if err != nil || !ok || addr != 0x1FE {
		t.Fatalf("got %d %v %v", addr, ok, err)
	}
	entries, _ := os.ReadDir(filepath.Dir(path))
	if len(entries) != 1 {
		t.Fatalf("temporary files left behind: %v", entries)
	}
}

func TestFile_NodeLoadsStoredAddress(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.toml")
	if err := NewFile(path).StoreAddress(0x033); err != nil {
		t.Fatal(err)
	}
	node, err := h9.NewNode(h9.Identity{}, NewFile(path))
	if err != nil {
		t.Fatal(err)
	}
	if node.Address() != 0x033 {
		t.Fatalf("address: %03X", node.Address())
	}
	if err := node.SetAddress(0x044); err != nil {
		t.Fatal(err)
	}
	if addr, _, _ := NewFile(path).LoadAddress(); addr != 0x044 {
		t.Fatalf("stored: %03X", addr)
	}
}

func TestFile_CorruptFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.toml")
	if err := os.WriteFile(path, []byte("address = ["), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, _, err := NewFile(path).LoadAddress(); err == nil {
		t.Fatal("corrupt state accepted")
	}
}
