package msgcat

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestRender_Embedded(t *testing.T) {
	c, err := New("")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	got, err := c.Render("error.RoomFull", map[string]any{"Room": "lobby"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if got != "Room lobby already has two players." {
		t.Fatalf("got %q", got)
	}
	if _, err := c.Render("error.RoomFull", map[string]any{}); err == nil {
		t.Fatalf("expected missing key error")
	}
	if _, err := c.Render("error.Nope", nil); err == nil {
		t.Fatalf("expected template not found")
	}
	if got := c.Text("error.Nope", nil, "fallback"); got != "fallback" {
		t.Fatalf("Text fallback = %q", got)
	}
}

func TestNew_OverrideDir(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("error:\n  RoomFull: \"full: {{.Room}}\"\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := New(dir)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.Text("error.RoomFull", map[string]any{"Room": "x"}, ""); got != "full: x" {
		t.Fatalf("override not applied: %q", got)
	}
	if !c.Has("error.IllegalMove") {
		t.Fatalf("embedded keys lost")
	}
}

func TestNew_DuplicateOverride(t *testing.T) {
	dir := t.TempDir()
	for _, n := range []string{"a.yaml", "b.yml"} {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("error:\n  RoomFull: x\n"), 0o644); err != nil {
			t.Fatal(err)
		}
	}
	_, err := New(dir)
	if err == nil || !strings.Contains(err.Error(), "duplicate override key") {
		t.Fatalf("err = %v", err)
	}
}

func TestNew_RejectsNonString(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.yaml"), []byte("error:\n  RoomFull: 3\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := New(dir); err == nil {
		t.Fatalf("expected unsupported value error")
	}
}
