package msgcat

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestEmbeddedDefaults(t *testing.T) {
	c, err := New()
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, k := range []string{KeyRoomNotFound, KeyNotMember, KeyInvalidPassword, KeyRosterFull, KeyGeneric, KeyConnectionFailed, KeyIntentRejected, KeyDesync} {
		if !c.Has(k) {
			t.Fatalf("missing key %s", k)
		}
	}
	got, err := c.Render(KeyRoomNotFound, map[string]any{"RoomID": "r9"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if !strings.Contains(got, "r9") {
		t.Fatalf("unexpected text %q", got)
	}
}

func TestRenderMissingDataFails(t *testing.T) {
	c, _ := New()
	if _, err := c.Render(KeyConnectionFailed, map[string]any{}); err == nil {
		t.Fatalf("expected missingkey error")
	}
}

func TestTextFallsBackToGeneric(t *testing.T) {
	c, _ := New()
	if got := c.Text("no.such.key", nil); got != "Request failed: no.such.key" {
		t.Fatalf("got %q", got)
	}
	var nilCat *Catalog
	if got := nilCat.Text(KeyLeft, nil); got != KeyLeft {
		t.Fatalf("nil catalog: got %q", got)
	}
}

func TestLocaleFallsBackToDefault(t *testing.T) {
	c, err := New(WithLocale("KO"))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if c.Locale() != "ko" {
		t.Fatalf("locale %q", c.Locale())
	}
	if got := c.Text(KeyLeft, nil); got != "방에서 나왔습니다." {
		t.Fatalf("ko text not used: %q", got)
	}
	// room.desync only exists in the default locale
	if got := c.Text(KeyDesync, nil); !strings.Contains(got, "out of date") {
		t.Fatalf("default fallback not used: %q", got)
	}

	if _, err := New(WithLocale("xx")); err == nil {
		t.Fatalf("expected unknown locale error")
	}
}

func TestOverrideDirAndDuplicates(t *testing.T) {
	dir := t.TempDir()
	write := func(name, body string) {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
	}
	write("a.yaml", "error:\n  roster_full: \"Full!\"\n")
	write("notes.txt", "ignored")
	c, err := New(WithOverrideDir(dir))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if got := c.Text(KeyRosterFull, nil); got != "Full!" {
		t.Fatalf("override not applied: %q", got)
	}

	write("b.yml", "error:\n  roster_full: \"Again\"\n")
	if _, err := New(WithOverrideDir(dir)); err == nil {
		t.Fatalf("expected duplicate key error")
	}
}

func TestBadOverrides(t *testing.T) {
	cases := map[string]string{
		"number.yaml":   "error:\n  generic: 42\n",
		"template.yaml": "error:\n  generic: \"{{.Message\"\n",
		"list.yaml":     "error:\n  generic: [a, b]\n",
	}
	for name, body := range cases {
		dir := t.TempDir()
		if err := os.WriteFile(filepath.Join(dir, name), []byte(body), 0o600); err != nil {
			t.Fatalf("write: %v", err)
		}
		if _, err := New(WithOverrideDir(dir)); err == nil {
			t.Fatalf("%s: expected load error", name)
		}
	}
}
