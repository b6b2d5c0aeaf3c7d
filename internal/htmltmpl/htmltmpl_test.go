package htmltmpl

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestBuiltinPages_Render(t *testing.T) {
	e, err := New("", map[string]any{"server": "x"}, "0.4.0")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	for _, name := range builtinPages {
		out, err := e.Render(name, map[string]any{"title": "Demo"})
		if err != nil {
			t.Errorf("Render(%s): %v", name, err)
			continue
		}
		if !strings.Contains(out, `&#34;title&#34;:&#34;Demo&#34;`) && !strings.Contains(out, `"title":"Demo"`) {
			t.Errorf("Render(%s) missing document payload:\n%s", name, out)
		}
		if !strings.Contains(out, "0.4.0") {
			t.Errorf("Render(%s) missing version", name)
		}
	}
}

func TestDirectoryTemplates(t *testing.T) {
	dir := t.TempDir()
	page := `<h1>{{.Data.title}}</h1>`
	if err := os.WriteFile(filepath.Join(dir, "root.html"), []byte(page), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}

	e, err := New(dir, nil, "dev")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	out, err := e.Render("root.html", map[string]any{"title": "Landing"})
	if err != nil {
		t.Fatalf("Render: %v", err)
	}
	if out != "<h1>Landing</h1>" {
		t.Errorf("out = %q", out)
	}
}

func TestDirectoryTemplates_BadDir(t *testing.T) {
	if _, err := New("/no/such/dir", nil, "dev"); err == nil {
		t.Fatal("want error for missing template dir")
	}
}

func TestRender_UnknownTemplate(t *testing.T) {
	e, err := New("", nil, "dev")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if _, err := e.Render("nope.html", nil); err == nil {
		t.Fatal("want error for unknown template")
	}
}
