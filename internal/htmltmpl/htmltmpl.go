// Package htmltmpl renders the HTML representations. The API core only
// depends on the Engine contract; the default engine wraps html/template
// with a to_json helper, loading page templates from a directory or falling
// back to a built-in minimal set.
package htmltmpl

import (
	"fmt"
	"html/template"
	"path/filepath"
	"strings"

	json "github.com/goccy/go-json"
)

// Engine renders a named page template. The data argument is the assembled
// resource document for the page.
type Engine interface {
	Render(name string, data any) (string, error)
}

// pageData is what every template receives.
type pageData struct {
	Config  any
	Data    any
	Version string
}

type TemplateEngine struct {
	tpl     *template.Template
	cfg     any
	version string
}

// New loads page templates from dir. With an empty dir the built-in
// fallback pages are used so HTML responses always render.
func New(dir string, cfg any, version string) (*TemplateEngine, error) {
	root := template.New("pages").Funcs(template.FuncMap{
		"to_json": func(v any) string {
			raw, err := json.Marshal(v)
			if err != nil {
				return ""
			}
			return string(raw)
		},
	})

	if dir != "" {
		tpl, err := root.ParseGlob(filepath.Join(dir, "*.html"))
		if err != nil {
			return nil, fmt.Errorf("parse templates in %s: %w", dir, err)
		}
		return &TemplateEngine{tpl: tpl, cfg: cfg, version: version}, nil
	}

	for _, name := range builtinPages {
		var err error
		root, err = root.New(name).Parse(builtinPage)
		if err != nil {
			return nil, fmt.Errorf("builtin template %s: %w", name, err)
		}
	}
	return &TemplateEngine{tpl: root, cfg: cfg, version: version}, nil
}

func (e *TemplateEngine) Render(name string, data any) (string, error) {
	var sb strings.Builder
	err := e.tpl.ExecuteTemplate(&sb, name, pageData{
		Config:  e.cfg,
		Data:    data,
		Version: e.version,
	})
	if err != nil {
		return "", fmt.Errorf("render %s: %w", name, err)
	}
	return sb.String(), nil
}

var builtinPages = []string{
	"root.html", "api.html", "conformance.html",
	"collections.html", "collection.html",
	"items.html", "item.html",
	"processes.html", "process.html",
}

const builtinPage = `<!DOCTYPE html>
<html lang="en">
<head><meta charset="utf-8"><title>featureserv {{.Version}}</title></head>
<body>
<pre>{{to_json .Data}}</pre>
</body>
</html>
`
