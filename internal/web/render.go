package web

import (
	"embed"
	"html/template"
	"io"
	"sync"
	"time"
)

//go:embed templates/*.html
var tmplFS embed.FS

var (
	once sync.Once
	tmpl *template.Template
)

func load() {
	tmpl = template.Must(template.New("base").ParseFS(tmplFS, "templates/*.html"))
}

// Render writes the named template to w. data is enriched with Now.
func Render(w io.Writer, name string, data map[string]any) error {
	once.Do(load)
	if data == nil {
		data = map[string]any{}
	}
	data["Now"] = time.Now().UTC().Format(time.RFC822)
	if _, ok := data["Title"]; !ok {
		data["Title"] = "http-forward"
	}
	return tmpl.ExecuteTemplate(w, name, data)
}
