// Package view renders the now-playing page.
package view

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"
	"io"
	"time"

	"spotiknob/internal/core"
)

//go:embed templates/main.html
var mainHTML string

type Renderer struct {
	main *template.Template
}

func NewRenderer() *Renderer {
	funcs := template.FuncMap{"minutes": minutes}
	return &Renderer{
		main: template.Must(template.New("main").Funcs(funcs).Parse(mainHTML)),
	}
}

// Render writes the page for info. Output is buffered so a template error
// never leaves a half-written page.
func (r *Renderer) Render(w io.Writer, info core.PlaybackInfo) error {
	var buf bytes.Buffer
	if err := r.main.Execute(&buf, info); err != nil {
		return fmt.Errorf("render main page: %w", err)
	}
	_, err := buf.WriteTo(w)
	return err
}

func minutes(d time.Duration) string {
	seconds := int(d.Round(time.Second) / time.Second)
	return fmt.Sprintf("%d:%02d", seconds/60, seconds%60)
}
