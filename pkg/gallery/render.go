package gallery

import (
	"bytes"
	_ "embed"
	"fmt"
	"html/template"

	"github.com/lucasb-eyer/go-colorful"

	"github.com/tstromberg/chromasort/pkg/chromasort"
)

//go:embed assets/gallery.tmpl
var galleryTmpl string

//go:embed assets/style.css
var styleText string

var tmpl = template.Must(template.New("gallery").Funcs(tmplFunctions()).Parse(galleryTmpl))

type page struct {
	Title   string
	View    chromasort.View
	Status  Status
	Message string
	Style   template.CSS
}

func render(p page) ([]byte, error) {
	p.Style = template.CSS(styleText)

	var tpl bytes.Buffer
	if err := tmpl.Execute(&tpl, p); err != nil {
		return nil, fmt.Errorf("execute: %w", err)
	}
	return tpl.Bytes(), nil
}

// tmplFunctions are functions available to our templates.
func tmplFunctions() template.FuncMap {
	return template.FuncMap{
		// Swatch renders a color as a CSS background. Values that are not hex colors are shown as transparent.
		"Swatch": func(s string) template.CSS {
			c, err := colorful.Hex(s)
			if err != nil {
				return template.CSS("background-color: transparent")
			}
			return template.CSS("background-color: " + c.Hex())
		},
		"ImageURL": func(i *chromasort.Image) string {
			return "/image/" + i.ID
		},
	}
}
