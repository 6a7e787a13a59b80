// Package templates holds the HTML setup pages served by the Alpaca server.
package templates

import (
	"embed"
	"html/template"
	"strings"
)

//go:embed *.html
var files embed.FS

var funcs = template.FuncMap{
	"lower": strings.ToLower,
}

// Load parses the embedded setup pages.
func Load() (*template.Template, error) {
	return template.New("").Funcs(funcs).ParseFS(files, "*.html")
}
