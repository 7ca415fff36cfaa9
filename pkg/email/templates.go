package email

import (
	"embed"
	"html/template"
	"strconv"
	"time"
)

//go:embed templates/*.html
var templateFS embed.FS

func loadTemplates() (*template.Template, error) {
	return template.New("").Funcs(template.FuncMap{
		"date":  func(t time.Time) string { return t.Format("January 2, 2006") },
		"quota": quotaLabel,
	}).ParseFS(templateFS, "templates/*.html")
}

func quotaLabel(n int) string {
	if n < 0 {
		return "Unlimited"
	}
	return strconv.Itoa(n)
}
