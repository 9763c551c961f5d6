package api

import (
	"embed"
	"html/template"
	"strings"

	"github.com/hochfrequenz/task-viewer/internal/review"
)

//go:embed templates/*.html
var templateFS embed.FS

var (
	indexTemplate  = template.Must(template.New("index.html").Funcs(templateFuncs).ParseFS(templateFS, "templates/index.html"))
	launchTemplate = template.Must(template.New("launch.html").ParseFS(templateFS, "templates/launch.html"))
)

var templateFuncs = template.FuncMap{
	"join": strings.Join,
}

// indexPage is the data behind the list page
type indexPage struct {
	Files    []string
	Selected string
	Tasks    []TaskResponse
	Sites    []SiteCount
	Progress review.Progress
	Traces   int
	LinkMode bool
}

// launchPage is the data behind the launch redirect page
type launchPage struct {
	TaskID int
	URL    string
}
