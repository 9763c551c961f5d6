package viewer

import (
	"net/url"
	"strings"

	"github.com/hochfrequenz/task-viewer/internal/traceindex"
)

// Linker builds URLs that open a trace in an externally hosted viewer, which
// fetches the artifact back from this service.
type Linker struct {
	// ViewerURL is the hosted viewer, e.g. https://trace.playwright.dev
	ViewerURL string
	// PublicBase is the URL under which this service serves /traces/
	PublicBase string
}

// TraceFileURL is where the artifact of taskID is served
func (l Linker) TraceFileURL(taskID int) string {
	return strings.TrimRight(l.PublicBase, "/") + "/traces/" + traceindex.FileName(taskID)
}

// URLFor returns the hosted viewer URL for taskID
func (l Linker) URLFor(taskID int) string {
	return strings.TrimRight(l.ViewerURL, "/") + "/?trace=" + url.QueryEscape(l.TraceFileURL(taskID))
}
