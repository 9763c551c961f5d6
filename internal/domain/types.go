package domain

// ReviewEntry is the operator's review state for one task within one source
type ReviewEntry struct {
	Reviewed bool   `json:"reviewed"`
	Notes    string `json:"notes"`
}

// URLMode selects how a task's start URL is resolved
type URLMode string

const (
	// URLModePlaceholder substitutes site tokens such as __GITLAB__ inside start_url
	URLModePlaceholder URLMode = "placeholder"
	// URLModeFixed maps the task's primary site to a configured URL
	URLModeFixed URLMode = "fixed"
)

// SourceMode selects how task sources are discovered
type SourceMode string

const (
	SourceModeDirectory SourceMode = "directory"
	SourceModeFile      SourceMode = "file"
)
