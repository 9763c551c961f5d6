package domain

import (
	"sort"
	"strings"
)

// SiteResolver turns a task into the URL an operator opens to try it.
type SiteResolver struct {
	Mode URLMode
	// URLs maps a site name (gitlab) or placeholder token (__GITLAB__) to a base URL
	URLs map[string]string
}

// Placeholder returns the start_url token for a site name.
func Placeholder(site string) string {
	if IsPlaceholder(site) {
		return site
	}
	return "__" + strings.ToUpper(site) + "__"
}

// IsPlaceholder reports whether s already has the __TOKEN__ shape.
func IsPlaceholder(s string) bool {
	return len(s) > 4 && strings.HasPrefix(s, "__") && strings.HasSuffix(s, "__")
}

// TaskURL resolves the URL for a task according to the resolver mode.
func (r SiteResolver) TaskURL(t *Task) string {
	if r.Mode == URLModeFixed {
		if u, ok := r.URLs[t.PrimarySite()]; ok && u != "" {
			return u
		}
		if t.StartURL != "" {
			return t.StartURL
		}
		return "#"
	}

	if t.StartURL == "" {
		return "#"
	}
	return r.Substitute(t.StartURL)
}

// Substitute replaces every known placeholder token in s with its base URL.
// Longer tokens are replaced first so __SHOPPING_ADMIN__ wins over __SHOPPING__.
func (r SiteResolver) Substitute(s string) string {
	tokens := make([]string, 0, len(r.URLs))
	byToken := make(map[string]string, len(r.URLs))
	for k, u := range r.URLs {
		tok := Placeholder(k)
		tokens = append(tokens, tok)
		byToken[tok] = strings.TrimRight(u, "/")
	}
	sort.Slice(tokens, func(i, j int) bool {
		if len(tokens[i]) != len(tokens[j]) {
			return len(tokens[i]) > len(tokens[j])
		}
		return tokens[i] < tokens[j]
	})

	for _, tok := range tokens {
		s = strings.ReplaceAll(s, tok, byToken[tok])
	}
	return s
}
