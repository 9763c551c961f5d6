package domain

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/tidwall/gjson"
)

// Task is one benchmark item loaded from a task source. Only the fields the
// viewer consumes are decoded; the full record is kept in Raw.
type Task struct {
	ID                int            `json:"task_id"`
	Sites             []string       `json:"sites"`
	Intent            string         `json:"intent"`
	IntentTemplate    string         `json:"intent_template"`
	InstantiationDict map[string]any `json:"instantiation_dict,omitempty"`
	StartURL          string         `json:"start_url"`

	// Raw holds the record exactly as it appeared in the source
	Raw json.RawMessage `json:"-"`
}

// UnmarshalJSON decodes a task record and retains its raw bytes.
func (t *Task) UnmarshalJSON(data []byte) error {
	if !gjson.ValidBytes(data) {
		return fmt.Errorf("invalid task record")
	}
	if !gjson.GetBytes(data, "task_id").Exists() {
		return fmt.Errorf("task record missing task_id")
	}

	type alias Task
	var a alias
	if err := json.Unmarshal(data, &a); err != nil {
		return err
	}
	*t = Task(a)
	t.Raw = append(json.RawMessage(nil), data...)
	return nil
}

// MarshalJSON returns the raw record when available.
func (t Task) MarshalJSON() ([]byte, error) {
	if len(t.Raw) > 0 {
		return t.Raw, nil
	}
	type alias Task
	return json.Marshal(alias(t))
}

// Key returns the task id as used in review mappings.
func (t *Task) Key() string {
	return TaskKey(t.ID)
}

// TaskKey formats a task id as a review mapping key.
func TaskKey(id int) string {
	return fmt.Sprintf("%d", id)
}

// PrimarySite returns the first listed site, or "" if there is none.
func (t *Task) PrimarySite() string {
	if len(t.Sites) == 0 {
		return ""
	}
	return t.Sites[0]
}

// Params returns the instantiation dict as sorted "key: value" pairs.
func (t *Task) Params() []string {
	keys := make([]string, 0, len(t.InstantiationDict))
	for k := range t.InstantiationDict {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	params := make([]string, 0, len(keys))
	for _, k := range keys {
		params = append(params, fmt.Sprintf("%s: %v", k, t.InstantiationDict[k]))
	}
	return params
}

// ExpectedAnswer renders eval.reference_answers: exact_match if set,
// otherwise the first fuzzy_match entry, otherwise must_include joined.
func (t *Task) ExpectedAnswer() string {
	answers := gjson.GetBytes(t.Raw, "eval.reference_answers")
	if !answers.Exists() || answers.Type == gjson.Null {
		return ""
	}

	if exact := answers.Get("exact_match"); truthy(exact) {
		return exact.String()
	}

	if fuzzy := answers.Get("fuzzy_match"); truthy(fuzzy) {
		if fuzzy.IsArray() {
			return fuzzy.Array()[0].String()
		}
		return fuzzy.String()
	}

	if must := answers.Get("must_include"); truthy(must) {
		if !must.IsArray() {
			return must.String()
		}
		parts := make([]string, 0, len(must.Array()))
		for _, v := range must.Array() {
			parts = append(parts, v.String())
		}
		return strings.Join(parts, ", ")
	}

	return ""
}

func truthy(r gjson.Result) bool {
	switch r.Type {
	case gjson.Null, gjson.False:
		return false
	case gjson.String:
		return r.Str != ""
	case gjson.Number:
		return r.Num != 0
	case gjson.JSON:
		if r.IsArray() {
			return len(r.Array()) > 0
		}
		return len(r.Map()) > 0
	}
	return r.Exists()
}

// SiteCounts counts tasks per site. A task listing several sites counts once
// under each of them.
func SiteCounts(tasks []*Task) map[string]int {
	counts := make(map[string]int)
	for _, t := range tasks {
		seen := make(map[string]struct{}, len(t.Sites))
		for _, s := range t.Sites {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			counts[s]++
		}
	}
	return counts
}

// SortedSites returns the keys of counts in lexical order.
func SortedSites(counts map[string]int) []string {
	sites := make([]string, 0, len(counts))
	for s := range counts {
		sites = append(sites, s)
	}
	sort.Strings(sites)
	return sites
}

// FindTask returns the task with the given id, or nil.
func FindTask(tasks []*Task, id int) *Task {
	for _, t := range tasks {
		if t.ID == id {
			return t
		}
	}
	return nil
}
