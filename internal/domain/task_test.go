package domain

import (
	"encoding/json"
	"reflect"
	"testing"
)

func decodeTasks(t *testing.T, data string) []*Task {
	t.Helper()
	var tasks []*Task
	if err := json.Unmarshal([]byte(data), &tasks); err != nil {
		t.Fatal(err)
	}
	return tasks
}

func TestTask_UnmarshalKeepsRaw(t *testing.T) {
	tasks := decodeTasks(t, `[{"task_id": 7, "sites": ["gitlab", "reddit"], "intent": "Fork repo", "extra": {"x": 1}}]`)

	task := tasks[0]
	if task.ID != 7 {
		t.Errorf("ID = %d, want 7", task.ID)
	}
	if task.PrimarySite() != "gitlab" {
		t.Errorf("PrimarySite() = %q, want gitlab", task.PrimarySite())
	}

	out, err := json.Marshal(task)
	if err != nil {
		t.Fatal(err)
	}
	if string(out) != `{"task_id":7,"sites":["gitlab","reddit"],"intent":"Fork repo","extra":{"x":1}}` {
		t.Errorf("Marshal() = %s, want original record", out)
	}
}

func TestTask_UnmarshalRequiresTaskID(t *testing.T) {
	var tasks []*Task
	if err := json.Unmarshal([]byte(`[{"intent": "no id"}]`), &tasks); err == nil {
		t.Error("expected error for record without task_id")
	}
}

func TestTask_ExpectedAnswer(t *testing.T) {
	tests := []struct {
		name string
		eval string
		want string
	}{
		{"exact", `{"reference_answers": {"exact_match": "42"}}`, "42"},
		{"exact wins", `{"reference_answers": {"exact_match": "yes", "must_include": ["a"]}}`, "yes"},
		{"fuzzy first", `{"reference_answers": {"fuzzy_match": ["first", "second"]}}`, "first"},
		{"fuzzy string", `{"reference_answers": {"fuzzy_match": "N/A"}}`, "N/A"},
		{"must include", `{"reference_answers": {"must_include": ["a", "b"]}}`, "a, b"},
		{"empty exact falls through", `{"reference_answers": {"exact_match": "", "must_include": ["c"]}}`, "c"},
		{"null", `{"reference_answers": null}`, ""},
		{"missing", `{}`, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tasks := decodeTasks(t, `[{"task_id": 1, "eval": `+tt.eval+`}]`)
			if got := tasks[0].ExpectedAnswer(); got != tt.want {
				t.Errorf("ExpectedAnswer() = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestTask_Params(t *testing.T) {
	task := &Task{InstantiationDict: map[string]any{"repo": "a11y", "count": 3.0}}

	want := []string{"count: 3", "repo: a11y"}
	if got := task.Params(); !reflect.DeepEqual(got, want) {
		t.Errorf("Params() = %v, want %v", got, want)
	}
}

func TestSiteCounts_MultiSite(t *testing.T) {
	tasks := []*Task{
		{ID: 1, Sites: []string{"gitlab"}},
		{ID: 2, Sites: []string{"gitlab", "reddit"}},
		{ID: 3, Sites: []string{"map", "map"}},
	}

	want := map[string]int{"gitlab": 2, "reddit": 1, "map": 1}
	got := SiteCounts(tasks)
	if !reflect.DeepEqual(got, want) {
		t.Errorf("SiteCounts() = %v, want %v", got, want)
	}
	if sites := SortedSites(got); !reflect.DeepEqual(sites, []string{"gitlab", "map", "reddit"}) {
		t.Errorf("SortedSites() = %v", sites)
	}
}

func TestFindTask(t *testing.T) {
	tasks := []*Task{{ID: 1}, {ID: 2}}

	if got := FindTask(tasks, 2); got == nil || got.ID != 2 {
		t.Errorf("FindTask(2) = %v", got)
	}
	if got := FindTask(tasks, 9); got != nil {
		t.Errorf("FindTask(9) = %v, want nil", got)
	}
}
