package api

import (
	"bytes"
	"encoding/json"
	"html/template"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/hochfrequenz/task-viewer/internal/config"
	"github.com/hochfrequenz/task-viewer/internal/domain"
	vierr "github.com/hochfrequenz/task-viewer/internal/errors"
	"github.com/hochfrequenz/task-viewer/internal/review"
	"github.com/hochfrequenz/task-viewer/internal/traceindex"
	"github.com/hochfrequenz/task-viewer/internal/viewer"
)

// TaskResponse is the API response for a task
type TaskResponse struct {
	ID             int      `json:"task_id"`
	Sites          []string `json:"sites"`
	PrimarySite    string   `json:"primary_site"`
	Intent         string   `json:"intent"`
	IntentTemplate string   `json:"intent_template"`
	Params         []string `json:"params,omitempty"`
	ExpectedAnswer string   `json:"expected_answer"`
	TaskURL        string   `json:"task_url"`
	HasTrace       bool     `json:"has_trace"`
	TraceURL       string   `json:"trace_url,omitempty"`
	Reviewed       bool     `json:"reviewed"`
	Notes          string   `json:"notes"`
}

// SiteCount is the number of tasks for one site
type SiteCount struct {
	Site  string `json:"site"`
	Count int    `json:"count"`
}

// StatsResponse is the API response for a source's statistics
type StatsResponse struct {
	File     string          `json:"file"`
	Sites    []SiteCount     `json:"sites"`
	Progress review.Progress `json:"progress"`
	Traces   int             `json:"traces"`
}

// sourceView is a loaded source with its annotations
type sourceView struct {
	File     string
	Tasks    []TaskResponse
	Sites    []SiteCount
	Progress review.Progress
	Traces   int
}

// loadSource selects, loads and annotates a task source
func (s *Server) loadSource(file string) (*sourceView, error) {
	file = s.deps.Catalog.Select(file)
	if file == "" {
		return &sourceView{}, nil
	}

	tasks, err := s.deps.Catalog.Load(file)
	if err != nil {
		return nil, err
	}

	traces, err := s.deps.Traces.Scan(s.deps.TraceDir)
	if err != nil {
		return nil, err
	}

	entries, err := s.deps.Reviews.All(file)
	if err != nil {
		return nil, err
	}

	view := &sourceView{
		File:     file,
		Tasks:    make([]TaskResponse, 0, len(tasks)),
		Progress: review.Summarize(tasks, entries),
	}
	for _, t := range tasks {
		view.Tasks = append(view.Tasks, s.taskToResponse(t, traces.Has(t.ID), entries[t.Key()]))
		if traces.Has(t.ID) {
			view.Traces++
		}
	}

	counts := domain.SiteCounts(tasks)
	for _, site := range domain.SortedSites(counts) {
		view.Sites = append(view.Sites, SiteCount{Site: site, Count: counts[site]})
	}
	return view, nil
}

func (s *Server) taskToResponse(t *domain.Task, hasTrace bool, entry domain.ReviewEntry) TaskResponse {
	resp := TaskResponse{
		ID:             t.ID,
		Sites:          t.Sites,
		PrimarySite:    t.PrimarySite(),
		Intent:         t.Intent,
		IntentTemplate: t.IntentTemplate,
		Params:         t.Params(),
		ExpectedAnswer: t.ExpectedAnswer(),
		TaskURL:        s.deps.Sites.TaskURL(t),
		HasTrace:       hasTrace,
		Reviewed:       entry.Reviewed,
		Notes:          entry.Notes,
	}
	if hasTrace {
		resp.TraceURL = s.traceURL(t.ID)
	}
	return resp
}

func (s *Server) traceURL(taskID int) string {
	if s.deps.TraceMode == config.TraceModeLink {
		return s.deps.Linker.URLFor(taskID)
	}
	return "/launch-trace/" + strconv.Itoa(taskID)
}

func (s *Server) indexHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := s.loadSource(r.URL.Query().Get("file"))
		if err != nil {
			s.pageError(w, err)
			return
		}

		page := indexPage{
			Files:    s.deps.Catalog.Sources(),
			Selected: view.File,
			Tasks:    view.Tasks,
			Sites:    view.Sites,
			Progress: view.Progress,
			Traces:   view.Traces,
			LinkMode: s.deps.TraceMode == config.TraceModeLink,
		}

		var buf bytes.Buffer
		if err := indexTemplate.Execute(&buf, page); err != nil {
			s.pageError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		buf.WriteTo(w)
	}
}

func (s *Server) taskDetailHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := taskIDParam(r)
		if err != nil {
			s.pageError(w, err)
			return
		}

		file := s.deps.Catalog.Select(r.URL.Query().Get("file"))
		if file == "" {
			s.pageError(w, vierr.NotFound("no task files available"))
			return
		}
		tasks, err := s.deps.Catalog.Load(file)
		if err != nil {
			s.pageError(w, err)
			return
		}

		task := domain.FindTask(tasks, id)
		if task == nil {
			http.Error(w, "Task not found", http.StatusNotFound)
			return
		}

		var pretty bytes.Buffer
		if err := json.Indent(&pretty, task.Raw, "", "  "); err != nil {
			s.pageError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		io.WriteString(w, "<pre>"+template.HTMLEscapeString(pretty.String())+"</pre>")
	}
}

func (s *Server) taskFilesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, s.deps.Catalog.Sources())
	}
}

func (s *Server) listTasksHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := s.loadSource(r.URL.Query().Get("file"))
		if err != nil {
			s.handleError(w, err)
			return
		}

		tasks := view.Tasks
		if site := r.URL.Query().Get("site"); site != "" {
			filtered := make([]TaskResponse, 0, len(tasks))
			for _, t := range tasks {
				if slices.Contains(t.Sites, site) {
					filtered = append(filtered, t)
				}
			}
			tasks = filtered
		}
		if tasks == nil {
			tasks = []TaskResponse{}
		}
		writeJSON(w, tasks)
	}
}

func (s *Server) statsHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view, err := s.loadSource(r.URL.Query().Get("file"))
		if err != nil {
			s.handleError(w, err)
			return
		}

		sites := view.Sites
		if sites == nil {
			sites = []SiteCount{}
		}
		writeJSON(w, StatsResponse{
			File:     view.File,
			Sites:    sites,
			Progress: view.Progress,
			Traces:   view.Traces,
		})
	}
}

func (s *Server) healthHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]string{"status": "ok"})
	}
}

// reviewRequest is the body of review and notes updates
type reviewRequest struct {
	File     string  `json:"file"`
	Reviewed *bool   `json:"reviewed"`
	Notes    *string `json:"notes"`
}

func (s *Server) decodeReviewRequest(r *http.Request) (reviewRequest, error) {
	var req reviewRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && err != io.EOF {
			return req, vierr.InvalidArgument("invalid request body: %v", err)
		}
	}
	if req.File == "" {
		req.File = r.URL.Query().Get("file")
	}
	if req.File == "" {
		return req, vierr.InvalidArgument("task file name is required")
	}
	if _, err := s.deps.Catalog.Resolve(req.File); err != nil {
		return req, err
	}
	return req, nil
}

func (s *Server) setReviewedHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := taskIDParam(r)
		if err != nil {
			s.handleError(w, err)
			return
		}
		req, err := s.decodeReviewRequest(r)
		if err != nil {
			s.handleError(w, err)
			return
		}
		if req.Reviewed == nil {
			s.handleError(w, vierr.InvalidArgument("reviewed flag is required"))
			return
		}

		if err := s.deps.Reviews.SetReviewed(req.File, id, *req.Reviewed); err != nil {
			s.handleError(w, err)
			return
		}
		s.logger.Info("review updated", "file", req.File, "task_id", id, "reviewed", *req.Reviewed)
		writeJSON(w, map[string]interface{}{"success": true, "task_id": id, "reviewed": *req.Reviewed})
	}
}

func (s *Server) getNotesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := taskIDParam(r)
		if err != nil {
			s.handleError(w, err)
			return
		}
		file := r.URL.Query().Get("file")
		if file == "" {
			s.handleError(w, vierr.InvalidArgument("task file name is required"))
			return
		}
		if _, err := s.deps.Catalog.Resolve(file); err != nil {
			s.handleError(w, err)
			return
		}

		entry, err := s.deps.Reviews.Get(file, id)
		if err != nil {
			s.handleError(w, err)
			return
		}
		writeJSON(w, map[string]interface{}{"task_id": id, "notes": entry.Notes, "reviewed": entry.Reviewed})
	}
}

func (s *Server) setNotesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := taskIDParam(r)
		if err != nil {
			s.handleError(w, err)
			return
		}
		req, err := s.decodeReviewRequest(r)
		if err != nil {
			s.handleError(w, err)
			return
		}
		if req.Notes == nil {
			s.handleError(w, vierr.InvalidArgument("notes field is required"))
			return
		}

		if err := s.deps.Reviews.SetNotes(req.File, id, *req.Notes); err != nil {
			s.handleError(w, err)
			return
		}
		s.logger.Info("notes updated", "file", req.File, "task_id", id)
		writeJSON(w, map[string]interface{}{"success": true, "task_id": id})
	}
}

func (s *Server) launchTraceHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := taskIDParam(r)
		if err != nil {
			s.pageError(w, err)
			return
		}

		if s.deps.TraceMode == config.TraceModeLink || s.deps.Launcher == nil {
			http.Redirect(w, r, s.deps.Linker.URLFor(id), http.StatusFound)
			return
		}

		url, err := s.deps.Launcher.Launch(r.Context(), id)
		if err != nil {
			s.pageError(w, err)
			return
		}

		var buf bytes.Buffer
		if err := launchTemplate.Execute(&buf, launchPage{TaskID: id, URL: url}); err != nil {
			s.pageError(w, err)
			return
		}
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		buf.WriteTo(w)
	}
}

func (s *Server) traceStatusHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		viewers := []viewer.Status{}
		if s.deps.TraceMode == config.TraceModeLaunch && s.deps.Launcher != nil {
			viewers = s.deps.Launcher.Status()
		}
		writeJSON(w, viewers)
	}
}

func (s *Server) traceFileHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		name := r.PathValue("filename")
		if name != filepath.Base(name) || strings.HasPrefix(name, ".") || !strings.HasSuffix(name, traceindex.Suffix) {
			http.Error(w, "invalid trace file name", http.StatusBadRequest)
			return
		}

		f, err := os.Open(filepath.Join(s.deps.TraceDir, name))
		if err != nil {
			http.Error(w, "Trace not found", http.StatusNotFound)
			return
		}
		defer f.Close()

		info, err := f.Stat()
		if err != nil || info.IsDir() {
			http.Error(w, "Trace not found", http.StatusNotFound)
			return
		}

		w.Header().Set("Content-Type", "application/zip")
		http.ServeContent(w, r, name, info.ModTime(), f)
	}
}

func taskIDParam(r *http.Request) (int, error) {
	raw := r.PathValue("id")
	id, err := strconv.Atoi(raw)
	if err != nil || id < 0 {
		return 0, vierr.InvalidArgument("invalid task id %q", raw)
	}
	return id, nil
}
