package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"strconv"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/hochfrequenz/task-viewer/internal/domain"
	vierr "github.com/hochfrequenz/task-viewer/internal/errors"
	"github.com/hochfrequenz/task-viewer/internal/review"
	"github.com/hochfrequenz/task-viewer/internal/traceindex"
)

var (
	listFile    string
	listSite    string
	showFile    string
	showFormat  string
	reviewFile  string
	reviewDone  bool
	reviewUndo  bool
	reviewNotes string
)

var (
	titleStyle = lipgloss.NewStyle().
		Bold(true).
		Foreground(lipgloss.Color("205"))

	headerStyle = lipgloss.NewStyle().
		Background(lipgloss.Color("236")).
		Foreground(lipgloss.Color("255")).
		Padding(0, 1)

	siteStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("39"))

	reviewedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("42"))

	mutedStyle = lipgloss.NewStyle().
		Foreground(lipgloss.Color("244"))
)

func init() {
	// list command
	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List tasks of a task file",
		RunE:  runList,
	}
	listCmd.Flags().StringVar(&listFile, "file", "", "task file (default: first available)")
	listCmd.Flags().StringVar(&listSite, "site", "", "filter by site")
	rootCmd.AddCommand(listCmd)

	// show command
	showCmd := &cobra.Command{
		Use:   "show TASK_ID",
		Short: "Print a task record",
		Args:  cobra.ExactArgs(1),
		RunE:  runShow,
	}
	showCmd.Flags().StringVar(&showFile, "file", "", "task file (default: first available)")
	showCmd.Flags().StringVar(&showFormat, "format", "json", "output format: json or yaml")
	rootCmd.AddCommand(showCmd)

	// sources command
	sourcesCmd := &cobra.Command{
		Use:   "sources",
		Short: "List available task files",
		RunE:  runSources,
	}
	rootCmd.AddCommand(sourcesCmd)

	// review command
	reviewCmd := &cobra.Command{
		Use:   "review TASK_ID",
		Short: "Show or update the review state of a task",
		Args:  cobra.ExactArgs(1),
		RunE:  runReview,
	}
	reviewCmd.Flags().StringVar(&reviewFile, "file", "", "task file (default: first available)")
	reviewCmd.Flags().BoolVar(&reviewDone, "done", false, "mark the task reviewed")
	reviewCmd.Flags().BoolVar(&reviewUndo, "undo", false, "mark the task not reviewed")
	reviewCmd.Flags().StringVar(&reviewNotes, "notes", "", "replace the task notes")
	rootCmd.AddCommand(reviewCmd)

	// traces command
	tracesCmd := &cobra.Command{
		Use:   "traces",
		Short: "List recorded trace artifacts",
		RunE:  runTraces,
	}
	rootCmd.AddCommand(tracesCmd)
}

func parseTaskID(arg string) (int, error) {
	id, err := strconv.Atoi(arg)
	if err != nil || id < 0 {
		return 0, vierr.InvalidArgument("invalid task id %q", arg)
	}
	return id, nil
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	loader := newLoader(cfg)

	file := loader.Select(listFile)
	if file == "" {
		fmt.Println("No task files found")
		return nil
	}
	tasks, err := loader.Load(file)
	if err != nil {
		return err
	}

	reviews, err := newReviewStore(cfg, loader)
	if err != nil {
		return err
	}
	defer reviews.Close()
	entries, err := reviews.All(file)
	if err != nil {
		return err
	}

	traces, err := traceindex.New().Scan(cfg.Paths.TraceDir)
	if err != nil {
		return err
	}

	writeTaskList(os.Stdout, file, tasks, entries, traces, listSite)
	return nil
}

func writeTaskList(w io.Writer, file string, tasks []*domain.Task, entries map[string]domain.ReviewEntry, traces traceindex.Set, site string) {
	progress := review.Summarize(tasks, entries)
	fmt.Fprintln(w, titleStyle.Render(file)+mutedStyle.Render(
		fmt.Sprintf("  %d/%d reviewed, %d traces", progress.Reviewed, progress.Total, len(traces))))
	fmt.Fprintln(w, headerStyle.Render(fmt.Sprintf("%-6s %-16s %-3s %-5s %s", "ID", "SITE", "REV", "TRACE", "INTENT")))

	for _, t := range tasks {
		primary := t.PrimarySite()
		if site != "" && !slices.Contains(t.Sites, site) {
			continue
		}
		rev := mutedStyle.Render("-  ")
		if entries[t.Key()].Reviewed {
			rev = reviewedStyle.Render("✓  ")
		}
		trace := "     "
		if traces.Has(t.ID) {
			trace = "yes  "
		}
		fmt.Fprintf(w, " %-6d %s %s %s %s\n",
			t.ID,
			siteStyle.Render(fmt.Sprintf("%-16s", primary)),
			rev,
			trace,
			truncate(t.Intent, 80))
	}
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if len([]rune(s)) <= n {
		return s
	}
	return string([]rune(s)[:n-1]) + "…"
}

func runShow(cmd *cobra.Command, args []string) error {
	id, err := parseTaskID(args[0])
	if err != nil {
		return err
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	loader := newLoader(cfg)

	file := loader.Select(showFile)
	if file == "" {
		return vierr.NotFound("no task files available")
	}
	tasks, err := loader.Load(file)
	if err != nil {
		return err
	}
	task := domain.FindTask(tasks, id)
	if task == nil {
		return vierr.NotFound("task %d not found in %s", id, file)
	}
	return writeTask(os.Stdout, task, showFormat)
}

func writeTask(w io.Writer, task *domain.Task, format string) error {
	switch format {
	case "json":
		out, err := json.MarshalIndent(json.RawMessage(task.Raw), "", "  ")
		if err != nil {
			return err
		}
		_, err = fmt.Fprintln(w, string(out))
		return err
	case "yaml":
		var v any
		if err := json.Unmarshal(task.Raw, &v); err != nil {
			return err
		}
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return vierr.InvalidArgument("unknown format %q", format)
	}
}

func runSources(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	loader := newLoader(cfg)

	sources := loader.Sources()
	if len(sources) == 0 {
		fmt.Println("No task files found")
		return nil
	}
	for _, s := range sources {
		path, err := loader.Path(s)
		if err != nil {
			return err
		}
		detail := ""
		if info, err := os.Stat(path); err == nil {
			detail = fmt.Sprintf("%s, modified %s", humanize.Bytes(uint64(info.Size())), humanize.Time(info.ModTime()))
		}
		fmt.Printf("%s  %s\n", s, mutedStyle.Render(detail))
	}
	return nil
}

func runReview(cmd *cobra.Command, args []string) error {
	id, err := parseTaskID(args[0])
	if err != nil {
		return err
	}
	if reviewDone && reviewUndo {
		return vierr.InvalidArgument("--done and --undo are mutually exclusive")
	}
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	loader := newLoader(cfg)

	file := loader.Select(reviewFile)
	if file == "" {
		return vierr.NotFound("no task files available")
	}

	reviews, err := newReviewStore(cfg, loader)
	if err != nil {
		return err
	}
	defer reviews.Close()

	if reviewDone || reviewUndo {
		if err := reviews.SetReviewed(file, id, reviewDone); err != nil {
			return err
		}
	}
	if cmd.Flags().Changed("notes") {
		if err := reviews.SetNotes(file, id, reviewNotes); err != nil {
			return err
		}
	}

	entry, err := reviews.Get(file, id)
	if err != nil {
		return err
	}
	state := mutedStyle.Render("not reviewed")
	if entry.Reviewed {
		state = reviewedStyle.Render("reviewed")
	}
	fmt.Printf("%s #%d: %s\n", file, id, state)
	if entry.Notes != "" {
		fmt.Printf("notes: %s\n", entry.Notes)
	}
	return nil
}

func runTraces(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	set, err := traceindex.New().Scan(cfg.Paths.TraceDir)
	if err != nil {
		return err
	}
	ids := set.Sorted()
	if len(ids) == 0 {
		fmt.Printf("No traces in %s\n", cfg.Paths.TraceDir)
		return nil
	}

	for _, id := range ids {
		path := filepath.Join(cfg.Paths.TraceDir, traceindex.FileName(id))
		detail := ""
		if info, err := os.Stat(path); err == nil {
			detail = fmt.Sprintf("%s, recorded %s", humanize.Bytes(uint64(info.Size())), humanize.Time(info.ModTime()))
		}
		fmt.Printf("%-6d %s\n", id, mutedStyle.Render(detail))
	}
	fmt.Println(mutedStyle.Render(humanize.Comma(int64(len(ids))) + " traces"))
	return nil
}
