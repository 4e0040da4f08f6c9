package cmd

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Iron-Ham/formrunner/internal/config"
	"github.com/Iron-Ham/formrunner/internal/logging"
)

var logsCmd = &cobra.Command{
	Use:   "logs",
	Short: "View the serve log",
	Long: `View and filter the JSON log written by serve when logging.dir is set.

Examples:
  # Last 50 lines
  formrunner logs

  # Everything one task logged
  formrunner logs --task t1 -n 0

  # Follow warnings and errors for a target
  formrunner logs --target r-1 --level warn -f

  # Entries from the last hour mentioning a probe
  formrunner logs --since 1h --grep probe`,
	Args: cobra.NoArgs,
	RunE: runLogs,
}

var (
	logsTail   int
	logsFollow bool
	logsLevel  string
	logsSince  string
	logsGrep   string
	logsTask   string
	logsTarget string
)

func init() {
	rootCmd.AddCommand(logsCmd)

	logsCmd.Flags().IntVarP(&logsTail, "tail", "n", 50, "Number of lines to show (0 for all)")
	logsCmd.Flags().BoolVarP(&logsFollow, "follow", "f", false, "Follow log output (like tail -f)")
	logsCmd.Flags().StringVar(&logsLevel, "level", "", "Filter by minimum level (debug/info/warn/error)")
	logsCmd.Flags().StringVar(&logsSince, "since", "", "Show logs since duration ago (e.g., 1h, 30m)")
	logsCmd.Flags().StringVar(&logsGrep, "grep", "", "Filter logs matching pattern (regex)")
	logsCmd.Flags().StringVar(&logsTask, "task", "", "Only entries for this task ID")
	logsCmd.Flags().StringVar(&logsTarget, "target", "", "Only entries for this target ID")
}

// logEntry is one parsed JSON log line.
type logEntry struct {
	Time     time.Time      `json:"time"`
	Level    string         `json:"level"`
	Msg      string         `json:"msg"`
	TaskID   string         `json:"task_id,omitempty"`
	TargetID string         `json:"target_id,omitempty"`
	Session  *int           `json:"session,omitempty"`
	Phase    string         `json:"phase,omitempty"`
	Extra    map[string]any `json:"-"`
}

// UnmarshalJSON keeps unknown attributes in Extra.
func (e *logEntry) UnmarshalJSON(data []byte) error {
	type alias logEntry
	if err := json.Unmarshal(data, (*alias)(e)); err != nil {
		return err
	}

	var all map[string]any
	if err := json.Unmarshal(data, &all); err != nil {
		return err
	}
	for _, k := range []string{"time", "level", "msg", "task_id", "target_id", "session", "phase"} {
		delete(all, k)
	}
	if len(all) > 0 {
		e.Extra = all
	}
	return nil
}

// logFilter selects entries to show.
type logFilter struct {
	minLevel int
	since    time.Time
	grep     *regexp.Regexp
	task     string
	target   string
}

// ANSI color codes for terminal output
const (
	colorReset  = "\033[0m"
	colorGray   = "\033[90m"
	colorBlue   = "\033[34m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
	colorCyan   = "\033[36m"
)

func levelColor(level string) string {
	switch strings.ToUpper(level) {
	case logging.LevelDebug:
		return colorGray
	case logging.LevelInfo:
		return colorBlue
	case logging.LevelWarn:
		return colorYellow
	case logging.LevelError:
		return colorRed
	default:
		return colorReset
	}
}

func levelPriority(level string) int {
	return slices.Index(logging.ValidLevels(), strings.ToUpper(level))
}

func formatLogEntry(entry *logEntry) string {
	var sb strings.Builder

	fmt.Fprintf(&sb, "%s[%s]%s ", colorGray, entry.Time.Format("15:04:05.000"), colorReset)
	fmt.Fprintf(&sb, "%s[%s]%s ", levelColor(entry.Level), strings.ToUpper(entry.Level), colorReset)
	sb.WriteString(entry.Msg)

	field := func(k string, v any) {
		fmt.Fprintf(&sb, " %s%s=%s%v", colorCyan, k, colorReset, v)
	}
	if entry.TaskID != "" {
		field("task", entry.TaskID)
	}
	if entry.TargetID != "" {
		field("target", entry.TargetID)
	}
	if entry.Session != nil {
		field("session", *entry.Session)
	}
	if entry.Phase != "" {
		field("phase", entry.Phase)
	}

	keys := make([]string, 0, len(entry.Extra))
	for k := range entry.Extra {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	for _, k := range keys {
		field(k, entry.Extra[k])
	}
	return sb.String()
}

func runLogs(cmd *cobra.Command, args []string) error {
	cfg := config.Get()
	if cfg.Logging.Dir == "" {
		fmt.Fprintln(cmd.OutOrStdout(), "logging.dir is not set; serve logs to stderr.")
		return nil
	}
	logPath := filepath.Join(cfg.Logging.Dir, logging.LogFileName)
	if _, err := os.Stat(logPath); os.IsNotExist(err) {
		fmt.Fprintf(cmd.OutOrStdout(), "No log file at %s\n", logPath)
		return nil
	}

	filter := logFilter{minLevel: -1, task: logsTask, target: logsTarget}
	if logsLevel != "" {
		filter.minLevel = levelPriority(logging.ParseLevel(logsLevel))
	}
	if logsSince != "" {
		d, err := time.ParseDuration(logsSince)
		if err != nil {
			return fmt.Errorf("invalid duration format: %w", err)
		}
		filter.since = time.Now().Add(-d)
	}
	if logsGrep != "" {
		re, err := regexp.Compile(logsGrep)
		if err != nil {
			return fmt.Errorf("invalid grep pattern: %w", err)
		}
		filter.grep = re
	}

	if logsFollow {
		return followLogs(cmd.Context(), cmd.OutOrStdout(), logPath, filter)
	}
	return displayLogs(cmd.OutOrStdout(), logPath, logsTail, filter)
}

// displayLogs prints the last tail matching entries of the log file.
func displayLogs(out io.Writer, logPath string, tail int, filter logFilter) error {
	file, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	var lines []string
	scanner := bufio.NewScanner(file)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		if line, ok := renderLine(scanner.Text(), filter); ok {
			lines = append(lines, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("error reading log file: %w", err)
	}

	if tail > 0 && len(lines) > tail {
		lines = lines[len(lines)-tail:]
	}
	for _, line := range lines {
		fmt.Fprintln(out, line)
	}
	if len(lines) == 0 {
		fmt.Fprintln(out, "No matching log entries found.")
	}
	return nil
}

// followLogs prints new matching entries until ctx is done.
func followLogs(ctx context.Context, out io.Writer, logPath string, filter logFilter) error {
	file, err := os.Open(logPath)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer file.Close()

	if _, err := file.Seek(0, io.SeekEnd); err != nil {
		return fmt.Errorf("failed to seek to end: %w", err)
	}
	fmt.Fprintf(out, "Following %s... (Ctrl+C to stop)\n\n", logPath)

	reader := bufio.NewReader(file)
	for {
		line, err := reader.ReadString('\n')
		if err == io.EOF {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}
		if err != nil {
			return fmt.Errorf("error reading log file: %w", err)
		}
		if rendered, ok := renderLine(line, filter); ok {
			fmt.Fprintln(out, rendered)
		}
	}
}

// renderLine formats one raw log line, reporting false if it is filtered
// out. Lines that are not JSON pass through unless a filter needs fields.
func renderLine(raw string, filter logFilter) (string, bool) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", false
	}
	var entry logEntry
	if err := json.Unmarshal([]byte(raw), &entry); err != nil {
		return raw, filter.task == "" && filter.target == ""
	}
	if !filter.matches(&entry) {
		return "", false
	}
	return formatLogEntry(&entry), true
}

func (f logFilter) matches(entry *logEntry) bool {
	if f.minLevel >= 0 && levelPriority(entry.Level) < f.minLevel {
		return false
	}
	if !f.since.IsZero() && entry.Time.Before(f.since) {
		return false
	}
	if f.task != "" && entry.TaskID != f.task {
		return false
	}
	if f.target != "" && entry.TargetID != f.target {
		return false
	}
	if f.grep != nil {
		text := entry.Msg
		for _, v := range entry.Extra {
			text += " " + fmt.Sprint(v)
		}
		if !f.grep.MatchString(text) {
			return false
		}
	}
	return true
}
