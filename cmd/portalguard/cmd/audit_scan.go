package cmd

import (
	"bufio"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/jmcleod/portalguard/internal/audit"
)

// errAnomalies makes the scan command exit non-zero when any threshold
// tripped.
var errAnomalies = errors.New("anomalies detected")

// logLine is the subset of a JSON log line the scanner reads.
type logLine struct {
	Component string    `json:"component"`
	Event     string    `json:"event"`
	Timestamp string    `json:"timestamp"`
	Time      time.Time `json:"time"`
}

type scannedEvent struct {
	event audit.Event
	at    time.Time
}

type scanResult struct {
	File    string         `json:"file"`
	Lines   int            `json:"lines"`
	Entries int            `json:"entries"`
	Skipped int            `json:"skipped"`
	Events  map[string]int `json:"events"`
	Alerts  []audit.Alert  `json:"alerts"`
}

// scanAuditLog counts audit entries per event and replays them, in time
// order, through a Monitor with the given thresholds. Non-audit lines are
// ignored; unparseable lines are counted as skipped.
func scanAuditLog(r io.Reader, thresholds map[audit.Event]audit.Threshold) (scanResult, error) {
	result := scanResult{Events: make(map[string]int), Alerts: []audit.Alert{}}

	var events []scannedEvent
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		result.Lines++

		var l logLine
		if err := json.Unmarshal(line, &l); err != nil {
			result.Skipped++
			continue
		}
		if l.Component != "audit" || l.Event == "" {
			continue
		}
		at, err := time.Parse(time.RFC3339, l.Timestamp)
		if err != nil {
			at = l.Time
		}
		if at.IsZero() {
			result.Skipped++
			continue
		}
		result.Entries++
		result.Events[l.Event]++
		events = append(events, scannedEvent{event: audit.Event(l.Event), at: at})
	}
	if err := sc.Err(); err != nil {
		return result, fmt.Errorf("reading audit log: %w", err)
	}

	sort.SliceStable(events, func(i, j int) bool { return events[i].at.Before(events[j].at) })
	m := audit.NewMonitor(func(a audit.Alert) { result.Alerts = append(result.Alerts, a) }, thresholds)
	for _, e := range events {
		m.RecordAt(e.event, e.at)
	}
	return result, nil
}

func printHumanScan(w io.Writer, result scanResult) {
	fmt.Fprintf(w, "Audit log scan: %s\n", result.File)
	fmt.Fprintf(w, "Lines:   %d\n", result.Lines)
	fmt.Fprintf(w, "Entries: %d\n", result.Entries)
	if result.Skipped > 0 {
		fmt.Fprintf(w, "Skipped: %d\n", result.Skipped)
	}
	fmt.Fprintln(w)

	names := make([]string, 0, len(result.Events))
	for name := range result.Events {
		names = append(names, name)
	}
	slices.Sort(names)
	for _, name := range names {
		fmt.Fprintf(w, "  %-30s %d\n", name, result.Events[name])
	}

	fmt.Fprintln(w)
	if len(result.Alerts) == 0 {
		fmt.Fprintln(w, "Result: no anomalies")
		return
	}
	for _, a := range result.Alerts {
		fmt.Fprintf(w, "[ALERT] %s: %d within %s at %s\n",
			a.Event, a.Count, a.Window, a.Timestamp.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "Result: %d anomaly(ies)\n", len(result.Alerts))
}

var scanJSONOutput bool

var scanCmd = &cobra.Command{
	Use:   "scan [file]",
	Short: "Summarize an audit log and flag rejection spikes",
	Long: `Reads a JSON-lines server log, counts the audit entries per event and replays
them against the default anomaly thresholds (rate-limit, CSRF, origin and
access-code rejections, and rate-limit store outages).

Exits non-zero when any threshold was crossed.`,
	Args: cobra.ExactArgs(1),
	RunE: runScan,
}

func init() {
	auditCmd.AddCommand(scanCmd)
	scanCmd.Flags().BoolVar(&scanJSONOutput, "json", false, "Output results as JSON")
}

func runScan(cmd *cobra.Command, args []string) error {
	f, err := os.Open(args[0])
	if err != nil {
		return fmt.Errorf("cannot read file: %w", err)
	}
	defer f.Close()

	result, err := scanAuditLog(f, audit.DefaultThresholds)
	if err != nil {
		return err
	}
	result.File = args[0]

	out := cmd.OutOrStdout()
	if scanJSONOutput {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		printHumanScan(out, result)
	}

	if len(result.Alerts) > 0 {
		return errAnomalies
	}
	return nil
}
