// Package report writes the per-input CSV summary of a job result.
package report

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/rbright/argus/internal/protocol"
	"github.com/rbright/argus/internal/stats"
)

// Phase timers that get start/end/elapsed columns when present.
var phaseColumns = []struct {
	timer  string
	suffix string
}{
	{timer: "Read Video", suffix: "read_video"},
	{timer: "Process Video", suffix: "process_video"},
}

// Writer places "<input-stem>.csv" in Dir, or next to the input when Dir is empty.
type Writer struct {
	Dir string
}

// PTXDetected renders the headline answer: PTX is detected when the lung is not sliding.
func PTXDetected(result protocol.JobResult) string {
	if result.Sliding {
		return "No"
	}
	return "Yes"
}

// Path returns the CSV location for input.
func (w Writer) Path(input string) string {
	dir := w.Dir
	if dir == "" {
		dir = filepath.Dir(input)
	}
	stem := strings.TrimSuffix(filepath.Base(input), filepath.Ext(input))
	return filepath.Join(dir, stem+".csv")
}

// Write renders result for input and returns the file written.
func (w Writer) Write(input string, result protocol.JobResult, debug bool) (string, error) {
	path := w.Path(input)
	header, row := Row(path, result, debug)

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("ensure report dir: %w", err)
	}
	f, err := os.Create(path)
	if err != nil {
		return "", fmt.Errorf("create report: %w", err)
	}

	cw := csv.NewWriter(f)
	_ = cw.Write(header)
	_ = cw.Write(row)
	cw.Flush()
	if err := cw.Error(); err != nil {
		_ = f.Close()
		return "", fmt.Errorf("write report %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close report %s: %w", path, err)
	}
	return path, nil
}

// Row builds the header and the single data row.
func Row(path string, result protocol.JobResult, debug bool) ([]string, []string) {
	timers := result.Stats.Timers
	header := []string{"filename", "PTX_detected"}
	row := []string{path, PTXDetected(result)}

	add := func(name, value string) {
		header = append(header, name)
		row = append(row, value)
	}

	for _, phase := range phaseColumns {
		timer, ok := timers[phase.timer]
		if !ok {
			continue
		}
		add("start_"+phase.suffix, clock(result.Stats.Epoch, timer.Start))
		add("end_"+phase.suffix, clock(result.Stats.Epoch, timer.End))
		add("elapsed_"+phase.suffix, seconds(timer.Elapsed))
	}
	if all, ok := timers["all"]; ok {
		add("total_elapsed", seconds(all.Elapsed))
	}

	if !debug || result.DebugFields == nil {
		return header, row
	}

	add("debug_not_sliding_count", strconv.Itoa(result.NotSlidingCount))
	add("debug_sliding_count", strconv.Itoa(result.SlidingCount))
	for i, decision := range result.VoterDecisions {
		add(fmt.Sprintf("debug_voter%d_decision", i), decision)
		add(fmt.Sprintf("debug_voter%d_not_sliding_count", i), intAt(result.VoterNotSlidingCounts, i))
		add(fmt.Sprintf("debug_voter%d_sliding_count", i), intAt(result.VoterSlidingCounts, i))
	}
	for _, name := range sortedTimers(timers) {
		add("debug_timer_elapsed_"+strings.ReplaceAll(name, " ", "_"), seconds(timers[name].Elapsed))
	}
	return header, row
}

// clock renders epoch+offset as HH:MM:SS:mmm in UTC.
func clock(epoch time.Time, offset float64) string {
	at := epoch.Add(time.Duration(offset * float64(time.Second))).UTC()
	return fmt.Sprintf("%s:%d", at.Format("15:04:05"), at.Nanosecond()/int(time.Millisecond))
}

func seconds(v float64) string {
	return strconv.FormatFloat(v, 'f', 3, 64)
}

func intAt(values []int, i int) string {
	if i >= len(values) {
		return ""
	}
	return strconv.Itoa(values[i])
}

func sortedTimers(timers map[string]stats.Timer) []string {
	names := make([]string, 0, len(timers))
	for name := range timers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
