// Package report renders batch outcomes for people and for machines.
package report

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"talkpip/render"
	"talkpip/task"
	"talkpip/timeline"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
)

const maxCell = 60

// Summary is the content of report.json.
type Summary struct {
	BatchID   string           `json:"batchId"`
	Started   time.Time        `json:"started"`
	Finished  time.Time        `json:"finished"`
	Total     int              `json:"total"`
	Succeeded int              `json:"succeeded"`
	Failed    int              `json:"failed"`
	Results   []task.JobResult `json:"results"`
}

func NewSummary(batchID string, started time.Time, results []task.JobResult) Summary {
	s := Summary{BatchID: batchID, Started: started, Finished: time.Now(), Total: len(results), Results: results}
	for _, r := range results {
		if r.OK {
			s.Succeeded++
		} else {
			s.Failed++
		}
	}
	return s
}

// WriteJSON stores the summary as report.json in dir and returns its path.
func WriteJSON(dir string, s Summary) (string, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode report: %w", err)
	}
	path := filepath.Join(dir, "report.json")
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return "", err
	}
	return path, nil
}

// Table renders one row per talk, in input order.
func Table(results []task.JobResult) string {
	tw := newWriter()
	tw.AppendHeader(table.Row{"#", "Talk", "Status", "Stage", "Elapsed", "Output / Error"})
	for _, r := range results {
		detail := r.OutputPath
		if !r.OK {
			detail = r.Error
			if r.ErrorKind != "" {
				detail = "[" + r.ErrorKind + "] " + detail
			}
		}
		tw.AppendRow(table.Row{r.Index + 1, r.TalkID, string(r.Status), string(r.Stage), r.Elapsed, truncate(firstLine(detail))})
	}
	tw.SetColumnConfigs([]table.ColumnConfig{
		{Number: 1, Align: text.AlignRight, AlignHeader: text.AlignLeft},
		{Number: 3, Transformer: statusColor},
	})
	return tw.Render()
}

// TimelineTable renders the intervals of tl alongside their frame counts.
func TimelineTable(tl timeline.Timeline, sched render.FrameSchedule) string {
	tw := newWriter()
	tw.AppendHeader(table.Row{"#", "Start", "End", "Length", "Frames", "Image"})
	for i, iv := range tl.Intervals {
		frames := ""
		if i < len(sched.Frames) {
			frames = strconv.Itoa(sched.Frames[i])
		}
		tw.AppendRow(table.Row{i + 1, seconds(iv.Start), seconds(iv.End), seconds(iv.Length()), frames, iv.Image})
	}
	tw.AppendFooter(table.Row{"", "", "", seconds(tl.Duration()), strconv.Itoa(sched.Total), ""})
	cfgs := make([]table.ColumnConfig, 0, 5)
	for n := 1; n <= 5; n++ {
		cfgs = append(cfgs, table.ColumnConfig{Number: n, Align: text.AlignRight, AlignHeader: text.AlignLeft})
	}
	tw.SetColumnConfigs(cfgs)
	return tw.Render()
}

func newWriter() table.Writer {
	tw := table.NewWriter()
	tw.SetStyle(table.StyleRounded)
	return tw
}

func statusColor(v interface{}) string {
	s := fmt.Sprint(v)
	switch task.Status(s) {
	case task.StatusDone:
		return text.FgGreen.Sprint(s)
	case task.StatusFailed:
		return text.FgRed.Sprint(s)
	default:
		return s
	}
}

func seconds(v float64) string { return strconv.FormatFloat(v, 'f', 3, 64) }

func firstLine(s string) string {
	for i, r := range s {
		if r == '\n' {
			return s[:i]
		}
	}
	return s
}

func truncate(s string) string {
	r := []rune(s)
	if len(r) <= maxCell {
		return s
	}
	return string(r[:maxCell-1]) + "…"
}
