/*
 *
 * surge - a virtual-user load generator for HTTP APIs
 * Copyright (C) 2026 surge authors
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as
 * published by the Free Software Foundation, either version 3 of the
 * License, or (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program.  If not, see <http://www.gnu.org/licenses/>.
 *
 */

// Package ui renders run results and progress for terminals.
package ui

import (
	"fmt"
	"io"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/fatih/color"
	"golang.org/x/text/unicode/norm"

	"github.com/liuxd6825/surge/lib/scenario"
	"github.com/liuxd6825/surge/metrics"
)

const (
	GroupPrefix   = "█"
	DetailsPrefix = "↳"

	SuccMark = "✓"
	FailMark = "✗"
)

// TrendColumns are the duration columns of every step line.
var TrendColumns = []TrendColumn{ //nolint:gochecknoglobals
	{"avg", func(s metrics.StepSummary) time.Duration { return s.Mean }},
	{"min", func(s metrics.StepSummary) time.Duration { return s.Min }},
	{"med", func(s metrics.StepSummary) time.Duration { return s.Median }},
	{"max", func(s metrics.StepSummary) time.Duration { return s.Max }},
	{"p(90)", func(s metrics.StepSummary) time.Duration { return s.P90 }},
	{"p(95)", func(s metrics.StepSummary) time.Duration { return s.P95 }},
}

type TrendColumn struct {
	Key string
	Get func(s metrics.StepSummary) time.Duration
}

type palette struct {
	std, succ, fail, gray, value, extra *color.Color
}

func newPalette(noColor bool) palette {
	p := palette{
		std:   color.New(),
		succ:  color.New(color.FgGreen),
		fail:  color.New(color.FgRed),
		gray:  color.New(color.Faint),
		value: color.New(color.FgCyan),
		extra: color.New(color.FgCyan, color.Faint),
	}
	for _, c := range []*color.Color{p.std, p.succ, p.fail, p.gray, p.value, p.extra} {
		if noColor {
			c.DisableColor()
		} else {
			c.EnableColor()
		}
	}
	return p
}

// Returns the actual width of the string.
func StrWidth(s string) (n int) {
	var it norm.Iter
	it.InitString(norm.NFKD, s)

	inEscSeq := false
	inLongEscSeq := false
	for !it.Done() {
		data := it.Next()

		// Skip over ANSI escape codes. CSI parameters run until a final
		// byte in 0x40-0x7E.
		switch {
		case inLongEscSeq:
			if data[0] >= 0x40 && data[0] <= 0x7E {
				inEscSeq, inLongEscSeq = false, false
			}
			continue
		case inEscSeq && data[0] == '[':
			inLongEscSeq = true
			continue
		case inEscSeq:
			inEscSeq = false
			if data[0] >= 0x40 && data[0] <= 0x5F {
				continue
			}
		case data[0] == '\x1b':
			inEscSeq = true
			continue
		}

		n++
	}
	return
}

// HumanizeDuration rounds d to two decimals in its own unit.
func HumanizeDuration(d time.Duration) string {
	switch {
	case d == 0:
		return "0s"
	case d < time.Microsecond:
		return d.String()
	case d < time.Millisecond:
		return strconv.FormatFloat(float64(d)/float64(time.Microsecond), 'f', 2, 64) + "µs"
	case d < time.Second:
		return strconv.FormatFloat(float64(d)/float64(time.Millisecond), 'f', 2, 64) + "ms"
	case d < time.Minute:
		return strconv.FormatFloat(d.Seconds(), 'f', 2, 64) + "s"
	default:
		return d.Round(time.Second).String()
	}
}

func percent(f float64) string {
	return strconv.FormatFloat(f*100, 'f', 2, 64) + "%"
}

// summarizeStep writes the pass/fail line of a step, followed by its
// failure reasons.
func summarizeStep(w io.Writer, indent string, s metrics.StepSummary, p palette) {
	mark, c := SuccMark, p.succ
	if s.Failures > 0 {
		mark, c = FailMark, p.fail
	}
	_, _ = c.Fprintf(w, "%s%s %s\n", indent, mark, s.Name)
	if s.Failures == 0 {
		return
	}
	_, _ = c.Fprintf(w, "%s %s  %d%% - %s %d / %s %d\n",
		indent, DetailsPrefix, int(100*s.SuccessRate),
		SuccMark, s.Successes, FailMark, s.Failures,
	)
	for _, reason := range sortedReasons(s.Errors) {
		_, _ = p.gray.Fprintf(w, "%s    %d x %s\n", indent, s.Errors[reason], reason)
	}
}

// sortedReasons orders by count, most frequent first.
func sortedReasons(m map[string]int64) []string {
	reasons := make([]string, 0, len(m))
	for r := range m {
		reasons = append(reasons, r)
	}
	sort.Slice(reasons, func(i, j int) bool {
		if m[reasons[i]] != m[reasons[j]] {
			return m[reasons[i]] > m[reasons[j]]
		}
		return reasons[i] < reasons[j]
	})
	return reasons
}

// summarizeTrends writes one aligned line per step with its count, success
// rate and duration columns.
func summarizeTrends(w io.Writer, indent string, steps []metrics.StepSummary, p palette) {
	nameLenMax := 0
	countMaxLen, rateMaxLen := 0, 0
	trendColMaxLens := make([]int, len(TrendColumns))
	cols := make([][]string, len(steps))

	for i, s := range steps {
		if l := StrWidth(s.Name); l > nameLenMax {
			nameLenMax = l
		}
		if l := len(strconv.FormatInt(s.Count, 10)); l > countMaxLen {
			countMaxLen = l
		}
		if l := len(percent(s.SuccessRate)); l > rateMaxLen {
			rateMaxLen = l
		}
		cols[i] = make([]string, len(TrendColumns))
		for j, col := range TrendColumns {
			value := HumanizeDuration(col.Get(s))
			if l := StrWidth(value); l > trendColMaxLens[j] {
				trendColMaxLens[j] = l
			}
			cols[i][j] = value
		}
	}

	tmpCols := make([]string, len(TrendColumns))
	for i, s := range steps {
		mark, markColor := SuccMark, p.succ
		if s.Failures > 0 {
			mark, markColor = FailMark, p.fail
		}
		fmtName := s.Name + p.gray.Sprint(strings.Repeat(".", nameLenMax-StrWidth(s.Name)+3)+":")

		count := strconv.FormatInt(s.Count, 10)
		rate := percent(s.SuccessRate)
		fmtData := p.value.Sprint(count) + strings.Repeat(" ", countMaxLen-len(count)) + " " +
			p.extra.Sprint(rate) + strings.Repeat(" ", rateMaxLen-len(rate))
		for j, val := range cols[i] {
			tmpCols[j] = TrendColumns[j].Key + "=" + p.value.Sprint(val) + strings.Repeat(" ", trendColMaxLens[j]-StrWidth(val))
		}
		fmtData += " " + strings.Join(tmpCols, " ")

		_, _ = fmt.Fprint(w, indent+markColor.Sprint(mark)+" "+fmtName+" "+fmtData+"\n")
	}
}

// summarizeVUs writes the virtual user outcome totals and the failure
// reasons.
func summarizeVUs(w io.Writer, indent string, vus metrics.VUSummary, d time.Duration, p palette) {
	_, _ = fmt.Fprintf(w, "%svus%s %s launched  %s  %s  %s cancelled\n",
		indent, p.gray.Sprint("....:"),
		p.value.Sprint(vus.Launched),
		p.succ.Sprintf("%s %d completed", SuccMark, vus.Completed),
		p.fail.Sprintf("%s %d failed", FailMark, vus.Failed),
		p.value.Sprint(vus.Cancelled),
	)
	_, _ = fmt.Fprintf(w, "%stime%s %s\n", indent, p.gray.Sprint("...:"), p.value.Sprint(HumanizeDuration(d)))
	if len(vus.Reasons) == 0 {
		return
	}
	_, _ = fmt.Fprintf(w, "\n%sfailures:\n", indent)
	for _, reason := range sortedReasons(vus.Reasons) {
		_, _ = p.fail.Fprintf(w, "%s  %d x %s\n", indent, vus.Reasons[reason], reason)
	}
}

// Summarize writes the end-of-run report of a scenario.
func Summarize(w io.Writer, name string, summary *metrics.Summary, noColor bool) {
	p := newPalette(noColor)

	_, _ = fmt.Fprintf(w, "\n  %s %s\n\n", GroupPrefix, name)
	requests := make([]metrics.StepSummary, 0, len(summary.Steps))
	for _, s := range summary.Steps {
		if s.Kind == string(scenario.KindRequest) {
			requests = append(requests, s)
			summarizeStep(w, "    ", s, p)
		}
	}
	if len(requests) > 0 {
		_, _ = fmt.Fprint(w, "\n")
	}
	if len(summary.Steps) > 0 {
		summarizeTrends(w, "  ", summary.Steps, p)
		_, _ = fmt.Fprint(w, "\n")
	}
	summarizeVUs(w, "  ", summary.VUs, summary.Duration, p)
}
