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

// Package csv streams every step record to a CSV file.
package csv

import (
	"compress/gzip"
	"encoding/csv"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/liuxd6825/surge/metrics"
	"github.com/liuxd6825/surge/output"
)

// Output implements the output.Output interface for saving to CSV files.
type Output struct {
	output.RecordBuffer

	params          output.Params
	periodicFlusher *output.PeriodicFlusher

	logger    logrus.FieldLogger
	fname     string
	csvWriter *csv.Writer
	csvLock   sync.Mutex
	closeFn   func() error

	row          []string
	saveInterval time.Duration
	timeFormat   TimeFormat
}

// New Creates new instance of CSV output
func New(params output.Params) (output.Output, error) {
	return newOutput(params)
}

func newOutput(params output.Params) (*Output, error) {
	logger := params.Logger.WithFields(logrus.Fields{
		"output":   "csv",
		"filename": params.ConfigArgument,
	})
	config, err := GetConsolidatedConfig(params.Environment, params.ConfigArgument)
	if err != nil {
		return nil, err
	}

	fname := config.FileName.String
	o := &Output{
		fname:        fname,
		row:          make([]string, len(header)),
		saveInterval: config.SaveInterval.TimeDuration(),
		timeFormat:   TimeFormat(config.TimeFormat.String),
		logger:       logger,
		params:       params,
	}

	if fname == "" || fname == "-" {
		o.fname = "-"
		o.csvWriter = csv.NewWriter(params.StdOut)
		o.closeFn = func() error { return nil }
		return o, nil
	}

	logFile, err := params.FS.Create(fname)
	if err != nil {
		return nil, err
	}

	if strings.HasSuffix(fname, ".gz") {
		outfile := gzip.NewWriter(logFile)
		o.csvWriter = csv.NewWriter(outfile)
		o.closeFn = func() error {
			_ = outfile.Close()
			return logFile.Close()
		}
	} else {
		o.csvWriter = csv.NewWriter(logFile)
		o.closeFn = logFile.Close
	}

	return o, nil
}

//nolint:gochecknoglobals
var header = []string{"vu", "step", "kind", "start_unix_ms", "duration_ms", "ok", "status", "error"}

// MakeHeader returns the column names for the given time format.
func MakeHeader(timeFormat TimeFormat) []string {
	h := append([]string(nil), header...)
	if timeFormat == RFC3339 {
		h[3] = "start"
	}
	return h
}

// Description returns a human-readable description of the output.
func (o *Output) Description() string {
	if o.fname == "" || o.fname == "-" {
		return "csv (stdout)"
	}
	return fmt.Sprintf("csv (%s)", o.fname)
}

// Start writes the csv header and starts a new output.PeriodicFlusher
func (o *Output) Start() error {
	o.logger.Debug("Starting...")

	err := o.csvWriter.Write(MakeHeader(o.timeFormat))
	if err != nil {
		o.logger.WithField("filename", o.fname).Error("CSV: Error writing column names to file")
	}
	o.csvWriter.Flush()

	pf, err := output.NewPeriodicFlusher(o.saveInterval, o.flushRecords)
	if err != nil {
		return err
	}
	o.logger.Debug("Started!")
	o.periodicFlusher = pf

	return nil
}

// Stop flushes any remaining records and stops the goroutine. The summary is
// not part of the CSV file.
func (o *Output) Stop(_ *metrics.Summary) error {
	o.logger.Debug("Stopping...")
	defer o.logger.Debug("Stopped!")
	o.periodicFlusher.Stop()
	return o.closeFn()
}

// flushRecords writes records to the csv file
func (o *Output) flushRecords() {
	records := o.GetBufferedRecords()
	if len(records) == 0 {
		return
	}

	o.csvLock.Lock()
	defer o.csvLock.Unlock()
	for i := range records {
		row := RecordToRow(&records[i], o.row, o.timeFormat)
		if err := o.csvWriter.Write(row); err != nil {
			o.logger.WithField("filename", o.fname).Error("CSV: Error writing to file")
		}
	}
	o.csvWriter.Flush()
}

// RecordToRow converts a record into a CSV row, reusing row.
func RecordToRow(r *metrics.Record, row []string, timeFormat TimeFormat) []string {
	row[0] = strconv.FormatUint(r.VU, 10)
	row[1] = r.Step
	row[2] = r.Kind
	switch timeFormat {
	case RFC3339:
		row[3] = r.Start.Format(time.RFC3339Nano)
	default:
		row[3] = strconv.FormatInt(r.Start.UnixMilli(), 10)
	}
	row[4] = strconv.FormatFloat(metrics.D(r.Duration), 'f', 6, 64)
	row[5] = strconv.FormatBool(r.OK)
	row[6] = strconv.Itoa(r.Status)
	row[7] = r.Error
	return row
}
