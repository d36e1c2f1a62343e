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

// Package json writes the end-of-run summary as a JSON document.
package json

import (
	"compress/gzip"
	stdlibjson "encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/liuxd6825/surge/metrics"
	"github.com/liuxd6825/surge/output"
)

// Output writes the summary to an (optionally gzipped) JSON file, or to
// stdout when no file name is given.
type Output struct {
	params   output.Params
	logger   logrus.FieldLogger
	filename string
	w        io.Writer
	closeFn  func() error
	records  int
}

// New returns a new JSON output.
func New(params output.Params) (output.Output, error) {
	return &Output{
		params:   params,
		filename: params.ConfigArgument,
		logger: params.Logger.WithFields(logrus.Fields{
			"output":   "json",
			"filename": params.ConfigArgument,
		}),
	}, nil
}

// Description returns a human-readable description of the output.
func (o *Output) Description() string {
	if o.filename == "" || o.filename == "-" {
		return "json (stdout)"
	}
	return fmt.Sprintf("json (%s)", o.filename)
}

// Start tries to open the specified JSON file. If gzip encoding is specified,
// it also handles that.
func (o *Output) Start() error {
	o.logger.Debug("Starting...")

	if o.filename == "" || o.filename == "-" {
		o.w = o.params.StdOut
		o.closeFn = func() error {
			return nil
		}
		return nil
	}

	logfile, err := o.params.FS.Create(o.filename)
	if err != nil {
		return err
	}

	if strings.HasSuffix(o.filename, ".gz") {
		outfile := gzip.NewWriter(logfile)

		o.closeFn = func() error {
			_ = outfile.Close()
			return logfile.Close()
		}
		o.w = outfile
	} else {
		o.closeFn = logfile.Close
		o.w = logfile
	}
	o.logger.Debug("Started!")

	return nil
}

// AddRecords only counts the records, the file holds the aggregates.
func (o *Output) AddRecords(records []metrics.Record) {
	o.records += len(records)
}

// Stop writes the summary and closes the file.
func (o *Output) Stop(summary *metrics.Summary) error {
	o.logger.WithField("records", o.records).Debug("Stopping...")
	defer o.logger.Debug("Stopped!")

	enc := stdlibjson.NewEncoder(o.w)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	err := enc.Encode(output.WrapSummary(o.params.RunID, o.params.Scenario, summary))
	if cerr := o.closeFn(); err == nil {
		err = cerr
	}
	return err
}
