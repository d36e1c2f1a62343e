// Package output contains the interface that surge outputs have to
// implement, as well as some helpers to make their implementation and
// management easier.
package output

import (
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/spf13/afero"

	"github.com/liuxd6825/surge/metrics"
)

// Params contains all possible constructor parameters an output may need.
type Params struct {
	OutputType     string // --out $OutputType=$ConfigArgument, SURGE_OUT="$OutputType=$ConfigArgument"
	ConfigArgument string

	// RunID identifies the run in every output of the same execution.
	RunID       string
	Scenario    string
	Logger      logrus.FieldLogger
	Environment map[string]string
	StdOut      io.Writer
	FS          afero.Fs
}

// An Output abstracts the process of funneling step records and the final
// summary to an external storage backend, such as a file or a database.
//
// N.B: All outputs should have non-blocking AddRecords() methods and should
// spawn their own goroutine to flush records asynchronously.
type Output interface {
	// Returns a human-readable description of the output that will be shown in
	// `surge run`.
	Description() string

	// Start is called before the Engine tries to use the output and should be
	// used for any long initialization tasks, as well as for starting a
	// goroutine to asynchronously flush records to the output.
	Start() error

	// A method to receive the latest records from the Engine. This method is
	// never called concurrently, so do not do anything blocking here that
	// might take a long time.
	AddRecords(records []metrics.Record)

	// Flush all remaining records and finalize the run with its summary.
	Stop(summary *metrics.Summary) error
}

// Parse splits an --out value of the form type=argument.
func Parse(s string) (typ, arg string) {
	typ, arg, _ = strings.Cut(s, "=")
	return strings.TrimSpace(typ), arg
}

// NewRunID returns a random identifier for a new run.
func NewRunID() string {
	return uuid.NewString()
}

// Constructor builds an output from its parameters.
type Constructor func(Params) (Output, error)

// New builds the output named by params.OutputType using constructors.
func New(constructors map[string]Constructor, params Params) (Output, error) {
	ctor, ok := constructors[params.OutputType]
	if !ok {
		return nil, fmt.Errorf("invalid output type '%s', available types are: %s",
			params.OutputType, strings.Join(Names(constructors), ", "))
	}
	return ctor(params)
}
