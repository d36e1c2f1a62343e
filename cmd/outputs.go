package cmd

import (
	"fmt"

	"github.com/liuxd6825/surge/cmd/state"
	"github.com/liuxd6825/surge/errext"
	"github.com/liuxd6825/surge/errext/exitcodes"
	"github.com/liuxd6825/surge/loader"
	"github.com/liuxd6825/surge/output"
	"github.com/liuxd6825/surge/output/csv"
	"github.com/liuxd6825/surge/output/json"
	"github.com/liuxd6825/surge/output/sqlite"
)

// getAllOutputConstructors returns the built-in outputs and the registered
// extensions, keyed by their --out type.
func getAllOutputConstructors() (map[string]output.Constructor, error) {
	// Start with the built-in outputs
	result := map[string]output.Constructor{
		"json":   json.New,
		"csv":    csv.New,
		"sqlite": sqlite.New,
	}

	exts := output.GetExtensions()
	for k, v := range exts {
		if _, ok := result[k]; ok {
			return nil, fmt.Errorf("invalid output extension %s, built-in output with the same type already exists", k)
		}
		result[k] = v
	}

	return result, nil
}

func createOutputs(gs *state.GlobalState, test *loader.Test, conf Config, runID string) ([]output.Output, error) {
	outputConstructors, err := getAllOutputConstructors()
	if err != nil {
		return nil, err
	}
	baseParams := output.Params{
		RunID:       runID,
		Scenario:    test.Scenario.Name,
		Logger:      gs.Logger,
		Environment: gs.Env,
		StdOut:      gs.Stdout,
		FS:          gs.FS,
	}

	result := make([]output.Output, 0, len(conf.Out))
	for _, outputFullArg := range conf.Out {
		params := baseParams
		params.OutputType, params.ConfigArgument = output.Parse(outputFullArg)
		out, err := output.New(outputConstructors, params)
		if err != nil {
			return nil, errext.WithExitCodeIfNone(
				fmt.Errorf("could not create the '%s' output: %w", params.OutputType, err), exitcodes.InvalidConfig,
			)
		}
		result = append(result, out)
	}

	return result, nil
}
