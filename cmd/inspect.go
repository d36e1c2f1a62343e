package cmd

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/liuxd6825/surge/cmd/state"
	"github.com/liuxd6825/surge/lib/scenario"
	"github.com/liuxd6825/surge/lib/types"
	"github.com/liuxd6825/surge/loader"
)

type inspectFeeder struct {
	Name     string `json:"name" yaml:"name"`
	Records  int    `json:"records" yaml:"records"`
	Strategy string `json:"strategy" yaml:"strategy"`
}

type inspectResult struct {
	Scenario   string           `json:"scenario" yaml:"scenario"`
	Steps      map[string]int   `json:"steps" yaml:"steps"`
	Feeders    []inspectFeeder  `json:"feeders,omitempty" yaml:"feeders,omitempty"`
	Phases     []string         `json:"phases" yaml:"phases"`
	TotalUsers int64            `json:"totalUsers" yaml:"totalUsers"`
	Duration   types.Duration   `json:"duration" yaml:"duration"`
	Offsets    []types.Duration `json:"offsets" yaml:"offsets"`
}

func inspect(test *loader.Test, maxOffsets int) inspectResult {
	res := inspectResult{
		Scenario:   test.Scenario.Name,
		Steps:      make(map[string]int),
		Phases:     make([]string, 0, len(test.Profile.Phases)),
		TotalUsers: test.Profile.TotalUsers(),
		Duration:   types.Duration(test.Profile.Duration()),
		Offsets:    []types.Duration{},
	}
	scenario.Walk(test.Scenario.Steps, func(s scenario.Step) bool {
		res.Steps[string(s.Kind())]++
		return true
	})

	names := make([]string, 0, len(test.Feeders))
	for name := range test.Feeders {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		f := test.Feeders[name]
		res.Feeders = append(res.Feeders, inspectFeeder{Name: name, Records: f.Len(), Strategy: f.Strategy().String()})
	}

	for _, phase := range test.Profile.Phases {
		res.Phases = append(res.Phases, phase.String())
	}

	schedule := test.Profile.Schedule()
	for len(res.Offsets) < maxOffsets {
		off, ok := schedule.Next()
		if !ok {
			break
		}
		res.Offsets = append(res.Offsets, types.Duration(off))
	}
	return res
}

func getCmdInspect(gs *state.GlobalState) *cobra.Command {
	var (
		env        []string
		maxOffsets int
		printJSON  bool
	)

	// inspectCmd represents the inspect command
	inspectCmd := &cobra.Command{
		Use:   "inspect [file]",
		Short: "Inspect a scenario file",
		Long: `Inspect a scenario file.

Validates the file and prints its injection profile: the phases, the
total number of users, the total duration and the first start offsets.`,
		Args: exactArgsWithMsg(1, "arg should be the path to a scenario file"),
		RunE: func(cmd *cobra.Command, args []string) error {
			if maxOffsets < 0 {
				return fmt.Errorf("--offsets can't be negative, got %d", maxOffsets)
			}
			test, err := loadTest(gs, args[0], env)
			if err != nil {
				return err
			}

			res := inspect(test, maxOffsets)
			if !printJSON {
				return gs.Console.PrintYAML(res)
			}
			data, err := json.MarshalIndent(res, "", "  ")
			if err != nil {
				return err
			}
			printToStdout(gs, string(data)+"\n")
			return nil
		},
	}

	inspectCmd.Flags().SortFlags = false
	inspectCmd.Flags().StringArrayVarP(&env, "env", "e", nil, "add or override an environment variable seen by the scenario file with `VAR=value`")
	inspectCmd.Flags().IntVar(&maxOffsets, "offsets", 10, "number of start offsets to print")
	inspectCmd.Flags().BoolVar(&printJSON, "json", false, "print the result as JSON instead of YAML")

	return inspectCmd
}
