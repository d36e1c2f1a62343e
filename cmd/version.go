package cmd

import (
	"encoding/json"
	"fmt"
	"runtime"
	"strings"

	"github.com/spf13/cobra"

	"github.com/liuxd6825/surge/cmd/state"
	"github.com/liuxd6825/surge/lib/consts"
	"github.com/liuxd6825/surge/output"
)

type versionDetails struct {
	Version   string   `json:"version"`
	GoVersion string   `json:"go_version"`
	GoOS      string   `json:"go_os"`
	GoArch    string   `json:"go_arch"`
	Outputs   []string `json:"outputs"`
}

func getVersionDetails() (versionDetails, error) {
	constructors, err := getAllOutputConstructors()
	if err != nil {
		return versionDetails{}, err
	}
	return versionDetails{
		Version:   "v" + consts.Version,
		GoVersion: runtime.Version(),
		GoOS:      runtime.GOOS,
		GoArch:    runtime.GOARCH,
		Outputs:   output.Names(constructors),
	}, nil
}

type versionCmd struct {
	gs     *state.GlobalState
	isJSON bool
}

func (c *versionCmd) run(_ *cobra.Command, _ []string) error {
	details, err := getVersionDetails()
	if err != nil {
		return err
	}

	if c.isJSON {
		data, err := json.Marshal(details)
		if err != nil {
			return fmt.Errorf("failed to produce the JSON version details: %w", err)
		}
		_, err = fmt.Fprintln(c.gs.Stdout, string(data))
		return err
	}

	printToStdout(c.gs, fmt.Sprintf("surge v%s\n  outputs: %s\n", consts.FullVersion(), strings.Join(details.Outputs, ", ")))
	return nil
}

func getCmdVersion(gs *state.GlobalState) *cobra.Command {
	c := &versionCmd{gs: gs}

	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show application version",
		Long:  `Show the application version, the Go runtime it was built with and the available outputs.`,
		Args:  cobra.NoArgs,
		RunE:  c.run,
	}
	cmd.Flags().BoolVar(&c.isJSON, "json", false, "print the version details as JSON")

	return cmd
}
