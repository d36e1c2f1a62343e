package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/liuxd6825/surge/cmd/state"
	"github.com/liuxd6825/surge/core"
	"github.com/liuxd6825/surge/loader"
	"github.com/liuxd6825/surge/output"
	"github.com/liuxd6825/surge/ui/pb"
)

const progressInterval = 200 * time.Millisecond

func printBanner(gs *state.GlobalState) {
	if gs.Flags.Quiet {
		return
	}
	gs.Console.Printf("\n%s\n\n", gs.Console.Banner())
}

func printExecutionDescription(
	gs *state.GlobalState, test *loader.Test, conf Config, outputs []output.Output,
) {
	if gs.Flags.Quiet {
		return
	}
	valueColor := gs.Console.ApplyTheme

	outs := make([]string, 0, len(outputs))
	for _, out := range outputs {
		outs = append(outs, out.Description())
	}
	outDesc := "-"
	if len(outs) > 0 {
		outDesc = strings.Join(outs, ", ")
	}

	buf := &strings.Builder{}
	fmt.Fprintf(buf, "   scenario: %s\n", valueColor(test.Scenario.Name))
	fmt.Fprintf(buf, "       file: %s\n", valueColor(test.Path))
	fmt.Fprintf(buf, "     output: %s\n", valueColor(outDesc))
	fmt.Fprintf(buf, "\n")
	fmt.Fprintf(buf, "  injection: %s\n", valueColor(test.Profile.Describe()))
	fmt.Fprintf(buf, "             %d users over %s\n", test.Profile.TotalUsers(), test.Profile.Duration())
	if conf.MaxVUs.Int64 > 0 {
		fmt.Fprintf(buf, "     maxVUs: %s\n", valueColor(fmt.Sprint(conf.MaxVUs.Int64)))
	}
	if conf.MaxDuration.Duration > 0 {
		fmt.Fprintf(buf, "maxDuration: %s\n", valueColor(conf.MaxDuration.String()))
	}
	fmt.Fprintf(buf, "\n")
	gs.Console.Printf("%s", buf.String())
}

// runProgressBar tracks the launched users of engine against the total of
// the profile.
func runProgressBar(name string, engine *core.Engine) *pb.ProgressBar {
	total := engine.Profile.TotalUsers()
	return pb.New(
		pb.WithConstLeft(name),
		pb.WithProgress(func() (float64, []string) {
			launched := engine.LaunchedVUs()
			progress := 1.0
			if total > 0 {
				progress = float64(launched) / float64(total)
			}
			right := []string{
				fmt.Sprintf("%d/%d VUs", launched, total),
				fmt.Sprintf("%d active", engine.ActiveVUs()),
			}
			return pb.Clampf(progress, 0, 1), right
		}),
	)
}
