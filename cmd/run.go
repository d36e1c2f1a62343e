package cmd

import (
	"context"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/liuxd6825/surge/cmd/state"
	"github.com/liuxd6825/surge/core"
	"github.com/liuxd6825/surge/errext"
	"github.com/liuxd6825/surge/errext/exitcodes"
	"github.com/liuxd6825/surge/lib/netext/httpext"
	"github.com/liuxd6825/surge/lib/trace"
	"github.com/liuxd6825/surge/metrics"
	"github.com/liuxd6825/surge/output"
	"github.com/liuxd6825/surge/ui"
	"github.com/liuxd6825/surge/ui/pb"
)

const tracesShutdownTimeout = 5 * time.Second

// cmdRun handles the `surge run` sub-command
type cmdRun struct {
	gs *state.GlobalState

	env       []string
	noSummary bool
}

func (c *cmdRun) flagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.SortFlags = false
	flags.AddFlagSet(configFlagSet())
	flags.StringArrayVarP(&c.env, "env", "e", nil, "add or override an environment variable seen by the scenario file with `VAR=value`")
	flags.BoolVar(&c.noSummary, "no-summary", false, "don't show the summary at the end of the run")
	return flags
}

//nolint:funlen
func (c *cmdRun) run(cmd *cobra.Command, args []string) (err error) {
	gs := c.gs
	logger := gs.Logger

	test, err := loadTest(gs, args[0], c.env)
	if err != nil {
		return err
	}
	cliConf, err := getConfig(cmd.Flags())
	if err != nil {
		return errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}
	conf, err := getConsolidatedConfig(gs.Env, cliConf, test)
	if err != nil {
		return err
	}

	printBanner(gs)

	tp, err := trace.TracerProviderFromConfigLine(gs.Ctx, gs.Flags.TracesOutput)
	if err != nil {
		return errext.WithExitCodeIfNone(err, exitcodes.InvalidConfig)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), tracesShutdownTimeout)
		defer cancel()
		if serr := tp.Shutdown(ctx); serr != nil {
			logger.WithError(serr).Error("Couldn't flush the traces")
		}
	}()

	client := httpext.NewClient(conf.ClientConfig(test.Client), logger)
	defer client.CloseIdleConnections()

	logger.Debug("Initializing the engine...")
	engine, err := core.NewEngine(
		test.Scenario, test.Profile, conf.EngineOptions(), client, metrics.NewCollector(), logger,
	)
	if err != nil {
		return err
	}
	engine.Tracer = tp.DefaultTracer()

	runID := output.NewRunID()
	engine.Outputs, err = createOutputs(gs, test, conf, runID)
	if err != nil {
		return err
	}
	printExecutionDescription(gs, test, conf, engine.Outputs)

	var interrupted atomic.Bool
	gracefulStop := func(sig os.Signal) {
		logger.WithField("sig", sig).Debug("Stopping surge in response to signal...")
		interrupted.Store(true)
		engine.Stop()
	}
	hardStop := func(sig os.Signal) {
		logger.WithField("sig", sig).Error("Aborting surge in response to signal")
	}
	stopSignalHandling := handleTestAbortSignals(gs, gracefulStop, hardStop)
	defer stopSignalHandling()

	bar := runProgressBar(test.Scenario.Name, engine)
	progressCtx, progressCancel := context.WithCancel(gs.Ctx)
	defer progressCancel()
	progressBarWG := &sync.WaitGroup{}
	if !gs.Flags.Quiet {
		progressBarWG.Add(1)
		go func() {
			defer progressBarWG.Done()
			gs.Console.ShowProgress(progressCtx, bar, progressInterval)
		}()
	}

	logger.WithField("run_id", runID).Debug("Starting the run...")
	summary, runErr := engine.Run(gs.Ctx)

	status := pb.Done
	if interrupted.Load() || gs.Ctx.Err() != nil {
		status = pb.Interrupted
	}
	bar.Modify(pb.WithStatus(status))
	progressCancel()
	progressBarWG.Wait()

	if summary == nil {
		return errext.WithExitCodeIfNone(runErr, exitcodes.GenericEngine)
	}

	if !c.noSummary {
		ui.Summarize(gs.Stdout, test.Scenario.Name, summary, gs.Flags.NoColor || !gs.Console.Colorized())
	}

	switch {
	case interrupted.Load():
		return &errext.InterruptError{Reason: errext.AbortSignal}
	case conf.MaxDuration.Duration > 0 && summary.VUs.Cancelled > 0:
		logger.WithField("cancelled", summary.VUs.Cancelled).Warn(errext.AbortMaxDuration)
	}
	if runErr != nil {
		return runErr
	}

	if summary.VUs.Launched == 0 {
		logger.Warn("No virtual user was launched, check the injection profile")
	}
	if conf.FailOnError.Bool && summary.VUs.Failed > 0 {
		return errext.WithExitCodeIfNone(
			fmt.Errorf("%d out of %d virtual users failed", summary.VUs.Failed, summary.VUs.Launched),
			exitcodes.UsersFailed,
		)
	}
	return nil
}

func getCmdRun(gs *state.GlobalState) *cobra.Command {
	c := &cmdRun{gs: gs}

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run a load test",
		Long: `Run a load test.

The scenario file describes the steps every virtual user runs and the
injection profile deciding when virtual users are started.`,
		Example: `
  # Run a scenario file.
  surge run games.yaml

  # Never keep more than 50 users alive and stop after 5 minutes.
  surge run --max-vus 50 --max-duration 5m games.yaml

  # Override a variable the scenario file references with ${USERS}.
  surge run -e USERS=100 games.yaml

  # Write the summary as JSON and every step record as CSV.
  surge run -o json=summary.json -o csv=records.csv games.yaml`[1:],
		Args: exactArgsWithMsg(1, "arg should be the path to a scenario file"),
		RunE: c.run,
	}

	runCmd.Flags().SortFlags = false
	runCmd.Flags().AddFlagSet(c.flagSet())
	return runCmd
}
