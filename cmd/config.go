package cmd

import (
	"errors"
	"fmt"
	"time"

	"github.com/mstoykov/envconfig"
	"github.com/spf13/pflag"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/surge/core"
	"github.com/liuxd6825/surge/errext"
	"github.com/liuxd6825/surge/lib/netext/httpext"
	"github.com/liuxd6825/surge/lib/types"
	"github.com/liuxd6825/surge/loader"
)

// DefaultTimeout bounds request steps when nothing else does.
const DefaultTimeout = 60 * time.Second

func configFlagSet() *pflag.FlagSet {
	flags := pflag.NewFlagSet("", pflag.ContinueOnError)
	flags.SortFlags = false
	flags.Int64("max-vus", 0, "maximum number of concurrently live virtual users, 0 means unbounded")
	flags.String("max-duration", "", "stop the run and cancel every live user after this `duration`")
	flags.String("timeout", "", "request step timeout when the step doesn't set one (default 60s)")
	flags.Float64("rps", 0, "global cap on the requests sent per second, 0 means unlimited")
	flags.Int64("seed", 0, "seed for pauses and feeders, 0 means time-based")
	flags.Bool("fail-on-error", false, "exit with a non-zero code when any virtual user failed")
	flags.StringArrayP("out", "o", []string{}, "`uri` for an output, e.g. json=summary.json")
	flags.String("base-url", "", "prepended to request urls that aren't absolute")
	flags.String("user-agent", "", "user agent sent with every request")
	flags.Bool("insecure-skip-tls-verify", false, "skip verification of TLS certificates")
	return flags
}

// Config is the consolidated configuration of a run. Every layer fills a
// Config of its own, layers are then merged with Apply.
type Config struct {
	MaxVUs      null.Int           `json:"maxVUs" envconfig:"SURGE_MAX_VUS"`
	MaxDuration types.NullDuration `json:"maxDuration" envconfig:"SURGE_MAX_DURATION"`
	Timeout     types.NullDuration `json:"timeout" envconfig:"SURGE_TIMEOUT"`
	RPS         null.Float         `json:"rps" envconfig:"SURGE_RPS"`
	Seed        null.Int           `json:"seed" envconfig:"SURGE_SEED"`
	FailOnError null.Bool          `json:"failOnError" envconfig:"SURGE_FAIL_ON_ERROR"`

	Out []string `json:"out" envconfig:"SURGE_OUT"`

	BaseURL               null.String `json:"baseUrl" envconfig:"SURGE_BASE_URL"`
	UserAgent             null.String `json:"userAgent" envconfig:"SURGE_USER_AGENT"`
	InsecureSkipTLSVerify null.Bool   `json:"insecureSkipTLSVerify" envconfig:"SURGE_INSECURE_SKIP_TLS_VERIFY"`
}

// Apply returns c with every set field of cfg applied on top of it.
func (c Config) Apply(cfg Config) Config {
	if cfg.MaxVUs.Valid {
		c.MaxVUs = cfg.MaxVUs
	}
	if cfg.MaxDuration.Valid {
		c.MaxDuration = cfg.MaxDuration
	}
	if cfg.Timeout.Valid {
		c.Timeout = cfg.Timeout
	}
	if cfg.RPS.Valid {
		c.RPS = cfg.RPS
	}
	if cfg.Seed.Valid {
		c.Seed = cfg.Seed
	}
	if cfg.FailOnError.Valid {
		c.FailOnError = cfg.FailOnError
	}
	if len(cfg.Out) > 0 {
		c.Out = cfg.Out
	}
	if cfg.BaseURL.Valid {
		c.BaseURL = cfg.BaseURL
	}
	if cfg.UserAgent.Valid {
		c.UserAgent = cfg.UserAgent
	}
	if cfg.InsecureSkipTLSVerify.Valid {
		c.InsecureSkipTLSVerify = cfg.InsecureSkipTLSVerify
	}
	return c
}

// Validate checks the consolidated values, returning a *errext.ConfigError.
func (c Config) Validate() error {
	var errs []error
	if c.MaxVUs.Int64 < 0 {
		errs = append(errs, fmt.Errorf("maxVUs can't be negative, got %d", c.MaxVUs.Int64))
	}
	if c.MaxDuration.Duration < 0 {
		errs = append(errs, fmt.Errorf("maxDuration can't be negative, got %s", c.MaxDuration.Duration))
	}
	if c.Timeout.Valid && c.Timeout.Duration <= 0 {
		errs = append(errs, fmt.Errorf("the timeout has to be positive, got %s", c.Timeout.Duration))
	}
	if c.RPS.Float64 < 0 {
		errs = append(errs, fmt.Errorf("rps can't be negative, got %g", c.RPS.Float64))
	}
	for _, out := range c.Out {
		if out == "" {
			errs = append(errs, errors.New("an empty output was configured"))
		}
	}
	return errext.NewConfigError("run configuration", errs...)
}

// EngineOptions translates c into the options of the engine.
func (c Config) EngineOptions() core.Options {
	return core.Options{
		MaxVUs:      c.MaxVUs.Int64,
		MaxDuration: c.MaxDuration.TimeDuration(),
		StepTimeout: c.Timeout.TimeDuration(),
		Seed:        c.Seed.Int64,
	}
}

// ClientConfig applies the protocol settings of c to the ones of the file.
func (c Config) ClientConfig(file httpext.ClientConfig) httpext.ClientConfig {
	if c.BaseURL.Valid {
		file.BaseURL = c.BaseURL.String
	}
	if c.UserAgent.Valid {
		file.UserAgent = c.UserAgent.String
	}
	if c.InsecureSkipTLSVerify.Valid {
		file.InsecureSkipVerify = c.InsecureSkipTLSVerify.Bool
	}
	file.Timeout = c.Timeout.TimeDuration()
	file.RPS = c.RPS.Float64
	return file
}

func defaultConfig() Config {
	return Config{Timeout: types.NewNullDuration(DefaultTimeout, false)}
}

// Gets configuration from CLI flags.
func getConfig(flags *pflag.FlagSet) (Config, error) {
	out, err := flags.GetStringArray("out")
	if err != nil {
		return Config{}, err
	}
	maxDuration, err := getNullDuration(flags, "max-duration")
	if err != nil {
		return Config{}, err
	}
	timeout, err := getNullDuration(flags, "timeout")
	if err != nil {
		return Config{}, err
	}
	return Config{
		MaxVUs:                getNullInt64(flags, "max-vus"),
		MaxDuration:           maxDuration,
		Timeout:               timeout,
		RPS:                   getNullFloat64(flags, "rps"),
		Seed:                  getNullInt64(flags, "seed"),
		FailOnError:           getNullBool(flags, "fail-on-error"),
		Out:                   out,
		BaseURL:               getNullString(flags, "base-url"),
		UserAgent:             getNullString(flags, "user-agent"),
		InsecureSkipTLSVerify: getNullBool(flags, "insecure-skip-tls-verify"),
	}, nil
}

func readEnvConfig(env map[string]string) (Config, error) {
	conf := Config{}
	err := envconfig.Process("", &conf, func(key string) (string, bool) {
		v, ok := env[key]
		return v, ok
	})
	return conf, err
}

func fileConfig(opts loader.FileOptions) Config {
	return Config{
		MaxVUs:      opts.MaxVUs,
		MaxDuration: opts.MaxDuration,
		Timeout:     opts.Timeout,
		RPS:         opts.RPS,
		Seed:        opts.Seed,
		FailOnError: opts.FailOnError,
	}
}

// getConsolidatedConfig merges, from lowest to highest priority, the
// defaults, the options block of the scenario file, the environment and
// the CLI flags.
func getConsolidatedConfig(env map[string]string, cliConf Config, test *loader.Test) (Config, error) {
	envConf, err := readEnvConfig(env)
	if err != nil {
		return Config{}, errext.NewConfigError("environment", err)
	}

	conf := defaultConfig()
	if test != nil {
		conf = conf.Apply(fileConfig(test.Options))
	}
	conf = conf.Apply(envConf).Apply(cliConf)
	return conf, conf.Validate()
}
