package cmd

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/surge/errext"
	"github.com/liuxd6825/surge/lib/netext/httpext"
	"github.com/liuxd6825/surge/lib/types"
	"github.com/liuxd6825/surge/loader"
)

func TestConfigApply(t *testing.T) {
	t.Parallel()

	conf := Config{MaxVUs: null.IntFrom(10), Out: []string{"json"}}
	assert.Equal(t, conf, conf.Apply(Config{}))

	conf = conf.Apply(Config{
		MaxVUs:      null.IntFrom(0),
		FailOnError: null.BoolFrom(true),
		Out:         []string{"csv=records.csv", "sqlite=run.db"},
	})
	assert.Equal(t, null.IntFrom(0), conf.MaxVUs)
	assert.True(t, conf.FailOnError.Bool)
	assert.Equal(t, []string{"csv=records.csv", "sqlite=run.db"}, conf.Out)
}

func TestConfigFlags(t *testing.T) {
	t.Parallel()

	flags := configFlagSet()
	require.NoError(t, flags.Parse([]string{
		"--max-vus", "5", "--max-duration", "1m30s", "--rps", "2.5",
		"-o", "json=summary.json", "-o", "csv", "--base-url", "http://localhost",
	}))
	conf, err := getConfig(flags)
	require.NoError(t, err)

	assert.Equal(t, null.IntFrom(5), conf.MaxVUs)
	assert.Equal(t, types.NullDurationFrom(90*time.Second), conf.MaxDuration)
	assert.Equal(t, null.FloatFrom(2.5), conf.RPS)
	assert.Equal(t, []string{"json=summary.json", "csv"}, conf.Out)
	assert.Equal(t, null.StringFrom("http://localhost"), conf.BaseURL)
	assert.False(t, conf.Timeout.Valid)
	assert.False(t, conf.Seed.Valid)
	assert.False(t, conf.FailOnError.Valid)

	flags = configFlagSet()
	require.NoError(t, flags.Parse([]string{"--timeout", "never"}))
	_, err = getConfig(flags)
	assert.ErrorContains(t, err, "invalid --timeout value 'never'")
}

func TestReadEnvConfig(t *testing.T) {
	t.Parallel()

	conf, err := readEnvConfig(map[string]string{
		"SURGE_MAX_VUS":       "20",
		"SURGE_TIMEOUT":       "5s",
		"SURGE_OUT":           "json=a.json,csv=b.csv",
		"SURGE_FAIL_ON_ERROR": "true",
		"SURGE_SOMETHING":     "ignored",
	})
	require.NoError(t, err)
	assert.Equal(t, null.IntFrom(20), conf.MaxVUs)
	assert.Equal(t, types.NullDurationFrom(5*time.Second), conf.Timeout)
	assert.Equal(t, []string{"json=a.json", "csv=b.csv"}, conf.Out)
	assert.Equal(t, null.BoolFrom(true), conf.FailOnError)
	assert.False(t, conf.RPS.Valid)

	_, err = readEnvConfig(map[string]string{"SURGE_MAX_VUS": "many"})
	assert.Error(t, err)
}

func TestConsolidatedConfigLayers(t *testing.T) {
	t.Parallel()

	test := &loader.Test{Options: loader.FileOptions{
		MaxVUs:      null.IntFrom(100),
		MaxDuration: types.NullDurationFrom(time.Minute),
		Timeout:     types.NullDurationFrom(10 * time.Second),
		Seed:        null.IntFrom(3),
	}}
	env := map[string]string{"SURGE_MAX_VUS": "50", "SURGE_SEED": "4"}
	cli := Config{MaxVUs: null.IntFrom(25)}

	conf, err := getConsolidatedConfig(env, cli, test)
	require.NoError(t, err)
	assert.Equal(t, int64(25), conf.MaxVUs.Int64)
	assert.Equal(t, int64(4), conf.Seed.Int64)
	assert.Equal(t, time.Minute, conf.MaxDuration.TimeDuration())
	assert.Equal(t, 10*time.Second, conf.Timeout.TimeDuration())

	opts := conf.EngineOptions()
	assert.Equal(t, int64(25), opts.MaxVUs)
	assert.Equal(t, 10*time.Second, opts.StepTimeout)
	assert.Equal(t, int64(4), opts.Seed)

	conf, err = getConsolidatedConfig(nil, Config{}, &loader.Test{})
	require.NoError(t, err)
	assert.Equal(t, DefaultTimeout, conf.Timeout.TimeDuration())
	assert.False(t, conf.Timeout.Valid)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	err := Config{
		MaxVUs:      null.IntFrom(-1),
		MaxDuration: types.NullDurationFrom(-time.Second),
		Timeout:     types.NullDurationFrom(0),
		RPS:         null.FloatFrom(-2),
		Out:         []string{""},
	}.Validate()
	require.Error(t, err)
	assert.True(t, errext.IsConfigError(err))
	for _, msg := range []string{
		"maxVUs can't be negative, got -1",
		"maxDuration can't be negative, got -1s",
		"the timeout has to be positive, got 0s",
		"rps can't be negative, got -2",
		"an empty output was configured",
	} {
		assert.ErrorContains(t, err, msg)
	}

	assert.NoError(t, defaultConfig().Validate())
}

func TestConfigClientConfig(t *testing.T) {
	t.Parallel()

	file := httpext.ClientConfig{
		BaseURL:   "http://file",
		Headers:   map[string]string{"Accept": "application/json"},
		UserAgent: "file-agent",
	}
	conf := defaultConfig().Apply(Config{
		BaseURL:               null.StringFrom("http://cli"),
		RPS:                   null.FloatFrom(10),
		InsecureSkipTLSVerify: null.BoolFrom(true),
	})
	assert.Equal(t, httpext.ClientConfig{
		BaseURL:            "http://cli",
		Headers:            map[string]string{"Accept": "application/json"},
		UserAgent:          "file-agent",
		Timeout:            DefaultTimeout,
		RPS:                10,
		InsecureSkipVerify: true,
	}, conf.ClientConfig(file))
}

func TestScenarioEnv(t *testing.T) {
	t.Parallel()

	gs := newTestGlobalState(map[string]string{"USERS": "1", "HOME": "/root"})
	env, err := scenarioEnv(gs, []string{"USERS=10", "EMPTY=", "URL=http://x/?a=b"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"USERS": "10", "HOME": "/root", "EMPTY": "", "URL": "http://x/?a=b",
	}, env)
	assert.Equal(t, "1", gs.Env["USERS"])

	_, err = scenarioEnv(gs, []string{"USERS"})
	assert.ErrorContains(t, err, "invalid --env value 'USERS', expected KEY=VALUE")
}
