package json

import (
	"bytes"
	"compress/gzip"
	stdlibjson "encoding/json"
	"io"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuxd6825/surge/lib/testutils"
	"github.com/liuxd6825/surge/metrics"
	"github.com/liuxd6825/surge/output"
)

func testSummary() *metrics.Summary {
	c := metrics.NewCollector()
	start := time.Date(2021, time.February, 24, 13, 37, 10, 0, time.UTC)
	c.MarkStart(start)
	c.RecordLaunch()
	c.Record(metrics.Record{VU: 1, Step: "auth", Kind: "request", Start: start, Duration: 20 * time.Millisecond, OK: true, Status: 200})
	c.Record(metrics.Record{VU: 1, Step: "auth", Kind: "request", Start: start, Duration: 40 * time.Millisecond, Error: "status.find.is(200), but actually found 401", Status: 401})
	c.RecordOutcome(1, metrics.Failed, "auth", "status.find.is(200), but actually found 401")
	c.MarkEnd(start.Add(2 * time.Second))
	return c.Summarize()
}

func TestJSONOutputStdout(t *testing.T) {
	t.Parallel()

	stdout := new(bytes.Buffer)
	out, err := New(output.Params{
		RunID:    "run-1",
		Scenario: "games",
		Logger:   testutils.NewLogger(t),
		StdOut:   stdout,
	})
	require.NoError(t, err)
	assert.Equal(t, "json (stdout)", out.Description())
	require.NoError(t, out.Start())
	out.AddRecords([]metrics.Record{{Step: "auth"}})
	require.NoError(t, out.Stop(testSummary()))

	var env output.SummaryEnvelope
	require.NoError(t, stdlibjson.Unmarshal(stdout.Bytes(), &env))
	assert.Equal(t, "run-1", env.RunID)
	assert.Equal(t, "games", env.Scenario)
	assert.Equal(t, 2000.0, env.DurationMs)
	require.Len(t, env.Steps, 1)
	assert.Equal(t, int64(2), env.Steps[0].Count)
	assert.Equal(t, 0.5, env.Steps[0].SuccessRate)
	assert.Equal(t, int64(1), env.VUs.Failed)
	assert.Equal(t, map[string]int64{"auth: status.find.is(200), but actually found 401": 1}, env.VUs.Reasons)
}

func TestJSONOutputGzipFile(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	out, err := New(output.Params{
		Logger:         testutils.NewLogger(t),
		FS:             fs,
		ConfigArgument: "/summary.json.gz",
	})
	require.NoError(t, err)
	assert.Equal(t, "json (/summary.json.gz)", out.Description())
	require.NoError(t, out.Start())
	require.NoError(t, out.Stop(testSummary()))

	f, err := fs.Open("/summary.json.gz")
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	data, err := io.ReadAll(zr)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"name": "auth"`)
}
