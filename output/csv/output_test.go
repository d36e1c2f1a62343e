package csv

import (
	"bytes"
	"compress/gzip"
	"encoding/csv"
	"io"
	"testing"
	"time"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/guregu/null.v3"

	"github.com/liuxd6825/surge/lib/testutils"
	"github.com/liuxd6825/surge/lib/types"
	"github.com/liuxd6825/surge/metrics"
	"github.com/liuxd6825/surge/output"
)

func TestGetConsolidatedConfig(t *testing.T) {
	t.Parallel()

	cases := map[string]struct {
		env     map[string]string
		arg     string
		want    Config
		wantErr bool
	}{
		"defaults": {
			want: NewConfig(),
		},
		"file name only": {
			arg: "results.csv",
			want: Config{
				FileName:     null.StringFrom("results.csv"),
				SaveInterval: types.NewNullDuration(time.Second, false),
				TimeFormat:   null.NewString("unix", false),
			},
		},
		"env then arg": {
			env: map[string]string{"SURGE_CSV_SAVE_INTERVAL": "5s", "SURGE_CSV_FILENAME": "env.csv"},
			arg: "fileName=arg.csv,timeFormat=rfc3339",
			want: Config{
				FileName:     null.StringFrom("arg.csv"),
				SaveInterval: types.NullDurationFrom(5 * time.Second),
				TimeFormat:   null.StringFrom("rfc3339"),
			},
		},
		"unknown key": {
			arg:     "fileName=a.csv,compress=yes",
			wantErr: true,
		},
		"bad time format": {
			arg:     "timeFormat=iso",
			wantErr: true,
		},
	}

	for name, tc := range cases {
		tc := tc
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			got, err := GetConsolidatedConfig(tc.env, tc.arg)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestRecordToRow(t *testing.T) {
	t.Parallel()

	start := time.Unix(1562324644, 0).UTC()
	rec := metrics.Record{
		VU: 3, Step: "Get game - g-1", Kind: "request", Start: start,
		Duration: 1500 * time.Microsecond, Status: 404,
		Error: "status.find.is(200), but actually found 404",
	}
	row := make([]string, len(header))

	assert.Equal(t, []string{
		"3", "Get game - g-1", "request", "1562324644000", "1.500000", "false", "404",
		"status.find.is(200), but actually found 404",
	}, RecordToRow(&rec, row, Unix))
	assert.Equal(t, "2019-07-05T11:04:04Z", RecordToRow(&rec, row, RFC3339)[3])
	assert.Equal(t, "start", MakeHeader(RFC3339)[3])
	assert.Equal(t, "start_unix_ms", MakeHeader(Unix)[3])
}

func readRows(t *testing.T, r io.Reader) [][]string {
	t.Helper()
	rows, err := csv.NewReader(r).ReadAll()
	require.NoError(t, err)
	return rows
}

func TestCSVOutputStdout(t *testing.T) {
	t.Parallel()

	stdout := new(bytes.Buffer)
	out, err := New(output.Params{
		Logger:         testutils.NewLogger(t),
		StdOut:         stdout,
		ConfigArgument: "-",
	})
	require.NoError(t, err)
	assert.Equal(t, "csv (stdout)", out.Description())
	require.NoError(t, out.Start())
	out.AddRecords([]metrics.Record{
		{VU: 1, Step: "auth", Kind: "request", Start: time.Unix(1, 0), OK: true, Status: 200},
		{VU: 1, Step: "pause", Kind: "pause", Start: time.Unix(2, 0), OK: true},
	})
	require.NoError(t, out.Stop(nil))

	rows := readRows(t, stdout)
	require.Len(t, rows, 3)
	assert.Equal(t, MakeHeader(Unix), rows[0])
	assert.Equal(t, "auth", rows[1][1])
	assert.Equal(t, "0", rows[2][6])
}

func TestCSVOutputGzipFile(t *testing.T) {
	t.Parallel()

	fs := afero.NewMemMapFs()
	out, err := New(output.Params{
		Logger:         testutils.NewLogger(t),
		FS:             fs,
		ConfigArgument: "fileName=/records.csv.gz,saveInterval=50ms",
	})
	require.NoError(t, err)
	require.NoError(t, out.Start())
	for i := 0; i < 3; i++ {
		out.AddRecords([]metrics.Record{{VU: uint64(i), Step: "tick", Kind: "transform", OK: true}})
		time.Sleep(60 * time.Millisecond)
	}
	require.NoError(t, out.Stop(nil))

	f, err := fs.Open("/records.csv.gz")
	require.NoError(t, err)
	defer func() { _ = f.Close() }()
	zr, err := gzip.NewReader(f)
	require.NoError(t, err)
	assert.Len(t, readRows(t, zr), 4)
}
