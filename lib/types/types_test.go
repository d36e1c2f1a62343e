package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseExtendedDuration(t *testing.T) {
	t.Parallel()
	testCases := []struct {
		in     string
		expErr bool
		exp    time.Duration
	}{
		{"", true, 0},
		{"d", true, 0},
		{"2.1d", true, 0},
		{"2d-2h", true, 0},
		{"2da", true, 0},
		{"1.12s", false, 1120 * time.Millisecond},
		{"1500", false, 1500 * time.Millisecond},
		{"1d", false, 24 * time.Hour},
		{"1d23h", false, 47 * time.Hour},
		{"-1d2h", false, -26 * time.Hour},
		{"2d1ns", false, 48*time.Hour + 1},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.in, func(t *testing.T) {
			t.Parallel()
			got, err := ParseExtendedDuration(tc.in)
			if tc.expErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.exp, got)
		})
	}
}

func TestDurationJSON(t *testing.T) {
	t.Parallel()

	var d Duration
	require.NoError(t, json.Unmarshal([]byte(`"1m15s"`), &d))
	assert.Equal(t, Duration(75*time.Second), d)

	require.NoError(t, json.Unmarshal([]byte(`2500`), &d))
	assert.Equal(t, Duration(2500*time.Millisecond), d)

	assert.Error(t, json.Unmarshal([]byte(`true`), &d))

	data, err := json.Marshal(Duration(90 * time.Second))
	require.NoError(t, err)
	assert.Equal(t, `"1m30s"`, string(data))
}

func TestDurationYAML(t *testing.T) {
	t.Parallel()

	var doc struct {
		Pause    Duration     `yaml:"pause"`
		Timeout  NullDuration `yaml:"timeout"`
		Deadline NullDuration `yaml:"deadline"`
		Unset    NullDuration `yaml:"unset"`
	}
	src := "pause: 2s\ntimeout: 1500\ndeadline: null\n"
	require.NoError(t, yaml.Unmarshal([]byte(src), &doc))

	assert.Equal(t, Duration(2*time.Second), doc.Pause)
	assert.Equal(t, NullDurationFrom(1500*time.Millisecond), doc.Timeout)
	assert.False(t, doc.Deadline.Valid)
	assert.False(t, doc.Unset.Valid)

	t.Run("invalid", func(t *testing.T) {
		t.Parallel()
		var bad struct {
			Pause Duration `yaml:"pause"`
		}
		err := yaml.Unmarshal([]byte("pause: soon\n"), &bad)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "line 1")
	})

	t.Run("sequence", func(t *testing.T) {
		t.Parallel()
		var bad struct {
			Pause Duration `yaml:"pause"`
		}
		assert.Error(t, yaml.Unmarshal([]byte("pause: [1, 2]\n"), &bad))
	})
}

func TestNullDuration(t *testing.T) {
	t.Parallel()

	var d NullDuration
	require.NoError(t, d.UnmarshalText([]byte(`10s`)))
	assert.Equal(t, NullDurationFrom(10*time.Second), d)

	require.NoError(t, d.UnmarshalText(nil))
	assert.Equal(t, NullDuration{}, d)
	assert.Equal(t, Duration(0), d.ValueOrZero())

	require.NoError(t, json.Unmarshal([]byte(`null`), &d))
	assert.False(t, d.Valid)

	data, err := json.Marshal(NewNullDuration(time.Second, false))
	require.NoError(t, err)
	assert.Equal(t, `null`, string(data))

	assert.Equal(t, 3*time.Second, NullDurationFrom(3*time.Second).TimeDuration())
}
