package session

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTemplateResolve(t *testing.T) {
	t.Parallel()

	s := New(map[string]interface{}{
		"gameId":  "g-1",
		"counter": 2,
		"ids":     []interface{}{"a", "b"},
	})

	testCases := []struct {
		tmpl string
		exp  string
	}{
		{"/games/#{gameId}", "/games/g-1"},
		{"Get game - #{gameId} (#{counter})", "Get game - g-1 (2)"},
		{"#{ids}", `["a","b"]`},
		{"#{ gameId }", "g-1"},
		{`literal \#{gameId}`, "literal #{gameId}"},
		{"#{gameId}#{gameId}", "g-1g-1"},
	}
	for _, tc := range testCases {
		tc := tc
		t.Run(tc.tmpl, func(t *testing.T) {
			t.Parallel()
			got, err := s.Resolve(tc.tmpl)
			require.NoError(t, err)
			assert.Equal(t, tc.exp, got)
		})
	}
}

func TestTemplateWithoutPlaceholdersIsIdentity(t *testing.T) {
	t.Parallel()

	for _, in := range []string{"", "/games", "50% off #", "{x} # {", `{"a": 1}`} {
		tmpl, err := ParseTemplate(in)
		require.NoError(t, err)
		assert.True(t, tmpl.IsStatic())
		got, err := tmpl.Resolve(Session{})
		require.NoError(t, err)
		assert.Equal(t, in, got)
	}
}

func TestTemplateErrors(t *testing.T) {
	t.Parallel()

	_, err := ParseTemplate("/games/#{gameId")
	assert.ErrorContains(t, err, "unterminated placeholder")

	_, err = ParseTemplate("/games/#{ }")
	assert.ErrorContains(t, err, "empty placeholder")

	assert.Panics(t, func() { MustParseTemplate("#{") })

	tmpl := MustParseTemplate("/games/#{gameId}/players/#{playerId}")
	_, err = tmpl.Resolve(New(map[string]interface{}{"gameId": "g"}))
	var mkerr *MissingKeyError
	require.ErrorAs(t, err, &mkerr)
	assert.Equal(t, "playerId", mkerr.Key)
	assert.EqualError(t, err, "no attribute named 'playerId' is defined")
}

func TestTemplateKeys(t *testing.T) {
	t.Parallel()

	tmpl := MustParseTemplate(`#{a}-#{b}-#{a}-\#{c}`)
	assert.Equal(t, []string{"a", "b"}, tmpl.Keys())
	assert.Equal(t, `#{a}-#{b}-#{a}-\#{c}`, tmpl.String())
}
