package strvals

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	t.Parallel()

	tokens, err := Parse("file=something,s.e=2231,s=12,12=3,a=[1,2,3],b=[1],s=c")
	require.NoError(t, err)
	assert.Equal(t, []Token{
		{Key: "file", Value: "something"},
		{Key: "s.e", Value: "2231"},
		{Key: "s", Value: "12"},
		{Key: "12", Value: "3"},
		{Key: "a", Value: "1,2,3", Inside: '['},
		{Key: "b", Value: "1", Inside: '['},
		{Key: "s", Value: "c"},
	}, tokens)

	_, err = Parse("empty=")
	assert.EqualError(t, err, "key `empty=` with no value")

	_, err = Parse("file")
	assert.EqualError(t, err, "key `file` with no value")

	_, err = Parse("a=1,b,c=2")
	assert.EqualError(t, err, "key `b` with no value")

	_, err = Parse("a=[1,2")
	assert.Error(t, err)

	_, err = Parse("a=[1]x")
	assert.Error(t, err)

	tokens, err = Parse("")
	require.NoError(t, err)
	assert.Empty(t, tokens)
}
