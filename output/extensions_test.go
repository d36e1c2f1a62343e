package output

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegisterExtension(t *testing.T) {
	t.Parallel()

	ctor := func(Params) (Output, error) { return nil, nil } //nolint:nilnil
	RegisterExtension("ext-test", ctor)
	assert.Panics(t, func() { RegisterExtension("ext-test", ctor) })

	exts := GetExtensions()
	require.Contains(t, exts, "ext-test")
	delete(exts, "ext-test")
	assert.Contains(t, GetExtensions(), "ext-test", "the returned map is a copy")

	_, err := New(map[string]Constructor{"b": ctor, "a": ctor}, Params{OutputType: "c"})
	assert.EqualError(t, err, "invalid output type 'c', available types are: a, b")
}
