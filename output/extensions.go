package output

import (
	"fmt"
	"sort"
	"sync"
)

//nolint:gochecknoglobals
var (
	extensions = make(map[string]Constructor)
	mx         sync.RWMutex
)

// GetExtensions returns all registered extensions.
func GetExtensions() map[string]Constructor {
	mx.RLock()
	defer mx.RUnlock()
	res := make(map[string]Constructor, len(extensions))
	for k, v := range extensions {
		res[k] = v
	}
	return res
}

// RegisterExtension registers the given output extension constructor. This
// function panics if an output with the same name is already registered.
func RegisterExtension(name string, ctor Constructor) {
	mx.Lock()
	defer mx.Unlock()

	if _, ok := extensions[name]; ok {
		panic(fmt.Sprintf("output extension already registered: %s", name))
	}
	extensions[name] = ctor
}

// Names returns the sorted keys of constructors.
func Names(constructors map[string]Constructor) []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
