package namespace

import (
	"fmt"
	"sort"
)

// State is the serializable form of a namespace returned to callers in
// session mode: each name maps to a JSON value or to a placeholder string.
type State map[string]any

// Probe checks that v survives a JSON round trip and returns its encoded
// form. It is total over the closed set of kinds.
func Probe(v Value) (any, error) {
	return Encode(v)
}

// Placeholder returns the marker stored in State for a value that failed
// Probe.
func Placeholder(v Value) string {
	return fmt.Sprintf("<%s object>", v.TypeName())
}

// Names returns the state's names in sorted order.
func (s State) Names() []string {
	return sortedKeys(s)
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
