// Package session converts between a cell's namespace and the caller-owned
// state that carries variables from one session-mode call to the next.
package session

import (
	"bytes"
	"encoding/json"
	"fmt"

	"nbexec/internal/kernelerr"
	"nbexec/internal/namespace"
)

// Filter converts ns into state. Reserved names are dropped. Every other
// name is kept: values that survive a JSON round trip are stored encoded,
// the rest as a "<TypeName object>" placeholder. The returned state shares
// nothing with ns.
func Filter(ns *namespace.Namespace) namespace.State {
	state := make(namespace.State)
	if ns == nil {
		return state
	}
	for _, name := range ns.Names() {
		if namespace.IsReserved(name) {
			continue
		}
		v, _ := ns.Get(name)
		encoded, err := namespace.Probe(v)
		if err != nil {
			state[name] = namespace.Placeholder(v)
			continue
		}
		state[name] = encoded
	}
	return state
}

// Restore decodes caller-supplied prior state into a namespace. Tagged
// objects become tables and byte buffers; placeholders come back as plain
// strings. Reserved names are ignored.
func Restore(state namespace.State) (*namespace.Namespace, error) {
	ns := namespace.New()
	if len(state) == 0 {
		return ns, nil
	}

	// State may hold values straight from Filter ([]string columns, [][]any
	// rows) or from a JSON body; a round trip gives both the same shape.
	normalized, err := normalize(state)
	if err != nil {
		return nil, &kernelerr.ValidationError{Field: "prior_state", Message: err.Error()}
	}

	for _, name := range state.Names() {
		if namespace.IsReserved(name) {
			continue
		}
		v, err := namespace.Decode(normalized[name])
		if err != nil {
			return nil, &kernelerr.ValidationError{
				Field:   "prior_state." + name,
				Message: err.Error(),
			}
		}
		ns.Set(name, v)
	}
	return ns, nil
}

func normalize(state namespace.State) (map[string]any, error) {
	data, err := json.Marshal(state)
	if err != nil {
		return nil, fmt.Errorf("encode state: %w", err)
	}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var out map[string]any
	if err := dec.Decode(&out); err != nil {
		return nil, fmt.Errorf("decode state: %w", err)
	}
	return out, nil
}
