package namespace

import "strings"

// ReservedPrefix marks engine-internal names that are never persisted or
// surfaced to callers.
const ReservedPrefix = "__"

// IsReserved reports whether name is engine-internal.
func IsReserved(name string) bool {
	return strings.HasPrefix(name, ReservedPrefix)
}

// Namespace is the ordered set of variables a cell runs against.
// It is not safe for concurrent use; a call owns its namespace exclusively.
type Namespace struct {
	vars *Map
}

// New creates an empty namespace.
func New() *Namespace {
	return &Namespace{vars: NewMap()}
}

// Set binds name to v.
func (ns *Namespace) Set(name string, v Value) {
	ns.vars.Set(name, v)
}

// Get returns the value bound to name.
func (ns *Namespace) Get(name string) (Value, bool) {
	return ns.vars.Get(name)
}

// Has reports whether name is bound.
func (ns *Namespace) Has(name string) bool {
	_, ok := ns.vars.Get(name)
	return ok
}

// Delete unbinds name.
func (ns *Namespace) Delete(name string) {
	ns.vars.Delete(name)
}

// Names returns bound names in binding order.
func (ns *Namespace) Names() []string {
	return ns.vars.Keys()
}

// Len returns the number of bindings.
func (ns *Namespace) Len() int {
	return ns.vars.Len()
}

// Merge binds every name of other into ns, overwriting existing bindings.
func (ns *Namespace) Merge(other *Namespace) {
	if other == nil {
		return
	}
	for _, name := range other.Names() {
		v, _ := other.Get(name)
		ns.Set(name, v)
	}
}

// Clone returns a shallow copy of the namespace.
func (ns *Namespace) Clone() *Namespace {
	out := New()
	out.Merge(ns)
	return out
}
