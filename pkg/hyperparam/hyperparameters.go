package hyperparam

import (
	"fmt"
	"strings"
)

// group holds one named, ordered set of hyperparameters. Insertion
// order is preserved so that flat integer indexing is stable.
type group struct {
	name   string
	order  []string
	params map[string]*Hyperparameter
}

// Hyperparameters is an ordered collection of named parameter groups
// (e.g. "model_params", "optimizer_params"), in place of a
// **kwargs-of-dicts constructor with explicit group registration. A
// group is present only if it was added: the collection imposes no
// fixed schema, keeping the ability to leave a whole group
// (e.g. general_params) unset.
type Hyperparameters struct {
	order  []string
	groups map[string]*group
}

// New returns an empty Hyperparameters collection.
func New() *Hyperparameters {
	return &Hyperparameters{groups: make(map[string]*group)}
}

// AddGroup registers a new named group populated from params, in the
// iteration order given by names. Returns ErrInvalidSearchSpace if the
// group already exists or names references a key absent from params.
func (hs *Hyperparameters) AddGroup(name string, names []string, params map[string]*Hyperparameter) error {
	if _, exists := hs.groups[name]; exists {
		return fmt.Errorf("%w: group %q already registered", ErrInvalidSearchSpace, name)
	}
	g := &group{name: name, params: make(map[string]*Hyperparameter, len(names))}
	for _, n := range names {
		hp, ok := params[n]
		if !ok {
			return fmt.Errorf("%w: group %q missing parameter %q", ErrInvalidSearchSpace, name, n)
		}
		g.order = append(g.order, n)
		g.params[n] = hp
	}
	hs.groups[name] = g
	hs.order = append(hs.order, name)
	return nil
}

// Len returns the total number of hyperparameters across all groups.
func (hs *Hyperparameters) Len() int {
	n := 0
	for _, name := range hs.order {
		n += len(hs.groups[name].order)
	}
	return n
}

// Groups returns the registered group names in insertion order.
func (hs *Hyperparameters) Groups() []string {
	out := make([]string, len(hs.order))
	copy(out, hs.order)
	return out
}

// GroupNames returns the parameter names within group, in insertion
// order, or nil if the group does not exist.
func (hs *Hyperparameters) GroupNames(group string) []string {
	g, ok := hs.groups[group]
	if !ok {
		return nil
	}
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// All returns every Hyperparameter across all groups, in group-then-
// insertion order.
func (hs *Hyperparameters) All() []*Hyperparameter {
	out := make([]*Hyperparameter, 0, hs.Len())
	for _, name := range hs.order {
		g := hs.groups[name]
		for _, n := range g.order {
			out = append(out, g.params[n])
		}
	}
	return out
}

// Keys returns every "group/name" key, in the same order as All.
func (hs *Hyperparameters) Keys() []string {
	out := make([]string, 0, hs.Len())
	for _, name := range hs.order {
		g := hs.groups[name]
		for _, n := range g.order {
			out = append(out, name+"/"+n)
		}
	}
	return out
}

// Get looks up a hyperparameter by "group/name" key.
func (hs *Hyperparameters) Get(key string) (*Hyperparameter, error) {
	group, name, err := splitKey(key)
	if err != nil {
		return nil, err
	}
	g, ok := hs.groups[group]
	if !ok {
		return nil, fmt.Errorf("%w: no such group %q", ErrInvalidSearchSpace, group)
	}
	hp, ok := g.params[name]
	if !ok {
		return nil, fmt.Errorf("%w: no such parameter %q in group %q", ErrInvalidSearchSpace, name, group)
	}
	return hp, nil
}

// Set replaces the hyperparameter stored at "group/name".
func (hs *Hyperparameters) Set(key string, hp *Hyperparameter) error {
	group, name, err := splitKey(key)
	if err != nil {
		return err
	}
	g, ok := hs.groups[group]
	if !ok {
		return fmt.Errorf("%w: no such group %q", ErrInvalidSearchSpace, group)
	}
	if _, ok := g.params[name]; !ok {
		return fmt.Errorf("%w: no such parameter %q in group %q", ErrInvalidSearchSpace, name, group)
	}
	g.params[name] = hp
	return nil
}

// At returns the hyperparameter at flat index i, in the same order as
// All. Supports plain integer-indexed access.
func (hs *Hyperparameters) At(i int) (*Hyperparameter, error) {
	if i < 0 || i >= hs.Len() {
		return nil, fmt.Errorf("%w: index %d out of range [0,%d)", ErrInvalidSearchSpace, i, hs.Len())
	}
	return hs.All()[i], nil
}

func splitKey(key string) (group, name string, err error) {
	parts := strings.SplitN(key, "/", 2)
	if len(parts) != 2 {
		return "", "", fmt.Errorf("%w: key %q must be \"group/name\"", ErrInvalidSearchSpace, key)
	}
	return parts[0], parts[1], nil
}

// EqualSearchSpace reports whether hs and other register the same
// groups, in the same order, with pairwise-equal-search-space
// hyperparameters: the precondition for exploit/explore copying one
// member's hyperparameters onto another.
func (hs *Hyperparameters) EqualSearchSpace(other *Hyperparameters) bool {
	if other == nil || len(hs.order) != len(other.order) {
		return false
	}
	for i, name := range hs.order {
		if other.order[i] != name {
			return false
		}
		g, og := hs.groups[name], other.groups[name]
		if len(g.order) != len(og.order) {
			return false
		}
		for j, n := range g.order {
			if og.order[j] != n {
				return false
			}
			if !g.params[n].EqualSearchSpace(og.params[n]) {
				return false
			}
		}
	}
	return true
}

// Clone returns a deep copy: every contained Hyperparameter is cloned
// and group structure is duplicated, so mutating the clone never
// affects hs.
func (hs *Hyperparameters) Clone() *Hyperparameters {
	clone := New()
	for _, name := range hs.order {
		g := hs.groups[name]
		cg := &group{name: name, order: append([]string(nil), g.order...), params: make(map[string]*Hyperparameter, len(g.order))}
		for _, n := range g.order {
			cg.params[n] = g.params[n].Clone()
		}
		clone.groups[name] = cg
		clone.order = append(clone.order, name)
	}
	return clone
}
