// Package schema holds the attribute registry that describes every component
// type known to a store. Attribute coercion is resolved once, when a type is
// registered, and the registry is read-only once frozen.
package schema

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"

	"gridstore/pkg/domain"
)

// IndexColumn is the reserved id column of every static table.
const IndexColumn = "name"

// ErrFrozen is returned by Register once the registry has been frozen.
var ErrFrozen = errors.New("schema registry is frozen")

type entry struct {
	typ       domain.ComponentType
	accessors map[string]Accessor
}

// Registry maps component type names to their resolved attribute schema.
type Registry struct {
	mu         sync.RWMutex
	entries    []*entry
	byName     map[string]*entry
	byListName map[string]*entry
	frozen     bool
}

// NewRegistry constructs an empty, unfrozen registry.
func NewRegistry() *Registry {
	return &Registry{
		byName:     make(map[string]*entry),
		byListName: make(map[string]*entry),
	}
}

// MustRegister registers every type and panics on the first failure. It is
// meant for static catalogs built at startup.
func (r *Registry) MustRegister(types ...domain.ComponentType) *Registry {
	for _, t := range types {
		if err := r.Register(t); err != nil {
			panic(err)
		}
	}
	return r
}

// Register validates a component type, resolves attribute defaults, elision
// modes and coercion functions, and adds it to the registry.
func (r *Registry) Register(t domain.ComponentType) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frozen {
		return fmt.Errorf("register %s: %w", t.Name, ErrFrozen)
	}
	if t.Name == "" || t.ListName == "" {
		return fmt.Errorf("component type requires name and list name (got %q, %q)", t.Name, t.ListName)
	}
	if _, exists := r.byName[t.Name]; exists {
		return fmt.Errorf("component type %s already registered", t.Name)
	}
	if _, exists := r.byListName[t.ListName]; exists {
		return fmt.Errorf("list name %s already registered", t.ListName)
	}
	if t.Optional && !t.Anchor {
		return fmt.Errorf("component type %s: optional flag only applies to anchors", t.Name)
	}

	e := &entry{accessors: make(map[string]Accessor, len(t.Attrs))}
	resolved := make([]domain.Attribute, 0, len(t.Attrs))
	for _, attr := range t.Attrs {
		a, err := r.resolveAttribute(t.Name, attr)
		if err != nil {
			return err
		}
		if _, dup := e.accessors[a.Name]; dup {
			return fmt.Errorf("component type %s: duplicate attribute %s", t.Name, a.Name)
		}
		e.accessors[a.Name] = Accessor{component: t.Name, attr: a, coerce: resolveCoercion(a)}
		resolved = append(resolved, a)
	}

	standard, err := resolveStandardTypes(t.Name, t.StandardTypes, e.accessors)
	if err != nil {
		return err
	}

	e.typ = domain.ComponentType{
		Name:          t.Name,
		ListName:      t.ListName,
		Attrs:         resolved,
		Anchor:        t.Anchor,
		Optional:      t.Optional,
		Derived:       t.Derived,
		StandardTypes: standard,
		Deprecated:    maps.Clone(t.Deprecated),
	}
	r.entries = append(r.entries, e)
	r.byName[t.Name] = e
	r.byListName[t.ListName] = e
	return nil
}

func (r *Registry) resolveAttribute(component string, attr domain.Attribute) (domain.Attribute, error) {
	if attr.Name == "" || attr.Name == IndexColumn {
		return attr, fmt.Errorf("component type %s: invalid attribute name %q", component, attr.Name)
	}
	if !attr.Type.Valid() {
		return attr, fmt.Errorf("component type %s: attribute %s has unknown type %q", component, attr.Name, attr.Type)
	}
	if !attr.Static && !attr.Varying {
		return attr, fmt.Errorf("component type %s: attribute %s is neither static nor varying", component, attr.Name)
	}
	if attr.Role == "" {
		attr.Role = domain.RoleInput
	}
	if attr.Role != domain.RoleInput && attr.Role != domain.RoleOutput {
		return attr, fmt.Errorf("component type %s: attribute %s has unknown role %q", component, attr.Name, attr.Role)
	}
	if attr.Type == domain.TypeEnum {
		if len(attr.Allowed) == 0 {
			return attr, fmt.Errorf("component type %s: enum attribute %s has no allowed members", component, attr.Name)
		}
		def, _ := attr.Default.AsString()
		if !slices.Contains(attr.Allowed, def) {
			return attr, fmt.Errorf("component type %s: enum attribute %s default %q not allowed", component, attr.Name, def)
		}
		attr.Allowed = slices.Clone(attr.Allowed)
	} else if len(attr.Allowed) > 0 {
		return attr, fmt.Errorf("component type %s: attribute %s lists allowed members but is %s", component, attr.Name, attr.Type)
	}
	if attr.Type == domain.TypeBool && attr.Default.IsNull() {
		return attr, fmt.Errorf("component type %s: bool attribute %s needs a default", component, attr.Name)
	}

	// Coerce the default with a provisional accessor so that "1.0" strings or
	// nulls become the typed value every later comparison uses.
	check := Accessor{component: component, attr: attr, coerce: resolveCoercion(attr)}
	def, err := check.Coerce(attr.Default)
	if err != nil {
		return attr, fmt.Errorf("component type %s: attribute %s default: %w", component, attr.Name, err)
	}
	attr.Default = def

	if attr.Reference != "" {
		ref, ok := r.byName[attr.Reference]
		if !ok || !ref.typ.Anchor {
			return attr, fmt.Errorf("component type %s: attribute %s references unknown anchor %s", component, attr.Name, attr.Reference)
		}
	}
	if attr.Elision == domain.ElideAuto {
		if attr.Default.IsNull() {
			attr.Elision = domain.ElideNull
		} else {
			attr.Elision = domain.ElideEqual
		}
	}
	return attr, nil
}

func resolveStandardTypes(component string, in []domain.StandardEntity, accessors map[string]Accessor) ([]domain.StandardEntity, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]domain.StandardEntity, 0, len(in))
	seen := make(map[string]struct{}, len(in))
	for _, std := range in {
		if std.ID == "" {
			return nil, fmt.Errorf("component type %s: standard type without id", component)
		}
		if _, dup := seen[std.ID]; dup {
			return nil, fmt.Errorf("component type %s: duplicate standard type %s", component, std.ID)
		}
		seen[std.ID] = struct{}{}
		values := make(map[string]domain.Value, len(std.Values))
		for name, v := range std.Values {
			acc, ok := accessors[name]
			if !ok || !acc.attr.Static {
				return nil, fmt.Errorf("component type %s: standard type %s sets unknown static attribute %s", component, std.ID, name)
			}
			c, err := acc.Coerce(v)
			if err != nil {
				return nil, fmt.Errorf("component type %s: standard type %s: %w", component, std.ID, err)
			}
			values[name] = c
		}
		out = append(out, domain.StandardEntity{ID: std.ID, Values: values})
	}
	return out, nil
}

// Freeze makes the registry read-only. Later Register calls fail with ErrFrozen.
func (r *Registry) Freeze() {
	r.mu.Lock()
	r.frozen = true
	r.mu.Unlock()
}

// Frozen reports whether Freeze has been called.
func (r *Registry) Frozen() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.frozen
}

// Lookup returns the accessor for one attribute.
func (r *Registry) Lookup(component, attr string) (Accessor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[component]
	if !ok {
		return Accessor{}, false
	}
	acc, ok := e.accessors[attr]
	return acc, ok
}

// Enumerate returns the attribute names of component matching filter, in
// declaration order. A nil filter matches everything.
func (r *Registry) Enumerate(component string, filter Filter) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[component]
	if !ok {
		return nil
	}
	var out []string
	for _, a := range e.typ.Attrs {
		if filter == nil || filter(a) {
			out = append(out, a.Name)
		}
	}
	return out
}

// Component returns a copy of the resolved component type.
func (r *Registry) Component(name string) (domain.ComponentType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byName[name]
	if !ok {
		return domain.ComponentType{}, false
	}
	return cloneType(e.typ), true
}

// ByListName resolves a component type from its plural list name.
func (r *Registry) ByListName(list string) (domain.ComponentType, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byListName[list]
	if !ok {
		return domain.ComponentType{}, false
	}
	return cloneType(e.typ), true
}

// Components returns every registered type in registration order.
func (r *Registry) Components() []domain.ComponentType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]domain.ComponentType, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, cloneType(e.typ))
	}
	return out
}

// ImportOrder lists the persisted component types: anchors first in
// registration order, then every other non-derived type sorted by name.
// Calling it freezes the registry.
func (r *Registry) ImportOrder() []string {
	r.Freeze()
	r.mu.RLock()
	defer r.mu.RUnlock()
	var anchors, rest []string
	for _, e := range r.entries {
		switch {
		case e.typ.Derived:
		case e.typ.Anchor:
			anchors = append(anchors, e.typ.Name)
		default:
			rest = append(rest, e.typ.Name)
		}
	}
	sort.Strings(rest)
	return append(anchors, rest...)
}

// ExportOrder is the stable order used when writing; it matches ImportOrder.
func (r *Registry) ExportOrder() []string { return r.ImportOrder() }

func cloneType(t domain.ComponentType) domain.ComponentType {
	out := t
	out.Attrs = make([]domain.Attribute, len(t.Attrs))
	for i, a := range t.Attrs {
		a.Allowed = slices.Clone(a.Allowed)
		out.Attrs[i] = a
	}
	if t.StandardTypes != nil {
		out.StandardTypes = make([]domain.StandardEntity, len(t.StandardTypes))
		for i, s := range t.StandardTypes {
			out.StandardTypes[i] = domain.StandardEntity{ID: s.ID, Values: maps.Clone(s.Values)}
		}
	}
	out.Deprecated = maps.Clone(t.Deprecated)
	return out
}
