package schema

import "gridstore/pkg/domain"

// Filter selects attributes for Enumerate.
type Filter func(domain.Attribute) bool

// Predefined filters.
var (
	Static     Filter = func(a domain.Attribute) bool { return a.Static }
	Varying    Filter = func(a domain.Attribute) bool { return a.Varying }
	Switchable Filter = func(a domain.Attribute) bool { return a.Switchable() }
	Input      Filter = func(a domain.Attribute) bool { return a.Role == domain.RoleInput }
	Output     Filter = func(a domain.Attribute) bool { return a.Role == domain.RoleOutput }
	Persisted  Filter = func(a domain.Attribute) bool { return !a.Computed }
)

// And matches attributes accepted by every filter.
func And(filters ...Filter) Filter {
	return func(a domain.Attribute) bool {
		for _, f := range filters {
			if !f(a) {
				return false
			}
		}
		return true
	}
}

// Not inverts a filter.
func Not(f Filter) Filter {
	return func(a domain.Attribute) bool { return !f(a) }
}
