package domain

import "fmt"

// AttrType is the declared type of a component attribute.
type AttrType string

// Supported attribute types.
const (
	TypeFloat  AttrType = "float"
	TypeString AttrType = "string"
	TypeBool   AttrType = "bool"
	TypeEnum   AttrType = "enum"
)

// Valid reports whether t is one of the supported attribute types.
func (t AttrType) Valid() bool {
	switch t {
	case TypeFloat, TypeString, TypeBool, TypeEnum:
		return true
	}
	return false
}

// Role distinguishes user-supplied inputs from computed outputs.
type Role string

const (
	RoleInput  Role = "input"
	RoleOutput Role = "output"
)

// Elision selects how export decides that a column carries only defaults.
type Elision uint8

const (
	// ElideAuto is resolved at registration: ElideNull for null defaults,
	// ElideEqual otherwise.
	ElideAuto Elision = iota
	// ElideEqual drops values equal to the default.
	ElideEqual
	// ElideNull drops null values; used when the default itself is null.
	ElideNull
)

func (e Elision) String() string {
	switch e {
	case ElideEqual:
		return "equal"
	case ElideNull:
		return "null"
	default:
		return "auto"
	}
}

// Attribute describes one column of a component type.
type Attribute struct {
	Name    string
	Type    AttrType
	Default Value
	// Static attributes hold one value per entity. Varying attributes hold one
	// value per (entity, snapshot). An attribute with both flags is switchable:
	// its static value applies unless the entity has a series override.
	Static  bool
	Varying bool
	Role    Role
	// Computed columns are derived from other data and never persisted.
	Computed bool
	// Reference names the anchor component whose ids this column holds.
	Reference string
	// Allowed lists enum members; only meaningful for TypeEnum.
	Allowed     []string
	Elision     Elision
	Unit        string
	Description string
}

// Switchable reports whether the attribute has both a static value and
// optional per-snapshot overrides.
func (a Attribute) Switchable() bool { return a.Static && a.Varying }

// Elidable reports whether v carries no information beyond the default.
func (a Attribute) Elidable(v Value) bool {
	if a.Elision == ElideNull {
		return v.IsNull()
	}
	return v.Equal(a.Default)
}

// StandardEntity is a library-provided template row, such as a catalogue of
// standard line types.
type StandardEntity struct {
	ID     string
	Values map[string]Value
}

// ComponentType declares a typed entity collection.
type ComponentType struct {
	Name     string
	ListName string
	Attrs    []Attribute
	// Anchor types are imported before all others and referenced by id.
	Anchor bool
	// Optional anchors may be missing from a backend without aborting import.
	Optional bool
	// Derived types are computed views and never persisted.
	Derived       bool
	StandardTypes []StandardEntity
	// Deprecated maps legacy column names to a migration hint.
	Deprecated map[string]string
}

// Required reports whether a backend lacking this type must abort an import.
func (c ComponentType) Required() bool { return c.Anchor && !c.Optional }

func (c ComponentType) String() string {
	return fmt.Sprintf("%s(%s)", c.Name, c.ListName)
}
