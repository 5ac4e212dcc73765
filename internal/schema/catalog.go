package schema

import (
	"math"

	"gridstore/pkg/domain"
)

type attrOption func(*domain.Attribute)

// attr declares a static input attribute; options adjust flags.
func attr(name string, typ domain.AttrType, def domain.Value, opts ...attrOption) domain.Attribute {
	a := domain.Attribute{Name: name, Type: typ, Default: def, Static: true, Role: domain.RoleInput}
	for _, opt := range opts {
		opt(&a)
	}
	return a
}

func varying() attrOption    { return func(a *domain.Attribute) { a.Static, a.Varying = false, true } }
func switchable() attrOption { return func(a *domain.Attribute) { a.Static, a.Varying = true, true } }
func output() attrOption     { return func(a *domain.Attribute) { a.Role = domain.RoleOutput } }
func computed() attrOption   { return func(a *domain.Attribute) { a.Computed = true } }
func unit(u string) attrOption {
	return func(a *domain.Attribute) { a.Unit = u }
}
func ref(anchor string) attrOption {
	return func(a *domain.Attribute) { a.Reference = anchor }
}
func enum(members ...string) attrOption {
	return func(a *domain.Attribute) { a.Allowed = members }
}
func describe(text string) attrOption {
	return func(a *domain.Attribute) { a.Description = text }
}

var (
	f   = domain.Float
	s   = domain.String
	b   = domain.Bool
	nan = domain.NullFloat
	inf = math.Inf(1)
)

// Default returns a fresh registry holding the power-system catalog. The
// registry is not frozen, so callers may add their own types before the first
// store is built on it.
func Default() *Registry {
	r := NewRegistry()
	r.MustRegister(
		domain.ComponentType{
			Name: "Bus", ListName: "buses", Anchor: true,
			Attrs: []domain.Attribute{
				attr("v_nom", domain.TypeFloat, f(1), unit("kV"), describe("nominal voltage")),
				attr("type", domain.TypeString, s("")),
				attr("x", domain.TypeFloat, f(0)),
				attr("y", domain.TypeFloat, f(0)),
				attr("carrier", domain.TypeString, s("AC")),
				attr("v_mag_pu_set", domain.TypeFloat, f(1), switchable(), unit("per unit")),
				attr("v_mag_pu_min", domain.TypeFloat, f(0)),
				attr("v_mag_pu_max", domain.TypeFloat, f(inf)),
				attr("control", domain.TypeEnum, s("PQ"), output(), enum("PQ", "PV", "Slack")),
				attr("sub_network", domain.TypeString, s(""), output(), computed()),
				attr("p", domain.TypeFloat, f(0), varying(), output(), unit("MW")),
				attr("q", domain.TypeFloat, f(0), varying(), output(), unit("MVar")),
				attr("v_mag_pu", domain.TypeFloat, f(1), varying(), output()),
				attr("v_ang", domain.TypeFloat, f(0), varying(), output(), unit("radians")),
				attr("marginal_price", domain.TypeFloat, f(0), varying(), output()),
			},
		},
		domain.ComponentType{
			Name: "Carrier", ListName: "carriers", Anchor: true, Optional: true,
			Attrs: []domain.Attribute{
				attr("co2_emissions", domain.TypeFloat, f(0), unit("t/MWh_th")),
				attr("color", domain.TypeString, s("")),
				attr("nice_name", domain.TypeString, s("")),
				attr("max_growth", domain.TypeFloat, f(inf)),
			},
		},
		domain.ComponentType{
			Name: "SubNetwork", ListName: "sub_networks", Derived: true,
			Attrs: []domain.Attribute{
				attr("carrier", domain.TypeString, s("AC")),
				attr("slack_bus", domain.TypeString, s(""), output()),
			},
		},
		domain.ComponentType{
			Name: "Load", ListName: "loads",
			Attrs: []domain.Attribute{
				attr("bus", domain.TypeString, s(""), ref("Bus")),
				attr("carrier", domain.TypeString, s("")),
				attr("type", domain.TypeString, s("")),
				attr("p_set", domain.TypeFloat, f(0), switchable(), unit("MW")),
				attr("q_set", domain.TypeFloat, f(0), switchable(), unit("MVar")),
				attr("sign", domain.TypeFloat, f(-1)),
				attr("p", domain.TypeFloat, f(0), varying(), output(), unit("MW")),
				attr("q", domain.TypeFloat, f(0), varying(), output(), unit("MVar")),
			},
		},
		domain.ComponentType{
			Name: "Generator", ListName: "generators",
			Deprecated: map[string]string{
				"source":   "use carrier",
				"dispatch": "use p_max_pu/p_min_pu series instead",
			},
			Attrs: []domain.Attribute{
				attr("bus", domain.TypeString, s(""), ref("Bus")),
				attr("control", domain.TypeEnum, s("PQ"), enum("PQ", "PV", "Slack")),
				attr("type", domain.TypeString, s("")),
				attr("p_nom", domain.TypeFloat, f(0), unit("MW")),
				attr("p_nom_extendable", domain.TypeBool, b(false)),
				attr("p_nom_min", domain.TypeFloat, f(0)),
				attr("p_nom_max", domain.TypeFloat, f(inf)),
				attr("p_min_pu", domain.TypeFloat, f(0), switchable()),
				attr("p_max_pu", domain.TypeFloat, f(1), switchable()),
				attr("p_set", domain.TypeFloat, f(0), switchable(), unit("MW")),
				attr("q_set", domain.TypeFloat, f(0), switchable(), unit("MVar")),
				attr("sign", domain.TypeFloat, f(1)),
				attr("carrier", domain.TypeString, s("")),
				attr("marginal_cost", domain.TypeFloat, f(0), switchable(), unit("currency/MWh")),
				attr("capital_cost", domain.TypeFloat, f(0)),
				attr("efficiency", domain.TypeFloat, f(1), switchable()),
				attr("committable", domain.TypeBool, b(false)),
				attr("p", domain.TypeFloat, f(0), varying(), output(), unit("MW")),
				attr("q", domain.TypeFloat, f(0), varying(), output(), unit("MVar")),
				attr("status", domain.TypeFloat, f(1), varying(), output()),
				attr("p_nom_opt", domain.TypeFloat, f(0), output()),
			},
		},
		domain.ComponentType{
			Name: "LineType", ListName: "line_types",
			Attrs: []domain.Attribute{
				attr("f_nom", domain.TypeFloat, f(50), unit("Hz")),
				attr("r_per_length", domain.TypeFloat, f(0), unit("Ohm/km")),
				attr("x_per_length", domain.TypeFloat, f(0), unit("Ohm/km")),
				attr("c_per_length", domain.TypeFloat, f(0), unit("nF/km")),
				attr("i_nom", domain.TypeFloat, f(0), unit("kA")),
				attr("mounting", domain.TypeString, s("ol")),
				attr("cross_section", domain.TypeFloat, f(0), unit("mm2")),
			},
			StandardTypes: []domain.StandardEntity{
				{ID: "243-AL1/39-ST1A 20.0", Values: map[string]domain.Value{
					"r_per_length": f(0.1188), "x_per_length": f(0.32), "c_per_length": f(11.25),
					"i_nom": f(0.645), "cross_section": f(243),
				}},
				{ID: "Al/St 240/40 2-bundle 220.0", Values: map[string]domain.Value{
					"r_per_length": f(0.06), "x_per_length": f(0.301), "c_per_length": f(12.5),
					"i_nom": f(1.29), "cross_section": f(240),
				}},
				{ID: "NA2XS2Y 1x240 RM/25 12/20 kV", Values: map[string]domain.Value{
					"r_per_length": f(0.125), "x_per_length": f(0.1005), "c_per_length": f(330),
					"i_nom": f(0.417), "mounting": s("cable"), "cross_section": f(240),
				}},
			},
		},
		domain.ComponentType{
			Name: "TransformerType", ListName: "transformer_types",
			Attrs: []domain.Attribute{
				attr("f_nom", domain.TypeFloat, f(50), unit("Hz")),
				attr("s_nom", domain.TypeFloat, f(0), unit("MVA")),
				attr("v_nom_0", domain.TypeFloat, f(0), unit("kV")),
				attr("v_nom_1", domain.TypeFloat, f(0), unit("kV")),
				attr("vsc", domain.TypeFloat, f(0), unit("percent")),
				attr("vscr", domain.TypeFloat, f(0), unit("percent")),
				attr("pfe", domain.TypeFloat, f(0), unit("kW")),
				attr("i0", domain.TypeFloat, f(0), unit("percent")),
				attr("phase_shift", domain.TypeFloat, f(0), unit("degrees")),
			},
			StandardTypes: []domain.StandardEntity{
				{ID: "160 MVA 380/110 kV", Values: map[string]domain.Value{
					"s_nom": f(160), "v_nom_0": f(380), "v_nom_1": f(110), "vsc": f(12.2),
					"vscr": f(0.26), "pfe": f(60), "i0": f(0.06),
				}},
				{ID: "0.4 MVA 20/0.4 kV", Values: map[string]domain.Value{
					"s_nom": f(0.4), "v_nom_0": f(20), "v_nom_1": f(0.4), "vsc": f(6),
					"vscr": f(1.425), "pfe": f(1.35), "i0": f(0.3375), "phase_shift": f(150),
				}},
			},
		},
		domain.ComponentType{
			Name: "Line", ListName: "lines",
			Attrs: []domain.Attribute{
				attr("bus0", domain.TypeString, s(""), ref("Bus")),
				attr("bus1", domain.TypeString, s(""), ref("Bus")),
				attr("type", domain.TypeString, s("")),
				attr("x", domain.TypeFloat, f(0), unit("Ohm")),
				attr("r", domain.TypeFloat, f(0), unit("Ohm")),
				attr("g", domain.TypeFloat, f(0), unit("Siemens")),
				attr("b", domain.TypeFloat, f(0), unit("Siemens")),
				attr("s_nom", domain.TypeFloat, f(0), unit("MVA")),
				attr("s_nom_extendable", domain.TypeBool, b(false)),
				attr("s_max_pu", domain.TypeFloat, f(1), switchable()),
				attr("capital_cost", domain.TypeFloat, f(0)),
				attr("length", domain.TypeFloat, f(0), unit("km")),
				attr("carrier", domain.TypeString, s("AC")),
				attr("num_parallel", domain.TypeFloat, f(1)),
				attr("sub_network", domain.TypeString, s(""), output(), computed()),
				attr("x_pu", domain.TypeFloat, f(0), output(), computed()),
				attr("r_pu", domain.TypeFloat, f(0), output(), computed()),
				attr("g_pu", domain.TypeFloat, f(0), output(), computed()),
				attr("b_pu", domain.TypeFloat, f(0), output(), computed()),
				attr("p0", domain.TypeFloat, f(0), varying(), output(), unit("MW")),
				attr("p1", domain.TypeFloat, f(0), varying(), output(), unit("MW")),
				attr("q0", domain.TypeFloat, f(0), varying(), output(), unit("MVar")),
				attr("q1", domain.TypeFloat, f(0), varying(), output(), unit("MVar")),
				attr("s_nom_opt", domain.TypeFloat, f(0), output()),
			},
		},
		domain.ComponentType{
			Name: "Transformer", ListName: "transformers",
			Attrs: []domain.Attribute{
				attr("bus0", domain.TypeString, s(""), ref("Bus")),
				attr("bus1", domain.TypeString, s(""), ref("Bus")),
				attr("type", domain.TypeString, s("")),
				attr("model", domain.TypeEnum, s("t"), enum("t", "pi")),
				attr("x", domain.TypeFloat, f(0), unit("per unit")),
				attr("r", domain.TypeFloat, f(0), unit("per unit")),
				attr("s_nom", domain.TypeFloat, f(0), unit("MVA")),
				attr("s_max_pu", domain.TypeFloat, f(1), switchable()),
				attr("tap_ratio", domain.TypeFloat, f(1)),
				attr("tap_side", domain.TypeFloat, f(0)),
				attr("phase_shift", domain.TypeFloat, f(0), unit("degrees")),
				attr("num_parallel", domain.TypeFloat, f(1)),
				attr("sub_network", domain.TypeString, s(""), output(), computed()),
				attr("x_pu", domain.TypeFloat, f(0), output(), computed()),
				attr("r_pu", domain.TypeFloat, f(0), output(), computed()),
				attr("g_pu", domain.TypeFloat, f(0), output(), computed()),
				attr("b_pu", domain.TypeFloat, f(0), output(), computed()),
				attr("p0", domain.TypeFloat, f(0), varying(), output(), unit("MW")),
				attr("p1", domain.TypeFloat, f(0), varying(), output(), unit("MW")),
			},
		},
		domain.ComponentType{
			Name: "Link", ListName: "links",
			Attrs: []domain.Attribute{
				attr("bus0", domain.TypeString, s(""), ref("Bus")),
				attr("bus1", domain.TypeString, s(""), ref("Bus")),
				attr("type", domain.TypeString, s("")),
				attr("carrier", domain.TypeString, s("")),
				attr("efficiency", domain.TypeFloat, f(1), switchable()),
				attr("p_nom", domain.TypeFloat, f(0), unit("MW")),
				attr("p_nom_extendable", domain.TypeBool, b(false)),
				attr("p_min_pu", domain.TypeFloat, f(0), switchable()),
				attr("p_max_pu", domain.TypeFloat, f(1), switchable()),
				attr("p_set", domain.TypeFloat, f(0), switchable(), unit("MW")),
				attr("marginal_cost", domain.TypeFloat, f(0), switchable()),
				attr("capital_cost", domain.TypeFloat, f(0)),
				attr("length", domain.TypeFloat, f(0), unit("km")),
				attr("p0", domain.TypeFloat, f(0), varying(), output(), unit("MW")),
				attr("p1", domain.TypeFloat, f(0), varying(), output(), unit("MW")),
				attr("p_nom_opt", domain.TypeFloat, f(0), output()),
			},
		},
		domain.ComponentType{
			Name: "StorageUnit", ListName: "storage_units",
			Attrs: []domain.Attribute{
				attr("bus", domain.TypeString, s(""), ref("Bus")),
				attr("control", domain.TypeEnum, s("PQ"), enum("PQ", "PV", "Slack")),
				attr("carrier", domain.TypeString, s("")),
				attr("p_nom", domain.TypeFloat, f(0), unit("MW")),
				attr("max_hours", domain.TypeFloat, f(1), unit("hours")),
				attr("efficiency_store", domain.TypeFloat, f(1), switchable()),
				attr("efficiency_dispatch", domain.TypeFloat, f(1), switchable()),
				attr("standing_loss", domain.TypeFloat, f(0), switchable()),
				attr("cyclic_state_of_charge", domain.TypeBool, b(false)),
				attr("state_of_charge_initial", domain.TypeFloat, f(0), unit("MWh")),
				attr("state_of_charge_set", domain.TypeFloat, nan(), varying(), unit("MWh")),
				attr("inflow", domain.TypeFloat, f(0), switchable(), unit("MW")),
				attr("p_set", domain.TypeFloat, f(0), switchable(), unit("MW")),
				attr("p", domain.TypeFloat, f(0), varying(), output(), unit("MW")),
				attr("state_of_charge", domain.TypeFloat, nan(), varying(), output(), unit("MWh")),
				attr("spill", domain.TypeFloat, f(0), varying(), output(), unit("MW")),
			},
		},
		domain.ComponentType{
			Name: "ShuntImpedance", ListName: "shunt_impedances",
			Attrs: []domain.Attribute{
				attr("bus", domain.TypeString, s(""), ref("Bus")),
				attr("g", domain.TypeFloat, f(0), unit("Siemens")),
				attr("b", domain.TypeFloat, f(0), unit("Siemens")),
				attr("sign", domain.TypeFloat, f(-1)),
				attr("g_pu", domain.TypeFloat, f(0), output(), computed()),
				attr("b_pu", domain.TypeFloat, f(0), output(), computed()),
				attr("p", domain.TypeFloat, f(0), varying(), output(), unit("MW")),
				attr("q", domain.TypeFloat, f(0), varying(), output(), unit("MVar")),
			},
		},
		domain.ComponentType{
			Name: "GlobalConstraint", ListName: "global_constraints",
			Attrs: []domain.Attribute{
				attr("type", domain.TypeString, s("")),
				attr("carrier_attribute", domain.TypeString, s("")),
				attr("sense", domain.TypeEnum, s("<="), enum("<=", "==", ">=")),
				attr("constant", domain.TypeFloat, f(0)),
				attr("mu", domain.TypeFloat, f(0), output()),
			},
		},
	)
	return r
}
