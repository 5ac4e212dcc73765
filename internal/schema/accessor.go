package schema

import (
	"errors"
	"math"
	"slices"
	"strconv"
	"strings"

	"gridstore/pkg/domain"
)

var (
	errNotNumber = errors.New("not a number")
	errNotBool   = errors.New("not a boolean")
	errNotMember = errors.New("not an allowed enum member")
)

type coerceFunc func(domain.Value) (domain.Value, error)

// Accessor is the typed handle for one attribute, resolved once at registration.
type Accessor struct {
	component string
	attr      domain.Attribute
	coerce    coerceFunc
}

// Attribute returns the resolved attribute descriptor.
func (a Accessor) Attribute() domain.Attribute { return a.attr }

// Component returns the owning component type name.
func (a Accessor) Component() string { return a.component }

// Default returns the attribute default.
func (a Accessor) Default() domain.Value { return a.attr.Default }

// Coerce converts v to the attribute type. Failures are *domain.TypeCoercionError.
func (a Accessor) Coerce(v domain.Value) (domain.Value, error) {
	out, err := a.coerce(v)
	if err != nil {
		return domain.Value{}, &domain.TypeCoercionError{
			Component: a.component,
			Attribute: a.attr.Name,
			Type:      a.attr.Type,
			Value:     v.String(),
			Err:       err,
		}
	}
	return out, nil
}

// CoerceColumn converts every cell, stopping at the first failure.
func (a Accessor) CoerceColumn(in []domain.Value) ([]domain.Value, error) {
	out := make([]domain.Value, len(in))
	for i, v := range in {
		c, err := a.Coerce(v)
		if err != nil {
			return nil, err
		}
		out[i] = c
	}
	return out, nil
}

func resolveCoercion(attr domain.Attribute) coerceFunc {
	switch attr.Type {
	case domain.TypeFloat:
		return coerceFloat
	case domain.TypeString:
		return coerceString
	case domain.TypeBool:
		def := attr.Default
		return func(v domain.Value) (domain.Value, error) { return coerceBool(v, def) }
	case domain.TypeEnum:
		allowed := slices.Clone(attr.Allowed)
		def := attr.Default
		return func(v domain.Value) (domain.Value, error) { return coerceEnum(v, def, allowed) }
	}
	return nil
}

func coerceFloat(v domain.Value) (domain.Value, error) {
	switch v.Kind() {
	case domain.KindNull:
		return domain.NullFloat(), nil
	case domain.KindFloat:
		return v, nil
	case domain.KindBool:
		b, _ := v.AsBool()
		if b {
			return domain.Float(1), nil
		}
		return domain.Float(0), nil
	}
	s, _ := v.AsString()
	s = strings.TrimSpace(s)
	if s == "" || strings.EqualFold(s, "nan") {
		return domain.NullFloat(), nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return domain.Value{}, errNotNumber
	}
	return domain.Float(f), nil
}

func coerceString(v domain.Value) (domain.Value, error) {
	switch v.Kind() {
	case domain.KindString:
		return v, nil
	case domain.KindFloat:
		f, _ := v.AsFloat()
		if !math.IsNaN(f) && !math.IsInf(f, 0) && f == math.Trunc(f) && math.Abs(f) < 1e15 {
			return domain.String(strconv.FormatInt(int64(f), 10)), nil
		}
	}
	return domain.String(v.String()), nil
}

func coerceBool(v domain.Value, def domain.Value) (domain.Value, error) {
	switch v.Kind() {
	case domain.KindNull:
		return def, nil
	case domain.KindBool:
		return v, nil
	case domain.KindFloat:
		f, _ := v.AsFloat()
		switch {
		case math.IsNaN(f):
			return def, nil
		case f == 0:
			return domain.Bool(false), nil
		case f == 1:
			return domain.Bool(true), nil
		}
		return domain.Value{}, errNotBool
	}
	s, _ := v.AsString()
	s = strings.TrimSpace(s)
	if s == "" {
		return def, nil
	}
	b, err := strconv.ParseBool(s)
	if err != nil {
		return domain.Value{}, errNotBool
	}
	return domain.Bool(b), nil
}

func coerceEnum(v domain.Value, def domain.Value, allowed []string) (domain.Value, error) {
	if v.IsNull() {
		return def, nil
	}
	s, err := coerceString(v)
	if err != nil {
		return domain.Value{}, err
	}
	member, _ := s.AsString()
	if member == "" {
		return def, nil
	}
	if !slices.Contains(allowed, member) {
		return domain.Value{}, errNotMember
	}
	return s, nil
}
