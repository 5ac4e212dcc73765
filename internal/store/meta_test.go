package store

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"gridstore/pkg/domain"
)

func TestMetaAttributesReflectPrimitiveFields(t *testing.T) {
	m := Meta{
		Name:          "demo",
		SRID:          4326,
		Extra:         map[string]domain.Value{"scenario": domain.String("base")},
		FormatVersion: "v1.0.0",
	}
	attrs := m.Attributes()
	assert.Equal(t, domain.String("demo"), attrs["name"])
	assert.Equal(t, domain.Float(4326), attrs["srid"])
	assert.Equal(t, domain.Float(0), attrs["objective"])
	assert.Equal(t, domain.String("base"), attrs["scenario"])
	assert.NotContains(t, attrs, "extra")
	assert.NotContains(t, attrs, "formatversion")
	assert.Len(t, attrs, 5)
}

func TestMetaSetAttributes(t *testing.T) {
	var m Meta
	m.SetAttributes(map[string]domain.Value{
		"name":      domain.String("grid"),
		"srid":      domain.String("3857"),
		"objective": domain.Float(12.5),
		"version":   domain.String("v1.2.0"),
		"flag":      domain.Bool(true),
	})
	assert.Equal(t, "grid", m.Name)
	assert.Equal(t, float64(3857), m.SRID)
	assert.Equal(t, 12.5, m.Objective)
	assert.Equal(t, "v1.2.0", m.FormatVersion)
	assert.Equal(t, domain.Bool(true), m.Extra["flag"])
}
