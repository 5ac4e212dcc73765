package core

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"gridstore/pkg/domain"
)

func TestTruncateOffUnlessSet(t *testing.T) {
	v := domain.Float(20.75)
	assert.Equal(t, v, Options{}.Truncate(v))
	assert.Equal(t, v, Options{IncludeStandardTypes: true}.Truncate(v))
	assert.Equal(t, domain.Float(21), Options{FloatTruncationDigits: Digits(0)}.Truncate(v))
	assert.Equal(t, domain.Float(20.8), Options{FloatTruncationDigits: Digits(1)}.Truncate(v))
}
