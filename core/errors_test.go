package core

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestIsShutdown(t *testing.T) {
	err := NewShutdownError("store clock unreachable")
	assert.True(t, IsShutdown(err))
	assert.True(t, IsShutdown(errors.Wrap(err, "ending session")))

	assert.False(t, IsShutdown(errors.New("oops")))
	assert.False(t, IsShutdown(NewValidationError(errors.New("oops"))))
}

func TestValidationError(t *testing.T) {
	err := NewValidationError(errors.New("invalid code"), FieldError{Field: "code", Error: "not found"})
	assert.EqualError(t, err, "invalid code")

	verr, ok := err.(*ValidationError)
	assert.True(t, ok)
	assert.Len(t, verr.Fields, 1)

	assert.Empty(t, ValidationError{}.Error())
}
