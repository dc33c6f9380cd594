package apierr

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFrom(t *testing.T) {
	base := errors.New("order o1 not found")
	wrapped := fmt.Errorf("lookup: %w", NotFound(base))

	e := From(wrapped)
	assert.Equal(t, http.StatusNotFound, e.Status)
	assert.Equal(t, CodeNotFound, e.Code)
	assert.True(t, e.Public())
	assert.ErrorIs(t, e, base)

	e = From(errors.New("disk on fire"))
	assert.Equal(t, http.StatusInternalServerError, e.Status)
	assert.False(t, e.Public())
}

func TestClasses(t *testing.T) {
	assert.Equal(t, http.StatusBadRequest, BadRequest(nil).Status)
	assert.Equal(t, CodePersonUnavailable, Upstream(nil).Code)
	assert.False(t, Integrity(errors.New("dangling")).Public())
	assert.Equal(t, "integrity_violation", Integrity(nil).Error())
}
