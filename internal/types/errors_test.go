package types

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorCodeStatus(t *testing.T) {
	assert.Equal(t, http.StatusConflict, CodeOutputConflict.Status())
	assert.Equal(t, http.StatusBadGateway, CodeOutputDriver.Status())
	assert.Equal(t, http.StatusBadRequest, CodeSettingsInvalid.Status())
	assert.Equal(t, http.StatusInternalServerError, ErrorCode("OUTPUT").Status())
	assert.Equal(t, http.StatusInternalServerError, ErrorCode("OUTPUT_abc").Status())
	assert.Equal(t, http.StatusInternalServerError, ErrorCode("OUTPUT_999").Status())
}
