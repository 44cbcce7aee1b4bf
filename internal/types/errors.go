package types

import (
	"net/http"
	"strconv"
	"strings"
)

// ErrorCode is "<AREA>_<http status>", e.g. OUTPUT_409.
type ErrorCode string

const (
	CodeOutputInvalid     ErrorCode = "OUTPUT_400"
	CodeOutputNotFound    ErrorCode = "OUTPUT_404"
	CodeOutputConflict    ErrorCode = "OUTPUT_409"
	CodeOutputInternal    ErrorCode = "OUTPUT_500"
	CodeOutputDriver      ErrorCode = "OUTPUT_502"
	CodeOutputUnavailable ErrorCode = "OUTPUT_503"

	CodeTriggerInvalid  ErrorCode = "TRIGGER_400"
	CodeTriggerInternal ErrorCode = "TRIGGER_500"

	CodeSettingsInvalid  ErrorCode = "SETTINGS_400"
	CodeSettingsInternal ErrorCode = "SETTINGS_500"
)

// Status is the HTTP status encoded in the code, 500 if there is none.
func (c ErrorCode) Status() int {
	i := strings.LastIndexByte(string(c), '_')
	if i < 0 {
		return http.StatusInternalServerError
	}
	status, err := strconv.Atoi(string(c)[i+1:])
	if err != nil || http.StatusText(status) == "" {
		return http.StatusInternalServerError
	}
	return status
}

type ErrorBody struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
	Details any       `json:"details,omitempty"`
}

type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// NewErrorResponse builds the API error payload. details can be a string,
// a map or any other JSON value.
func NewErrorResponse(code ErrorCode, message string, details any) ErrorResponse {
	return ErrorResponse{
		Error: ErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}
