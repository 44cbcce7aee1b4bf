package output

import "errors"

var (
	ErrUnknownOutput    = errors.New("unknown output")
	ErrNotSetup         = errors.New("output driver not set up")
	ErrAmpBudget        = errors.New("amp budget exceeded")
	ErrMinOffActive     = errors.New("output is in minimum off window")
	ErrAlreadyOn        = errors.New("output already on")
	ErrInvalidState     = errors.New("invalid output state")
	ErrInvalidDutyCycle = errors.New("duty cycle must be between 0 and 100")
	ErrInvalidAction    = errors.New("invalid setup action")
	ErrDriver           = errors.New("driver failure")
)
