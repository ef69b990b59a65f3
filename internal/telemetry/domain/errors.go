package telemetry

import (
	"errors"
	"fmt"
	"strings"
)

// ErrUnknownPayload is returned when a payload matches no known device
// schema.
var ErrUnknownPayload = errors.New("telemetry: unrecognized payload shape")

// ValidationError reports an inbound payload that is missing mandatory
// fields. No record is constructed when it is returned.
type ValidationError struct {
	Variant string
	Missing []string
}

func (e *ValidationError) Error() string {
	if len(e.Missing) == 0 {
		return fmt.Sprintf("telemetry: invalid %s payload", e.Variant)
	}
	return fmt.Sprintf("telemetry: invalid %s payload: missing %s", e.Variant, strings.Join(e.Missing, ", "))
}

// AsValidationError unwraps err into a *ValidationError if possible.
func AsValidationError(err error) (*ValidationError, bool) {
	var verr *ValidationError
	if errors.As(err, &verr) {
		return verr, true
	}
	return nil, false
}
