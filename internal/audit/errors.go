package audit

import "errors"

// ErrMissingAction is returned when recording an entry without an action.
var ErrMissingAction = errors.New("audit: action is required")
