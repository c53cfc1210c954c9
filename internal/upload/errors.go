package upload

import "errors"

var (
	// ErrMissingSelection is returned by actions that need a selected image
	ErrMissingSelection = errors.New("no image selected")
	// ErrDetectionInFlight is returned when an action is attempted while a
	// detection request is still pending. The call has no effect.
	ErrDetectionInFlight = errors.New("detection already in progress")
)

// Constraint names the file rule a candidate violated
type Constraint string

const (
	ConstraintMediaType Constraint = "media_type"
	ConstraintSize      Constraint = "size"
)

// ValidationError describes why a candidate file was rejected
type ValidationError struct {
	Constraint Constraint
	Message    string // user facing
}

func (e *ValidationError) Error() string {
	return "invalid file (" + string(e.Constraint) + "): " + e.Message
}
