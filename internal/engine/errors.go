package engine

import (
	"errors"
	"fmt"
)

// ErrEmptyComment is returned when a comment or justification is required
// but blank.
var ErrEmptyComment = errors.New("comment must not be empty")

// ValidationError is a caller-correctable input error on a single field.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}
