package payload

import (
	"errors"
	"fmt"
)

// ErrInvalidThreshold is returned when a threshold not greater than 1 is
// supplied. The threshold multiplies the reference response time, so at 1
// or below the oracle could never distinguish a sleeping response.
var ErrInvalidThreshold = errors.New("threshold must be greater than 1")

// UnexploitableParameterError reports that no template family in the
// library met the sleep threshold for a parameter.
type UnexploitableParameterError struct {
	Param string
}

func (e *UnexploitableParameterError) Error() string {
	return fmt.Sprintf("parameter %q doesn't seem to be exploitable", e.Param)
}
