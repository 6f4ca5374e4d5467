package domain

import (
	"errors"
	"fmt"
)

// NotFoundError reports a missing template, recipient or group.
type NotFoundError struct {
	What string
	Key  string
}

func (e *NotFoundError) Error() string {
	if e.Key == "" {
		return e.What + " not found"
	}
	return fmt.Sprintf("%s %q not found", e.What, e.Key)
}

// DeliveryError reports a failed automation call. Lost is set when the
// session itself is gone and must be re-established.
type DeliveryError struct {
	Address string
	Lost    bool
	Err     error
}

func (e *DeliveryError) Error() string {
	msg := "delivery"
	if e.Address != "" {
		msg += " to " + e.Address
	}
	if e.Lost {
		msg += " (session lost)"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// SchedulingError reports an invalid recurrence or job request.
type SchedulingError struct {
	Spec   string
	Reason string
}

func (e *SchedulingError) Error() string {
	if e.Spec == "" {
		return "scheduling: " + e.Reason
	}
	return fmt.Sprintf("scheduling %q: %s", e.Spec, e.Reason)
}

func IsNotFound(err error) bool {
	var nf *NotFoundError
	return errors.As(err, &nf)
}

// IsSessionLost reports whether err carries a DeliveryError with Lost set.
func IsSessionLost(err error) bool {
	var de *DeliveryError
	return errors.As(err, &de) && de.Lost
}

func IsScheduling(err error) bool {
	var se *SchedulingError
	return errors.As(err, &se)
}
