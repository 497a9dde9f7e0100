package types

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/juju/errors"
)

var (
	_ error = &InvalidTopologyError{}
	_ error = &SerializationError{}
	_ error = &UnknownLaunchTypeError{}
)

func NewInvalidTopologyError(otherErr error) error {
	return &InvalidTopologyError{baseError: newBaseErr(otherErr)}
}

func NewInvalidTopologyErrorf(format string, args ...interface{}) error {
	return NewInvalidTopologyError(errors.Errorf(format, args...))
}

// NewSerializationError describes a pre-flight serialization failure of the
// nodes in group label.
func NewSerializationError(label string, cause error) error {
	msg := fmt.Sprintf("%s: %s\n"+
		"The nodes associated to %s were not serializable. Register their entry "+
		"points and make their arguments serializable, or pass "+
		"types.WithSerializeCheck(false) to launchpad.Launch if you want to "+
		"disable this check, for example when you want to use closures, "+
		"channels or live connections in your node definition.",
		errorTypeName(cause), cause, label)
	return &SerializationError{
		baseError: newBaseErr(errors.New(msg)),
		Label:     label,
		Cause:     cause,
	}
}

func NewUnknownLaunchTypeError(value string) error {
	return &UnknownLaunchTypeError{
		baseError: newBaseErr(errors.Errorf("unknown launch type: %q", value)),
		Value:     value,
	}
}

func IsInvalidTopology(err error) bool {
	_, ok := errors.Cause(err).(*InvalidTopologyError)
	return ok
}

func IsSerializationError(err error) bool {
	_, ok := errors.Cause(err).(*SerializationError)
	return ok
}

func IsUnknownLaunchType(err error) bool {
	_, ok := errors.Cause(err).(*UnknownLaunchTypeError)
	return ok
}

func errorTypeName(err error) string {
	if err == nil {
		return "<nil>"
	}
	return strings.TrimPrefix(reflect.TypeOf(err).String(), "*")
}

func newBaseErr(otherErr error) *baseError {
	return &baseError{unwrapErr(otherErr)}
}

func unwrapErr(err error) error {
	if err == nil {
		return nil
	}
	if ue, ok := err.(wrappedErr); ok {
		return unwrapErr(ue.UnwrapLocal())
	}
	return err
}

type wrappedErr interface {
	UnwrapLocal() error
}

type baseError struct {
	BaseErr error
}

func (e *baseError) Error() string {
	return e.BaseErr.Error()
}

func (e *baseError) UnwrapLocal() error {
	return e.BaseErr
}

// InvalidTopologyError reports a malformed program construction.
type InvalidTopologyError struct {
	*baseError
}

// SerializationError reports nodes that can not cross a process boundary.
type SerializationError struct {
	*baseError
	Label string
	Cause error
}

func (e *SerializationError) Unwrap() error {
	return e.Cause
}

type UnknownLaunchTypeError struct {
	*baseError
	Value string
}
