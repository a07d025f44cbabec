package errors

import (
	"errors"
	"fmt"
)

// ErrNotImplemented is returned by every operation the servo does not support.
var ErrNotImplemented = errors.New("not implemented")

// ErrClosed is returned by motion requests made after a servo has been closed.
var ErrClosed = errors.New("servo is closed")

// ConfigError rejects a servo configuration. No calibration is scheduled for a rejected config.
type ConfigError struct {
	Attribute string
	Reason    string
}

func (err ConfigError) Error() string {
	if len(err.Attribute) == 0 {
		return fmt.Sprintf("invalid config: %s", err.Reason)
	}
	return fmt.Sprintf("invalid config: %s %s", err.Attribute, err.Reason)
}

// MotorFault wraps a failure reported by a motor driver.
type MotorFault struct {
	Motor string
	Op    string
	Err   error
}

func (err MotorFault) Error() string {
	if len(err.Motor) == 0 {
		err.Motor = "UNKNOWN"
	}
	return fmt.Sprintf("motor %s failed to %s: %v", err.Motor, err.Op, err.Err)
}

func (err MotorFault) Unwrap() error {
	return err.Err
}

type NameError struct {
	Kind string
	Name string
}

func (err NameError) Error() string {
	return fmt.Sprintf("no such %s %s", err.Kind, err.Name)
}

type DriverError struct {
	Name   string
	Driver string
}

func (err DriverError) Error() string {
	if len(err.Driver) == 0 {
		err.Driver = "UNKNOWN"
	}
	if len(err.Name) == 0 {
		err.Name = "UNKNOWN"
	}

	return fmt.Sprintf("incorrect driver; motor %s cannot use driver %s", err.Name, err.Driver)
}
