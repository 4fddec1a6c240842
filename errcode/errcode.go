package errcode

import "errors"

// Code is a stable, caller-facing error identifier.
// It is a string newtype, comparable, allocation-free, and implements error.
type Code string

func (c Code) Error() string { return string(c) }

// Canonical codes (short, stable).
const (
	OK Code = "ok"

	// Bus registry
	DuplicateDriver Code = "duplicate_driver"
	DriverNotFound  Code = "driver_not_found"
	InvalidName     Code = "invalid_name"

	// Device lifecycle
	ResourceExhausted Code = "resource_exhausted"
	DeviceExists      Code = "device_exists"
	ProbeFailed       Code = "probe_failed"

	// Upstream links (permanent vs. retry later)
	LinkMissing  Code = "link_missing"
	LinkNotReady Code = "link_not_ready"

	// GPIO broker
	GpioUnavailable Code = "gpio_unavailable"
	UnknownPin      Code = "unknown_pin"
	PinInUse        Code = "pin_in_use"

	// Connector control surface
	NotAttached   Code = "not_attached"
	ConnectorBusy Code = "connector_busy"
	BusInUse      Code = "bus_in_use"

	Error Code = "error" // generic fallback
)

// E is the wrapper used when we want to keep the operation, context and a cause.
type E struct {
	C   Code
	Op  string
	Msg string
	Err error
}

func (e *E) Error() string {
	s := string(e.C)
	if e.Op != "" {
		s = e.Op + ": " + s
	}
	if e.Msg != "" {
		s += ": " + e.Msg
	}
	if e.Err != nil {
		s += ": " + e.Err.Error()
	}
	return s
}

func (e *E) Unwrap() error { return e.Err }
func (e *E) Code() Code    { return e.C }

// Is reports a match against a bare Code so errors.Is(err, LinkNotReady) works
// through any number of wrappers.
func (e *E) Is(target error) bool {
	c, ok := target.(Code)
	return ok && c == e.C
}

// New returns an *E without a cause.
func New(c Code, op, msg string) error {
	return &E{C: c, Op: op, Msg: msg}
}

// Wrap returns an *E carrying err as its cause. A nil err yields nil.
func Wrap(c Code, op string, err error) error {
	if err == nil {
		return nil
	}
	return &E{C: c, Op: op, Err: err}
}

// Of extracts the outermost Code from an error, defaulting to Error.
func Of(err error) Code {
	if err == nil {
		return OK
	}
	type coder interface{ Code() Code }
	var x coder
	if errors.As(err, &x) {
		return x.Code()
	}
	var c Code
	if errors.As(err, &c) {
		return c
	}
	return Error
}
