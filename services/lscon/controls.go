// services/lscon/controls.go
package lscon

import (
	"strings"

	"mezzanine-go/errcode"
	"mezzanine-go/services/lsbus"
)

// The three bus-level controls. They address the active connector.

// Supported lists driver names one per line with a trailing newline. With no
// connector attached it lists the default registry.
func Supported() string {
	var names []string
	if c := Active(); c != nil {
		names = c.ListSupported()
	} else {
		names = lsbus.DefaultRegistry().Names()
	}
	var sb strings.Builder
	for _, n := range names {
		sb.WriteString(n)
		sb.WriteByte('\n')
	}
	return sb.String()
}

// Inject forwards buf to the active connector's Inject.
func Inject(buf string) error {
	c := Active()
	if c == nil {
		return errcode.New(errcode.NotAttached, "inject", "no active connector")
	}
	return c.Inject(buf)
}

// Eject forwards buf to the active connector's Eject.
func Eject(buf string) error {
	c := Active()
	if c == nil {
		return errcode.New(errcode.NotAttached, "eject", "no active connector")
	}
	return c.Eject(buf)
}
