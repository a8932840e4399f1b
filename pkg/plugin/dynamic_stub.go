//go:build !plugindyn || !linux

package plugin

import "errors"

// ErrDynamicUnsupported is returned by LoadDynamicPlugins in builds without
// the plugindyn tag, and on platforms other than Linux.
var ErrDynamicUnsupported = errors.New("dynamic plugin loading not supported in this build (use -tags plugindyn on Linux)")

// LoadDynamicPlugins always fails with ErrDynamicUnsupported.
func LoadDynamicPlugins(string) (int, error) {
	return 0, ErrDynamicUnsupported
}
