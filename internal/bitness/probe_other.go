//go:build !windows

package bitness

import "context"

// InstallationProbe never knows outside Windows; use the environment
// override or configuration instead.
func InstallationProbe() Probe {
	return ProbeFunc{Label: "registry", Fn: func(context.Context) (Bitness, error) {
		return Unknown, nil
	}}
}
