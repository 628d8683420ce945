//go:build windows

package bitness

import "os"

// Windows has no polite termination signal for a console child.
func terminate(p *os.Process) error {
	return p.Kill()
}
