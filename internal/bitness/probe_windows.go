// ABOUTME: Installation probe backed by the Windows registry
// ABOUTME: Requires Outlook as the default mail client and reads its Bitness value

//go:build windows

package bitness

import (
	"context"
	"strings"

	"golang.org/x/sys/windows/registry"
)

var officeVersions = []string{"16.0", "15.0", "14.0", "12.0"}

var officeRoots = []string{
	`Software\Microsoft\Office`,
	`Software\Wow6432Node\Microsoft\Office`,
}

// InstallationProbe inspects the registry for the default mail client.
func InstallationProbe() Probe {
	return ProbeFunc{Label: "registry", Fn: probeRegistry}
}

func probeRegistry(ctx context.Context) (Bitness, error) {
	def, ok := readString(`Software\Clients\Mail`, "")
	if !ok || !strings.Contains(strings.ToLower(def), "outlook") {
		return Unknown, nil
	}
	for _, ver := range officeVersions {
		for _, root := range officeRoots {
			if ctx.Err() != nil {
				return Unknown, ctx.Err()
			}
			v, ok := readString(root+`\`+ver+`\Outlook`, "Bitness")
			if !ok {
				continue
			}
			if b := Parse(v); b != Unknown {
				return b, nil
			}
		}
	}
	return Unknown, nil
}

func readString(path, name string) (string, bool) {
	k, err := registry.OpenKey(registry.LOCAL_MACHINE, path, registry.QUERY_VALUE)
	if err != nil {
		return "", false
	}
	defer k.Close()
	v, _, err := k.GetStringValue(name)
	if err != nil {
		return "", false
	}
	return v, true
}
